// Package categorization assigns a spending category to a normalized
// transaction through a layered decision cascade: source label, user rules,
// embedding similarity, generative fallback, default bucket. The cascade
// commits to the first stage that yields a category.
package categorization

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Method identifies the cascade stage that produced a result.
type Method string

const (
	MethodSourceLabel Method = "source_label"
	MethodRule        Method = "rule"
	MethodSimilarity  Method = "similarity"
	MethodGenerative  Method = "generative"
	MethodDefault     Method = "default"
)

// Stage confidence constants. Similarity carries its own composite score.
const (
	confidenceSourceLabel = 1.0
	confidenceRule        = 0.9
	confidenceGenerative  = 0.8
	confidenceDefault     = 0.0

	// similarityAcceptance is the floor a similarity composite must clear;
	// below it the stage is treated as a miss and the cascade continues.
	similarityAcceptance = 0.7
	// similarityTopK is the neighbor count considered per lookup.
	similarityTopK = 5
)

// Input is one transaction to categorize.
type Input struct {
	ID          uuid.UUID
	Name        string
	Description string
	Merchant    string
	Amount      decimal.Decimal
	SourceLabel string // raw category text carried by the import, if any
}

// Text is the concatenated searchable text of the transaction.
func (in Input) Text() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{in.Name, in.Description, in.Merchant} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Result is the outcome of categorizing one transaction.
type Result struct {
	CategoryID *uuid.UUID
	Confidence float64
	Method     Method
}

// stage is one strategy in the cascade. A (nil, nil) return is a miss; the
// cascade moves on. Errors are logged and also treated as misses — an
// external-service failure never fails the transaction.
type stage interface {
	name() string
	attempt(ctx context.Context, in Input) (*Result, error)
}
