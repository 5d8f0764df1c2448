// Package service orchestrates file import: decode the upload, detect the
// bank schema, normalize rows, guard against duplicates, categorize, and
// persist. A file either fails whole (unreadable, no schema) or imports
// with per-row warnings; a bad row never aborts its siblings.
package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/augielopez/homebase/internal/domain/categorization"
	"github.com/augielopez/homebase/internal/domain/imports/normalizer"
	"github.com/augielopez/homebase/internal/domain/imports/schema"
	"github.com/augielopez/homebase/internal/store"
	"github.com/augielopez/homebase/pkg/metrics"
)

// Categorizer is the cascade the import feeds normalized rows into.
type Categorizer interface {
	CategorizeBatch(ctx context.Context, ins []categorization.Input) []categorization.Result
}

// ImportResult summarizes one file import.
type ImportResult struct {
	Schema     string
	Account    string
	TotalRows  int
	Imported   int
	Duplicates int
	Failed     int
	Warnings   []string
}

// Service is the import pipeline. The duplicate guard and categorizer are
// optional; without them rows import unguarded and uncategorized.
type Service struct {
	store       store.Store
	registry    *schema.Registry
	guard       store.DuplicateGuard
	categorizer Categorizer
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewService builds an import service over the given store.
func NewService(st store.Store, registry *schema.Registry, logger *slog.Logger) *Service {
	return &Service{
		store:    st,
		registry: registry,
		logger:   logger,
		tracer:   otel.Tracer("imports"),
	}
}

// WithDuplicateGuard enables duplicate skipping.
func (s *Service) WithDuplicateGuard(guard store.DuplicateGuard) *Service {
	s.guard = guard
	return s
}

// WithCategorizer enables categorization of imported rows.
func (s *Service) WithCategorizer(c Categorizer) *Service {
	s.categorizer = c
	return s
}

// ImportFile ingests one uploaded export. The filename drives schema
// detection and account attribution; the extension selects the decoder.
func (s *Service) ImportFile(ctx context.Context, filename string, data []byte) (*ImportResult, error) {
	ctx, span := s.tracer.Start(ctx, "imports.ImportFile",
		trace.WithAttributes(attribute.String("import.file", filename)))
	defer span.End()

	headers, records, err := decodeFile(filename, data)
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("file %q has no header row", filename)
	}

	bank, err := s.registry.Detect(filename, headers)
	if err != nil {
		return nil, err
	}
	cols, err := schema.ResolveColumns(bank, headers)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("import.schema", bank.Name))

	result := &ImportResult{Schema: bank.Name, TotalRows: len(records)}
	if len(records) == 0 {
		return nil, fmt.Errorf("file %q has no data rows", filename)
	}

	normalized := s.normalizeAll(ctx, bank, cols, records, result)
	if len(normalized) == 0 {
		return nil, fmt.Errorf("file %q: no rows could be normalized (%d failed)", filename, result.Failed)
	}

	accountID, accountName, err := s.resolveAccount(ctx, filename)
	if err != nil {
		return nil, fmt.Errorf("resolve account: %w", err)
	}
	result.Account = accountName

	transactions, err := s.persistRows(ctx, filename, importMethodFor(filename), accountID, normalized, result)
	if err != nil {
		return nil, err
	}

	if s.categorizer != nil && len(transactions) > 0 {
		s.categorizeImported(ctx, normalized, transactions)
	}

	s.logger.Info("import complete",
		"file", filename,
		"schema", bank.Name,
		"account", accountName,
		"imported", result.Imported,
		"duplicates", result.Duplicates,
		"failed", result.Failed,
	)
	return result, nil
}

// normalizeAll runs row normalization across a worker pool, preserving the
// source row order in the output. Failed rows become warnings.
func (s *Service) normalizeAll(ctx context.Context, bank *schema.BankSchema, cols schema.Columns, records [][]string, result *ImportResult) []normalizer.Transaction {
	type slot struct {
		tx  *normalizer.Transaction
		err *normalizer.RowError
	}
	slots := make([]slot, len(records))

	workerCount := runtime.GOMAXPROCS(0)
	if workerCount < 1 {
		workerCount = 1
	}
	jobs := make(chan int, workerCount*4)

	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					return
				}
				// Data rows follow the header, so row i is line i+2.
				tx, rowErr := normalizer.NormalizeRow(bank, cols, records[i], i+2)
				slots[i] = slot{tx: tx, err: rowErr}
			}
		}()
	}
	for i := range records {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	normalized := make([]normalizer.Transaction, 0, len(records))
	for _, sl := range slots {
		if sl.err != nil {
			result.Failed++
			result.Warnings = append(result.Warnings, sl.err.Error())
			metrics.RowsFailed.WithLabelValues(bank.Name).Inc()
			continue
		}
		if sl.tx != nil {
			normalized = append(normalized, *sl.tx)
		}
	}
	return normalized
}

// persistRows runs each normalized row through the duplicate guard and
// inserts the survivors. Returns the inserted transactions in row order.
func (s *Service) persistRows(ctx context.Context, filename, method string, accountID *uuid.UUID, normalized []normalizer.Transaction, result *ImportResult) ([]store.Transaction, error) {
	transactions := make([]store.Transaction, 0, len(normalized))
	rows := make([]store.Row, 0, len(normalized))

	for _, n := range normalized {
		if s.guard != nil {
			dup, err := s.guard.IsDuplicate(ctx, accountID, n.Date, n.Amount, n.Description, method, filename)
			if err != nil {
				return nil, fmt.Errorf("duplicate check row %d: %w", n.RawRow, err)
			}
			if dup {
				result.Duplicates++
				metrics.DuplicatesSkipped.Inc()
				continue
			}
		}
		tx := store.Transaction{
			ID:           uuid.New(),
			AccountID:    accountID,
			Date:         n.Date,
			Name:         n.Description,
			Description:  n.Description,
			Merchant:     n.Merchant,
			Amount:       n.Amount,
			ImportMethod: method,
			SourceFile:   filename,
		}
		transactions = append(transactions, tx)
		rows = append(rows, tx.Row())
	}

	if len(rows) > 0 {
		if err := s.store.Insert(ctx, store.TableTransactions, rows...); err != nil {
			return nil, fmt.Errorf("insert transactions: %w", err)
		}
		metrics.RowsImported.WithLabelValues(result.Schema).Add(float64(len(rows)))
	}
	result.Imported = len(rows)
	return transactions, nil
}

// categorizeImported feeds the inserted rows through the cascade and writes
// the winning category back. Categorization failures downgrade to log
// warnings; the import itself already succeeded.
func (s *Service) categorizeImported(ctx context.Context, normalized []normalizer.Transaction, transactions []store.Transaction) {
	// normalized and transactions diverge when the guard skipped rows;
	// rebuild the hint list against what was actually inserted.
	hints := make(map[string]string, len(normalized))
	for _, n := range normalized {
		hints[hintKey(n.Date.Format("2006-01-02"), n.Description, n.Amount.String())] = n.Category
	}

	ins := make([]categorization.Input, len(transactions))
	for i, tx := range transactions {
		ins[i] = categorization.Input{
			ID:          tx.ID,
			Name:        tx.Name,
			Description: tx.Description,
			Merchant:    tx.Merchant,
			Amount:      tx.Amount,
			SourceLabel: hints[hintKey(tx.Date.Format("2006-01-02"), tx.Description, tx.Amount.String())],
		}
	}

	results := s.categorizer.CategorizeBatch(ctx, ins)
	for i, res := range results {
		if res.CategoryID == nil {
			continue
		}
		err := s.store.Update(ctx, store.TableTransactions, transactions[i].ID, store.Row{
			"category_id": *res.CategoryID,
		})
		if err != nil {
			s.logger.Warn("category write-back failed",
				"transaction_id", transactions[i].ID, "error", err)
		}
	}
}

func hintKey(date, desc, amount string) string {
	return date + "|" + desc + "|" + amount
}

// resolveAccount maps the filename to an account, creating the account
// record on first sight. Unrecognized filenames import unattributed.
func (s *Service) resolveAccount(ctx context.Context, filename string) (*uuid.UUID, string, error) {
	name, ok := s.registry.AccountForFilename(filename)
	if !ok {
		return nil, "", nil
	}

	rows, err := s.store.Select(ctx, store.TableAccounts, store.Eq("name", name))
	if err != nil {
		return nil, "", err
	}
	if len(rows) > 0 {
		id := store.AccountFromRow(rows[0]).ID
		return &id, name, nil
	}

	account := store.Account{ID: uuid.New(), Name: name}
	if err := s.store.Insert(ctx, store.TableAccounts, account.Row()); err != nil {
		// Lost a race with a concurrent import; re-read.
		if rows, selErr := s.store.Select(ctx, store.TableAccounts, store.Eq("name", name)); selErr == nil && len(rows) > 0 {
			id := store.AccountFromRow(rows[0]).ID
			return &id, name, nil
		}
		return nil, "", err
	}
	return &account.ID, name, nil
}

func importMethodFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xls":
		return "XLSX"
	default:
		return "CSV"
	}
}

// decodeFile splits the upload into a header row and data records. CSVs are
// read leniently (ragged rows, lazy quotes, BOM tolerated); spreadsheets go
// through the first sheet.
func decodeFile(filename string, data []byte) ([]string, [][]string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xls":
		return decodeSpreadsheet(data)
	default:
		return decodeCSV(data)
	}
}

func decodeCSV(data []byte) ([]string, [][]string, error) {
	reader := csv.NewReader(bytes.NewReader(stripBOM(data)))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("empty file")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	var records [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row %d: %w", len(records)+2, err)
		}
		if isBlankRecord(record) {
			continue
		}
		records = append(records, record)
	}
	return trimAll(headers), records, nil
}

func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
}

func isBlankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func trimAll(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(c)
	}
	return out
}
