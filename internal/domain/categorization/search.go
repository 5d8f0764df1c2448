package categorization

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/google/uuid"

	"github.com/augielopez/homebase/internal/store"
)

// neighborFloor is the minimum cosine similarity for a prior transaction to
// count as a neighbor at all; weaker matches must not vote.
const neighborFloor = 0.7

// textCandidates is how many text-search hits are re-ranked by embedding
// similarity per lookup.
const textCandidates = 50

// neighborDoc is the indexed form of a previously categorized transaction.
type neighborDoc struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	CategoryID string `json:"category_id"`
}

// Neighbor is one similar prior transaction.
type Neighbor struct {
	CategoryID uuid.UUID
	Similarity float64
}

// SimilarityIndex is the nearest-neighbor store behind cascade stage 3.
// A Bleve full-text index narrows candidates by transaction text; the
// candidates are then ranked by cosine similarity of their stored
// embeddings against the query vector.
type SimilarityIndex struct {
	mu         sync.RWMutex
	index      bleve.Index
	embeddings map[string][]float32
	categories map[string]uuid.UUID
}

// NewSimilarityIndex creates an in-memory similarity index.
func NewSimilarityIndex() (*SimilarityIndex, error) {
	index, err := bleve.NewMemOnly(buildNeighborMapping())
	if err != nil {
		return nil, fmt.Errorf("similarity index: %w", err)
	}
	return &SimilarityIndex{
		index:      index,
		embeddings: make(map[string][]float32),
		categories: make(map[string]uuid.UUID),
	}, nil
}

func buildNeighborMapping() mapping.IndexMapping {
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = simple.Name

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("text", textField)
	doc.AddFieldMappingsAt("category_id", keywordField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = doc
	indexMapping.DefaultAnalyzer = simple.Name
	return indexMapping
}

// IndexTransactions adds previously categorized transactions. Records
// without a category or an embedding are skipped.
func (si *SimilarityIndex) IndexTransactions(txs []store.Transaction) error {
	si.mu.Lock()
	defer si.mu.Unlock()

	batch := si.index.NewBatch()
	for _, tx := range txs {
		if tx.CategoryID == nil || len(tx.Embedding) == 0 {
			continue
		}
		id := tx.ID.String()
		doc := neighborDoc{
			ID:         id,
			Text:       tx.Name + " " + tx.Description + " " + tx.Merchant,
			CategoryID: tx.CategoryID.String(),
		}
		if err := batch.Index(id, doc); err != nil {
			return fmt.Errorf("similarity index: %w", err)
		}
		si.embeddings[id] = tx.Embedding
		si.categories[id] = *tx.CategoryID
	}
	if err := si.index.Batch(batch); err != nil {
		return fmt.Errorf("similarity index batch: %w", err)
	}
	return nil
}

// Neighbors returns up to k prior transactions similar to the query,
// ordered by descending cosine similarity. Text search narrows the
// candidate pool first; candidates below neighborFloor are dropped.
func (si *SimilarityIndex) Neighbors(text string, vector []float32, k int) ([]Neighbor, error) {
	si.mu.RLock()
	defer si.mu.RUnlock()

	if k <= 0 {
		k = similarityTopK
	}

	candidateIDs, err := si.textCandidates(text)
	if err != nil {
		return nil, err
	}

	neighbors := make([]Neighbor, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		embedding, ok := si.embeddings[id]
		if !ok {
			continue
		}
		sim := cosineSimilarity(vector, embedding)
		if sim < neighborFloor {
			continue
		}
		neighbors = append(neighbors, Neighbor{
			CategoryID: si.categories[id],
			Similarity: sim,
		})
	}

	sort.Slice(neighbors, func(i, j int) bool {
		return neighbors[i].Similarity > neighbors[j].Similarity
	})
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

func (si *SimilarityIndex) textCandidates(text string) ([]string, error) {
	matchQuery := bleve.NewMatchQuery(text)
	matchQuery.SetField("text")
	matchQuery.SetFuzziness(1)

	request := bleve.NewSearchRequest(matchQuery)
	request.Size = textCandidates

	result, err := si.index.Search(request)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// BestCategory reduces neighbors to the winning category and its composite
// confidence: the category share of the neighborhood weighted by its mean
// similarity, in [0,1].
func BestCategory(neighbors []Neighbor) (uuid.UUID, float64) {
	if len(neighbors) == 0 {
		return uuid.Nil, 0
	}

	type tally struct {
		count int
		sum   float64
	}
	tallies := make(map[uuid.UUID]*tally)
	for _, n := range neighbors {
		t, ok := tallies[n.CategoryID]
		if !ok {
			t = &tally{}
			tallies[n.CategoryID] = t
		}
		t.count++
		t.sum += n.Similarity
	}

	var (
		bestID    uuid.UUID
		bestScore float64
	)
	for id, t := range tallies {
		mean := t.sum / float64(t.count)
		score := (float64(t.count) / float64(len(neighbors))) * mean
		if score > bestScore || (score == bestScore && bestID == uuid.Nil) {
			bestScore = score
			bestID = id
		}
	}
	return bestID, bestScore
}

// DocumentCount returns the number of indexed transactions.
func (si *SimilarityIndex) DocumentCount() (uint64, error) {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return si.index.DocCount()
}

// Close releases the index.
func (si *SimilarityIndex) Close() error {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.index.Close()
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
