package reconciliation

import (
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/augielopez/homebase/internal/store"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMatcher_ExplicitLink(t *testing.T) {
	bill := store.Bill{
		ID:          uuid.New(),
		Description: "Rent",
		AmountDue:   decimal.NewFromInt(2000),
		DueDate:     day(2025, 9, 1),
		Status:      store.BillActive,
	}
	tx := store.Transaction{
		ID:     uuid.New(),
		Date:   day(2025, 9, 20), // far from due; fuzzy would never take this
		Name:   "ZELLE TRANSFER",
		Amount: decimal.NewFromInt(-2000),
		BillID: &bill.ID,
	}

	result := NewMatcher(DefaultConfig(), nil).Reconcile([]store.Transaction{tx}, []store.Bill{bill})

	require.Len(t, result.Matched, 1)
	assert.Equal(t, 1.0, result.Matched[0].Confidence)
	assert.Equal(t, MethodLinked, result.Matched[0].Method)
	assert.Empty(t, result.UnmatchedTransactions)
	assert.Empty(t, result.UnmatchedBills)
}

func TestMatcher_FuzzyMatch(t *testing.T) {
	t.Run("close amount, one day off, matching text", func(t *testing.T) {
		bill := store.Bill{
			ID:          uuid.New(),
			Description: "Internet Bill",
			AmountDue:   decimal.NewFromInt(50),
			DueDate:     day(2025, 9, 15),
		}
		tx := store.Transaction{
			ID:     uuid.New(),
			Date:   day(2025, 9, 14),
			Name:   "INTERNET BILL AUTOPAY",
			Amount: decimal.RequireFromString("-49.99"),
		}

		result := NewMatcher(DefaultConfig(), nil).Reconcile([]store.Transaction{tx}, []store.Bill{bill})

		require.Len(t, result.Matched, 1)
		m := result.Matched[0]
		assert.Equal(t, MethodFuzzy, m.Method)
		assert.GreaterOrEqual(t, m.Confidence, 0.7)
		assert.NotEmpty(t, m.Rationale)
	})

	t.Run("amount beyond tolerance drags the score under the floor", func(t *testing.T) {
		bill := store.Bill{
			ID:          uuid.New(),
			Description: "Internet Bill",
			AmountDue:   decimal.NewFromInt(50),
			DueDate:     day(2025, 9, 15),
		}
		tx := store.Transaction{
			ID:     uuid.New(),
			Date:   day(2025, 9, 15),
			Name:   "INTERNET BILL",
			Amount: decimal.NewFromInt(-90),
		}

		result := NewMatcher(DefaultConfig(), nil).Reconcile([]store.Transaction{tx}, []store.Bill{bill})
		assert.Empty(t, result.Matched)
		assert.Len(t, result.UnmatchedTransactions, 1)
		assert.Len(t, result.UnmatchedBills, 1)
	})

	t.Run("confidence rises as the amount gets closer", func(t *testing.T) {
		m := NewMatcher(DefaultConfig(), nil)
		bill := store.Bill{
			ID:          uuid.New(),
			Description: "Gym Membership",
			AmountDue:   decimal.NewFromInt(40),
			DueDate:     day(2025, 9, 10),
		}
		base := store.Transaction{
			ID:   uuid.New(),
			Date: day(2025, 9, 10),
			Name: "GYM MEMBERSHIP",
		}

		var previous float64
		for i, amount := range []string{"-44.50", "-42.00", "-40.50", "-40.00"} {
			tx := base
			tx.Amount = decimal.RequireFromString(amount)
			score, _ := m.score(tx, bill)
			if i > 0 {
				assert.Greater(t, score, previous, "amount %s", amount)
			}
			previous = score
		}
	})

	t.Run("each bill is consumed at most once", func(t *testing.T) {
		bill := store.Bill{
			ID:          uuid.New(),
			Description: "Streaming Service",
			AmountDue:   decimal.RequireFromString("15.49"),
			DueDate:     day(2025, 9, 5),
		}
		first := store.Transaction{
			ID:     uuid.New(),
			Date:   day(2025, 9, 5),
			Name:   "STREAMING SERVICE",
			Amount: decimal.RequireFromString("-15.49"),
		}
		second := first
		second.ID = uuid.New()
		second.Date = day(2025, 9, 6)

		result := NewMatcher(DefaultConfig(), nil).Reconcile(
			[]store.Transaction{first, second}, []store.Bill{bill})

		assert.Len(t, result.Matched, 1)
		assert.Len(t, result.UnmatchedTransactions, 1)
		assert.Empty(t, result.UnmatchedBills)
	})
}

func TestMatcher_LearnedPatternBonus(t *testing.T) {
	bill := store.Bill{
		ID:          uuid.New(),
		Description: "Electric",
		AmountDue:   decimal.NewFromInt(120),
		DueDate:     day(2025, 9, 20),
	}
	tx := store.Transaction{
		ID:       uuid.New(),
		Date:     day(2025, 9, 18),
		Name:     "ACH WITHDRAWAL 00812",
		Merchant: "PGANDE WEB PAYMENT",
		Amount:   decimal.RequireFromString("-121.50"),
	}

	without := NewMatcher(DefaultConfig(), nil)
	scoreWithout, _ := without.score(tx, bill)

	patterns := []store.MatchPattern{{
		ID:      uuid.New(),
		BillID:  bill.ID,
		Pattern: "PGANDE",
	}}
	with := NewMatcher(DefaultConfig(), patterns)
	scoreWith, _ := with.score(tx, bill)

	assert.InDelta(t, scoreWithout+patternBonus, scoreWith, 1e-9)
	assert.LessOrEqual(t, scoreWith, 1.0)
}

// Every input transaction must land in exactly one of Matched or
// UnmatchedTransactions, and every bill in exactly one of Matched or
// UnmatchedBills, whatever the inputs look like.
func TestMatcher_PartitionInvariant(t *testing.T) {
	faker := gofakeit.New(42)
	m := NewMatcher(DefaultConfig(), nil)

	for trial := 0; trial < 20; trial++ {
		var transactions []store.Transaction
		for i := 0; i < faker.Number(0, 30); i++ {
			transactions = append(transactions, store.Transaction{
				ID:     uuid.New(),
				Date:   faker.DateRange(day(2025, 9, 1), day(2025, 9, 30)),
				Name:   faker.Company(),
				Amount: decimal.NewFromFloat(-faker.Float64Range(1, 500)),
			})
		}
		var bills []store.Bill
		for i := 0; i < faker.Number(0, 15); i++ {
			bills = append(bills, store.Bill{
				ID:          uuid.New(),
				Description: faker.Company(),
				AmountDue:   decimal.NewFromFloat(faker.Float64Range(1, 500)),
				DueDate:     faker.DateRange(day(2025, 9, 1), day(2025, 9, 30)),
			})
		}

		result := m.Reconcile(transactions, bills)

		assert.Equal(t, len(transactions), len(result.Matched)+len(result.UnmatchedTransactions))
		assert.Equal(t, len(bills), len(result.Matched)+len(result.UnmatchedBills))

		seenBills := make(map[uuid.UUID]bool)
		seenTxs := make(map[uuid.UUID]bool)
		for _, match := range result.Matched {
			assert.False(t, seenBills[match.Bill.ID], "bill matched twice")
			assert.False(t, seenTxs[match.Transaction.ID], "transaction matched twice")
			seenBills[match.Bill.ID] = true
			seenTxs[match.Transaction.ID] = true
			assert.GreaterOrEqual(t, match.Confidence, DefaultConfig().MinConfidence)
		}
	}
}

func TestMatcher_Deterministic(t *testing.T) {
	faker := gofakeit.New(7)
	var transactions []store.Transaction
	for i := 0; i < 10; i++ {
		transactions = append(transactions, store.Transaction{
			ID:     uuid.New(),
			Date:   day(2025, 9, 10),
			Name:   "UTILITY PAYMENT",
			Amount: decimal.NewFromFloat(-faker.Float64Range(95, 105)),
		})
	}
	bills := []store.Bill{
		{ID: uuid.New(), Description: "Utility Payment", AmountDue: decimal.NewFromInt(100), DueDate: day(2025, 9, 10)},
		{ID: uuid.New(), Description: "Utility Payment", AmountDue: decimal.NewFromInt(101), DueDate: day(2025, 9, 11)},
	}

	m := NewMatcher(DefaultConfig(), nil)
	first := m.Reconcile(transactions, bills)
	second := m.Reconcile(transactions, bills)

	require.Equal(t, len(first.Matched), len(second.Matched))
	for i := range first.Matched {
		assert.Equal(t, first.Matched[i].Transaction.ID, second.Matched[i].Transaction.ID)
		assert.Equal(t, first.Matched[i].Bill.ID, second.Matched[i].Bill.ID)
	}
}
