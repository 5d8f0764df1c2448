package reconciliation

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/augielopez/homebase/internal/store"
)

func newTestService(mem *store.Memory) *Service {
	return NewService(mem, DefaultConfig(), slog.New(slog.DiscardHandler))
}

func seedTransaction(t *testing.T, mem *store.Memory, tx store.Transaction) {
	t.Helper()
	require.NoError(t, mem.Insert(context.Background(), store.TableTransactions, tx.Row()))
}

func seedBill(t *testing.T, mem *store.Memory, bill store.Bill) {
	t.Helper()
	require.NoError(t, mem.Insert(context.Background(), store.TableBills, bill.Row()))
}

func TestService_Reconcile(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := newTestService(mem)

	bill := store.Bill{
		ID:          uuid.New(),
		Description: "Internet Bill",
		AmountDue:   decimal.NewFromInt(50),
		DueDate:     day(2025, 9, 15),
		Status:      store.BillActive,
	}
	seedBill(t, mem, bill)

	matched := store.Transaction{
		ID:     uuid.New(),
		Date:   day(2025, 9, 14),
		Name:   "INTERNET BILL AUTOPAY",
		Amount: decimal.RequireFromString("-49.99"),
	}
	stray := store.Transaction{
		ID:     uuid.New(),
		Date:   day(2025, 9, 3),
		Name:   "COFFEE SHOP",
		Amount: decimal.RequireFromString("-4.50"),
	}
	seedTransaction(t, mem, matched)
	seedTransaction(t, mem, stray)

	summary, err := svc.Reconcile(ctx, Month(2025, time.September))
	require.NoError(t, err)

	require.Len(t, summary.Matched, 1)
	assert.Equal(t, matched.ID, summary.Matched[0].Transaction.ID)
	require.Len(t, summary.UnmatchedTransactions, 1)
	assert.Equal(t, stray.ID, summary.UnmatchedTransactions[0].ID)
	assert.Empty(t, summary.UnmatchedBills)

	t.Run("writes the bill link back", func(t *testing.T) {
		rows, err := mem.Select(ctx, store.TableTransactions, store.Eq("id", matched.ID))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		tx := store.TransactionFromRow(rows[0])
		require.NotNil(t, tx.BillID)
		assert.Equal(t, bill.ID, *tx.BillID)
	})

	t.Run("marks the bill paid", func(t *testing.T) {
		rows, err := mem.Select(ctx, store.TableBills, store.Eq("id", bill.ID))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, store.BillPaid, store.BillFromRow(rows[0]).Status)
	})

	t.Run("records a learned merchant pattern", func(t *testing.T) {
		rows, err := mem.Select(ctx, store.TableMatchPatterns, store.Eq("bill_id", bill.ID))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		pattern := store.MatchPatternFromRow(rows[0])
		assert.Equal(t, "INTERNET BILL AUTOPAY", pattern.Pattern)
		assert.Equal(t, 1, pattern.HitCount)
	})
}

func TestService_Reconcile_PatternHitCount(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := newTestService(mem)

	billID := uuid.New()
	seedBill(t, mem, store.Bill{
		ID:          billID,
		Description: "Electric",
		AmountDue:   decimal.NewFromInt(120),
		DueDate:     day(2025, 9, 20),
		Status:      store.BillActive,
	})
	existing := store.MatchPattern{
		ID:       uuid.New(),
		BillID:   billID,
		Pattern:  "PGANDE WEB PAYMENT",
		HitCount: 3,
	}
	require.NoError(t, mem.Insert(ctx, store.TableMatchPatterns, existing.Row()))

	seedTransaction(t, mem, store.Transaction{
		ID:       uuid.New(),
		Date:     day(2025, 9, 19),
		Name:     "ACH WITHDRAWAL",
		Merchant: "PGANDE WEB PAYMENT",
		Amount:   decimal.RequireFromString("-119.50"),
	})

	summary, err := svc.Reconcile(ctx, Month(2025, time.September))
	require.NoError(t, err)
	require.Len(t, summary.Matched, 1)

	rows, err := mem.Select(ctx, store.TableMatchPatterns, store.Eq("bill_id", billID))
	require.NoError(t, err)
	require.Len(t, rows, 1, "existing pattern is bumped, not duplicated")
	assert.Equal(t, 4, store.MatchPatternFromRow(rows[0]).HitCount)
}

func TestService_Reconcile_LinkedSkipsPatternLearning(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := newTestService(mem)

	billID := uuid.New()
	seedBill(t, mem, store.Bill{
		ID:          billID,
		Description: "Rent",
		AmountDue:   decimal.NewFromInt(2000),
		DueDate:     day(2025, 9, 1),
		Status:      store.BillActive,
	})
	seedTransaction(t, mem, store.Transaction{
		ID:     uuid.New(),
		Date:   day(2025, 9, 25),
		Name:   "ZELLE TRANSFER",
		Amount: decimal.NewFromInt(-2000),
		BillID: &billID,
	})

	summary, err := svc.Reconcile(ctx, Month(2025, time.September))
	require.NoError(t, err)
	require.Len(t, summary.Matched, 1)
	assert.Equal(t, MethodLinked, summary.Matched[0].Method)

	rows, err := mem.Select(ctx, store.TableMatchPatterns)
	require.NoError(t, err)
	assert.Empty(t, rows, "explicit links do not learn patterns")
}

func TestService_Reconcile_PermissiveCoercion(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := newTestService(mem)

	// A row with a malformed amount and date must not abort the run; it
	// decodes to zero values and simply fails to match anything.
	require.NoError(t, mem.Insert(ctx, store.TableTransactions, store.Row{
		"id":     uuid.New(),
		"date":   day(2025, 9, 10),
		"name":   "CORRUPT ROW",
		"amount": "not-a-number",
	}))
	seedBill(t, mem, store.Bill{
		ID:          uuid.New(),
		Description: "Water",
		AmountDue:   decimal.NewFromInt(30),
		DueDate:     day(2025, 9, 12),
		Status:      store.BillActive,
	})

	summary, err := svc.Reconcile(ctx, Month(2025, time.September))
	require.NoError(t, err)
	assert.Empty(t, summary.Matched)
	assert.Len(t, summary.UnmatchedTransactions, 1)
	assert.Len(t, summary.UnmatchedBills, 1)
}

func TestService_SearchTransactions(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := newTestService(mem)

	seedTransaction(t, mem, store.Transaction{
		ID:     uuid.New(),
		Date:   day(2025, 9, 10),
		Name:   "NETFLIX.COM",
		Amount: decimal.RequireFromString("-15.49"),
	})
	seedTransaction(t, mem, store.Transaction{
		ID:     uuid.New(),
		Date:   day(2025, 9, 12),
		Name:   "COFFEE SHOP",
		Amount: decimal.RequireFromString("-4.50"),
	})

	t.Run("query narrows by name, case-insensitively", func(t *testing.T) {
		txs, err := svc.SearchTransactions(ctx, Month(2025, time.September), "netflix")
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, "NETFLIX.COM", txs[0].Name)
	})

	t.Run("blank query lists the whole period", func(t *testing.T) {
		txs, err := svc.SearchTransactions(ctx, Month(2025, time.September), "  ")
		require.NoError(t, err)
		assert.Len(t, txs, 2)
	})

	t.Run("no hits outside the period", func(t *testing.T) {
		txs, err := svc.SearchTransactions(ctx, Month(2025, time.October), "netflix")
		require.NoError(t, err)
		assert.Empty(t, txs)
	})
}
