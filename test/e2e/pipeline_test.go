// Package e2etest exercises the full pipeline: file import, categorization,
// and reconciliation, over the in-memory store.
package e2etest

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/augielopez/homebase/internal/domain/categorization"
	"github.com/augielopez/homebase/internal/domain/imports/schema"
	importservice "github.com/augielopez/homebase/internal/domain/imports/service"
	"github.com/augielopez/homebase/internal/domain/reconciliation"
	"github.com/augielopez/homebase/internal/store"
)

func TestImportCategorizeReconcile(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	mem := store.NewMemory()

	// A merchant rule so one row categorizes without any remote service.
	entertainment := store.Category{ID: uuid.New(), Name: "Entertainment"}
	require.NoError(t, mem.Insert(ctx, store.TableCategories, entertainment.Row()))
	rule := store.CategorizationRule{
		ID:         uuid.New(),
		Priority:   10,
		Active:     true,
		Type:       store.RuleMerchant,
		Merchants:  []string{"netflix"},
		CategoryID: entertainment.ID,
	}
	require.NoError(t, mem.Insert(ctx, store.TableRules, rule.Row()))

	// An open bill for the internet payment in the export.
	bill := store.Bill{
		ID:          uuid.New(),
		Description: "Internet Bill",
		AmountDue:   decimal.NewFromInt(50),
		DueDate:     time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC),
		Status:      store.BillActive,
	}
	require.NoError(t, mem.Insert(ctx, store.TableBills, bill.Row()))

	catService := categorization.NewService(categorization.NewRepository(mem), logger)
	impService := importservice.NewService(mem, schema.NewRegistry(), logger).
		WithDuplicateGuard(store.NewExactGuard(mem)).
		WithCategorizer(catService)
	recService := reconciliation.NewService(mem, reconciliation.DefaultConfig(), logger)

	csv := "Date,Name,Amount,Memo\n" +
		"2025-09-10,NETFLIX.COM,-15.49,NETFLIX\n" +
		"2025-09-14,INTERNET BILL AUTOPAY,-49.99,\n" +
		"2025-09-15,PAYROLL DEPOSIT,2500.00,ACME CORP\n"

	result, err := impService.ImportFile(ctx, "Credit Card-2025.csv", []byte(csv))
	require.NoError(t, err)
	require.Equal(t, 3, result.Imported)

	t.Run("rule hit landed on the imported row", func(t *testing.T) {
		rows, err := mem.Select(ctx, store.TableTransactions, store.Eq("name", "NETFLIX.COM"))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		tx := store.TransactionFromRow(rows[0])
		require.NotNil(t, tx.CategoryID)
		assert.Equal(t, entertainment.ID, *tx.CategoryID)
	})

	t.Run("uncategorizable rows fell to the default bucket", func(t *testing.T) {
		rows, err := mem.Select(ctx, store.TableTransactions, store.Eq("name", "PAYROLL DEPOSIT"))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		tx := store.TransactionFromRow(rows[0])
		require.NotNil(t, tx.CategoryID)

		other, err := mem.Select(ctx, store.TableCategories, store.Eq("name", "Other"))
		require.NoError(t, err)
		require.Len(t, other, 1)
		assert.Equal(t, store.CategoryFromRow(other[0]).ID, *tx.CategoryID)
	})

	t.Run("reconciliation matches the bill payment", func(t *testing.T) {
		summary, err := recService.Reconcile(ctx, reconciliation.Month(2025, time.September))
		require.NoError(t, err)
		require.Len(t, summary.Matched, 1)
		assert.Equal(t, bill.ID, summary.Matched[0].Bill.ID)
		assert.Equal(t, "INTERNET BILL AUTOPAY", summary.Matched[0].Transaction.Name)
		assert.Len(t, summary.UnmatchedTransactions, 2)
		assert.Empty(t, summary.UnmatchedBills)

		bills, err := mem.Select(ctx, store.TableBills, store.Eq("id", bill.ID))
		require.NoError(t, err)
		assert.Equal(t, store.BillPaid, store.BillFromRow(bills[0]).Status)
	})

	t.Run("re-import is fully deduplicated", func(t *testing.T) {
		again, err := impService.ImportFile(ctx, "Credit Card-2025.csv", []byte(csv))
		require.NoError(t, err)
		assert.Zero(t, again.Imported)
		assert.Equal(t, 3, again.Duplicates)
	})
}
