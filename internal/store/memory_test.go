package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_CRUD(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	id := uuid.New()

	require.NoError(t, mem.Insert(ctx, TableCategories, Row{"id": id, "name": "Dining"}))

	rows, err := mem.Select(ctx, TableCategories, Eq("name", "Dining"))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, mem.Update(ctx, TableCategories, id, Row{"name": "Restaurants"}))
	rows, err = mem.Select(ctx, TableCategories, Eq("name", "Restaurants"))
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	require.NoError(t, mem.Delete(ctx, TableCategories, id))
	rows, err = mem.Select(ctx, TableCategories)
	require.NoError(t, err)
	assert.Empty(t, rows)

	assert.ErrorIs(t, mem.Update(ctx, TableCategories, id, Row{"name": "x"}), ErrNotFound)
	assert.ErrorIs(t, mem.Delete(ctx, TableCategories, id), ErrNotFound)
}

func TestMemory_Validation(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	_, err := mem.Select(ctx, "sessions")
	assert.ErrorIs(t, err, ErrUnknownTable)

	err = mem.Insert(ctx, TableCategories, Row{"name; drop": "x"})
	assert.ErrorIs(t, err, ErrInvalidColumn)
}

func TestMemory_Filters(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()

	sept := time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC)
	oct := time.Date(2025, 10, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, mem.Insert(ctx, TableTransactions,
		Row{"id": uuid.New(), "date": sept, "name": "SEPT ROW", "amount": decimal.NewFromInt(-10)},
		Row{"id": uuid.New(), "date": oct, "name": "OCT ROW", "amount": decimal.NewFromInt(-20)},
	))

	t.Run("date range", func(t *testing.T) {
		rows, err := mem.Select(ctx, TableTransactions,
			Gte("date", time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)),
			Lte("date", time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)),
		)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "SEPT ROW", toString(rows[0]["name"]))
	})

	t.Run("decimal equality", func(t *testing.T) {
		rows, err := mem.Select(ctx, TableTransactions, Eq("amount", decimal.RequireFromString("-10")))
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("ilike contains", func(t *testing.T) {
		rows, err := mem.Select(ctx, TableTransactions, ILike("name", "%oct%"))
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("returned rows are copies", func(t *testing.T) {
		rows, err := mem.Select(ctx, TableTransactions, ILike("name", "%sept%"))
		require.NoError(t, err)
		rows[0]["name"] = "MUTATED"

		again, err := mem.Select(ctx, TableTransactions, ILike("name", "%sept%"))
		require.NoError(t, err)
		require.Len(t, again, 1)
	})
}

func TestExactGuard(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	guard := NewExactGuard(mem)

	accountID := uuid.New()
	date := time.Date(2025, 9, 14, 0, 0, 0, 0, time.UTC)
	amount := decimal.RequireFromString("-15.49")

	tx := Transaction{
		ID:           uuid.New(),
		AccountID:    &accountID,
		Date:         date,
		Name:         "NETFLIX.COM",
		Amount:       amount,
		ImportMethod: "CSV",
		SourceFile:   "Credit Card-2025.csv",
	}
	require.NoError(t, mem.Insert(ctx, TableTransactions, tx.Row()))

	t.Run("exact tuple is a duplicate", func(t *testing.T) {
		dup, err := guard.IsDuplicate(ctx, &accountID, date, amount, "NETFLIX.COM", "CSV", "Credit Card-2025.csv")
		require.NoError(t, err)
		assert.True(t, dup)
	})

	t.Run("any differing field is not", func(t *testing.T) {
		dup, err := guard.IsDuplicate(ctx, &accountID, date, decimal.RequireFromString("-15.50"), "NETFLIX.COM", "CSV", "Credit Card-2025.csv")
		require.NoError(t, err)
		assert.False(t, dup)

		dup, err = guard.IsDuplicate(ctx, &accountID, date.AddDate(0, 0, 1), amount, "NETFLIX.COM", "CSV", "Credit Card-2025.csv")
		require.NoError(t, err)
		assert.False(t, dup)

		other := uuid.New()
		dup, err = guard.IsDuplicate(ctx, &other, date, amount, "NETFLIX.COM", "CSV", "Credit Card-2025.csv")
		require.NoError(t, err)
		assert.False(t, dup)
	})
}

func TestRowCoercion(t *testing.T) {
	t.Run("transaction survives driver-shaped values", func(t *testing.T) {
		id := uuid.New()
		tx := TransactionFromRow(Row{
			"id":     id.String(),
			"date":   "2025-09-14",
			"name":   "COFFEE",
			"amount": "-4.50",
		})
		assert.Equal(t, id, tx.ID)
		assert.Equal(t, 2025, tx.Date.Year())
		assert.True(t, tx.Amount.Equal(decimal.RequireFromString("-4.5")))
		assert.Nil(t, tx.AccountID)
	})

	t.Run("malformed values coerce to zero values, never panic", func(t *testing.T) {
		tx := TransactionFromRow(Row{
			"id":     "not-a-uuid",
			"date":   "garbage",
			"amount": "not-a-number",
		})
		assert.Equal(t, uuid.Nil, tx.ID)
		assert.True(t, tx.Date.IsZero())
		assert.True(t, tx.Amount.IsZero())
	})

	t.Run("optional uuids flatten to nil columns", func(t *testing.T) {
		row := Transaction{ID: uuid.New()}.Row()
		assert.Nil(t, row["account_id"])
		assert.Nil(t, row["bill_id"])
	})
}
