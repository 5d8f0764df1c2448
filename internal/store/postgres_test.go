package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgres(mock), mock
}

func TestPostgres_Select(t *testing.T) {
	t.Run("filters become a positional where clause", func(t *testing.T) {
		st, mock := newMockStore(t)
		id := uuid.New()

		mock.ExpectQuery(`SELECT \* FROM categories WHERE name = \$1`).
			WithArgs("Dining").
			WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).AddRow(id, "Dining"))

		rows, err := st.Select(context.Background(), TableCategories, Eq("name", "Dining"))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "Dining", CategoryFromRow(rows[0]).Name)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown table is rejected before touching the db", func(t *testing.T) {
		st, _ := newMockStore(t)
		_, err := st.Select(context.Background(), "users")
		assert.ErrorIs(t, err, ErrUnknownTable)
	})

	t.Run("malicious filter column is rejected", func(t *testing.T) {
		st, _ := newMockStore(t)
		_, err := st.Select(context.Background(), TableCategories,
			Eq("name; DROP TABLE categories", "x"))
		assert.ErrorIs(t, err, ErrInvalidColumn)
	})
}

func TestPostgres_Insert(t *testing.T) {
	t.Run("columns are ordered deterministically", func(t *testing.T) {
		st, mock := newMockStore(t)
		id := uuid.New()

		mock.ExpectExec(`INSERT INTO categories \(id, name\) VALUES \(\$1, \$2\)`).
			WithArgs(id, "Dining").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := st.Insert(context.Background(), TableCategories, Row{"name": "Dining", "id": id})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("multi-row insert shares one statement", func(t *testing.T) {
		st, mock := newMockStore(t)
		a, b := uuid.New(), uuid.New()

		mock.ExpectExec(`INSERT INTO categories \(id, name\) VALUES \(\$1, \$2\), \(\$3, \$4\)`).
			WithArgs(a, "One", b, "Two").
			WillReturnResult(pgxmock.NewResult("INSERT", 2))

		err := st.Insert(context.Background(), TableCategories,
			Row{"id": a, "name": "One"},
			Row{"id": b, "name": "Two"},
		)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no rows is a no-op", func(t *testing.T) {
		st, mock := newMockStore(t)
		require.NoError(t, st.Insert(context.Background(), TableCategories))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient privilege maps to ErrPermissionDenied", func(t *testing.T) {
		st, mock := newMockStore(t)
		id := uuid.New()

		mock.ExpectExec(`INSERT INTO categories`).
			WithArgs(id, "Dining").
			WillReturnError(&pgconn.PgError{Code: "42501", Message: "permission denied for table categories"})

		err := st.Insert(context.Background(), TableCategories, Row{"id": id, "name": "Dining"})
		assert.ErrorIs(t, err, ErrPermissionDenied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgres_Update(t *testing.T) {
	t.Run("zero affected rows maps to not found", func(t *testing.T) {
		st, mock := newMockStore(t)
		id := uuid.New()

		mock.ExpectExec(`UPDATE bills SET status = \$1 WHERE id = \$2`).
			WithArgs("paid", id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := st.Update(context.Background(), TableBills, id, Row{"status": "paid"})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgres_SelectTransactionsExpanded(t *testing.T) {
	st, mock := newMockStore(t)

	txID := uuid.New()
	billID := uuid.New()
	columns := []string{
		"id", "account_id", "date", "name", "description", "merchant",
		"amount", "category_id", "bill_id", "import_method", "source_file",
		"category_name", "b_id", "b_description", "amount_due", "due_date", "status",
	}

	mock.ExpectQuery(`LEFT JOIN bills b ON b\.id = t\.bill_id WHERE t\.date >= \$1`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(columns).AddRow(
			txID, nil, nil, "INTERNET BILL", "INTERNET BILL", "",
			decimal.RequireFromString("-49.99"), nil, billID, "CSV", "x.csv",
			"Utilities", billID, "Internet Bill", decimal.NewFromInt(50), nil, "active",
		))

	expanded, err := st.SelectTransactionsExpanded(context.Background(), Gte("date", "2025-09-01"))
	require.NoError(t, err)
	require.Len(t, expanded, 1)

	tx := expanded[0]
	assert.Equal(t, txID, tx.ID)
	assert.Equal(t, "Utilities", tx.CategoryName)
	require.NotNil(t, tx.BillDue)
	assert.Equal(t, billID, tx.BillDue.ID)
	assert.True(t, tx.BillDue.AmountDue.Equal(decimal.NewFromInt(50)))
	assert.NoError(t, mock.ExpectationsWereMet())
}
