package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Detect(t *testing.T) {
	r := NewRegistry()

	t.Run("filename prefix beats headers", func(t *testing.T) {
		tests := []struct {
			filename string
			want     string
		}{
			{"Credit Card-2025.csv", "fidelity_credit_card"},
			{"credit card statement aug.csv", "fidelity_credit_card"},
			{"ExportedTransactions (3).csv", "capital_one"},
			{"History_for_Account_X12345678.csv", "fidelity_brokerage"},
		}
		for _, tt := range tests {
			s, err := r.Detect(tt.filename, nil)
			require.NoError(t, err, tt.filename)
			assert.Equal(t, tt.want, s.Name, tt.filename)
		}
	})

	t.Run("marcus matches exact stem only", func(t *testing.T) {
		s, err := r.Detect("Marcus.csv", nil)
		require.NoError(t, err)
		assert.Equal(t, "marcus_savings", s.Name)

		// Prefix rules do not apply; the filename-pattern pass still
		// picks it up by substring.
		s, err = r.Detect("marcus-august.csv", nil)
		require.NoError(t, err)
		assert.Equal(t, "marcus_savings", s.Name)
	})

	t.Run("header match when filename is anonymous", func(t *testing.T) {
		headers := []string{"Run Date", "Action", "Symbol", "Amount", "Account"}
		s, err := r.Detect("download (1).csv", headers)
		require.NoError(t, err)
		assert.Equal(t, "fidelity_brokerage", s.Name)
	})

	t.Run("generic synthesis as last resort", func(t *testing.T) {
		headers := []string{"Date", "Memo", "Value"}
		s, err := r.Detect("statement.csv", headers)
		require.NoError(t, err)
		assert.True(t, s.Generic)
		assert.Equal(t, "generic", s.Name)
	})

	t.Run("unrecognizable file is rejected", func(t *testing.T) {
		_, err := r.Detect("photo.csv", []string{"Width", "Height", "Pixels"})
		assert.ErrorIs(t, err, ErrNoSchema)
	})
}

func TestRegistry_AccountForFilename(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		filename string
		want     string
		found    bool
	}{
		{"Credit Card-2025.csv", "Fidelity Credit Card", true},
		{"History_for_Account_X12345678.csv", "Fidelity Brokerage", true},
		{"Marcus.csv", "Marcus Savings", true},
		{"ExportedTransactions.csv", "Capital One Checking", true},
		{"mystery.csv", "", false},
	}
	for _, tt := range tests {
		got, ok := r.AccountForFilename(tt.filename)
		assert.Equal(t, tt.found, ok, tt.filename)
		assert.Equal(t, tt.want, got, tt.filename)
	}
}

func TestSynthesize(t *testing.T) {
	t.Run("locates the three required token classes", func(t *testing.T) {
		s := Synthesize([]string{"Posting Date", "Memo", "Amount", "Balance"})
		require.NotNil(t, s)
		assert.True(t, s.Generic)
		assert.Equal(t, SignAsIs, s.Sign)
	})

	t.Run("nil when any class is missing", func(t *testing.T) {
		assert.Nil(t, Synthesize([]string{"Date", "Amount"}))
		assert.Nil(t, Synthesize(nil))
	})
}

func TestResolveColumns(t *testing.T) {
	r := NewRegistry()

	t.Run("case-insensitive substring location", func(t *testing.T) {
		s, err := r.Detect("Credit Card-2025.csv", nil)
		require.NoError(t, err)

		cols, err := ResolveColumns(s, []string{"Date", "Transaction", "Name", "Memo", "Amount"})
		require.NoError(t, err)
		assert.Equal(t, 0, cols.Date)
		assert.Equal(t, 2, cols.Description)
		assert.Equal(t, 4, cols.Amount)
		assert.Equal(t, 3, cols.Merchant)
	})

	t.Run("missing required column fails", func(t *testing.T) {
		s, err := r.Detect("Credit Card-2025.csv", nil)
		require.NoError(t, err)

		_, err = ResolveColumns(s, []string{"Date", "Name"})
		assert.Error(t, err)
	})

	t.Run("debit or credit satisfies the amount requirement", func(t *testing.T) {
		s, err := r.Detect("ExportedTransactions.csv", nil)
		require.NoError(t, err)

		cols, err := ResolveColumns(s, []string{
			"Transaction Date", "Transaction Description", "Transaction Amount", "Transaction Credit", "Category",
		})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, cols.Debit, 0)
		assert.GreaterOrEqual(t, cols.Credit, 0)
	})
}
