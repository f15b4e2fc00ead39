package ledger_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"ms-tokenomy/internal/ledger"
	"ms-tokenomy/internal/models"
)

func setupTestStore(t *testing.T) (*ledger.Store, *bun.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = bunDB.NewCreateTable().Model((*models.LedgerEntry)(nil)).Exec(context.Background())
	if err != nil {
		t.Fatalf("Failed to create ledger_entries table: %v", err)
	}

	return ledger.NewStore(bunDB), bunDB
}

func TestAppendAndByReference(t *testing.T) {
	store, bunDB := setupTestStore(t)
	defer bunDB.Close()
	ctx := context.Background()

	first := &models.LedgerEntry{
		Kind:        models.KindPayment,
		ReferenceID: "order-1",
		Direction:   models.DirectionIn,
		Amount:      decimal.RequireFromString("49.99"),
		Currency:    models.CurrencyEUR,
		CreatedAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	id, err := store.Append(ctx, first)
	assert.NoError(t, err)
	assert.NotEmpty(t, id)

	second := &models.LedgerEntry{
		Kind:        models.KindAdjustment,
		ReferenceID: "order-1",
		Direction:   models.DirectionOut,
		Amount:      decimal.RequireFromString("49.99"),
		Currency:    models.CurrencyEUR,
		CreatedAt:   time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	_, err = store.Append(ctx, second)
	assert.NoError(t, err)

	entries, err := store.ByReference(ctx, "order-1")
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, models.KindPayment, entries[0].Kind)
	assert.Equal(t, models.KindAdjustment, entries[1].Kind)
	assert.True(t, entries[0].Amount.Equal(decimal.RequireFromString("49.99")))
}

func TestAppendValidation(t *testing.T) {
	store, bunDB := setupTestStore(t)
	defer bunDB.Close()
	ctx := context.Background()

	cases := []struct {
		name  string
		entry *models.LedgerEntry
	}{
		{"missing kind", &models.LedgerEntry{
			ReferenceID: "r1", Direction: models.DirectionIn,
			Amount: decimal.NewFromInt(1), Currency: models.CurrencyEUR,
		}},
		{"missing reference", &models.LedgerEntry{
			Kind: models.KindPayment, Direction: models.DirectionIn,
			Amount: decimal.NewFromInt(1), Currency: models.CurrencyEUR,
		}},
		{"bad direction", &models.LedgerEntry{
			Kind: models.KindPayment, ReferenceID: "r1", Direction: "sideways",
			Amount: decimal.NewFromInt(1), Currency: models.CurrencyEUR,
		}},
		{"bad currency", &models.LedgerEntry{
			Kind: models.KindPayment, ReferenceID: "r1", Direction: models.DirectionIn,
			Amount: decimal.NewFromInt(1), Currency: "USD",
		}},
		{"negative amount", &models.LedgerEntry{
			Kind: models.KindPayment, ReferenceID: "r1", Direction: models.DirectionIn,
			Amount: decimal.NewFromInt(-5), Currency: models.CurrencyEUR,
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.Append(ctx, tc.entry)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}

	entries, err := store.Query(ctx, ledger.Filter{}, ledger.Page{})
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFindByReferenceAndKind(t *testing.T) {
	store, bunDB := setupTestStore(t)
	defer bunDB.Close()
	ctx := context.Background()

	found, err := store.FindByReferenceAndKind(ctx, bunDB, "order-9", models.KindPayment)
	assert.NoError(t, err)
	assert.Nil(t, found)

	_, err = store.Append(ctx, &models.LedgerEntry{
		Kind:        models.KindPayment,
		ReferenceID: "order-9",
		Direction:   models.DirectionIn,
		Amount:      decimal.RequireFromString("10.00"),
		Currency:    models.CurrencyEUR,
	})
	assert.NoError(t, err)

	found, err = store.FindByReferenceAndKind(ctx, bunDB, "order-9", models.KindPayment)
	assert.NoError(t, err)
	assert.NotNil(t, found)
	assert.Equal(t, "order-9", found.ReferenceID)

	// Same reference, different kind
	found, err = store.FindByReferenceAndKind(ctx, bunDB, "order-9", models.KindMint)
	assert.NoError(t, err)
	assert.Nil(t, found)
}

func TestQueryFilters(t *testing.T) {
	store, bunDB := setupTestStore(t)
	defer bunDB.Close()
	ctx := context.Background()

	seed := []*models.LedgerEntry{
		{Kind: models.KindPayment, ReferenceID: "o1", Direction: models.DirectionIn,
			Amount: decimal.RequireFromString("20.00"), Currency: models.CurrencyEUR,
			CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Kind: models.KindMint, ReferenceID: "o1", Direction: models.DirectionOut,
			Amount: decimal.RequireFromString("200"), Currency: models.CurrencyTOKEN,
			CreatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
		{Kind: models.KindPerkRedeem, ReferenceID: "c1", Direction: models.DirectionOut,
			Amount: decimal.RequireFromString("50"), Currency: models.CurrencyTOKEN,
			CreatedAt: time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)},
	}
	for _, e := range seed {
		_, err := store.Append(ctx, e)
		assert.NoError(t, err)
	}

	byKind, err := store.Query(ctx, ledger.Filter{Kind: models.KindMint}, ledger.Page{})
	assert.NoError(t, err)
	assert.Len(t, byKind, 1)
	assert.Equal(t, "o1", byKind[0].ReferenceID)

	byCurrency, err := store.Query(ctx, ledger.Filter{Currency: models.CurrencyTOKEN}, ledger.Page{})
	assert.NoError(t, err)
	assert.Len(t, byCurrency, 2)
	// Newest first
	assert.Equal(t, models.KindPerkRedeem, byCurrency[0].Kind)

	windowed, err := store.Query(ctx, ledger.Filter{
		From: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 1, 2, 23, 0, 0, 0, time.UTC),
	}, ledger.Page{})
	assert.NoError(t, err)
	assert.Len(t, windowed, 1)
	assert.Equal(t, models.KindMint, windowed[0].Kind)

	paged, err := store.Query(ctx, ledger.Filter{}, ledger.Page{Limit: 2, Offset: 1})
	assert.NoError(t, err)
	assert.Len(t, paged, 2)
}

func TestSummarize(t *testing.T) {
	store, bunDB := setupTestStore(t)
	defer bunDB.Close()
	ctx := context.Background()

	seed := []*models.LedgerEntry{
		{Kind: models.KindPayment, ReferenceID: "o1", Direction: models.DirectionIn,
			Amount: decimal.RequireFromString("19.99"), Currency: models.CurrencyEUR},
		{Kind: models.KindPayment, ReferenceID: "o2", Direction: models.DirectionIn,
			Amount: decimal.RequireFromString("0.01"), Currency: models.CurrencyEUR},
		{Kind: models.KindMint, ReferenceID: "o1", Direction: models.DirectionOut,
			Amount: decimal.RequireFromString("100.5"), Currency: models.CurrencyTOKEN},
		{Kind: models.KindPerkRedeem, ReferenceID: "c1", Direction: models.DirectionOut,
			Amount: decimal.RequireFromString("25"), Currency: models.CurrencyTOKEN},
	}
	for _, e := range seed {
		_, err := store.Append(ctx, e)
		assert.NoError(t, err)
	}

	sum, err := store.Summarize(ctx, time.Time{}, time.Time{})
	assert.NoError(t, err)
	assert.True(t, sum.EURIn.Equal(decimal.RequireFromString("20.00")), "EUR in = %s", sum.EURIn)
	assert.True(t, sum.EUROut.IsZero())
	assert.True(t, sum.TokenOut.Equal(decimal.RequireFromString("125.5")), "TOKEN out = %s", sum.TokenOut)
	assert.Len(t, sum.ByKind, 3)

	for _, kt := range sum.ByKind {
		if kt.Kind == models.KindPayment {
			assert.Equal(t, 2, kt.Entries)
			assert.True(t, kt.In.Equal(decimal.RequireFromString("20.00")))
		}
	}
}

func TestAppendAdjustment(t *testing.T) {
	store, bunDB := setupTestStore(t)
	defer bunDB.Close()
	ctx := context.Background()

	// An adjustment cannot originate a reference.
	_, err := store.AppendAdjustment(ctx, "order-9", models.DirectionOut, decimal.RequireFromString("5.00"), models.CurrencyEUR, "typo correction")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = store.Append(ctx, &models.LedgerEntry{
		Kind:        models.KindPayment,
		ReferenceID: "order-9",
		Direction:   models.DirectionIn,
		Amount:      decimal.RequireFromString("20.00"),
		Currency:    models.CurrencyEUR,
	})
	assert.NoError(t, err)

	entryID, err := store.AppendAdjustment(ctx, "order-9", models.DirectionOut, decimal.RequireFromString("5.00"), models.CurrencyEUR, "partial refund")
	assert.NoError(t, err)
	assert.NotEmpty(t, entryID)

	// The correction sits alongside the original; nothing was mutated.
	entries, err := store.ByReference(ctx, "order-9")
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, models.KindPayment, entries[0].Kind)
	assert.True(t, entries[0].Amount.Equal(decimal.RequireFromString("20.00")))
	assert.Equal(t, models.KindAdjustment, entries[1].Kind)
	assert.Equal(t, models.DirectionOut, entries[1].Direction)
	assert.Contains(t, entries[1].Metadata, "partial refund")
}
