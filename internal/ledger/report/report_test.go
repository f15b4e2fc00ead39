package report_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"ms-tokenomy/internal/ledger"
	"ms-tokenomy/internal/ledger/report"
	"ms-tokenomy/internal/models"
)

func setupReportService(t *testing.T) (*report.Service, *ledger.Store, *bun.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	_, err = bunDB.NewCreateTable().Model((*models.LedgerEntry)(nil)).Exec(context.Background())
	if err != nil {
		t.Fatalf("Failed to create ledger_entries table: %v", err)
	}

	store := ledger.NewStore(bunDB)
	return report.NewService(store), store, bunDB
}

func TestExportCSVSurvivesHostileMetadata(t *testing.T) {
	svc, store, bunDB := setupReportService(t)
	defer bunDB.Close()
	ctx := context.Background()

	// Metadata with commas, quotes and a newline must survive the export.
	metadata := `{"note":"paid, in full","quote":"he said \"ok\"","multi":"a` + "\n" + `b"}`

	_, err := store.Append(ctx, &models.LedgerEntry{
		ID:          "entry-1",
		Kind:        models.KindPayment,
		ReferenceID: "order-1",
		Direction:   models.DirectionIn,
		Amount:      decimal.RequireFromString("12.34"),
		Currency:    models.CurrencyEUR,
		Metadata:    metadata,
		CreatedAt:   time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC),
	})
	assert.NoError(t, err)

	var buf bytes.Buffer
	err = svc.ExportCSV(ctx, &buf, ledger.Filter{})
	assert.NoError(t, err)

	records, err := csv.NewReader(&buf).ReadAll()
	assert.NoError(t, err)
	assert.Len(t, records, 2)

	assert.Equal(t, report.CSVHeader, records[0])

	row := records[1]
	assert.Equal(t, "entry-1", row[0])
	assert.Equal(t, models.KindPayment, row[1])
	assert.Equal(t, "order-1", row[2])
	assert.Equal(t, models.DirectionIn, row[3])
	assert.Equal(t, "12.34", row[4])
	assert.Equal(t, models.CurrencyEUR, row[5])
	assert.Equal(t, metadata, row[6])
	assert.Equal(t, "2026-05-01T09:30:00Z", row[7])
}

func TestExportCSVEmptyLedger(t *testing.T) {
	svc, _, bunDB := setupReportService(t)
	defer bunDB.Close()

	var buf bytes.Buffer
	err := svc.ExportCSV(context.Background(), &buf, ledger.Filter{})
	assert.NoError(t, err)

	records, err := csv.NewReader(&buf).ReadAll()
	assert.NoError(t, err)
	assert.Len(t, records, 1, "header only")
}

func TestExportCSVAppliesFilter(t *testing.T) {
	svc, store, bunDB := setupReportService(t)
	defer bunDB.Close()
	ctx := context.Background()

	_, err := store.Append(ctx, &models.LedgerEntry{
		Kind: models.KindPayment, ReferenceID: "o1", Direction: models.DirectionIn,
		Amount: decimal.RequireFromString("5.00"), Currency: models.CurrencyEUR,
	})
	assert.NoError(t, err)
	_, err = store.Append(ctx, &models.LedgerEntry{
		Kind: models.KindMint, ReferenceID: "o1", Direction: models.DirectionOut,
		Amount: decimal.RequireFromString("50"), Currency: models.CurrencyTOKEN,
	})
	assert.NoError(t, err)

	var buf bytes.Buffer
	err = svc.ExportCSV(ctx, &buf, ledger.Filter{Kind: models.KindMint})
	assert.NoError(t, err)

	records, err := csv.NewReader(&buf).ReadAll()
	assert.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, models.KindMint, records[1][1])
}

func TestSummaryDelegatesToLedger(t *testing.T) {
	svc, store, bunDB := setupReportService(t)
	defer bunDB.Close()
	ctx := context.Background()

	_, err := store.Append(ctx, &models.LedgerEntry{
		Kind: models.KindPayment, ReferenceID: "o1", Direction: models.DirectionIn,
		Amount: decimal.RequireFromString("9.99"), Currency: models.CurrencyEUR,
	})
	assert.NoError(t, err)

	sum, err := svc.Summary(ctx, time.Time{}, time.Time{})
	assert.NoError(t, err)
	assert.True(t, sum.EURIn.Equal(decimal.RequireFromString("9.99")))
}
