package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"ms-tokenomy/internal/models"
)

// Store is the append-only ledger. There is deliberately no update or delete
// path: corrections are new offsetting entries with the same reference ID.
type Store struct {
	Bun *bun.DB
}

func NewStore(bunDB *bun.DB) *Store {
	return &Store{Bun: bunDB}
}

// Filter narrows ledger queries. Zero values mean "any".
type Filter struct {
	Kind        string
	ReferenceID string
	Currency    string
	Direction   string
	From        time.Time
	To          time.Time
}

type Page struct {
	Limit  int
	Offset int
}

type KindTotals struct {
	Kind    string          `json:"kind"`
	In      decimal.Decimal `json:"in"`
	Out     decimal.Decimal `json:"out"`
	Entries int             `json:"entries"`
}

type Summary struct {
	EURIn    decimal.Decimal `json:"eur_in"`
	EUROut   decimal.Decimal `json:"eur_out"`
	TokenIn  decimal.Decimal `json:"token_in"`
	TokenOut decimal.Decimal `json:"token_out"`
	ByKind   []KindTotals    `json:"by_kind"`
}

// Append inserts a new entry and returns its ID. The entry amount must be
// non-negative; the direction carries the sign.
func (s *Store) Append(ctx context.Context, entry *models.LedgerEntry) (string, error) {
	return s.AppendIn(ctx, s.Bun, entry)
}

// AppendIn inserts an entry through the given bun handle so settlement and
// mint can write ledger entries inside their own transactions.
func (s *Store) AppendIn(ctx context.Context, idb bun.IDB, entry *models.LedgerEntry) (string, error) {
	if entry.Kind == "" || entry.ReferenceID == "" {
		return "", models.ErrValidation
	}
	if entry.Direction != models.DirectionIn && entry.Direction != models.DirectionOut {
		return "", models.ErrValidation
	}
	if entry.Currency != models.CurrencyEUR && entry.Currency != models.CurrencyTOKEN {
		return "", models.ErrValidation
	}
	if entry.Amount.IsNegative() {
		return "", models.ErrValidation
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if _, err := idb.NewInsert().Model(entry).Exec(ctx); err != nil {
		return "", &models.PersistenceError{Op: "ledger append", Err: err}
	}
	return entry.ID, nil
}

// AppendAdjustment writes an offsetting correction entry against an existing
// reference. Adjustments never originate a reference; they only correct one
// that already has entries.
func (s *Store) AppendAdjustment(ctx context.Context, referenceID, direction string, amount decimal.Decimal, currency, memo string) (string, error) {
	existing, err := s.ByReference(ctx, referenceID)
	if err != nil {
		return "", err
	}
	if len(existing) == 0 {
		return "", fmt.Errorf("%w: no entries for reference %s", models.ErrNotFound, referenceID)
	}

	metadata, _ := json.Marshal(map[string]string{"memo": memo})
	return s.Append(ctx, &models.LedgerEntry{
		Kind:        models.KindAdjustment,
		ReferenceID: referenceID,
		Direction:   direction,
		Amount:      amount,
		Currency:    currency,
		Metadata:    string(metadata),
	})
}

// ByReference returns all entries linked to one real-world event, oldest
// first, so the event can be replayed and audited as a group.
func (s *Store) ByReference(ctx context.Context, referenceID string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := s.Bun.NewSelect().
		Model(&entries).
		Where("reference_id = ?", referenceID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, &models.PersistenceError{Op: "ledger by-reference", Err: err}
	}
	return entries, nil
}

// FindByReferenceAndKind returns the first entry for (referenceID, kind) or
// nil when none exists. Settlement uses this as its idempotency lookup.
func (s *Store) FindByReferenceAndKind(ctx context.Context, idb bun.IDB, referenceID, kind string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := idb.NewSelect().
		Model(&entry).
		Where("reference_id = ?", referenceID).
		Where("kind = ?", kind).
		Order("created_at ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "ledger lookup", Err: err}
	}
	return &entry, nil
}

// Query returns filtered entries, newest first.
func (s *Store) Query(ctx context.Context, f Filter, p Page) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	q := s.Bun.NewSelect().Model(&entries)

	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.ReferenceID != "" {
		q = q.Where("reference_id = ?", f.ReferenceID)
	}
	if f.Currency != "" {
		q = q.Where("currency = ?", f.Currency)
	}
	if f.Direction != "" {
		q = q.Where("direction = ?", f.Direction)
	}
	if !f.From.IsZero() {
		q = q.Where("created_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("created_at <= ?", f.To)
	}

	if p.Limit > 0 {
		q = q.Limit(p.Limit)
	}
	if p.Offset > 0 {
		q = q.Offset(p.Offset)
	}

	if err := q.Order("created_at DESC", "id DESC").Scan(ctx); err != nil {
		return nil, &models.PersistenceError{Op: "ledger query", Err: err}
	}
	return entries, nil
}

// Summarize totals the entries in the date range. Sums use exact decimal
// arithmetic, never floats, so long histories cannot accumulate drift.
func (s *Store) Summarize(ctx context.Context, from, to time.Time) (*Summary, error) {
	entries, err := s.Query(ctx, Filter{From: from, To: to}, Page{})
	if err != nil {
		return nil, err
	}

	sum := &Summary{}
	byKind := make(map[string]*KindTotals)
	var kinds []string

	for _, e := range entries {
		switch {
		case e.Currency == models.CurrencyEUR && e.Direction == models.DirectionIn:
			sum.EURIn = sum.EURIn.Add(e.Amount)
		case e.Currency == models.CurrencyEUR && e.Direction == models.DirectionOut:
			sum.EUROut = sum.EUROut.Add(e.Amount)
		case e.Currency == models.CurrencyTOKEN && e.Direction == models.DirectionIn:
			sum.TokenIn = sum.TokenIn.Add(e.Amount)
		case e.Currency == models.CurrencyTOKEN && e.Direction == models.DirectionOut:
			sum.TokenOut = sum.TokenOut.Add(e.Amount)
		}

		kt, ok := byKind[e.Kind]
		if !ok {
			kt = &KindTotals{Kind: e.Kind}
			byKind[e.Kind] = kt
			kinds = append(kinds, e.Kind)
		}
		kt.Entries++
		if e.Direction == models.DirectionIn {
			kt.In = kt.In.Add(e.Amount)
		} else {
			kt.Out = kt.Out.Add(e.Amount)
		}
	}

	for _, kind := range kinds {
		sum.ByKind = append(sum.ByKind, *byKind[kind])
	}
	return sum, nil
}
