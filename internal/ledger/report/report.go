package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"ms-tokenomy/internal/ledger"
)

// CSVHeader is the stable export column order. Consumers parse by position,
// so it must not change.
var CSVHeader = []string{"ID", "Kind", "Reference ID", "Direction", "Amount", "Currency", "Metadata", "Created At"}

// Service is the pure read side over the ledger. No writes, no caching: every
// call reflects whatever the store currently contains.
type Service struct {
	Ledger *ledger.Store
}

func NewService(store *ledger.Store) *Service {
	return &Service{Ledger: store}
}

func (s *Service) Summary(ctx context.Context, from, to time.Time) (*ledger.Summary, error) {
	return s.Ledger.Summarize(ctx, from, to)
}

// ExportCSV streams the filtered entries as CSV. Metadata is emitted as a
// single quoted field, so JSON values containing commas or quotes survive a
// round trip through any compliant parser. Timestamps are ISO-8601.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, f ledger.Filter) error {
	entries, err := s.Ledger.Query(ctx, f, ledger.Page{})
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		record := []string{
			e.ID,
			e.Kind,
			e.ReferenceID,
			e.Direction,
			e.Amount.String(),
			e.Currency,
			e.Metadata,
			e.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record %s: %w", e.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
