package mint

import (
	"context"
	"errors"
	"fmt"

	"ms-tokenomy/internal/models"
)

// HandleOrderSettled is the kafka consumer entrypoint. Settlement events are
// delivered at-least-once; Mint's order-level idempotency absorbs replays.
func (s *Service) HandleOrderSettled(ctx context.Context, event models.OrderSettledEvent) {
	if s.Logger != nil {
		s.Logger.LogKafka("CONSUME", "orders.settled", fmt.Sprintf("Minting for order %s", event.OrderID))
	}

	_, err := s.Mint(ctx, event.OrderID, event.UserID, event.TokenAmount, "")
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, models.ErrAmbiguous):
		// Parked for manual reconciliation; do not retry from the consumer.
		if s.Logger != nil {
			s.Logger.Warn("MINT", fmt.Sprintf("Ambiguous mint for order %s, awaiting reconciliation", event.OrderID))
		}
	case errors.Is(err, models.ErrMissingWallet):
		if s.Logger != nil {
			s.Logger.Warn("MINT", fmt.Sprintf("Order %s settled for user %s with no wallet on file", event.OrderID, event.UserID))
		}
	default:
		if s.Logger != nil {
			s.Logger.Error("MINT", fmt.Sprintf("Mint failed for order %s: %s", event.OrderID, err.Error()))
		}
	}
}
