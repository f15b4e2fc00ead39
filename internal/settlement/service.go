package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"ms-tokenomy/internal/ledger"
	"ms-tokenomy/internal/logger"
	"ms-tokenomy/internal/models"
	"ms-tokenomy/internal/settlement/db"
)

// Publisher streams domain events to Kafka.
type Publisher interface {
	Publish(topic string, key string, value []byte) error
}

// DedupGuard is an advisory fast path that marks payment events as seen.
// The ledger lookup inside the settlement transaction stays authoritative;
// the guard only spares the database on obvious webhook retransmissions.
type DedupGuard interface {
	FirstDelivery(ctx context.Context, orderID string) (bool, error)
}

// PaymentEvent is a confirmed payment as delivered by the gateway webhook,
// possibly more than once.
type PaymentEvent struct {
	OrderID     string
	AmountPaid  decimal.Decimal
	Currency    string
	ProviderRef string
}

// Result reports what a Settle call did. AlreadySettled means the event was a
// duplicate and the prior outcome is being returned.
type Result struct {
	OrderID        string `json:"order_id"`
	EntryID        string `json:"entry_id"`
	AlreadySettled bool   `json:"already_settled"`
}

// errConcurrentSettle signals that another request completed the order
// between our idempotency lookup and the status compare-and-set.
var errConcurrentSettle = errors.New("order settled concurrently")

type Service struct {
	DB           *db.DB
	Ledger       *ledger.Store
	Gateway      Gateway
	Producer     Publisher
	Guard        DedupGuard
	SettledTopic string
	Logger       *logger.Logger
}

func NewService(database *db.DB, ledgerStore *ledger.Store, gateway Gateway, producer Publisher, guard DedupGuard, settledTopic string, log *logger.Logger) *Service {
	return &Service{
		DB:           database,
		Ledger:       ledgerStore,
		Gateway:      gateway,
		Producer:     producer,
		Guard:        guard,
		SettledTopic: settledTopic,
		Logger:       log,
	}
}

// Settle turns a confirmed payment event into an order transition plus a
// ledger entry, exactly once per order. Re-delivery of the same event is a
// no-op returning the prior result.
func (s *Service) Settle(ctx context.Context, ev PaymentEvent) (*Result, error) {
	if ev.OrderID == "" || !ev.AmountPaid.IsPositive() || ev.Currency != models.CurrencyEUR {
		return nil, fmt.Errorf("%w: bad payment event for order %q", models.ErrValidation, ev.OrderID)
	}

	if s.Guard != nil {
		if first, err := s.Guard.FirstDelivery(ctx, ev.OrderID); err == nil && !first {
			// Seen before: answer from the ledger without opening a write
			// transaction. Falls through to the full path when the marker
			// outlived the entry.
			prior, lookupErr := s.Ledger.FindByReferenceAndKind(ctx, s.DB.Bun, ev.OrderID, models.KindPayment)
			if lookupErr == nil && prior != nil {
				s.logInfo("DEDUP", ev.OrderID, "payment event already seen, returning prior entry "+prior.ID)
				s.republishSettled(ctx, ev)
				return &Result{OrderID: ev.OrderID, EntryID: prior.ID, AlreadySettled: true}, nil
			}
		}
	}

	var (
		result *Result
		order  *models.Order
	)

	err := s.DB.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		prior, err := s.Ledger.FindByReferenceAndKind(ctx, tx, ev.OrderID, models.KindPayment)
		if err != nil {
			return err
		}
		if prior != nil {
			result = &Result{OrderID: ev.OrderID, EntryID: prior.ID, AlreadySettled: true}
			return nil
		}

		order, err = s.DB.GetOrderByIDIn(ctx, tx, ev.OrderID)
		if errors.Is(err, models.ErrNotFound) {
			// Re-delivery cannot help an event that references no order.
			return fmt.Errorf("%w: order %s does not exist", models.ErrInvalidState, ev.OrderID)
		}
		if err != nil {
			return err
		}
		if order.Status != models.OrderPending {
			return fmt.Errorf("%w: order %s is %s, expected pending", models.ErrInvalidState, ev.OrderID, order.Status)
		}

		moved, err := s.DB.TransitionStatus(ctx, tx, ev.OrderID, models.OrderPending, models.OrderCompleted)
		if err != nil {
			return err
		}
		if !moved {
			return errConcurrentSettle
		}

		metadata, _ := json.Marshal(map[string]string{"provider_ref": ev.ProviderRef})
		entryID, err := s.Ledger.AppendIn(ctx, tx, &models.LedgerEntry{
			Kind:        models.KindPayment,
			ReferenceID: ev.OrderID,
			Direction:   models.DirectionIn,
			Amount:      ev.AmountPaid,
			Currency:    ev.Currency,
			Metadata:    string(metadata),
		})
		if err != nil {
			return err
		}

		result = &Result{OrderID: ev.OrderID, EntryID: entryID}
		return nil
	})

	if errors.Is(err, errConcurrentSettle) {
		// The other writer committed; surface its result.
		prior, lookupErr := s.Ledger.FindByReferenceAndKind(ctx, s.DB.Bun, ev.OrderID, models.KindPayment)
		if lookupErr == nil && prior != nil {
			s.logInfo("DUPLICATE", ev.OrderID, "concurrent settlement won, returning prior entry")
			s.republishSettled(ctx, ev)
			return &Result{OrderID: ev.OrderID, EntryID: prior.ID, AlreadySettled: true}, nil
		}
		return nil, fmt.Errorf("%w: order %s left pending state mid-settlement", models.ErrInvalidState, ev.OrderID)
	}
	if err != nil {
		return nil, err
	}

	if result.AlreadySettled {
		s.logInfo("DUPLICATE", ev.OrderID, "payment event re-delivered, returning prior entry "+result.EntryID)
		s.republishSettled(ctx, ev)
		return result, nil
	}

	s.logInfo("SETTLED", ev.OrderID, fmt.Sprintf("payment of %s %s recorded as entry %s", ev.AmountPaid, ev.Currency, result.EntryID))
	s.publishOrderSettled(order, ev)
	return result, nil
}

// republishSettled re-emits OrderSettled for a duplicate delivery. The mint
// consumer deduplicates on order ID, so re-emitting is always safe; it closes
// the gap where the first delivery's publish was lost to a broker outage and
// the settled order would otherwise never reach the mint pipeline.
func (s *Service) republishSettled(ctx context.Context, ev PaymentEvent) {
	if s.Producer == nil {
		return
	}
	order, err := s.DB.GetOrderByID(ctx, ev.OrderID)
	if err != nil {
		s.logError(fmt.Sprintf("cannot reload order %s for settled re-publish: %v", ev.OrderID, err))
		return
	}
	s.publishOrderSettled(order, ev)
}

func (s *Service) publishOrderSettled(order *models.Order, ev PaymentEvent) {
	if s.Producer == nil || order == nil {
		return
	}

	event := models.OrderSettledEvent{
		OrderID:     order.ID,
		UserID:      order.UserID,
		TokenAmount: order.TokenAmount,
		AmountPaid:  ev.AmountPaid,
		Currency:    ev.Currency,
		ProviderRef: ev.ProviderRef,
		SettledAt:   time.Now().UTC(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		s.logError(fmt.Sprintf("failed to marshal settled event for order %s: %v", order.ID, err))
		return
	}

	// Publish after commit. Delivery is at-least-once and the mint consumer
	// deduplicates on order ID, so a retry here is always safe.
	if err := s.Producer.Publish(s.SettledTopic, order.ID, value); err != nil {
		s.logError(fmt.Sprintf("kafka publish error for order %s: %v, retrying once", order.ID, err))
		if err := s.Producer.Publish(s.SettledTopic, order.ID, value); err != nil {
			s.logError(fmt.Sprintf("kafka publish retry failed for order %s: %v", order.ID, err))
		}
	}
}

func (s *Service) logInfo(action, orderID, message string) {
	if s.Logger != nil {
		s.Logger.LogSettlement(action, orderID, message)
	}
}

func (s *Service) logError(message string) {
	if s.Logger != nil {
		s.Logger.Error("SETTLEMENT", message)
	}
}
