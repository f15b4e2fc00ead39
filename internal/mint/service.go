package mint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"ms-tokenomy/internal/ledger"
	"ms-tokenomy/internal/logger"
	"ms-tokenomy/internal/mint/db"
	"ms-tokenomy/internal/models"
	settlementdb "ms-tokenomy/internal/settlement/db"
)

type Publisher interface {
	Publish(topic string, key string, value []byte) error
}

// ReconStore keeps ambiguous mint attempts for manual reconciliation. An
// attempt lands here when the chain call timed out with unknown broadcast
// status; nothing retries it automatically.
type ReconStore interface {
	RecordAmbiguous(ctx context.Context, orderID, userID, recipient string, amount decimal.Decimal, reason string) error
	Resolve(ctx context.Context, orderID, resolvedBy string) error
}

// Service coordinates token mints: one chain submission per settled order,
// with the mints.order_id unique index as the idempotency key.
type Service struct {
	DB           *db.DB
	Orders       *settlementdb.DB
	Ledger       *ledger.Store
	Chain        ChainClient
	Recon        ReconStore
	Producer     Publisher
	ChainID      string
	Timeout      time.Duration
	SuccessTopic string
	FailureTopic string
	Logger       *logger.Logger
}

// Mint issues tokens for a settled order, exactly once. A repeat call for the
// same order returns the stored mint without touching the chain. An empty
// recipient resolves to the user's registered wallet address.
func (s *Service) Mint(ctx context.Context, orderID, userID string, tokenAmount decimal.Decimal, recipient string) (*models.Mint, error) {
	if orderID == "" || userID == "" || !tokenAmount.IsPositive() {
		return nil, fmt.Errorf("%w: bad mint request for order %q", models.ErrValidation, orderID)
	}

	// Idempotency lookup before anything touches the chain.
	if existing, err := s.DB.GetMintByOrderID(ctx, orderID); err != nil {
		return nil, err
	} else if existing != nil {
		s.logMint("DUPLICATE", orderID, "mint already recorded, returning tx "+existing.TxHash)
		return existing, nil
	}

	order, err := s.Orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: order %s does not exist", models.ErrInvalidState, orderID)
	}
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderCompleted {
		return nil, fmt.Errorf("%w: order %s is %s, expected completed", models.ErrInvalidState, orderID, order.Status)
	}

	if recipient == "" {
		recipient, err = s.resolveWallet(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	cctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	txHash, err := s.Chain.SubmitMint(cctx, recipient, tokenAmount)
	if errors.Is(err, ErrChainTimeout) {
		// Unknown broadcast status. Retrying could mint twice, so this is
		// parked for a human instead of failed.
		s.logError(fmt.Sprintf("mint for order %s timed out with unknown outcome", orderID))
		if s.Recon != nil {
			if recErr := s.Recon.RecordAmbiguous(ctx, orderID, userID, recipient, tokenAmount, "chain submit timeout"); recErr != nil {
				s.logError(fmt.Sprintf("failed to record ambiguous mint for order %s: %v", orderID, recErr))
			}
		}
		return nil, fmt.Errorf("mint for order %s: %w", orderID, models.ErrAmbiguous)
	}
	if err != nil {
		// Definitive rejection: no tokens left the system, so no ledger
		// entry. The order is terminal until an explicit admin re-mint.
		s.logError(fmt.Sprintf("mint for order %s rejected: %v", orderID, err))
		if _, failErr := s.Orders.TransitionStatus(ctx, s.Orders.Bun, orderID, models.OrderCompleted, models.OrderFailed); failErr != nil {
			s.logError(fmt.Sprintf("failed to mark order %s failed: %v", orderID, failErr))
		}
		s.publishResult(s.FailureTopic, models.MintResultEvent{OrderID: orderID, UserID: userID, Reason: err.Error()})
		return nil, &models.ExternalServiceError{Service: "chain", Err: err}
	}

	mint := &models.Mint{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		UserID:      userID,
		TokenAmount: tokenAmount,
		TxHash:      txHash,
		ChainID:     s.ChainID,
	}

	err = s.DB.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.DB.CreateMint(ctx, tx, mint); err != nil {
			return err
		}

		metadata, _ := json.Marshal(map[string]string{"tx_hash": txHash, "chain_id": s.ChainID, "recipient": recipient})
		if _, err := s.Ledger.AppendIn(ctx, tx, &models.LedgerEntry{
			Kind:        models.KindMint,
			ReferenceID: orderID,
			Direction:   models.DirectionOut,
			Amount:      tokenAmount,
			Currency:    models.CurrencyTOKEN,
			Metadata:    string(metadata),
		}); err != nil {
			return err
		}

		// No-op when settlement already completed the order.
		if _, err := s.Orders.TransitionStatus(ctx, tx, orderID, models.OrderPending, models.OrderCompleted); err != nil {
			return err
		}
		return nil
	})
	if errors.Is(err, db.ErrDuplicateOrder) {
		// Lost the insert race to a concurrent mint for the same order. The
		// winner's row is the canonical result.
		existing, lookupErr := s.DB.GetMintByOrderID(ctx, orderID)
		if lookupErr == nil && existing != nil {
			s.logMint("DUPLICATE", orderID, "concurrent mint won, returning tx "+existing.TxHash)
			return existing, nil
		}
		return nil, &models.PersistenceError{Op: "mint dedup lookup", Err: lookupErr}
	}
	if err != nil {
		return nil, err
	}

	s.logMint("MINTED", orderID, fmt.Sprintf("%s tokens to %s in tx %s", tokenAmount, recipient, txHash))
	s.publishResult(s.SuccessTopic, models.MintResultEvent{OrderID: orderID, UserID: userID, TxHash: txHash})
	return mint, nil
}

// Remint is the explicit recovery path for ambiguous outcomes. Operators call
// it only after confirming off-chain that the original submission never
// landed; the resolved reconciliation record keeps the audit trail.
func (s *Service) Remint(ctx context.Context, orderID, adminUserID string) (*models.Mint, error) {
	if adminUserID == "" {
		return nil, fmt.Errorf("%w: re-mint requires an acting admin", models.ErrValidation)
	}

	order, err := s.Orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: order %s does not exist", models.ErrInvalidState, orderID)
	}
	if err != nil {
		return nil, err
	}

	// A rejected mint left the order failed; reopen it for this attempt.
	if order.Status == models.OrderFailed {
		if _, err := s.Orders.TransitionStatus(ctx, s.Orders.Bun, orderID, models.OrderFailed, models.OrderCompleted); err != nil {
			return nil, err
		}
	}

	if s.Recon != nil {
		if err := s.Recon.Resolve(ctx, orderID, adminUserID); err != nil {
			s.logError(fmt.Sprintf("failed to resolve reconciliation record for order %s: %v", orderID, err))
		}
	}

	s.logMint("REMINT", orderID, "explicit re-mint requested by "+adminUserID)
	return s.Mint(ctx, orderID, order.UserID, order.TokenAmount, "")
}

func (s *Service) resolveWallet(ctx context.Context, userID string) (string, error) {
	user, err := s.Orders.GetUserByID(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return "", fmt.Errorf("%w: user %s", models.ErrMissingWallet, userID)
	}
	if err != nil {
		return "", err
	}
	if user.WalletAddress == "" {
		return "", fmt.Errorf("%w: user %s", models.ErrMissingWallet, userID)
	}
	return user.WalletAddress, nil
}

func (s *Service) publishResult(topic string, event models.MintResultEvent) {
	if s.Producer == nil || topic == "" {
		return
	}
	value, err := json.Marshal(event)
	if err != nil {
		s.logError(fmt.Sprintf("failed to marshal mint result for order %s: %v", event.OrderID, err))
		return
	}
	if err := s.Producer.Publish(topic, event.OrderID, value); err != nil {
		s.logError(fmt.Sprintf("kafka publish error for order %s: %v", event.OrderID, err))
	}
}

func (s *Service) logMint(action, orderID, message string) {
	if s.Logger != nil {
		s.Logger.LogMint(action, orderID, message)
	}
}

func (s *Service) logError(message string) {
	if s.Logger != nil {
		s.Logger.Error("MINT", message)
	}
}
