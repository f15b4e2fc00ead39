package perks

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"ms-tokenomy/internal/ledger"
	"ms-tokenomy/internal/logger"
	"ms-tokenomy/internal/models"
	"ms-tokenomy/internal/perks/qr"
	settlementdb "ms-tokenomy/internal/settlement/db"
)

// BalanceReader answers "can this wallet afford the perk" at claim time.
// The authoritative debit happens at redeem time through the ledger.
type BalanceReader interface {
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
	Invalidate(ctx context.Context, address string)
}

type Service struct {
	DB       *DB
	Users    *settlementdb.DB
	Ledger   *ledger.Store
	Balances BalanceReader
	QRGen    *qr.QRGenerator
	Logger   *logger.Logger
}

func NewService(database *DB, users *settlementdb.DB, ledgerStore *ledger.Store, balances BalanceReader, qrGen *qr.QRGenerator, log *logger.Logger) *Service {
	return &Service{
		DB:       database,
		Users:    users,
		Ledger:   ledgerStore,
		Balances: balances,
		QRGen:    qrGen,
		Logger:   log,
	}
}

func (s *Service) CreatePerk(ctx context.Context, name, description string, tokenCost decimal.Decimal) (*models.Perk, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: perk name is required", models.ErrValidation)
	}
	if !tokenCost.IsPositive() {
		return nil, fmt.Errorf("%w: token cost must be positive", models.ErrValidation)
	}

	perk := &models.Perk{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		TokenCost:   tokenCost,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.DB.CreatePerk(ctx, perk); err != nil {
		return nil, err
	}

	s.logPerk("CREATE", perk.ID, fmt.Sprintf("%s at %s TOKEN", perk.Name, perk.TokenCost))
	return perk, nil
}

func (s *Service) ListPerks(ctx context.Context, activeOnly bool) ([]models.Perk, error) {
	return s.DB.ListPerks(ctx, activeOnly)
}

func (s *Service) GetPerk(ctx context.Context, perkID string) (*models.Perk, error) {
	return s.DB.GetPerkByID(ctx, perkID)
}

// SetActive toggles whether a perk accepts new claims. Existing claims stay
// redeemable either way.
func (s *Service) SetActive(ctx context.Context, perkID string, active bool) (*models.Perk, error) {
	perk, err := s.DB.GetPerkByID(ctx, perkID)
	if err != nil {
		return nil, err
	}
	perk.Active = active
	if err := s.DB.UpdatePerk(ctx, perk); err != nil {
		return nil, err
	}
	s.logPerk("ACTIVE", perkID, fmt.Sprintf("active=%t", active))
	return perk, nil
}

// RemovePerk deletes a perk from the catalog. Perks with claims on record
// cannot be removed; deactivate them instead.
func (s *Service) RemovePerk(ctx context.Context, perkID string) error {
	count, err := s.DB.CountClaims(ctx, perkID)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: perk %s has %d claims, deactivate it instead", models.ErrInvalidState, perkID, count)
	}
	return s.DB.DeletePerk(ctx, perkID)
}

// ClaimPerk reserves a perk for the user and issues the redemption QR code.
// The user's tokens are not moved here; the debit lands when staff redeem
// the claim.
func (s *Service) ClaimPerk(ctx context.Context, userID, perkID string) (*models.PerkClaim, error) {
	if userID == "" || perkID == "" {
		return nil, fmt.Errorf("%w: user id and perk id are required", models.ErrValidation)
	}

	perk, err := s.DB.GetPerkByID(ctx, perkID)
	if err != nil {
		return nil, err
	}
	if !perk.Active {
		return nil, fmt.Errorf("%w: perk %s", models.ErrPerkInactive, perkID)
	}

	user, err := s.Users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.WalletAddress == "" {
		return nil, fmt.Errorf("%w: user %s", models.ErrMissingWallet, userID)
	}

	balance, err := s.Balances.Balance(ctx, user.WalletAddress)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(perk.TokenCost) {
		return nil, fmt.Errorf("%w: perk costs %s TOKEN, wallet holds %s",
			models.ErrInsufficientBalance, perk.TokenCost, balance)
	}

	claimID := uuid.New().String()
	code, png, err := s.QRGen.GenerateClaimCode(qr.ClaimPayload{
		ClaimID: claimID,
		PerkID:  perkID,
		UserID:  userID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate claim QR: %w", err)
	}

	claim := &models.PerkClaim{
		ID:        claimID,
		PerkID:    perkID,
		UserID:    userID,
		TokenCost: perk.TokenCost,
		QRCode:    code,
		QRPNG:     png,
		ClaimedAt: time.Now().UTC(),
	}
	if err := s.DB.CreateClaim(ctx, claim); err != nil {
		return nil, err
	}

	s.logPerk("CLAIM", claimID, fmt.Sprintf("User %s claimed perk %s", userID, perkID))
	return claim, nil
}

// RedeemResult is what staff see after scanning a claim.
type RedeemResult struct {
	ClaimID         string `json:"claim_id"`
	PerkID          string `json:"perk_id"`
	UserID          string `json:"user_id"`
	EntryID         string `json:"entry_id,omitempty"`
	AlreadyRedeemed bool   `json:"already_redeemed"`
}

// RedeemCode decodes a scanned QR code and redeems the claim it names. The
// code must both decode under our secret and match the stored claim record.
func (s *Service) RedeemCode(ctx context.Context, code, staffID string) (*RedeemResult, error) {
	payload, err := s.QRGen.DecodeClaimCode(code)
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable claim code", models.ErrValidation)
	}
	claim, err := s.DB.GetClaimByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if claim.ID != payload.ClaimID {
		return nil, fmt.Errorf("%w: claim code does not match its record", models.ErrValidation)
	}
	return s.Redeem(ctx, claim.ID, staffID)
}

// Redeem marks the claim redeemed and debits the perk's token cost from the
// user's ledger in one transaction. Redeeming the same claim twice returns
// ErrAlreadyRedeemed; the first redemption is untouched.
func (s *Service) Redeem(ctx context.Context, claimID, staffID string) (*RedeemResult, error) {
	if claimID == "" || staffID == "" {
		return nil, fmt.Errorf("%w: claim id and staff id are required", models.ErrValidation)
	}

	claim, err := s.DB.GetClaimByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.Redeemed() {
		return nil, fmt.Errorf("%w: claim %s", models.ErrAlreadyRedeemed, claimID)
	}

	result := &RedeemResult{
		ClaimID: claim.ID,
		PerkID:  claim.PerkID,
		UserID:  claim.UserID,
	}
	now := time.Now().UTC()

	err = s.DB.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		redeemed, err := s.DB.MarkRedeemed(ctx, tx, claim.ID, staffID, now)
		if err != nil {
			return err
		}
		if !redeemed {
			return fmt.Errorf("%w: claim %s", models.ErrAlreadyRedeemed, claimID)
		}

		// Debit the cost captured at claim time; later catalog price
		// changes do not reprice an outstanding claim.
		entryID, err := s.Ledger.AppendIn(ctx, tx, &models.LedgerEntry{
			Kind:        models.KindPerkRedeem,
			ReferenceID: claim.ID,
			Direction:   models.DirectionOut,
			Amount:      claim.TokenCost,
			Currency:    models.CurrencyTOKEN,
			Metadata:    fmt.Sprintf(`{"perk_id":"%s","user_id":"%s","redeemed_by":"%s"}`, claim.PerkID, claim.UserID, staffID),
		})
		if err != nil {
			return err
		}
		result.EntryID = entryID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if user, uerr := s.Users.GetUserByID(ctx, claim.UserID); uerr == nil && user.WalletAddress != "" {
		s.Balances.Invalidate(ctx, user.WalletAddress)
	}

	s.logPerk("REDEEM", claim.ID, fmt.Sprintf("Redeemed by %s (entry %s)", staffID, result.EntryID))
	return result, nil
}

func (s *Service) GetUserClaims(ctx context.Context, userID string) ([]models.PerkClaim, error) {
	return s.DB.GetClaimsByUser(ctx, userID)
}

func (s *Service) logPerk(action, id, msg string) {
	if s.Logger != nil {
		s.Logger.LogPerk(action, id, msg)
	}
}
