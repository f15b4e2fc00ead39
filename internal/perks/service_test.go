package perks_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"ms-tokenomy/internal/ledger"
	"ms-tokenomy/internal/models"
	"ms-tokenomy/internal/perks"
	"ms-tokenomy/internal/perks/qr"
	settlementdb "ms-tokenomy/internal/settlement/db"
)

type MockBalanceReader struct {
	mock.Mock
}

func (m *MockBalanceReader) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockBalanceReader) Invalidate(ctx context.Context, address string) {
	m.Called(ctx, address)
}

func setupPerkService(t *testing.T) (*perks.Service, *MockBalanceReader, *bun.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	for _, model := range []interface{}{
		(*models.Perk)(nil),
		(*models.PerkClaim)(nil),
		(*models.User)(nil),
		(*models.LedgerEntry)(nil),
	} {
		if _, err := bunDB.NewCreateTable().Model(model).Exec(context.Background()); err != nil {
			t.Fatalf("Failed to create table for %T: %v", model, err)
		}
	}

	balances := new(MockBalanceReader)
	svc := perks.NewService(
		perks.NewDB(bunDB),
		&settlementdb.DB{Bun: bunDB},
		ledger.NewStore(bunDB),
		balances,
		qr.NewQRGenerator("test-secret-key"),
		nil,
	)
	return svc, balances, bunDB
}

func seedUser(t *testing.T, bunDB *bun.DB, userID, wallet string) {
	user := &models.User{
		ID:            userID,
		Email:         userID + "@example.com",
		WalletAddress: wallet,
		CreatedAt:     time.Now().UTC(),
	}
	if _, err := bunDB.NewInsert().Model(user).Exec(context.Background()); err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
}

func TestClaimAndRedeem(t *testing.T) {
	svc, balances, bunDB := setupPerkService(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, bunDB, "user-1", "0xwallet1")
	balances.On("Balance", mock.Anything, "0xwallet1").Return(decimal.RequireFromString("100"), nil).Once()
	balances.On("Invalidate", mock.Anything, "0xwallet1").Return().Once()

	perk, err := svc.CreatePerk(ctx, "Free Coffee", "One espresso on us", decimal.RequireFromString("25"))
	assert.NoError(t, err)

	claim, err := svc.ClaimPerk(ctx, "user-1", perk.ID)
	assert.NoError(t, err)
	assert.NotEmpty(t, claim.QRCode)
	assert.NotEmpty(t, claim.QRPNG)
	assert.False(t, claim.Redeemed())

	// Claiming moves no tokens.
	entries, err := svc.Ledger.ByReference(ctx, claim.ID)
	assert.NoError(t, err)
	assert.Empty(t, entries)

	result, err := svc.Redeem(ctx, claim.ID, "staff-1")
	assert.NoError(t, err)
	assert.Equal(t, claim.ID, result.ClaimID)
	assert.NotEmpty(t, result.EntryID)

	// The redeem wrote exactly one TOKEN debit referencing the claim.
	entries, err = svc.Ledger.ByReference(ctx, claim.ID)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, models.KindPerkRedeem, entries[0].Kind)
	assert.Equal(t, models.DirectionOut, entries[0].Direction)
	assert.Equal(t, models.CurrencyTOKEN, entries[0].Currency)
	assert.True(t, entries[0].Amount.Equal(decimal.RequireFromString("25")))

	stored, err := svc.DB.GetClaimByID(ctx, claim.ID)
	assert.NoError(t, err)
	assert.True(t, stored.Redeemed())
	assert.Equal(t, "staff-1", stored.RedeemedBy)

	balances.AssertExpectations(t)
}

func TestRedeemTwiceFails(t *testing.T) {
	svc, balances, bunDB := setupPerkService(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, bunDB, "user-2", "0xwallet2")
	balances.On("Balance", mock.Anything, "0xwallet2").Return(decimal.RequireFromString("100"), nil).Once()
	balances.On("Invalidate", mock.Anything, "0xwallet2").Return().Once()

	perk, err := svc.CreatePerk(ctx, "Sticker Pack", "", decimal.RequireFromString("10"))
	assert.NoError(t, err)
	claim, err := svc.ClaimPerk(ctx, "user-2", perk.ID)
	assert.NoError(t, err)

	_, err = svc.Redeem(ctx, claim.ID, "staff-1")
	assert.NoError(t, err)

	_, err = svc.Redeem(ctx, claim.ID, "staff-2")
	assert.ErrorIs(t, err, models.ErrAlreadyRedeemed)

	// First redemption stands: one ledger entry, original staff ID.
	entries, err := svc.Ledger.ByReference(ctx, claim.ID)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)

	stored, err := svc.DB.GetClaimByID(ctx, claim.ID)
	assert.NoError(t, err)
	assert.Equal(t, "staff-1", stored.RedeemedBy)
}

func TestRedeemByScannedCode(t *testing.T) {
	svc, balances, bunDB := setupPerkService(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, bunDB, "user-3", "0xwallet3")
	balances.On("Balance", mock.Anything, "0xwallet3").Return(decimal.RequireFromString("100"), nil).Once()
	balances.On("Invalidate", mock.Anything, "0xwallet3").Return().Once()

	perk, err := svc.CreatePerk(ctx, "Hoodie", "", decimal.RequireFromString("75"))
	assert.NoError(t, err)
	claim, err := svc.ClaimPerk(ctx, "user-3", perk.ID)
	assert.NoError(t, err)

	result, err := svc.RedeemCode(ctx, claim.QRCode, "staff-1")
	assert.NoError(t, err)
	assert.Equal(t, claim.ID, result.ClaimID)
}

func TestClaimInactivePerk(t *testing.T) {
	svc, _, bunDB := setupPerkService(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, bunDB, "user-4", "0xwallet4")

	perk, err := svc.CreatePerk(ctx, "Retired Perk", "", decimal.RequireFromString("10"))
	assert.NoError(t, err)
	_, err = svc.SetActive(ctx, perk.ID, false)
	assert.NoError(t, err)

	_, err = svc.ClaimPerk(ctx, "user-4", perk.ID)
	assert.ErrorIs(t, err, models.ErrPerkInactive)
}

func TestClaimInsufficientBalance(t *testing.T) {
	svc, balances, bunDB := setupPerkService(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, bunDB, "user-5", "0xwallet5")
	balances.On("Balance", mock.Anything, "0xwallet5").Return(decimal.RequireFromString("5"), nil).Once()

	perk, err := svc.CreatePerk(ctx, "Big Ticket", "", decimal.RequireFromString("500"))
	assert.NoError(t, err)

	_, err = svc.ClaimPerk(ctx, "user-5", perk.ID)
	assert.ErrorIs(t, err, models.ErrInsufficientBalance)
}

func TestClaimWithoutWallet(t *testing.T) {
	svc, _, bunDB := setupPerkService(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, bunDB, "user-6", "")

	perk, err := svc.CreatePerk(ctx, "Keychain", "", decimal.RequireFromString("5"))
	assert.NoError(t, err)

	_, err = svc.ClaimPerk(ctx, "user-6", perk.ID)
	assert.ErrorIs(t, err, models.ErrMissingWallet)
}

func TestRemovePerkWithClaims(t *testing.T) {
	svc, balances, bunDB := setupPerkService(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, bunDB, "user-7", "0xwallet7")
	balances.On("Balance", mock.Anything, "0xwallet7").Return(decimal.RequireFromString("100"), nil).Once()

	perk, err := svc.CreatePerk(ctx, "Popular Perk", "", decimal.RequireFromString("10"))
	assert.NoError(t, err)
	_, err = svc.ClaimPerk(ctx, "user-7", perk.ID)
	assert.NoError(t, err)

	err = svc.RemovePerk(ctx, perk.ID)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	// Unclaimed perks can still be removed.
	fresh, err := svc.CreatePerk(ctx, "Unclaimed Perk", "", decimal.RequireFromString("10"))
	assert.NoError(t, err)
	assert.NoError(t, svc.RemovePerk(ctx, fresh.ID))
}

func TestRedeemPriceFixedAtClaimTime(t *testing.T) {
	svc, balances, bunDB := setupPerkService(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, bunDB, "user-8", "0xwallet8")
	balances.On("Balance", mock.Anything, "0xwallet8").Return(decimal.RequireFromString("100"), nil).Once()
	balances.On("Invalidate", mock.Anything, "0xwallet8").Return().Once()

	perk, err := svc.CreatePerk(ctx, "Dynamic Perk", "", decimal.RequireFromString("20"))
	assert.NoError(t, err)
	claim, err := svc.ClaimPerk(ctx, "user-8", perk.ID)
	assert.NoError(t, err)

	// Reprice the perk after the claim.
	perk.TokenCost = decimal.RequireFromString("40")
	assert.NoError(t, svc.DB.UpdatePerk(ctx, perk))

	_, err = svc.Redeem(ctx, claim.ID, "staff-1")
	assert.NoError(t, err)

	entries, err := svc.Ledger.ByReference(ctx, claim.ID)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.True(t, entries[0].Amount.Equal(decimal.RequireFromString("20")), "debit uses the price at claim time")
}

func TestConcurrentRedeemSingleWinner(t *testing.T) {
	svc, balances, bunDB := setupPerkService(t)
	defer bunDB.Close()
	bunDB.SetMaxOpenConns(1)
	ctx := context.Background()

	seedUser(t, bunDB, "user-9", "0xwallet9")
	balances.On("Balance", mock.Anything, "0xwallet9").Return(decimal.RequireFromString("100"), nil).Once()
	balances.On("Invalidate", mock.Anything, "0xwallet9").Return().Once()

	perk, err := svc.CreatePerk(ctx, "Hoodie", "Limited run", decimal.RequireFromString("40"))
	assert.NoError(t, err)
	claim, err := svc.ClaimPerk(ctx, "user-9", perk.ID)
	assert.NoError(t, err)

	results := make(chan error, 2)
	for _, staffID := range []string{"staff-1", "staff-2"} {
		go func(id string) {
			_, err := svc.Redeem(ctx, claim.ID, id)
			results <- err
		}(staffID)
	}

	var wins, losses int
	for i := 0; i < 2; i++ {
		switch err := <-results; {
		case err == nil:
			wins++
		case errors.Is(err, models.ErrAlreadyRedeemed):
			losses++
		default:
			t.Fatalf("Unexpected redeem error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)

	// Exactly one debit, from the winning redeem.
	entries, err := svc.Ledger.ByReference(ctx, claim.ID)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)

	stored, err := svc.DB.GetClaimByID(ctx, claim.ID)
	assert.NoError(t, err)
	assert.True(t, stored.Redeemed())
}

func TestRedeemCodeWithoutRecord(t *testing.T) {
	svc, _, bunDB := setupPerkService(t)
	defer bunDB.Close()

	// Decodes under our secret, but no claim was ever stored for it.
	gen := qr.NewQRGenerator("test-secret-key")
	code, _, err := gen.GenerateClaimCode(qr.ClaimPayload{ClaimID: "ghost", PerkID: "p-1", UserID: "u-1"})
	assert.NoError(t, err)

	_, err = svc.RedeemCode(context.Background(), code, "staff-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
