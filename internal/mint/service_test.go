package mint_test

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
	"ms-tokenomy/internal/mint"
	mintdb "ms-tokenomy/internal/mint/db"
	"ms-tokenomy/internal/models"
	settlementdb "ms-tokenomy/internal/settlement/db"
)

// Mock implementations

type MockChainClient struct {
	mock.Mock
}

func (m *MockChainClient) SubmitMint(ctx context.Context, recipient string, amount decimal.Decimal) (string, error) {
	args := m.Called(ctx, recipient, amount)
	return args.String(0), args.Error(1)
}

func (m *MockChainClient) SubmitTransfer(ctx context.Context, from, to string, amount decimal.Decimal) (string, error) {
	args := m.Called(ctx, from, to, amount)
	return args.String(0), args.Error(1)
}

func (m *MockChainClient) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type MockReconStore struct {
	mock.Mock
}

func (m *MockReconStore) RecordAmbiguous(ctx context.Context, orderID, userID, recipient string, amount decimal.Decimal, reason string) error {
	args := m.Called(ctx, orderID, userID, recipient, amount, reason)
	return args.Error(0)
}

func (m *MockReconStore) Resolve(ctx context.Context, orderID, resolvedBy string) error {
	args := m.Called(ctx, orderID, resolvedBy)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, key string, value []byte) error {
	args := m.Called(topic, key, value)
	return args.Error(0)
}

func setupMintService(t *testing.T) (*mint.Service, *MockChainClient, *MockReconStore, *MockPublisher, *bun.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	for _, model := range []interface{}{
		(*models.Order)(nil),
		(*models.User)(nil),
		(*models.Mint)(nil),
		(*models.LedgerEntry)(nil),
	} {
		if _, err := bunDB.NewCreateTable().Model(model).Exec(context.Background()); err != nil {
			t.Fatalf("Failed to create table for %T: %v", model, err)
		}
	}

	chain := new(MockChainClient)
	recon := new(MockReconStore)
	producer := new(MockPublisher)

	svc := &mint.Service{
		DB:           &mintdb.DB{Bun: bunDB},
		Orders:       &settlementdb.DB{Bun: bunDB},
		Ledger:       ledger.NewStore(bunDB),
		Chain:        chain,
		Recon:        recon,
		Producer:     producer,
		ChainID:      "testnet-1",
		Timeout:      time.Second,
		SuccessTopic: "mints.succeeded",
		FailureTopic: "mints.failed",
	}
	return svc, chain, recon, producer, bunDB
}

func seedCompletedOrder(t *testing.T, svc *mint.Service, orderID, userID, wallet string) {
	ctx := context.Background()

	user := &models.User{
		ID:            userID,
		Email:         userID + "@example.com",
		WalletAddress: wallet,
		CreatedAt:     time.Now().UTC(),
	}
	if _, err := svc.Orders.Bun.NewInsert().Model(user).Exec(ctx); err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}

	err := svc.Orders.CreateOrder(ctx, &models.Order{
		ID:          orderID,
		UserID:      userID,
		ProductID:   "starter-pack",
		PriceEUR:    decimal.RequireFromString("25.00"),
		TokenAmount: decimal.RequireFromString("250"),
		Status:      models.OrderCompleted,
	})
	if err != nil {
		t.Fatalf("Failed to seed order: %v", err)
	}
}

func TestMintExactlyOnce(t *testing.T) {
	svc, chain, _, producer, bunDB := setupMintService(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedCompletedOrder(t, svc, "order-1", "user-1", "0xwallet1")
	amount := decimal.RequireFromString("250")

	chain.On("SubmitMint", mock.Anything, "0xwallet1", amount).Return("0xtxhash1", nil).Once()
	producer.On("Publish", "mints.succeeded", "order-1", mock.Anything).Return(nil).Once()

	record, err := svc.Mint(ctx, "order-1", "user-1", amount, "")
	assert.NoError(t, err)
	assert.Equal(t, "0xtxhash1", record.TxHash)
	assert.Equal(t, "testnet-1", record.ChainID)

	// Redelivered settlement event: no second chain call.
	again, err := svc.Mint(ctx, "order-1", "user-1", amount, "")
	assert.NoError(t, err)
	assert.Equal(t, record.ID, again.ID)

	entries, err := svc.Ledger.ByReference(ctx, "order-1")
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, models.KindMint, entries[0].Kind)
	assert.Equal(t, models.DirectionOut, entries[0].Direction)
	assert.Equal(t, models.CurrencyTOKEN, entries[0].Currency)

	chain.AssertNumberOfCalls(t, "SubmitMint", 1)
	producer.AssertNumberOfCalls(t, "Publish", 1)
}

func TestMintRejectedByChain(t *testing.T) {
	svc, chain, _, producer, bunDB := setupMintService(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedCompletedOrder(t, svc, "order-2", "user-2", "0xwallet2")
	amount := decimal.RequireFromString("250")

	chain.On("SubmitMint", mock.Anything, "0xwallet2", amount).
		Return("", errors.New("insufficient gas")).Once()
	producer.On("Publish", "mints.failed", "order-2", mock.Anything).Return(nil).Once()

	_, err := svc.Mint(ctx, "order-2", "user-2", amount, "")

	var extErr *models.ExternalServiceError
	assert.ErrorAs(t, err, &extErr)

	order, oerr := svc.Orders.GetOrderByID(ctx, "order-2")
	assert.NoError(t, oerr)
	assert.Equal(t, models.OrderFailed, order.Status)

	// A rejected mint moved no tokens, so the ledger stays empty.
	entries, lerr := svc.Ledger.ByReference(ctx, "order-2")
	assert.NoError(t, lerr)
	assert.Empty(t, entries)

	record, merr := svc.DB.GetMintByOrderID(ctx, "order-2")
	assert.NoError(t, merr)
	assert.Nil(t, record)

	producer.AssertExpectations(t)
}

func TestMintTimeoutIsAmbiguous(t *testing.T) {
	svc, chain, recon, _, bunDB := setupMintService(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedCompletedOrder(t, svc, "order-3", "user-3", "0xwallet3")
	amount := decimal.RequireFromString("250")

	chain.On("SubmitMint", mock.Anything, "0xwallet3", amount).
		Return("", mint.ErrChainTimeout).Once()
	recon.On("RecordAmbiguous", mock.Anything, "order-3", "user-3", "0xwallet3", amount, "chain submit timeout").
		Return(nil).Once()

	_, err := svc.Mint(ctx, "order-3", "user-3", amount, "")
	assert.ErrorIs(t, err, models.ErrAmbiguous)

	// Ambiguous outcomes must not fail the order or write ledger entries;
	// they wait for a human.
	order, oerr := svc.Orders.GetOrderByID(ctx, "order-3")
	assert.NoError(t, oerr)
	assert.Equal(t, models.OrderCompleted, order.Status)

	entries, lerr := svc.Ledger.ByReference(ctx, "order-3")
	assert.NoError(t, lerr)
	assert.Empty(t, entries)

	recon.AssertExpectations(t)
}

func TestMintRequiresCompletedOrder(t *testing.T) {
	svc, _, _, _, bunDB := setupMintService(t)
	defer bunDB.Close()
	ctx := context.Background()

	err := svc.Orders.CreateOrder(ctx, &models.Order{
		ID:          "order-4",
		UserID:      "user-4",
		ProductID:   "starter-pack",
		PriceEUR:    decimal.RequireFromString("25.00"),
		TokenAmount: decimal.RequireFromString("250"),
		Status:      models.OrderPending,
	})
	assert.NoError(t, err)

	_, err = svc.Mint(ctx, "order-4", "user-4", decimal.RequireFromString("250"), "")
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestMintMissingWallet(t *testing.T) {
	svc, _, _, _, bunDB := setupMintService(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedCompletedOrder(t, svc, "order-5", "user-5", "")

	_, err := svc.Mint(ctx, "order-5", "user-5", decimal.RequireFromString("250"), "")
	assert.ErrorIs(t, err, models.ErrMissingWallet)
}

func TestRemintAfterRejection(t *testing.T) {
	svc, chain, recon, producer, bunDB := setupMintService(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedCompletedOrder(t, svc, "order-6", "user-6", "0xwallet6")
	amount := decimal.RequireFromString("250")

	chain.On("SubmitMint", mock.Anything, "0xwallet6", amount).
		Return("", errors.New("node flapping")).Once()
	producer.On("Publish", "mints.failed", "order-6", mock.Anything).Return(nil).Once()

	_, err := svc.Mint(ctx, "order-6", "user-6", amount, "")
	assert.Error(t, err)

	// Admin retries after the node recovers.
	chain.On("SubmitMint", mock.Anything, "0xwallet6", amount).Return("0xtxhash6", nil).Once()
	recon.On("Resolve", mock.Anything, "order-6", "admin-1").Return(nil).Once()
	producer.On("Publish", "mints.succeeded", "order-6", mock.Anything).Return(nil).Once()

	record, err := svc.Remint(ctx, "order-6", "admin-1")
	assert.NoError(t, err)
	assert.Equal(t, "0xtxhash6", record.TxHash)

	order, oerr := svc.Orders.GetOrderByID(ctx, "order-6")
	assert.NoError(t, oerr)
	assert.Equal(t, models.OrderCompleted, order.Status)

	entries, lerr := svc.Ledger.ByReference(ctx, "order-6")
	assert.NoError(t, lerr)
	assert.Len(t, entries, 1)
}

func TestRemintRequiresAdmin(t *testing.T) {
	svc, _, _, _, bunDB := setupMintService(t)
	defer bunDB.Close()

	_, err := svc.Remint(context.Background(), "order-7", "")
	assert.ErrorIs(t, err, models.ErrValidation)
}
