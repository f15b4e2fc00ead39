package settlement

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"ms-tokenomy/internal/models"
)

// Gateway abstracts the payment provider's checkout surface so the service
// can be exercised without Stripe credentials.
type Gateway interface {
	CreateCheckout(ctx context.Context, order *models.Order) (redirectURL string, err error)
}

// CreateCheckout opens a new pending order and a provider checkout session
// for it. The order stays pending until the confirmed-payment webhook lands.
func (s *Service) CreateCheckout(ctx context.Context, userID string, req models.OrderRequest) (*models.CheckoutResponse, error) {
	if userID == "" || req.ProductID == "" {
		return nil, fmt.Errorf("%w: user and product are required", models.ErrValidation)
	}
	if !req.PriceEUR.IsPositive() || !req.TokenAmount.IsPositive() {
		return nil, fmt.Errorf("%w: price and token amount must be positive", models.ErrValidation)
	}

	order := &models.Order{
		ID:          uuid.NewString(),
		UserID:      userID,
		ProductID:   req.ProductID,
		PriceEUR:    req.PriceEUR,
		TokenAmount: req.TokenAmount,
		Status:      models.OrderPending,
	}

	if err := s.DB.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	s.logInfo("CHECKOUT", order.ID, fmt.Sprintf("order created for user %s, %s tokens at %s EUR", userID, req.TokenAmount, req.PriceEUR))

	redirectURL, err := s.Gateway.CreateCheckout(ctx, order)
	if err != nil {
		return nil, &models.ExternalServiceError{Service: "payment gateway", Err: err}
	}

	if err := s.DB.SetCheckoutRef(ctx, order.ID, redirectURL); err != nil {
		// The session exists either way; losing the ref only hurts support
		// tooling, so log and keep going.
		s.logError(fmt.Sprintf("failed to store checkout ref for order %s: %v", order.ID, err))
	}

	return &models.CheckoutResponse{OrderID: order.ID, RedirectURL: redirectURL}, nil
}
