package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"ms-tokenomy/internal/logger"
	"ms-tokenomy/internal/models"
)

var ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")

// StripeGateway implements Gateway on Stripe Checkout. The client is
// constructed once at process start and passed in; nothing touches the
// package-level stripe.Key.
type StripeGateway struct {
	client        *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
	log           *logger.Logger
}

func NewStripeGateway(secretKey, webhookSecret, successURL, cancelURL string, log *logger.Logger) (*StripeGateway, error) {
	if secretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY not configured")
		return nil, ErrStripeClientInitFailed
	}

	sc := client.New(secretKey, nil)
	if sc == nil {
		log.Error("STRIPE", "Failed to initialize Stripe client")
		return nil, ErrStripeClientInitFailed
	}

	log.Info("STRIPE", "Stripe client initialized successfully")
	return &StripeGateway{
		client:        sc,
		webhookSecret: webhookSecret,
		successURL:    successURL,
		cancelURL:     cancelURL,
		log:           log,
	}, nil
}

// CreateCheckout opens a Stripe Checkout Session for the order and returns
// the redirect URL.
func (g *StripeGateway) CreateCheckout(ctx context.Context, order *models.Order) (string, error) {
	g.log.Info("STRIPE", fmt.Sprintf("Creating checkout session for order %s (%s EUR)", order.ID, order.PriceEUR))

	// Stripe wants minor units.
	amountInCents := order.PriceEUR.Mul(decimal.NewFromInt(100)).IntPart()

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(g.successURL),
		CancelURL:  stripe.String(g.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String("eur"),
					UnitAmount: stripe.Int64(amountInCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("%s tokens", order.TokenAmount)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("order_id", order.ID)

	sess, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		g.log.Error("STRIPE", fmt.Sprintf("Failed to create checkout session for order %s: %v", order.ID, err))
		return "", fmt.Errorf("stripe checkout session: %w", err)
	}

	g.log.Info("STRIPE", fmt.Sprintf("Checkout session %s created for order %s", sess.ID, order.ID))
	return sess.URL, nil
}

// WebhookError classifies a webhook processing failure so the handler can
// pick the right HTTP status without leaking internals.
type WebhookError struct {
	Category      string // "configuration", "validation", "processing"
	StatusCode    int
	PublicError   string
	InternalError string
	OriginalErr   error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

// ParseWebhook verifies the Stripe signature and extracts a PaymentEvent from
// a checkout.session.completed event. handled is false for event types this
// pipeline ignores.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (PaymentEvent, bool, error) {
	if g.webhookSecret == "" {
		g.log.Error("WEBHOOK", "Stripe webhook secret is not configured")
		return PaymentEvent{}, false, &WebhookError{
			Category:      "configuration",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Webhook processing error",
			InternalError: "Stripe webhook secret is not configured",
		}
	}

	// Allow API version mismatches between our SDK pin and the dashboard.
	opts := webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, opts)
	if err != nil {
		g.log.Error("WEBHOOK", fmt.Sprintf("Invalid webhook signature: %v", err))
		return PaymentEvent{}, false, &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook signature",
			InternalError: fmt.Sprintf("Invalid webhook signature: %v", err),
			OriginalErr:   err,
		}
	}

	if event.Type != "checkout.session.completed" {
		g.log.Info("WEBHOOK", fmt.Sprintf("Ignoring event type: %s", event.Type))
		return PaymentEvent{}, false, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		g.log.Error("WEBHOOK", fmt.Sprintf("Failed to unmarshal checkout session: %v", err))
		return PaymentEvent{}, false, &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid event data",
			InternalError: fmt.Sprintf("Failed to unmarshal checkout session: %v", err),
			OriginalErr:   err,
		}
	}

	orderID, exists := session.Metadata["order_id"]
	if !exists {
		g.log.Error("WEBHOOK", "Checkout session has no order_id in metadata")
		return PaymentEvent{}, false, &WebhookError{
			Category:      "processing",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid checkout session data",
			InternalError: "Checkout session has no order_id in metadata",
		}
	}

	return PaymentEvent{
		OrderID:     orderID,
		AmountPaid:  decimal.New(session.AmountTotal, -2),
		Currency:    strings.ToUpper(string(session.Currency)),
		ProviderRef: session.ID,
	}, true, nil
}
