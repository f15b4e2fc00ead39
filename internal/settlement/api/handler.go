package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"ms-tokenomy/internal/auth"
	"ms-tokenomy/internal/logger"
	"ms-tokenomy/internal/models"
	"ms-tokenomy/internal/settlement"
	"ms-tokenomy/internal/utils"
)

type Handler struct {
	Service *settlement.Service
	Gateway *settlement.StripeGateway
	Logger  *logger.Logger
}

func NewHandler(service *settlement.Service, gateway *settlement.StripeGateway, log *logger.Logger) *Handler {
	return &Handler{
		Service: service,
		Gateway: gateway,
		Logger:  log,
	}
}

// CreateCheckout opens a pending order and returns the provider redirect URL.
func (h *Handler) CreateCheckout(c *gin.Context) {
	userID, wallet, err := h.authenticatedUser(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", err.Error()))
		return
	}

	// The mint pipeline resolves recipients from the user store, so capture
	// the wallet claim while we have it.
	if wallet != "" {
		if werr := h.Service.DB.SetUserWallet(c.Request.Context(), userID, wallet); werr != nil && h.Logger != nil {
			h.Logger.Warn("API", fmt.Sprintf("failed to record wallet for user %s: %v", userID, werr))
		}
	}

	var req models.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	resp, err := h.Service.CreateCheckout(c.Request.Context(), userID, req)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
			return
		}
		var extErr *models.ExternalServiceError
		if errors.As(err, &extErr) {
			c.JSON(http.StatusBadGateway, utils.ErrorResponse("Payment provider unavailable", extErr.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, utils.ErrorResponse("Checkout failed", err.Error()))
		return
	}

	c.JSON(http.StatusCreated, utils.SuccessResponse("Checkout created", resp))
}

// Webhook receives provider payment notifications. Anything other than a
// storage failure acks with 200 so the provider stops retrying; redelivery
// of a settled payment is answered from the ledger.
func (h *Handler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<16))
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Unreadable payload", err.Error()))
		return
	}

	event, relevant, err := h.Gateway.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		var webhookErr *settlement.WebhookError
		if errors.As(err, &webhookErr) {
			h.Logger.Error("SETTLEMENT", fmt.Sprintf("Webhook rejected: %s", webhookErr.InternalError))
			c.JSON(webhookErr.StatusCode, utils.ErrorResponse("Webhook rejected", webhookErr.PublicError))
			return
		}
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Webhook rejected", err.Error()))
		return
	}
	if !relevant {
		c.JSON(http.StatusOK, utils.SuccessResponse("Event ignored", nil))
		return
	}

	result, err := h.Service.Settle(c.Request.Context(), event)
	if err != nil {
		if errors.Is(err, models.ErrInvalidState) || errors.Is(err, models.ErrNotFound) {
			// Payment for an order we cannot settle. Log it and ack so the
			// provider does not redeliver forever.
			h.Logger.Error("SETTLEMENT", fmt.Sprintf("Discarded payment %s: %s", event.ProviderRef, err.Error()))
			c.JSON(http.StatusOK, utils.SuccessResponse("Event discarded", nil))
			return
		}
		c.JSON(http.StatusInternalServerError, utils.ErrorResponse("Settlement failed", err.Error()))
		return
	}

	if result.AlreadySettled {
		c.JSON(http.StatusOK, utils.SuccessResponse("Payment already settled", result))
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Payment settled", result))
}

// GetOrder returns a single order owned by the caller.
func (h *Handler) GetOrder(c *gin.Context) {
	userID, _, err := h.authenticatedUser(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", err.Error()))
		return
	}

	order, err := h.Service.DB.GetOrderByID(c.Request.Context(), c.Param("orderID"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, utils.ErrorResponse("Order not found", err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, utils.ErrorResponse("Lookup failed", err.Error()))
		return
	}
	if order.UserID != userID {
		c.JSON(http.StatusNotFound, utils.ErrorResponse("Order not found", "no such order for this user"))
		return
	}

	c.JSON(http.StatusOK, utils.SuccessResponse("Order retrieved", order))
}

// ListMyOrders returns the caller's orders, newest first.
func (h *Handler) ListMyOrders(c *gin.Context) {
	userID, _, err := h.authenticatedUser(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", err.Error()))
		return
	}

	orders, err := h.Service.DB.GetOrdersByUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.ErrorResponse("Lookup failed", err.Error()))
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}

	c.JSON(http.StatusOK, utils.SuccessResponse("Orders retrieved", orders))
}

func (h *Handler) authenticatedUser(c *gin.Context) (string, string, error) {
	token, err := auth.ExtractTokenFromRequest(c.Request)
	if err != nil {
		return "", "", err
	}
	userID, err := auth.ExtractUserIDFromJWT(token)
	if err != nil {
		return "", "", err
	}
	wallet, _ := auth.ExtractWalletFromJWT(token)
	return userID, wallet, nil
}
