package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"storefront-service/middlewares"
	"storefront-service/models"
	"storefront-service/services"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	maxIdempotencyKeyLen = 128
)

type createOrderRequest struct {
	ShippingAddress string `json:"shipping_address" binding:"required"`
	BillingAddress  string `json:"billing_address" binding:"required"`
}

// CreateOrder places an order from the caller's cart.
func CreateOrder(c *gin.Context) {
	defer record(c, "create")
	start := time.Now()

	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var body createOrderRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		middlewares.RecordPlacement("invalid", time.Since(start))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	if len(key) > maxIdempotencyKeyLen {
		middlewares.RecordPlacement("invalid", time.Since(start))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Idempotency-Key is too long"})
		return
	}

	order, err := placement.PlaceOrder(c.Request.Context(), services.PlaceOrderRequest{
		UserID:          userID,
		ShippingAddress: body.ShippingAddress,
		BillingAddress:  body.BillingAddress,
		IdempotencyKey:  key,
	})
	middlewares.RecordPlacement(placementOutcome(err), time.Since(start))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

func placementOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, services.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, services.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, services.ErrInvalidAddress):
		return "invalid"
	case errors.Is(err, services.ErrDuplicateRequest):
		return "duplicate"
	case errors.Is(err, services.ErrPersistence):
		return "persistence"
	default:
		return "error"
	}
}

func GetUserOrders(c *gin.Context) {
	defer record(c, "list")
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	list, err := orders.ListForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func GetOrderDetails(c *gin.Context) {
	defer record(c, "details")
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	orderID, ok := pathID(c, "order")
	if !ok {
		return
	}

	order, err := orders.Get(c.Request.Context(), orderID, userID, c.GetBool(middlewares.ContextIsAdmin))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// ListAllOrders is the admin view over every user's orders.
func ListAllOrders(c *gin.Context) {
	defer record(c, "admin_list")

	list, err := orders.ListAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func UpdateOrderStatus(c *gin.Context) {
	defer record(c, "update_status")
	orderID, ok := pathID(c, "order")
	if !ok {
		return
	}

	var request struct {
		Status models.OrderStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := orders.UpdateStatus(c.Request.Context(), orderID, request.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order status updated", "order": order})
}
