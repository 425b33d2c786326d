package controllers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"storefront-service/middlewares"
	"storefront-service/models"
	"storefront-service/services"
	"storefront-service/store"
)

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req services.PlaceOrderRequest) (*models.Order, error)
}

type OrderManager interface {
	ListForUser(ctx context.Context, userID int64) ([]models.Order, error)
	ListAll(ctx context.Context) ([]models.Order, error)
	Get(ctx context.Context, orderID, userID int64, isAdmin bool) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, error)
}

type CartManager interface {
	AddToCart(ctx context.Context, userID, productID int64, quantity int) (*models.CartLine, error)
	UpdateCartLine(ctx context.Context, userID, lineID int64, quantity int) error
	RemoveCartLine(ctx context.Context, userID, lineID int64) error
	ListCart(ctx context.Context, userID int64) ([]models.CartLine, error)
}

type ProductCatalog interface {
	GetProduct(ctx context.Context, productID int64) (*models.Product, error)
	ListProducts(ctx context.Context, page store.Page, filters ...store.ProductFilter) ([]models.Product, error)
	SetStock(ctx context.Context, productID int64, quantity int) error
}

var (
	placement OrderPlacer
	orders    OrderManager
	carts     CartManager
	catalog   ProductCatalog
)

func SetPlacementService(s OrderPlacer) {
	placement = s
}

func SetOrderService(s OrderManager) {
	orders = s
}

func SetCartService(s CartManager) {
	carts = s
}

func SetCatalogService(s ProductCatalog) {
	catalog = s
}

func record(c *gin.Context, operation string) {
	status := c.Writer.Status()
	middlewares.RecordOrderOperation(operation, status >= 200 && status < 300)
}

func currentUser(c *gin.Context) (int64, bool) {
	v, _ := c.Get(middlewares.ContextUserID)
	userID, ok := v.(int64)
	if !ok || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return 0, false
	}
	return userID, true
}

func pathID(c *gin.Context, what string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + what + " ID"})
		return 0, false
	}
	return id, true
}

// respondError writes the HTTP response for a service error.
func respondError(c *gin.Context, err error) {
	var stockErr *services.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":      err.Error(),
			"product_id": stockErr.ProductID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		})
	case errors.Is(err, services.ErrInvalidAddress),
		errors.Is(err, services.ErrInvalidQuantity),
		errors.Is(err, services.ErrInvalidStatus),
		errors.Is(err, services.ErrInvalidPage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrEmptyCart):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrDuplicateRequest),
		errors.Is(err, services.ErrInvalidStatusTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrProductNotFound),
		errors.Is(err, services.ErrCartLineNotFound),
		errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrPersistence):
		log.Printf("Persistence failure on %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable, please retry"})
	default:
		log.Printf("Unexpected error on %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
