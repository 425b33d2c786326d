package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type cartItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required,min=1"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

type cartQuantityRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

func GetCart(c *gin.Context) {
	defer record(c, "cart_list")
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	lines, err := carts.ListCart(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lines)
}

func AddToCart(c *gin.Context) {
	defer record(c, "cart_add")
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var body cartItemRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	line, err := carts.AddToCart(c.Request.Context(), userID, body.ProductID, body.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, line)
}

func UpdateCartItem(c *gin.Context) {
	defer record(c, "cart_update")
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	lineID, ok := pathID(c, "cart item")
	if !ok {
		return
	}

	var body cartQuantityRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := carts.UpdateCartLine(c.Request.Context(), userID, lineID, body.Quantity); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cart item updated"})
}

func RemoveCartItem(c *gin.Context) {
	defer record(c, "cart_remove")
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	lineID, ok := pathID(c, "cart item")
	if !ok {
		return
	}

	if err := carts.RemoveCartLine(c.Request.Context(), userID, lineID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cart item removed"})
}
