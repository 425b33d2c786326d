package controllers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"storefront-service/store"
)

func ListProducts(c *gin.Context) {
	defer record(c, "product_list")

	filters, err := productFilters(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page, err := productPage(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	products, err := catalog.ListProducts(c.Request.Context(), page, filters...)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

// productFilters maps the query string of GET /api/products to filters.
func productFilters(c *gin.Context) ([]store.ProductFilter, error) {
	var filters []store.ProductFilter

	if v := c.Query("category_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid category_id %q", v)
		}
		filters = append(filters, store.CategoryFilter{CategoryID: id})
	}
	if v := strings.TrimSpace(c.Query("brand")); v != "" {
		filters = append(filters, store.BrandFilter{Brand: v})
	}

	var price store.PriceRangeFilter
	for _, bound := range []struct {
		name string
		dst  *decimal.NullDecimal
	}{{"min_price", &price.Min}, {"max_price", &price.Max}} {
		v := c.Query(bound.name)
		if v == "" {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil || d.IsNegative() {
			return nil, fmt.Errorf("invalid %s %q", bound.name, v)
		}
		*bound.dst = decimal.NewNullDecimal(d)
	}
	if price.Min.Valid && price.Max.Valid && price.Min.Decimal.GreaterThan(price.Max.Decimal) {
		return nil, fmt.Errorf("min_price is greater than max_price")
	}
	if price.Min.Valid || price.Max.Valid {
		filters = append(filters, price)
	}

	for _, flag := range []struct {
		name   string
		filter store.ProductFilter
	}{{"in_stock", store.InStockFilter{}}, {"featured", store.FeaturedFilter{}}} {
		v := c.Query(flag.name)
		if v == "" {
			continue
		}
		on, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", flag.name, v)
		}
		if on {
			filters = append(filters, flag.filter)
		}
	}

	if v := strings.TrimSpace(c.Query("q")); v != "" {
		filters = append(filters, store.SearchFilter{Term: v})
	}
	return filters, nil
}

// productPage reads limit (positive) and offset (non-negative).
func productPage(c *gin.Context) (store.Page, error) {
	var page store.Page
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return page, fmt.Errorf("invalid limit %q", v)
		}
		page.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return page, fmt.Errorf("invalid offset %q", v)
		}
		page.Offset = n
	}
	return page, nil
}

func GetProduct(c *gin.Context) {
	defer record(c, "product_get")
	productID, ok := pathID(c, "product")
	if !ok {
		return
	}

	product, err := catalog.GetProduct(c.Request.Context(), productID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// UpdateProductStock lets an admin overwrite a product's stock level.
func UpdateProductStock(c *gin.Context) {
	defer record(c, "stock_update")
	productID, ok := pathID(c, "product")
	if !ok {
		return
	}

	var body struct {
		StockQuantity *int `json:"stock_quantity" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := catalog.SetStock(c.Request.Context(), productID, *body.StockQuantity); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Stock updated", "product_id": productID, "stock_quantity": *body.StockQuantity})
}
