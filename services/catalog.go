package services

import (
	"context"
	"errors"

	"storefront-service/models"
	"storefront-service/store"
)

type CatalogService struct {
	store CatalogStore
}

func NewCatalogService(s CatalogStore) *CatalogService {
	return &CatalogService{store: s}
}

func (s *CatalogService) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	p, err := s.store.GetProduct(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, persistence("get product", err)
	}
	return p, nil
}

func (s *CatalogService) ListProducts(ctx context.Context, page store.Page, filters ...store.ProductFilter) ([]models.Product, error) {
	if page.Limit < 0 || page.Offset < 0 {
		return nil, ErrInvalidPage
	}
	products, err := s.store.ListProducts(ctx, page, filters...)
	if err != nil {
		return nil, persistence("list products", err)
	}
	return products, nil
}

// SetStock overwrites the product's available quantity.
func (s *CatalogService) SetStock(ctx context.Context, productID int64, quantity int) error {
	if quantity < 0 {
		return ErrInvalidQuantity
	}
	if err := s.store.SetStock(ctx, productID, quantity); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrProductNotFound
		}
		return persistence("set stock", err)
	}
	return nil
}
