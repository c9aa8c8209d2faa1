package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const cacheSize = 1000

// cachedProduct is a cache entry with its fill time, so stale entries
// expire without a background janitor.
type cachedProduct struct {
	product   *Product
	timestamp time.Time
}

// Service fronts a Provider with an LRU cache and image URL resolution.
type Service struct {
	provider    Provider
	resolver    ImageResolver
	cache       *lru.Cache
	cacheExpiry time.Duration
}

func NewService(provider Provider, resolver ImageResolver, cacheExpiry time.Duration) *Service {
	cache, _ := lru.New(cacheSize)
	if cacheExpiry <= 0 {
		cacheExpiry = 5 * time.Minute
	}
	return &Service{
		provider:    provider,
		resolver:    resolver,
		cache:       cache,
		cacheExpiry: cacheExpiry,
	}
}

func (s *Service) GetProduct(ctx context.Context, productID string) (*Product, error) {
	if entry, ok := s.cache.Get(productID); ok {
		cached := entry.(cachedProduct)
		if time.Since(cached.timestamp) < s.cacheExpiry {
			return cached.product, nil
		}
		s.cache.Remove(productID)
	}

	product, err := s.provider.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to get product %s: %w", productID, err)
	}

	if s.resolver != nil && product.ImageURL == "" && product.ImageKey != "" {
		product.ImageURL = s.resolver.ResolveURL(product.ImageKey)
	}

	s.cache.Add(productID, cachedProduct{product: product, timestamp: time.Now()})
	return product, nil
}

// TryGetProduct is the enrichment path: a catalog failure degrades to a
// nil product instead of failing the auction response.
func (s *Service) TryGetProduct(ctx context.Context, productID string) *Product {
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		slog.Warn("Product enrichment failed",
			slog.String("product_id", productID),
			slog.String("error", err.Error()))
		return nil
	}
	return product
}

// DeleteProductImage removes the stored image behind a product and drops
// the cached entry so the next read reflects the deletion. Fails with
// ErrImageUnavailable when the resolver cannot delete or the product
// carries no image key.
func (s *Service) DeleteProductImage(ctx context.Context, productID string) error {
	product, err := s.provider.GetProduct(ctx, productID)
	if err != nil {
		return fmt.Errorf("failed to get product %s: %w", productID, err)
	}

	deleter, ok := s.resolver.(ImageDeleter)
	if !ok || product.ImageKey == "" {
		return ErrImageUnavailable
	}
	if err := deleter.DeleteImage(ctx, product.ImageKey); err != nil {
		return fmt.Errorf("failed to delete image for product %s: %w", productID, err)
	}

	s.cache.Remove(productID)
	return nil
}

func (s *Service) ListProducts(ctx context.Context) ([]*Product, error) {
	products, err := s.provider.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	if s.resolver != nil {
		for _, p := range products {
			if p.ImageURL == "" && p.ImageKey != "" {
				p.ImageURL = s.resolver.ResolveURL(p.ImageKey)
			}
		}
	}
	return products, nil
}
