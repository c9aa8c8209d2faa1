// Package catalog enriches auction responses with product data. The
// catalog itself lives in a separate service; this package only reads
// from it and caches what it reads.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrImageUnavailable = errors.New("product has no deletable image")
)

type Product struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Condition   string `json:"condition"`
	ImageKey    string `json:"image_key"`
	ImageURL    string `json:"image_url,omitempty"`
}

type Provider interface {
	GetProduct(ctx context.Context, productID string) (*Product, error)
	ListProducts(ctx context.Context) ([]*Product, error)
}

// HTTPProvider reads products from the catalog service's JSON API.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) GetProduct(ctx context.Context, productID string) (*Product, error) {
	var product Product
	if err := p.getJSON(ctx, fmt.Sprintf("%s/products/%s", p.baseURL, productID), &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (p *HTTPProvider) ListProducts(ctx context.Context) ([]*Product, error) {
	var products []*Product
	if err := p.getJSON(ctx, p.baseURL+"/products", &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (p *HTTPProvider) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ErrProductNotFound
	default:
		return fmt.Errorf("catalog returned status %d for %s", resp.StatusCode, url)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode catalog response: %w", err)
	}
	return nil
}

// StaticProvider serves a fixed product set. Used when running without a
// catalog service and in tests.
type StaticProvider struct {
	products map[string]*Product
}

func NewStaticProvider(products []*Product) *StaticProvider {
	m := make(map[string]*Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return &StaticProvider{products: m}
}

func (p *StaticProvider) GetProduct(_ context.Context, productID string) (*Product, error) {
	product, ok := p.products[productID]
	if !ok {
		return nil, ErrProductNotFound
	}
	copied := *product
	return &copied, nil
}

func (p *StaticProvider) ListProducts(_ context.Context) ([]*Product, error) {
	out := make([]*Product, 0, len(p.products))
	for _, product := range p.products {
		copied := *product
		out = append(out, &copied)
	}
	return out, nil
}
