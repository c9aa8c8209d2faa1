package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gavelworks/bidhouse/bidhouse/auction"
	"github.com/gavelworks/bidhouse/bidhouse/catalog"
	"github.com/gavelworks/bidhouse/bidhouse/identity"
)

type testEnv struct {
	server *Server
	store  *auction.MemoryStore
	clock  *manualClock
	images *fakeImageStore
}

// fakeImageStore resolves and deletes image keys without touching a real
// bucket.
type fakeImageStore struct {
	deleted []string
}

func (f *fakeImageStore) ResolveURL(key string) string {
	return "https://cdn.test/" + key
}

func (f *fakeImageStore) DeleteImage(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time {
	return c.now
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := &manualClock{now: time.Now()}
	store := auction.NewMemoryStore(clock)
	engine := auction.NewEngine(store, clock, nil)

	provider := catalog.NewStaticProvider([]*catalog.Product{
		{ID: "prod-1", Title: "Vintage Leica Camera", ImageKey: "prod-1.jpg"},
		{ID: "prod-2", Title: "Film Scanner"},
	})
	images := &fakeImageStore{}
	catalogService := catalog.NewService(provider, images, time.Minute)

	resolver := identity.NewStaticResolver([]identity.TokenEntry{
		{Token: "tok-alice", ID: "alice"},
		{Token: "tok-bob", ID: "bob"},
		{Token: "tok-admin", ID: "ops", Admin: true},
	})

	srv := New(Options{
		Engine:    engine,
		Store:     store,
		Lifecycle: store,
		Catalog:   catalogService,
		Resolver:  resolver,
		Clock:     clock,
		Version:   "test",
	})

	return &testEnv{server: srv, store: store, clock: clock, images: images}
}

func (env *testEnv) createAuction(t *testing.T, productID string) int64 {
	t.Helper()
	created, err := env.store.Create(context.Background(), auction.CreateParams{
		ProductID:     productID,
		StartingPrice: 1000,
		BidIncrement:  100,
		StartTime:     env.clock.Now().Add(-time.Minute),
		EndTime:       env.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	return created.ID
}

func (env *testEnv) request(t *testing.T, method, path, token string, body any) (*http.Response, APIResponse) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := env.server.App().Test(req, -1)
	require.NoError(t, err)

	var envelope APIResponse
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &envelope))
	}
	return resp, envelope
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)
	auctionID := env.createAuction(t, "prod-1")

	resp, envelope := env.request(t, http.MethodGet, fmt.Sprintf("/api/auctions/%d", auctionID), "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", envelope.Error.Code)

	resp, _ = env.request(t, http.MethodGet, fmt.Sprintf("/api/auctions/%d", auctionID), "tok-bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthNeedsNoAuth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := env.server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetAuction(t *testing.T) {
	env := newTestEnv(t)
	auctionID := env.createAuction(t, "prod-1")

	resp, envelope := env.request(t, http.MethodGet, fmt.Sprintf("/api/auctions/%d", auctionID), "tok-alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, envelope.Success)

	data := envelope.Data.(map[string]any)
	assert.Equal(t, "active", data["status"])
	assert.Equal(t, float64(1000), data["minimum_bid"])
	assert.Greater(t, data["time_remaining_seconds"], float64(0))

	product := data["product"].(map[string]any)
	assert.Equal(t, "Vintage Leica Camera", product["title"])

	resp, envelope = env.request(t, http.MethodGet, "/api/auctions/9999", "tok-alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", envelope.Error.Code)
}

func TestPlaceBidFlow(t *testing.T) {
	env := newTestEnv(t)
	auctionID := env.createAuction(t, "prod-1")
	path := fmt.Sprintf("/api/auctions/%d/bid", auctionID)

	// Too low.
	resp, envelope := env.request(t, http.MethodPost, path, "tok-alice", fiberMap{"amount": 500})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "BID_REJECTED", envelope.Error.Code)
	assert.Equal(t, "bid_too_low", envelope.Error.Details["reason"])
	assert.Equal(t, "1000", envelope.Error.Details["minimum_bid"])

	// Accepted.
	resp, envelope = env.request(t, http.MethodPost, path, "tok-alice", fiberMap{"amount": 1000})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := envelope.Data.(map[string]any)
	assert.Equal(t, float64(1000), data["current_bid"])
	assert.Equal(t, float64(1), data["total_bids"])

	// Raising own bid.
	resp, envelope = env.request(t, http.MethodPost, path, "tok-alice", fiberMap{"amount": 2000})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_highest_bidder", envelope.Error.Details["reason"])

	// Outbid by bob.
	resp, envelope = env.request(t, http.MethodPost, path, "tok-bob", fiberMap{"amount": 1100})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data = envelope.Data.(map[string]any)
	assert.Equal(t, float64(1100), data["current_bid"])

	// Bad input.
	resp, _ = env.request(t, http.MethodPost, path, "tok-alice", fiberMap{"amount": -5})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestToggleWatch(t *testing.T) {
	env := newTestEnv(t)
	auctionID := env.createAuction(t, "prod-1")
	path := fmt.Sprintf("/api/auctions/%d/watch", auctionID)

	resp, envelope := env.request(t, http.MethodPost, path, "tok-alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := envelope.Data.(map[string]any)
	assert.Equal(t, true, data["watching"])

	resp, envelope = env.request(t, http.MethodPost, path, "tok-alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data = envelope.Data.(map[string]any)
	assert.Equal(t, false, data["watching"])

	resp, _ = env.request(t, http.MethodPost, "/api/auctions/9999/watch", "tok-alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListAuctionsWithSearch(t *testing.T) {
	env := newTestEnv(t)
	env.createAuction(t, "prod-1")
	env.createAuction(t, "prod-2")

	resp, envelope := env.request(t, http.MethodGet, "/api/auctions/", "tok-alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, envelope.Data.([]any), 2)

	resp, envelope = env.request(t, http.MethodGet, "/api/auctions/?q=scanner", "tok-alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := envelope.Data.([]any)
	require.Len(t, results, 1)
	view := results[0].(map[string]any)
	assert.Equal(t, "prod-2", view["product_id"])
}

func TestListAuctionsSearchReturnsEveryAuctionForProduct(t *testing.T) {
	env := newTestEnv(t)

	// Two concurrent auctions selling the same product and one for
	// another; a title match must surface both, not just the last one.
	env.createAuction(t, "prod-2")
	env.createAuction(t, "prod-2")
	env.createAuction(t, "prod-1")

	resp, envelope := env.request(t, http.MethodGet, "/api/auctions/?q=scanner", "tok-alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := envelope.Data.([]any)
	require.Len(t, results, 2)
	for _, r := range results {
		view := r.(map[string]any)
		assert.Equal(t, "prod-2", view["product_id"])
	}
}

func TestListProducts(t *testing.T) {
	env := newTestEnv(t)

	resp, envelope := env.request(t, http.MethodGet, "/api/products", "tok-alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, envelope.Data.([]any), 2)

	resp, envelope = env.request(t, http.MethodGet, "/api/products?q=leica", "tok-alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	products := envelope.Data.([]any)
	require.Len(t, products, 1)
	assert.Equal(t, "prod-1", products[0].(map[string]any)["id"])

	resp, _ = env.request(t, http.MethodGet, "/api/products", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminDeleteProductImage(t *testing.T) {
	env := newTestEnv(t)

	// Non-admin is rejected.
	resp, _ := env.request(t, http.MethodDelete, "/api/admin/products/prod-1/image", "tok-alice", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, envelope := env.request(t, http.MethodDelete, "/api/admin/products/prod-1/image", "tok-admin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, envelope.Success)
	assert.Equal(t, []string{"prod-1.jpg"}, env.images.deleted)

	// Product without an image key.
	resp, _ = env.request(t, http.MethodDelete, "/api/admin/products/prod-2/image", "tok-admin", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.request(t, http.MethodDelete, "/api/admin/products/missing/image", "tok-admin", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuctionBidHistory(t *testing.T) {
	env := newTestEnv(t)
	auctionID := env.createAuction(t, "prod-1")
	bidPath := fmt.Sprintf("/api/auctions/%d/bid", auctionID)

	resp, _ := env.request(t, http.MethodPost, bidPath, "tok-alice", fiberMap{"amount": 1000})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.request(t, http.MethodPost, bidPath, "tok-bob", fiberMap{"amount": 1100})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, envelope := env.request(t, http.MethodGet, fmt.Sprintf("/api/auctions/%d/bids", auctionID), "tok-alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bids := envelope.Data.([]any)
	require.Len(t, bids, 2)

	newest := bids[0].(map[string]any)
	assert.Equal(t, "bob", newest["bidder_id"])
	assert.Equal(t, true, newest["is_winning"])
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)

	createBody := fiberMap{
		"product_id":     "prod-1",
		"starting_price": 1000,
		"bid_increment":  100,
		"start_time":     env.clock.Now().Add(-time.Minute).Format(time.RFC3339),
		"end_time":       env.clock.Now().Add(time.Hour).Format(time.RFC3339),
	}

	// Non-admin is rejected.
	resp, envelope := env.request(t, http.MethodPost, "/api/admin/auctions", "tok-alice", createBody)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", envelope.Error.Code)

	// Admin creates.
	resp, envelope = env.request(t, http.MethodPost, "/api/admin/auctions", "tok-admin", createBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data := envelope.Data.(map[string]any)
	assert.Equal(t, "active", data["status"])

	// Snowflake ids exceed float64 precision, so read the id back from
	// the store instead of the decoded JSON number.
	active, err := env.store.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	auctionID := active[0].ID

	// Unknown product rejected.
	badBody := fiberMap{}
	for k, v := range createBody {
		badBody[k] = v
	}
	badBody["product_id"] = "missing"
	resp, _ = env.request(t, http.MethodPost, "/api/admin/auctions", "tok-admin", badBody)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Reschedule extends the deadline.
	resp, _ = env.request(t, http.MethodPost, fmt.Sprintf("/api/admin/auctions/%d/reschedule", auctionID), "tok-admin",
		fiberMap{"end_time": env.clock.Now().Add(3 * time.Hour).Format(time.RFC3339)})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Shortening is an invalid transition.
	resp, envelope = env.request(t, http.MethodPost, fmt.Sprintf("/api/admin/auctions/%d/reschedule", auctionID), "tok-admin",
		fiberMap{"end_time": env.clock.Now().Add(time.Minute).Format(time.RFC3339)})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "INVALID_TRANSITION", envelope.Error.Code)

	// Cancel, then cancel again.
	resp, _ = env.request(t, http.MethodPost, fmt.Sprintf("/api/admin/auctions/%d/cancel", auctionID), "tok-admin", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.request(t, http.MethodPost, fmt.Sprintf("/api/admin/auctions/%d/cancel", auctionID), "tok-admin", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

type fiberMap = map[string]any
