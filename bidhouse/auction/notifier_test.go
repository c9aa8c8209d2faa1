package auction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gavelworks/bidhouse/bidhouse/notify"
)

// captureDeliverer records deliveries keyed by recipient.
type captureDeliverer struct {
	mu       sync.Mutex
	messages map[string][]notify.Message
}

func newCaptureDeliverer() *captureDeliverer {
	return &captureDeliverer{messages: make(map[string][]notify.Message)}
}

func (d *captureDeliverer) Deliver(_ context.Context, recipientID string, message notify.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages[recipientID] = append(d.messages[recipientID], message)
	return nil
}

func (d *captureDeliverer) delivered() map[string][]notify.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string][]notify.Message, len(d.messages))
	for k, v := range d.messages {
		out[k] = append([]notify.Message(nil), v...)
	}
	return out
}

func TestNotifierBidAcceptedFanOut(t *testing.T) {
	clock := newFakeClock(time.Now())
	store := NewMemoryStore(clock)
	deliverer := newCaptureDeliverer()
	notifier := NewWatchNotifier(store, deliverer)
	ctx := context.Background()

	auctionID := newTestAuction(t, store, clock, nil)
	for _, watcher := range []string{"walt", "wanda", "bob"} {
		_, err := store.ToggleWatch(ctx, auctionID, watcher)
		require.NoError(t, err)
	}

	notifier.Start()
	notifier.BidAccepted(BidAcceptedEvent{
		AuctionID:        auctionID,
		ProductID:        "prod-1",
		BidderID:         "bob",
		Amount:           1200,
		PreviousWinnerID: "alice",
	})
	notifier.Stop()

	delivered := deliverer.delivered()

	// Previous winner gets the outbid notice.
	require.Len(t, delivered["alice"], 1)
	assert.Equal(t, notify.KindOutbid, delivered["alice"][0].Kind)

	// Watchers get the watch update, except the bidder themselves.
	require.Len(t, delivered["walt"], 1)
	assert.Equal(t, notify.KindWatchUpdate, delivered["walt"][0].Kind)
	require.Len(t, delivered["wanda"], 1)
	assert.Empty(t, delivered["bob"])
}

func TestNotifierBidAcceptedNoPreviousWinner(t *testing.T) {
	clock := newFakeClock(time.Now())
	store := NewMemoryStore(clock)
	deliverer := newCaptureDeliverer()
	notifier := NewWatchNotifier(store, deliverer)

	auctionID := newTestAuction(t, store, clock, nil)

	notifier.Start()
	notifier.BidAccepted(BidAcceptedEvent{
		AuctionID: auctionID,
		BidderID:  "alice",
		Amount:    1000,
	})
	notifier.Stop()

	assert.Empty(t, deliverer.delivered())
}

func TestNotifierAuctionEndedFanOut(t *testing.T) {
	clock := newFakeClock(time.Now())
	store := NewMemoryStore(clock)
	engine := NewEngine(store, clock, nil)
	deliverer := newCaptureDeliverer()
	notifier := NewWatchNotifier(store, deliverer)
	ctx := context.Background()

	auctionID := newTestAuction(t, store, clock, nil)

	_, err := engine.PlaceBid(ctx, auctionID, "alice", 1000, BidMeta{})
	require.NoError(t, err)
	_, err = engine.PlaceBid(ctx, auctionID, "bob", 1200, BidMeta{})
	require.NoError(t, err)
	_, err = store.ToggleWatch(ctx, auctionID, "walt")
	require.NoError(t, err)
	_, err = store.ToggleWatch(ctx, auctionID, "alice")
	require.NoError(t, err)

	notifier.Start()
	notifier.AuctionEnded(AuctionEndedEvent{
		AuctionID:  auctionID,
		WinnerID:   "bob",
		FinalPrice: 1200,
		ReserveMet: true,
	})
	notifier.Stop()

	delivered := deliverer.delivered()

	// Winner hears they won, exactly once even though bob also bid.
	require.Len(t, delivered["bob"], 1)
	assert.Equal(t, notify.KindAuctionWon, delivered["bob"][0].Kind)

	// A losing bidder who also watches gets one message, not two.
	require.Len(t, delivered["alice"], 1)
	assert.Equal(t, notify.KindAuctionEnded, delivered["alice"][0].Kind)

	require.Len(t, delivered["walt"], 1)
	assert.Equal(t, notify.KindAuctionEnded, delivered["walt"][0].Kind)
}

func TestNotifierEventAfterStopIsDropped(t *testing.T) {
	clock := newFakeClock(time.Now())
	store := NewMemoryStore(clock)
	deliverer := newCaptureDeliverer()
	notifier := NewWatchNotifier(store, deliverer)
	ctx := context.Background()

	auctionID := newTestAuction(t, store, clock, nil)
	_, err := store.ToggleWatch(ctx, auctionID, "walt")
	require.NoError(t, err)

	notifier.Start()
	notifier.Stop()

	// A bid that commits while the service drains still emits; the event
	// is dropped, never a send on the closed queue.
	notifier.BidAccepted(BidAcceptedEvent{
		AuctionID: auctionID,
		BidderID:  "alice",
		Amount:    1000,
	})
	notifier.AuctionEnded(AuctionEndedEvent{
		AuctionID: auctionID,
		WinnerID:  "alice",
	})

	assert.Empty(t, deliverer.delivered())
}

func TestNotifierReserveNotMetBody(t *testing.T) {
	clock := newFakeClock(time.Now())
	store := NewMemoryStore(clock)
	engine := NewEngine(store, clock, nil)
	deliverer := newCaptureDeliverer()
	notifier := NewWatchNotifier(store, deliverer)
	ctx := context.Background()

	auctionID := newTestAuction(t, store, clock, func(p *CreateParams) {
		p.ReservePrice = 10000
	})

	_, err := engine.PlaceBid(ctx, auctionID, "alice", 1000, BidMeta{})
	require.NoError(t, err)

	notifier.Start()
	notifier.AuctionEnded(AuctionEndedEvent{
		AuctionID:  auctionID,
		ReserveMet: false,
	})
	notifier.Stop()

	delivered := deliverer.delivered()
	require.Len(t, delivered["alice"], 1)
	assert.Contains(t, delivered["alice"][0].Body, "reserve not met")
}
