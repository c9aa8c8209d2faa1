package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gavelworks/bidhouse/bidhouse/notify"
)

const notifyQueueSize = 256

// WatchNotifier consumes engine and lifecycle events off a buffered
// channel, computes the recipient fan-out set, and hands each message to a
// delivery collaborator. Delivery is best effort: a failed or slow
// delivery never touches the bid commit path.
type WatchNotifier struct {
	store     Store
	deliverer notify.Deliverer
	queue     chan any
	done      chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewWatchNotifier(store Store, deliverer notify.Deliverer) *WatchNotifier {
	return &WatchNotifier{
		store:     store,
		deliverer: deliverer,
		queue:     make(chan any, notifyQueueSize),
		done:      make(chan struct{}),
	}
}

func (n *WatchNotifier) BidAccepted(event BidAcceptedEvent) {
	n.enqueue(event)
}

func (n *WatchNotifier) AuctionEnded(event AuctionEndedEvent) {
	n.enqueue(event)
}

// enqueue must stay safe against Stop: a select with a default case does
// not guard a send on a closed channel, so the closed flag is checked
// under the same lock Stop takes before closing the queue.
func (n *WatchNotifier) enqueue(event any) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		slog.Warn("Notifier stopped, dropping event")
		return
	}
	select {
	case n.queue <- event:
	default:
		slog.Warn("Notification queue full, dropping event")
	}
}

// Start launches the consumer loop. Stop closes it down after draining
// whatever is already queued.
func (n *WatchNotifier) Start() {
	go func() {
		defer close(n.done)
		for event := range n.queue {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			switch e := event.(type) {
			case BidAcceptedEvent:
				n.onBidAccepted(ctx, e)
			case AuctionEndedEvent:
				n.onAuctionEnded(ctx, e)
			}
			cancel()
		}
	}()
}

func (n *WatchNotifier) Stop() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()
	<-n.done
}

// onBidAccepted notifies the bidder who just lost the lead, then all
// watchers except the new bidder.
func (n *WatchNotifier) onBidAccepted(ctx context.Context, event BidAcceptedEvent) {
	recipients := make(map[string]notify.Message)

	if event.PreviousWinnerID != "" && event.PreviousWinnerID != event.BidderID {
		recipients[event.PreviousWinnerID] = notify.Message{
			Kind:      notify.KindOutbid,
			AuctionID: event.AuctionID,
			ProductID: event.ProductID,
			Body:      fmt.Sprintf("You were outbid on auction %d. The price is now %d.", event.AuctionID, event.Amount),
		}
	}

	watchers, err := n.store.ListWatchers(ctx, event.AuctionID)
	if err != nil {
		slog.Error("Failed to list watchers",
			slog.Int64("auction_id", event.AuctionID),
			slog.String("error", err.Error()))
		watchers = nil
	}
	for _, watcherID := range watchers {
		if watcherID == event.BidderID {
			continue
		}
		if _, taken := recipients[watcherID]; taken {
			continue
		}
		recipients[watcherID] = notify.Message{
			Kind:      notify.KindWatchUpdate,
			AuctionID: event.AuctionID,
			ProductID: event.ProductID,
			Body:      fmt.Sprintf("New bid of %d on auction %d you are watching.", event.Amount, event.AuctionID),
		}
	}

	n.deliver(ctx, recipients)
}

// onAuctionEnded notifies the winner, every watcher, and every
// non-winning bidder.
func (n *WatchNotifier) onAuctionEnded(ctx context.Context, event AuctionEndedEvent) {
	recipients := make(map[string]notify.Message)

	if event.WinnerID != "" {
		recipients[event.WinnerID] = notify.Message{
			Kind:      notify.KindAuctionWon,
			AuctionID: event.AuctionID,
			ProductID: event.ProductID,
			Body:      fmt.Sprintf("You won auction %d at %d.", event.AuctionID, event.FinalPrice),
		}
	}

	endedBody := fmt.Sprintf("Auction %d has ended.", event.AuctionID)
	if !event.ReserveMet {
		endedBody = fmt.Sprintf("Auction %d has ended: reserve not met.", event.AuctionID)
	}

	bidders, err := n.store.ListBidders(ctx, event.AuctionID)
	if err != nil {
		slog.Error("Failed to list bidders",
			slog.Int64("auction_id", event.AuctionID),
			slog.String("error", err.Error()))
		bidders = nil
	}
	for _, bidderID := range bidders {
		if bidderID == event.WinnerID {
			continue
		}
		recipients[bidderID] = notify.Message{
			Kind:      notify.KindAuctionEnded,
			AuctionID: event.AuctionID,
			ProductID: event.ProductID,
			Body:      endedBody,
		}
	}

	watchers, err := n.store.ListWatchers(ctx, event.AuctionID)
	if err != nil {
		slog.Error("Failed to list watchers",
			slog.Int64("auction_id", event.AuctionID),
			slog.String("error", err.Error()))
		watchers = nil
	}
	for _, watcherID := range watchers {
		if _, taken := recipients[watcherID]; taken {
			continue
		}
		recipients[watcherID] = notify.Message{
			Kind:      notify.KindAuctionEnded,
			AuctionID: event.AuctionID,
			ProductID: event.ProductID,
			Body:      endedBody,
		}
	}

	n.deliver(ctx, recipients)
}

func (n *WatchNotifier) deliver(ctx context.Context, recipients map[string]notify.Message) {
	for recipientID, message := range recipients {
		if err := n.deliverer.Deliver(ctx, recipientID, message); err != nil {
			slog.Error("Failed to deliver notification",
				slog.String("recipient_id", recipientID),
				slog.Int64("auction_id", message.AuctionID),
				slog.String("error", err.Error()))
		}
	}
}
