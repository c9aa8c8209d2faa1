package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/gavelworks/bidhouse/bidhouse/database/models"
)

// DefaultCommitRetries bounds the optimistic-commit loop. A request that
// loses the race this many times fails fast with ErrCommitConflict instead
// of blocking.
const DefaultCommitRetries = 3

// BidMeta is advisory audit metadata recorded with the bid. It never
// influences validation.
type BidMeta struct {
	SourceAddress string
	ClientAgent   string
}

type BidResult struct {
	BidID         int64
	NewCurrentBid int64
	TotalBids     int64
	EndTime       time.Time
	Extended      bool
}

// Engine orchestrates bid acceptance: snapshot, validate, compute side
// effects, commit with a compare-and-swap, retry on conflict. It is
// stateless across requests and safe for concurrent use.
type Engine struct {
	store   Store
	clock   Clock
	sink    EventSink
	retries int
}

func NewEngine(store Store, clock Clock, sink EventSink) *Engine {
	if store == nil {
		panic("auction store cannot be nil")
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Engine{
		store:   store,
		clock:   clock,
		sink:    sink,
		retries: DefaultCommitRetries,
	}
}

// SetRetries overrides the commit retry budget. Values below one are
// ignored.
func (e *Engine) SetRetries(retries int) {
	if retries > 0 {
		e.retries = retries
	}
}

// PlaceBid runs the core acceptance algorithm. Within one auction,
// committed bids are totally ordered by the version check; two racing bids
// can never both win. Rejections come back as *BidRejectedError with no
// partial writes.
func (e *Engine) PlaceBid(ctx context.Context, auctionID int64, bidderID string, amount int64, meta BidMeta) (*BidResult, error) {
	for attempt := 0; attempt < e.retries; attempt++ {
		snap, err := e.store.Snapshot(ctx, auctionID)
		if err != nil {
			return nil, err
		}

		now := e.clock.Now()
		if rej := Validate(snap, bidderID, amount, now); rej != nil {
			return nil, rej
		}

		newEndTime, extended := applyAutoExtend(snap, now)

		bid := &models.Bid{
			ID:            NewID(now),
			AuctionID:     auctionID,
			BidderID:      bidderID,
			BidAmount:     amount,
			BidTime:       now,
			IsWinning:     true,
			IsOutbid:      false,
			SourceAddress: meta.SourceAddress,
			ClientAgent:   meta.ClientAgent,
			CreatedAt:     now,
		}

		err = e.store.CommitBid(ctx, BidCommit{
			AuctionID:            auctionID,
			ExpectedVersion:      snap.Version,
			Bid:                  bid,
			NewEndTime:           newEndTime,
			PreviousWinningBidID: snap.WinningBidID,
		})
		if errors.Is(err, ErrVersionConflict) {
			slog.Debug("Bid commit lost the race, retrying",
				slog.Int64("auction_id", auctionID),
				slog.String("bidder_id", bidderID),
				slog.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to commit bid: %w", err)
		}

		if e.sink != nil {
			e.sink.BidAccepted(BidAcceptedEvent{
				AuctionID:        auctionID,
				ProductID:        snap.ProductID,
				BidID:            bid.ID,
				BidderID:         bidderID,
				Amount:           amount,
				PreviousWinnerID: snap.WinningBidderID,
				BidTime:          now,
				EndTime:          newEndTime,
				Extended:         extended,
			})
		}

		slog.Info("Bid accepted",
			slog.Int64("auction_id", auctionID),
			slog.String("bidder_id", bidderID),
			slog.Int64("amount", amount),
			slog.Bool("extended", extended))

		return &BidResult{
			BidID:         bid.ID,
			NewCurrentBid: amount,
			TotalBids:     snap.TotalBids + 1,
			EndTime:       newEndTime,
			Extended:      extended,
		}, nil
	}

	slog.Warn("Bid commit retries exhausted",
		slog.Int64("auction_id", auctionID),
		slog.String("bidder_id", bidderID),
		slog.Int("retries", e.retries))
	return nil, ErrCommitConflict
}

// applyAutoExtend computes the deadline the commit must carry. The check
// rides inside the bid's transaction so a racing second bid observes the
// already-extended deadline, never the original one.
func applyAutoExtend(snap *Snapshot, now time.Time) (time.Time, bool) {
	if !snap.IsAutoExtend || snap.AutoExtendMinutes <= 0 {
		return snap.EndTime, false
	}
	window := time.Duration(snap.AutoExtendMinutes) * time.Minute
	if snap.EndTime.Sub(now) < window {
		return now.Add(window), true
	}
	return snap.EndTime, false
}

// idGenerator hands out snowflake-shaped ids: timestamp bits from
// disgoorg/snowflake plus a per-millisecond sequence so concurrent bids in
// the same millisecond stay unique within the process.
type idGenerator struct {
	mu     sync.Mutex
	lastTS int64
	seq    int64
}

var globalIDs idGenerator

// NewID returns a process-unique snowflake id for the given timestamp.
func NewID(now time.Time) int64 {
	return globalIDs.next(now)
}

func (g *idGenerator) next(now time.Time) int64 {
	base := int64(snowflake.New(now))
	ts := base >> 22

	g.mu.Lock()
	defer g.mu.Unlock()
	if ts == g.lastTS {
		g.seq = (g.seq + 1) & 0xFFF
	} else {
		g.lastTS = ts
		g.seq = 0
	}
	return base | g.seq
}
