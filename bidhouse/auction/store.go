package auction

import (
	"context"
	"time"

	"github.com/gavelworks/bidhouse/bidhouse/database/models"
)

// Snapshot is an immutable read of one auction at a known version. The
// engine validates and computes side effects against it, then commits with
// the version as the compare-and-swap token.
type Snapshot struct {
	AuctionID int64
	ProductID string
	Status    models.AuctionStatus

	StartingPrice int64
	ReservePrice  int64
	CurrentBid    int64
	BidIncrement  int64
	TotalBids     int64

	StartTime         time.Time
	EndTime           time.Time
	IsAutoExtend      bool
	AutoExtendMinutes int

	WinningBidID    int64
	WinningBidderID string

	Version int64
}

// BidCommit carries everything CommitBid must apply in one transaction:
// flip the previous winning bid, insert the new one, and conditionally
// update the auction row where its version still equals ExpectedVersion.
type BidCommit struct {
	AuctionID            int64
	ExpectedVersion      int64
	Bid                  *models.Bid
	NewEndTime           time.Time
	PreviousWinningBidID int64
}

// Store is the engine's persistence contract. The only mutation path for
// an auction's price state is CommitBid; it must fail with
// ErrVersionConflict when ExpectedVersion no longer matches, leaving no
// partial writes behind.
type Store interface {
	Snapshot(ctx context.Context, auctionID int64) (*Snapshot, error)
	CommitBid(ctx context.Context, commit BidCommit) error
	ListWatchers(ctx context.Context, auctionID int64) ([]string, error)
	ListBidders(ctx context.Context, auctionID int64) ([]string, error)
	ToggleWatch(ctx context.Context, auctionID int64, watcherID string) (bool, error)
	RecentBids(ctx context.Context, auctionID int64, limit int) ([]*models.Bid, error)
}

// Settlement records the outcome decided when an auction transitioned to
// ended. WinnerID is empty when no bid met the reserve.
type Settlement struct {
	AuctionID  int64
	ProductID  string
	WinnerID   string
	FinalPrice int64
	ReserveMet bool
	EndedAt    time.Time
}

// CreateParams describes a new auction. Status starts at draft; the
// lifecycle sweep (or a lazy snapshot read) activates it at StartTime.
type CreateParams struct {
	ProductID         string
	StartingPrice     int64
	ReservePrice      int64
	BidIncrement      int64
	StartTime         time.Time
	EndTime           time.Time
	IsAutoExtend      bool
	AutoExtendMinutes int
}

// LifecycleStore exposes the state-machine operations. ActivateScheduled
// and SettleExpired are sweeps and must be idempotent: running either
// twice over the same rows produces no further change.
type LifecycleStore interface {
	Create(ctx context.Context, params CreateParams) (*models.Auction, error)
	ActivateScheduled(ctx context.Context, now time.Time) (int64, error)
	SettleExpired(ctx context.Context, now time.Time) ([]Settlement, error)
	Cancel(ctx context.Context, auctionID int64) error
	Reschedule(ctx context.Context, auctionID int64, newEndTime time.Time) error
	ListActive(ctx context.Context) ([]*models.Auction, error)
}
