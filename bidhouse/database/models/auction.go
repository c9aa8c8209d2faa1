package models

import (
	"time"

	"github.com/uptrace/bun"
)

type AuctionStatus string

const (
	AuctionStatusDraft     AuctionStatus = "draft"
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusEnded     AuctionStatus = "ended"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// Terminal reports whether no further transition exists out of s.
func (s AuctionStatus) Terminal() bool {
	return s == AuctionStatusEnded || s == AuctionStatusCancelled
}

type Auction struct {
	bun.BaseModel `bun:"table:auctions,alias:a"`

	ID        int64  `bun:"id,pk"`
	ProductID string `bun:"product_id,notnull"`

	// All prices are integer minor currency units (cents).
	StartingPrice int64 `bun:"starting_price,notnull"`
	ReservePrice  int64 `bun:"reserve_price,notnull"`
	CurrentBid    int64 `bun:"current_bid,notnull"`
	BidIncrement  int64 `bun:"bid_increment,notnull"`

	StartTime         time.Time `bun:"start_time,notnull"`
	EndTime           time.Time `bun:"end_time,notnull"`
	IsAutoExtend      bool      `bun:"is_auto_extend,notnull"`
	AutoExtendMinutes int       `bun:"auto_extend_minutes,notnull"`

	Status   AuctionStatus `bun:"status,notnull"`
	WinnerID string        `bun:"winner_id"`

	// TotalBids mirrors the count of bid rows; maintained only by the
	// engine's commit transaction, never accepted from input.
	TotalBids int64 `bun:"total_bids,notnull,default:0"`

	// Version is the optimistic-concurrency token. Every committed bid
	// bumps it; CommitBid compares against the value it read.
	Version int64 `bun:"version,notnull,default:0"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

type Bid struct {
	bun.BaseModel `bun:"table:bids,alias:b"`

	ID        int64     `bun:"id,pk"`
	AuctionID int64     `bun:"auction_id,notnull"`
	BidderID  string    `bun:"bidder_id,notnull"`
	BidAmount int64     `bun:"bid_amount,notnull"`
	BidTime   time.Time `bun:"bid_time,notnull"`

	// Exactly one bid per auction may be winning; every superseded bid
	// is flagged outbid. Flipped only by the engine's commit path.
	IsWinning bool `bun:"is_winning,notnull"`
	IsOutbid  bool `bun:"is_outbid,notnull"`

	// Advisory audit metadata, never consulted by validation.
	SourceAddress string `bun:"source_address"`
	ClientAgent   string `bun:"client_agent"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

type Watch struct {
	bun.BaseModel `bun:"table:watches,alias:w"`

	AuctionID int64     `bun:"auction_id,pk"`
	WatcherID string    `bun:"watcher_id,pk"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
