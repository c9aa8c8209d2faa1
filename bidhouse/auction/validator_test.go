package auction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gavelworks/bidhouse/bidhouse/database/models"
)

func baseSnapshot(now time.Time) *Snapshot {
	return &Snapshot{
		AuctionID:     1,
		ProductID:     "prod-1",
		Status:        models.AuctionStatusActive,
		StartingPrice: 1000,
		BidIncrement:  100,
		StartTime:     now.Add(-time.Hour),
		EndTime:       now.Add(time.Hour),
	}
}

func TestMinimumBid(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name       string
		currentBid int64
		want       int64
	}{
		{name: "no bids yet, floored at starting price", currentBid: 0, want: 1000},
		{name: "current bid below starting price", currentBid: 500, want: 1000},
		{name: "current bid at starting price", currentBid: 1000, want: 1100},
		{name: "current bid above starting price", currentBid: 5000, want: 5100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := baseSnapshot(now)
			snap.CurrentBid = tt.currentBid
			assert.Equal(t, tt.want, MinimumBid(snap))
		})
	}
}

func TestValidate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name       string
		mutate     func(*Snapshot)
		bidderID   string
		amount     int64
		wantReason RejectReason
		wantMin    int64
	}{
		{
			name:     "valid first bid at starting price",
			bidderID: "alice",
			amount:   1000,
		},
		{
			name: "valid outbid",
			mutate: func(s *Snapshot) {
				s.CurrentBid = 5000
				s.WinningBidderID = "bob"
			},
			bidderID: "alice",
			amount:   5500,
		},
		{
			name:       "draft auction",
			mutate:     func(s *Snapshot) { s.Status = models.AuctionStatusDraft },
			bidderID:   "alice",
			amount:     1000,
			wantReason: RejectAuctionNotActive,
		},
		{
			name:       "ended auction",
			mutate:     func(s *Snapshot) { s.Status = models.AuctionStatusEnded },
			bidderID:   "alice",
			amount:     1000,
			wantReason: RejectAuctionNotActive,
		},
		{
			name:       "cancelled auction",
			mutate:     func(s *Snapshot) { s.Status = models.AuctionStatusCancelled },
			bidderID:   "alice",
			amount:     1000,
			wantReason: RejectAuctionNotActive,
		},
		{
			name:       "deadline passed but still marked active",
			mutate:     func(s *Snapshot) { s.EndTime = now.Add(-time.Second) },
			bidderID:   "alice",
			amount:     1000,
			wantReason: RejectAuctionEnded,
		},
		{
			name:     "bid exactly at deadline is accepted",
			mutate:   func(s *Snapshot) { s.EndTime = now },
			bidderID: "alice",
			amount:   1000,
		},
		{
			name: "bid below current plus increment",
			mutate: func(s *Snapshot) {
				s.CurrentBid = 5000
				s.BidIncrement = 500
				s.WinningBidderID = "bob"
			},
			bidderID:   "alice",
			amount:     5499,
			wantReason: RejectBidTooLow,
			wantMin:    5500,
		},
		{
			name: "bid exactly at current plus increment",
			mutate: func(s *Snapshot) {
				s.CurrentBid = 5000
				s.BidIncrement = 500
				s.WinningBidderID = "bob"
			},
			bidderID: "alice",
			amount:   5500,
		},
		{
			name:       "first bid below starting price",
			bidderID:   "alice",
			amount:     999,
			wantReason: RejectBidTooLow,
			wantMin:    1000,
		},
		{
			name: "highest bidder raising own bid",
			mutate: func(s *Snapshot) {
				s.CurrentBid = 5000
				s.WinningBidderID = "alice"
			},
			bidderID:   "alice",
			amount:     6000,
			wantReason: RejectAlreadyHighestBidder,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := baseSnapshot(now)
			if tt.mutate != nil {
				tt.mutate(snap)
			}

			rej := Validate(snap, tt.bidderID, tt.amount, now)
			if tt.wantReason == "" {
				assert.Nil(t, rej)
				return
			}
			if assert.NotNil(t, rej) {
				assert.Equal(t, tt.wantReason, rej.Reason)
				if tt.wantMin > 0 {
					assert.Equal(t, tt.wantMin, rej.MinimumBid)
				}
			}
		})
	}
}

func TestValidateRuleOrder(t *testing.T) {
	now := time.Now()

	// A too-low bid from the current highest bidder on an ended auction must
	// report the status problem, not the amount.
	snap := baseSnapshot(now)
	snap.Status = models.AuctionStatusEnded
	snap.CurrentBid = 5000
	snap.WinningBidderID = "alice"

	rej := Validate(snap, "alice", 1, now)
	if assert.NotNil(t, rej) {
		assert.Equal(t, RejectAuctionNotActive, rej.Reason)
	}
}
