package auction

import (
	"time"

	"github.com/gavelworks/bidhouse/bidhouse/database/models"
)

// MinimumBid returns the smallest acceptable amount for the snapshot:
// the current bid plus one increment, floored at the starting price so the
// very first bid must reach it.
func MinimumBid(snap *Snapshot) int64 {
	min := snap.CurrentBid + snap.BidIncrement
	if snap.StartingPrice > min {
		min = snap.StartingPrice
	}
	return min
}

// Validate decides accept/reject for a proposed bid against an auction
// snapshot. Pure: no I/O, no side effects, deterministic for a given now.
// Rules apply in order, first failure wins. A nil return means accept.
func Validate(snap *Snapshot, bidderID string, amount int64, now time.Time) *BidRejectedError {
	if snap.Status != models.AuctionStatusActive {
		return &BidRejectedError{Reason: RejectAuctionNotActive}
	}
	if now.After(snap.EndTime) {
		return &BidRejectedError{Reason: RejectAuctionEnded}
	}
	if min := MinimumBid(snap); amount < min {
		return &BidRejectedError{Reason: RejectBidTooLow, MinimumBid: min}
	}
	if snap.WinningBidderID != "" && snap.WinningBidderID == bidderID {
		return &BidRejectedError{Reason: RejectAlreadyHighestBidder}
	}
	return nil
}
