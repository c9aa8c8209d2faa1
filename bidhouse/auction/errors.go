package auction

import (
	"errors"
	"fmt"
)

var (
	// ErrAuctionNotFound is returned for an unknown auction id.
	ErrAuctionNotFound = errors.New("auction not found")

	// ErrVersionConflict is returned by Store.CommitBid when the auction
	// row changed between snapshot and commit. The engine retries on it.
	ErrVersionConflict = errors.New("auction version conflict")

	// ErrCommitConflict is returned once the engine exhausts its commit
	// retries. Callers should re-submit with fresh auction state.
	ErrCommitConflict = errors.New("bid conflict: auction changed during commit, please retry")

	// ErrInvalidTransition is returned for lifecycle operations against a
	// terminal or otherwise ineligible auction state.
	ErrInvalidTransition = errors.New("invalid auction state transition")
)

type RejectReason string

const (
	RejectAuctionNotActive     RejectReason = "auction_not_active"
	RejectAuctionEnded         RejectReason = "auction_ended"
	RejectBidTooLow            RejectReason = "bid_too_low"
	RejectAlreadyHighestBidder RejectReason = "already_highest_bidder"
)

// BidRejectedError is a business-rule rejection, not a fault. The engine
// returns it without writing anything; callers surface the reason (and the
// minimum acceptable bid, for bid_too_low) directly to the client.
type BidRejectedError struct {
	Reason RejectReason

	// MinimumBid is the smallest amount that would have been accepted.
	// Populated only for RejectBidTooLow.
	MinimumBid int64
}

func (e *BidRejectedError) Error() string {
	if e.Reason == RejectBidTooLow {
		return fmt.Sprintf("bid rejected: %s (minimum %d)", e.Reason, e.MinimumBid)
	}
	return fmt.Sprintf("bid rejected: %s", e.Reason)
}
