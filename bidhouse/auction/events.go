package auction

import "time"

// BidAcceptedEvent is emitted after a bid commit succeeds, never before.
type BidAcceptedEvent struct {
	AuctionID        int64
	ProductID        string
	BidID            int64
	BidderID         string
	Amount           int64
	PreviousWinnerID string
	BidTime          time.Time
	EndTime          time.Time
	Extended         bool
}

// AuctionEndedEvent is emitted exactly once per auction, when settlement
// commits. WinnerID is empty when the reserve was not met or no bids exist.
type AuctionEndedEvent struct {
	AuctionID  int64
	ProductID  string
	WinnerID   string
	FinalPrice int64
	ReserveMet bool
	EndedAt    time.Time
}

// EventSink consumes engine and lifecycle events. Implementations must not
// block the caller; the commit path fires and forgets.
type EventSink interface {
	BidAccepted(event BidAcceptedEvent)
	AuctionEnded(event AuctionEndedEvent)
}

// MultiSink fans one event out to several sinks.
type MultiSink []EventSink

func (s MultiSink) BidAccepted(event BidAcceptedEvent) {
	for _, sink := range s {
		sink.BidAccepted(event)
	}
}

func (s MultiSink) AuctionEnded(event AuctionEndedEvent) {
	for _, sink := range s {
		sink.AuctionEnded(event)
	}
}
