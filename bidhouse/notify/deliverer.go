package notify

import (
	"context"
	"log/slog"
)

type MessageKind string

const (
	KindOutbid       MessageKind = "outbid"
	KindWatchUpdate  MessageKind = "watch_update"
	KindAuctionWon   MessageKind = "auction_won"
	KindAuctionEnded MessageKind = "auction_ended"
)

type Message struct {
	Kind      MessageKind
	AuctionID int64
	ProductID string
	Body      string
}

// Deliverer pushes one message to one recipient over some transport
// (email, push socket, chat webhook). Callers treat it as fire and
// forget; an error means this delivery failed, nothing more.
type Deliverer interface {
	Deliver(ctx context.Context, recipientID string, message Message) error
}

// LogDeliverer writes notifications to the structured log. Default
// transport when no external channel is configured.
type LogDeliverer struct{}

func (LogDeliverer) Deliver(_ context.Context, recipientID string, message Message) error {
	slog.Info("Notification delivered",
		slog.String("type", "notify"),
		slog.String("recipient_id", recipientID),
		slog.String("kind", string(message.Kind)),
		slog.Int64("auction_id", message.AuctionID),
		slog.String("body", message.Body))
	return nil
}
