// Package audit records an append-only trail of auction activity in
// MongoDB, separate from the transactional store. The trail is advisory:
// a write failure is logged and never surfaces to the bid path.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gavelworks/bidhouse/bidhouse/auction"
)

const writeTimeout = 5 * time.Second

type Trail struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewTrail(ctx context.Context, uri, database string) (*Trail, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return &Trail{
		client: client,
		coll:   client.Database(database).Collection("auction_events"),
	}, nil
}

func (t *Trail) Close(ctx context.Context) error {
	return t.client.Disconnect(ctx)
}

func (t *Trail) BidAccepted(event auction.BidAcceptedEvent) {
	t.insert(bson.M{
		"event":              "bid_accepted",
		"auction_id":         event.AuctionID,
		"product_id":         event.ProductID,
		"bid_id":             event.BidID,
		"bidder_id":          event.BidderID,
		"amount":             event.Amount,
		"previous_winner_id": event.PreviousWinnerID,
		"bid_time":           event.BidTime,
		"end_time":           event.EndTime,
		"extended":           event.Extended,
	})
}

func (t *Trail) AuctionEnded(event auction.AuctionEndedEvent) {
	t.insert(bson.M{
		"event":       "auction_ended",
		"auction_id":  event.AuctionID,
		"product_id":  event.ProductID,
		"winner_id":   event.WinnerID,
		"final_price": event.FinalPrice,
		"reserve_met": event.ReserveMet,
		"ended_at":    event.EndedAt,
	})
}

func (t *Trail) insert(doc bson.M) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	doc["recorded_at"] = time.Now()
	if _, err := t.coll.InsertOne(ctx, doc); err != nil {
		slog.Error("Failed to record audit event",
			slog.String("event", fmt.Sprint(doc["event"])),
			slog.String("error", err.Error()))
	}
}
