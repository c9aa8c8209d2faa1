package auction

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const defaultSweepTimeout = 30 * time.Second

// Scheduler drives the auction state machine in the background:
// draft auctions activate when their start time passes, expired active
// auctions settle and end. Both sweeps are idempotent, so overlapping
// ticks or a restart mid-sweep cause no duplicate settlement.
type Scheduler struct {
	store    LifecycleStore
	clock    Clock
	sink     EventSink
	interval time.Duration
	ticker   *time.Ticker
	shutdown chan struct{}
}

func NewScheduler(store LifecycleStore, clock Clock, sink EventSink, interval time.Duration) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Scheduler{
		store:    store,
		clock:    clock,
		sink:     sink,
		interval: interval,
		shutdown: make(chan struct{}),
	}
}

// Start begins the periodic sweep. It returns immediately; the loop runs
// until Shutdown is called.
func (s *Scheduler) Start() {
	s.ticker = time.NewTicker(s.interval)
	go func() {
		defer s.ticker.Stop()
		for {
			select {
			case <-s.ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), defaultSweepTimeout)
				if err := s.Sweep(ctx); err != nil {
					slog.Error("Lifecycle sweep failed",
						slog.String("error", err.Error()))
				}
				cancel()
			case <-s.shutdown:
				return
			}
		}
	}()
}

// Sweep runs one activation plus settlement pass. Settlement failures
// leave the auction active; the next tick retries, so an auction is never
// marked ended without its winner decision having committed.
func (s *Scheduler) Sweep(ctx context.Context) error {
	now := s.clock.Now()

	activated, err := s.store.ActivateScheduled(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to activate scheduled auctions: %w", err)
	}
	if activated > 0 {
		slog.Info("Auctions activated",
			slog.Int64("count", activated))
	}

	settlements, err := s.store.SettleExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to settle expired auctions: %w", err)
	}

	for _, settlement := range settlements {
		slog.Info("Auction settled",
			slog.Int64("auction_id", settlement.AuctionID),
			slog.String("winner_id", settlement.WinnerID),
			slog.Int64("final_price", settlement.FinalPrice),
			slog.Bool("reserve_met", settlement.ReserveMet))

		if s.sink != nil {
			s.sink.AuctionEnded(AuctionEndedEvent{
				AuctionID:  settlement.AuctionID,
				ProductID:  settlement.ProductID,
				WinnerID:   settlement.WinnerID,
				FinalPrice: settlement.FinalPrice,
				ReserveMet: settlement.ReserveMet,
				EndedAt:    settlement.EndedAt,
			})
		}
	}
	return nil
}

// Shutdown stops the sweep loop.
func (s *Scheduler) Shutdown() {
	close(s.shutdown)
	slog.Info("Lifecycle scheduler shutdown completed")
}
