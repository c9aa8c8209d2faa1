package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gavelworks/bidhouse/bidhouse/auction"
	"github.com/gavelworks/bidhouse/bidhouse/database/models"
	"github.com/uptrace/bun"
)

// AuctionRepository is the Postgres implementation of the engine's Store
// and the scheduler's LifecycleStore. All auction price mutation funnels
// through CommitBid's version compare-and-swap; everything else is reads
// or status transitions guarded by conditional updates.
type AuctionRepository struct {
	db    *bun.DB
	clock auction.Clock
}

var (
	_ auction.Store          = (*AuctionRepository)(nil)
	_ auction.LifecycleStore = (*AuctionRepository)(nil)
)

func NewAuctionRepository(db *bun.DB, clock auction.Clock) *AuctionRepository {
	if clock == nil {
		clock = auction.SystemClock()
	}
	return &AuctionRepository{db: db, clock: clock}
}

func (r *AuctionRepository) DB() *bun.DB {
	return r.db
}

// Snapshot reads one auction and its winning bid. Draft auctions whose
// start time has passed are activated on the way, so a read is enough to
// make an auction biddable without waiting for the sweep.
func (r *AuctionRepository) Snapshot(ctx context.Context, auctionID int64) (*auction.Snapshot, error) {
	now := r.clock.Now()
	_, err := r.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("status = ?", models.AuctionStatusActive).
		Set("updated_at = ?", now).
		Where("id = ? AND status = ? AND start_time <= ?", auctionID, models.AuctionStatusDraft, now).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to activate auction: %w", err)
	}

	a := new(models.Auction)
	err = r.db.NewSelect().
		Model(a).
		Where("id = ?", auctionID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auction.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}

	snap := &auction.Snapshot{
		AuctionID:         a.ID,
		ProductID:         a.ProductID,
		Status:            a.Status,
		StartingPrice:     a.StartingPrice,
		ReservePrice:      a.ReservePrice,
		CurrentBid:        a.CurrentBid,
		BidIncrement:      a.BidIncrement,
		TotalBids:         a.TotalBids,
		StartTime:         a.StartTime,
		EndTime:           a.EndTime,
		IsAutoExtend:      a.IsAutoExtend,
		AutoExtendMinutes: a.AutoExtendMinutes,
		Version:           a.Version,
	}

	winning := new(models.Bid)
	err = r.db.NewSelect().
		Model(winning).
		Where("auction_id = ? AND is_winning = true", auctionID).
		Scan(ctx)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to get winning bid: %w", err)
		}
	} else {
		snap.WinningBidID = winning.ID
		snap.WinningBidderID = winning.BidderID
	}

	return snap, nil
}

// CommitBid applies one accepted bid atomically. The auction row update is
// conditioned on the version the snapshot carried; zero rows affected
// means another bid committed in between, the transaction rolls back and
// the engine re-reads.
func (r *AuctionRepository) CommitBid(ctx context.Context, commit auction.BidCommit) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		result, err := tx.NewUpdate().
			Model((*models.Auction)(nil)).
			Set("current_bid = ?", commit.Bid.BidAmount).
			Set("total_bids = total_bids + 1").
			Set("end_time = ?", commit.NewEndTime).
			Set("version = version + 1").
			Set("updated_at = ?", commit.Bid.BidTime).
			Where("id = ? AND version = ? AND status = ?",
				commit.AuctionID, commit.ExpectedVersion, models.AuctionStatusActive).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update auction: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 0 {
			return auction.ErrVersionConflict
		}

		if commit.PreviousWinningBidID != 0 {
			_, err = tx.NewUpdate().
				Model((*models.Bid)(nil)).
				Set("is_winning = false").
				Set("is_outbid = true").
				Where("id = ?", commit.PreviousWinningBidID).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to flip previous winning bid: %w", err)
			}
		}

		if _, err = tx.NewInsert().Model(commit.Bid).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert bid: %w", err)
		}
		return nil
	})
}

func (r *AuctionRepository) ListWatchers(ctx context.Context, auctionID int64) ([]string, error) {
	var watchers []string
	err := r.db.NewSelect().
		Model((*models.Watch)(nil)).
		Column("watcher_id").
		Where("auction_id = ?", auctionID).
		Order("created_at ASC").
		Scan(ctx, &watchers)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchers: %w", err)
	}
	return watchers, nil
}

func (r *AuctionRepository) ListBidders(ctx context.Context, auctionID int64) ([]string, error) {
	var bidders []string
	err := r.db.NewSelect().
		Model((*models.Bid)(nil)).
		ColumnExpr("DISTINCT bidder_id").
		Where("auction_id = ?", auctionID).
		Scan(ctx, &bidders)
	if err != nil {
		return nil, fmt.Errorf("failed to list bidders: %w", err)
	}
	return bidders, nil
}

// ToggleWatch removes the watch row if present, creates it otherwise.
// Returns whether the caller is watching afterwards.
func (r *AuctionRepository) ToggleWatch(ctx context.Context, auctionID int64, watcherID string) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*models.Auction)(nil)).
		Where("id = ?", auctionID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check auction: %w", err)
	}
	if !exists {
		return false, auction.ErrAuctionNotFound
	}

	result, err := r.db.NewDelete().
		Model((*models.Watch)(nil)).
		Where("auction_id = ? AND watcher_id = ?", auctionID, watcherID).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to remove watch: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return false, nil
	}

	watch := &models.Watch{
		AuctionID: auctionID,
		WatcherID: watcherID,
		CreatedAt: r.clock.Now(),
	}
	if _, err := r.db.NewInsert().Model(watch).Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to create watch: %w", err)
	}
	return true, nil
}

func (r *AuctionRepository) RecentBids(ctx context.Context, auctionID int64, limit int) ([]*models.Bid, error) {
	var bids []*models.Bid
	err := r.db.NewSelect().
		Model(&bids).
		Where("auction_id = ?", auctionID).
		Order("bid_time DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get bids: %w", err)
	}
	return bids, nil
}

func (r *AuctionRepository) Create(ctx context.Context, params auction.CreateParams) (*models.Auction, error) {
	now := r.clock.Now()
	a := &models.Auction{
		ID:                auction.NewID(now),
		ProductID:         params.ProductID,
		StartingPrice:     params.StartingPrice,
		ReservePrice:      params.ReservePrice,
		BidIncrement:      params.BidIncrement,
		StartTime:         params.StartTime,
		EndTime:           params.EndTime,
		IsAutoExtend:      params.IsAutoExtend,
		AutoExtendMinutes: params.AutoExtendMinutes,
		Status:            models.AuctionStatusDraft,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if !now.Before(a.StartTime) {
		a.Status = models.AuctionStatusActive
	}

	if _, err := r.db.NewInsert().Model(a).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}
	return a, nil
}

func (r *AuctionRepository) ActivateScheduled(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("status = ?", models.AuctionStatusActive).
		Set("updated_at = ?", now).
		Where("status = ? AND start_time <= ?", models.AuctionStatusDraft, now).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to activate scheduled auctions: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows, nil
}

// SettleExpired ends every active auction whose deadline has passed and
// decides its winner in the same transaction. Locked rows are skipped so
// concurrent sweepers never double-settle; the status guard on the update
// makes the winner decision exactly-once.
func (r *AuctionRepository) SettleExpired(ctx context.Context, now time.Time) ([]auction.Settlement, error) {
	var settlements []auction.Settlement

	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var expired []*models.Auction
		err := tx.NewSelect().
			Model(&expired).
			Where("status = ?", models.AuctionStatusActive).
			Where("end_time <= ?", now).
			For("UPDATE SKIP LOCKED").
			Order("end_time ASC").
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("failed to get expired auctions: %w", err)
		}

		for _, a := range expired {
			settlement := auction.Settlement{
				AuctionID: a.ID,
				ProductID: a.ProductID,
				EndedAt:   a.EndTime,
			}

			winning := new(models.Bid)
			err := tx.NewSelect().
				Model(winning).
				Where("auction_id = ? AND is_winning = true", a.ID).
				Scan(ctx)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("failed to get winning bid: %w", err)
			}
			if err == nil && winning.BidAmount >= a.ReservePrice {
				settlement.WinnerID = winning.BidderID
				settlement.FinalPrice = winning.BidAmount
				settlement.ReserveMet = true
			}

			result, err := tx.NewUpdate().
				Model((*models.Auction)(nil)).
				Set("status = ?", models.AuctionStatusEnded).
				Set("winner_id = ?", settlement.WinnerID).
				Set("version = version + 1").
				Set("updated_at = ?", now).
				Where("id = ? AND status = ?", a.ID, models.AuctionStatusActive).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to end auction: %w", err)
			}
			rows, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get affected rows: %w", err)
			}
			if rows == 0 {
				slog.Warn("Auction already settled, skipping",
					slog.Int64("auction_id", a.ID))
				continue
			}

			settlements = append(settlements, settlement)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settlements, nil
}

func (r *AuctionRepository) Cancel(ctx context.Context, auctionID int64) error {
	result, err := r.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("status = ?", models.AuctionStatusCancelled).
		Set("version = version + 1").
		Set("updated_at = ?", r.clock.Now()).
		Where("id = ? AND status IN (?)", auctionID,
			bun.In([]models.AuctionStatus{models.AuctionStatusDraft, models.AuctionStatusActive})).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to cancel auction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return r.transitionFailure(ctx, auctionID)
	}
	return nil
}

// Reschedule extends the deadline of an active auction. The end time only
// ever increases; a shorter deadline is an invalid transition. The version
// bump invalidates bid snapshots taken before the extension, since a stale
// commit would write the pre-extension deadline back.
func (r *AuctionRepository) Reschedule(ctx context.Context, auctionID int64, newEndTime time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("end_time = ?", newEndTime).
		Set("version = version + 1").
		Set("updated_at = ?", r.clock.Now()).
		Where("id = ? AND status = ? AND end_time <= ?",
			auctionID, models.AuctionStatusActive, newEndTime).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to reschedule auction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return r.transitionFailure(ctx, auctionID)
	}
	return nil
}

func (r *AuctionRepository) ListActive(ctx context.Context) ([]*models.Auction, error) {
	var auctions []*models.Auction
	err := r.db.NewSelect().
		Model(&auctions).
		Where("status = ?", models.AuctionStatusActive).
		Order("end_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get active auctions: %w", err)
	}
	return auctions, nil
}

// transitionFailure distinguishes an unknown auction from one in a state
// that forbids the requested transition.
func (r *AuctionRepository) transitionFailure(ctx context.Context, auctionID int64) error {
	exists, err := r.db.NewSelect().
		Model((*models.Auction)(nil)).
		Where("id = ?", auctionID).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check auction: %w", err)
	}
	if !exists {
		return auction.ErrAuctionNotFound
	}
	return auction.ErrInvalidTransition
}
