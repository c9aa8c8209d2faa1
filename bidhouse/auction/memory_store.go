package auction

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gavelworks/bidhouse/bidhouse/database/models"
)

// MemoryStore is a mutex-guarded implementation of Store and
// LifecycleStore. It enforces the same version compare-and-swap contract
// as the Postgres store, which keeps the engine's retry loop honest in
// tests and makes the service runnable without a database.
type MemoryStore struct {
	mu       sync.Mutex
	clock    Clock
	auctions map[int64]*models.Auction
	bids     map[int64][]*models.Bid
	watches  map[int64]map[string]time.Time
}

func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = SystemClock()
	}
	return &MemoryStore{
		clock:    clock,
		auctions: make(map[int64]*models.Auction),
		bids:     make(map[int64][]*models.Bid),
		watches:  make(map[int64]map[string]time.Time),
	}
}

func (s *MemoryStore) Snapshot(_ context.Context, auctionID int64) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[auctionID]
	if !ok {
		return nil, ErrAuctionNotFound
	}
	s.activateLocked(a, s.clock.Now())
	return s.snapshotLocked(a), nil
}

// activateLocked performs the lazy draft-to-active transition on any read
// or write touching the auction. Idempotent.
func (s *MemoryStore) activateLocked(a *models.Auction, now time.Time) {
	if a.Status == models.AuctionStatusDraft && !now.Before(a.StartTime) {
		a.Status = models.AuctionStatusActive
		a.UpdatedAt = now
	}
}

func (s *MemoryStore) snapshotLocked(a *models.Auction) *Snapshot {
	snap := &Snapshot{
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
	for _, b := range s.bids[a.ID] {
		if b.IsWinning {
			snap.WinningBidID = b.ID
			snap.WinningBidderID = b.BidderID
			break
		}
	}
	return snap
}

func (s *MemoryStore) CommitBid(_ context.Context, commit BidCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[commit.AuctionID]
	if !ok {
		return ErrAuctionNotFound
	}
	// Same contract as the conditional UPDATE in Postgres: the commit only
	// lands on an active row at the expected version.
	if a.Status != models.AuctionStatusActive || a.Version != commit.ExpectedVersion {
		return ErrVersionConflict
	}

	if commit.PreviousWinningBidID != 0 {
		for _, b := range s.bids[a.ID] {
			if b.ID == commit.PreviousWinningBidID {
				b.IsWinning = false
				b.IsOutbid = true
				break
			}
		}
	}

	bid := *commit.Bid
	s.bids[a.ID] = append(s.bids[a.ID], &bid)

	a.CurrentBid = bid.BidAmount
	a.TotalBids++
	a.EndTime = commit.NewEndTime
	a.Version++
	a.UpdatedAt = bid.BidTime
	return nil
}

func (s *MemoryStore) ListWatchers(_ context.Context, auctionID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	watchers := make([]string, 0, len(s.watches[auctionID]))
	for id := range s.watches[auctionID] {
		watchers = append(watchers, id)
	}
	sort.Strings(watchers)
	return watchers, nil
}

func (s *MemoryStore) ListBidders(_ context.Context, auctionID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var bidders []string
	for _, b := range s.bids[auctionID] {
		if !seen[b.BidderID] {
			seen[b.BidderID] = true
			bidders = append(bidders, b.BidderID)
		}
	}
	return bidders, nil
}

func (s *MemoryStore) ToggleWatch(_ context.Context, auctionID int64, watcherID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.auctions[auctionID]; !ok {
		return false, ErrAuctionNotFound
	}
	set := s.watches[auctionID]
	if set == nil {
		set = make(map[string]time.Time)
		s.watches[auctionID] = set
	}
	if _, watching := set[watcherID]; watching {
		delete(set, watcherID)
		return false, nil
	}
	set[watcherID] = s.clock.Now()
	return true, nil
}

func (s *MemoryStore) RecentBids(_ context.Context, auctionID int64, limit int) ([]*models.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.bids[auctionID]
	out := make([]*models.Bid, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		b := *all[i]
		out = append(out, &b)
	}
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, params CreateParams) (*models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	a := &models.Auction{
		ID:                NewID(now),
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
	s.activateLocked(a, now)
	s.auctions[a.ID] = a
	return a, nil
}

func (s *MemoryStore) ActivateScheduled(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var activated int64
	for _, a := range s.auctions {
		if a.Status == models.AuctionStatusDraft && !now.Before(a.StartTime) {
			a.Status = models.AuctionStatusActive
			a.UpdatedAt = now
			activated++
		}
	}
	return activated, nil
}

func (s *MemoryStore) SettleExpired(_ context.Context, now time.Time) ([]Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var settlements []Settlement
	for _, a := range s.auctions {
		if a.Status != models.AuctionStatusActive || now.Before(a.EndTime) {
			continue
		}

		settlement := Settlement{
			AuctionID: a.ID,
			ProductID: a.ProductID,
			EndedAt:   a.EndTime,
		}
		for _, b := range s.bids[a.ID] {
			if b.IsWinning && b.BidAmount >= a.ReservePrice {
				settlement.WinnerID = b.BidderID
				settlement.FinalPrice = b.BidAmount
				settlement.ReserveMet = true
				break
			}
		}

		a.Status = models.AuctionStatusEnded
		a.WinnerID = settlement.WinnerID
		a.Version++
		a.UpdatedAt = now
		settlements = append(settlements, settlement)
	}
	return settlements, nil
}

func (s *MemoryStore) Cancel(_ context.Context, auctionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[auctionID]
	if !ok {
		return ErrAuctionNotFound
	}
	if a.Status.Terminal() {
		return ErrInvalidTransition
	}
	a.Status = models.AuctionStatusCancelled
	a.Version++
	a.UpdatedAt = s.clock.Now()
	return nil
}

func (s *MemoryStore) Reschedule(_ context.Context, auctionID int64, newEndTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[auctionID]
	if !ok {
		return ErrAuctionNotFound
	}
	if a.Status != models.AuctionStatusActive || newEndTime.Before(a.EndTime) {
		return ErrInvalidTransition
	}
	// The deadline is part of the CAS-protected tuple: bumping the version
	// here invalidates any bid snapshot taken before the extension, so a
	// stale commit cannot write the old deadline back.
	a.EndTime = newEndTime
	a.Version++
	a.UpdatedAt = s.clock.Now()
	return nil
}

func (s *MemoryStore) ListActive(_ context.Context) ([]*models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active []*models.Auction
	for _, a := range s.auctions {
		if a.Status == models.AuctionStatusActive {
			copied := *a
			active = append(active, &copied)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].EndTime.Before(active[j].EndTime) })
	return active, nil
}
