package server

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gavelworks/bidhouse/bidhouse/auction"
	"github.com/gavelworks/bidhouse/bidhouse/catalog"
	"github.com/gavelworks/bidhouse/bidhouse/database/models"
)

const defaultBidHistoryLimit = 20

type placeBidRequest struct {
	Amount int64 `json:"amount"`
}

type bidView struct {
	BidID     int64     `json:"bid_id"`
	BidderID  string    `json:"bidder_id"`
	Amount    int64     `json:"amount"`
	BidTime   time.Time `json:"bid_time"`
	IsWinning bool      `json:"is_winning"`
}

type auctionView struct {
	AuctionID         int64            `json:"auction_id"`
	ProductID         string           `json:"product_id"`
	Status            string           `json:"status"`
	StartingPrice     int64            `json:"starting_price"`
	CurrentBid        int64            `json:"current_bid"`
	MinimumBid        int64            `json:"minimum_bid"`
	BidIncrement      int64            `json:"bid_increment"`
	TotalBids         int64            `json:"total_bids"`
	StartTime         time.Time        `json:"start_time"`
	EndTime           time.Time        `json:"end_time"`
	TimeRemaining     int64            `json:"time_remaining_seconds"`
	IsAutoExtend      bool             `json:"is_auto_extend"`
	AutoExtendMinutes int              `json:"auto_extend_minutes"`
	WinningBidderID   string           `json:"winning_bidder_id,omitempty"`
	Product           *catalog.Product `json:"product,omitempty"`
}

type auctionDetailView struct {
	auctionView
	RecentBids []bidView `json:"recent_bids"`
}

func (s *Server) snapshotView(c *fiber.Ctx, snap *auction.Snapshot) auctionView {
	remaining := int64(snap.EndTime.Sub(s.clock.Now()).Seconds())
	if remaining < 0 || snap.Status != models.AuctionStatusActive {
		remaining = 0
	}
	return auctionView{
		AuctionID:         snap.AuctionID,
		ProductID:         snap.ProductID,
		Status:            string(snap.Status),
		StartingPrice:     snap.StartingPrice,
		CurrentBid:        snap.CurrentBid,
		MinimumBid:        auction.MinimumBid(snap),
		BidIncrement:      snap.BidIncrement,
		TotalBids:         snap.TotalBids,
		StartTime:         snap.StartTime,
		EndTime:           snap.EndTime,
		TimeRemaining:     remaining,
		IsAutoExtend:      snap.IsAutoExtend,
		AutoExtendMinutes: snap.AutoExtendMinutes,
		WinningBidderID:   snap.WinningBidderID,
		Product:           s.catalog.TryGetProduct(c.Context(), snap.ProductID),
	}
}

// handlePlaceBid runs the bid acceptance path. Rejections and commit
// conflicts come back as structured 409s so clients can retry or adjust.
func (s *Server) handlePlaceBid(c *fiber.Ctx) error {
	auctionID, err := c.ParamsInt("id")
	if err != nil {
		return SendBadRequest(c, "Invalid auction id", nil)
	}

	var req placeBidRequest
	if err := c.BodyParser(&req); err != nil {
		return SendBadRequest(c, "Invalid request body", nil)
	}
	if req.Amount <= 0 {
		return SendBadRequest(c, "Bid amount must be positive", nil)
	}

	account := AccountFromContext(c)
	result, err := s.engine.PlaceBid(c.Context(), int64(auctionID), account.ID, req.Amount, auction.BidMeta{
		SourceAddress: GetIPAddress(c),
		ClientAgent:   GetUserAgent(c),
	})
	if err != nil {
		return s.sendBidError(c, err)
	}

	return SendSuccess(c, fiber.Map{
		"bid_id":      result.BidID,
		"current_bid": result.NewCurrentBid,
		"total_bids":  result.TotalBids,
		"end_time":    result.EndTime,
		"extended":    result.Extended,
	}, "Bid accepted")
}

func (s *Server) sendBidError(c *fiber.Ctx, err error) error {
	var rejected *auction.BidRejectedError
	switch {
	case errors.As(err, &rejected):
		details := map[string]string{"reason": string(rejected.Reason)}
		if rejected.Reason == auction.RejectBidTooLow {
			details["minimum_bid"] = strconv.FormatInt(rejected.MinimumBid, 10)
		}
		return SendConflict(c, "BID_REJECTED", rejected.Error(), details)
	case errors.Is(err, auction.ErrCommitConflict):
		return SendConflict(c, "COMMIT_CONFLICT", "Bid lost a concurrent update race, retry", map[string]string{
			"retryable": "true",
		})
	case errors.Is(err, auction.ErrAuctionNotFound):
		return SendNotFound(c, "Auction not found")
	default:
		slog.Error("Bid placement failed", slog.Any("error", err))
		return SendInternalServerError(c, "Failed to place bid")
	}
}

func (s *Server) handleToggleWatch(c *fiber.Ctx) error {
	auctionID, err := c.ParamsInt("id")
	if err != nil {
		return SendBadRequest(c, "Invalid auction id", nil)
	}

	account := AccountFromContext(c)
	watching, err := s.store.ToggleWatch(c.Context(), int64(auctionID), account.ID)
	if err != nil {
		if errors.Is(err, auction.ErrAuctionNotFound) {
			return SendNotFound(c, "Auction not found")
		}
		slog.Error("Watch toggle failed", slog.Any("error", err))
		return SendInternalServerError(c, "Failed to toggle watch")
	}

	message := "Watch removed"
	if watching {
		message = "Watch added"
	}
	return SendSuccess(c, fiber.Map{"watching": watching}, message)
}

func (s *Server) handleGetAuction(c *fiber.Ctx) error {
	auctionID, err := c.ParamsInt("id")
	if err != nil {
		return SendBadRequest(c, "Invalid auction id", nil)
	}

	snap, err := s.store.Snapshot(c.Context(), int64(auctionID))
	if err != nil {
		if errors.Is(err, auction.ErrAuctionNotFound) {
			return SendNotFound(c, "Auction not found")
		}
		slog.Error("Snapshot read failed", slog.Any("error", err))
		return SendInternalServerError(c, "Failed to load auction")
	}

	recent, err := s.store.RecentBids(c.Context(), int64(auctionID), defaultBidHistoryLimit)
	if err != nil {
		slog.Error("Bid history read failed", slog.Any("error", err))
		return SendInternalServerError(c, "Failed to load auction")
	}
	recentViews := make([]bidView, 0, len(recent))
	for _, b := range recent {
		recentViews = append(recentViews, bidView{
			BidID:     b.ID,
			BidderID:  b.BidderID,
			Amount:    b.BidAmount,
			BidTime:   b.BidTime,
			IsWinning: b.IsWinning,
		})
	}

	return SendSuccess(c, auctionDetailView{
		auctionView: s.snapshotView(c, snap),
		RecentBids:  recentViews,
	}, "")
}

// handleListAuctions lists active auctions, optionally ranked by a fuzzy
// product title query.
func (s *Server) handleListAuctions(c *fiber.Ctx) error {
	active, err := s.lifecycle.ListActive(c.Context())
	if err != nil {
		slog.Error("Active auction listing failed", slog.Any("error", err))
		return SendInternalServerError(c, "Failed to list auctions")
	}

	// Several active auctions may sell the same product, so the index maps
	// a product to every auction view carrying it.
	views := make([]auctionView, 0, len(active))
	byProduct := make(map[string][]int, len(active))
	products := make([]*catalog.Product, 0, len(active))
	for _, a := range active {
		snap, err := s.store.Snapshot(c.Context(), a.ID)
		if err != nil {
			continue
		}
		view := s.snapshotView(c, snap)
		views = append(views, view)
		if view.Product != nil {
			if _, seen := byProduct[view.Product.ID]; !seen {
				products = append(products, view.Product)
			}
			byProduct[view.Product.ID] = append(byProduct[view.Product.ID], len(views)-1)
		}
	}

	query := c.Query("q")
	if query == "" {
		return SendSuccess(c, views, "")
	}

	matched := catalog.SearchByTitle(products, query)
	out := make([]auctionView, 0, len(matched))
	for _, p := range matched {
		for _, idx := range byProduct[p.ID] {
			out = append(out, views[idx])
		}
	}
	return SendSuccess(c, out, "")
}

// handleListProducts exposes the catalog's product set, optionally ranked
// by a fuzzy title query.
func (s *Server) handleListProducts(c *fiber.Ctx) error {
	products, err := s.catalog.ListProducts(c.Context())
	if err != nil {
		slog.Error("Product listing failed", slog.Any("error", err))
		return SendInternalServerError(c, "Failed to list products")
	}

	if query := c.Query("q"); query != "" {
		products = catalog.SearchByTitle(products, query)
	}
	return SendSuccess(c, products, "")
}

func (s *Server) handleDeleteProductImage(c *fiber.Ctx) error {
	productID := c.Params("id")
	if productID == "" {
		return SendBadRequest(c, "Invalid product id", nil)
	}

	if err := s.catalog.DeleteProductImage(c.Context(), productID); err != nil {
		switch {
		case errors.Is(err, catalog.ErrProductNotFound):
			return SendNotFound(c, "Product not found")
		case errors.Is(err, catalog.ErrImageUnavailable):
			return SendBadRequest(c, "Product has no deletable image", map[string]string{"product_id": productID})
		default:
			slog.Error("Product image deletion failed", slog.Any("error", err))
			return SendInternalServerError(c, "Failed to delete product image")
		}
	}

	slog.Info("Product image deleted",
		slog.String("product_id", productID),
		slog.String("deleted_by", AccountFromContext(c).ID))
	return SendSuccess(c, fiber.Map{"product_id": productID}, "Product image deleted")
}

func (s *Server) handleAuctionBids(c *fiber.Ctx) error {
	auctionID, err := c.ParamsInt("id")
	if err != nil {
		return SendBadRequest(c, "Invalid auction id", nil)
	}

	limit := c.QueryInt("limit", defaultBidHistoryLimit)
	if limit <= 0 || limit > 100 {
		limit = defaultBidHistoryLimit
	}

	if _, err := s.store.Snapshot(c.Context(), int64(auctionID)); err != nil {
		if errors.Is(err, auction.ErrAuctionNotFound) {
			return SendNotFound(c, "Auction not found")
		}
		slog.Error("Snapshot read failed", slog.Any("error", err))
		return SendInternalServerError(c, "Failed to load auction")
	}

	bids, err := s.store.RecentBids(c.Context(), int64(auctionID), limit)
	if err != nil {
		slog.Error("Bid history read failed", slog.Any("error", err))
		return SendInternalServerError(c, "Failed to load bids")
	}

	views := make([]bidView, 0, len(bids))
	for _, b := range bids {
		views = append(views, bidView{
			BidID:     b.ID,
			BidderID:  b.BidderID,
			Amount:    b.BidAmount,
			BidTime:   b.BidTime,
			IsWinning: b.IsWinning,
		})
	}
	return SendSuccess(c, views, "")
}

type createAuctionRequest struct {
	ProductID         string    `json:"product_id"`
	StartingPrice     int64     `json:"starting_price"`
	ReservePrice      int64     `json:"reserve_price"`
	BidIncrement      int64     `json:"bid_increment"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	IsAutoExtend      bool      `json:"is_auto_extend"`
	AutoExtendMinutes int       `json:"auto_extend_minutes"`
}

func (r *createAuctionRequest) validate(now time.Time) map[string]string {
	details := make(map[string]string)
	if r.ProductID == "" {
		details["product_id"] = "required"
	}
	if r.StartingPrice <= 0 {
		details["starting_price"] = "must be positive"
	}
	if r.BidIncrement <= 0 {
		details["bid_increment"] = "must be positive"
	}
	if r.ReservePrice < 0 {
		details["reserve_price"] = "must not be negative"
	}
	if !r.EndTime.After(r.StartTime) {
		details["end_time"] = "must be after start_time"
	}
	if r.EndTime.Before(now) {
		details["end_time"] = "must be in the future"
	}
	if r.IsAutoExtend && r.AutoExtendMinutes <= 0 {
		details["auto_extend_minutes"] = "must be positive when auto extend is enabled"
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

func (s *Server) handleCreateAuction(c *fiber.Ctx) error {
	var req createAuctionRequest
	if err := c.BodyParser(&req); err != nil {
		return SendBadRequest(c, "Invalid request body", nil)
	}
	if details := req.validate(s.clock.Now()); details != nil {
		return SendBadRequest(c, "Invalid auction parameters", details)
	}

	if _, err := s.catalog.GetProduct(c.Context(), req.ProductID); err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return SendBadRequest(c, "Unknown product", map[string]string{"product_id": req.ProductID})
		}
		slog.Error("Product lookup failed", slog.Any("error", err))
		return SendInternalServerError(c, "Failed to verify product")
	}

	created, err := s.lifecycle.Create(c.Context(), auction.CreateParams{
		ProductID:         req.ProductID,
		StartingPrice:     req.StartingPrice,
		ReservePrice:      req.ReservePrice,
		BidIncrement:      req.BidIncrement,
		StartTime:         req.StartTime,
		EndTime:           req.EndTime,
		IsAutoExtend:      req.IsAutoExtend,
		AutoExtendMinutes: req.AutoExtendMinutes,
	})
	if err != nil {
		slog.Error("Auction creation failed", slog.Any("error", err))
		return SendInternalServerError(c, "Failed to create auction")
	}

	slog.Info("Auction created",
		slog.Int64("auction_id", created.ID),
		slog.String("product_id", created.ProductID),
		slog.String("created_by", AccountFromContext(c).ID))

	return SendCreated(c, fiber.Map{
		"auction_id": created.ID,
		"status":     created.Status,
		"start_time": created.StartTime,
		"end_time":   created.EndTime,
	}, "Auction created")
}

func (s *Server) handleCancelAuction(c *fiber.Ctx) error {
	auctionID, err := c.ParamsInt("id")
	if err != nil {
		return SendBadRequest(c, "Invalid auction id", nil)
	}

	if err := s.lifecycle.Cancel(c.Context(), int64(auctionID)); err != nil {
		return s.sendTransitionError(c, err, "Failed to cancel auction")
	}

	slog.Info("Auction cancelled",
		slog.Int64("auction_id", int64(auctionID)),
		slog.String("cancelled_by", AccountFromContext(c).ID))
	return SendSuccess(c, fiber.Map{"auction_id": auctionID}, "Auction cancelled")
}

type rescheduleRequest struct {
	EndTime time.Time `json:"end_time"`
}

func (s *Server) handleRescheduleAuction(c *fiber.Ctx) error {
	auctionID, err := c.ParamsInt("id")
	if err != nil {
		return SendBadRequest(c, "Invalid auction id", nil)
	}

	var req rescheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return SendBadRequest(c, "Invalid request body", nil)
	}
	if req.EndTime.IsZero() {
		return SendBadRequest(c, "end_time is required", nil)
	}

	if err := s.lifecycle.Reschedule(c.Context(), int64(auctionID), req.EndTime); err != nil {
		return s.sendTransitionError(c, err, "Failed to reschedule auction")
	}

	slog.Info("Auction rescheduled",
		slog.Int64("auction_id", int64(auctionID)),
		slog.Time("end_time", req.EndTime),
		slog.String("rescheduled_by", AccountFromContext(c).ID))
	return SendSuccess(c, fiber.Map{
		"auction_id": auctionID,
		"end_time":   req.EndTime,
	}, "Auction rescheduled")
}

func (s *Server) sendTransitionError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, auction.ErrAuctionNotFound):
		return SendNotFound(c, "Auction not found")
	case errors.Is(err, auction.ErrInvalidTransition):
		return SendConflict(c, "INVALID_TRANSITION", "Auction state does not allow this operation", nil)
	default:
		slog.Error("Auction transition failed", slog.Any("error", err))
		return SendInternalServerError(c, fallback)
	}
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"version": s.version,
	})
}
