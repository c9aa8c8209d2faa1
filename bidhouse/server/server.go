// Package server exposes the auction engine over HTTP. Bidders and
// watchers authenticate with bearer tokens; admin routes additionally
// require the admin flag on the resolved account.
package server

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/gavelworks/bidhouse/bidhouse/auction"
	"github.com/gavelworks/bidhouse/bidhouse/catalog"
	"github.com/gavelworks/bidhouse/bidhouse/identity"
)

type Server struct {
	app       *fiber.App
	engine    *auction.Engine
	store     auction.Store
	lifecycle auction.LifecycleStore
	catalog   *catalog.Service
	resolver  identity.Resolver
	clock     auction.Clock
	version   string
}

type Options struct {
	Engine    *auction.Engine
	Store     auction.Store
	Lifecycle auction.LifecycleStore
	Catalog   *catalog.Service
	Resolver  identity.Resolver
	Clock     auction.Clock
	Version   string
}

func New(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = auction.SystemClock()
	}

	app := fiber.New(fiber.Config{
		AppName:      "BidHouse API",
		ServerHeader: "BidHouse",
	})

	s := &Server{
		app:       app,
		engine:    opts.Engine,
		store:     opts.Store,
		lifecycle: opts.Lifecycle,
		catalog:   opts.Catalog,
		resolver:  opts.Resolver,
		clock:     opts.Clock,
		version:   opts.Version,
	}

	app.Use(recover.New())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(cors.New(cors.Config{
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
	app.Use(LoggingMiddleware())

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)

	api := s.app.Group("/api")
	api.Use(AuthRequired(s.resolver))

	auctions := api.Group("/auctions")
	auctions.Get("/", s.handleListAuctions)
	auctions.Get("/:id", s.handleGetAuction)
	auctions.Get("/:id/bids", s.handleAuctionBids)
	auctions.Post("/:id/bid", s.handlePlaceBid)
	auctions.Post("/:id/watch", s.handleToggleWatch)

	api.Get("/products", s.handleListProducts)

	admin := api.Group("/admin")
	admin.Use(AdminRequired())
	admin.Post("/auctions", s.handleCreateAuction)
	admin.Post("/auctions/:id/cancel", s.handleCancelAuction)
	admin.Post("/auctions/:id/reschedule", s.handleRescheduleAuction)
	admin.Delete("/products/:id/image", s.handleDeleteProductImage)

	s.app.Use(func(c *fiber.Ctx) error {
		slog.Warn("No route matched for request",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("ip", GetIPAddress(c)),
		)
		return SendNotFound(c, "The requested endpoint does not exist")
	})
}

func (s *Server) Listen(address string) error {
	return s.app.Listen(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the underlying Fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
