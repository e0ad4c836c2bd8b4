package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	httptransport "github.com/deskworks/ticket-desk/internal/api/http"
	"github.com/deskworks/ticket-desk/internal/api/http/handlers"
	"github.com/deskworks/ticket-desk/internal/catalog"
	"github.com/deskworks/ticket-desk/internal/config"
	"github.com/deskworks/ticket-desk/internal/events"
	"github.com/deskworks/ticket-desk/internal/observability"
	"github.com/deskworks/ticket-desk/internal/persistence"
	"github.com/deskworks/ticket-desk/internal/repository"
	"github.com/deskworks/ticket-desk/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv, err := persistence.OpenKV(ctx, *cfg, logger)
	if err != nil {
		logger.Fatal("failed to open ticket store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}
	defer kv.Close() //nolint:errcheck
	if !cfg.Store.StrictWrites {
		logger.Warn("STORE_STRICT_WRITES is off; failed ticket writes are logged and dropped")
	}

	bots, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		logger.Fatal("failed to load bot catalog", zap.String("path", cfg.Catalog.Path), zap.Error(err))
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	service.NewNotificationService(dispatcher, logger, cfg.Notification).RegisterHandlers()

	ticketRepo := repository.NewTicketRepository(
		repository.NewCollectionStore(kv, cfg.Store.Key),
		repository.TicketRepositoryOptions{
			Logger:       logger,
			Metrics:      metrics,
			StrictWrites: cfg.Store.StrictWrites,
			MaxRetries:   cfg.Store.MaxRetries,
		},
	)
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo: ticketRepo,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	catalogService := service.NewCatalogService(bots)
	logger.Info("bot catalog loaded",
		zap.String("path", cfg.Catalog.Path),
		zap.Int("bots", catalogService.Size()))

	app := httptransport.NewApp(cfg.App.Name, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:  handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, cfg.Store.Backend, kv, metrics),
		Tickets: handlers.NewTicketsHandler(ticketService),
		Bots:    handlers.NewBotsHandler(catalogService),
	})

	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.App.Addr()),
			zap.String("store", cfg.Store.Backend),
			zap.String("key", cfg.Store.Key))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.Shutdown(); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
