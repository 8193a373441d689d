package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"sirius-funding/internal/campaign"
	"sirius-funding/internal/config"
	"sirius-funding/internal/donation"
	"sirius-funding/internal/handlers"
	"sirius-funding/internal/ledger/horizon"
	"sirius-funding/internal/logger"
	"sirius-funding/internal/middleware"
	"sirius-funding/internal/settlement"
	"sirius-funding/internal/store"
	"sirius-funding/internal/store/memstore"
	"sirius-funding/internal/store/sqlstore"
	"sirius-funding/internal/wallet"
	"sirius-funding/internal/wallet/bridge"
	ws "sirius-funding/internal/websocket"
)

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.StoreDriver == "memory" {
		return memstore.New(), nil
	}
	return sqlstore.Open(ctx, cfg.StoreDriver, cfg.DSN)
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}

func main() {
	// Load Configuration
	cfg, err := config.Load(".")
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("cannot load config")
	}

	log := logger.New(cfg.AppEnv)
	log.Info().Str("env", cfg.AppEnv).Msg("starting funding server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to the Database
	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot open store")
	}
	defer st.Close()
	log.Info().Str("driver", cfg.StoreDriver).Msg("store ready")

	// Wallet session, restored from the local cache
	provider := bridge.NewClient(cfg.WalletBridgeURL, cfg.WalletBridgeTimeout)
	session := wallet.NewSession(provider, wallet.FileCache{Path: cfg.WalletCachePath}, log)
	if err := session.Restore(); err != nil {
		log.Warn().Err(err).Msg("could not restore wallet session")
	}

	network := horizon.NewClient(cfg.HorizonURL, horizon.Options{RequestsPerSec: cfg.HorizonRPS}, log)

	registry := campaign.NewRegistry(st, session, log)
	donations := donation.NewLedger(st, log)
	coordinator := settlement.NewCoordinator(session, registry, donations, network, st, settlement.Options{
		NetworkPassphrase: cfg.NetworkPassphrase,
		TxTimeout:         cfg.TxTimeout,
		SettleTimeout:     cfg.SettleTimeout,
	}, log)
	reconciler := settlement.NewReconciler(coordinator, st, cfg.ReconcileInterval, log)

	hub := ws.NewHub(log)
	session.Subscribe(hub.OnWalletEvent)
	coordinator.Observe(hub.OnSettlement)
	coordinator.Observe(settlement.RecordMetrics)

	// Set up our Gin router
	if cfg.AppEnv != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	r.Use(cors.New(corsConfig(cfg.AllowedOrigins())))

	r.GET("/ping", func(c *gin.Context) {
		if err := st.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"message": "store unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	websocketHandler := handlers.NewWebSocketHandler(hub, cfg.AllowedOrigins())
	r.GET("/ws", websocketHandler.ServeWs)

	// All API routes under /api
	handlers.Routes{
		Wallet:    handlers.NewWalletHandler(session, network, cfg.JWTSecret, cfg.JWTTTL),
		Campaigns: handlers.NewCampaignHandler(registry, donations),
		Donations: handlers.NewDonationHandler(coordinator),
		JwtSecret: cfg.JWTSecret,
		Identity:  session,
	}.Register(r.Group("/api"))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return reconciler.Run(gctx) })
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}
