package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"portfolio-tracker/config"
	"portfolio-tracker/database"
	"portfolio-tracker/handlers"
	"portfolio-tracker/logger"
	"portfolio-tracker/market"
	"portfolio-tracker/middleware"
	"portfolio-tracker/scheduler"
	"portfolio-tracker/session"
	"portfolio-tracker/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL and Redis connections.
	if err := config.InitDB(cfg); err != nil {
		log.Fatal().Err(err).Msg("Database unavailable")
	}
	sqlDB, err := config.DB.DB()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get database instance")
	}
	defer sqlDB.Close()

	if err := database.AutoMigrate(config.DB); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate models")
	}

	if err := config.InitRedis(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Redis unavailable")
	}
	defer config.Rdb.Close()

	db := database.NewStore(config.DB)
	guests := store.NewGuestStore(config.Rdb, cfg.GuestTTL)

	quoteProviders, historyProviders := buildProviders(cfg, log)
	quotes := market.NewCachedProvider(market.NewChain(log, quoteProviders...), config.Rdb, cfg.QuoteCacheTTL, log)
	bulk := market.NewBulkFetcher(quotes, log,
		market.WithTimeout(cfg.QuoteTimeout),
		market.WithRetries(cfg.QuoteRetries, market.DefaultBulkBackoff),
	)
	// Upstream history is cached and archived; the archive also answers when
	// every upstream fails.
	history := market.HistoryChain{
		market.NewCachedHistory(historyProviders, config.Rdb, db, log),
		db,
	}

	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	sessions := session.NewManager(db, guests, session.Deps{
		Quotes:    quotes,
		Fetcher:   bulk,
		Scheduler: sched,
		Schedule:  cfg.RefreshSchedule,
		Log:       log,
	})
	defer sessions.CloseAll()

	h := &handlers.Handler{
		Sessions: sessions,
		Users:    db,
		Guests:   guests,
		Tokens:   config.Rdb,
		Quotes:   quotes,
		Bulk:     bulk,
		History:  history,
		Cache:    quotes,
		Health: map[string]handlers.HealthCheck{
			"postgres": sqlDB.PingContext,
			"redis":    func(ctx context.Context) error { return config.Rdb.Ping(ctx).Err() },
		},
		JWTSecret:  cfg.JWTSecret,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
		Log:        log,
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log))
	h.Register(router)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("quotes", quotes.Name()).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

// buildProviders returns the configured quote providers in fallback order,
// and the history providers.
func buildProviders(cfg *config.Config, log zerolog.Logger) ([]market.QuoteProvider, market.HistoryChain) {
	var (
		quotes  []market.QuoteProvider
		history market.HistoryChain
	)

	if p, err := market.NewFinnhubProvider(cfg.FinnhubAPIKey, market.FinnhubBaseURL); err == nil {
		quotes = append(quotes, p)
	} else {
		log.Warn().Err(err).Msg("Finnhub disabled")
	}

	if cfg.EnableYahoo {
		y := market.NewYahooProvider(market.YahooBaseURL)
		quotes = append(quotes, y)
		history = append(history, y)
	}

	if p, err := market.NewAlphaVantageProvider(cfg.AlphaVantageAPIKey, market.AlphaVantageBaseURL); err == nil {
		quotes = append(quotes, p)
		history = append(history, p)
	} else {
		log.Warn().Err(err).Msg("Alpha Vantage disabled")
	}

	if len(quotes) == 0 {
		log.Warn().Msg("No quote provider configured, positions will be valued at purchase price")
	}
	return quotes, history
}
