package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mapsearch-api/internal/config"
	"mapsearch-api/internal/handler"
	"mapsearch-api/internal/history"
	"mapsearch-api/internal/logger"
	"mapsearch-api/internal/mapbox"
	"mapsearch-api/internal/repository"
	"mapsearch-api/internal/sequencer"
	"mapsearch-api/internal/service"
	"mapsearch-api/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
)

//	@title			Map Search API
//	@version		1.0
//	@description	Type-ahead place search backed by the Mapbox Search Box API.
//	@BasePath		/
func main() {
	config, err := config.LoadConfig("./configs")
	if err != nil {
		log.Fatal().Err(err).Msg("cannot load config")
	}

	logger := logger.New(config.LogLevel, config.IsDevelopment())
	log.Logger = logger
	if !config.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// History store: Postgres when configured, otherwise in memory
	var store service.HistoryStore = history.NewLog(config.HistoryLimit)
	if config.DBSource != "" {
		conn, err := pgxpool.New(ctx, config.DBSource)
		if err != nil {
			logger.Fatal().Err(err).Msg("cannot connect to db")
		}
		defer conn.Close()

		repo := repository.NewRepository(conn)
		if err := repo.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("cannot prepare history schema")
		}
		store = repo
		logger.Info().Msg("place history persisted in postgres")
	}

	// Initialize layers
	client := mapbox.NewClient(mapbox.Options{
		BaseURL:      config.MapboxBaseURL,
		AccessToken:  config.MapboxAccessToken,
		SessionToken: config.MapboxSessionToken,
		Limit:        config.SuggestLimit,
		Language:     config.Language,
		Timeout:      config.HTTPTimeout,
		RateLimit:    rate.Limit(config.RateLimitRPS),
		Burst:        int(config.RateLimitRPS) + 1,
	}, logger)
	suggestService := service.NewSuggestService(client)

	sessions := session.NewManager(session.Config{
		Sequencer: sequencer.Config{
			MinQueryLength: config.MinQueryLength,
			Debounce:       config.Debounce(),
		},
		TTL: config.SessionTTL,
	}, suggestService, client, store, logger)
	go sessions.Run(ctx, sweepInterval)

	r := handler.NewRouter(handler.RouterConfig{
		Sessions:       sessions,
		AllowedOrigins: config.AllowedOrigins(),
		Log:            logger,
	})

	// Event streams only end when their request context does, so shutdown cancels them.
	requestCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()

	srv := &http.Server{
		Addr:              config.ServerAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return requestCtx },
	}
	srv.RegisterOnShutdown(cancelRequests)

	go func() {
		logger.Info().Str("addr", config.ServerAddress).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	sessions.Close(shutdownCtx)
}
