package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"illustrator/internal/adapter/repo"
	"illustrator/internal/http/handlers"
	httpapi "illustrator/internal/http/httpapi"
	"illustrator/internal/imagegen"
	"illustrator/internal/infra"
	"illustrator/internal/infra/geoip"
	"illustrator/internal/providers/replicate"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	if !cfg.HasReplicateToken() {
		logger.Warn().Msg("REPLICATE_API_TOKEN is not set; /generate will fail until it is configured")
	}

	ctx := context.Background()

	resolver, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.GeoIPDBPath).Msg("geoip disabled")
	}
	defer resolver.Close()

	var journal imagegen.Journal = imagegen.NopJournal{}
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	if dbpool != nil {
		defer dbpool.Close()
		generations := repo.NewGenerationRepository(infra.NewSQLRunner(dbpool, logger))
		schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := generations.EnsureSchema(schemaCtx)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare generation journal")
		}
		journal = generations
		logger.Info().Msg("generation journal enabled")
	}

	provider := replicate.NewClient(replicate.Options{
		APIToken:     cfg.ReplicateAPIToken,
		BaseURL:      cfg.ReplicateBaseURL,
		Logger:       &logger,
		PollInterval: cfg.ReplicatePollInterval,
		WaitSeconds:  60,
	})
	generator := imagegen.NewService(cfg, provider, journal, logger)

	app := handlers.NewApp(cfg, logger, generator)
	router := httpapi.NewRouter(app, resolver.Lookup())
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("model", cfg.ReplicateModelVersion).Msgf("API listening on %s", server.Addr())
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
