package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Combine-Capital/assetdb/internal/asset"
	"github.com/Combine-Capital/assetdb/internal/config"
	"github.com/Combine-Capital/assetdb/internal/manager"
	"github.com/Combine-Capital/assetdb/internal/migration"
	"github.com/Combine-Capital/assetdb/internal/oracle"
	"github.com/Combine-Capital/assetdb/internal/repository"
	"github.com/Combine-Capital/assetdb/internal/vault"
)

const healthTimeout = 2 * time.Second

// Service manages the lifecycle of the asset database components: the store
// file and its migrations, the optional Redis cache, the user asset index, the
// resolver, the price oracle and the metrics/health endpoint.
type Service struct {
	cfg    *config.Config
	logger zerolog.Logger

	db     *sqlx.DB
	redis  redis.UniversalClient
	repo   repository.Repository
	known  *manager.KnownAssets
	assets *manager.AssetManager
	prices oracle.PriceOracle
	vaults *vault.Processor

	httpServer *http.Server
	httpAddr   string
}

// New creates a new service instance with the given configuration and logger.
func New(cfg *config.Config, logger zerolog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		logger: logger,
	}
}

// Start initializes all service components.
// Initialization order:
// 1. Store file, migrated to the configured version
// 2. Redis cache (when enabled)
// 3. User asset index
// 4. Resolver, price oracle and vault processor
// 5. HTTP metrics and health server (when an address is configured)
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info().Msg("Initializing assetdb service components")

	if err := s.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := s.initCache(ctx); err != nil {
		s.closeStores()
		return fmt.Errorf("failed to initialize cache: %w", err)
	}

	s.known = manager.NewKnownAssets(s.repo, s.logger)
	if err := s.known.Load(ctx); err != nil {
		s.closeStores()
		return fmt.Errorf("failed to load user asset index: %w", err)
	}

	s.assets = manager.NewAssetManager(s.repo, s.known, manager.NewEventPublisher(s.logger), s.logger)
	s.prices = s.newOracle()
	s.vaults = vault.NewProcessor(s.assets, s.prices, asset.ChainEthereum, s.logger)

	if s.cfg.Metrics.Addr != "" {
		if err := s.startHTTP(); err != nil {
			s.closeStores()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	s.logger.Info().
		Str("database", s.cfg.Database.Path).
		Bool("cache", s.redis != nil).
		Str("oracle", s.cfg.Oracle.Provider).
		Str("metrics_addr", s.httpAddr).
		Msg("assetdb service started successfully")
	return nil
}

// Stop gracefully shuts down all service components. The HTTP server and the
// user asset index are drained concurrently; the stores close last.
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down assetdb service")

	var g errgroup.Group
	if s.httpServer != nil {
		g.Go(func() error {
			if err := s.httpServer.Shutdown(ctx); err != nil {
				return fmt.Errorf("stop HTTP server: %w", err)
			}
			return nil
		})
	}
	if s.known != nil {
		g.Go(func() error {
			if err := s.known.Close(ctx); err != nil {
				return fmt.Errorf("close user asset index: %w", err)
			}
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to drain service components")
	}

	err = errors.Join(err, s.closeStores())
	s.logger.Info().Msg("assetdb service stopped")
	return err
}

// Name returns the service name for identification.
func (s *Service) Name() string {
	return "assetdb"
}

// Health checks store connectivity.
func (s *Service) Health(ctx context.Context) error {
	if s.repo == nil {
		return fmt.Errorf("repository not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return s.repo.Ping(ctx)
}

// Assets returns the resolver. It is nil before Start.
func (s *Service) Assets() *manager.AssetManager { return s.assets }

// Vaults returns the vault event processor. It is nil before Start.
func (s *Service) Vaults() *vault.Processor { return s.vaults }

// Repository returns the (possibly cached) asset store. It is nil before Start.
func (s *Service) Repository() repository.Repository { return s.repo }

// Logger returns the service root logger.
func (s *Service) Logger() zerolog.Logger { return s.logger }

// HTTPAddr returns the address the metrics server listens on, if any.
func (s *Service) HTTPAddr() string { return s.httpAddr }

// initDatabase opens the store file and migrates it before any handle is
// handed out.
func (s *Service) initDatabase(ctx context.Context) error {
	target := s.cfg.Database.TargetVersion
	if target == 0 {
		target = migration.LatestVersion
	}
	if target != migration.LatestVersion {
		return fmt.Errorf("target schema version %d cannot serve, repository needs version %d", target, migration.LatestVersion)
	}
	s.logger.Info().
		Str("path", s.cfg.Database.Path).
		Int("target_version", target).
		Msg("Opening asset database")

	db, err := repository.Open(ctx, s.cfg.Database.Path, s.cfg.Database.BusyTimeout)
	if err != nil {
		return err
	}
	repo, err := migration.OpenAndMigrate(ctx, db, target, s.logger)
	if err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	s.repo = repo
	s.logger.Info().Msg("Asset database ready")
	return nil
}

// initCache connects to Redis and wraps the repository with the cache-aside layer.
func (s *Service) initCache(ctx context.Context) error {
	if !s.cfg.Cache.Enabled {
		return nil
	}
	s.logger.Info().Strs("addrs", s.cfg.Cache.Addrs).Msg("Connecting to cache")

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.cfg.Cache.Addrs,
		Password: s.cfg.Cache.Password,
		DB:       s.cfg.Cache.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("cache ping failed: %w", err)
	}

	version, err := s.repo.SchemaVersion(ctx)
	if err != nil {
		_ = client.Close()
		return err
	}
	s.redis = client
	s.repo = repository.NewCachedRepository(s.repo, repository.NewRedisCache(client), s.cfg.Cache.TTL, version, s.logger)
	s.logger.Info().Msg("Cache connection established")
	return nil
}

func (s *Service) newOracle() oracle.PriceOracle {
	if s.cfg.Oracle.Provider == "none" {
		return noOracle{}
	}
	return oracle.NewCoinGeckoOracle(oracle.CoinGeckoConfig{
		BaseURL:   s.cfg.Oracle.BaseURL,
		APIKey:    s.cfg.Oracle.APIKey,
		Currency:  s.cfg.Oracle.Currency,
		RateLimit: s.cfg.Oracle.RateLimitPerSecond,
		Timeout:   s.cfg.Oracle.Timeout,
	}, s.logger)
}

func (s *Service) startHTTP() error {
	listener, err := net.Listen("tcp", s.cfg.Metrics.Addr)
	if err != nil {
		return err
	}
	s.httpAddr = listener.Addr().String()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()
	s.logger.Info().Str("addr", s.httpAddr).Msg("Serving metrics and health endpoints")
	return nil
}

// Handler returns the HTTP handler for the metrics and health endpoints.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	// Liveness endpoint - always returns 200 if the process is running
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Readiness endpoint - checks store connectivity
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := s.Health(r.Context()); err != nil {
			s.logger.Error().Err(err).Msg("Readiness check failed: database unhealthy")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","component":"database"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready","components":{"database":"ok"}}`))
	})
	return mux
}

func (s *Service) closeStores() error {
	var errs []error
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
		s.redis = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		s.db = nil
		s.logger.Info().Msg("Asset database closed")
	}
	return errors.Join(errs...)
}

// noOracle prices nothing; every lookup fails with ErrNoPriceSource.
type noOracle struct{}

func (noOracle) GetPrice(_ context.Context, a *asset.Asset, _ time.Time) (decimal.Decimal, error) {
	return decimal.Zero, fmt.Errorf("%s: %w", a.Identifier, oracle.ErrNoPriceSource)
}
