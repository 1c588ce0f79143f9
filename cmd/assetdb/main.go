package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Combine-Capital/assetdb/internal/config"
	"github.com/Combine-Capital/assetdb/internal/seeder"
	"github.com/Combine-Capital/assetdb/internal/service"
)

const shutdownTimeout = 30 * time.Second

var (
	version   = "0.1.0"
	buildTime = "unknown"
	gitCommit = "unknown"

	configPath = flag.String("config", "", "path to configuration file (optional)")
	seedDir    = flag.String("seed-dir", "", "directory containing assets.json and tokens.json to seed at startup")
	seedOnly   = flag.Bool("seed-only", false, "exit after seeding instead of serving")
	showHelp   = flag.Bool("help", false, "show help message")
	showVer    = flag.Bool("version", false, "show version information")
)

func main() {
	flag.Parse()

	if *showHelp {
		printHelp()
		os.Exit(0)
	}
	if *showVer {
		printVersion()
		os.Exit(0)
	}

	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(*configPath, config.DefaultEnvPrefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	logger := cfg.Log.NewLogger(os.Stdout)

	logger.Info().
		Str("version", version).
		Str("build_time", buildTime).
		Str("git_commit", gitCommit).
		Msg("Starting assetdb")

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	svc := service.New(cfg, logger)
	if err := svc.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to start service")
		return 1
	}

	exitCode := 0
	if *seedDir != "" {
		if err := seed(ctx, svc, *seedDir); err != nil {
			logger.Error().Err(err).Msg("Seeding failed")
			exitCode = 1
		}
	}

	if exitCode == 0 && !*seedOnly {
		logger.Info().Msg("Service ready, waiting for shutdown signal")
		<-ctx.Done()
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := svc.Stop(stopCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown completed with errors")
		exitCode = 1
	}
	return exitCode
}

func seed(ctx context.Context, svc *service.Service, dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	result, err := seeder.NewFileBasedSeeder(svc.Assets(), absDir, svc.Logger()).SeedAll(ctx)
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		return fmt.Errorf("%d of %d entries failed", result.Failed, result.TotalProcessed)
	}
	return nil
}

func printHelp() {
	fmt.Fprintf(os.Stdout, "assetdb - global asset database\n\n")
	fmt.Fprintf(os.Stdout, "Opens and migrates the global asset store, resolves chain tokens and\n")
	fmt.Fprintf(os.Stdout, "serves metrics and health endpoints.\n\n")
	fmt.Fprintf(os.Stdout, "USAGE:\n")
	fmt.Fprintf(os.Stdout, "    assetdb [OPTIONS]\n\n")
	fmt.Fprintf(os.Stdout, "OPTIONS:\n")
	fmt.Fprintf(os.Stdout, "    -config <path>     Path to configuration file (default: none)\n")
	fmt.Fprintf(os.Stdout, "    -seed-dir <path>   Seed assets.json and tokens.json from this directory\n")
	fmt.Fprintf(os.Stdout, "    -seed-only         Exit after seeding\n")
	fmt.Fprintf(os.Stdout, "    -help              Show this help message\n")
	fmt.Fprintf(os.Stdout, "    -version           Show version information\n\n")
	fmt.Fprintf(os.Stdout, "ENVIRONMENT VARIABLES:\n")
	fmt.Fprintf(os.Stdout, "    ASSETDB_DATABASE_PATH           Global store file\n")
	fmt.Fprintf(os.Stdout, "    ASSETDB_DATABASE_TARGET_VERSION Schema version to migrate to (0: latest)\n")
	fmt.Fprintf(os.Stdout, "    ASSETDB_CACHE_ENABLED           Enable the Redis asset cache\n")
	fmt.Fprintf(os.Stdout, "    ASSETDB_CACHE_PASSWORD          Redis password\n")
	fmt.Fprintf(os.Stdout, "    ASSETDB_ORACLE_PROVIDER         coingecko or none\n")
	fmt.Fprintf(os.Stdout, "    ASSETDB_ORACLE_API_KEY          CoinGecko API key\n")
	fmt.Fprintf(os.Stdout, "    ASSETDB_METRICS_ADDR            Metrics and health listen address\n")
}

func printVersion() {
	fmt.Fprintf(os.Stdout, "assetdb %s\n", version)
	fmt.Fprintf(os.Stdout, "Build Time: %s\n", buildTime)
	fmt.Fprintf(os.Stdout, "Git Commit: %s\n", gitCommit)
}
