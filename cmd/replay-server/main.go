// Package main implements the replay server binary.
// It loads the dataset once, builds the index and serves exact-replay chat
// completions over HTTP and gRPC until SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/chatreplay/chatreplay/internal/app"
	"github.com/chatreplay/chatreplay/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configFile  string
		dataDir     string
		datasetFile string
		httpAddr    string
		grpcAddr    string
		noGRPC      bool
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Directory holding the dataset")
	flag.StringVar(&datasetFile, "dataset", "", "Dataset file name inside the data directory")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address")
	flag.BoolVar(&noGRPC, "no-grpc", false, "Disable the gRPC server")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "replay-server - exact-replay chat completion service\n\n")
		fmt.Fprintf(os.Stderr, "Usage: replay-server [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  replay-server --data-dir ./data\n")
		fmt.Fprintf(os.Stderr, "  SEED_ERRORS=1 SEED_ERRORS_TARGET=response replay-server\n")
		fmt.Fprintf(os.Stderr, "  replay-server --config /etc/chatreplay/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  REPLAY_DATA_DIR         Directory holding the dataset\n")
		fmt.Fprintf(os.Stderr, "  REPLAY_DATASET_SOURCE   Dataset source (local, s3)\n")
		fmt.Fprintf(os.Stderr, "  REPLAY_HTTP_ADDR        HTTP listen address\n")
		fmt.Fprintf(os.Stderr, "  REPLAY_GRPC_ADDR        gRPC listen address\n")
		fmt.Fprintf(os.Stderr, "  SEED_ERRORS             Enable error seeding (presence is enough)\n")
		fmt.Fprintf(os.Stderr, "  SEED_ERRORS_RATE        Fraction of eligible messages to corrupt\n")
		fmt.Fprintf(os.Stderr, "  SEED_ERRORS_TARGET      any, prefix or response\n")
		fmt.Fprintf(os.Stderr, "  SEED_ERRORS_SEED        Seed for a reproducible corruption pass\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("replay-server version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := loadConfig(configFile, dataDir, datasetFile, httpAddr, grpcAddr, noGRPC)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	printBanner(cfg)

	// Create and start the application
	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	if err := application.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("Received signal: %v", sig)

	// Graceful shutdown
	if err := application.Stop(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(configFile, dataDir, datasetFile, httpAddr, grpcAddr string, noGRPC bool) (*config.Config, error) {
	var cfg *config.Config
	var err error

	// Start with defaults or load from file
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	// Apply environment variables
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	// Apply command line flags (highest priority)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if datasetFile != "" {
		cfg.Dataset.File = datasetFile
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if grpcAddr != "" {
		cfg.GRPC.Addr = grpcAddr
	}
	if noGRPC {
		cfg.GRPC.Enabled = false
	}

	return cfg, nil
}

// printBanner prints the startup banner with configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("chatreplay %s", version)
	log.Printf("Configuration:")
	log.Printf("  Data Dir: %s", cfg.DataDir)
	log.Printf("  Dataset:  %s (%s)", cfg.Dataset.File, cfg.Dataset.Source)
	log.Printf("  HTTP:     %s", cfg.HTTP.Addr)
	if cfg.GRPC.Enabled {
		log.Printf("  gRPC:     %s", cfg.GRPC.Addr)
	}
	if cfg.Seed.Enabled {
		log.Printf("  Seeding:  target=%s rate=%v", cfg.Seed.Target, cfg.Seed.Rate)
	}
}
