// Package main implements the load harness binary. It derives every
// request from the dataset, replays them against a running replay server
// with a fixed worker pool and exits 1 on the first failure.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chatreplay/chatreplay/internal/app"
	"github.com/chatreplay/chatreplay/internal/config"
	"github.com/chatreplay/chatreplay/internal/harness"
	"github.com/chatreplay/chatreplay/internal/seed"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		envFile     string
		dataDir     string
		datasetFile string
		target      string
		transport   string
		concurrency int
		ledgerPath  string
		seedErrors  bool
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&envFile, "env-file", ".env", "Environment file loaded when present")
	flag.StringVar(&dataDir, "data-dir", "", "Directory holding the dataset")
	flag.StringVar(&datasetFile, "dataset", "", "Dataset file name inside the data directory")
	flag.StringVar(&target, "target", "", "Service base URL (http) or host:port (grpc)")
	flag.StringVar(&transport, "transport", "", "Transport: http or grpc")
	flag.IntVar(&concurrency, "concurrency", 0, "Worker pool size (default: number of CPUs)")
	flag.StringVar(&ledgerPath, "ledger", "", "SQLite file recording each run")
	flag.BoolVar(&seedErrors, "seed-errors", false, "Apply the same corruption pass as a seeded server")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("replay-harness version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				log.Fatalf("Failed to load %s: %v", envFile, err)
			}
		}
	}

	cfg, err := loadConfig(configFile, dataDir, datasetFile, target, transport, concurrency, ledgerPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	// SEED_ERRORS configures the server; the harness only seeds on request.
	cfg.Seed.Enabled = seedErrors

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("Failed to create directories: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, cfg))
}

func run(ctx context.Context, cfg *config.Config) int {
	convs, err := app.LoadConversations(ctx, cfg)
	if err != nil {
		log.Printf("Failed to load dataset: %v", err)
		return 1
	}

	if cfg.Seed.Enabled {
		sc := cfg.SeederConfig()
		if !sc.HasSeed {
			log.Printf("Warning: -seed-errors without %s cannot reproduce the server's pass", config.EnvSeedErrorsSeed)
		}
		report := seed.New(sc).Apply(convs)
		log.Printf("Error seeding: target=%s rate=%v mutated=%d", sc.Target, sc.Rate, len(report.Mutations))
	}

	reqs, err := harness.Derive(convs)
	if err != nil {
		log.Printf("Failed to derive requests: %v", err)
		return 1
	}
	log.Printf("Derived %d requests from %d conversations", len(reqs), len(convs))

	client, closeClient, err := newClient(cfg)
	if err != nil {
		log.Printf("Failed to create client: %v", err)
		return 1
	}
	defer closeClient()

	var ledger *harness.Ledger
	if cfg.Harness.Ledger != "" {
		ledger, err = harness.OpenLedger(cfg.Harness.Ledger)
		if err != nil {
			log.Printf("Failed to open ledger: %v", err)
			return 1
		}
		defer ledger.Close()
	}

	target := harnessTarget(cfg)
	log.Printf("Replaying against %s over %s with %d workers", target, cfg.Harness.Transport, cfg.Harness.Concurrency)

	start := time.Now()
	rep, runErr := harness.NewRunner(client, reqs, cfg.Harness.Concurrency).Run(ctx)

	if ledger != nil {
		entry := harness.NewLedgerEntry(target, cfg.Harness.Transport, cfg.Harness.Concurrency, start, rep, runErr)
		if _, err := ledger.Record(context.Background(), entry); err != nil {
			log.Printf("Warning: failed to record run: %v", err)
		}
	}

	if runErr != nil {
		printFailure(reqs, runErr)
		return 1
	}

	log.Printf("PASS: %d requests in %v (%.1f req/s)", rep.Requests, rep.Elapsed, rep.Throughput)
	return 0
}

func printFailure(reqs []harness.Request, err error) {
	var f *harness.Failure
	if !stderrors.As(err, &f) {
		log.Printf("FAIL: %v", err)
		return
	}
	log.Printf("FAIL: %s failure on request %d (conversation %s, position %d)",
		f.Kind, f.RequestIndex, f.ConversationID, f.Position)
	log.Printf("  error: %v", f.Err)
	if f.Kind == harness.FailureValidation {
		log.Printf("  expected: %q", f.Expected())
		log.Printf("  actual:   %q", f.Actual())
	}
	if f.RequestIndex >= 0 && f.RequestIndex < len(reqs) {
		msgs := reqs[f.RequestIndex].Messages
		last := msgs[len(msgs)-1]
		log.Printf("  request: %d messages, last %s: %q", len(msgs), last.Role, last.Content)
	}
}

func newClient(cfg *config.Config) (harness.Client, func(), error) {
	target := harnessTarget(cfg)
	if cfg.Harness.Transport == config.TransportGRPC {
		c, err := harness.NewGRPCClient(target)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	}
	return harness.NewHTTPClient(target, cfg.Harness.Concurrency), func() {}, nil
}

// harnessTarget returns the address to dial. An HTTP URL left in place for
// the gRPC transport falls back to the configured gRPC address on loopback.
func harnessTarget(cfg *config.Config) string {
	t := cfg.Harness.Target
	if cfg.Harness.Transport != config.TransportGRPC {
		return t
	}
	if !strings.HasPrefix(t, "http://") && !strings.HasPrefix(t, "https://") {
		return t
	}
	host, port, err := net.SplitHostPort(cfg.GRPC.Addr)
	if err != nil {
		return cfg.GRPC.Addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(configFile, dataDir, datasetFile, target, transport string, concurrency int, ledgerPath string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

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
	if target != "" {
		cfg.Harness.Target = target
	}
	if transport != "" {
		cfg.Harness.Transport = transport
	}
	if concurrency > 0 {
		cfg.Harness.Concurrency = concurrency
	}
	if ledgerPath != "" {
		cfg.Harness.Ledger = ledgerPath
	}

	return cfg, nil
}
