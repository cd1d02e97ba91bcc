// Package app provides the application lifecycle of the replay server.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"

	grpcapi "github.com/chatreplay/chatreplay/internal/api/grpc"
	httpapi "github.com/chatreplay/chatreplay/internal/api/http"
	"github.com/chatreplay/chatreplay/internal/config"
	"github.com/chatreplay/chatreplay/internal/dataset"
	"github.com/chatreplay/chatreplay/internal/index"
	"github.com/chatreplay/chatreplay/internal/lookup"
	"github.com/chatreplay/chatreplay/internal/seed"
	"github.com/chatreplay/chatreplay/internal/server"
	"github.com/chatreplay/chatreplay/internal/storage"
	"github.com/chatreplay/chatreplay/pkg/types"
)

// App manages the replay server lifecycle.
type App struct {
	cfg *config.Config

	shutdown *server.ShutdownManager
	engine   *lookup.Engine

	// Service components
	httpServer   *http.Server
	httpListener net.Listener
	grpcServer   *grpc.Server
	grpcListener net.Listener

	// Lifecycle
	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	// Resolve paths and validate
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Ensure directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{
		cfg:      cfg,
		shutdown: server.NewShutdownManager(server.DefaultShutdownConfig()),
	}, nil
}

// Start loads the dataset, builds the index and starts the configured
// listeners. It returns once both servers accept connections.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	convs, err := LoadConversations(ctx, a.cfg)
	if err != nil {
		a.setStopped()
		return err
	}

	if a.cfg.Seed.Enabled {
		cfg := a.cfg.SeederConfig()
		report := seed.New(cfg).Apply(convs)
		log.Printf("Error seeding: target=%s rate=%v eligible=%d mutated=%d",
			cfg.Target, cfg.Rate, report.Eligible, len(report.Mutations))
	}

	ix, err := index.Build(convs)
	if err != nil {
		a.setStopped()
		return fmt.Errorf("failed to build index: %w", err)
	}
	stats := ix.Stats()
	log.Printf("Index built: keys=%d candidates=%d colliding=%d max_candidates=%d skipped=%d in %v",
		stats.Keys, stats.Candidates, stats.CollidingKeys, stats.MaxCandidates,
		stats.SkippedEmptyPrefix, stats.BuildDuration)

	a.engine = lookup.NewEngine(ix)

	if err := a.startHTTP(); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start gRPC server: %w", err)
		}
	}

	log.Printf("Replay server started")
	return nil
}

// LoadConversations resolves the dataset per cfg, fetching it from S3 or
// a mirror directory first when configured, and parses it.
func LoadConversations(ctx context.Context, cfg *config.Config) ([]types.Conversation, error) {
	if cfg.Dataset.Source != config.SourceLocal {
		if err := fetchDataset(ctx, cfg); err != nil {
			return nil, err
		}
	}

	path, err := dataset.Locate(cfg.DataDir, cfg.Dataset.File)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	convs, stats, err := dataset.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	log.Printf("Dataset loaded from %s: entries=%d conversations=%d messages=%d assistant=%d merged=%d in %v",
		path, stats.Entries, stats.Conversations, stats.Messages, stats.AssistantMessages,
		stats.MergedEntries, time.Since(start))
	return convs, nil
}

func fetchDataset(ctx context.Context, cfg *config.Config) error {
	store, prefix, err := datasetStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	res, err := storage.Fetch(ctx, store, prefix, cfg.DataDir,
		cfg.Dataset.File, cfg.Dataset.File+dataset.SnappySuffix)
	if err != nil {
		return fmt.Errorf("failed to fetch dataset: %w", err)
	}
	if res.Cached {
		log.Printf("Dataset already present at %s", res.LocalPath)
	} else {
		log.Printf("Dataset downloaded from %s to %s in %v", res.ObjectPath, res.LocalPath, res.Duration)
	}
	return nil
}

// datasetStore opens the object store named by the dataset source.
func datasetStore(ctx context.Context, cfg *config.Config) (storage.ObjectStorage, string, error) {
	switch cfg.Dataset.Source {
	case config.SourceS3:
		s3Cfg := storage.DefaultS3Config()
		if cfg.Dataset.S3.Region != "" {
			s3Cfg.Region = cfg.Dataset.S3.Region
		}
		if cfg.Dataset.S3.Endpoint != "" {
			s3Cfg.Endpoint = cfg.Dataset.S3.Endpoint
		}
		s3Cfg.UsePathStyle = cfg.Dataset.S3.UsePathStyle

		store, err := storage.NewS3Storage(ctx, cfg.Dataset.S3.Bucket, s3Cfg)
		if err != nil {
			return nil, "", err
		}
		log.Printf("S3 Config: Bucket=%s, Region=%s, Endpoint=%s",
			cfg.Dataset.S3.Bucket, s3Cfg.Region, s3Cfg.Endpoint)
		return store, cfg.Dataset.S3.Prefix, nil
	case config.SourceMirror:
		store, err := storage.NewLocalStorage(cfg.Dataset.MirrorDir)
		if err != nil {
			return nil, "", err
		}
		log.Printf("Dataset mirror: %s", cfg.Dataset.MirrorDir)
		return store, "", nil
	}
	return nil, "", fmt.Errorf("unsupported dataset source: %s", cfg.Dataset.Source)
}

func (a *App) startHTTP() error {
	mux := httpapi.NewMux(a.engine, server.ShutdownMiddleware(a.shutdown))

	lis, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP address: %w", err)
	}
	a.httpListener = lis
	a.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("HTTP server listening on %s", lis.Addr())
		if err := a.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()
	return nil
}

func (a *App) startGRPC() error {
	a.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(server.UnaryServerInterceptor(a.shutdown)))
	grpcapi.RegisterCompletionsServer(a.grpcServer, grpcapi.NewCompletionsServer(a.engine))

	var err error
	a.grpcListener, err = net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC address: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("gRPC server listening on %s", a.grpcListener.Addr())
		if err := a.grpcServer.Serve(a.grpcListener); err != nil {
			log.Printf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests and stops both servers.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	log.Printf("Initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.shutdown.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown manager error: %v", err)
	}

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}

	// Stop gRPC server
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Printf("Shutdown timeout, some goroutines may not have finished")
	}

	if a.engine != nil {
		s := a.engine.Stats()
		log.Printf("Lookups served: total=%d hits=%d misses=%d invalid=%d collision_draws=%d hit_rate=%.4f",
			s.Total, s.Hits, s.Misses, s.Invalid, s.CollisionDraws, s.HitRate)
	}

	log.Printf("Replay server stopped")
	return nil
}

// cleanup closes listeners opened by a failed Start.
func (a *App) cleanup() {
	if a.httpServer != nil {
		a.httpServer.Close()
	} else if a.httpListener != nil {
		a.httpListener.Close()
	}
	if a.grpcServer != nil {
		a.grpcServer.Stop()
	}
	a.wg.Wait()
	a.setStopped()
}

func (a *App) setStopped() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

// Engine returns the lookup engine, or nil before Start.
func (a *App) Engine() *lookup.Engine {
	return a.engine
}

// HTTPAddr returns the bound HTTP address, or "" before Start.
func (a *App) HTTPAddr() string {
	if a.httpListener == nil {
		return ""
	}
	return a.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC address, or "" when gRPC is not running.
func (a *App) GRPCAddr() string {
	if a.grpcListener == nil {
		return ""
	}
	return a.grpcListener.Addr().String()
}

// ShutdownCh is closed when Stop begins.
func (a *App) ShutdownCh() <-chan struct{} {
	return a.shutdown.ShutdownCh()
}
