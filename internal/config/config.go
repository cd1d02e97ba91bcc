// Package config provides unified configuration for the replay server and
// the load harness.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chatreplay/chatreplay/internal/dataset"
	"github.com/chatreplay/chatreplay/internal/errors"
	"github.com/chatreplay/chatreplay/internal/seed"
)

// Dataset sources.
const (
	SourceLocal  = "local"
	SourceS3     = "s3"
	SourceMirror = "mirror"
)

// Harness transports.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// Environment variables controlling the corruption pass. They keep their
// historical names rather than the REPLAY_ prefix.
const (
	EnvSeedErrors       = "SEED_ERRORS"
	EnvSeedErrorsRate   = "SEED_ERRORS_RATE"
	EnvSeedErrorsTarget = "SEED_ERRORS_TARGET"
	EnvSeedErrorsSeed   = "SEED_ERRORS_SEED"
)

// Config holds the configuration shared by the server and the harness.
type Config struct {
	// DataDir is the designated directory holding the dataset
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Dataset configuration
	Dataset DatasetConfig `json:"dataset" yaml:"dataset"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// gRPC configuration
	GRPC GRPCConfig `json:"grpc" yaml:"grpc"`

	// Seed configures the optional error seeding pass
	Seed SeedConfig `json:"seed" yaml:"seed"`

	// Harness configuration
	Harness HarnessConfig `json:"harness" yaml:"harness"`
}

// DatasetConfig locates the dataset.
type DatasetConfig struct {
	// File is the dataset file name inside DataDir
	File string `json:"file" yaml:"file"`

	// Source is where the dataset comes from: local, s3, mirror
	Source string `json:"source" yaml:"source"`

	// MirrorDir is a shared directory the dataset is copied from (mirror source)
	MirrorDir string `json:"mirror_dir" yaml:"mirror_dir"`

	// S3 configuration (for s3 source)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 dataset source configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Prefix is the key prefix the dataset lives under
	Prefix string `json:"prefix" yaml:"prefix"`

	// UsePathStyle enables path-style addressing
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP listen address
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC server address
	Addr string `json:"addr" yaml:"addr"`

	// Enabled controls whether gRPC is enabled
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// SeedConfig controls error seeding.
type SeedConfig struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	Rate    float64 `json:"rate" yaml:"rate"`
	Target  string  `json:"target" yaml:"target"`
	// Seed makes the pass reproducible when set
	Seed *uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// HarnessConfig holds load harness configuration.
type HarnessConfig struct {
	// Target is the service base URL (http) or host:port (grpc)
	Target string `json:"target" yaml:"target"`

	// Transport is http or grpc
	Transport string `json:"transport" yaml:"transport"`

	// Concurrency is the worker pool size; 0 means one per CPU
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// Ledger is an optional SQLite file recording each run
	Ledger string `json:"ledger" yaml:"ledger"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Dataset: DatasetConfig{
			File:   dataset.DefaultFileName,
			Source: SourceLocal,
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
		Seed: SeedConfig{
			Rate:   seed.DefaultRate,
			Target: string(seed.TargetAny),
		},
		Harness: HarnessConfig{
			Target:    "http://127.0.0.1:8080",
			Transport: TransportHTTP,
		},
	}
}

// Resolve fills derived defaults.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Dataset.File == "" {
		c.Dataset.File = dataset.DefaultFileName
	}
	if c.Dataset.Source == "" {
		c.Dataset.Source = SourceLocal
	}
	if c.Seed.Target == "" {
		c.Seed.Target = string(seed.TargetAny)
	}
	if c.Harness.Transport == "" {
		c.Harness.Transport = TransportHTTP
	}
	if c.Harness.Concurrency == 0 {
		c.Harness.Concurrency = runtime.NumCPU()
	}
}

// DatasetPath returns the expected location of the uncompressed dataset.
func (c *Config) DatasetPath() string {
	return filepath.Join(c.DataDir, c.Dataset.File)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.NewConfigError("data_dir is required")
	}

	switch c.Dataset.Source {
	case SourceLocal:
	case SourceS3:
		if c.Dataset.S3.Bucket == "" {
			return errors.NewConfigError("dataset.s3.bucket is required when dataset source is s3")
		}
	case SourceMirror:
		if c.Dataset.MirrorDir == "" {
			return errors.NewConfigError("dataset.mirror_dir is required when dataset source is mirror")
		}
	default:
		return errors.NewConfigError(fmt.Sprintf("invalid dataset source: %s (must be local, s3 or mirror)", c.Dataset.Source))
	}

	if c.HTTP.Addr == "" {
		return errors.NewConfigError("http.addr is required")
	}
	if c.GRPC.Enabled && c.GRPC.Addr == "" {
		return errors.NewConfigError("grpc.addr is required when grpc is enabled")
	}

	if c.Seed.Rate < 0 || c.Seed.Rate > 1 {
		return errors.NewConfigError(fmt.Sprintf("seed.rate must be between 0 and 1, got %v", c.Seed.Rate))
	}
	if _, err := seed.ParseTarget(c.Seed.Target); err != nil {
		return errors.NewConfigError(err.Error())
	}

	if c.Harness.Transport != TransportHTTP && c.Harness.Transport != TransportGRPC {
		return errors.NewConfigError(fmt.Sprintf("invalid harness transport: %s (must be http or grpc)", c.Harness.Transport))
	}
	if c.Harness.Concurrency < 0 {
		return errors.NewConfigError(fmt.Sprintf("harness.concurrency must not be negative, got %d", c.Harness.Concurrency))
	}

	return nil
}

// SeederConfig converts the seed section for the seed package.
// Validate must have succeeded.
func (c *Config) SeederConfig() seed.Config {
	target, _ := seed.ParseTarget(c.Seed.Target)
	sc := seed.Config{Rate: c.Seed.Rate, Target: target}
	if c.Seed.Seed != nil {
		sc.Seed = *c.Seed.Seed
		sc.HasSeed = true
	}
	return sc
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the REPLAY_ prefix, except for the SEED_ERRORS
// family. SEED_ERRORS enables seeding by its presence alone.
func LoadFromEnv(cfg *Config) error {
	if v := os.Getenv("REPLAY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Dataset configuration
	if v := os.Getenv("REPLAY_DATASET_FILE"); v != "" {
		cfg.Dataset.File = v
	}
	if v := os.Getenv("REPLAY_DATASET_SOURCE"); v != "" {
		cfg.Dataset.Source = v
	}
	if v := os.Getenv("REPLAY_DATASET_MIRROR_DIR"); v != "" {
		cfg.Dataset.MirrorDir = v
	}
	if v := os.Getenv("REPLAY_S3_BUCKET"); v != "" {
		cfg.Dataset.S3.Bucket = v
	}
	if v := os.Getenv("REPLAY_S3_REGION"); v != "" {
		cfg.Dataset.S3.Region = v
	}
	if v := os.Getenv("REPLAY_S3_ENDPOINT"); v != "" {
		cfg.Dataset.S3.Endpoint = v
	}
	if v := os.Getenv("REPLAY_S3_PREFIX"); v != "" {
		cfg.Dataset.S3.Prefix = v
	}

	// HTTP configuration
	if v := os.Getenv("REPLAY_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	// gRPC configuration
	if v := os.Getenv("REPLAY_GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := os.Getenv("REPLAY_GRPC_ENABLED"); v != "" {
		cfg.GRPC.Enabled = v == "true" || v == "1"
	}

	// Harness configuration
	if v := os.Getenv("REPLAY_HARNESS_TARGET"); v != "" {
		cfg.Harness.Target = v
	}
	if v := os.Getenv("REPLAY_HARNESS_TRANSPORT"); v != "" {
		cfg.Harness.Transport = v
	}
	if v := os.Getenv("REPLAY_HARNESS_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.NewConfigError(fmt.Sprintf("REPLAY_HARNESS_CONCURRENCY: %v", err))
		}
		cfg.Harness.Concurrency = n
	}
	if v := os.Getenv("REPLAY_HARNESS_LEDGER"); v != "" {
		cfg.Harness.Ledger = v
	}

	// Seeding
	if _, ok := os.LookupEnv(EnvSeedErrors); ok {
		cfg.Seed.Enabled = true
	}
	if v := os.Getenv(EnvSeedErrorsRate); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.NewConfigError(fmt.Sprintf("%s: %v", EnvSeedErrorsRate, err))
		}
		cfg.Seed.Rate = rate
	}
	if v := os.Getenv(EnvSeedErrorsTarget); v != "" {
		cfg.Seed.Target = v
	}
	if v := os.Getenv(EnvSeedErrorsSeed); v != "" {
		s, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return errors.NewConfigError(fmt.Sprintf("%s: %v", EnvSeedErrorsSeed, err))
		}
		cfg.Seed.Seed = &s
	}

	return nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Harness.Ledger != "" {
		dirs = append(dirs, filepath.Dir(c.Harness.Ledger))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
