package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"marketplace_go/pkg/quant"
)

// Config holds every setting of the marketd daemon. LoadConfig reads it
// from YAML, then applies MARKET_* environment overrides.
type Config struct {
	App struct {
		Name    string `yaml:"name" validate:"required"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		ListenAddr      string  `yaml:"listen_addr" validate:"required"`
		ReadTimeoutSec  int     `yaml:"read_timeout_sec" validate:"gte=1"`
		WriteTimeoutSec int     `yaml:"write_timeout_sec" validate:"gte=1"`
		RatePerSec      float64 `yaml:"rate_per_sec" validate:"gt=0"`
		RateBurst       int     `yaml:"rate_burst" validate:"gte=1"`
	} `yaml:"server"`

	Storage struct {
		DBPath        string `yaml:"db_path"`
		SnapshotDir   string `yaml:"snapshot_dir"`
		SnapshotEvery uint64 `yaml:"snapshot_every"`
		SnapshotKeep  int    `yaml:"snapshot_keep" validate:"gte=1"`
	} `yaml:"storage"`

	Engine struct {
		InboxSize            int `yaml:"inbox_size" validate:"gte=1"`
		BreakerFailures      int `yaml:"breaker_failures" validate:"gte=1"`
		BreakerCooldownSec   int `yaml:"breaker_cooldown_sec" validate:"gte=1"`
		SubmitTimeoutSec     int `yaml:"submit_timeout_sec" validate:"gte=1"`
		FeedSubscriberBuffer int `yaml:"feed_subscriber_buffer" validate:"gte=1"`
	} `yaml:"engine"`

	Faucet struct {
		Enabled bool `yaml:"enabled"`
		// MaxDeposit is a whole-unit decimal, e.g. "100" or "0.5".
		MaxDeposit string `yaml:"max_deposit"`
	} `yaml:"faucet"`

	Logging struct {
		Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
		Format string `yaml:"format" validate:"omitempty,oneof=text json"`
		File   string `yaml:"file"`
	} `yaml:"logging"`
}

// DefaultConfig returns a config that runs a local development node.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = AppName
	cfg.App.Version = "dev"
	cfg.Server.ListenAddr = "127.0.0.1:8899"
	cfg.Server.ReadTimeoutSec = 10
	cfg.Server.WriteTimeoutSec = 10
	cfg.Server.RatePerSec = 20
	cfg.Server.RateBurst = 40
	cfg.Storage.SnapshotEvery = 1000
	cfg.Storage.SnapshotKeep = 3
	cfg.Engine.InboxSize = 1024
	cfg.Engine.BreakerFailures = 5
	cfg.Engine.BreakerCooldownSec = 30
	cfg.Engine.SubmitTimeoutSec = 10
	cfg.Engine.FeedSubscriberBuffer = 256
	cfg.Faucet.Enabled = true
	cfg.Faucet.MaxDeposit = "100"
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return &cfg
}

// LoadConfig reads the YAML file at path on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// A .env next to the config file feeds the overrides. Variables already
	// set in the environment win.
	if err := godotenv.Load(filepath.Join(filepath.Dir(path), ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := overrideWithEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, _, err := net.SplitHostPort(c.Server.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Server.ListenAddr, err)
	}
	if c.Faucet.Enabled {
		if _, err := c.FaucetLimit(); err != nil {
			return fmt.Errorf("invalid faucet max_deposit: %w", err)
		}
	}
	return nil
}

// FaucetLimit returns the largest single deposit the API accepts.
func (c *Config) FaucetLimit() (quant.Lamports, error) {
	return quant.ParseLamports(c.Faucet.MaxDeposit)
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Server.ReadTimeoutSec) * time.Second
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutSec) * time.Second
}

func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.Engine.SubmitTimeoutSec) * time.Second
}

func (c *Config) BreakerConfig() CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig("event-store")
	cfg.FailureThreshold = c.Engine.BreakerFailures
	cfg.Timeout = time.Duration(c.Engine.BreakerCooldownSec) * time.Second
	return cfg
}

func overrideWithEnv(cfg *Config) error {
	if v := os.Getenv("MARKET_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("MARKET_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("MARKET_SNAPSHOT_DIR"); v != "" {
		cfg.Storage.SnapshotDir = v
	}
	if v := os.Getenv("MARKET_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MARKET_FAUCET_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MARKET_FAUCET_ENABLED: %w", err)
		}
		cfg.Faucet.Enabled = enabled
	}
	return nil
}
