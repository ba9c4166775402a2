package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Wakaba24/deriv-fast-backend/internal/domain"
)

// Config holds all process configuration. Values come from an optional
// configs/config.yaml, overridden by environment variables (a .env file is
// loaded first if present). Environment always wins over the file.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Venue struct {
		AppID           string `yaml:"app_id"`
		Token           string `yaml:"token"`
		WSURL           string `yaml:"ws_url"`
		HeartbeatSec    int    `yaml:"heartbeat_sec"`
		ReconnectBaseMS int    `yaml:"reconnect_base_ms"`
		ReconnectMaxMS  int    `yaml:"reconnect_max_ms"`
	} `yaml:"venue"`

	Trading struct {
		SettlementTimeoutSec int    `yaml:"settlement_timeout_sec"`
		DefaultSymbol        string `yaml:"default_symbol"`
		DefaultCurrency      string `yaml:"default_currency"`
		DefaultBasis         string `yaml:"default_basis"`
	} `yaml:"trading"`

	Market struct {
		TickBufferCapacity int  `yaml:"tick_buffer_capacity"`
		LogTicks           bool `yaml:"log_ticks"`
	} `yaml:"market"`

	HTTP struct {
		Port        int      `yaml:"port"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"http"`

	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Name = "deriv-fast-backend"
	cfg.App.Version = "dev"
	cfg.Venue.AppID = "1089"
	cfg.Venue.WSURL = "wss://ws.derivws.com/websockets/v3"
	cfg.Venue.HeartbeatSec = 30
	cfg.Venue.ReconnectBaseMS = 1000
	cfg.Venue.ReconnectMaxMS = 30000
	cfg.Trading.SettlementTimeoutSec = 30
	cfg.Trading.DefaultSymbol = "R_100"
	cfg.Trading.DefaultCurrency = "USD"
	cfg.Trading.DefaultBasis = domain.BasisStake
	cfg.Market.TickBufferCapacity = 50
	cfg.HTTP.Port = 3000
	cfg.HTTP.CORSOrigins = []string{"*"}
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return cfg
}

// LoadConfig builds the configuration from the optional yaml file at path
// plus the environment. A missing file is not an error; a missing API token
// is, because the process cannot authenticate without it.
func LoadConfig(path string) (*Config, error) {
	// .env is a convenience for local runs; absence is fine.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Venue.Token == "" {
		return fmt.Errorf("DERIV_API_TOKEN is required")
	}
	if !strings.HasPrefix(c.Venue.WSURL, "ws://") && !strings.HasPrefix(c.Venue.WSURL, "wss://") {
		return fmt.Errorf("invalid venue WS URL: %s", c.Venue.WSURL)
	}
	if c.Venue.AppID == "" {
		return fmt.Errorf("venue app id must not be empty")
	}
	if c.Venue.HeartbeatSec <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.Trading.SettlementTimeoutSec <= 0 {
		return fmt.Errorf("settlement timeout must be positive")
	}
	if c.Market.TickBufferCapacity <= 0 {
		return fmt.Errorf("tick buffer capacity must be positive")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	switch c.Trading.DefaultBasis {
	case domain.BasisStake, domain.BasisPayout:
	default:
		return fmt.Errorf("default basis must be stake or payout, got %q", c.Trading.DefaultBasis)
	}
	return nil
}

// HeartbeatInterval returns the keepalive ping interval.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Venue.HeartbeatSec) * time.Second
}

// ReconnectBase returns the backoff base delay.
func (c *Config) ReconnectBase() time.Duration {
	return time.Duration(c.Venue.ReconnectBaseMS) * time.Millisecond
}

// ReconnectMax returns the backoff delay cap.
func (c *Config) ReconnectMax() time.Duration {
	return time.Duration(c.Venue.ReconnectMaxMS) * time.Millisecond
}

// SettlementTimeout returns the trade settlement fallback window.
func (c *Config) SettlementTimeout() time.Duration {
	return time.Duration(c.Trading.SettlementTimeoutSec) * time.Second
}

// overrideWithEnv applies environment variables on top of the loaded file.
func overrideWithEnv(cfg *Config) {
	setString(&cfg.Venue.AppID, "DERIV_APP_ID")
	setString(&cfg.Venue.Token, "DERIV_API_TOKEN")
	setString(&cfg.Venue.WSURL, "DERIV_WS_URL")
	setInt(&cfg.Venue.HeartbeatSec, "HEARTBEAT_INTERVAL_SEC")
	setInt(&cfg.Venue.ReconnectBaseMS, "RECONNECT_BASE_DELAY_MS")
	setInt(&cfg.Venue.ReconnectMaxMS, "RECONNECT_MAX_DELAY_MS")
	setInt(&cfg.Trading.SettlementTimeoutSec, "SETTLEMENT_TIMEOUT_SEC")
	setString(&cfg.Trading.DefaultSymbol, "DEFAULT_SYMBOL")
	setString(&cfg.Trading.DefaultCurrency, "DEFAULT_CURRENCY")
	setString(&cfg.Trading.DefaultBasis, "DEFAULT_BASIS")
	setInt(&cfg.Market.TickBufferCapacity, "TICK_BUFFER_CAPACITY")
	setBool(&cfg.Market.LogTicks, "LOG_TICKS")
	setInt(&cfg.HTTP.Port, "HTTP_PORT")
	setString(&cfg.Journal.Path, "JOURNAL_PATH")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		parts := strings.Split(origins, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			cfg.HTTP.CORSOrigins = out
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}
