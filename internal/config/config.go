package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when DAYTRADER_CONFIG is unset.
const DefaultPath = "config/daytrader.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the daytrader platform.
type Config struct {
	Storage    Storage    `yaml:"storage"`
	Server     Server     `yaml:"server"`
	Bus        Bus        `yaml:"bus"`
	Alpaca     Alpaca     `yaml:"alpaca"`
	Logging    Logging    `yaml:"logging"`
	Trading    Trading    `yaml:"trading"`
	Resilience Resilience `yaml:"resilience"`
	Market     Market     `yaml:"market"`
}

// Storage selects the order/position/quote store and the journal location.
type Storage struct {
	Driver      string `yaml:"driver"` // sqlite | postgres
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	JournalDir  string `yaml:"journal_dir"` // root of journal/<day>.parquet; empty disables
}

// Server holds network listener configuration.
type Server struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	GRPCPort        int      `yaml:"grpc_port"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	OrdersPerMinute int      `yaml:"orders_per_minute"` // 0 = unlimited
	OrderBurst      int      `yaml:"order_burst"`
}

// HTTPAddr returns host:port of the REST listener.
func (s Server) HTTPAddr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// GRPCAddr returns host:port of the event relay listener, or "" when
// grpc_port is 0.
func (s Server) GRPCAddr() string {
	if s.GRPCPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// Bus selects the event bus.
type Bus struct {
	Driver        string `yaml:"driver"` // memory | redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Group         string `yaml:"group"` // orchestrator consumer group
	Buffer        int    `yaml:"buffer"`
	MaxLen        int64  `yaml:"max_len"` // approximate redis stream cap, 0 = unbounded
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	DataURL         string `yaml:"data_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Configured reports whether credentials are present.
func (a Alpaca) Configured() bool { return a.APIKey != "" && a.APISecret != "" }

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | text
}

// Trading defines order intake and saga parameters.
type Trading struct {
	OrderFee         float64       `yaml:"order_fee"`
	MaxOrderQuantity float64       `yaml:"max_order_quantity"` // 0 = unlimited
	Workers          int           `yaml:"workers"`
	Compensate       bool          `yaml:"compensate"`
	PriceSource      string        `yaml:"price_source"` // local | http | alpaca | simulator
	QuotesURL        string        `yaml:"quotes_url"`
	LedgerURL        string        `yaml:"ledger_url"` // empty = in-process simulator
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	StaleOpenAfter   time.Duration `yaml:"stale_open_after"`
	StuckAfter       time.Duration `yaml:"stuck_after"`
	JournalFlush     time.Duration `yaml:"journal_flush"`
}

// Fee returns OrderFee as currency.
func (t Trading) Fee() decimal.Decimal { return decimal.NewFromFloat(t.OrderFee).Round(2) }

// MaxQuantity returns MaxOrderQuantity as a decimal.
func (t Trading) MaxQuantity() decimal.Decimal { return decimal.NewFromFloat(t.MaxOrderQuantity) }

// Resilience bounds every remote call.
type Resilience struct {
	PriceTimeout     time.Duration `yaml:"price_timeout"`
	LedgerTimeout    time.Duration `yaml:"ledger_timeout"`
	MaxAttempts      int           `yaml:"max_attempts"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

// Market configures the quote feed and live event window.
type Market struct {
	Symbols      []string      `yaml:"symbols"`
	PollInterval time.Duration `yaml:"poll_interval"`
	FeedWindow   int           `yaml:"feed_window"`
	TopMovers    int           `yaml:"top_movers"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns a Config with every default filled in.
func Default() *Config {
	return &Config{
		Storage: Storage{
			Driver:     "sqlite",
			SQLitePath: "data/daytrader.db",
			JournalDir: "data",
		},
		Server: Server{
			Host:     "0.0.0.0",
			Port:     8080,
			GRPCPort: 9090,
		},
		Bus: Bus{
			Driver:    "memory",
			RedisAddr: "localhost:6379",
			Group:     "orchestrator",
			Buffer:    256,
			MaxLen:    100000,
		},
		Alpaca: Alpaca{
			DataURL:         "https://data.alpaca.markets",
			RateLimitPerMin: 200,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Trading: Trading{
			OrderFee:       9.95,
			Workers:        4,
			PriceSource:    "local",
			SweepInterval:  30 * time.Second,
			StaleOpenAfter: time.Minute,
			StuckAfter:     5 * time.Minute,
			JournalFlush:   5 * time.Second,
		},
		Resilience: Resilience{
			PriceTimeout:     2 * time.Second,
			LedgerTimeout:    3 * time.Second,
			MaxAttempts:      3,
			BaseDelay:        100 * time.Millisecond,
			MaxDelay:         2 * time.Second,
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		Market: Market{
			PollInterval: 15 * time.Second,
			FeedWindow:   1000,
			TopMovers:    5,
		},
	}
}

// Path returns the config file path from DAYTRADER_CONFIG or DefaultPath.
func Path() string {
	if p := os.Getenv("DAYTRADER_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path over the
// defaults, applies environment variable overrides, and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(data)
}

// LoadOrDefault is Load, except that a missing file yields the defaults
// (still subject to environment overrides).
func LoadOrDefault(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		data = nil
	} else if err != nil {
		return nil, err
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	switch c.Storage.Driver {
	case "sqlite":
		check(c.Storage.SQLitePath != "", "storage.sqlite_path is required for the sqlite driver")
	case "postgres":
		check(c.Storage.PostgresDSN != "", "storage.postgres_dsn is required for the postgres driver")
	default:
		check(false, "storage.driver %q must be sqlite or postgres", c.Storage.Driver)
	}

	switch c.Bus.Driver {
	case "memory":
	case "redis":
		check(c.Bus.RedisAddr != "", "bus.redis_addr is required for the redis driver")
	default:
		check(false, "bus.driver %q must be memory or redis", c.Bus.Driver)
	}
	check(c.Bus.Group != "", "bus.group is required")
	check(c.Bus.MaxLen >= 0, "bus.max_len must not be negative")

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d out of range", c.Server.Port)
	check(c.Server.GRPCPort >= 0 && c.Server.GRPCPort < 65536, "server.grpc_port %d out of range", c.Server.GRPCPort)

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		check(false, "logging.format %q must be json or text", c.Logging.Format)
	}

	t := c.Trading
	check(t.OrderFee >= 0, "trading.order_fee must not be negative")
	check(t.MaxOrderQuantity >= 0, "trading.max_order_quantity must not be negative")
	check(t.Workers > 0, "trading.workers must be positive")
	switch t.PriceSource {
	case "local", "simulator":
	case "http":
		check(t.QuotesURL != "", "trading.quotes_url is required for the http price source")
	case "alpaca":
		check(c.Alpaca.Configured(), "alpaca credentials are required for the alpaca price source")
	default:
		check(false, "trading.price_source %q must be local, http, alpaca or simulator", t.PriceSource)
	}
	check(t.SweepInterval > 0, "trading.sweep_interval must be positive")
	check(t.StaleOpenAfter > 0, "trading.stale_open_after must be positive")
	check(t.StuckAfter > 0, "trading.stuck_after must be positive")
	check(t.JournalFlush > 0, "trading.journal_flush must be positive")

	r := c.Resilience
	check(r.PriceTimeout > 0 && r.LedgerTimeout > 0, "resilience timeouts must be positive")
	check(r.MaxAttempts > 0, "resilience.max_attempts must be positive")
	check(r.BaseDelay >= 0 && r.MaxDelay >= r.BaseDelay, "resilience.max_delay must be at least base_delay")
	check(r.BreakerThreshold > 0, "resilience.breaker_threshold must be positive")
	check(r.BreakerCooldown > 0, "resilience.breaker_cooldown must be positive")

	check(c.Market.FeedWindow > 0, "market.feed_window must be positive")

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DAYTRADER_DB_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("JOURNAL_DIR"); v != "" {
		cfg.Storage.JournalDir = v
	}

	if v := os.Getenv("BUS_DRIVER"); v != "" {
		cfg.Bus.Driver = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Bus.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Bus.RedisPassword = v
	}

	if v := os.Getenv("QUOTES_URL"); v != "" {
		cfg.Trading.QuotesURL = v
	}
	if v := os.Getenv("LEDGER_URL"); v != "" {
		cfg.Trading.LedgerURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
