package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for barwise.
type Config struct {
	Storage     Storage          `yaml:"storage"`
	Server      Server           `yaml:"server"`
	Alpaca      Alpaca           `yaml:"alpaca"`
	Logging     Logging          `yaml:"logging"`
	Trading     TradingConfig    `yaml:"trading"`
	DataSources []DataSource     `yaml:"data_sources"`
	Strategies  []StrategyConfig `yaml:"strategies"`
	Backtest    BacktestConfig   `yaml:"backtest"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TradingConfig defines how intentions are turned into orders.
type TradingConfig struct {
	PaperMode           bool    `yaml:"paper_mode"`
	MaxNotionalPerOrder float64 `yaml:"max_notional_per_order"`
	DefaultQty          float64 `yaml:"default_qty"`
}

// DataSource names a bar adapter and its settings.
type DataSource struct {
	Name    string         `yaml:"name"`
	Adapter string         `yaml:"adapter"` // csv, parquet or alpaca
	Config  SourceSettings `yaml:"config"`
}

// SourceSettings are adapter settings. Which fields are required depends on
// the adapter; unset optional fields take the adapter's documented default.
type SourceSettings struct {
	RootPath      string `yaml:"root_path"`
	PathTemplate  string `yaml:"path_template"`
	Timezone      string `yaml:"timezone"`
	AssetClass    string `yaml:"asset_class"`
	Exchange      string `yaml:"exchange"`
	PriceCurrency string `yaml:"price_currency"`
	PriceScale    *int   `yaml:"price_scale"`
	Market        string `yaml:"market"`
	Feed          string `yaml:"feed"`
}

// StrategyConfig selects a builtin policy and its parameters.
type StrategyConfig struct {
	Name          string   `yaml:"name"`
	Kind          string   `yaml:"kind"`
	DisplayName   string   `yaml:"display_name"`
	Universe      []string `yaml:"universe"`
	FastPeriod    int      `yaml:"fast_period"`
	SlowPeriod    int      `yaml:"slow_period"`
	Confidence    float64  `yaml:"confidence"`
	LogIndicators bool     `yaml:"log_indicators"`
}

// BacktestConfig describes a replay run.
type BacktestConfig struct {
	Strategy string   `yaml:"strategy"`
	Source   string   `yaml:"source"`
	Symbols  []string `yaml:"symbols"`
	Start    string   `yaml:"start"`
	End      string   `yaml:"end"`

	// Parallelism caps how many instruments are replayed at once; 0 means
	// all of them.
	Parallelism int `yaml:"parallelism"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Source returns the data source with the given name.
func (c *Config) Source(name string) (DataSource, bool) {
	for _, ds := range c.DataSources {
		if ds.Name == name {
			return ds, true
		}
	}
	return DataSource{}, false
}

// Strategy returns the strategy config with the given name.
func (c *Config) Strategy(name string) (StrategyConfig, bool) {
	for _, sc := range c.Strategies {
		if sc.Name == name {
			return sc, true
		}
	}
	return StrategyConfig{}, false
}

// Validate checks settings that can be checked without touching the file
// system or network. Adapter- and policy-specific rules are enforced again by
// their constructors.
func (c *Config) Validate() error {
	var errs []error

	seen := make(map[string]bool)
	for i, ds := range c.DataSources {
		if ds.Name == "" {
			errs = append(errs, fmt.Errorf("%w: data_sources[%d]: name is required", ErrInvalid, i))
		}
		if seen[ds.Name] {
			errs = append(errs, fmt.Errorf("%w: data_sources[%d]: duplicate name %q", ErrInvalid, i, ds.Name))
		}
		seen[ds.Name] = true

		switch strings.ToLower(ds.Adapter) {
		case "csv":
			if ds.Config.RootPath == "" || ds.Config.PathTemplate == "" {
				errs = append(errs, fmt.Errorf("%w: data source %q: root_path and path_template are required", ErrInvalid, ds.Name))
			}
		case "parquet":
			if ds.Config.RootPath == "" && c.Storage.DataDir == "" {
				errs = append(errs, fmt.Errorf("%w: data source %q: root_path or storage.data_dir is required", ErrInvalid, ds.Name))
			}
		case "alpaca":
		default:
			errs = append(errs, fmt.Errorf("%w: data source %q: unknown adapter %q", ErrInvalid, ds.Name, ds.Adapter))
		}
		if ds.Config.PriceScale != nil && *ds.Config.PriceScale < 0 {
			errs = append(errs, fmt.Errorf("%w: data source %q: price_scale must be >= 0", ErrInvalid, ds.Name))
		}
	}

	names := make(map[string]bool)
	for i, sc := range c.Strategies {
		if sc.Name == "" {
			errs = append(errs, fmt.Errorf("%w: strategies[%d]: name is required", ErrInvalid, i))
		}
		if names[sc.Name] {
			errs = append(errs, fmt.Errorf("%w: strategies[%d]: duplicate name %q", ErrInvalid, i, sc.Name))
		}
		names[sc.Name] = true
		if sc.FastPeriod < 0 || sc.SlowPeriod < 0 {
			errs = append(errs, fmt.Errorf("%w: strategy %q: periods must be positive", ErrInvalid, sc.Name))
		}
		if sc.Confidence < 0 || sc.Confidence > 1 {
			errs = append(errs, fmt.Errorf("%w: strategy %q: confidence must be in (0, 1]", ErrInvalid, sc.Name))
		}
	}

	if c.Backtest.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("%w: backtest.parallelism must not be negative", ErrInvalid))
	}

	if c.Trading.MaxNotionalPerOrder < 0 || c.Trading.DefaultQty < 0 {
		errs = append(errs, fmt.Errorf("%w: trading sizes must not be negative", ErrInvalid))
	}

	return errors.Join(errs...)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Server.MetricsAddr = v
	}

	// Standard Alpaca env vars, the names the SDK reads. These win.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
