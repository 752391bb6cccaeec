package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "SHOPFEED"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App     AppConfig
	DB      DBConfig
	Shopify ShopifyConfig
	Export  ExportConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SHOPFEED_APP_ENV" default:"dev"`
	Port         string `envconfig:"SHOPFEED_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"SHOPFEED_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SHOPFEED_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// DBConfig describes where per-run intermediate tables live. The default
// sqlite driver keeps each run in its own file under Dir; postgres points all
// runs at one shared database distinguished by table prefix.
type DBConfig struct {
	Driver string `envconfig:"SHOPFEED_DB_DRIVER" default:"sqlite"`
	DSN    string `envconfig:"SHOPFEED_DB_DSN"`
	Dir    string `envconfig:"SHOPFEED_DB_DIR"`

	MaxOpenConns    int           `envconfig:"SHOPFEED_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"SHOPFEED_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"SHOPFEED_DB_CONN_MAX_LIFETIME" default:"1h"`
}

func (db DBConfig) validate() error {
	switch db.Driver {
	case "sqlite":
		return nil
	case "postgres":
		if db.DSN == "" {
			return fmt.Errorf("SHOPFEED_DB_DSN is required for the postgres driver")
		}
		return nil
	default:
		return fmt.Errorf("unsupported db driver %q", db.Driver)
	}
}

// ShopifyConfig carries client-level knobs. The API version is deliberately a
// configuration constant rather than a per-run option.
type ShopifyConfig struct {
	APIVersion  string        `envconfig:"SHOPFEED_SHOPIFY_API_VERSION" default:"2022-10"`
	HTTPTimeout time.Duration `envconfig:"SHOPFEED_SHOPIFY_HTTP_TIMEOUT" default:"90s"`
	MaxAttempts int           `envconfig:"SHOPFEED_SHOPIFY_MAX_ATTEMPTS" default:"8"`
	BackoffBase time.Duration `envconfig:"SHOPFEED_SHOPIFY_BACKOFF_BASE" default:"1s"`
	BackoffCap  time.Duration `envconfig:"SHOPFEED_SHOPIFY_BACKOFF_CAP" default:"300s"`
}

type ExportConfig struct {
	// KeepTables leaves intermediate tables behind after a run, regardless of
	// the per-run debug option.
	KeepTables  bool          `envconfig:"SHOPFEED_EXPORT_KEEP_TABLES" default:"false"`
	RunTimeout  time.Duration `envconfig:"SHOPFEED_EXPORT_RUN_TIMEOUT" default:"8h"`
	MaxWorkers  int           `envconfig:"SHOPFEED_EXPORT_MAX_WORKERS" default:"50"`
	GzipEnabled bool          `envconfig:"SHOPFEED_EXPORT_GZIP" default:"true"`
}
