// Package config loads runtime settings from the environment with flag overrides.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/receipt-assistant/internal/market"
)

// Store backends.
const (
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
	BackendBigQuery = "bigquery"
)

// Config holds every setting shared by the API server and the CLI.
type Config struct {
	StoreBackend string
	DBPath       string
	BQProject    string
	BQDataset    string

	GeminiAPIKey string
	GeminiModel  string

	GCSBucket string
	RulesPath string

	ExternalTimeout time.Duration
	MarketSymbols   []string
	MarketDays      int

	NotionToken      string
	NotionDatabaseID string

	LogLevel  string
	LogFormat string

	Port      string
	Workers   int
	QueueSize int
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		StoreBackend:    BackendSQLite,
		DBPath:          "data/purchases.db",
		BQDataset:       "finance",
		ExternalTimeout: 60 * time.Second,
		MarketSymbols:   append([]string(nil), market.DefaultSymbols...),
		MarketDays:      market.DefaultDays,
		LogLevel:        "info",
		LogFormat:       "console",
		Port:            "8080",
		Workers:         2,
		QueueSize:       100,
	}
}

// FromEnv reads the configuration from environment variables.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()

	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := get(k); v != "" {
				*dst = v
				return
			}
		}
	}

	setString(&cfg.StoreBackend, "STORE_BACKEND")
	setString(&cfg.DBPath, "DB_PATH")
	setString(&cfg.BQProject, "BQ_PROJECT", "GOOGLE_CLOUD_PROJECT")
	setString(&cfg.BQDataset, "BQ_DATASET")
	setString(&cfg.GeminiAPIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	setString(&cfg.GeminiModel, "GEMINI_MODEL")
	setString(&cfg.GCSBucket, "GCS_BUCKET")
	setString(&cfg.RulesPath, "RULES_PATH")
	setString(&cfg.NotionToken, "NOTION_TOKEN")
	setString(&cfg.NotionDatabaseID, "NOTION_DATABASE_ID")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.Port, "PORT")

	if v := get("EXTERNAL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("config: EXTERNAL_TIMEOUT: %w", err)
		}
		cfg.ExternalTimeout = d
	}
	if v := get("MARKET_SYMBOLS"); v != "" {
		cfg.MarketSymbols = SplitList(v)
	}

	for key, dst := range map[string]*int{"MARKET_DAYS": &cfg.MarketDays, "WORKERS": &cfg.Workers, "QUEUE_SIZE": &cfg.QueueSize} {
		v := get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = n
	}

	return cfg, cfg.Validate()
}

// RegisterFlags binds the common settings to fs, using the current values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.StoreBackend, "store", c.StoreBackend, "Store backend: sqlite, memory or bigquery (or set STORE_BACKEND env)")
	fs.StringVar(&c.DBPath, "db", c.DBPath, "SQLite database path (or set DB_PATH env)")
	fs.StringVar(&c.BQProject, "bq-project", c.BQProject, "BigQuery project ID (or set BQ_PROJECT env)")
	fs.StringVar(&c.BQDataset, "bq-dataset", c.BQDataset, "BigQuery dataset (or set BQ_DATASET env)")
	fs.StringVar(&c.GeminiModel, "model", c.GeminiModel, "Gemini model name (or set GEMINI_MODEL env)")
	fs.StringVar(&c.GCSBucket, "bucket", c.GCSBucket, "GCS bucket for receipt uploads (or set GCS_BUCKET env)")
	fs.StringVar(&c.RulesPath, "rules", c.RulesPath, "Normalizer rules YAML (or set RULES_PATH env)")
	fs.DurationVar(&c.ExternalTimeout, "timeout", c.ExternalTimeout, "Timeout for external calls (or set EXTERNAL_TIMEOUT env)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (or set LOG_LEVEL env)")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format: console or json (or set LOG_FORMAT env)")
}

// Validate reports settings that can never work.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendSQLite, BackendMemory, BackendBigQuery:
	default:
		return fmt.Errorf("config: unknown store backend %q", c.StoreBackend)
	}
	if c.ExternalTimeout <= 0 {
		return fmt.Errorf("config: external timeout must be positive")
	}
	if c.Workers < 0 || c.QueueSize < 0 {
		return fmt.Errorf("config: workers and queue size must not be negative")
	}
	return nil
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
