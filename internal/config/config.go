package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig             `yaml:"store" mapstructure:"store"`
	Pipeline   PipelineConfig          `yaml:"pipeline" mapstructure:"pipeline"`
	Browser    BrowserConfig           `yaml:"browser" mapstructure:"browser"`
	Fetch      FetchConfig             `yaml:"fetch" mapstructure:"fetch"`
	Sources    map[string]SourceConfig `yaml:"sources" mapstructure:"sources"`
	Google     GoogleConfig            `yaml:"google" mapstructure:"google"`
	Storage    StorageConfig           `yaml:"storage" mapstructure:"storage"`
	Workspace  WorkspaceConfig         `yaml:"workspace" mapstructure:"workspace"`
	Report     ReportConfig            `yaml:"report" mapstructure:"report"`
	Notion     NotionConfig            `yaml:"notion" mapstructure:"notion"`
	Salesforce SalesforceConfig        `yaml:"salesforce" mapstructure:"salesforce"`
	Server     ServerConfig            `yaml:"server" mapstructure:"server"`
	Log        LogConfig               `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the catalog database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PipelineConfig configures ingestion jobs.
type PipelineConfig struct {
	Env                 string `yaml:"env" mapstructure:"env"`
	DryRun              bool   `yaml:"dry_run" mapstructure:"dry_run"`
	MaxRuntimeSeconds   int    `yaml:"max_runtime_seconds" mapstructure:"max_runtime_seconds"`
	SessionRestartEvery int    `yaml:"session_restart_every" mapstructure:"session_restart_every"`
	MinPDFBytes         int64  `yaml:"min_pdf_bytes" mapstructure:"min_pdf_bytes"`
	PDFDir              string `yaml:"pdf_dir" mapstructure:"pdf_dir"`
	ExtractionVersion   string `yaml:"extraction_version" mapstructure:"extraction_version"`
	BlockedThreshold    int    `yaml:"blocked_threshold" mapstructure:"blocked_threshold"`
}

// BrowserConfig configures the headless browser used for detail pages.
type BrowserConfig struct {
	Headless        bool   `yaml:"headless" mapstructure:"headless"`
	TimeoutSecs     int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UnblockWaitSecs int    `yaml:"unblock_wait_secs" mapstructure:"unblock_wait_secs"`
	ExecPath        string `yaml:"exec_path" mapstructure:"exec_path"`
	UserAgent       string `yaml:"user_agent" mapstructure:"user_agent"`
}

// FetchConfig configures plain HTTP fetching of index pages.
type FetchConfig struct {
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retries        int     `yaml:"retries" mapstructure:"retries"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	UserAgent      string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// SourceConfig holds per-source credentials and cadence.
type SourceConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	FreshnessDays int    `yaml:"freshness_days" mapstructure:"freshness_days"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	Username      string `yaml:"username" mapstructure:"username"`
	Password      string `yaml:"password" mapstructure:"password"`
	MaxPages      int    `yaml:"max_pages" mapstructure:"max_pages"`
}

// GoogleConfig holds Google service-account credentials.
type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
}

// StorageConfig selects the artifact store backend.
type StorageConfig struct {
	Backend         string `yaml:"backend" mapstructure:"backend"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	ReportsFolderID string `yaml:"reports_folder_id" mapstructure:"reports_folder_id"`
}

// WorkspaceConfig configures the analyst spreadsheet.
type WorkspaceConfig struct {
	SpreadsheetID      string   `yaml:"spreadsheet_id" mapstructure:"spreadsheet_id"`
	LocalSpreadsheetID string   `yaml:"local_spreadsheet_id" mapstructure:"local_spreadsheet_id"`
	SheetName          string   `yaml:"sheet_name" mapstructure:"sheet_name"`
	Owners             []string `yaml:"owners" mapstructure:"owners"`
	WriteRPS           float64  `yaml:"write_rps" mapstructure:"write_rps"`
	MaxAttempts        int      `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// ReportConfig configures the report sinks.
type ReportConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
	ChannelID  string `yaml:"channel_id" mapstructure:"channel_id"`
	OutDir     string `yaml:"out_dir" mapstructure:"out_dir"`
}

// NotionConfig holds Notion API credentials and database IDs.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	ReportDB string `yaml:"report_db" mapstructure:"report_db"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// legacyEnv maps the bare environment names used by schedulers onto config keys.
var legacyEnv = map[string]string{
	"pipeline.dry_run":             "DRY_RUN",
	"pipeline.max_runtime_seconds": "MAX_RUNTIME_SECONDS",
	"pipeline.env":                 "PIPELINE_ENV",
	"browser.headless":             "PLAYWRIGHT_HEADLESS",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "DEALS_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", env)
		}
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "deals.db")
	v.SetDefault("pipeline.env", "local")
	v.SetDefault("pipeline.dry_run", false)
	v.SetDefault("pipeline.max_runtime_seconds", 3600)
	v.SetDefault("pipeline.session_restart_every", 40)
	v.SetDefault("pipeline.min_pdf_bytes", 10240)
	v.SetDefault("pipeline.pdf_dir", "pdfs")
	v.SetDefault("pipeline.extraction_version", "v1")
	v.SetDefault("pipeline.blocked_threshold", 5)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.timeout_secs", 45)
	v.SetDefault("browser.unblock_wait_secs", 300)
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.retries", 3)
	v.SetDefault("fetch.requests_per_sec", 1.0)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (compatible; DealPipeline/1.0)")
	v.SetDefault("storage.backend", "drive")
	v.SetDefault("workspace.sheet_name", "Deals")
	v.SetDefault("workspace.owners", []string{"AMO", "JS", "RB", "TW"})
	v.SetDefault("workspace.write_rps", 1.0)
	v.SetDefault("workspace.max_attempts", 5)
	v.SetDefault("report.out_dir", "reports")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if cfg.Sources == nil {
		cfg.Sources = map[string]SourceConfig{}
	}

	return &cfg, nil
}

// Source returns the configuration for a named source with defaults applied.
func (c *Config) Source(name string) SourceConfig {
	sc, ok := c.Sources[name]
	if !ok {
		sc = SourceConfig{Enabled: true}
	}
	if sc.FreshnessDays <= 0 {
		sc.FreshnessDays = 7
	}
	if sc.MaxPages <= 0 {
		sc.MaxPages = 50
	}
	return sc
}

// SpreadsheetID returns the workspace spreadsheet for the current environment.
func (c *Config) SpreadsheetID() string {
	if c.Pipeline.Env == "local" && c.Workspace.LocalSpreadsheetID != "" {
		return c.Workspace.LocalSpreadsheetID
	}
	return c.Workspace.SpreadsheetID
}

// Validate checks that the keys required by a command family are present.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	switch c.Pipeline.Env {
	case "local", "prod":
	default:
		errs = append(errs, fmt.Sprintf("pipeline.env %q must be local or prod", c.Pipeline.Env))
	}

	switch mode {
	case "catalog":
	case "ingest":
		if c.Pipeline.MaxRuntimeSeconds <= 0 {
			errs = append(errs, "pipeline.max_runtime_seconds must be > 0")
		}
		if c.Pipeline.SessionRestartEvery <= 0 {
			errs = append(errs, "pipeline.session_restart_every must be > 0")
		}
		if !c.Pipeline.DryRun {
			switch c.Storage.Backend {
			case "drive":
				if c.Google.CredentialsFile == "" {
					errs = append(errs, "google.credentials_file is required")
				}
			case "gcs":
				if c.Storage.Bucket == "" {
					errs = append(errs, "storage.bucket is required")
				}
			default:
				errs = append(errs, fmt.Sprintf("storage.backend %q must be drive or gcs", c.Storage.Backend))
			}
		}
	case "workspace":
		if c.Google.CredentialsFile == "" {
			errs = append(errs, "google.credentials_file is required")
		}
		if c.SpreadsheetID() == "" {
			errs = append(errs, "workspace.spreadsheet_id is required")
		}
		if c.Workspace.MaxAttempts < 1 || c.Workspace.MaxAttempts > 10 {
			errs = append(errs, "workspace.max_attempts must be between 1 and 10")
		}
	case "crm":
		if c.Salesforce.ClientID == "" {
			errs = append(errs, "salesforce.client_id is required")
		}
		if c.Salesforce.Username == "" {
			errs = append(errs, "salesforce.username is required")
		}
		if c.Salesforce.KeyPath == "" {
			errs = append(errs, "salesforce.key_path is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
