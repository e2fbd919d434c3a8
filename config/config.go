package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"ai-market-intelligence/models"
)

// DefaultConfigFile is read when no explicit path is given and it exists.
const DefaultConfigFile = "market.toml"

// Config holds all application configuration. It is built once at startup
// and passed to every component.
type Config struct {
	Paths      PathsConfig      `toml:"paths"`
	Normalizer NormalizerConfig `toml:"normalizer"`
	Catalog    CatalogConfig    `toml:"catalog"`
	LLM        LLMConfig        `toml:"llm"`
	Insights   InsightsConfig   `toml:"insights"`
	Campaigns  CampaignsConfig  `toml:"campaigns"`
	Report     ReportConfig     `toml:"report"`
	Storage    StorageConfig    `toml:"storage"`
	Logging    LoggingConfig    `toml:"logging"`

	// EnvFileLoaded is set when a .env file was found.
	EnvFileLoaded bool `toml:"-"`
}

type PathsConfig struct {
	RawExport       string `toml:"raw_export"`
	CleanedDataset  string `toml:"cleaned_dataset"`
	CatalogDataset  string `toml:"catalog_dataset"`
	UnifiedDataset  string `toml:"unified_dataset"`
	Insights        string `toml:"insights"`
	Report          string `toml:"report"`
	CampaignSource  string `toml:"campaign_source"`
	DerivedInsights string `toml:"derived_insights"`
	CreativeOutputs string `toml:"creative_outputs"`
}

type NormalizerConfig struct {
	SentinelCategories []string `toml:"sentinel_categories"`
	DateLayouts        []string `toml:"date_layouts"`
}

type CatalogConfig struct {
	BaseURL          string   `toml:"base_url"`
	Host             string   `toml:"host"`
	APIKey           string   `toml:"-"`
	TopN             int      `toml:"top_n"`
	ResultCount      int      `toml:"result_count"`
	Lang             string   `toml:"lang"`
	Country          string   `toml:"country"`
	Timeout          Duration `toml:"timeout"`
	MinInterval      Duration `toml:"min_interval"`
	RateLimitRetries int      `toml:"rate_limit_retries"`
	RateLimitBackoff Duration `toml:"rate_limit_backoff"`
	RateLimitMax     Duration `toml:"rate_limit_max_backoff"`
	TransientRetries int      `toml:"transient_retries"`
	TransientBackoff Duration `toml:"transient_backoff"`
	MinSuccessRate   float64  `toml:"min_success_rate"`
	QueryFallbacks   bool     `toml:"query_fallbacks"`
	ProgressEvery    int      `toml:"progress_every"`
}

// LLMConfig selects the completion provider.
type LLMConfig struct {
	Provider string   `toml:"provider"`
	Model    string   `toml:"model"`
	BaseURL  string   `toml:"base_url"`
	APIKey   string   `toml:"-"`
	Timeout  Duration `toml:"timeout"`
	// Retries bounds retries of transient provider failures per call.
	Retries int `toml:"retries"`
}

type InsightsConfig struct {
	Temperature      float64 `toml:"temperature"`
	RetryTemperature float64 `toml:"retry_temperature"`
	MaxTokens        int     `toml:"max_tokens"`
	MinPlatforms     int     `toml:"min_platforms"`
}

type CampaignsConfig struct {
	SEOPositionThreshold float64 `toml:"seo_position_threshold"`
	HeadlineTemperature  float64 `toml:"headline_temperature"`
	HeadlineMaxTokens    int     `toml:"headline_max_tokens"`
	HeadlineMaxChars     int     `toml:"headline_max_chars"`
	SEOTemperature       float64 `toml:"seo_temperature"`
	SEOMaxTokens         int     `toml:"seo_max_tokens"`
	SEOMaxChars          int     `toml:"seo_max_chars"`
}

type ReportConfig struct {
	HTML       bool     `toml:"html"`
	PDF        bool     `toml:"pdf"`
	ChromeBin  string   `toml:"chrome_bin"`
	PDFTimeout Duration `toml:"pdf_timeout"`
}

type StorageConfig struct {
	CheckpointDir string         `toml:"checkpoint_dir"`
	Postgres      PostgresConfig `toml:"postgres"`
}

// PostgresConfig configures the optional unified-dataset sink.
type PostgresConfig struct {
	Enabled   bool   `toml:"enabled"`
	URL       string `toml:"url"`
	Host      string `toml:"host"`
	Port      string `toml:"port"`
	User      string `toml:"user"`
	Password  string `toml:"-"`
	DB        string `toml:"db"`
	SSLMode   string `toml:"sslmode"`
	BatchSize int    `toml:"batch_size"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`
	Output []string `toml:"output"`
	File   string   `toml:"file"`
}

// NewDefaultConfig returns the configuration used when nothing overrides it.
func NewDefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			RawExport:       "data/raw/googleplaystore.csv",
			CleanedDataset:  "data/processed/google_play_cleaned.csv",
			CatalogDataset:  "data/processed/ios_apps_data.csv",
			UnifiedDataset:  "data/processed/combined_market_data.csv",
			Insights:        "output/insights.json",
			Report:          "output/executive_report.md",
			CampaignSource:  "data/campaigns/d2c_campaigns.xlsx",
			DerivedInsights: "output/d2c_insights.json",
			CreativeOutputs: "output/d2c_creative_outputs.json",
		},
		Normalizer: NormalizerConfig{
			SentinelCategories: []string{"1.9"},
			DateLayouts:        []string{"January 2, 2006", "Jan 2, 2006", "2006-01-02"},
		},
		Catalog: CatalogConfig{
			BaseURL:          "https://appstore-scrapper-api.p.rapidapi.com/v1/app-store-api/search",
			Host:             "appstore-scrapper-api.p.rapidapi.com",
			TopN:             100,
			ResultCount:      10,
			Lang:             "en",
			Country:          "us",
			Timeout:          Duration{30 * time.Second},
			MinInterval:      Duration{time.Second},
			RateLimitRetries: 5,
			RateLimitBackoff: Duration{5 * time.Second},
			RateLimitMax:     Duration{60 * time.Second},
			TransientRetries: 2,
			TransientBackoff: Duration{2 * time.Second},
			MinSuccessRate:   0,
			ProgressEvery:    25,
		},
		LLM: LLMConfig{
			Provider: ProviderGroq,
			Model:    "openai/gpt-oss-120b",
			Timeout:  Duration{2 * time.Minute},
			Retries:  2,
		},
		Insights: InsightsConfig{
			Temperature:      0.5,
			RetryTemperature: 0.2,
			MaxTokens:        4096,
			MinPlatforms:     2,
		},
		Campaigns: CampaignsConfig{
			SEOPositionThreshold: 3,
			HeadlineTemperature:  0.8,
			HeadlineMaxTokens:    200,
			HeadlineMaxChars:     1000,
			SEOTemperature:       0.7,
			SEOMaxTokens:         100,
			SEOMaxChars:          160,
		},
		Report: ReportConfig{
			HTML:       true,
			PDFTimeout: Duration{time.Minute},
		},
		Storage: StorageConfig{
			CheckpointDir: "data/checkpoints",
			Postgres: PostgresConfig{
				Host:      "localhost",
				Port:      "5432",
				User:      "market",
				DB:        "market_intel",
				SSLMode:   "disable",
				BatchSize: 50,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
			File:   "logs/market.log",
		},
	}
}

// Load builds the configuration: defaults, then the TOML file, then the
// .env file and process environment. An explicit path must exist; the
// default file is optional.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	file := path
	if file == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			file = DefaultConfigFile
		}
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", file, err)
		}
	}

	if err := godotenv.Load(); err == nil {
		cfg.EnvFileLoaded = true
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Catalog.APIKey = getEnv("RAPIDAPI_KEY", cfg.Catalog.APIKey)
	cfg.Catalog.TopN = getEnvInt("MARKET_TOP_N", cfg.Catalog.TopN)
	if ms := getEnvInt("RATE_LIMIT_MS", -1); ms >= 0 {
		cfg.Catalog.MinInterval = Duration{time.Duration(ms) * time.Millisecond}
	}
	cfg.Catalog.RateLimitRetries = getEnvInt("MAX_RETRIES", cfg.Catalog.RateLimitRetries)

	cfg.LLM.Provider = strings.ToLower(getEnv("MARKET_LLM_PROVIDER", cfg.LLM.Provider))
	cfg.LLM.Model = getEnv("MARKET_LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.APIKey = ResolveAPIKey(cfg.LLM.Provider)

	cfg.Report.ChromeBin = getEnv("CHROME_BIN", cfg.Report.ChromeBin)

	pg := &cfg.Storage.Postgres
	if url := os.Getenv("DATABASE_URL"); url != "" {
		pg.URL = url
		pg.Enabled = true
	}
	pg.Host = getEnv("POSTGRES_HOST", pg.Host)
	pg.Port = getEnv("POSTGRES_PORT", pg.Port)
	pg.User = getEnv("POSTGRES_USER", pg.User)
	pg.Password = getEnv("POSTGRES_PASSWORD", pg.Password)
	pg.DB = getEnv("POSTGRES_DB", pg.DB)
	pg.SSLMode = getEnv("POSTGRES_SSLMODE", pg.SSLMode)

	cfg.Logging.Level = getEnv("MARKET_LOG_LEVEL", cfg.Logging.Level)
}

// Validate checks value ranges. Credentials are checked separately by the
// commands that need them.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderGroq, ProviderOpenAI, ProviderGemini, ProviderClaude:
	default:
		return &models.ConfigurationError{Key: "llm.provider", Reason: fmt.Sprintf("unknown provider %q", c.LLM.Provider)}
	}
	if c.Catalog.TopN < 1 {
		return &models.ConfigurationError{Key: "catalog.top_n", Reason: "must be at least 1"}
	}
	if c.Catalog.RateLimitRetries < 0 || c.Catalog.TransientRetries < 0 {
		return &models.ConfigurationError{Key: "catalog retries", Reason: "must not be negative"}
	}
	if c.Catalog.MinSuccessRate < 0 || c.Catalog.MinSuccessRate > 1 {
		return &models.ConfigurationError{Key: "catalog.min_success_rate", Reason: "must be within [0,1]"}
	}
	if c.Insights.MaxTokens < 1 {
		return &models.ConfigurationError{Key: "insights.max_tokens", Reason: "must be positive"}
	}
	if c.Insights.MinPlatforms < 2 {
		return &models.ConfigurationError{Key: "insights.min_platforms", Reason: "must be at least 2"}
	}
	if c.Campaigns.SEOMaxChars < 1 {
		return &models.ConfigurationError{Key: "campaigns.seo_max_chars", Reason: "must be positive"}
	}
	return nil
}

// RequireCatalog fails when the catalog credential is absent.
func (c *Config) RequireCatalog() error {
	if c.Catalog.APIKey == "" {
		return &models.ConfigurationError{Key: "RAPIDAPI_KEY", Reason: "not set in environment or .env"}
	}
	return nil
}

// RequireCompletion fails when the selected provider's credential is absent.
func (c *Config) RequireCompletion() error {
	if c.LLM.APIKey == "" {
		return &models.ConfigurationError{
			Key:    APIKeyEnv(c.LLM.Provider),
			Reason: fmt.Sprintf("not set in environment or .env (provider %s)", c.LLM.Provider),
		}
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return "host=" + c.Host +
		" port=" + c.Port +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.DB +
		" sslmode=" + c.SSLMode
}

// Duration is a time.Duration written as a string ("30s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *models.ConfigurationError
	return errors.As(err, &ce)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}
