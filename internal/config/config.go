package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	HTTP       HTTPConfig       `yaml:"http" mapstructure:"http"`
	Crossref   CrossrefConfig   `yaml:"crossref" mapstructure:"crossref"`
	NCBI       NCBIConfig       `yaml:"ncbi" mapstructure:"ncbi"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// HTTPConfig holds settings shared by every outbound literature API call.
type HTTPConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffMs   int    `yaml:"backoff_ms" mapstructure:"backoff_ms"`
	RateLimitMs int    `yaml:"rate_limit_ms" mapstructure:"rate_limit_ms"`
}

// Timeout returns the per-attempt request timeout.
func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSecs) * time.Second
}

// Backoff returns the linear backoff base.
func (h HTTPConfig) Backoff() time.Duration {
	return time.Duration(h.BackoffMs) * time.Millisecond
}

// RateLimit returns the minimum spacing between calls to one host.
func (h HTTPConfig) RateLimit() time.Duration {
	return time.Duration(h.RateLimitMs) * time.Millisecond
}

// CrossrefConfig configures the Crossref works API.
type CrossrefConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Mailto  string `yaml:"mailto" mapstructure:"mailto"`
	Rows    int    `yaml:"rows" mapstructure:"rows"`
}

// NCBIConfig configures PubMed search, the PMC ID converter and PMC efetch.
type NCBIConfig struct {
	Tool          string `yaml:"tool" mapstructure:"tool"`
	Email         string `yaml:"email" mapstructure:"email"`
	APIKey        string `yaml:"api_key" mapstructure:"api_key"`
	EUtilsBaseURL string `yaml:"eutils_base_url" mapstructure:"eutils_base_url"`
	IDConvBaseURL string `yaml:"idconv_base_url" mapstructure:"idconv_base_url"`
	PubMedRetmax  int    `yaml:"pubmed_retmax" mapstructure:"pubmed_retmax"`
}

// CacheConfig selects the full-text document cache backend.
type CacheConfig struct {
	Backend     string `yaml:"backend" mapstructure:"backend"`
	Dir         string `yaml:"dir" mapstructure:"dir"`
	RedisURL    string `yaml:"redis_url" mapstructure:"redis_url"`
	RedisPrefix string `yaml:"redis_prefix" mapstructure:"redis_prefix"`
}

// ClassifierConfig selects the triage classifier strategy.
type ClassifierConfig struct {
	Strategy            string  `yaml:"strategy" mapstructure:"strategy"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	LearnedThreshold    float64 `yaml:"learned_threshold" mapstructure:"learned_threshold"`
	SeedsPath           string  `yaml:"seeds_path" mapstructure:"seeds_path"`
}

// PipelineConfig holds per-stage batch limits and extraction settings.
type PipelineConfig struct {
	TriageLimit        int     `yaml:"triage_limit" mapstructure:"triage_limit"`
	DiscoverLimit      int     `yaml:"discover_limit" mapstructure:"discover_limit"`
	TopK               int     `yaml:"top_k" mapstructure:"top_k"`
	ExtractLimit       int     `yaml:"extract_limit" mapstructure:"extract_limit"`
	ExtractConfidence  float64 `yaml:"extract_confidence" mapstructure:"extract_confidence"`
	FoodMatchThreshold float64 `yaml:"food_match_threshold" mapstructure:"food_match_threshold"`
}

// MetricsConfig configures the optional Pushgateway export for batch jobs.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" mapstructure:"pushgateway_url"`
	JobName        string `yaml:"job_name" mapstructure:"job_name"`
}

// ServerConfig configures the ops HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures queue health alerts sent from the ops server.
type MonitoringConfig struct {
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	ReviewRateThreshold float64 `yaml:"review_rate_threshold" mapstructure:"review_rate_threshold"`
	BacklogThreshold    int     `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
	RetryThreshold      int     `yaml:"retry_threshold" mapstructure:"retry_threshold"`
}

// Load reads configuration from config.yaml (optional) and AMINOSCOUT_*
// environment variables. Environment wins over the file, the file wins over
// defaults.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. Unlike the default
// config.yaml, a named file must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("AMINOSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key needs one so AutomaticEnv can bind it on Unmarshal.
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/aminoscout.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("http.user_agent", "aminoscout/1.0 (+https://github.com/sells-group/aminoscout)")
	v.SetDefault("http.timeout_secs", 20)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_ms", 1500)
	v.SetDefault("http.rate_limit_ms", 350)
	v.SetDefault("crossref.base_url", "https://api.crossref.org")
	v.SetDefault("crossref.mailto", "")
	v.SetDefault("crossref.rows", 10)
	v.SetDefault("ncbi.tool", "aminoscout")
	v.SetDefault("ncbi.email", "")
	v.SetDefault("ncbi.api_key", "")
	v.SetDefault("ncbi.eutils_base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("ncbi.idconv_base_url", "https://pmc.ncbi.nlm.nih.gov/tools/idconv/api/v1/articles/")
	v.SetDefault("ncbi.pubmed_retmax", 10)
	v.SetDefault("cache.backend", "disk")
	v.SetDefault("cache.dir", "data/papers_cache")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.redis_prefix", "aminoscout:fulltext:")
	v.SetDefault("classifier.strategy", "lexical")
	v.SetDefault("classifier.similarity_threshold", 0.30)
	v.SetDefault("classifier.learned_threshold", 0.60)
	v.SetDefault("classifier.seeds_path", "")
	v.SetDefault("pipeline.triage_limit", 500)
	v.SetDefault("pipeline.discover_limit", 25)
	v.SetDefault("pipeline.top_k", 10)
	v.SetDefault("pipeline.extract_limit", 10)
	v.SetDefault("pipeline.extract_confidence", 0.7)
	v.SetDefault("pipeline.food_match_threshold", 0.6)
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job_name", "aminoscout")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.review_rate_threshold", 0.8)
	v.SetDefault("monitoring.backlog_threshold", 1000)
	v.SetDefault("monitoring.retry_threshold", 10)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs before it touches the store
// or the network. All problems are reported together; any one is fatal at
// job start.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "migrate", "log-query", "status":
		errs = append(errs, c.validateStore()...)
	case "triage":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateClassifier()...)
	case "candidates":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateProviders()...)
	case "extract":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateProviders()...)
		errs = append(errs, c.validateCache()...)
	case "run":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateClassifier()...)
		errs = append(errs, c.validateProviders()...)
		errs = append(errs, c.validateCache()...)
	case "serve":
		errs = append(errs, c.validateStore()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Pipeline.ExtractConfidence < 0 || c.Pipeline.ExtractConfidence > 1 {
		errs = append(errs, "pipeline.extract_confidence must be between 0 and 1")
	}
	if c.Pipeline.FoodMatchThreshold < 0 || c.Pipeline.FoodMatchThreshold > 1 {
		errs = append(errs, "pipeline.food_match_threshold must be between 0 and 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
}

func (c *Config) validateClassifier() []string {
	var errs []string
	switch c.Classifier.Strategy {
	case "lexical", "learned":
	default:
		errs = append(errs, "classifier.strategy must be lexical or learned")
	}
	if c.Classifier.SimilarityThreshold <= 0 || c.Classifier.SimilarityThreshold > 1 {
		errs = append(errs, "classifier.similarity_threshold must be in (0, 1]")
	}
	if c.Classifier.LearnedThreshold <= 0 || c.Classifier.LearnedThreshold > 1 {
		errs = append(errs, "classifier.learned_threshold must be in (0, 1]")
	}
	return errs
}

func (c *Config) validateProviders() []string {
	var errs []string
	if c.Crossref.BaseURL == "" {
		errs = append(errs, "crossref.base_url is required")
	}
	if c.NCBI.EUtilsBaseURL == "" {
		errs = append(errs, "ncbi.eutils_base_url is required")
	}
	if c.NCBI.IDConvBaseURL == "" {
		errs = append(errs, "ncbi.idconv_base_url is required")
	}
	if c.NCBI.Tool == "" {
		errs = append(errs, "ncbi.tool is required")
	}
	if c.HTTP.TimeoutSecs <= 0 {
		errs = append(errs, "http.timeout_secs must be > 0")
	}
	if c.HTTP.MaxRetries <= 0 {
		errs = append(errs, "http.max_retries must be > 0")
	}
	return errs
}

func (c *Config) validateCache() []string {
	switch c.Cache.Backend {
	case "disk":
		if c.Cache.Dir == "" {
			return []string{"cache.dir is required for the disk backend"}
		}
	case "redis":
		if c.Cache.RedisURL == "" {
			return []string{"cache.redis_url is required for the redis backend"}
		}
	default:
		return []string{"cache.backend must be disk or redis"}
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
