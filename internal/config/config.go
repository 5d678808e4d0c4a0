package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	ImageGen  ImageGenConfig  `yaml:"imagegen" mapstructure:"imagegen"`
	Scrape    ScrapeConfig    `yaml:"scrape" mapstructure:"scrape"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Jobs      JobsConfig      `yaml:"jobs" mapstructure:"jobs"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	Model          string  `yaml:"model" mapstructure:"model"`
	MaxTokens      int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// ImageGenConfig holds Gemini image generation settings.
type ImageGenConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// ScrapeConfig configures the website scraper.
type ScrapeConfig struct {
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent    string `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// PipelineConfig configures the intelligence pipeline.
type PipelineConfig struct {
	CacheTTLDays    int `yaml:"cache_ttl_days" mapstructure:"cache_ttl_days"`
	ContentMaxChars int `yaml:"content_max_chars" mapstructure:"content_max_chars"`
	ScenarioCount   int `yaml:"scenario_count" mapstructure:"scenario_count"`
	WordDelayMs     int `yaml:"word_delay_ms" mapstructure:"word_delay_ms"`
	CardDelayMs     int `yaml:"card_delay_ms" mapstructure:"card_delay_ms"`
}

// JobsConfig configures the job state store.
type JobsConfig struct {
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
	TTLHours      int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentSites int `yaml:"max_concurrent_sites" mapstructure:"max_concurrent_sites"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("batch.max_concurrent_sites", 5)
	v.SetDefault("scrape.timeout_secs", 45)
	v.SetDefault("scrape.user_agent", "intel-cli/1.0 (+https://sitelens.io/bot)")
	v.SetDefault("scrape.max_body_bytes", 4<<20)
	v.SetDefault("pipeline.cache_ttl_days", 30)
	v.SetDefault("pipeline.content_max_chars", 24000)
	v.SetDefault("pipeline.scenario_count", 4)
	v.SetDefault("pipeline.word_delay_ms", 24)
	v.SetDefault("pipeline.card_delay_ms", 400)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.requests_per_sec", 2.0)
	v.SetDefault("imagegen.model", "gemini-2.5-flash-image")
	v.SetDefault("jobs.ttl_hours", 24)

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

	return &cfg, nil
}

// Validate checks that required settings for the given mode are present.
func (c *Config) Validate(mode string) error {
	switch mode {
	case "pipeline":
		if c.Anthropic.Key == "" {
			return eris.New("config: anthropic.key is required (INTEL_ANTHROPIC_KEY)")
		}
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required for the postgres driver")
		}
	case "migrate":
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required for the postgres driver")
		}
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
