// Package config loads adlens configuration from the environment and an
// optional adlens.yaml file.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds all configuration for the adlens service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	AI        AIConfig        `mapstructure:"ai"`
}

type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	Env         string `mapstructure:"env"`
	CORSOrigins string `mapstructure:"cors_origins"`
}

// AllowedOrigins splits the comma-separated CORS origin list.
func (s ServerConfig) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(s.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

type RedisConfig struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
	PoolSize  int    `mapstructure:"pool_size"`
}

type StorageConfig struct {
	Driver   string      `mapstructure:"driver"`
	LocalDir string      `mapstructure:"local_dir"`
	MinIO    MinIOConfig `mapstructure:"minio"`
}

type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type WorkerConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	LeaseTimeout   time.Duration `mapstructure:"lease_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

type IngestConfig struct {
	BatchSize      int   `mapstructure:"batch_size"`
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

type CacheConfig struct {
	ResultTTL time.Duration `mapstructure:"result_ttl"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

type AIConfig struct {
	Provider          string          `mapstructure:"provider"`
	InferenceTimeout  time.Duration   `mapstructure:"inference_timeout"`
	RequestsPerMinute int             `mapstructure:"requests_per_minute"`
	MaxTokens         int             `mapstructure:"max_tokens"`
	Ollama            OllamaConfig    `mapstructure:"ollama"`
	VLLM              VLLMConfig      `mapstructure:"vllm"`
	OpenAI            OpenAIConfig    `mapstructure:"openai"`
	Anthropic         AnthropicConfig `mapstructure:"anthropic"`
	Gemini            GeminiConfig    `mapstructure:"gemini"`
}

type OllamaConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type VLLMConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type OpenAIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

var validProviders = map[string]bool{
	"ollama":    true,
	"vllm":      true,
	"openai":    true,
	"anthropic": true,
	"gemini":    true,
	"none":      true,
}

// setting binds one config key to its environment variable and default.
type setting struct {
	key string
	env string
	def any
}

var settings = []setting{
	{"server.port", "ADLENS_PORT", 8080},
	{"server.env", "ADLENS_ENV", "development"},
	{"server.cors_origins", "CORS_ALLOWED_ORIGINS", "*"},

	{"log.level", "LOG_LEVEL", "info"},
	{"log.format", "LOG_FORMAT", "json"},

	{"database.url", "DATABASE_URL", ""},
	{"database.max_open_conns", "DATABASE_MAX_OPEN_CONNS", 25},
	{"database.max_idle_conns", "DATABASE_MAX_IDLE_CONNS", 5},
	{"database.conn_max_lifetime", "DATABASE_CONN_MAX_LIFETIME", 5 * time.Minute},
	{"database.migrations_dir", "DATABASE_MIGRATIONS_DIR", "migrations"},

	{"redis.url", "REDIS_URL", ""},
	{"redis.key_prefix", "REDIS_KEY_PREFIX", "adlens"},
	{"redis.pool_size", "REDIS_POOL_SIZE", 20},

	{"storage.driver", "STORAGE_DRIVER", "local"},
	{"storage.local_dir", "STORAGE_LOCAL_DIR", "data/uploads"},
	{"storage.minio.endpoint", "MINIO_ENDPOINT", ""},
	{"storage.minio.access_key", "MINIO_ACCESS_KEY", ""},
	{"storage.minio.secret_key", "MINIO_SECRET_KEY", ""},
	{"storage.minio.bucket", "MINIO_BUCKET", "adlens-uploads"},
	{"storage.minio.use_ssl", "MINIO_USE_SSL", false},

	{"worker.concurrency", "WORKER_CONCURRENCY", 4},
	{"worker.max_attempts", "JOB_MAX_ATTEMPTS", 3},
	{"worker.initial_backoff", "JOB_INITIAL_BACKOFF", 2 * time.Second},
	{"worker.max_backoff", "JOB_MAX_BACKOFF", time.Minute},
	{"worker.lease_timeout", "WORKER_LEASE_TIMEOUT", 5 * time.Minute},
	{"worker.poll_interval", "WORKER_POLL_INTERVAL", time.Second},

	{"ingest.batch_size", "INGEST_BATCH_SIZE", 500},
	{"ingest.max_upload_bytes", "INGEST_MAX_UPLOAD_BYTES", int64(50 << 20)},

	{"cache.result_ttl", "CACHE_RESULT_TTL", time.Hour},

	{"ratelimit.requests_per_minute", "RATE_LIMIT_RPM", 60},

	{"ai.provider", "AI_PROVIDER", ""},
	{"ai.inference_timeout", "AI_INFERENCE_TIMEOUT", 60 * time.Second},
	{"ai.requests_per_minute", "AI_REQUESTS_PER_MINUTE", 30},
	{"ai.max_tokens", "AI_MAX_TOKENS", 2048},
	{"ai.ollama.base_url", "OLLAMA_BASE_URL", "http://localhost:11434"},
	{"ai.ollama.model", "OLLAMA_MODEL", "llama3"},
	{"ai.vllm.base_url", "VLLM_BASE_URL", "http://localhost:8000"},
	{"ai.vllm.model", "VLLM_MODEL", ""},
	{"ai.openai.base_url", "OPENAI_BASE_URL", "https://api.openai.com/v1"},
	{"ai.openai.api_key", "OPENAI_API_KEY", ""},
	{"ai.openai.model", "OPENAI_MODEL", "gpt-4o-mini"},
	{"ai.anthropic.api_key", "ANTHROPIC_API_KEY", ""},
	{"ai.anthropic.model", "ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"},
	{"ai.gemini.api_key", "GEMINI_API_KEY", ""},
	{"ai.gemini.model", "GEMINI_MODEL", "gemini-2.0-flash"},
}

// Load reads configuration from adlens.yaml (optional) and the environment and
// returns a validated Config.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("adlens")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
		if err := v.BindEnv(s.key, s.env); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", s.env)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return eris.New("DATABASE_URL is required")
	}
	if c.Redis.URL == "" {
		return eris.New("REDIS_URL is required")
	}

	switch c.Storage.Driver {
	case "local":
		if c.Storage.LocalDir == "" {
			return eris.New("STORAGE_LOCAL_DIR is required when STORAGE_DRIVER is local")
		}
	case "minio":
		if c.Storage.MinIO.Endpoint == "" {
			return eris.New("MINIO_ENDPOINT is required when STORAGE_DRIVER is minio")
		}
		if c.Storage.MinIO.Bucket == "" {
			return eris.New("MINIO_BUCKET is required when STORAGE_DRIVER is minio")
		}
	default:
		return eris.Errorf("STORAGE_DRIVER must be one of local, minio; got %q", c.Storage.Driver)
	}

	if c.Worker.Concurrency <= 0 {
		return eris.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxAttempts <= 0 {
		return eris.Errorf("JOB_MAX_ATTEMPTS must be positive, got %d", c.Worker.MaxAttempts)
	}
	if c.Ingest.BatchSize <= 0 {
		return eris.Errorf("INGEST_BATCH_SIZE must be positive, got %d", c.Ingest.BatchSize)
	}

	if c.AI.Provider == "" {
		return eris.New("AI_PROVIDER is required (use \"none\" to disable generation)")
	}
	if !validProviders[c.AI.Provider] {
		return eris.Errorf("AI_PROVIDER must be one of ollama, vllm, openai, anthropic, gemini, none; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return eris.New("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return eris.New("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}
	if c.AI.Provider == "gemini" && c.AI.Gemini.APIKey == "" {
		return eris.New("GEMINI_API_KEY is required when AI_PROVIDER is gemini")
	}
	if c.AI.Provider == "vllm" && c.AI.VLLM.Model == "" {
		return eris.New("VLLM_MODEL is required when AI_PROVIDER is vllm")
	}

	return nil
}

// InitLogger builds the global zap logger from cfg.
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
