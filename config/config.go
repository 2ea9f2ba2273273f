package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the Friendly backend.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	RAG       RAGConfig       `mapstructure:"rag"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Listen           string `mapstructure:"listen"`
	JWTSecret        string `mapstructure:"jwt_secret"`
	AdminInviteToken string `mapstructure:"admin_invite_token"`
	CORSOrigin       string `mapstructure:"cors_origin"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret required")
	}
	return nil
}

// StorageConfig groups database configuration.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains postgres connection settings.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains redis connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

// Enabled reports whether redis is configured at all.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

// ProviderConfig contains the Mistral API settings.
type ProviderConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

func (p ProviderConfig) Validate() error {
	if strings.TrimSpace(p.APIKey) == "" {
		return fmt.Errorf("provider.api_key required")
	}
	return nil
}

// RAGConfig tunes retrieval behaviour.
type RAGConfig struct {
	// CreateTopK applies to the first turn of a fresh conversation,
	// FollowupTopK to every later turn.
	CreateTopK   int `mapstructure:"create_top_k"`
	FollowupTopK int `mapstructure:"followup_top_k"`
	// ApprovedOnly excludes unapproved entries from similarity search,
	// breaking the answer write-back feedback loop. Off by default.
	ApprovedOnly bool `mapstructure:"approved_only"`
	// TitleMaxLen caps the title of written-back knowledge entries.
	TitleMaxLen int `mapstructure:"title_max_len"`
}

// CacheConfig selects the completion memo cache backend.
type CacheConfig struct {
	Backend  string        `mapstructure:"backend"` // memory, lru or redis
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// RetentionConfig drives the conversation retention sweep.
type RetentionConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	CronSpec string        `mapstructure:"cron_spec"`
	IdleFor  time.Duration `mapstructure:"idle_for"`
}

// Load reads config from file (yaml) and FRIENDLY_* environment variables.
func Load(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("server.listen", ":5000")
	viper.SetDefault("server.cors_origin", "*")
	viper.SetDefault("provider.base_url", "https://api.mistral.ai/v1")
	viper.SetDefault("provider.completion_model", "mistral-large-latest")
	viper.SetDefault("provider.embedding_model", "mistral-embed")
	viper.SetDefault("provider.timeout", time.Minute)
	viper.SetDefault("provider.max_retries", 2)
	viper.SetDefault("rag.create_top_k", 5)
	viper.SetDefault("rag.followup_top_k", 3)
	viper.SetDefault("rag.approved_only", false)
	viper.SetDefault("rag.title_max_len", 100)
	viper.SetDefault("cache.backend", "memory")
	viper.SetDefault("cache.capacity", 1024)
	viper.SetDefault("cache.ttl", 24*time.Hour)
	viper.SetDefault("retention.enabled", false)
	viper.SetDefault("retention.cron_spec", "0 * * * *")
	viper.SetDefault("retention.idle_for", 24*time.Hour)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("FRIENDLY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// config file is optional when everything comes from the environment
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Server.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Provider.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
