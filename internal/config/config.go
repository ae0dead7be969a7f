package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Search    SearchConfig    `mapstructure:"search"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Liveness  LivenessConfig  `mapstructure:"liveness"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogSQL          bool          `mapstructure:"log_sql"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	// Immediate transactions take the write lock at BEGIN, where the busy
	// timeout applies, instead of failing on the first write after a read.
	return c.Path + "?_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
}

type QdrantConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"` // jina or openai-compatible
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Dimensions int    `mapstructure:"dimensions"`
}

type SearchConfig struct {
	SimilarityThreshold float32 `mapstructure:"similarity_threshold"`
	MaxResults          int     `mapstructure:"max_results"`
	PreferExternal      bool    `mapstructure:"prefer_external"`
}

type CacheConfig struct {
	TTLDays int `mapstructure:"ttl_days"`
}

// TTL returns the cache time-to-live as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout"`
}

// Timeout returns the per-call outbound HTTP timeout.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type ProvidersConfig struct {
	Order []string    `mapstructure:"order"`
	E621  E621Config  `mapstructure:"e621"`
	Nekos NekosConfig `mapstructure:"nekos"`
	Giphy GiphyConfig `mapstructure:"giphy"`
	Tenor TenorConfig `mapstructure:"tenor"`
}

type E621Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Username  string `mapstructure:"username"`
	APIKey    string `mapstructure:"api_key"`
	UserAgent string `mapstructure:"user_agent"`
	BaseURL   string `mapstructure:"base_url"`

	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

type NekosConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Endpoints   []string `mapstructure:"endpoints"`
	LifeBaseURL string   `mapstructure:"life_base_url"`
	BestBaseURL string   `mapstructure:"best_base_url"`
}

type GiphyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	Limit   int    `mapstructure:"limit"`
	BaseURL string `mapstructure:"base_url"`
}

type TenorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	Limit   int    `mapstructure:"limit"`
	BaseURL string `mapstructure:"base_url"`
}

type LivenessConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	VerifyIntervalDays int           `mapstructure:"verify_interval_days"`
	Interval           time.Duration `mapstructure:"interval"`
	BatchSize          int           `mapstructure:"batch_size"`
	BatchPause         time.Duration `mapstructure:"batch_pause"`
}

// StaleAfter returns how old last_verified may get before a row is re-checked.
func (c LivenessConfig) StaleAfter() time.Duration {
	return time.Duration(c.VerifyIntervalDays) * 24 * time.Hour
}

type IngestConfig struct {
	Workers         int   `mapstructure:"workers"`
	BatchSize       int   `mapstructure:"batch_size"`
	InspectMedia    bool  `mapstructure:"inspect_media"`
	MaxInspectBytes int64 `mapstructure:"max_inspect_bytes"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Providers.Order = cleanList(cfg.Providers.Order)
	cfg.Providers.Nekos.Endpoints = cleanList(cfg.Providers.Nekos.Endpoints)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/gifs.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.max_open_conns", 8)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("qdrant.enabled", false)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "topics")

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "gifs")

	v.SetDefault("embedding.provider", "jina")
	v.SetDefault("embedding.model", "jina-embeddings-v3")
	v.SetDefault("embedding.dimensions", 384)

	v.SetDefault("search.similarity_threshold", 0.55)
	v.SetDefault("search.max_results", 25)
	v.SetDefault("search.prefer_external", false)

	v.SetDefault("cache.ttl_days", 7)
	v.SetDefault("http.timeout", 10)

	v.SetDefault("providers.order", []string{"e621", "nekos", "giphy", "tenor"})
	v.SetDefault("providers.e621.enabled", false)
	v.SetDefault("providers.e621.user_agent", "gifengine/1.0 (by username)")
	v.SetDefault("providers.e621.base_url", "https://e621.net")
	v.SetDefault("providers.e621.requests_per_second", 2)
	v.SetDefault("providers.nekos.enabled", true)
	v.SetDefault("providers.nekos.endpoints", []string{"ngif", "neko", "smug", "pat", "kiss", "hug"})
	v.SetDefault("providers.nekos.life_base_url", "https://nekos.life")
	v.SetDefault("providers.nekos.best_base_url", "https://nekos.best")
	v.SetDefault("providers.giphy.enabled", false)
	v.SetDefault("providers.giphy.limit", 25)
	v.SetDefault("providers.giphy.base_url", "https://api.giphy.com")
	v.SetDefault("providers.tenor.enabled", false)
	v.SetDefault("providers.tenor.limit", 25)
	v.SetDefault("providers.tenor.base_url", "https://g.tenor.com")

	v.SetDefault("liveness.enabled", true)
	v.SetDefault("liveness.verify_interval_days", 14)
	v.SetDefault("liveness.interval", 12*time.Hour)
	v.SetDefault("liveness.batch_size", 20)
	v.SetDefault("liveness.batch_pause", time.Second)

	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.batch_size", 50)
	v.SetDefault("ingest.inspect_media", false)
	v.SetDefault("ingest.max_inspect_bytes", 512*1024)
}

// bindEnv maps the flat environment names used in deployments onto config keys.
func bindEnv(v *viper.Viper) {
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.path", "DB_PATH")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.port", "QDRANT_PORT")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("embedding.api_key", "JINA_API_KEY")
	v.BindEnv("embedding.dimensions", "EMBEDDING_DIM")

	v.BindEnv("search.similarity_threshold", "SIMILARITY_THRESHOLD")
	v.BindEnv("search.max_results", "MAX_RESULTS")
	v.BindEnv("search.prefer_external", "PREFER_EXTERNAL")
	v.BindEnv("cache.ttl_days", "CACHE_TTL_DAYS")
	v.BindEnv("http.timeout", "HTTP_TIMEOUT")
	v.BindEnv("liveness.verify_interval_days", "VERIFY_INTERVAL_DAYS")

	v.BindEnv("providers.order", "EXTERNAL_API_ORDER")
	v.BindEnv("providers.e621.enabled", "ENABLE_E621")
	v.BindEnv("providers.e621.username", "E621_USERNAME")
	v.BindEnv("providers.e621.api_key", "E621_API_KEY")
	v.BindEnv("providers.e621.user_agent", "E621_USER_AGENT")
	v.BindEnv("providers.e621.requests_per_second", "E621_REQUESTS_PER_SECOND")
	v.BindEnv("providers.nekos.enabled", "ENABLE_NEKOS")
	v.BindEnv("providers.nekos.endpoints", "NEKOS_ENDPOINTS")
	v.BindEnv("providers.giphy.enabled", "ENABLE_GIPHY")
	v.BindEnv("providers.giphy.api_key", "GIPHY_API_KEY")
	v.BindEnv("providers.giphy.limit", "GIPHY_SEARCH_LIMIT")
	v.BindEnv("providers.tenor.enabled", "ENABLE_TENOR")
	v.BindEnv("providers.tenor.api_key", "TENOR_API_KEY")
	v.BindEnv("providers.tenor.limit", "TENOR_SEARCH_LIMIT")
}

// Validate checks value ranges that would otherwise fail deep inside a service.
func (c *Config) Validate() error {
	if c.Search.SimilarityThreshold < -1 || c.Search.SimilarityThreshold > 1 {
		return fmt.Errorf("search.similarity_threshold must be within [-1, 1], got %v", c.Search.SimilarityThreshold)
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive")
	}
	if c.Liveness.BatchSize <= 0 {
		return fmt.Errorf("liveness.batch_size must be positive")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout must be positive")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}
	return nil
}

// cleanList trims entries and drops empties; env values arrive as one comma-separated string.
func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
