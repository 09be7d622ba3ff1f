// Package config loads service configuration from an optional YAML file and
// CHESSARCHIVE_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

// Config holds the full application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Moves    MovesConfig    `yaml:"moves" mapstructure:"moves"`
	Archive  ArchiveConfig  `yaml:"archive" mapstructure:"archive"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Search   SearchConfig   `yaml:"search" mapstructure:"search"`
	Query    QueryConfig    `yaml:"query" mapstructure:"query"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// DatabaseConfig configures the metadata store pool.
type DatabaseConfig struct {
	URL            string        `yaml:"url" mapstructure:"url"`
	MinConns       int32         `yaml:"min_conns" mapstructure:"min_conns"`
	MaxConns       int32         `yaml:"max_conns" mapstructure:"max_conns"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout" mapstructure:"acquire_timeout"`
	RetryAttempts  int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoff   time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// MovesConfig selects the precomputed move-text store.
type MovesConfig struct {
	Driver           string `yaml:"driver" mapstructure:"driver"` // redis, sqlite or none
	RedisURL         string `yaml:"redis_url" mapstructure:"redis_url"`
	SQLitePath       string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	PersistExtracted bool   `yaml:"persist_extracted" mapstructure:"persist_extracted"`
}

// ArchiveConfig configures the flat-file archive and the extraction engine.
type ArchiveConfig struct {
	Dir             string `yaml:"dir" mapstructure:"dir"`
	BoundaryDays    int    `yaml:"boundary_days" mapstructure:"boundary_days"`
	ChunkSize       int    `yaml:"chunk_size" mapstructure:"chunk_size"`
	MaxGameBytes    int    `yaml:"max_game_bytes" mapstructure:"max_game_bytes"`
	ScanConcurrency int64  `yaml:"scan_concurrency" mapstructure:"scan_concurrency"`
}

// CacheConfig sizes the hot and warm tiers.
type CacheConfig struct {
	HotCapacity        int           `yaml:"hot_capacity" mapstructure:"hot_capacity"`
	HotTTL             time.Duration `yaml:"hot_ttl" mapstructure:"hot_ttl"`
	WarmCapacity       int           `yaml:"warm_capacity" mapstructure:"warm_capacity"`
	WarmTTL            time.Duration `yaml:"warm_ttl" mapstructure:"warm_ttl"`
	PromotionThreshold int           `yaml:"promotion_threshold" mapstructure:"promotion_threshold"`
	PromotionWindow    time.Duration `yaml:"promotion_window" mapstructure:"promotion_window"`
	SweepInterval      time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	PageCapacity       int           `yaml:"page_capacity" mapstructure:"page_capacity"`
	PageTTL            time.Duration `yaml:"page_ttl" mapstructure:"page_ttl"`
}

// SearchConfig configures the name index.
type SearchConfig struct {
	RebuildSpec string `yaml:"rebuild_spec" mapstructure:"rebuild_spec"`
	AliasFile   string `yaml:"alias_file" mapstructure:"alias_file"`
	ECODir      string `yaml:"eco_dir" mapstructure:"eco_dir"`
	MaxDistance int    `yaml:"max_distance" mapstructure:"max_distance"`
	MinFreq     int    `yaml:"min_freq" mapstructure:"min_freq"`
}

// QueryConfig configures the coordinator.
type QueryConfig struct {
	ExtractionDeadline time.Duration `yaml:"extraction_deadline" mapstructure:"extraction_deadline"`
	DefaultPageSize    int           `yaml:"default_page_size" mapstructure:"default_page_size"`
	MaxPageSize        int           `yaml:"max_page_size" mapstructure:"max_page_size"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string        `yaml:"addr" mapstructure:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	Pprof        bool          `yaml:"pprof" mapstructure:"pprof"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "postgres://localhost:5432/chessarchive")
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conns", 16)
	v.SetDefault("database.acquire_timeout", 2*time.Second)
	v.SetDefault("database.retry_attempts", 3)
	v.SetDefault("database.retry_backoff", 100*time.Millisecond)
	v.SetDefault("moves.driver", "sqlite")
	v.SetDefault("moves.redis_url", "redis://localhost:6379/0")
	v.SetDefault("moves.sqlite_path", "./data/moves.db")
	v.SetDefault("moves.persist_extracted", true)
	v.SetDefault("archive.dir", "./data/archive")
	v.SetDefault("archive.boundary_days", 3)
	v.SetDefault("archive.chunk_size", 256*1024)
	v.SetDefault("archive.max_game_bytes", 1<<20)
	v.SetDefault("archive.scan_concurrency", 2)
	v.SetDefault("cache.hot_capacity", 512)
	v.SetDefault("cache.hot_ttl", 5*time.Minute)
	v.SetDefault("cache.warm_capacity", 20000)
	v.SetDefault("cache.warm_ttl", 6*time.Hour)
	v.SetDefault("cache.promotion_threshold", 3)
	v.SetDefault("cache.promotion_window", time.Minute)
	v.SetDefault("cache.sweep_interval", 30*time.Second)
	v.SetDefault("cache.page_capacity", 2000)
	v.SetDefault("cache.page_ttl", 10*time.Minute)
	v.SetDefault("search.rebuild_spec", "@every 24h")
	v.SetDefault("search.alias_file", "")
	v.SetDefault("search.eco_dir", "./data/eco")
	v.SetDefault("search.max_distance", 2)
	v.SetDefault("search.min_freq", 1)
	v.SetDefault("query.extraction_deadline", 25*time.Second)
	v.SetDefault("query.default_page_size", 20)
	v.SetDefault("query.max_page_size", 100)
	v.SetDefault("server.addr", ":8007")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.pprof", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads configuration from path (optional; "" searches ./config.yaml)
// and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CHESSARCHIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that defaults cannot guarantee.
func (c *Config) Validate() error {
	if c.Database.MaxConns < c.Database.MinConns {
		return eris.Errorf("config: database.max_conns (%d) < min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}
	if c.Cache.HotCapacity <= 0 || c.Cache.WarmCapacity <= 0 {
		return eris.New("config: cache capacities must be positive")
	}
	if c.Archive.ScanConcurrency <= 0 {
		return eris.New("config: archive.scan_concurrency must be positive")
	}
	switch c.Moves.Driver {
	case "redis", "sqlite", "none":
	default:
		return eris.Errorf("config: unknown moves.driver %q", c.Moves.Driver)
	}
	return nil
}
