package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Facilities FacilitiesConfig `yaml:"facilities" mapstructure:"facilities"`
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	GeoIP      GeoIPConfig      `yaml:"geoip" mapstructure:"geoip"`
	Map        MapConfig        `yaml:"map" mapstructure:"map"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// FacilitiesConfig selects where facility records come from.
type FacilitiesConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"` // bundled, sqlite or postgres
	DatabaseURL   string `yaml:"database_url" mapstructure:"database_url"`
	RemoteBaseURL string `yaml:"remote_base_url" mapstructure:"remote_base_url"`
	UseRemote     bool   `yaml:"use_remote" mapstructure:"use_remote"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// GeocodeConfig configures the geocoding client.
type GeocodeConfig struct {
	BaseURL     string      `yaml:"base_url" mapstructure:"base_url"`
	UserAgent   string      `yaml:"user_agent" mapstructure:"user_agent"`
	RateLimit   float64     `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs int         `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	SearchZoom  int         `yaml:"search_zoom" mapstructure:"search_zoom"`
	Cache       CacheConfig `yaml:"cache" mapstructure:"cache"`
}

// CacheConfig configures the forward geocode cache.
type CacheConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"` // none, memory or redis
	TTLMinutes    int    `yaml:"ttl_minutes" mapstructure:"ttl_minutes"`
	MaxEntries    int    `yaml:"max_entries" mapstructure:"max_entries"`
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
}

// GeoIPConfig points at an optional MaxMind City database.
type GeoIPConfig struct {
	DatabasePath string `yaml:"database_path" mapstructure:"database_path"`
}

// MapConfig configures the initial map view.
type MapConfig struct {
	DefaultRegion string `yaml:"default_region" mapstructure:"default_region"`
}

// Load reads configuration from .env, config.yaml and the environment, in
// increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INCINERATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("facilities.driver", "bundled")
	v.SetDefault("facilities.database_url", "")
	v.SetDefault("facilities.remote_base_url", "")
	v.SetDefault("facilities.use_remote", false)
	v.SetDefault("facilities.timeout_secs", 15)
	v.SetDefault("geocode.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.user_agent", "incinerator-map/1.0")
	v.SetDefault("geocode.rate_limit", 1.0)
	v.SetDefault("geocode.timeout_secs", 10)
	v.SetDefault("geocode.search_zoom", 12)
	v.SetDefault("geocode.cache.driver", "memory")
	v.SetDefault("geocode.cache.ttl_minutes", 1440)
	v.SetDefault("geocode.cache.max_entries", 1000)
	v.SetDefault("geocode.cache.redis_addr", "localhost:6379")
	v.SetDefault("geocode.cache.redis_password", "")
	v.SetDefault("geocode.cache.redis_db", 0)
	v.SetDefault("geoip.database_path", "")
	v.SetDefault("map.default_region", "us")

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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the application cannot run with.
func (c *Config) Validate() error {
	switch c.Facilities.Driver {
	case "bundled", "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown facilities.driver %q", c.Facilities.Driver)
	}
	if c.Facilities.Driver != "bundled" && c.Facilities.DatabaseURL == "" {
		return eris.Errorf("config: facilities.database_url is required for driver %q", c.Facilities.Driver)
	}
	if c.Facilities.UseRemote && c.Facilities.RemoteBaseURL == "" {
		return eris.New("config: facilities.use_remote requires facilities.remote_base_url")
	}
	if strings.TrimSpace(c.Geocode.UserAgent) == "" {
		return eris.New("config: geocode.user_agent is required")
	}
	if c.Geocode.RateLimit <= 0 {
		return eris.Errorf("config: geocode.rate_limit must be positive, got %v", c.Geocode.RateLimit)
	}
	switch c.Geocode.Cache.Driver {
	case "none", "memory", "redis":
	default:
		return eris.Errorf("config: unknown geocode.cache.driver %q", c.Geocode.Cache.Driver)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return eris.Errorf("config: server.port %d out of range", c.Server.Port)
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
