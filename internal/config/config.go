package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Environment   string `mapstructure:"ENVIRONMENT"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	ServerAddress string `mapstructure:"SERVER_ADDRESS"`
	DBSource      string `mapstructure:"DB_SOURCE"`
	CORSOrigins   string `mapstructure:"CORS_ORIGINS"`

	MapboxBaseURL      string        `mapstructure:"MAPBOX_BASE_URL"`
	MapboxAccessToken  string        `mapstructure:"MAPBOX_ACCESS_TOKEN"`
	MapboxSessionToken string        `mapstructure:"MAPBOX_SESSION_TOKEN"`
	SuggestLimit       int           `mapstructure:"SUGGEST_LIMIT"`
	Language           string        `mapstructure:"LANGUAGE"`
	HTTPTimeout        time.Duration `mapstructure:"HTTP_TIMEOUT"`
	RateLimitRPS       float64       `mapstructure:"RATE_LIMIT_RPS"`

	MinQueryLength int           `mapstructure:"MIN_QUERY_LENGTH"`
	DebounceMs     int           `mapstructure:"DEBOUNCE_MS"`
	HistoryLimit   int           `mapstructure:"HISTORY_LIMIT"`
	SessionTTL     time.Duration `mapstructure:"SESSION_TTL"`
}

// Debounce is the quiet period as a duration.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// AllowedOrigins splits CORS_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// IsDevelopment reports whether the service runs in a development environment.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENVIRONMENT", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SERVER_ADDRESS", "0.0.0.0:8080")
	v.SetDefault("DB_SOURCE", "")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("MAPBOX_BASE_URL", "https://api.mapbox.com")
	// Missing credentials are sent as empty parameters and rejected upstream.
	v.SetDefault("MAPBOX_ACCESS_TOKEN", "")
	v.SetDefault("MAPBOX_SESSION_TOKEN", "")
	v.SetDefault("SUGGEST_LIMIT", 5)
	v.SetDefault("LANGUAGE", "en")
	v.SetDefault("HTTP_TIMEOUT", 5*time.Second)
	v.SetDefault("RATE_LIMIT_RPS", 10.0)
	v.SetDefault("MIN_QUERY_LENGTH", 2)
	v.SetDefault("DEBOUNCE_MS", 1200)
	v.SetDefault("HISTORY_LIMIT", 0)
	v.SetDefault("SESSION_TTL", 30*time.Minute)
}

// LoadConfig reads configuration from app.env in path, then from the environment.
// A .env file in the working directory is loaded first when present.
func LoadConfig(path string) (config Config, err error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("config: failed to read config file: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("config: failed to decode config: %w", err)
	}

	if err = config.validate(); err != nil {
		return config, err
	}
	return config, nil
}

func (c Config) validate() error {
	if c.MinQueryLength < 1 {
		return fmt.Errorf("config: MIN_QUERY_LENGTH must be at least 1, got %d", c.MinQueryLength)
	}
	if c.DebounceMs < 0 {
		return fmt.Errorf("config: DEBOUNCE_MS must not be negative, got %d", c.DebounceMs)
	}
	if c.SuggestLimit < 1 || c.SuggestLimit > 10 {
		return fmt.Errorf("config: SUGGEST_LIMIT must be between 1 and 10, got %d", c.SuggestLimit)
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("config: HISTORY_LIMIT must not be negative, got %d", c.HistoryLimit)
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("config: RATE_LIMIT_RPS must be positive, got %v", c.RateLimitRPS)
	}
	return nil
}
