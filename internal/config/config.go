package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultRoutesURL = "https://routes.googleapis.com/directions/v2:computeRoutes"
	defaultPlacesURL = "https://maps.googleapis.com/maps/api/place/nearbysearch/json"
)

// ProviderConfig holds the external mapping provider settings
type ProviderConfig struct {
	APIKey         string        `validate:"required"`
	RoutesURL      string        `validate:"required,url"`
	PlacesURL      string        `validate:"required,url"`
	Timeout        time.Duration `validate:"gt=0"`
	MaxConcurrency int           `validate:"gte=1"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port           string        `validate:"required,numeric"`
	RequestTimeout time.Duration `validate:"gt=0"`
}

// CacheConfig selects the provider-response cache backend
type CacheConfig struct {
	Backend string        `validate:"oneof=none memory redis"`
	TTL     time.Duration `validate:"gte=0"`
	Size    int           `validate:"gte=1"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
}

// Weights are the fixed coefficients of the route score
type Weights struct {
	Time         float64 `yaml:"time" validate:"gte=0,lte=1"`
	Traffic      float64 `yaml:"traffic" validate:"gte=0,lte=1"`
	Density      float64 `yaml:"density" validate:"gte=0,lte=1"`
	Connectivity float64 `yaml:"connectivity" validate:"gte=0,lte=1"`
}

// Sum returns the sum of all weights
func (w Weights) Sum() float64 {
	return w.Time + w.Traffic + w.Density + w.Connectivity
}

// ScoringProfile configures route ranking
type ScoringProfile struct {
	Weights       Weights `yaml:"weights"`
	MaxWaypoints  int     `yaml:"max_waypoints" validate:"gte=2,lte=25"`
	CorridorWidth int     `yaml:"corridor_width" validate:"gte=50,lte=5000"`
}

// DefaultScoringProfile returns the stock weights {0.35, 0.25, 0.20, 0.20}
func DefaultScoringProfile() ScoringProfile {
	return ScoringProfile{
		Weights: Weights{
			Time:         0.35,
			Traffic:      0.25,
			Density:      0.20,
			Connectivity: 0.20,
		},
		MaxWaypoints:  5,
		CorridorWidth: 500,
	}
}

// Validate checks field ranges and that the weights sum to 1.0
func (p ScoringProfile) Validate() error {
	if err := validator.New().Struct(p); err != nil {
		return fmt.Errorf("invalid scoring profile: %w", err)
	}
	if math.Abs(p.Weights.Sum()-1.0) > 1e-6 {
		return fmt.Errorf("invalid scoring profile: weights must sum to 1.0, got %.4f", p.Weights.Sum())
	}
	return nil
}

// Config is the application configuration
type Config struct {
	Provider ProviderConfig
	Server   ServerConfig
	Cache    CacheConfig
	Log      LogConfig
	Scoring  ScoringProfile
}

// Load reads configuration from the environment, after loading a .env file
// when one is present. A missing provider credential is an error.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv builds and validates the configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Provider: ProviderConfig{
			APIKey:         os.Getenv("GOOGLE_MAPS_API_KEY"),
			RoutesURL:      getEnv("ROUTES_API_URL", defaultRoutesURL),
			PlacesURL:      getEnv("PLACES_API_URL", defaultPlacesURL),
			Timeout:        getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second),
			MaxConcurrency: getEnvInt("PROVIDER_MAX_CONCURRENCY", 8),
		},
		Server: ServerConfig{
			Port:           getEnv("API_PORT", "8000"),
			RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 60*time.Second),
		},
		Cache: CacheConfig{
			Backend: getEnv("CACHE_BACKEND", "none"),
			TTL:     getEnvDuration("CACHE_TTL", 10*time.Minute),
			Size:    getEnvInt("CACHE_SIZE", 10000),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Scoring: DefaultScoringProfile(),
	}

	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("GOOGLE_MAPS_API_KEY environment variable not set")
	}

	if path := os.Getenv("SCORING_PROFILE"); path != "" {
		profile, err := LoadScoringProfile(path)
		if err != nil {
			return nil, err
		}
		cfg.Scoring = profile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section of the configuration
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c.Provider); err != nil {
		return fmt.Errorf("invalid provider config: %w", err)
	}
	if err := v.Struct(c.Server); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	if err := v.Struct(c.Cache); err != nil {
		return fmt.Errorf("invalid cache config: %w", err)
	}
	if err := v.Struct(c.Log); err != nil {
		return fmt.Errorf("invalid log config: %w", err)
	}
	return c.Scoring.Validate()
}

// LoadScoringProfile reads a YAML scoring profile. Fields missing from the
// file keep their default values.
func LoadScoringProfile(path string) (ScoringProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ScoringProfile{}, fmt.Errorf("failed to read scoring profile: %w", err)
	}

	profile := DefaultScoringProfile()
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return ScoringProfile{}, fmt.Errorf("failed to parse scoring profile %s: %w", path, err)
	}
	if err := profile.Validate(); err != nil {
		return ScoringProfile{}, err
	}
	return profile, nil
}

// getEnv retrieves an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}
