// Package config loads the server configuration from the environment, an
// optional .env file and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
)

// Config holds every setting of the dispatch server.
type Config struct {
	HTTPAddr        string        `validate:"required"`
	LogLevel        string        `validate:"required"`
	LogFormat       string        `validate:"oneof=text json"`
	ShutdownTimeout time.Duration `validate:"gt=0"`

	StoreBackend string `validate:"oneof=memory mongo"`
	MongoURI     string
	MongoDB      string `validate:"required_if=StoreBackend mongo"`

	JWTSecret string        `validate:"required"`
	JWTExpiry time.Duration `validate:"gt=0"`

	RedisEnabled     bool
	RedisAddr        string `validate:"required_if=RedisEnabled true"`
	RedisPassword    string
	RedisDB          int           `validate:"gte=0"`
	LocationCacheTTL time.Duration `validate:"gt=0"`

	MQTTEnabled     bool
	MQTTBroker      string `validate:"required_if=MQTTEnabled true"`
	MQTTClientID    string
	MQTTTopicPrefix string

	IdleTimeout           time.Duration `validate:"gt=0"`
	SweepInterval         time.Duration `validate:"gt=0"`
	LocationRetention     time.Duration `validate:"gt=0"`
	MetricRetention       time.Duration `validate:"gt=0"`
	NotificationRetention time.Duration `validate:"gt=0"`
	DispatchCutoffKM      float64       `validate:"gt=0"`
	NearestDefaultKM      float64       `validate:"gt=0"`

	File FileConfig
}

// FileConfig is the part of the configuration read from CONFIG_FILE.
type FileConfig struct {
	RateLimits RateLimits                        `yaml:"rate_limits"`
	Thresholds map[string]models.SensorThreshold `yaml:"thresholds"`
	Buses      []BusSeed                         `yaml:"buses" validate:"dive"`
}

// RateLimits sets the minimum interval between two events of one type from one client.
type RateLimits struct {
	Default time.Duration            `yaml:"default" validate:"gte=0"`
	Events  map[string]time.Duration `yaml:"events"`
}

// BusSeed declares a bus loaded into the store at start-up.
type BusSeed struct {
	ID        string  `yaml:"id" validate:"required"`
	Number    string  `yaml:"number"`
	Capacity  int     `yaml:"capacity" validate:"gt=0"`
	Latitude  float64 `yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `yaml:"longitude" validate:"gte=-180,lte=180"`
}

// Bus converts the seed into an available bus.
func (s BusSeed) Bus(now time.Time) models.Bus {
	number := s.Number
	if number == "" {
		number = s.ID
	}
	return models.Bus{
		ID:              s.ID,
		Number:          number,
		Capacity:        s.Capacity,
		CurrentLocation: models.Location{Lat: s.Latitude, Lon: s.Longitude},
		Status:          models.BusAvailable,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Load reads .env (if present), the environment and CONFIG_FILE (if set),
// then validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       strings.ToLower(getEnv("LOG_FORMAT", "text")),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 15*time.Second),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", "memory")),
		MongoURI:     getEnv("MONGO_URI", ""),
		MongoDB:      getEnv("MONGO_DB", "fleet"),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTExpiry: getDurationEnv("JWT_EXPIRY", 24*time.Hour),

		RedisEnabled:     getBoolEnv("REDIS_ENABLED", false),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getIntEnv("REDIS_DB", 0),
		LocationCacheTTL: getDurationEnv("LOCATION_CACHE_TTL", 5*time.Minute),

		MQTTEnabled:     getBoolEnv("MQTT_ENABLED", false),
		MQTTBroker:      getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "hajj-dispatch"),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "hajj"),

		IdleTimeout:           getDurationEnv("IDLE_TIMEOUT", 5*time.Minute),
		SweepInterval:         getDurationEnv("SWEEP_INTERVAL", time.Minute),
		LocationRetention:     getDurationEnv("LOCATION_RETENTION", 24*time.Hour),
		MetricRetention:       getDurationEnv("METRIC_RETENTION", 7*24*time.Hour),
		NotificationRetention: getDurationEnv("NOTIFICATION_RETENTION", 30*24*time.Hour),
		DispatchCutoffKM:      getFloatEnv("DISPATCH_CUTOFF_KM", 10),
		NearestDefaultKM:      getFloatEnv("NEAREST_DEFAULT_KM", 5),

		File: FileConfig{RateLimits: RateLimits{Default: time.Second}},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg.File); err != nil {
			return nil, err
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, out *FileConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	for event, d := range out.RateLimits.Events {
		if d < 0 {
			return fmt.Errorf("rate limit for %s must not be negative", event)
		}
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
