// Package config loads service settings from a .env file, an optional YAML
// file and the environment, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

type ServerConfig struct {
	Port              int    `yaml:"port" validate:"gt=0,lte=65535"`
	CORSAllowedOrigin string `yaml:"corsAllowedOrigin"`
	RateLimitRequests int    `yaml:"rateLimitRequests" validate:"gte=0"`
	RateLimitWindow   int    `yaml:"rateLimitWindowSeconds" validate:"gte=0"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=memory mongo postgres"`
	MongoURI    string `yaml:"mongoURI" validate:"required_if=Backend mongo"`
	MongoDB     string `yaml:"mongoDB" validate:"required_if=Backend mongo"`
	PostgresDSN string `yaml:"postgresDSN" validate:"required_if=Backend postgres"`
	MaxRetries  int    `yaml:"maxRetries" validate:"gte=1"`
}

type TrackingConfig struct {
	AverageSpeedKmh    float64       `yaml:"averageSpeedKmh" validate:"gt=0"`
	StalenessThreshold time.Duration `yaml:"stalenessThreshold" validate:"gte=0"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker" validate:"omitempty,url"`
	Topic    string `yaml:"topic" validate:"required_with=Broker"`
	ClientID string `yaml:"clientID" validate:"required_with=Broker"`
	QoS      byte   `yaml:"qos" validate:"lte=2"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Tracking TrackingConfig `yaml:"tracking"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Log      LogConfig      `yaml:"log"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:              8080,
			CORSAllowedOrigin: "*",
			RateLimitRequests: 120,
			RateLimitWindow:   60,
		},
		Store: StoreConfig{
			Backend:    BackendMemory,
			MongoDB:    "transit",
			MaxRetries: 5,
		},
		Tracking: TrackingConfig{
			AverageSpeedKmh: 30,
		},
		MQTT: MQTTConfig{
			Topic:    "transit/positions/#",
			ClientID: "transit-proximity",
			QoS:      1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration. A missing .env file is not an error; a
// missing CONFIG_FILE is.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	setString("CORS_ALLOWED_ORIGIN", &cfg.Server.CORSAllowedOrigin)
	setString("STORE_BACKEND", &cfg.Store.Backend)
	setString("MONGO_URI", &cfg.Store.MongoURI)
	setString("MONGO_DB", &cfg.Store.MongoDB)
	setString("DATABASE_URL", &cfg.Store.PostgresDSN)
	setString("MQTT_BROKER", &cfg.MQTT.Broker)
	setString("MQTT_TOPIC", &cfg.MQTT.Topic)
	setString("MQTT_CLIENT_ID", &cfg.MQTT.ClientID)
	setString("LOG_LEVEL", &cfg.Log.Level)
	setString("LOG_FORMAT", &cfg.Log.Format)

	for key, dst := range map[string]*int{
		"PORT":                      &cfg.Server.Port,
		"RATE_LIMIT_REQUESTS":       &cfg.Server.RateLimitRequests,
		"RATE_LIMIT_WINDOW_SECONDS": &cfg.Server.RateLimitWindow,
		"DB_MAX_RETRIES":            &cfg.Store.MaxRetries,
	} {
		if err := setInt(key, dst); err != nil {
			return err
		}
	}

	if v := os.Getenv("AVERAGE_SPEED_KMH"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("AVERAGE_SPEED_KMH: %w", err)
		}
		cfg.Tracking.AverageSpeedKmh = f
	}
	if v := os.Getenv("STALENESS_THRESHOLD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("STALENESS_THRESHOLD: %w", err)
		}
		cfg.Tracking.StalenessThreshold = d
	}
	return nil
}
