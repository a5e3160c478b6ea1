// Package config loads server configuration from an optional YAML file
// overlaid with environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverFile     = "file"
	DriverMemory   = "memory"
)

// Mirror kinds.
const (
	MirrorNone = ""
	MirrorHTTP = "http"
	MirrorGCS  = "gcs"
)

// Config is the full server configuration.
type Config struct {
	App        AppConfig        `yaml:"app"`
	Store      StoreConfig      `yaml:"store"`
	Settings   SettingsConfig   `yaml:"settings"`
	Allocation AllocationConfig `yaml:"allocation"`
	HTTP       HTTPConfig       `yaml:"http"`
	Auth       AuthConfig       `yaml:"auth"`
	Mirror     MirrorConfig     `yaml:"mirror"`
}

type AppConfig struct {
	Port     string `yaml:"port"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
}

// Development reports whether the server runs with development logging.
func (c AppConfig) Development() bool {
	return c.Env == "development"
}

type StoreConfig struct {
	Driver        string `yaml:"driver"`
	DatabaseURL   string `yaml:"database_url"`
	SQLitePath    string `yaml:"sqlite_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	SequenceFile  string `yaml:"sequence_file"`
}

type SettingsConfig struct {
	File string `yaml:"file"`
}

type AllocationConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	StoreTimeout  time.Duration `yaml:"store_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxQueue      int           `yaml:"max_queue"`
	AdmissionRule string        `yaml:"admission_rule"`
}

type HTTPConfig struct {
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	// JWTSecret enables bearer authentication when set.
	JWTSecret string `yaml:"jwt_secret"`
}

type MirrorConfig struct {
	Kind            string `yaml:"kind"`
	URL             string `yaml:"url"`
	Token           string `yaml:"token"`
	Bucket          string `yaml:"bucket"`
	Object          string `yaml:"object"`
	CredentialsFile string `yaml:"credentials_file"`
	Buffer          int    `yaml:"buffer"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		App: AppConfig{
			Port:     "8080",
			Env:      "development",
			LogLevel: "info",
		},
		Store: StoreConfig{
			Driver:       DriverFile,
			SQLitePath:   "barcodes.db",
			RedisAddr:    "localhost:6379",
			SequenceFile: "sequences.json",
		},
		Settings: SettingsConfig{
			File: "load-settings.json",
		},
		Allocation: AllocationConfig{
			Timeout:       10 * time.Second,
			StoreTimeout:  30 * time.Second,
			SweepInterval: 100 * time.Millisecond,
		},
		HTTP: HTTPConfig{
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 30 * time.Second,
		},
		Mirror: MirrorConfig{
			Object: "barcodeseq/sequences.json",
			Buffer: 256,
		},
	}
}

// Load reads .env (if present), then the YAML file named by CONFIG_FILE
// (if set), then environment overrides, and validates the result.
func Load() (Config, error) {
	_ = godotenv.Load()
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile is Load without .env handling. An empty path skips the file.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.App.Port = getEnv("APP_PORT", c.App.Port)
	c.App.Env = getEnv("APP_ENV", c.App.Env)
	c.App.LogLevel = getEnv("LOG_LEVEL", c.App.LogLevel)

	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.DatabaseURL = getEnv("DATABASE_URL", c.Store.DatabaseURL)
	c.Store.SQLitePath = getEnv("SQLITE_PATH", c.Store.SQLitePath)
	c.Store.RedisAddr = getEnv("REDIS_ADDR", c.Store.RedisAddr)
	c.Store.RedisPassword = getEnv("REDIS_PASSWORD", c.Store.RedisPassword)
	c.Store.RedisDB = getEnvInt("REDIS_DB", c.Store.RedisDB)
	c.Store.SequenceFile = getEnv("SEQUENCE_FILE", c.Store.SequenceFile)

	c.Settings.File = getEnv("SETTINGS_FILE", c.Settings.File)

	c.Allocation.Timeout = getEnvDuration("ALLOCATION_TIMEOUT", c.Allocation.Timeout)
	c.Allocation.StoreTimeout = getEnvDuration("STORE_TIMEOUT", c.Allocation.StoreTimeout)
	c.Allocation.SweepInterval = getEnvDuration("SWEEP_INTERVAL", c.Allocation.SweepInterval)
	c.Allocation.MaxQueue = getEnvInt("MAX_QUEUE", c.Allocation.MaxQueue)
	c.Allocation.AdmissionRule = getEnv("ADMISSION_RULE", c.Allocation.AdmissionRule)

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.HTTP.CORSOrigins = splitList(v)
	}
	c.HTTP.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.HTTP.ShutdownTimeout)

	c.Auth.JWTSecret = getEnv("AUTH_JWT_SECRET", c.Auth.JWTSecret)

	c.Mirror.Kind = getEnv("MIRROR_KIND", c.Mirror.Kind)
	c.Mirror.URL = getEnv("MIRROR_URL", c.Mirror.URL)
	c.Mirror.Token = getEnv("MIRROR_TOKEN", c.Mirror.Token)
	c.Mirror.Bucket = getEnv("MIRROR_BUCKET", c.Mirror.Bucket)
	c.Mirror.Object = getEnv("MIRROR_OBJECT", c.Mirror.Object)
	c.Mirror.CredentialsFile = getEnv("MIRROR_CREDENTIALS_FILE", c.Mirror.CredentialsFile)
}

// Validate reports the first configuration error.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("store: database_url is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store: sqlite_path is required for the sqlite driver")
		}
	case DriverRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("store: redis_addr is required for the redis driver")
		}
	case DriverFile:
		if c.Store.SequenceFile == "" {
			return errors.New("store: sequence_file is required for the file driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store: unknown driver %q", c.Store.Driver)
	}

	if c.Allocation.Timeout <= 0 {
		return errors.New("allocation: timeout must be positive")
	}
	if c.Allocation.StoreTimeout <= 0 {
		return errors.New("allocation: store_timeout must be positive")
	}
	if c.Allocation.MaxQueue < 0 {
		return errors.New("allocation: max_queue must not be negative")
	}
	if c.Settings.File == "" {
		return errors.New("settings: file is required")
	}

	switch c.Mirror.Kind {
	case MirrorNone:
	case MirrorHTTP:
		if c.Mirror.URL == "" {
			return errors.New("mirror: url is required for the http mirror")
		}
	case MirrorGCS:
		if c.Mirror.Bucket == "" {
			return errors.New("mirror: bucket is required for the gcs mirror")
		}
	default:
		return fmt.Errorf("mirror: unknown kind %q", c.Mirror.Kind)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
