// Package config loads process configuration from an optional config.yaml and
// BACKOFFICE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"backoffice/internal/domain/numbering"
	"backoffice/internal/infrastructure/storage/postgres"
	"backoffice/pkg/logger"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Scope lock backends.
const (
	LockMemory   = "memory"
	LockPostgres = "postgres"
)

type Configuration struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	Logging   LoggingConfig   `mapstructure:"logging" validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Numbering NumberingConfig `mapstructure:"numbering" validate:"required"`
	Worker    WorkerConfig    `mapstructure:"worker" validate:"required"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	// IdempotencyTTL is how long a replayable response is kept per X-Idempotency-Key.
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl" validate:"gt=0"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	DSN             string        `mapstructure:"dsn" validate:"required_if=Driver postgres"`
	MaxConns        int32         `mapstructure:"max_conns" validate:"gte=0"`
	MinConns        int32         `mapstructure:"min_conns" validate:"gte=0"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret" validate:"required_if=Enabled true"`
	Issuer    string `mapstructure:"issuer"`
}

type NumberingConfig struct {
	LockBackend      string        `mapstructure:"lock_backend" validate:"required,oneof=memory postgres"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" validate:"gt=0"`
	ReindexMode      string        `mapstructure:"reindex_mode" validate:"required,oneof=bounded full"`
	ReindexRetries   int           `mapstructure:"reindex_retries" validate:"gte=0,lte=10"`
	RetryInterval    time.Duration `mapstructure:"retry_interval" validate:"gt=0"`
	AllocateAttempts int           `mapstructure:"allocate_attempts" validate:"gte=1"`
	PolicyCacheTTL   time.Duration `mapstructure:"policy_cache_ttl" validate:"gt=0"`
}

type WorkerConfig struct {
	Interval    time.Duration `mapstructure:"interval" validate:"gt=0"`
	BatchSize   int           `mapstructure:"batch_size" validate:"gte=1"`
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1"`
	Concurrency int           `mapstructure:"concurrency" validate:"gte=1"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.idempotency_ttl", 24*time.Hour)

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.migrate", true)

	v.SetDefault("sqlite.path", "backoffice.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "backoffice")

	def := numbering.DefaultConfig()
	v.SetDefault("numbering.lock_backend", LockPostgres)
	v.SetDefault("numbering.operation_timeout", def.OperationTimeout)
	v.SetDefault("numbering.reindex_mode", string(def.ReindexMode))
	v.SetDefault("numbering.reindex_retries", def.ReindexRetries)
	v.SetDefault("numbering.retry_interval", def.RetryInterval)
	v.SetDefault("numbering.allocate_attempts", def.AllocateAttempts)
	v.SetDefault("numbering.policy_cache_ttl", 5*time.Minute)

	v.SetDefault("worker.interval", 30*time.Second)
	v.SetDefault("worker.batch_size", 100)
	v.SetDefault("worker.max_attempts", 10)
	v.SetDefault("worker.concurrency", 4)
}

// NewConfig reads config.yaml (if any) and the environment.
// BACKOFFICE_DATABASE_DSN overrides database.dsn, and so on.
func NewConfig() (*Configuration, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/backoffice")

	return load(v)
}

func load(v *viper.Viper) (*Configuration, error) {
	setDefaults(v)

	v.SetEnvPrefix("BACKOFFICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// The in-process lock only serializes one process, which is all SQLite allows.
	if cfg.Database.Driver == DriverSQLite {
		cfg.Numbering.LockBackend = LockMemory
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration.
func (c Configuration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Engine returns the numbering engine configuration.
func (c NumberingConfig) Engine() numbering.Config {
	mode, _ := numbering.ParseReindexMode(c.ReindexMode)
	return numbering.Config{
		OperationTimeout: c.OperationTimeout,
		ReindexMode:      mode,
		ReindexRetries:   c.ReindexRetries,
		RetryInterval:    c.RetryInterval,
		AllocateAttempts: c.AllocateAttempts,
	}
}

// Pool returns the PostgreSQL pool configuration.
func (c DatabaseConfig) Pool() postgres.PoolConfig {
	pc := postgres.DefaultPoolConfig(c.DSN)
	if c.MaxConns > 0 {
		pc.MaxConns = c.MaxConns
	}
	if c.MinConns > 0 {
		pc.MinConns = c.MinConns
	}
	if c.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = c.MaxConnLifetime
	}
	return pc
}

// Logger returns the logger configuration.
func (c LoggingConfig) Logger() logger.Config {
	return logger.Config{Level: c.Level, Development: c.Development}
}
