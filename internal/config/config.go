package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"carbon-scribe/mrv-registry/internal/ledger"
	"carbon-scribe/mrv-registry/internal/scheduler"
	"carbon-scribe/mrv-registry/pkg/storage"
)

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Ledger     ledger.Config    `json:"ledger"`
	Anchor     AnchorConfig     `json:"anchor"`
	Storage    StorageConfig    `json:"storage"`
	Security   SecurityConfig   `json:"security"`
	Logging    LoggingConfig    `json:"logging"`
	Monitoring MonitoringConfig `json:"monitoring"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DatabaseConfig selects the record store. Driver is one of mongo, postgres
// or memory.
type DatabaseConfig struct {
	Driver string `json:"driver"`

	MongoURI      string `json:"mongo_uri"`
	MongoDatabase string `json:"mongo_database"`

	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
}

// AnchorConfig sizes the anchoring worker pool.
type AnchorConfig struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
}

// StorageConfig selects where evidence bundles are archived. An empty
// bucket keeps them in memory.
type StorageConfig struct {
	S3 storage.S3Config `json:"s3"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

// LoggingConfig
type LoggingConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// MonitoringConfig holds the metrics endpoint and scheduler cron specs.
type MonitoringConfig struct {
	MetricsPath     string        `json:"metrics_path"`
	LedgerProbeCron string        `json:"ledger_probe_cron"`
	StaleScanCron   string        `json:"stale_scan_cron"`
	StaleAfter      time.Duration `json:"stale_after"`
}

// LoadConfig loads configuration from file and environment variables. A
// .env file in the working directory is applied to the environment first.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	overrideWithEnv(config)
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:        DriverMemory,
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "mrv_registry",
			Host:          "localhost",
			Port:          5432,
			User:          os.Getenv("USER"),
			DBName:        "mrv_registry",
			SSLMode:       "disable",
		},
		Anchor: AnchorConfig{Workers: 3, QueueSize: 100},
		Logging: LoggingConfig{
			Level: "info",
		},
		Monitoring: MonitoringConfig{
			MetricsPath:     "/metrics",
			LedgerProbeCron: "@every 1m",
			StaleScanCron:   "@every 5m",
		},
	}
}

// applyDefaults fills values a config file may have zeroed.
func (c *Config) applyDefaults() {
	c.Ledger = c.Ledger.WithDefaults()
	if c.Anchor.Workers <= 0 {
		c.Anchor.Workers = 3
	}
	if c.Anchor.QueueSize < 0 {
		c.Anchor.QueueSize = 0
	}
	if c.Monitoring.StaleAfter <= 0 {
		c.Monitoring.StaleAfter = StaleAfter(c.Ledger.ConfirmationTimeout, c.Anchor.Workers, c.Anchor.QueueSize)
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
}

// StaleAfter is how long a record may stay pending while a full queue drains
// ahead of it and its own confirmation wait runs out.
func StaleAfter(timeout time.Duration, workers, queueSize int) time.Duration {
	if workers <= 0 {
		workers = 1
	}
	rounds := (queueSize + workers - 1) / workers
	return timeout * time.Duration(rounds+1)
}

// Validate rejects settings the server cannot start with. A missing ledger
// key is allowed and leaves anchoring unconfigured.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMongo:
		if c.Database.MongoURI == "" {
			return errors.New("database.mongo_uri is required for the mongo driver")
		}
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Security.JWTSecret == "" {
		return errors.New("security.jwt_secret is required")
	}
	if c.Ledger.PrivateKey != "" && c.Ledger.RPCURL == "" {
		return errors.New("ledger.rpc_url is required when a private key is set")
	}
	for name, expr := range map[string]string{
		"monitoring.ledger_probe_cron": c.Monitoring.LedgerProbeCron,
		"monitoring.stale_scan_cron":   c.Monitoring.StaleScanCron,
	} {
		if expr == "" {
			continue
		}
		if err := scheduler.ValidateCronExpression(expr); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, expr, err)
		}
	}
	return nil
}

func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		config.Database.Driver = strings.ToLower(driver)
	}
	if uri := os.Getenv("MONGO_URI"); uri != "" {
		config.Database.MongoURI = uri
	}
	if db := os.Getenv("MONGO_DATABASE"); db != "" {
		config.Database.MongoDatabase = db
	}
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}

	if rpc := os.Getenv("LEDGER_RPC_URL"); rpc != "" {
		config.Ledger.RPCURL = rpc
	}
	if key := os.Getenv("LEDGER_PRIVATE_KEY"); key != "" {
		config.Ledger.PrivateKey = key
	}
	if addr := os.Getenv("LEDGER_REGISTRY_ADDRESS"); addr != "" {
		config.Ledger.RegistryAddress = addr
	}
	if id := os.Getenv("LEDGER_CHAIN_ID"); id != "" {
		if v, err := strconv.ParseInt(id, 10, 64); err == nil {
			config.Ledger.ChainID = v
		}
	}
	if timeout := os.Getenv("LEDGER_CONFIRMATION_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Ledger.ConfirmationTimeout = d
		}
	}

	if workers := os.Getenv("ANCHOR_WORKERS"); workers != "" {
		if v, err := strconv.Atoi(workers); err == nil {
			config.Anchor.Workers = v
		}
	}
	if size := os.Getenv("ANCHOR_QUEUE_SIZE"); size != "" {
		if v, err := strconv.Atoi(size); err == nil {
			config.Anchor.QueueSize = v
		}
	}

	if bucket := os.Getenv("EVIDENCE_BUCKET"); bucket != "" {
		config.Storage.S3.Bucket = bucket
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		config.Storage.S3.Region = region
	}
	if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
		config.Storage.S3.Endpoint = endpoint
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Security.JWTSecret = secret
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
