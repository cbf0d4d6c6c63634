package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig holds all database configuration
type DatabaseConfig struct {
	Driver         string         `yaml:"driver"`
	MySQL          MySQLConfig    `yaml:"mysql"`
	PostgreSQL     PostgresConfig `yaml:"postgres"`
	SQLite         SQLiteConfig   `yaml:"sqlite"`
	ConnectionPool PoolConfig     `yaml:"connection_pool"`
}

// MySQLConfig holds MySQL specific configuration
type MySQLConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	DBName    string `yaml:"dbname"`
	Charset   string `yaml:"charset"`
	ParseTime bool   `yaml:"parse_time"`
	Loc       string `yaml:"loc"`
}

// PostgresConfig holds PostgreSQL specific configuration
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	TimeZone string `yaml:"timezone"`
}

// SQLiteConfig holds SQLite specific configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PoolConfig holds connection pool configuration
type PoolConfig struct {
	MaxIdleConns    int `yaml:"max_idle_conns"`
	MaxOpenConns    int `yaml:"max_open_conns"`
	ConnMaxLifetime int `yaml:"conn_max_lifetime"`
}

// MigrationConfig holds migration specific configuration
type MigrationConfig struct {
	AutoMigrate    bool   `yaml:"auto_migrate"`
	MigrationTable string `yaml:"migration_table"`
}

// LoggingConfig holds logging specific configuration
type LoggingConfig struct {
	LogFile      string `yaml:"log_file"`
	LogToConsole bool   `yaml:"log_to_console"`
	LogLevel     string `yaml:"log_level"`
}

// StorageConfig describes where input objects are read from and where the
// derived artifacts are written to.
type StorageConfig struct {
	SourceBucket      string `yaml:"source_bucket"`
	SourceRoot        string `yaml:"source_root"`
	DestinationRoot   string `yaml:"destination_root"`
	DestinationBucket string `yaml:"destination_bucket"`
	DestinationPrefix string `yaml:"destination_prefix"`
}

// PipelineConfig holds per-run limits
type PipelineConfig struct {
	RunTimeout int `yaml:"run_timeout"`
}

// MetricsConfig holds metrics export configuration
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Config holds the complete application configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Migration MigrationConfig `yaml:"migration"`
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// Default values applied when the YAML leaves a field empty
const (
	DefaultConfigPath        = "config.yaml"
	DefaultLogFile           = "result.log"
	DefaultLogLevel          = "info"
	DefaultMigrationTable    = "schema_migrations"
	DefaultSourceBucket      = "trusted"
	DefaultDestinationBucket = "s3clientnavix-20251107102936-7403"
	DefaultDestinationPrefix = "dashBateria/"
	DefaultRunTimeout        = 300
)

// Load loads configuration from the specified YAML file, then applies
// overrides from a .env file and the process environment.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	// A missing .env file is not an error
	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML content and fills in defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.setDefaults()
	return &config, nil
}

func (c *Config) setDefaults() {
	if c.Logging.LogFile == "" {
		c.Logging.LogFile = DefaultLogFile
	}
	if c.Logging.LogLevel == "" {
		c.Logging.LogLevel = DefaultLogLevel
	}
	if c.Migration.MigrationTable == "" {
		c.Migration.MigrationTable = DefaultMigrationTable
	}
	if c.Storage.SourceBucket == "" {
		c.Storage.SourceBucket = DefaultSourceBucket
	}
	if c.Storage.DestinationBucket == "" {
		c.Storage.DestinationBucket = DefaultDestinationBucket
	}
	if c.Storage.DestinationPrefix == "" {
		c.Storage.DestinationPrefix = DefaultDestinationPrefix
	}
	if c.Pipeline.RunTimeout == 0 {
		c.Pipeline.RunTimeout = DefaultRunTimeout
	}
}

// applyEnv overrides selected values from ETL_* environment variables
func (c *Config) applyEnv() error {
	if v := os.Getenv("ETL_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("ETL_SQLITE_PATH"); v != "" {
		c.Database.SQLite.Path = v
	}
	if v := os.Getenv("ETL_SOURCE_ROOT"); v != "" {
		c.Storage.SourceRoot = v
	}
	if v := os.Getenv("ETL_DESTINATION_ROOT"); v != "" {
		c.Storage.DestinationRoot = v
	}
	if v := os.Getenv("ETL_DESTINATION_BUCKET"); v != "" {
		c.Storage.DestinationBucket = v
	}
	if v := os.Getenv("ETL_LOG_LEVEL"); v != "" {
		c.Logging.LogLevel = v
	}
	if v := os.Getenv("ETL_RUN_TIMEOUT"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ETL_RUN_TIMEOUT: %w", err)
		}
		c.Pipeline.RunTimeout = seconds
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql":
		if c.Database.MySQL.Host == "" {
			return fmt.Errorf("mysql host is required")
		}
		if c.Database.MySQL.User == "" {
			return fmt.Errorf("mysql user is required")
		}
		if c.Database.MySQL.DBName == "" {
			return fmt.Errorf("mysql database name is required")
		}
	case "postgres":
		if c.Database.PostgreSQL.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
		if c.Database.PostgreSQL.User == "" {
			return fmt.Errorf("postgres user is required")
		}
		if c.Database.PostgreSQL.DBName == "" {
			return fmt.Errorf("postgres database name is required")
		}
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Storage.SourceRoot == "" {
		return fmt.Errorf("storage source_root is required")
	}
	if c.Storage.DestinationRoot == "" {
		return fmt.Errorf("storage destination_root is required")
	}
	if c.Pipeline.RunTimeout <= 0 {
		return fmt.Errorf("pipeline run_timeout must be positive, got %d", c.Pipeline.RunTimeout)
	}

	return nil
}

// RunTimeout returns the per-run deadline as a duration
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.Pipeline.RunTimeout) * time.Second
}

// GetDSN returns the database connection string based on the configured driver
func (c *Config) GetDSN() string {
	switch c.Database.Driver {
	case "mysql":
		mysql := c.Database.MySQL
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
			mysql.User, mysql.Password, mysql.Host, mysql.Port, mysql.DBName,
			mysql.Charset, mysql.ParseTime, mysql.Loc)
		return dsn
	case "postgres":
		pg := c.Database.PostgreSQL
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
			pg.Host, pg.Port, pg.User, pg.Password, pg.DBName, pg.SSLMode, pg.TimeZone)
		return dsn
	case "sqlite":
		return c.Database.SQLite.Path
	default:
		return ""
	}
}
