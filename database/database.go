package database

import (
	"fmt"
	"sync"
	"time"

	"battery_dashboard_etl/config"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	mu sync.Mutex
	// db is the process-wide connection pool shared by every pipeline run
	db *gorm.DB
)

// Dialector returns the gorm dialector for the configured driver
func Dialector(cfg *config.Config) (gorm.Dialector, error) {
	dsn := cfg.GetDSN()
	switch cfg.Database.Driver {
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

// Connect establishes the shared connection pool. Calling it again returns
// the pool opened by the first call.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	mu.Lock()
	defer mu.Unlock()

	if db != nil {
		return db, nil
	}

	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := Open(dialector, cfg.Database.ConnectionPool, cfg.Logging.LogLevel == "debug")
	if err != nil {
		return nil, err
	}

	db = conn
	return db, nil
}

// Open opens a gorm connection and configures its pool. It does not touch
// the shared instance.
func Open(dialector gorm.Dialector, pool config.PoolConfig, verbose bool) (*gorm.DB, error) {
	level := gormlogger.Warn
	if verbose {
		level = gormlogger.Info
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(pool.ConnMaxLifetime) * time.Second)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return conn, nil
}

// Close tears down the shared connection pool
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	db = nil
	return sqlDB.Close()
}

// GetDB returns the shared database instance
func GetDB() *gorm.DB {
	mu.Lock()
	defer mu.Unlock()
	return db
}

// IsConnected checks if database is connected
func IsConnected() bool {
	conn := GetDB()
	if conn == nil {
		return false
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return false
	}

	return sqlDB.Ping() == nil
}

// GetDatabaseInfo returns information about the connected database
func GetDatabaseInfo(cfg *config.Config) map[string]interface{} {
	info := make(map[string]interface{})
	info["driver"] = cfg.Database.Driver
	info["connected"] = IsConnected()

	if conn := GetDB(); conn != nil {
		if sqlDB, err := conn.DB(); err == nil {
			stats := sqlDB.Stats()
			info["max_open_connections"] = stats.MaxOpenConnections
			info["open_connections"] = stats.OpenConnections
			info["in_use"] = stats.InUse
			info["idle"] = stats.Idle
		}
	}

	switch cfg.Database.Driver {
	case "mysql":
		info["host"] = cfg.Database.MySQL.Host
		info["port"] = cfg.Database.MySQL.Port
		info["database"] = cfg.Database.MySQL.DBName
	case "postgres":
		info["host"] = cfg.Database.PostgreSQL.Host
		info["port"] = cfg.Database.PostgreSQL.Port
		info["database"] = cfg.Database.PostgreSQL.DBName
	case "sqlite":
		info["path"] = cfg.Database.SQLite.Path
	}

	return info
}
