// Package ledger provides the relational system of record for kiln.
package ledger

import (
	"database/sql"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // embedded fallback driver
)

// Store wraps the GORM connection to the ledger database.
type Store struct {
	DB    *gorm.DB
	sqlDB *sql.DB
}

// Config holds ledger connection settings. PostgresDSN takes precedence;
// when empty an embedded SQLite database at SQLitePath is used.
type Config struct {
	PostgresDSN string
	SQLitePath  string
	MaxConns    int
	LogLevel    logger.LogLevel
}

// NewStore opens the ledger and runs migrations.
func NewStore(cfg Config) (*Store, error) {
	logLevel := cfg.LogLevel
	if logLevel == 0 {
		logLevel = logger.Warn
	}
	gormCfg := &gorm.Config{
		Logger:      logger.Default.LogMode(logLevel),
		PrepareStmt: true,
	}

	var (
		db    *gorm.DB
		sqlDB *sql.DB
		err   error
	)

	if cfg.PostgresDSN != "" {
		db, err = gorm.Open(postgres.Open(cfg.PostgresDSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		sqlDB, err = db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
	} else {
		sqlDB, err = sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db, err = gorm.Open(sqlite.Dialector{Conn: sqlDB}, gormCfg)
		if err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("open gorm: %w", err)
		}
		// WAL mode for concurrent readers; busy timeout so concurrent
		// writers wait on the lock instead of failing immediately.
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
		} {
			if _, err := sqlDB.Exec(pragma); err != nil {
				return nil, fmt.Errorf("apply %q: %w", pragma, err)
			}
		}
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{DB: db, sqlDB: sqlDB}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping() error {
	return s.sqlDB.Ping()
}
