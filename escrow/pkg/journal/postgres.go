package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var EmbedMigrations embed.FS

// PgConfig holds the PostgreSQL connection settings.
type PgConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
}

// PgConfigFromEnv reads POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB,
// POSTGRES_USER, POSTGRES_PASSWORD and POSTGRES_SSLMODE.
func PgConfigFromEnv() PgConfig {
	return PgConfig{
		Host:     os.Getenv("POSTGRES_HOST"),
		Port:     os.Getenv("POSTGRES_PORT"),
		Database: os.Getenv("POSTGRES_DB"),
		Username: os.Getenv("POSTGRES_USER"),
		Password: os.Getenv("POSTGRES_PASSWORD"),
		SSLMode:  os.Getenv("POSTGRES_SSLMODE"),
	}
}

func (cfg *PgConfig) Validate() error {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == "" {
		cfg.Port = "5432"
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.Database == "" {
		return errors.New("POSTGRES_DB is required")
	}
	if cfg.Username == "" {
		return errors.New("POSTGRES_USER is required")
	}
	if cfg.Password == "" {
		return errors.New("POSTGRES_PASSWORD is required")
	}
	return nil
}

// ConnString returns the postgres:// URL for cfg.
func (cfg PgConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)
}

// Connect opens a connection pool and pings it.
func Connect(ctx context.Context, log *slog.Logger, connStr string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	log.Info("journal: connected to postgres",
		"host", poolConfig.ConnConfig.Host,
		"port", poolConfig.ConnConfig.Port,
		"database", poolConfig.ConnConfig.Database)
	return pool, nil
}

// MigrateUp runs all pending journal migrations.
func MigrateUp(log *slog.Logger, connStr string) error {
	return withGoose(connStr, func(db *sql.DB) error {
		log.Info("journal: running migrations (up)")
		if err := goose.Up(db, "migrations"); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("journal: migrations completed")
		return nil
	})
}

// MigrateDown rolls back the last journal migration.
func MigrateDown(log *slog.Logger, connStr string) error {
	return withGoose(connStr, func(db *sql.DB) error {
		log.Info("journal: rolling back migration (down)")
		if err := goose.Down(db, "migrations"); err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}
		log.Info("journal: migration rollback completed")
		return nil
	})
}

// MigrateStatus prints the status of every journal migration.
func MigrateStatus(log *slog.Logger, connStr string) error {
	return withGoose(connStr, func(db *sql.DB) error {
		log.Info("journal: migration status")
		if err := goose.Status(db, "migrations"); err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}
		return nil
	})
}

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

func withGoose(connStr string, fn func(*sql.DB) error) error {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(EmbedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return fn(db)
}
