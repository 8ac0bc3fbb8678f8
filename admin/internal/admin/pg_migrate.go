package admin

import (
	"log/slog"

	"github.com/KamisAyaka/solana-demos/escrow/pkg/journal"
)

// PgMigrateUp runs all pending offer journal migrations.
func PgMigrateUp(log *slog.Logger, cfg journal.PgConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return journal.MigrateUp(log, cfg.ConnString())
}

// PgMigrateDown rolls back the most recent offer journal migration.
func PgMigrateDown(log *slog.Logger, cfg journal.PgConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return journal.MigrateDown(log, cfg.ConnString())
}

// PgMigrateStatus shows the status of all offer journal migrations.
func PgMigrateStatus(log *slog.Logger, cfg journal.PgConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return journal.MigrateStatus(log, cfg.ConnString())
}
