package admin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
)

type ResetOptions struct {
	DryRun      bool
	SkipConfirm bool

	// In answers the confirmation prompt; Out receives the report.
	In  io.Reader
	Out io.Writer
}

// ResetJournal drops the offer journal tables and the goose version table so
// the next migrate starts from scratch. On-chain state is not touched.
func ResetJournal(ctx context.Context, log *slog.Logger, connStr string, opts ResetOptions) error {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = current_schema()
		  AND table_type = 'BASE TABLE'
		  AND (table_name LIKE 'escrow\_%' OR table_name = 'goose_db_version')
		ORDER BY table_name
	`)
	if err != nil {
		return fmt.Errorf("failed to query tables: %w", err)
	}
	tables, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("failed to scan table name: %w", err)
	}

	out := opts.Out
	if len(tables) == 0 {
		fmt.Fprintln(out, "No journal tables found")
		return nil
	}

	fmt.Fprintf(out, "WARNING: This will DROP %d table(s):\n\n", len(tables))
	for _, table := range tables {
		fmt.Fprintf(out, "  - %s\n", table)
	}

	if opts.DryRun {
		fmt.Fprintln(out, "\n[DRY RUN] Would drop the above tables")
		return nil
	}

	if !opts.SkipConfirm {
		fmt.Fprintf(out, "\nThe offer journal cannot be rebuilt from chain state once dropped.\n")
		fmt.Fprintf(out, "Type 'yes' to confirm: ")

		response, err := bufio.NewReader(opts.In).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if strings.TrimSpace(strings.ToLower(response)) != "yes" {
			fmt.Fprintf(out, "\nConfirmation failed. Operation cancelled.\n")
			return nil
		}
		fmt.Fprintln(out)
	}

	for _, table := range tables {
		if _, err := conn.Exec(ctx, "DROP TABLE IF EXISTS "+pgx.Identifier{table}.Sanitize()); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
		fmt.Fprintf(out, "  dropped %s\n", table)
	}

	log.Info("admin: journal reset", "tables", len(tables))
	return nil
}
