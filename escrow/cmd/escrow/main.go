package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"

	apisolana "github.com/KamisAyaka/solana-demos/api/solana"
	"github.com/KamisAyaka/solana-demos/escrow/internal/cli"
	"github.com/KamisAyaka/solana-demos/escrow/pkg/journal"
	"github.com/KamisAyaka/solana-demos/escrow/pkg/metrics"
	"github.com/KamisAyaka/solana-demos/escrow/pkg/orchestrator"
	"github.com/KamisAyaka/solana-demos/sdk/escrow"
	"github.com/KamisAyaka/solana-demos/sdk/token"
	"github.com/KamisAyaka/solana-demos/utils/pkg/logger"
	"github.com/KamisAyaka/solana-demos/utils/pkg/tracing"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("escrow", flag.ContinueOnError)
	// Global flags end at the subcommand name.
	fs.SetInterspersed(false)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: escrow [flags] <%s> [command flags]\n\n", strings.Join(cli.Commands, "|"))
		fs.PrintDefaults()
	}

	verboseFlag := fs.Bool("verbose", false, "enable verbose (debug) logging")
	rpcURLFlag := fs.String("rpc-url", "", "Solana RPC URL (or set SOLANA_RPC_URL env var; default from SOLANA_CLUSTER)")
	programIDFlag := fs.String("program-id", escrow.ProgramID.String(), "Escrow program ID (or set ESCROW_PROGRAM_ID env var)")
	tokenProgramFlag := fs.String("token-program", token.Token2022ProgramID.String(), "Token program owning both mints (or set ESCROW_TOKEN_PROGRAM env var)")
	commitmentFlag := fs.String("commitment", string(solanarpc.CommitmentConfirmed), "Commitment to wait for: processed, confirmed, finalized")
	confirmTimeoutFlag := fs.Duration("confirm-timeout", 60*time.Second, "Maximum time to wait for a transaction to confirm")
	skipPreflightFlag := fs.Bool("skip-preflight", false, "Send without simulation")
	noJournalFlag := fs.Bool("no-journal", false, "Do not record offers in PostgreSQL even if POSTGRES_* is set")
	pushgatewayFlag := fs.String("pushgateway-url", "", "Prometheus pushgateway to push metrics to on exit (or set PROMETHEUS_PUSHGATEWAY_URL env var)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	log := logger.New(*verboseFlag)

	rpcURL := *rpcURLFlag
	if rpcURL == "" {
		rpcURL = apisolana.GetRPCURL()
	}
	if env := os.Getenv("ESCROW_PROGRAM_ID"); env != "" && !fs.Changed("program-id") {
		*programIDFlag = env
	}
	if env := os.Getenv("PROMETHEUS_PUSHGATEWAY_URL"); env != "" && *pushgatewayFlag == "" {
		*pushgatewayFlag = env
	}
	if env := os.Getenv("ESCROW_TOKEN_PROGRAM"); env != "" && !fs.Changed("token-program") {
		*tokenProgramFlag = env
	}
	programID, err := solana.PublicKeyFromBase58(*programIDFlag)
	if err != nil {
		return fmt.Errorf("invalid program id: %w", err)
	}
	tokenProgram, err := solana.PublicKeyFromBase58(*tokenProgramFlag)
	if err != nil {
		return fmt.Errorf("invalid token program: %w", err)
	}

	flush, err := tracing.Init(tracing.ConfigFromEnv(version))
	if err != nil {
		return err
	}
	defer flush()
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := orchestrator.Config{
		Logger:         log,
		RPC:            solanarpc.New(rpcURL),
		ProgramID:      programID,
		TokenProgram:   tokenProgram,
		Commitment:     solanarpc.CommitmentType(*commitmentFlag),
		ConfirmTimeout: *confirmTimeoutFlag,
		SkipPreflight:  *skipPreflightFlag,
	}

	var j *journal.Journal
	pgCfg := journal.PgConfigFromEnv()
	if !*noJournalFlag && pgCfg.Database != "" {
		if err := pgCfg.Validate(); err != nil {
			return err
		}
		pool, err := journal.Connect(ctx, log, pgCfg.ConnString())
		if err != nil {
			return err
		}
		defer pool.Close()
		if j, err = journal.New(journal.Config{Logger: log, Pool: pool}); err != nil {
			return err
		}
		cfg.Journal = j
	}

	orch, err := orchestrator.New(cfg)
	if err != nil {
		return err
	}

	ccfg := cli.Config{Logger: log, Orchestrator: orch, Out: os.Stdout}
	if j != nil {
		ccfg.Journal = j
	}
	c, err := cli.New(ccfg)
	if err != nil {
		return err
	}

	log.Debug("escrow: running", "command", fs.Args(), "rpc", rpcURL, "program", programID, "journal", j != nil)
	runErr := c.Run(ctx, fs.Args())

	if *pushgatewayFlag != "" {
		// Push even when the command failed or was interrupted.
		pushCtx, pushCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer pushCancel()
		instance, _ := os.Hostname()
		if err := metrics.Push(pushCtx, *pushgatewayFlag, instance, prometheus.DefaultGatherer); err != nil {
			log.Warn("escrow: metrics push failed", "error", err)
		}
	}
	return runErr
}
