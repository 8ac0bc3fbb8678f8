package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/KamisAyaka/solana-demos/admin/internal/admin"
	apisolana "github.com/KamisAyaka/solana-demos/api/solana"
	"github.com/KamisAyaka/solana-demos/escrow/pkg/journal"
	"github.com/KamisAyaka/solana-demos/sdk/vesting"
	"github.com/KamisAyaka/solana-demos/sdk/voting"
	"github.com/KamisAyaka/solana-demos/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// PostgreSQL configuration (offer journal)
	pgHostFlag := flag.String("postgres-host", "", "PostgreSQL host (or set POSTGRES_HOST env var)")
	pgPortFlag := flag.String("postgres-port", "", "PostgreSQL port (or set POSTGRES_PORT env var)")
	pgDatabaseFlag := flag.String("postgres-db", "", "PostgreSQL database (or set POSTGRES_DB env var)")
	pgUsernameFlag := flag.String("postgres-user", "", "PostgreSQL username (or set POSTGRES_USER env var)")
	pgPasswordFlag := flag.String("postgres-password", "", "PostgreSQL password (or set POSTGRES_PASSWORD env var)")

	// Solana configuration
	rpcURLFlag := flag.String("rpc-url", "", "Solana RPC URL (or set SOLANA_RPC_URL env var; default from SOLANA_CLUSTER)")
	keypairFlag := flag.String("keypair", "", "Signer keypair file (or set SOLANA_KEYPAIR env var)")
	votingProgramFlag := flag.String("voting-program-id", voting.ProgramID.String(), "Voting program ID (or set VOTING_PROGRAM_ID env var)")
	vestingProgramFlag := flag.String("vesting-program-id", vesting.ProgramID.String(), "Vesting program ID (or set VESTING_PROGRAM_ID env var)")
	confirmTimeoutFlag := flag.Duration("confirm-timeout", 60*time.Second, "Maximum time to wait for a transaction to confirm")

	// Commands
	journalMigrateFlag := flag.Bool("journal-migrate", false, "Run offer journal migrations using goose")
	journalMigrateDownFlag := flag.Bool("journal-migrate-down", false, "Roll back the most recent offer journal migration")
	journalMigrateStatusFlag := flag.Bool("journal-migrate-status", false, "Show offer journal migration status")
	resetJournalFlag := flag.Bool("reset-journal", false, "Drop the offer journal tables")
	dryRunFlag := flag.Bool("dry-run", false, "Dry run mode - show what would be done without actually executing")
	yesFlag := flag.Bool("yes", false, "Skip confirmation prompt (use with caution)")

	initPollFlag := flag.Bool("init-poll", false, "Create a poll")
	initCandidateFlag := flag.Bool("init-candidate", false, "Register --candidate names on --poll-id")
	showPollFlag := flag.Bool("show-poll", false, "Show a poll and the tallies of --candidate names")

	createVestingFlag := flag.Bool("create-vesting", false, "Create a vesting account and treasury for --company")
	createEmployeeFlag := flag.Bool("create-employee", false, "Grant --beneficiary a vesting schedule under --company")
	claimFlag := flag.Bool("claim", false, "Claim vested tokens for the --keypair beneficiary")
	showEmployeeFlag := flag.Bool("show-employee", false, "Show --beneficiary's schedule and what a claim now would pay")

	// Voting options
	pollIDFlag := flag.Uint64("poll-id", 1, "Poll ID")
	descriptionFlag := flag.String("description", "", "Poll description")
	pollStartFlag := flag.Uint64("poll-start", 0, "Poll start (unix seconds)")
	pollEndFlag := flag.Uint64("poll-end", 0, "Poll end (unix seconds)")
	candidatesFlag := flag.StringSlice("candidate", nil, "Candidate name (repeatable)")

	// Vesting options
	companyFlag := flag.String("company", "", "Company name; seeds the vesting account")
	mintFlag := flag.String("mint", "", "Mint vested by --create-vesting")
	beneficiaryFlag := flag.String("beneficiary", "", "Beneficiary wallet address")
	startTimeFlag := flag.String("start-time", "", "Vesting start (RFC3339)")
	cliffTimeFlag := flag.String("cliff-time", "", "Vesting cliff (RFC3339, empty = start)")
	endTimeFlag := flag.String("end-time", "", "Vesting end (RFC3339)")
	totalAmountFlag := flag.Uint64("total-amount", 0, "Total amount vested (base units)")

	flag.Parse()

	log := logger.New(*verboseFlag)

	// Override PostgreSQL flags with environment variables if set
	pgCfg := journal.PgConfigFromEnv()
	overrideIfSet(&pgCfg.Host, *pgHostFlag)
	overrideIfSet(&pgCfg.Port, *pgPortFlag)
	overrideIfSet(&pgCfg.Database, *pgDatabaseFlag)
	overrideIfSet(&pgCfg.Username, *pgUsernameFlag)
	overrideIfSet(&pgCfg.Password, *pgPasswordFlag)

	if envKeypair := os.Getenv("SOLANA_KEYPAIR"); envKeypair != "" && *keypairFlag == "" {
		*keypairFlag = envKeypair
	}
	if envProgram := os.Getenv("VOTING_PROGRAM_ID"); envProgram != "" && !flag.CommandLine.Changed("voting-program-id") {
		*votingProgramFlag = envProgram
	}
	if envProgram := os.Getenv("VESTING_PROGRAM_ID"); envProgram != "" && !flag.CommandLine.Changed("vesting-program-id") {
		*vestingProgramFlag = envProgram
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Journal commands
	if *journalMigrateFlag {
		return admin.PgMigrateUp(log, pgCfg)
	}

	if *journalMigrateDownFlag {
		return admin.PgMigrateDown(log, pgCfg)
	}

	if *journalMigrateStatusFlag {
		return admin.PgMigrateStatus(log, pgCfg)
	}

	if *resetJournalFlag {
		if err := pgCfg.Validate(); err != nil {
			return err
		}
		return admin.ResetJournal(ctx, log, pgCfg.ConnString(), admin.ResetOptions{
			DryRun:      *dryRunFlag,
			SkipConfirm: *yesFlag,
			In:          os.Stdin,
			Out:         os.Stdout,
		})
	}

	// Everything below talks to the cluster.
	rpcURL := *rpcURLFlag
	if rpcURL == "" {
		rpcURL = apisolana.GetRPCURL()
	}
	votingProgramID, err := solana.PublicKeyFromBase58(*votingProgramFlag)
	if err != nil {
		return fmt.Errorf("invalid voting program id: %w", err)
	}
	vestingProgramID, err := solana.PublicKeyFromBase58(*vestingProgramFlag)
	if err != nil {
		return fmt.Errorf("invalid vesting program id: %w", err)
	}

	a, err := admin.New(admin.Config{
		Logger:           log,
		RPC:              solanarpc.New(rpcURL),
		Out:              os.Stdout,
		VotingProgramID:  votingProgramID,
		VestingProgramID: vestingProgramID,
		ConfirmTimeout:   *confirmTimeoutFlag,
	})
	if err != nil {
		return err
	}
	log.Debug("admin: using cluster", "rpc", rpcURL)

	signer := func(command string) (solana.PrivateKey, error) {
		if *keypairFlag == "" {
			return nil, fmt.Errorf("--keypair is required for --%s", command)
		}
		key, err := solana.PrivateKeyFromSolanaKeygenFile(*keypairFlag)
		if err != nil {
			return nil, fmt.Errorf("failed to load keypair %s: %w", *keypairFlag, err)
		}
		return key, nil
	}

	// Voting commands
	if *initPollFlag {
		authority, err := signer("init-poll")
		if err != nil {
			return err
		}
		_, err = a.InitPoll(ctx, authority, voting.InitializePollArgs{
			PollID:      *pollIDFlag,
			Description: *descriptionFlag,
			PollStart:   *pollStartFlag,
			PollEnd:     *pollEndFlag,
		})
		return err
	}

	if *initCandidateFlag {
		authority, err := signer("init-candidate")
		if err != nil {
			return err
		}
		_, err = a.InitCandidates(ctx, authority, *pollIDFlag, *candidatesFlag)
		return err
	}

	if *showPollFlag {
		return a.ShowPoll(ctx, *pollIDFlag, *candidatesFlag)
	}

	// Vesting commands
	if *createVestingFlag {
		owner, err := signer("create-vesting")
		if err != nil {
			return err
		}
		mint, err := solana.PublicKeyFromBase58(*mintFlag)
		if err != nil {
			return fmt.Errorf("invalid --mint: %w", err)
		}
		_, err = a.CreateVesting(ctx, owner, mint, *companyFlag)
		return err
	}

	if *createEmployeeFlag {
		owner, err := signer("create-employee")
		if err != nil {
			return err
		}
		beneficiary, err := solana.PublicKeyFromBase58(*beneficiaryFlag)
		if err != nil {
			return fmt.Errorf("invalid --beneficiary: %w", err)
		}
		start, err := parseTime("start-time", *startTimeFlag)
		if err != nil {
			return err
		}
		end, err := parseTime("end-time", *endTimeFlag)
		if err != nil {
			return err
		}
		cliff := start
		if *cliffTimeFlag != "" {
			if cliff, err = parseTime("cliff-time", *cliffTimeFlag); err != nil {
				return err
			}
		}
		_, _, err = a.CreateEmployee(ctx, admin.EmployeeParams{
			Owner:       owner,
			Beneficiary: beneficiary,
			Company:     *companyFlag,
			Schedule: vesting.CreateEmployeeAccountArgs{
				StartTime:   start,
				EndTime:     end,
				TotalAmount: *totalAmountFlag,
				CliffTime:   cliff,
			},
		})
		return err
	}

	if *claimFlag {
		beneficiary, err := signer("claim")
		if err != nil {
			return err
		}
		_, err = a.Claim(ctx, beneficiary, *companyFlag)
		return err
	}

	if *showEmployeeFlag {
		beneficiary, err := solana.PublicKeyFromBase58(*beneficiaryFlag)
		if err != nil {
			return fmt.Errorf("invalid --beneficiary: %w", err)
		}
		return a.ShowEmployee(ctx, beneficiary, *companyFlag)
	}

	flag.Usage()
	return errors.New("no command given")
}

func overrideIfSet(dst *string, flagValue string) {
	if flagValue != "" {
		*dst = flagValue
	}
}

func parseTime(name, s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("--%s is required", name)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s format (use RFC3339, e.g. 2024-01-01T00:00:00Z): %w", name, err)
	}
	return t.Unix(), nil
}
