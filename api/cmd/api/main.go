package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/KamisAyaka/solana-demos/api/metrics"
	"github.com/KamisAyaka/solana-demos/api/server"
	apisolana "github.com/KamisAyaka/solana-demos/api/solana"
	"github.com/KamisAyaka/solana-demos/sdk/voting"
	"github.com/KamisAyaka/solana-demos/utils/pkg/logger"
	"github.com/KamisAyaka/solana-demos/utils/pkg/tracing"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = "0.0.0.0:3000"
	defaultMetricsAddr = ""
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	jsonLogsFlag := flag.Bool("json-logs", false, "write logs as JSON")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "Address to serve actions on (or set LISTEN_ADDR env var)")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Separate address for prometheus metrics; /metrics is always served on listen-addr too")
	clusterFlag := flag.String("cluster", apisolana.GetCluster(), "Solana cluster: localnet, devnet, testnet, mainnet-beta (or set SOLANA_CLUSTER env var)")
	rpcURLFlag := flag.String("rpc-url", "", "Solana RPC URL, overrides --cluster (or set SOLANA_RPC_URL env var)")
	programIDFlag := flag.String("voting-program-id", voting.ProgramID.String(), "Voting program ID (or set VOTING_PROGRAM_ID env var)")
	pollIDFlag := flag.Uint64("poll-id", 1, "Poll the vote action votes on")
	candidatesFlag := flag.StringSlice("candidate", nil, "Allowed candidate name (repeatable; default Smooth, Drity)")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 10*time.Second, "Maximum time to wait for in-flight requests during shutdown")

	flag.Parse()

	log := logger.NewWithOptions(logger.Options{Verbose: *verboseFlag, Format: logFormat(*jsonLogsFlag)})

	if env := os.Getenv("LISTEN_ADDR"); env != "" {
		*listenAddrFlag = env
	}
	if env := os.Getenv("VOTING_PROGRAM_ID"); env != "" {
		*programIDFlag = env
	}

	rpcURL := *rpcURLFlag
	if rpcURL == "" {
		if env := os.Getenv("SOLANA_RPC_URL"); env != "" {
			rpcURL = env
		} else {
			url, err := apisolana.RPCURL(*clusterFlag)
			if err != nil {
				return err
			}
			rpcURL = url
		}
	}

	programID, err := solana.PublicKeyFromBase58(*programIDFlag)
	if err != nil {
		return fmt.Errorf("invalid voting program id: %w", err)
	}

	flush, err := tracing.Init(tracing.ConfigFromEnv(version))
	if err != nil {
		return err
	}
	defer flush()

	chainID, _ := apisolana.ChainID(*clusterFlag)

	srv, err := server.New(server.Config{
		Logger:          log,
		RPC:             solanarpc.New(rpcURL),
		ListenAddr:      *listenAddrFlag,
		ShutdownTimeout: *shutdownTimeoutFlag,
		VersionInfo:     server.VersionInfo{Version: version, Commit: commit, Date: date},
		ChainID:         chainID,
		VotingProgramID: programID,
		PollID:          *pollIDFlag,
		Candidates:      *candidatesFlag,
	})
	if err != nil {
		return err
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	if *metricsAddrFlag != "" {
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, mux); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("actions server starting",
		"version", version,
		"cluster", *clusterFlag,
		"rpc", rpcURL,
		"voting_program", programID,
		"poll_id", *pollIDFlag,
	)

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func logFormat(json bool) logger.Format {
	if json {
		return logger.FormatJSON
	}
	return logger.FormatText
}
