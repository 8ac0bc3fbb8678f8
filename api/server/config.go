package server

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/time/rate"

	"github.com/KamisAyaka/solana-demos/utils/pkg/soltx"
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

type Config struct {
	Logger            *slog.Logger
	RPC               soltx.RPCClient
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo

	// ChainID is the CAIP-2 identifier sent in X-Blockchain-Ids. Empty
	// omits the header.
	ChainID string

	VotingProgramID solana.PublicKey
	PollID          uint64
	Candidates      []string

	// Per-IP limit on /api routes.
	RateLimit rate.Limit
	RateBurst int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = rate.Every(time.Minute / 60)
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}
	return nil
}
