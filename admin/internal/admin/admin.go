// Package admin holds operator commands: offer journal maintenance, poll
// setup and tallies, and vesting schedule management.
package admin

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"

	"github.com/KamisAyaka/solana-demos/sdk/vesting"
	"github.com/KamisAyaka/solana-demos/sdk/voting"
	"github.com/KamisAyaka/solana-demos/utils/pkg/retry"
	"github.com/KamisAyaka/solana-demos/utils/pkg/soltx"
)

type Config struct {
	Logger *slog.Logger
	RPC    soltx.RPCClient
	Out    io.Writer
	Clock  clockwork.Clock

	VotingProgramID  solana.PublicKey
	VestingProgramID solana.PublicKey

	Commitment     solanarpc.CommitmentType
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	SkipPreflight  bool
	Retry          retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.Out == nil {
		return errors.New("output writer is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.VotingProgramID.IsZero() {
		cfg.VotingProgramID = voting.ProgramID
	}
	if cfg.VestingProgramID.IsZero() {
		cfg.VestingProgramID = vesting.ProgramID
	}
	return nil
}

type Admin struct {
	log    *slog.Logger
	cfg    Config
	sender *soltx.Sender
	reader *soltx.Reader
}

func New(cfg Config) (*Admin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sender, err := soltx.NewSender(soltx.SenderConfig{
		Logger:         cfg.Logger,
		RPC:            cfg.RPC,
		Clock:          cfg.Clock,
		Commitment:     cfg.Commitment,
		ConfirmTimeout: cfg.ConfirmTimeout,
		PollInterval:   cfg.PollInterval,
		Retry:          cfg.Retry,
		SkipPreflight:  cfg.SkipPreflight,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sender: %w", err)
	}
	return &Admin{
		log:    cfg.Logger,
		cfg:    cfg,
		sender: sender,
		reader: sender.Reader(),
	}, nil
}

func (a *Admin) printf(format string, args ...any) {
	fmt.Fprintf(a.cfg.Out, format, args...)
}

func unixTime(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
