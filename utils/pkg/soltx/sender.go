package soltx

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/getsentry/sentry-go"
	"github.com/jonboulle/clockwork"

	"github.com/KamisAyaka/solana-demos/sdk/anchor"
	"github.com/KamisAyaka/solana-demos/utils/pkg/retry"
)

const (
	defaultConfirmTimeout = 60 * time.Second
	defaultPollInterval   = 500 * time.Millisecond
)

var (
	ErrConfirmTimeout = errors.New("timed out waiting for transaction confirmation")
	ErrNoInstructions = errors.New("no instructions to send")
	ErrMissingSigner  = errors.New("missing signer")
)

type SenderConfig struct {
	Logger *slog.Logger
	RPC    RPCClient
	Clock  clockwork.Clock

	// Commitment the sender waits for before returning. Defaults to confirmed.
	Commitment     solanarpc.CommitmentType
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	Retry          retry.Config

	// SkipPreflight sends without simulation; failures then surface from
	// the signature status instead of the send call.
	SkipPreflight bool
}

func (cfg *SenderConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Commitment == "" {
		cfg.Commitment = solanarpc.CommitmentConfirmed
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// Sender submits transactions and waits for them to reach the configured
// commitment. Submissions are never retried: a resend after an ambiguous
// failure could execute the instruction twice.
type Sender struct {
	log *slog.Logger
	cfg SenderConfig
}

func NewSender(cfg SenderConfig) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sender{log: cfg.Logger, cfg: cfg}, nil
}

// Reader returns a Reader sharing the sender's RPC client and commitment.
func (s *Sender) Reader() *Reader {
	return NewReader(s.cfg.RPC, s.cfg.Commitment, s.cfg.Retry)
}

// BuildTransaction assembles ixs into a transaction paid by feePayer against
// a fresh blockhash. The transaction is not signed.
func (s *Sender) BuildTransaction(ctx context.Context, ixs []solana.Instruction, feePayer solana.PublicKey) (*solana.Transaction, error) {
	if len(ixs) == 0 {
		return nil, ErrNoInstructions
	}
	bh, err := retry.DoValue(ctx, s.cfg.Retry, func() (*solanarpc.GetLatestBlockhashResult, error) {
		return s.cfg.RPC.GetLatestBlockhash(ctx, solanarpc.CommitmentFinalized)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if bh == nil || bh.Value == nil {
		return nil, errors.New("failed to get latest blockhash: empty result")
	}
	tx, err := solana.NewTransaction(ixs, bh.Value.Blockhash, solana.TransactionPayer(feePayer))
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	return tx, nil
}

// EncodeUnsigned serializes tx for a wallet to sign: every required
// signature slot is present and zeroed, and the result is base64.
func EncodeUnsigned(tx *solana.Transaction) (string, error) {
	n := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) != n {
		tx.Signatures = make([]solana.Signature, n)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// SendAndConfirm builds a transaction from ixs, signs it with payer and
// signers, submits it and waits for confirmation.
//
// A transaction the ledger rejects returns an *anchor.ProgramError,
// *anchor.InstructionError or *anchor.TransactionError in the error chain.
// For a ProgramError, ProgramID is the program of the failing instruction.
func (s *Sender) SendAndConfirm(ctx context.Context, ixs []solana.Instruction, payer solana.PrivateKey, signers ...solana.PrivateKey) (solana.Signature, error) {
	span := sentry.StartSpan(ctx, "solana.send_transaction", sentry.WithDescription(describe(ixs)))
	span.SetData("solana.instructions", len(ixs))
	span.SetData("solana.commitment", string(s.cfg.Commitment))
	span.SetTag("fee_payer", payer.PublicKey().String())
	ctx = span.Context()
	defer span.Finish()

	tx, err := s.BuildTransaction(ctx, ixs, payer.PublicKey())
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return solana.Signature{}, err
	}

	keys := append([]solana.PrivateKey{payer}, signers...)
	if _, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		for i := range keys {
			if keys[i].PublicKey().Equals(pub) {
				return &keys[i]
			}
		}
		return nil
	}); err != nil {
		span.Status = sentry.SpanStatusInvalidArgument
		return solana.Signature{}, fmt.Errorf("%w: %w", ErrMissingSigner, err)
	}

	start := s.cfg.Clock.Now()
	sig, err := s.cfg.RPC.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
		SkipPreflight:       s.cfg.SkipPreflight,
		PreflightCommitment: s.cfg.Commitment,
	})
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		if failure := anchor.FromRPCError(err); failure != nil {
			attachProgram(failure, ixs)
			s.log.Debug("soltx: transaction rejected", "error", failure, "logs", anchor.Logs(failure))
			return solana.Signature{}, failure
		}
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	span.SetData("solana.signature", sig.String())

	if err := s.waitForConfirmation(ctx, sig, ixs); err != nil {
		span.Status = sentry.SpanStatusInternalError
		return sig, err
	}
	span.Status = sentry.SpanStatusOK
	s.log.Debug("soltx: transaction confirmed", "signature", sig, "duration", s.cfg.Clock.Since(start))
	return sig, nil
}

func (s *Sender) waitForConfirmation(ctx context.Context, sig solana.Signature, ixs []solana.Instruction) error {
	deadline := s.cfg.Clock.After(s.cfg.ConfirmTimeout)
	ticker := s.cfg.Clock.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	want := confirmationLevel(solanarpc.ConfirmationStatusType(s.cfg.Commitment))
	for {
		out, err := retry.DoValue(ctx, s.cfg.Retry, func() (*solanarpc.GetSignatureStatusesResult, error) {
			return s.cfg.RPC.GetSignatureStatuses(ctx, false, sig)
		})
		if err != nil {
			return fmt.Errorf("failed to get signature status for %s: %w", sig, err)
		}
		if out != nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				failure := anchor.FromTransactionError(status.Err, nil)
				attachProgram(failure, ixs)
				return failure
			}
			if confirmationLevel(status.ConfirmationStatus) >= want {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("%w: %s", ErrConfirmTimeout, sig)
		case <-ticker.Chan():
		}
	}
}

func confirmationLevel(status solanarpc.ConfirmationStatusType) int {
	switch status {
	case solanarpc.ConfirmationStatusProcessed:
		return 1
	case solanarpc.ConfirmationStatusConfirmed:
		return 2
	case solanarpc.ConfirmationStatusFinalized:
		return 3
	default:
		return 0
	}
}

func attachProgram(failure error, ixs []solana.Instruction) {
	var pe *anchor.ProgramError
	if errors.As(failure, &pe) && pe.InstructionIndex >= 0 && pe.InstructionIndex < len(ixs) {
		pe.ProgramID = ixs[pe.InstructionIndex].ProgramID()
	}
}

func describe(ixs []solana.Instruction) string {
	if len(ixs) == 0 {
		return "empty"
	}
	if len(ixs) == 1 {
		return ixs[0].ProgramID().String()
	}
	return fmt.Sprintf("%s +%d", ixs[0].ProgramID(), len(ixs)-1)
}
