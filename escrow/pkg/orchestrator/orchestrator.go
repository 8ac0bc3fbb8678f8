// Package orchestrator drives escrow offers through the on-chain program:
// it derives the offer and vault, submits make/take/cancel transactions,
// waits for confirmation and verifies the resulting account state.
//
// The program owns the offer lifecycle. The orchestrator keeps no local
// state machine and never retries a submission; a rejected transaction is
// returned to the caller with the program's error in its chain.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/KamisAyaka/solana-demos/escrow/pkg/journal"
	"github.com/KamisAyaka/solana-demos/escrow/pkg/metrics"
	"github.com/KamisAyaka/solana-demos/sdk/escrow"
	"github.com/KamisAyaka/solana-demos/sdk/token"
	"github.com/KamisAyaka/solana-demos/utils/pkg/retry"
	"github.com/KamisAyaka/solana-demos/utils/pkg/soltx"
)

var (
	ErrOfferNotFound      = errors.New("offer not found")
	ErrVerificationFailed = escrow.ErrVerificationFailed
)

// Journal records confirmed operations. *journal.Journal implements it.
type Journal interface {
	RecordMade(ctx context.Context, e journal.Entry) (journal.Entry, error)
	RecordTaken(ctx context.Context, offer, taker solana.PublicKey, sig solana.Signature) error
	RecordCancelled(ctx context.Context, offer solana.PublicKey, sig solana.Signature) error
}

var _ Journal = (*journal.Journal)(nil)

type Config struct {
	Logger *slog.Logger
	RPC    soltx.RPCClient
	Clock  clockwork.Clock

	// ProgramID defaults to escrow.ProgramID.
	ProgramID solana.PublicKey
	// TokenProgram owning both mints. Defaults to Token-2022.
	TokenProgram solana.PublicKey

	Commitment     solanarpc.CommitmentType
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	SkipPreflight  bool
	Retry          retry.Config

	// Journal is optional.
	Journal Journal
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ProgramID.IsZero() {
		cfg.ProgramID = escrow.ProgramID
	}
	if cfg.TokenProgram.IsZero() {
		cfg.TokenProgram = token.Token2022ProgramID
	}
	if err := token.ValidateProgram(cfg.TokenProgram); err != nil {
		return err
	}
	if cfg.Commitment == "" {
		cfg.Commitment = solanarpc.CommitmentConfirmed
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

type Orchestrator struct {
	log    *slog.Logger
	cfg    Config
	sender *soltx.Sender
	reader *soltx.Reader
}

func New(cfg Config) (*Orchestrator, error) {
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
	return &Orchestrator{
		log:    cfg.Logger,
		cfg:    cfg,
		sender: sender,
		reader: sender.Reader(),
	}, nil
}

// ProgramID is the escrow program the orchestrator targets.
func (o *Orchestrator) ProgramID() solana.PublicKey {
	return o.cfg.ProgramID
}

// TokenProgram is the token program both mints belong to.
func (o *Orchestrator) TokenProgram() solana.PublicKey {
	return o.cfg.TokenProgram
}

// FetchOffer returns the decoded offer account, or ErrOfferNotFound.
func (o *Orchestrator) FetchOffer(ctx context.Context, offer solana.PublicKey) (*escrow.Offer, error) {
	info, err := o.reader.Account(ctx, offer)
	if errors.Is(err, soltx.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %w: %s", ErrOfferNotFound, escrow.ErrOfferClosed, offer)
	}
	if err != nil {
		return nil, err
	}
	if !info.Owner.Equals(o.cfg.ProgramID) {
		return nil, fmt.Errorf("account %s is owned by %s, not the escrow program", offer, info.Owner)
	}
	state, err := escrow.DecodeOffer(info.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode offer %s: %w", offer, err)
	}
	return state, nil
}

// VaultBalance returns the amount of mint A held in the offer's vault.
func (o *Orchestrator) VaultBalance(ctx context.Context, offer, mintA solana.PublicKey) (uint64, error) {
	vault, err := escrow.VaultAddress(offer, mintA, o.cfg.TokenProgram)
	if err != nil {
		return 0, err
	}
	return o.reader.TokenBalance(ctx, vault)
}

// TokenBalance returns owner's balance of mint held in its associated token
// account. A missing account has a zero balance.
func (o *Orchestrator) TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	ata, err := token.AssociatedTokenAddress(owner, mint, o.cfg.TokenProgram)
	if err != nil {
		return 0, err
	}
	amount, err := o.reader.TokenBalance(ctx, ata)
	if errors.Is(err, soltx.ErrAccountNotFound) {
		return 0, nil
	}
	return amount, err
}

type MakeParams struct {
	Maker         solana.PrivateKey
	OfferID       uint64
	// RandomOfferID picks a random OfferID; OfferID must then be zero.
	RandomOfferID bool
	MintA         solana.PublicKey
	MintB         solana.PublicKey
	AmountOffered uint64
	AmountWanted  uint64
}

type MakeResult struct {
	Offer        solana.PublicKey
	Vault        solana.PublicKey
	OfferID      uint64
	Signature    solana.Signature
	State        *escrow.Offer
	VaultBalance uint64
}

// Make deposits AmountOffered of mint A into a new vault and records an offer
// for AmountWanted of mint B, then verifies the vault and offer on chain.
func (o *Orchestrator) Make(ctx context.Context, p MakeParams) (res *MakeResult, err error) {
	start := o.cfg.Clock.Now()
	defer func() { metrics.RecordOperation("make", o.cfg.Clock.Since(start), err) }()

	offerID := p.OfferID
	if p.RandomOfferID {
		if offerID != 0 {
			return nil, fmt.Errorf("offer id %d given together with a random offer id", offerID)
		}
		if offerID, err = escrow.NewOfferID(); err != nil {
			return nil, err
		}
	}
	maker := p.Maker.PublicKey()
	addrs, err := escrow.DeriveAddresses(o.cfg.ProgramID, o.cfg.TokenProgram, maker, p.MintA, offerID)
	if err != nil {
		return nil, err
	}
	makerA, err := token.AssociatedTokenAddress(maker, p.MintA, o.cfg.TokenProgram)
	if err != nil {
		return nil, err
	}

	ix, err := escrow.NewMakeOfferInstruction(o.cfg.ProgramID, escrow.MakeOfferAccounts{
		Maker:              maker,
		TokenMintA:         p.MintA,
		TokenMintB:         p.MintB,
		MakerTokenAccountA: makerA,
		Offer:              addrs.Offer,
		Vault:              addrs.Vault,
		TokenProgram:       o.cfg.TokenProgram,
	}, escrow.MakeOfferArgs{
		ID:                  offerID,
		TokenAOfferedAmount: p.AmountOffered,
		TokenBWantedAmount:  p.AmountWanted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build make_offer: %w", err)
	}

	o.log.Debug("orchestrator: making offer", "maker", maker, "offer", addrs.Offer, "offerID", offerID)
	sig, err := o.sender.SendAndConfirm(ctx, []solana.Instruction{ix}, p.Maker)
	if err != nil {
		return nil, fmt.Errorf("make_offer %s: %w", addrs.Offer, err)
	}

	var (
		state   *escrow.Offer
		balance uint64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		state, err = o.FetchOffer(gctx, addrs.Offer)
		return err
	})
	g.Go(func() error {
		var err error
		balance, err = o.reader.TokenBalance(gctx, addrs.Vault)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to read offer %s after make: %w", addrs.Offer, err)
	}

	if err := verifyMade(state, balance, maker, offerID, p); err != nil {
		return nil, fmt.Errorf("offer %s: %w", addrs.Offer, err)
	}

	o.log.Info("orchestrator: offer made",
		"offer", addrs.Offer, "vault", addrs.Vault, "offerID", offerID,
		"offered", p.AmountOffered, "wanted", p.AmountWanted, "signature", sig)

	if o.cfg.Journal != nil {
		if _, err := o.cfg.Journal.RecordMade(ctx, journal.Entry{
			ProgramID:     o.cfg.ProgramID,
			Offer:         addrs.Offer,
			Vault:         addrs.Vault,
			OfferID:       offerID,
			Maker:         maker,
			MintA:         p.MintA,
			MintB:         p.MintB,
			TokenProgram:  o.cfg.TokenProgram,
			AmountOffered: p.AmountOffered,
			AmountWanted:  p.AmountWanted,
			MakeSignature: sig,
		}); err != nil {
			o.log.Warn("orchestrator: failed to journal offer", "offer", addrs.Offer, "error", err)
		}
	}

	return &MakeResult{
		Offer:        addrs.Offer,
		Vault:        addrs.Vault,
		OfferID:      offerID,
		Signature:    sig,
		State:        state,
		VaultBalance: balance,
	}, nil
}

func verifyMade(state *escrow.Offer, vault uint64, maker solana.PublicKey, offerID uint64, p MakeParams) error {
	switch {
	case vault != p.AmountOffered:
		return fmt.Errorf("%w: vault holds %d, offered %d", ErrVerificationFailed, vault, p.AmountOffered)
	case state.IsCancelled:
		return fmt.Errorf("%w: new offer is cancelled", ErrVerificationFailed)
	case state.OfferID != offerID:
		return fmt.Errorf("%w: offer id %d, want %d", ErrVerificationFailed, state.OfferID, offerID)
	case !state.Maker.Equals(maker):
		return fmt.Errorf("%w: maker %s, want %s", ErrVerificationFailed, state.Maker, maker)
	case !state.TokenMintA.Equals(p.MintA) || !state.TokenMintB.Equals(p.MintB):
		return fmt.Errorf("%w: mints do not match", ErrVerificationFailed)
	case state.TokenBWantedAmount != p.AmountWanted:
		return fmt.Errorf("%w: wanted %d, want %d", ErrVerificationFailed, state.TokenBWantedAmount, p.AmountWanted)
	}
	return nil
}

type TakeParams struct {
	Taker solana.PrivateKey
	Offer solana.PublicKey
}

type TakeResult struct {
	Offer     solana.PublicKey
	Maker     solana.PublicKey
	OfferID   uint64
	Signature solana.Signature
	// Received is the vault balance released to the taker.
	Received uint64
	// Paid is the amount of mint B sent to the maker.
	Paid uint64
}

// Take pays the maker the wanted amount of mint B and receives the vault.
// The program closes both the vault and the offer.
func (o *Orchestrator) Take(ctx context.Context, p TakeParams) (res *TakeResult, err error) {
	start := o.cfg.Clock.Now()
	defer func() { metrics.RecordOperation("take", o.cfg.Clock.Since(start), err) }()

	state, err := o.FetchOffer(ctx, p.Offer)
	if err != nil {
		return nil, err
	}
	taker := p.Taker.PublicKey()
	tp := o.cfg.TokenProgram

	vault, err := escrow.VaultAddress(p.Offer, state.TokenMintA, tp)
	if err != nil {
		return nil, err
	}
	var takerA, takerB, makerB solana.PublicKey
	for _, a := range []struct {
		dst         *solana.PublicKey
		owner, mint solana.PublicKey
	}{
		{&takerA, taker, state.TokenMintA},
		{&takerB, taker, state.TokenMintB},
		{&makerB, state.Maker, state.TokenMintB},
	} {
		if *a.dst, err = token.AssociatedTokenAddress(a.owner, a.mint, tp); err != nil {
			return nil, err
		}
	}

	// The vault may already be gone; the program reports that.
	received, err := o.reader.TokenBalance(ctx, vault)
	if err != nil && !errors.Is(err, soltx.ErrAccountNotFound) {
		return nil, err
	}

	ix, err := escrow.NewTakeOfferInstruction(o.cfg.ProgramID, escrow.TakeOfferAccounts{
		Taker:              taker,
		Maker:              state.Maker,
		TokenMintA:         state.TokenMintA,
		TokenMintB:         state.TokenMintB,
		TakerTokenAccountA: takerA,
		TakerTokenAccountB: takerB,
		MakerTokenAccountB: makerB,
		Offer:              p.Offer,
		Vault:              vault,
		TokenProgram:       tp,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build take_offer: %w", err)
	}

	o.log.Debug("orchestrator: taking offer", "taker", taker, "offer", p.Offer)
	sig, err := o.sender.SendAndConfirm(ctx, []solana.Instruction{ix}, p.Taker)
	if err != nil {
		return nil, fmt.Errorf("take_offer %s: %w", p.Offer, err)
	}

	exists, err := o.reader.AccountExists(ctx, vault)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault %s after take: %w", vault, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: vault %s still open after take", ErrVerificationFailed, vault)
	}

	o.log.Info("orchestrator: offer taken",
		"offer", p.Offer, "taker", taker, "received", received,
		"paid", state.TokenBWantedAmount, "signature", sig)

	if o.cfg.Journal != nil {
		if err := o.cfg.Journal.RecordTaken(ctx, p.Offer, taker, sig); err != nil {
			o.log.Warn("orchestrator: failed to journal take", "offer", p.Offer, "error", err)
		}
	}

	return &TakeResult{
		Offer:     p.Offer,
		Maker:     state.Maker,
		OfferID:   state.OfferID,
		Signature: sig,
		Received:  received,
		Paid:      state.TokenBWantedAmount,
	}, nil
}

type CancelParams struct {
	// Maker signs the cancel. The program rejects anyone but the offer's
	// maker.
	Maker         solana.PrivateKey
	OfferID       uint64
	// Offer defaults to the address derived from (Maker, OfferID).
	Offer solana.PublicKey
	// MintA defaults to the mint recorded on the offer.
	MintA solana.PublicKey
}

type CancelResult struct {
	Offer     solana.PublicKey
	Signature solana.Signature
	Refunded  uint64
	State     *escrow.Offer
}

// Cancel refunds the vault to the maker and flags the offer cancelled. The
// offer account stays on chain.
func (o *Orchestrator) Cancel(ctx context.Context, p CancelParams) (res *CancelResult, err error) {
	start := o.cfg.Clock.Now()
	defer func() { metrics.RecordOperation("cancel", o.cfg.Clock.Since(start), err) }()

	signer := p.Maker.PublicKey()
	offer := p.Offer
	if offer.IsZero() {
		if offer, _, err = escrow.OfferAddress(o.cfg.ProgramID, signer, p.OfferID); err != nil {
			return nil, err
		}
	}

	offerID, mintA := p.OfferID, p.MintA
	if offerID == 0 || mintA.IsZero() {
		state, err := o.FetchOffer(ctx, offer)
		if err != nil {
			return nil, err
		}
		if offerID == 0 {
			offerID = state.OfferID
		}
		if mintA.IsZero() {
			mintA = state.TokenMintA
		}
	}

	tp := o.cfg.TokenProgram
	vault, err := escrow.VaultAddress(offer, mintA, tp)
	if err != nil {
		return nil, err
	}
	makerA, err := token.AssociatedTokenAddress(signer, mintA, tp)
	if err != nil {
		return nil, err
	}

	refund, err := o.reader.TokenBalance(ctx, vault)
	if err != nil && !errors.Is(err, soltx.ErrAccountNotFound) {
		return nil, err
	}

	ix, err := escrow.NewCancelOfferInstruction(o.cfg.ProgramID, escrow.CancelOfferAccounts{
		Maker:              signer,
		TokenMintA:         mintA,
		MakerTokenAccountA: makerA,
		Offer:              offer,
		Vault:              vault,
		TokenProgram:       tp,
	}, escrow.CancelOfferArgs{OfferID: offerID})
	if err != nil {
		return nil, fmt.Errorf("failed to build cancel_offer: %w", err)
	}

	o.log.Debug("orchestrator: cancelling offer", "maker", signer, "offer", offer, "offerID", offerID)
	sig, err := o.sender.SendAndConfirm(ctx, []solana.Instruction{ix}, p.Maker)
	if err != nil {
		return nil, fmt.Errorf("cancel_offer %s: %w", offer, err)
	}

	state, err := o.FetchOffer(ctx, offer)
	if err != nil {
		return nil, fmt.Errorf("failed to read offer %s after cancel: %w", offer, err)
	}
	if !state.IsCancelled {
		return nil, fmt.Errorf("%w: offer %s not flagged cancelled", ErrVerificationFailed, offer)
	}

	o.log.Info("orchestrator: offer cancelled", "offer", offer, "refunded", refund, "signature", sig)

	if o.cfg.Journal != nil {
		if err := o.cfg.Journal.RecordCancelled(ctx, offer, sig); err != nil {
			o.log.Warn("orchestrator: failed to journal cancel", "offer", offer, "error", err)
		}
	}

	return &CancelResult{Offer: offer, Signature: sig, Refunded: refund, State: state}, nil
}
