package orchestrator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KamisAyaka/solana-demos/escrow/pkg/journal"
	"github.com/KamisAyaka/solana-demos/escrow/pkg/orchestrator"
	"github.com/KamisAyaka/solana-demos/sdk/anchor"
	"github.com/KamisAyaka/solana-demos/sdk/escrow"
	"github.com/KamisAyaka/solana-demos/sdk/escrow/escrowtest"
	"github.com/KamisAyaka/solana-demos/sdk/token"
	demotesting "github.com/KamisAyaka/solana-demos/utils/pkg/testing"
)

type mockJournal struct {
	RecordMadeFunc      func(ctx context.Context, e journal.Entry) (journal.Entry, error)
	RecordTakenFunc     func(ctx context.Context, offer, taker solana.PublicKey, sig solana.Signature) error
	RecordCancelledFunc func(ctx context.Context, offer solana.PublicKey, sig solana.Signature) error
}

func (m *mockJournal) RecordMade(ctx context.Context, e journal.Entry) (journal.Entry, error) {
	if m.RecordMadeFunc != nil {
		return m.RecordMadeFunc(ctx, e)
	}
	return e, nil
}

func (m *mockJournal) RecordTaken(ctx context.Context, offer, taker solana.PublicKey, sig solana.Signature) error {
	if m.RecordTakenFunc != nil {
		return m.RecordTakenFunc(ctx, offer, taker, sig)
	}
	return nil
}

func (m *mockJournal) RecordCancelled(ctx context.Context, offer solana.PublicKey, sig solana.Signature) error {
	if m.RecordCancelledFunc != nil {
		return m.RecordCancelledFunc(ctx, offer, sig)
	}
	return nil
}

type fixture struct {
	ledger *escrowtest.Ledger
	orch   *orchestrator.Orchestrator
	mintA  solana.PublicKey
	mintB  solana.PublicKey
	maker  solana.PrivateKey
	taker  solana.PrivateKey
}

func newFixture(t *testing.T, mutate ...func(*orchestrator.Config)) *fixture {
	t.Helper()
	ledger := escrowtest.New(solana.PublicKey{})
	cfg := orchestrator.Config{
		Logger: demotesting.NewLogger(),
		RPC:    ledger,
		Clock:  clockwork.NewFakeClock(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	orch, err := orchestrator.New(cfg)
	require.NoError(t, err)

	return &fixture{
		ledger: ledger,
		orch:   orch,
		mintA:  ledger.CreateMint(6, token.Token2022ProgramID),
		mintB:  ledger.CreateMint(6, token.Token2022ProgramID),
		maker:  solana.NewWallet().PrivateKey,
		taker:  solana.NewWallet().PrivateKey,
	}
}

func (f *fixture) balance(t *testing.T, owner, mint solana.PublicKey) uint64 {
	t.Helper()
	amount, err := f.orch.TokenBalance(t.Context(), owner, mint)
	require.NoError(t, err)
	return amount
}

func (f *fixture) make(t *testing.T, offerID, offered, wanted uint64) *orchestrator.MakeResult {
	t.Helper()
	res, err := f.orch.Make(t.Context(), orchestrator.MakeParams{
		Maker:         f.maker,
		OfferID:       offerID,
		MintA:         f.mintA,
		MintB:         f.mintB,
		AmountOffered: offered,
		AmountWanted:  wanted,
	})
	require.NoError(t, err)
	return res
}

func TestOrchestrator_Config_Validate(t *testing.T) {
	t.Parallel()

	_, err := orchestrator.New(orchestrator.Config{})
	require.Error(t, err)

	_, err = orchestrator.New(orchestrator.Config{
		Logger:       demotesting.NewLogger(),
		RPC:          escrowtest.New(solana.PublicKey{}),
		TokenProgram: solana.NewWallet().PublicKey(),
	})
	require.ErrorIs(t, err, token.ErrUnknownTokenProgram)

	orch, err := orchestrator.New(orchestrator.Config{
		Logger: demotesting.NewLogger(),
		RPC:    escrowtest.New(solana.PublicKey{}),
	})
	require.NoError(t, err)
	assert.Equal(t, escrow.ProgramID, orch.ProgramID())
	assert.Equal(t, token.Token2022ProgramID, orch.TokenProgram())
}

func TestOrchestrator_Make_VerifiesVaultAndOffer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ledger.Fund(f.maker.PublicKey(), f.mintA, 10)

	res := f.make(t, 42, 1, 1)

	wantOffer, _, err := escrow.OfferAddress(escrow.ProgramID, f.maker.PublicKey(), 42)
	require.NoError(t, err)
	assert.Equal(t, wantOffer, res.Offer)
	assert.Equal(t, uint64(42), res.OfferID)
	assert.Equal(t, uint64(1), res.VaultBalance)
	assert.False(t, res.State.IsCancelled)
	assert.Equal(t, f.maker.PublicKey(), res.State.Maker)
	assert.Equal(t, f.mintA, res.State.TokenMintA)
	assert.Equal(t, f.mintB, res.State.TokenMintB)
	assert.Equal(t, uint64(1), res.State.TokenBWantedAmount)

	state, err := f.orch.FetchOffer(t.Context(), res.Offer)
	require.NoError(t, err)
	assert.False(t, state.IsCancelled)

	vault, err := f.orch.VaultBalance(t.Context(), res.Offer, f.mintA)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), vault)
	assert.Equal(t, uint64(9), f.balance(t, f.maker.PublicKey(), f.mintA))
}

func TestOrchestrator_Make_RandomOfferID(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ledger.Fund(f.maker.PublicKey(), f.mintA, 10)

	res, err := f.orch.Make(t.Context(), orchestrator.MakeParams{
		Maker: f.maker, RandomOfferID: true, MintA: f.mintA, MintB: f.mintB, AmountOffered: 5, AmountWanted: 5,
	})
	require.NoError(t, err)
	require.NotZero(t, res.OfferID)

	want, _, err := escrow.OfferAddress(escrow.ProgramID, f.maker.PublicKey(), res.OfferID)
	require.NoError(t, err)
	assert.Equal(t, want, res.Offer)

	_, err = f.orch.Make(t.Context(), orchestrator.MakeParams{
		Maker: f.maker, OfferID: 3, RandomOfferID: true, MintA: f.mintA, MintB: f.mintB, AmountOffered: 1, AmountWanted: 1,
	})
	require.ErrorContains(t, err, "random offer id")
	assert.Equal(t, 1, f.ledger.Submitted())
}

func TestOrchestrator_Make_ZeroOfferID(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ledger.Fund(f.maker.PublicKey(), f.mintA, 10)

	res := f.make(t, 0, 4, 1)
	assert.Zero(t, res.OfferID)

	want, _, err := escrow.OfferAddress(escrow.ProgramID, f.maker.PublicKey(), 0)
	require.NoError(t, err)
	assert.Equal(t, want, res.Offer)
	assert.True(t, f.ledger.Exists(want))

	cancelled, err := f.orch.Cancel(t.Context(), orchestrator.CancelParams{Maker: f.maker, OfferID: 0})
	require.NoError(t, err)
	assert.Equal(t, want, cancelled.Offer)
	assert.Equal(t, uint64(4), cancelled.Refunded)
}

func TestOrchestrator_Make_OfferIDCollision(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ledger.Fund(f.maker.PublicKey(), f.mintA, 10)

	f.make(t, 7, 1, 1)
	_, err := f.orch.Make(t.Context(), orchestrator.MakeParams{
		Maker: f.maker, OfferID: 7, MintA: f.mintA, MintB: f.mintB, AmountOffered: 1, AmountWanted: 1,
	})
	require.ErrorIs(t, err, anchor.ErrAccountAlreadyInUse)
	assert.Equal(t, uint64(9), f.balance(t, f.maker.PublicKey(), f.mintA))
}

func TestOrchestrator_Make_InsufficientFunds(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ledger.Fund(f.maker.PublicKey(), f.mintA, 10)

	_, err := f.orch.Make(t.Context(), orchestrator.MakeParams{
		Maker: f.maker, OfferID: 1, MintA: f.mintA, MintB: f.mintB, AmountOffered: 11, AmountWanted: 1,
	})
	require.ErrorIs(t, err, token.ErrInsufficientFunds)

	offer, _, err := escrow.OfferAddress(escrow.ProgramID, f.maker.PublicKey(), 1)
	require.NoError(t, err)
	assert.False(t, f.ledger.Exists(offer), "failed make must not leave an offer")
	assert.Equal(t, uint64(10), f.balance(t, f.maker.PublicKey(), f.mintA))
}

func TestOrchestrator_Take_ExactlyOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ledger.Fund(f.maker.PublicKey(), f.mintA, 10)
	f.ledger.Fund(f.taker.PublicKey(), f.mintB, 10)

	made := f.make(t, 1, 4, 3)

	res, err := f.orch.Take(t.Context(), orchestrator.TakeParams{Taker: f.taker, Offer: made.Offer})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), res.Received)
	assert.Equal(t, uint64(3), res.Paid)
	assert.Equal(t, f.maker.PublicKey(), res.Maker)
	assert.Equal(t, uint64(1), res.OfferID)

	assert.False(t, f.ledger.Exists(made.Vault))
	assert.False(t, f.ledger.Exists(made.Offer))
	assert.Equal(t, uint64(4), f.balance(t, f.taker.PublicKey(), f.mintA))
	assert.Equal(t, uint64(7), f.balance(t, f.taker.PublicKey(), f.mintB))
	assert.Equal(t, uint64(3), f.balance(t, f.maker.PublicKey(), f.mintB))

	_, err = f.orch.Take(t.Context(), orchestrator.TakeParams{Taker: f.taker, Offer: made.Offer})
	require.ErrorIs(t, err, orchestrator.ErrOfferNotFound)
	require.ErrorIs(t, err, escrow.ErrOfferClosed)
	assert.True(t, escrow.IsOfferResolved(err), "unexpected error: %v", err)
	assert.Equal(t, uint64(7), f.balance(t, f.taker.PublicKey(), f.mintB))
}

func TestOrchestrator_Cancel_AfterTake(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ledger.Fund(f.maker.PublicKey(), f.mintA, 10)
	f.ledger.Fund(f.taker.PublicKey(), f.mintB, 10)

	made := f.make(t, 3, 4, 3)
	_, err := f.orch.Take(t.Context(), orchestrator.TakeParams{Taker: f.taker, Offer: made.Offer})
	require.NoError(t, err)
	submitted := f.ledger.Submitted()

	for name, p := range map[string]orchestrator.CancelParams{
		"by offer id":      {Maker: f.maker, OfferID: 3},
		"by offer address": {Maker: f.maker, Offer: made.Offer},
	} {
		_, err := f.orch.Cancel(t.Context(), p)
		require.ErrorIs(t, err, escrow.ErrOfferClosed, name)
		assert.True(t, escrow.IsOfferResolved(err), "%s: unexpected error: %v", name, err)
	}
	assert.Equal(t, submitted, f.ledger.Submitted(), "nothing is sent for a closed offer")
	assert.Equal(t, uint64(6), f.balance(t, f.maker.PublicKey(), f.mintA))
}

func TestOrchestrator_Take_InsufficientFunds(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ledger.Fund(f.maker.PublicKey(), f.mintA, 10)
	f.ledger.Fund(f.taker.PublicKey(), f.mintB, 2)

	made := f.make(t, 1, 4, 3)

	_, err := f.orch.Take(t.Context(), orchestrator.TakeParams{Taker: f.taker, Offer: made.Offer})
	require.ErrorIs(t, err, token.ErrInsufficientFunds)

	vault, ok := f.ledger.Balance(made.Vault)
	require.True(t, ok)
	assert.Equal(t, uint64(4), vault)
}

func TestOrchestrator_Take_CancelledOffer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ledger.Fund(f.maker.PublicKey(), f.mintA, 10)
	f.ledger.Fund(f.taker.PublicKey(), f.mintB, 10)

	made := f.make(t, 1, 4, 3)
	_, err := f.orch.Cancel(t.Context(), orchestrator.CancelParams{Maker: f.maker, OfferID: 1})
	require.NoError(t, err)

	_, err = f.orch.Take(t.Context(), orchestrator.TakeParams{Taker: f.taker, Offer: made.Offer})
	require.Error(t, err)
	assert.True(t, escrow.IsOfferResolved(err), "unexpected error: %v", err)
	assert.Equal(t, uint64(10), f.balance(t, f.taker.PublicKey(), f.mintB))
}

func TestOrchestrator_Cancel_Twice(t *testing.T) {
	t.Parallel()

	for _, skipPreflight := range []bool{false, true} {
		t.Run(map[bool]string{false: "preflight", true: "skip preflight"}[skipPreflight], func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, func(cfg *orchestrator.Config) { cfg.SkipPreflight = skipPreflight })
			f.ledger.Fund(f.maker.PublicKey(), f.mintA, 10)

			made := f.make(t, 99, 6, 1)
			assert.Equal(t, uint64(4), f.balance(t, f.maker.PublicKey(), f.mintA))

			res, err := f.orch.Cancel(t.Context(), orchestrator.CancelParams{Maker: f.maker, OfferID: 99})
			require.NoError(t, err)
			assert.Equal(t, made.Offer, res.Offer)
			assert.Equal(t, uint64(6), res.Refunded)
			assert.True(t, res.State.IsCancelled)
			assert.False(t, f.ledger.Exists(made.Vault))
			assert.True(t, f.ledger.Exists(made.Offer), "cancelled offer stays on chain")
			assert.Equal(t, uint64(10), f.balance(t, f.maker.PublicKey(), f.mintA))

			_, err = f.orch.Cancel(t.Context(), orchestrator.CancelParams{Maker: f.maker, OfferID: 99})
			require.Error(t, err)
			assert.True(t, escrow.IsOfferResolved(err), "unexpected error: %v", err)
			require.ErrorIs(t, err, anchor.ErrAccountNotInitialized)
			assert.Equal(t, uint64(10), f.balance(t, f.maker.PublicKey(), f.mintA))
		})
	}
}

func TestOrchestrator_Cancel_NonMaker(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ledger.Fund(f.maker.PublicKey(), f.mintA, 10)
	f.ledger.Fund(f.taker.PublicKey(), f.mintA, 0)

	made := f.make(t, 5, 6, 1)

	_, err := f.orch.Cancel(t.Context(), orchestrator.CancelParams{Maker: f.taker, Offer: made.Offer})
	require.ErrorIs(t, err, escrow.ErrNotMaker)

	var pe *anchor.ProgramError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, escrow.ProgramID, pe.ProgramID)
	assert.Equal(t, "offer", pe.Account)
	assert.NotEmpty(t, pe.Logs)

	state, err := f.orch.FetchOffer(t.Context(), made.Offer)
	require.NoError(t, err)
	assert.False(t, state.IsCancelled)
	vault, ok := f.ledger.Balance(made.Vault)
	require.True(t, ok)
	assert.Equal(t, uint64(6), vault)
}

func TestOrchestrator_Cancel_NonMaker_CancelledOffer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ledger.Fund(f.maker.PublicKey(), f.mintA, 10)
	f.ledger.Fund(f.taker.PublicKey(), f.mintA, 0)

	made := f.make(t, 5, 6, 1)
	_, err := f.orch.Cancel(t.Context(), orchestrator.CancelParams{Maker: f.maker, OfferID: 5})
	require.NoError(t, err)

	_, err = f.orch.Cancel(t.Context(), orchestrator.CancelParams{Maker: f.taker, Offer: made.Offer})
	require.ErrorIs(t, err, escrow.ErrNotMaker)

	state, err := f.orch.FetchOffer(t.Context(), made.Offer)
	require.NoError(t, err)
	assert.True(t, state.IsCancelled)
	assert.Equal(t, uint64(10), f.balance(t, f.maker.PublicKey(), f.mintA))
	assert.Zero(t, f.balance(t, f.taker.PublicKey(), f.mintA))
}

func TestOrchestrator_Cancel_WrongMint(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ledger.Fund(f.maker.PublicKey(), f.mintA, 10)
	f.ledger.Fund(f.maker.PublicKey(), f.mintB, 0)

	made := f.make(t, 5, 6, 1)

	_, err := f.orch.Cancel(t.Context(), orchestrator.CancelParams{Maker: f.maker, Offer: made.Offer, OfferID: 5, MintA: f.mintB})
	require.ErrorIs(t, err, escrow.ErrWrongTokenMint)
}

func TestOrchestrator_Cancel_UnknownOffer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.orch.Cancel(t.Context(), orchestrator.CancelParams{Maker: f.maker, Offer: solana.NewWallet().PublicKey()})
	require.ErrorIs(t, err, orchestrator.ErrOfferNotFound)
	assert.Zero(t, f.ledger.Submitted())
}

func TestOrchestrator_MillionForMillion(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	const amount = 1_000_000
	f.ledger.Fund(f.maker.PublicKey(), f.mintA, amount)
	f.ledger.Fund(f.taker.PublicKey(), f.mintB, amount)

	made := f.make(t, 0, amount, amount)
	assert.Equal(t, uint64(amount), made.VaultBalance)
	assert.Equal(t, uint64(0), f.balance(t, f.maker.PublicKey(), f.mintA))

	_, err := f.orch.Take(t.Context(), orchestrator.TakeParams{Taker: f.taker, Offer: made.Offer})
	require.NoError(t, err)

	assert.Equal(t, uint64(amount), f.balance(t, f.taker.PublicKey(), f.mintA))
	assert.Equal(t, uint64(0), f.balance(t, f.taker.PublicKey(), f.mintB))
	assert.Equal(t, uint64(amount), f.balance(t, f.maker.PublicKey(), f.mintB))
	assert.Equal(t, uint64(0), f.balance(t, f.maker.PublicKey(), f.mintA))
	assert.False(t, f.ledger.Exists(made.Vault), "no residual vault")
}

func TestOrchestrator_DistinctOfferIDs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ledger.Fund(f.maker.PublicKey(), f.mintA, 10)
	f.ledger.Fund(f.taker.PublicKey(), f.mintB, 10)

	first := f.make(t, 1, 2, 2)
	second := f.make(t, 2, 3, 3)
	require.NotEqual(t, first.Offer, second.Offer)
	require.NotEqual(t, first.Vault, second.Vault)

	_, err := f.orch.Cancel(t.Context(), orchestrator.CancelParams{Maker: f.maker, OfferID: 1})
	require.NoError(t, err)

	vault, ok := f.ledger.Balance(second.Vault)
	require.True(t, ok)
	assert.Equal(t, uint64(3), vault, "cancelling one offer leaves the other intact")

	_, err = f.orch.Take(t.Context(), orchestrator.TakeParams{Taker: f.taker, Offer: second.Offer})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), f.balance(t, f.taker.PublicKey(), f.mintA))
	assert.Equal(t, uint64(7), f.balance(t, f.maker.PublicKey(), f.mintA))
}

func TestOrchestrator_Journal(t *testing.T) {
	t.Parallel()

	var (
		made      []journal.Entry
		taken     []solana.PublicKey
		cancelled []solana.PublicKey
	)
	j := &mockJournal{
		RecordMadeFunc: func(_ context.Context, e journal.Entry) (journal.Entry, error) {
			made = append(made, e)
			return e, nil
		},
		RecordTakenFunc: func(_ context.Context, offer, _ solana.PublicKey, _ solana.Signature) error {
			taken = append(taken, offer)
			return nil
		},
		RecordCancelledFunc: func(_ context.Context, offer solana.PublicKey, _ solana.Signature) error {
			cancelled = append(cancelled, offer)
			return errors.New("journal unavailable")
		},
	}
	f := newFixture(t, func(cfg *orchestrator.Config) { cfg.Journal = j })
	f.ledger.Fund(f.maker.PublicKey(), f.mintA, 10)
	f.ledger.Fund(f.taker.PublicKey(), f.mintB, 10)

	first := f.make(t, 1, 2, 2)
	second := f.make(t, 2, 3, 3)
	require.Len(t, made, 2)
	assert.Equal(t, first.Offer, made[0].Offer)
	assert.Equal(t, first.Vault, made[0].Vault)
	assert.Equal(t, uint64(2), made[0].AmountOffered)
	assert.Equal(t, first.Signature, made[0].MakeSignature)
	assert.Equal(t, token.Token2022ProgramID, made[0].TokenProgram)

	_, err := f.orch.Take(t.Context(), orchestrator.TakeParams{Taker: f.taker, Offer: first.Offer})
	require.NoError(t, err)
	assert.Equal(t, []solana.PublicKey{first.Offer}, taken)

	// A journal failure does not fail a confirmed cancel.
	_, err = f.orch.Cancel(t.Context(), orchestrator.CancelParams{Maker: f.maker, OfferID: 2})
	require.NoError(t, err)
	assert.Equal(t, []solana.PublicKey{second.Offer}, cancelled)
}
