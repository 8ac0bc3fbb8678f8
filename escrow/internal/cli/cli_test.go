package cli_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KamisAyaka/solana-demos/escrow/internal/cli"
	"github.com/KamisAyaka/solana-demos/escrow/pkg/journal"
	"github.com/KamisAyaka/solana-demos/escrow/pkg/orchestrator"
	"github.com/KamisAyaka/solana-demos/sdk/escrow"
	"github.com/KamisAyaka/solana-demos/sdk/escrow/escrowtest"
	"github.com/KamisAyaka/solana-demos/sdk/token"
	demotesting "github.com/KamisAyaka/solana-demos/utils/pkg/testing"
)

type mockJournal struct {
	GetFunc  func(ctx context.Context, offer solana.PublicKey) (*journal.Entry, error)
	ListFunc func(ctx context.Context, filter journal.ListFilter) ([]journal.Entry, error)
}

func (m *mockJournal) Get(ctx context.Context, offer solana.PublicKey) (*journal.Entry, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, offer)
	}
	return nil, journal.ErrNotFound
}

func (m *mockJournal) List(ctx context.Context, filter journal.ListFilter) ([]journal.Entry, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	return nil, nil
}

type fixture struct {
	ledger *escrowtest.Ledger
	cli    *cli.CLI
	out    *bytes.Buffer
	mintA  solana.PublicKey
	mintB  solana.PublicKey
	maker  solana.PrivateKey
	taker  solana.PrivateKey
}

func newFixture(t *testing.T, j cli.Journal) *fixture {
	t.Helper()
	ledger := escrowtest.New(solana.PublicKey{})
	orch, err := orchestrator.New(orchestrator.Config{
		Logger: demotesting.NewLogger(),
		RPC:    ledger,
		Clock:  clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	f := &fixture{
		ledger: ledger,
		out:    &bytes.Buffer{},
		mintA:  ledger.CreateMint(6, token.Token2022ProgramID),
		mintB:  ledger.CreateMint(6, token.Token2022ProgramID),
		maker:  solana.NewWallet().PrivateKey,
		taker:  solana.NewWallet().PrivateKey,
	}
	keys := map[string]solana.PrivateKey{"maker.json": f.maker, "taker.json": f.taker}

	f.cli, err = cli.New(cli.Config{
		Logger:       demotesting.NewLogger(),
		Orchestrator: orch,
		Out:          f.out,
		Journal:      j,
		LoadKey: func(path string) (solana.PrivateKey, error) {
			k, ok := keys[path]
			if !ok {
				return nil, fmt.Errorf("no such file %s", path)
			}
			return k, nil
		},
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	f.out.Reset()
	err := f.cli.Run(context.Background(), args)
	return f.out.String(), err
}

func (f *fixture) makeOffer(t *testing.T, offerID uint64) solana.PublicKey {
	t.Helper()
	f.ledger.Fund(f.maker.PublicKey(), f.mintA, 1_000)
	_, err := f.run(t, "make",
		"--keypair", "maker.json",
		"--mint-a", f.mintA.String(),
		"--mint-b", f.mintB.String(),
		"--offered", "400",
		"--wanted", "900",
		"--offer-id", fmt.Sprint(offerID),
	)
	require.NoError(t, err)
	offer, _, err := escrow.OfferAddress(escrow.ProgramID, f.maker.PublicKey(), offerID)
	require.NoError(t, err)
	return offer
}

func TestCLI_Config_Validate(t *testing.T) {
	t.Parallel()

	cfg := cli.Config{}
	require.Error(t, cfg.Validate())
}

func TestCLI_UnknownCommand(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	_, err := f.run(t)
	require.ErrorIs(t, err, cli.ErrUnknownCommand)
	_, err = f.run(t, "swap")
	require.ErrorIs(t, err, cli.ErrUnknownCommand)
}

func TestCLI_Make_Show(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	offer := f.makeOffer(t, 7)

	out, err := f.run(t, "show", "--offer", offer.String())
	require.NoError(t, err)
	assert.Contains(t, out, "offer id:  7")
	assert.Contains(t, out, "vault:     400")
	assert.Contains(t, out, "wanted:    900")
	assert.Contains(t, out, "cancelled: false")
}

func TestCLI_Make_OfferID(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	zero := f.makeOffer(t, 0)
	assert.True(t, f.ledger.Exists(zero), "offer id 0 is a valid seed")

	out, err := f.run(t, "make",
		"--keypair", "maker.json",
		"--mint-a", f.mintA.String(),
		"--mint-b", f.mintB.String(),
		"--offered", "1",
		"--wanted", "1",
	)
	require.NoError(t, err)
	assert.NotContains(t, out, "offer id:  0\n")
	assert.NotContains(t, out, zero.String())
	assert.Equal(t, 2, f.ledger.Submitted())

	out, err = f.run(t, "cancel", "--keypair", "maker.json", "--offer-id", "0")
	require.NoError(t, err)
	assert.Contains(t, out, zero.String())
}

func TestCLI_Make_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	_, err := f.run(t, "make", "--mint-a", f.mintA.String(), "--mint-b", f.mintB.String(), "--offered", "1", "--wanted", "1")
	require.ErrorContains(t, err, "--keypair is required")

	_, err = f.run(t, "make", "--keypair", "missing.json")
	require.ErrorContains(t, err, "failed to load keypair")

	_, err = f.run(t, "make", "--keypair", "maker.json", "--mint-a", "not-a-key", "--mint-b", f.mintB.String())
	require.ErrorContains(t, err, "invalid --mint-a")

	_, err = f.run(t, "make", "--keypair", "maker.json", "--mint-a", f.mintA.String(), "--mint-b", f.mintB.String(), "--offered", "0", "--wanted", "5")
	require.ErrorContains(t, err, "must be positive")

	_, err = f.run(t, "make", "--no-such-flag")
	require.Error(t, err)
	assert.Zero(t, f.ledger.Submitted())
}

func TestCLI_Take(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	offer := f.makeOffer(t, 1)
	f.ledger.Fund(f.taker.PublicKey(), f.mintB, 900)

	out, err := f.run(t, "take", "--keypair", "taker.json", "--offer", offer.String())
	require.NoError(t, err)
	assert.Contains(t, out, "received:  400")
	assert.Contains(t, out, "paid:      900")

	out, err = f.run(t, "show", "--offer", offer.String())
	require.NoError(t, err)
	assert.Contains(t, out, "on chain:  closed")
}

func TestCLI_Cancel_ByOfferIDAndAddress(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	first := f.makeOffer(t, 11)
	second := f.makeOffer(t, 12)

	out, err := f.run(t, "cancel", "--keypair", "maker.json", "--offer-id", "11")
	require.NoError(t, err)
	assert.Contains(t, out, first.String())
	assert.Contains(t, out, "refunded:  400")

	out, err = f.run(t, "cancel", "--keypair", "maker.json", "--offer", second.String())
	require.NoError(t, err)
	assert.Contains(t, out, "refunded:  400")

	_, err = f.run(t, "cancel", "--keypair", "maker.json", "--offer-id", "11")
	require.Error(t, err)
	assert.True(t, escrow.IsOfferResolved(err))

	_, err = f.run(t, "cancel", "--keypair", "maker.json")
	require.ErrorContains(t, err, "one of --offer or --offer-id is required")
}

func TestCLI_Show_WithJournal(t *testing.T) {
	t.Parallel()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, &mockJournal{
		GetFunc: func(_ context.Context, offer solana.PublicKey) (*journal.Entry, error) {
			return &journal.Entry{Offer: offer, Status: journal.StatusOpen, CreatedAt: created}, nil
		},
	})
	offer := f.makeOffer(t, 3)

	out, err := f.run(t, "show", "--offer", offer.String())
	require.NoError(t, err)
	assert.Contains(t, out, "journal:   open since 2026-03-01T10:00:00Z")
}

func TestCLI_Show_JournalErrorIsNotFatal(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mockJournal{
		GetFunc: func(context.Context, solana.PublicKey) (*journal.Entry, error) {
			return nil, errors.New("connection refused")
		},
	})
	offer := f.makeOffer(t, 4)

	out, err := f.run(t, "show", "--offer", offer.String())
	require.NoError(t, err)
	assert.Contains(t, out, "vault:     400")
	assert.NotContains(t, out, "journal:")
}

func TestCLI_List(t *testing.T) {
	t.Parallel()

	t.Run("requires journal", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		_, err := f.run(t, "list")
		require.ErrorIs(t, err, cli.ErrNoJournal)
	})

	t.Run("passes filter and prints table", func(t *testing.T) {
		t.Parallel()
		maker := solana.NewWallet().PublicKey()
		offer := solana.NewWallet().PublicKey()
		var got journal.ListFilter
		f := newFixture(t, &mockJournal{
			ListFunc: func(_ context.Context, filter journal.ListFilter) ([]journal.Entry, error) {
				got = filter
				return []journal.Entry{{
					Offer:         offer,
					OfferID:       42,
					Maker:         maker,
					AmountOffered: 1_000_000,
					AmountWanted:  2_000_000,
					Status:        journal.StatusTaken,
					CreatedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
				}}, nil
			},
		})

		out, err := f.run(t, "list", "--maker", maker.String(), "--status", "taken", "--limit", "5")
		require.NoError(t, err)
		assert.Equal(t, journal.ListFilter{Maker: maker, Status: journal.StatusTaken, Limit: 5}, got)

		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 2)
		assert.True(t, strings.HasPrefix(lines[0], "OFFER"))
		assert.Contains(t, lines[1], offer.String())
		assert.Contains(t, lines[1], "1000000")
		assert.Contains(t, lines[1], "taken")
	})

	t.Run("invalid maker", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, &mockJournal{})
		_, err := f.run(t, "list", "--maker", "xyz0")
		require.ErrorContains(t, err, "invalid --maker")
	})
}
