package journal_test

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KamisAyaka/solana-demos/escrow/pkg/journal"
	"github.com/KamisAyaka/solana-demos/sdk/escrow"
	"github.com/KamisAyaka/solana-demos/sdk/token"
	demotesting "github.com/KamisAyaka/solana-demos/utils/pkg/testing"
)

func newTestJournal(t *testing.T) (*journal.Journal, *clockwork.FakeClock) {
	t.Helper()
	log := demotesting.NewLogger()

	connStr := demotesting.NewTestDatabase(t, testDB)
	require.NoError(t, journal.MigrateUp(log, connStr))

	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	j, err := journal.New(journal.Config{
		Logger: log,
		Pool:   demotesting.NewTestPool(t, connStr),
		Clock:  clock,
	})
	require.NoError(t, err)
	return j, clock
}

func newEntry(t *testing.T, maker solana.PublicKey, offerID uint64) journal.Entry {
	t.Helper()
	mintA := solana.NewWallet().PublicKey()
	addrs, err := escrow.DeriveAddresses(escrow.ProgramID, token.Token2022ProgramID, maker, mintA, offerID)
	require.NoError(t, err)
	return journal.Entry{
		ProgramID:     escrow.ProgramID,
		Offer:         addrs.Offer,
		Vault:         addrs.Vault,
		OfferID:       offerID,
		Maker:         maker,
		MintA:         mintA,
		MintB:         solana.NewWallet().PublicKey(),
		TokenProgram:  token.Token2022ProgramID,
		AmountOffered: 1_000_000,
		AmountWanted:  ^uint64(0),
		MakeSignature: solana.Signature{1, 2, 3},
	}
}

func TestJournal_New_Validate(t *testing.T) {
	t.Parallel()

	_, err := journal.New(journal.Config{})
	require.Error(t, err)

	_, err = journal.New(journal.Config{Logger: demotesting.NewLogger()})
	require.ErrorContains(t, err, "pool is required")
}

func TestJournal_RecordMade_Get(t *testing.T) {
	t.Parallel()
	j, clock := newTestJournal(t)
	ctx := t.Context()

	maker := solana.NewWallet().PublicKey()
	in := newEntry(t, maker, 0xfedcba9876543210)

	made, err := j.RecordMade(ctx, in)
	require.NoError(t, err)
	assert.NotZero(t, made.ID)
	assert.Equal(t, journal.StatusOpen, made.Status)
	assert.Equal(t, clock.Now().UTC(), made.CreatedAt)

	got, err := j.Get(ctx, in.Offer)
	require.NoError(t, err)
	assert.Equal(t, made.ID, got.ID)
	assert.Equal(t, in.Offer, got.Offer)
	assert.Equal(t, in.Vault, got.Vault)
	assert.Equal(t, uint64(0xfedcba9876543210), got.OfferID)
	assert.Equal(t, maker, got.Maker)
	assert.Equal(t, in.MintA, got.MintA)
	assert.Equal(t, in.MintB, got.MintB)
	assert.Equal(t, token.Token2022ProgramID, got.TokenProgram)
	assert.Equal(t, uint64(1_000_000), got.AmountOffered)
	assert.Equal(t, ^uint64(0), got.AmountWanted)
	assert.Equal(t, in.MakeSignature, got.MakeSignature)
	assert.True(t, got.Taker.IsZero())
	assert.True(t, got.ResolvedAt.IsZero())
}

func TestJournal_Get_NotFound(t *testing.T) {
	t.Parallel()
	j, _ := newTestJournal(t)

	_, err := j.Get(t.Context(), solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, journal.ErrNotFound)
}

func TestJournal_RecordTaken(t *testing.T) {
	t.Parallel()
	j, clock := newTestJournal(t)
	ctx := t.Context()

	in := newEntry(t, solana.NewWallet().PublicKey(), 7)
	_, err := j.RecordMade(ctx, in)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	taker := solana.NewWallet().PublicKey()
	sig := solana.Signature{9, 9, 9}
	require.NoError(t, j.RecordTaken(ctx, in.Offer, taker, sig))

	got, err := j.Get(ctx, in.Offer)
	require.NoError(t, err)
	assert.Equal(t, journal.StatusTaken, got.Status)
	assert.Equal(t, taker, got.Taker)
	assert.Equal(t, sig, got.ResolveSignature)
	assert.Equal(t, clock.Now().UTC(), got.ResolvedAt)

	// An offer is resolved at most once.
	err = j.RecordTaken(ctx, in.Offer, taker, sig)
	require.ErrorIs(t, err, journal.ErrNotFound)
	err = j.RecordCancelled(ctx, in.Offer, sig)
	require.ErrorIs(t, err, journal.ErrNotFound)
}

func TestJournal_RecordCancelled(t *testing.T) {
	t.Parallel()
	j, _ := newTestJournal(t)
	ctx := t.Context()

	in := newEntry(t, solana.NewWallet().PublicKey(), 8)
	_, err := j.RecordMade(ctx, in)
	require.NoError(t, err)

	require.NoError(t, j.RecordCancelled(ctx, in.Offer, solana.Signature{4}))

	got, err := j.Get(ctx, in.Offer)
	require.NoError(t, err)
	assert.Equal(t, journal.StatusCancelled, got.Status)
	assert.True(t, got.Taker.IsZero())
	assert.False(t, got.ResolvedAt.IsZero())
}

func TestJournal_RecordMade_DuplicateOpenOffer(t *testing.T) {
	t.Parallel()
	j, _ := newTestJournal(t)
	ctx := t.Context()

	in := newEntry(t, solana.NewWallet().PublicKey(), 11)
	_, err := j.RecordMade(ctx, in)
	require.NoError(t, err)

	_, err = j.RecordMade(ctx, in)
	require.Error(t, err)
}

func TestJournal_List(t *testing.T) {
	t.Parallel()
	j, clock := newTestJournal(t)
	ctx := t.Context()

	alice := solana.NewWallet().PublicKey()
	bob := solana.NewWallet().PublicKey()

	var aliceOffers []journal.Entry
	for i := range 3 {
		e, err := j.RecordMade(ctx, newEntry(t, alice, uint64(100+i)))
		require.NoError(t, err)
		aliceOffers = append(aliceOffers, e)
		clock.Advance(time.Second)
	}
	_, err := j.RecordMade(ctx, newEntry(t, bob, 200))
	require.NoError(t, err)
	require.NoError(t, j.RecordCancelled(ctx, aliceOffers[0].Offer, solana.Signature{1}))

	t.Run("all", func(t *testing.T) {
		entries, err := j.List(ctx, journal.ListFilter{})
		require.NoError(t, err)
		require.Len(t, entries, 4)
		assert.Equal(t, bob, entries[0].Maker, "newest first")
	})

	t.Run("by maker", func(t *testing.T) {
		entries, err := j.List(ctx, journal.ListFilter{Maker: alice})
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, aliceOffers[2].Offer, entries[0].Offer)
	})

	t.Run("by maker and status", func(t *testing.T) {
		entries, err := j.List(ctx, journal.ListFilter{Maker: alice, Status: journal.StatusOpen})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		for _, e := range entries {
			assert.NotEqual(t, aliceOffers[0].Offer, e.Offer)
		}
	})

	t.Run("limit", func(t *testing.T) {
		entries, err := j.List(ctx, journal.ListFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, entries, 1)
	})

	t.Run("invalid status", func(t *testing.T) {
		_, err := j.List(ctx, journal.ListFilter{Status: "pending"})
		require.Error(t, err)
	})
}
