package voting_test

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KamisAyaka/solana-demos/sdk/token"
	"github.com/KamisAyaka/solana-demos/sdk/voting"
)

func TestVoting_PollAddress_Seeds(t *testing.T) {
	t.Parallel()

	addr, bump, err := voting.PollAddress(voting.ProgramID, 1)
	require.NoError(t, err)

	seed := make([]byte, 8)
	binary.LittleEndian.PutUint64(seed, 1)
	want, wantBump, err := solana.FindProgramAddress([][]byte{seed}, voting.ProgramID)
	require.NoError(t, err)
	assert.Equal(t, want, addr)
	assert.Equal(t, wantBump, bump)

	other, _, err := voting.PollAddress(voting.ProgramID, 2)
	require.NoError(t, err)
	assert.NotEqual(t, addr, other)
}

func TestVoting_CandidateAddress(t *testing.T) {
	t.Parallel()

	smooth, _, err := voting.CandidateAddress(voting.ProgramID, 1, "Smooth")
	require.NoError(t, err)
	drity, _, err := voting.CandidateAddress(voting.ProgramID, 1, "Drity")
	require.NoError(t, err)
	assert.NotEqual(t, smooth, drity)

	_, _, err = voting.CandidateAddress(voting.ProgramID, 1, "")
	require.ErrorIs(t, err, voting.ErrEmptyCandidateName)
	_, _, err = voting.CandidateAddress(voting.ProgramID, 1, strings.Repeat("x", voting.MaxCandidateNameLen+1))
	require.ErrorIs(t, err, voting.ErrCandidateNameTooLong)
}

func TestVoting_NewVoteInstruction(t *testing.T) {
	t.Parallel()
	voter := solana.NewWallet().PublicKey()

	ix, err := voting.NewVoteInstruction(voting.ProgramID, voter, 1, "Smooth")
	require.NoError(t, err)
	assert.Equal(t, voting.ProgramID, ix.ProgramID())

	poll, _, err := voting.PollAddress(voting.ProgramID, 1)
	require.NoError(t, err)
	candidate, _, err := voting.CandidateAddress(voting.ProgramID, 1, "Smooth")
	require.NoError(t, err)

	accts := ix.Accounts()
	require.Len(t, accts, 4)
	assert.Equal(t, voter, accts[0].PublicKey)
	assert.True(t, accts[0].IsSigner)
	assert.True(t, accts[0].IsWritable)
	assert.Equal(t, poll, accts[1].PublicKey)
	assert.False(t, accts[1].IsWritable)
	assert.Equal(t, candidate, accts[2].PublicKey)
	assert.True(t, accts[2].IsWritable)
	assert.Equal(t, token.SystemProgramID, accts[3].PublicKey)

	data, err := ix.Data()
	require.NoError(t, err)
	disc := sha256.Sum256([]byte("global:vote"))
	assert.Equal(t, disc[:8], data[:8])
	// u32 length, name bytes, u64 poll id
	assert.Equal(t, []byte{6, 0, 0, 0}, data[8:12])
	assert.Equal(t, "Smooth", string(data[12:18]))
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(data[18:26]))
	assert.Len(t, data, 26)

	name, pollID, err := voting.DecodeVoteArgs(data)
	require.NoError(t, err)
	assert.Equal(t, "Smooth", name)
	assert.Equal(t, uint64(1), pollID)
}

func TestVoting_NewInitializeCandidateInstruction(t *testing.T) {
	t.Parallel()
	authority := solana.NewWallet().PublicKey()

	ix, err := voting.NewInitializeCandidateInstruction(voting.ProgramID, authority, 1, "Drity")
	require.NoError(t, err)
	accts := ix.Accounts()
	require.Len(t, accts, 4)
	assert.True(t, accts[1].IsWritable, "poll is mutable when adding candidates")

	data, err := ix.Data()
	require.NoError(t, err)
	disc := sha256.Sum256([]byte("global:initialize_candidate"))
	assert.Equal(t, disc[:8], data[:8])
}

func TestVoting_NewInitializePollInstruction(t *testing.T) {
	t.Parallel()
	signer := solana.NewWallet().PublicKey()

	ix, err := voting.NewInitializePollInstruction(voting.ProgramID, signer, voting.InitializePollArgs{
		PollID:      1,
		Description: "What is your favorite picture?",
		PollStart:   0,
		PollEnd:     1_900_000_000,
	})
	require.NoError(t, err)
	accts := ix.Accounts()
	require.Len(t, accts, 3)
	assert.Equal(t, signer, accts[0].PublicKey)

	_, err = voting.NewInitializePollInstruction(voting.ProgramID, signer, voting.InitializePollArgs{
		PollID:      1,
		Description: strings.Repeat("a", voting.MaxDescriptionLen+1),
	})
	require.ErrorIs(t, err, voting.ErrDescriptionTooLong)
}

func TestVoting_Accounts_RoundTrip(t *testing.T) {
	t.Parallel()

	poll := &voting.Poll{PollID: 1, Description: "favorite picture", PollStart: 10, PollEnd: 20, CandidateAmount: 2}
	data, err := voting.EncodePoll(poll)
	require.NoError(t, err)
	gotPoll, err := voting.DecodePoll(data)
	require.NoError(t, err)
	assert.Equal(t, poll, gotPoll)

	cand := &voting.Candidate{PollID: 1, CandidateName: "Smooth", CandidateVotes: 3}
	data, err = voting.EncodeCandidate(cand)
	require.NoError(t, err)
	gotCand, err := voting.DecodeCandidate(data)
	require.NoError(t, err)
	assert.Equal(t, cand, gotCand)

	_, err = voting.DecodePoll(data)
	require.Error(t, err, "candidate data must not decode as a poll")
}
