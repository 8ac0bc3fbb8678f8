// Package voting is the Go client for the voting program: poll and candidate
// address derivation, instruction builders and account decoders.
package voting

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/KamisAyaka/solana-demos/sdk/anchor"
	"github.com/KamisAyaka/solana-demos/sdk/token"
)

var ProgramID = solana.MustPublicKeyFromBase58("7qndvv9MS9WWNRZctz3gVVYaaDhv3VsT4QhgAAsaA573")

const (
	MaxDescriptionLen   = 280
	MaxCandidateNameLen = 32
)

var (
	ErrDescriptionTooLong   = fmt.Errorf("poll description exceeds %d bytes", MaxDescriptionLen)
	ErrCandidateNameTooLong = fmt.Errorf("candidate name exceeds %d bytes", MaxCandidateNameLen)
	ErrEmptyCandidateName   = errors.New("candidate name is empty")
)

var (
	initializePollDiscriminator      = anchor.InstructionDiscriminator("initialize_poll")
	initializeCandidateDiscriminator = anchor.InstructionDiscriminator("initialize_candidate")
	voteDiscriminator                = anchor.InstructionDiscriminator("vote")

	pollAccountDiscriminator      = anchor.AccountDiscriminator("Poll")
	candidateAccountDiscriminator = anchor.AccountDiscriminator("Candidate")
)

// PollAddress derives the poll PDA from [pollID as u64 little-endian].
func PollAddress(programID solana.PublicKey, pollID uint64) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress([][]byte{pollSeed(pollID)}, programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive poll address: %w", err)
	}
	return addr, bump, nil
}

// CandidateAddress derives the candidate PDA from [pollID LE, name].
func CandidateAddress(programID solana.PublicKey, pollID uint64, name string) (solana.PublicKey, uint8, error) {
	if err := validateName(name); err != nil {
		return solana.PublicKey{}, 0, err
	}
	addr, bump, err := solana.FindProgramAddress([][]byte{pollSeed(pollID), []byte(name)}, programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive candidate address: %w", err)
	}
	return addr, bump, nil
}

func pollSeed(pollID uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, pollID)
	return b
}

func validateName(name string) error {
	if name == "" {
		return ErrEmptyCandidateName
	}
	if len(name) > MaxCandidateNameLen {
		return ErrCandidateNameTooLong
	}
	return nil
}

type Poll struct {
	PollID          uint64
	Description     string
	PollStart       uint64
	PollEnd         uint64
	CandidateAmount uint64
}

func DecodePoll(data []byte) (*Poll, error) {
	var p Poll
	if err := anchor.DecodeAccount(data, pollAccountDiscriminator, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func EncodePoll(p *Poll) ([]byte, error) {
	return anchor.EncodeAccount(pollAccountDiscriminator, p)
}

type Candidate struct {
	PollID         uint64
	CandidateName  string
	CandidateVotes uint64
}

func DecodeCandidate(data []byte) (*Candidate, error) {
	var c Candidate
	if err := anchor.DecodeAccount(data, candidateAccountDiscriminator, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func EncodeCandidate(c *Candidate) ([]byte, error) {
	return anchor.EncodeAccount(candidateAccountDiscriminator, c)
}

type InitializePollArgs struct {
	PollID      uint64
	Description string
	PollStart   uint64
	PollEnd     uint64
}

// NewInitializePollInstruction creates the poll account paid by signer.
func NewInitializePollInstruction(programID, signer solana.PublicKey, args InitializePollArgs) (solana.Instruction, error) {
	if len(args.Description) > MaxDescriptionLen {
		return nil, ErrDescriptionTooLong
	}
	poll, _, err := PollAddress(programID, args.PollID)
	if err != nil {
		return nil, err
	}
	data, err := anchor.EncodeInstructionData(initializePollDiscriminator, &args)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(signer).WRITE().SIGNER(),
		solana.Meta(poll).WRITE(),
		solana.Meta(token.SystemProgramID),
	}, data), nil
}

type candidateArgs struct {
	CandidateName string
	PollID        uint64
}

// NewInitializeCandidateInstruction registers a candidate on a poll.
func NewInitializeCandidateInstruction(programID, authority solana.PublicKey, pollID uint64, name string) (solana.Instruction, error) {
	poll, candidate, err := pollAndCandidate(programID, pollID, name)
	if err != nil {
		return nil, err
	}
	data, err := anchor.EncodeInstructionData(initializeCandidateDiscriminator, &candidateArgs{CandidateName: name, PollID: pollID})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(authority).WRITE().SIGNER(),
		solana.Meta(poll).WRITE(),
		solana.Meta(candidate).WRITE(),
		solana.Meta(token.SystemProgramID),
	}, data), nil
}

// NewVoteInstruction adds one vote for name. The voter signs and pays.
func NewVoteInstruction(programID, voter solana.PublicKey, pollID uint64, name string) (solana.Instruction, error) {
	poll, candidate, err := pollAndCandidate(programID, pollID, name)
	if err != nil {
		return nil, err
	}
	data, err := anchor.EncodeInstructionData(voteDiscriminator, &candidateArgs{CandidateName: name, PollID: pollID})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(voter).WRITE().SIGNER(),
		solana.Meta(poll),
		solana.Meta(candidate).WRITE(),
		solana.Meta(token.SystemProgramID),
	}, data), nil
}

func pollAndCandidate(programID solana.PublicKey, pollID uint64, name string) (solana.PublicKey, solana.PublicKey, error) {
	poll, _, err := PollAddress(programID, pollID)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	candidate, _, err := CandidateAddress(programID, pollID, name)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	return poll, candidate, nil
}

// DecodeVoteArgs returns the candidate name and poll ID of vote instruction
// data.
func DecodeVoteArgs(data []byte) (string, uint64, error) {
	var args candidateArgs
	if err := anchor.DecodeInstructionData(data, voteDiscriminator, &args); err != nil {
		return "", 0, err
	}
	return args.CandidateName, args.PollID, nil
}
