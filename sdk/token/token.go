// Package token covers the parts of the SPL Token and Token-2022 programs the
// escrow and vesting clients touch: program IDs, associated token account
// derivation and the token account layout.
package token

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/KamisAyaka/solana-demos/sdk/anchor"
)

var (
	ProgramID                = solana.TokenProgramID
	Token2022ProgramID       = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
	AssociatedTokenProgramID = solana.SPLAssociatedTokenAccountProgramID
	SystemProgramID          = solana.SystemProgramID
)

// Token program errors that propagate out of escrow and vesting CPIs.
var (
	ErrInsufficientFunds = anchor.NewError(1, "InsufficientFunds", "insufficient funds")
	ErrMintMismatch      = anchor.NewError(3, "MintMismatch", "Account not associated with this Mint")
	ErrOwnerMismatch     = anchor.NewError(4, "OwnerMismatch", "owner does not match")
)

var ErrUnknownTokenProgram = errors.New("unknown token program")

// ValidateProgram returns an error unless id is the legacy token program or
// Token-2022.
func ValidateProgram(id solana.PublicKey) error {
	if id.Equals(ProgramID) || id.Equals(Token2022ProgramID) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownTokenProgram, id)
}

// AssociatedTokenAddress derives the associated token account for owner and
// mint under tokenProgram. Owners may be off-curve (PDAs), which is how
// escrow vaults are addressed.
func AssociatedTokenAddress(owner, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{owner[:], tokenProgram[:], mint[:]},
		AssociatedTokenProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token address: %w", err)
	}
	return addr, nil
}

// MustAssociatedTokenAddress panics if the address cannot be derived.
func MustAssociatedTokenAddress(owner, mint, tokenProgram solana.PublicKey) solana.PublicKey {
	addr, err := AssociatedTokenAddress(owner, mint, tokenProgram)
	if err != nil {
		panic(err)
	}
	return addr
}

// AccountSize is the base layout shared by Token and Token-2022 accounts;
// Token-2022 extensions follow it.
const AccountSize = 165

// AccountState mirrors the token account state byte.
type AccountState uint8

const (
	AccountUninitialized AccountState = iota
	AccountInitialized
	AccountFrozen
)

// Account is the fixed prefix of a token account.
type Account struct {
	Mint   solana.PublicKey
	Owner  solana.PublicKey
	Amount uint64
	State  AccountState
}

var ErrShortTokenAccount = errors.New("token account data too short")

// DecodeAccount reads the mint, owner, amount and state fields of a token
// account.
func DecodeAccount(data []byte) (*Account, error) {
	if len(data) < AccountSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortTokenAccount, len(data))
	}
	acc := &Account{
		Amount: binary.LittleEndian.Uint64(data[64:72]),
		State:  AccountState(data[108]),
	}
	copy(acc.Mint[:], data[0:32])
	copy(acc.Owner[:], data[32:64])
	return acc, nil
}

// EncodeAccount writes the fields DecodeAccount reads into a zeroed
// AccountSize buffer.
func EncodeAccount(acc Account) []byte {
	data := make([]byte, AccountSize)
	copy(data[0:32], acc.Mint[:])
	copy(data[32:64], acc.Owner[:])
	binary.LittleEndian.PutUint64(data[64:72], acc.Amount)
	data[108] = byte(acc.State)
	return data
}
