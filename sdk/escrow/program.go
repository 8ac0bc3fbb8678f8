// Package escrow is the Go client for the token swap escrow program: offer
// and vault address derivation, instruction builders, the Offer account
// layout and the program's error codes.
package escrow

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/KamisAyaka/solana-demos/sdk/anchor"
	"github.com/KamisAyaka/solana-demos/sdk/token"
)

// ProgramID is the address the escrow program is deployed at.
var ProgramID = solana.MustPublicKeyFromBase58("GkAaGQj9ETzMtYsYgdkfJxXUDTZQ7ZEQQcujci4T27y9")

// OfferSeed is the constant prefix of every offer PDA.
const OfferSeed = "offer"

var (
	makeOfferDiscriminator   = anchor.InstructionDiscriminator("make_offer")
	takeOfferDiscriminator   = anchor.InstructionDiscriminator("take_offer")
	cancelOfferDiscriminator = anchor.InstructionDiscriminator("cancel_offer")

	offerAccountDiscriminator = anchor.AccountDiscriminator("Offer")
)

// Errors declared by the program's error enum.
var (
	ErrCustom                = anchor.NewError(anchor.CustomErrorOffset+0, "CustomError", "Custom error message")
	ErrNotMaker              = anchor.NewError(anchor.CustomErrorOffset+1, "NotMaker", "Only the offer maker can cancel the offer")
	ErrOfferAlreadyCancelled = anchor.NewError(anchor.CustomErrorOffset+2, "OfferAlreadyCancelled", "Offer has already been cancelled")
	ErrWrongTokenMint        = anchor.NewError(anchor.CustomErrorOffset+3, "WrongTokenMint", "Token mint does not match the offer")
)

var (
	// ErrOfferClosed means the offer account does not exist. take_offer
	// closes it, so a taken offer looks the same as one never made.
	ErrOfferClosed = errors.New("offer account closed")

	// ErrVerificationFailed means a confirmed instruction left the offer or
	// its vault in a state the instruction cannot produce.
	ErrVerificationFailed = errors.New("offer state verification failed")
)

// IsOfferResolved reports whether err says the offer already reached a
// terminal state: the program refused it as cancelled, the vault the
// instruction needs was already closed, or the offer account itself is gone.
func IsOfferResolved(err error) bool {
	if errors.Is(err, ErrOfferAlreadyCancelled) || errors.Is(err, ErrOfferClosed) {
		return true
	}
	var pe *anchor.ProgramError
	if errors.As(err, &pe) && pe.Is(anchor.ErrAccountNotInitialized) {
		return pe.Account == "" || pe.Account == "vault" || pe.Account == "offer"
	}
	return false
}

// OfferIDBytes is the seed encoding of an offer ID: 8 bytes little-endian.
func OfferIDBytes(offerID uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, offerID)
	return b
}

// NewOfferID returns a random non-zero offer ID.
func NewOfferID() (uint64, error) {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, fmt.Errorf("failed to read random offer id: %w", err)
		}
		if id := binary.LittleEndian.Uint64(b[:]); id != 0 {
			return id, nil
		}
	}
}

// OfferAddress derives the offer PDA from
// ["offer", maker, offerID as u64 little-endian].
func OfferAddress(programID, maker solana.PublicKey, offerID uint64) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress(
		[][]byte{[]byte(OfferSeed), maker[:], OfferIDBytes(offerID)},
		programID,
	)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive offer address: %w", err)
	}
	return addr, bump, nil
}

// VaultAddress derives the vault: the associated token account of the offer
// PDA for mint A.
func VaultAddress(offer, mintA, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	return token.AssociatedTokenAddress(offer, mintA, tokenProgram)
}

// Addresses are the two accounts a make_offer creates.
type Addresses struct {
	Offer solana.PublicKey
	Bump  uint8
	Vault solana.PublicKey
}

// DeriveAddresses derives the offer and vault for (maker, offerID, mintA).
func DeriveAddresses(programID, tokenProgram, maker, mintA solana.PublicKey, offerID uint64) (Addresses, error) {
	offer, bump, err := OfferAddress(programID, maker, offerID)
	if err != nil {
		return Addresses{}, err
	}
	vault, err := VaultAddress(offer, mintA, tokenProgram)
	if err != nil {
		return Addresses{}, err
	}
	return Addresses{Offer: offer, Bump: bump, Vault: vault}, nil
}
