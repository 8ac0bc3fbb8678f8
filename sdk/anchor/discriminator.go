// Package anchor holds the client-side conventions shared by every Anchor
// program in this repository: discriminators, Borsh payloads and the error
// format programs log when an instruction fails.
package anchor

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// DiscriminatorSize is the length of the prefix Anchor puts in front of
// instruction data and account data.
const DiscriminatorSize = 8

type Discriminator [DiscriminatorSize]byte

var (
	ErrShortAccountData      = errors.New("account data shorter than discriminator")
	ErrDiscriminatorMismatch = errors.New("account discriminator mismatch")
	ErrEmptyInstructionData  = errors.New("instruction data shorter than discriminator")
	ErrInstructionMismatch   = errors.New("instruction discriminator mismatch")
)

// InstructionDiscriminator returns sha256("global:<name>")[:8] where name is
// the snake_case instruction name, e.g. "make_offer".
func InstructionDiscriminator(name string) Discriminator {
	return hashPrefix("global:" + name)
}

// AccountDiscriminator returns sha256("account:<Name>")[:8] where Name is the
// account struct name, e.g. "Offer".
func AccountDiscriminator(name string) Discriminator {
	return hashPrefix("account:" + name)
}

func hashPrefix(preimage string) Discriminator {
	sum := sha256.Sum256([]byte(preimage))
	var d Discriminator
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

// EncodeInstructionData returns the discriminator followed by the Borsh
// encoding of args. A nil args produces the bare discriminator.
func EncodeInstructionData(disc Discriminator, args any) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(disc[:])
	if args == nil {
		return buf.Bytes(), nil
	}
	if err := bin.NewBorshEncoder(buf).Encode(args); err != nil {
		return nil, fmt.Errorf("failed to encode instruction args: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeInstructionData checks the discriminator and decodes the remaining
// bytes into args.
func DecodeInstructionData(data []byte, disc Discriminator, args any) error {
	if len(data) < DiscriminatorSize {
		return ErrEmptyInstructionData
	}
	if !bytes.Equal(data[:DiscriminatorSize], disc[:]) {
		return ErrInstructionMismatch
	}
	if args == nil {
		return nil
	}
	if err := bin.NewBorshDecoder(data[DiscriminatorSize:]).Decode(args); err != nil {
		return fmt.Errorf("failed to decode instruction args: %w", err)
	}
	return nil
}

// HasDiscriminator reports whether data starts with disc.
func HasDiscriminator(data []byte, disc Discriminator) bool {
	return len(data) >= DiscriminatorSize && bytes.Equal(data[:DiscriminatorSize], disc[:])
}

// DecodeAccount checks the account discriminator and Borsh-decodes the rest
// of data into v.
func DecodeAccount(data []byte, disc Discriminator, v any) error {
	if len(data) < DiscriminatorSize {
		return ErrShortAccountData
	}
	if !bytes.Equal(data[:DiscriminatorSize], disc[:]) {
		return ErrDiscriminatorMismatch
	}
	if err := bin.NewBorshDecoder(data[DiscriminatorSize:]).Decode(v); err != nil {
		return fmt.Errorf("failed to decode account: %w", err)
	}
	return nil
}

// EncodeAccount is the inverse of DecodeAccount. Clients never write
// accounts; it exists for fixtures.
func EncodeAccount(disc Discriminator, v any) ([]byte, error) {
	return EncodeInstructionData(disc, v)
}
