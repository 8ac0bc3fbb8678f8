package escrow

import (
	"errors"

	"github.com/gagliardetto/solana-go"

	"github.com/KamisAyaka/solana-demos/sdk/anchor"
	"github.com/KamisAyaka/solana-demos/sdk/token"
)

type MakeOfferArgs struct {
	ID                  uint64
	TokenAOfferedAmount uint64
	TokenBWantedAmount  uint64
}

type MakeOfferAccounts struct {
	Maker              solana.PublicKey
	TokenMintA         solana.PublicKey
	TokenMintB         solana.PublicKey
	MakerTokenAccountA solana.PublicKey
	Offer              solana.PublicKey
	Vault              solana.PublicKey
	TokenProgram       solana.PublicKey
}

// NewMakeOfferInstruction deposits TokenAOfferedAmount of mint A into a new
// vault and records the offer.
func NewMakeOfferInstruction(programID solana.PublicKey, accounts MakeOfferAccounts, args MakeOfferArgs) (solana.Instruction, error) {
	if err := token.ValidateProgram(accounts.TokenProgram); err != nil {
		return nil, err
	}
	data, err := anchor.EncodeInstructionData(makeOfferDiscriminator, &args)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(accounts.Maker).WRITE().SIGNER(),
		solana.Meta(accounts.TokenMintA),
		solana.Meta(accounts.TokenMintB),
		solana.Meta(accounts.MakerTokenAccountA).WRITE(),
		solana.Meta(accounts.Offer).WRITE(),
		solana.Meta(accounts.Vault).WRITE(),
		solana.Meta(token.SystemProgramID),
		solana.Meta(accounts.TokenProgram),
		solana.Meta(token.AssociatedTokenProgramID),
	}, data), nil
}

type TakeOfferAccounts struct {
	Taker              solana.PublicKey
	Maker              solana.PublicKey
	TokenMintA         solana.PublicKey
	TokenMintB         solana.PublicKey
	TakerTokenAccountA solana.PublicKey
	TakerTokenAccountB solana.PublicKey
	MakerTokenAccountB solana.PublicKey
	Offer              solana.PublicKey
	Vault              solana.PublicKey
	TokenProgram       solana.PublicKey
}

// NewTakeOfferInstruction pays the maker the wanted amount of mint B and
// releases the vault to the taker. The program closes the vault and the offer.
func NewTakeOfferInstruction(programID solana.PublicKey, accounts TakeOfferAccounts) (solana.Instruction, error) {
	if err := token.ValidateProgram(accounts.TokenProgram); err != nil {
		return nil, err
	}
	data, err := anchor.EncodeInstructionData(takeOfferDiscriminator, nil)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(accounts.Taker).WRITE().SIGNER(),
		solana.Meta(accounts.Maker).WRITE(),
		solana.Meta(accounts.TokenMintA),
		solana.Meta(accounts.TokenMintB),
		solana.Meta(accounts.TakerTokenAccountA).WRITE(),
		solana.Meta(accounts.TakerTokenAccountB).WRITE(),
		solana.Meta(accounts.MakerTokenAccountB).WRITE(),
		solana.Meta(accounts.Offer).WRITE(),
		solana.Meta(accounts.Vault).WRITE(),
		solana.Meta(token.SystemProgramID),
		solana.Meta(accounts.TokenProgram),
		solana.Meta(token.AssociatedTokenProgramID),
	}, data), nil
}

type CancelOfferArgs struct {
	OfferID uint64
}

type CancelOfferAccounts struct {
	Maker              solana.PublicKey
	TokenMintA         solana.PublicKey
	MakerTokenAccountA solana.PublicKey
	Offer              solana.PublicKey
	Vault              solana.PublicKey
	TokenProgram       solana.PublicKey
}

// NewCancelOfferInstruction refunds the vault to the maker, closes it and
// flags the offer as cancelled.
func NewCancelOfferInstruction(programID solana.PublicKey, accounts CancelOfferAccounts, args CancelOfferArgs) (solana.Instruction, error) {
	if err := token.ValidateProgram(accounts.TokenProgram); err != nil {
		return nil, err
	}
	data, err := anchor.EncodeInstructionData(cancelOfferDiscriminator, &args)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(accounts.Maker).WRITE().SIGNER(),
		solana.Meta(accounts.TokenMintA),
		solana.Meta(accounts.MakerTokenAccountA).WRITE(),
		solana.Meta(accounts.Offer).WRITE(),
		solana.Meta(accounts.Vault).WRITE(),
		solana.Meta(token.SystemProgramID),
		solana.Meta(accounts.TokenProgram),
		solana.Meta(token.AssociatedTokenProgramID),
	}, data), nil
}

// InstructionKind identifies an escrow instruction by its discriminator.
type InstructionKind int

const (
	InstructionUnknown InstructionKind = iota
	InstructionMakeOffer
	InstructionTakeOffer
	InstructionCancelOffer
)

func (k InstructionKind) String() string {
	switch k {
	case InstructionMakeOffer:
		return "make_offer"
	case InstructionTakeOffer:
		return "take_offer"
	case InstructionCancelOffer:
		return "cancel_offer"
	default:
		return "unknown"
	}
}

var ErrUnknownInstruction = errors.New("unknown escrow instruction")

// ClassifyInstruction returns the kind of escrow instruction data encodes.
func ClassifyInstruction(data []byte) InstructionKind {
	switch {
	case anchor.HasDiscriminator(data, makeOfferDiscriminator):
		return InstructionMakeOffer
	case anchor.HasDiscriminator(data, takeOfferDiscriminator):
		return InstructionTakeOffer
	case anchor.HasDiscriminator(data, cancelOfferDiscriminator):
		return InstructionCancelOffer
	default:
		return InstructionUnknown
	}
}

// DecodeMakeOfferArgs decodes make_offer instruction data.
func DecodeMakeOfferArgs(data []byte) (MakeOfferArgs, error) {
	var args MakeOfferArgs
	err := anchor.DecodeInstructionData(data, makeOfferDiscriminator, &args)
	return args, err
}

// DecodeCancelOfferArgs decodes cancel_offer instruction data.
func DecodeCancelOfferArgs(data []byte) (CancelOfferArgs, error) {
	var args CancelOfferArgs
	err := anchor.DecodeInstructionData(data, cancelOfferDiscriminator, &args)
	return args, err
}
