package escrow

import (
	"github.com/gagliardetto/solana-go"

	"github.com/KamisAyaka/solana-demos/sdk/anchor"
)

// Offer is the on-chain offer account. Field order is the Borsh layout.
type Offer struct {
	OfferID            uint64
	Maker              solana.PublicKey
	TokenMintA         solana.PublicKey
	TokenMintB         solana.PublicKey
	TokenBWantedAmount uint64
	Bump               uint8
	IsCancelled        bool
}

// DecodeOffer decodes offer account data, discriminator included.
func DecodeOffer(data []byte) (*Offer, error) {
	var o Offer
	if err := anchor.DecodeAccount(data, offerAccountDiscriminator, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// EncodeOffer produces account data for o.
func EncodeOffer(o *Offer) ([]byte, error) {
	return anchor.EncodeAccount(offerAccountDiscriminator, o)
}

// IsOfferAccount reports whether data carries the Offer discriminator.
func IsOfferAccount(data []byte) bool {
	return anchor.HasDiscriminator(data, offerAccountDiscriminator)
}
