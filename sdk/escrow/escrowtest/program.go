package escrowtest

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/KamisAyaka/solana-demos/sdk/anchor"
	"github.com/KamisAyaka/solana-demos/sdk/escrow"
	"github.com/KamisAyaka/solana-demos/sdk/token"
)

// call is one instruction executing against a ledger snapshot.
type call struct {
	programID solana.PublicKey
	target    solana.PublicKey
	msg       *solana.Message
	keys      []solana.PublicKey
	data      []byte
	state     map[solana.PublicKey]account
	logs      []string
}

func (l *Ledger) newCall(tx *solana.Transaction, ci solana.CompiledInstruction, state map[solana.PublicKey]account) (*call, error) {
	keys := tx.Message.AccountKeys
	if int(ci.ProgramIDIndex) >= len(keys) {
		return nil, fmt.Errorf("program index %d out of range", ci.ProgramIDIndex)
	}
	c := &call{
		programID: l.programID,
		target:    keys[ci.ProgramIDIndex],
		msg:       &tx.Message,
		data:      ci.Data,
		state:     state,
	}
	for _, idx := range ci.Accounts {
		if int(idx) >= len(keys) {
			return nil, fmt.Errorf("account index %d out of range", idx)
		}
		c.keys = append(c.keys, keys[idx])
	}
	return c, nil
}

func (c *call) run() *failure {
	if !c.target.Equals(c.programID) {
		return &failure{builtin: "IncorrectProgramId"}
	}
	c.logf("Program %s invoke [1]", c.programID)

	var f *failure
	switch kind := escrow.ClassifyInstruction(c.data); kind {
	case escrow.InstructionMakeOffer:
		c.logf("Program log: Instruction: MakeOffer")
		f = c.makeOffer()
	case escrow.InstructionTakeOffer:
		c.logf("Program log: Instruction: TakeOffer")
		f = c.takeOffer()
	case escrow.InstructionCancelOffer:
		c.logf("Program log: Instruction: CancelOffer")
		f = c.cancelOffer()
	default:
		f = c.anchorErr(anchor.ErrInstructionFallbackNotFound, "")
	}

	if f != nil {
		if f.builtin == "" {
			c.logf("Program %s failed: custom program error: 0x%x", c.programID, f.custom)
		} else {
			c.logf("Program %s failed: %s", c.programID, f.builtin)
		}
		return f
	}
	c.logf("Program %s success", c.programID)
	return nil
}

func (c *call) logf(format string, args ...any) {
	c.logs = append(c.logs, fmt.Sprintf(format, args...))
}

// anchorErr logs e the way the framework does and returns its failure. An
// empty accountName means the error was raised by the handler itself.
func (c *call) anchorErr(e *anchor.ProgramError, accountName string) *failure {
	origin := "occurred."
	if accountName != "" {
		origin = "caused by account: " + accountName + "."
	} else if e.Code >= anchor.CustomErrorOffset {
		origin = "thrown in programs/swap/src/lib.rs:1."
	}
	c.logf("Program log: AnchorError %s Error Code: %s. Error Number: %d. Error Message: %s.", origin, e.Name, e.Code, e.Message)
	return &failure{custom: e.Code}
}

func (c *call) need(n int) *failure {
	if len(c.keys) < n {
		return c.anchorErr(anchor.ErrAccountNotEnoughKeys, "")
	}
	return nil
}

func (c *call) signer(i int, name string) *failure {
	if !c.msg.IsSigner(c.keys[i]) {
		return c.anchorErr(anchor.ErrAccountNotSigner, name)
	}
	return nil
}

func (c *call) tokenProgram(i int) (solana.PublicKey, *failure) {
	tp := c.keys[i]
	if token.ValidateProgram(tp) != nil {
		return solana.PublicKey{}, c.anchorErr(anchor.ErrInvalidProgramID, "token_program")
	}
	return tp, nil
}

func (c *call) mint(i int, name string, tokenProgram solana.PublicKey) *failure {
	acc, ok := c.state[c.keys[i]]
	if !ok {
		return c.anchorErr(anchor.ErrAccountNotInitialized, name)
	}
	if !acc.owner.Equals(tokenProgram) {
		return c.anchorErr(anchor.ErrAccountOwnedByWrongProgram, name)
	}
	if len(acc.data) != mintSize || acc.data[45] != 1 {
		return c.anchorErr(anchor.ErrAccountDidNotDeserialize, name)
	}
	return nil
}

// tokenAccount loads an associated token account and applies the
// associated_token constraints for (mint, authority).
func (c *call) tokenAccount(i int, name string, mint, authority, tokenProgram solana.PublicKey) (*token.Account, *failure) {
	addr := c.keys[i]
	acc, ok := c.state[addr]
	if !ok {
		return nil, c.anchorErr(anchor.ErrAccountNotInitialized, name)
	}
	if !acc.owner.Equals(tokenProgram) {
		return nil, c.anchorErr(anchor.ErrAccountOwnedByWrongProgram, name)
	}
	decoded, err := token.DecodeAccount(acc.data)
	if err != nil {
		return nil, c.anchorErr(anchor.ErrAccountDidNotDeserialize, name)
	}
	if !decoded.Mint.Equals(mint) {
		return nil, c.anchorErr(anchor.ErrConstraintTokenMint, name)
	}
	if !decoded.Owner.Equals(authority) {
		return nil, c.anchorErr(anchor.ErrConstraintTokenOwner, name)
	}
	if want := token.MustAssociatedTokenAddress(authority, mint, tokenProgram); !want.Equals(addr) {
		return nil, c.anchorErr(anchor.ErrAccountNotAssociatedToken, name)
	}
	return decoded, nil
}

// tokenAccountIfNeeded is tokenAccount for init_if_needed accounts: a
// missing account is created empty.
func (c *call) tokenAccountIfNeeded(i int, name string, mint, authority, tokenProgram solana.PublicKey) (*token.Account, *failure) {
	addr := c.keys[i]
	if _, ok := c.state[addr]; ok {
		return c.tokenAccount(i, name, mint, authority, tokenProgram)
	}
	if want := token.MustAssociatedTokenAddress(authority, mint, tokenProgram); !want.Equals(addr) {
		return nil, c.anchorErr(anchor.ErrConstraintAssociated, name)
	}
	created := &token.Account{Mint: mint, Owner: authority, State: token.AccountInitialized}
	c.putToken(addr, tokenProgram, created)
	return created, nil
}

func (c *call) offer(i int, name string) (*escrow.Offer, *failure) {
	acc, ok := c.state[c.keys[i]]
	if !ok {
		return nil, c.anchorErr(anchor.ErrAccountNotInitialized, name)
	}
	if !acc.owner.Equals(c.programID) {
		return nil, c.anchorErr(anchor.ErrAccountOwnedByWrongProgram, name)
	}
	if !escrow.IsOfferAccount(acc.data) {
		return nil, c.anchorErr(anchor.ErrAccountDiscriminatorMismatch, name)
	}
	o, err := escrow.DecodeOffer(acc.data)
	if err != nil {
		return nil, c.anchorErr(anchor.ErrAccountDidNotDeserialize, name)
	}
	return o, nil
}

// allocate fails the way the system program does when addr is taken.
func (c *call) allocate(addr solana.PublicKey) *failure {
	if _, taken := c.state[addr]; taken {
		c.logf("Program 11111111111111111111111111111111 invoke [2]")
		c.logf("Allocate: account Address { address: %s, base: None } already in use", addr)
		c.logf("Program 11111111111111111111111111111111 failed: custom program error: 0x0")
		return &failure{custom: anchor.ErrAccountAlreadyInUse.Code}
	}
	return nil
}

func (c *call) putToken(addr, tokenProgram solana.PublicKey, acc *token.Account) {
	c.state[addr] = account{owner: tokenProgram, lamports: tokenAccountLamports, data: token.EncodeAccount(*acc)}
}

func (c *call) putOffer(addr solana.PublicKey, o *escrow.Offer) *failure {
	data, err := escrow.EncodeOffer(o)
	if err != nil {
		return c.anchorErr(anchor.ErrAccountDidNotDeserialize, "offer")
	}
	c.state[addr] = account{owner: c.programID, lamports: offerLamports, data: data}
	return nil
}

// transfer moves amount between token accounts through the token program.
func (c *call) transfer(fromAddr solana.PublicKey, from *token.Account, toAddr solana.PublicKey, to *token.Account, amount uint64, tokenProgram solana.PublicKey) *failure {
	c.logf("Program %s invoke [2]", tokenProgram)
	c.logf("Program log: Instruction: TransferChecked")
	if from.Amount < amount {
		c.logf("Program log: Error: insufficient funds")
		c.logf("Program %s failed: custom program error: 0x1", tokenProgram)
		return &failure{custom: token.ErrInsufficientFunds.Code}
	}
	from.Amount -= amount
	to.Amount += amount
	c.putToken(fromAddr, tokenProgram, from)
	c.putToken(toAddr, tokenProgram, to)
	c.logf("Program %s success", tokenProgram)
	return nil
}

func (c *call) closeAccount(addr solana.PublicKey) {
	delete(c.state, addr)
}

func (c *call) makeOffer() *failure {
	args, err := escrow.DecodeMakeOfferArgs(c.data)
	if err != nil {
		return c.anchorErr(anchor.ErrInstructionDidNotDeserialize, "")
	}
	if f := c.need(9); f != nil {
		return f
	}
	maker, mintA, mintB := c.keys[0], c.keys[1], c.keys[2]
	makerAAddr, offerAddr, vaultAddr := c.keys[3], c.keys[4], c.keys[5]

	if f := c.signer(0, "maker"); f != nil {
		return f
	}
	tp, f := c.tokenProgram(7)
	if f != nil {
		return f
	}
	if f := c.mint(1, "token_mint_a", tp); f != nil {
		return f
	}
	if f := c.mint(2, "token_mint_b", tp); f != nil {
		return f
	}
	makerA, f := c.tokenAccount(3, "maker_token_account_a", mintA, maker, tp)
	if f != nil {
		return f
	}

	if f := c.allocate(offerAddr); f != nil {
		return f
	}
	wantOffer, bump, err := escrow.OfferAddress(c.programID, maker, args.ID)
	if err != nil || !wantOffer.Equals(offerAddr) {
		return c.anchorErr(anchor.ErrConstraintSeeds, "offer")
	}

	if f := c.allocate(vaultAddr); f != nil {
		return f
	}
	if want, err := escrow.VaultAddress(offerAddr, mintA, tp); err != nil || !want.Equals(vaultAddr) {
		return c.anchorErr(anchor.ErrConstraintAssociated, "vault")
	}
	vault := &token.Account{Mint: mintA, Owner: offerAddr, State: token.AccountInitialized}
	c.putToken(vaultAddr, tp, vault)

	if f := c.transfer(makerAAddr, makerA, vaultAddr, vault, args.TokenAOfferedAmount, tp); f != nil {
		return f
	}
	return c.putOffer(offerAddr, &escrow.Offer{
		OfferID:            args.ID,
		Maker:              maker,
		TokenMintA:         mintA,
		TokenMintB:         mintB,
		TokenBWantedAmount: args.TokenBWantedAmount,
		Bump:               bump,
		IsCancelled:        false,
	})
}

func (c *call) takeOffer() *failure {
	if f := c.need(12); f != nil {
		return f
	}
	taker, maker, mintA, mintB := c.keys[0], c.keys[1], c.keys[2], c.keys[3]
	takerAAddr, takerBAddr, makerBAddr := c.keys[4], c.keys[5], c.keys[6]
	offerAddr, vaultAddr := c.keys[7], c.keys[8]

	if f := c.signer(0, "taker"); f != nil {
		return f
	}
	tp, f := c.tokenProgram(10)
	if f != nil {
		return f
	}
	if f := c.mint(2, "token_mint_a", tp); f != nil {
		return f
	}
	if f := c.mint(3, "token_mint_b", tp); f != nil {
		return f
	}
	takerA, f := c.tokenAccountIfNeeded(4, "taker_token_account_a", mintA, taker, tp)
	if f != nil {
		return f
	}
	takerB, f := c.tokenAccount(5, "taker_token_account_b", mintB, taker, tp)
	if f != nil {
		return f
	}
	makerB, f := c.tokenAccountIfNeeded(6, "maker_token_account_b", mintB, maker, tp)
	if f != nil {
		return f
	}

	offer, f := c.offer(7, "offer")
	if f != nil {
		return f
	}
	if !offer.Maker.Equals(maker) || !offer.TokenMintA.Equals(mintA) || !offer.TokenMintB.Equals(mintB) {
		return c.anchorErr(anchor.ErrConstraintHasOne, "offer")
	}
	if want, err := solana.CreateProgramAddress(
		[][]byte{[]byte(escrow.OfferSeed), maker[:], escrow.OfferIDBytes(offer.OfferID), {offer.Bump}},
		c.programID,
	); err != nil || !want.Equals(offerAddr) {
		return c.anchorErr(anchor.ErrConstraintSeeds, "offer")
	}
	vault, f := c.tokenAccount(8, "vault", mintA, offerAddr, tp)
	if f != nil {
		return f
	}

	if offer.IsCancelled {
		return c.anchorErr(escrow.ErrOfferAlreadyCancelled, "")
	}
	if f := c.transfer(takerBAddr, takerB, makerBAddr, makerB, offer.TokenBWantedAmount, tp); f != nil {
		return f
	}
	if f := c.transfer(vaultAddr, vault, takerAAddr, takerA, vault.Amount, tp); f != nil {
		return f
	}
	c.closeAccount(vaultAddr)
	c.closeAccount(offerAddr)
	return nil
}

func (c *call) cancelOffer() *failure {
	args, err := escrow.DecodeCancelOfferArgs(c.data)
	if err != nil {
		return c.anchorErr(anchor.ErrInstructionDidNotDeserialize, "")
	}
	if f := c.need(8); f != nil {
		return f
	}
	maker, mintA := c.keys[0], c.keys[1]
	makerAAddr, offerAddr, vaultAddr := c.keys[2], c.keys[3], c.keys[4]

	if f := c.signer(0, "maker"); f != nil {
		return f
	}
	tp, f := c.tokenProgram(6)
	if f != nil {
		return f
	}
	if f := c.mint(1, "token_mint_a", tp); f != nil {
		return f
	}
	makerA, f := c.tokenAccount(2, "maker_token_account_a", mintA, maker, tp)
	if f != nil {
		return f
	}

	offer, f := c.offer(3, "offer")
	if f != nil {
		return f
	}
	if !offer.Maker.Equals(maker) {
		return c.anchorErr(escrow.ErrNotMaker, "offer")
	}
	if !offer.TokenMintA.Equals(mintA) {
		return c.anchorErr(escrow.ErrWrongTokenMint, "offer")
	}
	if want, err := solana.CreateProgramAddress(
		[][]byte{[]byte(escrow.OfferSeed), maker[:], escrow.OfferIDBytes(args.OfferID), {offer.Bump}},
		c.programID,
	); err != nil || !want.Equals(offerAddr) {
		return c.anchorErr(anchor.ErrConstraintSeeds, "offer")
	}
	vault, f := c.tokenAccount(4, "vault", mintA, offerAddr, tp)
	if f != nil {
		return f
	}

	if offer.IsCancelled {
		return c.anchorErr(escrow.ErrOfferAlreadyCancelled, "")
	}
	if f := c.transfer(vaultAddr, vault, makerAAddr, makerA, vault.Amount, tp); f != nil {
		return f
	}
	c.closeAccount(vaultAddr)
	offer.IsCancelled = true
	return c.putOffer(offerAddr, offer)
}
