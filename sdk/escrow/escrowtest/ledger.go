// Package escrowtest provides an in-memory ledger that runs the escrow
// program's account checks and token movements behind the RPC interface, so
// orchestrator code can be exercised without a validator.
package escrowtest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"maps"
	"strconv"
	"sync"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/KamisAyaka/solana-demos/sdk/escrow"
	"github.com/KamisAyaka/solana-demos/sdk/token"
	"github.com/KamisAyaka/solana-demos/utils/pkg/soltx"
)

const (
	mintSize             = 82
	tokenAccountLamports = 2_039_280
	mintLamports         = 1_461_600
	offerLamports        = 1_670_400
)

type account struct {
	owner    solana.PublicKey
	lamports uint64
	data     []byte
}

// Ledger implements soltx.RPCClient. Transactions are applied atomically:
// a failing instruction leaves every account untouched.
type Ledger struct {
	mu        sync.Mutex
	programID solana.PublicKey
	accounts  map[solana.PublicKey]account
	statuses  map[solana.Signature]*solanarpc.SignatureStatusesResult
	slot      uint64
	sent      int
}

var _ soltx.RPCClient = (*Ledger)(nil)

// New returns an empty ledger with the escrow program deployed at programID.
// A zero programID means escrow.ProgramID.
func New(programID solana.PublicKey) *Ledger {
	if programID.IsZero() {
		programID = escrow.ProgramID
	}
	return &Ledger{
		programID: programID,
		accounts:  make(map[solana.PublicKey]account),
		statuses:  make(map[solana.Signature]*solanarpc.SignatureStatusesResult),
		slot:      1,
	}
}

// CreateMint adds an initialized mint owned by tokenProgram.
func (l *Ledger) CreateMint(decimals uint8, tokenProgram solana.PublicKey) solana.PublicKey {
	mint := solana.NewWallet().PublicKey()
	data := make([]byte, mintSize)
	data[44] = decimals
	data[45] = 1
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[mint] = account{owner: tokenProgram, lamports: mintLamports, data: data}
	return mint
}

// Fund credits amount of mint to owner's associated token account,
// creating it if needed, and returns the account address.
func (l *Ledger) Fund(owner, mint solana.PublicKey, amount uint64) solana.PublicKey {
	l.mu.Lock()
	defer l.mu.Unlock()
	tokenProgram := l.accounts[mint].owner
	ata := token.MustAssociatedTokenAddress(owner, mint, tokenProgram)
	acc := token.Account{Mint: mint, Owner: owner, State: token.AccountInitialized}
	if existing, ok := l.accounts[ata]; ok {
		decoded, err := token.DecodeAccount(existing.data)
		if err != nil {
			panic(err)
		}
		acc = *decoded
	}
	acc.Amount += amount
	l.accounts[ata] = account{owner: tokenProgram, lamports: tokenAccountLamports, data: token.EncodeAccount(acc)}
	return ata
}

// Balance returns the amount held by a token account and whether it exists.
func (l *Ledger) Balance(addr solana.PublicKey) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[addr]
	if !ok {
		return 0, false
	}
	decoded, err := token.DecodeAccount(acc.data)
	if err != nil {
		return 0, false
	}
	return decoded.Amount, true
}

// Exists reports whether an account is allocated at addr.
func (l *Ledger) Exists(addr solana.PublicKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.accounts[addr]
	return ok
}

// Offer decodes the offer account at addr.
func (l *Ledger) Offer(addr solana.PublicKey) (*escrow.Offer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[addr]
	if !ok {
		return nil, fmt.Errorf("offer %s: %w", addr, soltx.ErrAccountNotFound)
	}
	return escrow.DecodeOffer(acc.data)
}

// Submitted returns how many transactions reached SendTransactionWithOpts.
func (l *Ledger) Submitted() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent
}

func (l *Ledger) GetHealth(context.Context) (string, error) {
	return "ok", nil
}

func (l *Ledger) GetLatestBlockhash(ctx context.Context, _ solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return &solanarpc.GetLatestBlockhashResult{
		RPCContext: solanarpc.RPCContext{Context: solanarpc.Context{Slot: l.slot}},
		Value: &solanarpc.LatestBlockhashResult{
			Blockhash:            blockhashAt(l.slot),
			LastValidBlockHeight: l.slot + 150,
		},
	}, nil
}

func (l *Ledger) GetSignatureStatuses(ctx context.Context, _ bool, sigs ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := &solanarpc.GetSignatureStatusesResult{
		RPCContext: solanarpc.RPCContext{Context: solanarpc.Context{Slot: l.slot}},
		Value:      make([]*solanarpc.SignatureStatusesResult, len(sigs)),
	}
	for i, sig := range sigs {
		out.Value[i] = l.statuses[sig]
	}
	return out, nil
}

func (l *Ledger) GetAccountInfoWithOpts(ctx context.Context, addr solana.PublicKey, _ *solanarpc.GetAccountInfoOpts) (*solanarpc.GetAccountInfoResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[addr]
	if !ok {
		return nil, solanarpc.ErrNotFound
	}
	return &solanarpc.GetAccountInfoResult{
		RPCContext: solanarpc.RPCContext{Context: solanarpc.Context{Slot: l.slot}},
		Value: &solanarpc.Account{
			Lamports: acc.lamports,
			Owner:    acc.owner,
			Data:     solanarpc.DataBytesOrJSONFromBytes(append([]byte(nil), acc.data...)),
		},
	}, nil
}

func (l *Ledger) GetTokenAccountBalance(ctx context.Context, addr solana.PublicKey, _ solanarpc.CommitmentType) (*solanarpc.GetTokenAccountBalanceResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[addr]
	if !ok {
		return nil, &jsonrpc.RPCError{Code: -32602, Message: "Invalid param: could not find account"}
	}
	decoded, err := token.DecodeAccount(acc.data)
	if err != nil {
		return nil, &jsonrpc.RPCError{Code: -32602, Message: "Invalid param: not a Token account"}
	}
	var decimals uint8
	if mint, ok := l.accounts[decoded.Mint]; ok && len(mint.data) == mintSize {
		decimals = mint.data[44]
	}
	return &solanarpc.GetTokenAccountBalanceResult{
		RPCContext: solanarpc.RPCContext{Context: solanarpc.Context{Slot: l.slot}},
		Value: &solanarpc.UiTokenAmount{
			Amount:   strconv.FormatUint(decoded.Amount, 10),
			Decimals: decimals,
		},
	}, nil
}

// SendTransactionWithOpts verifies signatures and runs every instruction
// against a copy of the ledger. With preflight enabled a failure is returned
// as the JSON-RPC simulation error a validator would produce; with
// SkipPreflight the transaction lands and the failure is recorded in its
// signature status.
func (l *Ledger) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, &jsonrpc.RPCError{Code: -32602, Message: "invalid transaction: transaction has no signatures"}
	}
	if err := tx.VerifySignatures(); err != nil {
		return solana.Signature{}, &jsonrpc.RPCError{Code: -32003, Message: "Transaction signature verification failure"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent++

	sig := tx.Signatures[0]
	if _, seen := l.statuses[sig]; seen {
		return solana.Signature{}, &jsonrpc.RPCError{
			Code:    -32002,
			Message: "Transaction simulation failed: This transaction has already been processed",
			Data:    map[string]any{"err": "AlreadyProcessed", "logs": []any{}},
		}
	}

	state := maps.Clone(l.accounts)
	var logs []string
	var fail *failure
	for i, ci := range tx.Message.Instructions {
		c, err := l.newCall(tx, ci, state)
		if err != nil {
			fail = &failure{index: i, builtin: "ProgramFailedToComplete"}
			break
		}
		f := c.run()
		logs = append(logs, c.logs...)
		if f != nil {
			f.index = i
			fail = f
			break
		}
	}
	l.slot++

	if fail != nil {
		if !opts.SkipPreflight {
			return solana.Signature{}, fail.rpcError(logs)
		}
		l.statuses[sig] = &solanarpc.SignatureStatusesResult{
			Slot:               l.slot,
			Err:                fail.txErr(),
			ConfirmationStatus: solanarpc.ConfirmationStatusConfirmed,
		}
		return sig, nil
	}

	l.accounts = state
	l.statuses[sig] = &solanarpc.SignatureStatusesResult{
		Slot:               l.slot,
		ConfirmationStatus: solanarpc.ConfirmationStatusConfirmed,
	}
	return sig, nil
}

func blockhashAt(slot uint64) solana.Hash {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], slot)
	return solana.Hash(sha256.Sum256(b[:]))
}

// failure is an instruction error in the shape the ledger reports it.
type failure struct {
	index   int
	custom  uint32
	builtin string
}

func (f *failure) txErr() map[string]any {
	var detail any = f.builtin
	if f.builtin == "" {
		detail = map[string]any{"Custom": float64(f.custom)}
	}
	return map[string]any{"InstructionError": []any{float64(f.index), detail}}
}

func (f *failure) rpcError(logs []string) *jsonrpc.RPCError {
	msg := fmt.Sprintf("Transaction simulation failed: Error processing Instruction %d: ", f.index)
	if f.builtin == "" {
		msg += fmt.Sprintf("custom program error: 0x%x", f.custom)
	} else {
		msg += f.builtin
	}
	jsonLogs := make([]any, len(logs))
	for i, line := range logs {
		jsonLogs[i] = line
	}
	return &jsonrpc.RPCError{
		Code:    -32002,
		Message: msg,
		Data: map[string]any{
			"err":           f.txErr(),
			"logs":          jsonLogs,
			"unitsConsumed": float64(0),
		},
	}
}
