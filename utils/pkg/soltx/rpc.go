// Package soltx builds, signs, submits and confirms transactions, and reads
// the accounts the program clients verify against.
package soltx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/KamisAyaka/solana-demos/utils/pkg/retry"
)

// RPCClient is the subset of the Solana RPC API the clients in this
// repository need. *rpc.Client satisfies it.
type RPCClient interface {
	GetLatestBlockhash(context.Context, solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(context.Context, *solana.Transaction, solanarpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error)
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *solanarpc.GetAccountInfoOpts) (*solanarpc.GetAccountInfoResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment solanarpc.CommitmentType) (*solanarpc.GetTokenAccountBalanceResult, error)
	GetHealth(ctx context.Context) (string, error)
}

var _ RPCClient = (*solanarpc.Client)(nil)

var ErrAccountNotFound = errors.New("account not found")

// getTokenAccountBalance on a missing account fails with invalid params.
const rpcCodeInvalidParams = -32602

// Reader fetches account state with retries on transient RPC failures.
type Reader struct {
	rpc        RPCClient
	commitment solanarpc.CommitmentType
	retry      retry.Config
}

func NewReader(rpc RPCClient, commitment solanarpc.CommitmentType, retryCfg retry.Config) *Reader {
	if commitment == "" {
		commitment = solanarpc.CommitmentConfirmed
	}
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.DefaultConfig()
	}
	return &Reader{rpc: rpc, commitment: commitment, retry: retryCfg}
}

// AccountInfo is the owner and raw data of an account.
type AccountInfo struct {
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
}

// Account returns the account at addr, or ErrAccountNotFound.
func (r *Reader) Account(ctx context.Context, addr solana.PublicKey) (*AccountInfo, error) {
	res, err := retry.DoValue(ctx, r.retry, func() (*solanarpc.GetAccountInfoResult, error) {
		res, err := r.rpc.GetAccountInfoWithOpts(ctx, addr, &solanarpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: r.commitment,
		})
		if errors.Is(err, solanarpc.ErrNotFound) {
			return nil, retry.Permanent(fmt.Errorf("%w: %s", ErrAccountNotFound, addr))
		}
		return res, err
	})
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
		}
		return nil, fmt.Errorf("failed to get account %s: %w", addr, err)
	}
	if res == nil || res.Value == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	info := &AccountInfo{Owner: res.Value.Owner, Lamports: res.Value.Lamports}
	if res.Value.Data != nil {
		info.Data = res.Value.Data.GetBinary()
	}
	return info, nil
}

// AccountExists reports whether an account is currently allocated at addr.
func (r *Reader) AccountExists(ctx context.Context, addr solana.PublicKey) (bool, error) {
	_, err := r.Account(ctx, addr)
	if errors.Is(err, ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// TokenBalance returns the raw amount held by a token account.
func (r *Reader) TokenBalance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	res, err := retry.DoValue(ctx, r.retry, func() (*solanarpc.GetTokenAccountBalanceResult, error) {
		return r.rpc.GetTokenAccountBalance(ctx, addr, r.commitment)
	})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == rpcCodeInvalidParams && strings.Contains(rpcErr.Message, "could not find account") {
			return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
		}
		return 0, fmt.Errorf("failed to get token balance of %s: %w", addr, err)
	}
	if res == nil || res.Value == nil {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	amount, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token balance %q: %w", res.Value.Amount, err)
	}
	return amount, nil
}
