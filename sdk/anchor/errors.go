package anchor

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// CustomErrorOffset is the first error number available to program-defined
// #[error_code] enums.
const CustomErrorOffset = 6000

// ProgramError is a custom error code returned by an instruction, enriched
// with whatever the program logged about it.
//
// Two ProgramErrors match under errors.Is when their codes match and, if both
// carry a program ID, the program IDs match too. Sentinels declared by the
// program packages leave ProgramID zero so they match a failure from any
// deployment of that program.
type ProgramError struct {
	Code             uint32
	Name             string
	Message          string
	Account          string
	ProgramID        solana.PublicKey
	InstructionIndex int
	Logs             []string
}

func (e *ProgramError) Error() string {
	var b strings.Builder
	b.WriteString("program error")
	if e.Name != "" {
		fmt.Fprintf(&b, " %s", e.Name)
	}
	fmt.Fprintf(&b, " (%d)", e.Code)
	if e.Account != "" {
		fmt.Fprintf(&b, " caused by account %s", e.Account)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	return b.String()
}

func (e *ProgramError) Is(target error) bool {
	t, ok := target.(*ProgramError)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	if !t.ProgramID.IsZero() && !e.ProgramID.IsZero() {
		return t.ProgramID.Equals(e.ProgramID)
	}
	return true
}

// NewError declares a sentinel error for a program's error enum.
func NewError(code uint32, name, message string) *ProgramError {
	return &ProgramError{Code: code, Name: name, Message: message}
}

// Framework and runtime errors that surface through every Anchor program.
var (
	ErrAccountAlreadyInUse          = NewError(0, "AccountAlreadyInUse", "an account with the same address already exists")
	ErrInstructionFallbackNotFound  = NewError(101, "InstructionFallbackNotFound", "Fallback functions are not supported")
	ErrInstructionDidNotDeserialize = NewError(102, "InstructionDidNotDeserialize", "The program could not deserialize the given instruction")
	ErrConstraintMut                = NewError(2000, "ConstraintMut", "A mut constraint was violated")
	ErrConstraintHasOne             = NewError(2001, "ConstraintHasOne", "A has one constraint was violated")
	ErrConstraintSigner             = NewError(2002, "ConstraintSigner", "A signer constraint was violated")
	ErrConstraintSeeds              = NewError(2006, "ConstraintSeeds", "A seeds constraint was violated")
	ErrConstraintAssociated         = NewError(2009, "ConstraintAssociated", "An associated constraint was violated")
	ErrConstraintTokenMint          = NewError(2014, "ConstraintTokenMint", "A token mint constraint was violated")
	ErrConstraintTokenOwner         = NewError(2015, "ConstraintTokenOwner", "A token owner constraint was violated")
	ErrAccountDiscriminatorMismatch = NewError(3002, "AccountDiscriminatorMismatch", "8 byte discriminator did not match what was expected")
	ErrAccountDidNotDeserialize     = NewError(3003, "AccountDidNotDeserialize", "Failed to deserialize the account")
	ErrAccountNotEnoughKeys         = NewError(3005, "AccountNotEnoughKeys", "Not enough account keys given to the instruction")
	ErrAccountNotMutable            = NewError(3006, "AccountNotMutable", "The given account is not mutable")
	ErrAccountOwnedByWrongProgram   = NewError(3007, "AccountOwnedByWrongProgram", "The given account is owned by a different program than expected")
	ErrInvalidProgramID             = NewError(3008, "InvalidProgramId", "Program ID was not as expected")
	ErrAccountNotSigner             = NewError(3010, "AccountNotSigner", "The given account did not sign")
	ErrAccountNotInitialized        = NewError(3012, "AccountNotInitialized", "The program expected this account to be already initialized")
	ErrAccountNotAssociatedToken    = NewError(3014, "AccountNotAssociatedTokenAccount", "The given account is not the associated token account")
)

var frameworkErrors = map[uint32]*ProgramError{}

func init() {
	for _, e := range []*ProgramError{
		ErrInstructionFallbackNotFound, ErrInstructionDidNotDeserialize,
		ErrConstraintMut, ErrConstraintHasOne, ErrConstraintSigner, ErrConstraintSeeds,
		ErrConstraintAssociated, ErrConstraintTokenMint, ErrConstraintTokenOwner,
		ErrAccountDiscriminatorMismatch, ErrAccountDidNotDeserialize, ErrAccountNotEnoughKeys,
		ErrAccountNotMutable, ErrAccountOwnedByWrongProgram, ErrInvalidProgramID,
		ErrAccountNotSigner, ErrAccountNotInitialized, ErrAccountNotAssociatedToken,
	} {
		frameworkErrors[e.Code] = e
	}
}

// InstructionError is a builtin (non-custom) instruction failure such as
// "InvalidAccountData".
type InstructionError struct {
	InstructionIndex int
	Kind             string
	Logs             []string
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("instruction %d failed: %s", e.InstructionIndex, e.Kind)
}

// TransactionError is a transaction-level failure that did not reach an
// instruction, such as "AccountNotFound" or "BlockhashNotFound".
type TransactionError struct {
	Kind string
	Logs []string
}

func (e *TransactionError) Error() string {
	return "transaction failed: " + e.Kind
}

var (
	anchorLogRe  = regexp.MustCompile(`AnchorError (.*?)Error Code: (\w+)\. Error Number: (\d+)\. Error Message: (.*?)\.?$`)
	causedByRe   = regexp.MustCompile(`caused by account: (\w+)\.`)
	customCodeRe = regexp.MustCompile(`custom program error: 0x([0-9a-fA-F]+)`)
	instrIndexRe = regexp.MustCompile(`Error processing Instruction (\d+)`)
)

// FromRPCError extracts the structured failure from an error returned by
// sendTransaction when preflight simulation rejects the transaction. It
// returns nil when err carries no recognizable transaction failure.
func FromRPCError(err error) error {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return nil
	}

	var txErr any
	var logs []string
	if data, ok := rpcErr.Data.(map[string]any); ok {
		txErr = data["err"]
		logs = stringSlice(data["logs"])
	}
	if txErr != nil {
		return FromTransactionError(txErr, logs)
	}

	// Some RPC nodes only put the failure in the message.
	if m := customCodeRe.FindStringSubmatch(rpcErr.Message); m != nil {
		code, perr := strconv.ParseUint(m[1], 16, 32)
		if perr == nil {
			idx := 0
			if im := instrIndexRe.FindStringSubmatch(rpcErr.Message); im != nil {
				idx, _ = strconv.Atoi(im[1])
			}
			return newProgramError(uint32(code), idx, logs)
		}
	}
	return nil
}

// FromTransactionError converts the "err" value of a simulation result or
// signature status into a *ProgramError, *InstructionError or
// *TransactionError. A nil txErr returns nil.
func FromTransactionError(txErr any, logs []string) error {
	switch v := txErr.(type) {
	case nil:
		return nil
	case string:
		return &TransactionError{Kind: v, Logs: logs}
	case map[string]any:
		ie, ok := v["InstructionError"]
		if !ok {
			raw, _ := json.Marshal(v)
			return &TransactionError{Kind: string(raw), Logs: logs}
		}
		pair, ok := ie.([]any)
		if !ok || len(pair) != 2 {
			return &TransactionError{Kind: fmt.Sprint(ie), Logs: logs}
		}
		idx, _ := toUint(pair[0])
		switch detail := pair[1].(type) {
		case string:
			return &InstructionError{InstructionIndex: int(idx), Kind: detail, Logs: logs}
		case map[string]any:
			if custom, ok := detail["Custom"]; ok {
				code, ok := toUint(custom)
				if ok {
					return newProgramError(uint32(code), int(idx), logs)
				}
			}
			raw, _ := json.Marshal(detail)
			return &InstructionError{InstructionIndex: int(idx), Kind: string(raw), Logs: logs}
		default:
			return &InstructionError{InstructionIndex: int(idx), Kind: fmt.Sprint(detail), Logs: logs}
		}
	default:
		return &TransactionError{Kind: fmt.Sprint(v), Logs: logs}
	}
}

func newProgramError(code uint32, idx int, logs []string) *ProgramError {
	pe := &ProgramError{Code: code, InstructionIndex: idx, Logs: logs}
	if known, ok := frameworkErrors[code]; ok {
		pe.Name = known.Name
		pe.Message = known.Message
	}
	// The program's own log line is authoritative when present.
	for _, line := range logs {
		m := anchorLogRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.ParseUint(m[3], 10, 32)
		if err != nil || uint32(n) != code {
			continue
		}
		pe.Name = m[2]
		pe.Message = m[4]
		if am := causedByRe.FindStringSubmatch(m[1]); am != nil {
			pe.Account = am[1]
		}
	}
	return pe
}

// Logs returns the program logs attached to a failure produced by this
// package, if any.
func Logs(err error) []string {
	var pe *ProgramError
	if errors.As(err, &pe) {
		return pe.Logs
	}
	var ie *InstructionError
	if errors.As(err, &ie) {
		return ie.Logs
	}
	var te *TransactionError
	if errors.As(err, &te) {
		return te.Logs
	}
	return nil
}

func toUint(v any) (uint64, bool) {
	switch n := v.(type) {
	case float64:
		return uint64(n), n >= 0
	case json.Number:
		u, err := strconv.ParseUint(n.String(), 10, 64)
		return u, err == nil
	case int:
		return uint64(n), n >= 0
	case int64:
		return uint64(n), n >= 0
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	default:
		return 0, false
	}
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
