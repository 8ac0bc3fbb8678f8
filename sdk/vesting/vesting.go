// Package vesting is the Go client for the token vesting program: vesting,
// treasury and employee address derivation, instruction builders, account
// decoders and a client-side preview of the claim schedule.
package vesting

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/KamisAyaka/solana-demos/sdk/anchor"
	"github.com/KamisAyaka/solana-demos/sdk/token"
)

var ProgramID = solana.MustPublicKeyFromBase58("AfJ7jgnc2VQ2tzTrNzVzCrq6VtHi9DhzYFuUUFmh49jF")

const (
	TreasurySeed = "treasury_token_account"
	EmployeeSeed = "employee_vesting"

	MaxCompanyNameLen = 32
)

var (
	createVestingAccountDiscriminator  = anchor.InstructionDiscriminator("create_vesting_account")
	createEmployeeAccountDiscriminator = anchor.InstructionDiscriminator("create_employee_account")
	claimTokensDiscriminator           = anchor.InstructionDiscriminator("claim_tokens")

	vestingAccountDiscriminator  = anchor.AccountDiscriminator("VestingAccount")
	employeeAccountDiscriminator = anchor.AccountDiscriminator("EmployeeAccount")
)

// Errors declared by the program's error enum. The names keep the program's
// spelling so they match its log lines.
var (
	ErrClaimNotAvailableYet = anchor.NewError(anchor.CustomErrorOffset+0, "CliamNotAvailableYet", "cliam not available yet")
	ErrInvalidVestPeriod    = anchor.NewError(anchor.CustomErrorOffset+1, "InvalidVestPeriod", "invalid vest period")
	ErrCalculationOverflow  = anchor.NewError(anchor.CustomErrorOffset+2, "CalculationOverflow", "calculation overflow")
	ErrNothingToClaim       = anchor.NewError(anchor.CustomErrorOffset+3, "NothingToClaim", "Nothing to cliam")
)

var (
	ErrEmptyCompanyName   = errors.New("company name is empty")
	ErrCompanyNameTooLong = fmt.Errorf("company name exceeds %d bytes", MaxCompanyNameLen)
)

func validateCompany(name string) error {
	if name == "" {
		return ErrEmptyCompanyName
	}
	if len(name) > MaxCompanyNameLen {
		return ErrCompanyNameTooLong
	}
	return nil
}

// VestingAccountAddress derives the vesting account PDA from [companyName].
func VestingAccountAddress(programID solana.PublicKey, company string) (solana.PublicKey, uint8, error) {
	if err := validateCompany(company); err != nil {
		return solana.PublicKey{}, 0, err
	}
	addr, bump, err := solana.FindProgramAddress([][]byte{[]byte(company)}, programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive vesting account address: %w", err)
	}
	return addr, bump, nil
}

// TreasuryAddress derives the treasury token account PDA from
// ["treasury_token_account", companyName]. The treasury is its own authority.
func TreasuryAddress(programID solana.PublicKey, company string) (solana.PublicKey, uint8, error) {
	if err := validateCompany(company); err != nil {
		return solana.PublicKey{}, 0, err
	}
	addr, bump, err := solana.FindProgramAddress([][]byte{[]byte(TreasurySeed), []byte(company)}, programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive treasury address: %w", err)
	}
	return addr, bump, nil
}

// EmployeeAccountAddress derives the employee PDA from
// ["employee_vesting", beneficiary, vestingAccount].
func EmployeeAccountAddress(programID, beneficiary, vestingAccount solana.PublicKey) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress(
		[][]byte{[]byte(EmployeeSeed), beneficiary[:], vestingAccount[:]},
		programID,
	)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive employee account address: %w", err)
	}
	return addr, bump, nil
}

type VestingAccount struct {
	Owner                solana.PublicKey
	Mint                 solana.PublicKey
	TreasuryTokenAccount solana.PublicKey
	CompanyName          string
	TreasuryBump         uint8
	Bump                 uint8
}

func DecodeVestingAccount(data []byte) (*VestingAccount, error) {
	var v VestingAccount
	if err := anchor.DecodeAccount(data, vestingAccountDiscriminator, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func EncodeVestingAccount(v *VestingAccount) ([]byte, error) {
	return anchor.EncodeAccount(vestingAccountDiscriminator, v)
}

type EmployeeAccount struct {
	Beneficiary    solana.PublicKey
	StartTime      int64
	EndTime        int64
	CliffTime      int64
	VestingAccount solana.PublicKey
	TotalAmount    uint64
	TotalWithdrawn uint64
	Bump           uint8
}

func DecodeEmployeeAccount(data []byte) (*EmployeeAccount, error) {
	var e EmployeeAccount
	if err := anchor.DecodeAccount(data, employeeAccountDiscriminator, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func EncodeEmployeeAccount(e *EmployeeAccount) ([]byte, error) {
	return anchor.EncodeAccount(employeeAccountDiscriminator, e)
}

// Claimable is the amount a claim_tokens at unix time now would transfer,
// computed the way the program does. The error is the one the program would
// fail with.
func (e *EmployeeAccount) Claimable(now int64) (uint64, error) {
	if now < e.CliffTime {
		return 0, ErrClaimNotAvailableYet
	}
	sinceStart := saturatingSub(now, e.StartTime)
	period := saturatingSub(e.EndTime, e.StartTime)
	if period == 0 {
		return 0, ErrInvalidVestPeriod
	}

	var vested uint64
	if now >= e.EndTime {
		vested = e.TotalAmount
	} else {
		// The program multiplies in u64 after casting the i64 elapsed time.
		elapsed := uint64(sinceStart)
		if elapsed != 0 && e.TotalAmount > ^uint64(0)/elapsed {
			return 0, ErrCalculationOverflow
		}
		vested = e.TotalAmount * elapsed / uint64(period)
	}

	if vested <= e.TotalWithdrawn {
		return 0, ErrNothingToClaim
	}
	return vested - e.TotalWithdrawn, nil
}

func saturatingSub(a, b int64) int64 {
	d := a - b
	// Overflow iff the operands have different signs and the result's sign
	// differs from a's.
	if (a >= 0) != (b >= 0) && (d >= 0) != (a >= 0) {
		if a >= 0 {
			return int64(^uint64(0) >> 1)
		}
		return -int64(^uint64(0)>>1) - 1
	}
	return d
}

type createVestingArgs struct {
	CompanyName string
}

type CreateVestingAccountAccounts struct {
	Signer       solana.PublicKey
	Mint         solana.PublicKey
	TokenProgram solana.PublicKey
}

// NewCreateVestingAccountInstruction creates the vesting account and its
// treasury for company.
func NewCreateVestingAccountInstruction(programID solana.PublicKey, accounts CreateVestingAccountAccounts, company string) (solana.Instruction, error) {
	if err := token.ValidateProgram(accounts.TokenProgram); err != nil {
		return nil, err
	}
	vestingAccount, _, err := VestingAccountAddress(programID, company)
	if err != nil {
		return nil, err
	}
	treasury, _, err := TreasuryAddress(programID, company)
	if err != nil {
		return nil, err
	}
	data, err := anchor.EncodeInstructionData(createVestingAccountDiscriminator, &createVestingArgs{CompanyName: company})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(accounts.Signer).WRITE().SIGNER(),
		solana.Meta(vestingAccount).WRITE(),
		solana.Meta(accounts.Mint),
		solana.Meta(treasury).WRITE(),
		solana.Meta(token.SystemProgramID),
		solana.Meta(accounts.TokenProgram),
	}, data), nil
}

type CreateEmployeeAccountArgs struct {
	StartTime   int64
	EndTime     int64
	TotalAmount uint64
	CliffTime   int64
}

type CreateEmployeeAccountAccounts struct {
	Owner          solana.PublicKey
	Beneficiary    solana.PublicKey
	VestingAccount solana.PublicKey
}

// NewCreateEmployeeAccountInstruction grants a beneficiary a vesting
// schedule. Owner must be the vesting account's owner.
func NewCreateEmployeeAccountInstruction(programID solana.PublicKey, accounts CreateEmployeeAccountAccounts, args CreateEmployeeAccountArgs) (solana.Instruction, error) {
	employee, _, err := EmployeeAccountAddress(programID, accounts.Beneficiary, accounts.VestingAccount)
	if err != nil {
		return nil, err
	}
	data, err := anchor.EncodeInstructionData(createEmployeeAccountDiscriminator, &args)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(accounts.Owner).WRITE().SIGNER(),
		solana.Meta(accounts.Beneficiary),
		solana.Meta(accounts.VestingAccount),
		solana.Meta(employee).WRITE(),
		solana.Meta(token.SystemProgramID),
	}, data), nil
}

type ClaimTokensAccounts struct {
	Beneficiary  solana.PublicKey
	Mint         solana.PublicKey
	TokenProgram solana.PublicKey
}

// NewClaimTokensInstruction transfers the vested, unwithdrawn amount from
// the company treasury to the beneficiary's associated token account.
func NewClaimTokensInstruction(programID solana.PublicKey, accounts ClaimTokensAccounts, company string) (solana.Instruction, error) {
	if err := token.ValidateProgram(accounts.TokenProgram); err != nil {
		return nil, err
	}
	vestingAccount, _, err := VestingAccountAddress(programID, company)
	if err != nil {
		return nil, err
	}
	treasury, _, err := TreasuryAddress(programID, company)
	if err != nil {
		return nil, err
	}
	employee, _, err := EmployeeAccountAddress(programID, accounts.Beneficiary, vestingAccount)
	if err != nil {
		return nil, err
	}
	employeeATA, err := token.AssociatedTokenAddress(accounts.Beneficiary, accounts.Mint, accounts.TokenProgram)
	if err != nil {
		return nil, err
	}
	data, err := anchor.EncodeInstructionData(claimTokensDiscriminator, &createVestingArgs{CompanyName: company})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(accounts.Beneficiary).WRITE().SIGNER(),
		solana.Meta(employee).WRITE(),
		solana.Meta(vestingAccount).WRITE(),
		solana.Meta(accounts.Mint),
		solana.Meta(treasury).WRITE(),
		solana.Meta(employeeATA).WRITE(),
		solana.Meta(token.SystemProgramID),
		solana.Meta(accounts.TokenProgram),
		solana.Meta(token.AssociatedTokenProgramID),
	}, data), nil
}
