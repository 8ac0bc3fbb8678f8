package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/KamisAyaka/solana-demos/sdk/anchor"
	"github.com/KamisAyaka/solana-demos/sdk/token"
	"github.com/KamisAyaka/solana-demos/sdk/vesting"
	"github.com/KamisAyaka/solana-demos/utils/pkg/soltx"
)

var (
	ErrVestingAccountNotFound  = errors.New("vesting account not found")
	ErrEmployeeAccountNotFound = errors.New("employee account not found")
	ErrInvalidSchedule         = errors.New("invalid vesting schedule")
)

type VestingResult struct {
	VestingAccount solana.PublicKey
	Treasury       solana.PublicKey
	Signature      solana.Signature
}

// CreateVesting creates the vesting account and treasury for company. The
// token program is the mint's owner.
func (a *Admin) CreateVesting(ctx context.Context, owner solana.PrivateKey, mint solana.PublicKey, company string) (*VestingResult, error) {
	tokenProgram, err := a.mintProgram(ctx, mint)
	if err != nil {
		return nil, err
	}
	ix, err := vesting.NewCreateVestingAccountInstruction(a.cfg.VestingProgramID, vesting.CreateVestingAccountAccounts{
		Signer:       owner.PublicKey(),
		Mint:         mint,
		TokenProgram: tokenProgram,
	}, company)
	if err != nil {
		return nil, err
	}
	vestingAccount, _, err := vesting.VestingAccountAddress(a.cfg.VestingProgramID, company)
	if err != nil {
		return nil, err
	}
	treasury, _, err := vesting.TreasuryAddress(a.cfg.VestingProgramID, company)
	if err != nil {
		return nil, err
	}

	sig, err := a.sender.SendAndConfirm(ctx, []solana.Instruction{ix}, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to create vesting account for %q: %w", company, err)
	}
	a.log.Info("admin: vesting account created", "company", company, "vesting_account", vestingAccount, "signature", sig)
	a.printf("vesting:   %s\n", vestingAccount)
	a.printf("treasury:  %s\n", treasury)
	a.printf("signature: %s\n", sig)
	return &VestingResult{VestingAccount: vestingAccount, Treasury: treasury, Signature: sig}, nil
}

type EmployeeParams struct {
	Owner       solana.PrivateKey
	Beneficiary solana.PublicKey
	Company     string
	Schedule    vesting.CreateEmployeeAccountArgs
}

// CreateEmployee grants a beneficiary a schedule under company's vesting
// account. The program accepts any schedule; ones that could never pay out
// are rejected here.
func (a *Admin) CreateEmployee(ctx context.Context, p EmployeeParams) (solana.PublicKey, solana.Signature, error) {
	s := p.Schedule
	switch {
	case s.TotalAmount == 0:
		return solana.PublicKey{}, solana.Signature{}, fmt.Errorf("%w: total amount is zero", ErrInvalidSchedule)
	case s.EndTime <= s.StartTime:
		return solana.PublicKey{}, solana.Signature{}, fmt.Errorf("%w: end %d is not after start %d", ErrInvalidSchedule, s.EndTime, s.StartTime)
	case s.CliffTime > s.EndTime:
		return solana.PublicKey{}, solana.Signature{}, fmt.Errorf("%w: cliff %d is after end %d", ErrInvalidSchedule, s.CliffTime, s.EndTime)
	}

	vestingAccount, _, err := vesting.VestingAccountAddress(a.cfg.VestingProgramID, p.Company)
	if err != nil {
		return solana.PublicKey{}, solana.Signature{}, err
	}
	ix, err := vesting.NewCreateEmployeeAccountInstruction(a.cfg.VestingProgramID, vesting.CreateEmployeeAccountAccounts{
		Owner:          p.Owner.PublicKey(),
		Beneficiary:    p.Beneficiary,
		VestingAccount: vestingAccount,
	}, s)
	if err != nil {
		return solana.PublicKey{}, solana.Signature{}, err
	}
	employee, _, err := vesting.EmployeeAccountAddress(a.cfg.VestingProgramID, p.Beneficiary, vestingAccount)
	if err != nil {
		return solana.PublicKey{}, solana.Signature{}, err
	}

	sig, err := a.sender.SendAndConfirm(ctx, []solana.Instruction{ix}, p.Owner)
	if err != nil {
		return solana.PublicKey{}, solana.Signature{}, fmt.Errorf("failed to create employee account: %w", err)
	}
	a.log.Info("admin: employee account created",
		"company", p.Company,
		"beneficiary", p.Beneficiary,
		"employee", employee,
		"total", s.TotalAmount,
		"signature", sig)
	a.printf("employee:  %s\n", employee)
	a.printf("signature: %s\n", sig)
	return employee, sig, nil
}

type ClaimResult struct {
	Employee  solana.PublicKey
	Claimed   uint64
	Signature solana.Signature
}

// Claim transfers the beneficiary's vested, unwithdrawn tokens from the
// company treasury. The amount claimed is the change in the beneficiary's
// token account balance.
func (a *Admin) Claim(ctx context.Context, beneficiary solana.PrivateKey, company string) (*ClaimResult, error) {
	va, err := a.VestingAccount(ctx, company)
	if err != nil {
		return nil, err
	}
	tokenProgram, err := a.mintProgram(ctx, va.Mint)
	if err != nil {
		return nil, err
	}
	ix, err := vesting.NewClaimTokensInstruction(a.cfg.VestingProgramID, vesting.ClaimTokensAccounts{
		Beneficiary:  beneficiary.PublicKey(),
		Mint:         va.Mint,
		TokenProgram: tokenProgram,
	}, company)
	if err != nil {
		return nil, err
	}
	ata, err := token.AssociatedTokenAddress(beneficiary.PublicKey(), va.Mint, tokenProgram)
	if err != nil {
		return nil, err
	}
	before, err := a.balanceOrZero(ctx, ata)
	if err != nil {
		return nil, err
	}

	sig, err := a.sender.SendAndConfirm(ctx, []solana.Instruction{ix}, beneficiary)
	if err != nil {
		return nil, fmt.Errorf("failed to claim tokens: %w", err)
	}
	after, err := a.balanceOrZero(ctx, ata)
	if err != nil {
		return nil, err
	}

	vestingAccount, _, err := vesting.VestingAccountAddress(a.cfg.VestingProgramID, company)
	if err != nil {
		return nil, err
	}
	employee, _, err := vesting.EmployeeAccountAddress(a.cfg.VestingProgramID, beneficiary.PublicKey(), vestingAccount)
	if err != nil {
		return nil, err
	}
	var claimed uint64
	if after > before {
		claimed = after - before
	}
	a.log.Info("admin: tokens claimed", "company", company, "beneficiary", beneficiary.PublicKey(), "claimed", claimed, "signature", sig)
	a.printf("employee:  %s\n", employee)
	a.printf("claimed:   %d\n", claimed)
	a.printf("signature: %s\n", sig)
	return &ClaimResult{Employee: employee, Claimed: claimed, Signature: sig}, nil
}

// VestingAccount reads company's vesting account.
func (a *Admin) VestingAccount(ctx context.Context, company string) (*vesting.VestingAccount, error) {
	addr, _, err := vesting.VestingAccountAddress(a.cfg.VestingProgramID, company)
	if err != nil {
		return nil, err
	}
	data, err := a.programAccount(ctx, addr, a.cfg.VestingProgramID)
	if errors.Is(err, soltx.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrVestingAccountNotFound, company)
	}
	if err != nil {
		return nil, err
	}
	va, err := vesting.DecodeVestingAccount(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode vesting account %s: %w", addr, err)
	}
	return va, nil
}

type EmployeeStatus struct {
	Address solana.PublicKey
	Account *vesting.EmployeeAccount

	// Claimable is what a claim now would transfer. ClaimErr is the program
	// error a claim now would fail with, if any.
	Claimable uint64
	ClaimErr  error
}

// Employee reads a beneficiary's schedule and previews a claim at the
// current time.
func (a *Admin) Employee(ctx context.Context, beneficiary solana.PublicKey, company string) (*EmployeeStatus, error) {
	vestingAccount, _, err := vesting.VestingAccountAddress(a.cfg.VestingProgramID, company)
	if err != nil {
		return nil, err
	}
	addr, _, err := vesting.EmployeeAccountAddress(a.cfg.VestingProgramID, beneficiary, vestingAccount)
	if err != nil {
		return nil, err
	}
	data, err := a.programAccount(ctx, addr, a.cfg.VestingProgramID)
	if errors.Is(err, soltx.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrEmployeeAccountNotFound, addr)
	}
	if err != nil {
		return nil, err
	}
	acc, err := vesting.DecodeEmployeeAccount(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode employee account %s: %w", addr, err)
	}
	claimable, claimErr := acc.Claimable(a.cfg.Clock.Now().Unix())
	return &EmployeeStatus{Address: addr, Account: acc, Claimable: claimable, ClaimErr: claimErr}, nil
}

// ShowEmployee prints Employee.
func (a *Admin) ShowEmployee(ctx context.Context, beneficiary solana.PublicKey, company string) error {
	st, err := a.Employee(ctx, beneficiary, company)
	if err != nil {
		return err
	}
	acc := st.Account
	a.printf("employee:    %s\n", st.Address)
	a.printf("beneficiary: %s\n", acc.Beneficiary)
	a.printf("start:       %s\n", unixTime(acc.StartTime))
	a.printf("cliff:       %s\n", unixTime(acc.CliffTime))
	a.printf("end:         %s\n", unixTime(acc.EndTime))
	a.printf("total:       %d\n", acc.TotalAmount)
	a.printf("withdrawn:   %d\n", acc.TotalWithdrawn)
	var perr *anchor.ProgramError
	switch {
	case st.ClaimErr == nil:
		a.printf("claimable:   %d\n", st.Claimable)
	case errors.As(st.ClaimErr, &perr):
		a.printf("claimable:   0 (%s)\n", perr.Name)
	default:
		a.printf("claimable:   0 (%s)\n", st.ClaimErr)
	}
	return nil
}

func (a *Admin) mintProgram(ctx context.Context, mint solana.PublicKey) (solana.PublicKey, error) {
	info, err := a.reader.Account(ctx, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to read mint %s: %w", mint, err)
	}
	if err := token.ValidateProgram(info.Owner); err != nil {
		return solana.PublicKey{}, fmt.Errorf("mint %s: %w", mint, err)
	}
	return info.Owner, nil
}

func (a *Admin) balanceOrZero(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	n, err := a.reader.TokenBalance(ctx, addr)
	if errors.Is(err, soltx.ErrAccountNotFound) {
		return 0, nil
	}
	return n, err
}
