package admin

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"github.com/KamisAyaka/solana-demos/sdk/voting"
	"github.com/KamisAyaka/solana-demos/utils/pkg/soltx"
)

var (
	ErrPollNotFound      = errors.New("poll not found")
	ErrCandidateNotFound = errors.New("candidate not found")
	ErrWrongOwner        = errors.New("account is not owned by the program")
)

const maxConcurrentReads = 8

// InitPoll creates a poll. The authority pays for the poll account.
func (a *Admin) InitPoll(ctx context.Context, authority solana.PrivateKey, args voting.InitializePollArgs) (solana.Signature, error) {
	if args.PollEnd != 0 && args.PollEnd < args.PollStart {
		return solana.Signature{}, fmt.Errorf("poll end %d is before poll start %d", args.PollEnd, args.PollStart)
	}
	ix, err := voting.NewInitializePollInstruction(a.cfg.VotingProgramID, authority.PublicKey(), args)
	if err != nil {
		return solana.Signature{}, err
	}
	sig, err := a.sender.SendAndConfirm(ctx, []solana.Instruction{ix}, authority)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to initialize poll %d: %w", args.PollID, err)
	}
	poll, _, err := voting.PollAddress(a.cfg.VotingProgramID, args.PollID)
	if err != nil {
		return solana.Signature{}, err
	}

	a.log.Info("admin: poll initialized", "poll_id", args.PollID, "poll", poll, "signature", sig)
	a.printf("poll:      %s\n", poll)
	a.printf("poll id:   %d\n", args.PollID)
	a.printf("signature: %s\n", sig)
	return sig, nil
}

// InitCandidates registers each name on the poll, one transaction per
// candidate. It stops at the first failure; earlier candidates stay
// registered.
func (a *Admin) InitCandidates(ctx context.Context, authority solana.PrivateKey, pollID uint64, names []string) ([]solana.Signature, error) {
	if len(names) == 0 {
		return nil, errors.New("at least one candidate is required")
	}
	sigs := make([]solana.Signature, 0, len(names))
	for _, name := range names {
		ix, err := voting.NewInitializeCandidateInstruction(a.cfg.VotingProgramID, authority.PublicKey(), pollID, name)
		if err != nil {
			return sigs, fmt.Errorf("candidate %q: %w", name, err)
		}
		sig, err := a.sender.SendAndConfirm(ctx, []solana.Instruction{ix}, authority)
		if err != nil {
			return sigs, fmt.Errorf("failed to initialize candidate %q: %w", name, err)
		}
		a.log.Info("admin: candidate initialized", "poll_id", pollID, "candidate", name, "signature", sig)
		a.printf("%-12s %s\n", name, sig)
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

type Tally struct {
	Poll       *voting.Poll
	Candidates []*voting.Candidate
}

// PollTally reads the poll and the named candidates. Candidates are returned
// by descending vote count; ties keep the order they were named in.
func (a *Admin) PollTally(ctx context.Context, pollID uint64, names []string) (*Tally, error) {
	pollAddr, _, err := voting.PollAddress(a.cfg.VotingProgramID, pollID)
	if err != nil {
		return nil, err
	}
	data, err := a.programAccount(ctx, pollAddr, a.cfg.VotingProgramID)
	if errors.Is(err, soltx.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrPollNotFound, pollID)
	}
	if err != nil {
		return nil, err
	}
	poll, err := voting.DecodePoll(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode poll %d: %w", pollID, err)
	}

	candidates := make([]*voting.Candidate, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)
	for i, name := range names {
		g.Go(func() error {
			addr, _, err := voting.CandidateAddress(a.cfg.VotingProgramID, pollID, name)
			if err != nil {
				return fmt.Errorf("candidate %q: %w", name, err)
			}
			data, err := a.programAccount(gctx, addr, a.cfg.VotingProgramID)
			if errors.Is(err, soltx.ErrAccountNotFound) {
				return fmt.Errorf("%w: %q", ErrCandidateNotFound, name)
			}
			if err != nil {
				return err
			}
			c, err := voting.DecodeCandidate(data)
			if err != nil {
				return fmt.Errorf("failed to decode candidate %q: %w", name, err)
			}
			candidates[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slices.SortStableFunc(candidates, func(x, y *voting.Candidate) int {
		switch {
		case x.CandidateVotes > y.CandidateVotes:
			return -1
		case x.CandidateVotes < y.CandidateVotes:
			return 1
		}
		return 0
	})
	return &Tally{Poll: poll, Candidates: candidates}, nil
}

// ShowPoll prints PollTally.
func (a *Admin) ShowPoll(ctx context.Context, pollID uint64, names []string) error {
	t, err := a.PollTally(ctx, pollID, names)
	if err != nil {
		return err
	}
	a.printf("poll id:     %d\n", t.Poll.PollID)
	a.printf("description: %s\n", t.Poll.Description)
	a.printf("start:       %s\n", unixTime(int64(t.Poll.PollStart)))
	a.printf("end:         %s\n", unixTime(int64(t.Poll.PollEnd)))
	a.printf("candidates:  %d\n", t.Poll.CandidateAmount)
	if len(t.Candidates) == 0 {
		return nil
	}
	a.printf("\n")
	tw := tabwriter.NewWriter(a.cfg.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CANDIDATE\tVOTES")
	for _, c := range t.Candidates {
		fmt.Fprintf(tw, "%s\t%d\n", c.CandidateName, c.CandidateVotes)
	}
	return tw.Flush()
}

func (a *Admin) programAccount(ctx context.Context, addr, programID solana.PublicKey) ([]byte, error) {
	info, err := a.reader.Account(ctx, addr)
	if err != nil {
		return nil, err
	}
	if !info.Owner.Equals(programID) {
		return nil, fmt.Errorf("%w: %s is owned by %s", ErrWrongOwner, addr, info.Owner)
	}
	return info.Data, nil
}
