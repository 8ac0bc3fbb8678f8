// Package cli implements the escrow command line: make, take and cancel
// offers through the orchestrator, and inspect offers on chain and in the
// journal.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gagliardetto/solana-go"
	flag "github.com/spf13/pflag"

	"github.com/KamisAyaka/solana-demos/escrow/pkg/journal"
	"github.com/KamisAyaka/solana-demos/escrow/pkg/orchestrator"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrNoJournal      = errors.New("offer journal is not configured (set POSTGRES_DB, POSTGRES_USER and POSTGRES_PASSWORD)")
)

// Journal is the read side of the offer journal.
type Journal interface {
	Get(ctx context.Context, offer solana.PublicKey) (*journal.Entry, error)
	List(ctx context.Context, filter journal.ListFilter) ([]journal.Entry, error)
}

var _ Journal = (*journal.Journal)(nil)

type Config struct {
	Logger       *slog.Logger
	Orchestrator *orchestrator.Orchestrator
	Out          io.Writer

	// Journal is optional; list requires it.
	Journal Journal

	// LoadKey reads a keypair file. Defaults to the solana-keygen JSON format.
	LoadKey func(path string) (solana.PrivateKey, error)
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Orchestrator == nil {
		return errors.New("orchestrator is required")
	}
	if cfg.Out == nil {
		return errors.New("output writer is required")
	}
	if cfg.LoadKey == nil {
		cfg.LoadKey = solana.PrivateKeyFromSolanaKeygenFile
	}
	return nil
}

type CLI struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*CLI, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &CLI{log: cfg.Logger, cfg: cfg}, nil
}

// Commands lists the subcommands in help order.
var Commands = []string{"make", "take", "cancel", "show", "list"}

// Run executes the subcommand named by args[0].
func (c *CLI) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: expected one of %s", ErrUnknownCommand, strings.Join(Commands, ", "))
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "make":
		return c.makeOffer(ctx, rest)
	case "take":
		return c.takeOffer(ctx, rest)
	case "cancel":
		return c.cancelOffer(ctx, rest)
	case "show":
		return c.show(ctx, rest)
	case "list":
		return c.list(ctx, rest)
	}
	return fmt.Errorf("%w %q: expected one of %s", ErrUnknownCommand, cmd, strings.Join(Commands, ", "))
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

func (c *CLI) makeOffer(ctx context.Context, args []string) error {
	fs := newFlagSet("make")
	keypair := fs.String("keypair", "", "maker keypair file")
	mintA := fs.String("mint-a", "", "mint of the offered token")
	mintB := fs.String("mint-b", "", "mint of the wanted token")
	offered := fs.Uint64("offered", 0, "amount of mint A deposited into the vault (base units)")
	wanted := fs.Uint64("wanted", 0, "amount of mint B asked in return (base units)")
	offerID := fs.Uint64("offer-id", 0, "offer ID (omit to pick a random one)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	maker, err := c.key(*keypair)
	if err != nil {
		return err
	}
	a, err := parseKey("mint-a", *mintA)
	if err != nil {
		return err
	}
	b, err := parseKey("mint-b", *mintB)
	if err != nil {
		return err
	}
	if *offered == 0 || *wanted == 0 {
		return errors.New("--offered and --wanted must be positive")
	}

	res, err := c.cfg.Orchestrator.Make(ctx, orchestrator.MakeParams{
		Maker:         maker,
		OfferID:       *offerID,
		RandomOfferID: !fs.Changed("offer-id"),
		MintA:         a,
		MintB:         b,
		AmountOffered: *offered,
		AmountWanted:  *wanted,
	})
	if err != nil {
		return err
	}
	c.printf("offer:     %s\n", res.Offer)
	c.printf("offer id:  %d\n", res.OfferID)
	c.printf("vault:     %s (%d)\n", res.Vault, res.VaultBalance)
	c.printf("signature: %s\n", res.Signature)
	return nil
}

func (c *CLI) takeOffer(ctx context.Context, args []string) error {
	fs := newFlagSet("take")
	keypair := fs.String("keypair", "", "taker keypair file")
	offer := fs.String("offer", "", "offer address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	taker, err := c.key(*keypair)
	if err != nil {
		return err
	}
	addr, err := parseKey("offer", *offer)
	if err != nil {
		return err
	}

	res, err := c.cfg.Orchestrator.Take(ctx, orchestrator.TakeParams{Taker: taker, Offer: addr})
	if err != nil {
		return err
	}
	c.printf("offer:     %s\n", res.Offer)
	c.printf("received:  %d\n", res.Received)
	c.printf("paid:      %d\n", res.Paid)
	c.printf("signature: %s\n", res.Signature)
	return nil
}

func (c *CLI) cancelOffer(ctx context.Context, args []string) error {
	fs := newFlagSet("cancel")
	keypair := fs.String("keypair", "", "maker keypair file")
	offerID := fs.Uint64("offer-id", 0, "offer ID")
	offer := fs.String("offer", "", "offer address (instead of --offer-id)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	maker, err := c.key(*keypair)
	if err != nil {
		return err
	}
	p := orchestrator.CancelParams{Maker: maker, OfferID: *offerID}
	if *offer != "" {
		if p.Offer, err = parseKey("offer", *offer); err != nil {
			return err
		}
	}
	if p.Offer.IsZero() && !fs.Changed("offer-id") {
		return errors.New("one of --offer or --offer-id is required")
	}

	res, err := c.cfg.Orchestrator.Cancel(ctx, p)
	if err != nil {
		return err
	}
	c.printf("offer:     %s\n", res.Offer)
	c.printf("refunded:  %d\n", res.Refunded)
	c.printf("signature: %s\n", res.Signature)
	return nil
}

func (c *CLI) show(ctx context.Context, args []string) error {
	fs := newFlagSet("show")
	offer := fs.String("offer", "", "offer address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := parseKey("offer", *offer)
	if err != nil {
		return err
	}

	var entry *journal.Entry
	if c.cfg.Journal != nil {
		entry, err = c.cfg.Journal.Get(ctx, addr)
		if err != nil && !errors.Is(err, journal.ErrNotFound) {
			c.log.Warn("cli: failed to read journal", "offer", addr, "error", err)
		}
	}

	state, err := c.cfg.Orchestrator.FetchOffer(ctx, addr)
	switch {
	case errors.Is(err, orchestrator.ErrOfferNotFound):
		c.printf("offer:     %s\n", addr)
		c.printf("on chain:  closed\n")
	case err != nil:
		return err
	default:
		vault, err := c.cfg.Orchestrator.VaultBalance(ctx, addr, state.TokenMintA)
		if err != nil {
			return err
		}
		c.printf("offer:     %s\n", addr)
		c.printf("offer id:  %d\n", state.OfferID)
		c.printf("maker:     %s\n", state.Maker)
		c.printf("mint a:    %s\n", state.TokenMintA)
		c.printf("mint b:    %s\n", state.TokenMintB)
		c.printf("wanted:    %d\n", state.TokenBWantedAmount)
		c.printf("vault:     %d\n", vault)
		c.printf("cancelled: %t\n", state.IsCancelled)
	}

	if entry != nil {
		c.printf("journal:   %s since %s\n", entry.Status, entry.CreatedAt.Format(time.RFC3339))
		if entry.Status != journal.StatusOpen {
			c.printf("resolved:  %s by %s\n", entry.ResolvedAt.Format(time.RFC3339), entry.ResolveSignature)
		}
	}
	return nil
}

func (c *CLI) list(ctx context.Context, args []string) error {
	fs := newFlagSet("list")
	maker := fs.String("maker", "", "only offers by this maker")
	status := fs.String("status", "", "only offers in this status (open, taken, cancelled)")
	limit := fs.Int("limit", 50, "maximum number of offers")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if c.cfg.Journal == nil {
		return ErrNoJournal
	}

	filter := journal.ListFilter{Status: journal.Status(*status), Limit: *limit}
	if *maker != "" {
		var err error
		if filter.Maker, err = parseKey("maker", *maker); err != nil {
			return err
		}
	}
	entries, err := c.cfg.Journal.List(ctx, filter)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.cfg.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OFFER\tID\tMAKER\tOFFERED\tWANTED\tSTATUS\tCREATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%s\t%s\n",
			e.Offer, e.OfferID, e.Maker, e.AmountOffered, e.AmountWanted, e.Status,
			e.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func (c *CLI) key(path string) (solana.PrivateKey, error) {
	if path == "" {
		return nil, errors.New("--keypair is required")
	}
	key, err := c.cfg.LoadKey(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair %s: %w", path, err)
	}
	return key, nil
}

func (c *CLI) printf(format string, args ...any) {
	fmt.Fprintf(c.cfg.Out, format, args...)
}

func parseKey(name, s string) (solana.PublicKey, error) {
	if s == "" {
		return solana.PublicKey{}, fmt.Errorf("--%s is required", name)
	}
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return pk, nil
}
