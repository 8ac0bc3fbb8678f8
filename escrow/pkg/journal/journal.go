// Package journal records the offers an orchestrator has made and how they
// were resolved, so makers can find their open offers without remembering
// the random offer IDs.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
)

var ErrNotFound = errors.New("journal entry not found")

type Status string

const (
	StatusOpen      Status = "open"
	StatusTaken     Status = "taken"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusTaken, StatusCancelled:
		return true
	}
	return false
}

// Entry is one offer as the journal knows it. Taker, ResolveSignature and
// ResolvedAt are zero while the offer is open.
type Entry struct {
	ID            uuid.UUID
	ProgramID     solana.PublicKey
	Offer         solana.PublicKey
	Vault         solana.PublicKey
	OfferID       uint64
	Maker         solana.PublicKey
	MintA         solana.PublicKey
	MintB         solana.PublicKey
	TokenProgram  solana.PublicKey
	AmountOffered uint64
	AmountWanted  uint64
	Status        Status
	MakeSignature solana.Signature

	Taker            solana.PublicKey
	ResolveSignature solana.Signature
	CreatedAt        time.Time
	ResolvedAt       time.Time
}

type Config struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	Clock  clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("pool is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Journal struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Journal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Journal{log: cfg.Logger, cfg: cfg}, nil
}

// RecordMade inserts an open entry for a confirmed make_offer and returns it
// with ID, Status and CreatedAt filled in.
func (j *Journal) RecordMade(ctx context.Context, e Entry) (Entry, error) {
	e.ID = uuid.New()
	e.Status = StatusOpen
	e.CreatedAt = j.cfg.Clock.Now().UTC()
	e.Taker = solana.PublicKey{}
	e.ResolveSignature = solana.Signature{}
	e.ResolvedAt = time.Time{}

	_, err := j.cfg.Pool.Exec(ctx, `
		INSERT INTO escrow_offers (
			id, program_id, offer_address, vault_address, offer_id, maker,
			token_mint_a, token_mint_b, token_program,
			token_a_offered_amount, token_b_wanted_amount,
			status, make_signature, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID,
		e.ProgramID.String(),
		e.Offer.String(),
		e.Vault.String(),
		numeric(e.OfferID),
		e.Maker.String(),
		e.MintA.String(),
		e.MintB.String(),
		e.TokenProgram.String(),
		numeric(e.AmountOffered),
		numeric(e.AmountWanted),
		string(e.Status),
		e.MakeSignature.String(),
		e.CreatedAt,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to insert offer %s: %w", e.Offer, err)
	}
	j.log.Debug("journal: offer recorded", "offer", e.Offer, "maker", e.Maker, "offerID", e.OfferID)
	return e, nil
}

// RecordTaken marks the open entry for offer as taken by taker.
func (j *Journal) RecordTaken(ctx context.Context, offer, taker solana.PublicKey, sig solana.Signature) error {
	return j.resolve(ctx, offer, StatusTaken, &taker, sig)
}

// RecordCancelled marks the open entry for offer as cancelled.
func (j *Journal) RecordCancelled(ctx context.Context, offer solana.PublicKey, sig solana.Signature) error {
	return j.resolve(ctx, offer, StatusCancelled, nil, sig)
}

func (j *Journal) resolve(ctx context.Context, offer solana.PublicKey, status Status, taker *solana.PublicKey, sig solana.Signature) error {
	var takerStr *string
	if taker != nil {
		s := taker.String()
		takerStr = &s
	}
	tag, err := j.cfg.Pool.Exec(ctx, `
		UPDATE escrow_offers
		SET status = $2, taker = $3, resolve_signature = $4, resolved_at = $5
		WHERE offer_address = $1 AND status = 'open'`,
		offer.String(), string(status), takerStr, sig.String(), j.cfg.Clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark offer %s %s: %w", offer, status, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: open offer %s", ErrNotFound, offer)
	}
	j.log.Debug("journal: offer resolved", "offer", offer, "status", status)
	return nil
}

const selectColumns = `
	id, program_id, offer_address, vault_address, offer_id::text, maker,
	token_mint_a, token_mint_b, token_program,
	token_a_offered_amount::text, token_b_wanted_amount::text,
	status, make_signature, taker, resolve_signature, created_at, resolved_at`

// Get returns the most recent entry for offer.
func (j *Journal) Get(ctx context.Context, offer solana.PublicKey) (*Entry, error) {
	rows, err := j.cfg.Pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM escrow_offers
		WHERE offer_address = $1
		ORDER BY created_at DESC
		LIMIT 1`, offer.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query offer %s: %w", offer, err)
	}
	entries, err := collect(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, offer)
	}
	return &entries[0], nil
}

// ListFilter narrows List. Zero fields match everything; Limit defaults to 100.
type ListFilter struct {
	Maker  solana.PublicKey
	Status Status
	Limit  int
}

// List returns entries newest first.
func (j *Journal) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	var (
		conds []string
		args  []any
	)
	if !filter.Maker.IsZero() {
		args = append(args, filter.Maker.String())
		conds = append(conds, fmt.Sprintf("maker = $%d", len(args)))
	}
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, fmt.Errorf("invalid status filter %q", filter.Status)
		}
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := `SELECT ` + selectColumns + ` FROM escrow_offers`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := j.cfg.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]Entry, error) {
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("failed to read offer rows: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.CollectableRow) (Entry, error) {
	var (
		e                                                       Entry
		programID, offer, vault, maker, mintA, mintB, tokenProg string
		offerID, offered, wanted, status, makeSig               string
		taker, resolveSig                                       *string
		resolvedAt                                              *time.Time
	)
	if err := row.Scan(
		&e.ID, &programID, &offer, &vault, &offerID, &maker,
		&mintA, &mintB, &tokenProg,
		&offered, &wanted,
		&status, &makeSig, &taker, &resolveSig, &e.CreatedAt, &resolvedAt,
	); err != nil {
		return Entry{}, fmt.Errorf("failed to scan offer row: %w", err)
	}

	var err error
	keys := []struct {
		dst *solana.PublicKey
		src string
	}{
		{&e.ProgramID, programID},
		{&e.Offer, offer},
		{&e.Vault, vault},
		{&e.Maker, maker},
		{&e.MintA, mintA},
		{&e.MintB, mintB},
		{&e.TokenProgram, tokenProg},
	}
	for _, k := range keys {
		if *k.dst, err = solana.PublicKeyFromBase58(k.src); err != nil {
			return Entry{}, fmt.Errorf("failed to parse public key %q: %w", k.src, err)
		}
	}
	if e.OfferID, err = strconv.ParseUint(offerID, 10, 64); err != nil {
		return Entry{}, fmt.Errorf("failed to parse offer id %q: %w", offerID, err)
	}
	if e.AmountOffered, err = strconv.ParseUint(offered, 10, 64); err != nil {
		return Entry{}, fmt.Errorf("failed to parse offered amount %q: %w", offered, err)
	}
	if e.AmountWanted, err = strconv.ParseUint(wanted, 10, 64); err != nil {
		return Entry{}, fmt.Errorf("failed to parse wanted amount %q: %w", wanted, err)
	}
	if e.MakeSignature, err = solana.SignatureFromBase58(makeSig); err != nil {
		return Entry{}, fmt.Errorf("failed to parse make signature: %w", err)
	}
	if taker != nil {
		if e.Taker, err = solana.PublicKeyFromBase58(*taker); err != nil {
			return Entry{}, fmt.Errorf("failed to parse taker %q: %w", *taker, err)
		}
	}
	if resolveSig != nil {
		if e.ResolveSignature, err = solana.SignatureFromBase58(*resolveSig); err != nil {
			return Entry{}, fmt.Errorf("failed to parse resolve signature: %w", err)
		}
	}
	if resolvedAt != nil {
		e.ResolvedAt = resolvedAt.UTC()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.Status = Status(status)
	return e, nil
}

func numeric(v uint64) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(v), Valid: true}
}
