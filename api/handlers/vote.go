package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/KamisAyaka/solana-demos/api/metrics"
	"github.com/KamisAyaka/solana-demos/sdk/voting"
	"github.com/KamisAyaka/solana-demos/utils/pkg/soltx"
)

const (
	VotePath = "/api/vote"

	voteIcon        = "https://media.istockphoto.com/id/534129810/photo/textured-rainbow-painted-background.jpg?s=1024x1024&w=is&k=20&c=VQR3_x8kJcP3qBzrWeUj7ZwSt2G2QqAnBggDtR0Pix4="
	voteTitle       = "Vote for your favorite picture"
	voteDescription = "Vote between 2 pictures"
	voteLabel       = "Vote"

	maxVoteBodyBytes = 1 << 16
	buildTimeout     = 10 * time.Second
)

// DefaultCandidates is the candidate allow-list of poll 1.
var DefaultCandidates = []string{"Smooth", "Drity"}

const DefaultPollID = 1

type VoteConfig struct {
	Logger     *slog.Logger
	Sender     *soltx.Sender
	ProgramID  solana.PublicKey
	PollID     uint64
	Candidates []string
}

func (cfg *VoteConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Sender == nil {
		return errors.New("sender is required")
	}
	if cfg.ProgramID.IsZero() {
		cfg.ProgramID = voting.ProgramID
	}
	if cfg.PollID == 0 {
		cfg.PollID = DefaultPollID
	}
	if len(cfg.Candidates) == 0 {
		cfg.Candidates = DefaultCandidates
	}
	for _, name := range cfg.Candidates {
		if _, _, err := voting.CandidateAddress(cfg.ProgramID, cfg.PollID, name); err != nil {
			return err
		}
	}
	return nil
}

// VoteHandler serves the vote action: metadata on GET and OPTIONS, an
// unsigned vote transaction on POST.
type VoteHandler struct {
	log *slog.Logger
	cfg VoteConfig
}

func NewVoteHandler(cfg VoteConfig) (*VoteHandler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &VoteHandler{log: cfg.Logger, cfg: cfg}, nil
}

// GetMetadata handles GET and OPTIONS /api/vote
func (h *VoteHandler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	actions := make([]LinkedAction, 0, len(h.cfg.Candidates))
	for _, name := range h.cfg.Candidates {
		actions = append(actions, LinkedAction{
			Type:  "post",
			Label: "Vote for " + name,
			Href:  VotePath + "?candidate=" + url.QueryEscape(name),
		})
	}
	writeJSON(w, http.StatusOK, ActionGetResponse{
		Icon:        voteIcon,
		Title:       voteTitle,
		Description: voteDescription,
		Label:       voteLabel,
		Links:       &ActionLinks{Actions: actions},
	})
}

// Post handles POST /api/vote?candidate=<name>
func (h *VoteHandler) Post(w http.ResponseWriter, r *http.Request) {
	candidate := r.URL.Query().Get("candidate")
	if !slices.Contains(h.cfg.Candidates, candidate) {
		metrics.RecordVote("", "invalid_candidate")
		writeError(w, http.StatusBadRequest, "Invalid candidate")
		return
	}

	var body ActionPostRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxVoteBodyBytes)).Decode(&body); err != nil {
		h.log.Debug("vote: malformed request body", "error", err)
		metrics.RecordVote(candidate, "invalid_account")
		writeError(w, http.StatusBadRequest, "Invalid account")
		return
	}
	voter, ok := parsePublicKey(body.Account)
	if !ok {
		metrics.RecordVote(candidate, "invalid_account")
		writeError(w, http.StatusBadRequest, "Invalid account")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), buildTimeout)
	defer cancel()

	tx, err := h.buildVote(ctx, voter, candidate)
	if err != nil {
		h.log.Error("vote: failed to build transaction", "candidate", candidate, "voter", voter, "error", err)
		metrics.RecordVote(candidate, "error")
		writeError(w, http.StatusInternalServerError, "Failed to build transaction")
		return
	}

	metrics.RecordVote(candidate, "built")
	h.log.Debug("vote: transaction built", "candidate", candidate, "voter", voter)
	writeJSON(w, http.StatusOK, ActionPostResponse{
		Type:        "transaction",
		Transaction: tx,
	})
}

func (h *VoteHandler) buildVote(ctx context.Context, voter solana.PublicKey, candidate string) (string, error) {
	ix, err := voting.NewVoteInstruction(h.cfg.ProgramID, voter, h.cfg.PollID, candidate)
	if err != nil {
		return "", err
	}

	start := time.Now()
	tx, err := h.cfg.Sender.BuildTransaction(ctx, []solana.Instruction{ix}, voter)
	metrics.RecordRPCRequest("getLatestBlockhash", time.Since(start), err)
	if err != nil {
		return "", err
	}
	return soltx.EncodeUnsigned(tx)
}

// parsePublicKey accepts only base58 strings that decode to exactly 32
// bytes.
func parsePublicKey(s string) (solana.PublicKey, bool) {
	if s == "" {
		return solana.PublicKey{}, false
	}
	raw, err := base58.Decode(s)
	if err != nil || len(raw) != solana.PublicKeyLength {
		return solana.PublicKey{}, false
	}
	return solana.PublicKeyFromBytes(raw), true
}
