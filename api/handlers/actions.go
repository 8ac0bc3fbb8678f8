package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ActionVersion is the Solana Actions protocol version this server implements.
const ActionVersion = "2.4"

// ActionGetResponse is the metadata document a blink client renders.
type ActionGetResponse struct {
	Type        string       `json:"type,omitempty"`
	Icon        string       `json:"icon"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Label       string       `json:"label"`
	Disabled    bool         `json:"disabled,omitempty"`
	Links       *ActionLinks `json:"links,omitempty"`
}

type ActionLinks struct {
	Actions []LinkedAction `json:"actions"`
}

type LinkedAction struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	Href  string `json:"href"`
}

// ActionPostRequest is the body a wallet posts to an action endpoint.
type ActionPostRequest struct {
	Account string `json:"account"`
}

// ActionPostResponse carries the base64 unsigned transaction for the wallet
// to sign and submit.
type ActionPostResponse struct {
	Type        string `json:"type"`
	Transaction string `json:"transaction"`
	Message     string `json:"message,omitempty"`
}

// ActionError is the body of every non-2xx action response.
type ActionError struct {
	Error string `json:"error"`
}

// ActionsJSON is the /actions.json rules document.
type ActionsJSON struct {
	Rules []ActionRule `json:"rules"`
}

type ActionRule struct {
	PathPattern string `json:"pathPattern"`
	APIPath     string `json:"apiPath"`
}

// GetActionsJSON maps every /api route to itself so blink clients resolve
// website URLs to the action API.
func GetActionsJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ActionsJSON{
		Rules: []ActionRule{
			{PathPattern: "/api/**", APIPath: "/api/**"},
		},
	})
}

// ActionHeaders sets the headers blink clients use to check protocol and
// chain compatibility. chainID may be empty for clusters without a CAIP-2
// identifier.
func ActionHeaders(chainID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Action-Version", ActionVersion)
			if chainID != "" {
				w.Header().Set("X-Blockchain-Ids", chainID)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ActionError{Error: msg})
}
