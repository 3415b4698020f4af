package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/junheony/arbitrage-full/internal/crypto"
	"github.com/junheony/arbitrage-full/internal/domain"
)

// CredentialHandler serves venue credential endpoints. Secret material is
// never echoed back; reads return redacted values only.
type CredentialHandler struct {
	creds  domain.CredentialStore
	logger *slog.Logger
}

// NewCredentialHandler creates a CredentialHandler.
func NewCredentialHandler(creds domain.CredentialStore, logger *slog.Logger) *CredentialHandler {
	return &CredentialHandler{
		creds:  creds,
		logger: logHandler(logger, "credential"),
	}
}

// upsertCredentialRequest is the credential write body.
type upsertCredentialRequest struct {
	Venue      string `json:"venue"`
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	Passphrase string `json:"passphrase,omitempty"`
}

// credentialResponse is the redacted credential view.
type credentialResponse struct {
	Venue      string `json:"venue"`
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	Passphrase string `json:"passphrase,omitempty"`
}

// UpsertCredential stores or replaces the acting user's credential for a
// venue. The store encrypts the secret material before it touches disk.
// PUT /api/credentials
func (h *CredentialHandler) UpsertCredential(w http.ResponseWriter, r *http.Request) {
	var req upsertCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Venue = strings.ToLower(strings.TrimSpace(req.Venue))
	if req.Venue == "" || req.APIKey == "" || req.APISecret == "" {
		writeError(w, http.StatusBadRequest, "venue, api_key and api_secret are required")
		return
	}

	uid := userID(r)
	cred := domain.VenueCredential{
		UserID:     uid,
		Venue:      req.Venue,
		APIKey:     req.APIKey,
		APISecret:  req.APISecret,
		Passphrase: req.Passphrase,
	}
	if err := h.creds.Upsert(r.Context(), cred); err != nil {
		h.logger.ErrorContext(r.Context(), "upsert credential failed",
			slog.String("user_id", uid),
			slog.String("venue", req.Venue),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to store credential")
		return
	}

	writeJSON(w, http.StatusOK, redacted(cred))
}

// GetCredential returns the redacted credential for one venue.
// GET /api/credentials/{venue}
func (h *CredentialHandler) GetCredential(w http.ResponseWriter, r *http.Request) {
	venue := strings.ToLower(pathParam(r, "venue"))
	if venue == "" {
		writeError(w, http.StatusBadRequest, "missing venue")
		return
	}

	uid := userID(r)
	cred, err := h.creds.Get(r.Context(), uid, venue)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no credential for venue")
			return
		}
		h.logger.ErrorContext(r.Context(), "get credential failed",
			slog.String("user_id", uid),
			slog.String("venue", venue),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get credential")
		return
	}

	writeJSON(w, http.StatusOK, redacted(cred))
}

// DeleteCredential removes the acting user's credential for one venue.
// DELETE /api/credentials/{venue}
func (h *CredentialHandler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	venue := strings.ToLower(pathParam(r, "venue"))
	if venue == "" {
		writeError(w, http.StatusBadRequest, "missing venue")
		return
	}

	uid := userID(r)
	if err := h.creds.Delete(r.Context(), uid, venue); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no credential for venue")
			return
		}
		h.logger.ErrorContext(r.Context(), "delete credential failed",
			slog.String("user_id", uid),
			slog.String("venue", venue),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete credential")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "deleted",
		"venue":  venue,
	})
}

// redacted masks the secret material for API responses.
func redacted(cred domain.VenueCredential) credentialResponse {
	resp := credentialResponse{
		Venue:     cred.Venue,
		APIKey:    crypto.Redact(cred.APIKey),
		APISecret: crypto.Redact(cred.APISecret),
	}
	if cred.Passphrase != "" {
		resp.Passphrase = crypto.Redact(cred.Passphrase)
	}
	return resp
}
