package handler

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/receiptq/internal/api/middleware"
	"github.com/kiranshivaraju/receiptq/internal/api/response"
	"github.com/kiranshivaraju/receiptq/internal/store"
	"github.com/kiranshivaraju/receiptq/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// RawKeyPrefix marks keys issued by this service.
const RawKeyPrefix = "rq_"

const maxKeyNameLen = 128

var knownScopes = []string{models.ScopeSubmit, models.ScopeAdmin}

// CreatedKey is returned once, when a key is created. Key is never shown again.
type CreatedKey struct {
	*models.APIKey
	Key string `json:"key"`
}

// GenerateRawKey returns a new random API key.
func GenerateRawKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return RawKeyPrefix + hex.EncodeToString(b), nil
}

// NewAPIKey hashes rawKey and builds the record to store. The first
// mw.KeyPrefixLen characters of rawKey are kept in clear for lookup.
func NewAPIKey(name, rawKey string, scopes []string, now time.Time) (*models.APIKey, error) {
	if len(rawKey) < mw.KeyPrefixLen {
		return nil, fmt.Errorf("api key must be at least %d characters", mw.KeyPrefixLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash api key: %w", err)
	}
	return &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: rawKey[:mw.KeyPrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
func NewCreateKeyHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name   string   `json:"name"`
			Scopes []string `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}

		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" || len(req.Name) > maxKeyNameLen {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest,
				"name is required and must be at most 128 characters", nil)
			return
		}
		if len(req.Scopes) == 0 {
			req.Scopes = []string{models.ScopeSubmit}
		}
		for _, sc := range req.Scopes {
			if !slices.Contains(knownScopes, sc) {
				response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest,
					fmt.Sprintf("unknown scope %q: must be one of submit, admin", sc), nil)
				return
			}
		}
		slices.Sort(req.Scopes)
		req.Scopes = slices.Compact(req.Scopes)

		raw, err := GenerateRawKey()
		if err != nil {
			slog.Error("generate api key failed", "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to create API key", nil)
			return
		}
		key, err := NewAPIKey(req.Name, raw, req.Scopes, time.Now().UTC())
		if err != nil {
			slog.Error("build api key failed", "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to create API key", nil)
			return
		}

		if err := s.CreateAPIKey(r.Context(), key); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, response.CodeConflict, "API key already exists", nil)
				return
			}
			slog.Error("create api key failed", "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to create API key", nil)
			return
		}

		slog.Info("api key created", "api_key_id", key.ID, "key_prefix", key.KeyPrefix, "scopes", key.Scopes)
		response.Created(w, CreatedKey{APIKey: key, Key: raw})
	}
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/admin/keys.
func NewListKeysHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := s.ListAPIKeys(r.Context())
		if err != nil {
			slog.Error("list api keys failed", "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to list API keys", nil)
			return
		}
		if keys == nil {
			keys = []*models.APIKey{}
		}
		response.Collection(w, keys, response.ListMeta{Count: len(keys)})
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for DELETE /api/v1/admin/keys/{keyID}.
func NewRevokeKeyHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "keyID must be a UUID", nil)
			return
		}

		if err := s.RevokeAPIKey(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, response.CodeNotFound, "API key not found", nil)
				return
			}
			slog.Error("revoke api key failed", "api_key_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to revoke API key", nil)
			return
		}

		caller, _ := mw.GetKeyID(r)
		slog.Info("api key revoked", "api_key_id", id, "revoked_by", caller)
		w.WriteHeader(http.StatusNoContent)
	}
}
