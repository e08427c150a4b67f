package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/receiptq/internal/api/response"
	"github.com/kiranshivaraju/receiptq/internal/store"
	"github.com/kiranshivaraju/receiptq/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefixLen is the number of leading key characters stored in clear for lookup.
const KeyPrefixLen = 8

const recordUseTimeout = 5 * time.Second

// Auth authenticates submission and admin requests by API key.
type Auth struct {
	store store.Store
}

// NewAuth creates a new Auth middleware.
func NewAuth(s store.Store) *Auth {
	return &Auth{store: s}
}

// Authenticate resolves the Bearer token to an active API key and attaches
// it to the request context. Printer endpoints do not go through here.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey, ok := bearerToken(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized,
				response.CodeInvalidToken, "Missing or invalid Authorization header", nil)
			return
		}
		if len(rawKey) < KeyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				response.CodeInvalidToken, "Invalid API key format", nil)
			return
		}

		key, err := a.match(r.Context(), rawKey)
		if err != nil {
			slog.Error("api key lookup failed", "error", err)
			response.Error(w, http.StatusInternalServerError,
				response.CodeInternal, "Failed to validate API key", nil)
			return
		}
		if key == nil {
			response.Error(w, http.StatusUnauthorized,
				response.CodeInvalidToken, "Invalid API key", nil)
			return
		}

		go a.recordUse(key)
		next.ServeHTTP(w, r.WithContext(WithAPIKey(r.Context(), key)))
	})
}

// match returns the active key whose hash matches rawKey, or nil.
func (a *Auth) match(ctx context.Context, rawKey string) (*models.APIKey, error) {
	candidates, err := a.store.GetAPIKeyByPrefix(ctx, rawKey[:KeyPrefixLen])
	if err != nil {
		return nil, err
	}
	for _, key := range candidates {
		if key.Active() && bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) == nil {
			return key, nil
		}
	}
	return nil, nil
}

func (a *Auth) recordUse(key *models.APIKey) {
	ctx, cancel := context.WithTimeout(context.Background(), recordUseTimeout)
	defer cancel()
	if err := a.store.RecordAPIKeyUse(ctx, key.ID); err != nil {
		slog.Warn("record api key use failed", "api_key_id", key.ID, "error", err)
	}
}

// RequireScope rejects requests whose API key lacks scope with 403.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := APIKeyFrom(r.Context())
			if !ok || !key.HasScope(scope) {
				response.Error(w, http.StatusForbidden, response.CodeForbidden,
					"API key lacks the "+scope+" scope", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
