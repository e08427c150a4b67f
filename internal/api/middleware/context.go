package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/receiptq/pkg/models"
)

type apiKeyCtxKey struct{}

// WithAPIKey attaches the authenticated key to ctx.
func WithAPIKey(ctx context.Context, key *models.APIKey) context.Context {
	return context.WithValue(ctx, apiKeyCtxKey{}, key)
}

// APIKeyFrom returns the key Authenticate attached to the request context.
func APIKeyFrom(ctx context.Context) (*models.APIKey, bool) {
	key, ok := ctx.Value(apiKeyCtxKey{}).(*models.APIKey)
	return key, ok && key != nil
}

// GetKeyID returns the id of the API key that authenticated the request.
func GetKeyID(r *http.Request) (uuid.UUID, bool) {
	key, ok := APIKeyFrom(r.Context())
	if !ok {
		return uuid.Nil, false
	}
	return key.ID, true
}
