package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/receiptq/internal/api/middleware"
	"github.com/kiranshivaraju/receiptq/internal/api/response"
	"github.com/kiranshivaraju/receiptq/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc
	Metrics       http.Handler

	// Printer-facing endpoints. Printers cannot send API keys.
	EPOS      http.Handler
	CloudPRNT http.Handler

	SubmitHandler      http.HandlerFunc
	QueueStatusHandler http.HandlerFunc
	ClearQueueHandler  http.HandlerFunc
	DeleteEntryHandler http.HandlerFunc
	AckEntryHandler    http.HandlerFunc
	ListResultsHandler http.HandlerFunc
	SweepHandler       http.HandlerFunc
	CreateKeyHandler   http.HandlerFunc
	ListKeysHandler    http.HandlerFunc
	RevokeKeyHandler   http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// Printers
	r.Post("/epos", orNotImplemented(handlerFunc(deps.EPOS)))
	cloudprnt := orNotImplemented(handlerFunc(deps.CloudPRNT))
	r.Post("/cloudprnt", cloudprnt)
	r.Get("/cloudprnt", cloudprnt)
	r.Delete("/cloudprnt", cloudprnt)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.With(deps.Auth.RequireScope(models.ScopeSubmit)).
			Post("/api/v1/printers/{printerID}/jobs", orNotImplemented(deps.SubmitHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Get("/api/v1/printers/{printerID}/queue", orNotImplemented(deps.QueueStatusHandler))
			r.Delete("/api/v1/printers/{printerID}/queue", orNotImplemented(deps.ClearQueueHandler))
			r.Get("/api/v1/printers/{printerID}/results", orNotImplemented(deps.ListResultsHandler))

			r.Delete("/api/v1/queue/{entryID}", orNotImplemented(deps.DeleteEntryHandler))
			r.Post("/api/v1/queue/{entryID}/ack", orNotImplemented(deps.AckEntryHandler))

			r.Post("/api/v1/admin/sweep", orNotImplemented(deps.SweepHandler))
			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

func handlerFunc(h http.Handler) http.HandlerFunc {
	if h == nil {
		return nil
	}
	return h.ServeHTTP
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
