package http

import (
	"context"
	"net/http"
	"time"

	applog "kakeibo/internal/log"
	"kakeibo/internal/middleware/trace"
	"kakeibo/internal/services"
)

// Server exposes the ledger as a JSON API.
type Server struct {
	http.Server
	ledger *services.LedgerService
	logger *applog.Logger
	trace  *trace.Middleware
}

func NewServer(addr string, ledger *services.LedgerService, logger *applog.Logger) *Server {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	s := &Server{
		ledger: ledger,
		logger: logger,
		trace:  trace.NewMiddleware(logger, trace.ClientIP),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/categories", s.handleListCategories)
	mux.HandleFunc("POST /api/categories", s.handleCreateCategory)
	mux.HandleFunc("GET /api/accounts", s.handleListAccounts)
	mux.HandleFunc("POST /api/accounts", s.handleCreateAccount)
	mux.HandleFunc("GET /api/expenses", s.handleListExpenses)
	mux.HandleFunc("POST /api/expenses", s.handleCreateExpense)
	mux.HandleFunc("GET /api/expenses/stats", s.handleStats)
	mux.HandleFunc("PATCH /api/expenses/{id}", s.handleUpdateExpense)
	mux.HandleFunc("DELETE /api/expenses/{id}", s.handleDeleteExpense)

	var handler http.Handler = mux
	handler = applog.RequestIDMiddleware(func(r *http.Request) string {
		return trace.GetRequestID(r.Context())
	})(handler)
	handler = applog.Middleware(logger)(handler)
	handler = s.trace.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Shutting down HTTP server", applog.FieldOperation, applog.OpShutdown)
	return s.Server.Shutdown(ctx)
}

func (s *Server) Metrics() trace.Metrics { return s.trace.GetMetrics() }

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}

// handleReady reports 200 only once the ledger image is loaded.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	m := s.ledger.Manager()
	body := map[string]any{
		"state":    m.State().String(),
		"revision": m.Revision(),
		"dirty":    m.Dirty(),
	}
	status := http.StatusOK
	if m.State() != services.StateReady {
		status = http.StatusServiceUnavailable
	}
	NewJSONResponse().Status(status).Body(body).Write(w)
}

// writeError logs unexpected failures and writes the mapped error body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, data any) {
	appErr := FromError(err)
	if appErr.StatusCode >= 500 {
		applog.NewStructuredLogger(applog.FromContext(r.Context())).
			LogError(r.Context(), "Request failed", err, r.Method+" "+r.URL.Path,
				applog.NewFields().With(applog.FieldErrorCode, appErr.Code))
	}
	ErrorResponse(err, data).Write(w)
}
