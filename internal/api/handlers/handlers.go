// Package handlers implements the HTTP endpoints of the receipt assistant.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-assistant/internal/api/middleware"
	"github.com/dvloznov/receipt-assistant/internal/assistant"
	"github.com/dvloznov/receipt-assistant/internal/domain"
	"github.com/dvloznov/receipt-assistant/internal/jobs"
	"github.com/dvloznov/receipt-assistant/internal/metrics"
	"github.com/dvloznov/receipt-assistant/internal/store"
)

// TaskRouter dispatches assistant requests. *assistant.Router satisfies it.
type TaskRouter interface {
	Route(ctx context.Context, req assistant.Request) (*assistant.Result, error)
}

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Router    TaskRouter
	Store     store.PurchaseStore
	Publisher jobs.Publisher
	Jobs      jobs.JobStore
	Log       zerolog.Logger
}

// NewMux registers every endpoint on a new ServeMux. Each route is instrumented
// with its pattern as the metrics label.
func NewMux(deps Deps) *http.ServeMux {
	receipts := NewReceiptsHandler(deps.Router, deps.Store, deps.Publisher, deps.Log)
	tasks := NewTasksHandler(deps.Router, deps.Log)
	jobsHandler := NewJobsHandler(deps.Jobs, deps.Log)

	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware.Metrics(pattern, h))
	}

	handle("POST /receipts", receipts.Ingest)
	handle("GET /receipts", receipts.List)
	handle("GET /receipts/{id}", receipts.Get)
	handle("PUT /receipts/{id}", receipts.Update)
	handle("DELETE /receipts/{id}", receipts.Delete)

	handle("GET /reports/{year}/{month}", tasks.MonthlyReport)
	handle("GET /market", tasks.MarketSummary)
	handle("POST /query", tasks.Query)

	handle("GET /jobs", jobsHandler.ListJobs)
	handle("GET /jobs/{id}", jobsHandler.GetJob)

	handle("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}

// StatusFor maps an error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownTaskKind), errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrHandlerUnavailable), errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrExternalService), errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure logs err and writes the mapped status with err's message.
// Internal errors are not echoed to the client.
func writeFailure(w http.ResponseWriter, log zerolog.Logger, err error, msg string) {
	status := StatusFor(err)
	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).Int("status", status).Msg(msg)

	if status == http.StatusInternalServerError {
		middleware.WriteError(w, status, msg)
		return
	}
	middleware.WriteError(w, status, err.Error())
}
