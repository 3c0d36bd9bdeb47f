package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-assistant/internal/api/middleware"
	"github.com/dvloznov/receipt-assistant/internal/assistant"
	"github.com/dvloznov/receipt-assistant/internal/config"
)

// TasksHandler exposes the report, market and question tasks.
type TasksHandler struct {
	router TaskRouter
	log    zerolog.Logger
}

// NewTasksHandler creates a new tasks handler.
func NewTasksHandler(router TaskRouter, log zerolog.Logger) *TasksHandler {
	return &TasksHandler{router: router, log: log}
}

// MonthlyReport handles GET /reports/{year}/{month}.
func (h *TasksHandler) MonthlyReport(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(r.PathValue("year"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid year")
		return
	}
	month, err := strconv.Atoi(r.PathValue("month"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid month")
		return
	}

	h.route(w, r, assistant.Request{
		Kind:  assistant.KindMonthlyReport,
		Year:  year,
		Month: time.Month(month),
	})
}

// MarketSummary handles GET /market?symbols=^GSPC,^DJI&days=7.
func (h *TasksHandler) MarketSummary(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := assistant.Request{
		Kind:    assistant.KindMarketSummary,
		Symbols: config.SplitList(query.Get("symbols")),
	}
	if s := query.Get("days"); s != "" {
		days, err := strconv.Atoi(s)
		if err != nil || days <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid days")
			return
		}
		req.Days = days
	}

	h.route(w, r, req)
}

// Query handles POST /query with body {"question": "..."}.
func (h *TasksHandler) Query(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	h.route(w, r, assistant.Request{Kind: assistant.KindFreeFormQuery, Question: body.Question})
}

func (h *TasksHandler) route(w http.ResponseWriter, r *http.Request, req assistant.Request) {
	res, err := h.router.Route(r.Context(), req)
	if err != nil {
		writeFailure(w, h.log, err, "Task failed")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}
