package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/vansales/stockadvisor/internal/domain"
	"github.com/vansales/stockadvisor/internal/orchestrator"
)

func (s *Server) handleGetRecommendations(w http.ResponseWriter, r *http.Request) {
	date, route, err := dateRouteParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var filters *orchestrator.Filters
	customers := splitParam(r.URL.Query().Get("customers"))
	items := splitParam(r.URL.Query().Get("items"))
	if len(customers) > 0 || len(items) > 0 {
		filters = &orchestrator.Filters{Customers: customers, Items: items}
	}

	result, err := s.orch.GetRecommendations(r.Context(), date, route, filters)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleFilterOptions(w http.ResponseWriter, r *http.Request) {
	date, err := dateParam(r, "date")
	if err != nil {
		writeError(w, err)
		return
	}
	opts, err := s.orch.FilterOptions(r.Context(), date,
		r.URL.Query().Get("route"), r.URL.Query().Get("customer"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

type preGenerateRequest struct {
	Date   string   `json:"date"`
	Routes []string `json:"routes"`
}

func (s *Server) handlePreGenerate(w http.ResponseWriter, r *http.Request) {
	var req preGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Invalidf("malformed request body: %v", err))
		return
	}
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		writeError(w, domain.Invalidf("invalid date %q", req.Date))
		return
	}

	results, err := s.orch.PreGenerateDaily(r.Context(), date, req.Routes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"per_route": results})
}

func (s *Server) handleLoadSupervision(w http.ResponseWriter, r *http.Request) {
	date, route, err := dateRouteParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := s.orch.LoadSupervision(r.Context(), route, date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type visitRequest struct {
	Route       string         `json:"route"`
	Date        string         `json:"date"`
	Customer    string         `json:"customer"`
	ActualSales map[string]int `json:"actual_sales"`
}

func (s *Server) handleProcessVisit(w http.ResponseWriter, r *http.Request) {
	var req visitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Invalidf("malformed request body: %v", err))
		return
	}
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		writeError(w, domain.Invalidf("invalid date %q", req.Date))
		return
	}

	result, err := s.orch.ProcessVisit(r.Context(), req.Route, date, req.Customer, req.ActualSales)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"adjustments":    result.Adjustments,
		"redistribution": result,
	})
}

type sessionRequest struct {
	Route string `json:"route"`
	Date  string `json:"date"`
}

func (s *Server) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	req, date, ok := s.sessionParams(w, r)
	if !ok {
		return
	}
	snap, err := s.orch.SaveSession(r.Context(), req.Route, date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":      snap.SessionID,
		"customers_saved": len(snap.Visits),
		"items_saved":     len(snap.Items),
		"record_version":  snap.RecordVersion,
	})
}

func (s *Server) handleAbandonSession(w http.ResponseWriter, r *http.Request) {
	req, date, ok := s.sessionParams(w, r)
	if !ok {
		return
	}
	if err := s.orch.AbandonSession(req.Route, date); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "abandoned"})
}

type narrativeRequest struct {
	Route    string `json:"route"`
	Date     string `json:"date"`
	Customer string `json:"customer,omitempty"`
}

func (s *Server) handleAnalyzeCustomer(w http.ResponseWriter, r *http.Request) {
	var req narrativeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Invalidf("malformed request body: %v", err))
		return
	}
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		writeError(w, domain.Invalidf("invalid date %q", req.Date))
		return
	}

	text, score, err := s.orch.AnalyzeCustomer(r.Context(), req.Route, date, req.Customer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"narrative": text, "score": score})
}

func (s *Server) handleAnalyzeRoute(w http.ResponseWriter, r *http.Request) {
	var req narrativeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Invalidf("malformed request body: %v", err))
		return
	}
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		writeError(w, domain.Invalidf("invalid date %q", req.Date))
		return
	}

	text, score, err := s.orch.AnalyzeRoute(r.Context(), req.Route, date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"narrative": text, "score": score})
}

// helpers

func (s *Server) sessionParams(w http.ResponseWriter, r *http.Request) (sessionRequest, time.Time, bool) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Invalidf("malformed request body: %v", err))
		return req, time.Time{}, false
	}
	date, err := domain.ParseDate(req.Date)
	if err != nil {
		writeError(w, domain.Invalidf("invalid date %q", req.Date))
		return req, time.Time{}, false
	}
	return req, date, true
}

func dateParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, domain.Invalidf("%s is required", name)
	}
	date, err := domain.ParseDate(raw)
	if err != nil {
		return time.Time{}, domain.Invalidf("invalid %s %q", name, raw)
	}
	return date, nil
}

func dateRouteParams(r *http.Request) (time.Time, string, error) {
	date, err := dateParam(r, "date")
	if err != nil {
		return time.Time{}, "", err
	}
	route := r.URL.Query().Get("route")
	if route == "" {
		return time.Time{}, "", domain.Invalidf("route is required")
	}
	return date, route, nil
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "internal"

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status, kind = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, domain.ErrDataNotReady):
		status, kind = http.StatusServiceUnavailable, "data_not_ready"
	case errors.Is(err, domain.ErrNoRecommendations):
		status, kind = http.StatusNotFound, "no_recommendations"
	case errors.Is(err, domain.ErrInsufficientData):
		status, kind = http.StatusUnprocessableEntity, "insufficient_data"
	case errors.Is(err, domain.ErrNotVisited):
		status, kind = http.StatusConflict, "not_visited"
	case errors.Is(err, domain.ErrBusy):
		status, kind = http.StatusConflict, "busy"
	case errors.Is(err, domain.ErrVersionConflict):
		status, kind = http.StatusConflict, "version_conflict"
	case errors.Is(err, domain.ErrReadOnlySession):
		status, kind = http.StatusConflict, "read_only_session"
	case errors.Is(err, domain.ErrRateLimited):
		status, kind = http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, domain.ErrUpstreamBusy):
		status, kind = http.StatusServiceUnavailable, "upstream_busy"
	case errors.Is(err, domain.ErrBackendUnavailable):
		status, kind = http.StatusServiceUnavailable, "backend_unavailable"
	case errors.Is(err, domain.ErrSaveFailed):
		status, kind = http.StatusInternalServerError, "save_failed"
	case errors.Is(err, domain.ErrStorageError):
		status, kind = http.StatusInternalServerError, "storage_error"
	}

	body := map[string]interface{}{"error": kind, "message": err.Error()}

	var rl *domain.RateLimitError
	if errors.As(err, &rl) {
		body["retry_after"] = int(rl.RetryAfter.Seconds()) + 1
	} else if domain.IsRetryable(err) {
		body["retryable"] = true
	}

	writeJSON(w, status, body)
}
