package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chaplin/healthboard/internal/auth"
	"github.com/chaplin/healthboard/internal/drilldown"
	"github.com/chaplin/healthboard/internal/models"
	"github.com/chaplin/healthboard/internal/reports"
)

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	token, expiresAt, err := s.authService.Login(req.Username, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"token":     token,
		"expiresAt": expiresAt,
	})
}

// serveReport writes a cached aggregate in the {data, lastRefreshed}
// envelope.
func (s *Server) serveReport(w http.ResponseWriter, result *reports.Result, err error) {
	if err != nil {
		if errors.Is(err, reports.ErrUnknownReport) {
			respondError(w, http.StatusNotFound, "unknown_report", err.Error())
			return
		}
		s.logger.Error("generating report", "error", err)
		respondError(w, http.StatusInternalServerError, "report_failed", "Failed to generate report")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":          result.Payload,
		"lastRefreshed": result.LastRefreshed,
	})
}

func (s *Server) categoriesSummary(w http.ResponseWriter, r *http.Request) {
	result, err := s.reports.CategoriesSummary(r.Context())
	if err != nil {
		s.logger.Error("generating categories summary", "error", err)
		respondError(w, http.StatusInternalServerError, "report_failed", "Failed to generate report")
		return
	}
	// The landing page consumes the bare card list.
	writeJSON(w, http.StatusOK, result.Payload)
}

func (s *Server) categoryStats(w http.ResponseWriter, r *http.Request) {
	result, err := s.reports.CategoryStats(r.Context())
	s.serveReport(w, result, err)
}

func (s *Server) typeStats(w http.ResponseWriter, r *http.Request) {
	result, err := s.reports.TypeStats(r.Context())
	s.serveReport(w, result, err)
}

// serveDetails writes a detail report in the {events, count, lastUpdated}
// envelope.
func (s *Server) serveDetails(w http.ResponseWriter, result *reports.Result, events []models.EventDigest, err error) {
	if err != nil {
		if errors.Is(err, reports.ErrUnknownReport) {
			respondError(w, http.StatusNotFound, "unknown_report", err.Error())
			return
		}
		s.logger.Error("generating detail report", "error", err)
		respondError(w, http.StatusInternalServerError, "report_failed", "Failed to generate report")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":      events,
		"count":       len(events),
		"lastUpdated": result.LastRefreshed,
	})
}

func (s *Server) categoryDetails(w http.ResponseWriter, r *http.Request) {
	result, err := s.reports.CategoryDetails(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serveDetails(w, nil, nil, err)
		return
	}
	var report reports.CategoryDetailsReport
	if err := json.Unmarshal(result.Payload, &report); err != nil {
		s.serveDetails(w, nil, nil, err)
		return
	}
	s.serveDetails(w, result, report.Events, nil)
}

func (s *Server) categoryDetailsPDF(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := s.reports.CategoryDetails(r.Context(), id)
	if err != nil {
		if errors.Is(err, reports.ErrUnknownReport) {
			respondError(w, http.StatusNotFound, "unknown_report", err.Error())
			return
		}
		s.logger.Error("generating category report", "error", err)
		respondError(w, http.StatusInternalServerError, "report_failed", "Failed to generate report")
		return
	}

	var report reports.CategoryDetailsReport
	if err := json.Unmarshal(result.Payload, &report); err != nil {
		s.logger.Error("decoding cached report", "error", err)
		respondError(w, http.StatusInternalServerError, "report_failed", "Failed to render report")
		return
	}

	pdf, err := reports.CategoryPDF(&report)
	if err != nil {
		s.logger.Error("rendering PDF", "error", err)
		respondError(w, http.StatusInternalServerError, "pdf_failed", "Failed to render PDF")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s-events.pdf", id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (s *Server) typeDetails(w http.ResponseWriter, r *http.Request) {
	result, err := s.reports.TypeDetails(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serveDetails(w, nil, nil, err)
		return
	}
	var report reports.TypeDetailsReport
	if err := json.Unmarshal(result.Payload, &report); err != nil {
		s.serveDetails(w, nil, nil, err)
		return
	}
	s.serveDetails(w, result, report.Events, nil)
}

func (s *Server) insightsReport(w http.ResponseWriter, r *http.Request) {
	result, err := s.reports.InsightsReport(r.Context())
	s.serveReport(w, result, err)
}

func (s *Server) drillDown(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("filters")
	if raw == "" {
		respondError(w, http.StatusBadRequest, "missing_filters", "filters query parameter is required")
		return
	}

	query, err := drilldown.Build(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_filters", err.Error())
		return
	}

	events, err := drilldown.Execute(r.Context(), s.store, query)
	if err != nil {
		s.logger.Error("executing drill-down", "filters", query.Effective, "error", err)
		respondError(w, http.StatusInternalServerError, "query_failed", "Failed to query events")
		return
	}

	digests := make([]models.EventDigest, len(events))
	for i, e := range events {
		digests[i] = e.Digest()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"events":  digests,
		"count":   len(digests),
		"filters": query.Effective,
		"queryInfo": map[string]any{
			"usedKeys": query.UsedKeys,
			"source":   "dynamodb-scan",
		},
		"timestamp": time.Now(),
	})
}

func (s *Server) refreshCache(w http.ResponseWriter, r *http.Request) {
	if user, ok := auth.UserFromContext(r.Context()); ok {
		s.logger.Info("bulk cache refresh requested", "user", user.Username)
	}

	if err := s.reports.RefreshAll(r.Context()); err != nil {
		s.logger.Error("bulk cache refresh", "error", err)
		respondError(w, http.StatusInternalServerError, "refresh_failed", "One or more reports failed to regenerate")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"refreshedAt": time.Now(),
	})
}

func (s *Server) suggestedPrompts(w http.ResponseWriter, r *http.Request) {
	items, err := s.prompts.List()
	if err != nil {
		s.logger.Error("listing suggested prompts", "error", err)
		respondError(w, http.StatusInternalServerError, "prompts_failed", "Failed to load suggested prompts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"prompts": items,
	})
}
