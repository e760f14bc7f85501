package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chaplin/healthboard/internal/analysis"
	"github.com/chaplin/healthboard/internal/reportcache"
	"github.com/chaplin/healthboard/internal/reports"
)

// defaultCriticalPrompts are used when a refresh request carries no prompt
// of its own. Each critical-events window analyzes a different horizon.
var defaultCriticalPrompts = map[string]string{
	reports.KindCriticalEvents:        "Analyze all critical health events starting within the next 30 days. Produce an HTML report grouping them by service with required actions and deadlines.",
	reports.KindCriticalEvents60:      "Analyze all critical health events starting between 30 and 60 days from now. Produce an HTML report grouping them by service with required actions and deadlines.",
	reports.KindCriticalEventsPastDue: "Analyze all critical health events whose start time is already past or within the last 120 days and still unresolved. Produce an HTML report grouping them by service with required actions.",
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

// decodePrompt reads an optional {prompt} body; a missing body is fine.
func decodePrompt(r *http.Request) (string, error) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return req.Prompt, nil
}

// agentAnalysisStream accepts a submission and returns immediately; all
// further progress arrives on the WebSocket channel.
func (s *Server) agentAnalysisStream(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	submissionID := uuid.NewString()
	if err := s.orchestrator.Start(submissionID, req.Prompt); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_prompt", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"submissionId": submissionID,
	})
}

// agentAnalysis is the synchronous fallback: the caller waits for the full
// analysis in the HTTP response.
func (s *Server) agentAnalysis(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt       string `json:"prompt"`
		SubmissionID string `json:"submissionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	html, err := s.orchestrator.RunSync(r.Context(), req.SubmissionID, req.Prompt)
	if err != nil {
		s.respondAnalysisError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"analysis": html,
		"prompt":   req.Prompt,
	})
}

// agentAnalysisResult is the disconnect-recovery probe.
func (s *Server) agentAnalysisResult(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submissionID")

	rec, err := s.orchestrator.Result(r.Context(), submissionID)
	if err != nil {
		if errors.Is(err, analysis.ErrNoResult) {
			writeJSON(w, http.StatusOK, map[string]any{
				"success": false,
				"pending": true,
			})
			return
		}
		s.logger.Error("loading analysis result", "submission_id", submissionID, "error", err)
		respondError(w, http.StatusInternalServerError, "result_failed", "Failed to load analysis result")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"analysis":    rec.HTML,
		"prompt":      rec.Prompt,
		"completedAt": rec.CompletedAt,
	})
}

// criticalEventsCached serves a TTL-boxed analysis straight from the cache.
// Unauthenticated on purpose; a miss tells the client to trigger the
// authenticated refresh endpoint.
func (s *Server) criticalEventsCached(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := s.cache.GetFresh(kind, "")
		if err != nil {
			if errors.Is(err, reportcache.ErrMiss) {
				writeJSON(w, http.StatusOK, map[string]any{
					"success":      false,
					"needsRefresh": true,
				})
				return
			}
			s.logger.Error("reading critical-events cache", "kind", kind, "error", err)
			respondError(w, http.StatusInternalServerError, "cache_failed", "Failed to read cached analysis")
			return
		}

		var output string
		if err := json.Unmarshal(entry.Payload, &output); err != nil {
			s.logger.Error("decoding critical-events cache", "kind", kind, "error", err)
			respondError(w, http.StatusInternalServerError, "cache_failed", "Cached analysis is unreadable")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"output":        output,
			"cached":        true,
			"lastRefreshed": entry.StoredAt,
			"ttlHours":      entry.TTLHours,
		})
	}
}

// criticalEventsRefresh regenerates one critical-events window
// synchronously and re-caches it, carrying any tuned TTL forward.
func (s *Server) criticalEventsRefresh(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prompt, err := decodePrompt(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
			return
		}
		if prompt == "" {
			prompt = defaultCriticalPrompts[kind]
		}

		html, err := s.orchestrator.RunSync(r.Context(), "", prompt)
		if err != nil {
			s.respondAnalysisError(w, err)
			return
		}

		entry, err := s.cache.PutTTL(kind, "", html, s.cfg.Cache.CriticalTTLHours)
		if err != nil {
			s.logger.Error("caching critical-events analysis", "kind", kind, "error", err)
			respondError(w, http.StatusInternalServerError, "cache_failed", "Failed to cache analysis")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"output":        html,
			"cached":        false,
			"lastRefreshed": entry.StoredAt,
			"ttlHours":      entry.TTLHours,
		})
	}
}

func (s *Server) respondAnalysisError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, analysis.ErrInvalidPrompt):
		respondError(w, http.StatusBadRequest, "invalid_prompt", err.Error())
	case errors.Is(err, analysis.ErrTimeout):
		respondError(w, http.StatusGatewayTimeout, "analysis_timeout", "Analysis timed out")
	default:
		s.logger.Error("running analysis", "error", err)
		respondError(w, http.StatusInternalServerError, "analysis_failed", "Analysis failed")
	}
}

// serveWS authenticates via the token query parameter, then hands the
// connection to the hub.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	if _, err := s.authService.ValidateToken(token); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	s.hub.ServeWS(w, r)
}
