package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/antoniostano/unhabit/internal/model"
	"github.com/antoniostano/unhabit/internal/support"
)

const defaultRetentionDays = 90

type supportSearchRequest struct {
	UserID        string          `json:"user_id"`
	Query         string          `json:"query"`
	AddictionType string          `json:"addiction_type"`
	Filters       support.Filters `json:"filters"`
}

func (s *Server) handleSupportSearch(w http.ResponseWriter, r *http.Request) {
	var req supportSearchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	recs := s.svc.Support().Search(r.Context(), req.UserID, req.Query, req.AddictionType, req.Filters)
	respondJSON(w, http.StatusOK, map[string]any{
		"recommendations": recs,
		"count":           len(recs),
		"timestamp":       s.timestamp(),
	})
}

func (s *Server) handleSupportFeedback(w http.ResponseWriter, r *http.Request) {
	var fb model.UserFeedback
	if err := decodeJSON(r, &fb); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.svc.Support().RecordFeedback(fb); err != nil {
		if errors.Is(err, support.ErrInvalidFeedback) {
			respondError(w, http.StatusBadRequest, "invalid_feedback", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"message":   "Feedback recorded",
		"timestamp": s.timestamp(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.svc.Supervisor().Statistics(r.Context(), userID))
}

func (s *Server) handleAssessmentProcess(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	result := s.svc.ProcessNow(r.Context(), userID)
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"results":   result,
		"timestamp": s.timestamp(),
	})
}

func (s *Server) handleGoalsPending(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	payload, found := s.svc.Planner().Pending(userID)
	if !found {
		respondJSON(w, http.StatusOK, map[string]any{
			"status":    "no_pending_goals",
			"goals":     []model.Goal{},
			"timestamp": s.timestamp(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "success",
		"goals":          payload.Goals,
		"source_summary": payload.SourceSummary,
		"timestamp":      s.timestamp(),
	})
}

func (s *Server) handleGoalsResync(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	payload, found := s.svc.Planner().Pending(userID)
	if !found {
		respondError(w, http.StatusNotFound, "no_pending_goals", "No pending goals found for this user")
		return
	}
	result := s.svc.Planner().SyncExternal(r.Context(), payload)
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"sync_result": result,
		"timestamp":   s.timestamp(),
	})
}

// handleRetention deletes the user's records older than ?days_old= days.
func (s *Server) handleRetention(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	days := s.cfg.RetentionDays
	if days <= 0 {
		days = defaultRetentionDays
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("days_old")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_days_old", "days_old must be a positive integer")
			return
		}
		days = n
	}
	removed := s.svc.Supervisor().PurgeOlderThan(r.Context(), userID, days)
	total := 0
	for _, n := range removed {
		total += n
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"user_id":   userID,
		"days_old":  days,
		"deleted":   removed,
		"total":     total,
		"timestamp": s.timestamp(),
	})
}
