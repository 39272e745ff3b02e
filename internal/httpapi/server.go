package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/unhabit/internal/config"
	"github.com/antoniostano/unhabit/internal/observability"
	"github.com/antoniostano/unhabit/internal/pipeline"
	"github.com/antoniostano/unhabit/internal/reflection"
)

const (
	serviceName    = "unHabit API"
	serviceVersion = "1.0.0"
)

// RuntimeInfo describes the backends chosen at startup, for the health and setup endpoints.
type RuntimeInfo struct {
	LLMProvider      string
	SearchConfigured bool
	PointerStore     string
}

type Server struct {
	cfg      config.Config
	svc      *pipeline.Service
	metrics  *observability.Metrics
	info     RuntimeInfo
	upgrader websocket.Upgrader
	now      func() time.Time
}

func New(cfg config.Config, svc *pipeline.Service, metrics *observability.Metrics, info RuntimeInfo) *Server {
	return &Server{
		cfg:     cfg,
		svc:     svc,
		metrics: metrics,
		info:    info,
		now:     time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/setup/status", s.handleSetupStatus)
	r.Get("/api/perf/latency", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, s.metrics.SnapshotStages())
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/api/reflection", func(r chi.Router) {
		r.Post("/start", s.handleReflectionStart)
		r.Post("/continue", s.handleReflectionContinue)
		r.Post("/end", s.handleReflectionEnd)
		r.Get("/ws", s.handleReflectionWS)
	})
	r.Post("/api/support/search", s.handleSupportSearch)
	r.Post("/api/support/feedback", s.handleSupportFeedback)
	r.Get("/api/stats/{userID}", s.handleStats)
	r.Post("/api/assessment/process/{userID}", s.handleAssessmentProcess)
	r.Get("/api/goals/pending/{userID}", s.handleGoalsPending)
	r.Post("/api/goals/resync/{userID}", s.handleGoalsResync)
	r.Post("/api/maintenance/retention/{userID}", s.handleRetention)

	if s.cfg.DebugEndpoints {
		r.Get("/api/debug/agents", s.handleDebugAgents)
		r.Delete("/api/debug/clear/{userID}", s.handleDebugClear)
	}

	return r
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.cfg.AllowAnyOrigin {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"service": serviceName,
		"version": serviceVersion,
		"status":  "operational",
		"endpoints": map[string]string{
			"reflection": "/api/reflection",
			"support":    "/api/support",
			"goals":      "/api/goals",
			"assessment": "/api/assessment",
			"stats":      "/api/stats",
			"health":     "/api/health",
			"metrics":    "/metrics",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": s.timestamp(),
		"agents": map[string]string{
			"reflections":  "operational",
			"goal_planner": "operational",
			"support":      "operational",
			"assessment":   "operational",
		},
		"llm_provider":       s.info.LLMProvider,
		"webhook_configured": s.svc.Planner().WebhookConfigured(),
		"running_flushes":    s.svc.RunningFlushes(),
	})
}

func (s *Server) handleDebugAgents(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"reflections_agent": map[string]int{
			"active_sessions": s.svc.Reflection().Sessions().ActiveCount(),
		},
		"goal_planner_agent": map[string]int{
			"pending_tasks": s.svc.Planner().PendingCount(),
		},
		"support_agent": map[string]int{
			"pending_feedback": s.svc.Support().FeedbackUsers(),
		},
		"assessment_agent": map[string]int{
			"pending_users": len(s.svc.Supervisor().PendingUsers()),
		},
	})
}

func (s *Server) handleDebugClear(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	cleared := s.svc.ClearUser(userID)
	s.metrics.SetActiveSessions(s.svc.Reflection().Sessions().ActiveCount())
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "cleared",
		"user_id":   userID,
		"cleared":   cleared,
		"timestamp": s.timestamp(),
	})
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondAgentError maps agent and pipeline errors onto HTTP statuses.
func respondAgentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reflection.ErrSessionActive):
		respondError(w, http.StatusConflict, "session_active", err.Error())
	case errors.Is(err, reflection.ErrNoActiveSession):
		respondError(w, http.StatusBadRequest, "no_active_session", err.Error())
	case errors.Is(err, reflection.ErrUserRequired), errors.Is(err, reflection.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, pipeline.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func userParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "missing user id")
		return "", false
	}
	return userID, true
}
