package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type setupCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type setupStatusResponse struct {
	LLMProvider  string       `json:"llm_provider"`
	Embedder     string       `json:"embedder"`
	PointerStore string       `json:"pointer_store"`
	Ready        bool         `json:"ready"`
	Checks       []setupCheck `json:"checks"`
}

func (s *Server) handleSetupStatus(w http.ResponseWriter, _ *http.Request) {
	checks := make([]setupCheck, 0, 8)
	checks = append(checks, s.llmCheck())
	checks = append(checks, s.memoryChecks()...)

	if s.info.SearchConfigured {
		checks = append(checks, setupCheck{ID: "search", Status: "ok", Label: "Community search", Detail: "SERPER_API_KEY present"})
	} else {
		checks = append(checks, setupCheck{
			ID:     "search",
			Status: "warn",
			Label:  "Community search",
			Detail: "SERPER_API_KEY is not set; support searches return no results",
			Fix:    "Set SERPER_API_KEY.",
		})
	}

	if s.svc.Planner().WebhookConfigured() {
		checks = append(checks, setupCheck{ID: "goal_webhook", Status: "ok", Label: "Calendar webhook", Detail: "configured"})
	} else {
		checks = append(checks, setupCheck{
			ID:     "goal_webhook",
			Status: "warn",
			Label:  "Calendar webhook",
			Detail: "goals are planned but not synced",
			Fix:    "Set GOAL_WEBHOOK_URL (or N8N_WEBHOOK_URL).",
		})
	}

	ready := true
	for _, c := range checks {
		if c.Status == "error" {
			ready = false
		}
	}
	respondJSON(w, http.StatusOK, setupStatusResponse{
		LLMProvider:  s.info.LLMProvider,
		Embedder:     s.cfg.MemoryEmbedder,
		PointerStore: s.info.PointerStore,
		Ready:        ready,
		Checks:       checks,
	})
}

func (s *Server) llmCheck() setupCheck {
	provider := strings.TrimSpace(s.info.LLMProvider)
	switch {
	case provider == "":
		return setupCheck{ID: "llm", Status: "error", Label: "Language model", Detail: "no provider"}
	case provider == "mock":
		return setupCheck{
			ID:     "llm",
			Status: "warn",
			Label:  "Language model",
			Detail: "mock provider: replies are canned",
			Fix:    "Set ANTHROPIC_API_KEY or LLM_FALLBACK_URL.",
		}
	default:
		return setupCheck{ID: "llm", Status: "ok", Label: "Language model", Detail: provider}
	}
}

func (s *Server) memoryChecks() []setupCheck {
	out := make([]setupCheck, 0, 3)
	if strings.TrimSpace(s.cfg.MemoryPersistDir) == "" {
		out = append(out, setupCheck{
			ID:     "memory_persistence",
			Status: "warn",
			Label:  "Memory persistence",
			Detail: "in-process only; memory is lost on restart",
			Fix:    "Set MEMORY_PERSIST_DIR to a writable directory.",
		})
	} else {
		out = append(out, setupCheck{ID: "memory_persistence", Status: "ok", Label: "Memory persistence", Detail: s.cfg.MemoryPersistDir})
	}

	if s.info.PointerStore == "in-memory" {
		out = append(out, setupCheck{
			ID:     "state_pointer",
			Status: "warn",
			Label:  "Latest-state pointer",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL or STATE_POINTER_SQLITE_PATH.",
		})
	} else {
		out = append(out, setupCheck{ID: "state_pointer", Status: "ok", Label: "Latest-state pointer", Detail: s.info.PointerStore})
	}

	if s.cfg.MemoryEmbedder == "ollama" {
		if err := probeTCP(s.cfg.OllamaURL, "http://127.0.0.1:11434"); err != nil {
			out = append(out, setupCheck{
				ID:     "embedder",
				Status: "error",
				Label:  "Ollama embeddings",
				Detail: err.Error(),
				Fix:    "Start Ollama or set MEMORY_EMBEDDER=hash.",
			})
		} else {
			out = append(out, setupCheck{ID: "embedder", Status: "ok", Label: "Ollama embeddings", Detail: s.cfg.OllamaEmbedModel})
		}
	}
	return out
}

func probeTCP(raw, fallback string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = fallback
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	host := strings.TrimSpace(u.Host)
	if host == "" {
		return fmt.Errorf("host missing in %q", raw)
	}
	addr := host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}
	c, err := net.DialTimeout("tcp", addr, 250*time.Millisecond)
	if err != nil {
		return err
	}
	_ = c.Close()
	return nil
}
