package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/unhabit/internal/pipeline"
	"github.com/antoniostano/unhabit/internal/protocol"
	"github.com/antoniostano/unhabit/internal/reflection"
)

type reflectionRequest struct {
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

type reflectionResponse struct {
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleReflectionStart(w http.ResponseWriter, r *http.Request) {
	var req reflectionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	reply, err := s.svc.Reflection().Start(r.Context(), req.UserID, req.Content)
	if err != nil {
		respondAgentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reflectionResponse{Response: reply, Timestamp: s.timestamp()})
}

func (s *Server) handleReflectionContinue(w http.ResponseWriter, r *http.Request) {
	var req reflectionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	reply, err := s.svc.Reflection().Continue(r.Context(), req.UserID, req.Content)
	if err != nil {
		respondAgentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reflectionResponse{Response: reply, Timestamp: s.timestamp()})
}

// handleReflectionEnd accepts the user either as ?user_id= or in a JSON body.
func (s *Server) handleReflectionEnd(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		var req reflectionRequest
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		userID = req.UserID
	}
	result, err := s.svc.EndReflection(r.Context(), userID)
	if err != nil {
		respondAgentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleReflectionWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "query parameter user_id is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.ObserveSessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 16)
	outbound := make(chan any, 16)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		defer close(outbound)
		s.runTurns(ctx, userID, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range outbound {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				s.metrics.ObserveIndicator("ws_write_error")
				cancel()
				continue
			}
			if t, ok := protocol.TypeOf(msg); ok {
				s.metrics.ObserveWSMessage("outbound", string(t))
			}
		}
	}()

	outbound <- protocol.SystemEvent{Type: protocol.TypeSystemEvent, UserID: userID, Code: "connected"}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout()))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout()))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout()))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			parsed = protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				UserID: userID,
				Code:   "invalid_client_message",
				Source: "gateway",
				Detail: err.Error(),
			}
		} else if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected")
}

func (s *Server) readTimeout() time.Duration {
	if s.cfg.SessionIdleTTL > 0 {
		return s.cfg.SessionIdleTTL
	}
	return 2 * time.Minute
}

// runTurns handles one connection's messages in order. Invalid client messages arrive
// here already converted to error events so that outbound stays single-writer.
func (s *Server) runTurns(ctx context.Context, userID string, inbound <-chan any, outbound chan<- any) {
	for msg := range inbound {
		var out any
		switch m := msg.(type) {
		case protocol.ErrorEvent:
			out = m
		case protocol.ReflectionMessage:
			reply, err := s.svc.Reflection().Continue(ctx, userID, m.Content)
			if err != nil {
				out = wsError(userID, err)
				break
			}
			out = protocol.AssistantMessage{
				Type:      protocol.TypeAssistantMessage,
				UserID:    userID,
				Response:  reply,
				Timestamp: s.timestamp(),
			}
		case protocol.ClientControl:
			result, err := s.svc.EndReflection(ctx, userID)
			if err != nil {
				out = wsError(userID, err)
				break
			}
			out = protocol.ReflectionEnded{
				Type:      protocol.TypeReflectionEnded,
				UserID:    userID,
				Result:    result,
				Timestamp: s.timestamp(),
			}
		default:
			continue
		}
		select {
		case <-ctx.Done():
			return
		case outbound <- out:
		}
	}
}

func wsError(userID string, err error) protocol.ErrorEvent {
	ev := protocol.ErrorEvent{
		Type:   protocol.TypeErrorEvent,
		UserID: userID,
		Code:   "internal_error",
		Source: "reflection",
		Detail: err.Error(),
	}
	switch {
	case errors.Is(err, reflection.ErrNoActiveSession):
		ev.Code = "no_active_session"
	case errors.Is(err, reflection.ErrEmptyMessage), errors.Is(err, reflection.ErrUserRequired):
		ev.Code = "invalid_request"
	case errors.Is(err, pipeline.ErrClosed):
		ev.Code = "shutting_down"
		ev.Retryable = true
	}
	return ev
}
