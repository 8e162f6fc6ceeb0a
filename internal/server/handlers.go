package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/n0madic/go-turnkit/internal/evidence"
	"github.com/n0madic/go-turnkit/internal/orchestrator"
	"github.com/n0madic/go-turnkit/internal/stream"
)

// StatusClientClosedRequest is the non-standard status for canceled turns.
const StatusClientClosedRequest = 499

// StatusError marks a failed turn in response bodies.
const StatusError = "error"

type turnRequest struct {
	TurnID             string                `json:"turn_id"`
	ChatID             string                `json:"chat_id"`
	Message            string                `json:"message"`
	PreviousResponseID string                `json:"previous_response_id"`
	PromptCacheKey     string                `json:"prompt_cache_key"`
	Manifest           json.RawMessage       `json:"manifest"`
	Attachments        []evidence.Attachment `json:"attachments"`
	Stream             bool                  `json:"stream"`
}

type errorBody struct {
	Kind           string `json:"kind"`
	Message        string `json:"message"`
	LastResponseID string `json:"last_response_id,omitempty"`
}

type errorResponse struct {
	TurnID string    `json:"turn_id,omitempty"`
	Status string    `json:"status"`
	Text   string    `json:"text"`
	Error  errorBody `json:"error"`
}

// handleCreateTurn handles POST /v1/turns.
func (s *Server) handleCreateTurn(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var in turnRequest
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(in.Message) == "" && in.PreviousResponseID == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if in.TurnID == "" {
		in.TurnID = uuid.NewString()
	}

	req := orchestrator.Request{
		TurnID:             in.TurnID,
		ChatID:             strings.TrimSpace(in.ChatID),
		Text:               in.Message,
		PreviousResponseID: strings.TrimSpace(in.PreviousResponseID),
		PromptCacheKey:     strings.TrimSpace(in.PromptCacheKey),
	}
	if len(in.Manifest) > 0 && string(in.Manifest) != "null" {
		req.Manifest = in.Manifest
	}
	if len(in.Attachments) > 0 {
		req.Attachments = evidence.AttachmentList(in.Attachments)
	}
	w.Header().Set("X-Turn-Id", in.TurnID)

	if in.Stream {
		s.streamTurn(w, r, req)
		return
	}

	out, err := s.runner.Run(r.Context(), req)
	if err != nil {
		status, resp := turnFailure(in.TurnID, err)
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// streamTurn runs a turn and reports its progress as server-sent events.
func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request, req orchestrator.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming is not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var mu sync.Mutex
	writeEvent := func(event string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "event: %s\n", event)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	writeEvent("turn.started", map[string]string{"turn_id": req.TurnID})
	req.OnDelta = func(delta string) {
		writeEvent("turn.delta", map[string]string{"turn_id": req.TurnID, "delta": delta})
	}
	req.OnEvent = func(evt *stream.Event) {
		if evt == nil || !strings.HasPrefix(evt.Type, "background.") {
			return
		}
		writeEvent(evt.Type, evt.Raw)
	}

	out, err := s.runner.Run(r.Context(), req)
	if err != nil {
		_, resp := turnFailure(req.TurnID, err)
		writeEvent("turn.failed", resp)
		return
	}
	writeEvent("turn.completed", out)
}

// handleCancelTurn handles POST /v1/turns/{id}/cancel.
func (s *Server) handleCancelTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.runner.Cancel(id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("turn %q is not in flight", id))
		return
	}
	slog.Info("turn.cancel.requested", "turn_id", id)
	writeJSON(w, http.StatusAccepted, map[string]any{"turn_id": id, "canceled": true})
}

// handleListTurns handles GET /v1/turns.
func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	active := s.runner.Active()
	if active == nil {
		active = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": active})
}

// handleChatHistory handles GET /v1/chats/{id}/history.
func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "chat history is not configured")
		return
	}
	chatID := chi.URLParam(r, "id")
	entries, err := s.history.List(r.Context(), chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	summary, err := s.history.LoadSummary(r.Context(), chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chat_id": chatID,
		"summary": summary,
		"entries": entries,
	})
}

// turnFailure maps a turn error to an HTTP status and body.
func turnFailure(turnID string, err error) (int, errorResponse) {
	kind := orchestrator.ErrorKind(err)
	resp := errorResponse{
		TurnID: turnID,
		Status: StatusError,
		Text:   err.Error(),
		Error:  errorBody{Kind: kind, Message: err.Error()},
	}
	var loop *orchestrator.LoopLimitError
	if errors.As(err, &loop) {
		resp.Error.LastResponseID = loop.LastResponseID
	}
	return statusForKind(kind), resp
}

func statusForKind(kind string) int {
	switch kind {
	case "canceled":
		return StatusClientClosedRequest
	case "timeout":
		return http.StatusGatewayTimeout
	case "in_flight":
		return http.StatusConflict
	case "loop_limit":
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	slog.Error("request failed", "status", status, "error", message)
	writeJSON(w, status, map[string]any{
		"status": StatusError,
		"error":  errorBody{Kind: "request", Message: message},
	})
}
