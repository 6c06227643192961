// Package httpapi exposes the voice agent over HTTP and websocket: session
// lifecycle, text and audio turns, standalone STT/TTS, and operational
// endpoints.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/riverwoodlabs/riverwood-voice/internal/config"
	"github.com/riverwoodlabs/riverwood-voice/internal/dialogue"
	"github.com/riverwoodlabs/riverwood-voice/internal/observability"
	"github.com/riverwoodlabs/riverwood-voice/internal/protocol"
	"github.com/riverwoodlabs/riverwood-voice/internal/reliability"
	"github.com/riverwoodlabs/riverwood-voice/internal/session"
	"github.com/riverwoodlabs/riverwood-voice/internal/speech"
)

const maxAudioUpload = 10 << 20

// Orchestrator is the slice of the dialogue orchestrator the API needs.
type Orchestrator interface {
	CreateSession() *session.Session
	GetSession(sessionID string) (*session.Session, error)
	EndSession(sessionID string) (*session.Session, error)
	HandleTurn(ctx context.Context, sessionID, text string) (string, error)
	ProcessAudio(ctx context.Context, sessionID string, data []byte, filename string) (dialogue.PipelineResult, error)
	Transcribe(ctx context.Context, data []byte, filename string) (string, error)
	Synthesize(ctx context.Context, text string) (speech.Clip, error)
}

type Server struct {
	cfg          config.Config
	orchestrator Orchestrator
	metrics      *observability.Metrics
	speechLabel  string
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, orchestrator Orchestrator, metrics *observability.Metrics, speechLabel string) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		metrics:      metrics,
		speechLabel:  speechLabel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up, so another site cannot
				// drive a mic session if the agent is exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
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

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Post("/v1/voice/session", s.handleCreateSession)
	r.Get("/v1/voice/session/{id}", s.handleGetSession)
	r.Post("/v1/voice/session/{id}/end", s.handleEndSession)
	r.Post("/v1/voice/session/{id}/turn", s.handleTextTurn)
	r.Post("/v1/voice/session/{id}/audio", s.handleAudioTurn)
	r.Get("/v1/voice/session/ws", s.handleSessionWS)
	r.Post("/v1/voice/stt", s.handleTranscribe)
	r.Post("/v1/voice/tts", s.handleSynthesize)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"speech_provider": s.speechLabel,
	})
}

type createSessionResponse struct {
	SessionID      string    `json:"session_id"`
	Status         string    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	IdleTimeoutMS  int64     `json:"idle_timeout_ms"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.orchestrator.CreateSession()
	respondJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:      sess.ID,
		Status:         string(sess.Status),
		StartedAt:      sess.StartedAt,
		IdleTimeoutMS:  s.cfg.SessionIdleTimeout.Milliseconds(),
		LastActivityAt: sess.LastActivityAt,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orchestrator.GetSession(chi.URLParam(r, "id"))
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orchestrator.EndSession(chi.URLParam(r, "id"))
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type turnRequest struct {
	Text string `json:"text"`
}

type turnResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

func (s *Server) handleTextTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	reply, err := s.orchestrator.HandleTurn(r.Context(), id, req.Text)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, turnResponse{SessionID: id, Reply: reply})
}

// handleAudioTurn runs the full audio pipeline. The reply audio is the
// response body; the transcript and reply text travel in headers so voice
// clients get everything in one round trip.
func (s *Server) handleAudioTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, filename, err := readAudioUpload(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_audio_upload", err.Error())
		return
	}

	res, err := s.orchestrator.ProcessAudio(r.Context(), id, data, filename)
	if err != nil {
		s.respondFailure(w, err)
		return
	}

	w.Header().Set("Content-Type", res.Audio.Format)
	w.Header().Set("X-Transcript", res.Transcript)
	w.Header().Set("X-Reply", res.Reply)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Audio.Data)
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	data, filename, err := readAudioUpload(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_audio_upload", err.Error())
		return
	}

	text, err := s.orchestrator.Transcribe(r.Context(), data, filename)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	clip, err := s.orchestrator.Synthesize(r.Context(), req.Text)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", clip.Format)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(clip.Data)
}

// handleSessionWS serves the turn-based websocket: one client frame in, the
// resulting transcript/reply/audio frames out. Processing is synchronous per
// connection, which keeps writes single-threaded.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if _, err := s.orchestrator.GetSession(sessionID); err != nil {
		s.respondFailure(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	defer s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()

	conn.SetReadLimit(maxAudioUpload)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			writeWS(conn, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Detail:    err.Error(),
			})
			continue
		}

		switch msg := parsed.(type) {
		case protocol.ClientTextTurn:
			reply, err := s.orchestrator.HandleTurn(r.Context(), sessionID, msg.Text)
			if err != nil {
				writeWS(conn, wsError(sessionID, err))
				continue
			}
			writeWS(conn, protocol.AgentReply{
				Type: protocol.TypeAgentReply, SessionID: sessionID, Text: reply,
			})

		case protocol.ClientAudioTurn:
			audio, err := base64.StdEncoding.DecodeString(msg.AudioBase64)
			if err != nil {
				writeWS(conn, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "invalid_audio_base64",
					Detail:    err.Error(),
				})
				continue
			}
			res, err := s.orchestrator.ProcessAudio(r.Context(), sessionID, audio, msg.Filename)
			if res.Transcript != "" {
				writeWS(conn, protocol.Transcript{
					Type: protocol.TypeTranscript, SessionID: sessionID, Text: res.Transcript,
				})
			}
			if err != nil {
				writeWS(conn, wsError(sessionID, err))
				continue
			}
			writeWS(conn, protocol.AgentReply{
				Type: protocol.TypeAgentReply, SessionID: sessionID, Text: res.Reply,
			})
			writeWS(conn, protocol.AgentAudio{
				Type:        protocol.TypeAgentAudio,
				SessionID:   sessionID,
				Format:      res.Audio.Format,
				AudioBase64: base64.StdEncoding.EncodeToString(res.Audio.Data),
			})

		case protocol.ClientControl:
			if msg.Action != "end" {
				writeWS(conn, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "unsupported_action",
					Detail:    msg.Action,
				})
				continue
			}
			if _, err := s.orchestrator.EndSession(sessionID); err != nil {
				writeWS(conn, wsError(sessionID, err))
				continue
			}
			writeWS(conn, protocol.SessionEvent{
				Type: protocol.TypeSessionEvent, SessionID: sessionID, Event: "ended",
			})
			return
		}
	}
}

func writeWS(conn *websocket.Conn, msg any) {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = conn.WriteJSON(msg)
}

func wsError(sessionID string, err error) protocol.ErrorEvent {
	kind := reliability.KindOf(err)
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      string(kind),
		Retryable: reliability.Retryable(err),
		Detail:    err.Error(),
	}
}

func readAudioUpload(r *http.Request) ([]byte, string, error) {
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		return nil, "", err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxAudioUpload))
	if err != nil {
		return nil, "", err
	}
	return data, header.Filename, nil
}

// respondFailure maps the error taxonomy onto HTTP statuses: caller mistakes
// are 4xx, provider trouble is 5xx with retryability implied by the status.
func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	kind := reliability.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case reliability.KindClient:
		status = http.StatusBadRequest
		if errors.Is(err, session.ErrNotFound) {
			status = http.StatusNotFound
		}
	case reliability.KindSessionBusy:
		status = http.StatusConflict
	case reliability.KindUpstreamTransient, reliability.KindMemoryUnavailable:
		status = http.StatusServiceUnavailable
	case reliability.KindUpstreamPermanent:
		status = http.StatusBadGateway
	}
	respondError(w, status, string(kind), err.Error())
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
