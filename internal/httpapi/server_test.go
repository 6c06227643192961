package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/riverwoodlabs/riverwood-voice/internal/brain"
	"github.com/riverwoodlabs/riverwood-voice/internal/config"
	"github.com/riverwoodlabs/riverwood-voice/internal/dialogue"
	"github.com/riverwoodlabs/riverwood-voice/internal/memory"
	"github.com/riverwoodlabs/riverwood-voice/internal/observability"
	"github.com/riverwoodlabs/riverwood-voice/internal/protocol"
	"github.com/riverwoodlabs/riverwood-voice/internal/reliability"
	"github.com/riverwoodlabs/riverwood-voice/internal/session"
	"github.com/riverwoodlabs/riverwood-voice/internal/speech"
)

func newTestServer(t *testing.T) (*httptest.Server, *dialogue.Orchestrator) {
	t.Helper()
	sessions := session.NewManager(time.Minute)
	store := memory.NewInMemoryStore(nil)
	mock := speech.NewMockProvider()
	orch := dialogue.New(sessions, store, brain.NewMockCompleter(), mock, mock,
		observability.NewMetrics("riverwood_api_test"), zerolog.Nop(), dialogue.Config{
			ChatModel:  "chat-model",
			MemoryTopK: 3,
		})
	t.Cleanup(func() { _ = orch.Close() })

	cfg := config.Config{SessionIdleTimeout: 90 * time.Second, AllowAnyOrigin: true}
	srv := httptest.NewServer(New(cfg, orch, observability.NewMetrics("riverwood_api_http_test"), "mock").Router())
	t.Cleanup(srv.Close)
	return srv, orch
}

func createSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, err := http.Post(srv.URL+"/v1/voice/session", "application/json", nil)
	if err != nil {
		t.Fatalf("create session error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d", resp.StatusCode)
	}
	var body createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if body.SessionID == "" || body.Status != "active" {
		t.Fatalf("unexpected session response: %+v", body)
	}
	if body.IdleTimeoutMS != 90000 {
		t.Fatalf("IdleTimeoutMS = %d, want 90000", body.IdleTimeoutMS)
	}
	return body.SessionID
}

func TestTextTurnRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createSession(t, srv)

	resp, err := http.Post(srv.URL+"/v1/voice/session/"+id+"/turn", "application/json",
		strings.NewReader(`{"text":"2bhk ka price kya hai"}`))
	if err != nil {
		t.Fatalf("turn error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("turn status = %d", resp.StatusCode)
	}

	var body turnResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if body.SessionID != id || body.Reply == "" {
		t.Fatalf("unexpected turn response: %+v", body)
	}
}

func TestTurnOnUnknownSessionIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/voice/session/nope/turn", "application/json",
		strings.NewReader(`{"text":"hello ji"}`))
	if err != nil {
		t.Fatalf("turn error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestEndSessionThenTurnIs400(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createSession(t, srv)

	resp, err := http.Post(srv.URL+"/v1/voice/session/"+id+"/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/v1/voice/session/"+id+"/turn", "application/json",
		strings.NewReader(`{"text":"abhi bhi ho kya"}`))
	if err != nil {
		t.Fatalf("turn error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAudioTurnReturnsHeadersAndAudio(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createSession(t, srv)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "turn.wav")
	if err != nil {
		t.Fatalf("form file error = %v", err)
	}
	_, _ = fw.Write([]byte("fake-audio-bytes"))
	mw.Close()

	resp, err := http.Post(srv.URL+"/v1/voice/session/"+id+"/audio", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("audio turn error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audio turn status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Transcript"); got == "" {
		t.Fatalf("missing X-Transcript header")
	}
	if got := resp.Header.Get("X-Reply"); got == "" {
		t.Fatalf("missing X-Reply header")
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(body, []byte("RIFF")) {
		t.Fatalf("body should carry WAV audio")
	}
}

func TestTranscribeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "clip.mp3")
	_, _ = fw.Write([]byte("fake"))
	mw.Close()

	resp, err := http.Post(srv.URL+"/v1/voice/stt", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("stt error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stt status = %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if body["text"] == "" {
		t.Fatalf("empty transcript")
	}
}

func TestSynthesizeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/voice/tts", "application/json",
		strings.NewReader(`{"text":"haan, theek hai"}`))
	if err != nil {
		t.Fatalf("tts error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tts status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "audio/wav" {
		t.Fatalf("Content-Type = %q", got)
	}
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/voice/tts", "application/json",
		strings.NewReader(`{"text":"  "}`))
	if err != nil {
		t.Fatalf("tts error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestFailureKindStatusMapping(t *testing.T) {
	cases := []struct {
		kind reliability.Kind
		want int
	}{
		{reliability.KindClient, http.StatusBadRequest},
		{reliability.KindSessionBusy, http.StatusConflict},
		{reliability.KindUpstreamTransient, http.StatusServiceUnavailable},
		{reliability.KindMemoryUnavailable, http.StatusServiceUnavailable},
		{reliability.KindUpstreamPermanent, http.StatusBadGateway},
		{reliability.KindInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		stub := &stubOrchestrator{turnErr: reliability.New(tc.kind, "test", errors.New("boom"))}
		cfg := config.Config{AllowAnyOrigin: true}
		srv := httptest.NewServer(New(cfg, stub, observability.NewMetrics("riverwood_map_test_"+string(tc.kind)), "mock").Router())

		resp, err := http.Post(srv.URL+"/v1/voice/session/s1/turn", "application/json",
			strings.NewReader(`{"text":"x y"}`))
		if err != nil {
			t.Fatalf("turn error = %v", err)
		}
		if resp.StatusCode != tc.want {
			t.Errorf("kind %q: status = %d, want %d", tc.kind, resp.StatusCode, tc.want)
		}
		var body errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if body.Code != string(tc.kind) {
			t.Errorf("kind %q: code = %q", tc.kind, body.Code)
		}
		srv.Close()
	}
}

func TestSessionNotFoundMapsTo404(t *testing.T) {
	stub := &stubOrchestrator{
		turnErr: reliability.New(reliability.KindClient, "test", session.ErrNotFound),
	}
	srv := httptest.NewServer(New(config.Config{}, stub, observability.NewMetrics("riverwood_404_test"), "mock").Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/voice/session/s1/turn", "application/json",
		strings.NewReader(`{"text":"x y"}`))
	if err != nil {
		t.Fatalf("turn error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestWebsocketTextTurn(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createSession(t, srv)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/voice/session/ws?session_id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	err = conn.WriteJSON(protocol.ClientTextTurn{
		Type: protocol.TypeClientTextTurn,
		Text: "roadwork kab tak complete hoga",
	})
	if err != nil {
		t.Fatalf("write error = %v", err)
	}

	var reply protocol.AgentReply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read error = %v", err)
	}
	if reply.Type != protocol.TypeAgentReply || reply.Text == "" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	// Ending over the socket closes the conversation.
	err = conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, Action: "end"})
	if err != nil {
		t.Fatalf("write error = %v", err)
	}
	var event protocol.SessionEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read error = %v", err)
	}
	if event.Event != "ended" {
		t.Fatalf("event = %q, want ended", event.Event)
	}
}

func TestWebsocketRejectsUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/voice/session/ws?session_id=nope"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("dial should fail for unknown session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("handshake response = %+v, want 404", resp)
	}
}

type stubOrchestrator struct {
	turnErr error
}

func (s *stubOrchestrator) CreateSession() *session.Session { return &session.Session{ID: "s1"} }
func (s *stubOrchestrator) GetSession(string) (*session.Session, error) {
	return &session.Session{ID: "s1"}, nil
}
func (s *stubOrchestrator) EndSession(string) (*session.Session, error) {
	return &session.Session{ID: "s1"}, nil
}
func (s *stubOrchestrator) HandleTurn(context.Context, string, string) (string, error) {
	return "", s.turnErr
}
func (s *stubOrchestrator) ProcessAudio(context.Context, string, []byte, string) (dialogue.PipelineResult, error) {
	return dialogue.PipelineResult{}, s.turnErr
}
func (s *stubOrchestrator) Transcribe(context.Context, []byte, string) (string, error) {
	return "", s.turnErr
}
func (s *stubOrchestrator) Synthesize(context.Context, string) (speech.Clip, error) {
	return speech.Clip{}, s.turnErr
}
