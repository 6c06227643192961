// Package dialogue implements the per-turn conversation pipeline: normalize,
// remember, generate, record, speak. It owns session sequencing and the
// boundary between the in-call turn history and the durable note store.
package dialogue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/riverwoodlabs/riverwood-voice/internal/brain"
	"github.com/riverwoodlabs/riverwood-voice/internal/hinglish"
	"github.com/riverwoodlabs/riverwood-voice/internal/memory"
	"github.com/riverwoodlabs/riverwood-voice/internal/observability"
	"github.com/riverwoodlabs/riverwood-voice/internal/reliability"
	"github.com/riverwoodlabs/riverwood-voice/internal/session"
	"github.com/riverwoodlabs/riverwood-voice/internal/speech"
)

const (
	memoryQueryTimeout = 1 * time.Second
	memorySaveTimeout  = 2 * time.Second
	retryBackoffBase   = 200 * time.Millisecond
	retryBackoffCap    = 2 * time.Second
	fallbackNoteMax    = 280
)

// Normalizer canonicalizes user text before retrieval and generation.
type Normalizer func(string) string

// InsightFn derives memory-note text from a conversation transcript.
type InsightFn func(ctx context.Context, convo string) (string, error)

// Config carries the orchestrator knobs, read once at construction.
type Config struct {
	Persona               string
	ChatModel             string
	InsightModel          string
	ContextCharBudget     int
	RecentTurnWindow      int
	MemoryTopK            int
	MaxCompletionAttempts int
	TurnTimeout           time.Duration
}

// Orchestrator drives the turn pipeline and session lifecycle. Turns for
// different sessions proceed in parallel; turns for the same session are
// serialized through the session manager's turn guard.
type Orchestrator struct {
	sessions    *session.Manager
	store       memory.Store
	completer   brain.Completer
	transcriber speech.Transcriber
	synthesizer speech.Synthesizer
	metrics     *observability.Metrics
	log         zerolog.Logger
	cfg         Config

	// Normalize and Insight are pluggable pure functions; defaults are the
	// Hinglish pass and a completion-backed summarizer.
	normalize Normalizer
	insight   InsightFn

	mu         sync.Mutex
	noted      map[string]map[string]struct{} // session id -> user turn ids with a note
	summarized map[string]struct{}
	noteWG     sync.WaitGroup
}

func New(
	sessions *session.Manager,
	store memory.Store,
	completer brain.Completer,
	transcriber speech.Transcriber,
	synthesizer speech.Synthesizer,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	cfg Config,
) *Orchestrator {
	if cfg.Persona == "" {
		cfg.Persona = DefaultPersona
	}
	if cfg.ContextCharBudget <= 0 {
		cfg.ContextCharBudget = 6000
	}
	if cfg.RecentTurnWindow <= 0 {
		cfg.RecentTurnWindow = 8
	}
	if cfg.MaxCompletionAttempts <= 0 {
		cfg.MaxCompletionAttempts = 3
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 30 * time.Second
	}

	o := &Orchestrator{
		sessions:    sessions,
		store:       store,
		completer:   completer,
		transcriber: transcriber,
		synthesizer: synthesizer,
		metrics:     metrics,
		log:         logger,
		cfg:         cfg,
		normalize:   hinglish.Normalize,
		noted:       make(map[string]map[string]struct{}),
		summarized:  make(map[string]struct{}),
	}
	o.insight = o.completionInsight
	return o
}

// SetNormalizer replaces the text normalization pass.
func (o *Orchestrator) SetNormalizer(fn Normalizer) {
	if fn != nil {
		o.normalize = fn
	}
}

// SetInsightFn replaces the memory-note derivation step.
func (o *Orchestrator) SetInsightFn(fn InsightFn) {
	if fn != nil {
		o.insight = fn
	}
}

// CreateSession opens a new conversation.
func (o *Orchestrator) CreateSession() *session.Session {
	s := o.sessions.Create()
	o.metrics.SessionEvents.WithLabelValues("created").Inc()
	o.metrics.ActiveSessions.Set(float64(o.sessions.ActiveCount()))
	o.log.Info().Str("session_id", s.ID).Msg("session created")
	return s
}

// GetSession returns a copy of the session, or a client error.
func (o *Orchestrator) GetSession(sessionID string) (*session.Session, error) {
	s, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, reliability.New(reliability.KindClient, "dialogue.get_session", err)
	}
	return s, nil
}

// HandleTurn runs the per-turn pipeline and returns the agent reply. On
// generation failure the user turn stays recorded and the session returns to
// awaiting input; resubmitting the same text regenerates the reply without
// duplicating the user turn.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, userText string) (string, error) {
	started := time.Now()

	text := o.normalize(userText)
	if text == "" {
		return "", reliability.New(reliability.KindClient, "dialogue.handle_turn",
			errors.New("empty user text after normalization"))
	}

	if err := o.sessions.BeginTurn(sessionID); err != nil {
		if errors.Is(err, session.ErrBusy) {
			o.metrics.Turns.WithLabelValues("busy").Inc()
			return "", reliability.New(reliability.KindSessionBusy, "dialogue.handle_turn", err)
		}
		return "", reliability.New(reliability.KindClient, "dialogue.handle_turn", err)
	}
	defer o.sessions.FinishTurn(sessionID)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.TurnTimeout)
	defer cancel()

	userTurn, appended, err := o.sessions.AppendUserTurn(sessionID, text)
	if err != nil {
		return "", reliability.New(reliability.KindClient, "dialogue.handle_turn", err)
	}
	if !appended {
		o.log.Info().Str("session_id", sessionID).Str("turn_id", userTurn.ID).
			Msg("reusing pending user turn for regeneration")
	}

	notes := o.retrieveNotes(ctx, sessionID, text)
	recent, err := o.sessions.RecentTurns(sessionID, o.cfg.RecentTurnWindow)
	if err != nil {
		return "", reliability.New(reliability.KindClient, "dialogue.handle_turn", err)
	}

	bundle := AssembleContext(o.cfg.Persona, recent, notes, o.cfg.ContextCharBudget)
	o.metrics.ContextBundleSize.Observe(float64(bundle.Chars))

	reply, err := o.completeWithRetry(ctx, bundle)
	if err != nil {
		o.metrics.Turns.WithLabelValues("generation_failed").Inc()
		o.log.Warn().Err(err).Str("session_id", sessionID).Str("turn_id", userTurn.ID).
			Msg("generation failed, user turn kept for retry")
		return "", err
	}

	agentTurn, err := o.sessions.AppendAgentTurn(sessionID, reply)
	if err != nil {
		if errors.Is(err, session.ErrTurnOrder) {
			return "", o.abortSession(sessionID, err)
		}
		return "", reliability.New(reliability.KindClient, "dialogue.handle_turn", err)
	}

	o.metrics.Turns.WithLabelValues("ok").Inc()
	o.metrics.ObserveStageLatency("turn_total", time.Since(started))
	o.writeExchangeNote(sessionID, userTurn, agentTurn)
	return reply, nil
}

// PipelineResult is the outcome of the audio-in, audio-out pipeline.
type PipelineResult struct {
	Transcript string
	Reply      string
	Audio      speech.Clip
}

// ProcessAudio runs transcription, the turn pipeline, and synthesis in one
// pass. Transcripts with fewer than two words are treated as no valid speech.
func (o *Orchestrator) ProcessAudio(ctx context.Context, sessionID string, data []byte, filename string) (PipelineResult, error) {
	sttStart := time.Now()
	raw, err := o.transcriber.Transcribe(ctx, data, filename)
	if err != nil {
		o.metrics.ProviderErrors.WithLabelValues("stt", string(reliability.KindOf(err))).Inc()
		return PipelineResult{}, err
	}
	o.metrics.ObserveStageLatency("transcription", time.Since(sttStart))

	transcript := o.normalize(raw)
	if len(strings.Fields(transcript)) < 2 {
		return PipelineResult{}, reliability.New(reliability.KindClient, "dialogue.process_audio",
			errors.New("no valid speech detected"))
	}

	reply, err := o.HandleTurn(ctx, sessionID, transcript)
	if err != nil {
		return PipelineResult{Transcript: transcript}, err
	}

	ttsStart := time.Now()
	clip, err := o.synthesizer.Synthesize(ctx, reply)
	if err != nil {
		o.metrics.ProviderErrors.WithLabelValues("tts", string(reliability.KindOf(err))).Inc()
		return PipelineResult{Transcript: transcript, Reply: reply}, err
	}
	o.metrics.ObserveStageLatency("synthesis", time.Since(ttsStart))

	return PipelineResult{Transcript: transcript, Reply: reply, Audio: clip}, nil
}

// Transcribe exposes the transcription adapter with the normalization pass
// applied, for the standalone STT endpoint.
func (o *Orchestrator) Transcribe(ctx context.Context, data []byte, filename string) (string, error) {
	raw, err := o.transcriber.Transcribe(ctx, data, filename)
	if err != nil {
		o.metrics.ProviderErrors.WithLabelValues("stt", string(reliability.KindOf(err))).Inc()
		return "", err
	}
	return o.normalize(raw), nil
}

// Synthesize exposes the synthesis adapter for the standalone TTS endpoint.
func (o *Orchestrator) Synthesize(ctx context.Context, text string) (speech.Clip, error) {
	if strings.TrimSpace(text) == "" {
		return speech.Clip{}, reliability.New(reliability.KindClient, "dialogue.synthesize",
			errors.New("empty text"))
	}
	clip, err := o.synthesizer.Synthesize(ctx, text)
	if err != nil {
		o.metrics.ProviderErrors.WithLabelValues("tts", string(reliability.KindOf(err))).Inc()
		return speech.Clip{}, err
	}
	return clip, nil
}

// EndSession terminates a session and schedules its summary note.
func (o *Orchestrator) EndSession(sessionID string) (*session.Session, error) {
	s, err := o.sessions.End(sessionID)
	if err != nil {
		return nil, reliability.New(reliability.KindClient, "dialogue.end_session", err)
	}
	o.metrics.SessionEvents.WithLabelValues("ended").Inc()
	o.metrics.ActiveSessions.Set(float64(o.sessions.ActiveCount()))
	o.summarizeEnded(s)
	return s, nil
}

// HandleExpiry is installed as the session manager's expire hook so idle
// sessions get the same end-of-session summary as explicit ends.
func (o *Orchestrator) HandleExpiry(s *session.Session) {
	o.metrics.SessionEvents.WithLabelValues("expired").Inc()
	o.metrics.ActiveSessions.Set(float64(o.sessions.ActiveCount()))
	o.log.Info().Str("session_id", s.ID).Msg("session expired after idle timeout")
	o.summarizeEnded(s)
}

// Close drains in-flight background note writes. Each write is bounded by
// memorySaveTimeout, so Close returns promptly during shutdown.
func (o *Orchestrator) Close() error {
	o.noteWG.Wait()
	return nil
}

func (o *Orchestrator) retrieveNotes(ctx context.Context, sessionID, query string) []memory.Scored {
	if o.store == nil || o.cfg.MemoryTopK <= 0 {
		return nil
	}
	queryCtx, cancel := context.WithTimeout(ctx, memoryQueryTimeout)
	defer cancel()

	notes, err := o.store.Query(queryCtx, query, o.cfg.MemoryTopK)
	if err != nil {
		// MemoryUnavailable is absorbed here: the turn proceeds on
		// recent-turn context alone.
		o.metrics.ProviderErrors.WithLabelValues("memory", string(reliability.KindMemoryUnavailable)).Inc()
		o.log.Warn().Err(err).Str("session_id", sessionID).
			Msg("memory query failed, continuing without retrieved notes")
		return nil
	}
	return notes
}

func (o *Orchestrator) completeWithRetry(ctx context.Context, bundle ContextBundle) (string, error) {
	var lastErr error
	for attempt := 0; attempt < o.cfg.MaxCompletionAttempts; attempt++ {
		if attempt > 0 {
			backoff := reliability.ExponentialBackoff(attempt-1, retryBackoffBase, retryBackoffCap)
			select {
			case <-ctx.Done():
				return "", reliability.New(reliability.KindUpstreamTransient,
					"dialogue.complete", ctx.Err())
			case <-time.After(backoff):
			}
		}

		stageStart := time.Now()
		reply, err := o.completer.Complete(ctx, brain.Request{
			Model:       o.cfg.ChatModel,
			Messages:    bundle.Messages,
			Temperature: 0.8,
			MaxTokens:   200,
		})
		o.metrics.ObserveStageLatency("completion", time.Since(stageStart))

		if err == nil {
			if strings.TrimSpace(reply) == "" {
				lastErr = reliability.New(reliability.KindUpstreamTransient,
					"dialogue.complete", errors.New("empty completion"))
				continue
			}
			return reply, nil
		}

		o.metrics.ProviderErrors.WithLabelValues("brain", string(reliability.KindOf(err))).Inc()
		lastErr = err
		if !reliability.Retryable(err) {
			break
		}
	}
	return "", lastErr
}

// writeExchangeNote persists one insight per completed exchange, keyed by the
// user turn so a regenerated reply for the same pending turn cannot write twice.
func (o *Orchestrator) writeExchangeNote(sessionID string, userTurn, agentTurn session.Turn) {
	o.mu.Lock()
	turns := o.noted[sessionID]
	if turns == nil {
		turns = make(map[string]struct{})
		o.noted[sessionID] = turns
	}
	if _, done := turns[userTurn.ID]; done {
		o.mu.Unlock()
		o.metrics.MemoryNotes.WithLabelValues("skipped_duplicate").Inc()
		return
	}
	turns[userTurn.ID] = struct{}{}
	o.mu.Unlock()

	convo := "user: " + userTurn.Text + "\nagent: " + agentTurn.Text
	o.appendNoteAsync(sessionID, memory.KindExchange, convo)
}

func (o *Orchestrator) summarizeEnded(s *session.Session) {
	o.mu.Lock()
	delete(o.noted, s.ID)
	if _, done := o.summarized[s.ID]; done || len(s.Turns) == 0 {
		o.mu.Unlock()
		return
	}
	o.summarized[s.ID] = struct{}{}
	o.mu.Unlock()

	var convo strings.Builder
	for _, t := range s.Turns {
		convo.WriteString(string(t.Role))
		convo.WriteString(": ")
		convo.WriteString(t.Text)
		convo.WriteString("\n")
	}
	o.appendNoteAsync(s.ID, memory.KindSessionSummary, convo.String())
}

// appendNoteAsync derives and writes a note without blocking the caller. A
// failed write is logged and dropped: memory persistence is best-effort and
// must never fail a turn.
func (o *Orchestrator) appendNoteAsync(sessionID string, kind memory.NoteKind, convo string) {
	if o.store == nil {
		return
	}
	o.noteWG.Add(1)
	go func() {
		defer o.noteWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), memorySaveTimeout)
		defer cancel()

		text, err := o.insight(ctx, convo)
		if err != nil || strings.TrimSpace(text) == "" {
			text = fallbackNote(convo)
		}

		err = o.store.Append(ctx, memory.Note{
			SessionID: sessionID,
			Kind:      kind,
			Text:      text,
		})
		if err != nil {
			o.metrics.MemoryNotes.WithLabelValues("failed").Inc()
			o.log.Warn().Err(err).Str("session_id", sessionID).Str("kind", string(kind)).
				Msg("memory note write failed")
			return
		}
		o.metrics.MemoryNotes.WithLabelValues("written").Inc()
	}()
}

// completionInsight is the default InsightFn: a short Hinglish note written
// by the insight model.
func (o *Orchestrator) completionInsight(ctx context.Context, convo string) (string, error) {
	return o.completer.Complete(ctx, brain.Request{
		Model: o.cfg.InsightModel,
		Messages: []brain.Message{
			{Role: "system", Content: insightSystemPrompt},
			{Role: "user", Content: "NEW CONVERSATION:\n" + convo + "\n\nGenerate the memory note:"},
		},
		Temperature: 0.5,
		MaxTokens:   150,
	})
}

func (o *Orchestrator) abortSession(sessionID string, cause error) error {
	o.log.Error().Err(cause).Str("session_id", sessionID).
		Msg("append-order invariant violated, aborting session")
	if _, err := o.sessions.End(sessionID); err == nil {
		o.metrics.SessionEvents.WithLabelValues("aborted").Inc()
		o.metrics.ActiveSessions.Set(float64(o.sessions.ActiveCount()))
	}
	return reliability.New(reliability.KindInternal, "dialogue.handle_turn", cause)
}

func fallbackNote(convo string) string {
	note := strings.Join(strings.Fields(convo), " ")
	if len(note) > fallbackNoteMax {
		note = note[:fallbackNoteMax]
	}
	return note
}
