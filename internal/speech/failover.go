package speech

import (
	"context"
	"fmt"
	"sync/atomic"
)

// NewFailoverPair builds transcriber/synthesizer pairs that prefer the
// primary backend and switch to fallback when a primary call fails. Once
// fallback succeeds it stays active until it fails; then primary is retried.
func NewFailoverPair(
	primaryT Transcriber,
	primaryS Synthesizer,
	fallbackT Transcriber,
	fallbackS Synthesizer,
) (Transcriber, Synthesizer) {
	state := &failoverState{}
	return &failoverTranscriber{state: state, primary: primaryT, fallback: fallbackT},
		&failoverSynthesizer{state: state, primary: primaryS, fallback: fallbackS}
}

type failoverState struct {
	fallbackActive atomic.Bool
}

type failoverTranscriber struct {
	state    *failoverState
	primary  Transcriber
	fallback Transcriber
}

func (t *failoverTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if t.state.fallbackActive.Load() {
		text, fbErr := t.fallback.Transcribe(ctx, audio, filename)
		if fbErr == nil {
			return text, nil
		}
		text, prErr := t.primary.Transcribe(ctx, audio, filename)
		if prErr == nil {
			t.state.fallbackActive.Store(false)
			return text, nil
		}
		return "", fmt.Errorf("stt fallback failed: %v; stt primary failed: %w", fbErr, prErr)
	}

	text, prErr := t.primary.Transcribe(ctx, audio, filename)
	if prErr == nil {
		return text, nil
	}
	text, fbErr := t.fallback.Transcribe(ctx, audio, filename)
	if fbErr != nil {
		return "", fmt.Errorf("stt primary failed: %v; stt fallback failed: %w", prErr, fbErr)
	}
	t.state.fallbackActive.Store(true)
	return text, nil
}

type failoverSynthesizer struct {
	state    *failoverState
	primary  Synthesizer
	fallback Synthesizer
}

func (s *failoverSynthesizer) Synthesize(ctx context.Context, text string) (Clip, error) {
	if s.state.fallbackActive.Load() {
		clip, fbErr := s.fallback.Synthesize(ctx, text)
		if fbErr == nil {
			return clip, nil
		}
		clip, prErr := s.primary.Synthesize(ctx, text)
		if prErr == nil {
			s.state.fallbackActive.Store(false)
			return clip, nil
		}
		return Clip{}, fmt.Errorf("tts fallback failed: %v; tts primary failed: %w", fbErr, prErr)
	}

	clip, prErr := s.primary.Synthesize(ctx, text)
	if prErr == nil {
		return clip, nil
	}
	clip, fbErr := s.fallback.Synthesize(ctx, text)
	if fbErr != nil {
		return Clip{}, fmt.Errorf("tts primary failed: %v; tts fallback failed: %w", prErr, fbErr)
	}
	s.state.fallbackActive.Store(true)
	return clip, nil
}
