package speech

import (
	"context"

	"github.com/riverwoodlabs/riverwood-voice/internal/audio"
)

const mockSampleRate = 16000

// MockProvider is the local fallback used when cloud speech credentials are
// not configured. Transcription yields a fixed Hinglish utterance and
// synthesis yields a short silent WAV clip, so the full pipeline stays
// exercisable offline.
type MockProvider struct {
	// TranscribeFn / SynthesizeFn override the canned behavior in tests.
	TranscribeFn func(ctx context.Context, audio []byte, filename string) (string, error)
	SynthesizeFn func(ctx context.Context, text string) (Clip, error)
}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (m *MockProvider) Transcribe(ctx context.Context, data []byte, filename string) (string, error) {
	if m.TranscribeFn != nil {
		return m.TranscribeFn(ctx, data, filename)
	}
	if len(data) == 0 {
		return "", nil
	}
	return "bhai yeh 2bhk ka price kya hai", nil
}

func (m *MockProvider) Synthesize(ctx context.Context, text string) (Clip, error) {
	if m.SynthesizeFn != nil {
		return m.SynthesizeFn(ctx, text)
	}
	// ~20ms of silence per rune, capped at two seconds.
	samples := len([]rune(text)) * mockSampleRate / 50
	if max := 2 * mockSampleRate; samples > max {
		samples = max
	}
	if samples == 0 {
		samples = mockSampleRate / 50
	}
	pcm := make([]byte, samples*2)
	return Clip{
		Data:   audio.EncodeWAVPCM16LE(pcm, mockSampleRate),
		Format: "audio/wav",
	}, nil
}
