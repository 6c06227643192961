// Package speech adapts the transcription and synthesis services. Both
// contracts are synchronous and stateless; failures carry a reliability.Kind.
package speech

import "context"

// Clip is synthesized audio plus its MIME format.
type Clip struct {
	Data   []byte
	Format string
}

// Transcriber converts an uploaded audio clip to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Synthesizer converts reply text to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Clip, error)
}
