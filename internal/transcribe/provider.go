package transcribe

import (
	"context"
	"fmt"

	"github.com/snarg/studynotes/internal/audio"
)

// Provider is the interface for speech-to-text backends. Implementations
// consume the artifact: its file is gone when Transcribe returns.
type Provider interface {
	Transcribe(ctx context.Context, art *audio.Artifact) (string, error)
	Name() string  // "whisper"
	Model() string // model identifier for logs
}

// TranscriptionError is a failed speech-to-text call. StatusCode is 0 when
// the request never got a response.
type TranscriptionError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *TranscriptionError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s transcription failed (status %d): %s", e.Provider, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s transcription failed: %s: %v", e.Provider, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s transcription failed: %s", e.Provider, e.Message)
	}
}

func (e *TranscriptionError) Unwrap() error { return e.Err }
