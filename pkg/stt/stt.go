// Package stt provides a unified interface for speech-to-text providers.
//
// Two kinds of backends are supported: buffered transcription of a
// complete utterance (OpenAI Whisper) and live streaming transcription
// over a WebSocket (Deepgram). All buffered providers implement the
// Provider interface, enabling seamless switching without changing
// caller code.
//
// Example usage:
//
//	provider, _ := stt.NewWhisper(
//	    stt.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	)
//	defer provider.Close()
//
//	result, _ := provider.Transcribe(ctx, audioBytes, "nl")
//	// result.Text contains the transcript
package stt

import "context"

// Provider defines the buffered speech-to-text interface.
type Provider interface {
	// Transcribe converts a complete utterance to text. The language
	// hint is optional; pass "" to let the provider detect it.
	Transcribe(ctx context.Context, audio []byte, language string) (*Result, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// LiveStream is a started streaming transcription session. Audio goes
// in as it is captured; transcript segments come back on Results until
// the stream is closed.
type LiveStream interface {
	// SendAudio forwards a captured frame to the provider.
	SendAudio(audio []byte) error

	// Results returns the transcript channel. It is closed after Close
	// once the provider has flushed its final segments.
	Results() <-chan TranscriptEvent

	// Errors returns the channel of asynchronous read errors.
	Errors() <-chan error

	// Close ends the stream and tears the connection down.
	Close() error
}

// Result is a transcription result.
type Result struct {
	// Text is the transcribed text. May be empty when the audio
	// contained no recognizable speech.
	Text string

	// Language is the detected or requested language code, if known.
	Language string

	// DurationMs is the provider-reported audio duration, if known.
	DurationMs int64
}
