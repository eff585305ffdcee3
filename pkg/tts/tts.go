// Package tts provides a unified interface for text-to-speech providers.
//
// All providers implement the Provider interface, enabling seamless
// switching without changing caller code. Synthesis is buffered: the
// full audio blob is returned at once and handed to the artifact store
// for delivery.
//
// Example usage:
//
//	provider, _ := tts.NewOpenAI(
//	    tts.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    tts.WithVoice(tts.VoiceAlloy),
//	)
//	defer provider.Close()
//
//	result, _ := provider.Synthesize(ctx, "Hallo wereld")
//	// result.Audio contains MP3 audio bytes
package tts

import (
	"context"
	"time"
)

// Provider defines the TTS provider interface.
type Provider interface {
	// Synthesize converts text to audio, returning the complete audio
	// buffer. Empty or whitespace-only text is a validation error.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Audio contains the raw audio data in the specified format.
	Audio []byte

	// Format describes the audio encoding.
	Format Format

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the time to first byte in milliseconds.
	LatencyMs int64

	// Duration is the estimated playback duration, if known.
	Duration time.Duration
}

// Format identifies the audio container/encoding of a result.
type Format string

const (
	// FormatMP3 is MP3 at 44.1kHz, the delivery format for artifacts.
	FormatMP3 Format = "mp3"

	// FormatOpus is the Opus container.
	FormatOpus Format = "opus"

	// FormatWAV is 16-bit PCM in a WAV container.
	FormatWAV Format = "wav"
)

// ContentType returns the MIME type for a format.
func (f Format) ContentType() string {
	switch f {
	case FormatMP3:
		return "audio/mpeg"
	case FormatOpus:
		return "audio/opus"
	case FormatWAV:
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}
