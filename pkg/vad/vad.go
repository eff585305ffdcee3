// Package vad decides utterance boundaries from a stream of audio frames.
//
// Endpointing is a pure function of the frames fed in and their
// timestamps: the detector tracks an energy-based speaking state and
// emits a boundary event once contiguous silence, a no-speech timeout,
// or the utterance ceiling is reached. It has no side effects and no
// knowledge of the transport delivering the audio.
package vad

import (
	"encoding/binary"
	"time"
)

// Default tuning values. Empirical, matched to 16kHz mono PCM16
// capture; override via Config for other capture settings.
const (
	DefaultSilenceThreshold = 500.0
	DefaultSilenceDuration  = 1500 * time.Millisecond
	DefaultNoSpeechTimeout  = 10 * time.Second
	DefaultMaxUtterance     = 30 * time.Second
	DefaultMinChunks        = 3
)

// Event is a boundary decision emitted by the detector.
type Event int

const (
	// EventNone means keep feeding frames.
	EventNone Event = iota

	// EventSpeechStart fires once when energy first crosses the threshold.
	EventSpeechStart

	// EventEndOfUtterance fires when contiguous silence after speech
	// exceeds the configured duration.
	EventEndOfUtterance

	// EventNoSpeech fires when no speech was detected within the timeout.
	EventNoSpeech

	// EventMaxDuration fires when total recording time exceeds the
	// ceiling, forcing a flush regardless of silence state.
	EventMaxDuration
)

// String returns the event name for logging.
func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventSpeechStart:
		return "speech_start"
	case EventEndOfUtterance:
		return "end_of_utterance"
	case EventNoSpeech:
		return "no_speech"
	case EventMaxDuration:
		return "max_duration"
	default:
		return "unknown"
	}
}

// Config holds endpointing parameters.
type Config struct {
	// SilenceThreshold is the mean absolute sample value below which a
	// frame counts as silence.
	SilenceThreshold float64

	// SilenceDuration is how long contiguous silence must last, once
	// speaking, before the utterance is declared done.
	SilenceDuration time.Duration

	// NoSpeechTimeout aborts the recording when no speech is detected
	// at all within this window.
	NoSpeechTimeout time.Duration

	// MaxUtterance forces a flush when total recording time exceeds it.
	MaxUtterance time.Duration

	// MinChunks is the buffered-flow noise filter: a non-manual flush
	// with fewer chunks is discarded without running the pipeline.
	MinChunks int
}

// DefaultConfig returns the default endpointing parameters.
func DefaultConfig() Config {
	return Config{
		SilenceThreshold: DefaultSilenceThreshold,
		SilenceDuration:  DefaultSilenceDuration,
		NoSpeechTimeout:  DefaultNoSpeechTimeout,
		MaxUtterance:     DefaultMaxUtterance,
		MinChunks:        DefaultMinChunks,
	}
}

// Energy computes the mean absolute sample value of a little-endian
// PCM16 frame. A trailing odd byte is ignored.
func Energy(pcm16 []byte) float64 {
	n := len(pcm16) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm16[i*2:]))
		if s < 0 {
			sum -= float64(s)
		} else {
			sum += float64(s)
		}
	}
	return sum / float64(n)
}

// Detector tracks speaking state over a stream of frames.
// Not safe for concurrent use; one detector serves one session.
type Detector struct {
	cfg Config

	started      bool
	startTime    time.Time
	speaking     bool
	silenceSince time.Time
	inSilence    bool
}

// NewDetector creates a detector with the given config.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Reset clears all state for a new listening phase.
func (d *Detector) Reset() {
	d.started = false
	d.speaking = false
	d.inSilence = false
}

// Speaking reports whether speech has been detected this phase.
func (d *Detector) Speaking() bool {
	return d.speaking
}

// Feed processes one frame observed at the given time and returns the
// boundary decision.
func (d *Detector) Feed(frame []byte, now time.Time) Event {
	if !d.started {
		d.started = true
		d.startTime = now
	}

	if d.cfg.MaxUtterance > 0 && now.Sub(d.startTime) > d.cfg.MaxUtterance {
		return EventMaxDuration
	}

	energy := Energy(frame)

	if energy > d.cfg.SilenceThreshold {
		d.inSilence = false
		if !d.speaking {
			d.speaking = true
			return EventSpeechStart
		}
		return EventNone
	}

	if !d.speaking {
		if d.cfg.NoSpeechTimeout > 0 && now.Sub(d.startTime) > d.cfg.NoSpeechTimeout {
			return EventNoSpeech
		}
		return EventNone
	}

	if !d.inSilence {
		d.inSilence = true
		d.silenceSince = now
		return EventNone
	}
	if now.Sub(d.silenceSince) > d.cfg.SilenceDuration {
		return EventEndOfUtterance
	}
	return EventNone
}

// Decision is the outcome of a buffered-flow flush request.
type Decision int

const (
	// Process means run the pipeline on the flushed utterance.
	Process Decision = iota

	// NoAudio means the buffer was empty.
	NoAudio

	// TooLittleAudio means the chunk count fell under the noise filter
	// and the flush was not client-initiated.
	TooLittleAudio
)

// FlushDecision applies the buffered-flow policy: a manual stop always
// proceeds (given any audio at all), while an automatic stop with fewer
// than MinChunks chunks is treated as noise.
func (c Config) FlushDecision(chunks int, manualStop bool) Decision {
	if chunks == 0 {
		return NoAudio
	}
	if !manualStop && chunks < c.MinChunks {
		return TooLittleAudio
	}
	return Process
}
