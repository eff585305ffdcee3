// Package config provides environment-driven configuration for voicebridge.
package config

import (
	"os"
	"strconv"
	"time"
)

// Defaults for server and session management.
const (
	DefaultPort         = "8000"
	DefaultMaxSessions  = 100
	DefaultMaxInactive  = 300 * time.Second
	DefaultReapInterval = 60 * time.Second
)

// Defaults for endpointing. These are empirical tuning values, not
// protocol constants; override them via environment when the client's
// capture settings change.
const (
	DefaultSilenceThreshold = 500.0
	DefaultSilenceDuration  = 1500 * time.Millisecond
	DefaultNoSpeechTimeout  = 10 * time.Second
	DefaultMaxUtterance     = 30 * time.Second
	DefaultMinChunks        = 3
)

// DefaultSystemPrompt is the assistant preamble sent with every
// completion request when the history carries no system turn.
const DefaultSystemPrompt = "Je bent een vriendelijke Nederlandse assistent voor het Coliblanco Dashboard. " +
	"Je geeft korte, behulpzame antwoorden in het Nederlands. " +
	"Wees beleefd, informatief en to-the-point. " +
	"Houd je antwoorden kort en bondig, maar wel vriendelijk en behulpzaam. " +
	"Spreek Nederlands."

// Config holds the full process configuration.
type Config struct {
	// Server
	Port      string
	LogLevel  string
	StaticDir string
	AudioDir  string

	// Provider credentials
	OpenAIAPIKey   string
	DeepgramAPIKey string
	GeminiAPIKey   string

	// Conversation
	Language     string
	ChatProvider string // "openai" or "gemini"
	ChatModel    string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string

	// Speech synthesis
	TTSVoice string
	TTSModel string

	// TTSFallbackVoice enables a second synthesis provider behind the
	// primary one; empty disables the fallback chain.
	TTSFallbackVoice string

	// Optional pipeline stages
	WakeWord     string // empty disables the wake-word gate
	IntentEnable bool

	// Session management
	MaxSessions  int
	MaxInactive  time.Duration
	ReapInterval time.Duration

	// Endpointing
	SilenceThreshold float64
	SilenceDuration  time.Duration
	NoSpeechTimeout  time.Duration
	MaxUtterance     time.Duration
	MinChunks        int
}

// FromEnv builds a Config from environment variables, applying defaults
// for anything unset.
func FromEnv() *Config {
	return &Config{
		Port:      envString("PORT", DefaultPort),
		LogLevel:  envString("LOG_LEVEL", "info"),
		StaticDir: envString("STATIC_DIR", "./dist"),
		AudioDir:  envString("AUDIO_DIR", "./audio"),

		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		DeepgramAPIKey: os.Getenv("DEEPGRAM_API_KEY"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),

		Language:     envString("LANGUAGE", "nl"),
		ChatProvider: envString("CHAT_PROVIDER", "openai"),
		ChatModel:    envString("CHAT_MODEL", "gpt-4o"),
		Temperature:  envFloat("CHAT_TEMPERATURE", 0.7),
		MaxTokens:    envInt("CHAT_MAX_TOKENS", 150),
		SystemPrompt: envString("SYSTEM_PROMPT", DefaultSystemPrompt),

		TTSVoice: envString("TTS_VOICE", "alloy"),
		TTSModel: envString("TTS_MODEL", "tts-1"),

		TTSFallbackVoice: os.Getenv("TTS_FALLBACK_VOICE"),

		WakeWord:     os.Getenv("WAKE_WORD"),
		IntentEnable: envBool("INTENT_ENABLE", false),

		MaxSessions:  envInt("MAX_SESSIONS", DefaultMaxSessions),
		MaxInactive:  envDuration("MAX_INACTIVE_TIME", DefaultMaxInactive),
		ReapInterval: envDuration("REAP_INTERVAL", DefaultReapInterval),

		SilenceThreshold: envFloat("SILENCE_THRESHOLD", DefaultSilenceThreshold),
		SilenceDuration:  envDuration("SILENCE_DURATION", DefaultSilenceDuration),
		NoSpeechTimeout:  envDuration("NO_SPEECH_TIMEOUT", DefaultNoSpeechTimeout),
		MaxUtterance:     envDuration("MAX_UTTERANCE_DURATION", DefaultMaxUtterance),
		MinChunks:        envInt("MIN_AUDIO_CHUNKS", DefaultMinChunks),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration parses either a Go duration string ("90s") or a bare
// number of seconds ("90"), matching how deployments configured the
// original backend.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}
