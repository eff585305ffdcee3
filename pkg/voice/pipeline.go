// Package voice orchestrates one full assistant turn: transcription,
// optional intent classification, chat completion, speech synthesis and
// ordered event delivery back to the client.
//
// A single Pipeline serves all sessions. Per-session exclusivity comes
// from the session's processing guard; concurrency across sessions from
// the Runner.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coliblanco/voicebridge/pkg/artifact"
	"github.com/coliblanco/voicebridge/pkg/chat"
	"github.com/coliblanco/voicebridge/pkg/intent"
	"github.com/coliblanco/voicebridge/pkg/session"
	"github.com/coliblanco/voicebridge/pkg/stt"
	"github.com/coliblanco/voicebridge/pkg/tts"
)

// Sentinel errors.
var (
	// ErrBusy is returned when a session already has a run in flight.
	// Runs are never queued per session; the caller reports and drops.
	ErrBusy = errors.New("voice: session already processing")

	// ErrNoAudio is returned when processing is requested with an empty
	// buffer.
	ErrNoAudio = errors.New("voice: no audio received")
)

// defaultAudioBaseURL prefixes artifact ids into client-fetchable URLs.
const defaultAudioBaseURL = "/audio/"

// RunOptions carries per-run flags from the gateway.
type RunOptions struct {
	// MarkInterruption forces the delivered response to be flagged as an
	// interruption, regardless of classification. Set after an explicit
	// interrupt event from the client.
	MarkInterruption bool
}

// Pipeline wires the providers for a complete voice turn.
type Pipeline struct {
	stt        stt.Provider
	chat       chat.Provider
	tts        tts.Provider
	classifier intent.Classifier
	store      artifact.Store

	systemPrompt string
	language     string
	wakeWord     string
	audioBaseURL string
	logger       *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClassifier enables intent classification. Classification is
// advisory; failures never abort a run.
func WithClassifier(c intent.Classifier) Option {
	return func(p *Pipeline) { p.classifier = c }
}

// WithSystemPrompt sets the assistant preamble injected when the
// history has no system turn.
func WithSystemPrompt(prompt string) Option {
	return func(p *Pipeline) { p.systemPrompt = prompt }
}

// WithLanguage sets the transcription language hint.
func WithLanguage(language string) Option {
	return func(p *Pipeline) { p.language = language }
}

// WithWakeWord gates runs on the transcript containing the phrase.
// Empty disables the gate.
func WithWakeWord(phrase string) Option {
	return func(p *Pipeline) { p.wakeWord = phrase }
}

// WithAudioBaseURL sets the URL prefix for delivered artifacts.
func WithAudioBaseURL(base string) Option {
	return func(p *Pipeline) { p.audioBaseURL = base }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger.With("component", "voice.pipeline") }
}

// NewPipeline creates a pipeline over the given providers.
func NewPipeline(sttp stt.Provider, chatp chat.Provider, ttsp tts.Provider, store artifact.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		stt:          sttp,
		chat:         chatp,
		tts:          ttsp,
		store:        store,
		audioBaseURL: defaultAudioBaseURL,
		logger:       slog.Default().With("component", "voice.pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs a full turn over a buffered utterance. It acquires the
// session's processing guard, transcribes, optionally gates on the wake
// word, classifies, completes, synthesizes and delivers the results in
// order. Every run ends with a processing_complete event. The guard is
// always released.
func (p *Pipeline) Process(ctx context.Context, sess *session.Session, emitter Emitter, utterance []byte, opts RunOptions) error {
	if len(utterance) == 0 {
		return ErrNoAudio
	}
	if !sess.BeginProcessing() {
		return ErrBusy
	}
	defer sess.EndProcessing()

	return p.guarded(sess, emitter, func() error {
		logger := p.logger.With("session_id", sess.ID)

		result, err := p.stt.Transcribe(ctx, utterance, p.language)
		if err != nil {
			logger.Error("transcription failed", "error", err)
			p.emit(emitter, NewProcessingError("transcription failed"))
			return err
		}

		return p.runTranscript(ctx, sess, emitter, logger, result.Text, opts)
	})
}

// ProcessTranscript runs a turn over an already-recognized transcript,
// used by the streaming transcription flow where the provider did the
// endpointing and recognition.
func (p *Pipeline) ProcessTranscript(ctx context.Context, sess *session.Session, emitter Emitter, text string, opts RunOptions) error {
	if !sess.BeginProcessing() {
		return ErrBusy
	}
	defer sess.EndProcessing()

	return p.guarded(sess, emitter, func() error {
		logger := p.logger.With("session_id", sess.ID)
		return p.runTranscript(ctx, sess, emitter, logger, text, opts)
	})
}

// runTranscript is the shared post-recognition path: no-speech check,
// wake-word gate, classification, then completion and delivery.
func (p *Pipeline) runTranscript(ctx context.Context, sess *session.Session, emitter Emitter, logger *slog.Logger, text string, opts RunOptions) error {
	text = strings.TrimSpace(text)
	if text == "" {
		logger.Info("no speech recognized")
		p.emit(emitter, NewProcessingComplete(StatusNoSpeech))
		return nil
	}

	if p.wakeWord != "" && !containsFold(text, p.wakeWord) {
		logger.Debug("wake word absent, ignoring", "transcript", text)
		p.emit(emitter, NewProcessingComplete(StatusIgnored))
		return nil
	}

	p.emit(emitter, NewTranscription(text))

	isInterruption, category := p.classify(ctx, logger, text)
	if opts.MarkInterruption {
		isInterruption = true
	}

	return p.respond(ctx, sess, emitter, logger, text, isInterruption, category)
}

// ProcessText runs the completion half of a turn over raw text, used by
// the process_command event. No transcription or classification.
func (p *Pipeline) ProcessText(ctx context.Context, sess *session.Session, emitter Emitter, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrNoAudio
	}
	if !sess.BeginProcessing() {
		return ErrBusy
	}
	defer sess.EndProcessing()

	return p.guarded(sess, emitter, func() error {
		logger := p.logger.With("session_id", sess.ID)
		return p.respond(ctx, sess, emitter, logger, text, false, "")
	})
}

// respond runs completion, synthesis, artifact storage and ordered
// delivery. The history gains the user and assistant turns only after
// the chat provider has produced a reply.
func (p *Pipeline) respond(ctx context.Context, sess *session.Session, emitter Emitter, logger *slog.Logger, text string, isInterruption bool, category string) error {
	messages := toMessages(sess.History().Turns())
	messages = append(messages, chat.Message{Role: chat.RoleUser, Content: text})
	messages = chat.PrependSystem(messages, p.systemPrompt)

	reply, err := p.chat.Complete(ctx, messages)
	if err != nil {
		logger.Error("completion failed", "error", err)
		p.emit(emitter, NewProcessingError("completion failed"))
		return err
	}

	sess.History().Append(session.Turn{Role: session.RoleUser, Content: text})
	sess.History().Append(session.Turn{Role: session.RoleAssistant, Content: reply})

	audio, err := p.tts.Synthesize(ctx, reply)
	if err != nil {
		logger.Error("synthesis failed", "error", err)
		p.emit(emitter, NewProcessingError("synthesis failed"))
		return err
	}

	id, err := p.store.Save(audio.Audio)
	if err != nil {
		logger.Error("artifact save failed", "error", err)
		p.emit(emitter, NewProcessingError("audio storage failed"))
		return err
	}

	p.emit(emitter, NewAssistantResponse(reply, isInterruption, category))
	p.emit(emitter, NewAudioReady(p.audioBaseURL+id))
	p.emit(emitter, NewProcessingComplete(StatusSuccess))

	logger.Info("turn complete",
		"transcript_len", len(text),
		"reply_len", len(reply),
		"artifact", id,
	)
	return nil
}

// classify asks the classifier for an advisory verdict. Failures are
// logged and treated as a neutral result.
func (p *Pipeline) classify(ctx context.Context, logger *slog.Logger, text string) (bool, string) {
	if p.classifier == nil {
		return false, ""
	}
	result, err := p.classifier.Classify(ctx, text)
	if err != nil {
		logger.Warn("classification failed, continuing", "error", err)
		return false, ""
	}
	return result.IsInterruption, result.Category
}

// guarded runs fn with panic recovery. A panicking run still delivers
// an error completion and leaves the session usable.
func (p *Pipeline) guarded(sess *session.Session, emitter Emitter, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline run panicked",
				"session_id", sess.ID,
				"panic", r,
			)
			p.emit(emitter, NewProcessingError("internal error"))
			err = fmt.Errorf("voice: run panicked: %v", r)
		}
	}()
	return fn()
}

// emit delivers an event, logging delivery failures. A gone client must
// not abort the run.
func (p *Pipeline) emit(emitter Emitter, event any) {
	if err := emitter.Emit(event); err != nil {
		p.logger.Debug("event delivery failed", "error", err)
	}
}

// toMessages converts session memory into provider messages.
func toMessages(turns []session.Turn) []chat.Message {
	messages := make([]chat.Message, 0, len(turns)+2)
	for _, t := range turns {
		messages = append(messages, chat.Message{Role: t.Role, Content: t.Content})
	}
	return messages
}

// containsFold reports whether s contains substr, case-insensitively.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
