package voice_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coliblanco/voicebridge/pkg/artifact"
	"github.com/coliblanco/voicebridge/pkg/chat"
	"github.com/coliblanco/voicebridge/pkg/intent"
	"github.com/coliblanco/voicebridge/pkg/session"
	"github.com/coliblanco/voicebridge/pkg/stt"
	"github.com/coliblanco/voicebridge/pkg/tts"
	"github.com/coliblanco/voicebridge/pkg/voice"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordEmitter collects emitted events for order assertions.
type recordEmitter struct {
	mu     sync.Mutex
	events []any
}

func (r *recordEmitter) Emit(event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordEmitter) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		switch v := e.(type) {
		case voice.Transcription:
			out = append(out, v.Event)
		case voice.AssistantResponse:
			out = append(out, v.Event)
		case voice.AudioReady:
			out = append(out, v.Event)
		case voice.ProcessingComplete:
			out = append(out, v.Event)
		case voice.ErrorEvent:
			out = append(out, v.Event)
		default:
			out = append(out, "unknown")
		}
	}
	return out
}

func (r *recordEmitter) completion(t *testing.T) voice.ProcessingComplete {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.events)
	last, ok := r.events[len(r.events)-1].(voice.ProcessingComplete)
	require.True(t, ok, "last event must be processing_complete, got %T", r.events[len(r.events)-1])
	return last
}

func newSession(t *testing.T) *session.Session {
	t.Helper()
	registry := session.NewRegistry(10)
	sess, err := registry.Create()
	require.NoError(t, err)
	return sess
}

func newStore(t *testing.T) artifact.Store {
	t.Helper()
	store, err := artifact.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestProcessSuccessEventOrder(t *testing.T) {
	sttMock := stt.NewMock()
	sttMock.TranscribeFunc = func(ctx context.Context, audio []byte, language string) (*stt.Result, error) {
		return &stt.Result{Text: "hoe laat is het"}, nil
	}
	chatMock := chat.NewMock()
	chatMock.CompleteFunc = func(ctx context.Context, messages []chat.Message) (string, error) {
		return "Het is drie uur.", nil
	}

	emitter := &recordEmitter{}
	sess := newSession(t)
	pipeline := voice.NewPipeline(sttMock, chatMock, tts.NewMock(), newStore(t),
		voice.WithSystemPrompt("Je bent behulpzaam."),
		voice.WithLanguage("nl"),
	)

	err := pipeline.Process(context.Background(), sess, emitter, []byte("pcm"), voice.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		voice.EventTranscription,
		voice.EventAssistantResponse,
		voice.EventAudioReady,
		voice.EventProcessingComplete,
	}, emitter.names())

	assert.Equal(t, voice.StatusSuccess, emitter.completion(t).Status)

	turns := sess.History().Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, session.RoleUser, turns[0].Role)
	assert.Equal(t, "hoe laat is het", turns[0].Content)
	assert.Equal(t, session.RoleAssistant, turns[1].Role)

	// The delivered URL must point at a loadable artifact.
	var audioURL string
	for _, e := range emitter.events {
		if v, ok := e.(voice.AudioReady); ok {
			audioURL = v.AudioURL
		}
	}
	require.True(t, strings.HasPrefix(audioURL, "/audio/"))
}

func TestProcessSystemPreambleAndHistory(t *testing.T) {
	chatMock := chat.NewMock()
	chatMock.CompleteFunc = func(ctx context.Context, messages []chat.Message) (string, error) {
		return "antwoord", nil
	}

	sess := newSession(t)
	sess.History().Append(session.Turn{Role: session.RoleUser, Content: "eerdere vraag"})
	sess.History().Append(session.Turn{Role: session.RoleAssistant, Content: "eerder antwoord"})

	pipeline := voice.NewPipeline(stt.NewMock(), chatMock, tts.NewMock(), newStore(t),
		voice.WithSystemPrompt("preambule"),
	)

	err := pipeline.Process(context.Background(), sess, &recordEmitter{}, []byte("pcm"), voice.RunOptions{})
	require.NoError(t, err)

	call := chatMock.LastCall()
	require.NotNil(t, call)
	require.Len(t, call.Messages, 4, "system + two history turns + current user")
	assert.Equal(t, chat.RoleSystem, call.Messages[0].Role)
	assert.Equal(t, "preambule", call.Messages[0].Content)
	assert.Equal(t, "eerdere vraag", call.Messages[1].Content)
	assert.Equal(t, chat.RoleUser, call.Messages[3].Role)
}

func TestProcessEmptyBuffer(t *testing.T) {
	pipeline := voice.NewPipeline(stt.NewMock(), chat.NewMock(), tts.NewMock(), newStore(t))
	err := pipeline.Process(context.Background(), newSession(t), &recordEmitter{}, nil, voice.RunOptions{})
	assert.ErrorIs(t, err, voice.ErrNoAudio)
}

func TestProcessNoSpeech(t *testing.T) {
	sttMock := stt.NewMock()
	sttMock.TranscribeFunc = func(ctx context.Context, audio []byte, language string) (*stt.Result, error) {
		return &stt.Result{Text: "   "}, nil
	}
	chatMock := chat.NewMock()

	emitter := &recordEmitter{}
	sess := newSession(t)
	pipeline := voice.NewPipeline(sttMock, chatMock, tts.NewMock(), newStore(t))

	err := pipeline.Process(context.Background(), sess, emitter, []byte("pcm"), voice.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, voice.StatusNoSpeech, emitter.completion(t).Status)
	assert.Zero(t, chatMock.CallCount("Complete"))
	assert.Zero(t, sess.History().Len())
	assert.False(t, sess.Processing())
}

func TestProcessProviderFailureLeavesHistory(t *testing.T) {
	chatMock := chat.WithError(errors.New("upstream down"))

	emitter := &recordEmitter{}
	sess := newSession(t)
	pipeline := voice.NewPipeline(stt.NewMock(), chatMock, tts.NewMock(), newStore(t))

	err := pipeline.Process(context.Background(), sess, emitter, []byte("pcm"), voice.RunOptions{})
	require.Error(t, err)

	completion := emitter.completion(t)
	assert.Equal(t, voice.StatusError, completion.Status)
	assert.NotEmpty(t, completion.Error)
	assert.Zero(t, sess.History().Len(), "failed run must not mutate history")
	assert.False(t, sess.Processing(), "guard released after failure")
}

func TestProcessSynthesisFailure(t *testing.T) {
	chatMock := chat.NewMock()
	chatMock.CompleteFunc = func(ctx context.Context, messages []chat.Message) (string, error) {
		return "antwoord", nil
	}
	ttsMock := tts.WithError(errors.New("tts down"))

	emitter := &recordEmitter{}
	sess := newSession(t)
	pipeline := voice.NewPipeline(stt.NewMock(), chatMock, ttsMock, newStore(t))

	err := pipeline.Process(context.Background(), sess, emitter, []byte("pcm"), voice.RunOptions{})
	require.Error(t, err)
	assert.Equal(t, voice.StatusError, emitter.completion(t).Status)
}

func TestProcessBusyRejection(t *testing.T) {
	sess := newSession(t)
	require.True(t, sess.BeginProcessing())
	defer sess.EndProcessing()

	pipeline := voice.NewPipeline(stt.NewMock(), chat.NewMock(), tts.NewMock(), newStore(t))
	err := pipeline.Process(context.Background(), sess, &recordEmitter{}, []byte("pcm"), voice.RunOptions{})
	assert.ErrorIs(t, err, voice.ErrBusy)
}

func TestProcessWakeWordGate(t *testing.T) {
	sttMock := stt.NewMock()
	sttMock.TranscribeFunc = func(ctx context.Context, audio []byte, language string) (*stt.Result, error) {
		return &stt.Result{Text: "gewoon een vraag"}, nil
	}
	chatMock := chat.NewMock()

	emitter := &recordEmitter{}
	sess := newSession(t)
	pipeline := voice.NewPipeline(sttMock, chatMock, tts.NewMock(), newStore(t),
		voice.WithWakeWord("coliblanco"),
	)

	err := pipeline.Process(context.Background(), sess, emitter, []byte("pcm"), voice.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, voice.StatusIgnored, emitter.completion(t).Status)
	assert.Zero(t, chatMock.CallCount("Complete"))
	assert.Zero(t, sess.History().Len())

	// Matching transcripts pass, case-insensitively.
	sttMock.TranscribeFunc = func(ctx context.Context, audio []byte, language string) (*stt.Result, error) {
		return &stt.Result{Text: "Hey Coliblanco, hoe laat is het?"}, nil
	}
	chatMock.CompleteFunc = func(ctx context.Context, messages []chat.Message) (string, error) {
		return "drie uur", nil
	}
	passed := &recordEmitter{}
	require.NoError(t, pipeline.Process(context.Background(), sess, passed, []byte("pcm"), voice.RunOptions{}))
	assert.Equal(t, voice.StatusSuccess, passed.completion(t).Status)
}

func TestProcessClassification(t *testing.T) {
	chatMock := chat.NewMock()
	chatMock.CompleteFunc = func(ctx context.Context, messages []chat.Message) (string, error) {
		return "ok", nil
	}

	t.Run("verdict attached to response", func(t *testing.T) {
		classifier := &intent.Mock{
			ClassifyFunc: func(ctx context.Context, text string) (*intent.Result, error) {
				return &intent.Result{IsInterruption: true, Category: intent.CategoryCommand}, nil
			},
		}
		emitter := &recordEmitter{}
		pipeline := voice.NewPipeline(stt.NewMock(), chatMock, tts.NewMock(), newStore(t),
			voice.WithClassifier(classifier),
		)

		err := pipeline.Process(context.Background(), newSession(t), emitter, []byte("pcm"), voice.RunOptions{})
		require.NoError(t, err)

		for _, e := range emitter.events {
			if v, ok := e.(voice.AssistantResponse); ok {
				assert.True(t, v.IsInterruption)
				assert.Equal(t, intent.CategoryCommand, v.Intent)
				return
			}
		}
		t.Fatal("assistant_response not emitted")
	})

	t.Run("classifier failure is fail-open", func(t *testing.T) {
		emitter := &recordEmitter{}
		pipeline := voice.NewPipeline(stt.NewMock(), chatMock, tts.NewMock(), newStore(t),
			voice.WithClassifier(intent.WithError(errors.New("classifier down"))),
		)

		err := pipeline.Process(context.Background(), newSession(t), emitter, []byte("pcm"), voice.RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, voice.StatusSuccess, emitter.completion(t).Status)
	})

	t.Run("explicit interrupt flag wins", func(t *testing.T) {
		emitter := &recordEmitter{}
		pipeline := voice.NewPipeline(stt.NewMock(), chatMock, tts.NewMock(), newStore(t))

		err := pipeline.Process(context.Background(), newSession(t), emitter, []byte("pcm"),
			voice.RunOptions{MarkInterruption: true})
		require.NoError(t, err)

		for _, e := range emitter.events {
			if v, ok := e.(voice.AssistantResponse); ok {
				assert.True(t, v.IsInterruption)
				return
			}
		}
		t.Fatal("assistant_response not emitted")
	})
}

func TestProcessText(t *testing.T) {
	chatMock := chat.NewMock()
	chatMock.CompleteFunc = func(ctx context.Context, messages []chat.Message) (string, error) {
		return "gedaan", nil
	}

	emitter := &recordEmitter{}
	sess := newSession(t)
	pipeline := voice.NewPipeline(stt.NewMock(), chatMock, tts.NewMock(), newStore(t))

	err := pipeline.ProcessText(context.Background(), sess, emitter, "zet de lichten aan")
	require.NoError(t, err)

	assert.Equal(t, []string{
		voice.EventAssistantResponse,
		voice.EventAudioReady,
		voice.EventProcessingComplete,
	}, emitter.names(), "no transcription event for text commands")
	assert.Equal(t, 2, sess.History().Len())

	t.Run("empty text rejected", func(t *testing.T) {
		err := pipeline.ProcessText(context.Background(), sess, emitter, "   ")
		assert.ErrorIs(t, err, voice.ErrNoAudio)
	})
}

func TestRunner(t *testing.T) {
	t.Run("executes submitted jobs", func(t *testing.T) {
		runner := voice.NewRunner(2, 4, discardLogger())
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			runner.Run(ctx)
			close(done)
		}()

		var wg sync.WaitGroup
		var mu sync.Mutex
		ran := 0
		for i := 0; i < 4; i++ {
			wg.Add(1)
			ok := runner.Submit(func() {
				defer wg.Done()
				mu.Lock()
				ran++
				mu.Unlock()
			})
			require.True(t, ok)
		}
		wg.Wait()
		assert.Equal(t, 4, ran)

		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("runner did not stop")
		}
	})

	t.Run("rejects when queue is full", func(t *testing.T) {
		// No workers running: the queue fills and overflow is rejected.
		runner := voice.NewRunner(1, 2, discardLogger())
		require.True(t, runner.Submit(func() {}))
		require.True(t, runner.Submit(func() {}))
		assert.False(t, runner.Submit(func() {}))
	})

	t.Run("survives panicking jobs", func(t *testing.T) {
		runner := voice.NewRunner(1, 2, discardLogger())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go runner.Run(ctx)

		require.True(t, runner.Submit(func() { panic("boom") }))

		done := make(chan struct{})
		require.True(t, runner.Submit(func() { close(done) }))
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("runner stopped after panic")
		}
	})
}
