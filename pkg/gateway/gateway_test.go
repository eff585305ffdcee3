package gateway

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coliblanco/voicebridge/pkg/artifact"
	"github.com/coliblanco/voicebridge/pkg/chat"
	"github.com/coliblanco/voicebridge/pkg/session"
	"github.com/coliblanco/voicebridge/pkg/stt"
	"github.com/coliblanco/voicebridge/pkg/tts"
	"github.com/coliblanco/voicebridge/pkg/vad"
	"github.com/coliblanco/voicebridge/pkg/voice"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture wires a gateway with mock providers and a running runner.
type fixture struct {
	gateway *Gateway
	client  *client
	cancel  context.CancelFunc
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	sttMock := stt.NewMock()
	sttMock.TranscribeFunc = func(ctx context.Context, audio []byte, language string) (*stt.Result, error) {
		return &stt.Result{Text: "testtranscript"}, nil
	}
	chatMock := chat.NewMock()
	chatMock.CompleteFunc = func(ctx context.Context, messages []chat.Message) (string, error) {
		return "testreply", nil
	}
	store, err := artifact.NewDiskStore(t.TempDir())
	require.NoError(t, err)

	pipeline := voice.NewPipeline(sttMock, chatMock, tts.NewMock(), store)
	runner := voice.NewRunner(2, 8, discardLogger())
	registry := session.NewRegistry(4)

	ctx, cancel := context.WithCancel(context.Background())
	go runner.Run(ctx)
	t.Cleanup(cancel)

	gw := New(registry, pipeline, runner, append(opts, WithLogger(discardLogger()))...)

	sess, err := registry.Create()
	require.NoError(t, err)

	return &fixture{
		gateway: gw,
		client:  newClient(nil, sess, vad.NewDetector(gw.flush), discardLogger()),
		cancel:  cancel,
	}
}

func (f *fixture) send(t *testing.T, frame string) {
	t.Helper()
	f.gateway.dispatch(f.client, []byte(frame))
}

// next waits for the next outbound event and decodes it.
func (f *fixture) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case data := <-f.client.send:
		var out map[string]any
		require.NoError(t, json.Unmarshal(data, &out))
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func (f *fixture) expectEvent(t *testing.T, name string) map[string]any {
	t.Helper()
	out := f.next(t)
	require.Equal(t, name, out["event"], "unexpected event: %v", out)
	return out
}

func chunkFrame(raw string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(raw))
	frame, _ := json.Marshal(map[string]string{"event": "audio_chunk", "data": encoded})
	return string(frame)
}

func TestDispatchProtocolErrors(t *testing.T) {
	f := newFixture(t)

	t.Run("malformed JSON", func(t *testing.T) {
		f.send(t, "{not json")
		out := f.expectEvent(t, voice.EventError)
		assert.Equal(t, "malformed message", out["message"])
	})

	t.Run("unknown event", func(t *testing.T) {
		f.send(t, `{"event":"launch_rockets"}`)
		out := f.expectEvent(t, voice.EventError)
		assert.Contains(t, out["message"], "unknown event")
	})

	t.Run("ping answered", func(t *testing.T) {
		f.send(t, `{"event":"ping"}`)
		f.expectEvent(t, voice.EventPong)
	})
}

func TestStartListening(t *testing.T) {
	f := newFixture(t)

	f.send(t, `{"event":"start_listening"}`)
	f.expectEvent(t, voice.EventListeningStarted)
	assert.True(t, f.client.sess.Listening())
}

func TestAudioChunk(t *testing.T) {
	f := newFixture(t)
	f.send(t, `{"event":"start_listening"}`)
	f.expectEvent(t, voice.EventListeningStarted)

	t.Run("buffers valid chunks and acknowledges each", func(t *testing.T) {
		f.send(t, chunkFrame("pcmdata"))
		assert.Equal(t, 1, f.client.sess.ChunkCount())
		out := f.expectEvent(t, voice.EventChunkReceived)
		assert.Equal(t, float64(1), out["count"])

		f.send(t, chunkFrame("more"))
		out = f.expectEvent(t, voice.EventChunkReceived)
		assert.Equal(t, float64(2), out["count"])
	})

	t.Run("rejects invalid base64", func(t *testing.T) {
		f.send(t, `{"event":"audio_chunk","data":"%%%"}`)
		out := f.expectEvent(t, voice.EventError)
		assert.Equal(t, "invalid audio encoding", out["message"])
	})
}

func TestStopListeningEmptyBuffer(t *testing.T) {
	f := newFixture(t)
	f.send(t, `{"event":"start_listening"}`)
	f.expectEvent(t, voice.EventListeningStarted)

	f.send(t, `{"event":"stop_listening","manual_stop":true}`)
	f.expectEvent(t, voice.EventListeningStopped)
	out := f.expectEvent(t, voice.EventProcessingComplete)
	assert.Equal(t, voice.StatusError, out["status"])
	assert.Equal(t, "no audio received", out["error"])
}

func TestStopListeningNoiseFilter(t *testing.T) {
	f := newFixture(t)
	f.send(t, `{"event":"start_listening"}`)
	f.expectEvent(t, voice.EventListeningStarted)

	// Two chunks, automatic stop: below the noise floor.
	f.send(t, chunkFrame("a"))
	f.expectEvent(t, voice.EventChunkReceived)
	f.send(t, chunkFrame("b"))
	f.expectEvent(t, voice.EventChunkReceived)
	f.send(t, `{"event":"stop_listening","manual_stop":false}`)
	f.expectEvent(t, voice.EventListeningStopped)

	out := f.expectEvent(t, voice.EventProcessingComplete)
	assert.Equal(t, voice.StatusTooLittleAudio, out["status"])
}

func TestFullVoiceTurn(t *testing.T) {
	f := newFixture(t)
	f.send(t, `{"event":"start_listening"}`)
	f.expectEvent(t, voice.EventListeningStarted)

	for i := 0; i < 3; i++ {
		f.send(t, chunkFrame("pcm"))
		f.expectEvent(t, voice.EventChunkReceived)
	}
	f.send(t, `{"event":"stop_listening","manual_stop":true}`)
	f.expectEvent(t, voice.EventListeningStopped)

	transcription := f.expectEvent(t, voice.EventTranscription)
	assert.Equal(t, "testtranscript", transcription["text"])

	response := f.expectEvent(t, voice.EventAssistantResponse)
	assert.Equal(t, "testreply", response["text"])
	assert.Equal(t, false, response["is_interruption"])

	audio := f.expectEvent(t, voice.EventAudioReady)
	assert.Contains(t, audio["audio_url"], "/audio/")

	complete := f.expectEvent(t, voice.EventProcessingComplete)
	assert.Equal(t, voice.StatusSuccess, complete["status"])
}

func TestInterruptMarksNextRun(t *testing.T) {
	f := newFixture(t)

	f.send(t, `{"event":"interrupt"}`)
	f.expectEvent(t, voice.EventInterrupted)
	assert.True(t, f.client.interruptPending.Load())

	f.send(t, `{"event":"start_listening"}`)
	f.expectEvent(t, voice.EventListeningStarted)
	for i := 0; i < 3; i++ {
		f.send(t, chunkFrame("pcm"))
		f.expectEvent(t, voice.EventChunkReceived)
	}
	f.send(t, `{"event":"stop_listening","manual_stop":true}`)
	f.expectEvent(t, voice.EventListeningStopped)
	f.expectEvent(t, voice.EventTranscription)

	response := f.expectEvent(t, voice.EventAssistantResponse)
	assert.Equal(t, true, response["is_interruption"])

	// Flag is consumed, not sticky.
	assert.False(t, f.client.interruptPending.Load())
}

func TestProcessCommand(t *testing.T) {
	f := newFixture(t)

	t.Run("empty command rejected", func(t *testing.T) {
		f.send(t, `{"event":"process_command"}`)
		out := f.expectEvent(t, voice.EventError)
		assert.Equal(t, "empty command", out["message"])
	})

	t.Run("runs the text pipeline", func(t *testing.T) {
		f.send(t, `{"event":"process_command","text":"doe het licht aan"}`)

		response := f.expectEvent(t, voice.EventAssistantResponse)
		assert.Equal(t, "testreply", response["text"])
		f.expectEvent(t, voice.EventAudioReady)
		complete := f.expectEvent(t, voice.EventProcessingComplete)
		assert.Equal(t, voice.StatusSuccess, complete["status"])
	})
}

// pcmChunkFrame builds an audio_chunk frame of PCM16 samples at the
// given amplitude.
func pcmChunkFrame(t *testing.T, amplitude int16, samples int) string {
	t.Helper()
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(amplitude))
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	frame, err := json.Marshal(map[string]string{"event": "audio_chunk", "data": encoded})
	require.NoError(t, err)
	return string(frame)
}

func TestDetectorEndpointing(t *testing.T) {
	// Zero silence duration: the second consecutive silent chunk after
	// speech ends the utterance.
	f := newFixture(t, WithFlushPolicy(vad.Config{
		SilenceThreshold: 500,
		SilenceDuration:  0,
		NoSpeechTimeout:  time.Minute,
		MaxUtterance:     time.Minute,
		MinChunks:        1,
	}))

	f.send(t, `{"event":"start_listening"}`)
	f.expectEvent(t, voice.EventListeningStarted)

	f.send(t, pcmChunkFrame(t, 3000, 160))
	f.expectEvent(t, voice.EventChunkReceived)
	f.send(t, pcmChunkFrame(t, 0, 160))
	f.expectEvent(t, voice.EventChunkReceived)
	f.send(t, pcmChunkFrame(t, 0, 160))
	f.expectEvent(t, voice.EventChunkReceived)

	f.expectEvent(t, voice.EventListeningStopped)
	f.expectEvent(t, voice.EventTranscription)
	f.expectEvent(t, voice.EventAssistantResponse)
	f.expectEvent(t, voice.EventAudioReady)

	complete := f.expectEvent(t, voice.EventProcessingComplete)
	assert.Equal(t, voice.StatusSuccess, complete["status"])
	assert.False(t, f.client.sess.Listening())
}

// fakeStream is an in-memory stt.LiveStream.
type fakeStream struct {
	mu      sync.Mutex
	sent    [][]byte
	results chan stt.TranscriptEvent
	errs    chan error
	finals  []stt.TranscriptEvent
	closed  bool
}

func newFakeStream(finals ...stt.TranscriptEvent) *fakeStream {
	return &fakeStream{
		results: make(chan stt.TranscriptEvent, 8),
		errs:    make(chan error, 1),
		finals:  finals,
	}
}

func (f *fakeStream) SendAudio(audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, audio)
	return nil
}

func (f *fakeStream) Results() <-chan stt.TranscriptEvent { return f.results }
func (f *fakeStream) Errors() <-chan error                { return f.errs }

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for _, ev := range f.finals {
		f.results <- ev
	}
	close(f.results)
	close(f.errs)
	return nil
}

func (f *fakeStream) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestLiveTranscriptionFlow(t *testing.T) {
	stream := newFakeStream(
		stt.TranscriptEvent{Text: "hallo", IsFinal: true},
		stt.TranscriptEvent{Text: "wacht even", IsFinal: false},
		stt.TranscriptEvent{Text: "wereld", IsFinal: true, SpeechFinal: true},
	)
	f := newFixture(t, WithLiveSTT(func(ctx context.Context) (stt.LiveStream, error) {
		return stream, nil
	}))

	f.send(t, `{"event":"start_listening"}`)
	f.expectEvent(t, voice.EventListeningStarted)

	f.send(t, chunkFrame("pcm"))
	assert.Equal(t, 1, stream.sentCount(), "audio forwarded, not buffered")
	assert.Zero(t, f.client.sess.ChunkCount())
	f.expectEvent(t, voice.EventChunkReceived)

	f.send(t, `{"event":"stop_listening","manual_stop":true}`)
	f.expectEvent(t, voice.EventListeningStopped)

	transcription := f.expectEvent(t, voice.EventTranscription)
	assert.Equal(t, "hallo wereld", transcription["text"], "interim segments excluded")

	f.expectEvent(t, voice.EventAssistantResponse)
	f.expectEvent(t, voice.EventAudioReady)
	complete := f.expectEvent(t, voice.EventProcessingComplete)
	assert.Equal(t, voice.StatusSuccess, complete["status"])
}

func TestLiveFactoryFailureFallsBack(t *testing.T) {
	f := newFixture(t, WithLiveSTT(func(ctx context.Context) (stt.LiveStream, error) {
		return nil, errors.New("dial failed")
	}))

	f.send(t, `{"event":"start_listening"}`)
	f.expectEvent(t, voice.EventListeningStarted)

	// Buffered flow still works.
	for i := 0; i < 3; i++ {
		f.send(t, chunkFrame("pcm"))
		f.expectEvent(t, voice.EventChunkReceived)
	}
	assert.Equal(t, 3, f.client.sess.ChunkCount())

	f.send(t, `{"event":"stop_listening","manual_stop":true}`)
	f.expectEvent(t, voice.EventListeningStopped)
	f.expectEvent(t, voice.EventTranscription)
	f.expectEvent(t, voice.EventAssistantResponse)
	f.expectEvent(t, voice.EventAudioReady)
	f.expectEvent(t, voice.EventProcessingComplete)
}

func TestClientEmitOverflow(t *testing.T) {
	registry := session.NewRegistry(1)
	sess, err := registry.Create()
	require.NoError(t, err)

	c := newClient(nil, sess, vad.NewDetector(vad.DefaultConfig()), discardLogger())
	for i := 0; i < sendBuffer; i++ {
		require.NoError(t, c.Emit(voice.NewPong()))
	}
	assert.ErrorIs(t, c.Emit(voice.NewPong()), errSendFull)
}

func TestClientEmitAfterClose(t *testing.T) {
	registry := session.NewRegistry(1)
	sess, err := registry.Create()
	require.NoError(t, err)

	c := newClient(nil, sess, vad.NewDetector(vad.DefaultConfig()), discardLogger())
	require.NoError(t, c.Emit(voice.NewPong()))

	c.close()
	c.close() // idempotent

	// A pipeline run finishing after disconnect must get an error back,
	// not panic on the closed send channel.
	assert.ErrorIs(t, c.Emit(voice.NewPong()), errClientClosed)

	// Concurrent emitters racing close stay safe.
	c2 := newClient(nil, sess, vad.NewDetector(vad.DefaultConfig()), discardLogger())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c2.Emit(voice.NewPong())
			}
		}()
	}
	c2.close()
	wg.Wait()
	assert.ErrorIs(t, c2.Emit(voice.NewPong()), errClientClosed)
}
