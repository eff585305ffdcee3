package stt_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coliblanco/voicebridge/pkg/stt"
)

func TestWhisperTranscribe(t *testing.T) {
	var gotAuth string
	var gotModel, gotLanguage string
	var gotAudio []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")

		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		buf := make([]byte, 64)
		n, _ := file.Read(buf)
		gotAudio = buf[:n]

		json.NewEncoder(w).Encode(map[string]string{"text": "  hallo wereld  "})
	}))
	defer srv.Close()

	provider, err := stt.NewWhisper(
		stt.WithAPIKey("test-key"),
		stt.WithBaseURL(srv.URL),
	)
	require.NoError(t, err)
	defer provider.Close()

	result, err := provider.Transcribe(context.Background(), []byte("webm-audio"), "nl")
	require.NoError(t, err)

	assert.Equal(t, "hallo wereld", result.Text, "whitespace is trimmed")
	assert.Equal(t, "nl", result.Language)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "whisper-1", gotModel)
	assert.Equal(t, "nl", gotLanguage)
	assert.Equal(t, []byte("webm-audio"), gotAudio)
}

func TestWhisperErrors(t *testing.T) {
	t.Run("missing API key", func(t *testing.T) {
		_, err := stt.NewWhisper()
		assert.ErrorIs(t, err, stt.ErrNoAPIKey)
	})

	t.Run("empty audio", func(t *testing.T) {
		provider, err := stt.NewWhisper(stt.WithAPIKey("test-key"))
		require.NoError(t, err)
		_, err = provider.Transcribe(context.Background(), nil, "")
		assert.ErrorIs(t, err, stt.ErrEmptyAudio)
	})

	t.Run("API error surfaces status and message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"message": "bad key"},
			})
		}))
		defer srv.Close()

		provider, err := stt.NewWhisper(stt.WithAPIKey("bad"), stt.WithBaseURL(srv.URL))
		require.NoError(t, err)

		_, err = provider.Transcribe(context.Background(), []byte("audio"), "")
		var apiErr *stt.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Equal(t, "bad key", apiErr.Message)
		assert.True(t, apiErr.IsUnauthorized())
		assert.False(t, apiErr.IsRetryable())
	})

	t.Run("server errors are retried", func(t *testing.T) {
		var attempts int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			if attempts == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"text": "tweede poging"})
		}))
		defer srv.Close()

		provider, err := stt.NewWhisper(stt.WithAPIKey("test-key"), stt.WithBaseURL(srv.URL))
		require.NoError(t, err)

		result, err := provider.Transcribe(context.Background(), []byte("audio"), "")
		require.NoError(t, err)
		assert.Equal(t, "tweede poging", result.Text)
		assert.Equal(t, 2, attempts)
	})
}

func TestMockProvider(t *testing.T) {
	mock := stt.NewMock()
	ctx := context.Background()

	t.Run("default transcript", func(t *testing.T) {
		result, err := mock.Transcribe(ctx, []byte("audio"), "nl")
		require.NoError(t, err)
		assert.Equal(t, "mock transcript", result.Text)
	})

	t.Run("calls are tracked", func(t *testing.T) {
		assert.Equal(t, 1, mock.CallCount("Transcribe"))
		calls := mock.Calls()
		require.NotEmpty(t, calls)
		assert.Equal(t, 5, calls[0].AudioBytes)
		assert.Equal(t, "nl", calls[0].Language)
	})

	t.Run("reset clears calls", func(t *testing.T) {
		mock.Reset()
		assert.Empty(t, mock.Calls())
	})

	t.Run("WithError fails every method", func(t *testing.T) {
		boom := errors.New("boom")
		m := stt.WithError(boom)
		_, err := m.Transcribe(ctx, []byte("audio"), "")
		assert.ErrorIs(t, err, boom)
		assert.ErrorIs(t, m.Health(ctx), boom)
	})
}

func TestLiveRequiresAPIKey(t *testing.T) {
	_, err := stt.NewLive()
	assert.ErrorIs(t, err, stt.ErrNoAPIKey)
}

func TestLiveSendBeforeStart(t *testing.T) {
	live, err := stt.NewLive(stt.WithAPIKey("test-key"))
	require.NoError(t, err)

	assert.ErrorIs(t, live.SendAudio([]byte("audio")), stt.ErrClosed)
	require.NoError(t, live.Close())
	require.NoError(t, live.Close(), "close is idempotent")
}
