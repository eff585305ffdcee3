package intent_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coliblanco/voicebridge/pkg/intent"
)

func TestOpenAIClassify(t *testing.T) {
	var gotPayload struct {
		Model          string            `json:"model"`
		Temperature    float64           `json:"temperature"`
		MaxTokens      int               `json:"max_tokens"`
		ResponseFormat map[string]string `json:"response_format"`
		Messages       []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{
					"role":    "assistant",
					"content": `{"category":"command","is_interruption":true}`,
				}},
			},
		})
	}))
	defer srv.Close()

	classifier, err := intent.NewOpenAI("test-key", intent.WithBaseURL(srv.URL))
	require.NoError(t, err)
	defer classifier.Close()

	result, err := classifier.Classify(context.Background(), "stop")
	require.NoError(t, err)

	assert.True(t, result.IsInterruption)
	assert.Equal(t, intent.CategoryCommand, result.Category)

	assert.Equal(t, "json_object", gotPayload.ResponseFormat["type"])
	assert.InDelta(t, 0.3, gotPayload.Temperature, 0.001)
	require.Len(t, gotPayload.Messages, 2)
	assert.Equal(t, "system", gotPayload.Messages[0].Role)
	assert.Equal(t, "stop", gotPayload.Messages[1].Content)
}

func TestOpenAIClassifyErrors(t *testing.T) {
	t.Run("missing API key", func(t *testing.T) {
		_, err := intent.NewOpenAI("")
		assert.ErrorIs(t, err, intent.ErrNoAPIKey)
	})

	t.Run("empty text", func(t *testing.T) {
		classifier, err := intent.NewOpenAI("test-key")
		require.NoError(t, err)
		_, err = classifier.Classify(context.Background(), "   ")
		assert.ErrorIs(t, err, intent.ErrEmptyText)
	})

	t.Run("API error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		classifier, err := intent.NewOpenAI("test-key", intent.WithBaseURL(srv.URL))
		require.NoError(t, err)

		_, err = classifier.Classify(context.Background(), "hallo")
		assert.Error(t, err)
	})

	t.Run("malformed verdict", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]string{"content": "not json"}},
				},
			})
		}))
		defer srv.Close()

		classifier, err := intent.NewOpenAI("test-key", intent.WithBaseURL(srv.URL))
		require.NoError(t, err)

		_, err = classifier.Classify(context.Background(), "hallo")
		assert.Error(t, err)
	})
}

func TestOpenAIClassifyDefaultsCategory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": `{"is_interruption":false}`}},
			},
		})
	}))
	defer srv.Close()

	classifier, err := intent.NewOpenAI("test-key", intent.WithBaseURL(srv.URL))
	require.NoError(t, err)

	result, err := classifier.Classify(context.Background(), "hallo")
	require.NoError(t, err)
	assert.Equal(t, intent.CategoryOther, result.Category)
}

func TestMockClassifier(t *testing.T) {
	mock := intent.NewMock()

	result, err := mock.Classify(context.Background(), "hoe laat is het")
	require.NoError(t, err)
	assert.Equal(t, intent.CategoryOther, result.Category)
	assert.False(t, result.IsInterruption)
	assert.Equal(t, []string{"hoe laat is het"}, mock.Texts())

	failing := intent.WithError(errors.New("boom"))
	_, err = failing.Classify(context.Background(), "stop")
	assert.Error(t, err)
}
