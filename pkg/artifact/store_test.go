package artifact_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coliblanco/voicebridge/pkg/artifact"
)

func TestDiskStore(t *testing.T) {
	store, err := artifact.NewDiskStore(t.TempDir())
	require.NoError(t, err)

	t.Run("save and load round trip", func(t *testing.T) {
		id, err := store.Save([]byte("mp3-bytes"))
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		data, err := store.Load(id)
		require.NoError(t, err)
		assert.Equal(t, []byte("mp3-bytes"), data)
	})

	t.Run("save generates unique ids", func(t *testing.T) {
		a, err := store.Save([]byte("one"))
		require.NoError(t, err)
		b, err := store.Save([]byte("two"))
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("save rejects empty audio", func(t *testing.T) {
		_, err := store.Save(nil)
		assert.ErrorIs(t, err, artifact.ErrEmpty)
	})

	t.Run("load unknown id returns ErrNotFound", func(t *testing.T) {
		_, err := store.Load("does-not-exist.mp3")
		assert.ErrorIs(t, err, artifact.ErrNotFound)
	})

	t.Run("load rejects traversal ids", func(t *testing.T) {
		for _, id := range []string{"", "../secret", "a/b.mp3", `a\b.mp3`} {
			_, err := store.Load(id)
			assert.ErrorIs(t, err, artifact.ErrInvalidID, "id %q", id)
		}
	})
}
