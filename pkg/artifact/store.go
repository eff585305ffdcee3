// Package artifact persists synthesized audio blobs keyed by opaque ids.
//
// Artifacts are written once by the synthesis step and read once when
// served to the client. Old artifacts are never mutated; cleanup of the
// backing directory is left to external storage hygiene.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when no artifact exists for the id.
	ErrNotFound = errors.New("artifact: not found")

	// ErrEmpty is returned when saving zero-length audio.
	ErrEmpty = errors.New("artifact: empty audio data")

	// ErrInvalidID is returned for ids that could escape the store directory.
	ErrInvalidID = errors.New("artifact: invalid id")
)

// Store is the artifact persistence contract.
type Store interface {
	// Save persists the audio bytes and returns a freshly generated id.
	Save(audio []byte) (string, error)

	// Load returns the audio bytes for the id, or ErrNotFound.
	Load(id string) ([]byte, error)
}

// DiskStore stores artifacts as .mp3 files in a single directory,
// one file per artifact, named by a generated UUID.
type DiskStore struct {
	dir string
}

// NewDiskStore creates the directory if needed and returns a store over it.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

// Dir returns the backing directory.
func (s *DiskStore) Dir() string {
	return s.dir
}

// Save writes the audio under a new UUID-named file.
func (s *DiskStore) Save(audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmpty
	}
	id := uuid.NewString() + ".mp3"
	if err := os.WriteFile(filepath.Join(s.dir, id), audio, 0o644); err != nil {
		return "", fmt.Errorf("artifact: write %s: %w", id, err)
	}
	return id, nil
}

// Load reads the audio for the id.
func (s *DiskStore) Load(id string) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("artifact: read %s: %w", id, err)
	}
	return data, nil
}

// validateID rejects path traversal in client-supplied ids.
func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return ErrInvalidID
	}
	return nil
}

// Verify DiskStore implements Store at compile time.
var _ Store = (*DiskStore)(nil)
