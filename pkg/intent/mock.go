package intent

import (
	"context"
	"sync"
)

// Mock implements Classifier for testing.
type Mock struct {
	// ClassifyFunc is called when Classify is invoked.
	// If nil, returns {CategoryOther, false}.
	ClassifyFunc func(ctx context.Context, text string) (*Result, error)

	mu    sync.Mutex
	texts []string
}

// NewMock creates a mock classifier with neutral defaults.
func NewMock() *Mock {
	return &Mock{}
}

// Classify calls ClassifyFunc and records the text.
func (m *Mock) Classify(ctx context.Context, text string) (*Result, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()

	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, text)
	}
	return &Result{Category: CategoryOther}, nil
}

// Close is a no-op.
func (m *Mock) Close() error {
	return nil
}

// Texts returns all classified texts.
func (m *Mock) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.texts))
	copy(out, m.texts)
	return out
}

// WithError returns a mock that always fails, for fail-open tests.
func WithError(err error) *Mock {
	return &Mock{
		ClassifyFunc: func(ctx context.Context, text string) (*Result, error) {
			return nil, err
		},
	}
}

// Verify Mock implements Classifier at compile time.
var _ Classifier = (*Mock)(nil)
