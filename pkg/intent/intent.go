// Package intent classifies user utterances.
//
// The classifier answers two questions about a transcript: which broad
// category it falls in, and whether it is an interruption of an
// in-progress assistant response. Classification is advisory; callers
// treat failures as "not an interruption" and carry on (fail-open).
package intent

import (
	"context"
	"errors"
)

// Categories a transcript can be classified into.
const (
	CategoryQuestion    = "question"
	CategoryCommand     = "command"
	CategoryInformation = "information"
	CategoryGreeting    = "greeting"
	CategoryFarewell    = "farewell"
	CategoryThanks      = "thanks"
	CategoryOther       = "other"
)

// Sentinel errors.
var (
	// ErrNoAPIKey is returned when the API key is missing.
	ErrNoAPIKey = errors.New("intent: API key required")

	// ErrEmptyText is returned when classifying empty text.
	ErrEmptyText = errors.New("intent: empty text")
)

// Result is a classification outcome.
type Result struct {
	// IsInterruption marks short barge-in utterances like "stop" or
	// "wacht even".
	IsInterruption bool `json:"is_interruption"`

	// Category is one of the Category constants.
	Category string `json:"category"`
}

// Classifier defines the intent classification interface.
type Classifier interface {
	// Classify analyzes the transcript. Failures are expected to be
	// treated as non-fatal by callers.
	Classify(ctx context.Context, text string) (*Result, error)

	// Close releases any resources held by the classifier.
	Close() error
}
