// Package engine defines the uniform contract every transcription,
// translation, and QA provider plugs into. Adapters are selected by
// configuration, never by type inspection, and must be safely callable
// concurrently for distinct messages.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies provider failures for the retry policy
type FailureKind string

const (
	FailureAuth         FailureKind = "auth"
	FailureRateLimited  FailureKind = "rate_limited"
	FailureTimeout      FailureKind = "timeout"
	FailureInvalidInput FailureKind = "invalid_input"
	FailureProvider     FailureKind = "provider_error"
)

// Error is a typed provider failure
type Error struct {
	Kind     FailureKind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps a provider failure with its classification
func NewError(provider string, kind FailureKind, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Err: err}
}

// Errorf is NewError with a formatted message
func Errorf(provider string, kind FailureKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Provider: provider, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the failure kind from an error chain.
// Unclassified errors count as provider errors.
func KindOf(err error) FailureKind {
	var engErr *Error
	if errors.As(err, &engErr) {
		return engErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	return FailureProvider
}

// IsRetryable reports whether the failure is transient.
// Auth and malformed-input failures never succeed on retry.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case FailureTimeout, FailureRateLimited, FailureProvider:
		return true
	default:
		return false
	}
}

// TranscribeRequest carries one segment artifact to a transcription provider
type TranscribeRequest struct {
	AudioPath string // Filesystem path of the segment artifact
	Model     string
	Language  string // Empty lets the provider auto-detect
	Prompt    string // Optional recognition context
}

// TranscribeResult is a successful transcription
type TranscribeResult struct {
	Text             string
	DetectedLanguage string // Optional, when the provider reports it
}

// TranslateRequest carries a completed transcript to a translation provider
type TranslateRequest struct {
	Text           string
	TargetLanguage string
	Model          string
}

// TranslateResult is a successful translation
type TranslateResult struct {
	Text string
}

// QAPair is one extracted question with its answer
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// QARequest carries a full transcript to a QA extraction provider
type QARequest struct {
	Transcript string
	Model      string
	Prompt     string // Optional extraction instructions
}

// Transcriber converts a segment artifact into text
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, req TranscribeRequest) (*TranscribeResult, error)
}

// Translator converts a transcript into the target language
type Translator interface {
	Name() string
	Translate(ctx context.Context, req TranslateRequest) (*TranslateResult, error)
}

// QAExtractor extracts question/answer pairs from a transcript
type QAExtractor interface {
	Name() string
	ExtractQA(ctx context.Context, req QARequest) ([]QAPair, error)
}
