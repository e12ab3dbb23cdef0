// Package oracle wraps the structured-output text generator the reviewers
// consult. Every call returns a JSON object or a typed error.
package oracle

import (
	"context"
	"fmt"
)

// Schema is a JSON Schema document describing the expected object.
type Schema map[string]any

// Oracle generates one JSON object per call.
type Oracle interface {
	Generate(ctx context.Context, system, user string, schema Schema) (map[string]any, error)
	// SupportsIteration reports whether repeated calls can see new evidence.
	// Scripted doubles return false, which disables every retry loop.
	SupportsIteration() bool
}

// TransportError is a network failure or a retryable upstream status.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("oracle transport: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("oracle transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError is output that could not be turned into a valid object.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("oracle output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type purposeKey struct{}

// WithPurpose labels calls made with ctx for metrics and tracing.
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey{}, purpose)
}

// PurposeFrom returns the label set by WithPurpose, or "generate".
func PurposeFrom(ctx context.Context) string {
	if p, ok := ctx.Value(purposeKey{}).(string); ok && p != "" {
		return p
	}
	return "generate"
}
