// Package llm is the model-provider collaborator. It hides the vendor SDKs
// behind Provider and classifies failures so callers can tell a broken
// transport from a well-formed but useless response.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// Request is one completion call.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
	// JSON asks the provider for a single JSON object when it supports it.
	JSON bool
}

// Usage counts tokens billed for a call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add returns the sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{InputTokens: u.InputTokens + o.InputTokens, OutputTokens: u.OutputTokens + o.OutputTokens}
}

// Response is the text returned by a completion call.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Provider completes prompts. Implementations return *TransportError for
// every failure that happened before a response body was obtained.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Name() string
	Model() string
}

// TransportError is a failed provider call.
type TransportError struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transport failure worth retrying.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Retryable
}

// RetryableStatus reports whether an HTTP status is transient.
func RetryableStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// isNetworkError reports connection-level failures and timeouts.
func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// newTransportError classifies a provider failure. status is 0 when no HTTP
// response was received.
func newTransportError(provider string, status int, err error) *TransportError {
	retry := false
	switch {
	case errors.Is(err, context.Canceled):
	case status > 0:
		retry = RetryableStatus(status)
	default:
		retry = isNetworkError(err)
	}
	return &TransportError{Provider: provider, StatusCode: status, Retryable: retry, Err: err}
}

// StripFencing removes a surrounding markdown code fence, if any.
func StripFencing(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// Pricing converts token usage to dollars.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
	// FlatPerCall is charged when the provider reported no usage.
	FlatPerCall float64
}

// Cost returns the dollar cost of u.
func (p Pricing) Cost(u Usage) float64 {
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return p.FlatPerCall
	}
	return float64(u.InputTokens)*p.InputPerMTok/1e6 + float64(u.OutputTokens)*p.OutputPerMTok/1e6
}
