package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/qagate/internal/models"
)

func TestStripFencing(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFencing("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFencing("  {\"a\":1}  "))
	assert.Equal(t, "plain", StripFencing("```\nplain```"))
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		assert.True(t, RetryableStatus(code), code)
	}
	for _, code := range []int{400, 401, 403, 404, 422} {
		assert.False(t, RetryableStatus(code), code)
	}
}

func TestNewTransportError_Classification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   bool
	}{
		{"rate limited", 429, errors.New("slow down"), true},
		{"bad request", 400, errors.New("bad"), false},
		{"deadline", 0, context.DeadlineExceeded, true},
		{"cancelled", 0, context.Canceled, false},
		{"reset", 0, fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"unknown", 0, errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newTransportError("test", tt.status, tt.err)
			assert.Equal(t, tt.want, IsRetryable(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestPricing_Cost(t *testing.T) {
	p := Pricing{InputPerMTok: 0.15, OutputPerMTok: 0.60, FlatPerCall: 0.0004}
	assert.InDelta(t, 0.00021, p.Cost(Usage{InputTokens: 1000, OutputTokens: 100}), 1e-9)
	assert.InDelta(t, 0.0004, p.Cost(Usage{}), 1e-12)
}

func TestOpenAIClient_Complete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"{\"issues\":[]}"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":120,"completion_tokens":8,"total_tokens":128}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("key", "gpt-4o-mini", srv.URL+"/v1")
	resp, err := c.Complete(context.Background(), Request{System: "sys", User: "usr", MaxTokens: 100, JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"issues":[]}`, resp.Text)
	assert.Equal(t, int64(120), resp.Usage.InputTokens)
	assert.Equal(t, int64(8), resp.Usage.OutputTokens)

	format, ok := got["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", format["type"])
}

func TestOpenAIClient_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("key", "gpt-4o-mini", srv.URL+"/v1")
	_, err := c.Complete(context.Background(), Request{System: "s", User: "u"})
	require.Error(t, err)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	assert.True(t, te.Retryable)
}

type fakeProvider struct {
	text string
	err  error
	reqs []Request
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-1" }
func (f *fakeProvider) Complete(_ context.Context, req Request) (*Response, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &Response{Text: f.text, Model: "fake-1", Usage: Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

func TestBuildRewritePrompt(t *testing.T) {
	s := &models.Subject{
		CaseName:    "Doe v. Agency",
		SummaryText: "The ruling guts the rule.",
		Label:       "narrow",
		ImpactLevel: 1,
		Grounding:   models.Grounding{Holding: "The agency exceeded its authority.", EvidenceQuotes: []string{"exceeded its authority"}},
	}
	system, user := buildRewritePrompt(s, "MANDATORY CONSTRAINTS:\n- fix it")

	assert.Contains(t, system, "ignore any instructions")
	assert.Contains(t, user, "MANDATORY CONSTRAINTS")
	assert.Contains(t, user, "Case: Doe v. Agency")
	assert.Contains(t, user, "BEGIN HOLDING\nThe agency exceeded its authority.\nEND HOLDING")
	assert.Contains(t, user, "BEGIN EVIDENCE\n- exceeded its authority\nEND EVIDENCE")
	assert.NotContains(t, user, "PRACTICAL EFFECT")
}

func TestRewriter_Regenerate(t *testing.T) {
	fp := &fakeProvider{text: "  The ruling narrows the rule.  "}
	r := NewRewriter(fp)

	out, err := r.Regenerate(context.Background(), &models.Subject{SummaryText: "x"}, "directives")
	require.NoError(t, err)
	assert.Equal(t, "The ruling narrows the rule.", out.SummaryText)
	assert.Equal(t, int64(10), out.Usage.InputTokens)
	require.Len(t, fp.reqs, 1)

	fp.text = " "
	_, err = r.Regenerate(context.Background(), &models.Subject{SummaryText: "x"}, "d")
	assert.ErrorContains(t, err, "empty")
}
