// Package providertest provides scripted upstreams and fake providers for
// tests of code that calls external providers.
package providertest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"

	"github.com/polisai/polis-docintel/internal/provider"
	"github.com/polisai/polis-docintel/pkg/domain"
)

// Reply is one scripted upstream response.
type Reply struct {
	Status int
	// Text is wrapped in the upstream's success envelope when Status is 2xx.
	Text string
	// Body is written verbatim when set, for error envelopes.
	Body string
}

// Style selects the wire format the mock speaks.
type Style int

const (
	StyleOpenAI Style = iota
	StyleAnthropic
)

// Upstream is an httptest server that answers with scripted replies and
// counts hits. When the script runs out the last reply repeats.
type Upstream struct {
	*httptest.Server

	style    Style
	mu       sync.Mutex
	replies  []Reply
	bodies   [][]byte
	headers  []http.Header
	hits     atomic.Int64
	probes   atomic.Int64
	probeErr atomic.Int64
}

// NewUpstream starts a mock upstream. Close it with t.Cleanup.
func NewUpstream(style Style, replies ...Reply) *Upstream {
	u := &Upstream{style: style, replies: replies}
	u.Server = httptest.NewServer(http.HandlerFunc(u.handle))
	return u
}

// Hits returns the number of generation calls received.
func (u *Upstream) Hits() int { return int(u.hits.Load()) }

// Probes returns the number of probe calls received.
func (u *Upstream) Probes() int { return int(u.probes.Load()) }

// FailProbes makes probe calls answer with status until set to 0.
func (u *Upstream) FailProbes(status int) { u.probeErr.Store(int64(status)) }

// Script replaces the remaining replies.
func (u *Upstream) Script(replies ...Reply) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.replies = replies
}

// Requests returns the decoded JSON bodies of generation calls.
func (u *Upstream) Requests() []map[string]any {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]map[string]any, 0, len(u.bodies))
	for _, b := range u.bodies {
		var m map[string]any
		_ = json.Unmarshal(b, &m)
		out = append(out, m)
	}
	return out
}

// Headers returns the headers of generation calls.
func (u *Upstream) Headers() []http.Header {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]http.Header(nil), u.headers...)
}

func (u *Upstream) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		u.probes.Add(1)
		if st := int(u.probeErr.Load()); st != 0 {
			w.WriteHeader(st)
			_, _ = io.WriteString(w, `{"error":{"message":"probe rejected"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[]}`)
		return
	}

	u.hits.Add(1)
	body, _ := io.ReadAll(r.Body)

	u.mu.Lock()
	u.bodies = append(u.bodies, body)
	u.headers = append(u.headers, r.Header.Clone())
	reply := Reply{Status: http.StatusOK}
	if len(u.replies) > 0 {
		reply = u.replies[0]
		if len(u.replies) > 1 {
			u.replies = u.replies[1:]
		}
	}
	u.mu.Unlock()

	if reply.Status == 0 {
		reply.Status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.Status)
	if reply.Body != "" || reply.Status >= 300 {
		_, _ = io.WriteString(w, reply.Body)
		return
	}
	_ = json.NewEncoder(w).Encode(u.envelope(reply.Text))
}

func (u *Upstream) envelope(text string) any {
	if u.style == StyleAnthropic {
		return map[string]any{
			"model":   "mock-model",
			"content": []map[string]any{{"type": "text", "text": text}},
			"usage":   map[string]int{"input_tokens": 10, "output_tokens": 5},
		}
	}
	return map[string]any{
		"model":   "mock-model",
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": text}}},
		"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 5},
	}
}

// Common error envelopes.
const (
	RateLimitBody     = `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`
	QuotaBody         = `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`
	InvalidKeyBody    = `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`
	AnthropicRateBody = `{"type":"error","error":{"type":"rate_limit_error","message":"Number of requests has exceeded your rate limit"}}`
)

// Fake is an in-process Provider driven by a function.
type Fake struct {
	ProviderID string
	Fn         func(ctx context.Context, req provider.Request) (provider.Response, error)
	ProbeErr   error

	calls atomic.Int64
}

// ID returns the provider id.
func (f *Fake) ID() string { return f.ProviderID }

// Generate calls Fn.
func (f *Fake) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	f.calls.Add(1)
	if f.Fn == nil {
		return provider.Response{}, domain.NewProviderError(f.ProviderID, domain.KindProviderFailure, 0, "no behaviour", nil)
	}
	return f.Fn(ctx, req)
}

// Probe returns ProbeErr.
func (f *Fake) Probe(context.Context) error { return f.ProbeErr }

// SupportsMedia accepts every media type.
func (f *Fake) SupportsMedia(domain.MediaType) bool { return true }

// Calls returns the number of Generate calls.
func (f *Fake) Calls() int { return int(f.calls.Load()) }

// Text returns a Fn that always answers with text.
func Text(text string) func(context.Context, provider.Request) (provider.Response, error) {
	return func(context.Context, provider.Request) (provider.Response, error) {
		return provider.Response{Text: text, Model: "fake"}, nil
	}
}

// Fail returns a Fn that always fails with the given kind.
func Fail(id string, kind domain.ErrorKind) func(context.Context, provider.Request) (provider.Response, error) {
	return func(context.Context, provider.Request) (provider.Response, error) {
		return provider.Response{}, domain.NewProviderError(id, kind, 0, "scripted failure", nil)
	}
}
