// Package remote sends multimodal requests to an OpenAI-compatible chat
// completions endpoint and normalizes the usage accounting that comes back.
package remote

import (
	"context"
	"fmt"
	"unicode/utf8"
)

const maxErrorBody = 512

// Adapter is the contract every transport implements. The batch and
// cache-probe runners depend only on this.
type Adapter interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Request is one multimodal call: an optional document plus instruction text.
type Request struct {
	Model       string
	Instruction string
	// Document is a data: URI or a public https URL. Empty sends text only.
	Document string
	Filename string
	Options  Options
}

// Options tune the request. The zero value sends a plain request with no
// plugins, no cache directive and server defaults for sampling.
type Options struct {
	// Engine selects the server-side file parser, e.g. "pdf-text",
	// "mistral-ocr" or "native".
	Engine string
	// CacheControl attaches an ephemeral cache directive to CachePrefix.
	CacheControl bool
	// CachePrefix is sent first and is the part expected to be cached.
	CachePrefix string
	// Suffix is sent last and never cached. Put timestamps or run labels here.
	Suffix          string
	MaxTokens       int
	Temperature     *float64
	Reasoning       string
	UsageAccounting bool
}

// Usage is normalized token accounting. Missing fields are zero; Cost is nil
// when the server did not report one.
type Usage struct {
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	TotalTokens      int      `json:"total_tokens"`
	CachedTokens     int      `json:"cached_tokens"`
	ReasoningTokens  int      `json:"reasoning_tokens"`
	Cost             *float64 `json:"cost,omitempty"`
}

type Response struct {
	Text      string
	Reasoning string
	Model     string
	Usage     Usage
}

// RemoteCallError reports a transport failure, a non-2xx status, or a body
// that could not be decoded. StatusCode is 0 when no response was received.
type RemoteCallError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteCallError) Error() string {
	body := truncateBody(e.Body, maxErrorBody)
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("remote call failed (%d): %v: %s", e.StatusCode, e.Err, body)
	case e.StatusCode != 0:
		return fmt.Sprintf("remote call failed (%d): %s", e.StatusCode, body)
	default:
		return fmt.Sprintf("remote call failed: %v", e.Err)
	}
}

// truncateBody cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateBody(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func (e *RemoteCallError) Unwrap() error {
	return e.Err
}
