package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://openrouter.ai/api/v1"

type ClientOptions struct {
	BaseURL string
	APIKey  string
	// Timeout bounds a whole request including the upload of the document.
	Timeout time.Duration
	// Referer and Title are optional attribution headers.
	Referer string
	Title   string
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// OpenAIClient talks to an OpenAI-compatible /chat/completions endpoint.
// It is built once at startup and safe for concurrent use.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	referer    string
	title      string
	httpClient *http.Client
}

func NewOpenAIClient(opts ClientOptions) *OpenAIClient {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &OpenAIClient{
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		referer:    opts.Referer,
		title:      opts.Title,
		httpClient: hc,
	}
}

type cacheControl struct {
	Type string `json:"type"`
}

type fileData struct {
	Filename string `json:"filename,omitempty"`
	FileData string `json:"file_data"`
}

type contentPart struct {
	Type         string        `json:"type"`
	Text         string        `json:"text,omitempty"`
	File         *fileData     `json:"file,omitempty"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type wireMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type pdfPlugin struct {
	Engine string `json:"engine"`
}

type plugin struct {
	ID  string     `json:"id"`
	PDF *pdfPlugin `json:"pdf,omitempty"`
}

type reasoningConfig struct {
	Effort string `json:"effort"`
}

type usageConfig struct {
	Include bool `json:"include"`
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []wireMessage    `json:"messages"`
	Plugins     []plugin         `json:"plugins,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	Reasoning   *reasoningConfig `json:"reasoning,omitempty"`
	Usage       *usageConfig     `json:"usage,omitempty"`
}

type wireUsage struct {
	PromptTokens        int      `json:"prompt_tokens"`
	CompletionTokens    int      `json:"completion_tokens"`
	TotalTokens         int      `json:"total_tokens"`
	Cost                *float64 `json:"cost"`
	PromptTokensDetails *struct {
		CachedTokens *int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
	CompletionTokensDetails *struct {
		ReasoningTokens *int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details"`
	// Anthropic-native field name, passed through by some routers.
	CacheReadInputTokens *int `json:"cache_read_input_tokens"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Body returns the exact JSON body sent for req. Identical requests produce
// identical bytes.
func Body(req *Request) ([]byte, error) {
	return json.Marshal(buildChatRequest(req))
}

func buildChatRequest(req *Request) chatRequest {
	opts := req.Options
	var parts []contentPart
	if opts.CachePrefix != "" {
		p := contentPart{Type: "text", Text: opts.CachePrefix}
		if opts.CacheControl {
			p.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		parts = append(parts, p)
	}
	if req.Document != "" {
		parts = append(parts, contentPart{
			Type: "file",
			File: &fileData{Filename: req.Filename, FileData: req.Document},
		})
	}
	if req.Instruction != "" {
		parts = append(parts, contentPart{Type: "text", Text: req.Instruction})
	}
	if opts.Suffix != "" {
		parts = append(parts, contentPart{Type: "text", Text: opts.Suffix})
	}

	out := chatRequest{
		Model:       req.Model,
		Messages:    []wireMessage{{Role: "user", Content: parts}},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	if opts.Engine != "" {
		out.Plugins = []plugin{{ID: "file-parser", PDF: &pdfPlugin{Engine: opts.Engine}}}
	}
	if opts.Reasoning != "" {
		out.Reasoning = &reasoningConfig{Effort: opts.Reasoning}
	}
	if opts.UsageAccounting {
		out.Usage = &usageConfig{Include: true}
	}
	return out
}

// Send posts req and returns the first choice's text with normalized usage.
// Errors are always *RemoteCallError. Retries are left to the caller.
func (c *OpenAIClient) Send(ctx context.Context, req *Request) (*Response, error) {
	body, err := Body(req)
	if err != nil {
		return nil, &RemoteCallError{Err: fmt.Errorf("marshaling request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &RemoteCallError{Err: fmt.Errorf("creating request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		httpReq.Header.Set("X-Title", c.title)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &RemoteCallError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RemoteCallError{StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		callErr := &RemoteCallError{StatusCode: resp.StatusCode, Body: string(respBody)}
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			callErr.Err = errors.New(errResp.Error.Message)
		}
		return nil, callErr
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return nil, &RemoteCallError{StatusCode: resp.StatusCode, Body: string(respBody), Err: fmt.Errorf("parsing response: %w", err)}
	}
	if len(chat.Choices) == 0 {
		// Some routers report upstream failures in a 200 body.
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return nil, &RemoteCallError{StatusCode: resp.StatusCode, Body: string(respBody), Err: errors.New(errResp.Error.Message)}
		}
		return nil, &RemoteCallError{StatusCode: resp.StatusCode, Body: string(respBody), Err: errors.New("no choices in response")}
	}

	msg := chat.Choices[0].Message
	return &Response{
		Text:      msg.Content,
		Reasoning: msg.Reasoning,
		Model:     chat.Model,
		Usage:     normalizeUsage(chat.Usage),
	}, nil
}

func normalizeUsage(u *wireUsage) Usage {
	if u == nil {
		return Usage{}
	}
	out := Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		Cost:             u.Cost,
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	switch {
	case u.PromptTokensDetails != nil && u.PromptTokensDetails.CachedTokens != nil:
		out.CachedTokens = *u.PromptTokensDetails.CachedTokens
	case u.CacheReadInputTokens != nil:
		out.CachedTokens = *u.CacheReadInputTokens
	}
	if u.CompletionTokensDetails != nil && u.CompletionTokensDetails.ReasoningTokens != nil {
		out.ReasoningTokens = *u.CompletionTokensDetails.ReasoningTokens
	}
	return out
}
