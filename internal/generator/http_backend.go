package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	maxResponseSize = 4 << 20

	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
)

// HTTPOptions are shared by the HTTP backends.
type HTTPOptions struct {
	Timeout time.Duration
	// Limiter throttles outbound requests; nil means unlimited.
	Limiter *rate.Limiter
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// httpBackend is the request plumbing shared by provider adapters.
type httpBackend struct {
	client  *http.Client
	limiter *rate.Limiter
}

func newHTTPBackend(opts HTTPOptions) httpBackend {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return httpBackend{client: client, limiter: opts.Limiter}
}

func (h httpBackend) post(ctx context.Context, url string, headers map[string]string, body any) ([]byte, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, NewTransientError(fmt.Errorf("rate limiter: %w", err))
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// GeminiBackend calls the Gemini generateContent endpoint for one model.
type GeminiBackend struct {
	httpBackend
	baseURL string
	model   string
	apiKey  string
}

// NewGeminiBackend returns a backend for model. baseURL may be empty.
func NewGeminiBackend(baseURL, model, apiKey string, opts HTTPOptions) *GeminiBackend {
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiBackend{
		httpBackend: newHTTPBackend(opts),
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		model:       model,
		apiKey:      apiKey,
	}
}

// Name returns "gemini/<model>".
func (g *GeminiBackend) Name() string { return "gemini/" + g.model }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		ResponseMIMEType string `json:"responseMimeType,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Complete sends the prompt as a single user turn with a system instruction.
func (g *GeminiBackend) Complete(ctx context.Context, p Prompt) (string, error) {
	body := geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: p.System}}},
		Contents:          []geminiContent{{Role: "user", Parts: []geminiPart{{Text: p.User}}}},
	}
	body.GenerationConfig.ResponseMIMEType = "application/json"

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, g.model)
	respBody, err := g.post(ctx, url, map[string]string{"x-goog-api-key": g.apiKey}, body)
	if err != nil {
		return "", err
	}

	var resp geminiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", NewTransientError(fmt.Errorf("decode gemini response: %w", err))
	}
	if len(resp.Candidates) == 0 {
		return "", NewTransientError(fmt.Errorf("gemini returned no candidates"))
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return strings.TrimSpace(b.String()), nil
}

// OpenAIBackend calls an OpenAI-compatible chat completions endpoint.
type OpenAIBackend struct {
	httpBackend
	baseURL string
	model   string
	apiKey  string
}

// NewOpenAIBackend returns a backend for model. baseURL may be empty.
func NewOpenAIBackend(baseURL, model, apiKey string, opts HTTPOptions) *OpenAIBackend {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIBackend{
		httpBackend: newHTTPBackend(opts),
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		model:       model,
		apiKey:      apiKey,
	}
}

// Name returns "openai/<model>".
func (o *OpenAIBackend) Name() string { return "openai/" + o.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends the prompt as a system and a user message.
func (o *OpenAIBackend) Complete(ctx context.Context, p Prompt) (string, error) {
	body := chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
		Temperature: 0.2,
	}
	headers := map[string]string{}
	if o.apiKey != "" {
		headers["Authorization"] = "Bearer " + o.apiKey
	}

	respBody, err := o.post(ctx, o.baseURL+"/chat/completions", headers, body)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", NewTransientError(fmt.Errorf("decode chat response: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", NewTransientError(fmt.Errorf("chat completion returned no choices"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
