package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPBackend posts prompts to an LLM HTTP endpoint. Request body is
// {model, prompt, max_tokens, lookup}; the response carries {text} on
// success or {error: {message}} on failure.
type HTTPBackend struct {
	Endpoint  string
	Model     string
	APIKey    string
	MaxTokens int
	Client    *http.Client
}

type httpRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
	Lookup    bool   `json:"lookup,omitempty"`
}

type httpResponse struct {
	Text  string `json:"text"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (b *HTTPBackend) Name() string { return "http" }

func (b *HTTPBackend) Execute(ctx context.Context, req Request) Result {
	start := time.Now()
	if b.APIKey == "" {
		return failure("http backend: missing API key", 0)
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(httpRequest{
		Model:     b.Model,
		Prompt:    req.Prompt,
		MaxTokens: b.MaxTokens,
		Lookup:    req.Lookup,
	})
	if err != nil {
		return failure(fmt.Sprintf("marshal request: %v", err), time.Since(start))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Endpoint, bytes.NewReader(body))
	if err != nil {
		return failure(fmt.Sprintf("build request: %v", err), time.Since(start))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.APIKey)

	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		elapsed := time.Since(start)
		if ctx.Err() == context.DeadlineExceeded {
			return Result{
				Err:      fmt.Sprintf("step %s timed out after %s", req.StepID, req.Timeout),
				TimedOut: true,
				Elapsed:  elapsed,
			}
		}
		return failure(fmt.Sprintf("post %s: %v", b.Endpoint, err), elapsed)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(fmt.Sprintf("read response: %v", err), time.Since(start))
	}

	var parsed httpResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return failure(fmt.Sprintf("parse response (status %d): %v", resp.StatusCode, err), time.Since(start))
	}
	if parsed.Error != nil {
		return failure(fmt.Sprintf("model error: %s", parsed.Error.Message), time.Since(start))
	}
	if resp.StatusCode != http.StatusOK {
		return failure(fmt.Sprintf("unexpected status %d", resp.StatusCode), time.Since(start))
	}
	return Result{OK: true, Output: parsed.Text, Elapsed: time.Since(start)}
}
