// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package openaicompat implements types.Provider against any server that
// speaks the OpenAI chat completions API.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/traylinx/autoheal/internal/resilience"
	"github.com/traylinx/autoheal/internal/types"
)

// ProviderName identifies this provider in logs and errors.
const ProviderName = "openai-compatible"

const (
	domSystemPrompt = "You are an expert web automation engineer. Analyze HTML DOM to find the correct " +
		"CSS selector for elements. Always respond with valid JSON containing: selector, " +
		"confidence (0.0-1.0), reasoning, and alternatives array."
	completeSystemPrompt = "You are a web automation expert. When given multiple elements and a description, " +
		"respond with only the number of the element that best matches the description. " +
		"Respond with just the number, no other text."

	maxErrorBody = 512
)

// Config configures the provider.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64

	// Visual declares that Model accepts image input.
	Visual bool

	// HTTPClient overrides the default client. Timeouts come from the
	// caller's context, so the default client has none.
	HTTPClient *http.Client
}

// Provider calls /chat/completions.
type Provider struct {
	cfg    Config
	url    string
	client *http.Client
}

// New validates cfg and creates a Provider.
func New(cfg Config) (*Provider, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, types.NewConfigurationError("ai.base-url", "required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, types.NewConfigurationError("ai.model", "required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Provider{cfg: cfg, url: base + "/chat/completions", client: client}, nil
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) SupportsVisual() bool { return p.cfg.Visual }

// AnalyzeDOM sends the prompt with the DOM system instructions.
func (p *Provider) AnalyzeDOM(ctx context.Context, prompt string) (*types.Completion, error) {
	body, err := p.baseBody(p.cfg.MaxTokens, p.cfg.Temperature)
	if err != nil {
		return nil, err
	}
	body, err = appendMessage(body, "system", domSystemPrompt)
	if err != nil {
		return nil, err
	}
	body, err = appendMessage(body, "user", prompt)
	if err != nil {
		return nil, err
	}
	return p.do(ctx, body)
}

// AnalyzeVisual sends the prompt with the screenshot as an inline PNG.
func (p *Provider) AnalyzeVisual(ctx context.Context, prompt string, screenshot []byte) (*types.Completion, error) {
	if !p.cfg.Visual {
		return nil, resilience.Permanent(fmt.Errorf("model %s does not accept images", p.cfg.Model))
	}
	body, err := p.baseBody(p.cfg.MaxTokens, p.cfg.Temperature)
	if err != nil {
		return nil, err
	}
	body, err = sjson.SetBytes(body, "messages.0.role", "user")
	if err != nil {
		return nil, err
	}
	body, err = sjson.SetBytes(body, "messages.0.content.0.type", "text")
	if err != nil {
		return nil, err
	}
	body, err = sjson.SetBytes(body, "messages.0.content.0.text", prompt)
	if err != nil {
		return nil, err
	}
	body, err = sjson.SetBytes(body, "messages.0.content.1.type", "image_url")
	if err != nil {
		return nil, err
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(screenshot)
	body, err = sjson.SetBytes(body, "messages.0.content.1.image_url.url", dataURL)
	if err != nil {
		return nil, err
	}
	return p.do(ctx, body)
}

// Complete sends a short free-form prompt.
func (p *Provider) Complete(ctx context.Context, prompt string, maxTokens int) (*types.Completion, error) {
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxTokens
	}
	body, err := p.baseBody(maxTokens, p.cfg.Temperature)
	if err != nil {
		return nil, err
	}
	body, err = appendMessage(body, "system", completeSystemPrompt)
	if err != nil {
		return nil, err
	}
	body, err = appendMessage(body, "user", prompt)
	if err != nil {
		return nil, err
	}
	return p.do(ctx, body)
}

func (p *Provider) baseBody(maxTokens int, temperature float64) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	if body, err = sjson.SetBytes(body, "model", p.cfg.Model); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "max_tokens", maxTokens); err != nil {
		return nil, err
	}
	return sjson.SetBytes(body, "temperature", temperature)
}

func appendMessage(body []byte, role, content string) ([]byte, error) {
	idx := gjson.GetBytes(body, "messages.#").Int()
	path := fmt.Sprintf("messages.%d", idx)
	body, err := sjson.SetBytes(body, path+".role", role)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(body, path+".content", content)
}

func (p *Provider) do(ctx context.Context, body []byte) (*types.Completion, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	req.Header.Set("User-Agent", "autoheal")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", ProviderName, err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("openai compat provider: close response body error: %v", errClose)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.Debugf("request error, error status: %d, error body: %s", resp.StatusCode, b)
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s read response: %w", ProviderName, err)
	}
	if !gjson.ValidBytes(data) {
		return nil, resilience.Permanent(fmt.Errorf("%s: response is not JSON", ProviderName))
	}
	content := gjson.GetBytes(data, "choices.0.message.content")
	if !content.Exists() {
		return nil, resilience.Permanent(errEmptyChoices)
	}
	tokens := int(gjson.GetBytes(data, "usage.total_tokens").Int())
	if tokens == 0 {
		tokens = int(gjson.GetBytes(data, "usage.prompt_tokens").Int() + gjson.GetBytes(data, "usage.completion_tokens").Int())
	}
	log.Debugf("%s response received (length: %d, time: %s)", ProviderName, len(content.String()), time.Since(start).Round(time.Millisecond))
	return &types.Completion{Text: strings.TrimSpace(content.String()), TokensUsed: tokens}, nil
}

var errEmptyChoices = errors.New("empty choices array in chat completion response")

// StatusError is a non-2xx answer. 408, 429 and 5xx are retryable.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", ProviderName, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", ProviderName, e.Code, e.Body)
}

// StatusCode returns the HTTP status.
func (e *StatusError) StatusCode() int { return e.Code }

// Retryable is consulted by the retry policy.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests || e.Code >= 500
}
