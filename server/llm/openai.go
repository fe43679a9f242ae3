package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Decisions the structured output may return.
var Decisions = []string{"Cooperate", "Defect"}

// PingOptions controls JSON mode + reasoning + tokens.
type PingOptions struct {
	ReasoningEffort      string
	MaxOutputTokens      *int
	StructuredSchemaName string
	StructuredSchema     map[string]any
	StructuredStrict     bool
}

var httpClient = &http.Client{Timeout: 45 * time.Second}

// PingText sends a minimal request to the chat/completions API and returns text.
func PingText(ctx context.Context, model, system, user string) (string, error) {
	return PingTextWithOpts(ctx, model, system, user, EnvPingOptions())
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Reasoning      map[string]string `json:"reasoning,omitempty"`
	ResponseFormat responseFormat    `json:"response_format"`
	Temperature    *float64          `json:"temperature,omitempty"`
	TopP           *float64          `json:"top_p,omitempty"`
	TopK           int               `json:"top_k,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func buildChatRequest(model, system, user string, opts PingOptions, tuning sampling) chatRequest {
	req := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
		Temperature:    tuning.temperature(),
		TopP:           tuning.topP(),
		TopK:           tuning.topK(),
	}
	if opts.MaxOutputTokens != nil && *opts.MaxOutputTokens > 0 {
		req.MaxTokens = *opts.MaxOutputTokens
	}
	if effort := strings.TrimSpace(opts.ReasoningEffort); effort != "" {
		req.Reasoning = map[string]string{"effort": effort}
	}
	if opts.StructuredSchema != nil {
		req.ResponseFormat = responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchema{
				Name:   coalesce(opts.StructuredSchemaName, "structured"),
				Strict: opts.StructuredStrict,
				Schema: opts.StructuredSchema,
			},
		}
	}
	return req
}

// PingTextWithOpts sends one chat completion and returns the first choice's
// content.
func PingTextWithOpts(ctx context.Context, model, system, user string, opts PingOptions) (string, error) {
	cfg, err := resolveAPIConfig(model)
	if err != nil {
		return "", err
	}
	tuning, err := loadSamplingEnv()
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(buildChatRequest(cfg.Model, system, user, opts, tuning.forProvider(cfg.Kind == providerOpenRouter)))
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	setHeaderPreserveCase(req.Header, cfg.HeaderName, cfg.HeaderPrefix+cfg.APIKey)
	setHeaderPreserveCase(req.Header, "OpenAI-Organization", cfg.Organization)
	for k, v := range cfg.ExtraHeaders {
		setHeaderPreserveCase(req.Header, k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("chat completions http %d: %s", resp.StatusCode, truncate(string(body), 800))
	}
	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", err
	}
	if len(cr.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return cr.Choices[0].Message.Content, nil
}

// PingChooseDecision asks the model for a structured Cooperate/Defect answer.
// It returns the decision, the model's short comment and the raw text.
func PingChooseDecision(ctx context.Context, model, system, user string, opts PingOptions) (string, string, string, error) {
	opts.StructuredSchema = map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"decision": map[string]any{
				"type":        "string",
				"enum":        Decisions,
				"description": "Your move this round",
			},
			"comment": map[string]any{
				"type":        "string",
				"description": "One short sentence, at most 120 characters",
			},
		},
		"required": []string{"decision", "comment"},
	}
	opts.StructuredSchemaName = coalesce(opts.StructuredSchemaName, "pd_decision")
	opts.StructuredStrict = true

	text, err := PingTextWithOpts(ctx, model, system, user, opts)
	if err != nil {
		return "", "", text, err
	}
	raw := strings.TrimSpace(text)
	if raw == "" {
		return "", "", raw, errors.New("empty response")
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		cleaned := extractJSONObject(raw)
		if cleaned == "" {
			return "", "", raw, err
		}
		if err2 := json.Unmarshal([]byte(cleaned), &parsed); err2 != nil {
			return "", "", raw, err
		}
	}
	decision, ok := coerceDecision(parsed)
	if !ok {
		return "", "", raw, errors.New("no valid decision in response")
	}
	comment, _ := parsed["comment"].(string)
	return decision, truncate(strings.TrimSpace(comment), 120), raw, nil
}

// setHeaderPreserveCase writes key as given. Non-canonical keys such as
// "HTTP-Referer" bypass Header.Set so the exact spelling reaches the wire.
func setHeaderPreserveCase(h http.Header, key, value string) {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		return
	}
	if http.CanonicalHeaderKey(key) == key {
		h.Set(key, value)
		return
	}
	h[key] = []string{value}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func coalesce(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		return ""
	}
	return strings.TrimSpace(s[start : end+1])
}

// coerceDecision accepts "decision" or "action" keys, any case, and the
// single-letter forms.
func coerceDecision(parsed map[string]any) (string, bool) {
	var v string
	for _, key := range []string{"decision", "action", "move"} {
		if s, ok := parsed[key].(string); ok {
			v = strings.ToLower(strings.TrimSpace(s))
			break
		}
	}
	switch v {
	case "cooperate", "c":
		return "Cooperate", true
	case "defect", "d":
		return "Defect", true
	}
	return "", false
}

// samplingEnv holds the optional generation knobs. Each has an OpenAI and an
// OpenRouter spelling; unparsable values are ignored.
type samplingEnv struct {
	OpenAIReasoning     string `env:"OPENAI_REASONING_EFFORT"`
	OpenRouterReasoning string `env:"OPENROUTER_REASONING_EFFORT"`
	OpenAIMaxTokens     string `env:"OPENAI_MAX_OUTPUT_TOKENS"`
	OpenRouterMaxTokens string `env:"OPENROUTER_MAX_OUTPUT_TOKENS"`
	OpenAITemperature   string `env:"OPENAI_TEMPERATURE"`
	OpenRouterTemp      string `env:"OPENROUTER_TEMPERATURE"`
	OpenAITopP          string `env:"OPENAI_TOP_P"`
	OpenRouterTopP      string `env:"OPENROUTER_TOP_P"`
	OpenAITopK          string `env:"OPENAI_TOP_K"`
	OpenRouterTopK      string `env:"OPENROUTER_TOP_K"`
}

// sampling is samplingEnv with the provider's spelling chosen first.
type sampling struct {
	reasoning, maxTokens, temp, topp, topk string
}

func loadSamplingEnv() (samplingEnv, error) {
	var e samplingEnv
	if err := env.Parse(&e); err != nil {
		return samplingEnv{}, fmt.Errorf("parse sampling env: %w", err)
	}
	return e, nil
}

func (e samplingEnv) forProvider(openRouter bool) sampling {
	pick := func(openAI, router string) string {
		if openRouter {
			return firstNonEmpty(router, openAI)
		}
		return firstNonEmpty(openAI, router)
	}
	return sampling{
		reasoning: pick(e.OpenAIReasoning, e.OpenRouterReasoning),
		maxTokens: pick(e.OpenAIMaxTokens, e.OpenRouterMaxTokens),
		temp:      pick(e.OpenAITemperature, e.OpenRouterTemp),
		topp:      pick(e.OpenAITopP, e.OpenRouterTopP),
		topk:      pick(e.OpenAITopK, e.OpenRouterTopK),
	}
}

func (s sampling) temperature() *float64 { return parseFloatPtr(s.temp) }
func (s sampling) topP() *float64        { return parseFloatPtr(s.topp) }

func (s sampling) topK() int {
	n, err := strconv.Atoi(s.topk)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func parseFloatPtr(v string) *float64 {
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

// EnvPingOptions reads reasoning effort and output token limits from env.
func EnvPingOptions() PingOptions {
	e, err := loadSamplingEnv()
	if err != nil {
		return PingOptions{}
	}
	s := e.forProvider(preferOpenRouterEnv())
	opts := PingOptions{ReasoningEffort: s.reasoning}
	if n, err := strconv.Atoi(s.maxTokens); err == nil && n > 0 {
		opts.MaxOutputTokens = &n
	}
	return opts
}
