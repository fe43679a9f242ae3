package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSetHeaderPreserveCase(t *testing.T) {
	hdr := http.Header{}
	setHeaderPreserveCase(hdr, "HTTP-Referer", "https://example.com/app")
	if vals := hdr["HTTP-Referer"]; len(vals) != 1 || vals[0] != "https://example.com/app" {
		t.Fatalf("expected HTTP-Referer slice to be preserved, got %+v", vals)
	}
	if _, exists := hdr["Http-Referer"]; exists {
		t.Fatalf("unexpected canonical header variant present: %+v", hdr)
	}

	setHeaderPreserveCase(hdr, "Referer", "https://example.com/app")
	if got := hdr.Get("Referer"); got != "https://example.com/app" {
		t.Fatalf("expected Referer to be set via canonical path, got %q", got)
	}

	// Blank values should be ignored.
	setHeaderPreserveCase(hdr, "  ", "value")
	setHeaderPreserveCase(hdr, "X-Test", "   ")
	if _, exists := hdr[" "]; exists {
		t.Fatalf("expected blank header keys to be ignored")
	}
	if got := hdr.Get("X-Test"); got != "" {
		t.Fatalf("expected blank header values to be skipped, got %q", got)
	}
}

func TestPingChooseDecision(t *testing.T) {
	var gotAuth, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Sure: {\"decision\":\"defect\",\"comment\":\"they defected last round\"}"}}]}`))
	}))
	defer srv.Close()

	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_BASE", srv.URL)
	t.Setenv("OPENAI_API_KEY", "test-key")

	decision, comment, raw, err := PingChooseDecision(context.Background(), "gpt-test", "sys", "user", PingOptions{})
	if err != nil {
		t.Fatalf("PingChooseDecision: %v (raw %q)", err, raw)
	}
	if decision != "Defect" {
		t.Fatalf("decision = %q", decision)
	}
	if comment != "they defected last round" {
		t.Fatalf("comment = %q", comment)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotModel != "gpt-test" {
		t.Fatalf("model = %q", gotModel)
	}
}

func TestPingChooseDecisionHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_BASE", srv.URL)
	t.Setenv("OPENAI_API_KEY", "test-key")

	if _, _, _, err := PingChooseDecision(context.Background(), "gpt-test", "sys", "user", PingOptions{}); err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err = %v, want http 429", err)
	}
}

func TestCoerceDecision(t *testing.T) {
	cases := []struct {
		in   map[string]any
		want string
		ok   bool
	}{
		{map[string]any{"decision": "Cooperate"}, "Cooperate", true},
		{map[string]any{"action": " D "}, "Defect", true},
		{map[string]any{"decision": "fold"}, "", false},
		{map[string]any{}, "", false},
	}
	for _, tc := range cases {
		got, ok := coerceDecision(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("coerceDecision(%v) = %q, %v", tc.in, got, ok)
		}
	}
}

func TestBuildChatRequestSampling(t *testing.T) {
	tuning := samplingEnv{OpenAITemperature: "0.2", OpenRouterTemp: "0.9", OpenAITopK: "x", OpenRouterTopK: "40"}
	n := 64
	req := buildChatRequest("m", "sys", "user", PingOptions{MaxOutputTokens: &n, ReasoningEffort: "low"}, tuning.forProvider(false))
	if req.Temperature == nil || *req.Temperature != 0.2 {
		t.Fatalf("temperature = %v", req.Temperature)
	}
	if req.TopK != 0 || req.TopP != nil {
		t.Fatalf("top_k = %d top_p = %v", req.TopK, req.TopP)
	}
	if req.MaxTokens != 64 || req.Reasoning["effort"] != "low" || req.ResponseFormat.Type != "json_object" {
		t.Fatalf("req = %+v", req)
	}

	req = buildChatRequest("m", "sys", "user", PingOptions{StructuredSchema: map[string]any{"type": "object"}}, tuning.forProvider(true))
	if *req.Temperature != 0.9 || req.TopK != 40 {
		t.Fatalf("openrouter tuning = %v / %d", *req.Temperature, req.TopK)
	}
	if req.ResponseFormat.JSONSchema == nil || req.ResponseFormat.JSONSchema.Name != "structured" {
		t.Fatalf("response format = %+v", req.ResponseFormat)
	}
}
