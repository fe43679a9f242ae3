package llm

import "testing"

func TestResolveAPIConfigOpenRouterDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_BASE", "https://openrouter.ai/api/v1")
	t.Setenv("OPENAI_API_KEY", "test-key")
	cfg, err := resolveAPIConfig("meta-llama/llama-3.1-70b-instruct")
	if err != nil {
		t.Fatalf("resolveAPIConfig returned error: %v", err)
	}
	if cfg.Kind != providerOpenRouter {
		t.Fatalf("expected providerOpenRouter, got %v", cfg.Kind)
	}
	if got := cfg.ExtraHeaders["HTTP-Referer"]; got != "http://localhost:8080" {
		t.Fatalf("unexpected HTTP-Referer: %q", got)
	}
	if got := cfg.ExtraHeaders["Referer"]; got != "http://localhost:8080" {
		t.Fatalf("unexpected Referer: %q", got)
	}
	if got := cfg.ExtraHeaders["X-Title"]; got != "DilemmaLab" {
		t.Fatalf("unexpected X-Title: %q", got)
	}
}

func TestResolveAPIConfigOpenRouterOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_BASE", "https://openrouter.ai/api/v1")
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENROUTER_SITE_URL", "https://example.com/app")
	t.Setenv("OPENROUTER_TITLE", "Custom Title")
	cfg, err := resolveAPIConfig("meta-llama/llama-3.1-70b-instruct")
	if err != nil {
		t.Fatalf("resolveAPIConfig returned error: %v", err)
	}
	if cfg.Kind != providerOpenRouter {
		t.Fatalf("expected providerOpenRouter, got %v", cfg.Kind)
	}
	if got := cfg.ExtraHeaders["HTTP-Referer"]; got != "https://example.com/app" {
		t.Fatalf("unexpected HTTP-Referer: %q", got)
	}
	if got := cfg.ExtraHeaders["Referer"]; got != "https://example.com/app" {
		t.Fatalf("unexpected Referer: %q", got)
	}
	if got := cfg.ExtraHeaders["X-Title"]; got != "Custom Title" {
		t.Fatalf("unexpected X-Title: %q", got)
	}
}

func TestResolveAPIConfigProviderSelection(t *testing.T) {
	t.Setenv("OPENAI_API_BASE", "")
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("OPENROUTER_API_BASE", "")
	t.Setenv("OPENROUTER_BASE_URL", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("OPENROUTER_MODEL", "")
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := resolveAPIConfig("gpt-4o-mini")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Kind != providerOpenAI || cfg.BaseURL != "https://api.openai.com/v1" || cfg.HeaderPrefix != "Bearer " {
		t.Fatalf("openai config = %+v", cfg)
	}
	if len(cfg.ExtraHeaders) != 0 {
		t.Fatalf("unexpected extra headers %v", cfg.ExtraHeaders)
	}

	cfg, err = resolveAPIConfig("openrouter/auto")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Kind != providerOpenRouter {
		t.Fatalf("model prefix should select OpenRouter, got %v", cfg.Kind)
	}

	t.Setenv("LLM_PROVIDER", "openai")
	cfg, err = resolveAPIConfig("openrouter/auto")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Kind != providerOpenAI {
		t.Fatalf("LLM_PROVIDER should win, got %v", cfg.Kind)
	}
}

func TestResolveAPIConfigMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	if _, err := resolveAPIConfig("gpt-4o-mini"); err == nil {
		t.Fatal("expected missing key error")
	}
}
