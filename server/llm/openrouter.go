package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

type providerKind int

const (
	providerOpenAI providerKind = iota
	providerOpenRouter
)

const (
	openAIBase     = "https://api.openai.com/v1"
	openRouterBase = "https://openrouter.ai/api/v1"

	// OpenRouter attribution headers sent when none are configured.
	defaultSiteURL = "http://localhost:8080"
	defaultTitle   = "DilemmaLab"
)

// providerEnv is every variable that selects or authenticates a provider.
// OpenAI-named variables and their OpenRouter twins are both accepted.
type providerEnv struct {
	Provider string `env:"LLM_PROVIDER"`

	OpenAIModel     string `env:"OPENAI_MODEL"`
	OpenRouterModel string `env:"OPENROUTER_MODEL"`

	OpenAIBase        string `env:"OPENAI_API_BASE"`
	OpenAIBaseURL     string `env:"OPENAI_BASE_URL"`
	OpenRouterBase    string `env:"OPENROUTER_API_BASE"`
	OpenRouterBaseURL string `env:"OPENROUTER_BASE_URL"`

	OpenAIKey     string `env:"OPENAI_API_KEY"`
	OpenRouterKey string `env:"OPENROUTER_API_KEY"`

	OpenAIKeyHeader     string `env:"OPENAI_API_KEY_HEADER"`
	OpenRouterKeyHeader string `env:"OPENROUTER_API_KEY_HEADER"`
	OpenAIKeyPrefix     string `env:"OPENAI_API_KEY_PREFIX"`
	OpenRouterKeyPrefix string `env:"OPENROUTER_API_KEY_PREFIX"`

	Organization string `env:"OPENAI_ORG"`
	SiteURL      string `env:"OPENROUTER_SITE_URL"`
	Title        string `env:"OPENROUTER_TITLE"`
}

func loadProviderEnv() (providerEnv, error) {
	var e providerEnv
	if err := env.Parse(&e); err != nil {
		return providerEnv{}, fmt.Errorf("parse provider env: %w", err)
	}
	return e, nil
}

// prefersOpenRouter reports whether the environment only points at OpenRouter.
func (e providerEnv) prefersOpenRouter() bool {
	switch {
	case blank(e.OpenAIKey) && !blank(e.OpenRouterKey):
		return true
	case blank(e.OpenAIModel) && !blank(e.OpenRouterModel):
		return true
	case !blank(e.OpenRouterBase) || !blank(e.OpenRouterBaseURL):
		return true
	}
	return isOpenRouterURL(e.OpenAIBase) || isOpenRouterURL(e.OpenAIBaseURL)
}

func preferOpenRouterEnv() bool {
	e, err := loadProviderEnv()
	return err == nil && e.prefersOpenRouter()
}

func PreferOpenRouter() bool { return preferOpenRouterEnv() }

type apiConfig struct {
	Kind         providerKind
	APIKey       string
	Model        string
	BaseURL      string
	HeaderName   string
	HeaderPrefix string
	Organization string
	ExtraHeaders map[string]string
}

func resolveAPIConfig(model string) (apiConfig, error) {
	e, err := loadProviderEnv()
	if err != nil {
		return apiConfig{}, err
	}
	return e.resolve(model)
}

// resolve picks the provider (LLM_PROVIDER, then an OpenRouter base URL,
// then an "openrouter/" model prefix, then the env preference) and fills in
// the request settings for it.
func (e providerEnv) resolve(model string) (apiConfig, error) {
	cfg := apiConfig{Model: strings.TrimSpace(model), ExtraHeaders: map[string]string{}}

	forced, manual := e.forcedKind()
	kind := providerOpenAI
	if e.prefersOpenRouter() {
		kind = providerOpenRouter
	}
	if manual {
		kind = forced
	}

	if cfg.Model == "" {
		if kind == providerOpenRouter {
			cfg.Model = strings.TrimSpace(e.OpenRouterModel)
		}
		cfg.Model = firstNonEmpty(cfg.Model, e.OpenAIModel)
	}
	if cfg.Model == "" {
		return apiConfig{}, errors.New("model missing: set OPENAI_MODEL/OPENROUTER_MODEL or pass a value")
	}
	if !manual && strings.Contains(strings.ToLower(cfg.Model), "openrouter/") {
		kind = providerOpenRouter
	}

	base := firstNonEmpty(e.OpenAIBase, e.OpenAIBaseURL, e.OpenRouterBase, e.OpenRouterBaseURL)
	if base == "" {
		base = openAIBase
		if kind == providerOpenRouter {
			base = openRouterBase
		}
	}
	cfg.BaseURL = strings.TrimRight(base, "/")
	if !manual && isOpenRouterURL(cfg.BaseURL) {
		kind = providerOpenRouter
	}
	cfg.Kind = kind

	if kind == providerOpenRouter {
		cfg.APIKey = firstNonEmpty(e.OpenRouterKey, e.OpenAIKey)
	} else {
		cfg.APIKey = firstNonEmpty(e.OpenAIKey, e.OpenRouterKey)
	}
	if cfg.APIKey == "" {
		return apiConfig{}, errors.New("API key missing: set OPENAI_API_KEY or OPENROUTER_API_KEY")
	}

	cfg.HeaderName = firstNonEmpty(e.OpenAIKeyHeader, e.OpenRouterKeyHeader, "Authorization")
	cfg.HeaderPrefix = e.OpenAIKeyPrefix
	if cfg.HeaderPrefix == "" {
		cfg.HeaderPrefix = e.OpenRouterKeyPrefix
	}
	if cfg.HeaderName == "Authorization" && blank(cfg.HeaderPrefix) {
		cfg.HeaderPrefix = "Bearer "
	}
	cfg.Organization = strings.TrimSpace(e.Organization)

	if kind == providerOpenRouter {
		site := firstNonEmpty(e.SiteURL, defaultSiteURL)
		cfg.ExtraHeaders["HTTP-Referer"] = site
		cfg.ExtraHeaders["Referer"] = site
		cfg.ExtraHeaders["X-Title"] = firstNonEmpty(e.Title, defaultTitle)
	}
	return cfg, nil
}

func (e providerEnv) forcedKind() (providerKind, bool) {
	switch strings.ToLower(strings.TrimSpace(e.Provider)) {
	case "openrouter":
		return providerOpenRouter, true
	case "openai":
		return providerOpenAI, true
	}
	return providerOpenAI, false
}

func isOpenRouterURL(u string) bool {
	return strings.Contains(strings.ToLower(u), "openrouter")
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if !blank(v) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
