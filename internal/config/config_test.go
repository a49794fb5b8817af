package config

import (
	"errors"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "MAX_UPLOAD_SIZE", "LLM_PROVIDER", "LLM_MODEL", "LLM_TIMEOUT", "LLM_STREAM",
		"GROQ_API_KEY", "GROQ_BASE_URL", "ARK_API_KEY", "ARK_ACCESS_KEY", "ARK_SECRET_KEY",
		"REPORT_TEMPERATURE", "REPORT_MAX_TOKENS", "REPORT_MIN_WORDS", "QA_TEMPERATURE", "QA_MAX_TOKENS",
		"CAPTION_BACKEND", "CAPTION_MODEL", "CAPTION_PROMPT", "HF_API_TOKEN",
		"STORE_BACKEND", "REDIS_ADDR", "REDIS_DB", "REDIS_PREFIX",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadMissingGroqKeyIsConfigurationError(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.Key != "GROQ_API_KEY" {
		t.Fatalf("expected GROQ_API_KEY, got %s", cfgErr.Key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != ":8000" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.Server.MaxUploadSize != 50<<20 {
		t.Fatalf("unexpected upload limit %d", cfg.Server.MaxUploadSize)
	}
	if cfg.LLM.Model != "llama-3.3-70b-versatile" {
		t.Fatalf("unexpected model %q", cfg.LLM.Model)
	}
	if cfg.LLM.Timeout != 120*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.LLM.Timeout)
	}
	if cfg.Report.Temperature != 0.25 || cfg.Report.MaxTokens != 1800 || cfg.Report.MinWords != 400 {
		t.Fatalf("unexpected report config %+v", cfg.Report)
	}
	if cfg.QA.Temperature != 0.2 || cfg.QA.MaxTokens != 700 {
		t.Fatalf("unexpected qa config %+v", cfg.QA)
	}
	if cfg.Caption.Backend != CaptionBackendVision {
		t.Fatalf("expected vision caption backend without HF token, got %q", cfg.Caption.Backend)
	}
	if cfg.Caption.Prompt != DefaultCaptionPrompt {
		t.Fatalf("unexpected caption prompt %q", cfg.Caption.Prompt)
	}
	if cfg.Store.Backend != StoreBackendRedis {
		t.Fatalf("unexpected store backend %q", cfg.Store.Backend)
	}
}

func TestLoadBLIPWhenHFTokenPresent(t *testing.T) {
	clearEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("HF_API_TOKEN", "hf-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Caption.Backend != CaptionBackendBLIP {
		t.Fatalf("expected blip backend, got %q", cfg.Caption.Backend)
	}
	if cfg.Caption.Model != "Salesforce/blip-image-captioning-large" {
		t.Fatalf("unexpected caption model %q", cfg.Caption.Model)
	}
	if cfg.Caption.NumBeams != 5 || cfg.Caption.MaxTokens != 200 || cfg.Caption.RepetitionPenalty != 1.2 {
		t.Fatalf("unexpected generation params %+v", cfg.Caption)
	}
}

func TestLoadBLIPWithoutTokenFails(t *testing.T) {
	clearEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("CAPTION_BACKEND", "blip")

	_, err := Load()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Key != "HF_API_TOKEN" {
		t.Fatalf("expected HF_API_TOKEN configuration error, got %v", err)
	}
}

func TestLoadArkAcceptsAccessKeyPair(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_PROVIDER", "ark")
	t.Setenv("ARK_ACCESS_KEY", "ak")
	t.Setenv("ARK_SECRET_KEY", "sk")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.LLM.Provider != ProviderArk {
		t.Fatalf("unexpected provider %q", cfg.LLM.Provider)
	}
}

func TestLoadRejectsInvalidNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("REPORT_MAX_TOKENS", "lots")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric REPORT_MAX_TOKENS")
	}
}

func TestLoadServerConfigAcceptsHostPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "127.0.0.1:9000")

	cfg, err := loadServerConfig()
	if err != nil {
		t.Fatalf("loadServerConfig err: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
}

func TestLoadUnknownStoreBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("STORE_BACKEND", "mongo")

	_, err := Load()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Key != "STORE_BACKEND" {
		t.Fatalf("expected STORE_BACKEND configuration error, got %v", err)
	}
}
