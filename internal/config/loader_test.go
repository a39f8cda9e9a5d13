package config_test

import (
	"strings"
	"testing"

	"github.com/renovox/renovox/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty config should load defaults, got: %v", err)
	}
	if cfg.Server.ListenAddr != ":8000" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Pipeline.LLMModel != "gpt-4o-mini" || cfg.Pipeline.LLMTemperature != 0.7 {
		t.Errorf("llm defaults = %q %.2f", cfg.Pipeline.LLMModel, cfg.Pipeline.LLMTemperature)
	}
	if cfg.Pipeline.TTSVoices["bob"] != "alloy" || cfg.Pipeline.TTSVoices["alice"] != "shimmer" {
		t.Errorf("tts voices = %v", cfg.Pipeline.TTSVoices)
	}
	if cfg.VAD.SpeechThreshold != 0.015 || cfg.VAD.SilenceMS != 500 {
		t.Errorf("vad defaults = %+v", cfg.VAD)
	}
	if !cfg.Guardrail.Enabled {
		t.Error("guardrail should default to enabled")
	}
	if cfg.Server.CoalesceMS != 25 {
		t.Errorf("coalesce_ms = %d", cfg.Server.CoalesceMS)
	}
}

func TestFileOverridesDefaults(t *testing.T) {
	yaml := `
server:
  listen_addr: ":9090"
  log_level: debug
pipeline:
  llm_model: gpt-4o
  tts_voices:
    alice: nova
guardrail:
  enabled: false
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Pipeline.LLMModel != "gpt-4o" {
		t.Errorf("llm_model = %q", cfg.Pipeline.LLMModel)
	}
	// Partial voice maps merge over the defaults.
	if cfg.Pipeline.TTSVoices["alice"] != "nova" || cfg.Pipeline.TTSVoices["bob"] != "alloy" {
		t.Errorf("tts_voices = %v", cfg.Pipeline.TTSVoices)
	}
	if cfg.Guardrail.Enabled {
		t.Error("guardrail.enabled: explicit false was ignored")
	}
}

func TestUnknownKeysRejected(t *testing.T) {
	yaml := `
server:
  listen_address: ":9090"
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("TTS_VOICE_BOB", "onyx")
	t.Setenv("VAD_SILENCE_MS", "800")
	t.Setenv("WS_COALESCE_MS", "50")
	t.Setenv("GUARDRAIL_ENABLED", "false")

	cfg, err := config.FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Providers.OpenAI.APIKey != "sk-test" {
		t.Errorf("api key = %q", cfg.Providers.OpenAI.APIKey)
	}
	if cfg.Pipeline.LLMTemperature != 0.2 {
		t.Errorf("temperature = %.2f", cfg.Pipeline.LLMTemperature)
	}
	if cfg.Pipeline.TTSVoices["bob"] != "onyx" {
		t.Errorf("bob voice = %q", cfg.Pipeline.TTSVoices["bob"])
	}
	if cfg.VAD.SilenceMS != 800 {
		t.Errorf("silence_ms = %d", cfg.VAD.SilenceMS)
	}
	if cfg.Server.CoalesceMS != 50 {
		t.Errorf("coalesce_ms = %d", cfg.Server.CoalesceMS)
	}
	if cfg.Guardrail.Enabled {
		t.Error("guardrail.enabled: env false was ignored")
	}
}

func TestEnvParseErrors(t *testing.T) {
	t.Setenv("VAD_SILENCE_MS", "soon")
	t.Setenv("LLM_TEMPERATURE", "warm")

	_, err := config.FromEnv()
	if err == nil {
		t.Fatal("expected error for malformed env values, got nil")
	}
	if !strings.Contains(err.Error(), "VAD_SILENCE_MS") || !strings.Contains(err.Error(), "LLM_TEMPERATURE") {
		t.Errorf("error should list both bad keys, got: %v", err)
	}
}

func TestValidateRanges(t *testing.T) {
	yaml := `
pipeline:
  llm_temperature: 3.5
vad:
  speech_threshold: 0.5
  barge_in_rms: 0.1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "llm_temperature") {
		t.Errorf("error should mention llm_temperature, got: %v", err)
	}
	if !strings.Contains(err.Error(), "barge_in_rms") {
		t.Errorf("error should mention barge_in_rms, got: %v", err)
	}
}

func TestValidateTLSRequiresBothFiles(t *testing.T) {
	yaml := `
server:
  tls:
    cert_file: /etc/renovox/cert.pem
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for partial TLS config, got nil")
	}
	if !strings.Contains(err.Error(), "key_file") {
		t.Errorf("error should mention key_file, got: %v", err)
	}
}
