package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, applies environment
// variable overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults,
// applies environment variable overrides, and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv returns the defaults with environment variable overrides applied,
// for running without a config file.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg fields from environment variables. Unset variables
// leave the corresponding field untouched.
func ApplyEnv(cfg *Config) error {
	var errs []error

	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s %q is not an integer", key, v))
			return
		}
		*dst = n
	}
	setFloat := func(key string, dst *float64) {
		v, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s %q is not a number", key, v))
			return
		}
		*dst = f
	}
	setBool := func(key string, dst *bool) {
		v, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s %q is not a boolean", key, v))
			return
		}
		*dst = b
	}

	setString("OPENAI_API_KEY", &cfg.Providers.OpenAI.APIKey)
	setString("OPENAI_BASE_URL", &cfg.Providers.OpenAI.BaseURL)
	setString("LLM_MODEL", &cfg.Pipeline.LLMModel)
	setFloat("LLM_TEMPERATURE", &cfg.Pipeline.LLMTemperature)
	setString("TTS_MODEL", &cfg.Pipeline.TTSModel)
	setInt("TTS_CHUNK_SIZE", &cfg.Pipeline.TTSChunkSize)
	setInt("STT_SAMPLE_RATE", &cfg.Pipeline.STTSampleRate)
	setFloat("VAD_SPEECH_THRESHOLD", &cfg.VAD.SpeechThreshold)
	setInt("VAD_SILENCE_MS", &cfg.VAD.SilenceMS)
	setInt("WS_COALESCE_MS", &cfg.Server.CoalesceMS)
	setBool("GUARDRAIL_ENABLED", &cfg.Guardrail.Enabled)

	if v, ok := os.LookupEnv("TTS_VOICE_BOB"); ok {
		cfg.Pipeline.TTSVoices["bob"] = v
	}
	if v, ok := os.LookupEnv("TTS_VOICE_ALICE"); ok {
		cfg.Pipeline.TTSVoices["alice"] = v
	}

	return errors.Join(errs...)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.CoalesceMS <= 0 {
		errs = append(errs, fmt.Errorf("server.coalesce_ms %d must be positive", cfg.Server.CoalesceMS))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Pipeline.LLMModel == "" {
		errs = append(errs, errors.New("pipeline.llm_model is required"))
	}
	if cfg.Pipeline.LLMTemperature < 0 || cfg.Pipeline.LLMTemperature > 2 {
		errs = append(errs, fmt.Errorf("pipeline.llm_temperature %.2f is out of range [0, 2]", cfg.Pipeline.LLMTemperature))
	}
	if cfg.Pipeline.STTSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.stt_sample_rate %d must be positive", cfg.Pipeline.STTSampleRate))
	}
	if cfg.Pipeline.TTSChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.tts_chunk_size %d must be positive", cfg.Pipeline.TTSChunkSize))
	}

	if cfg.VAD.SpeechThreshold <= 0 || cfg.VAD.SpeechThreshold >= 1 {
		errs = append(errs, fmt.Errorf("vad.speech_threshold %.4f is out of range (0, 1)", cfg.VAD.SpeechThreshold))
	}
	if cfg.VAD.SilenceMS <= 0 {
		errs = append(errs, fmt.Errorf("vad.silence_ms %d must be positive", cfg.VAD.SilenceMS))
	}
	if cfg.VAD.MinSpeechMS <= 0 {
		errs = append(errs, fmt.Errorf("vad.min_speech_ms %d must be positive", cfg.VAD.MinSpeechMS))
	}
	if cfg.VAD.BargeInRMS < cfg.VAD.SpeechThreshold {
		errs = append(errs, fmt.Errorf("vad.barge_in_rms %.4f must be at least vad.speech_threshold %.4f", cfg.VAD.BargeInRMS, cfg.VAD.SpeechThreshold))
	}

	return errors.Join(errs...)
}
