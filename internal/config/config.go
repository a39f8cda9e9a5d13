// Package config provides the configuration schema and loader for the
// Renovox voice server. Configuration is layered: built-in defaults, then an
// optional YAML file, then environment variable overrides.
package config

// LogLevel controls log verbosity for the Renovox server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Renovox.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	VAD       VADConfig       `yaml:"vad"`
	Guardrail GuardrailConfig `yaml:"guardrail"`
}

// ServerConfig holds network and logging settings for the Renovox server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// CoalesceMS is the outbound event batching window in milliseconds.
	CoalesceMS int `yaml:"coalesce_ms"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig holds upstream API credentials and endpoints. All four
// pipeline stages (STT, LLM, TTS, moderation) currently share the OpenAI
// entry; when the key is empty each stage degrades to a no-op.
type ProvidersConfig struct {
	OpenAI OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig configures the shared OpenAI client.
type OpenAIConfig struct {
	// APIKey authenticates against the API. Usually injected via
	// OPENAI_API_KEY rather than written into the file.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the default API endpoint. Leave empty for the
	// public API.
	BaseURL string `yaml:"base_url"`
}

// PipelineConfig holds per-stage model and format settings.
type PipelineConfig struct {
	// LLMModel is the chat model used for both responses and state
	// extraction (e.g., "gpt-4o-mini").
	LLMModel string `yaml:"llm_model"`

	// LLMTemperature is the sampling temperature for response generation.
	// State extraction always runs at 0.
	LLMTemperature float64 `yaml:"llm_temperature"`

	// STTModel selects the transcription model (e.g., "whisper-1").
	STTModel string `yaml:"stt_model"`

	// STTSampleRate is the expected input PCM sample rate in Hz.
	STTSampleRate int `yaml:"stt_sample_rate"`

	// Language hints transcription. Empty means auto-detect.
	Language string `yaml:"language"`

	// TTSModel selects the synthesis model (e.g., "tts-1").
	TTSModel string `yaml:"tts_model"`

	// TTSVoices maps persona name to provider voice ID. Personas without
	// an entry fall back to the "bob" voice.
	TTSVoices map[string]string `yaml:"tts_voices"`

	// TTSChunkSize is the audio chunk size in bytes for tts_chunk events.
	TTSChunkSize int `yaml:"tts_chunk_size"`
}

// VADConfig holds energy-based voice activity detection thresholds.
type VADConfig struct {
	// SpeechThreshold is the normalized RMS level above which a frame
	// counts as speech.
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// SilenceMS is the trailing silence that ends an utterance.
	SilenceMS int `yaml:"silence_ms"`

	// MinSpeechMS is the minimum accumulated speech for a valid utterance.
	MinSpeechMS int `yaml:"min_speech_ms"`

	// BargeInRMS is the louder threshold required to interrupt the agent
	// while it is speaking.
	BargeInRMS float64 `yaml:"barge_in_rms"`
}

// GuardrailConfig holds content safety settings.
type GuardrailConfig struct {
	// Enabled toggles both the blocklist and the remote moderation pass.
	Enabled bool `yaml:"enabled"`
}

// Default returns a Config populated with the built-in defaults. Loaders
// decode on top of it so unset keys keep their default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8000",
			LogLevel:   LogInfo,
			CoalesceMS: 25,
		},
		Pipeline: PipelineConfig{
			LLMModel:       "gpt-4o-mini",
			LLMTemperature: 0.7,
			STTModel:       "whisper-1",
			STTSampleRate:  16000,
			TTSModel:       "tts-1",
			TTSVoices: map[string]string{
				"bob":   "alloy",
				"alice": "shimmer",
			},
			TTSChunkSize: 4096,
		},
		VAD: VADConfig{
			SpeechThreshold: 0.015,
			SilenceMS:       500,
			MinSpeechMS:     150,
			BargeInRMS:      0.04,
		},
		Guardrail: GuardrailConfig{
			Enabled: true,
		},
	}
}
