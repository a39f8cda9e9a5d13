// Package openai provides an stt.Provider backed by the OpenAI Whisper API.
//
// Browsers deliver raw 16-bit PCM, but Whisper requires a proper audio
// container, so each upload is wrapped in a WAV header first. Near-silent
// buffers are rejected locally before any network call to avoid burning API
// quota on empty recordings.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/renovox/renovox/pkg/audio"
	"github.com/renovox/renovox/pkg/audio/wav"
	"github.com/renovox/renovox/pkg/provider/stt"
)

// Compile-time assertion that Provider satisfies the stt interface.
var _ stt.Provider = (*Provider)(nil)

const (
	// silenceRMS is the normalised RMS below which a buffer is treated as
	// silence and skipped without a network call.
	silenceRMS = 0.002

	// requestTimeout bounds one transcription round-trip.
	requestTimeout = 15 * time.Second
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the transcription model. Default: whisper-1.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithSampleRate sets the PCM sample rate of uploaded audio in Hz.
// Default: 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithBaseURL overrides the API base URL. Primarily used in tests to point
// at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements stt.Provider using the OpenAI transcription API.
type Provider struct {
	client     oai.Client
	model      string
	sampleRate int
	baseURL    string
}

// New constructs a Whisper-backed Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	p := &Provider{
		model:      "whisper-1",
		sampleRate: 16000,
	}
	for _, o := range opts {
		o(p)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// Transcribe implements stt.Provider. The PCM buffer is wrapped in a WAV
// container before upload. Timeouts and backend failures return an empty
// transcript with the error for logging; the caller degrades gracefully.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, language string) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	if audio.RMS(pcm) < silenceRMS {
		slog.Debug("stt: skipping near-silent buffer", "bytes", len(pcm))
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	wavBytes := wav.Encode(pcm, p.sampleRate, 1)
	params := oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(p.model),
		File:  oai.File(bytes.NewReader(wavBytes), "audio.wav", "audio/wav"),
	}
	if language != "" {
		params.Language = oai.String(language)
	}

	start := time.Now()
	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: transcribe: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	slog.Info("stt: transcribed",
		"ms", time.Since(start).Milliseconds(),
		"chars", len(text),
	)
	return text, nil
}
