// Package openai provides a tts.Provider backed by the OpenAI speech API.
//
// Each sentence is synthesised as a separate request and its MP3 body is
// forwarded in fixed-size chunks, so playback can begin as soon as the first
// sentence's first chunk arrives.
package openai

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/renovox/renovox/pkg/provider/tts"
)

// Compile-time assertion that Provider satisfies the tts interface.
var _ tts.Provider = (*Provider)(nil)

// maxInputChars is the OpenAI speech API input limit per request.
const maxInputChars = 4096

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the speech model. Default: tts-1.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithChunkSize sets the size of audio chunks emitted on the stream.
// Default: 4096 bytes.
func WithChunkSize(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// WithBaseURL overrides the API base URL. Primarily used in tests.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements tts.Provider using the OpenAI speech API.
type Provider struct {
	client    oai.Client
	model     string
	chunkSize int
	baseURL   string
}

// New constructs an OpenAI speech Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	p := &Provider{
		model:     "tts-1",
		chunkSize: 4096,
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

// StreamSpeech implements tts.Provider. Synthesis is sequential per
// sentence; a failed sentence ends the stream early but is not an error at
// this level, so partially spoken turns degrade instead of aborting.
func (p *Provider) StreamSpeech(ctx context.Context, text, voice string) (<-chan []byte, error) {
	sentences := tts.SplitSentences(text)
	if len(sentences) == 0 {
		ch := make(chan []byte)
		close(ch)
		return ch, nil
	}

	ch := make(chan []byte, 8)
	go func() {
		defer close(ch)
		for _, sentence := range sentences {
			if ctx.Err() != nil {
				return
			}
			if !p.synthesizeSentence(ctx, sentence, voice, ch) {
				return
			}
		}
	}()
	return ch, nil
}

// synthesizeSentence streams one sentence's audio into ch. Returns false
// when the stream should end (error or cancellation).
func (p *Provider) synthesizeSentence(ctx context.Context, sentence, voice string, ch chan<- []byte) bool {
	input := sentence
	if len(input) > maxInputChars {
		input = input[:maxInputChars]
	}

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		Input:          input,
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("tts: synthesis failed", "err", err, "voice", voice)
		}
		return false
	}
	defer resp.Body.Close()

	buf := make([]byte, p.chunkSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return false
			}
		}
		if err == io.EOF {
			return true
		}
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("tts: read audio stream", "err", err)
			}
			return false
		}
	}
}
