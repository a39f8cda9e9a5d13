// Package openai provides a moderation.Provider backed by the OpenAI
// moderation API.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/renovox/renovox/pkg/provider/moderation"
)

// Compile-time assertion that Provider satisfies the moderation interface.
var _ moderation.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL. Primarily used in tests.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements moderation.Provider using the OpenAI moderation API.
type Provider struct {
	client  oai.Client
	baseURL string
}

// New constructs an OpenAI moderation Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai moderation: apiKey must not be empty")
	}
	p := &Provider{}
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

// Check implements moderation.Provider. On a flagged response, the highest
// scoring flagged category is reported.
func (p *Provider) Check(ctx context.Context, text string) (moderation.Result, error) {
	resp, err := p.client.Moderations.New(ctx, oai.ModerationNewParams{
		Input: oai.ModerationNewParamsInputUnion{
			OfString: oai.String(text),
		},
	})
	if err != nil {
		return moderation.Result{}, fmt.Errorf("openai moderation: check: %w", err)
	}
	if len(resp.Results) == 0 {
		return moderation.Result{OK: true}, nil
	}

	r := resp.Results[0]
	if !r.Flagged {
		return moderation.Result{OK: true}, nil
	}

	flagged, scores := flaggedCategories(r)
	top := "unknown"
	var conf float64
	if len(flagged) > 0 {
		top = flagged[0]
		conf = scores[top]
	}
	return moderation.Result{
		OK:         false,
		Category:   top,
		Confidence: conf,
		Reason:     "Moderation flagged: " + strings.Join(flagged, ", "),
	}, nil
}

// flaggedCategories returns the flagged category names sorted by descending
// score, plus the score map. The SDK models categories as fixed struct
// fields, so both structs are round-tripped through JSON into maps to keep
// this robust against category additions.
func flaggedCategories(r oai.Moderation) ([]string, map[string]float64) {
	var cats map[string]bool
	var scores map[string]float64

	if data, err := json.Marshal(r.Categories); err == nil {
		json.Unmarshal(data, &cats)
	}
	if data, err := json.Marshal(r.CategoryScores); err == nil {
		json.Unmarshal(data, &scores)
	}

	var flagged []string
	for name, on := range cats {
		if on {
			flagged = append(flagged, name)
		}
	}
	sort.Slice(flagged, func(i, j int) bool {
		if scores[flagged[i]] != scores[flagged[j]] {
			return scores[flagged[i]] > scores[flagged[j]]
		}
		return flagged[i] < flagged[j]
	})
	return flagged, scores
}
