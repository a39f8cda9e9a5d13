// Package guardrail implements the two-pass content safety filter applied to
// user transcripts before the LLM and to LLM output before synthesis.
//
// Pass one is a local regex blocklist with zero added latency. Pass two
// consults the remote moderation backend with a short deadline and fails
// open: moderation is advisory, and a slow or broken backend must never
// stall the voice loop. A circuit breaker around the remote pass stops
// calling a backend that keeps failing.
package guardrail

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/renovox/renovox/internal/observe"
	"github.com/renovox/renovox/internal/resilience"
	"github.com/renovox/renovox/pkg/provider/moderation"
)

// remoteTimeout bounds the moderation API call per check.
const remoteTimeout = 2 * time.Second

// blocklistPatterns are scanned case-insensitively against every checked
// text. A hit blocks immediately without consulting the remote backend.
var blocklistPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)\b(how\s+to\s+(make|build|create|synthesize)\s+(a\s+)?(bomb|weapon|poison|drug)s?)\b`),
	regexp.MustCompile(`(?is)\b(kill\s+(yourself|myself|himself|herself|themselves))\b`),
	regexp.MustCompile(`(?is)\b(child\s+(pornography|abuse|exploitation|sexual))\b`),
	regexp.MustCompile(`(?is)\b(self[-\s]harm|suicide\s+method)\b`),
	regexp.MustCompile(`(?is)\b(synthesize\s+(drugs?|methamphetamine|heroin|fentanyl))\b`),
}

// Result is the outcome of a guardrail check.
type Result struct {
	OK         bool
	Category   string
	Confidence float64
	Reason     string
}

// Option is a functional option for configuring a Filter.
type Option func(*Filter)

// WithEnabled toggles the whole filter. Disabled filters pass everything.
// Default: enabled.
func WithEnabled(on bool) Option {
	return func(f *Filter) { f.enabled = on }
}

// WithRemoteTimeout overrides the moderation call deadline. Used in tests.
func WithRemoteTimeout(d time.Duration) Option {
	return func(f *Filter) {
		if d > 0 {
			f.remoteTimeout = d
		}
	}
}

// WithBreaker replaces the circuit breaker guarding the remote pass.
func WithBreaker(b *resilience.Breaker) Option {
	return func(f *Filter) {
		if b != nil {
			f.breaker = b
		}
	}
}

// WithMetrics replaces the metrics instance. Used in tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(f *Filter) {
		if m != nil {
			f.metrics = m
		}
	}
}

// Filter is the two-pass content filter. Safe for concurrent use.
type Filter struct {
	enabled       bool
	remote        moderation.Provider
	remoteTimeout time.Duration
	breaker       *resilience.Breaker
	metrics       *observe.Metrics
}

// New constructs a Filter. remote may be nil, in which case only the
// blocklist pass runs.
func New(remote moderation.Provider, opts ...Option) *Filter {
	f := &Filter{
		enabled:       true,
		remote:        remote,
		remoteTimeout: remoteTimeout,
		breaker:       resilience.NewBreaker("moderation"),
		metrics:       observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Check runs both passes over text. Blocklist hits return immediately;
// remote moderation errors, timeouts and open-breaker rejections all allow
// the text through.
func (f *Filter) Check(ctx context.Context, text string) Result {
	if !f.enabled || strings.TrimSpace(text) == "" {
		return Result{OK: true}
	}

	for _, pat := range blocklistPatterns {
		if pat.MatchString(text) {
			return Result{
				OK:         false,
				Category:   "blocklist_match",
				Confidence: 1.0,
				Reason:     "Content matched safety blocklist",
			}
		}
	}

	if f.remote == nil {
		return Result{OK: true}
	}

	var modRes moderation.Result
	start := time.Now()
	err := f.breaker.Do(func() error {
		callCtx, cancel := context.WithTimeout(ctx, f.remoteTimeout)
		defer cancel()
		var checkErr error
		modRes, checkErr = f.remote.Check(callCtx, text)
		return checkErr
	})
	f.metrics.ModerationDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		// Fail open, moderation is advisory.
		if ctx.Err() == nil {
			slog.Warn("guardrail: moderation unavailable, allowing", "err", err)
		}
		return Result{OK: true}
	}
	if modRes.OK {
		return Result{OK: true}
	}
	return Result{
		OK:         false,
		Category:   modRes.Category,
		Confidence: modRes.Confidence,
		Reason:     modRes.Reason,
	}
}
