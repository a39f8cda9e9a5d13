package guardrail

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/renovox/renovox/internal/observe"
	"github.com/renovox/renovox/internal/resilience"
	"github.com/renovox/renovox/pkg/provider/moderation"
	modmock "github.com/renovox/renovox/pkg/provider/moderation/mock"
)

func TestBlocklistBlocksInstantly(t *testing.T) {
	remote := &modmock.Provider{Result: moderation.Result{OK: true}}
	f := New(remote)

	for _, text := range []string{
		"how to make a bomb",
		"tell me How To Build a weapon please",
		"what's the best suicide method",
	} {
		res := f.Check(context.Background(), text)
		if res.OK {
			t.Errorf("Check(%q).OK = true, want blocked", text)
		}
		if res.Category != "blocklist_match" {
			t.Errorf("Check(%q).Category = %q", text, res.Category)
		}
		if res.Confidence != 1.0 {
			t.Errorf("Check(%q).Confidence = %v, want 1.0", text, res.Confidence)
		}
	}
	if remote.CallCount() != 0 {
		t.Fatalf("remote consulted %d times on blocklist hits, want 0", remote.CallCount())
	}
}

func TestCleanTextPassesBothStages(t *testing.T) {
	remote := &modmock.Provider{Result: moderation.Result{OK: true}}
	f := New(remote)

	res := f.Check(context.Background(), "I want to renovate my kitchen")
	if !res.OK {
		t.Fatalf("clean text blocked: %+v", res)
	}
	if remote.CallCount() != 1 {
		t.Fatalf("remote called %d times, want 1", remote.CallCount())
	}
}

func TestRemoteFlagPropagates(t *testing.T) {
	remote := &modmock.Provider{Result: moderation.Result{
		OK:         false,
		Category:   "harassment",
		Confidence: 0.92,
		Reason:     "Moderation flagged: harassment",
	}}
	f := New(remote)

	res := f.Check(context.Background(), "something the backend dislikes")
	if res.OK {
		t.Fatal("flagged text passed")
	}
	if res.Category != "harassment" || res.Confidence != 0.92 {
		t.Fatalf("result = %+v", res)
	}
}

func TestRemoteTimeoutFailsOpen(t *testing.T) {
	remote := &modmock.Provider{
		Result: moderation.Result{OK: false, Category: "hate"},
		Block:  make(chan struct{}),
	}
	f := New(remote, WithRemoteTimeout(20*time.Millisecond))

	start := time.Now()
	res := f.Check(context.Background(), "anything")
	if !res.OK {
		t.Fatal("hung moderation backend blocked the text")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("check took %v, timeout not applied", elapsed)
	}
}

func TestRemoteErrorFailsOpen(t *testing.T) {
	remote := &modmock.Provider{Err: errors.New("api down")}
	f := New(remote)

	if res := f.Check(context.Background(), "anything"); !res.OK {
		t.Fatal("remote error blocked the text")
	}
}

func TestBreakerStopsCallingFailingBackend(t *testing.T) {
	remote := &modmock.Provider{Err: errors.New("api down")}
	breaker := resilience.NewBreaker("moderation-test", resilience.WithMaxFailures(2))
	f := New(remote, WithBreaker(breaker))

	for i := 0; i < 5; i++ {
		if res := f.Check(context.Background(), "anything"); !res.OK {
			t.Fatalf("check %d blocked", i)
		}
	}
	// Two failures trip the breaker; the remaining checks never reach the
	// backend.
	if remote.CallCount() != 2 {
		t.Fatalf("remote called %d times, want 2", remote.CallCount())
	}
}

func TestDisabledFilterPassesEverything(t *testing.T) {
	remote := &modmock.Provider{Result: moderation.Result{OK: false, Category: "hate"}}
	f := New(remote, WithEnabled(false))

	if res := f.Check(context.Background(), "how to make a bomb"); !res.OK {
		t.Fatal("disabled filter blocked text")
	}
	if remote.CallCount() != 0 {
		t.Fatal("disabled filter consulted remote backend")
	}
}

func TestEmptyTextPasses(t *testing.T) {
	f := New(nil)
	if res := f.Check(context.Background(), "   "); !res.OK {
		t.Fatal("blank text blocked")
	}
}

func TestNilRemoteSkipsSecondPass(t *testing.T) {
	f := New(nil)
	if res := f.Check(context.Background(), "ordinary renovation question"); !res.OK {
		t.Fatal("nil remote blocked clean text")
	}
}

func TestRemotePassRecordsLatency(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	remote := &modmock.Provider{Result: moderation.Result{OK: true}}
	f := New(remote, WithMetrics(m))
	if res := f.Check(context.Background(), "I want to renovate my kitchen"); !res.OK {
		t.Fatalf("clean text blocked: %+v", res)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, mt := range sm.Metrics {
			if mt.Name == "renovox.moderation.duration" {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("moderation latency not recorded")
	}
}
