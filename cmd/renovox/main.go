// Command renovox is the streaming voice agent server: WebSocket and WebRTC
// transport, energy-based endpointing, and the Bob & Alice renovation
// planning personas.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/renovox/renovox/internal/config"
	"github.com/renovox/renovox/internal/guardrail"
	"github.com/renovox/renovox/internal/health"
	"github.com/renovox/renovox/internal/observe"
	"github.com/renovox/renovox/internal/pipeline"
	"github.com/renovox/renovox/internal/rtc"
	"github.com/renovox/renovox/internal/server"
	"github.com/renovox/renovox/internal/session"
	"github.com/renovox/renovox/pkg/provider/llm"
	oaillm "github.com/renovox/renovox/pkg/provider/llm/openai"
	"github.com/renovox/renovox/pkg/provider/moderation"
	oaimod "github.com/renovox/renovox/pkg/provider/moderation/openai"
	"github.com/renovox/renovox/pkg/provider/stt"
	oaistt "github.com/renovox/renovox/pkg/provider/stt/openai"
	"github.com/renovox/renovox/pkg/provider/tts"
	oaitts "github.com/renovox/renovox/pkg/provider/tts/openai"
)

const version = "2.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional; env vars apply either way)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "renovox: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// Logs go to stderr and, via the fan-out handler, to every connected
	// client's debug console.
	registry := session.NewRegistry()
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Server.LogLevel)})
	slog.SetDefault(slog.New(server.NewLogFanout(inner, registry)))

	slog.Info("renovox starting",
		"version", version,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	sttP, llmP, ttsP, modP, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	guard := guardrail.New(modP, guardrail.WithEnabled(cfg.Guardrail.Enabled))

	runner := pipeline.NewRunner(sttP, llmP, ttsP, guard)
	runner.Model = cfg.Pipeline.LLMModel
	runner.Temperature = cfg.Pipeline.LLMTemperature
	runner.Language = cfg.Pipeline.Language
	runner.Coalesce = time.Duration(cfg.Server.CoalesceMS) * time.Millisecond
	runner.Voices = tts.VoiceMap(cfg.Pipeline.TTSVoices)
	if v, ok := cfg.Pipeline.TTSVoices["bob"]; ok {
		runner.DefaultVoice = v
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	configured := cfg.Providers.OpenAI.APIKey != ""
	healthH := health.New(
		health.ProviderProbe("openai", func() bool { return configured }),
	)

	srv := server.New(cfg, runner, registry,
		server.WithPeerManager(rtc.NewManager()),
		server.WithHealth(healthH),
	)

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down")
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildProviders constructs the four OpenAI-backed pipeline stages. With no
// API key configured every stage stays nil and the pipeline degrades to
// transport-only operation.
func buildProviders(cfg *config.Config) (stt.Provider, llm.Provider, tts.Provider, moderation.Provider, error) {
	apiKey := cfg.Providers.OpenAI.APIKey
	if apiKey == "" {
		slog.Warn("OPENAI_API_KEY not set — transcription, responses, synthesis and moderation are disabled")
		return nil, nil, nil, nil, nil
	}
	baseURL := cfg.Providers.OpenAI.BaseURL

	var sttOpts []oaistt.Option
	sttOpts = append(sttOpts, oaistt.WithModel(cfg.Pipeline.STTModel), oaistt.WithSampleRate(cfg.Pipeline.STTSampleRate))
	if baseURL != "" {
		sttOpts = append(sttOpts, oaistt.WithBaseURL(baseURL))
	}
	sttP, err := oaistt.New(apiKey, sttOpts...)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create stt provider: %w", err)
	}

	var llmOpts []oaillm.Option
	if baseURL != "" {
		llmOpts = append(llmOpts, oaillm.WithBaseURL(baseURL))
	}
	llmP, err := oaillm.New(apiKey, cfg.Pipeline.LLMModel, llmOpts...)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create llm provider: %w", err)
	}

	var ttsOpts []oaitts.Option
	ttsOpts = append(ttsOpts, oaitts.WithModel(cfg.Pipeline.TTSModel), oaitts.WithChunkSize(cfg.Pipeline.TTSChunkSize))
	if baseURL != "" {
		ttsOpts = append(ttsOpts, oaitts.WithBaseURL(baseURL))
	}
	ttsP, err := oaitts.New(apiKey, ttsOpts...)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create tts provider: %w", err)
	}

	var modOpts []oaimod.Option
	if baseURL != "" {
		modOpts = append(modOpts, oaimod.WithBaseURL(baseURL))
	}
	modP, err := oaimod.New(apiKey, modOpts...)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create moderation provider: %w", err)
	}

	slog.Info("providers created", "kind", "openai",
		"llm_model", cfg.Pipeline.LLMModel,
		"stt_model", cfg.Pipeline.STTModel,
		"tts_model", cfg.Pipeline.TTSModel,
	)
	return sttP, llmP, ttsP, modP, nil
}

func logLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
