// Command felixd is the real-time voice assistant server: it loads
// configuration, wires the configured providers behind circuit breakers,
// and serves the WebSocket and HTTP surfaces described by the protocol.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/wspotter/felix/internal/auth"
	"github.com/wspotter/felix/internal/config"
	"github.com/wspotter/felix/internal/connmanager"
	"github.com/wspotter/felix/internal/health"
	"github.com/wspotter/felix/internal/httpapi"
	"github.com/wspotter/felix/internal/observe"
	"github.com/wspotter/felix/internal/pipeline"
	"github.com/wspotter/felix/internal/tools"
	"github.com/wspotter/felix/internal/tools/knowledge"
	"github.com/wspotter/felix/internal/tools/mcpbridge"
	"github.com/wspotter/felix/internal/wsserver"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "felixd: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "felixd: %v\n", err)
		}
		return 1
	}

	logs := httpapi.NewLogBuffer(200)
	logger := newLogger(cfg.Server.LogLevel, logs)
	slog.SetDefault(logger)

	slog.Info("felixd starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "felix",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	ps, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	toolRegistry := tools.NewRegistry()
	closeKnowledge, err := wireTools(ctx, cfg, toolRegistry, ps)
	if err != nil {
		slog.Error("failed to wire tools", "err", err)
		return 1
	}
	if closeKnowledge != nil {
		defer closeKnowledge()
	}
	executor := tools.NewExecutor(toolRegistry,
		tools.WithMaxConcurrent(cfg.Tools.MaxConcurrent),
		tools.WithTimeout(cfg.Tools.DefaultTimeout),
	)

	var authStore *auth.Store
	if cfg.Auth.Enabled {
		authStore, err = auth.NewStore(cfg.Persistence.DataDir, cfg.Auth.JWTSigningKey, cfg.Auth.TokenTTL)
		if err != nil {
			slog.Error("failed to initialise auth store", "err", err)
			return 1
		}
	}

	manager := connmanager.New(connmanager.Deps{
		Pipeline: pipeline.Config{
			STT:      ps.stt,
			LLM:      ps.llm,
			TTS:      ps.tts,
			Tools:    toolRegistry,
			Executor: executor,
		},
		VAD:              ps.vad,
		VADConfig:        cfg.VAD,
		Audio:            cfg.Audio,
		Conversation:     cfg.Conversation,
		DataDir:          cfg.Persistence.DataDir,
		SnapshotInterval: cfg.Persistence.SnapshotInterval,
		Metrics:          metrics,
	})
	manager.Start(ctx)
	defer func() {
		if err := manager.Close(); err != nil {
			slog.Warn("connection manager close error", "err", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle(wsserver.Path, wsserver.New(manager))
	httpapi.New(httpapi.Deps{
		Manager:    manager,
		Tools:      toolRegistry,
		TTS:        ps.tts,
		STTLabel:   backendLabel(cfg.Providers.STT),
		TTSLabel:   backendLabel(cfg.Providers.TTS),
		LLMLabel:   backendLabel(cfg.Providers.LLM),
		Auth:       authStore,
		AuthConfig: cfg.Auth,
		Logs:       logs,
	}).Register(mux)
	health.New(health.Checker{
		Name: "connection_manager",
		Check: func(context.Context) error {
			return nil
		},
	}).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	printStartupSummary(cfg, ps)

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serveErrCh:
		if err != nil {
			slog.Error("http server error", "err", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

// backendLabel renders a provider entry as the human-readable summary
// GET /health reports, e.g. "ollama (llama3.1)".
func backendLabel(e config.ProviderEntry) string {
	if e.Name == "" {
		return ""
	}
	if e.Model == "" {
		return e.Name
	}
	return fmt.Sprintf("%s (%s)", e.Name, e.Model)
}

// wireTools connects the knowledge_search tool (when memory.postgres_dsn is
// set) and every configured MCP server's tools into registry. The returned
// close func releases the pgvector connection pool, if one was opened; nil
// if none was needed.
func wireTools(ctx context.Context, cfg *config.Config, registry *tools.Registry, ps *providers) (func(), error) {
	var closeFn func()

	if cfg.Memory.PostgresDSN != "" {
		if ps.embeddings == nil {
			slog.Warn("memory.postgres_dsn is set but no embeddings provider is configured — knowledge_search disabled")
		} else {
			pool, err := pgxpool.New(ctx, cfg.Memory.PostgresDSN)
			if err != nil {
				return nil, fmt.Errorf("connect to knowledge store: %w", err)
			}
			idx := knowledge.NewIndex(pool, ps.embeddings)
			if err := registry.Register(knowledge.Tool(idx)); err != nil {
				pool.Close()
				return nil, fmt.Errorf("register knowledge_search tool: %w", err)
			}
			closeFn = pool.Close
			slog.Info("knowledge_search tool registered", "dimensions", cfg.Memory.EmbeddingDimensions)
		}
	}

	if len(cfg.MCP.Servers) > 0 {
		bridge := mcpbridge.New("felix", version)
		for _, server := range cfg.MCP.Servers {
			transport := mcpbridge.TransportStdio
			if server.Transport == config.TransportStreamableHTTP {
				transport = mcpbridge.TransportStreamableHTTP
			}
			specs, err := bridge.Connect(ctx, mcpbridge.ServerConfig{
				Name:      server.Name,
				Transport: transport,
				Command:   server.Command,
				Env:       server.Env,
				URL:       server.URL,
			})
			if err != nil {
				slog.Warn("mcp server connection failed — its tools are unavailable", "server", server.Name, "err", err)
				continue
			}
			for _, spec := range specs {
				if err := registry.Register(spec); err != nil {
					slog.Warn("failed to register mcp tool", "server", server.Name, "tool", spec.Name, "err", err)
				}
			}
			slog.Info("mcp server connected", "server", server.Name, "tools", len(specs))
		}
	}

	return closeFn, nil
}

// printStartupSummary logs the resolved provider configuration once at
// startup, so an operator can see at a glance what felix is backed by.
func printStartupSummary(cfg *config.Config, ps *providers) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║            felix — startup            ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model, ps.llm != nil)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model, ps.stt != nil)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model, ps.tts != nil)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model, ps.embeddings != nil)
	printProvider("VAD", cfg.Providers.VAD.Name, "", ps.vad != nil)
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.MCP.Servers))
	fmt.Printf("║  Auth enabled    : %-19t ║\n", cfg.Auth.Enabled)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string, ready bool) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else {
		if model != "" {
			value = name + " / " + model
		}
		if !ready {
			value += " [FAILED]"
		}
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// newLogger builds the process-wide slog.Logger, tapping every record into
// logs so it surfaces via GET /api/admin/logs.
func newLogger(level config.LogLevel, logs *httpapi.LogBuffer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(httpapi.NewCapturingHandler(base, logs))
}
