package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/wspotter/felix/internal/config"
	"github.com/wspotter/felix/internal/resilience"
	"github.com/wspotter/felix/pkg/provider/embeddings"
	embollama "github.com/wspotter/felix/pkg/provider/embeddings/ollama"
	embopenai "github.com/wspotter/felix/pkg/provider/embeddings/openai"
	"github.com/wspotter/felix/pkg/provider/llm"
	"github.com/wspotter/felix/pkg/provider/llm/anyllm"
	llmopenai "github.com/wspotter/felix/pkg/provider/llm/openai"
	"github.com/wspotter/felix/pkg/provider/stt"
	"github.com/wspotter/felix/pkg/provider/stt/whisper"
	"github.com/wspotter/felix/pkg/provider/tts"
	"github.com/wspotter/felix/pkg/provider/tts/coqui"
	"github.com/wspotter/felix/pkg/provider/tts/elevenlabs"
	"github.com/wspotter/felix/pkg/provider/vad"
	"github.com/wspotter/felix/pkg/provider/vad/energy"
)

// anyllmBackends maps a config provider name to the any-llm-go backend
// identifier it should be dialed as. "openai" and "lmstudio" go through
// llmopenai directly since felix vendors a dedicated adapter for it;
// everything else rides any-llm-go's unified client.
var anyllmBackends = map[string]string{
	"anthropic": "anthropic",
	"gemini":    "gemini",
	"ollama":    "ollama",
	"deepseek":  "deepseek",
	"mistral":   "mistral",
	"groq":      "groq",
}

// registerBuiltinProviders wires every provider factory felix ships with
// into reg, keyed by the name a config.yaml's providers block selects.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(e.BaseURL))
		}
		return llmopenai.New(e.APIKey, e.Model, opts...)
	})
	reg.RegisterLLM("lmstudio", func(e config.ProviderEntry) (llm.Provider, error) {
		baseURL := e.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:1234/v1"
		}
		return llmopenai.New(e.APIKey, e.Model, llmopenai.WithBaseURL(baseURL))
	})
	for name, backend := range anyllmBackends {
		backend := backend
		reg.RegisterLLM(name, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(backend, e.Model, opts...)
		})
	}

	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		return whisper.New(e.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})
	reg.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if d, ok := durationOption(e, "timeout"); ok {
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(e.BaseURL, opts...)
	})

	reg.RegisterEmbeddings("openai", func(e config.ProviderEntry) (embeddings.Provider, error) {
		var opts []embopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, embopenai.WithBaseURL(e.BaseURL))
		}
		return embopenai.New(e.APIKey, e.Model, opts...)
	})
	reg.RegisterEmbeddings("ollama", func(e config.ProviderEntry) (embeddings.Provider, error) {
		baseURL := e.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return embollama.New(baseURL, e.Model)
	})

	reg.RegisterVAD("energy", func(e config.ProviderEntry) (vad.Engine, error) {
		eng := &energy.Engine{}
		if decay, ok := e.Options["noise_floor_decay"].(float64); ok {
			eng.NoiseFloorDecay = decay
		}
		return eng, nil
	})
}

// durationOption reads a YAML-friendly duration string out of a provider
// entry's options map (e.g. "5s"), used by factories whose Option type
// takes a time.Duration the config schema otherwise has no typed field for.
func durationOption(e config.ProviderEntry, key string) (time.Duration, bool) {
	raw, ok := e.Options[key].(string)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("ignoring invalid duration option", "key", key, "value", raw, "err", err)
		return 0, false
	}
	return d, true
}

// providers holds the fully constructed, resilience-wrapped provider set
// the Connection Manager drives each session's pipeline with.
type providers struct {
	llm        llm.Provider
	stt        stt.Provider
	tts        tts.Provider
	embeddings embeddings.Provider
	vad        vad.Engine
}

// buildProviders instantiates every provider named in cfg via reg, wraps
// each in the matching resilience fallback type (circuit-breaker protected,
// even with no secondary fallback configured — felix's schema has only one
// provider slot per kind), and reports which kinds were skipped because
// no factory covers the configured name.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providers, error) {
	ps := &providers{}
	fbCfg := resilience.FallbackConfig{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("llm provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.llm = resilience.NewLLMFallback(p, name, fbCfg)
			slog.Info("provider created", "kind", "llm", "name", name, "model", cfg.Providers.LLM.Model)
		}
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("stt provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		} else {
			ps.stt = resilience.NewSTTFallback(p, name, fbCfg)
			slog.Info("provider created", "kind", "stt", "name", name)
		}
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("tts provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		} else {
			ps.tts = resilience.NewTTSFallback(p, name, fbCfg)
			slog.Info("provider created", "kind", "tts", "name", name)
		}
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("embeddings provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		} else {
			ps.embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", name)
		}
	}

	if name := cfg.Providers.VAD.Name; name != "" {
		p, err := reg.CreateVAD(cfg.Providers.VAD)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("vad provider not registered — skipping", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create vad provider %q: %w", name, err)
		} else {
			ps.vad = p
			slog.Info("provider created", "kind", "vad", "name", name)
		}
	}
	if ps.vad == nil {
		slog.Warn("no vad provider configured — defaulting to the energy classifier")
		ps.vad = &energy.Engine{}
	}

	return ps, nil
}
