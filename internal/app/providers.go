package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/MrWong99/intervox/internal/config"
	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/internal/resilience"
	"github.com/MrWong99/intervox/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/intervox/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/intervox/pkg/provider/embeddings/openai"
	"github.com/MrWong99/intervox/pkg/provider/stt"
	"github.com/MrWong99/intervox/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/intervox/pkg/provider/stt/openai"
	"github.com/MrWong99/intervox/pkg/provider/stt/whisper"
)

// embeddingCacheSize bounds the vectors cached per embeddings backend. Each
// backend caches separately because vectors of different models do not mix.
const embeddingCacheSize = 4096

// Providers holds the capability handles the evaluator runs on. Nil means the
// capability is not configured.
type Providers struct {
	STT        stt.Provider
	Embeddings embeddings.Provider

	// availability reports per capability whether any backend is usable.
	// Filled by [BuildProviders] for readiness checks.
	availability map[string]func() bool

	closers []func() error
}

// Close releases provider resources such as loaded native models.
func (p *Providers) Close() error {
	var errs []error
	for _, c := range p.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RegisterBuiltinProviders wires every built-in provider factory into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptString("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if d := entry.OptDuration("timeout", 0); d > 0 {
			opts = append(opts, whisper.WithTimeout(d))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptString("model_path", "")
		}
		var opts []whisper.NativeOption
		if lang := entry.OptString("language", ""); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptString("language", ""); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if kws := keywords(entry.OptMap("keywords")); len(kws) > 0 {
			opts = append(opts, deepgram.WithKeywords(kws...))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.OptString("language", ""); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		if d := entry.OptDuration("timeout", 0); d > 0 {
			opts = append(opts, oastt.WithTimeout(d))
		}
		if n := entry.OptInt("max_retries", -1); n >= 0 {
			opts = append(opts, oastt.WithMaxRetries(n))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptString("organization", ""); org != "" {
			opts = append(opts, oaembed.WithOrganization(org))
		}
		if dims := entry.OptInt("dimensions", 0); dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		if n := entry.OptInt("max_retries", -1); n >= 0 {
			opts = append(opts, oaembed.WithMaxRetries(n))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := entry.OptInt("dimensions", 0); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		if d := entry.OptDuration("timeout", 0); d > 0 {
			opts = append(opts, ollamaembed.WithTimeout(d))
		}
		if ka := entry.OptString("keep_alive", ""); ka != "" {
			opts = append(opts, ollamaembed.WithKeepAlive(ka))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})
}

// BuildProviders instantiates the providers named in cfg using reg. Every
// configured capability is wrapped in a fallback group, so primary and
// fallbacks each get their own circuit breaker. Each embeddings backend is
// fronted by an [embeddings.Cache]. metrics may be nil.
func BuildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*Providers, error) {
	ps := &Providers{availability: map[string]func() bool{}}

	if primary := cfg.Providers.STT; primary.Name != "" {
		p, err := create(ps, "stt", primary, reg.CreateSTT)
		if err != nil {
			return nil, err
		}
		group := resilience.NewSTTFallback(p, primary.Name, fallbackConfig("stt", metrics))
		for _, fb := range cfg.Providers.STTFallbacks {
			p, err := create(ps, "stt", fb, reg.CreateSTT)
			if err != nil {
				return nil, err
			}
			group.AddFallback(fb.Name, p)
		}
		ps.STT = group
		ps.availability["stt"] = group.Available
	}

	if primary := cfg.Providers.Embeddings; primary.Name != "" {
		p, err := create(ps, "embeddings", primary, reg.CreateEmbeddings)
		if err != nil {
			return nil, err
		}
		group := resilience.NewEmbeddingsFallback(embeddings.NewCache(p, embeddingCacheSize), primary.Name, fallbackConfig("embeddings", metrics))
		for _, fb := range cfg.Providers.EmbeddingsFallbacks {
			p, err := create(ps, "embeddings", fb, reg.CreateEmbeddings)
			if err != nil {
				return nil, err
			}
			group.AddFallback(fb.Name, embeddings.NewCache(p, embeddingCacheSize))
		}
		ps.Embeddings = group
		ps.availability["embeddings"] = group.Available
	}

	return ps, nil
}

// create builds one provider, registering it for Close when it holds
// resources.
func create[T any](ps *Providers, kind string, entry config.ProviderEntry, factory func(config.ProviderEntry) (T, error)) (T, error) {
	p, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("app: create %s provider %q: %w", kind, entry.Name, err)
	}
	if c, ok := any(p).(io.Closer); ok {
		ps.closers = append(ps.closers, c.Close)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

func fallbackConfig(kind string, metrics *observe.Metrics) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		Kind:    kind,
		Metrics: metrics,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("circuit breaker state changed", "kind", kind, "provider", name, "from", from.String(), "to", to.String())
			},
		},
	}
}

// keywords converts the deepgram "keywords" option ({term: boost}) into
// boost entries.
func keywords(m map[string]any) []deepgram.Keyword {
	var out []deepgram.Keyword
	for term, v := range m {
		kw := deepgram.Keyword{Term: term}
		switch b := v.(type) {
		case int:
			kw.Boost = float64(b)
		case float64:
			kw.Boost = b
		}
		out = append(out, kw)
	}
	slices.SortFunc(out, func(a, b deepgram.Keyword) int { return strings.Compare(a.Term, b.Term) })
	return out
}
