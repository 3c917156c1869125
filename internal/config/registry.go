package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/intervox/pkg/provider/embeddings"
	"github.com/MrWong99/intervox/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned when no factory exists for a
// configured provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is a named set of constructors for one capability.
type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func (f *factories[T]) create(entry ProviderEntry) (T, error) {
	factory, ok := f.m[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q (known: %s)", ErrProviderNotRegistered, f.kind, entry.Name, strings.Join(f.names(), ", "))
	}
	return factory(entry)
}

func (f *factories[T]) names() []string {
	return slices.Sorted(maps.Keys(f.m))
}

// Registry maps provider names to constructors for the speech-to-text and
// embeddings capabilities. It is safe for concurrent use. Registering a name
// twice replaces the earlier factory.
type Registry struct {
	mu         sync.RWMutex
	stt        factories[stt.Provider]
	embeddings factories[embeddings.Provider]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		stt:        factories[stt.Provider]{kind: "stt", m: map[string]Factory[stt.Provider]{}},
		embeddings: factories[embeddings.Provider]{kind: "embeddings", m: map[string]Factory[embeddings.Provider]{}},
	}
}

// RegisterSTT registers a speech-to-text factory under name.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = f
}

// RegisterEmbeddings registers an embeddings factory under name.
func (r *Registry) RegisterEmbeddings(name string, f Factory[embeddings.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings.m[name] = f
}

// CreateSTT builds the speech-to-text provider named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateEmbeddings builds the embeddings provider named by entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.embeddings.create(entry)
}

// STTNames lists the registered speech-to-text providers in sorted order.
func (r *Registry) STTNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.names()
}

// EmbeddingsNames lists the registered embeddings providers in sorted order.
func (r *Registry) EmbeddingsNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.embeddings.names()
}

// The Opt helpers read provider-specific values from [ProviderEntry.Options].
// YAML numbers decode as int or float64, so both are accepted where a number
// is expected. A missing or mistyped key yields def.

// OptString returns the string option key.
func (e ProviderEntry) OptString(key, def string) string {
	if v, ok := e.Options[key].(string); ok {
		return v
	}
	return def
}

// OptFloat returns the numeric option key.
func (e ProviderEntry) OptFloat(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	}
	return def
}

// OptInt returns the integer option key. Fractions are truncated.
func (e ProviderEntry) OptInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// OptDuration returns the option key as a duration. It accepts a Go duration
// string such as "90s" or a plain number of seconds.
func (e ProviderEntry) OptDuration(key string, def time.Duration) time.Duration {
	switch v := e.Options[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int, float64:
		return time.Duration(e.OptFloat(key, 0) * float64(time.Second))
	}
	return def
}

// OptMap returns the nested option key as a map, or nil.
func (e ProviderEntry) OptMap(key string) map[string]any {
	m, _ := e.Options[key].(map[string]any)
	return m
}
