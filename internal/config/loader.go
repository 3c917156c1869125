package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"whisper", "whisper-native", "deepgram", "openai"},
	"embeddings": {"openai", "ollama"},
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load env file %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Relative data file paths are resolved against the directory of
// path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	resolvePaths(cfg, filepath.Dir(path))
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse expands ${VAR} references, decodes strictly and applies defaults.
func parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// resolvePaths makes relative data file paths relative to dir.
func resolvePaths(cfg *Config, dir string) {
	for _, p := range cfg.dataFiles() {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	if cfg.Server.AudioDir != "" && !filepath.IsAbs(cfg.Server.AudioDir) {
		cfg.Server.AudioDir = filepath.Join(dir, cfg.Server.AudioDir)
	}
	if cfg.Store.FilePath != "" && !filepath.IsAbs(cfg.Store.FilePath) {
		cfg.Store.FilePath = filepath.Join(dir, cfg.Store.FilePath)
	}
}

// dataFiles returns pointers to every data file path the config references.
func (c *Config) dataFiles() []*string {
	return []*string{
		&c.Evaluation.RubricFile,
		&c.Evaluation.QuestionsFile,
		&c.Evaluation.VocabularyFile,
		&c.Evaluation.WordlistFile,
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout %s must not be negative", cfg.Server.RequestTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "") != (tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; answers cannot be transcribed")
		if len(cfg.Providers.STTFallbacks) > 0 {
			errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt"))
		}
	}
	if cfg.Providers.Embeddings.Name == "" {
		slog.Warn("providers.embeddings is not configured; relevance scoring will report an error for every answer")
		if len(cfg.Providers.EmbeddingsFallbacks) > 0 {
			errs = append(errs, errors.New("providers.embeddings_fallbacks requires providers.embeddings"))
		}
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", fb.Name)
	}
	for i, fb := range cfg.Providers.EmbeddingsFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.embeddings_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("embeddings", fb.Name)
	}

	// Evaluation
	if cfg.Evaluation.RubricFile == "" {
		errs = append(errs, errors.New("evaluation.rubric_file is required"))
	}
	if cfg.Evaluation.MaxAudioSeconds < 0 {
		errs = append(errs, fmt.Errorf("evaluation.max_audio_seconds %.1f must not be negative", cfg.Evaluation.MaxAudioSeconds))
	}
	if cfg.Evaluation.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("evaluation.max_concurrency %d must not be negative", cfg.Evaluation.MaxConcurrency))
	}

	// Store
	switch b := cfg.Store.Backend; {
	case b != "" && !b.IsValid():
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: postgres, file, none", b))
	case b == StorePostgres && cfg.Store.PostgresDSN == "":
		errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
	case b == StoreFile && cfg.Store.FilePath == "":
		errs = append(errs, errors.New("store.file_path is required when store.backend is file"))
	}
	if cfg.Store.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("store.embedding_dimensions %d must not be negative", cfg.Store.EmbeddingDimensions))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
