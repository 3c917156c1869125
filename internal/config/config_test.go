package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/intervox/internal/config"
)

const fullYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  request_timeout: 90s
  audio_dir: /srv/answers
providers:
  stt:
    name: whisper
    base_url: http://localhost:8081
    model: base.en
  stt_fallbacks:
    - name: openai
      api_key: sk-test
  embeddings:
    name: ollama
    model: all-minilm
    options:
      keep_alive: 5m
      dims: 384
evaluation:
  rubric_file: /data/rubric.json
  questions_file: /data/questions.json
  language: en
  prompt: "dropout, overfitting, gradient descent"
  max_audio_seconds: 120
  max_concurrency: 8
store:
  backend: postgres
  postgres_dsn: postgres://localhost/intervox
  embedding_dimensions: 384
`

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Server.RequestTimeout != 90*time.Second {
		t.Errorf("request_timeout = %s", cfg.Server.RequestTimeout)
	}
	if cfg.Server.AudioDir != "/srv/answers" {
		t.Errorf("audio_dir = %q", cfg.Server.AudioDir)
	}
	if cfg.Providers.STT.Name != "whisper" || cfg.Providers.STT.BaseURL != "http://localhost:8081" {
		t.Errorf("stt = %+v", cfg.Providers.STT)
	}
	if len(cfg.Providers.STTFallbacks) != 1 || cfg.Providers.STTFallbacks[0].APIKey != "sk-test" {
		t.Errorf("stt_fallbacks = %+v", cfg.Providers.STTFallbacks)
	}
	if got := cfg.Providers.Embeddings.OptString("keep_alive", ""); got != "5m" {
		t.Errorf("keep_alive = %q", got)
	}
	if got := cfg.Providers.Embeddings.OptInt("dims", 0); got != 384 {
		t.Errorf("dims = %d", got)
	}
	if cfg.Evaluation.MaxAudio() != 2*time.Minute {
		t.Errorf("MaxAudio = %s", cfg.Evaluation.MaxAudio())
	}
	if cfg.Evaluation.MaxConcurrency != 8 {
		t.Errorf("max_concurrency = %d", cfg.Evaluation.MaxConcurrency)
	}
	if cfg.Store.Backend != config.StorePostgres || cfg.Store.EmbeddingDimensions != 384 {
		t.Errorf("store = %+v", cfg.Store)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader("evaluation:\n  rubric_file: rubric.json\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Evaluation.Language != "en" {
		t.Errorf("language = %q", cfg.Evaluation.Language)
	}
	if cfg.Evaluation.MaxAudioSeconds != 180 {
		t.Errorf("max_audio_seconds = %v", cfg.Evaluation.MaxAudioSeconds)
	}
	if cfg.Evaluation.MaxConcurrency != config.DefaultMaxConcurrency {
		t.Errorf("max_concurrency = %d", cfg.Evaluation.MaxConcurrency)
	}
	if cfg.Store.Backend != config.StoreNone {
		t.Errorf("store.backend = %q", cfg.Store.Backend)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("evaluation:\n  rubric_file: r.json\n  rubrik: typo\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadFromReader_ExpandsEnv(t *testing.T) {
	t.Setenv("INTERVOX_TEST_DSN", "postgres://env-host/db")

	yaml := `
evaluation:
  rubric_file: r.json
store:
  backend: postgres
  postgres_dsn: ${INTERVOX_TEST_DSN}
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.PostgresDSN != "postgres://env-host/db" {
		t.Errorf("postgres_dsn = %q", cfg.Store.PostgresDSN)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()

	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}

func TestStoreBackend_IsValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		backend config.StoreBackend
		want    bool
	}{
		{config.StorePostgres, true},
		{config.StoreFile, true},
		{config.StoreNone, true},
		{"sqlite", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := tt.backend.IsValid(); got != tt.want {
			t.Errorf("%q.IsValid() = %v, want %v", tt.backend, got, tt.want)
		}
	}
}

func TestProviderEntry_Options(t *testing.T) {
	t.Parallel()

	e := config.ProviderEntry{Options: map[string]any{
		"language": "de",
		"boost":    2,
		"ratio":    0.5,
		"keywords": map[string]any{"dropout": 2.0},
		"wrong":    []string{"x"},
	}}

	if got := e.OptString("language", "en"); got != "de" {
		t.Errorf("OptString = %q", got)
	}
	if got := e.OptString("missing", "en"); got != "en" {
		t.Errorf("OptString default = %q", got)
	}
	if got := e.OptFloat("boost", 0); got != 2 {
		t.Errorf("OptFloat(int) = %v", got)
	}
	if got := e.OptFloat("ratio", 0); got != 0.5 {
		t.Errorf("OptFloat = %v", got)
	}
	if got := e.OptInt("wrong", 7); got != 7 {
		t.Errorf("OptInt mistyped = %d", got)
	}
	if m := e.OptMap("keywords"); m["dropout"] != 2.0 {
		t.Errorf("OptMap = %v", m)
	}
	if m := e.OptMap("language"); m != nil {
		t.Errorf("OptMap on string = %v, want nil", m)
	}
}
