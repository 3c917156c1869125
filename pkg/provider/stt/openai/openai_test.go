package openai

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/intervox/pkg/audio"
	"github.com/MrWong99/intervox/pkg/provider/stt"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNew_DefaultModel(t *testing.T) {
	t.Parallel()

	p, err := New("key", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != DefaultModel {
		t.Errorf("model = %q, want %q", p.model, DefaultModel)
	}
}

func TestParseTranscription(t *testing.T) {
	t.Parallel()

	raw := `{"text":"whole","segments":[
		{"text":" Overfitting happens", "start":0, "end":1.5, "avg_logprob":-0.1},
		{"text":" on small data.", "start":1.5, "end":2.25, "avg_logprob":0}
	]}`
	segs, err := parseTranscription(raw, "whole", 3)
	if err != nil {
		t.Fatalf("parseTranscription: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0].Text != "Overfitting happens" || segs[1].End != 2250*time.Millisecond {
		t.Errorf("segments = %+v", segs)
	}
	if want := math.Exp(-0.1); math.Abs(segs[0].Confidence-want) > 1e-9 {
		t.Errorf("Confidence = %v, want %v", segs[0].Confidence, want)
	}
	if segs[1].Confidence != 0 {
		t.Errorf("missing logprob Confidence = %v, want 0", segs[1].Confidence)
	}
}

func TestParseTranscription_TextOnly(t *testing.T) {
	t.Parallel()

	segs, err := parseTranscription(`{"text":" plain "}`, " plain ", 2)
	if err != nil {
		t.Fatalf("parseTranscription: %v", err)
	}
	if len(segs) != 1 || segs[0].Text != "plain" || segs[0].End != 2*time.Second {
		t.Errorf("segments = %+v", segs)
	}

	segs, err = parseTranscription(`{"text":""}`, "", 2)
	if err != nil || segs == nil || len(segs) != 0 {
		t.Errorf("empty text: got %#v, %v", segs, err)
	}

	if _, err := parseTranscription(`{bad`, "", 2); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestTranscribe_AgainstServer(t *testing.T) {
	t.Parallel()

	var gotFields map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotFields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			gotFields[k] = v[0]
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text":     "Keras is a library.",
			"segments": []map[string]any{{"text": " Keras is a library.", "start": 0, "end": 0.5}},
		})
	}))
	t.Cleanup(srv.Close)

	p, err := New("key", "", WithBaseURL(srv.URL+"/v1/"), WithLanguage("en"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sig := audio.Signal{Samples: make([]float32, 8000), SampleRate: 16000}
	segs, err := p.Transcribe(context.Background(), sig, stt.Options{Prompt: "keras"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := stt.Text(segs); got != "Keras is a library." {
		t.Errorf("Text = %q", got)
	}
	want := map[string]string{
		"model":           "whisper-1",
		"response_format": "verbose_json",
		"language":        "en",
		"prompt":          "keras",
	}
	for k, v := range want {
		if gotFields[k] != v {
			t.Errorf("field %s = %q, want %q", k, gotFields[k], v)
		}
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	p, _ := New("key", "", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	sig := audio.Signal{Samples: make([]float32, 160), SampleRate: 16000}
	if _, err := p.Transcribe(context.Background(), sig, stt.Options{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestTranscribe_EmptySignal(t *testing.T) {
	t.Parallel()

	p, _ := New("key", "")
	segs, err := p.Transcribe(context.Background(), audio.Signal{SampleRate: 16000}, stt.Options{})
	if err != nil || segs != nil {
		t.Errorf("got %v, %v; want nil, nil", segs, err)
	}
}
