package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/intervox/internal/app"
	"github.com/MrWong99/intervox/internal/config"
	"github.com/MrWong99/intervox/internal/delivery"
	"github.com/MrWong99/intervox/internal/evaluate"
	"github.com/MrWong99/intervox/internal/scoring"
	"github.com/MrWong99/intervox/internal/session"
	"github.com/MrWong99/intervox/internal/store"
	storemock "github.com/MrWong99/intervox/internal/store/mock"
	"github.com/MrWong99/intervox/pkg/audio"
	embmock "github.com/MrWong99/intervox/pkg/provider/embeddings/mock"
	"github.com/MrWong99/intervox/pkg/provider/stt"
	sttmock "github.com/MrWong99/intervox/pkg/provider/stt/mock"
)

// ---- fixtures ---------------------------------------------------------------

const rubricJSON = `{
  "backprop": {"ideal_points": {
    "0": ["No understanding shown"],
    "4": ["Backpropagation", "Gradient Descent", "Chain Rule"]
  }}
}`

const questionsJSON = `{"1": {"key": "backprop", "question": "How are neural networks trained?"}}`

const answer = "we use backpropagation to compute the gradients of the loss"

// audioDir is the server.audio_dir of every fixture. Nothing is read from it;
// fakeDecoder serves the files.
var audioDir = filepath.Join(os.TempDir(), "intervox-audio")

// fakeDecoder serves signals from memory keyed by path.
type fakeDecoder map[string]audio.Signal

func (d fakeDecoder) Decode(path string) (audio.Signal, error) {
	sig, ok := d[path]
	if !ok {
		return audio.Signal{}, fmt.Errorf("open %s: %w", path, os.ErrNotExist)
	}
	return sig, nil
}

type fixedAnalyzer struct{}

func (fixedAnalyzer) Analyze(audio.Signal) delivery.Metrics {
	return delivery.Metrics{TempoBPM: 120, Summary: "moderate tempo and minimal pauses"}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogInfo, AudioDir: audioDir},
		Evaluation: config.EvaluationConfig{
			RubricFile:    writeFile(t, dir, "rubric.json", rubricJSON),
			QuestionsFile: writeFile(t, dir, "questions.json", questionsJSON),
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func embedder() *embmock.Provider {
	return &embmock.Provider{
		Vectors: map[string][]float32{
			"backpropagation":  {1, 0, 0},
			"gradient descent": {0, 1, 0},
			"chain rule":       {0, 0, 1},
		},
		Fallback: []float32{1, 0, 0},
	}
}

type fixture struct {
	app   *app.App
	store *storemock.Store
	stt   *sttmock.Provider
	srv   *httptest.Server
}

func newFixture(t *testing.T, opts ...app.Option) *fixture {
	t.Helper()
	f := &fixture{
		store: &storemock.Store{},
		stt:   &sttmock.Provider{Segments: []stt.Segment{{Text: answer}}},
	}
	base := []app.Option{
		app.WithStore(f.store),
		app.WithEvaluatorOptions(
			evaluate.WithDecoder(fakeDecoder{filepath.Join(audioDir, "answer.wav"): {Samples: make([]float32, 2000), SampleRate: 1000}}),
			evaluate.WithAnalyzer(fixedAnalyzer{}),
			evaluate.WithIDGenerator(func() string { return "rec-1" }),
		),
	}
	a, err := app.New(context.Background(), testConfig(t),
		&app.Providers{STT: f.stt, Embeddings: embedder()},
		append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.app = a
	f.srv = httptest.NewServer(a.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, contentType string, body io.Reader) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func (f *fixture) postJSON(t *testing.T, body string) (*http.Response, []byte) {
	t.Helper()
	return f.do(t, http.MethodPost, "/v1/evaluations", "application/json", strings.NewReader(body))
}

func seed(t *testing.T, st *storemock.Store, recs ...store.Record) {
	t.Helper()
	for _, r := range recs {
		if err := st.Save(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}
}

// ---- construction -----------------------------------------------------------

func TestNew_RequiresSTT(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(t), &app.Providers{})
	if !errors.Is(err, evaluate.ErrNoSTT) {
		t.Fatalf("err = %v, want ErrNoSTT", err)
	}
}

func TestNew_DataErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(t *testing.T, cfg *config.Config)
	}{
		{"missing rubric", func(t *testing.T, cfg *config.Config) {
			cfg.Evaluation.RubricFile = filepath.Join(t.TempDir(), "nope.json")
		}},
		{"invalid rubric level", func(t *testing.T, cfg *config.Config) {
			cfg.Evaluation.RubricFile = writeFile(t, t.TempDir(), "r.json", `{"q": {"ideal_points": {"7": ["x"]}}}`)
		}},
		{"missing questions", func(t *testing.T, cfg *config.Config) {
			cfg.Evaluation.QuestionsFile = filepath.Join(t.TempDir(), "nope.json")
		}},
		{"empty vocabulary", func(t *testing.T, cfg *config.Config) {
			cfg.Evaluation.VocabularyFile = writeFile(t, t.TempDir(), "vocab.txt", "# nothing\n")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t)
			tt.mutate(t, cfg)
			_, err := app.New(context.Background(), cfg,
				&app.Providers{STT: &sttmock.Provider{}}, app.WithStore(&storemock.Store{}))
			if err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_FileStoreBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Store.Backend = config.StoreFile
	cfg.Store.FilePath = filepath.Join(t.TempDir(), "data", "records.jsonl")

	a, err := app.New(context.Background(), cfg, &app.Providers{STT: &sttmock.Provider{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Store() == nil {
		t.Fatal("expected file store")
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

// ---- POST /v1/evaluations ---------------------------------------------------

func TestEvaluate_JSON(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp, body := f.postJSON(t, `{"session_id": "s1", "question_id": "backprop", "audio_path": "answer.wav"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var rec store.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.ID != "rec-1" || rec.SessionID != "s1" || rec.Question != "How are neural networks trained?" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Score.Score != 4 {
		t.Errorf("score = %d, want 4", rec.Score.Score)
	}
	if rec.Embedding != nil {
		t.Error("response should not carry the embedding")
	}
	if rec.Delivery.Summary != "moderate tempo and minimal pauses" {
		t.Errorf("delivery = %+v", rec.Delivery)
	}

	saved := f.store.Records()
	if len(saved) != 1 || saved[0].Embedding == nil {
		t.Errorf("stored %d records, embedding kept = %v", len(saved), len(saved) == 1 && saved[0].Embedding != nil)
	}

	calls := f.stt.Calls()
	if len(calls) != 1 || calls[0].Opts.Language != "en" {
		t.Errorf("stt calls = %+v", calls)
	}
}

func TestEvaluate_Multipart(t *testing.T) {
	t.Parallel()

	// Real decoder: the upload lands in a temp file with a random name.
	f := newFixture(t, app.WithEvaluatorOptions(evaluate.WithDecoder(audio.WAVDecoder{})))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("session_id", "s2")
	_ = mw.WriteField("question_id", "backprop")
	fw, err := mw.CreateFormFile("audio", "answer.wav")
	if err != nil {
		t.Fatal(err)
	}
	sig := audio.Signal{Samples: make([]float32, audio.DefaultSampleRate), SampleRate: audio.DefaultSampleRate}
	if _, err := fw.Write(audio.EncodeSignalWAV(sig)); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	resp, body := f.do(t, http.MethodPost, "/v1/evaluations", mw.FormDataContentType(), &buf)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	calls := f.stt.Calls()
	if len(calls) != 1 || len(calls[0].Signal.Samples) != audio.DefaultSampleRate {
		t.Fatalf("stt received %+v", calls)
	}
	if saved := f.store.Records(); len(saved) != 1 || saved[0].SessionID != "s2" {
		t.Errorf("stored = %+v", saved)
	}
}

func TestEvaluate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		sttErr     error
		wantStatus int
	}{
		{"malformed json", `{`, nil, http.StatusBadRequest},
		{"unknown field", `{"audio": "x"}`, nil, http.StatusBadRequest},
		{"missing question", `{"audio_path": "answer.wav"}`, nil, http.StatusBadRequest},
		{"undecodable audio", `{"question_id": "backprop", "audio_path": "missing.wav"}`, nil, http.StatusUnprocessableEntity},
		{"transcription failure", `{"question_id": "backprop", "audio_path": "answer.wav"}`, errors.New("whisper down"), http.StatusBadGateway},
		{"absolute audio path", `{"question_id": "backprop", "audio_path": "/etc/passwd"}`, nil, http.StatusBadRequest},
		{"audio path escapes dir", `{"question_id": "backprop", "audio_path": "../../etc/passwd"}`, nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.stt.TranscribeErr = tt.sttErr

			resp, body := f.postJSON(t, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, tt.wantStatus, body)
			}
			var e map[string]string
			if err := json.Unmarshal(body, &e); err != nil || e["error"] == "" {
				t.Errorf("body = %s, want error object", body)
			}
			if len(f.store.Records()) != 0 {
				t.Error("nothing should be stored")
			}
		})
	}
}

func TestEvaluate_JSONDisabledWithoutAudioDir(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Server.AudioDir = ""
	a, err := app.New(context.Background(), cfg,
		&app.Providers{STT: &sttmock.Provider{Segments: []stt.Segment{{Text: answer}}}, Embeddings: embedder()},
		app.WithStore(&storemock.Store{}),
		app.WithEvaluatorOptions(evaluate.WithDecoder(fakeDecoder{"answer.wav": {Samples: make([]float32, 2000), SampleRate: 1000}})),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/v1/evaluations", "application/json",
		strings.NewReader(`{"question_id": "backprop", "audio_path": "answer.wav"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(string(body), "multipart") {
		t.Errorf("status = %d, body = %s", resp.StatusCode, body)
	}
}

func TestEvaluate_StoreFailureReturnsRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.store.SaveErr = errors.New("disk full")

	resp, body := f.postJSON(t, `{"session_id": "s1", "question_id": "backprop", "audio_path": "answer.wav"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Error  string        `json:"error"`
		Record *store.Record `json:"record"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.Error, "disk full") || out.Record == nil || out.Record.Score.Score != 4 {
		t.Errorf("body = %s", body)
	}
}

// ---- GET /v1/evaluations ----------------------------------------------------

func TestGetEvaluation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	seed(t, f.store, store.Record{ID: "r1", SessionID: "s1", QuestionID: "backprop", Embedding: []float32{1, 0}})

	resp, body := f.do(t, http.MethodGet, "/v1/evaluations/r1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var rec store.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.ID != "r1" || rec.Embedding != nil {
		t.Errorf("record = %+v", rec)
	}

	resp, _ = f.do(t, http.MethodGet, "/v1/evaluations/missing", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing record status = %d, want 404", resp.StatusCode)
	}
}

func TestSimilar(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seed(t, f.store,
		store.Record{ID: "q", QuestionID: "backprop", Embedding: []float32{1, 0}, CreatedAt: t0},
		store.Record{ID: "near", QuestionID: "backprop", Embedding: []float32{0.9, 0.1}, CreatedAt: t0.Add(time.Minute)},
		store.Record{ID: "far", QuestionID: "backprop", Embedding: []float32{0, 1}, CreatedAt: t0.Add(2 * time.Minute)},
		store.Record{ID: "other", QuestionID: "dropout", Embedding: []float32{1, 0}, CreatedAt: t0.Add(3 * time.Minute)},
		store.Record{ID: "plain", QuestionID: "backprop", CreatedAt: t0.Add(4 * time.Minute)},
	)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantIDs    []string
	}{
		{"default k", "/v1/evaluations/q/similar", http.StatusOK, []string{"near", "far"}},
		{"k=1", "/v1/evaluations/q/similar?k=1", http.StatusOK, []string{"near"}},
		{"no embedding", "/v1/evaluations/plain/similar", http.StatusOK, []string{}},
		{"bad k", "/v1/evaluations/q/similar?k=zero", http.StatusBadRequest, nil},
		{"unknown record", "/v1/evaluations/nope/similar", http.StatusNotFound, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodGet, tt.path, "", nil)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, tt.wantStatus, body)
			}
			if tt.wantIDs == nil {
				return
			}
			var matches []store.Match
			if err := json.Unmarshal(body, &matches); err != nil {
				t.Fatal(err)
			}
			ids := []string{}
			for _, m := range matches {
				ids = append(ids, m.Record.ID)
				if m.Record.Embedding != nil {
					t.Error("match should not carry the embedding")
				}
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
			}
		})
	}
}

// ---- GET /v1/sessions/{id}/report -------------------------------------------

func TestReport(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seed(t, f.store,
		store.Record{ID: "a", SessionID: "s1", QuestionID: "backprop", Score: scoring.Result{Score: 2}, Confidence: 0.5, CreatedAt: t0},
		store.Record{ID: "b", SessionID: "s1", QuestionID: "dropout", Score: scoring.Result{Score: 4}, Confidence: 1, CreatedAt: t0.Add(time.Minute)},
		store.Record{ID: "c", SessionID: "s2", QuestionID: "backprop", Score: scoring.Result{Score: 0}, CreatedAt: t0},
	)

	resp, body := f.do(t, http.MethodGet, "/v1/sessions/s1/report", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	var sum session.Summary
	if err := json.Unmarshal(body, &sum); err != nil {
		t.Fatal(err)
	}
	if sum.QuestionsCompleted != 2 || sum.FinalScore != 75 || sum.Recommendation != session.RecommendStrong {
		t.Errorf("summary = %+v", sum)
	}
	if sum.Answers[0].QuestionID != "backprop" || sum.Answers[0].Position != "1" {
		t.Errorf("first answer = %+v, want question 1", sum.Answers[0])
	}

	resp, body = f.do(t, http.MethodGet, "/v1/sessions/s1/report?format=text", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		t.Fatalf("text report status = %d, type = %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(string(body), "Strong Candidate") {
		t.Errorf("text report = %s", body)
	}

	resp, _ = f.do(t, http.MethodGet, "/v1/sessions/nobody/report", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", resp.StatusCode)
	}
}

func TestNoStore(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), &app.Providers{STT: &sttmock.Provider{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	for _, path := range []string{"/v1/sessions/s1/report", "/v1/evaluations/r1", "/v1/evaluations/r1/similar"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, resp.StatusCode)
		}
	}
}

// ---- other endpoints --------------------------------------------------------

func TestQuestions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/v1/questions", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	want := `[{"position":"1","key":"backprop","question":"How are neural networks trained?"}]`
	if strings.TrimSpace(string(body)) != want {
		t.Errorf("body = %s, want %s", body, want)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, body := f.do(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d, body = %s", path, resp.StatusCode, body)
		}
	}
}

func TestResponsesCarryCorrelationID(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Error("X-Correlation-ID header missing")
	}
}

// ---- reload -----------------------------------------------------------------

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	f := newFixture(t, app.WithLogLevel(&level))

	old := testConfig(t)
	next := *old
	next.Server.LogLevel = config.LogDebug
	dir := t.TempDir()
	next.Evaluation.RubricFile = writeFile(t, dir, "rubric2.json", `{"dropout": {"ideal_points": {"4": ["Regularisation"]}}}`)
	next.Evaluation.QuestionsFile = writeFile(t, dir, "questions2.json", `{"1": {"key": "dropout", "question": "What is dropout?"}}`)

	f.app.ApplyConfig(old, &next)

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if _, ok := f.app.Evaluator().Rubric()["dropout"]; !ok {
		t.Errorf("rubric not reloaded: %v", f.app.Evaluator().Rubric())
	}
	if q, ok := f.app.Evaluator().Questions().ByKey("dropout"); !ok || q.Question != "What is dropout?" {
		t.Errorf("questions not reloaded: %v", f.app.Evaluator().Questions())
	}
}

func TestApplyConfig_InvalidRubricKeepsPrevious(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	old := testConfig(t)
	next := *old
	next.Evaluation.RubricFile = writeFile(t, t.TempDir(), "bad.json", `{"q": {"ideal_points": {"9": ["x"]}}}`)

	f.app.ApplyConfig(old, &next)

	if _, ok := f.app.Evaluator().Rubric()["backprop"]; !ok {
		t.Error("previous rubric should be kept")
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := app.SlogLevel(in); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

// ---- lifecycle --------------------------------------------------------------

func TestServeAndShutdown(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.app.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	for range 50 {
		if resp, err = http.Get(url); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never came up: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := f.app.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	// Idempotent.
	if err := f.app.Shutdown(shutdownCtx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}
