package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/iabetor/narrator/internal/config"
	"github.com/iabetor/narrator/internal/database"
	"github.com/iabetor/narrator/internal/narrate"
	"github.com/iabetor/narrator/internal/segment"
	"github.com/iabetor/narrator/internal/tts"
	"github.com/iabetor/narrator/internal/voice"
)

const testRate = 1000

type testServer struct {
	app    *fiber.App
	engine *tts.MockEngine
	cfg    *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	cfg.Audio.SampleRate = testRate
	crossfade := 0.05
	cfg.Audio.CrossfadeDuration = &crossfade
	cfg.Storage.OutputDir = filepath.Join(t.TempDir(), "out")
	cfg.Storage.TempDir = filepath.Join(t.TempDir(), "tmp")

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	catalog, err := voice.NewCatalog(ctx, db, nil)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	jobs := narrate.NewJobStore(db)
	seg := segment.NewSegmenter(segment.Options{}, nil)
	engine := tts.NewMockEngine(testRate)

	proc, err := narrate.NewProcessor(cfg, narrate.Deps{
		Segmenter: seg,
		Engine:    engine,
		Catalog:   catalog,
		Jobs:      jobs,
	})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}

	h := NewHandler(Options{
		Processor: proc,
		Segmenter: seg,
		Catalog:   catalog,
		Jobs:      jobs,
		Storage:   cfg.Storage,
	})
	return &testServer{app: NewApp(cfg.Server, h), engine: engine, cfg: cfg}
}

func (s *testServer) do(t *testing.T, req *http.Request) (int, []byte) {
	t.Helper()
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, body
}

func (s *testServer) doJSON(t *testing.T, method, path string, payload any) (int, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.do(t, req)
}

func uploadRequest(t *testing.T, path, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	io.WriteString(part, content)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("Unmarshal %s: %v", body, err)
	}
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	code, body := s.doJSON(t, http.MethodGet, "/health", nil)
	if code != fiber.StatusOK || !strings.Contains(string(body), "healthy") {
		t.Fatalf("got %d %s", code, body)
	}
}

func TestVoices(t *testing.T) {
	s := newTestServer(t)

	code, body := s.doJSON(t, http.MethodGet, "/voices", nil)
	if code != fiber.StatusOK {
		t.Fatalf("list: %d %s", code, body)
	}
	if voices := decode[[]voiceInfo](t, body); len(voices) != 4 {
		t.Fatalf("expected 4 builtin voices, got %d", len(voices))
	}

	code, _ = s.doJSON(t, http.MethodGet, "/voices/nobody", nil)
	if code != fiber.StatusNotFound {
		t.Errorf("unknown voice: got %d", code)
	}

	code, body = s.doJSON(t, http.MethodPost, "/voices", map[string]any{
		"id": "calm", "name": "Calm", "model": "en-US-DavisNeural", "speed": 0.95,
	})
	if code != fiber.StatusCreated {
		t.Fatalf("add: %d %s", code, body)
	}
	if v := decode[voiceInfo](t, body); v.Speed != 0.95 || v.Pitch != 1.0 || v.Builtin {
		t.Errorf("unexpected stored voice %+v", v)
	}

	code, _ = s.doJSON(t, http.MethodPost, "/voices", map[string]any{"id": "bad", "name": "Bad", "model": "m", "speed": 9})
	if code != fiber.StatusBadRequest {
		t.Errorf("invalid speed: got %d", code)
	}
	code, _ = s.doJSON(t, http.MethodPost, "/voices", map[string]any{"id": "narrator", "name": "Mine", "model": "m"})
	if code != fiber.StatusConflict {
		t.Errorf("overwrite builtin: got %d", code)
	}

	code, _ = s.doJSON(t, http.MethodPost, "/voices/calm/set-default", nil)
	if code != fiber.StatusOK {
		t.Errorf("set-default: got %d", code)
	}
	code, body = s.doJSON(t, http.MethodGet, "/voices/calm", nil)
	if v := decode[voiceInfo](t, body); code != fiber.StatusOK || !v.IsDefault {
		t.Errorf("calm should be default: %d %+v", code, v)
	}

	code, _ = s.doJSON(t, http.MethodDelete, "/voices/narrator", nil)
	if code != fiber.StatusConflict {
		t.Errorf("delete builtin: got %d", code)
	}
	code, _ = s.doJSON(t, http.MethodDelete, "/voices/calm", nil)
	if code != fiber.StatusNoContent {
		t.Errorf("delete custom: got %d", code)
	}
	code, _ = s.doJSON(t, http.MethodGet, "/voices/calm", nil)
	if code != fiber.StatusNotFound {
		t.Errorf("deleted voice still present: got %d", code)
	}
}

func TestTTSText(t *testing.T) {
	s := newTestServer(t)

	code, body := s.doJSON(t, http.MethodPost, "/tts/text", map[string]any{
		"text": "Hello there. This is a short story.", "filename": "greeting",
	})
	if code != fiber.StatusOK {
		t.Fatalf("tts/text: %d %s", code, body)
	}
	res := decode[ttsResponse](t, body)
	if !res.Success || res.JobID == "" || res.Segments != 1 || len(res.AudioURLs) != 1 {
		t.Fatalf("unexpected response %+v", res)
	}
	if !strings.HasPrefix(res.Filenames[0], "greeting_") {
		t.Errorf("filename = %q", res.Filenames[0])
	}

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, res.AudioURLs[0], nil), -1)
	if err != nil {
		t.Fatalf("GET audio: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Errorf("audio: %d, %d bytes", resp.StatusCode, len(data))
	}
	if ct := resp.Header.Get(fiber.HeaderContentType); ct != "audio/wav" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestTTSText_PadSeconds(t *testing.T) {
	s := newTestServer(t)
	text := "Hello there. This is a short story."

	code, body := s.doJSON(t, http.MethodPost, "/tts/text", map[string]any{"text": text})
	if code != fiber.StatusOK {
		t.Fatalf("tts/text: %d %s", code, body)
	}
	plain := decode[ttsResponse](t, body)

	code, body = s.doJSON(t, http.MethodPost, "/tts/text", map[string]any{"text": text, "pad_seconds": 0.25})
	if code != fiber.StatusOK {
		t.Fatalf("tts/text with pad: %d %s", code, body)
	}
	padded := decode[ttsResponse](t, body)
	if diff := padded.Duration - plain.Duration; math.Abs(diff-0.5) > 1e-9 {
		t.Errorf("padding added %.4fs, want 0.5s", diff)
	}
}

func TestTTSText_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		fail    bool
		want    int
	}{
		{"empty text", map[string]any{"text": "   "}, false, fiber.StatusBadRequest},
		{"unknown voice", map[string]any{"text": "Hello.", "voice_id": "nobody"}, false, fiber.StatusNotFound},
		{"speed without dsp", map[string]any{"text": "Hello.", "speed": 1.4}, false, fiber.StatusNotImplemented},
		{"negative pad", map[string]any{"text": "Hello.", "pad_seconds": -1}, false, fiber.StatusBadRequest},
		{"backend failure", map[string]any{"text": "Hello."}, true, fiber.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			if tt.fail {
				s.engine.Fail = map[int]error{0: errors.New("backend down")}
			}
			code, body := s.doJSON(t, http.MethodPost, "/tts/text", tt.payload)
			if code != tt.want {
				t.Fatalf("got %d %s, want %d", code, body, tt.want)
			}
			if !strings.Contains(string(body), `"error"`) {
				t.Errorf("missing error field: %s", body)
			}
		})
	}

	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/tts/text", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	if code, _ := s.do(t, req); code != fiber.StatusBadRequest {
		t.Errorf("malformed json: got %d", code)
	}
}

func TestTTSFile(t *testing.T) {
	s := newTestServer(t)

	req := uploadRequest(t, "/tts/file", "chapter one.txt", "Once upon a time. The end.", map[string]string{"stitch_audio": "true"})
	code, body := s.do(t, req)
	if code != fiber.StatusOK {
		t.Fatalf("tts/file: %d %s", code, body)
	}
	res := decode[ttsResponse](t, body)
	if len(res.Filenames) != 1 || !strings.HasPrefix(res.Filenames[0], "chapter one_") {
		t.Errorf("unexpected response %+v", res)
	}

	entries, _ := os.ReadDir(s.cfg.Storage.TempDir)
	if len(entries) != 0 {
		t.Errorf("upload not cleaned up: %d entries left", len(entries))
	}

	code, body = s.do(t, uploadRequest(t, "/tts/file", "book.pdf", "%PDF", nil))
	if code != fiber.StatusBadRequest || !strings.Contains(string(body), "unsupported") {
		t.Errorf("pdf: got %d %s", code, body)
	}
	code, _ = s.do(t, uploadRequest(t, "/tts/file", "story.txt", "Hi.", map[string]string{"speed": "fast"}))
	if code != fiber.StatusBadRequest {
		t.Errorf("bad speed: got %d", code)
	}
}

func TestTTSFile_Structured(t *testing.T) {
	s := newTestServer(t)
	doc := `{"segments": [{"text": "First part."}, {"text": "Second part."}]}`
	code, body := s.do(t, uploadRequest(t, "/tts/file", "parts.json", doc, map[string]string{"stitch_audio": "false"}))
	if code != fiber.StatusOK {
		t.Fatalf("tts/file: %d %s", code, body)
	}
	if res := decode[ttsResponse](t, body); res.Segments != 2 || len(res.AudioURLs) != 2 {
		t.Errorf("expected two unstitched outputs, got %+v", res)
	}
}

func TestEstimateAndAnalyze(t *testing.T) {
	s := newTestServer(t)

	code, body := s.doJSON(t, http.MethodPost, "/tts/estimate", map[string]any{"text": strings.Repeat("a", 2500)})
	if code != fiber.StatusOK {
		t.Fatalf("estimate: %d %s", code, body)
	}
	est := decode[map[string]float64](t, body)
	if est["character_count"] != 2500 || est["estimated_segments"] != 2 {
		t.Errorf("unexpected estimate %v", est)
	}

	code, body = s.do(t, uploadRequest(t, "/analyze/file", "notes.md", "One sentence. Two sentences.", nil))
	if code != fiber.StatusOK {
		t.Fatalf("analyze: %d %s", code, body)
	}
	plan := decode[segment.Plan](t, body)
	if plan.Document != "notes.md" || plan.Segments != 1 || plan.Analysis.Sentences != 2 {
		t.Errorf("unexpected plan %+v", plan)
	}
}

func TestGetAudio_NotFound(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/audio/missing.wav", "/audio/..%2F..%2Fetc%2Fpasswd", "/audio/notes.txt"} {
		if code, _ := s.doJSON(t, http.MethodGet, path, nil); code != fiber.StatusNotFound {
			t.Errorf("%s: got %d", path, code)
		}
	}
}

func TestStatus(t *testing.T) {
	s := newTestServer(t)
	s.doJSON(t, http.MethodPost, "/tts/text", map[string]any{"text": "Hello."})

	code, body := s.doJSON(t, http.MethodGet, "/status", nil)
	if code != fiber.StatusOK {
		t.Fatalf("status: %d %s", code, body)
	}
	var st struct {
		Voices     int `json:"voices"`
		Processing struct {
			Completed int `json:"completed_jobs"`
			Failed    int `json:"failed_jobs"`
		} `json:"processing"`
		Recent []narrate.Job `json:"recent_jobs"`
	}
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if st.Voices != 4 || st.Processing.Completed != 1 || len(st.Recent) != 1 {
		t.Errorf("unexpected status %s", body)
	}
	if st.Recent[0].Status != narrate.JobCompleted {
		t.Errorf("recent job status = %q", st.Recent[0].Status)
	}
}

func TestCleanup(t *testing.T) {
	s := newTestServer(t)
	out, tmp := s.cfg.Storage.OutputDir, s.cfg.Storage.TempDir
	for _, dir := range []string{out, tmp} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	write := func(path string) {
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	oldWav := filepath.Join(out, "old.wav")
	newWav := filepath.Join(out, "new.wav")
	write(oldWav)
	write(newWav)
	write(filepath.Join(tmp, "upload.txt"))
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(oldWav, past, past); err != nil {
		t.Fatal(err)
	}

	code, body := s.doJSON(t, http.MethodDelete, "/cleanup", nil)
	if code != fiber.StatusOK {
		t.Fatalf("cleanup: %d %s", code, body)
	}
	if got := decode[map[string]any](t, body)["removed"]; got != float64(2) {
		t.Errorf("removed = %v, want 2", got)
	}
	if _, err := os.Stat(oldWav); !os.IsNotExist(err) {
		t.Error("old output should be removed")
	}
	if _, err := os.Stat(newWav); err != nil {
		t.Error("recent output should be kept")
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&segment.InputError{Msg: "x"}, fiber.StatusBadRequest},
		{&segment.SegmentationError{Msg: "x"}, fiber.StatusBadRequest},
		{voice.ErrNotFound, fiber.StatusNotFound},
		{voice.ErrBuiltin, fiber.StatusConflict},
		{&tts.SynthesisError{Index: 2, Err: errors.New("x")}, fiber.StatusBadGateway},
		{fiber.NewError(fiber.StatusTeapot, "x"), fiber.StatusTeapot},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusOf(tt.err); got != tt.want {
			t.Errorf("statusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
