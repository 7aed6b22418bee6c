package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/reelscan/connectivity"
	"github.com/hazyhaar/reelscan/dbopen"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeFrames stores one file per text; the fake OCR service reads the
// file content back as the recognised text.
func writeFrames(t *testing.T, texts ...string) []string {
	t.Helper()
	dir := t.TempDir()
	var out []string
	for i, txt := range texts {
		p := filepath.Join(dir, fmt.Sprintf("frame_%04d.jpg", i+1))
		if err := os.WriteFile(p, []byte(txt), 0o644); err != nil {
			t.Fatal(err)
		}
		out = append(out, p)
	}
	return out
}

// processImage echoes the decoded image bytes as text.
func processImage(req ImageRequest) (ImageResponse, error) {
	data, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		return ImageResponse{}, err
	}
	return ImageResponse{Text: string(data), Confidence: 0.9, Metrics: Metrics{ProcessingMs: 12}}, nil
}

// correctTexts groups texts case-insensitively; the corrected text is the
// upper-cased key.
func correctTexts(req CorrectionRequest) CorrectionResponse {
	idx := map[string]int{}
	var resp CorrectionResponse
	for _, txt := range req.Texts {
		key := strings.ToLower(txt)
		i, ok := idx[key]
		if !ok {
			i = len(resp.Groups)
			idx[key] = i
			resp.Groups = append(resp.Groups, WireGroup{CorrectedText: strings.ToUpper(txt), Confidence: 0.95})
		}
		resp.Groups[i].OriginalTexts = append(resp.Groups[i].OriginalTexts, txt)
	}
	return resp
}

type fakeService struct {
	corrections atomic.Int32
	images      atomic.Int32
	failCorrect bool
	failImage   bool
	lastScale   atomic.Value
}

func (f *fakeService) register(r *connectivity.Router) {
	r.RegisterLocal(ServiceHealth, func(context.Context, []byte) ([]byte, error) {
		return []byte(`{"status":"ok"}`), nil
	})
	r.RegisterLocal(ServiceProcessImage, func(_ context.Context, p []byte) ([]byte, error) {
		f.images.Add(1)
		if f.failImage {
			return nil, errors.New("connection refused")
		}
		var req ImageRequest
		if err := json.Unmarshal(p, &req); err != nil {
			return nil, err
		}
		f.lastScale.Store(req.ScaleFactor)
		resp, err := processImage(req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	})
	r.RegisterLocal(ServiceCorrectTexts, func(_ context.Context, p []byte) ([]byte, error) {
		f.corrections.Add(1)
		if f.failCorrect {
			return nil, &connectivity.ErrRemoteStatus{Endpoint: "fake", Status: 503}
		}
		var req CorrectionRequest
		if err := json.Unmarshal(p, &req); err != nil {
			return nil, err
		}
		return json.Marshal(correctTexts(req))
	})
}

func newPipeline(t *testing.T, svc *fakeService) *Pipeline {
	t.Helper()
	r := connectivity.New(connectivity.WithLogger(discardLogger()))
	svc.register(r)
	return NewPipeline(Config{OutDir: t.TempDir(), Logger: discardLogger()}, NewClient(r, discardLogger()))
}

func TestRun_GroupsWithProvenance(t *testing.T) {
	svc := &fakeService{}
	p := newPipeline(t, svc)
	frames := writeFrames(t, "Hello world", "hello WORLD", "", "Buy now", "hello world")

	res, err := p.Run(context.Background(), frames, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Texts) != 4 {
		t.Fatalf("texts = %d, want 4 (empty reading dropped)", len(res.Texts))
	}
	if len(res.Corrections) != 2 {
		t.Fatalf("corrections = %+v, want 2 groups", res.Corrections)
	}
	g := res.Corrections[0]
	if g.CorrectedText != "HELLO WORLD" || len(g.OriginalTexts) != 3 {
		t.Fatalf("group 0 = %+v", g)
	}
	if g.SourceFrame != frames[0] {
		t.Errorf("group 0 source = %q, want %q", g.SourceFrame, frames[0])
	}
	if res.Corrections[1].SourceFrame != frames[3] {
		t.Errorf("group 1 source = %q, want %q", res.Corrections[1].SourceFrame, frames[3])
	}
	if res.Text != "HELLO WORLD\nBUY NOW" {
		t.Errorf("text = %q", res.Text)
	}
	if got := svc.lastScale.Load(); got != 0.5 {
		t.Errorf("scale factor = %v, want 0.5", got)
	}

	data, err := os.ReadFile(res.ResultsPath)
	if err != nil {
		t.Fatalf("results file: %v", err)
	}
	var persisted Result
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatal(err)
	}
	if len(persisted.Corrections) != 2 || len(persisted.Texts) != 4 {
		t.Fatalf("persisted = %+v", persisted)
	}
}

func TestRun_NoSignificantTextSkipsCorrection(t *testing.T) {
	svc := &fakeService{}
	p := newPipeline(t, svc)
	frames := writeFrames(t, "ok", "", "  a ", "abc")

	res, err := p.Run(context.Background(), frames, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Text != "" || len(res.Corrections) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if n := svc.corrections.Load(); n != 0 {
		t.Fatalf("correction service called %d times", n)
	}
	for _, ft := range res.Texts {
		if ft.Significant {
			t.Errorf("%q marked significant", ft.Text)
		}
	}
}

func TestRun_CorrectionFailureKeepsRawTexts(t *testing.T) {
	svc := &fakeService{failCorrect: true}
	p := newPipeline(t, svc)
	frames := writeFrames(t, "First caption", "Second caption")

	res, err := p.Run(context.Background(), frames, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.CorrectionError == "" || len(res.Corrections) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.Text != "First caption\nSecond caption" || len(res.Texts) != 2 {
		t.Fatalf("raw texts lost: %+v", res)
	}
}

func TestRun_NotReady(t *testing.T) {
	svc := &fakeService{}
	p := newPipeline(t, svc)

	_, err := p.Run(context.Background(), writeFrames(t, "text"), false)
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("err = %v, want ErrServiceUnavailable", err)
	}
	if svc.images.Load() != 0 {
		t.Fatal("service called while not ready")
	}
}

func TestRun_AllFramesFail(t *testing.T) {
	p := newPipeline(t, &fakeService{failImage: true})

	_, err := p.Run(context.Background(), writeFrames(t, "a", "b"), true)
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("err = %v, want ErrServiceUnavailable", err)
	}
}

func TestRun_SanitisesMarkup(t *testing.T) {
	p := newPipeline(t, &fakeService{})
	res, err := p.Run(context.Background(), writeFrames(t, "<b>Tom & Jerry</b><script>x()</script>"), true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := res.Texts[0].Text; got != "Tom & Jerry" {
		t.Fatalf("text = %q", got)
	}
}

func TestRun_SanitisesEscapedMarkup(t *testing.T) {
	for _, in := range []string{
		"&lt;script&gt;alert(1)&lt;/script&gt; Sale",
		"&amp;lt;script&amp;gt;alert(1)&amp;lt;/script&amp;gt; Sale",
		"&lt;b&gt;Sale&lt;/b&gt;",
	} {
		p := newPipeline(t, &fakeService{})
		res, err := p.Run(context.Background(), writeFrames(t, in), true)
		if err != nil {
			t.Fatalf("Run(%q): %v", in, err)
		}
		got := res.Texts[0].Text
		if strings.ContainsAny(got, "<>") || strings.Contains(got, "alert") {
			t.Fatalf("text for %q = %q, markup survived", in, got)
		}
		if got != "Sale" {
			t.Fatalf("text for %q = %q, want Sale", in, got)
		}
	}
}

func TestRun_OverwritesResults(t *testing.T) {
	p := newPipeline(t, &fakeService{})
	first, err := p.Run(context.Background(), writeFrames(t, "first run text"), true)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Run(context.Background(), nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if first.ResultsPath != second.ResultsPath {
		t.Fatalf("paths differ: %s vs %s", first.ResultsPath, second.ResultsPath)
	}
	data, _ := os.ReadFile(second.ResultsPath)
	if strings.Contains(string(data), "first run text") {
		t.Fatal("stale results kept")
	}
}

// TestClient_HTTPRoutes drives the client through seeded http routes
// against a chi fake of the OCR microservice.
func TestClient_HTTPRoutes(t *testing.T) {
	var corrections atomic.Int32
	mux := chi.NewRouter()
	mux.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Post("/process-image", func(w http.ResponseWriter, r *http.Request) {
		var req ImageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := processImage(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.Post("/correct-texts", func(w http.ResponseWriter, r *http.Request) {
		if corrections.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		var req CorrectionRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(correctTexts(req))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(connectivity.Schema))
	if err := SeedRoutes(ctx, db, RouteConfig{BaseURL: srv.URL + "/", Backoff: time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	router := connectivity.New(connectivity.WithLogger(discardLogger()))
	router.RegisterTransport("http", connectivity.HTTPFactory(discardLogger()))
	if err := router.Reload(ctx, db); err != nil {
		t.Fatal(err)
	}
	defer router.Close()

	client := NewClient(router, discardLogger())
	if err := client.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}

	p := NewPipeline(Config{OutDir: t.TempDir(), Logger: discardLogger()}, client)
	res, err := p.Run(ctx, writeFrames(t, "Caption one", "caption ONE"), true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Corrections) != 1 || res.CorrectionError != "" {
		t.Fatalf("result = %+v", res)
	}
	if corrections.Load() != 2 {
		t.Fatalf("correct-texts hits = %d, want 2 (one retry)", corrections.Load())
	}
}

func TestClient_HTTPFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	ctx := context.Background()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(connectivity.Schema))
	if err := SeedRoutes(ctx, db, RouteConfig{BaseURL: srv.URL}); err != nil {
		t.Fatal(err)
	}
	router := connectivity.New(connectivity.WithLogger(discardLogger()))
	router.RegisterTransport("http", connectivity.HTTPFactory(discardLogger()))
	if err := router.Reload(ctx, db); err != nil {
		t.Fatal(err)
	}
	defer router.Close()

	_, err := NewClient(router, discardLogger()).ProcessImage(ctx, ImageRequest{Image: "eA=="})
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("err = %v, want ErrServiceUnavailable", err)
	}
	var status *connectivity.ErrRemoteStatus
	if !errors.As(err, &status) || status.Status != http.StatusBadRequest {
		t.Fatalf("err = %v, want wrapped ErrRemoteStatus 400", err)
	}
}
