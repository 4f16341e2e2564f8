package api

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"github.com/samcharles93/kvrun/internal/inference"
	"github.com/samcharles93/kvrun/internal/metrics"
)

type testGenerator struct {
	tokens []string
	err    error
	// partial returns a result alongside err.
	partial bool
}

func (g testGenerator) Generate(ctx context.Context, req GenerateRequest, stream inference.StreamFunc) (*inference.Result, error) {
	if g.err != nil && !g.partial {
		return nil, g.err
	}
	seqs := inference.NewSequences(1, req.Prompt, len(req.Prompt))
	for _, tok := range g.tokens {
		if stream != nil {
			stream(0, tok)
		}
	}
	res := &inference.Result{Prompt: req.Prompt, Sequences: seqs}
	res.Stats.GeneratedTokens = len(g.tokens)
	res.Stats.StopReason = inference.StopBudget
	return res, g.err
}

func newTestEcho(gen Generator, m *metrics.Metrics) (*echo.Echo, *GenerationStore) {
	store := NewGenerationStore(4)
	server := NewServer(store, gen, WithServerMetrics(m))
	server.clock = func() time.Time { return time.Unix(1700000000, 0) }
	e := echo.New()
	server.Register(e)
	return e, store
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestGenerateAndFetch(t *testing.T) {
	t.Parallel()
	e, store := newTestEcho(testGenerator{tokens: []string{"x"}}, nil)

	rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"hi","gen_len":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var gen Generation
	if err := json.Unmarshal(rec.Body.Bytes(), &gen); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gen.ID == "" || gen.Status != StatusCompleted || gen.CreatedAt != 1700000000 {
		t.Fatalf("generation = %+v", gen)
	}
	if len(gen.Outputs) != 1 || gen.Outputs[0] != "hi" {
		t.Fatalf("outputs = %q", gen.Outputs)
	}
	if store.Len() != 1 {
		t.Fatalf("store len = %d", store.Len())
	}

	rec = doJSON(t, e, http.MethodGet, "/v1/generations/"+gen.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	rec = doJSON(t, e, http.MethodGet, "/v1/generations/gen_missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", rec.Code)
	}
}

func TestGenerateRejectsBadBodies(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho(testGenerator{}, nil)

	for _, body := range []string{
		`{`,
		`{}`,
		`{"prompt":"x","unknown":1}`,
	} {
		rec := doJSON(t, e, http.MethodPost, "/v1/generate", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", body, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "invalid_request_error") {
			t.Fatalf("%s: body = %s", body, rec.Body.String())
		}
	}
}

func TestGenerateMapsErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		gen    testGenerator
		code   int
		status string
	}{
		{"invalid", testGenerator{err: newInvalidRequest("bad gen_len")}, http.StatusBadRequest, StatusFailed},
		{"prefill", testGenerator{err: inference.ErrPrefill}, http.StatusInternalServerError, StatusFailed},
		{"decode", testGenerator{err: inference.ErrDecode, partial: true}, http.StatusInternalServerError, StatusIncomplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, store := newTestEcho(tt.gen, nil)
			rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"p"}`)
			if rec.Code != tt.code {
				t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
			}
			if store.Len() != 1 {
				t.Fatalf("store len = %d", store.Len())
			}
			if tt.code == http.StatusBadRequest {
				return
			}
			var gen Generation
			if err := json.Unmarshal(rec.Body.Bytes(), &gen); err != nil {
				t.Fatal(err)
			}
			if gen.Status != tt.status || gen.Error == nil {
				t.Fatalf("generation = %+v", gen)
			}
		})
	}
}

func TestGenerateStream(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho(testGenerator{tokens: []string{"a", "b"}}, nil)

	rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"p","stream":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	var types []string
	var tokens []string
	sc := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for sc.Scan() {
		line, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		if line == "[DONE]" {
			types = append(types, line)
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("event %q: %v", line, err)
		}
		if ev.SequenceNumber != len(types)+1 {
			t.Fatalf("sequence number %d at event %d", ev.SequenceNumber, len(types))
		}
		types = append(types, ev.Type)
		if ev.Type == "generation.token" {
			tokens = append(tokens, ev.Token)
		}
	}
	want := []string{"generation.created", "generation.token", "generation.token", "generation.completed", "[DONE]"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v", types)
	}
	if strings.Join(tokens, "") != "ab" {
		t.Fatalf("tokens = %v", tokens)
	}
}

func TestStreamReportsFailure(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho(testGenerator{err: errors.New("device lost")}, nil)
	rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"prompt":"p","stream":true}`)
	if !strings.Contains(rec.Body.String(), "generation.failed") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	m := metrics.New()
	e, _ := newTestEcho(testGenerator{}, m)

	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("healthz = %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, e, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "kvrun_http_requests_total") {
		t.Fatalf("metrics body missing request counter:\n%s", rec.Body.String())
	}
}

func TestGenerationStoreEvictsOldest(t *testing.T) {
	t.Parallel()
	s := NewGenerationStore(2)
	s.Put(Generation{ID: "a"})
	s.Put(Generation{ID: "b"})
	s.Put(Generation{ID: "a", Status: StatusCompleted})
	s.Put(Generation{ID: "c"})
	if _, ok := s.Get("a"); ok {
		t.Fatal("oldest entry survived eviction")
	}
	if _, ok := s.Get("b"); !ok {
		t.Fatal("b evicted")
	}
	if s.Len() != 2 {
		t.Fatalf("len = %d", s.Len())
	}
}
