package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestHandlersRenderAttrs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		build  func(*bytes.Buffer) Logger
		expect []string
	}{
		{
			name:   "json",
			build:  func(b *bytes.Buffer) Logger { return JSON(b, slog.LevelInfo) },
			expect: []string{`"msg":"graphs selected"`, `"prefill":"prefill[2x32]"`, `"level":"INFO"`},
		},
		{
			name:   "pretty",
			build:  func(b *bytes.Buffer) Logger { return Pretty(b, slog.LevelInfo) },
			expect: []string{"graphs selected", "prefill=prefill[2x32]", " INF "},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			tt.build(&buf).Info("graphs selected", "prefill", "prefill[2x32]")
			for _, want := range tt.expect {
				if !strings.Contains(buf.String(), want) {
					t.Fatalf("missing %q in %s", want, buf.String())
				}
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Debug("chunk executed")
	log.Info("generation finished")
	if buf.Len() > 0 {
		t.Fatalf("records below warn leaked: %s", buf.String())
	}
	log.Warn("vocabulary smaller than graph output")
	if !strings.Contains(buf.String(), "vocabulary smaller") {
		t.Fatalf("warn record missing: %s", buf.String())
	}

	h := NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	if h.Enabled(context.Background(), slog.LevelInfo) || !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("pretty handler ignores its level")
	}
}

func TestWithAndGroups(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo).With("generation_id", "gen_1").WithGroup("decode")
	log.Info("step", "index", 3)
	out := buf.String()
	if !strings.Contains(out, `"generation_id":"gen_1"`) || !strings.Contains(out, `"decode":{"index":3}`) {
		t.Fatalf("unexpected output: %s", out)
	}

	buf.Reset()
	h := NewPrettyHandler(&buf, nil)
	if h.WithGroup("") != h {
		t.Fatal("empty group must return the same handler")
	}
	slog.New(h.WithAttrs([]slog.Attr{slog.String("backend", "reference")}).WithGroup("a").WithGroup("b")).
		Info("nested", "key", "val", slog.Group("stats", "steps", 9))
	for _, want := range []string{"backend=reference", "a.b.key=val", "a.b.stats.steps=9"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("missing %q in %s", want, buf.String())
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext without a logger returned nil")
	}

	var buf bytes.Buffer
	ctx := WithContext(context.Background(), JSON(&buf, slog.LevelInfo))
	FromContext(ctx).Info("session opened")
	if !strings.Contains(buf.String(), "session opened") {
		t.Fatalf("context logger not used: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		" Warn ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPrettyQuoting(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	slog.New(NewPrettyHandler(&buf, nil)).Info("run", "prompt", "hello world", "backend", "reference", "op", "a=b")
	out := buf.String()
	for _, want := range []string{`prompt="hello world"`, "backend=reference", `op="a=b"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %s", want, out)
		}
	}

	for in, want := range map[string]bool{"simple": false, "": false, "has space": true, "tab\t": true, `q"`: true, "k=v": true} {
		if needsQuoting(in) != want {
			t.Errorf("needsQuoting(%q) != %v", in, want)
		}
	}
}

func TestSetupFormats(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := Setup(&buf, "json", "debug")
	if err != nil {
		t.Fatal(err)
	}
	log.Debug("chunk executed", "chunk", 2)
	if !strings.Contains(buf.String(), `"chunk":2`) {
		t.Fatalf("expected json debug record, got: %s", buf.String())
	}

	buf.Reset()
	log, err = Setup(&buf, "text", "warn")
	if err != nil {
		t.Fatal(err)
	}
	log.Info("dropped")
	log.Warn("kept")
	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Fatalf("unexpected text output: %s", buf.String())
	}

	if _, err := Setup(&buf, "xml", "info"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestPrettyNoColorForBuffers(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	slog.New(NewPrettyHandler(&buf, nil)).Error("execute failed")
	if strings.Contains(buf.String(), "\033[") {
		t.Fatalf("unexpected ANSI codes: %q", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	Discard().Error("nothing happens")
	Default().Debug("below default level")
}
