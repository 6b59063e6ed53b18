package app

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestPrettyHandlerOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false)
	log := slog.New(h)

	log.Info("http.request", "method", "GET", "path", "/api/boards", "status", 200, "duration_ms", int64(12))

	out := buf.String()
	for _, want := range []string{"msg=http.request", "method=GET", "path=/api/boards", "status=200", "duration=12ms"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("color disabled but output has ANSI escapes: %q", out)
	}
}

func TestPrettyHandlerRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false)

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("error should be enabled at warn level")
	}
}

func TestPrettyHandlerGroupsAndAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := newPrettyHandler(&buf, nil, false)
	log := slog.New(base).With("service", "kanva").WithGroup("ws")

	log.Info("hello", "session", "abc")

	out := buf.String()
	if !strings.Contains(out, "service=kanva") {
		t.Fatalf("missing pre-bound attr: %q", out)
	}
	if !strings.Contains(out, "ws.session=abc") {
		t.Fatalf("missing grouped attr: %q", out)
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "", want: `""`},
		{in: "plain", want: "plain"},
		{in: "has space", want: `"has space"`},
		{in: `k=v`, want: `"k=v"`},
	}

	for _, tc := range cases {
		if got := quoteIfNeeded(tc.in); got != tc.want {
			t.Fatalf("quoteIfNeeded(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestColorizeStatusCodePlain(t *testing.T) {
	t.Parallel()

	if got := colorizeStatusCode(503, false); got != "503" {
		t.Fatalf("colorizeStatusCode(503,false)=%q", got)
	}
	if got := colorizeDurationMS(5, false); got != "5ms" {
		t.Fatalf("colorizeDurationMS(5,false)=%q", got)
	}
}

func TestValueToString(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := valueToString(slog.TimeValue(ts)); got != "2026-01-02T03:04:05Z" {
		t.Fatalf("valueToString(time)=%q", got)
	}
	if got := valueToString(slog.BoolValue(true)); got != "true" {
		t.Fatalf("valueToString(bool)=%q", got)
	}
	if got := valueToString(slog.DurationValue(2 * time.Second)); got != "2s" {
		t.Fatalf("valueToString(duration)=%q", got)
	}
}
