package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerComponentTag(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelDebug, Component: ComponentApp, Output: &buf})
	l.WithComponent(ComponentRemote).Info("hello", FieldFamilyID, "fam")

	out := buf.String()
	if !strings.Contains(out, "component=remote") {
		t.Errorf("missing component tag: %s", out)
	}
	if strings.Contains(out, "component=app") {
		t.Errorf("component should be replaced: %s", out)
	}
	if !strings.Contains(out, "family_id=fam") {
		t.Errorf("missing field: %s", out)
	}
}

func TestFieldsBuilder(t *testing.T) {
	f := NewFields().
		WithComponent(ComponentCoordinator).
		WithSync("fam", "").
		WithError(errors.New("boom"), ErrorTypeNetwork).
		WithError(nil, ErrorTypeAuth)

	if f[FieldErrorType] != ErrorTypeNetwork {
		t.Errorf("error type = %v", f[FieldErrorType])
	}
	if _, ok := f[FieldSessionID]; ok {
		t.Error("empty session id should be omitted")
	}
	if len(f.ToSlice()) != 2*len(f) {
		t.Errorf("slice length = %d", len(f.ToSlice()))
	}
}

func TestMiddlewareAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelInfo, Component: ComponentHTTP, Output: &buf})

	h := Middleware(l, func(*http.Request) string { return "req_1" })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		LogHTTPEnd(r.Context(), r, http.StatusTeapot, 3, "127.0.0.1")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/status", nil))

	out := buf.String()
	for _, want := range []string{"request_id=req_1", "status_code=418", "level=WARN"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestFromContextDefault(t *testing.T) {
	if FromContext(context.Background()).Component() != "unknown" {
		t.Error("expected fallback logger")
	}
}
