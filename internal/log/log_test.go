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

func newBufferLogger(level slog.Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(Config{Level: level, Component: ComponentHTTP, Output: &buf}), &buf
}

func TestLoggerComponent(t *testing.T) {
	logger, buf := newBufferLogger(slog.LevelInfo)
	logger.Info("hello")
	if !strings.Contains(buf.String(), "component=http") {
		t.Errorf("missing component: %s", buf.String())
	}
	if strings.Count(buf.String(), "component=") != 1 {
		t.Errorf("component repeated: %s", buf.String())
	}

	buf.Reset()
	sub := logger.WithComponent(ComponentLedger)
	sub.Info("child")
	if sub.Component() != ComponentLedger || !strings.Contains(buf.String(), "parent=http") {
		t.Errorf("sub-component: %s %s", sub.Component(), buf.String())
	}

	buf.Reset()
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug should be filtered at info level: %s", buf.String())
	}
}

func TestTransactionMessages(t *testing.T) {
	logger, buf := newBufferLogger(slog.LevelInfo)
	sl := NewStructuredLogger(logger)

	for _, op := range []string{OpCreate, OpUpdate, OpDelete} {
		buf.Reset()
		sl.LogTransaction(context.Background(), op, "u1", "t1", "acc_cash", "FOOD", "expense", 1200)
		out := buf.String()
		if !strings.Contains(out, "Transaction "+op+"d") || !strings.Contains(out, "amount=1200") {
			t.Errorf("%s: %s", op, out)
		}
	}
}

func TestLogHTTPEndLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{200, "level=INFO"},
		{404, "level=WARN"},
		{502, "level=ERROR"},
	}
	for _, tt := range tests {
		logger, buf := newBufferLogger(slog.LevelInfo)
		r := httptest.NewRequest(http.MethodGet, "/api/expenses?limit=5", nil)
		NewStructuredLogger(logger).LogHTTPEnd(context.Background(), r, tt.status, 3, "127.0.0.1")
		if !strings.Contains(buf.String(), tt.level) || !strings.Contains(buf.String(), "query=\"limit=5\"") && !strings.Contains(buf.String(), "query=limit=5") {
			t.Errorf("status %d: %s", tt.status, buf.String())
		}
	}
}

func TestLogErrorWithNilFields(t *testing.T) {
	logger, buf := newBufferLogger(slog.LevelInfo)
	NewStructuredLogger(logger).LogError(context.Background(), "boom", errors.New("bad"), OpFlush, nil)
	if !strings.Contains(buf.String(), "error=bad") || !strings.Contains(buf.String(), "operation=flush") {
		t.Errorf("log = %s", buf.String())
	}
}

func TestMiddlewareCarriesLogger(t *testing.T) {
	logger, buf := newBufferLogger(slog.LevelInfo)
	h := Middleware(logger)(RequestIDMiddleware(func(*http.Request) string { return "req-1" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			FromContext(r.Context()).Info("inside")
		})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(buf.String(), "request_id=req-1") {
		t.Errorf("log = %s", buf.String())
	}

	if FromContext(context.Background()).Component() != "unknown" {
		t.Errorf("fallback logger should be unknown")
	}
}
