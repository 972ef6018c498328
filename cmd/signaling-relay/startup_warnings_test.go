package main

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/carelink-health/signaling-relay/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	logger := slog.New(h)
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := &recordingHandler{mu: h.mu, records: h.records}
	nh.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(string) slog.Handler {
	return h
}

func warningCodes(records []recordedLog) map[string]bool {
	codes := map[string]bool{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			codes[code] = true
		}
	}
	return codes
}

func TestStartupSecurityWarnings_AllowedOriginsWildcard(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:                 config.ModeDev,
		AllowedOrigins:       []string{"*"},
		MaxMessagesPerSecond: 50,
	})

	if !warningCodes(records())["allowed_origins_wildcard"] {
		t.Fatalf("expected warning_code=allowed_origins_wildcard, got %#v", records())
	}
}

func TestStartupSecurityWarnings_PermissiveInProd(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:                 config.ModeProd,
		RelayValidation:      config.ValidationPermissive,
		MaxMessagesPerSecond: 50,
	})

	codes := warningCodes(records())
	if !codes["relay_validation_permissive_in_prod"] {
		t.Fatalf("expected warning_code=relay_validation_permissive_in_prod, got %#v", records())
	}
	if !codes["rooms_endpoint_unauthenticated"] {
		t.Fatalf("expected warning_code=rooms_endpoint_unauthenticated, got %#v", records())
	}
}

func TestStartupSecurityWarnings_RateLimitDisabled(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:            config.ModeDev,
		RelayValidation: config.ValidationStrict,
	})

	if !warningCodes(records())["message_rate_limit_disabled"] {
		t.Fatalf("expected warning_code=message_rate_limit_disabled, got %#v", records())
	}
}

func TestStartupSecurityWarnings_QuietWhenHardened(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:                 config.ModeDev,
		AllowedOrigins:       []string{"http://localhost:5173"},
		RelayValidation:      config.ValidationStrict,
		MaxMessagesPerSecond: 50,
	})

	if codes := warningCodes(records()); len(codes) != 0 {
		t.Fatalf("expected no warnings, got %#v", codes)
	}
}
