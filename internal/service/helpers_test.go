package service_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/spediresicuro/anne/internal/domain/provider"
	"github.com/spediresicuro/anne/internal/secrets"
)

// recordingHandler keeps every record so tests can assert telemetry.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

// find returns the attributes of every record with message msg.
func (h *recordingHandler) find(msg string) []map[string]slog.Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []map[string]slog.Value
	for _, rec := range h.records {
		if rec.Message != msg {
			continue
		}
		attrs := make(map[string]slog.Value)
		rec.Attrs(func(a slog.Attr) bool {
			attrs[a.Key] = a.Value
			return true
		})
		out = append(out, attrs)
	}
	return out
}

func newRecordingLogger() (*slog.Logger, *recordingHandler) {
	h := &recordingHandler{}
	return slog.New(h), h
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newVault(t *testing.T, creds map[string]string) *secrets.Vault {
	t.Helper()
	v, err := secrets.NewVault(secrets.MapLoader(creds, provider.CredentialKeys()...))
	if err != nil {
		t.Fatal(err)
	}
	return v
}
