// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package helpers

import (
	"context"
	"log/slog"
	"sync"
)

// LogEntry represents a single captured log record.
type LogEntry struct {
	Message string
	Attrs   []slog.Attr
	Level   slog.Level
}

// Attr returns the value of the attribute with the given key.
func (e LogEntry) Attr(key string) (slog.Value, bool) {
	for _, attr := range e.Attrs {
		if attr.Key == key {
			return attr.Value, true
		}
	}

	return slog.Value{}, false
}

type logStore struct {
	entries []LogEntry
	mu      sync.Mutex
}

// TestLogHandler is a slog.Handler that captures log entries, including the
// attributes added through WithAttrs.
type TestLogHandler struct {
	store *logStore
	attrs []slog.Attr
}

func NewTestLogHandler() *TestLogHandler {
	return &TestLogHandler{store: &logStore{}}
}

// NewTestLogger installs a capturing handler as the default logger for the
// duration of the test.
func NewTestLogger(t interface {
	Helper()
	Cleanup(func())
},
) *TestLogHandler {
	t.Helper()

	handler := NewTestLogHandler()
	previous := slog.Default()
	slog.SetDefault(slog.New(handler))
	t.Cleanup(func() {
		slog.SetDefault(previous)
	})

	return handler
}

func (h *TestLogHandler) Handle(_ context.Context, record slog.Record) error {
	attrs := make([]slog.Attr, 0, len(h.attrs)+record.NumAttrs())
	attrs = append(attrs, h.attrs...)
	record.Attrs(func(attr slog.Attr) bool {
		attrs = append(attrs, attr)
		return true
	})

	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	h.store.entries = append(h.store.entries, LogEntry{
		Level:   record.Level,
		Message: record.Message,
		Attrs:   attrs,
	})

	return nil
}

func (h *TestLogHandler) Logs() []LogEntry {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	return append([]LogEntry(nil), h.store.entries...)
}

// Find returns the captured entries with the given message, in order.
func (h *TestLogHandler) Find(message string) []LogEntry {
	var found []LogEntry
	for _, entry := range h.Logs() {
		if entry.Message == message {
			found = append(found, entry)
		}
	}

	return found
}

// Messages returns the captured messages at or above level, in order.
func (h *TestLogHandler) Messages(level slog.Level) []string {
	var messages []string
	for _, entry := range h.Logs() {
		if entry.Level >= level {
			messages = append(messages, entry.Message)
		}
	}

	return messages
}

func (h *TestLogHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *TestLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TestLogHandler{
		store: h.store,
		attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

// WithGroup is a no-op, groups are flattened.
func (h *TestLogHandler) WithGroup(string) slog.Handler {
	return h
}
