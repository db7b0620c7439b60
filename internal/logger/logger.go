// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	defaultLogFile = "aitbus.log"
	filePermission = 0o600

	FormatText = "text"
	FormatJSON = "json"

	CorrelationIDKey = "correlation_id"
	StreamNameKey    = "stream"
	PluginNameKey    = "plugin"
)

var (
	logLevels = map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}

	CorrelationIDContextKey = contextKey(CorrelationIDKey)
	StreamNameContextKey    = contextKey(StreamNameKey)
	PluginNameContextKey    = contextKey(PluginNameKey)

	contextKeys = []any{
		CorrelationIDContextKey,
		StreamNameContextKey,
		PluginNameContextKey,
	}
)

type (
	contextKey string

	// Parameters selects where and how the broker logs. Writer overrides Path.
	Parameters struct {
		Writer io.Writer
		Level  string
		Path   string
		Format string
	}

	contextHandler struct {
		slog.Handler
		keys []any
	}
)

// New builds a logger whose records carry the correlation id, stream name and
// plugin name found in the logging context.
func New(params Parameters) *slog.Logger {
	handlerOptions := &slog.HandlerOptions{
		Level: LogLevel(params.Level),
	}

	if LogLevel(params.Level) == slog.LevelDebug {
		handlerOptions.AddSource = true
		handlerOptions.ReplaceAttr = shortSource
	}

	writer := params.Writer
	if writer == nil {
		writer = logWriter(params.Path)
	}

	var handler slog.Handler
	if strings.EqualFold(params.Format, FormatJSON) {
		handler = slog.NewJSONHandler(writer, handlerOptions)
	} else {
		handler = slog.NewTextHandler(writer, handlerOptions)
	}

	return slog.New(contextHandler{handler, contextKeys})
}

func LogLevel(level string) slog.Level {
	if logLevel, ok := logLevels[strings.ToLower(level)]; ok {
		return logLevel
	}

	return slog.LevelInfo
}

// shortSource trims the source attribute to dir/file.go:line.
func shortSource(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.SourceKey {
		return a
	}

	if source, ok := a.Value.Any().(*slog.Source); ok {
		relativePath := path.Join(filepath.Base(filepath.Dir(source.File)), filepath.Base(source.File))
		a.Value = slog.StringValue(relativePath + ":" + strconv.Itoa(source.Line))
	}

	return a
}

func logWriter(logFile string) io.Writer {
	if logFile == "" {
		return os.Stderr
	}

	logPath := logFile
	fileInfo, err := os.Stat(logPath)
	if err != nil && !os.IsNotExist(err) {
		slog.Error("Error reading log path, proceeding to log only to stderr", "error", err)

		return os.Stderr
	}

	if err == nil && fileInfo.IsDir() {
		logPath = path.Join(logPath, defaultLogFile)
	}

	logFileHandle, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, filePermission)
	if err != nil {
		slog.Error("Failed to open log file, proceeding to log only to stderr", "error", err)

		return os.Stderr
	}

	return io.MultiWriter(os.Stdout, logFileHandle)
}

func (c contextKey) String() string {
	return string(c)
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(h.observe(ctx)...)
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs), h.keys}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name), h.keys}
}

func (h contextHandler) observe(ctx context.Context) (as []slog.Attr) {
	if ctx == nil {
		return nil
	}

	for _, k := range h.keys {
		a, ok := ctx.Value(k).(slog.Attr)
		if !ok {
			continue
		}
		a.Value = a.Value.Resolve()
		as = append(as, a)
	}

	return as
}

func GenerateCorrelationID() slog.Attr {
	return slog.String(CorrelationIDKey, uuid.NewString())
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDContextKey, slog.String(CorrelationIDKey, correlationID))
}

// CorrelationID is empty when ctx carries none.
func CorrelationID(ctx context.Context) string {
	return attrValue(ctx, CorrelationIDContextKey)
}

func WithStreamName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, StreamNameContextKey, slog.String(StreamNameKey, name))
}

func WithPluginName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, PluginNameContextKey, slog.String(PluginNameKey, name))
}

func PluginName(ctx context.Context) string {
	return attrValue(ctx, PluginNameContextKey)
}

func attrValue(ctx context.Context, key contextKey) string {
	value, ok := ctx.Value(key).(slog.Attr)
	if !ok {
		return ""
	}

	return value.Value.String()
}
