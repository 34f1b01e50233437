// Copyright (C) 2025 fyteclub
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package obslog provides the structured logger used across every syncshell
// component. There is exactly one logging story in this module: JSON lines
// with leveled filtering and field chaining.
package obslog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Field is a structured logging key/value pair.
type Field struct {
	Key   string
	Value interface{}
}

func String(key, value string) Field { return Field{Key: key, Value: value} }
func Int(key string, value int) Field { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }
func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value.String()} }
func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Err wraps an error as a field, matching the Go convention of carrying the
// error string rather than the error value itself (so nil never panics the
// encoder).
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Logger is the interface every component depends on. Components never hold
// a concrete *Logger; they hold this interface so callers can inject a
// no-op or test recorder without touching production wiring.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
}

// jsonLogger writes one JSON object per line to output.
type jsonLogger struct {
	mu         sync.Mutex
	level      Level
	output     io.Writer
	ctx        context.Context
	baseFields []Field
}

// New creates a logger writing to output at the given minimum level.
func New(output io.Writer, level Level) Logger {
	return &jsonLogger{level: level, output: output}
}

// NewFromEnv reads SYNCSHELL_LOG_LEVEL (debug|info|warn|error) and writes to
// stdout, defaulting to info.
func NewFromEnv() Logger {
	level := InfoLevel
	switch strings.ToUpper(os.Getenv("SYNCSHELL_LOG_LEVEL")) {
	case "DEBUG":
		level = DebugLevel
	case "WARN":
		level = WarnLevel
	case "ERROR":
		level = ErrorLevel
	}
	return New(os.Stdout, level)
}

func (l *jsonLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields...) }
func (l *jsonLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields...) }
func (l *jsonLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields...) }
func (l *jsonLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields...) }

func (l *jsonLogger) WithFields(fields ...Field) Logger {
	merged := make([]Field, 0, len(l.baseFields)+len(fields))
	merged = append(merged, l.baseFields...)
	merged = append(merged, fields...)
	return &jsonLogger{level: l.level, output: l.output, ctx: l.ctx, baseFields: merged}
}

func (l *jsonLogger) WithContext(ctx context.Context) Logger {
	return &jsonLogger{level: l.level, output: l.output, ctx: ctx, baseFields: l.baseFields}
}

func (l *jsonLogger) log(level Level, msg string, fields ...Field) {
	if level < l.level {
		return
	}

	entry := make(map[string]interface{}, 4+len(l.baseFields)+len(fields))
	entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["msg"] = msg

	if l.ctx != nil {
		if peerID, ok := l.ctx.Value(ctxKeyPeerID).(string); ok {
			entry["peer_id"] = peerID
		}
		if groupID, ok := l.ctx.Value(ctxKeyGroupID).(string); ok {
			entry["group_id"] = groupID
		}
	}

	for _, f := range l.baseFields {
		entry[f.Key] = f.Value
	}
	for _, f := range fields {
		entry[f.Key] = f.Value
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(l.output, `{"level":"ERROR","msg":"log marshal failed","error":%q}`+"\n", err.Error())
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write(append(data, '\n'))
}

type ctxKey int

const (
	ctxKeyPeerID ctxKey = iota
	ctxKeyGroupID
)

// WithPeerID returns a context tagged with a peer ID for loggers derived via
// WithContext.
func WithPeerID(ctx context.Context, peerID string) context.Context {
	return context.WithValue(ctx, ctxKeyPeerID, peerID)
}

// WithGroupID returns a context tagged with a syncshell group ID.
func WithGroupID(ctx context.Context, groupID string) context.Context {
	return context.WithValue(ctx, ctxKeyGroupID, groupID)
}

// Nop returns a Logger that discards everything; useful in tests.
func Nop() Logger { return New(io.Discard, ErrorLevel+1) }
