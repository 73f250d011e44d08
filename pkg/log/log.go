// Copyright 2025 walteh LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

// 🎨 Display configuration
const (
	entryIndent = 4  // spaces to indent country entries
	nameWidth   = 35 // Base width for country name
	kindWidth   = 12 // Width for file kind
	statusWidth = 20 // Width for status text
)

// 🗺️ CountryOperation represents one country's state change for logging
type CountryOperation struct {
	ID        string // Country id
	Name      string // Display name
	Kind      string // File kind (map/routing)
	Status    string // Status text
	SizeBytes int64  // Transfer or file size
	IsNew     bool   // Whether the files just arrived on disk
	IsRemoved bool   // Whether the files were removed
	IsUpdate  bool   // Whether this replaces an out-of-date version
	IsFailed  bool   // Whether the download attempt failed
}

// 📦 SessionOperation represents one download session for logging
type SessionOperation struct {
	DataDir string // Map data root
	Version int64  // Current data version
	Mirrors int    // Resolved mirror count
}

// 🎯 Logger handles structured logging with console output
type Logger struct {
	zlog       zerolog.Logger
	console    io.Writer
	mu         sync.Mutex
	currentOp  *SessionOperation
	operations []CountryOperation
}

// 🏭 New creates a new logger
func New(console io.Writer, level zerolog.Level) *Logger {
	zlog := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger().Level(level)
	return &Logger{
		zlog:    zlog,
		console: console,
		mu:      sync.Mutex{},
	}
}

// 🔑 contextKey is the type for context values
type contextKey struct{}

// 🎯 FromContext gets the logger from context
func FromContext(ctx context.Context) *Logger {
	logger, ok := ctx.Value(contextKey{}).(*Logger)
	if !ok {
		panic("logger not found in context")
	}
	return logger
}

// 🎯 NewContext adds the logger to context
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// 📝 formatCountryOperation formats a country operation for display
func (l *Logger) formatCountryOperation(op CountryOperation) string {
	// Determine symbol and color
	var symbol rune
	var symbolColor color.Attribute
	switch {
	case op.IsFailed:
		symbol = '✗'
		symbolColor = color.FgRed
	case op.IsRemoved:
		symbol = '✗'
		symbolColor = color.FgYellow
	case op.IsNew:
		symbol = '✓'
		symbolColor = color.FgGreen
	case op.IsUpdate:
		symbol = '⟳'
		symbolColor = color.FgBlue
	default:
		symbol = '•'
		symbolColor = color.FgCyan
	}

	// Format kind with color
	var kindColor color.Attribute
	switch op.Kind {
	case "map":
		kindColor = color.FgCyan
	case "routing":
		kindColor = color.FgYellow
	default:
		kindColor = color.FgBlue
	}

	// Build the line
	return fmt.Sprintf("%s%s %s %s %s",
		fmt.Sprintf("%*s", entryIndent, ""),
		color.New(symbolColor).Sprint(string(symbol)),
		fmt.Sprintf("%-*s", nameWidth, op.Name),
		color.New(kindColor).Sprint(fmt.Sprintf("%-*s", kindWidth, op.Kind)),
		fmt.Sprintf("%-*s", statusWidth, op.Status))
}

// 📝 LogCountryOperation logs a country state change
func (l *Logger) LogCountryOperation(ctx context.Context, op CountryOperation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Add to operations list
	l.operations = append(l.operations, op)

	// Format and print
	fmt.Fprintln(l.console, l.formatCountryOperation(op))

	// Log to zerolog
	l.zlog.Info().
		Str("country", op.ID).
		Str("kind", op.Kind).
		Str("status", op.Status).
		Int64("size", op.SizeBytes).
		Bool("is_new", op.IsNew).
		Bool("is_removed", op.IsRemoved).
		Bool("is_update", op.IsUpdate).
		Bool("is_failed", op.IsFailed).
		Msg("country operation")
}

// 📝 StartSession starts a new download session
func (l *Logger) StartSession(ctx context.Context, op SessionOperation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.currentOp = &op
	l.operations = nil

	// Print session header
	fmt.Fprintf(l.console, "[maps %s]\n",
		color.New(color.FgCyan).Sprint(op.DataDir))

	fmt.Fprintf(l.console, "%s %s %s %s\n",
		color.New(color.FgMagenta).Sprint("◆"),
		color.New(color.Bold).Sprintf("version %d", op.Version),
		color.New(color.Faint).Sprint("•"),
		color.New(color.FgYellow).Sprintf("%d mirrors", op.Mirrors))

	// Log to zerolog
	l.zlog.Info().
		Str("data_dir", op.DataDir).
		Int64("version", op.Version).
		Int("mirrors", op.Mirrors).
		Msg("starting download session")
}

// 📝 EndSession ends the current download session
func (l *Logger) EndSession(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentOp == nil {
		return
	}

	// Log summary
	l.zlog.Info().
		Str("data_dir", l.currentOp.DataDir).
		Int("countries", len(l.operations)).
		Msg("download session complete")

	l.currentOp = nil
	l.operations = nil
}

// 📝 LogNewline logs a newline
func (l *Logger) LogNewline() {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.console)
}

// 📝 Header logs a header
func (l *Logger) Header(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	nameText := color.New(color.Bold, color.FgCyan).Sprint("mapstore")
	fmt.Fprintf(l.console, "\n%s %s\n\n", nameText, color.New(color.Faint).Sprint("• "+msg))
	l.zlog.Info().Msg(msg)
}

// 📝 Success logs a success message
func (l *Logger) Success(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "✅ %s\n", color.New(color.FgGreen).Sprint(msg))
	l.zlog.Info().Msg(msg)
}

// 📝 Warning logs a warning message
func (l *Logger) Warning(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "⚠️  %s\n", color.New(color.FgYellow).Sprint(msg))
	l.zlog.Warn().Msg(msg)
}

// 📝 Error logs an error message
func (l *Logger) Error(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "❌ %s\n", color.New(color.FgRed).Sprint(msg))
	l.zlog.Error().Msg(msg)
}

// 📝 Info logs an info message
func (l *Logger) Info(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "ℹ️  %s\n", color.New(color.FgCyan).Sprint(msg))
	l.zlog.Info().Msg(msg)
}

// 📝 Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// 📝 Warningf logs a formatted warning message
func (l *Logger) Warningf(format string, args ...interface{}) {
	l.Warning(fmt.Sprintf(format, args...))
}

// 📝 Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// 📝 Successf logs a formatted success message
func (l *Logger) Successf(format string, args ...interface{}) {
	l.Success(fmt.Sprintf(format, args...))
}
