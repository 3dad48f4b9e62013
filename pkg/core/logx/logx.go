// Package logx is the progress-line logger every stage prints through.
// The teacher (pkg/core/agent/manager.go, pkg/core/pipeline/orchestrator.go)
// never reaches for a structured-logging library — it prints
// "[component] message" lines straight to stdout/stderr via fmt.Printf.
// This repository keeps that idiom rather than introducing a library the
// corpus itself does not use for this concern; see DESIGN.md.
package logx

import (
	"fmt"
	"os"
)

// Logger prints prefixed progress lines for one component.
type Logger struct {
	component string
}

// New returns a Logger tagging every line with [component].
func New(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[%s] %s\n", l.component, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[%s] ⚠️  %s\n", l.component, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[%s] ❌ %s\n", l.component, fmt.Sprintf(format, args...))
}

func (l *Logger) OK(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[%s] ✅ %s\n", l.component, fmt.Sprintf(format, args...))
}
