// Package logging provides structured JSON logging for Converge components.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event represents a structured log event
type Event struct {
	Timestamp string                 `json:"ts"`
	Level     Level                  `json:"level"`
	Component string                 `json:"component"`
	Event     string                 `json:"event"`
	Task      string                 `json:"task,omitempty"`
	Worker    string                 `json:"worker,omitempty"`
	Project   string                 `json:"project,omitempty"`
	Duration  int64                  `json:"duration_ms,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// Logger provides structured logging
type Logger struct {
	component string
	task      string
	worker    string
	project   string
	out       io.Writer
}

// New creates a new logger for a component
func New(component string) *Logger {
	return &Logger{
		component: component,
		worker:    os.Getenv("CONVERGE_WORKER_ID"),
		out:       os.Stderr,
	}
}

// WithTask sets the task context
func (l *Logger) WithTask(taskID string) *Logger {
	cp := *l
	cp.task = taskID
	return &cp
}

// WithWorker sets the worker context
func (l *Logger) WithWorker(worker string) *Logger {
	cp := *l
	cp.worker = worker
	return &cp
}

// WithProject sets the project context
func (l *Logger) WithProject(project string) *Logger {
	cp := *l
	cp.project = project
	return &cp
}

// WithOutput redirects log output (for testing)
func (l *Logger) WithOutput(w io.Writer) *Logger {
	cp := *l
	cp.out = w
	return &cp
}

// log emits a structured log event
func (l *Logger) log(level Level, event string, extra map[string]interface{}, err error) {
	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Component: l.component,
		Event:     event,
		Task:      l.task,
		Worker:    l.worker,
		Project:   l.project,
		Extra:     extra,
	}

	if err != nil {
		e.Error = err.Error()
	}

	data, _ := json.Marshal(e)
	fmt.Fprintln(l.out, string(data))
}

// Debug logs a debug event
func (l *Logger) Debug(event string, extra map[string]interface{}) {
	l.log(LevelDebug, event, extra, nil)
}

// Info logs an info event
func (l *Logger) Info(event string, extra map[string]interface{}) {
	l.log(LevelInfo, event, extra, nil)
}

// Warn logs a warning event
func (l *Logger) Warn(event string, extra map[string]interface{}, err error) {
	l.log(LevelWarn, event, extra, err)
}

// Error logs an error event
func (l *Logger) Error(event string, extra map[string]interface{}, err error) {
	l.log(LevelError, event, extra, err)
}

// TimedEvent logs an event with duration
func (l *Logger) TimedEvent(event string, start time.Time, extra map[string]interface{}) {
	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     LevelInfo,
		Component: l.component,
		Event:     event,
		Task:      l.task,
		Worker:    l.worker,
		Project:   l.project,
		Duration:  time.Since(start).Milliseconds(),
		Extra:     extra,
	}

	data, _ := json.Marshal(e)
	fmt.Fprintln(l.out, string(data))
}
