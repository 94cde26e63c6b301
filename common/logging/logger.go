/*
 * Copyright (c) 2026, ss-local-core Project
 * All rights reserved.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package logging

import (
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// Fields is an alias for the field map accepted by logrus, kept as its
// own type so callers don't need to import logrus directly.
type Fields logrus.Fields

// Add copies fields from b into a, skipping any field that already
// exists in a, regardless of value.
func (a Fields) Add(b Fields) {
	for name, value := range b {
		if _, ok := a[name]; !ok {
			a[name] = value
		}
	}
}

// Trace is the per-call logging handle returned by Logger.WithTrace and
// Logger.WithTraceFields. It is interface-compatible with a *logrus.Entry.
type Trace interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warning(args ...interface{})
	Error(args ...interface{})
}

// Logger is the log sink contract used throughout this module. Only a
// logrus-backed implementation is provided, but callers (notably
// local.TunnelSupervisor) depend only on this interface.
type Logger interface {
	WithTrace() Trace
	WithTraceFields(fields Fields) Trace

	// LogMetric records a named metrics event with its fields, mirroring
	// the teacher's psiphon/common/logger.go MetricsSource/LogFields
	// pattern: metrics are log records, not a separate exporter.
	LogMetric(metric string, fields Fields)
}

// MetricsSource is implemented by components that accumulate counters
// over a tunnel's lifetime (bytes/chunks in and out) and can surface
// them as log fields once the tunnel ends.
type MetricsSource interface {
	GetMetrics() Fields
}

// ContextLogger adds "context" field population (caller function name)
// to an underlying logrus.Logger, mirroring the teacher's
// psiphon/server.ContextLogger.
type ContextLogger struct {
	*logrus.Logger
}

var _ Logger = (*ContextLogger)(nil)

// NewLogger creates a ContextLogger that writes JSON-formatted entries
// to stderr at the given level name ("debug", "info", "warning", "error").
func NewLogger(levelName string) *ContextLogger {
	logger := logrus.New()
	logger.Out = os.Stderr
	logger.Formatter = &logrus.JSONFormatter{}
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.Level = level
	return &ContextLogger{Logger: logger}
}

// WithTrace returns a Trace with a "context" field naming the caller.
func (l *ContextLogger) WithTrace() Trace {
	return l.WithFields(logrus.Fields{"context": callerContext()})
}

// WithTraceFields returns a Trace with a "context" field plus the given
// fields.
func (l *ContextLogger) WithTraceFields(fields Fields) Trace {
	lf := logrus.Fields(fields)
	if _, ok := lf["context"]; ok {
		lf["fields.context"] = lf["context"]
	}
	lf["context"] = callerContext()
	return l.WithFields(lf)
}

// LogMetric records a metrics event at info level, with "metric" naming
// the event alongside its fields, matching the metrics-as-log-fields
// approach of psiphon/common/logger.go's MetricsSource consumers.
func (l *ContextLogger) LogMetric(metric string, fields Fields) {
	lf := logrus.Fields(fields)
	lf["context"] = callerContext()
	lf["metric"] = metric
	l.WithFields(lf).Info("metric")
}

// callerContext returns "package.function" for the caller of the
// Logger method that invoked this helper.
func callerContext() string {
	pc, _, _, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	name := runtime.FuncForPC(pc).Name()
	if index := strings.LastIndex(name, "/"); index != -1 {
		name = name[index+1:]
	}
	return name
}
