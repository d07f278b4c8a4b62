/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
//go:generate mockgen -destination=mock_logger.go -package=logger github.com/carverauto/signalquery/pkg/logger Logger

package logger

import (
	"io"

	"github.com/rs/zerolog"
)

type Logger interface {
	Trace() *zerolog.Event
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
	Fatal() *zerolog.Event
	With() zerolog.Context
	WithComponent(component string) zerolog.Logger
	SetLevel(level zerolog.Level)
	SetDebug(debug bool)
}

// New wraps an existing zerolog.Logger as a Logger.
func New(zl zerolog.Logger) Logger {
	return &zlLogger{zl: zl}
}

type zlLogger struct {
	zl zerolog.Logger
}

func (l *zlLogger) Trace() *zerolog.Event { return l.zl.Trace() }
func (l *zlLogger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *zlLogger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *zlLogger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *zlLogger) Error() *zerolog.Event { return l.zl.Error() }
func (l *zlLogger) Fatal() *zerolog.Event { return l.zl.Fatal() }
func (l *zlLogger) With() zerolog.Context { return l.zl.With() }

func (l *zlLogger) WithComponent(component string) zerolog.Logger {
	return l.zl.With().Str("component", component).Logger()
}

func (l *zlLogger) SetLevel(level zerolog.Level) { l.zl = l.zl.Level(level) }

func (l *zlLogger) SetDebug(debug bool) {
	if debug {
		l.SetLevel(zerolog.DebugLevel)
		return
	}

	l.SetLevel(zerolog.InfoLevel)
}

// NewTestLogger creates a no-op logger for testing that discards all output
func NewTestLogger() Logger {
	return New(zerolog.New(io.Discard).Level(zerolog.Disabled))
}
