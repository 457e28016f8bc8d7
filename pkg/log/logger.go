// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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
	"fmt"
	"os"
	"sync/atomic"
)

// Level describes the severity of log messages.
type Level int

const (
	// LevelDebug is the severity for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity for informational messages.
	LevelInfo
	// LevelWarn is the severity for warnings.
	LevelWarn
	// LevelError is the severity for errors.
	LevelError
	// LevelPanic is the severity for panic messages.
	LevelPanic
	// LevelFatal is the severity for fatal errors.
	LevelFatal
	// levelHighest is the highest externally visible level
	levelHighest
)

// Logger is the interface for producing log messages for/from a particular source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Panic formats and emits an error message then panics with the same.
	Panic(format string, args ...interface{})
	// Fatal formats and emits an error message and os.Exit()'s with status 1.
	Fatal(format string, args ...interface{})

	// DebugBlock formats and emits a multiline debug message.
	DebugBlock(prefix string, format string, args ...interface{})
	// InfoBlock formats and emits a multiline information message.
	InfoBlock(prefix string, format string, args ...interface{})
	// WarnBlock formats and emits a multiline warning message.
	WarnBlock(prefix string, format string, args ...interface{})
	// ErrorBlock formats and emits a multiline error message.
	ErrorBlock(prefix string, format string, args ...interface{})

	// EnableDebug enables debug messages for this Logger.
	EnableDebug(bool) bool
	// DebugEnabled checks if debug messages are enabled for this Logger.
	DebugEnabled() bool

	// Source returns the source name of this Logger.
	Source() string
}

// logger implements Logger for a single source.
type logger struct {
	source string
	debug  int32
}

// EnableDebug enables/disables debug logging for this logger.
func (l *logger) EnableDebug(state bool) bool {
	value := int32(0)
	if state {
		value = 1
	}
	return atomic.SwapInt32(&l.debug, value) != 0
}

// DebugEnabled checks debug logging is enabled for this logger.
func (l *logger) DebugEnabled() bool {
	return atomic.LoadInt32(&l.debug) != 0
}

// Source returns the source for the given logger.
func (l *logger) Source() string {
	return l.source
}

// Debug logs a debug message.
func (l *logger) Debug(format string, args ...interface{}) {
	if !l.DebugEnabled() {
		return
	}
	log.backend().Log(LevelDebug, l.source, format, args...)
}

// Info logs a informational message.
func (l *logger) Info(format string, args ...interface{}) {
	l.emit(LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *logger) Warn(format string, args ...interface{}) {
	l.emit(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *logger) Error(format string, args ...interface{}) {
	l.emit(LevelError, format, args...)
}

// Fatal logs a fatal error message and os.Exit(1)'s.
func (l *logger) Fatal(format string, args ...interface{}) {
	b := log.backend()
	b.Log(LevelFatal, l.source, format, args...)
	b.Sync()
	os.Exit(1)
}

// Panic logs a panic message and panic()'s.
func (l *logger) Panic(format string, args ...interface{}) {
	b := log.backend()
	b.Log(LevelPanic, l.source, format, args...)
	b.Sync()
	panic(fmt.Sprintf(l.source+": "+format, args...))
}

// DebugBlock logs a multi-line debug message.
func (l *logger) DebugBlock(prefix string, format string, args ...interface{}) {
	if !l.DebugEnabled() {
		return
	}
	log.backend().Block(LevelDebug, l.source, prefix, format, args...)
}

// InfoBlock logs a multi-line informational message.
func (l *logger) InfoBlock(prefix string, format string, args ...interface{}) {
	l.emitBlock(LevelInfo, prefix, format, args...)
}

// WarnBlock logs a multi-line warning message.
func (l *logger) WarnBlock(prefix string, format string, args ...interface{}) {
	l.emitBlock(LevelWarn, prefix, format, args...)
}

// ErrorBlock logs a multi-line error message.
func (l *logger) ErrorBlock(prefix string, format string, args ...interface{}) {
	l.emitBlock(LevelError, prefix, format, args...)
}

func (l *logger) emit(level Level, format string, args ...interface{}) {
	if level < log.getLevel() {
		return
	}
	log.backend().Log(level, l.source, format, args...)
}

func (l *logger) emitBlock(level Level, prefix, format string, args ...interface{}) {
	if level < log.getLevel() {
		return
	}
	log.backend().Block(level, l.source, prefix, format, args...)
}
