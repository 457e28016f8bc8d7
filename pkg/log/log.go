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
	"strings"
	"sync"
)

// logging is our runtime state.
type logging struct {
	sync.RWMutex
	level    Level                // lowest unsuppressed severity
	active   Backend              // active backend
	backends map[string]BackendFn // registered backends
	loggers  map[string]*logger   // loggers by source
	debug    map[string]bool      // configured debug state by source, "*" for all
	align    int                  // longest source name seen
}

var log = &logging{
	level:    DefaultLevel,
	backends: map[string]BackendFn{},
	loggers:  map[string]*logger{},
	debug:    map[string]bool{},
}

// NewLogger creates a logger for the given source, or returns the existing one.
func NewLogger(source string) Logger {
	return log.get(source)
}

// Get returns the logger for the given source, creating it if necessary.
func Get(source string) Logger {
	return log.get(source)
}

// SetLevel sets the lowest severity of messages to pass through.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.level = level
}

// SetBackend activates the named backend.
func SetBackend(name string) error {
	log.Lock()
	defer log.Unlock()
	return log.setBackend(name)
}

// EnableDebug sets debugging for the given sources, "*" or "all" meaning every source.
func EnableDebug(state bool, sources ...string) {
	log.Lock()
	defer log.Unlock()
	for _, src := range sources {
		log.debug[canonicalSource(src)] = state
	}
	log.updateDebug()
}

// Flush waits for all messages queued in the active backend to get emitted.
func Flush() {
	log.backend().Sync()
}

func (l *logging) get(source string) *logger {
	source = strings.Trim(source, "[] ")

	l.RLock()
	lg, ok := l.loggers[source]
	l.RUnlock()
	if ok {
		return lg
	}

	l.Lock()
	defer l.Unlock()

	if lg, ok = l.loggers[source]; ok {
		return lg
	}
	lg = &logger{source: source}
	if l.debugState(source) {
		lg.debug = 1
	}
	l.loggers[source] = lg
	if len(source) > l.align {
		l.align = len(source)
		if l.active != nil {
			l.active.SetSourceAlignment(l.align)
		}
	}

	return lg
}

func (l *logging) backend() Backend {
	l.RLock()
	b := l.active
	l.RUnlock()
	if b != nil {
		return b
	}

	l.Lock()
	defer l.Unlock()
	if l.active == nil {
		l.active = createFmtBackend()
		l.active.SetSourceAlignment(l.align)
	}
	return l.active
}

func (l *logging) getLevel() Level {
	l.RLock()
	defer l.RUnlock()
	return l.level
}

func (l *logging) setBackend(name string) error {
	if l.active != nil && l.active.Name() == name {
		return nil
	}
	fn, ok := l.backends[name]
	if !ok {
		return loggerError("unknown logger backend %q", name)
	}
	if l.active != nil {
		l.active.Sync()
		l.active.Stop()
	}
	l.active = fn()
	l.active.SetSourceAlignment(l.align)
	return nil
}

// debugState returns the configured debug state for a source.
func (l *logging) debugState(source string) bool {
	if state, ok := l.debug[source]; ok {
		return state
	}
	return l.debug["*"]
}

// updateDebug propagates the configured debug states to all loggers.
func (l *logging) updateDebug() {
	for source, lg := range l.loggers {
		lg.EnableDebug(l.debugState(source))
	}
}

func canonicalSource(source string) string {
	source = strings.TrimSpace(source)
	if source == "all" {
		return "*"
	}
	return source
}

// loggerError produces a formatted logger-specific error.
func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}
