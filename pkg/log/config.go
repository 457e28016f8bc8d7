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
	"encoding/json"
	"strings"

	pkgcfg "github.com/intel/livesave/pkg/config"
)

const (
	// DefaultLevel is the default logging severity level.
	DefaultLevel = LevelInfo
	// configModule is our path in the runtime configuration.
	configModule = "logger"
)

// options is our runtime configuration fragment.
type options struct {
	// Level is the lowest severity to pass through.
	Level Level `json:"level"`
	// Debug lists sources to enable ("src", "on:src") or disable ("off:src") debugging for.
	Debug []string `json:"debug,omitempty"`
	// Backend is the name of the backend to use.
	Backend string `json:"backend"`
	// Klog is passed to klog as flags when the klog backend is used.
	Klog map[string]string `json:"klog,omitempty"`
}

var opt = &options{}

// Reset resets options to their defaults.
func (o *options) Reset() {
	*o = options{
		Level:   DefaultLevel,
		Backend: FmtBackendName,
	}
}

// Describe describes the logger configuration.
func (o *options) Describe() string {
	return configHelp
}

// Validate checks the logger configuration.
func (o *options) Validate() error {
	log.RLock()
	_, ok := log.backends[o.Backend]
	log.RUnlock()
	if !ok {
		return loggerError("unknown logger backend %q", o.Backend)
	}
	for name := range o.Klog {
		if klogFlags.Lookup(name) == nil {
			return loggerError("unknown klog option %q", name)
		}
	}
	for _, entry := range o.Debug {
		if _, _, err := parseDebugEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

// configNotify activates a new configuration.
func (o *options) configNotify() error {
	if err := configureKlog(o.Klog); err != nil {
		return err
	}
	if err := SetBackend(o.Backend); err != nil {
		return err
	}
	SetLevel(o.Level)

	log.Lock()
	log.debug = map[string]bool{}
	for _, entry := range o.Debug {
		src, state, _ := parseDebugEntry(entry)
		log.debug[src] = state
	}
	log.updateDebug()
	log.Unlock()

	deflog.Info("logger configuration updated: level %s, backend %s, debug %s",
		o.Level, o.Backend, strings.Join(o.Debug, ","))

	return nil
}

// parseDebugEntry parses an "[on:|off:]source" entry.
func parseDebugEntry(entry string) (string, bool, error) {
	state, src := "on", entry
	if split := strings.SplitN(entry, ":", 2); len(split) == 2 {
		state, src = split[0], split[1]
	}
	src = canonicalSource(src)
	if src == "" {
		return "", false, loggerError("invalid debug source entry %q", entry)
	}
	switch strings.ToLower(state) {
	case "on", "true", "enable":
		return src, true, nil
	case "off", "false", "disable":
		return src, false, nil
	}
	return "", false, loggerError("invalid state %q in debug entry %q", state, entry)
}

// ParseLevel parses a level name.
func ParseLevel(value string) (Level, error) {
	levels := map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"panic":   LevelPanic,
		"fatal":   LevelFatal,
	}
	level, ok := levels[strings.ToLower(value)]
	if !ok {
		return LevelInfo, loggerError("invalid logging level %q", value)
	}
	return level, nil
}

// String returns the name of the level.
func (l Level) String() string {
	names := map[Level]string{
		LevelDebug: "debug",
		LevelInfo:  "info",
		LevelWarn:  "warning",
		LevelError: "error",
		LevelFatal: "fatal",
		LevelPanic: "panic",
	}
	if level, ok := names[l]; ok {
		return level
	}
	return names[LevelInfo]
}

// MarshalJSON is the JSON marshaller for Level.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON is the JSON unmarshaller for Level.
func (l *Level) UnmarshalJSON(raw []byte) error {
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return loggerError("invalid logging level %s: %v", string(raw), err)
	}
	level, err := ParseLevel(name)
	if err != nil {
		return err
	}
	*l = level
	return nil
}

const configHelp = `Logging and debugging messages. The lowest severity to pass through,
the backend (fmt or klog), klog options and the sources to produce debug
messages for can be set, for instance:

  logger:
    level: warning
    backend: klog
    debug: [livesave, "off:guestmem"]
    klog:
      v: "2"`

func init() {
	cfglog := log.get("config")
	pkgcfg.SetLogger(pkgcfg.Logger{
		DebugEnabled: cfglog.DebugEnabled,
		Debug:        cfglog.Debug,
		Info:         cfglog.Info,
		Warning:      cfglog.Warn,
		Error:        cfglog.Error,
	})

	pkgcfg.MustRegister(configModule, opt, pkgcfg.WithNotify(opt.configNotify))
}
