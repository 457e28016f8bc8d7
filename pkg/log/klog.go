// Copyright 2021 Intel Corporation. All Rights Reserved.
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
	"flag"
	"fmt"
	"sort"
	"strings"

	"k8s.io/klog/v2"
)

const (
	// KlogBackendName is the name of the klog-based logging backend.
	KlogBackendName = "klog"
	// klogDepth is the call depth klog attributes messages to.
	klogDepth = 3
)

// klogFlags holds klog's own flags, set from the logger configuration.
var klogFlags = flag.NewFlagSet("klog", flag.ContinueOnError)

// klogBackend emits messages using klog.
type klogBackend struct {
	align int
}

func createKlogBackend() Backend {
	return &klogBackend{}
}

func (*klogBackend) Name() string {
	return KlogBackendName
}

func (k *klogBackend) Log(level Level, source, format string, args ...interface{}) {
	k.emit(level, k.prefix(source), fmt.Sprintf(format, args...))
}

func (k *klogBackend) Block(level Level, source, prefix, format string, args ...interface{}) {
	pfx := k.prefix(source) + prefix
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		k.emit(level, pfx, line)
	}
}

func (*klogBackend) Sync() {
	klog.Flush()
}

func (*klogBackend) Stop() {
	klog.Flush()
}

func (k *klogBackend) SetSourceAlignment(length int) {
	k.align = length
}

func (k *klogBackend) prefix(source string) string {
	return fmt.Sprintf("[%*s] ", k.align, source)
}

func (k *klogBackend) emit(level Level, prefix, msg string) {
	switch level {
	case LevelDebug:
		klog.InfoDepth(klogDepth, "D: "+prefix+msg)
	case LevelInfo:
		klog.InfoDepth(klogDepth, prefix+msg)
	case LevelWarn:
		klog.WarningDepth(klogDepth, prefix+msg)
	default:
		klog.ErrorDepth(klogDepth, prefix+msg)
	}
}

// configureKlog sets the given klog flags.
func configureKlog(settings map[string]string) error {
	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := settings[name]
		if klogFlags.Lookup(name) == nil {
			return loggerError("unknown klog option %q", name)
		}
		if name == "stderrthreshold" { // klog expects thresholds in ALL CAPS
			value = strings.ToUpper(value)
		}
		if err := klogFlags.Set(name, value); err != nil {
			return loggerError("failed to set klog option %q to %q: %v", name, value, err)
		}
	}
	return nil
}

func init() {
	klog.InitFlags(klogFlags)
	RegisterBackend(KlogBackendName, createKlogBackend)
}
