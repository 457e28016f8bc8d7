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
	"sync"
	"time"

	goxrate "golang.org/x/time/rate"
)

// Rate is the rate messages of the same kind are let through at.
type Rate struct {
	// Limit is the sustained rate.
	Limit goxrate.Limit
	// Burst is the number of messages let through at once.
	Burst int
	// Window is the number of message kinds tracked.
	Window int
}

const (
	// DefaultWindow is the default number of message kinds tracked.
	DefaultWindow = 64
	// MinimumWindow is the smallest number of message kinds tracked.
	MinimumWindow = 8
)

// Every returns the limit of one message per interval.
func Every(interval time.Duration) goxrate.Limit {
	return goxrate.Every(interval)
}

// Interval returns a Rate of one message per interval.
func Interval(interval time.Duration) Rate {
	return Rate{Limit: Every(interval), Burst: 1}
}

// kind is the rate limiting state of messages sharing a format string.
type kind struct {
	lim        *goxrate.Limiter
	suppressed int
}

// ratelimited is a Logger which limits the rate of messages by format string,
// so a flood of messages differing only in their arguments (page addresses,
// counts) collapses into a trickle with the number of suppressed ones noted.
type ratelimited struct {
	Logger
	sync.Mutex
	rate   Rate
	kinds  map[string]*kind
	window []string // tracked format strings, oldest evicted first
	next   int
}

// RateLimit returns a rate-limited version of the given Logger.
func RateLimit(l Logger, rate Rate) Logger {
	switch {
	case rate.Window == 0:
		rate.Window = DefaultWindow
	case rate.Window < MinimumWindow:
		rate.Window = MinimumWindow
	}
	if rate.Burst < 1 {
		rate.Burst = 1
	}
	return &ratelimited{
		Logger: l,
		rate:   rate,
		kinds:  make(map[string]*kind),
		window: make([]string, rate.Window),
	}
}

func (rl *ratelimited) Debug(format string, args ...interface{}) {
	if !rl.Logger.DebugEnabled() {
		return
	}
	if msg, ok := rl.filter(format, args...); ok {
		rl.Logger.Debug("%s", msg)
	}
}

func (rl *ratelimited) Info(format string, args ...interface{}) {
	if msg, ok := rl.filter(format, args...); ok {
		rl.Logger.Info("%s", msg)
	}
}

func (rl *ratelimited) Warn(format string, args ...interface{}) {
	if msg, ok := rl.filter(format, args...); ok {
		rl.Logger.Warn("%s", msg)
	}
}

func (rl *ratelimited) Error(format string, args ...interface{}) {
	if msg, ok := rl.filter(format, args...); ok {
		rl.Logger.Error("%s", msg)
	}
}

// filter checks if a message is within the limit of its kind, formatting it
// with the number of messages suppressed since the last one let through.
func (rl *ratelimited) filter(format string, args ...interface{}) (string, bool) {
	rl.Lock()
	k := rl.kindOf(format)
	if !k.lim.Allow() {
		k.suppressed++
		rl.Unlock()
		return "", false
	}
	suppressed := k.suppressed
	k.suppressed = 0
	rl.Unlock()

	msg := fmt.Sprintf(format, args...)
	if suppressed > 0 {
		msg += fmt.Sprintf(" (%d similar messages suppressed)", suppressed)
	}
	return msg, true
}

// kindOf returns the state for a format string, evicting the oldest one if necessary.
func (rl *ratelimited) kindOf(format string) *kind {
	if k, ok := rl.kinds[format]; ok {
		return k
	}

	if old := rl.window[rl.next]; old != "" {
		delete(rl.kinds, old)
	}
	rl.window[rl.next] = format
	rl.next = (rl.next + 1) % len(rl.window)

	k := &kind{lim: goxrate.NewLimiter(rl.rate.Limit, rl.rate.Burst)}
	rl.kinds[format] = k

	return k
}
