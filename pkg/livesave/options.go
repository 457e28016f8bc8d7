// Copyright 2022 Intel Corporation. All Rights Reserved.
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

package livesave

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/intel/livesave/pkg/config"
)

const (
	// DefaultMaxDowntime is the default pause time budget of the final pass.
	DefaultMaxDowntime = 250 * time.Millisecond
	// DefaultMaxPasses is the default limit of live passes before forcing the final one.
	DefaultMaxPasses = 1000
	// DefaultYieldInterval is the default number of pages between lock yields.
	DefaultYieldInterval = 0x800
	// DefaultMinUnchangedScans is the default number of scans an MMIO2 page must stay unchanged.
	DefaultMinUnchangedScans = 3

	// minDowntime is the smallest pause time budget used for voting.
	minDowntime = 32 * time.Millisecond
)

// Config is the configuration of live save operations.
type Config struct {
	// MaxDowntime is the pause time budget of the final pass.
	MaxDowntime config.Duration `json:"maxDowntime"`
	// MaxPasses is the maximum number of live passes.
	MaxPasses int `json:"maxPasses"`
	// VerifyDigests enables RAM page digest self-checks.
	VerifyDigests bool `json:"verifyDigests"`
	// YieldInterval is the number of pages between lock yields, a power of 2.
	YieldInterval int `json:"yieldInterval"`
	// MinUnchangedScans is the number of scans an MMIO2 page must stay unchanged to be saved.
	MinUnchangedScans int `json:"minUnchangedScans"`
}

// Reset resets the configuration to the defaults.
func (c *Config) Reset() {
	*c = Config{
		MaxDowntime:       config.Duration(DefaultMaxDowntime),
		MaxPasses:         DefaultMaxPasses,
		VerifyDigests:     true,
		YieldInterval:     DefaultYieldInterval,
		MinUnchangedScans: DefaultMinUnchangedScans,
	}
}

// Describe describes the configuration.
func (c *Config) Describe() string {
	return configHelp
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.MaxDowntime < 0 {
		result = multierror.Append(result, errors.Errorf("livesave: invalid maxDowntime %s", time.Duration(c.MaxDowntime)))
	}
	if c.MaxPasses < 1 {
		result = multierror.Append(result, errors.Errorf("livesave: invalid maxPasses %d", c.MaxPasses))
	}
	if n := c.YieldInterval; n < 2 || n&(n-1) != 0 {
		result = multierror.Append(result,
			errors.Errorf("livesave: yieldInterval %d is not a power of 2", n))
	}
	if c.MinUnchangedScans < 0 || c.MinUnchangedScans > 0xff {
		result = multierror.Append(result,
			errors.Errorf("livesave: minUnchangedScans %d out of range", c.MinUnchangedScans))
	}

	return result.ErrorOrNil()
}

// opt is the runtime configuration.
var opt = &Config{}

// CurrentConfig returns a copy of the active runtime configuration.
func CurrentConfig() Config {
	return *opt
}

// Option sets an option of a live save operation.
type Option func(*Handle)

// WithConfig replaces the full configuration.
func WithConfig(cfg Config) Option {
	return func(h *Handle) {
		h.cfg = cfg
	}
}

// WithMaxDowntime sets the pause time budget of the final pass.
func WithMaxDowntime(d time.Duration) Option {
	return func(h *Handle) {
		h.cfg.MaxDowntime = config.Duration(d)
	}
}

// WithMaxPasses sets the maximum number of live passes.
func WithMaxPasses(n int) Option {
	return func(h *Handle) {
		h.cfg.MaxPasses = n
	}
}

// WithYieldInterval sets the number of pages between lock yields.
func WithYieldInterval(n int) Option {
	return func(h *Handle) {
		h.cfg.YieldInterval = n
	}
}

// WithMinUnchangedScans sets the number of scans an MMIO2 page must stay unchanged.
func WithMinUnchangedScans(n int) Option {
	return func(h *Handle) {
		h.cfg.MinUnchangedScans = n
	}
}

// WithVerifyDigests enables or disables RAM digest self-checks.
func WithVerifyDigests(enable bool) Option {
	return func(h *Handle) {
		h.cfg.VerifyDigests = enable
	}
}

// WithClock sets the time source used for transfer rate estimation.
func WithClock(now func() time.Time) Option {
	return func(h *Handle) {
		h.now = now
	}
}

// WithProgress sets a function to receive completion percentages after each vote.
func WithProgress(fn func(pass, percent uint32)) Option {
	return func(h *Handle) {
		h.progress = fn
	}
}

const configHelp = `Live save of guest memory. The pause time budget of the final pass,
the maximum number of live passes, RAM digest self-checks, the number of pages
between lock yields and the number of scans MMIO2 pages need to stay unchanged
before being saved can be set, for instance:

  livesave:
    maxDowntime: 100ms
    maxPasses: 64
    verifyDigests: false`

func init() {
	config.MustRegister("livesave", opt)
}
