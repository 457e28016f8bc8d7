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
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/intel/livesave/pkg/stream"
)

// Controller drives save and restore operations of a memory.
type Controller struct {
	mem     Memory
	options []Option
}

// NewController creates a controller for the given memory. The options
// are applied to every save operation.
func NewController(mem Memory, options ...Option) *Controller {
	return &Controller{
		mem:     mem,
		options: options,
	}
}

// Live saves memory while the guest keeps running. Live passes are run
// until a vote or the pass limit asks for the final pass, which is run
// with pause called first. Cancellation is checked between passes.
func (c *Controller) Live(ctx context.Context, w *stream.Writer, pause func() error) (retErr error) {
	h, err := Prepare(c.mem, c.options...)
	if err != nil {
		return err
	}
	defer func() {
		if err := h.Done(); err != nil {
			retErr = multierror.Append(retErr, err).ErrorOrNil()
		}
	}()

	for pass := uint32(0); ; pass++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "live save canceled before pass %d", pass)
		}
		vote, err := c.livePass(ctx, h, w, pass)
		if err != nil {
			return err
		}
		if vote == VoteDone {
			break
		}
		if int(pass)+1 >= h.cfg.MaxPasses {
			log.Warn("live save did not converge in %d passes", h.cfg.MaxPasses)
			break
		}
	}

	if pause != nil {
		if err := pause(); err != nil {
			return errors.Wrap(err, "failed to pause for final pass")
		}
	}

	_, span := trace.StartSpan(ctx, "livesave.final")
	defer span.End()

	w.PutU32(FinalPass)
	if err := h.SaveExec(w, true); err != nil {
		span.SetStatus(trace.Status{Code: trace.StatusCodeUnknown, Message: err.Error()})
		return err
	}

	st := h.Stats()
	span.AddAttributes(trace.Int64Attribute("saved", int64(st.Saved)))
	log.Info("live save done after %d passes, %d pages saved at %d pages/s",
		st.Estimate.Pass+1, st.Saved, st.Estimate.PagesPerSecond)

	return nil
}

func (c *Controller) livePass(ctx context.Context, h *Handle, w *stream.Writer, pass uint32) (Vote, error) {
	_, span := trace.StartSpan(ctx, "livesave.pass")
	defer span.End()
	span.AddAttributes(trace.Int64Attribute("pass", int64(pass)))

	w.PutU32(pass)
	if err := h.LiveExec(w, pass); err != nil {
		span.SetStatus(trace.Status{Code: trace.StatusCodeUnknown, Message: err.Error()})
		return VoteContinue, err
	}
	vote, err := h.Vote(pass)
	if err != nil {
		return VoteContinue, err
	}

	span.AddAttributes(
		trace.Int64Attribute("dirty", int64(h.Stats().Estimate.DirtyNow)),
		trace.StringAttribute("vote", vote.String()),
	)
	return vote, nil
}

// Save saves memory in a single pass, the guest being paused.
func (c *Controller) Save(ctx context.Context, w *stream.Writer) (retErr error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, span := trace.StartSpan(ctx, "livesave.save")
	defer span.End()

	h, err := Prepare(c.mem, c.options...)
	if err != nil {
		return err
	}
	defer func() {
		if err := h.Done(); err != nil {
			retErr = multierror.Append(retErr, err).ErrorOrNil()
		}
	}()

	w.PutU32(FinalPass)
	if err := h.SaveExec(w, false); err != nil {
		span.SetStatus(trace.Status{Code: trace.StatusCodeUnknown, Message: err.Error()})
		return err
	}
	return nil
}

// Restore loads memory saved by Live or Save. Any failure leaves memory
// partially restored.
func (c *Controller) Restore(ctx context.Context, r *stream.Reader) error {
	_, span := trace.StartSpan(ctx, "livesave.restore")
	defer span.End()

	l := NewLoader(c.mem)
	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "restore canceled")
		}
		pass, err := r.GetU32()
		if err != nil {
			return readError(err)
		}
		if err := l.Load(r, pass); err != nil {
			span.SetStatus(trace.Status{Code: trace.StatusCodeUnknown, Message: err.Error()})
			return err
		}
		if pass == FinalPass {
			log.Info("restore done, %d bytes read", r.Offset())
			return nil
		}
	}
}
