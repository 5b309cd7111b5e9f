package motion

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/sweeney/filter-control/internal/filter"
)

// Timing bounds how long a move may take.
type Timing struct {
	// JogSpeed in motor units per second. Zero means only Base applies.
	JogSpeed float64
	// Base is added to every wait.
	Base time.Duration
	// Poll is the status readback interval.
	Poll time.Duration
	// Settle is how long after a command an axis that was never seen moving
	// must wait before it counts as in position. The controller can report
	// the previous in-position bit until the move actually starts.
	Settle time.Duration
}

// Timeout returns the completion wait for a move of the given travel.
func (t Timing) Timeout(travel float64) time.Duration {
	d := t.Base
	if t.JogSpeed > 0 {
		d += time.Duration(math.Abs(travel) / t.JogSpeed * float64(time.Second))
	}
	return d
}

// Shutter is the beam shutter used by the emergency action.
type Shutter struct {
	Axis   int
	Closed float64
	Open   float64
}

// Sequencer turns filter plans into controller commands.
type Sequencer struct {
	ctl     Controller
	timing  Timing
	shutter Shutter
}

// NewSequencer creates a sequencer driving ctl.
func NewSequencer(ctl Controller, timing Timing, shutter Shutter) *Sequencer {
	if timing.Poll <= 0 {
		timing.Poll = 50 * time.Millisecond
	}
	return &Sequencer{ctl: ctl, timing: timing, shutter: shutter}
}

// SetShutter changes the shutter target. Not safe to call during a move.
func (s *Sequencer) SetShutter(sh Shutter) {
	s.shutter = sh
}

// Shutter returns the configured shutter.
func (s *Sequencer) Shutter() Shutter {
	return s.shutter
}

// Apply executes plan in two phases. Every filter moving in is jogged as one
// group and confirmed in position before any filter moving out is jogged, so
// the beam is never less attenuated than both endpoints during the move.
func (s *Sequencer) Apply(ctx context.Context, set filter.Set, plan filter.Plan) error {
	if err := s.phase(ctx, "in", set, plan.In, 1); err != nil {
		return err
	}
	return s.phase(ctx, "out", set, plan.Out, -1)
}

func (s *Sequencer) phase(ctx context.Context, name string, set filter.Set, indices []int, sign float64) error {
	if len(indices) == 0 {
		return nil
	}
	group := make([]Jog, len(indices))
	axes := make([]int, len(indices))
	for i, idx := range indices {
		f := set.Filters[idx]
		group[i] = Jog{Axis: f.Axis, Distance: sign * f.Travel()}
		axes[i] = f.Axis
	}

	if err := s.ctl.Jog(ctx, group); err != nil {
		return &MoveFailure{Phase: name, Axes: axes, Err: err}
	}
	if err := s.wait(ctx, axes, s.timing.Timeout(set.MaxTravel(indices))); err != nil {
		return &MoveFailure{Phase: name, Axes: axes, Err: err}
	}
	return nil
}

// Emergency drives the shutter to its closed position and waits for it.
func (s *Sequencer) Emergency(ctx context.Context) error {
	axes := []int{s.shutter.Axis}
	log.Printf("motion: closing shutter axis=%d position=%g", s.shutter.Axis, s.shutter.Closed)
	if err := s.ctl.MoveAbsolute(ctx, s.shutter.Axis, s.shutter.Closed); err != nil {
		return &MoveFailure{Phase: "shutter", Axes: axes, Err: err}
	}
	timeout := s.timing.Timeout(s.shutter.Closed - s.shutter.Open)
	if err := s.wait(ctx, axes, timeout); err != nil {
		return &MoveFailure{Phase: "shutter", Axes: axes, Err: err}
	}
	return nil
}

// Ready reads back axes once and fails if any reports a fault.
func (s *Sequencer) Ready(ctx context.Context, axes []int) error {
	st, err := s.ctl.Status(ctx, axes)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	for _, a := range st {
		if a.Fault {
			return fmt.Errorf("axis %d: %w", a.Axis, ErrFault)
		}
	}
	return nil
}

// wait polls until every axis is in position, any axis faults, or the
// timeout expires. An axis only counts once it has been seen moving or the
// settle time has passed.
func (s *Sequencer) wait(ctx context.Context, axes []int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	moved := make(map[int]bool, len(axes))

	ticker := time.NewTicker(s.timing.Poll)
	defer ticker.Stop()

	for {
		st, err := s.ctl.Status(ctx, axes)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w after %s", ErrTimeout, timeout)
			}
			return fmt.Errorf("read status: %w", err)
		}
		settled := true
		for _, a := range st {
			if a.Fault {
				return fmt.Errorf("axis %d: %w", a.Axis, ErrFault)
			}
			if !a.InPosition {
				settled = false
				moved[a.Axis] = true
			}
		}
		if settled && (len(moved) == len(axes) || time.Since(start) >= s.timing.Settle) {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		case <-ticker.C:
		}
	}
}
