package motion

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// FakeController simulates axes that settle after a number of status polls.
// It keeps a log of every command and every settled readback so tests can
// check ordering.
type FakeController struct {
	mu sync.Mutex

	// SettlePolls is how many Status calls an axis reports moving after it
	// is commanded. Zero means it is in position on the first poll.
	SettlePolls int

	// JogError, if set, will be returned by Jog and MoveAbsolute.
	JogError error
	// StatusError, if set, will be returned by Status.
	StatusError error

	positions map[int]float64
	remaining map[int]int
	stuck     map[int]bool
	faults    map[int]bool
	groups    [][]Jog
	absolute  []Jog
	log       []string
	closed    bool
}

// NewFakeController creates a fake with every axis idle at zero.
func NewFakeController() *FakeController {
	return &FakeController{
		positions: make(map[int]float64),
		remaining: make(map[int]int),
		stuck:     make(map[int]bool),
		faults:    make(map[int]bool),
	}
}

// Stick makes axis never reach position.
func (f *FakeController) Stick(axis int) {
	f.mu.Lock()
	f.stuck[axis] = true
	f.mu.Unlock()
}

// Release lets a stuck axis reach position again.
func (f *FakeController) Release(axis int) {
	f.mu.Lock()
	delete(f.stuck, axis)
	f.mu.Unlock()
}

// Fault makes axis report a fault.
func (f *FakeController) Fault(axis int, on bool) {
	f.mu.Lock()
	f.faults[axis] = on
	f.mu.Unlock()
}

// Jog records the group and starts the axes moving.
func (f *FakeController) Jog(_ context.Context, group []Jog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.JogError != nil {
		return f.JogError
	}
	f.groups = append(f.groups, append([]Jog(nil), group...))
	axes := make([]int, len(group))
	for i, j := range group {
		f.positions[j.Axis] += j.Distance
		f.remaining[j.Axis] = f.SettlePolls
		axes[i] = j.Axis
	}
	f.log = append(f.log, "jog "+axisList(axes))
	return nil
}

// MoveAbsolute records the move.
func (f *FakeController) MoveAbsolute(_ context.Context, axis int, pos float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.JogError != nil {
		return f.JogError
	}
	f.absolute = append(f.absolute, Jog{Axis: axis, Distance: pos})
	f.positions[axis] = pos
	f.remaining[axis] = f.SettlePolls
	f.log = append(f.log, "move "+axisList([]int{axis}))
	return nil
}

// Status advances every queried axis by one poll.
func (f *FakeController) Status(_ context.Context, axes []int) ([]AxisStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StatusError != nil {
		return nil, f.StatusError
	}
	out := make([]AxisStatus, len(axes))
	settled := true
	for i, a := range axes {
		in := !f.stuck[a] && f.remaining[a] == 0
		if f.remaining[a] > 0 {
			f.remaining[a]--
		}
		out[i] = AxisStatus{Axis: a, InPosition: in, Fault: f.faults[a]}
		settled = settled && in
	}
	if settled && len(axes) > 0 {
		f.log = append(f.log, "settled "+axisList(axes))
	}
	return out, nil
}

// Close marks the controller closed.
func (f *FakeController) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Groups returns every jog group in command order.
func (f *FakeController) Groups() [][]Jog {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]Jog, len(f.groups))
	for i, g := range f.groups {
		out[i] = append([]Jog(nil), g...)
	}
	return out
}

// Absolute returns every absolute move, with the target in Distance.
func (f *FakeController) Absolute() []Jog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Jog(nil), f.absolute...)
}

// Position returns the commanded position of axis.
func (f *FakeController) Position(axis int) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions[axis]
}

// Log returns the command and readback log, e.g. "jog 1,3", "settled 1,3".
func (f *FakeController) Log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

// Closed reports whether Close was called.
func (f *FakeController) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func axisList(axes []int) string {
	s := append([]int(nil), axes...)
	sort.Ints(s)
	parts := make([]string, len(s))
	for i, a := range s {
		parts[i] = fmt.Sprint(a)
	}
	return strings.Join(parts, ",")
}
