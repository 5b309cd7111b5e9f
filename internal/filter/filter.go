// Package filter maps attenuation levels onto the physical filter set.
//
// Filter i carries weight 1<<i, so an attenuation level and the bitmask of
// inserted filters are the same integer. Every level in [0, MaxAttenuation]
// has exactly one filter configuration.
package filter

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxFilters bounds the filter count so levels fit comfortably in an int.
const MaxFilters = 16

// Filter is one attenuating element driven by its own motor axis.
type Filter struct {
	Axis int
	In   float64 // motor position with the filter in the beam
	Out  float64 // motor position with the filter out of the beam
}

// Travel returns the signed relative jog that moves the filter in.
func (f Filter) Travel() float64 {
	return f.In - f.Out
}

// Set is the ordered filter list. Index i maps to bit i of the level.
type Set struct {
	Filters []Filter
}

// Len returns the number of filters.
func (s Set) Len() int {
	return len(s.Filters)
}

// MaxAttenuation is the level with every filter in.
func (s Set) MaxAttenuation() int {
	if len(s.Filters) == 0 {
		return 0
	}
	return 1<<len(s.Filters) - 1
}

// Contains reports whether level is representable by this set.
func (s Set) Contains(level int) bool {
	return level >= 0 && level <= s.MaxAttenuation()
}

// Axes returns the motor axes of all filters in index order.
func (s Set) Axes() []int {
	axes := make([]int, len(s.Filters))
	for i, f := range s.Filters {
		axes[i] = f.Axis
	}
	return axes
}

// Inserted returns, per filter, whether it is in the beam at level.
func (s Set) Inserted(level int) []bool {
	in := make([]bool, len(s.Filters))
	for i := range s.Filters {
		in[i] = level&(1<<i) != 0
	}
	return in
}

// MaxTravel returns the largest absolute travel among the given filters.
func (s Set) MaxTravel(indices []int) float64 {
	var max float64
	for _, i := range indices {
		if d := math.Abs(s.Filters[i].Travel()); d > max {
			max = d
		}
	}
	return max
}

// Plan lists the filters that must move to go from one level to another.
// In holds filters entering the beam, Out filters leaving it; both are
// filter indices in ascending order.
type Plan struct {
	From int
	To   int
	In   []int
	Out  []int
}

// Empty reports whether nothing has to move.
func (p Plan) Empty() bool {
	return len(p.In) == 0 && len(p.Out) == 0
}

// NewPlan computes the moves from current to target for a set of n filters.
// A filter moves in when its target bit is 1 and its current bit is 0, and
// out when its target bit is 0 and its current bit is 1.
func NewPlan(current, target, n int) Plan {
	p := Plan{From: current, To: target}
	for i := 0; i < n; i++ {
		bit := 1 << i
		switch {
		case target&bit != 0 && current&bit == 0:
			p.In = append(p.In, i)
		case target&bit == 0 && current&bit != 0:
			p.Out = append(p.Out, i)
		}
	}
	return p
}

// Key returns the protocol name of filter index i ("filter1" for index 0).
func Key(i int) string {
	return "filter" + strconv.Itoa(i+1)
}

// ParseKey converts a protocol filter name back to an index in a set of n.
func ParseKey(key string, n int) (int, error) {
	num, ok := strings.CutPrefix(key, "filter")
	if !ok {
		return 0, fmt.Errorf("unknown filter %q", key)
	}
	i, err := strconv.Atoi(num)
	if err != nil || i < 1 || i > n {
		return 0, fmt.Errorf("unknown filter %q", key)
	}
	return i - 1, nil
}
