package logic

import "github.com/sweeney/filter-control/internal/filter"

// Input is everything Decide needs for one cycle.
type Input struct {
	Level   int // current confirmed attenuation level
	Filters int // number of filters; MaxAttenuation is (1<<Filters)-1
	Sources []Source
	Policy  Policy
	// Rising is set when the cycle was started by a source going over
	// threshold. Only a rising cycle may raise attenuation.
	Rising bool
	// Falling is set when the cycle was started by a source going under the
	// decrease threshold. Only a falling cycle may lower attenuation.
	Falling bool
}

// Decision is the outcome of one decision cycle.
type Decision struct {
	// Change is the signed change requested by the aggregation policy.
	Change int
	// Level is the level to reach, after clamping.
	Level int
	// Plan lists the filter moves to reach Level. Empty for no-ops and errors.
	Plan filter.Plan
	// MinAttenuation is set when a decrease was clamped at zero.
	MinAttenuation bool
	// Error is MaxAttenuationError when the change would exceed the maximum.
	Error ErrorCode
	// Emergency requests the full-block safety action.
	Emergency bool
}

// NoOp reports whether the decision requires no motion and no error handling.
func (d Decision) NoOp() bool {
	return d.Plan.Empty() && !d.Emergency && d.Error == NoError
}

// Change computes the signed attenuation change requested by the sources.
// Only live sources take part; with no live sources nothing changes.
func Change(sources []Source, p Policy) int {
	if p.Mode == ModeManual {
		return 0
	}

	var live, over, under int
	for _, s := range sources {
		if !s.Alive {
			continue
		}
		live++
		if s.Over {
			over++
		}
		if s.Under {
			under++
		}
	}
	if live == 0 {
		return 0
	}

	var raise bool
	switch p.Mode {
	case ModeAll:
		raise = over == live
	case ModeMajority:
		raise = over*2 > live
	default:
		raise = over > 0
	}
	if raise {
		return 1
	}

	if p.AllowDecrease && under == live {
		return -1
	}
	return 0
}

// Decide computes the next attenuation level.
//
// A change below zero clamps to zero and flags MinAttenuation. A change above
// the maximum clamps, reports MaxAttenuationError and requests the emergency
// action. Otherwise the plan moves filters to the new level's bitmask.
//
// The aggregate change only applies in the direction that started the cycle:
// a source dropping under the decrease threshold never raises attenuation
// because some other source is still over.
func Decide(in Input) Decision {
	change := Change(in.Sources, in.Policy)
	if (change > 0 && !in.Rising) || (change < 0 && !in.Falling) {
		change = 0
	}
	return Target(in.Level, in.Level+change, in.Filters, change)
}

// Target computes the decision for reaching an explicit level. Decide uses it
// with current+change; the attenuation override uses it directly.
func Target(current, target, filters, change int) Decision {
	max := 0
	if filters > 0 {
		max = 1<<filters - 1
	}

	d := Decision{Change: change, Level: current, Error: NoError}
	switch {
	case change == 0 && target == current:
		return d
	case target < 0:
		d.MinAttenuation = true
		target = 0
	case target > max:
		d.Level = max
		d.Error = MaxAttenuationError
		d.Emergency = true
		return d
	}

	d.Level = target
	d.Plan = filter.NewPlan(current, target, filters)
	return d
}
