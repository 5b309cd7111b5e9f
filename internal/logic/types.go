// Package logic contains the pure attenuation decision logic.
// This package has NO external dependencies (no MQTT, motors, OS, or clocks).
// Callers pass in everything a decision needs and act on the result.
package logic

import (
	"fmt"
	"strings"
)

// State is the supervisory state of the controller.
type State string

const (
	StateStarting State = "STARTING"
	StateWaiting  State = "WAITING"
	StateActive   State = "ACTIVE"
	StateError    State = "ERROR"

	// StateSingleshotWaiting is the singleshot rest state: no cycle armed.
	StateSingleshotWaiting State = "SINGLESHOT_WAITING"
	// StateSingleshotComplete follows the one cycle a singleshot arms.
	StateSingleshotComplete State = "SINGLESHOT_COMPLETE"
)

// Resting reports whether s is a state with no move in flight and no latched
// error, from which an administrative move may start.
func (s State) Resting() bool {
	switch s {
	case StateWaiting, StateSingleshotWaiting, StateSingleshotComplete:
		return true
	}
	return false
}

// ErrorCode is the latched error reported while in StateError.
type ErrorCode string

const (
	NoError             ErrorCode = "NO_ERROR"
	MaxAttenuationError ErrorCode = "MAX_ATTENUATION_ERROR"
	MoveFailureError    ErrorCode = "MOVE_FAILURE_ERROR"
)

// Mode is the aggregation policy combining per-source threshold flags.
type Mode string

const (
	// ModeManual never changes attenuation automatically.
	ModeManual Mode = "manual"
	// ModeAny raises attenuation when any live source is over threshold.
	ModeAny Mode = "any"
	// ModeAll raises attenuation only when every live source is over threshold.
	ModeAll Mode = "all"
	// ModeMajority raises attenuation when more than half the live sources are over.
	ModeMajority Mode = "majority"
	// ModeSingleshot runs one decision cycle, with any-source aggregation,
	// each time the singleshot command arms it.
	ModeSingleshot Mode = "singleshot"
)

// DefaultMode is used when no mode is configured.
const DefaultMode = ModeAny

// Modes lists every supported aggregation policy.
var Modes = []Mode{ModeManual, ModeAny, ModeAll, ModeMajority, ModeSingleshot}

// legacyModes maps the numeric modes sent by the EPICS wrapper
// (0 = MANUAL, 1 = CONTINUOUS, 2 = SINGLESHOT).
var legacyModes = map[int]Mode{0: ModeManual, 1: ModeAny, 2: ModeSingleshot}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// ModeFromIndex converts a numeric wrapper mode.
func ModeFromIndex(i int) (Mode, error) {
	m, ok := legacyModes[i]
	if !ok {
		return "", fmt.Errorf("unknown mode %d", i)
	}
	return m, nil
}

// Trigger selects which observations start a decision cycle.
type Trigger string

const (
	// TriggerEdge runs a cycle when a source crosses a threshold.
	TriggerEdge Trigger = "edge"
	// TriggerLevel runs a cycle on every event beyond a threshold.
	TriggerLevel Trigger = "level"
)

// ParseTrigger validates a trigger name.
func ParseTrigger(s string) (Trigger, error) {
	switch t := Trigger(strings.ToLower(strings.TrimSpace(s))); t {
	case TriggerEdge, TriggerLevel:
		return t, nil
	}
	return "", fmt.Errorf("unknown trigger %q", s)
}

// Source is the aggregation view of one detector channel.
type Source struct {
	Alive bool // reported, and within the liveness timeout if one is set
	Over  bool // last count above the pixel count threshold
	Under bool // last count below the decrease threshold
}

// Policy carries the configuration a decision depends on.
type Policy struct {
	Mode          Mode
	AllowDecrease bool
}
