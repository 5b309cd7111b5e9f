// Package motion commands the filter and shutter axes.
//
// Moves are open loop: a jog is issued and the controller's in-position and
// fault readback is polled until every axis settles or the wait times out.
package motion

import (
	"context"
	"errors"
	"fmt"
)

// Jog is one relative move of one axis.
type Jog struct {
	Axis     int
	Distance float64
}

// AxisStatus is the readback of one axis.
type AxisStatus struct {
	Axis       int
	InPosition bool
	Fault      bool
}

// Controller is the motion controller boundary.
type Controller interface {
	// Jog starts every jog in the group simultaneously. It returns once the
	// command is accepted, not when the axes arrive.
	Jog(ctx context.Context, group []Jog) error

	// Status reads back the given axes.
	Status(ctx context.Context, axes []int) ([]AxisStatus, error)

	// MoveAbsolute starts a move of axis to pos.
	MoveAbsolute(ctx context.Context, axis int, pos float64) error

	Close() error
}

var (
	// ErrTimeout is wrapped by a MoveFailure when axes do not settle in time.
	ErrTimeout = errors.New("move timed out")
	// ErrFault is wrapped by a MoveFailure when an axis reports a fault.
	ErrFault = errors.New("axis fault")
)

// MoveFailure reports a move that did not complete. The filters are in an
// unknown position afterwards.
type MoveFailure struct {
	Phase string // "in", "out" or "shutter"
	Axes  []int
	Err   error
}

func (e *MoveFailure) Error() string {
	return fmt.Sprintf("move %s axes %v: %v", e.Phase, e.Axes, e.Err)
}

func (e *MoveFailure) Unwrap() error {
	return e.Err
}
