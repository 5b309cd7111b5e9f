package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/sweeney/filter-control/internal/filter"
	"github.com/sweeney/filter-control/internal/logic"
)

// Configure parameter names.
const (
	KeyPixelCountThreshold         = "pixel_count_threshold"
	KeyDecreasePixelCountThreshold = "decrease_pixel_count_threshold"
	KeyAllowDecrease               = "allow_decrease"
	KeyMode                        = "mode"
	KeyTrigger                     = "trigger"
	KeyLivenessTimeout             = "liveness_timeout"
	KeyInPositions                 = "in_positions"
	KeyOutPositions                = "out_positions"
	KeyShutterClosedPosition       = "shutter_closed_position"
	KeyAttenuationMoves            = "attenuation_moves"
	KeyAttenuation                 = "attenuation"
)

// Update is the result of merging configure parameters into a configuration.
type Update struct {
	Config *Config
	// Attenuation is the requested level override, if one was given.
	Attenuation *int
	// Changed lists the applied parameter names in sorted order.
	Changed []string
}

// Merge applies configure parameters to a copy of base. Parameters not given
// keep their value. Any unknown parameter or invalid value fails the whole
// merge with a ValidationError and base is left untouched.
func Merge(base *Config, params map[string]json.RawMessage) (Update, error) {
	cfg := base.Clone()
	up := Update{Config: cfg}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []FieldError
	fail := func(key string, err error) {
		errs = append(errs, FieldError{Field: key, Message: err.Error()})
	}

	for _, key := range keys {
		raw := params[key]
		var err error
		switch key {
		case KeyPixelCountThreshold:
			cfg.Policy.PixelCountThreshold, err = decodeCount(raw)
		case KeyDecreasePixelCountThreshold:
			cfg.Policy.DecreasePixelCountThreshold, err = decodeCount(raw)
		case KeyAllowDecrease:
			err = json.Unmarshal(raw, &cfg.Policy.AllowDecrease)
		case KeyAttenuationMoves:
			err = json.Unmarshal(raw, &cfg.Policy.AttenuationMoves)
		case KeyMode:
			var m logic.Mode
			if m, err = decodeMode(raw); err == nil {
				cfg.Policy.Mode = string(m)
			}
		case KeyTrigger:
			var s string
			if err = json.Unmarshal(raw, &s); err == nil {
				var t logic.Trigger
				if t, err = logic.ParseTrigger(s); err == nil {
					cfg.Policy.Trigger = string(t)
				}
			}
		case KeyLivenessTimeout:
			cfg.Policy.LivenessTimeout, err = decodeDuration(raw)
		case KeyInPositions:
			err = mergePositions(raw, cfg.Filters, func(f *FilterConfig, v float64) { f.In = v })
		case KeyOutPositions:
			err = mergePositions(raw, cfg.Filters, func(f *FilterConfig, v float64) { f.Out = v })
		case KeyShutterClosedPosition:
			err = json.Unmarshal(raw, &cfg.Shutter.ClosedPosition)
		case KeyAttenuation:
			var n int64
			if n, err = decodeCount(raw); err == nil {
				level := int(n)
				up.Attenuation = &level
			}
		default:
			err = errors.New("unknown parameter")
		}
		if err != nil {
			fail(key, err)
			continue
		}
		up.Changed = append(up.Changed, key)
	}

	if len(errs) == 0 {
		if err := Validate(cfg); err != nil {
			var ve ValidationError
			if errors.As(err, &ve) {
				errs = append(errs, ve.Errors...)
			} else {
				fail("config", err)
			}
		}
	}
	if up.Attenuation != nil && len(errs) == 0 {
		if max := cfg.FilterSet().MaxAttenuation(); *up.Attenuation > max {
			fail(KeyAttenuation, fmt.Errorf("level %d exceeds maximum %d", *up.Attenuation, max))
		}
	}

	if len(errs) > 0 {
		return Update{}, ValidationError{Errors: errs}
	}
	return up, nil
}

// decodeCount accepts a non-negative integral JSON number.
func decodeCount(raw json.RawMessage) (int64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("expected a number")
	}
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, fmt.Errorf("expected a non-negative integer, got %v", f)
	}
	return int64(f), nil
}

// decodeMode accepts a mode name or the wrapper's numeric mode.
func decodeMode(raw json.RawMessage) (logic.Mode, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return logic.ParseMode(s)
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("expected a mode name or number")
	}
	return logic.ModeFromIndex(n)
}

// decodeDuration accepts seconds as a number or a Go duration string.
func decodeDuration(raw json.RawMessage) (time.Duration, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, err
		}
		return d, nil
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil {
		return 0, fmt.Errorf("expected seconds or a duration string")
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// mergePositions applies a {"filterN": position} map.
func mergePositions(raw json.RawMessage, filters []FilterConfig, set func(*FilterConfig, float64)) error {
	var m map[string]float64
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf(`expected {"filterN": position}`)
	}
	for key, pos := range m {
		i, err := filter.ParseKey(key, len(filters))
		if err != nil {
			return err
		}
		set(&filters[i], pos)
	}
	return nil
}

// InPositions returns the in positions keyed by protocol filter name.
func (c *Config) InPositions() map[string]float64 {
	m := make(map[string]float64, len(c.Filters))
	for i, f := range c.Filters {
		m[filter.Key(i)] = f.In
	}
	return m
}

// OutPositions returns the out positions keyed by protocol filter name.
func (c *Config) OutPositions() map[string]float64 {
	m := make(map[string]float64, len(c.Filters))
	for i, f := range c.Filters {
		m[filter.Key(i)] = f.Out
	}
	return m
}

// Params renders the runtime-configurable part of c as configure
// parameters. Autosave and reload both use it.
func (c *Config) Params() map[string]json.RawMessage {
	p := make(map[string]json.RawMessage)
	put := func(k string, v any) {
		b, _ := json.Marshal(v)
		p[k] = b
	}
	put(KeyPixelCountThreshold, c.Policy.PixelCountThreshold)
	put(KeyDecreasePixelCountThreshold, c.Policy.DecreasePixelCountThreshold)
	put(KeyAllowDecrease, c.Policy.AllowDecrease)
	put(KeyMode, c.Policy.Mode)
	put(KeyTrigger, c.Policy.Trigger)
	put(KeyLivenessTimeout, c.Policy.LivenessTimeout.String())
	put(KeyInPositions, c.InPositions())
	put(KeyOutPositions, c.OutPositions())
	put(KeyShutterClosedPosition, c.Shutter.ClosedPosition)
	put(KeyAttenuationMoves, c.Policy.AttenuationMoves)
	return p
}

// Diff returns the configure parameters whose value differs between old and
// next, plus the dotted names of changed settings that only take effect on
// restart.
func Diff(old, next *Config) (map[string]json.RawMessage, []string) {
	var restart []string
	if !reflect.DeepEqual(old.Detector, next.Detector) {
		restart = append(restart, "detector")
	}
	if old.MQTT != next.MQTT {
		restart = append(restart, "mqtt")
	}
	if len(old.Filters) != len(next.Filters) {
		restart = append(restart, "filters")
	} else {
		for i := range old.Filters {
			if old.Filters[i].Axis != next.Filters[i].Axis {
				restart = append(restart, "filters")
				break
			}
		}
	}
	if old.Shutter.Axis != next.Shutter.Axis || old.Shutter.OpenPosition != next.Shutter.OpenPosition {
		restart = append(restart, "shutter")
	}
	if old.Motion != next.Motion {
		restart = append(restart, "motion")
	}
	if !reflect.DeepEqual(old.Heartbeat, next.Heartbeat) {
		restart = append(restart, "heartbeat")
	}
	if old.HTTP != next.HTTP || old.History != next.History || old.Autosave != next.Autosave {
		restart = append(restart, "outputs")
	}

	op, np := old.Params(), next.Params()
	changed := make(map[string]json.RawMessage)
	for k, v := range np {
		if string(op[k]) != string(v) {
			changed[k] = v
		}
	}
	if len(old.Filters) != len(next.Filters) {
		delete(changed, KeyInPositions)
		delete(changed, KeyOutPositions)
	}
	return changed, restart
}
