package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/sweeney/filter-control/internal/filter"
	"github.com/sweeney/filter-control/internal/ingest"
	"github.com/sweeney/filter-control/internal/logic"
)

// FieldError is a validation error for one configuration field or
// configure parameter.
type FieldError struct {
	// Field is the dotted path or parameter name, e.g. "policy.mode".
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every FieldError found.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate checks the whole configuration and returns a ValidationError
// listing every problem, or nil.
func Validate(cfg *Config) error {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, err := ingest.ParseEncoding(cfg.Detector.Encoding); err != nil {
		add("detector.encoding", "%v", err)
	}
	seen := make(map[string]bool)
	for i, e := range cfg.Detector.Endpoints {
		e = strings.TrimSpace(e)
		if e == "" {
			add(fmt.Sprintf("detector.endpoints[%d]", i), "must not be empty")
		} else if seen[e] {
			add(fmt.Sprintf("detector.endpoints[%d]", i), "duplicate endpoint %q", e)
		}
		seen[e] = true
	}

	if cfg.MQTT.BufferSize < 0 {
		add("mqtt.buffer_size", "must not be negative")
	}

	errs = append(errs, validatePolicy(&cfg.Policy)...)

	n := len(cfg.Filters)
	if n == 0 {
		add("filters", "at least one filter is required")
	}
	if n > filter.MaxFilters {
		add("filters", "at most %d filters are supported, got %d", filter.MaxFilters, n)
	}
	axes := make(map[int]string)
	for i, f := range cfg.Filters {
		key := "filters." + filter.Key(i)
		if f.Axis <= 0 {
			add(key+".axis", "must be positive")
		} else if other, dup := axes[f.Axis]; dup {
			add(key+".axis", "axis %d already used by %s", f.Axis, other)
		}
		axes[f.Axis] = key
		if f.In == f.Out {
			add(key, "in and out positions are equal (%g)", f.In)
		}
	}
	if cfg.Shutter.Axis > 0 {
		if other, dup := axes[cfg.Shutter.Axis]; dup {
			add("shutter.axis", "axis %d already used by %s", cfg.Shutter.Axis, other)
		}
	} else {
		add("shutter.axis", "must be positive")
	}

	if cfg.Motion.JogSpeed < 0 {
		add("motion.jog_speed", "must not be negative")
	}
	if cfg.Motion.MoveTimeoutBase < 0 {
		add("motion.move_timeout_base", "must not be negative")
	}
	if cfg.Motion.PollInterval < 0 {
		add("motion.poll_interval", "must not be negative")
	}
	if cfg.Motion.SettleTime < 0 {
		add("motion.settle_time", "must not be negative")
	}

	if cfg.Heartbeat.Interval <= 0 {
		add("heartbeat.interval", "must be positive")
	}
	if cfg.Heartbeat.GPIOLine != nil && *cfg.Heartbeat.GPIOLine < 0 {
		add("heartbeat.gpio_line", "must not be negative")
	}

	if cfg.Autosave.BackupSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Autosave.BackupSchedule); err != nil {
			add("autosave.backup_schedule", "invalid cron spec: %v", err)
		}
	}

	if cfg.QueueCapacity < 0 {
		add("queue_capacity", "must not be negative")
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validatePolicy(p *PolicyConfig) []FieldError {
	var errs []FieldError
	if p.PixelCountThreshold < 0 {
		errs = append(errs, FieldError{"policy.pixel_count_threshold", "must not be negative"})
	}
	if p.DecreasePixelCountThreshold < 0 {
		errs = append(errs, FieldError{"policy.decrease_pixel_count_threshold", "must not be negative"})
	}
	if p.AllowDecrease && p.DecreasePixelCountThreshold >= p.PixelCountThreshold {
		errs = append(errs, FieldError{"policy.decrease_pixel_count_threshold",
			fmt.Sprintf("must be below pixel_count_threshold (%d)", p.PixelCountThreshold)})
	}
	if _, err := logic.ParseMode(p.Mode); err != nil {
		errs = append(errs, FieldError{"policy.mode", err.Error()})
	}
	if _, err := logic.ParseTrigger(p.Trigger); err != nil {
		errs = append(errs, FieldError{"policy.trigger", err.Error()})
	}
	if p.LivenessTimeout < 0 {
		errs = append(errs, FieldError{"policy.liveness_timeout", "must not be negative"})
	}
	return errs
}
