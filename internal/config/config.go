// Package config loads, validates and merges the controller configuration.
//
// The file is YAML. Defaults are applied after parsing, then FC_* environment
// variables override individual fields, then the result is validated as a
// whole. The control protocol's configure command and file reloads both go
// through Merge so they are validated the same way.
package config

import (
	"time"

	"github.com/sweeney/filter-control/internal/filter"
	"github.com/sweeney/filter-control/internal/ingest"
	"github.com/sweeney/filter-control/internal/logic"
	"github.com/sweeney/filter-control/internal/motion"
)

// Config is the complete controller configuration.
type Config struct {
	Detector      DetectorConfig  `yaml:"detector"`
	MQTT          MQTTConfig      `yaml:"mqtt"`
	Policy        PolicyConfig    `yaml:"policy"`
	Filters       []FilterConfig  `yaml:"filters"`
	Shutter       ShutterConfig   `yaml:"shutter"`
	Motion        MotionConfig    `yaml:"motion"`
	Heartbeat     HeartbeatConfig `yaml:"heartbeat"`
	HTTP          HTTPConfig      `yaml:"http"`
	History       HistoryConfig   `yaml:"history"`
	Autosave      AutosaveConfig  `yaml:"autosave"`
	QueueCapacity int             `yaml:"queue_capacity"`
}

// DetectorConfig lists the detector telemetry endpoints.
type DetectorConfig struct {
	// Endpoints are host:port broker addresses, one per detector source.
	Endpoints []string `yaml:"endpoints"`
	// Encoding is auto, json or msgpack.
	Encoding string `yaml:"encoding"`
}

// MQTTConfig is the control and status broker.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
	// BufferSize bounds publishes held while disconnected.
	BufferSize int `yaml:"buffer_size"`
}

// PolicyConfig holds everything the decision cycle depends on.
type PolicyConfig struct {
	PixelCountThreshold         int64         `yaml:"pixel_count_threshold"`
	DecreasePixelCountThreshold int64         `yaml:"decrease_pixel_count_threshold"`
	AllowDecrease               bool          `yaml:"allow_decrease"`
	Mode                        string        `yaml:"mode"`
	Trigger                     string        `yaml:"trigger"`
	LivenessTimeout             time.Duration `yaml:"liveness_timeout"`
	// AttenuationMoves makes the attenuation override drive the filters
	// instead of only rebasing the tracked level.
	AttenuationMoves bool `yaml:"attenuation_moves"`
}

// FilterConfig is one filter axis and its two positions.
type FilterConfig struct {
	Axis int     `yaml:"axis"`
	In   float64 `yaml:"in"`
	Out  float64 `yaml:"out"`
}

// ShutterConfig is the axis closed by the emergency action.
type ShutterConfig struct {
	Axis           int     `yaml:"axis"`
	ClosedPosition float64 `yaml:"closed_position"`
	OpenPosition   float64 `yaml:"open_position"`
}

// MotionConfig is the PMAC connection and move timing.
type MotionConfig struct {
	Address         string        `yaml:"address"`
	JogSpeed        float64       `yaml:"jog_speed"`
	MoveTimeoutBase time.Duration `yaml:"move_timeout_base"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	// SettleTime is how long an axis that never reported moving must wait
	// before its in-position bit is trusted. Zero trusts the first readback.
	SettleTime  time.Duration `yaml:"settle_time"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// HeartbeatConfig controls the liveness heartbeat.
type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval"`
	// GPIOChip and GPIOLine select the output toggled with the heartbeat.
	// No line disables it.
	GPIOChip string `yaml:"gpio_chip"`
	GPIOLine *int   `yaml:"gpio_line"`
}

// HTTPConfig is the status page listener. Empty disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// HistoryConfig is the attenuation change record. Empty path disables it.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// AutosaveConfig controls persisting runtime configuration.
type AutosaveConfig struct {
	// Path of the autosave file. Empty disables autosave.
	Path string `yaml:"path"`
	// BackupDir receives hourly copies. Defaults to the autosave directory.
	BackupDir string `yaml:"backup_dir"`
	// BackupSchedule is a cron spec. Empty disables backups.
	BackupSchedule string `yaml:"backup_schedule"`
}

// FilterSet converts the filter list for the decision and motion layers.
func (c *Config) FilterSet() filter.Set {
	fs := make([]filter.Filter, len(c.Filters))
	for i, f := range c.Filters {
		fs[i] = filter.Filter{Axis: f.Axis, In: f.In, Out: f.Out}
	}
	return filter.Set{Filters: fs}
}

// DecisionPolicy returns the aggregation policy. Mode must be valid.
func (c *Config) DecisionPolicy() logic.Policy {
	return logic.Policy{Mode: logic.Mode(c.Policy.Mode), AllowDecrease: c.Policy.AllowDecrease}
}

// Thresholds returns the ingest classification settings.
func (c *Config) Thresholds() ingest.Thresholds {
	th := ingest.Thresholds{
		Over:            c.Policy.PixelCountThreshold,
		Trigger:         logic.Trigger(c.Policy.Trigger),
		LivenessTimeout: c.Policy.LivenessTimeout,
	}
	if c.Policy.AllowDecrease {
		th.Under = c.Policy.DecreasePixelCountThreshold
	}
	return th
}

// Timing returns the move timing.
func (c *Config) Timing() motion.Timing {
	return motion.Timing{
		JogSpeed: c.Motion.JogSpeed,
		Base:     c.Motion.MoveTimeoutBase,
		Poll:     c.Motion.PollInterval,
		Settle:   c.Motion.SettleTime,
	}
}

// ShutterTarget returns the emergency shutter.
func (c *Config) ShutterTarget() motion.Shutter {
	return motion.Shutter{
		Axis:   c.Shutter.Axis,
		Closed: c.Shutter.ClosedPosition,
		Open:   c.Shutter.OpenPosition,
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Detector.Endpoints = append([]string(nil), c.Detector.Endpoints...)
	out.Filters = append([]FilterConfig(nil), c.Filters...)
	if c.Heartbeat.GPIOLine != nil {
		line := *c.Heartbeat.GPIOLine
		out.Heartbeat.GPIOLine = &line
	}
	return &out
}
