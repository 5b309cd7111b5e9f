package config

import (
	"time"

	"github.com/sweeney/filter-control/internal/logic"
)

// Default values for configuration fields.
const (
	DefaultEncoding      = "auto"
	DefaultBroker        = "tcp://localhost:1883"
	DefaultTopicPrefix   = "beamline/filter-control"
	DefaultBufferSize    = 100
	DefaultQueueCapacity = 64

	DefaultPixelCountThreshold = 2
	DefaultTrigger             = string(logic.TriggerEdge)

	DefaultShutterAxis           = 5
	DefaultShutterClosedPosition = 500

	DefaultJogSpeed        = 100 // motor units per second
	DefaultMoveTimeoutBase = 2 * time.Second
	DefaultPollInterval    = 50 * time.Millisecond
	DefaultSettleTime      = 100 * time.Millisecond
	DefaultDialTimeout     = 5 * time.Second

	DefaultHeartbeatInterval = time.Second
	DefaultHTTPAddr          = ":8080"
	DefaultBackupSchedule    = "0 * * * *" // hourly
)

// DefaultFilters is four filters on axes 1-4 moving 100 units into the beam.
func DefaultFilters() []FilterConfig {
	return []FilterConfig{
		{Axis: 1, In: 100, Out: 0},
		{Axis: 2, In: 100, Out: 0},
		{Axis: 3, In: 100, Out: 0},
		{Axis: 4, In: 100, Out: 0},
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := newConfig()
	ApplyDefaults(cfg)
	return cfg
}

// newConfig presets the defaults for fields where zero is a valid setting.
// Parsing over it keeps an explicit zero that ApplyDefaults cannot tell
// apart from unset.
func newConfig() *Config {
	return &Config{
		Policy: PolicyConfig{PixelCountThreshold: DefaultPixelCountThreshold},
		Motion: MotionConfig{SettleTime: DefaultSettleTime},
	}
}

// ApplyDefaults fills zero-valued fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Detector.Encoding == "" {
		cfg.Detector.Encoding = DefaultEncoding
	}

	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = DefaultBroker
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.MQTT.BufferSize == 0 {
		cfg.MQTT.BufferSize = DefaultBufferSize
	}

	if cfg.Policy.Mode == "" {
		cfg.Policy.Mode = string(logic.DefaultMode)
	}
	if cfg.Policy.Trigger == "" {
		cfg.Policy.Trigger = DefaultTrigger
	}

	if len(cfg.Filters) == 0 {
		cfg.Filters = DefaultFilters()
	}
	if cfg.Shutter.Axis == 0 {
		cfg.Shutter.Axis = DefaultShutterAxis
	}
	if cfg.Shutter.ClosedPosition == 0 {
		cfg.Shutter.ClosedPosition = DefaultShutterClosedPosition
	}

	if cfg.Motion.JogSpeed == 0 {
		cfg.Motion.JogSpeed = DefaultJogSpeed
	}
	if cfg.Motion.MoveTimeoutBase == 0 {
		cfg.Motion.MoveTimeoutBase = DefaultMoveTimeoutBase
	}
	if cfg.Motion.PollInterval == 0 {
		cfg.Motion.PollInterval = DefaultPollInterval
	}
	if cfg.Motion.DialTimeout == 0 {
		cfg.Motion.DialTimeout = DefaultDialTimeout
	}

	if cfg.Heartbeat.Interval == 0 {
		cfg.Heartbeat.Interval = DefaultHeartbeatInterval
	}

	if cfg.Autosave.Path != "" && cfg.Autosave.BackupSchedule == "" {
		cfg.Autosave.BackupSchedule = DefaultBackupSchedule
	}

	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
}
