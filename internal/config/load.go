package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/filter-control/internal/logic"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FC_"

// LoadConfig reads the YAML file at path, applies defaults and validates it.
// An empty path yields the defaults. The environment is not consulted.
func LoadConfig(path string) (*Config, error) {
	return load(path, func(string) string { return "" })
}

// LoadConfigWithEnv loads envFile (if present) into the process environment,
// then loads the YAML at path with FC_* overrides applied.
//
// The loading sequence is:
// 1. .env file, missing file ignored
// 2. YAML from file
// 3. environment overrides
// 4. defaults for anything still unset
// 5. validation
func LoadConfigWithEnv(path, envFile string) (*Config, error) {
	if err := LoadEnv(envFile); err != nil {
		return nil, err
	}
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	cfg := newConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	applyEnvOverrides(cfg, getenv)
	ApplyDefaults(cfg)
	normalize(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, rejecting unknown fields. Empty input leaves
// cfg untouched.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// LoadEnv loads a dotenv file without overriding variables already set.
func LoadEnv(envFile string) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", envFile, err)
	}
	log.Printf("config: loaded environment from %s", envFile)
	return nil
}

// normalize canonicalises enumerations so later comparisons are exact.
func normalize(cfg *Config) {
	if m, err := logic.ParseMode(cfg.Policy.Mode); err == nil {
		cfg.Policy.Mode = string(m)
	}
	if t, err := logic.ParseTrigger(cfg.Policy.Trigger); err == nil {
		cfg.Policy.Trigger = string(t)
	}
	cfg.Detector.Encoding = strings.ToLower(strings.TrimSpace(cfg.Detector.Encoding))
	for i, e := range cfg.Detector.Endpoints {
		cfg.Detector.Endpoints[i] = strings.TrimSpace(e)
	}
}

// applyEnvOverrides applies FC_SECTION_FIELD variables. Unparseable values
// are logged and ignored.
func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	str := func(name string, dst *string) {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v := getenv(EnvPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				log.Printf("config: ignoring %s%s=%q: %v", EnvPrefix, name, v, err)
				return
			}
			*dst = d
		}
	}
	i64 := func(name string, dst *int64) {
		if v := getenv(EnvPrefix + name); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				log.Printf("config: ignoring %s%s=%q: %v", EnvPrefix, name, v, err)
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v := getenv(EnvPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				log.Printf("config: ignoring %s%s=%q: %v", EnvPrefix, name, v, err)
				return
			}
			*dst = b
		}
	}

	if v := getenv(EnvPrefix + "DETECTOR_ENDPOINTS"); v != "" {
		var eps []string
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				eps = append(eps, e)
			}
		}
		cfg.Detector.Endpoints = eps
	}
	str("DETECTOR_ENCODING", &cfg.Detector.Encoding)

	str("MQTT_BROKER", &cfg.MQTT.Broker)
	str("MQTT_TOPIC_PREFIX", &cfg.MQTT.TopicPrefix)

	i64("POLICY_PIXEL_COUNT_THRESHOLD", &cfg.Policy.PixelCountThreshold)
	i64("POLICY_DECREASE_PIXEL_COUNT_THRESHOLD", &cfg.Policy.DecreasePixelCountThreshold)
	boolean("POLICY_ALLOW_DECREASE", &cfg.Policy.AllowDecrease)
	str("POLICY_MODE", &cfg.Policy.Mode)
	str("POLICY_TRIGGER", &cfg.Policy.Trigger)
	dur("POLICY_LIVENESS_TIMEOUT", &cfg.Policy.LivenessTimeout)
	boolean("POLICY_ATTENUATION_MOVES", &cfg.Policy.AttenuationMoves)

	str("MOTION_ADDRESS", &cfg.Motion.Address)
	dur("MOTION_MOVE_TIMEOUT_BASE", &cfg.Motion.MoveTimeoutBase)
	dur("MOTION_SETTLE_TIME", &cfg.Motion.SettleTime)

	dur("HEARTBEAT_INTERVAL", &cfg.Heartbeat.Interval)
	str("HEARTBEAT_GPIO_CHIP", &cfg.Heartbeat.GPIOChip)
	if v := getenv(EnvPrefix + "HEARTBEAT_GPIO_LINE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Heartbeat.GPIOLine = &n
		} else {
			log.Printf("config: ignoring %sHEARTBEAT_GPIO_LINE=%q: %v", EnvPrefix, v, err)
		}
	}

	str("HTTP_ADDR", &cfg.HTTP.Addr)
	str("HISTORY_PATH", &cfg.History.Path)
	str("AUTOSAVE_PATH", &cfg.Autosave.Path)
	str("AUTOSAVE_BACKUP_DIR", &cfg.Autosave.BackupDir)
}
