// Package config loads termbridge configuration from defaults, an optional
// YAML file, and environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full termbridge configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Server  ServerConfig  `yaml:"server"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Session SessionConfig `yaml:"session"`
	Script  ScriptConfig  `yaml:"script"`
}

// ServerConfig configures the HTTP/WebSocket front end.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"TERMBRIDGE_HOST" default:"127.0.0.1"`
	Port            int           `yaml:"port" env:"TERMBRIDGE_PORT" default:"8333"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"TERMBRIDGE_SHUTDOWN_TIMEOUT" default:"5s"`
}

// Addr is the host:port the server binds.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BridgeConfig sizes and tunes the shared memory bridge itself.
type BridgeConfig struct {
	// OutputRingSize and InputRingSize are the ring data areas in bytes.
	// Output is generous for bursty program output; input only carries
	// 4-byte key packets.
	OutputRingSize uint64 `yaml:"output_ring_size" env:"TERMBRIDGE_OUTPUT_RING_SIZE" default:"65536"`
	InputRingSize  uint64 `yaml:"input_ring_size" env:"TERMBRIDGE_INPUT_RING_SIZE" default:"4096"`

	// PollInterval bounds how long blocked bridge reads park between
	// re-checks; it is also the cancellation latency ceiling.
	PollInterval time.Duration `yaml:"poll_interval" env:"TERMBRIDGE_POLL_INTERVAL" default:"2ms"`

	// SegmentDir is where segment files live. Empty picks /dev/shm when
	// available, the system temp directory otherwise.
	SegmentDir string `yaml:"segment_dir" env:"TERMBRIDGE_SEGMENT_DIR"`
}

// SessionConfig governs the playground session pool.
type SessionConfig struct {
	// MaxSessions caps concurrently live sessions.
	MaxSessions int `yaml:"max_sessions" env:"TERMBRIDGE_MAX_SESSIONS" default:"32"`

	// IdleTimeout evicts sessions nobody has touched.
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"TERMBRIDGE_IDLE_TIMEOUT" default:"15m"`

	// SweepInterval is how often the store looks for idle sessions.
	SweepInterval time.Duration `yaml:"sweep_interval" default:"1m"`

	// StartTimeout bounds worker spawn plus handshake.
	StartTimeout time.Duration `yaml:"start_timeout" env:"TERMBRIDGE_START_TIMEOUT" default:"10s"`
}

// ScriptConfig bounds user program execution in the worker.
type ScriptConfig struct {
	// RunTimeout aborts a program that runs longer; 0 disables the bound.
	RunTimeout time.Duration `yaml:"run_timeout" env:"TERMBRIDGE_RUN_TIMEOUT" default:"10m"`
}

// Default returns the built-in configuration: every field at its default
// tag value, no file or environment consulted.
func Default() *Config {
	cfg := &Config{}
	if err := setDefaults(reflect.ValueOf(cfg)); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load builds the configuration from defaults, then the YAML file at path
// if one exists (an empty path skips the file layer entirely), then
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := setDefaults(reflect.ValueOf(cfg)); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	if path != "" {
		if err := loadYAML(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := loadEnv(reflect.ValueOf(cfg)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil // config file is optional
	}
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// setDefaults walks the struct and applies `default:` tag values.
func setDefaults(v reflect.Value) error {
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct {
			if err := setDefaults(field); err != nil {
				return err
			}
			continue
		}
		def := t.Field(i).Tag.Get("default")
		if def == "" {
			continue
		}
		if err := setFieldValue(field, def); err != nil {
			return fmt.Errorf("field %s: %w", t.Field(i).Name, err)
		}
	}
	return nil
}

// loadEnv walks the struct and applies values from the environment
// variables named by `env:` tags.
func loadEnv(v reflect.Value) error {
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct {
			if err := loadEnv(field); err != nil {
				return err
			}
			continue
		}
		name := t.Field(i).Tag.Get("env")
		if name == "" {
			continue
		}
		value, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("environment %s: %w", name, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			field.SetBool(true)
		case "false", "0", "no", "off":
			field.SetBool(false)
		default:
			return fmt.Errorf("invalid boolean %q", value)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration %q", value)
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer %q", value)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer %q", value)
		}
		field.SetUint(n)
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}
