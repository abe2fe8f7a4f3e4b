// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"k8s.io/utils/ptr"
	"sigs.k8s.io/yaml"

	"github.com/alexandremahdhaoui/canlink/internal/adapter"
	"github.com/alexandremahdhaoui/canlink/internal/controller"
)

const (
	// ConfigPathEnvKey is the environment variable key for the config file path
	ConfigPathEnvKey = "CANLINK_CONFIG_PATH"

	// InterfaceEnvKey and BitrateEnvKey are the defaults shared with the diagnostic scanner.
	InterfaceEnvKey = "CAN_INTERFACE"
	BitrateEnvKey   = "CAN_BITRATE"
)

// Config holds the configuration for canlink
type Config struct {
	// Interface is the interface used when no positional argument is given
	Interface string `json:"interface"`

	// Bitrate is the bitrate used when no positional argument is given
	Bitrate uint32 `json:"bitrate"`

	// SamplePoint is the optional sample point ratio, e.g. "0.875"
	SamplePoint string `json:"samplePoint,omitempty"`

	// UnitDir is where autostart units are written
	UnitDir string `json:"unitDir"`

	// AccessGroup is the group granting access to serial and CAN devices
	AccessGroup string `json:"accessGroup"`

	// WorldAccessibleDevice makes bridged tty nodes world read/write (defaults to true)
	WorldAccessibleDevice *bool `json:"worldAccessibleDevice,omitempty"`

	// TestFrame is the frame sent by the verifier, in candump notation
	TestFrame string `json:"testFrame"`

	// SendTestFrame enables the verifier's test frame
	SendTestFrame *bool `json:"sendTestFrame,omitempty"`

	// FrameTimeoutMillis bounds the test frame transmission
	FrameTimeoutMillis *int64 `json:"frameTimeoutMillis,omitempty"`

	// GracePeriodMillis is the wait between SIGTERM and SIGKILL
	GracePeriodMillis *int64 `json:"gracePeriodMillis,omitempty"`

	// BridgeWaitAttempts is how many times the interface of a new bridge is polled
	BridgeWaitAttempts *uint `json:"bridgeWaitAttempts,omitempty"`

	// ArtifactPatterns overrides the globs of stale sockets and lock files
	ArtifactPatterns []string `json:"artifactPatterns,omitempty"`

	// ExecPrependCmd is prepended to every external command, e.g. ["sudo", "-n"]
	ExecPrependCmd []string `json:"execPrependCmd,omitempty"`

	// MetricsTextfile is the node-exporter textfile written at exit (disabled when empty)
	MetricsTextfile string `json:"metricsTextfile,omitempty"`

	// DevelopmentMode enables development logging
	DevelopmentMode bool `json:"developmentMode"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Interface:             "can0",
		Bitrate:               500000,
		UnitDir:               adapter.DefaultUnitDir,
		AccessGroup:           controller.DefaultAccessGroup,
		WorldAccessibleDevice: ptr.To(true),
		TestFrame:             adapter.DefaultTestFrame,
		SendTestFrame:         ptr.To(true),
		FrameTimeoutMillis:    ptr.To(controller.DefaultFrameTimeout.Milliseconds()),
		GracePeriodMillis:     ptr.To(controller.DefaultGracePeriod.Milliseconds()),
		BridgeWaitAttempts:    ptr.To[uint](controller.DefaultBridgeWaitAttempts),
	}
}

// LoadConfig loads configuration from a YAML or JSON file path and applies env var overrides.
// If configPath is empty, it uses environment variables only
func LoadConfig(configPath string) (*Config, error) {
	config := NewDefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	}

	if err := config.applyEnvironmentOverrides(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the config
func (c *Config) applyEnvironmentOverrides() error {
	var errs []error

	if val := os.Getenv(InterfaceEnvKey); val != "" {
		c.Interface = val
	}
	if val := os.Getenv(BitrateEnvKey); val != "" {
		bitrate, err := parseBitrate(val)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", BitrateEnvKey, err))
		} else {
			c.Bitrate = bitrate
		}
	}
	if val := os.Getenv("CANLINK_SAMPLE_POINT"); val != "" {
		c.SamplePoint = val
	}
	if val := os.Getenv("CANLINK_UNIT_DIR"); val != "" {
		c.UnitDir = val
	}
	if val := os.Getenv("CANLINK_ACCESS_GROUP"); val != "" {
		c.AccessGroup = val
	}
	if val := os.Getenv("CANLINK_METRICS_TEXTFILE"); val != "" {
		c.MetricsTextfile = val
	}
	if val := os.Getenv("CANLINK_DEV_MODE"); val != "" {
		c.DevelopmentMode = val == "true" || val == "1" || val == "yes"
	}

	return errors.Join(errs...)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Interface == "" {
		errs = append(errs, errors.New("interface cannot be empty"))
	}

	if c.Bitrate == 0 {
		errs = append(errs, errors.New("bitrate must be greater than zero"))
	}

	if c.SamplePoint != "" {
		if err := validateSamplePoint(c.SamplePoint); err != nil {
			errs = append(errs, err)
		}
	}

	if c.UnitDir == "" {
		errs = append(errs, errors.New("unitDir cannot be empty"))
	}

	if c.AccessGroup == "" {
		errs = append(errs, errors.New("accessGroup cannot be empty"))
	}

	if _, err := adapter.ParseFrame(c.TestFrame); err != nil {
		errs = append(errs, fmt.Errorf("testFrame: %w", err))
	}

	if c.FrameTimeoutMillis != nil && *c.FrameTimeoutMillis <= 0 {
		errs = append(errs, errors.New("frameTimeoutMillis must be greater than zero"))
	}

	if c.GracePeriodMillis != nil && *c.GracePeriodMillis < 0 {
		errs = append(errs, errors.New("gracePeriodMillis cannot be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// GracePeriod returns the configured grace period, zero selecting the default.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(ptr.Deref(c.GracePeriodMillis, 0)) * time.Millisecond
}

// FrameTimeout returns the configured test frame timeout, zero selecting the default.
func (c *Config) FrameTimeout() time.Duration {
	return time.Duration(ptr.Deref(c.FrameTimeoutMillis, 0)) * time.Millisecond
}

func parseBitrate(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid bitrate %q", s)
	}
	return uint32(n), nil
}

func validateSamplePoint(s string) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 || f >= 1 {
		return fmt.Errorf("invalid sample point %q: must be a ratio between 0 and 1", s)
	}
	return nil
}
