//go:build unit

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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandremahdhaoui/canlink/internal/controller"
	"github.com/alexandremahdhaoui/canlink/internal/types"
)

func TestParseSetupArgs(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SamplePoint = "0.8"

	tests := []struct {
		name  string
		args  []string
		flags setupFlags
		want  setupRequest
	}{
		{
			name: "defaults from config",
			want: setupRequest{
				desired:      types.DesiredState{InterfaceName: "can0", Bitrate: 500000},
				samplePoint:  "0.8",
				invokingUser: "alice",
			},
		},
		{
			name:  "positional arguments win",
			args:  []string{"can1", "250000", "0.875"},
			flags: setupFlags{noAutostart: true},
			want: setupRequest{
				desired:      types.DesiredState{InterfaceName: "can1", Bitrate: 250000},
				samplePoint:  "0.875",
				noAutostart:  true,
				invokingUser: "alice",
			},
		},
		{
			name:  "interface only",
			args:  []string{"vcan0"},
			flags: setupFlags{testOnly: true, status: true},
			want: setupRequest{
				desired:      types.DesiredState{InterfaceName: "vcan0", Bitrate: 500000},
				samplePoint:  "0.8",
				testOnly:     true,
				status:       true,
				invokingUser: "alice",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSetupArgs(tt.args, cfg, tt.flags, "alice")
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(setupRequest{})); diff != "" {
				t.Errorf("parseSetupArgs() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseSetupArgs_Invalid(t *testing.T) {
	cfg := NewDefaultConfig()

	for name, args := range map[string][]string{
		"bitrate not a number": {"can0", "fast"},
		"zero bitrate":         {"can0", "0"},
		"sample point above 1": {"can0", "500000", "87.5"},
		"empty interface":      {""},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseSetupArgs(args, cfg, setupFlags{}, "")
			assert.Error(t, err)
		})
	}
}

func TestParseCleanupArgs(t *testing.T) {
	cfg := NewDefaultConfig()

	tests := []struct {
		name  string
		args  []string
		flags cleanupFlags
		want  cleanupRequest
	}{
		{
			name: "configured interface",
			want: cleanupRequest{target: "can0"},
		},
		{
			name:  "named interface with process kill",
			args:  []string{"can1"},
			flags: cleanupFlags{killProcesses: true},
			want: cleanupRequest{
				target: "can1",
				opts:   controller.TeardownOptions{KillProcesses: true},
			},
		},
		{
			name: "all as positional argument",
			args: []string{"all"},
			want: cleanupRequest{
				target: "all",
				opts:   controller.TeardownOptions{All: true},
			},
		},
		{
			name:  "all flag overrides the interface",
			args:  []string{"can1"},
			flags: cleanupFlags{all: true, unloadModules: true},
			want: cleanupRequest{
				target: "all",
				opts:   controller.TeardownOptions{All: true, UnloadModules: true},
			},
		},
		{
			name:  "full enables everything",
			flags: cleanupFlags{full: true, status: true},
			want: cleanupRequest{
				target: "all",
				status: true,
				opts: controller.TeardownOptions{
					All:           true,
					KillProcesses: true,
					UnloadModules: true,
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCleanupArgs(tt.args, cfg, tt.flags)
			if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(cleanupRequest{})); diff != "" {
				t.Errorf("parseCleanupArgs() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRootCmd_Commands(t *testing.T) {
	root := newRootCmd()

	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}

	assert.Subset(t, names, []string{"setup", "cleanup", "status"})
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("debug"))
}

func TestSetupCmd_RejectsExtraArgs(t *testing.T) {
	cmd := newSetupCmd(&state{cfg: NewDefaultConfig()})
	assert.Error(t, cmd.Args(cmd, []string{"can0", "500000", "0.875", "extra"}))
	assert.NoError(t, cmd.Args(cmd, []string{"can0", "500000", "0.875"}))
}
