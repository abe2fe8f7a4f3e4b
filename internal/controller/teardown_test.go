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

package controller_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandremahdhaoui/canlink/internal/controller"
	"github.com/alexandremahdhaoui/canlink/internal/types"
)

var fullTeardown = controller.TeardownOptions{All: true, KillProcesses: true, UnloadModules: true}

func TestTeardown_AllScenario(t *testing.T) {
	h := newFakeHost()
	h.addVirtualLink("can0", true)
	h.modules = []string{"can", "can_raw", "can_dev", "vcan", "cdc_acm"}
	h.busyModules["can_dev"] = true
	capture := h.startProcess(types.ProcessCaptureDump, "-l", "can0")
	h.artifacts["/tmp/can0.sock"] = true
	h.artifacts["/var/lock/LCK..ttyACM0"] = true
	env := newTestEnv(h)

	report := env.teardown.Teardown(context.Background(), "all", fullTeardown)

	require.Len(t, report.Killed, 1)
	assert.Equal(t, capture.proc.PID, report.Killed[0].PID)
	assert.Empty(t, report.Survivors)

	assert.Equal(t, []controller.TargetResult{{Name: "can0", Kind: types.KindVirtual, State: controller.TargetDeleted}}, report.Targets)
	assert.Equal(t, []string{"/tmp/can0.sock", "/var/lock/LCK..ttyACM0"}, report.RemovedArtifacts)

	assert.Equal(t, []string{"vcan", "can_raw", "can"}, report.UnloadedModules)
	assert.Equal(t, []string{"can_dev"}, report.BusyModules)

	assert.Empty(t, report.Final.Interfaces)
	assert.Empty(t, report.Final.Processes)
	assert.Equal(t, types.ModuleSet{"can_dev"}, report.Final.Modules)

	// processes first, then links, then artifacts, then modules.
	order := []string{"process.signal", "link.down", "link.delete", "artifact.remove", "module.unload"}
	last := -1
	for _, prefix := range order {
		i := firstCall(h.calls, prefix)
		require.GreaterOrEqual(t, i, 0, prefix)
		assert.Greater(t, i, last, prefix)
		last = i
	}
}

func TestTeardown_Idempotent(t *testing.T) {
	h := newFakeHost()
	env := newTestEnv(h)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		report := env.teardown.Teardown(ctx, "can0", controller.TeardownOptions{KillProcesses: true, UnloadModules: true})
		assert.Empty(t, report.Targets)
		assert.Empty(t, report.Warnings)
		assert.Empty(t, report.Killed)
	}

	assert.Zero(t, h.countCalls("link."))
}

func TestTeardown_RoundTrip(t *testing.T) {
	h := newFakeHost()
	env := newTestEnv(h)
	ctx := context.Background()

	_, err := env.provisioner.Provision(ctx, "can0", 500000, "")
	require.NoError(t, err)

	env.teardown.Teardown(ctx, "can0", controller.TeardownOptions{})

	d, ok := env.inspector.Interface(ctx, "can0")
	if ok {
		assert.False(t, d.IsUp())
		assert.Nil(t, d.Bitrate)
	}
}

func TestTeardown_RoundTripNative(t *testing.T) {
	h := newFakeHost()
	h.addNativeLink("can0", false)
	env := newTestEnv(h)
	ctx := context.Background()

	_, err := env.provisioner.Provision(ctx, "can0", 500000, "")
	require.NoError(t, err)

	report := env.teardown.Teardown(ctx, "can0", controller.TeardownOptions{})
	assert.Equal(t, controller.TargetDown, report.Targets[0].State)
	require.Len(t, report.Warnings, 1, "a native interface left down is reported")

	d, ok := env.inspector.Interface(ctx, "can0")
	require.True(t, ok)
	assert.False(t, d.IsUp())
	assert.Nil(t, d.Bitrate)
}

func TestTeardown_SerialBridgedDeletedWithDaemon(t *testing.T) {
	h := newFakeHost()
	h.usb = []types.USBDevice{canableDevice}
	h.ports = []string{"/dev/ttyACM0"}
	h.bridgeable["/dev/ttyACM0"] = true
	env := newTestEnv(h)
	ctx := context.Background()

	_, err := env.provisioner.Provision(ctx, "can0", 500000, "")
	require.NoError(t, err)

	report := env.teardown.Teardown(ctx, "can0", controller.TeardownOptions{})
	assert.Equal(t, []controller.TargetResult{{Name: "can0", Kind: types.KindSerialBridged, State: controller.TargetDeleted}}, report.Targets)
	assert.Empty(t, report.Final.Processes)
	assert.Empty(t, report.Final.Interfaces)
	assert.Empty(t, report.Warnings)
}

func TestTeardown_ForcefulTermination(t *testing.T) {
	h := newFakeHost()
	stubborn := h.startProcess(types.ProcessFrameSend, "can0", "7DF#02")
	stubborn.ignoreTerm = true
	immortal := h.startProcess(types.ProcessPlaybackDump, "-I", "dump.log")
	immortal.unkillable = true
	env := newTestEnv(h)

	report := env.teardown.Teardown(context.Background(), "all", controller.TeardownOptions{All: true, KillProcesses: true})

	require.Len(t, report.Killed, 1)
	assert.Equal(t, stubborn.proc.PID, report.Killed[0].PID)
	require.Len(t, report.Survivors, 1)
	assert.Equal(t, immortal.proc.PID, report.Survivors[0].PID)
	assert.NotEmpty(t, report.Warnings)
	assert.Contains(t, h.calls, "process.signal 1001 true")
}

func TestTeardown_BusyModulesTolerated(t *testing.T) {
	h := newFakeHost()
	h.addNativeLink("can1", true)
	h.links["can1"].deletable = false
	h.modules = []string{"can", "can_raw", "can_dev", "vcan", "slcan"}
	h.busyModules["can"] = true
	h.busyModules["vcan"] = true
	env := newTestEnv(h)

	// can1 is left out of the targets: it stays up and keeps can_dev referenced.
	report := env.teardown.Teardown(context.Background(), "can0", controller.TeardownOptions{UnloadModules: true})

	assert.Equal(t, []string{"slcan"}, report.UnloadedModules)
	assert.ElementsMatch(t, []string{"vcan", "can_raw", "can_dev", "can"}, report.BusyModules)
	assert.Zero(t, h.countCalls("module.unload can_dev"), "a module serving an up interface is not attempted")
	assert.Zero(t, h.countCalls("module.unload can_raw"))
}

func firstCall(calls []string, prefix string) int {
	for i, c := range calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			return i
		}
	}
	return -1
}
