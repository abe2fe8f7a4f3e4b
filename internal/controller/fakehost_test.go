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
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"go.einride.tech/can"

	"github.com/alexandremahdhaoui/canlink/internal/adapter"
	"github.com/alexandremahdhaoui/canlink/internal/controller"
	"github.com/alexandremahdhaoui/canlink/internal/types"
)

// fakeHost is an in-memory operating system: links, kernel modules, processes, USB devices,
// group database and filesystem artifacts. Each adapter interface is served by a view.
type fakeHost struct {
	links   map[string]*fakeLink
	modules []string
	// loadFails lists modules whose load fails (e.g. built into the kernel).
	loadFails map[string]bool
	// busyModules lists modules whose unload reports "in use".
	busyModules map[string]bool

	procs   map[int32]*fakeProc
	nextPID int32

	usb   []types.USBDevice
	ports []string
	// bridgeable lists the ports on which slcand creates its link.
	bridgeable map[string]bool
	// silentPorts lists the ports on which slcand starts but never creates its link.
	silentPorts map[string]bool

	// refuseLinks makes link creation fail.
	refuseLinks bool

	groups    map[string][]string
	chmods    map[string]os.FileMode
	artifacts map[string]bool

	// calls records every mutating call, e.g. "link.delete can0".
	calls []string
}

type fakeLink struct {
	kind        types.InterfaceKind
	up          bool
	deletable   bool
	acceptsTime bool
	bitrate     *uint32
	samplePoint *string
}

type fakeProc struct {
	proc       types.ManagedProcess
	ignoreTerm bool
	unkillable bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		links:       map[string]*fakeLink{},
		loadFails:   map[string]bool{},
		busyModules: map[string]bool{},
		procs:       map[int32]*fakeProc{},
		nextPID:     1000,
		bridgeable:  map[string]bool{},
		silentPorts: map[string]bool{},
		groups:      map[string][]string{},
		chmods:      map[string]os.FileMode{},
		artifacts:   map[string]bool{},
	}
}

func (h *fakeHost) record(format string, args ...any) {
	h.calls = append(h.calls, fmt.Sprintf(format, args...))
}

func (h *fakeHost) addNativeLink(name string, up bool) {
	h.links[name] = &fakeLink{kind: types.KindNative, up: up, acceptsTime: true}
}

func (h *fakeHost) addVirtualLink(name string, up bool) {
	h.links[name] = &fakeLink{kind: types.KindVirtual, up: up, deletable: true}
}

func (h *fakeHost) startProcess(kind types.ProcessKind, args ...string) *fakeProc {
	h.nextPID++
	p := &fakeProc{proc: types.ManagedProcess{
		Kind: kind,
		PID:  h.nextPID,
		Args: append([]string{kind.Binary()}, args...),
	}}
	h.procs[p.proc.PID] = p
	return p
}

func (h *fakeHost) stopProcess(pid int32) {
	p, ok := h.procs[pid]
	if !ok {
		return
	}
	delete(h.procs, pid)

	// the link of a serial bridge goes away with its daemon.
	if name := p.proc.BoundInterface(); name != "" {
		delete(h.links, name)
	}
}

func (h *fakeHost) countCalls(prefix string) int {
	n := 0
	for _, c := range h.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// ---------------------------------------------------- LINKS ------------------------------------------------------- //

type fakeLinks struct{ h *fakeHost }

var _ adapter.LinkManager = fakeLinks{}

func (f fakeLinks) List(_ context.Context) ([]types.InterfaceDescriptor, error) {
	names := make([]string, 0, len(f.h.links))
	for name := range f.h.links {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]types.InterfaceDescriptor, 0, len(names))
	for _, name := range names {
		l := f.h.links[name]
		d := types.InterfaceDescriptor{
			Name:        name,
			Kind:        l.kind,
			AdminState:  types.AdminDown,
			Bitrate:     l.bitrate,
			SamplePoint: l.samplePoint,
		}
		if l.up {
			d.AdminState = types.AdminUp
		}
		out = append(out, d)
	}

	return out, nil
}

func (f fakeLinks) AddVirtual(_ context.Context, name string) error {
	f.h.record("link.add %s", name)
	if f.h.refuseLinks {
		return errors.New("operation not permitted")
	}
	if _, ok := f.h.links[name]; ok {
		return errors.New("file exists")
	}
	f.h.addVirtualLink(name, false)
	return nil
}

func (f fakeLinks) Delete(_ context.Context, name string) error {
	f.h.record("link.delete %s", name)
	l, ok := f.h.links[name]
	if !ok {
		return types.ErrResourceAbsent
	}
	if !l.deletable {
		return types.ErrNotDeletable
	}
	delete(f.h.links, name)
	return nil
}

func (f fakeLinks) SetUp(_ context.Context, name string) error {
	f.h.record("link.up %s", name)
	l, ok := f.h.links[name]
	if !ok {
		return types.ErrResourceAbsent
	}
	l.up = true
	return nil
}

func (f fakeLinks) SetDown(_ context.Context, name string) error {
	f.h.record("link.down %s", name)
	l, ok := f.h.links[name]
	if !ok {
		return types.ErrResourceAbsent
	}
	l.up = false
	return nil
}

func (f fakeLinks) SetTiming(_ context.Context, name string, bitrate uint32, samplePoint string) error {
	f.h.record("link.timing %s %d %s", name, bitrate, samplePoint)
	l, ok := f.h.links[name]
	if !ok {
		return types.ErrResourceAbsent
	}
	if !l.acceptsTime {
		return errors.New("operation not supported")
	}
	l.bitrate = &bitrate
	if samplePoint != "" {
		l.samplePoint = &samplePoint
	}
	return nil
}

// ---------------------------------------------------- MODULES ----------------------------------------------------- //

type fakeModules struct{ h *fakeHost }

var _ adapter.ModuleManager = fakeModules{}

func (f fakeModules) Loaded(_ context.Context) (types.ModuleSet, error) {
	return slices.Clone(types.ModuleSet(f.h.modules)), nil
}

func (f fakeModules) Load(_ context.Context, module string) error {
	f.h.record("module.load %s", module)
	if f.h.loadFails[module] {
		return types.ErrResourceAbsent
	}
	if !slices.Contains(f.h.modules, module) {
		f.h.modules = append(f.h.modules, module)
	}
	return nil
}

func (f fakeModules) Unload(_ context.Context, module string) error {
	f.h.record("module.unload %s", module)
	i := slices.Index(f.h.modules, module)
	if i < 0 {
		return types.ErrResourceAbsent
	}
	if f.h.busyModules[module] {
		return fmt.Errorf("modprobe: %w", types.ErrResourceBusy)
	}
	f.h.modules = slices.Delete(f.h.modules, i, i+1)
	return nil
}

// --------------------------------------------------- PROCESSES ---------------------------------------------------- //

type fakeProcs struct{ h *fakeHost }

var _ adapter.ProcessTable = fakeProcs{}

func (f fakeProcs) List(_ context.Context) ([]types.ManagedProcess, error) {
	out := make([]types.ManagedProcess, 0, len(f.h.procs))
	for _, p := range f.h.procs {
		out = append(out, p.proc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

func (f fakeProcs) Signal(_ context.Context, pid int32, force bool) error {
	f.h.record("process.signal %d %s", pid, strconv.FormatBool(force))
	p, ok := f.h.procs[pid]
	if !ok {
		return types.ErrResourceAbsent
	}

	switch {
	case p.unkillable:
	case force, !p.ignoreTerm:
		f.h.stopProcess(pid)
	}

	return nil
}

func (f fakeProcs) Alive(_ context.Context, pid int32) bool {
	_, ok := f.h.procs[pid]
	return ok
}

// ------------------------------------------------------ USB ------------------------------------------------------- //

type fakeUSB struct{ h *fakeHost }

var _ adapter.USBEnumerator = fakeUSB{}

func (f fakeUSB) Devices(_ context.Context) ([]types.USBDevice, error) {
	return slices.Clone(f.h.usb), nil
}

func (f fakeUSB) SerialPorts(_ context.Context) ([]string, error) {
	return slices.Clone(f.h.ports), nil
}

// ---------------------------------------------------- BRIDGE ------------------------------------------------------ //

type fakeBridge struct{ h *fakeHost }

var _ adapter.BridgeSpawner = fakeBridge{}

func (f fakeBridge) Spawn(_ context.Context, device, name string, bitrate uint32) error {
	f.h.record("bridge.spawn %s %s", device, name)

	args, err := adapter.SlcandArgs(device, name, bitrate)
	if err != nil {
		return err
	}

	switch {
	case f.h.bridgeable[device]:
		f.h.startProcess(types.ProcessSerialBridgeDaemon, args...)
		f.h.links[name] = &fakeLink{kind: types.KindNative, bitrate: &bitrate}
		return nil
	case f.h.silentPorts[device]:
		f.h.startProcess(types.ProcessSerialBridgeDaemon, args...)
		return nil
	default:
		return fmt.Errorf("%w: cannot open %s", adapter.ErrSpawnBridge, device)
	}
}

// --------------------------------------------------- ACCOUNTS ----------------------------------------------------- //

type fakeAccounts struct{ h *fakeHost }

var _ adapter.AccountManager = fakeAccounts{}

func (f fakeAccounts) InGroup(_ context.Context, username, group string) (bool, error) {
	groups, ok := f.h.groups[username]
	if !ok {
		return false, fmt.Errorf("%w: user %s", adapter.ErrLookupUser, username)
	}
	return slices.Contains(groups, group), nil
}

func (f fakeAccounts) AddToGroup(_ context.Context, username, group string) error {
	f.h.record("account.add %s %s", username, group)
	f.h.groups[username] = append(f.h.groups[username], group)
	return nil
}

func (f fakeAccounts) Chmod(_ context.Context, path string, mode os.FileMode) error {
	f.h.record("account.chmod %s %o", path, mode)
	f.h.chmods[path] = mode
	return nil
}

// --------------------------------------------------- ARTIFACTS ---------------------------------------------------- //

type fakeArtifacts struct{ h *fakeHost }

var _ adapter.ArtifactStore = fakeArtifacts{}

func (f fakeArtifacts) Glob(_ context.Context, _ []string) ([]string, error) {
	out := make([]string, 0, len(f.h.artifacts))
	for p := range f.h.artifacts {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (f fakeArtifacts) Remove(_ context.Context, path string) error {
	f.h.record("artifact.remove %s", path)
	if !f.h.artifacts[path] {
		return types.ErrResourceAbsent
	}
	delete(f.h.artifacts, path)
	return nil
}

// ---------------------------------------------------- FRAMES ------------------------------------------------------ //

type fakeTransmitter struct {
	err  error
	sent []string
}

var _ adapter.FrameTransmitter = &fakeTransmitter{}

func (f *fakeTransmitter) Transmit(ctx context.Context, iface string, frame can.Frame) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("transmit called without a deadline")
	}
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, iface+" "+frame.String())
	return nil
}

// ----------------------------------------------------- WIRING ----------------------------------------------------- //

func noSleep(context.Context, time.Duration) {}

type testEnv struct {
	host        *fakeHost
	inspector   controller.Inspector
	provisioner *controller.Provisioner
	teardown    *controller.TeardownCoordinator
}

func newTestEnv(h *fakeHost) testEnv {
	log := logr.Discard()
	inspector := controller.NewInspector(log, fakeLinks{h}, fakeModules{h}, fakeProcs{h}, fakeUSB{h})

	return testEnv{
		host:      h,
		inspector: inspector,
		provisioner: controller.NewProvisioner(
			log,
			inspector,
			controller.NewModuleLoader(log, fakeModules{h}, nil),
			fakeLinks{h},
			fakeUSB{h},
			fakeBridge{h},
			fakeProcs{h},
			nil,
			controller.ProvisionerOptions{BridgeWaitAttempts: 3, BridgeWaitDelay: time.Millisecond, Sleep: noSleep},
		),
		teardown: controller.NewTeardownCoordinator(
			log,
			inspector,
			fakeLinks{h},
			fakeModules{h},
			fakeProcs{h},
			fakeArtifacts{h},
			nil,
			controller.TeardownCoordinatorOptions{Sleep: noSleep},
		),
	}
}
