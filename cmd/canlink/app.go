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
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"
	"k8s.io/utils/ptr"

	"github.com/alexandremahdhaoui/canlink/internal/adapter"
	"github.com/alexandremahdhaoui/canlink/internal/controller"
	"github.com/alexandremahdhaoui/canlink/internal/metrics"
	"github.com/alexandremahdhaoui/canlink/internal/types"
	"github.com/alexandremahdhaoui/canlink/pkg/execcontext"
)

// app holds the wired components of one invocation.
type app struct {
	cfg  *Config
	log  logr.Logger
	rec  *metrics.Recorder
	out  io.Writer
	euid func() int

	inspector   controller.Inspector
	provisioner *controller.Provisioner
	permissions *controller.PermissionReconciler
	verifier    *controller.Verifier
	registrar   *controller.Registrar
	teardown    *controller.TeardownCoordinator
}

// hostAdapters are the OS-facing dependencies of an app.
type hostAdapters struct {
	links     adapter.LinkManager
	modules   adapter.ModuleManager
	procs     adapter.ProcessTable
	usb       adapter.USBEnumerator
	bridge    adapter.BridgeSpawner
	accounts  adapter.AccountManager
	artifacts adapter.ArtifactStore
	bus       adapter.SystemdBus
	// tx is nil when no test frame is sent.
	tx       adapter.FrameTransmitter
	euid     func() int
	execPath string
}

// newApp wires the controllers to the OS adapters.
func newApp(cfg *Config, log logr.Logger, rec *metrics.Recorder, out io.Writer) (*app, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving executable path: %w", err)
	}

	runner := execcontext.NewRunner(execcontext.New(nil, cfg.ExecPrependCmd))

	host := hostAdapters{
		links:     adapter.NewLinkManager(runner),
		modules:   adapter.NewModuleManager(runner, ""),
		procs:     adapter.NewProcessTable(),
		usb:       adapter.NewUSBEnumerator("", nil),
		bridge:    adapter.NewBridgeSpawner(runner),
		accounts:  adapter.NewAccountManager(runner),
		artifacts: adapter.NewArtifactStore(),
		bus:       adapter.NewSystemdBus(),
		euid:      unix.Geteuid,
		execPath:  execPath,
	}

	if ptr.Deref(cfg.SendTestFrame, true) {
		host.tx = adapter.NewFrameTransmitter()
	}

	return wireApp(cfg, log, rec, out, host)
}

func wireApp(cfg *Config, log logr.Logger, rec *metrics.Recorder, out io.Writer, host hostAdapters) (*app, error) {
	frame, err := adapter.ParseFrame(cfg.TestFrame)
	if err != nil {
		return nil, err
	}

	inspector := controller.NewInspector(log, host.links, host.modules, host.procs, host.usb)

	return &app{
		cfg:       cfg,
		log:       log,
		rec:       rec,
		out:       out,
		euid:      host.euid,
		inspector: inspector,
		provisioner: controller.NewProvisioner(
			log,
			inspector,
			controller.NewModuleLoader(log, host.modules, rec),
			host.links,
			host.usb,
			host.bridge,
			host.procs,
			rec,
			controller.ProvisionerOptions{
				BridgeWaitAttempts: ptr.Deref(cfg.BridgeWaitAttempts, 0),
				GracePeriod:        cfg.GracePeriod(),
			},
		),
		permissions: controller.NewPermissionReconciler(
			log,
			host.accounts,
			cfg.AccessGroup,
			ptr.Deref(cfg.WorldAccessibleDevice, true),
			rec,
		),
		verifier: controller.NewVerifier(log, inspector, host.tx, frame, cfg.FrameTimeout(), rec),
		registrar: controller.NewRegistrar(
			log,
			adapter.UnitFiles{Dir: cfg.UnitDir},
			host.bus,
			host.execPath,
			rec,
		),
		teardown: controller.NewTeardownCoordinator(
			log,
			inspector,
			host.links,
			host.modules,
			host.procs,
			host.artifacts,
			rec,
			controller.TeardownCoordinatorOptions{
				ArtifactPatterns: cfg.ArtifactPatterns,
				GracePeriod:      cfg.GracePeriod(),
			},
		),
	}, nil
}

// ---------------------------------------------------- SETUP ------------------------------------------------------- //

type setupRequest struct {
	desired     types.DesiredState
	samplePoint string
	noAutostart bool
	testOnly    bool
	status      bool
	// invokingUser is the unprivileged user behind sudo, if any.
	invokingUser string
}

func (a *app) setup(ctx context.Context, req setupRequest) error {
	name := req.desired.InterfaceName
	log := a.log.WithValues("interface", name)

	if req.status {
		a.printStatus(ctx, name)
		return nil
	}

	if req.testOnly {
		err := a.verifier.Verify(ctx, name)
		renderVerify(a.out, name, err)
		return err
	}

	if err := controller.RequirePrivilege(a.euid()); err != nil {
		return err
	}

	res, err := a.provisioner.Provision(ctx, name, req.desired.Bitrate, req.samplePoint)
	if err != nil {
		return err
	}

	summary := setupSummary{
		result:      res,
		permissions: a.permissions.Reconcile(ctx, name, res.Device, req.invokingUser),
		autostart:   !req.noAutostart,
	}

	if summary.autostart {
		summary.registerErr = a.registrar.Register(ctx, req.desired)
		if summary.registerErr != nil {
			log.Info("autostart not registered", "err", summary.registerErr.Error())
		}
	}

	summary.verifyErr = a.verifier.Verify(ctx, name)

	renderSetup(a.out, summary)
	a.printStatus(ctx, name)

	return nil
}

// --------------------------------------------------- CLEANUP ------------------------------------------------------ //

type cleanupRequest struct {
	target string
	opts   controller.TeardownOptions
	status bool
}

func (a *app) cleanup(ctx context.Context, req cleanupRequest) error {
	if req.status {
		a.printStatus(ctx, "")
		return nil
	}

	if err := controller.RequirePrivilege(a.euid()); err != nil {
		return err
	}

	report := a.teardown.Teardown(ctx, req.target, req.opts)
	renderTeardown(a.out, report)
	fmt.Fprintln(a.out)
	renderSnapshot(a.out, report.Final, a.records(report.Final, ""))
	a.rec.ObserveSnapshot(report.Final)

	return nil
}

// ---------------------------------------------------- STATUS ------------------------------------------------------ //

// printStatus renders a fresh snapshot. name, if set, is looked up for an autostart record
// even when absent.
func (a *app) printStatus(ctx context.Context, name string) {
	s := a.inspector.Snapshot(ctx)
	renderSnapshot(a.out, s, a.records(s, name))
	a.rec.ObserveSnapshot(s)
}

func (a *app) records(s types.Snapshot, name string) map[string]types.DesiredState {
	out := make(map[string]types.DesiredState)

	names := make([]string, 0, len(s.Interfaces)+1)
	for _, d := range s.Interfaces {
		names = append(names, d.Name)
	}
	if name != "" {
		names = append(names, name)
	}

	for _, n := range names {
		if r, ok := a.registrar.Lookup(n); ok {
			out[n] = r
		}
	}

	return out
}

// finish records the outcome of command and flushes the metrics textfile.
func (a *app) finish(command string, err error) {
	a.rec.RunResult(command, err == nil)
	if werr := a.rec.WriteTextfile(a.cfg.MetricsTextfile); werr != nil {
		a.log.Info("cannot write metrics textfile", "err", werr.Error())
	}
}
