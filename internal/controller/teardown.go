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

package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"

	"github.com/alexandremahdhaoui/canlink/internal/adapter"
	"github.com/alexandremahdhaoui/canlink/internal/metrics"
	"github.com/alexandremahdhaoui/canlink/internal/types"
)

// TeardownOptions selects the optional teardown steps.
type TeardownOptions struct {
	// All targets every CAN-family interface instead of a single one.
	All           bool
	KillProcesses bool
	UnloadModules bool
}

// TargetState is the state a target interface was left in.
type TargetState string

const (
	// TargetDeleted means the interface no longer exists.
	TargetDeleted TargetState = "deleted"
	// TargetDown means the interface is down but could not be deleted. This is the final
	// state of native controllers.
	TargetDown TargetState = "down"
	// TargetUnchangeable means the interface could not even be set down.
	TargetUnchangeable TargetState = "unchangeable"
)

// TargetResult is the outcome of one target interface.
type TargetResult struct {
	Name  string
	Kind  types.InterfaceKind
	State TargetState
}

// TeardownReport describes what the TeardownCoordinator did and what the OS looks like
// afterwards.
type TeardownReport struct {
	Targets          []TargetResult
	Killed           []types.ManagedProcess
	Survivors        []types.ManagedProcess
	RemovedArtifacts []string
	UnloadedModules  []string
	BusyModules      []string
	Warnings         []string
	Final            types.Snapshot
}

// TeardownCoordinatorOptions tunes the TeardownCoordinator. Zero values select the defaults.
type TeardownCoordinatorOptions struct {
	UnloadOrder      types.ModuleSet
	ArtifactPatterns []string
	GracePeriod      time.Duration
	Sleep            SleepFunc
}

// TeardownCoordinator releases CAN interfaces and the OS resources around them.
type TeardownCoordinator struct {
	log       logr.Logger
	inspector Inspector
	links     adapter.LinkManager
	modules   adapter.ModuleManager
	artifacts adapter.ArtifactStore
	term      terminator
	rec       *metrics.Recorder
	opts      TeardownCoordinatorOptions
}

// NewTeardownCoordinator returns a new TeardownCoordinator.
func NewTeardownCoordinator(
	log logr.Logger,
	inspector Inspector,
	links adapter.LinkManager,
	modules adapter.ModuleManager,
	procs adapter.ProcessTable,
	artifacts adapter.ArtifactStore,
	rec *metrics.Recorder,
	opts TeardownCoordinatorOptions,
) *TeardownCoordinator {
	if opts.UnloadOrder == nil {
		opts.UnloadOrder = types.DefaultUnloadOrder
	}
	if opts.ArtifactPatterns == nil {
		opts.ArtifactPatterns = adapter.DefaultArtifactPatterns
	}
	if opts.GracePeriod == 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Sleep == nil {
		opts.Sleep = Sleep
	}

	log = log.WithName("teardown")

	return &TeardownCoordinator{
		log:       log,
		inspector: inspector,
		links:     links,
		modules:   modules,
		artifacts: artifacts,
		term:      terminator{log: log, procs: procs, grace: opts.GracePeriod, sleep: opts.Sleep},
		rec:       rec,
		opts:      opts,
	}
}

// Teardown runs, in this order: process termination, interface down and delete, artifact
// removal and module unload. It never fails: everything that did not go as planned is
// reported as a warning next to the final snapshot.
func (t *TeardownCoordinator) Teardown(ctx context.Context, target string, opts TeardownOptions) TeardownReport {
	report := TeardownReport{}
	warn := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		t.log.Info(msg)
		report.Warnings = append(report.Warnings, msg)
	}

	if opts.KillProcesses {
		t.killProcesses(ctx, &report, warn)
	}

	for _, d := range t.targets(ctx, target, opts.All) {
		report.Targets = append(report.Targets, t.release(ctx, d, opts.KillProcesses, warn))
	}

	t.removeArtifacts(ctx, &report, warn)

	if opts.UnloadModules {
		t.unloadModules(ctx, &report, warn)
	}

	report.Final = t.inspector.Snapshot(ctx)
	for _, r := range report.Targets {
		if _, ok := report.Final.Interface(r.Name); ok {
			warn("interface %s is still present (%s)", r.Name, r.State)
		}
	}

	return report
}

func (t *TeardownCoordinator) targets(ctx context.Context, target string, all bool) []types.InterfaceDescriptor {
	if all {
		return t.inspector.Interfaces(ctx)
	}

	d, ok := t.inspector.Interface(ctx, target)
	if !ok {
		t.log.V(1).Info("interface absent, nothing to do", "interface", target)
		return nil
	}

	return []types.InterfaceDescriptor{d}
}

func (t *TeardownCoordinator) killProcesses(ctx context.Context, report *TeardownReport, warn func(string, ...any)) {
	procs := t.inspector.Processes(ctx)
	order := make(map[types.ProcessKind]int, len(types.ProcessKinds))
	for i, k := range types.ProcessKinds {
		order[k] = i
	}
	sort.SliceStable(procs, func(i, j int) bool { return order[procs[i].Kind] < order[procs[j].Kind] })

	report.Killed, report.Survivors = t.term.terminate(ctx, procs)
	for _, p := range report.Survivors {
		warn("%s process %d survived termination", p.Kind, p.PID)
		t.rec.Step("teardown-process", metrics.OutcomeTolerated)
	}

	for range report.Killed {
		t.rec.Step("teardown-process", metrics.OutcomeOK)
	}
}

// release walks one interface through Up -> Down -> (Deleted | Unchangeable).
func (t *TeardownCoordinator) release(ctx context.Context, d types.InterfaceDescriptor, bridgesStopped bool, warn func(string, ...any)) TargetResult {
	log := t.log.WithValues("interface", d.Name, "kind", d.Kind.String())
	result := TargetResult{Name: d.Name, Kind: d.Kind, State: TargetUnchangeable}

	// the link of a bridged interface lives as long as its daemon.
	if d.Kind == types.KindSerialBridged && !bridgesStopped {
		bridges := make([]types.ManagedProcess, 0)
		for _, p := range t.inspector.Processes(ctx) {
			if p.BoundInterface() == d.Name {
				bridges = append(bridges, p)
			}
		}
		if _, survivors := t.term.terminate(ctx, bridges); len(survivors) > 0 {
			warn("serial bridge of %s survived termination", d.Name)
		}
	}

	down := !d.IsUp()
	if !down {
		err := t.links.SetDown(ctx, d.Name)
		switch {
		case err == nil:
			down = true
		case errors.Is(err, types.ErrResourceAbsent):
			result.State = TargetDeleted
			t.rec.Step("teardown-interface", metrics.OutcomeOK)
			return result
		default:
			warn("cannot set %s down: %v", d.Name, err)
		}
	}

	if down {
		result.State = TargetDown
	}

	err := t.links.Delete(ctx, d.Name)
	switch {
	case err == nil, errors.Is(err, types.ErrResourceAbsent):
		result.State = TargetDeleted
	case errors.Is(err, types.ErrNotDeletable):
		log.V(1).Info("interface cannot be deleted, leaving it down")
	default:
		warn("cannot delete %s: %v", d.Name, err)
	}

	if result.State == TargetUnchangeable {
		t.rec.Step("teardown-interface", metrics.OutcomeFailed)
	} else {
		t.rec.Step("teardown-interface", metrics.OutcomeOK)
	}

	log.V(1).Info("interface released", "state", string(result.State))

	return result
}

func (t *TeardownCoordinator) removeArtifacts(ctx context.Context, report *TeardownReport, warn func(string, ...any)) {
	paths, err := t.artifacts.Glob(ctx, t.opts.ArtifactPatterns)
	if err != nil {
		warn("cannot match artifact patterns: %v", err)
	}

	for _, p := range paths {
		err := t.artifacts.Remove(ctx, p)
		switch {
		case err == nil:
			report.RemovedArtifacts = append(report.RemovedArtifacts, p)
			t.rec.Step("teardown-artifact", metrics.OutcomeOK)
		case errors.Is(err, types.ErrResourceAbsent):
		default:
			warn("cannot remove %s: %v", p, err)
			t.rec.Step("teardown-artifact", metrics.OutcomeTolerated)
		}
	}
}

// unloadModules tries each loaded module once in unload order. A module still serving an up
// interface is reported busy without being attempted.
func (t *TeardownCoordinator) unloadModules(ctx context.Context, report *TeardownReport, warn func(string, ...any)) {
	loaded := t.inspector.Modules(ctx)
	ifaces := t.inspector.Interfaces(ctx)

	for _, m := range t.opts.UnloadOrder {
		if !loaded.Contains(m) {
			continue
		}

		if servesUpInterface(m, ifaces) {
			report.BusyModules = append(report.BusyModules, m)
			t.rec.Step("teardown-module", metrics.OutcomeSkipped)
			continue
		}

		err := t.modules.Unload(ctx, m)
		switch {
		case err == nil:
			report.UnloadedModules = append(report.UnloadedModules, m)
			t.rec.Step("teardown-module", metrics.OutcomeOK)
		case errors.Is(err, types.ErrResourceBusy):
			report.BusyModules = append(report.BusyModules, m)
			t.rec.Step("teardown-module", metrics.OutcomeTolerated)
		case errors.Is(err, types.ErrResourceAbsent):
		default:
			warn("cannot unload %s: %v", m, err)
			t.rec.Step("teardown-module", metrics.OutcomeTolerated)
		}
	}

	if len(report.BusyModules) > 0 {
		warn("modules still in use: %v", report.BusyModules)
	}
}

func servesUpInterface(module string, ifaces []types.InterfaceDescriptor) bool {
	for _, d := range ifaces {
		if d.IsUp() && types.ModuleServes(module, d.Kind) {
			return true
		}
	}
	return false
}
