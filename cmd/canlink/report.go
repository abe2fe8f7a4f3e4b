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
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/alexandremahdhaoui/canlink/internal/controller"
	"github.com/alexandremahdhaoui/canlink/internal/types"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

func okMark() string   { return green("[ok]") }
func warnMark() string { return yellow("[warn]") }
func failMark() string { return red("[fail]") }

func stateMark(d types.InterfaceDescriptor) string {
	if d.IsUp() {
		return green("[up]")
	}
	return yellow("[down]")
}

// renderSnapshot prints the interfaces, modules, processes and USB devices of s. records
// holds the autostart record of each interface that has one.
func renderSnapshot(w io.Writer, s types.Snapshot, records map[string]types.DesiredState) {
	fmt.Fprintln(w, "Interfaces:")
	if len(s.Interfaces) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, d := range s.Interfaces {
		line := fmt.Sprintf("  %s %s %s", stateMark(d), d.Name, d.Kind)
		if d.Bitrate != nil {
			line += fmt.Sprintf(" bitrate=%d", *d.Bitrate)
		}
		if d.SamplePoint != nil {
			line += fmt.Sprintf(" sample-point=%s", *d.SamplePoint)
		}
		if r, ok := records[d.Name]; ok {
			line += fmt.Sprintf(" autostart=%d", r.Bitrate)
		}
		fmt.Fprintln(w, line)
	}

	// records of interfaces that are currently absent.
	absent := make([]string, 0)
	for name := range records {
		if _, ok := s.Interface(name); !ok {
			absent = append(absent, name)
		}
	}
	sort.Strings(absent)
	for _, name := range absent {
		fmt.Fprintf(w, "  %s %s absent autostart=%d\n", warnMark(), name, records[name].Bitrate)
	}

	fmt.Fprintf(w, "Modules: %s\n", joinOrNone(s.Modules))

	fmt.Fprintln(w, "Processes:")
	if len(s.Processes) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, p := range s.Processes {
		fmt.Fprintf(w, "  %s pid=%d %s\n", p.Kind, p.PID, strings.Join(p.Args, " "))
	}

	fmt.Fprintln(w, "USB devices:")
	if len(s.USBDevices) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, d := range s.USBDevices {
		line := fmt.Sprintf("  %s:%s", d.VendorID, d.ProductID)
		for _, v := range []string{d.Manufacturer, d.Product, d.Driver, d.SerialPort} {
			if v != "" {
				line += " " + v
			}
		}
		fmt.Fprintln(w, line)
	}
}

type setupSummary struct {
	result      controller.ProvisionResult
	permissions controller.PermissionOutcome
	autostart   bool
	registerErr error
	verifyErr   error
}

func renderSetup(w io.Writer, s setupSummary) {
	d := s.result.Interface
	fmt.Fprintf(w, "%s %s is up (%s via %s", okMark(), d.Name, d.Kind, s.result.Path)
	if s.result.Device != "" {
		fmt.Fprintf(w, " on %s", s.result.Device)
	}
	fmt.Fprintln(w, ")")

	if s.permissions.DeviceOpened {
		fmt.Fprintf(w, "%s %s is world read/write\n", okMark(), s.permissions.DeviceNode)
	}
	if s.permissions.GroupAdded {
		fmt.Fprintf(w, "%s %s added to group %s\n", okMark(), s.permissions.User, s.permissions.Group)
	}
	if s.permissions.SessionRefreshRequired {
		fmt.Fprintf(w, "%s log out and back in (or start a new session) for the %s membership to apply\n", warnMark(), s.permissions.Group)
	}
	for _, msg := range s.permissions.Warnings {
		fmt.Fprintf(w, "%s %s\n", warnMark(), msg)
	}

	switch {
	case !s.autostart:
	case s.registerErr != nil:
		fmt.Fprintf(w, "%s autostart not registered: %v\n", warnMark(), s.registerErr)
	default:
		fmt.Fprintf(w, "%s autostart registered\n", okMark())
	}

	if s.verifyErr != nil {
		fmt.Fprintf(w, "%s verification: %v\n", warnMark(), s.verifyErr)
	} else {
		fmt.Fprintf(w, "%s verification passed\n", okMark())
	}
}

func renderVerify(w io.Writer, name string, err error) {
	switch {
	case err == nil:
		fmt.Fprintf(w, "%s %s is up\n", okMark(), name)
	case errors.Is(err, types.ErrNotUp):
		fmt.Fprintf(w, "%s %s is not up\n", failMark(), name)
	default:
		fmt.Fprintf(w, "%s %s: %v\n", failMark(), name, err)
	}
}

func renderTeardown(w io.Writer, r controller.TeardownReport) {
	if len(r.Targets) == 0 {
		fmt.Fprintf(w, "%s no interface to tear down\n", okMark())
	}
	for _, t := range r.Targets {
		mark := okMark()
		if t.State == controller.TargetUnchangeable {
			mark = warnMark()
		}
		fmt.Fprintf(w, "%s %s %s\n", mark, t.Name, t.State)
	}

	for _, p := range r.Killed {
		fmt.Fprintf(w, "%s stopped %s pid=%d\n", okMark(), p.Kind, p.PID)
	}
	if len(r.RemovedArtifacts) > 0 {
		fmt.Fprintf(w, "%s removed %s\n", okMark(), strings.Join(r.RemovedArtifacts, ", "))
	}
	if len(r.UnloadedModules) > 0 {
		fmt.Fprintf(w, "%s unloaded %s\n", okMark(), strings.Join(r.UnloadedModules, ", "))
	}
	for _, msg := range r.Warnings {
		fmt.Fprintf(w, "%s %s\n", warnMark(), msg)
	}
}

func joinOrNone(s []string) string {
	if len(s) == 0 {
		return "(none)"
	}
	return strings.Join(s, ", ")
}
