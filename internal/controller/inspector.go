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
	"strings"

	"github.com/go-logr/logr"

	"github.com/alexandremahdhaoui/canlink/internal/adapter"
	"github.com/alexandremahdhaoui/canlink/internal/types"
)

// ---------------------------------------------------- INTERFACE --------------------------------------------------- //

// Inspector answers read-only questions about the live OS state. Every call queries the OS
// again; nothing is cached. Query errors are logged and yield empty results.
type Inspector interface {
	Interfaces(ctx context.Context) []types.InterfaceDescriptor
	Interface(ctx context.Context, name string) (types.InterfaceDescriptor, bool)
	Modules(ctx context.Context) types.ModuleSet
	Processes(ctx context.Context) []types.ManagedProcess
	USBDevices(ctx context.Context) []types.USBDevice
	Snapshot(ctx context.Context) types.Snapshot
}

// --------------------------------------------------- CONSTRUCTORS ------------------------------------------------- //

// NewInspector returns a new Inspector.
func NewInspector(
	log logr.Logger,
	links adapter.LinkManager,
	modules adapter.ModuleManager,
	procs adapter.ProcessTable,
	usb adapter.USBEnumerator,
) Inspector {
	return &inspector{
		log:     log.WithName("inspector"),
		links:   links,
		modules: modules,
		procs:   procs,
		usb:     usb,
	}
}

// ---------------------------------------------------- INSPECTOR --------------------------------------------------- //

type inspector struct {
	log     logr.Logger
	links   adapter.LinkManager
	modules adapter.ModuleManager
	procs   adapter.ProcessTable
	usb     adapter.USBEnumerator
}

func (i *inspector) Interfaces(ctx context.Context) []types.InterfaceDescriptor {
	links, err := i.links.List(ctx)
	if err != nil {
		i.log.V(1).Info("cannot list links, assuming none", "err", err.Error())
		return []types.InterfaceDescriptor{}
	}

	return DeriveDescriptors(links, i.Processes(ctx))
}

func (i *inspector) Interface(ctx context.Context, name string) (types.InterfaceDescriptor, bool) {
	for _, d := range i.Interfaces(ctx) {
		if d.Name == name {
			return d, true
		}
	}
	return types.InterfaceDescriptor{}, false
}

func (i *inspector) Modules(ctx context.Context) types.ModuleSet {
	loaded, err := i.modules.Loaded(ctx)
	if err != nil {
		i.log.V(1).Info("cannot list kernel modules, assuming none", "err", err.Error())
		return types.ModuleSet{}
	}

	out := make(types.ModuleSet, 0)
	for _, m := range loaded {
		if types.IsCANModule(m) {
			out = append(out, m)
		}
	}

	return out
}

func (i *inspector) Processes(ctx context.Context) []types.ManagedProcess {
	procs, err := i.procs.List(ctx)
	if err != nil {
		i.log.V(1).Info("cannot list processes, assuming none", "err", err.Error())
		return []types.ManagedProcess{}
	}
	return procs
}

func (i *inspector) USBDevices(ctx context.Context) []types.USBDevice {
	devices, err := i.usb.Devices(ctx)
	if err != nil {
		i.log.V(1).Info("cannot list usb devices, assuming none", "err", err.Error())
		return []types.USBDevice{}
	}
	return devices
}

func (i *inspector) Snapshot(ctx context.Context) types.Snapshot {
	procs := i.Processes(ctx)

	ifaces := []types.InterfaceDescriptor{}
	if links, err := i.links.List(ctx); err != nil {
		i.log.V(1).Info("cannot list links, assuming none", "err", err.Error())
	} else {
		ifaces = DeriveDescriptors(links, procs)
	}

	modules := i.Modules(ctx)

	return types.Snapshot{
		Interfaces: ifaces,
		Modules:    modules,
		Processes:  procs,
		USBDevices: i.USBDevices(ctx),
	}
}

// DeriveDescriptors completes the raw link descriptors with what netlink cannot tell:
//   - every non-virtual link a live serial bridge daemon is bound to, or carrying an slcan
//     name, is SerialBridged. Netlink reports those as plain "can" links, if at all.
//   - bit timing is only reported for links that are up. A link set down keeps its last
//     timing in the kernel, but it is no longer in effect on the bus.
func DeriveDescriptors(links []types.InterfaceDescriptor, procs []types.ManagedProcess) []types.InterfaceDescriptor {
	bound := make(map[string]struct{})
	for _, p := range procs {
		if name := p.BoundInterface(); name != "" {
			bound[name] = struct{}{}
		}
	}

	out := make([]types.InterfaceDescriptor, 0, len(links))
	for _, d := range links {
		_, isBound := bound[d.Name]
		if d.Kind != types.KindVirtual && (isBound || strings.HasPrefix(d.Name, "slcan")) {
			d.Kind = types.KindSerialBridged
		}
		if !d.IsUp() {
			d.Bitrate, d.SamplePoint = nil, nil
		}
		out = append(out, d)
	}

	return out
}
