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
	"time"

	"github.com/avast/retry-go"
	"github.com/go-logr/logr"

	"github.com/alexandremahdhaoui/canlink/internal/adapter"
	"github.com/alexandremahdhaoui/canlink/internal/metrics"
	"github.com/alexandremahdhaoui/canlink/internal/types"
)

const (
	DefaultBridgeWaitAttempts = 10
	DefaultBridgeWaitDelay    = 200 * time.Millisecond
)

// ProvisionPath names the path that produced the interface.
type ProvisionPath string

const (
	PathSerialBridge  ProvisionPath = "serial-bridge"
	PathNativeVirtual ProvisionPath = "native-virtual"
)

// ProvisionResult is the outcome of a successful Provision.
type ProvisionResult struct {
	// Interface is the live descriptor after provisioning.
	Interface types.InterfaceDescriptor
	Path      ProvisionPath
	// Device is the tty bridged to the interface, empty unless Path is PathSerialBridge.
	Device string
}

// ProvisionerOptions tunes the Provisioner. Zero values select the defaults.
type ProvisionerOptions struct {
	LoadOrder          types.ModuleSet
	BridgeWaitAttempts uint
	BridgeWaitDelay    time.Duration
	GracePeriod        time.Duration
	Sleep              SleepFunc
}

// Provisioner brings one named CAN interface up.
type Provisioner struct {
	log       logr.Logger
	inspector Inspector
	loader    *ModuleLoader
	links     adapter.LinkManager
	usb       adapter.USBEnumerator
	bridge    adapter.BridgeSpawner
	term      terminator
	rec       *metrics.Recorder
	opts      ProvisionerOptions
}

// NewProvisioner returns a new Provisioner.
func NewProvisioner(
	log logr.Logger,
	inspector Inspector,
	loader *ModuleLoader,
	links adapter.LinkManager,
	usb adapter.USBEnumerator,
	bridge adapter.BridgeSpawner,
	procs adapter.ProcessTable,
	rec *metrics.Recorder,
	opts ProvisionerOptions,
) *Provisioner {
	if opts.LoadOrder == nil {
		opts.LoadOrder = types.DefaultLoadOrder
	}
	if opts.BridgeWaitAttempts == 0 {
		opts.BridgeWaitAttempts = DefaultBridgeWaitAttempts
	}
	if opts.BridgeWaitDelay == 0 {
		opts.BridgeWaitDelay = DefaultBridgeWaitDelay
	}
	if opts.GracePeriod == 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Sleep == nil {
		opts.Sleep = Sleep
	}

	log = log.WithName("provisioner")

	return &Provisioner{
		log:       log,
		inspector: inspector,
		loader:    loader,
		links:     links,
		usb:       usb,
		bridge:    bridge,
		term:      terminator{log: log, procs: procs, grace: opts.GracePeriod, sleep: opts.Sleep},
		rec:       rec,
		opts:      opts,
	}
}

// Provision resets name and brings it up again, through a serial bridge when a USB adapter
// is attached, else as a native or virtual interface. Only ErrInterfaceUnavailable is
// returned; every intermediate failure is logged and tolerated.
func (p *Provisioner) Provision(ctx context.Context, name string, bitrate uint32, samplePoint string) (ProvisionResult, error) {
	log := p.log.WithValues("interface", name, "bitrate", bitrate)

	if err := (types.DesiredState{InterfaceName: name, Bitrate: bitrate}).Validate(); err != nil {
		return ProvisionResult{}, fmt.Errorf("%w: %w", types.ErrInterfaceUnavailable, err)
	}

	p.loader.EnsureLoaded(ctx, p.opts.LoadOrder)
	p.reset(ctx, log, name)

	result := ProvisionResult{}
	strategies := make([]Strategy, 0)

	class := Classify(p.inspector.USBDevices(ctx))
	log.V(1).Info("classified usb adapters", "class", class.String())

	// slcand cannot claim a name held by a link that survived the reset.
	_, kept := p.inspector.Interface(ctx, name)

	switch {
	case class == types.AdapterNone:
	case kept:
		log.Info("interface kept after reset, skipping serial bridges")
	default:
		ports, err := p.usb.SerialPorts(ctx)
		if err != nil {
			log.V(1).Info("cannot list serial ports", "err", err.Error())
		}

		for _, port := range ports {
			port := port
			strategies = append(strategies, Strategy{
				Name: string(PathSerialBridge) + ":" + port,
				Run: func(ctx context.Context) error {
					if err := p.bridgeDevice(ctx, log, name, port, bitrate); err != nil {
						return err
					}
					result.Path, result.Device = PathSerialBridge, port
					return nil
				},
			})
		}
	}

	strategies = append(strategies, Strategy{
		Name: string(PathNativeVirtual),
		Run: func(ctx context.Context) error {
			if err := p.nativeOrVirtual(ctx, log, name, bitrate, samplePoint); err != nil {
				return err
			}
			result.Path = PathNativeVirtual
			return nil
		},
	})

	if _, err := FirstSuccess(ctx, log, TolerateAll, strategies...); err != nil {
		p.rec.Step("provisioner", metrics.OutcomeFailed)
		return ProvisionResult{}, fmt.Errorf("%w: %s: %w", types.ErrInterfaceUnavailable, name, err)
	}

	d, ok := p.inspector.Interface(ctx, name)
	if !ok || !d.IsUp() {
		p.rec.Step("provisioner", metrics.OutcomeFailed)
		return ProvisionResult{}, fmt.Errorf("%w: %s is not up after provisioning", types.ErrInterfaceUnavailable, name)
	}

	result.Interface = d
	p.rec.Step("provisioner", metrics.OutcomeOK)
	log.Info("interface provisioned", "path", string(result.Path), "kind", d.Kind.String(), "device", result.Device)

	return result, nil
}

// reset stops the bridges bound to name, then brings name down and deletes it. Absence and
// undeletable kinds are expected.
func (p *Provisioner) reset(ctx context.Context, log logr.Logger, name string) {
	bridges := make([]types.ManagedProcess, 0)
	for _, proc := range p.inspector.Processes(ctx) {
		if proc.BoundInterface() == name {
			bridges = append(bridges, proc)
		}
	}

	if _, survivors := p.term.terminate(ctx, bridges); len(survivors) > 0 {
		log.Info("serial bridge daemons survived reset", "count", len(survivors))
	}

	if _, ok := p.inspector.Interface(ctx, name); !ok {
		return
	}

	if err := p.links.SetDown(ctx, name); err != nil && !errors.Is(err, types.ErrResourceAbsent) {
		log.V(1).Info("cannot set interface down during reset", "err", err.Error())
	}

	err := p.links.Delete(ctx, name)
	switch {
	case err == nil:
		log.V(1).Info("deleted existing interface")
	case errors.Is(err, types.ErrResourceAbsent), errors.Is(err, types.ErrNotDeletable):
		log.V(1).Info("existing interface kept", "reason", err.Error())
	default:
		log.Info("cannot delete existing interface, continuing", "err", err.Error())
	}
}

// bridgeDevice spawns a bridge for device and waits for name to appear. The daemon is
// stopped again if the interface never comes up.
func (p *Provisioner) bridgeDevice(ctx context.Context, log logr.Logger, name, device string, bitrate uint32) error {
	if err := p.bridge.Spawn(ctx, device, name, bitrate); err != nil {
		p.rec.Step("bridge", metrics.OutcomeTolerated)
		return err
	}

	err := retry.Do(
		func() error {
			if _, ok := p.inspector.Interface(ctx, name); !ok {
				return fmt.Errorf("%w: %s not created by bridge on %s", types.ErrResourceAbsent, name, device)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(p.opts.BridgeWaitAttempts),
		retry.Delay(p.opts.BridgeWaitDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		err = p.links.SetUp(ctx, name)
	}

	if err != nil {
		p.stopBridgesOn(ctx, log, device)
		p.rec.Step("bridge", metrics.OutcomeTolerated)
		return err
	}

	p.rec.Step("bridge", metrics.OutcomeOK)

	return nil
}

func (p *Provisioner) stopBridgesOn(ctx context.Context, log logr.Logger, device string) {
	bridges := make([]types.ManagedProcess, 0)
	for _, proc := range p.inspector.Processes(ctx) {
		if proc.BoundDevice() == device {
			bridges = append(bridges, proc)
		}
	}

	if _, survivors := p.term.terminate(ctx, bridges); len(survivors) > 0 {
		log.Info("serial bridge daemon survived termination", "device", device, "count", len(survivors))
	}
}

func (p *Provisioner) nativeOrVirtual(ctx context.Context, log logr.Logger, name string, bitrate uint32, samplePoint string) error {
	if _, ok := p.inspector.Interface(ctx, name); !ok {
		if err := p.links.AddVirtual(ctx, name); err != nil {
			return err
		}
		log.V(1).Info("created virtual interface")
	}

	// virtual links carry no bit timing; this only matters for native controllers.
	if err := p.links.SetTiming(ctx, name, bitrate, samplePoint); err != nil {
		log.V(1).Info("bit timing not applied", "err", err.Error())
		p.rec.Step("timing", metrics.OutcomeTolerated)
	} else {
		p.rec.Step("timing", metrics.OutcomeOK)
	}

	return p.links.SetUp(ctx, name)
}
