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

	"github.com/go-logr/logr"

	"github.com/alexandremahdhaoui/canlink/internal/adapter"
	"github.com/alexandremahdhaoui/canlink/internal/metrics"
	"github.com/alexandremahdhaoui/canlink/internal/types"
)

var ErrRegister = errors.New("failed to register autostart")

// Registrar persists the desired state as a boot-time unit replaying setup.
type Registrar struct {
	log      logr.Logger
	files    adapter.UnitFiles
	bus      adapter.SystemdBus
	execPath string
	rec      *metrics.Recorder
}

// NewRegistrar returns a new Registrar. execPath is the binary the unit runs at boot. A nil
// bus skips activation.
func NewRegistrar(
	log logr.Logger,
	files adapter.UnitFiles,
	bus adapter.SystemdBus,
	execPath string,
	rec *metrics.Recorder,
) *Registrar {
	return &Registrar{
		log:      log.WithName("registrar"),
		files:    files,
		bus:      bus,
		execPath: execPath,
		rec:      rec,
	}
}

// Register writes the unit of desired, overwriting any previous one, then reloads and
// enables it. Only the write can fail; activation failures are logged.
func (r *Registrar) Register(ctx context.Context, desired types.DesiredState) error {
	log := r.log.WithValues("interface", desired.InterfaceName, "unit", adapter.UnitName(desired.InterfaceName))

	path, err := r.files.Write(desired, r.execPath)
	if err != nil {
		r.rec.Step("registrar", metrics.OutcomeFailed)
		return fmt.Errorf("%w: %w", ErrRegister, err)
	}

	log.Info("autostart unit written", "path", path)
	r.rec.Step("registrar", metrics.OutcomeOK)

	if r.bus == nil {
		return nil
	}

	if err := r.bus.Reload(ctx); err != nil {
		log.Info("cannot reload service manager, enable the unit manually", "err", err.Error())
		r.rec.Step("registrar", metrics.OutcomeTolerated)
		return nil
	}

	if err := r.bus.Enable(ctx, path); err != nil {
		log.Info("cannot enable unit, enable it manually", "err", err.Error())
		r.rec.Step("registrar", metrics.OutcomeTolerated)
		return nil
	}

	log.V(1).Info("autostart unit enabled")

	return nil
}

// Lookup returns the desired state registered for name.
func (r *Registrar) Lookup(name string) (types.DesiredState, bool) {
	desired, err := r.files.Read(name)
	if err != nil {
		if !errors.Is(err, types.ErrResourceAbsent) {
			r.log.V(1).Info("cannot read autostart unit", "interface", name, "err", err.Error())
		}
		return types.DesiredState{}, false
	}
	return desired, true
}
