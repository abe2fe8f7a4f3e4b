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

package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/coreos/go-systemd/v22/unit"

	"github.com/alexandremahdhaoui/canlink/internal/types"
)

const (
	DefaultUnitDir = "/etc/systemd/system"

	unitPrefix    = "canlink-"
	unitSuffix    = ".service"
	recordSection = "X-Canlink"
)

var (
	ErrWriteUnit   = errors.New("failed to write unit file")
	ErrReadUnit    = errors.New("failed to read unit file")
	ErrSystemdBus  = errors.New("systemd bus call failed")
	ErrInvalidUnit = errors.New("unit file carries no canlink record")
)

// UnitName returns the supervised unit name of an interface, e.g. "canlink-can0.service".
func UnitName(iface string) string {
	return unitPrefix + unit.UnitNameEscape(iface) + unitSuffix
}

// ---------------------------------------------------- UNIT FILES -------------------------------------------------- //

// UnitFiles reads and writes autostart units in Dir.
type UnitFiles struct {
	Dir string
}

// Path returns the unit file path of iface.
func (u UnitFiles) Path(iface string) string {
	return filepath.Join(u.dir(), UnitName(iface))
}

// Write renders the unit replaying desired with execPath and writes it atomically. An
// existing unit for the same interface is overwritten.
func (u UnitFiles) Write(desired types.DesiredState, execPath string) (string, error) {
	if err := desired.Validate(); err != nil {
		return "", err
	}

	b, err := io.ReadAll(unit.Serialize(UnitOptions(desired, execPath)))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrWriteUnit, err)
	}

	path := u.Path(desired.InterfaceName)
	if err := os.MkdirAll(u.dir(), 0o755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrWriteUnit, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", fmt.Errorf("%w: %w", ErrWriteUnit, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("%w: %w", ErrWriteUnit, err)
	}

	return path, nil
}

// Read parses the record of iface back. It returns ErrResourceAbsent if no unit exists.
func (u UnitFiles) Read(iface string) (types.DesiredState, error) {
	b, err := os.ReadFile(u.Path(iface))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.DesiredState{}, fmt.Errorf("%w: unit %s", types.ErrResourceAbsent, UnitName(iface))
		}
		return types.DesiredState{}, fmt.Errorf("%w: %w", ErrReadUnit, err)
	}

	return ParseUnit(bytes.NewReader(b))
}

func (u UnitFiles) dir() string {
	if u.Dir == "" {
		return DefaultUnitDir
	}
	return u.Dir
}

// UnitOptions returns the options of the oneshot unit replaying desired at boot.
func UnitOptions(desired types.DesiredState, execPath string) []*unit.UnitOption {
	bitrate := strconv.FormatUint(uint64(desired.Bitrate), 10)

	return []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", fmt.Sprintf("Bring up CAN interface %s at %s bit/s", desired.InterfaceName, bitrate)),
		unit.NewUnitOption("Unit", "After", "network-pre.target"),
		unit.NewUnitOption("Unit", "Wants", "network-pre.target"),
		unit.NewUnitOption("Service", "Type", "oneshot"),
		unit.NewUnitOption("Service", "RemainAfterExit", "yes"),
		unit.NewUnitOption("Service", "ExecStart", execLine(execPath, "setup", desired.InterfaceName, bitrate, "--no-autostart")),
		unit.NewUnitOption("Install", "WantedBy", "multi-user.target"),
		unit.NewUnitOption(recordSection, "Interface", desired.InterfaceName),
		unit.NewUnitOption(recordSection, "Bitrate", bitrate),
	}
}

// execLine renders an ExecStart command line. Arguments with blanks, quotes or backslashes
// are double-quoted; % and $ are doubled so systemd expands neither specifiers nor variables.
func execLine(args ...string) string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		arg = strings.NewReplacer("%", "%%", "$", "$$").Replace(arg)
		if strings.ContainsAny(arg, " \t\"'\\") {
			arg = `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(arg) + `"`
		}
		out = append(out, arg)
	}
	return strings.Join(out, " ")
}

// ParseUnit extracts the DesiredState stored in a unit file.
func ParseUnit(r io.Reader) (types.DesiredState, error) {
	opts, err := unit.Deserialize(r)
	if err != nil {
		return types.DesiredState{}, fmt.Errorf("%w: %w", ErrReadUnit, err)
	}

	out := types.DesiredState{}
	for _, opt := range opts {
		if opt.Section != recordSection {
			continue
		}

		switch opt.Name {
		case "Interface":
			out.InterfaceName = opt.Value
		case "Bitrate":
			n, err := strconv.ParseUint(opt.Value, 10, 32)
			if err != nil {
				return types.DesiredState{}, fmt.Errorf("%w: bitrate %q: %w", ErrInvalidUnit, opt.Value, err)
			}
			out.Bitrate = uint32(n)
		}
	}

	if err := out.Validate(); err != nil {
		return types.DesiredState{}, fmt.Errorf("%w: %w", ErrInvalidUnit, err)
	}

	return out, nil
}

// ---------------------------------------------------- SYSTEMD BUS ------------------------------------------------- //

// SystemdBus is the subset of the service manager API used to activate a written unit.
type SystemdBus interface {
	Reload(ctx context.Context) error
	Enable(ctx context.Context, unitPath string) error
}

// NewSystemdBus returns a SystemdBus talking to the system instance over D-Bus. A connection
// is opened per call.
func NewSystemdBus() SystemdBus {
	return systemdBus{}
}

type systemdBus struct{}

func (systemdBus) Reload(ctx context.Context) error {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSystemdBus, err)
	}
	defer conn.Close()

	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("%w: daemon-reload: %w", ErrSystemdBus, err)
	}

	return nil
}

func (systemdBus) Enable(ctx context.Context, unitPath string) error {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSystemdBus, err)
	}
	defer conn.Close()

	if _, _, err := conn.EnableUnitFilesContext(ctx, []string{unitPath}, false, true); err != nil {
		return fmt.Errorf("%w: enable %s: %w", ErrSystemdBus, unitPath, err)
	}

	return nil
}
