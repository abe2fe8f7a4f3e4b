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
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"

	"github.com/alexandremahdhaoui/canlink/internal/types"
)

const DefaultSysfsUSBDevicesPath = "/sys/bus/usb/devices"

var (
	ErrListUSBDevices  = errors.New("failed to list usb devices")
	ErrListSerialPorts = errors.New("failed to list serial ports")
)

// USBEnumerator lists attached USB hardware.
type USBEnumerator interface {
	// Devices returns every attached USB device. Devices exposing a serial port carry it
	// in SerialPort.
	Devices(ctx context.Context) ([]types.USBDevice, error)
	// SerialPorts returns the USB serial device nodes (/dev/ttyUSB*, /dev/ttyACM*), sorted.
	SerialPorts(ctx context.Context) ([]string, error)
}

// PortLister returns the detailed serial port list. It defaults to enumerator.GetDetailedPortsList.
type PortLister func() ([]*enumerator.PortDetails, error)

// NewUSBEnumerator returns a USBEnumerator reading the sysfs tree rooted at sysfsRoot and the
// serial ports returned by listPorts.
func NewUSBEnumerator(sysfsRoot string, listPorts PortLister) USBEnumerator {
	if sysfsRoot == "" {
		sysfsRoot = DefaultSysfsUSBDevicesPath
	}

	if listPorts == nil {
		listPorts = enumerator.GetDetailedPortsList
	}

	return &usbEnumerator{sysfsRoot: sysfsRoot, listPorts: listPorts}
}

type usbEnumerator struct {
	sysfsRoot string
	listPorts PortLister
}

func (e *usbEnumerator) Devices(_ context.Context) ([]types.USBDevice, error) {
	entries, err := os.ReadDir(e.sysfsRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListUSBDevices, err)
	}

	out := make([]types.USBDevice, 0)
	for _, entry := range entries {
		// interfaces ("1-1:1.0") and root hubs ("usb1") carry no device descriptor worth reporting.
		if strings.Contains(entry.Name(), ":") || strings.HasPrefix(entry.Name(), "usb") {
			continue
		}

		dir := filepath.Join(e.sysfsRoot, entry.Name())
		vid := readSysfsAttr(dir, "idVendor")
		if vid == "" {
			continue
		}

		out = append(out, types.USBDevice{
			Path:         dir,
			VendorID:     strings.ToLower(vid),
			ProductID:    strings.ToLower(readSysfsAttr(dir, "idProduct")),
			Manufacturer: readSysfsAttr(dir, "manufacturer"),
			Product:      readSysfsAttr(dir, "product"),
			Driver:       interfaceDriver(dir, entry.Name()),
		})
	}

	// serial ports are attached to the device with matching ids.
	ports, err := e.usbPorts()
	if err != nil {
		return out, nil
	}

	return MergeSerialPorts(out, ports), nil
}

func (e *usbEnumerator) SerialPorts(_ context.Context) ([]string, error) {
	ports, err := e.usbPorts()
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(ports))
	for _, p := range ports {
		out = append(out, p.Name)
	}

	sort.Strings(out)

	return out, nil
}

func (e *usbEnumerator) usbPorts() ([]*enumerator.PortDetails, error) {
	ports, err := e.listPorts()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListSerialPorts, err)
	}

	out := make([]*enumerator.PortDetails, 0, len(ports))
	for _, p := range ports {
		if p == nil {
			continue
		}
		if p.IsUSB || IsUSBSerialNode(p.Name) {
			out = append(out, p)
		}
	}

	return out, nil
}

// IsUSBSerialNode reports whether node is a USB serial tty.
func IsUSBSerialNode(node string) bool {
	base := filepath.Base(node)
	return strings.HasPrefix(base, "ttyUSB") || strings.HasPrefix(base, "ttyACM")
}

// MergeSerialPorts sets SerialPort on the first device whose ids match each port. Ports
// without a matching device are appended as devices of their own.
func MergeSerialPorts(devices []types.USBDevice, ports []*enumerator.PortDetails) []types.USBDevice {
	for _, p := range ports {
		vid, pid := strings.ToLower(p.VID), strings.ToLower(p.PID)

		merged := false
		for i := range devices {
			if devices[i].SerialPort != "" || devices[i].VendorID != vid || devices[i].ProductID != pid {
				continue
			}
			devices[i].SerialPort = p.Name
			merged = true
			break
		}

		if merged {
			continue
		}

		devices = append(devices, types.USBDevice{
			Path:       p.Name,
			VendorID:   vid,
			ProductID:  pid,
			Product:    p.Product,
			SerialPort: p.Name,
		})
	}

	return devices
}

func readSysfsAttr(dir, name string) string {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// interfaceDriver returns the driver bound to the first interface of the device, e.g. "gs_usb".
func interfaceDriver(dir, devName string) string {
	matches, _ := filepath.Glob(filepath.Join(dir, devName+":*", "driver"))
	for _, m := range matches {
		target, err := os.Readlink(m)
		if err == nil {
			return filepath.Base(target)
		}
	}
	return ""
}
