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

package types

// AdapterClass is the advisory classification of the attached USB hardware.
// It only changes which provisioning path is attempted first.
type AdapterClass int

const (
	// AdapterNone means no USB device is attached at all.
	AdapterNone AdapterClass = iota
	// AdapterRecognizedSerialBridge is a known serial-to-CAN adapter (slcan protocol).
	AdapterRecognizedSerialBridge
	// AdapterRecognizedNativeLike is a known adapter with an in-kernel CAN driver.
	AdapterRecognizedNativeLike
	// AdapterUnrecognized means USB devices are attached but none matched the known table.
	AdapterUnrecognized
)

func (c AdapterClass) String() string {
	switch c {
	case AdapterNone:
		return "none"
	case AdapterRecognizedSerialBridge:
		return "serial-bridge"
	case AdapterRecognizedNativeLike:
		return "native-like"
	default:
		return "unrecognized"
	}
}

// USBDevice is the raw descriptor of an attached USB device.
type USBDevice struct {
	// Path is the sysfs path or the serial device node the descriptor was read from.
	Path string
	// VendorID and ProductID are lower-case hexadecimal ids without prefix, e.g. "16d0".
	VendorID  string
	ProductID string
	// Manufacturer and Product are the free-form USB strings, possibly empty.
	Manufacturer string
	Product      string
	// Driver is the bound kernel driver if known (e.g. "cdc_acm", "gs_usb").
	Driver string
	// SerialPort is the tty device node (e.g. "/dev/ttyACM0") when the device exposes one.
	SerialPort string
}
