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

import "strings"

// InterfaceKind describes what backs a CAN-family network interface.
type InterfaceKind int

const (
	// KindUnknown is a CAN-family link whose backing could not be determined.
	KindUnknown InterfaceKind = iota
	// KindNative is a link driven by a kernel CAN controller driver.
	KindNative
	// KindVirtual is a vcan loopback link.
	KindVirtual
	// KindSerialBridged is a link exposed by a serial bridge daemon (slcand).
	KindSerialBridged
)

func (k InterfaceKind) String() string {
	switch k {
	case KindNative:
		return "native"
	case KindVirtual:
		return "virtual"
	case KindSerialBridged:
		return "serial-bridged"
	default:
		return "unknown"
	}
}

// AdminState is the administrative state of a link.
type AdminState int

const (
	AdminDown AdminState = iota
	AdminUp
)

func (s AdminState) String() string {
	if s == AdminUp {
		return "up"
	}
	return "down"
}

// InterfaceDescriptor is a point-in-time view of one CAN-family link.
// It is produced fresh on every query and must never be cached.
type InterfaceDescriptor struct {
	// Name is the kernel interface name, e.g. "can0".
	Name string
	// Kind tells whether the link is native, virtual or serial-bridged.
	Kind InterfaceKind
	// AdminState is the IFF_UP state of the link.
	AdminState AdminState
	// Bitrate is the configured nominal bitrate in bit/s, nil when the link carries no timing.
	Bitrate *uint32
	// SamplePoint is the configured sample point as a ratio (e.g. "0.875"), nil when unset.
	SamplePoint *string
}

// IsUp returns true if the link is administratively up.
func (d InterfaceDescriptor) IsUp() bool {
	return d.AdminState == AdminUp
}

// IsCANFamilyName reports whether name follows one of the usual CAN-family naming schemes
// (can0, vcan0, vxcan0, slcan0).
func IsCANFamilyName(name string) bool {
	rest := name
	for _, prefix := range []string{"vxcan", "slcan", "vcan", "can"} {
		if strings.HasPrefix(name, prefix) {
			rest = strings.TrimPrefix(name, prefix)
			break
		}
	}
	if rest == name || rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
