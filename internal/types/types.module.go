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

// ModuleSet is an ordered set of kernel module names.
type ModuleSet []string

// DefaultLoadOrder is the order CAN modules are loaded in, dependencies first.
var DefaultLoadOrder = ModuleSet{"can", "can_raw", "can_dev", "vcan", "slcan"}

// DefaultUnloadOrder is the strict unload order, most-dependent first.
var DefaultUnloadOrder = ModuleSet{"slcan", "vcan", "can_bcm", "can_gw", "can_raw", "can_dev", "can"}

// Contains returns true if name is part of the set.
func (s ModuleSet) Contains(name string) bool {
	for _, m := range s {
		if m == name {
			return true
		}
	}
	return false
}

// ModuleServes returns true if an up interface of the given kind keeps module referenced.
func ModuleServes(module string, kind InterfaceKind) bool {
	switch module {
	case "slcan":
		return kind == KindSerialBridged
	case "vcan":
		return kind == KindVirtual
	case "can_dev":
		return kind == KindNative || kind == KindSerialBridged
	case "can", "can_raw", "can_bcm", "can_gw":
		return true
	default:
		return false
	}
}

// IsCANModule reports whether a loaded kernel module belongs to the CAN subsystem or one of
// its common adapter drivers.
func IsCANModule(name string) bool {
	if DefaultLoadOrder.Contains(name) || DefaultUnloadOrder.Contains(name) {
		return true
	}

	switch name {
	case "vxcan", "gs_usb", "peak_usb", "kvaser_usb", "esd_usb", "usb_8dev", "ems_usb", "mcp251x", "mcp251xfd":
		return true
	}

	return strings.HasPrefix(name, "can_") || strings.HasSuffix(name, "can")
}
