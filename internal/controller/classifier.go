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
	"strings"

	"github.com/alexandremahdhaoui/canlink/internal/types"
)

// adapterRule matches a device by vendor id, product id and/or a substring of its
// description. Empty fields match anything; a rule needs at least one non-empty field.
type adapterRule struct {
	vendor    string
	product   string
	substring string
	class     types.AdapterClass
}

// adapterRules is scanned in order for each device; the first match wins.
var adapterRules = []adapterRule{
	// serial bridges (slcan protocol)
	{vendor: "16d0", product: "117e", class: types.AdapterRecognizedSerialBridge}, // CANable slcan firmware
	{vendor: "0403", product: "ffa8", class: types.AdapterRecognizedSerialBridge}, // Lawicel CANUSB
	{vendor: "04d8", product: "000a", class: types.AdapterRecognizedSerialBridge}, // USBtin
	{vendor: "1a86", product: "7523", class: types.AdapterRecognizedSerialBridge}, // CH340 USB-CAN
	{substring: "slcan", class: types.AdapterRecognizedSerialBridge},
	{substring: "canable", class: types.AdapterRecognizedSerialBridge},
	{substring: "canusb", class: types.AdapterRecognizedSerialBridge},
	{substring: "usbtin", class: types.AdapterRecognizedSerialBridge},
	{substring: "usb-can", class: types.AdapterRecognizedSerialBridge},

	// in-kernel drivers
	{vendor: "1d50", product: "606f", class: types.AdapterRecognizedNativeLike}, // candleLight / gs_usb
	{vendor: "0c72", product: "000c", class: types.AdapterRecognizedNativeLike}, // PEAK PCAN-USB
	{vendor: "0bfd", class: types.AdapterRecognizedNativeLike},                  // Kvaser
	{vendor: "0483", product: "1234", class: types.AdapterRecognizedNativeLike}, // 8devices USB2CAN
	{substring: "gs_usb", class: types.AdapterRecognizedNativeLike},
	{substring: "candlelight", class: types.AdapterRecognizedNativeLike},
	{substring: "pcan", class: types.AdapterRecognizedNativeLike},
	{substring: "kvaser", class: types.AdapterRecognizedNativeLike},
}

// Classify maps the attached USB devices to an adapter class. It is total: no device yields
// AdapterNone and devices matching no rule yield AdapterUnrecognized.
func Classify(devices []types.USBDevice) types.AdapterClass {
	if len(devices) == 0 {
		return types.AdapterNone
	}

	for _, d := range devices {
		for _, r := range adapterRules {
			if r.matches(d) {
				return r.class
			}
		}
	}

	return types.AdapterUnrecognized
}

func (r adapterRule) matches(d types.USBDevice) bool {
	if r.vendor == "" && r.product == "" && r.substring == "" {
		return false
	}

	if r.vendor != "" && !strings.EqualFold(r.vendor, d.VendorID) {
		return false
	}

	if r.product != "" && !strings.EqualFold(r.product, d.ProductID) {
		return false
	}

	if r.substring != "" {
		haystack := strings.ToLower(strings.Join([]string{d.Manufacturer, d.Product, d.Driver}, " "))
		if !strings.Contains(haystack, r.substring) {
			return false
		}
	}

	return true
}
