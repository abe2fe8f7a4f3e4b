//go:build unit

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

package controller_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alexandremahdhaoui/canlink/internal/controller"
	"github.com/alexandremahdhaoui/canlink/internal/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		devices []types.USBDevice
		want    types.AdapterClass
	}{
		{name: "no device", want: types.AdapterNone},
		{
			name:    "canable by ids",
			devices: []types.USBDevice{{VendorID: "16D0", ProductID: "117E"}},
			want:    types.AdapterRecognizedSerialBridge,
		},
		{
			name:    "serial bridge by product substring",
			devices: []types.USBDevice{{VendorID: "ffff", ProductID: "0001", Product: "USBtin CAN Adapter"}},
			want:    types.AdapterRecognizedSerialBridge,
		},
		{
			name:    "candlelight",
			devices: []types.USBDevice{{VendorID: "1d50", ProductID: "606f"}},
			want:    types.AdapterRecognizedNativeLike,
		},
		{
			name:    "kvaser by vendor only",
			devices: []types.USBDevice{{VendorID: "0bfd", ProductID: "0120"}},
			want:    types.AdapterRecognizedNativeLike,
		},
		{
			name:    "native-like by driver",
			devices: []types.USBDevice{{VendorID: "ffff", ProductID: "0002", Driver: "gs_usb"}},
			want:    types.AdapterRecognizedNativeLike,
		},
		{
			name:    "vendor match alone is not enough",
			devices: []types.USBDevice{{VendorID: "16d0", ProductID: "0001"}},
			want:    types.AdapterUnrecognized,
		},
		{
			name: "first device wins",
			devices: []types.USBDevice{
				{VendorID: "046d", ProductID: "c52b", Product: "Unifying Receiver"},
				{VendorID: "0c72", ProductID: "000c", Product: "PCAN-USB"},
				{VendorID: "16d0", ProductID: "117e"},
			},
			want: types.AdapterRecognizedNativeLike,
		},
		{
			name:    "unrecognized",
			devices: []types.USBDevice{{VendorID: "046d", ProductID: "c52b", Product: "Unifying Receiver"}},
			want:    types.AdapterUnrecognized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, controller.Classify(tt.devices))
		})
	}
}
