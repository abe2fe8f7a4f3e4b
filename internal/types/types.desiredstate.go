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

import (
	"errors"
	"fmt"
)

var ErrInvalidDesiredState = errors.New("invalid desired state")

// DesiredState is the only state persisted across invocations: the autostart record.
type DesiredState struct {
	InterfaceName string
	Bitrate       uint32
}

// Validate checks the desired state can be replayed by the provisioner.
func (d DesiredState) Validate() error {
	if d.InterfaceName == "" {
		return fmt.Errorf("%w: interface name is required", ErrInvalidDesiredState)
	}
	if d.Bitrate == 0 {
		return fmt.Errorf("%w: bitrate must be greater than zero", ErrInvalidDesiredState)
	}
	return nil
}

// Snapshot is the full result of one Inspector pass.
type Snapshot struct {
	Interfaces []InterfaceDescriptor
	Modules    []string
	Processes  []ManagedProcess
	USBDevices []USBDevice
}

// Interface returns the descriptor with the given name.
func (s Snapshot) Interface(name string) (InterfaceDescriptor, bool) {
	for _, d := range s.Interfaces {
		if d.Name == name {
			return d, true
		}
	}
	return InterfaceDescriptor{}, false
}
