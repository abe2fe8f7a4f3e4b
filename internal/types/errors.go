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

import "errors"

// Error taxonomy shared by adapters and controllers. Adapters wrap OS errors with these
// sentinels so callers can decide with errors.Is.
var (
	// ErrPrivilege is returned when elevated privileges are required but missing. Fatal.
	ErrPrivilege = errors.New("elevated privileges required")
	// ErrResourceAbsent means the interface, module, process or device does not exist.
	ErrResourceAbsent = errors.New("resource absent")
	// ErrResourceBusy means a module is still referenced or a process survived termination.
	ErrResourceBusy = errors.New("resource busy")
	// ErrNotDeletable means the link kind cannot be deleted, only reconfigured.
	ErrNotDeletable = errors.New("interface cannot be deleted")
	// ErrInterfaceUnavailable is the terminal provisioning failure.
	ErrInterfaceUnavailable = errors.New("interface unavailable")
	// ErrNotUp is returned by verification when the interface is not administratively up.
	ErrNotUp = errors.New("interface is not up")
)
