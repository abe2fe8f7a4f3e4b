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

// ProcessKind identifies the CAN tools whose processes are managed by teardown.
type ProcessKind int

const (
	ProcessCaptureDump ProcessKind = iota
	ProcessFrameSend
	ProcessPlaybackDump
	ProcessSerialBridgeDaemon
)

// ProcessKinds lists every managed process kind in teardown order.
var ProcessKinds = []ProcessKind{
	ProcessCaptureDump,
	ProcessFrameSend,
	ProcessPlaybackDump,
	ProcessSerialBridgeDaemon,
}

func (k ProcessKind) String() string {
	switch k {
	case ProcessCaptureDump:
		return "capture-dump"
	case ProcessFrameSend:
		return "frame-send"
	case ProcessPlaybackDump:
		return "playback-dump"
	case ProcessSerialBridgeDaemon:
		return "serial-bridge-daemon"
	default:
		return "unknown"
	}
}

// Binary returns the executable name of the process kind.
func (k ProcessKind) Binary() string {
	switch k {
	case ProcessCaptureDump:
		return "candump"
	case ProcessFrameSend:
		return "cansend"
	case ProcessPlaybackDump:
		return "canplayer"
	case ProcessSerialBridgeDaemon:
		return "slcand"
	default:
		return ""
	}
}

// ProcessKindFromBinary maps an executable name back to its kind.
func ProcessKindFromBinary(name string) (ProcessKind, bool) {
	for _, k := range ProcessKinds {
		if k.Binary() == name {
			return k, true
		}
	}
	return 0, false
}

// ManagedProcess is a live CAN tool process. It is always the result of a live query, never
// a stored handle, so processes started by another invocation are still found.
type ManagedProcess struct {
	Kind ProcessKind
	PID  int32
	// Args is the full command line, Args[0] included.
	Args []string
}

// BoundInterface returns the interface a serial bridge daemon exposes, i.e. the last
// positional argument of `slcand [opts] <tty> <iface>`.
func (p ManagedProcess) BoundInterface() string {
	if p.Kind != ProcessSerialBridgeDaemon || len(p.Args) < 3 {
		return ""
	}
	return p.Args[len(p.Args)-1]
}

// BoundDevice returns the tty a serial bridge daemon holds.
func (p ManagedProcess) BoundDevice() string {
	if p.Kind != ProcessSerialBridgeDaemon || len(p.Args) < 3 {
		return ""
	}
	return p.Args[len(p.Args)-2]
}
