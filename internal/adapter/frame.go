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

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// DefaultTestFrame is the OBD-II functional request for the supported PIDs of service 01.
const DefaultTestFrame = "7DF#0201000000000000"

var (
	ErrInvalidFrame  = errors.New("invalid CAN frame")
	ErrTransmitFrame = errors.New("failed to transmit CAN frame")
)

// FrameTransmitter sends a single raw CAN frame on an interface.
type FrameTransmitter interface {
	Transmit(ctx context.Context, iface string, frame can.Frame) error
}

// ParseFrame parses a frame in candump compact notation, e.g. "7DF#0201000000000000".
func ParseFrame(s string) (can.Frame, error) {
	var frame can.Frame
	if err := frame.UnmarshalString(s); err != nil {
		return can.Frame{}, fmt.Errorf("%w: %q: %w", ErrInvalidFrame, s, err)
	}
	return frame, nil
}

// NewFrameTransmitter returns a FrameTransmitter writing to a raw SocketCAN socket.
func NewFrameTransmitter() FrameTransmitter {
	return socketcanTransmitter{}
}

type socketcanTransmitter struct{}

func (socketcanTransmitter) Transmit(ctx context.Context, iface string, frame can.Frame) error {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransmitFrame, iface, err)
	}
	defer conn.Close()

	if err := socketcan.NewTransmitter(conn).TransmitFrame(ctx, frame); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransmitFrame, iface, err)
	}

	return nil
}
