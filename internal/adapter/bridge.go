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

	"github.com/alexandremahdhaoui/canlink/pkg/execcontext"
)

var (
	ErrUnsupportedBitrate = errors.New("bitrate has no slcan speed code")
	ErrSpawnBridge        = errors.New("failed to spawn serial bridge daemon")
)

var slcanSpeedCodes = map[uint32]string{
	10000:   "S0",
	20000:   "S1",
	50000:   "S2",
	100000:  "S3",
	125000:  "S4",
	250000:  "S5",
	500000:  "S6",
	800000:  "S7",
	1000000: "S8",
}

// SlcanSpeedCode returns the slcan "Sn" speed code of bitrate.
func SlcanSpeedCode(bitrate uint32) (string, error) {
	code, ok := slcanSpeedCodes[bitrate]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnsupportedBitrate, bitrate)
	}
	return code, nil
}

// BridgeSpawner starts a serial bridge daemon binding a tty to a CAN interface name.
type BridgeSpawner interface {
	// Spawn returns once the daemon has detached. The interface may appear later.
	Spawn(ctx context.Context, device, name string, bitrate uint32) error
}

// NewBridgeSpawner returns a BridgeSpawner running slcand.
func NewBridgeSpawner(runner execcontext.Runner) BridgeSpawner {
	return &slcandSpawner{runner: runner}
}

type slcandSpawner struct {
	runner execcontext.Runner
}

func (s *slcandSpawner) Spawn(ctx context.Context, device, name string, bitrate uint32) error {
	args, err := SlcandArgs(device, name, bitrate)
	if err != nil {
		return err
	}

	// slcand forks into the background unless -F is passed.
	if _, err := s.runner.Run(ctx, "slcand", args...); err != nil {
		return fmt.Errorf("%w: %s -> %s: %w", ErrSpawnBridge, device, name, err)
	}

	return nil
}

// SlcandArgs returns the slcand arguments opening device at bitrate and exposing it as name.
func SlcandArgs(device, name string, bitrate uint32) ([]string, error) {
	if device == "" || name == "" {
		return nil, fmt.Errorf("%w: device and interface name are required", ErrSpawnBridge)
	}

	code, err := SlcanSpeedCode(bitrate)
	if err != nil {
		return nil, err
	}

	// -o open the channel, -c close it on exit.
	return []string{"-o", "-c", "-s" + code[1:], device, name}, nil
}
