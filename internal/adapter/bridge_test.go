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

package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlcanSpeedCode(t *testing.T) {
	tests := []struct {
		bitrate uint32
		want    string
		wantErr bool
	}{
		{bitrate: 10000, want: "S0"},
		{bitrate: 125000, want: "S4"},
		{bitrate: 500000, want: "S6"},
		{bitrate: 1000000, want: "S8"},
		{bitrate: 83333, wantErr: true},
	}

	for _, tt := range tests {
		got, err := SlcanSpeedCode(tt.bitrate)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnsupportedBitrate)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestBridgeSpawner_Spawn(t *testing.T) {
	runner := newFakeRunner()
	s := NewBridgeSpawner(runner)

	require.NoError(t, s.Spawn(context.Background(), "/dev/ttyACM0", "can0", 500000))
	assert.Equal(t, []string{"slcand -o -c -s6 /dev/ttyACM0 can0"}, runner.calls)

	err := s.Spawn(context.Background(), "/dev/ttyACM0", "can0", 42)
	assert.ErrorIs(t, err, ErrUnsupportedBitrate)

	err = s.Spawn(context.Background(), "", "can0", 500000)
	assert.ErrorIs(t, err, ErrSpawnBridge)
	assert.Len(t, runner.calls, 1)
}
