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
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"go.einride.tech/can"

	"github.com/alexandremahdhaoui/canlink/internal/adapter"
	"github.com/alexandremahdhaoui/canlink/internal/metrics"
	"github.com/alexandremahdhaoui/canlink/internal/types"
)

const DefaultFrameTimeout = time.Second

// Verifier checks that an interface is usable.
type Verifier struct {
	log       logr.Logger
	inspector Inspector
	tx        adapter.FrameTransmitter
	frame     can.Frame
	timeout   time.Duration
	rec       *metrics.Recorder
}

// NewVerifier returns a new Verifier. A nil tx disables the test frame.
func NewVerifier(
	log logr.Logger,
	inspector Inspector,
	tx adapter.FrameTransmitter,
	frame can.Frame,
	timeout time.Duration,
	rec *metrics.Recorder,
) *Verifier {
	if timeout <= 0 {
		timeout = DefaultFrameTimeout
	}

	return &Verifier{
		log:       log.WithName("verifier"),
		inspector: inspector,
		tx:        tx,
		frame:     frame,
		timeout:   timeout,
		rec:       rec,
	}
}

// Verify returns ErrNotUp unless name is administratively up. A failed test frame is only
// logged: there may be no bus attached.
func (v *Verifier) Verify(ctx context.Context, name string) error {
	log := v.log.WithValues("interface", name)

	d, ok := v.inspector.Interface(ctx, name)
	if !ok {
		v.rec.Step("verifier", metrics.OutcomeFailed)
		return fmt.Errorf("%w: %s does not exist", types.ErrNotUp, name)
	}

	if !d.IsUp() {
		v.rec.Step("verifier", metrics.OutcomeFailed)
		return fmt.Errorf("%w: %s is %s", types.ErrNotUp, name, d.AdminState)
	}

	v.rec.Step("verifier", metrics.OutcomeOK)

	if v.tx == nil {
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	if err := v.tx.Transmit(sendCtx, name, v.frame); err != nil {
		log.Info("test frame not sent, the bus may be disconnected", "frame", v.frame.String(), "err", err.Error())
		v.rec.Step("test-frame", metrics.OutcomeTolerated)
		return nil
	}

	log.V(1).Info("test frame sent", "frame", v.frame.String())
	v.rec.Step("test-frame", metrics.OutcomeOK)

	return nil
}
