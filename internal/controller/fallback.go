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
	"errors"
	"fmt"

	"github.com/go-logr/logr"
)

var (
	ErrNoStrategy          = errors.New("no strategy to run")
	ErrStrategiesExhausted = errors.New("every strategy failed")
)

// Strategy is one way of reaching a goal, e.g. bridging a given tty.
type Strategy struct {
	Name string
	Run  func(ctx context.Context) error
}

// Tolerate decides whether a failed strategy lets the next one run.
type Tolerate func(err error) bool

// TolerateAll tolerates every error but a cancelled or expired context.
func TolerateAll(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// FirstSuccess runs strategies in order and returns the name of the first one that succeeds.
// A tolerated failure advances to the next strategy; any other failure is returned as is.
// When every strategy failed, the error wraps ErrStrategiesExhausted and the last failure.
func FirstSuccess(ctx context.Context, log logr.Logger, tolerate Tolerate, strategies ...Strategy) (string, error) {
	if len(strategies) == 0 {
		return "", ErrNoStrategy
	}

	var lastErr error
	for _, s := range strategies {
		err := s.Run(ctx)
		if err == nil {
			log.V(1).Info("strategy succeeded", "strategy", s.Name)
			return s.Name, nil
		}

		if tolerate != nil && !tolerate(err) {
			return "", fmt.Errorf("strategy %s: %w", s.Name, err)
		}

		log.V(1).Info("strategy failed, trying next", "strategy", s.Name, "err", err.Error())
		lastErr = err
	}

	return "", fmt.Errorf("%w: last: %w", ErrStrategiesExhausted, lastErr)
}
