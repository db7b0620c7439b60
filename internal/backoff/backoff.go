// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package backoff

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	Jitter     = 0.10
	Multiplier = backoff.DefaultMultiplier
)

type Settings struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	Multiplier      float64
	Jitter          float64
}

func WaitUntil(
	ctx context.Context,
	backoffSettings *Settings,
	operation backoff.Operation,
) error {
	return backoff.Retry(operation, backoff.WithContext(exponential(backoffSettings), ctx))
}

// WaitUntilWithData retries operation until it returns a value, the context is
// cancelled or the max elapsed time is reached.
func WaitUntilWithData[T any](
	ctx context.Context,
	backoffSettings *Settings,
	operation backoff.OperationWithData[T],
) (T, error) {
	return backoff.RetryWithData(operation, backoff.WithContext(exponential(backoffSettings), ctx))
}

// Permanent stops any further retries of the operation.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func exponential(backoffSettings *Settings) *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = backoffSettings.InitialInterval
	eb.MaxInterval = backoffSettings.MaxInterval
	eb.MaxElapsedTime = backoffSettings.MaxElapsedTime
	eb.RandomizationFactor = backoffSettings.Jitter
	eb.Multiplier = backoffSettings.Multiplier

	return eb
}
