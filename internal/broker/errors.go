// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package broker

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigurationMissing marks an absent configuration key. For a stream
	// group it degrades one capability, for a single entry it rejects the entry.
	ErrConfigurationMissing = errors.New("missing configuration")
	// ErrConfigurationInvalid rejects a single stream entry.
	ErrConfigurationInvalid = errors.New("invalid configuration")

	ErrDuplicateName     = errors.New("stream name already exists")
	ErrUnresolvedInput   = errors.New("input matches no plugin or known stream")
	ErrInvalidStreamType = errors.New("stream type must be 'inbound' or 'outbound'")
	ErrStreamNotFound    = errors.New("stream not found")

	// ErrEmptyValue rejects a key that is present but set to an empty string.
	ErrEmptyValue = errors.New("value must not be empty")
)

func missingError(path string) error {
	return fmt.Errorf("%w: %w: %s", ErrConfigurationInvalid, ErrConfigurationMissing, path)
}

func invalidError(err error, detail string) error {
	return fmt.Errorf("%w: %w: %s", ErrConfigurationInvalid, err, detail)
}
