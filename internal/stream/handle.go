// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package stream

import "context"

// Handle is a registered inbound or outbound stream.
type Handle interface {
	Name() string
	Direction() Direction
	Input() Input
	// Subscribe adds a topic filter on the receive side of the stream.
	Subscribe(topic string) error
	Subscriptions() []string
	Run(ctx context.Context) error
	Close() error
}
