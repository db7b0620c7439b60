// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package bus

const (
	// PortAddedTopic carries the int port that entered the port table.
	PortAddedTopic = "port-added"
	// StreamAddedTopic carries the stream.Handle that was registered.
	StreamAddedTopic = "stream-added"
	// SubscriptionAddedTopic carries a Subscription.
	SubscriptionAddedTopic = "subscription-added"
	// PluginRegisteredTopic carries the plugin name.
	PluginRegisteredTopic = "plugin-registered"
)

// Subscription reports a topic filter added to a stream.
type Subscription struct {
	Stream string
	Topic  string
}
