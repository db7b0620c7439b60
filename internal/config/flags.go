// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package config

import (
	"strings"
)

const (
	ConfigPathKey  = "config_path"
	VersionKey     = "version"
	LogLevelKey    = "log_level"
	LogPathKey     = "log_path"
	LogFormatKey   = "log_format"
	RelayRootKey   = "relay"
	APIRootKey     = "api"
	IngestRootKey  = "ingest"
	BusRootKey     = "bus"
	ClientRootKey  = "client"
	ServerRootKey  = "server"
	StreamEntryKey = "stream"
	PluginEntryKey = "plugin"
)

var (
	// child flags saved as vars to enable easier prefixing.
	RelayIntakeAddressKey  = pre(RelayRootKey) + "intake_address"
	RelayServingAddressKey = pre(RelayRootKey) + "serving_address"
	RelayQueueSizeKey      = pre(RelayRootKey) + "queue_size"

	APIHostKey = pre(APIRootKey) + "host"
	APIPortKey = pre(APIRootKey) + "port"

	IngestHostKey = pre(IngestRootKey) + "host"

	BusQueueSizeKey = pre(BusRootKey) + "queue_size"

	ClientBackoffKey                = pre(ClientRootKey) + "backoff"
	ClientBackoffInitialIntervalKey = pre(ClientBackoffKey) + "initial_interval"
	ClientBackoffMaxIntervalKey     = pre(ClientBackoffKey) + "max_interval"
	ClientBackoffMaxElapsedTimeKey  = pre(ClientBackoffKey) + "max_elapsed_time"
	ClientBackoffMultiplierKey      = pre(ClientBackoffKey) + "multiplier"
	ClientBackoffJitterKey          = pre(ClientBackoffKey) + "jitter"

	// Below keys are only read from the configuration file.
	ServerPluginsKey         = pre(ServerRootKey) + "plugins"
	ServerInboundStreamsKey  = pre(ServerRootKey) + "inbound-streams"
	ServerOutboundStreamsKey = pre(ServerRootKey) + "outbound-streams"
)

func pre(prefixes ...string) string {
	joined := strings.Join(prefixes, KeyDelimiter)
	return joined + KeyDelimiter
}
