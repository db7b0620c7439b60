// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package config

import "time"

const (
	DefLogLevel  = "info"
	DefLogPath   = ""
	DefLogFormat = "text"

	DefRelayIntakeAddress  = "0.0.0.0:5559"
	DefRelayServingAddress = "0.0.0.0:5560"
	DefRelayQueueSize      = 1000

	DefAPIHost = "127.0.0.1"
	DefAPIPort = 8080

	DefIngestHost = "0.0.0.0"

	DefBusQueueSize = 100

	DefBackoffInitialInterval = 50 * time.Millisecond
	DefBackoffMaxInterval     = 5 * time.Second
	// zero means the socket keeps reconnecting until it is closed
	DefBackoffMaxElapsedTime = 0
	DefBackoffMultiplier     = 1.5
	DefBackoffJitter         = 0.10
)
