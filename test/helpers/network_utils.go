// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package helpers

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// GetAvailablePort returns a local port that was free on network when the
// function returned. Another process may still grab it before the test does.
func GetAvailablePort(t testing.TB, network string) int {
	t.Helper()

	_, port, err := net.SplitHostPort(GetAvailableLocalAddress(t, network))
	require.NoError(t, err)

	portInt, err := strconv.Atoi(port)
	require.NoError(t, err)

	return portInt
}

// GetAvailableLocalAddress returns a free 127.0.0.1 endpoint on a tcp or udp network.
func GetAvailableLocalAddress(t testing.TB, network string) string {
	t.Helper()

	switch network {
	case "udp", "udp4":
		conn, err := net.ListenPacket(network, "127.0.0.1:0")
		require.NoError(t, err, "Failed to get a free local port")
		defer func() {
			assert.NoError(t, conn.Close())
		}()

		return conn.LocalAddr().String()
	default:
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err, "Failed to get a free local port")
		defer func() {
			assert.NoError(t, ln.Close())
		}()

		return ln.Addr().String()
	}
}
