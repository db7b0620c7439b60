// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirection(t *testing.T) {
	direction, err := ParseDirection("inbound")
	require.NoError(t, err)
	assert.Equal(t, Inbound, direction)
	assert.Equal(t, "inbound", direction.String())

	direction, err = ParseDirection("outbound")
	require.NoError(t, err)
	assert.Equal(t, Outbound, direction)
	assert.Equal(t, "outbound", direction.String())

	_, err = ParseDirection("sideways")
	require.ErrorIs(t, err, ErrUnknownDirection)

	_, err = ParseDirection("Inbound")
	require.ErrorIs(t, err, ErrUnknownDirection)
}

func TestInput(t *testing.T) {
	tests := []struct {
		name          string
		input         Input
		expectedKind  string
		expectedTopic string
		expectedValue any
	}{
		{
			name:          "Test 1: port input",
			input:         NewPortInput(12345),
			expectedKind:  "port",
			expectedTopic: "12345",
			expectedValue: 12345,
		},
		{
			name:          "Test 2: stream input",
			input:         NewStreamInput("upstream-a"),
			expectedKind:  "stream",
			expectedTopic: "upstream-a",
			expectedValue: "upstream-a",
		},
		{
			name:          "Test 3: plugin input",
			input:         NewPluginInput("plugin-y"),
			expectedKind:  "plugin",
			expectedTopic: "plugin-y",
			expectedValue: "plugin-y",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(tt *testing.T) {
			assert.Equal(tt, test.expectedKind, test.input.Kind.String())
			assert.Equal(tt, test.expectedTopic, test.input.Topic())
			assert.Equal(tt, test.expectedValue, test.input.Value())
			assert.Equal(tt, test.expectedKind+":"+test.expectedTopic, test.input.String())
		})
	}

	assert.Equal(t, "unknown", Input{}.Kind.String())
}
