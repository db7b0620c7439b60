// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package stream

import (
	"errors"
	"fmt"
	"strconv"
)

type Direction int

const (
	Inbound Direction = iota + 1
	Outbound
)

var ErrUnknownDirection = errors.New("stream type must be 'inbound' or 'outbound'")

func ParseDirection(value string) (Direction, error) {
	switch value {
	case "inbound":
		return Inbound, nil
	case "outbound":
		return Outbound, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDirection, value)
	}
}

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// InputKind tells what a stream consumes from.
type InputKind int

const (
	PortInput InputKind = iota + 1
	StreamInput
	PluginInput
)

func (k InputKind) String() string {
	switch k {
	case PortInput:
		return "port"
	case StreamInput:
		return "stream"
	case PluginInput:
		return "plugin"
	default:
		return "unknown"
	}
}

// Input is a resolved stream input. Port is set for PortInput, Name for
// StreamInput and PluginInput.
type Input struct {
	Name string
	Kind InputKind
	Port int
}

func NewPortInput(port int) Input {
	return Input{Kind: PortInput, Port: port}
}

func NewStreamInput(name string) Input {
	return Input{Kind: StreamInput, Name: name}
}

func NewPluginInput(name string) Input {
	return Input{Kind: PluginInput, Name: name}
}

// Topic is the subscription filter that selects this input's messages.
func (i Input) Topic() string {
	if i.Kind == PortInput {
		return strconv.Itoa(i.Port)
	}

	return i.Name
}

// Value returns the port number or the referenced name.
func (i Input) Value() any {
	if i.Kind == PortInput {
		return i.Port
	}

	return i.Name
}

func (i Input) String() string {
	return i.Kind.String() + ":" + i.Topic()
}
