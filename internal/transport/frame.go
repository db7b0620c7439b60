// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package transport

import (
	"errors"
	"fmt"
	"strings"

	"github.com/multiformats/go-varint"
)

const (
	subscribeFlag   byte = 1
	unsubscribeFlag byte = 0
)

var ErrMalformedFrame = errors.New("malformed frame")

// Frame is a single published message. Subscribers select frames by matching
// their filters against the start of Topic.
type Frame struct {
	Topic   string
	Payload []byte
}

func (f Frame) Matches(filter string) bool {
	return strings.HasPrefix(f.Topic, filter)
}

// EncodeFrame lays a frame out as uvarint(len(topic)) | topic | payload.
func EncodeFrame(frame Frame) []byte {
	prefix := varint.ToUvarint(uint64(len(frame.Topic)))

	data := make([]byte, 0, len(prefix)+len(frame.Topic)+len(frame.Payload))
	data = append(data, prefix...)
	data = append(data, frame.Topic...)

	return append(data, frame.Payload...)
}

func DecodeFrame(data []byte) (Frame, error) {
	topic, rest, err := splitTopic(data)
	if err != nil {
		return Frame{}, err
	}

	return Frame{Topic: topic, Payload: rest}, nil
}

// FrameTopic returns only the topic of an encoded frame, leaving the payload untouched.
func FrameTopic(data []byte) (string, error) {
	topic, _, err := splitTopic(data)

	return topic, err
}

func splitTopic(data []byte) (string, []byte, error) {
	length, n, err := varint.FromUvarint(data)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}

	if uint64(len(data)-n) < length {
		return "", nil, fmt.Errorf("%w: topic length %d exceeds frame size %d", ErrMalformedFrame, length, len(data))
	}

	end := n + int(length)

	return string(data[n:end]), data[end:], nil
}

// EncodeSubscription builds the control message a subscriber sends to the relay
// to add or remove a filter.
func EncodeSubscription(subscribe bool, filter string) []byte {
	flag := unsubscribeFlag
	if subscribe {
		flag = subscribeFlag
	}

	return append([]byte{flag}, filter...)
}

func DecodeSubscription(data []byte) (subscribe bool, filter string, err error) {
	if len(data) == 0 {
		return false, "", fmt.Errorf("%w: empty subscription message", ErrMalformedFrame)
	}

	switch data[0] {
	case subscribeFlag:
		return true, string(data[1:]), nil
	case unsubscribeFlag:
		return false, string(data[1:]), nil
	default:
		return false, "", fmt.Errorf("%w: unknown subscription flag %d", ErrMalformedFrame, data[0])
	}
}
