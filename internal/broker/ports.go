// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package broker

import "sync"

// PortTable is the ordered set of distinct ports used as inbound stream inputs.
type PortTable struct {
	seen  map[int]struct{}
	ports []int
	mu    sync.RWMutex
}

func NewPortTable() *PortTable {
	return &PortTable{
		seen: make(map[int]struct{}),
	}
}

// Add records port and reports whether it was not yet present.
func (t *PortTable) Add(port int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.seen[port]; ok {
		return false
	}

	t.seen[port] = struct{}{}
	t.ports = append(t.ports, port)

	return true
}

func (t *PortTable) Contains(port int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.seen[port]

	return ok
}

// Ports returns the ports in the order they were first added.
func (t *PortTable) Ports() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return append([]int(nil), t.ports...)
}

func (t *PortTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.ports)
}
