// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package relay

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// peer is a subscriber connected to the serving address.
type peer struct {
	conn     *websocket.Conn
	queue    chan []byte
	done     chan struct{}
	filters      map[string]int
	id           string
	writeTimeout time.Duration
	mu           sync.RWMutex
	stopOnce     sync.Once
}

func newPeer(id string, conn *websocket.Conn, queueSize int, writeTimeout time.Duration) *peer {
	return &peer{
		conn:         conn,
		queue:        make(chan []byte, queueSize),
		done:         make(chan struct{}),
		filters:      make(map[string]int),
		id:           id,
		writeTimeout: writeTimeout,
	}
}

// subscribe returns true when the filter was not active before.
func (p *peer) subscribe(filter string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.filters[filter]++

	return p.filters[filter] == 1
}

// unsubscribe returns true when the last reference to the filter was removed.
func (p *peer) unsubscribe(filter string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	count, ok := p.filters[filter]
	if !ok {
		return false
	}

	if count <= 1 {
		delete(p.filters, filter)
		return true
	}
	p.filters[filter] = count - 1

	return false
}

func (p *peer) filterCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.filters)
}

func (p *peer) matches(topic string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for filter := range p.filters {
		if strings.HasPrefix(topic, filter) {
			return true
		}
	}

	return false
}

// enqueue never blocks; it reports false when the frame was dropped.
func (p *peer) enqueue(data []byte) bool {
	select {
	case p.queue <- data:
		return true
	default:
		return false
	}
}

// writeLoop delivers queued frames. A write that misses its deadline closes the
// connection so the subscriber's read loop returns as well.
func (p *peer) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case data := <-p.queue:
			if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
				p.conn.Close()
				return
			}

			if err := p.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				slog.Debug("Subscriber write failed, closing connection", "socket_id", p.id, "error", err)
				p.conn.Close()

				return
			}
		}
	}
}

func (p *peer) stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
}

type subscriptionTable struct {
	peers map[*peer]struct{}
	mu    sync.RWMutex
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{
		peers: make(map[*peer]struct{}),
	}
}

func (t *subscriptionTable) add(p *peer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.peers[p] = struct{}{}
}

func (t *subscriptionTable) remove(p *peer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.peers, p)
}

func (t *subscriptionTable) match(topic string) []*peer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var matched []*peer
	for p := range t.peers {
		if p.matches(topic) {
			matched = append(matched, p)
		}
	}

	return matched
}
