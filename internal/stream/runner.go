// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package stream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aitbus/broker/internal/bus"
)

// Runner is a bus plugin that runs every stream announced on the stream-added
// topic until the pipe stops.
type Runner struct {
	ctx     context.Context
	cancel  context.CancelFunc
	running map[string]struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
}

var _ bus.Plugin = (*Runner)(nil)

func NewRunner() *Runner {
	return &Runner{
		running: make(map[string]struct{}),
	}
}

func (r *Runner) Init(ctx context.Context, _ bus.MessagePipeInterface) error {
	slog.DebugContext(ctx, "Starting stream runner plugin")

	r.mu.Lock()
	defer r.mu.Unlock()

	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))

	return nil
}

// Close stops the running streams and waits for them to return.
func (r *Runner) Close(ctx context.Context) error {
	slog.DebugContext(ctx, "Closing stream runner plugin")

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()

	return nil
}

func (*Runner) Info() *bus.Info {
	return &bus.Info{
		Name: "stream-runner",
	}
}

func (r *Runner) Process(ctx context.Context, msg *bus.Message) {
	handle, ok := msg.Data.(Handle)
	if !ok {
		slog.ErrorContext(ctx, "Unable to cast message payload to stream handle", "payload", msg.Data)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx == nil || r.ctx.Err() != nil {
		return
	}

	if _, ok := r.running[handle.Name()]; ok {
		return
	}
	r.running[handle.Name()] = struct{}{}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		if err := handle.Run(r.ctx); err != nil {
			slog.ErrorContext(r.ctx, "Stream stopped", "stream", handle.Name(), "error", err)
		}
	}()
}

func (*Runner) Subscriptions() []string {
	return []string{bus.StreamAddedTopic}
}

// Running returns the names of the streams started so far.
func (r *Runner) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.running))
	for name := range r.running {
		names = append(names, name)
	}

	return names
}
