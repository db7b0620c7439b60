// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aitbus/broker/internal"
)

var (
	// set at buildtime
	commit  = ""
	version = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := internal.NewApp(commit, version).Run(ctx); err != nil {
		slog.ErrorContext(ctx, "aitbus failed", "error", err)
		stop()
		os.Exit(1)
	}
}
