// Copyright (c) F5, Inc.
//
// This source code is licensed under the Apache License, Version 2.0 license found in the
// LICENSE file in the root directory of this source tree.

package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/process"
)

type (
	ProcessStatus struct {
		Name       string `json:"name"`
		PID        int32  `json:"pid"`
		RSS        uint64 `json:"rss_bytes"`
		Threads    int32  `json:"threads"`
		UptimeSecs int64  `json:"uptime_seconds"`
	}

	StatusResponse struct {
		Process ProcessStatus `json:"process"`
		Streams int           `json:"streams"`
		Ports   int           `json:"ports"`
		Plugins int           `json:"plugins"`
	}
)

// GET /status
func (s *Server) GetStatus(ctx *gin.Context) {
	status, err := processStatus(ctx.Request.Context(), int32(os.Getpid()))
	if err != nil {
		slog.WarnContext(ctx.Request.Context(), "Unable to read broker process status", "error", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{Message: err.Error()})

		return
	}

	ctx.JSON(http.StatusOK, StatusResponse{
		Process: status,
		Streams: len(s.broker.Streams()),
		Ports:   len(s.broker.Ports()),
		Plugins: len(s.broker.Plugins()),
	})
}

func processStatus(ctx context.Context, pid int32) (ProcessStatus, error) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ProcessStatus{}, err
	}

	status := ProcessStatus{PID: pid}

	// missing attributes are reported as zero values
	status.Name, _ = proc.NameWithContext(ctx)
	if memory, memErr := proc.MemoryInfoWithContext(ctx); memErr == nil {
		status.RSS = memory.RSS
	}
	status.Threads, _ = proc.NumThreadsWithContext(ctx)
	if created, createErr := proc.CreateTimeWithContext(ctx); createErr == nil {
		status.UptimeSecs = int64(time.Since(time.UnixMilli(created)).Seconds())
	}

	return status, nil
}
