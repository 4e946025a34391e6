// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// HandleStream handles GET /v1/runs/:id/stream.
//
// Description:
//
//	Upgrades to a websocket and polls the run. Every new log entry is sent
//	as a "log" message, phase or iteration changes as a "status" message,
//	and the terminal status as a final "done" message before a normal
//	close. The stream ends early when the client disconnects.
//
// Response:
//
//	101 Switching Protocols: StreamMessage frames
//	404 Not Found: Unknown or evicted run (before upgrading)
func (h *Handlers) HandleStream(c *gin.Context) {
	runID := c.Param("id")
	status, err := h.svc.GetStatus(c.Request.Context(), runID)
	if err != nil {
		h.writeLookupError(c, err)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade the websocket", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()
	streamsOpen.Inc()
	defer streamsOpen.Dec()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger := h.logger.With(slog.String("run_id", runID))
	logger.Debug("Run stream opened")

	s := &streamState{ws: ws}
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	for {
		if err := s.push(status); err != nil {
			logger.Debug("Run stream write failed", slog.String("error", err.Error()))
			return
		}
		if status.Phase.IsTerminal() {
			if err := s.send(StreamMessage{Type: MessageDone, Phase: status.Phase, Run: status}); err == nil {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
					time.Now().Add(writeWait))
			}
			logger.Debug("Run stream finished", slog.String("phase", string(status.Phase)))
			return
		}

		select {
		case <-ctx.Done():
			logger.Debug("Run stream closed by client")
			return
		case <-ticker.C:
		}

		status, err = h.svc.GetStatus(ctx, runID)
		if err != nil {
			_ = s.send(StreamMessage{Type: MessageError, Error: err.Error()})
			return
		}
	}
}

// streamState tracks what a stream has already sent.
type streamState struct {
	ws     *websocket.Conn
	sent   int
	phase  testgen.Phase
	iter   int
	primed bool
}

// push sends log entries beyond those already sent, then a status message
// if the phase or iteration moved.
func (s *streamState) push(status *testgen.RunStatus) error {
	for ; s.sent < len(status.Log); s.sent++ {
		entry := status.Log[s.sent]
		if err := s.send(StreamMessage{Type: MessageLog, Entry: &entry}); err != nil {
			return err
		}
	}
	if s.primed && status.Phase == s.phase && status.CurrentIteration == s.iter {
		return nil
	}
	s.primed = true
	s.phase, s.iter = status.Phase, status.CurrentIteration
	return s.send(StreamMessage{Type: MessageStatus, Phase: status.Phase, Iter: status.CurrentIteration})
}

func (s *streamState) send(msg StreamMessage) error {
	if err := s.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.ws.WriteJSON(msg)
}
