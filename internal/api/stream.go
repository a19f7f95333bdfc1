// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/thornburywn2/console-web-sub013/internal/log"
	"github.com/thornburywn2/console-web-sub013/internal/runner"
)

const (
	streamBuffer       = 256
	streamWriteTimeout = 15 * time.Second
	streamPingInterval = 30 * time.Second
)

// stream sends runner events as JSON text messages. ?agent= narrows the
// stream to one agent. The client never sends anything.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	agentFilter := r.URL.Query().Get("agent")

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.requestLogger(r).Debug("websocket accept failed", log.Error(err))
		return
	}
	defer ws.CloseNow()

	events, unsubscribe := s.runner.Events().Subscribe(streamBuffer)
	defer unsubscribe()

	ctx := ws.CloseRead(r.Context())
	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	s.requestLogger(r).Debug("event stream opened", slog.String("agent", agentFilter))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			pingCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case ev := <-events:
			if agentFilter != "" && ev.AgentID != agentFilter {
				continue
			}
			if err := writeEvent(ctx, ws, ev); err != nil {
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, ws *websocket.Conn, ev runner.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
