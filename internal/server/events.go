package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/wikibatch/internal/models"
)

const (
	eventWriteTimeout = 10 * time.Second
	eventPongTimeout  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleEvents streams batch summaries over a websocket. A summary is sent
// on connect and after every change; the stream ends with a "done" event
// once the batch has settled in a status that needs an explicit request to
// leave.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.batchID(w, r)
	if !ok {
		return
	}
	if _, err := s.svc.Get(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "batch", id, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The reader only drains control frames and notices the client leaving.
	conn.SetReadDeadline(time.Now().Add(eventPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventPongTimeout))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.streamEvents(ctx, conn, id)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, id int64) {
	ticker := time.NewTicker(s.eventInterval)
	defer ticker.Stop()

	var version int64
	for {
		sum, err := s.svc.Get(ctx, id)
		if err != nil {
			if ctx.Err() == nil {
				s.send(conn, models.BatchEvent{Type: "error", Error: err.Error()})
			}
			return
		}

		if sum.Batch.Version != version {
			version = sum.Batch.Version
			typ := "status"
			if settled(sum.Batch.Status) {
				typ = "done"
			}
			if !s.send(conn, models.BatchEvent{Type: typ, Summary: sum}) || typ == "done" {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *Server) send(conn *websocket.Conn, ev models.BatchEvent) bool {
	conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
	if err := conn.WriteJSON(ev); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
		return false
	}
	return true
}

// settled reports whether a batch will not move without an owner request.
func settled(st models.BatchStatus) bool {
	return st == models.BatchPreview || st.IsTerminal()
}
