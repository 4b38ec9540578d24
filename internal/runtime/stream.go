package runtime

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-interview/internal/coordinator"
	"github.com/loqalabs/loqa-interview/internal/protocol"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleEvents streams a live session's notifications as JSON frames until
// the client disconnects or the session is removed.
func (r *Runtime) handleEvents(w http.ResponseWriter, req *http.Request) {
	s, err := r.lookup(req.PathValue("id"))
	if err != nil {
		r.writeLookupError(w, err)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = conn.Close() }()

	events := make(chan protocol.InterviewEvent, 64)
	unsubscribe := s.coord.Subscribe(func(n coordinator.Notification) {
		select {
		case events <- eventFromNotification(n):
		default:
			r.logger.Warn("websocket client too slow, dropping event", slog.String("session_id", s.id))
		}
	})
	defer unsubscribe()

	snap := s.coord.Snapshot()
	hello := protocol.InterviewEvent{
		SessionID: s.id,
		Kind:      string(coordinator.StateChanged),
		State:     snap.State.String(),
		Previous:  snap.State.String(),
		Timestamp: time.Now().UTC(),
	}
	if err := writeFrame(conn, hello); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "interview closed"),
				time.Now().Add(wsWriteWait))
			return
		case <-req.Context().Done():
			return
		case evt := <-events:
			if err := writeFrame(conn, evt); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, evt protocol.InterviewEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(evt)
}
