package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/solstice-ops/solstice/internal/term"
)

const (
	// viewerSendSlack is the queue headroom for live output on top of a
	// full history replay. Registration replays up to
	// term.DefaultHistoryCapacity chunks in one burst before the write
	// pump has necessarily drained anything, so the queue must hold an
	// entire replay without dropping.
	viewerSendSlack = 1024
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = 54 * time.Second
)

var errViewerClosed = errors.New("server: viewer closed")

// inboundMessage is the viewer protocol. Exactly one field is expected
// per message; anything else is ignored.
type inboundMessage struct {
	Input  *string `json:"input"`
	Resize *struct {
		Rows int `json:"rows"`
		Cols int `json:"cols"`
	} `json:"resize"`
	Restart   bool `json:"restart"`
	Heartbeat bool `json:"heartbeat"`
}

// viewer is one connected terminal client. It implements term.Viewer:
// output chunks are queued on a buffered channel and written by a single
// pump goroutine, so a slow client never blocks the session.
type viewer struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newViewer(conn *websocket.Conn) *viewer {
	return &viewer{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, term.DefaultHistoryCapacity+viewerSendSlack),
		closed: make(chan struct{}),
	}
}

// Send queues an output chunk for delivery. A full queue drops the chunk
// rather than stalling the session's pump.
func (v *viewer) Send(data []byte) error {
	select {
	case <-v.closed:
		return errViewerClosed
	default:
	}

	buf := append([]byte(nil), data...)
	select {
	case v.send <- buf:
		return nil
	default:
		return nil
	}
}

func (v *viewer) close() {
	v.closeOnce.Do(func() {
		close(v.closed)
		v.conn.Close()
	})
}

// writePump drains the send queue onto the connection and keeps the
// client alive with pings.
func (v *viewer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.close()
	}()

	for {
		select {
		case <-v.closed:
			return
		case data := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleTerminal upgrades the connection and attaches it as a viewer of
// the session addressed by the query string: kind selects the session
// type, every other parameter feeds the key derivation and the module's
// process factory.
func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	params := make(map[string]string)
	for name, values := range r.URL.Query() {
		if name == "kind" || len(values) == 0 {
			continue
		}
		params[name] = values[0]
	}
	key := term.Key(kind, params)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Upgrade failed: %v", err)
		return
	}

	sess, err := s.sessions.GetOrCreate(key, kind, params)
	if err != nil {
		log.Printf("[WebSocket] No session for %s: %v", key, err)
		conn.Close()
		return
	}

	// Pump first, then register: registration may replay the session's
	// entire history into the send queue.
	v := newViewer(conn)
	go v.writePump()
	sess.RegisterViewer(v)
	log.Printf("[WebSocket] Viewer %s attached to %s", v.id, key)

	s.readLoop(v, sess, key)
}

// readLoop forwards viewer messages into the session until the
// connection drops. Malformed messages are ignored without closing.
func (s *Server) readLoop(v *viewer, sess *term.Session, key string) {
	defer func() {
		sess.UnregisterViewer(v)
		v.close()
		log.Printf("[WebSocket] Viewer %s detached from %s", v.id, key)
	}()

	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, raw, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WebSocket] Viewer %s read error: %v", v.id, err)
			}
			return
		}
		v.conn.SetReadDeadline(time.Now().Add(pongWait))
		if messageType != websocket.TextMessage {
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch {
		case msg.Input != nil:
			sess.SendInput([]byte(*msg.Input))
		case msg.Resize != nil:
			sess.Resize(msg.Resize.Rows, msg.Resize.Cols)
		case msg.Restart:
			s.sessions.Restart(key)
		case msg.Heartbeat:
			// Keep-alive only.
		}
	}
}
