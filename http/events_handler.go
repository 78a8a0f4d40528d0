package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yourorg/rental-discovery/internal/discovery"
	"github.com/yourorg/rental-discovery/internal/logging"
	"github.com/yourorg/rental-discovery/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 10
)

// streamMessage is one websocket frame. The first frame of a stream is a
// "state" message carrying the full current state; the rest are events.
type streamMessage struct {
	Type  string           `json:"type"`
	State *discovery.State `json:"state,omitempty"`
	Event *discovery.Event `json:"event,omitempty"`
}

// eventsHandler serves GET /sessions/{id}/events.
func (d SessionDeps) eventsHandler() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      d.CheckOrigin,
	}
	return d.withSession(func(w http.ResponseWriter, req *http.Request, s *discovery.Session) {
		// Subscribe before reading the state so no event falls in between.
		sub, cancel := d.Broker.Subscribe(s.ID(), 256)
		defer cancel()
		st, err := s.State(req.Context())
		if err != nil {
			writeErr(w, req, err)
			return
		}

		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			// Upgrade already replied.
			return
		}
		metrics.WebSocketConnections.Inc()
		defer metrics.WebSocketConnections.Dec()

		log := logging.Ctx(req.Context()).With().Str("session", s.ID()).Logger()
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			conn.SetReadLimit(maxMessageSize)
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						log.Debug().Err(err).Msg("event stream closed")
					}
					return
				}
			}
		}()
		defer conn.Close()

		write := func(m streamMessage) error {
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			return conn.WriteJSON(m)
		}
		if err := write(streamMessage{Type: "state", State: &st}); err != nil {
			return
		}

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-closed:
				return
			case <-s.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
					time.Now().Add(writeWait))
				return
			case env, ok := <-sub:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
						time.Now().Add(writeWait))
					return
				}
				ev := env.Event
				if err := write(streamMessage{Type: "event", Event: &ev}); err != nil {
					log.Debug().Err(err).Msg("event stream write failed")
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	})
}
