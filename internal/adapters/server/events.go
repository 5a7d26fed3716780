package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/gorilla/websocket"

	"github.com/ZanzyTHEbar/dbagent/internal/domain"
)

const (
	eventBuffer  = 256
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// eventFilter narrows the stream by run ID and topic prefix.
type eventFilter struct {
	run    string
	topics []string
}

func newEventFilter(r *http.Request) eventFilter {
	f := eventFilter{run: r.URL.Query().Get("run")}
	if t := r.URL.Query().Get("topics"); t != "" {
		for _, p := range strings.Split(t, ",") {
			if p = strings.TrimSpace(p); p != "" {
				f.topics = append(f.topics, p)
			}
		}
	}
	return f
}

func (f eventFilter) match(e domain.Event) bool {
	if f.run != "" && e.RunID != f.run {
		return false
	}
	if len(f.topics) == 0 {
		return true
	}
	for _, p := range f.topics {
		if strings.HasPrefix(e.Topic, p) {
			return true
		}
	}
	return false
}

// handleEvents streams bus events to a websocket client as JSON text frames.
// Query parameters: run=<run id>, topics=<comma separated topic prefixes>.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: "event stream is not enabled"})
		return
	}
	filter := newEventFilter(r)

	// Subscribe before upgrading so nothing published after the handshake is missed.
	sub, err := s.deps.Events.SubscribeAll(eventBuffer)
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
		return
	}
	defer s.deps.Events.UnsubscribeAll(sub)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	log := s.log.With().Str("remote", r.RemoteAddr).Logger()
	log.Debug().Str("run", filter.run).Strs("topics", filter.topics).Msg("event stream opened")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			log.Debug().Msg("event stream closed by client")
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case e, ok := <-sub:
			if !ok {
				return
			}
			if !filter.match(e) {
				continue
			}
			b, err := json.Marshal(e, json.Deterministic(true))
			if err != nil {
				log.Warn().Err(err).Str("topic", e.Topic).Msg("failed to encode event")
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Debug().Err(err).Msg("event stream write failed")
				return
			}
		}
	}
}
