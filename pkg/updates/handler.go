package updates

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Snapshot produces the hello payload sent to a client right after it joins,
// so a freshly (re)connected UI does not wait for the next broadcast.
type Snapshot func() Update

// NewHandler returns the HTTP handler for the update endpoint. It upgrades
// the request, registers the connection with the pool, optionally sends a
// snapshot, and then only drains inbound frames: the channel is receive-only
// from the client's point of view.
func NewHandler(pool *Pool, upgrader websocket.Upgrader, snapshot Snapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if pool == nil {
			http.Error(w, "update pool not initialized", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		pool.Add(conn)
		log.Debug().Str("component", "updates").Str("remote", conn.RemoteAddr().String()).Int("clients", pool.Count()).Msg("client joined")

		if snapshot != nil {
			if data, err := snapshot().Marshal(); err == nil {
				pool.SendToOne(conn, data)
			} else {
				log.Warn().Err(err).Str("component", "updates").Msg("snapshot marshal failed")
			}
		}

		go func() {
			defer pool.Remove(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}
