package web

import (
	"net/http"
	"time"

	"artnet2ha/internal/logger"
)

const statusPushInterval = 2 * time.Second

// handleStatusSocket streams status snapshots to the peer: one on connect,
// then one per interval until either side closes.
func (s *Server) handleStatusSocket(w http.ResponseWriter, r *http.Request) {
	log := s.logger.With(logger.Fields{"module": "web"})

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// The read side only exists to notice the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(s.bridge.Status()); err != nil {
			log.Debugf("ws write failed: %v", err)
			return
		}
		select {
		case <-closed:
			return
		case <-ticker.C:
		}
	}
}
