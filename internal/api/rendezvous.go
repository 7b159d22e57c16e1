package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	rendezvousMinBackoff = time.Second
	rendezvousMaxBackoff = 30 * time.Second
)

// RunRendezvous dials the configured signaling relay and serves the
// same message loop over it, letting operators outside the LAN reach a
// rover with no inbound connectivity. Reconnects with capped backoff
// until ctx ends. Blocks, run it on its own goroutine.
func (s *Server) RunRendezvous(ctx context.Context, url string) {
	backoff := rendezvousMinBackoff
	for ctx.Err() == nil {
		start := time.Now()
		err := s.runRendezvousOnce(ctx, url)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("rendezvous connection lost", "url", url, "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if time.Since(start) > time.Minute {
			backoff = rendezvousMinBackoff
		} else if backoff < rendezvousMaxBackoff {
			backoff *= 2
			if backoff > rendezvousMaxBackoff {
				backoff = rendezvousMaxBackoff
			}
		}
	}
}

func (s *Server) runRendezvousOnce(ctx context.Context, url string) error {
	header := http.Header{}
	header.Set("X-Rover-Device", s.rover.DeviceID())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return errors.Wrap(err, "dial rendezvous")
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	client := &signalConn{conn: conn}
	if err := client.send(map[string]any{
		"type":     "register",
		"deviceId": s.rover.DeviceID(),
	}); err != nil {
		return errors.Wrap(err, "register")
	}
	s.log.Info("rendezvous connected", "url", url)

	// The relay tags every message with the operator's peerId, the
	// connection id is only a fallback.
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return errors.Wrap(err, "read")
		}
		s.handleSignal(client, "rendezvous", msg)
	}
}
