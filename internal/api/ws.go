package api

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	pionwebrtc "github.com/pion/webrtc/v4"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// signalConn wraps a websocket connection with a write lock, answers
// and ICE candidates are pushed from pion callbacks on other goroutines.
type signalConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *signalConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := &signalConn{conn: conn}
	connID := uuid.NewString()
	s.log.Info("signaling connection established", "conn", connID, "remote", r.RemoteAddr)

	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warn("signaling read error", "conn", connID, "error", err)
			}
			return
		}
		s.handleSignal(client, connID, msg)
	}
}

// handleSignal processes one signaling message. A message may carry an
// explicit peerId (a rendezvous relay multiplexes several operators on
// one socket), otherwise the connection id identifies the peer. The
// peer connection stays up when signaling drops, media runs direct, so
// a session only ends on disconnect, failure or remote close.
func (s *Server) handleSignal(client *signalConn, connID string, msg map[string]any) {
	msgType, _ := msg["type"].(string)
	peerID, _ := msg["peerId"].(string)
	if peerID == "" {
		peerID = connID
	}

	switch msgType {
	case "connect":
		client.send(map[string]any{
			"type":   "connected",
			"peerId": peerID,
			"device": s.rover.DeviceID(),
		})
	case "offer":
		s.handleOffer(client, peerID, msg)
	case "ice-candidate":
		s.handleRemoteCandidate(peerID, msg)
	case "disconnect":
		s.registry.Remove(peerID)
		client.send(map[string]any{"type": "disconnected", "peerId": peerID})
	default:
		s.log.Debug("unknown signaling message", "type", msgType)
	}
}

func (s *Server) handleOffer(client *signalConn, peerID string, msg map[string]any) {
	offer, _ := msg["offer"].(map[string]any)
	sdp, _ := offer["sdp"].(string)
	if sdp == "" {
		client.send(errorMessage(peerID, "offer without sdp"))
		return
	}

	s.peerLock.LockKey(peerID)
	defer s.peerLock.UnlockKey(peerID)

	sess, err := s.registry.Create(peerID)
	if err != nil {
		s.log.Error("session create failed", "peer", peerID, "error", err)
		client.send(errorMessage(peerID, err.Error()))
		return
	}

	sess.OnICECandidate(func(candidate *pionwebrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		client.send(map[string]any{
			"type":   "ice-candidate",
			"peerId": peerID,
			"candidate": map[string]any{
				"candidate":     init.Candidate,
				"sdpMLineIndex": init.SDPMLineIndex,
				"sdpMid":        init.SDPMid,
			},
		})
	})

	answer, err := sess.HandleOffer(sdp)
	if err != nil {
		s.log.Error("offer handling failed", "peer", peerID, "error", err)
		client.send(errorMessage(peerID, err.Error()))
		return
	}

	client.send(map[string]any{
		"type":   "answer",
		"peerId": peerID,
		"answer": map[string]any{"type": "answer", "sdp": answer},
	})
}

func (s *Server) handleRemoteCandidate(peerID string, msg map[string]any) {
	data, _ := msg["candidate"].(map[string]any)
	candidate, _ := data["candidate"].(string)
	if candidate == "" {
		return
	}

	s.peerLock.LockKey(peerID)
	defer s.peerLock.UnlockKey(peerID)

	sess, ok := s.registry.Get(peerID)
	if !ok {
		s.log.Debug("candidate for unknown peer", "peer", peerID)
		return
	}

	init := pionwebrtc.ICECandidateInit{Candidate: candidate}
	if idx, ok := data["sdpMLineIndex"].(float64); ok {
		index := uint16(idx)
		init.SDPMLineIndex = &index
	}
	if mid, ok := data["sdpMid"].(string); ok {
		init.SDPMid = &mid
	}
	if err := sess.AddICECandidate(init); err != nil {
		s.log.Warn("add ice candidate failed", "peer", peerID, "error", err)
	}
}

func errorMessage(peerID, text string) map[string]any {
	return map[string]any{"type": "error", "peerId": peerID, "error": text}
}
