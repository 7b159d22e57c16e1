package webrtc

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/roverlink/rover/internal/util"
)

// Registry tracks one Session per peer id. Sessions that reach the
// failed state tear themselves down through the registry, a deliberate
// disconnect goes through Remove. Hooks fire on the pion callback
// goroutine and must not block.
type Registry struct {
	log         *slog.Logger
	video       VideoSource
	audio       AudioSource
	sink        ControlSink
	remoteAudio RemoteAudioSink
	stunServers []string

	mu       sync.RWMutex
	sessions map[string]*Session

	onPeerReady func(peerID string)
	onPeerGone  func(peerID string)
}

// NewRegistry builds a registry serving the given media sources. audio
// may be nil when the rover has no working microphone.
func NewRegistry(video VideoSource, audio AudioSource, sink ControlSink, stunServers []string) *Registry {
	return &Registry{
		log:         util.Component("registry"),
		video:       video,
		audio:       audio,
		sink:        sink,
		stunServers: stunServers,
		sessions:    make(map[string]*Session),
	}
}

// OnPeerReady registers the hook fired when a peer reaches connected.
func (r *Registry) OnPeerReady(fn func(peerID string)) { r.onPeerReady = fn }

// OnPeerGone registers the hook fired when a peer is removed.
func (r *Registry) OnPeerGone(fn func(peerID string)) { r.onPeerGone = fn }

// SetRemoteAudio routes audio tracks sent by peers to the given sink.
// Must be set before the first session is created.
func (r *Registry) SetRemoteAudio(sink RemoteAudioSink) { r.remoteAudio = sink }

// Create returns the session for peerID, building one if none exists.
// A live existing session is reused, a failed or closed one is replaced.
func (r *Registry) Create(peerID string) (*Session, error) {
	r.mu.Lock()
	old := r.sessions[peerID]
	if old != nil {
		if st := old.State(); st == StateNegotiating || st == StateConnected {
			r.mu.Unlock()
			r.log.Info("reusing session", "peer", peerID, "state", st.String())
			return old, nil
		}
		delete(r.sessions, peerID)
	}

	sess, err := newSession(peerID, sessionConfig{
		video:       r.video,
		audio:       r.audio,
		control:     r.sink,
		remoteAudio: r.remoteAudio,
		stunServers: r.stunServers,
		onState:     r.handleState,
	})
	if err != nil {
		r.mu.Unlock()
		if old != nil {
			old.Close()
		}
		return nil, err
	}
	r.sessions[peerID] = sess
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
	r.log.Info("session created", "peer", peerID)
	return sess, nil
}

// Get returns the session for peerID if one exists.
func (r *Registry) Get(peerID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[peerID]
	return sess, ok
}

// Remove closes and forgets the session for peerID. Removing an absent
// peer is a no-op.
func (r *Registry) Remove(peerID string) {
	r.mu.Lock()
	sess, ok := r.sessions[peerID]
	if ok {
		delete(r.sessions, peerID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	sess.Close()
	r.log.Info("session removed", "peer", peerID)
	if r.onPeerGone != nil {
		r.onPeerGone(peerID)
	}
}

// removeSession drops exactly the given session. A session that was
// already replaced under the same peer id is closed without touching
// its successor.
func (r *Registry) removeSession(s *Session) {
	r.mu.Lock()
	current, ok := r.sessions[s.peerID]
	if !ok || current != s {
		r.mu.Unlock()
		s.Close()
		return
	}
	delete(r.sessions, s.peerID)
	r.mu.Unlock()

	s.Close()
	r.log.Info("session removed", "peer", s.peerID)
	if r.onPeerGone != nil {
		r.onPeerGone(s.peerID)
	}
}

func (r *Registry) handleState(s *Session, from, to State) {
	switch to {
	case StateConnected:
		s.startFeeds()
		if r.onPeerReady != nil {
			r.onPeerReady(s.PeerID())
		}
	case StateFailed:
		r.log.Warn("session failed, tearing down", "peer", s.PeerID())
		r.removeSession(s)
	case StateClosed:
		r.removeSession(s)
	}
}

// ActivePeers returns the connected peer ids in stable order.
func (r *Registry) ActivePeers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		peers = append(peers, id)
	}
	sort.Strings(peers)
	return peers
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll tears down every session. Used at shutdown, peer-gone hooks
// do not fire.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	if len(sessions) > 0 {
		r.log.Info("all sessions closed", "count", len(sessions))
	}
}
