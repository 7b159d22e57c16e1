package webrtc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roverlink/rover/internal/pipeline"
)

type fakeVideoSource struct {
	mu     sync.Mutex
	subs   map[string]chan pipeline.VideoSample
	unsubs []string
}

func newFakeVideoSource() *fakeVideoSource {
	return &fakeVideoSource{subs: make(map[string]chan pipeline.VideoSample)}
}

func (f *fakeVideoSource) Subscribe(id string, buffer int) <-chan pipeline.VideoSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan pipeline.VideoSample, buffer)
	f.subs[id] = ch
	return ch
}

func (f *fakeVideoSource) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		close(ch)
		delete(f.subs, id)
	}
	f.unsubs = append(f.unsubs, id)
}

func (f *fakeVideoSource) ParameterSets() (sps, pps []byte) { return nil, nil }

type fakeAudioSource struct {
	mu   sync.Mutex
	subs map[string]chan pipeline.AudioSample
}

func newFakeAudioSource() *fakeAudioSource {
	return &fakeAudioSource{subs: make(map[string]chan pipeline.AudioSample)}
}

func (f *fakeAudioSource) Subscribe(id string, buffer int) <-chan pipeline.AudioSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan pipeline.AudioSample, buffer)
	f.subs[id] = ch
	return ch
}

func (f *fakeAudioSource) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		close(ch)
		delete(f.subs, id)
	}
}

type fakeSink struct {
	mu       sync.Mutex
	messages [][]byte
}

func (f *fakeSink) Dispatch(peerID string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, data)
}

func newTestRegistry() *Registry {
	return NewRegistry(newFakeVideoSource(), newFakeAudioSource(), &fakeSink{}, nil)
}

func TestRegistryCreateAndReuse(t *testing.T) {
	r := newTestRegistry()
	defer r.CloseAll()

	s1, err := r.Create("peer-a")
	require.NoError(t, err)
	assert.Equal(t, StateNegotiating, s1.State())
	assert.Equal(t, "peer-a", s1.PeerID())

	s2, err := r.Create("peer-a")
	require.NoError(t, err)
	assert.Same(t, s1, s2, "a live session is reused, not replaced")
	assert.Equal(t, 1, r.Count())
}

func TestRegistryReplacesDeadSession(t *testing.T) {
	r := newTestRegistry()
	defer r.CloseAll()

	s1, err := r.Create("peer-a")
	require.NoError(t, err)
	require.NoError(t, s1.Close())
	assert.Equal(t, StateClosed, s1.State())

	s2, err := r.Create("peer-a")
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)
	assert.Equal(t, StateNegotiating, s2.State())
	assert.Equal(t, 1, r.Count())
}

func TestRegistryRemoveIdempotent(t *testing.T) {
	r := newTestRegistry()
	var gone []string
	r.OnPeerGone(func(peerID string) { gone = append(gone, peerID) })

	s, err := r.Create("peer-a")
	require.NoError(t, err)

	r.Remove("peer-a")
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, []string{"peer-a"}, gone)
	_, ok := r.Get("peer-a")
	assert.False(t, ok)

	// Removing again, or removing a peer that never existed, is a no-op.
	r.Remove("peer-a")
	r.Remove("peer-z")
	assert.Equal(t, []string{"peer-a"}, gone)
}

func TestRegistryFailedSessionTearsDown(t *testing.T) {
	r := newTestRegistry()
	var gone []string
	r.OnPeerGone(func(peerID string) { gone = append(gone, peerID) })

	s, err := r.Create("peer-a")
	require.NoError(t, err)

	s.transition(StateFailed)
	assert.Equal(t, StateFailed, s.State(), "failure is not masked by the teardown close")
	assert.Equal(t, []string{"peer-a"}, gone)
	assert.Equal(t, 0, r.Count())

	// A second failure report for the same session changes nothing.
	s.transition(StateFailed)
	assert.Equal(t, []string{"peer-a"}, gone)
}

func TestRegistryStaleFailureSparesSuccessor(t *testing.T) {
	r := newTestRegistry()
	defer r.CloseAll()

	s1, err := r.Create("peer-a")
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := r.Create("peer-a")
	require.NoError(t, err)

	// The old session failing after replacement must not evict the
	// session now registered under the same peer id.
	s1.transition(StateFailed)
	got, ok := r.Get("peer-a")
	require.True(t, ok)
	assert.Same(t, s2, got)
}

func TestRegistryPeerReadyHook(t *testing.T) {
	r := newTestRegistry()
	defer r.CloseAll()
	var ready []string
	r.OnPeerReady(func(peerID string) { ready = append(ready, peerID) })

	s, err := r.Create("peer-a")
	require.NoError(t, err)

	s.transition(StateConnected)
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, []string{"peer-a"}, ready)
}

func TestRegistryActivePeers(t *testing.T) {
	r := newTestRegistry()

	for _, id := range []string{"peer-b", "peer-a", "peer-c"} {
		_, err := r.Create(id)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"peer-a", "peer-b", "peer-c"}, r.ActivePeers())
	assert.Equal(t, 3, r.Count())

	r.CloseAll()
	assert.Empty(t, r.ActivePeers())
	assert.Equal(t, 0, r.Count())
}
