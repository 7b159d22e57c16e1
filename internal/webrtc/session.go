package webrtc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pkg/errors"

	"github.com/roverlink/rover/internal/encode"
	"github.com/roverlink/rover/internal/pipeline"
	"github.com/roverlink/rover/internal/util"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateNegotiating State = iota
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// VideoSource provides encoded video access units for streaming.
type VideoSource interface {
	Subscribe(id string, buffer int) <-chan pipeline.VideoSample
	Unsubscribe(id string)
	ParameterSets() (sps, pps []byte)
}

// AudioSource provides encoded audio packets for streaming.
type AudioSource interface {
	Subscribe(id string, buffer int) <-chan pipeline.AudioSample
	Unsubscribe(id string)
}

// ControlSink consumes raw control messages arriving from a peer.
type ControlSink interface {
	Dispatch(peerID string, data []byte)
}

// RemoteAudioSink consumes audio tracks a peer sends to the rover.
type RemoteAudioSink interface {
	Play(peerID string, track *webrtc.TrackRemote)
	Stop(peerID string)
}

const (
	videoFeedBuffer = 32
	audioFeedBuffer = 64
)

// Session is one peer's connection to the rover. It owns the peer
// connection, the outgoing media tracks and the feed goroutines that
// move encoded samples onto them. Control messages arrive on a
// DataChannel labeled "control" which the browser opens unordered with
// zero retransmits, a late steering command is worse than a lost one.
type Session struct {
	peerID    string
	createdAt time.Time
	log       *slog.Logger

	pc         *webrtc.PeerConnection
	videoTrack *webrtc.TrackLocalStaticSample
	audioTrack *webrtc.TrackLocalStaticSample

	video  VideoSource
	audio  AudioSource
	sink   ControlSink
	remote RemoteAudioSink

	// onState is invoked after every state transition, outside the
	// session lock.
	onState func(s *Session, from, to State)

	mu      sync.Mutex
	state   State
	closed  bool
	feeding bool
	cancel  context.CancelFunc
}

type sessionConfig struct {
	video       VideoSource
	audio       AudioSource
	control     ControlSink
	remoteAudio RemoteAudioSink
	stunServers []string
	onState     func(*Session, State, State)
}

func newSession(peerID string, cfg sessionConfig) (*Session, error) {
	pc, err := newPeerConnection(cfg.stunServers)
	if err != nil {
		return nil, err
	}

	s := &Session{
		peerID:    peerID,
		createdAt: time.Now(),
		log:       util.Component("session").With("peer", peerID),
		pc:        pc,
		video:     cfg.video,
		audio:     cfg.audio,
		sink:      cfg.control,
		remote:    cfg.remoteAudio,
		onState:   cfg.onState,
		state:     StateNegotiating,
	}

	s.videoTrack, err = newVideoTrack()
	if err != nil {
		pc.Close()
		return nil, errors.Wrap(err, "create video track")
	}
	if _, err := pc.AddTrack(s.videoTrack); err != nil {
		pc.Close()
		return nil, errors.Wrap(err, "add video track")
	}

	s.audioTrack, err = newAudioTrack()
	if err != nil {
		pc.Close()
		return nil, errors.Wrap(err, "create audio track")
	}
	if _, err := pc.AddTrack(s.audioTrack); err != nil {
		pc.Close()
		return nil, errors.Wrap(err, "add audio track")
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "control" {
			s.log.Debug("ignoring data channel", "label", dc.Label())
			return
		}
		s.log.Info("control channel connected")
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if s.sink != nil {
				s.sink.Dispatch(s.peerID, msg.Data)
			}
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if s.remote == nil {
			return
		}
		s.remote.Play(s.peerID, track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.transition(StateConnected)
		case webrtc.PeerConnectionStateFailed:
			s.transition(StateFailed)
		case webrtc.PeerConnectionStateClosed:
			s.transition(StateClosed)
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.log.Debug("ice connection state", "state", state.String())
	})

	return s, nil
}

// PeerID returns the identifier the signaling layer assigned this peer.
func (s *Session) PeerID() string { return s.peerID }

// CreatedAt returns when the session was established.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleOffer applies the remote SDP offer and produces the local answer.
func (s *Session) HandleOffer(sdp string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return "", errors.Wrap(err, "set remote description")
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", errors.Wrap(err, "create answer")
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return "", errors.Wrap(err, "set local description")
	}
	return answer.SDP, nil
}

// AddICECandidate feeds a remote candidate into the peer connection.
func (s *Session) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return s.pc.AddICECandidate(candidate)
}

// OnICECandidate registers the callback that forwards local candidates
// back through signaling.
func (s *Session) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	s.pc.OnICECandidate(fn)
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	from := s.state
	if from == to || from == StateFailed || from == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()

	s.log.Info("session state changed", "from", from.String(), "to", to.String())
	if s.onState != nil {
		s.onState(s, from, to)
	}
}

// startFeeds attaches the encoder outputs to the media tracks. Called
// once the connection reaches connected.
func (s *Session) startFeeds() {
	s.mu.Lock()
	if s.feeding || s.closed {
		s.mu.Unlock()
		return
	}
	s.feeding = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	if s.video != nil {
		ch := s.video.Subscribe(s.peerID, videoFeedBuffer)
		go s.feedVideo(ctx, ch)
	}
	if s.audio != nil {
		ch := s.audio.Subscribe(s.peerID, audioFeedBuffer)
		go s.feedAudio(ctx, ch)
	}
}

// feedVideo forwards access units to the video track. The remote decoder
// cannot pick up mid-GOP, so delta frames are withheld until parameter
// sets and a keyframe have gone out.
func (s *Session) feedVideo(ctx context.Context, ch <-chan pipeline.VideoSample) {
	var sps, pps []byte
	decoderReady := false

	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-ch:
			if !ok {
				return
			}
			if len(sample.Data) == 0 {
				continue
			}

			if sps == nil || pps == nil {
				sps, pps = s.video.ParameterSets()
			}
			if sample.IsKey && sps != nil && pps != nil {
				s.videoTrack.WriteSample(media.Sample{Data: encode.JoinNALUs([][]byte{sps})})
				s.videoTrack.WriteSample(media.Sample{Data: encode.JoinNALUs([][]byte{pps})})
			}
			if sample.IsKey {
				decoderReady = true
			} else if !decoderReady {
				continue
			}

			err := s.videoTrack.WriteSample(media.Sample{
				Data:     sample.Data,
				Duration: sample.Duration,
			})
			if err != nil {
				s.log.Debug("video track write failed", "error", err)
				return
			}
		}
	}
}

func (s *Session) feedAudio(ctx context.Context, ch <-chan pipeline.AudioSample) {
	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-ch:
			if !ok {
				return
			}
			if len(sample.Data) == 0 {
				continue
			}
			err := s.audioTrack.WriteSample(media.Sample{
				Data:     sample.Data,
				Duration: sample.Duration,
			})
			if err != nil {
				s.log.Debug("audio track write failed", "error", err)
				return
			}
		}
	}
}

// Close tears the session down. Safe to call more than once and from
// any goroutine, only the first call does work.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.state != StateFailed {
		s.state = StateClosed
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.video != nil {
		s.video.Unsubscribe(s.peerID)
	}
	if s.audio != nil {
		s.audio.Unsubscribe(s.peerID)
	}
	if s.remote != nil {
		s.remote.Stop(s.peerID)
	}
	err := s.pc.Close()
	s.log.Info("session closed")
	return errors.Wrap(err, "close peer connection")
}
