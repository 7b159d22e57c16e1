package device

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/roverlink/rover/internal/media"
	"github.com/roverlink/rover/internal/util"
)

// videoRingSize bounds each camera's frame buffer. Three frames keeps
// latency at ~100ms while riding out encoder hiccups.
const videoRingSize = 3

// Manager owns the rover's cameras. Initialization succeeds when at least
// one camera opens. Both cameras capture continuously, the active one feeds
// the video pipeline so a switch takes effect on the very next frame.
type Manager struct {
	log *slog.Logger

	mu        sync.RWMutex
	loops     map[media.SourceKind]*CaptureLoop
	devices   map[media.SourceKind]Device
	active    media.SourceKind
	listeners []Listener
}

// NewManager wires the front and rear cameras. Either may be nil when the
// hardware is absent. Dims carry the configured width and height for frame
// metadata.
func NewManager(front, rear Device, frontDims, rearDims [2]int) *Manager {
	m := &Manager{
		log:     util.Component("devices"),
		loops:   make(map[media.SourceKind]*CaptureLoop),
		devices: make(map[media.SourceKind]Device),
		active:  media.SourceFrontCamera,
	}
	if front != nil {
		m.devices[media.SourceFrontCamera] = front
		m.loops[media.SourceFrontCamera] = NewCaptureLoop(
			front, media.SourceFrontCamera, media.NewRing(videoRingSize), frontDims[0], frontDims[1])
	}
	if rear != nil {
		m.devices[media.SourceRearCamera] = rear
		m.loops[media.SourceRearCamera] = NewCaptureLoop(
			rear, media.SourceRearCamera, media.NewRing(videoRingSize), rearDims[0], rearDims[1])
	}
	return m
}

// Initialize opens the cameras. It fails only when no camera at all could
// be opened, a single working camera is enough to drive.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	opened := 0
	for kind, dev := range m.devices {
		if err := dev.Open(ctx); err != nil {
			m.log.Error("camera failed to open", "camera", dev.Name(), "error", err)
			delete(m.devices, kind)
			delete(m.loops, kind)
			continue
		}
		opened++
	}
	if opened == 0 {
		return errors.New("no camera could be opened")
	}

	if _, ok := m.loops[m.active]; !ok {
		for kind := range m.loops {
			m.active = kind
			break
		}
	}

	// Frames from every camera arrive at forward, only the active
	// camera's frames reach the manager's listeners.
	for _, loop := range m.loops {
		loop.AddListener(m.forward)
	}

	m.log.Info("camera manager initialized", "cameras", opened, "active", string(m.active))
	return nil
}

// Start launches the capture loops.
func (m *Manager) Start(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, loop := range m.loops {
		loop.Start(ctx)
	}
}

// Stop halts the capture loops and closes the cameras.
func (m *Manager) Stop() {
	m.mu.RLock()
	loops := make([]*CaptureLoop, 0, len(m.loops))
	devices := make([]Device, 0, len(m.devices))
	for _, loop := range m.loops {
		loops = append(loops, loop)
	}
	for _, dev := range m.devices {
		devices = append(devices, dev)
	}
	m.mu.RUnlock()

	for _, loop := range loops {
		loop.Stop()
	}
	for _, dev := range devices {
		if err := dev.Close(); err != nil {
			m.log.Error("camera close failed", "camera", dev.Name(), "error", err)
		}
	}
}

// AddFrameListener registers a listener for frames from the active camera.
func (m *Manager) AddFrameListener(fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// SetActive switches which camera feeds the video pipeline.
func (m *Manager) SetActive(kind media.SourceKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loops[kind]; !ok {
		return errors.Errorf("camera %q is not available", kind)
	}
	if m.active != kind {
		m.active = kind
		m.log.Info("active camera switched", "camera", string(kind))
	}
	return nil
}

// Active returns the camera currently feeding the video pipeline.
func (m *Manager) Active() media.SourceKind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Available reports whether a camera opened successfully.
func (m *Manager) Available(kind media.SourceKind) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.loops[kind]
	return ok
}

// LatestFrame returns the newest frame from the given camera.
func (m *Manager) LatestFrame(kind media.SourceKind) (media.Frame, bool) {
	m.mu.RLock()
	loop, ok := m.loops[kind]
	m.mu.RUnlock()
	if !ok {
		return media.Frame{}, false
	}
	return loop.Ring().Latest()
}

// ActiveFrame returns the newest frame from the active camera.
func (m *Manager) ActiveFrame() (media.Frame, bool) {
	return m.LatestFrame(m.Active())
}

// Stats returns per-camera loop statistics keyed by source.
func (m *Manager) Stats() map[string]LoopStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]LoopStats, len(m.loops))
	for kind, loop := range m.loops {
		out[string(kind)] = loop.Stats()
	}
	return out
}

func (m *Manager) forward(frame media.Frame) {
	m.mu.RLock()
	active := m.active
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	if frame.Source != active {
		return
	}
	for _, fn := range listeners {
		fn(frame)
	}
}
