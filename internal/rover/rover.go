// Package rover assembles the whole vehicle: capture devices, encoders,
// motor control, WebRTC sessions and the HTTP front, started and stopped
// in an order that keeps the chassis safe.
package rover

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/roverlink/rover/config"
	"github.com/roverlink/rover/internal/api"
	"github.com/roverlink/rover/internal/control"
	"github.com/roverlink/rover/internal/device"
	"github.com/roverlink/rover/internal/encode"
	"github.com/roverlink/rover/internal/media"
	"github.com/roverlink/rover/internal/motor"
	"github.com/roverlink/rover/internal/pipeline"
	"github.com/roverlink/rover/internal/speaker"
	"github.com/roverlink/rover/internal/telemetry"
	"github.com/roverlink/rover/internal/trim"
	"github.com/roverlink/rover/internal/util"
	"github.com/roverlink/rover/internal/webrtc"
)

// audioRingSize bounds the microphone's PCM buffer. Ten chunks is well
// under a second, stale audio is worth less than fresh audio.
const audioRingSize = 10

// Rover owns every subsystem. New assembles it from configuration,
// Initialize opens the hardware, Start sets it moving.
type Rover struct {
	log      *slog.Logger
	deviceID string

	cameras  *device.Manager
	mic      *device.Microphone
	micLoop  *device.CaptureLoop
	videoEnc *encode.VideoEncoder
	audioEnc *encode.AudioEncoder

	motors     *motor.Controller
	dispatcher *control.Dispatcher
	registry   *webrtc.Registry
	sound      *speaker.Player
	server     *api.Server
	telemetry  *telemetry.Publisher
	trimStore  *trim.Store

	mu          sync.Mutex
	initialized bool
	running     bool
	startedAt   time.Time
	audioOK     bool
	motorOK     bool
	cancel      context.CancelFunc
	monitorDone chan struct{}
	serverErr   chan error
}

// New builds the rover's subsystems from configuration. No hardware is
// touched until Initialize.
func New() *Rover {
	r := &Rover{
		log:      util.Component("rover"),
		deviceID: config.GetDeviceID(),
	}

	width := config.GetCameraWidth()
	height := config.GetCameraHeight()
	framerate := config.GetCameraFramerate()
	dims := [2]int{width, height}

	var front, rear device.Device
	if path := config.GetFrontCameraDevice(); path != "" {
		front = device.NewCamera(device.CameraConfig{
			Name:       "front",
			DevicePath: path,
			Width:      width,
			Height:     height,
			Framerate:  framerate,
			Format:     config.GetCameraFormat(),
		})
	}
	if path := config.GetRearCameraDevice(); path != "" {
		rear = device.NewCamera(device.CameraConfig{
			Name:       "rear",
			DevicePath: path,
			Width:      width,
			Height:     height,
			Framerate:  framerate,
			Format:     config.GetCameraFormat(),
		})
	}
	r.cameras = device.NewManager(front, rear, dims, dims)

	r.mic = device.NewMicrophone(device.MicrophoneConfig{
		Device:     config.GetAudioDevice(),
		SampleRate: config.GetAudioSampleRate(),
		Channels:   config.GetAudioChannels(),
		ChunkSize:  config.GetAudioChunkSize(),
	})
	r.micLoop = device.NewCaptureLoop(r.mic, media.SourceMicrophone, media.NewRing(audioRingSize), 0, 0)

	r.videoEnc = encode.NewVideoEncoder(encode.VideoEncoderConfig{
		Width:     width,
		Height:    height,
		Framerate: framerate,
		Bitrate:   config.GetVideoBitrate(),
		Hardware:  config.GetEncoderHardware(),
	})
	r.audioEnc = encode.NewAudioEncoder(encode.AudioEncoderConfig{
		SampleRate: config.GetAudioSampleRate(),
		Channels:   config.GetAudioChannels(),
	})

	r.sound = speaker.NewPlayer(config.GetSpeakerDevice(), config.IsSpeakerEnabled())
	r.trimStore = trim.NewStore("")
	r.telemetry = telemetry.NewPublisher(config.GetRedisURL(), config.GetTelemetryChannel(), r.deviceID)

	return r
}

// Initialize opens the hardware and wires the pipelines. The cameras are
// the only hard requirement: a rover that cannot see cannot be driven,
// but one that cannot speak or move can still stream video.
func (r *Rover) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return nil
	}

	r.log.Info("initializing rover", "device", r.deviceID, "board", util.BoardModel())

	if err := r.cameras.Initialize(ctx); err != nil {
		return errors.Wrap(err, "camera system")
	}

	if err := r.mic.Open(ctx); err != nil {
		r.log.Warn("microphone unavailable, audio disabled", "error", err)
	} else {
		r.audioOK = true
	}

	port := config.GetMotorPort()
	link, err := motor.OpenSerialLink(port, config.GetMotorBaudRate(), config.GetMotorTimeout())
	if err != nil {
		r.log.Warn("motor link unavailable, driving disabled", "port", port, "error", err)
		r.motors = motor.NewController(motor.OfflineLink{}, config.GetMotorQueueSize())
	} else {
		r.motorOK = true
		r.motors = motor.NewController(link, config.GetMotorQueueSize())
	}

	profile, err := r.trimStore.Load()
	if err != nil {
		r.log.Warn("trim profile unreadable, using defaults", "error", err)
	}
	r.motors.SetTrim(profile.LeftScale, profile.RightScale, profile.MaxSpeed)

	// Frames flow capture -> encoder -> sessions. Listeners hand off to
	// the encoders' submit queues, so capture never blocks on encoding.
	r.cameras.AddFrameListener(r.videoEnc.SubmitFrame)
	r.micLoop.AddListener(r.audioEnc.SubmitFrame)

	r.dispatcher = control.NewDispatcher(r.motors, r.cameras)

	var audioSrc webrtc.AudioSource
	if r.audioOK {
		audioSrc = r.audioEnc
	}
	r.registry = webrtc.NewRegistry(r.videoEnc, audioSrc, r.dispatcher, config.GetStunServers())
	r.registry.SetRemoteAudio(r.sound)
	r.registry.OnPeerReady(func(peerID string) {
		r.log.Info("peer connected", "peer", peerID)
	})
	r.registry.OnPeerGone(r.handlePeerGone)

	r.server = api.NewServer(config.GetServerHost(), config.GetServerPort(), r, r.registry)

	r.initialized = true
	r.log.Info("rover initialized",
		"audio", r.audioOK,
		"motor", r.motorOK,
		"active_camera", string(r.cameras.Active()))
	return nil
}

// Start brings the rover up: capture first so frames are flowing when
// the encoders attach, then motors, then the network surfaces. It does
// not block, failures of the HTTP listener surface through Wait.
func (r *Rover) Start(ctx context.Context) error {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return errors.New("rover not initialized")
	}
	if r.running {
		r.mu.Unlock()
		return nil
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.monitorDone = make(chan struct{})
	r.serverErr = make(chan error, 1)
	r.running = true
	r.startedAt = time.Now()
	monitorDone := r.monitorDone
	audioOK := r.audioOK
	r.mu.Unlock()

	r.cameras.Start(ctx)
	if audioOK {
		r.micLoop.Start(ctx)
		r.audioEnc.Start(ctx)
	}
	r.videoEnc.Start(ctx)
	r.motors.Start(ctx)

	go func() {
		r.serverErr <- r.server.Start()
	}()
	if url := config.GetSignalingURL(); url != "" {
		go r.server.RunRendezvous(ctx, url)
	}

	go r.monitor(ctx, monitorDone)

	r.log.Info("rover running", "console", r.server.ConsoleURL())
	return nil
}

// Wait blocks until the context ends or the HTTP listener fails.
func (r *Rover) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-r.serverErr:
		return errors.Wrap(err, "http server")
	}
}

// Stop shuts the rover down. Capture stops before the encoders so no
// more frames arrive, the motors get an emergency stop so the chassis
// halts even if teardown stalls afterwards, and sessions close last.
func (r *Rover) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel, monitorDone := r.cancel, r.monitorDone
	r.cancel, r.monitorDone = nil, nil
	audioOK := r.audioOK
	r.mu.Unlock()

	r.log.Info("stopping rover")
	cancel()
	<-monitorDone

	r.cameras.Stop()
	if audioOK {
		r.micLoop.Stop()
		if err := r.mic.Close(); err != nil {
			r.log.Error("microphone close failed", "error", err)
		}
		r.audioEnc.Stop()
	}
	r.videoEnc.Stop()

	if err := r.motors.EmergencyStop(); err != nil && !errors.Is(err, motor.ErrLinkUnavailable) {
		r.log.Error("final emergency stop failed", "error", err)
	}
	r.motors.Stop()

	r.registry.CloseAll()
	r.sound.StopAll()

	if err := r.server.Stop(); err != nil {
		r.log.Error("http server stop failed", "error", err)
	}
	r.telemetry.Close()

	r.log.Info("rover stopped")
}

// handlePeerGone parks the chassis when the last operator drops. A rover
// nobody is steering should not keep rolling on its last command.
func (r *Rover) handlePeerGone(peerID string) {
	r.log.Info("peer disconnected", "peer", peerID)
	if r.registry.Count() > 0 {
		return
	}
	if err := r.motors.Submit(0, 0); err != nil {
		r.log.Debug("park on disconnect rejected", "error", err)
	}
}

// DeviceID returns the configured rover identity.
func (r *Rover) DeviceID() string { return r.deviceID }

// Server exposes the HTTP front, the CLI uses it for the console URL.
func (r *Rover) Server() *api.Server { return r.server }

// Dispatch feeds one raw control message into the command pipeline.
func (r *Rover) Dispatch(peerID string, data []byte) {
	r.dispatcher.Dispatch(peerID, data)
}

// Frame returns the freshest JPEG from the named camera, or from the
// active camera when the name is empty.
func (r *Rover) Frame(camera string) (media.Frame, bool) {
	if camera == "" {
		return r.cameras.ActiveFrame()
	}
	return r.cameras.LatestFrame(media.SourceKind(camera))
}

// SubscribeAudio attaches a consumer to the Opus stream.
func (r *Rover) SubscribeAudio(id string, buffer int) (<-chan pipeline.AudioSample, bool) {
	r.mu.Lock()
	ok := r.audioOK
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	return r.audioEnc.Subscribe(id, buffer), true
}

// UnsubscribeAudio detaches an audio consumer.
func (r *Rover) UnsubscribeAudio(id string) {
	r.audioEnc.Unsubscribe(id)
}

// Trim returns the persisted drive calibration.
func (r *Rover) Trim() trim.Profile {
	p, err := r.trimStore.Load()
	if err != nil {
		r.log.Warn("trim profile unreadable", "error", err)
	}
	return p
}

// SetTrim applies and persists a new drive calibration.
func (r *Rover) SetTrim(p trim.Profile) error {
	p = p.Normalize()
	r.motors.SetTrim(p.LeftScale, p.RightScale, p.MaxSpeed)
	return r.trimStore.Save(p)
}

// monitor logs a one line health summary and pushes telemetry on every
// tick.
func (r *Rover) monitor(ctx context.Context, done chan struct{}) {
	defer close(done)
	interval := config.GetMonitorInterval()
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := r.snapshot()
			active := snap.Cameras[snap.ActiveCamera]
			r.log.Info("rover health",
				"camera", snap.ActiveCamera,
				"fps", active.FPS,
				"direction", snap.Motor.Direction,
				"estop", snap.Motor.EmergencyStop,
				"peers", snap.Peers.Count,
				"cpu", int(snap.System.CPUPercent))
			r.telemetry.Publish(ctx, snap)
		}
	}
}
