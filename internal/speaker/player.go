// Package speaker plays audio sent by the operator through the rover's
// speaker, the return half of the two-way audio link.
package speaker

import (
	"bufio"
	"context"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/roverlink/rover/internal/util"
)

// Stats is a snapshot of the playback counters.
type Stats struct {
	Packets uint64 `json:"packets"`
	Errors  uint64 `json:"errors"`
	Active  int    `json:"active"`
}

// Player decodes incoming Opus tracks and plays them on the ALSA
// device. Each track gets its own ffmpeg process fed Ogg pages on
// stdin, RTP packets are wrapped as they arrive.
type Player struct {
	log     *slog.Logger
	device  string
	enabled bool

	mu      sync.Mutex
	active  map[string]*playback
	packets uint64
	errors  uint64
}

// playback identifies one running track so a finished run only
// releases its own registry entry, never a successor's.
type playback struct {
	cancel context.CancelFunc
}

// NewPlayer builds a player for the given ALSA device. A disabled
// player accepts tracks and drops them silently.
func NewPlayer(device string, enabled bool) *Player {
	return &Player{
		log:     util.Component("speaker"),
		device:  device,
		enabled: enabled,
		active:  make(map[string]*playback),
	}
}

// Play starts playback of a remote track. A previous track from the
// same peer is cut off first.
func (p *Player) Play(peerID string, track *webrtc.TrackRemote) {
	if !p.enabled {
		p.log.Debug("speaker disabled, dropping track", "peer", peerID)
		return
	}
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	pb := &playback{cancel: cancel}
	p.mu.Lock()
	if old := p.active[peerID]; old != nil {
		old.cancel()
	}
	p.active[peerID] = pb
	p.mu.Unlock()

	p.log.Info("playing remote audio", "peer", peerID, "codec", track.Codec().MimeType)
	go p.run(ctx, peerID, pb, track)
}

// Stop ends playback for one peer. Unknown peers are a no-op.
func (p *Player) Stop(peerID string) {
	p.mu.Lock()
	pb := p.active[peerID]
	delete(p.active, peerID)
	p.mu.Unlock()
	if pb != nil {
		pb.cancel()
	}
}

// StopAll ends every active playback.
func (p *Player) StopAll() {
	p.mu.Lock()
	all := make([]*playback, 0, len(p.active))
	for _, pb := range p.active {
		all = append(all, pb)
	}
	p.active = make(map[string]*playback)
	p.mu.Unlock()
	for _, pb := range all {
		pb.cancel()
	}
}

// Stats returns a snapshot of the playback counters.
func (p *Player) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Packets: p.packets, Errors: p.errors, Active: len(p.active)}
}

func (p *Player) run(ctx context.Context, peerID string, pb *playback, track *webrtc.TrackRemote) {
	defer p.release(peerID, pb)

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "ogg",
		"-i", "-",
		"-f", "alsa",
		p.device,
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		p.log.Error("speaker pipe failed", "error", err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.log.Error("speaker pipe failed", "error", err)
		return
	}
	if err := cmd.Start(); err != nil {
		p.log.Error("speaker process failed to start", "error", err)
		return
	}
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			p.log.Debug("ffmpeg", "line", scanner.Text())
		}
	}()

	ogg, err := oggwriter.NewWith(stdin, 48000, 2)
	if err != nil {
		p.log.Error("ogg writer failed", "error", err)
		stdin.Close()
		cmd.Wait()
		return
	}

	for ctx.Err() == nil {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			// Track ends when the peer disconnects.
			break
		}
		if err := ogg.WriteRTP(pkt); err != nil {
			p.mu.Lock()
			p.errors++
			p.mu.Unlock()
			break
		}
		p.mu.Lock()
		p.packets++
		p.mu.Unlock()
	}

	ogg.Close()
	stdin.Close()
	waitOrKill(cmd, 2*time.Second)
	p.log.Info("playback ended", "peer", peerID)
}

func (p *Player) release(peerID string, pb *playback) {
	p.mu.Lock()
	if p.active[peerID] == pb {
		delete(p.active, peerID)
	}
	p.mu.Unlock()
}

// waitOrKill reaps the process, escalating from SIGTERM to SIGKILL if
// it lingers past the grace period.
func waitOrKill(cmd *exec.Cmd, grace time.Duration) {
	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(grace):
		cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-done:
	case <-time.After(grace):
		cmd.Process.Kill()
		<-done
	}
}
