package rover

import (
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/roverlink/rover/internal/device"
	"github.com/roverlink/rover/internal/encode"
	"github.com/roverlink/rover/internal/motor"
	"github.com/roverlink/rover/internal/speaker"
	"github.com/roverlink/rover/internal/util"
	"github.com/roverlink/rover/internal/version"
)

// Snapshot is the status document served by /api/status and pushed to
// telemetry. The operator console renders it directly.
type Snapshot struct {
	Device       string                      `json:"device"`
	Board        string                      `json:"board,omitempty"`
	Version      string                      `json:"version"`
	Running      bool                        `json:"running"`
	UptimeSec    int64                       `json:"uptime_sec"`
	Time         time.Time                   `json:"time"`
	Cameras      map[string]device.LoopStats `json:"cameras"`
	ActiveCamera string                      `json:"active_camera"`
	Audio        AudioStatus                 `json:"audio"`
	Encoder      EncoderStats                `json:"encoder"`
	Motor        motor.Status                `json:"motor"`
	Speaker      speaker.Stats               `json:"speaker"`
	Peers        PeerStats                   `json:"peers"`
	System       SystemStats                 `json:"system"`
}

// AudioStatus is the microphone loop's counters plus whether the
// microphone opened at all.
type AudioStatus struct {
	Enabled bool `json:"enabled"`
	device.LoopStats
}

// EncoderStats groups both encode stages.
type EncoderStats struct {
	Video encode.VideoEncoderStats `json:"video"`
	Audio encode.AudioEncoderStats `json:"audio"`
}

// PeerStats summarizes the session registry.
type PeerStats struct {
	Count int      `json:"count"`
	IDs   []string `json:"ids"`
}

// SystemStats carries board level health read through gopsutil.
type SystemStats struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemPercent  float64 `json:"mem_percent"`
	Load1       float64 `json:"load1"`
	UptimeSec   uint64  `json:"uptime_sec"`
	TempCelsius float64 `json:"temp_celsius,omitempty"`
}

// Status implements the HTTP layer's view of the rover.
func (r *Rover) Status() any { return r.snapshot() }

func (r *Rover) snapshot() Snapshot {
	r.mu.Lock()
	running := r.running
	startedAt := r.startedAt
	audioOK := r.audioOK
	motorOK := r.motorOK
	r.mu.Unlock()

	var uptime int64
	if running {
		uptime = int64(time.Since(startedAt).Seconds())
	}

	motorStatus := r.motors.Status()
	motorStatus.Connected = motorOK && motorStatus.Connected

	peers := r.registry.ActivePeers()

	return Snapshot{
		Device:       r.deviceID,
		Board:        util.BoardModel(),
		Version:      version.Version,
		Running:      running,
		UptimeSec:    uptime,
		Time:         time.Now().UTC(),
		Cameras:      r.cameras.Stats(),
		ActiveCamera: string(r.cameras.Active()),
		Audio: AudioStatus{
			Enabled:   audioOK,
			LoopStats: r.micLoop.Stats(),
		},
		Encoder: EncoderStats{
			Video: r.videoEnc.Stats(),
			Audio: r.audioEnc.Stats(),
		},
		Motor:   motorStatus,
		Speaker: r.sound.Stats(),
		Peers: PeerStats{
			Count: len(peers),
			IDs:   peers,
		},
		System: collectSystemStats(),
	}
}

// collectSystemStats reads board health. Every probe is best effort, a
// metric that cannot be read reports zero.
func collectSystemStats() SystemStats {
	var s SystemStats
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		s.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemPercent = vm.UsedPercent
	}
	if avg, err := load.Avg(); err == nil {
		s.Load1 = avg.Load1
	}
	if up, err := host.Uptime(); err == nil {
		s.UptimeSec = up
	}
	if temps, err := host.SensorsTemperatures(); err == nil {
		for _, t := range temps {
			key := strings.ToLower(t.SensorKey)
			if strings.Contains(key, "cpu") || strings.Contains(key, "soc") {
				s.TempCelsius = t.Temperature
				break
			}
		}
	}
	return s
}
