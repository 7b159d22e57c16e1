package api

import (
	"net/http"
	"time"

	"github.com/at-wat/ebml-go/mkvcore"
	"github.com/at-wat/ebml-go/webm"
	"github.com/dchest/uniuri"
)

// responseWriteCloser adapts an http.ResponseWriter for the webm muxer,
// which wants an io.WriteCloser.
type responseWriteCloser struct {
	w http.ResponseWriter
}

func (rc *responseWriteCloser) Write(p []byte) (int, error) { return rc.w.Write(p) }
func (rc *responseWriteCloser) Close() error                { return nil }

// handleAudioStream serves the microphone as a live WebM/Opus stream,
// playable directly in a browser or media player for monitoring.
func (s *Server) handleAudioStream(w http.ResponseWriter, r *http.Request) {
	subID := "webm:" + uniuri.NewLen(8)
	ch, ok := s.rover.SubscribeAudio(subID, 64)
	if !ok {
		http.Error(w, "no audio source", http.StatusNotFound)
		return
	}
	defer s.rover.UnsubscribeAudio(subID)

	flusher, _ := w.(http.Flusher)

	w.Header().Set("Content-Type", "audio/webm; codecs=opus")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	writers, err := webm.NewSimpleBlockWriter(&responseWriteCloser{w}, []webm.TrackEntry{
		{
			Name:            "Audio",
			TrackNumber:     1,
			TrackUID:        1,
			CodecID:         "A_OPUS",
			TrackType:       2,
			DefaultDuration: 20000000,
			Audio: &webm.Audio{
				SamplingFrequency: 48000.0,
				Channels:          2,
			},
		},
	}, mkvcore.WithOnFatalHandler(func(err error) {
		s.log.Debug("webm stream error", "error", err)
	}))
	if err != nil {
		s.log.Error("webm writer failed", "error", err)
		return
	}
	audio := writers[0]
	defer audio.Close()

	s.log.Info("audio monitor stream started", "remote", r.RemoteAddr)
	var pos time.Duration
	for {
		select {
		case <-r.Context().Done():
			return
		case sample, open := <-ch:
			if !open {
				return
			}
			duration := sample.Duration
			if duration <= 0 {
				duration = 20 * time.Millisecond
			}
			pos += duration
			if _, err := audio.Write(true, int64(pos/time.Millisecond), sample.Data); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
