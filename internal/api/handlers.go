package api

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/roverlink/rover/internal/control"
	"github.com/roverlink/rover/internal/trim"
	"github.com/roverlink/rover/internal/version"
)

const maxControlBody = 4 << 10

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	sonic.ConfigDefault.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "rover",
		"device":  s.rover.DeviceID(),
		"version": version.Version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.rover.Status())
}

// handleControl accepts the same JSON command envelope as the control
// DataChannel, so the CLI can drive without a WebRTC stack.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxControlBody))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}

	if _, err := control.Parse(body); err != nil && !errors.Is(err, control.ErrIgnored) {
		http.Error(w, "malformed control message", http.StatusBadRequest)
		return
	}
	s.rover.Dispatch("http:"+r.RemoteAddr, body)
	respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// handleTrim reads or replaces the drive calibration. A POST applies the
// profile to the motors immediately and persists it.
func (s *Server) handleTrim(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		respondJSON(w, http.StatusOK, s.rover.Trim())
	case http.MethodPost:
		var p trim.Profile
		if err := sonic.ConfigDefault.NewDecoder(io.LimitReader(r.Body, maxControlBody)).Decode(&p); err != nil {
			http.Error(w, "malformed trim profile", http.StatusBadRequest)
			return
		}
		if err := s.rover.SetTrim(p); err != nil {
			s.log.Error("trim update failed", "error", err)
			http.Error(w, "trim update failed", http.StatusInternalServerError)
			return
		}
		respondJSON(w, http.StatusOK, s.rover.Trim())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSnapshot serves the most recent JPEG from the requested camera,
// optionally downscaled to ?width=.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	camera := r.URL.Query().Get("camera")
	frame, ok := s.rover.Frame(camera)
	if !ok {
		http.Error(w, "no frame available", http.StatusNotFound)
		return
	}

	data := frame.Data
	if width, _ := strconv.Atoi(r.URL.Query().Get("width")); width > 0 && width < frame.Width {
		if resized, err := downscaleJPEG(data, width); err != nil {
			s.log.Warn("snapshot downscale failed", "error", err)
		} else {
			data = resized
		}
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}

func downscaleJPEG(data []byte, width int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode frame")
	}
	resized := imaging.Resize(img, width, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, errors.Wrap(err, "encode frame")
	}
	return buf.Bytes(), nil
}
