package api

import (
	"bytes"
	"context"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roverlink/rover/internal/media"
	"github.com/roverlink/rover/internal/pipeline"
	"github.com/roverlink/rover/internal/trim"
	"github.com/roverlink/rover/internal/webrtc"
)

// fakeRover implements the Rover interface for handler tests.
type fakeRover struct {
	frame      *media.Frame
	audio      chan pipeline.AudioSample
	dispatched [][]byte
	trim       trim.Profile
	trimErr    error
}

func (f *fakeRover) DeviceID() string { return "rover-test" }

func (f *fakeRover) Status() any {
	return map[string]any{"device_id": "rover-test"}
}

func (f *fakeRover) Dispatch(peerID string, data []byte) {
	f.dispatched = append(f.dispatched, data)
}

func (f *fakeRover) Frame(camera string) (media.Frame, bool) {
	if f.frame == nil {
		return media.Frame{}, false
	}
	return *f.frame, true
}

func (f *fakeRover) SubscribeAudio(id string, buffer int) (<-chan pipeline.AudioSample, bool) {
	if f.audio == nil {
		return nil, false
	}
	return f.audio, true
}

func (f *fakeRover) UnsubscribeAudio(id string) {}

func (f *fakeRover) Trim() trim.Profile {
	return f.trim
}

func (f *fakeRover) SetTrim(p trim.Profile) error {
	if f.trimErr != nil {
		return f.trimErr
	}
	f.trim = p.Normalize()
	return nil
}

func newTestServer(rover *fakeRover) *Server {
	s := NewServer("127.0.0.1", 0, rover, webrtc.NewRegistry(nil, nil, nil, nil))
	s.setupRoutes()
	return s
}

func (s *Server) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	return w
}

func TestHealthIsOpen(t *testing.T) {
	s := newTestServer(&fakeRover{})

	w := s.do(t, "GET", "/api/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "rover-test", resp["device"])
}

func TestStatusRequiresToken(t *testing.T) {
	s := newTestServer(&fakeRover{})

	w := s.do(t, "GET", "/api/status", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, "GET", "/api/status?token=wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, "GET", "/api/status?token="+s.Token(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rover-test")
}

func TestStatusAcceptsBearerToken(t *testing.T) {
	s := newTestServer(&fakeRover{})

	req := httptest.NewRequest("GET", "/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+s.Token())
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestControlRejectsGet(t *testing.T) {
	s := newTestServer(&fakeRover{})

	w := s.do(t, "GET", "/api/control?token="+s.Token(), nil)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestControlRejectsMalformedJSON(t *testing.T) {
	rover := &fakeRover{}
	s := newTestServer(rover)

	w := s.do(t, "POST", "/api/control?token="+s.Token(), []byte("{not json"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, rover.dispatched)
}

func TestControlDispatchesCommand(t *testing.T) {
	rover := &fakeRover{}
	s := newTestServer(rover)

	body := []byte(`{"type":"motor","action":"forward","speed":150}`)
	w := s.do(t, "POST", "/api/control?token="+s.Token(), body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "accepted")
	require.Len(t, rover.dispatched, 1)
	assert.JSONEq(t, string(body), string(rover.dispatched[0]))
}

func TestControlAcceptsUnknownAction(t *testing.T) {
	// Unknown actions are dropped downstream, not rejected at the edge.
	// This keeps the HTTP path in line with the DataChannel path.
	rover := &fakeRover{}
	s := newTestServer(rover)

	w := s.do(t, "POST", "/api/control?token="+s.Token(), []byte(`{"type":"motor","action":"moonwalk"}`))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, rover.dispatched, 1)
}

func TestSnapshotWithoutFrame(t *testing.T) {
	s := newTestServer(&fakeRover{})

	w := s.do(t, "GET", "/api/snapshot?token="+s.Token(), nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSnapshotServesFrame(t *testing.T) {
	frame := &media.Frame{Source: media.SourceFrontCamera, Data: []byte("jpegbytes"), Width: 640, Height: 480}
	s := newTestServer(&fakeRover{frame: frame})

	w := s.do(t, "GET", "/api/snapshot?token="+s.Token(), nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, frame.Data, w.Body.Bytes())
}

func TestSnapshotDownscales(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48)), imaging.JPEG))
	frame := &media.Frame{Source: media.SourceFrontCamera, Data: buf.Bytes(), Width: 64, Height: 48}
	s := newTestServer(&fakeRover{frame: frame})

	w := s.do(t, "GET", "/api/snapshot?width=32&token="+s.Token(), nil)

	require.Equal(t, http.StatusOK, w.Code)
	img, err := imaging.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
}

func TestSnapshotDownscaleFallsBackToOriginal(t *testing.T) {
	frame := &media.Frame{Source: media.SourceFrontCamera, Data: []byte("not a jpeg"), Width: 640, Height: 480}
	s := newTestServer(&fakeRover{frame: frame})

	w := s.do(t, "GET", "/api/snapshot?width=100&token="+s.Token(), nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, frame.Data, w.Body.Bytes())
}

func TestTrimRoundTrip(t *testing.T) {
	rover := &fakeRover{trim: trim.DefaultProfile()}
	s := newTestServer(rover)

	w := s.do(t, "GET", "/api/trim?token="+s.Token(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "left_scale")

	w = s.do(t, "POST", "/api/trim?token="+s.Token(), []byte(`{"left_scale":0.9,"right_scale":1,"max_speed":200}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, trim.Profile{LeftScale: 0.9, RightScale: 1, MaxSpeed: 200}, rover.trim)
}

func TestTrimRejectsMalformedBody(t *testing.T) {
	s := newTestServer(&fakeRover{})

	w := s.do(t, "POST", "/api/trim?token="+s.Token(), []byte("{oops"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAudioStreamWithoutSource(t *testing.T) {
	s := newTestServer(&fakeRover{})

	w := s.do(t, "GET", "/stream/audio.webm?token="+s.Token(), nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAudioStreamHeaders(t *testing.T) {
	rover := &fakeRover{audio: make(chan pipeline.AudioSample, 1)}
	s := newTestServer(rover)

	req := httptest.NewRequest("GET", "/stream/audio.webm?token="+s.Token(), nil)
	ctx, cancel := context.WithCancel(req.Context())
	cancel()
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "audio/webm"))
}

func TestConsoleURL(t *testing.T) {
	registry := webrtc.NewRegistry(nil, nil, nil, nil)

	// A wildcard bind address is useless in a URL, it becomes localhost.
	s := NewServer("0.0.0.0", 8080, &fakeRover{}, registry)
	assert.True(t, strings.HasPrefix(s.ConsoleURL(), "http://localhost:8080/"))
	assert.Contains(t, s.ConsoleURL(), "token="+s.Token())

	s = NewServer("192.168.1.40", 8080, &fakeRover{}, registry)
	assert.True(t, strings.HasPrefix(s.ConsoleURL(), "http://192.168.1.40:8080/"))
}
