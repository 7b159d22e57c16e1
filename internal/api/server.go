// Package api exposes the rover over HTTP: WebRTC signaling, a small
// status and control surface for the CLI, and the embedded operator
// console.
package api

import (
	"bufio"
	"context"
	"embed"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dchest/uniuri"
	"github.com/pkg/errors"
	"k8s.io/utils/keymutex"

	"github.com/roverlink/rover/config"
	"github.com/roverlink/rover/internal/media"
	"github.com/roverlink/rover/internal/pipeline"
	"github.com/roverlink/rover/internal/trim"
	"github.com/roverlink/rover/internal/util"
	"github.com/roverlink/rover/internal/webrtc"
)

//go:embed static
var staticFiles embed.FS

// Rover is the surface the HTTP layer uses to reach the running rover.
type Rover interface {
	DeviceID() string
	Status() any
	Dispatch(peerID string, data []byte)
	Frame(camera string) (media.Frame, bool)
	SubscribeAudio(id string, buffer int) (<-chan pipeline.AudioSample, bool)
	UnsubscribeAudio(id string)
	Trim() trim.Profile
	SetTrim(p trim.Profile) error
}

// Server is the rover's HTTP front. Signaling, status and the operator
// console all hang off one listener.
type Server struct {
	host  string
	port  int
	log   *slog.Logger
	rover Rover

	registry *webrtc.Registry
	token    string
	// peerLock serializes signaling for one peer when messages arrive
	// on more than one connection (local ws and rendezvous).
	peerLock keymutex.KeyMutex

	mux        *http.ServeMux
	httpServer *http.Server
	startTime  time.Time
}

// NewServer builds the HTTP server. The access token comes from config,
// an empty config value gets a random per-run token.
func NewServer(host string, port int, rover Rover, registry *webrtc.Registry) *Server {
	token := config.GetAccessToken()
	if token == "" {
		token = uniuri.NewLen(24)
	}
	return &Server{
		host:     host,
		port:     port,
		log:      util.Component("api"),
		rover:    rover,
		registry: registry,
		token:    token,
		peerLock: keymutex.NewHashed(64),
		mux:      http.NewServeMux(),
	}
}

// Token returns the operator access token for this run.
func (s *Server) Token() string { return s.token }

// ConsoleURL returns the address operators open in a browser.
func (s *Server) ConsoleURL() string {
	host := s.host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d/?token=%s", host, s.port, s.token)
}

// Start sets up routes and serves until Stop. It blocks, run it on its
// own goroutine.
func (s *Server) Start() error {
	s.startTime = time.Now()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:    net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port)),
		Handler: s.loggingMiddleware(s.mux),
		// Streaming routes hold connections open indefinitely, so only
		// the header read gets a deadline.
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("http server listening", "addr", s.httpServer.Addr)
	s.log.Info("operator console", "url", s.ConsoleURL())
	return s.httpServer.ListenAndServe()
}

// Stop shuts the listener down, forcing the close if graceful shutdown
// overruns.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown overran, forcing close", "error", err)
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.authorized(s.handleStatus))
	s.mux.HandleFunc("/api/control", s.authorized(s.handleControl))
	s.mux.HandleFunc("/api/trim", s.authorized(s.handleTrim))
	s.mux.HandleFunc("/api/snapshot", s.authorized(s.handleSnapshot))
	s.mux.HandleFunc("/stream/audio.webm", s.authorized(s.handleAudioStream))
	s.mux.HandleFunc("/ws", s.authorized(s.handleWebSocket))
	s.mux.HandleFunc("/", s.handleConsole)
}

// authorized gates a handler behind the access token, accepted either
// as ?token= or a bearer header.
func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if token != s.token {
			http.Error(w, "invalid or missing token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	length int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.status = code
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lw.status == 0 {
		lw.status = http.StatusOK
	}
	n, err := lw.ResponseWriter.Write(b)
	lw.length += n
	return n, err
}

func (lw *loggingResponseWriter) Flush() {
	if f, ok := lw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrade reach the raw connection through
// the logging wrapper.
func (lw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.status,
			"bytes", lw.length,
			"duration", time.Since(start),
			"remote", r.RemoteAddr)
	})
}
