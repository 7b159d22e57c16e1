package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roverlink/rover/internal/trim"
)

func TestStatusSendsBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/status", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"device":"rover-01","running":true,"peers":{"count":2}}`)
	}))
	defer server.Close()

	c := New(server.URL, "secret")
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rover-01", st.Device)
	assert.True(t, st.Running)
	assert.Equal(t, 2, st.Peers.Count)
}

func TestSendPostsCommandJSON(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/control", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		got = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(server.URL, "secret")
	err := c.Send(context.Background(), Command{Type: "motor", Action: "forward", Speed: 150})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"motor","action":"forward","speed":150}`, got)
}

func TestSendOmitsZeroSpeed(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = string(body)
	}))
	defer server.Close()

	c := New(server.URL, "")
	require.NoError(t, c.Send(context.Background(), Command{Type: "motor", Action: "stop"}))
	assert.JSONEq(t, `{"type":"motor","action":"stop"}`, got)
}

func TestErrorIncludesServerMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "emergency stop active", http.StatusConflict)
	}))
	defer server.Close()

	c := New(server.URL, "secret")
	err := c.Send(context.Background(), Command{Type: "motor", Action: "forward"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "emergency stop active")
	assert.Contains(t, err.Error(), "/api/control")
}

func TestSetTrimReturnsAppliedProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/trim", r.URL.Path)

		// The server normalizes out-of-range values before answering.
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"left_scale":0.9,"right_scale":1,"max_speed":255}`)
	}))
	defer server.Close()

	c := New(server.URL, "secret")
	applied, err := c.SetTrim(context.Background(), trim.Profile{LeftScale: 0.9, RightScale: 99, MaxSpeed: 9000})
	require.NoError(t, err)
	assert.Equal(t, 0.9, applied.LeftScale)
	assert.Equal(t, 1.0, applied.RightScale)
	assert.Equal(t, 255, applied.MaxSpeed)
}

func TestSnapshotJPEGPassesQuery(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xff, 0xd9}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/snapshot", r.URL.Path)
		assert.Equal(t, "rear", r.URL.Query().Get("camera"))
		assert.Equal(t, "640", r.URL.Query().Get("width"))
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(jpeg)
	}))
	defer server.Close()

	c := New(server.URL, "secret")
	data, err := c.SnapshotJPEG(context.Background(), "rear", 640)
	require.NoError(t, err)
	assert.Equal(t, jpeg, data)
}

func TestTrailingSlashTrimmed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
	}))
	defer server.Close()

	c := New(server.URL+"/", "")
	assert.NoError(t, c.Health(context.Background()))
}
