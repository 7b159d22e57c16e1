// Package client is the CLI side of the rover HTTP API. Commands find
// the running server through its info file and talk to it with the
// access token recorded there.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"github.com/roverlink/rover/internal/daemon"
	"github.com/roverlink/rover/internal/rover"
	"github.com/roverlink/rover/internal/trim"
)

// Command is the JSON envelope the control endpoint accepts.
type Command struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Speed  int    `json:"speed,omitempty"`
}

// Client talks to a rover server's HTTP API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New builds a client for an explicit base URL and token.
func New(base, token string) *Client {
	return &Client{
		base:  strings.TrimSuffix(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Connect locates the locally running server through its info file and
// verifies it answers.
func Connect(ctx context.Context) (*Client, error) {
	info, err := daemon.ReadServerInfo()
	if err != nil {
		return nil, err
	}
	c := New(fmt.Sprintf("http://localhost:%d", info.Port), info.Token)
	if err := c.Health(ctx); err != nil {
		return nil, errors.Wrap(err, "rover server not responding")
	}
	return c, nil
}

// Health checks the open health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil)
}

// Status fetches the full status snapshot.
func (c *Client) Status(ctx context.Context) (rover.Snapshot, error) {
	var snap rover.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &snap)
	return snap, err
}

// Send posts one control command.
func (c *Client) Send(ctx context.Context, cmd Command) error {
	return c.do(ctx, http.MethodPost, "/api/control", cmd, nil)
}

// Trim fetches the persisted drive calibration.
func (c *Client) Trim(ctx context.Context) (trim.Profile, error) {
	var p trim.Profile
	err := c.do(ctx, http.MethodGet, "/api/trim", nil, &p)
	return p, err
}

// SetTrim applies a new drive calibration and returns what the rover
// actually stored after normalization.
func (c *Client) SetTrim(ctx context.Context, p trim.Profile) (trim.Profile, error) {
	var applied trim.Profile
	err := c.do(ctx, http.MethodPost, "/api/trim", p, &applied)
	return applied, err
}

// SnapshotJPEG fetches one camera frame. An empty camera name means the
// active camera, width 0 means full resolution.
func (c *Client) SnapshotJPEG(ctx context.Context, camera string, width int) ([]byte, error) {
	target := c.base + "/api/snapshot"
	q := url.Values{}
	if camera != "" {
		q.Set("camera", camera)
	}
	if width > 0 {
		q.Set("width", strconv.Itoa(width))
	}
	if enc := q.Encode(); enc != "" {
		target += "?" + enc
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build snapshot request")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch snapshot")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("snapshot: %s", readAPIError(resp))
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "rover api %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errors.Errorf("rover api %s: %s", path, readAPIError(resp))
	}
	if out != nil {
		if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(err, "decode response")
		}
	}
	return nil
}

func readAPIError(resp *http.Response) string {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	text := strings.TrimSpace(string(msg))
	if text == "" {
		return resp.Status
	}
	return fmt.Sprintf("%s (%s)", resp.Status, text)
}
