package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublisherDisabledWithoutURL(t *testing.T) {
	p := NewPublisher("", "rover:telemetry", "rover-test")

	assert.False(t, p.Enabled())
	p.Publish(context.Background(), map[string]string{"state": "ok"})
	p.Close()
}

func TestPublisherDisabledOnBadURL(t *testing.T) {
	p := NewPublisher("::not-a-url::", "rover:telemetry", "rover-test")

	assert.False(t, p.Enabled())
	p.Publish(context.Background(), nil)
}

func TestPublisherNilSafe(t *testing.T) {
	var p *Publisher

	assert.False(t, p.Enabled())
	p.Publish(context.Background(), nil)
	p.Close()
}
