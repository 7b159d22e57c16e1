package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterFanout(t *testing.T) {
	b := NewBroadcaster[VideoSample]()
	viewerA := b.Subscribe("viewer-a", 4)
	viewerB := b.Subscribe("viewer-b", 4)

	sample := VideoSample{Data: []byte{0x01, 0x02}, IsKey: true}
	b.Publish(sample)

	select {
	case got := <-viewerA:
		assert.Equal(t, sample.Data, got.Data)
		assert.True(t, got.IsKey)
	case <-time.After(time.Second):
		t.Fatal("viewer-a did not receive the sample")
	}
	select {
	case got := <-viewerB:
		assert.Equal(t, sample.Data, got.Data)
	case <-time.After(time.Second):
		t.Fatal("viewer-b did not receive the sample")
	}
}

func TestBroadcasterDropsWhenFull(t *testing.T) {
	b := NewBroadcaster[AudioSample]()
	ch := b.Subscribe("slow", 1)

	for i := 0; i < 3; i++ {
		b.Publish(AudioSample{Data: []byte{byte(i)}})
	}

	// Exactly one sample fits the buffer, the rest are counted as dropped.
	assert.Equal(t, uint64(2), b.Dropped("slow"))

	got := <-ch
	assert.Equal(t, []byte{0}, got.Data)
	assert.Len(t, ch, 0)
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster[VideoSample]()
	ch := b.Subscribe("viewer", 1)

	b.Unsubscribe("viewer")
	_, open := <-ch
	assert.False(t, open, "channel should be closed after unsubscribe")
	assert.Equal(t, 0, b.SubscriberCount())

	// Removing twice is a no-op.
	b.Unsubscribe("viewer")
}

func TestBroadcasterResubscribeReplaces(t *testing.T) {
	b := NewBroadcaster[VideoSample]()
	old := b.Subscribe("viewer", 1)
	fresh := b.Subscribe("viewer", 1)

	_, open := <-old
	require.False(t, open, "replaced channel should be closed")
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish(VideoSample{Data: []byte{0xFF}})
	select {
	case got := <-fresh:
		assert.Equal(t, []byte{0xFF}, got.Data)
	case <-time.After(time.Second):
		t.Fatal("fresh subscription did not receive the sample")
	}
}

func TestBroadcasterPublishWithoutSubscribers(t *testing.T) {
	b := NewBroadcaster[AudioSample]()
	b.Publish(AudioSample{Data: []byte{0x00}})
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBroadcasterConcurrentChurn(t *testing.T) {
	b := NewBroadcaster[VideoSample]()

	stop := make(chan struct{})
	var pubWG sync.WaitGroup
	pubWG.Add(1)
	go func() {
		defer pubWG.Done()
		for {
			select {
			case <-stop:
				return
			default:
				b.Publish(VideoSample{Data: []byte{0x01}})
			}
		}
	}()

	var churnWG sync.WaitGroup
	for g := 0; g < 4; g++ {
		churnWG.Add(1)
		go func(id string) {
			defer churnWG.Done()
			for i := 0; i < 50; i++ {
				ch := b.Subscribe(id, 2)
				// Drain whatever arrived before tearing down.
				select {
				case <-ch:
				default:
				}
				b.Unsubscribe(id)
			}
		}(string(rune('a' + g)))
	}

	done := make(chan struct{})
	go func() {
		churnWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("churn workers did not finish in time")
	}
	close(stop)
	pubWG.Wait()
	assert.Equal(t, 0, b.SubscriberCount())
}
