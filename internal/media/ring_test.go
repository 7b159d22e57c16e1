package media

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameWithSeq(seq uint64) Frame {
	return Frame{Source: SourceFrontCamera, Seq: seq, Data: []byte{byte(seq)}}
}

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing(3)
	for seq := uint64(1); seq <= 5; seq++ {
		r.Push(frameWithSeq(seq))
	}

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, uint64(2), r.Dropped())

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, uint64(3), snap[0].Seq)
	assert.Equal(t, uint64(4), snap[1].Seq)
	assert.Equal(t, uint64(5), snap[2].Seq)
}

func TestRingLatest(t *testing.T) {
	r := NewRing(3)

	_, ok := r.Latest()
	assert.False(t, ok, "empty ring should report no frame")

	r.Push(frameWithSeq(1))
	r.Push(frameWithSeq(2))

	latest, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(2), latest.Seq)

	// Latest is a read, not a pop.
	assert.Equal(t, 2, r.Len())
}

func TestRingBelowCapacity(t *testing.T) {
	r := NewRing(10)
	r.Push(frameWithSeq(1))
	r.Push(frameWithSeq(2))

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, uint64(0), r.Dropped())
}

func TestRingMinimumCapacity(t *testing.T) {
	r := NewRing(0)
	r.Push(frameWithSeq(1))
	r.Push(frameWithSeq(2))

	assert.Equal(t, 1, r.Len())
	latest, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(2), latest.Seq)
}

func TestRingSnapshotIsolation(t *testing.T) {
	r := NewRing(3)
	r.Push(frameWithSeq(1))
	r.Push(frameWithSeq(2))

	snap := r.Snapshot()
	require.Len(t, snap, 2)

	r.Push(frameWithSeq(3))
	r.Push(frameWithSeq(4))

	// The earlier snapshot still holds what it held.
	assert.Equal(t, uint64(1), snap[0].Seq)
	assert.Equal(t, uint64(2), snap[1].Seq)
}

func TestRingConcurrentPush(t *testing.T) {
	const (
		goroutines = 8
		perWorker  = 100
	)
	r := NewRing(3)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(base uint64) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				r.Push(frameWithSeq(base*perWorker + uint64(i)))
			}
		}(uint64(g))
	}
	wg.Wait()

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, uint64(goroutines*perWorker-3), r.Dropped())
}
