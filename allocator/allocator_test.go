package allocator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/audiostream/worker"
)

// recordingObserver captures delivered bitrate shares.
type recordingObserver struct {
	mu      sync.Mutex
	updates []uint32
	lastRTT int64
	lastFL  uint8
}

func (r *recordingObserver) OnBitrateUpdated(bitrateBps uint32, fractionLost uint8, rttMs int64) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, bitrateBps)
	r.lastFL = fractionLost
	r.lastRTT = rttMs
	return 0
}

func (r *recordingObserver) received() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint32, len(r.updates))
	copy(out, r.updates)
	return out
}

func newTestAllocator(t *testing.T) (*Allocator, *worker.Queue) {
	t.Helper()
	queue := worker.NewQueue("allocator-test")
	t.Cleanup(queue.Close)
	return New(queue), queue
}

// flush waits for all previously queued distribution work to finish.
func flush(t *testing.T, queue *worker.Queue) {
	t.Helper()
	require.True(t, queue.PostAndWait(func() {}))
}

func TestAllocatorObserverRegistration(t *testing.T) {
	allocator, queue := newTestAllocator(t)
	observer := &recordingObserver{}

	queue.PostAndWait(func() {
		allocator.AddObserver(observer, 6000, 64000, 0, true)
	})
	assert.Equal(t, 1, allocator.ObserverCount())

	// Re-adding the same observer updates bounds in place.
	queue.PostAndWait(func() {
		allocator.AddObserver(observer, 8000, 32000, 0, true)
	})
	assert.Equal(t, 1, allocator.ObserverCount())

	queue.PostAndWait(func() {
		allocator.RemoveObserver(observer)
	})
	assert.Equal(t, 0, allocator.ObserverCount())
}

func TestAllocatorRemoveUnknownObserverIsNoop(t *testing.T) {
	allocator, queue := newTestAllocator(t)

	queue.PostAndWait(func() {
		allocator.RemoveObserver(&recordingObserver{})
	})
	assert.Equal(t, 0, allocator.ObserverCount())
}

func TestAllocatorDistributesEstimate(t *testing.T) {
	allocator, queue := newTestAllocator(t)
	observer := &recordingObserver{}

	queue.PostAndWait(func() {
		allocator.AddObserver(observer, 6000, 64000, 0, true)
	})

	allocator.OnNetworkEstimate(48000, 12, 80)
	flush(t, queue)

	updates := observer.received()
	require.NotEmpty(t, updates)
	assert.Equal(t, uint32(48000), updates[len(updates)-1])
	assert.Equal(t, uint8(12), observer.lastFL)
	assert.Equal(t, int64(80), observer.lastRTT)
}

func TestAllocatorSplitsAcrossObservers(t *testing.T) {
	allocator, queue := newTestAllocator(t)
	first := &recordingObserver{}
	second := &recordingObserver{}

	queue.PostAndWait(func() {
		allocator.AddObserver(first, 6000, 64000, 0, true)
		allocator.AddObserver(second, 6000, 64000, 0, true)
	})

	allocator.OnNetworkEstimate(48000, 0, 50)
	flush(t, queue)

	firstUpdates := first.received()
	secondUpdates := second.received()
	require.NotEmpty(t, firstUpdates)
	require.NotEmpty(t, secondUpdates)
	assert.Equal(t, uint32(24000), firstUpdates[len(firstUpdates)-1])
	assert.Equal(t, uint32(24000), secondUpdates[len(secondUpdates)-1])
}

func TestAllocatorEnforcesMinimum(t *testing.T) {
	allocator, queue := newTestAllocator(t)
	enforced := &recordingObserver{}
	unenforced := &recordingObserver{}

	queue.PostAndWait(func() {
		allocator.AddObserver(enforced, 20000, 64000, 0, true)
		allocator.AddObserver(unenforced, 20000, 64000, 0, false)
	})

	// 16000 split two ways is 8000 each, below both minimums.
	allocator.OnNetworkEstimate(16000, 0, 50)
	flush(t, queue)

	enforcedUpdates := enforced.received()
	unenforcedUpdates := unenforced.received()
	require.NotEmpty(t, enforcedUpdates)
	require.NotEmpty(t, unenforcedUpdates)
	assert.Equal(t, uint32(20000), enforcedUpdates[len(enforcedUpdates)-1])
	assert.Equal(t, uint32(8000), unenforcedUpdates[len(unenforcedUpdates)-1])
}

func TestAllocatorDoesNotClampToMaximum(t *testing.T) {
	allocator, queue := newTestAllocator(t)
	observer := &recordingObserver{}

	queue.PostAndWait(func() {
		allocator.AddObserver(observer, 6000, 64000, 0, true)
	})

	// Over-allocation is the observer's problem to clamp.
	allocator.OnNetworkEstimate(128000, 0, 50)
	flush(t, queue)

	updates := observer.received()
	require.NotEmpty(t, updates)
	assert.Equal(t, uint32(128000), updates[len(updates)-1])
}

func TestAllocatorReplaysEstimateOnRegistration(t *testing.T) {
	allocator, queue := newTestAllocator(t)

	allocator.OnNetworkEstimate(32000, 5, 60)
	flush(t, queue)

	// An observer registered after the estimate arrived still receives it
	// before AddObserver returns.
	late := &recordingObserver{}
	queue.PostAndWait(func() {
		allocator.AddObserver(late, 6000, 64000, 0, true)
	})

	updates := late.received()
	require.NotEmpty(t, updates)
	assert.Equal(t, uint32(32000), updates[0])
}

func TestAllocatorPadUpFloor(t *testing.T) {
	allocator, queue := newTestAllocator(t)
	observer := &recordingObserver{}

	queue.PostAndWait(func() {
		allocator.AddObserver(observer, 0, 64000, 12000, false)
	})

	allocator.OnNetworkEstimate(8000, 0, 50)
	flush(t, queue)

	updates := observer.received()
	require.NotEmpty(t, updates)
	assert.Equal(t, uint32(12000), updates[len(updates)-1])
}

func TestAllocatorNoObserversIgnoresEstimate(t *testing.T) {
	allocator, queue := newTestAllocator(t)

	assert.NotPanics(t, func() {
		allocator.OnNetworkEstimate(48000, 0, 50)
		flush(t, queue)
	})
}
