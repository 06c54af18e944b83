// Package allocator provides a reference bitrate allocator: the shared
// scheduler that distributes a network bandwidth estimate across all
// registered stream observers.
//
// Observer registration runs on the caller's worker queue context (streams
// post their Add/Remove calls there), while network estimates may arrive
// from any goroutine and are serialized onto the same queue before
// callbacks fire. Every observer therefore sees at most one
// OnBitrateUpdated call at a time.
package allocator

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiostream"
	"github.com/opd-ai/audiostream/worker"
)

// entry is one registered observer with its allocation constraints.
type entry struct {
	observer   audiostream.BitrateObserver
	minBps     uint32
	maxBps     uint32
	padUpBps   uint32
	enforceMin bool
}

// Allocator distributes a bandwidth estimate across registered observers.
//
// Distribution is deliberately simple: each observer receives an equal
// share of the estimate, floored at its enforced minimum and pad-up level.
// The allocator does not clamp shares to an observer's maximum; observers
// discard excess themselves, which leaves headroom allocation (extra FEC,
// probing) a per-observer decision.
type Allocator struct {
	queue *worker.Queue

	mu      sync.Mutex
	entries []*entry

	// Last estimate, replayed to observers registered after it arrived.
	estimateBps  uint32
	fractionLost uint8
	rttMs        int64
	hasEstimate  bool
}

// New creates an allocator whose callbacks are serialized on the given
// worker queue.
func New(queue *worker.Queue) *Allocator {
	return &Allocator{queue: queue}
}

// AddObserver registers an observer with its bitrate bounds. Adding an
// already-registered observer updates its bounds in place. Must be called
// on the worker queue; the observer receives the current allocation before
// AddObserver returns, so no estimate that preceded registration is missed.
func (a *Allocator) AddObserver(observer audiostream.BitrateObserver,
	minBitrateBps, maxBitrateBps, padUpToBitrateBps uint32, enforceMin bool) {
	a.mu.Lock()

	var e *entry
	for _, existing := range a.entries {
		if existing.observer == observer {
			e = existing
			break
		}
	}
	if e == nil {
		e = &entry{observer: observer}
		a.entries = append(a.entries, e)
	}
	e.minBps = minBitrateBps
	e.maxBps = maxBitrateBps
	e.padUpBps = padUpToBitrateBps
	e.enforceMin = enforceMin

	logrus.WithFields(logrus.Fields{
		"function":        "AddObserver",
		"min_bitrate_bps": minBitrateBps,
		"max_bitrate_bps": maxBitrateBps,
		"observer_count":  len(a.entries),
	}).Debug("Bitrate observer registered")

	a.mu.Unlock()

	if a.currentEstimateKnown() {
		a.distribute()
	}
}

// RemoveObserver deregisters an observer. Removing an unknown observer is
// a no-op. Must be called on the worker queue.
func (a *Allocator) RemoveObserver(observer audiostream.BitrateObserver) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, e := range a.entries {
		if e.observer == observer {
			a.entries = append(a.entries[:i], a.entries[i+1:]...)
			logrus.WithFields(logrus.Fields{
				"function":       "RemoveObserver",
				"observer_count": len(a.entries),
			}).Debug("Bitrate observer removed")
			return
		}
	}
}

// OnNetworkEstimate feeds a new bandwidth estimate into the allocator.
// May be called from any goroutine; distribution runs on the worker queue.
func (a *Allocator) OnNetworkEstimate(bitrateBps uint32, fractionLost uint8, rttMs int64) {
	a.mu.Lock()
	a.estimateBps = bitrateBps
	a.fractionLost = fractionLost
	a.rttMs = rttMs
	a.hasEstimate = true
	a.mu.Unlock()

	a.queue.Post(a.distribute)
}

// ObserverCount returns the number of registered observers.
func (a *Allocator) ObserverCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// currentEstimateKnown reports whether an estimate has arrived.
func (a *Allocator) currentEstimateKnown() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasEstimate
}

// distribute hands each observer its share of the current estimate. Runs
// on the worker queue, so observer callbacks never overlap.
func (a *Allocator) distribute() {
	a.mu.Lock()
	if !a.hasEstimate || len(a.entries) == 0 {
		a.mu.Unlock()
		return
	}
	estimate := a.estimateBps
	fractionLost := a.fractionLost
	rttMs := a.rttMs
	entries := make([]*entry, len(a.entries))
	copy(entries, a.entries)
	a.mu.Unlock()

	share := estimate / uint32(len(entries))
	for _, e := range entries {
		bps := share
		if e.enforceMin && bps < e.minBps {
			bps = e.minBps
		}
		if bps < e.padUpBps {
			bps = e.padUpBps
		}

		protectionBps := e.observer.OnBitrateUpdated(bps, fractionLost, rttMs)

		logrus.WithFields(logrus.Fields{
			"function":       "distribute",
			"allocated_bps":  bps,
			"protection_bps": protectionBps,
		}).Trace("Delivered bitrate share")
	}
}
