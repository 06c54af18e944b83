package audiostream

import "errors"

// Sentinel errors for audiostream operations.
// These errors enable reliable error classification using errors.Is().

// Construction contract errors.
var (
	// ErrNilChannel indicates the configured send channel handle is unset.
	ErrNilChannel = errors.New("send channel must not be nil")

	// ErrNilTransport indicates the configured send transport is unset.
	ErrNilTransport = errors.New("send transport must not be nil")

	// ErrNilCongestionController indicates the congestion controller is unset.
	ErrNilCongestionController = errors.New("congestion controller must not be nil")

	// ErrNilAllocator indicates the bitrate allocator is unset while the
	// configuration requests allocator participation.
	ErrNilAllocator = errors.New("bitrate allocator must not be nil")

	// ErrNilWorkerQueue indicates the worker queue is unset.
	ErrNilWorkerQueue = errors.New("worker queue must not be nil")

	// ErrNilAudioState indicates the shared audio state is unset.
	ErrNilAudioState = errors.New("audio state must not be nil")

	// ErrInvalidBitrateBounds indicates MinBitrateBps exceeds MaxBitrateBps.
	ErrInvalidBitrateBounds = errors.New("invalid bitrate bounds")
)

// Telephone event errors.
var (
	// ErrTelephoneEventPayloadType indicates registering the telephone
	// event payload type with the channel failed.
	ErrTelephoneEventPayloadType = errors.New("telephone event payload type registration failed")

	// ErrTelephoneEventSend indicates the channel rejected the outband
	// telephone event.
	ErrTelephoneEventSend = errors.New("telephone event send failed")
)

// Negotiation errors.
var (
	// ErrUnsupportedCNGRate indicates a comfort-noise clock rate outside
	// the supported set {8000, 16000, 32000}.
	ErrUnsupportedCNGRate = errors.New("unsupported comfort noise clock rate")
)
