package rtpchannel

import "errors"

var (
	// ErrNoTransport is returned when an operation needs a registered
	// transport and none is attached.
	ErrNoTransport = errors.New("no transport registered")

	// ErrNoSendCodec is returned when transmission is requested before a
	// send codec has been applied.
	ErrNoSendCodec = errors.New("no send codec applied")

	// ErrNotSending is returned when media is pushed to a channel that has
	// not been started.
	ErrNotSending = errors.New("channel is not sending")

	// ErrAlreadySending is returned by configuration calls that must not
	// run while transmission is active.
	ErrAlreadySending = errors.New("channel is already sending")

	// ErrNotOpus is returned by Opus-specific configuration calls when the
	// applied codec is not Opus.
	ErrNotOpus = errors.New("applied send codec is not Opus")

	// ErrNoTelephoneEventType is returned when a telephone event is sent
	// before a telephone-event payload type has been registered.
	ErrNoTelephoneEventType = errors.New("no telephone event payload type registered")

	// ErrInvalidPayloadType is returned for payload types outside 0..127.
	ErrInvalidPayloadType = errors.New("payload type out of range")

	// ErrInvalidExtensionID is returned for RTP header extension ids
	// outside the one-byte header range 1..14.
	ErrInvalidExtensionID = errors.New("header extension id out of range")

	// ErrInvalidPlaybackRate is returned for non-positive Opus playback
	// rate caps.
	ErrInvalidPlaybackRate = errors.New("playback rate must be positive")
)
