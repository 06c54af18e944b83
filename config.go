package audiostream

import (
	"fmt"
	"strings"
)

// RTP header extension URIs recognized by the send channel. Any other URI in
// a StreamConfig is a programming-contract violation.
const (
	// AbsSendTimeURI is the absolute send time extension.
	AbsSendTimeURI = "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time"

	// AudioLevelURI is the audio level indication extension.
	AudioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

	// TransportSequenceNumberURI is the transport-wide sequence number
	// extension used by send-side bandwidth estimation.
	TransportSequenceNumberURI = "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01"
)

// BitrateUnset is the sentinel for MinBitrateBps/MaxBitrateBps meaning the
// stream does not participate in bitrate allocation.
const BitrateUnset = -1

// nackPacketTimeMs is the assumed per-packet duration used to convert a NACK
// history window from milliseconds to a packet count. This is a fixed
// approximation independent of the negotiated codec's real frame size.
const nackPacketTimeMs = 20

// RTPExtension is one negotiated RTP header extension: a URI paired with the
// numeric id carried on the wire.
type RTPExtension struct {
	URI string
	ID  uint8
}

// String returns a human-readable rendering of the extension.
func (e RTPExtension) String() string {
	return fmt.Sprintf("{uri: %s, id: %d}", e.URI, e.ID)
}

// NACKConfig configures receiver-driven retransmission tracking.
type NACKConfig struct {
	// HistoryMs is the retransmission history window in milliseconds.
	// 0 disables retransmission tracking.
	HistoryMs int
}

// String returns a human-readable rendering of the NACK configuration.
func (n NACKConfig) String() string {
	return fmt.Sprintf("{history_ms: %d}", n.HistoryMs)
}

// CodecDescriptor identifies a send codec and its parameters.
type CodecDescriptor struct {
	Name        string
	PayloadType int
	ClockRateHz int
	Channels    int

	// BitrateBps is the codec target rate in bits per second.
	BitrateBps int
}

// String returns the codec in name/rate/channels (payload type) form.
func (c CodecDescriptor) String() string {
	return fmt.Sprintf("%s/%d/%d (%d)", c.Name, c.ClockRateHz, c.Channels, c.PayloadType)
}

// IsNamed reports whether the descriptor names the given codec,
// case-insensitively.
func (c CodecDescriptor) IsNamed(name string) bool {
	return strings.EqualFold(c.Name, name)
}

// SendCodecSpec is the immutable input to codec negotiation.
type SendCodecSpec struct {
	Codec CodecDescriptor

	// EnableFEC requests codec-internal forward error correction.
	EnableFEC bool

	// EnableOpusDTX requests Opus discontinuous transmission. Meaningful
	// only when the codec is Opus.
	EnableOpusDTX bool

	// OpusMaxPlaybackRateHz caps the remote playback rate hint. Values
	// <= 0 keep the codec default.
	OpusMaxPlaybackRateHz int

	// CNGPayloadType is the comfort-noise payload type, or -1 to disable
	// comfort noise and voice-activity detection.
	CNGPayloadType int

	// CNGClockRateHz must be one of 8000, 16000 or 32000 when comfort
	// noise is enabled.
	CNGClockRateHz int
}

// String returns a human-readable rendering of the codec spec.
func (s SendCodecSpec) String() string {
	return fmt.Sprintf("{codec: %s, fec: %t, opus_dtx: %t, opus_max_playback_rate_hz: %d, cng_payload_type: %d, cng_clock_rate_hz: %d}",
		s.Codec, s.EnableFEC, s.EnableOpusDTX, s.OpusMaxPlaybackRateHz, s.CNGPayloadType, s.CNGClockRateHz)
}

// StreamConfig is the complete construction-time configuration of an
// AudioSendStream. It is immutable for the stream's lifetime; construct a
// new stream to change any of it.
type StreamConfig struct {
	// SSRC is the local synchronization source identifier.
	SSRC uint32

	// Extensions lists the negotiated RTP header extensions in order.
	Extensions []RTPExtension

	// NACK configures retransmission tracking.
	NACK NACKConfig

	// CName is the RTCP canonical name.
	CName string

	// Channel is the pre-allocated send channel. Must be non-nil.
	Channel SendChannel

	// MinBitrateBps and MaxBitrateBps bound the stream's bitrate
	// allocation. BitrateUnset for either disables allocator
	// participation.
	MinBitrateBps int
	MaxBitrateBps int

	// SendCodec is applied to the channel during construction.
	SendCodec SendCodecSpec

	// SendTransport carries the stream's packets. Registered with the
	// channel at construction and deregistered on Close.
	SendTransport Transport
}

// participatesInAllocation reports whether both bitrate bounds are set.
func (c *StreamConfig) participatesInAllocation() bool {
	return c.MinBitrateBps != BitrateUnset && c.MaxBitrateBps != BitrateUnset
}

// validate checks construction-time contract requirements.
func (c *StreamConfig) validate() error {
	if c.Channel == nil {
		return ErrNilChannel
	}
	if c.SendTransport == nil {
		return ErrNilTransport
	}
	if c.participatesInAllocation() && c.MinBitrateBps > c.MaxBitrateBps {
		return fmt.Errorf("%w: min %d > max %d", ErrInvalidBitrateBounds,
			c.MinBitrateBps, c.MaxBitrateBps)
	}
	return nil
}

// String renders the configuration for diagnostics. Every field appears;
// the output is not a protocol surface and its exact shape may change.
func (c *StreamConfig) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("{ssrc: %d", c.SSRC))
	sb.WriteString(", extensions: [")
	for i, ext := range c.Extensions {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(ext.String())
	}
	sb.WriteString("]")
	sb.WriteString(", nack: ")
	sb.WriteString(c.NACK.String())
	sb.WriteString(", cname: ")
	sb.WriteString(c.CName)
	sb.WriteString(fmt.Sprintf(", min_bitrate_bps: %d", c.MinBitrateBps))
	sb.WriteString(fmt.Sprintf(", max_bitrate_bps: %d", c.MaxBitrateBps))
	sb.WriteString(", send_codec_spec: ")
	sb.WriteString(c.SendCodec.String())
	sb.WriteString("}")
	return sb.String()
}
