package audiostream

import "time"

// Transport carries outgoing RTP and RTCP packets to the network.
//
// The stream registers the configured transport with the send channel at
// construction and deregisters it on Close. The transport is shared
// infrastructure; the stream only holds a handle to it.
type Transport interface {
	// SendRTP transmits a marshaled RTP packet.
	SendRTP(payload []byte) error

	// SendRTCP transmits a marshaled RTCP packet.
	SendRTCP(payload []byte) error
}

// Pacer schedules outgoing media packets under congestion control.
type Pacer interface {
	// InsertPacket notifies the pacer of a packet ready for transmission.
	InsertPacket(ssrc uint32, sizeBytes int)
}

// TransportFeedbackObserver receives per-packet send notifications so that
// transport-wide feedback reports can be matched to sent packets.
type TransportFeedbackObserver interface {
	// OnPacketSent records that a packet left the channel.
	OnPacketSent(transportSequenceNumber uint16, sizeBytes int)
}

// PacketRouter routes paced packets back to the transmitting stream.
type PacketRouter interface {
	// OnSendStreamRegistered is invoked when a stream's channel attaches.
	OnSendStreamRegistered(ssrc uint32)

	// OnSendStreamDeregistered is invoked when a stream's channel detaches.
	OnSendStreamDeregistered(ssrc uint32)
}

// CongestionController exposes the congestion-control objects a send channel
// must be wired to before it can transmit under congestion control.
type CongestionController interface {
	Pacer() Pacer
	TransportFeedbackObserver() TransportFeedbackObserver
	PacketRouter() PacketRouter
}

// BitrateObserver receives bandwidth-share callbacks from the bitrate
// allocator. The allocator issues at most one callback at a time per
// observer, serialized on the worker queue.
type BitrateObserver interface {
	// OnBitrateUpdated delivers the observer's current bandwidth share.
	// The returned value is the portion of the share spent on media
	// protection (FEC/retransmission overhead), in bits per second.
	OnBitrateUpdated(bitrateBps uint32, fractionLost uint8, rttMs int64) uint32
}

// BitrateAllocator is the shared scheduler that distributes available
// network bitrate across registered observers. Many streams (audio and
// video) may be registered concurrently; this package registers at most one
// observer per stream and always pairs every registration with a
// deregistration.
//
// AddObserver and RemoveObserver must be called on the worker queue.
type BitrateAllocator interface {
	// AddObserver registers an observer with its bitrate bounds. Adding an
	// already-registered observer updates its bounds in place.
	AddObserver(observer BitrateObserver, minBitrateBps, maxBitrateBps, padUpToBitrateBps uint32, enforceMin bool)

	// RemoveObserver deregisters an observer. Removing an unknown observer
	// is a no-op.
	RemoveObserver(observer BitrateObserver)
}

// AudioState exposes engine-wide shared audio state consulted by the stats
// aggregator. It is injected explicitly rather than reached through ambient
// globals so tests can substitute it.
type AudioState interface {
	// TypingNoiseDetected reports whether the engine's typing detection
	// currently flags keyboard noise on the capture path.
	TypingNoiseDetected() bool

	// EchoMetricsEnabled reports whether echo-cancellation metric
	// collection is active. When false, GetStats leaves echo fields at
	// their sentinel values.
	EchoMetricsEnabled() bool

	// EchoDelayMetrics returns the echo-canceller delay median and
	// standard deviation in milliseconds. A value of -1 means
	// insufficient data; the resolution is limited to multiples of 4 ms,
	// so -1 never occurs as a genuine measurement.
	EchoDelayMetrics() (medianMs, stdMs int, err error)

	// EchoMetrics returns echo return loss and echo return loss
	// enhancement in dB. These can take on valid negative values, so the
	// sentinel for insufficient data is -100, the lowest possible level.
	EchoMetrics() (returnLoss, returnLossEnhancement int, err error)
}

// CNFrequency identifies an engine-recognized comfort-noise clock rate.
// The 8000 Hz rate is not represented here: its CN payload type is fixed by
// the RTP audio/video profile and needs no registration.
type CNFrequency int

const (
	// CNFrequency16000 is the wideband comfort-noise clock rate.
	CNFrequency16000 CNFrequency = 16000
	// CNFrequency32000 is the super-wideband comfort-noise clock rate.
	CNFrequency32000 CNFrequency = 32000
)

// CallStats carries the RTCP call statistics a send channel accumulates.
type CallStats struct {
	BytesSent   uint64
	PacketsSent uint64

	// RTTMs is the last measured round-trip time in milliseconds. The
	// channel reports 0 until the first RTCP report is received; 0 is
	// never a genuine measurement.
	RTTMs int64
}

// ReportBlock is one reception report block from a remote RTCP report.
type ReportBlock struct {
	// SourceSSRC identifies the stream this block reports on.
	SourceSSRC uint32

	// CumulativePacketsLost is the total packets lost since stream start.
	CumulativePacketsLost uint32

	// FractionLostQ8 is the short-term loss fraction in Q8 fixed point
	// (0..255 maps to 0.0..~1.0).
	FractionLostQ8 uint8

	// ExtendedHighSequenceNumber is the extended highest sequence number
	// received.
	ExtendedHighSequenceNumber uint32

	// InterarrivalJitter is the jitter estimate in codec sample units.
	InterarrivalJitter uint32
}

// SendChannel is the contract with the media engine's send channel: one
// outbound RTP session owned by the engine and configured by this package.
//
// The engine groups these operations into separate control facets
// internally; the stream consumes them as one cohesive interface since the
// facets share a single underlying session and carry no independent
// ownership.
type SendChannel interface {
	// RegisterCongestionControl wires the channel to the congestion
	// controller's pacer, feedback observer, and packet router. Must be
	// called before transmission starts.
	RegisterCongestionControl(pacer Pacer, observer TransportFeedbackObserver, router PacketRouter)

	// ResetCongestionControl detaches all congestion-control objects.
	ResetCongestionControl()

	// SetRTCPStatus enables or disables RTCP for the session.
	SetRTCPStatus(enabled bool)

	// SetLocalSSRC sets the synchronization source identifier.
	SetLocalSSRC(ssrc uint32)

	// SetRTCPCName sets the RTCP canonical name.
	SetRTCPCName(cname string)

	// SetNACKStatus configures receiver-driven retransmission tracking.
	// maxPackets bounds the retransmission history.
	SetNACKStatus(enabled bool, maxPackets int)

	// RegisterTransport attaches the external packet transport.
	RegisterTransport(transport Transport) error

	// DeregisterTransport detaches the external packet transport.
	DeregisterTransport()

	// SetAbsoluteSendTimeStatus enables the absolute-send-time RTP header
	// extension with the negotiated extension id.
	SetAbsoluteSendTimeStatus(enabled bool, id uint8) error

	// SetAudioLevelIndicationStatus enables the audio-level RTP header
	// extension with the negotiated extension id.
	SetAudioLevelIndicationStatus(enabled bool, id uint8) error

	// EnableTransportSequenceNumber enables the transport-wide sequence
	// number RTP header extension with the negotiated extension id.
	EnableTransportSequenceNumber(id uint8) error

	// SendCodec returns the currently applied send codec, if any.
	SendCodec() (CodecDescriptor, bool)

	// SetSendCodec applies a send codec to the channel.
	SetSendCodec(codec CodecDescriptor) error

	// SetVADStatus enables or disables voice-activity detection.
	SetVADStatus(enabled bool) error

	// SetCodecFECStatus enables or disables codec-internal forward error
	// correction.
	SetCodecFECStatus(enabled bool) error

	// SetOpusDTX enables or disables Opus discontinuous transmission.
	// Only meaningful when the applied codec is Opus.
	SetOpusDTX(enabled bool) error

	// SetOpusMaxPlaybackRate caps the remote playback rate hint in Hz.
	SetOpusMaxPlaybackRate(rateHz int) error

	// SetCNPayloadType registers the comfort-noise payload type for the
	// given clock rate. Fails when the channel is already sending, which
	// callers treat as a benign re-apply.
	SetCNPayloadType(payloadType int, frequency CNFrequency) error

	// StartSend begins transmission.
	StartSend() error

	// StopSend halts transmission.
	StopSend() error

	// SetBitrate updates the channel's target encoder bitrate.
	SetBitrate(bitrateBps uint32)

	// SetInputMute mutes or unmutes the capture input.
	SetInputMute(muted bool)

	// SetTelephoneEventPayloadType registers the telephone-event payload
	// type used for outband DTMF signaling.
	SetTelephoneEventPayloadType(payloadType int) error

	// SendTelephoneEventOutband transmits a telephone event (RFC 4733).
	SendTelephoneEventOutband(event int, duration time.Duration) error

	// ReceivedRTCP forwards a raw inbound RTCP packet to the channel.
	// Safe to call from a goroutine other than the stream's owner.
	ReceivedRTCP(packet []byte) error

	// CallStats returns the channel's accumulated RTCP call statistics.
	CallStats() CallStats

	// RemoteReportBlocks returns the reception report blocks from the most
	// recent remote RTCP reports.
	RemoteReportBlocks() []ReportBlock

	// SpeechInputLevel returns the instantaneous full-range speech input
	// level (0..32767). Expected to always succeed once the channel
	// exists; an error indicates a programming-contract violation.
	SpeechInputLevel() (int, error)
}
