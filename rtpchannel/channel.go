// Package rtpchannel implements an outbound RTP/RTCP audio session.
//
// A Channel is the media engine's send channel: it owns the RTP
// packetization state (sequence numbers, timestamps, header extensions),
// accumulates RTCP call statistics, and exposes the configuration surface an
// AudioSendStream drives during codec negotiation and lifecycle changes.
//
// The package builds on pion/rtp for packetization and pion/rtcp for
// compound report parsing and generation.
package rtpchannel

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/randutil"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiostream"
)

// maxPayloadType is the upper bound of the 7-bit RTP payload type field.
const maxPayloadType = 127

// maxOneByteExtensionID is the largest extension id expressible in the
// one-byte RTP header extension format.
const maxOneByteExtensionID = 14

// telephoneEventUnset marks the telephone-event payload type as not
// registered.
const telephoneEventUnset = -1

// Channel is an outbound RTP audio session implementing
// audiostream.SendChannel.
//
// All methods are safe for concurrent use. Configuration calls and media
// pushes share one mutex; RTCP reception may run on a network goroutine.
type Channel struct {
	mu    sync.Mutex
	clock TimeProvider

	transport audiostream.Transport
	pacer     audiostream.Pacer
	feedback  audiostream.TransportFeedbackObserver
	router    audiostream.PacketRouter

	rtcpEnabled bool
	ssrc        uint32
	cname       string

	nackEnabled bool
	history     *sendHistory

	codec    audiostream.CodecDescriptor
	hasCodec bool

	vadEnabled        bool
	fecEnabled        bool
	dtxEnabled        bool
	maxPlaybackRateHz int
	cnPayloadTypes    map[audiostream.CNFrequency]int

	telephoneEventPT int

	sending    bool
	muted      bool
	markNext   bool
	bitrateBps uint32

	sequenceNumber   uint16
	timestamp        uint32
	transportWideSeq uint16

	bytesSent   uint64
	packetsSent uint64

	reportBlocks []audiostream.ReportBlock
	rttMs        int64

	lastSRSentAt  time.Time
	lastSRCompact uint32

	inputLevel int

	// Extension ids, 0 when the extension is disabled.
	absSendTimeID  uint8
	audioLevelID   uint8
	transportSeqID uint8
}

// NewChannel creates an outbound RTP audio session.
//
// The sequence number and timestamp start at random offsets per RFC 3550.
// A nil clock selects the system clock.
//
// Parameters:
//   - clock: Time source for sender reports and RTT, or nil
//
// Returns:
//   - *Channel: The new channel, ready for configuration
func NewChannel(clock TimeProvider) *Channel {
	if clock == nil {
		clock = DefaultTimeProvider{}
	}
	rng := randutil.NewMathRandomGenerator()
	return &Channel{
		clock:            clock,
		sequenceNumber:   uint16(rng.Intn(1 << 16)),
		timestamp:        rng.Uint32(),
		cnPayloadTypes:   make(map[audiostream.CNFrequency]int),
		telephoneEventPT: telephoneEventUnset,
	}
}

// RegisterCongestionControl wires the channel to the congestion controller's
// pacer, feedback observer, and packet router. The router is notified of the
// stream registration.
func (c *Channel) RegisterCongestionControl(pacer audiostream.Pacer, observer audiostream.TransportFeedbackObserver, router audiostream.PacketRouter) {
	c.mu.Lock()
	c.pacer = pacer
	c.feedback = observer
	c.router = router
	ssrc := c.ssrc
	c.mu.Unlock()

	if router != nil {
		router.OnSendStreamRegistered(ssrc)
	}
	logrus.WithFields(logrus.Fields{
		"function": "RegisterCongestionControl",
		"ssrc":     ssrc,
	}).Debug("Congestion control registered")
}

// ResetCongestionControl detaches all congestion-control objects, notifying
// the packet router of the stream deregistration.
func (c *Channel) ResetCongestionControl() {
	c.mu.Lock()
	router := c.router
	ssrc := c.ssrc
	c.pacer = nil
	c.feedback = nil
	c.router = nil
	c.mu.Unlock()

	if router != nil {
		router.OnSendStreamDeregistered(ssrc)
	}
	logrus.WithFields(logrus.Fields{
		"function": "ResetCongestionControl",
		"ssrc":     ssrc,
	}).Debug("Congestion control reset")
}

// SetRTCPStatus enables or disables RTCP for the session. While disabled no
// sender reports are emitted and inbound reports are ignored.
func (c *Channel) SetRTCPStatus(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rtcpEnabled = enabled
}

// SetLocalSSRC sets the synchronization source identifier.
func (c *Channel) SetLocalSSRC(ssrc uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ssrc = ssrc
}

// SetRTCPCName sets the RTCP canonical name carried in source description
// reports.
func (c *Channel) SetRTCPCName(cname string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cname = cname
}

// SetNACKStatus configures receiver-driven retransmission tracking. When
// enabled, sent packets are retained for retransmission up to maxPackets
// deep; inbound NACK feedback triggers retransmission from that history.
func (c *Channel) SetNACKStatus(enabled bool, maxPackets int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nackEnabled = enabled
	if enabled && maxPackets > 0 {
		c.history = newSendHistory(maxPackets)
	} else {
		c.history = nil
	}
	logrus.WithFields(logrus.Fields{
		"function":    "SetNACKStatus",
		"enabled":     enabled,
		"max_packets": maxPackets,
	}).Debug("NACK status updated")
}

// RegisterTransport attaches the external packet transport.
//
// Parameters:
//   - transport: Destination for marshaled RTP and RTCP packets
//
// Returns:
//   - error: nil, or a contract violation for a nil transport
func (c *Channel) RegisterTransport(transport audiostream.Transport) error {
	if transport == nil {
		return ErrNoTransport
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = transport
	return nil
}

// DeregisterTransport detaches the external packet transport. Subsequent
// media pushes fail until a transport is registered again.
func (c *Channel) DeregisterTransport() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = nil
}

// SetAbsoluteSendTimeStatus enables the absolute-send-time RTP header
// extension with the negotiated extension id.
func (c *Channel) SetAbsoluteSendTimeStatus(enabled bool, id uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !enabled {
		c.absSendTimeID = 0
		return nil
	}
	if id < 1 || id > maxOneByteExtensionID {
		return fmt.Errorf("%w: %d", ErrInvalidExtensionID, id)
	}
	c.absSendTimeID = id
	return nil
}

// SetAudioLevelIndicationStatus enables the audio-level RTP header extension
// with the negotiated extension id.
func (c *Channel) SetAudioLevelIndicationStatus(enabled bool, id uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !enabled {
		c.audioLevelID = 0
		return nil
	}
	if id < 1 || id > maxOneByteExtensionID {
		return fmt.Errorf("%w: %d", ErrInvalidExtensionID, id)
	}
	c.audioLevelID = id
	return nil
}

// EnableTransportSequenceNumber enables the transport-wide sequence number
// RTP header extension with the negotiated extension id.
func (c *Channel) EnableTransportSequenceNumber(id uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id < 1 || id > maxOneByteExtensionID {
		return fmt.Errorf("%w: %d", ErrInvalidExtensionID, id)
	}
	c.transportSeqID = id
	return nil
}

// SendCodec returns the currently applied send codec, if any.
func (c *Channel) SendCodec() (audiostream.CodecDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codec, c.hasCodec
}

// SetSendCodec applies a send codec to the channel. Applying a codec resets
// the Opus-specific state (DTX, playback-rate cap) to defaults.
//
// Parameters:
//   - codec: The codec descriptor to apply
//
// Returns:
//   - error: Any validation error
func (c *Channel) SetSendCodec(codec audiostream.CodecDescriptor) error {
	if codec.PayloadType < 0 || codec.PayloadType > maxPayloadType {
		return fmt.Errorf("%w: %d", ErrInvalidPayloadType, codec.PayloadType)
	}
	if codec.ClockRateHz <= 0 {
		return fmt.Errorf("invalid clock rate %d for codec %s", codec.ClockRateHz, codec.Name)
	}
	if codec.Channels < 1 {
		return fmt.Errorf("invalid channel count %d for codec %s", codec.Channels, codec.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.codec = codec
	c.hasCodec = true
	c.dtxEnabled = false
	c.maxPlaybackRateHz = 0
	logrus.WithFields(logrus.Fields{
		"function": "SetSendCodec",
		"ssrc":     c.ssrc,
		"codec":    codec.String(),
	}).Info("Send codec applied")
	return nil
}

// SetVADStatus enables or disables voice-activity detection.
func (c *Channel) SetVADStatus(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vadEnabled = enabled
	return nil
}

// SetCodecFECStatus enables or disables codec-internal forward error
// correction. Enabling FEC requires an applied codec.
func (c *Channel) SetCodecFECStatus(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enabled && !c.hasCodec {
		return ErrNoSendCodec
	}
	c.fecEnabled = enabled
	return nil
}

// SetOpusDTX enables or disables Opus discontinuous transmission. Fails
// unless the applied codec is Opus.
func (c *Channel) SetOpusDTX(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasCodec || !c.codec.IsNamed("opus") {
		return ErrNotOpus
	}
	c.dtxEnabled = enabled
	return nil
}

// SetOpusMaxPlaybackRate caps the remote playback rate hint in Hz. Fails
// unless the applied codec is Opus.
func (c *Channel) SetOpusMaxPlaybackRate(rateHz int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasCodec || !c.codec.IsNamed("opus") {
		return ErrNotOpus
	}
	if rateHz <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPlaybackRate, rateHz)
	}
	c.maxPlaybackRateHz = rateHz
	return nil
}

// SetCNPayloadType registers the comfort-noise payload type for the given
// clock rate. Fails when the channel is already sending; callers treat that
// as a benign re-apply.
func (c *Channel) SetCNPayloadType(payloadType int, frequency audiostream.CNFrequency) error {
	if payloadType < 0 || payloadType > maxPayloadType {
		return fmt.Errorf("%w: %d", ErrInvalidPayloadType, payloadType)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sending {
		return ErrAlreadySending
	}
	c.cnPayloadTypes[frequency] = payloadType
	return nil
}

// StartSend begins transmission. Requires a registered transport and an
// applied send codec.
func (c *Channel) StartSend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return ErrNoTransport
	}
	if !c.hasCodec {
		return ErrNoSendCodec
	}
	if c.sending {
		return ErrAlreadySending
	}
	c.sending = true
	c.markNext = true
	logrus.WithFields(logrus.Fields{
		"function": "StartSend",
		"ssrc":     c.ssrc,
		"codec":    c.codec.String(),
	}).Info("Channel transmission started")
	return nil
}

// StopSend halts transmission. Stopping an idle channel is a no-op.
func (c *Channel) StopSend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sending {
		return nil
	}
	c.sending = false
	logrus.WithFields(logrus.Fields{
		"function": "StopSend",
		"ssrc":     c.ssrc,
	}).Info("Channel transmission stopped")
	return nil
}

// SetBitrate updates the channel's target encoder bitrate.
func (c *Channel) SetBitrate(bitrateBps uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bitrateBps = bitrateBps
}

// SetInputMute mutes or unmutes the capture input. While muted, pushed
// frames are dropped and the RTP timestamp keeps advancing so the receiver
// observes a gap rather than a stall.
func (c *Channel) SetInputMute(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.muted && !muted {
		// Unmuting starts a new talkspurt.
		c.markNext = true
	}
	c.muted = muted
}

// SetTelephoneEventPayloadType registers the telephone-event payload type
// used for outband DTMF signaling.
func (c *Channel) SetTelephoneEventPayloadType(payloadType int) error {
	if payloadType < 0 || payloadType > maxPayloadType {
		return fmt.Errorf("%w: %d", ErrInvalidPayloadType, payloadType)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.telephoneEventPT = payloadType
	return nil
}

// SpeechInputLevel returns the most recent full-range speech input level
// (0..32767) observed on the capture path.
func (c *Channel) SpeechInputLevel() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputLevel, nil
}

// Sending reports whether the channel is currently transmitting.
func (c *Channel) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// Bitrate returns the channel's current target encoder bitrate.
func (c *Channel) Bitrate() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bitrateBps
}

// CNPayloadType returns the registered comfort-noise payload type for the
// given clock rate.
func (c *Channel) CNPayloadType(frequency audiostream.CNFrequency) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pt, ok := c.cnPayloadTypes[frequency]
	return pt, ok
}
