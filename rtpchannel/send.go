package rtpchannel

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// senderReportInterval is the minimum spacing between RTCP sender reports.
const senderReportInterval = 5 * time.Second

// telephoneEventVolume is the fixed volume (dBov attenuation) carried in
// outband telephone events.
const telephoneEventVolume = 10

// telephoneEventClockRateHz is the event clock rate mandated by RFC 4733 for
// the telephone-event payload format.
const telephoneEventClockRateHz = 8000

// telephoneEventEndRepeats is how many times the final event packet is
// repeated, per RFC 4733 section 2.5.1.4.
const telephoneEventEndRepeats = 3

// fullRangeLevelMax is the maximum full-range speech input level.
const fullRangeLevelMax = 32767

// sendHistory retains the most recently sent marshaled RTP packets, keyed by
// sequence number, for NACK-driven retransmission.
type sendHistory struct {
	maxPackets int
	packets    map[uint16][]byte
	order      []uint16
}

func newSendHistory(maxPackets int) *sendHistory {
	return &sendHistory{
		maxPackets: maxPackets,
		packets:    make(map[uint16][]byte, maxPackets),
	}
}

// store retains raw under seq, evicting the oldest entry when full.
func (h *sendHistory) store(seq uint16, raw []byte) {
	if _, exists := h.packets[seq]; !exists {
		if len(h.order) >= h.maxPackets {
			oldest := h.order[0]
			h.order = h.order[1:]
			delete(h.packets, oldest)
		}
		h.order = append(h.order, seq)
	}
	h.packets[seq] = raw
}

// get returns the retained packet for seq, if still in the history window.
func (h *sendHistory) get(seq uint16) ([]byte, bool) {
	raw, ok := h.packets[seq]
	return raw, ok
}

func (h *sendHistory) size() int {
	return len(h.order)
}

// SendAudioData packetizes one encoded audio frame and transmits it.
//
// The frame becomes a single RTP packet carrying the negotiated header
// extensions. The congestion-control pacer and feedback observer are
// notified per packet, and an RTCP sender report is interleaved when due.
// While the input is muted the frame is dropped but the RTP timestamp still
// advances by sampleCount.
//
// Parameters:
//   - payload: One encoded audio frame (e.g. an Opus frame)
//   - sampleCount: Number of samples the frame covers at the codec clock rate
//   - inputLevel: Full-range speech input level (0..32767) for this frame
//
// Returns:
//   - error: Any error that occurred during packetization or transmission
func (c *Channel) SendAudioData(payload []byte, sampleCount uint32, inputLevel int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inputLevel = clampLevel(inputLevel)

	if !c.sending {
		return ErrNotSending
	}
	if c.transport == nil {
		return ErrNoTransport
	}

	if c.muted {
		c.timestamp += sampleCount
		return nil
	}

	now := c.clock.Now()
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         c.markNext,
			PayloadType:    uint8(c.codec.PayloadType),
			SequenceNumber: c.sequenceNumber,
			Timestamp:      c.timestamp,
			SSRC:           c.ssrc,
		},
		Payload: payload,
	}
	if err := c.applyExtensionsLocked(&pkt.Header, now); err != nil {
		return fmt.Errorf("failed to apply header extensions: %w", err)
	}

	raw, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal RTP packet: %w", err)
	}

	if c.nackEnabled && c.history != nil {
		c.history.store(pkt.SequenceNumber, raw)
	}
	if c.pacer != nil {
		c.pacer.InsertPacket(c.ssrc, len(raw))
	}
	if c.feedback != nil && c.transportSeqID != 0 {
		c.feedback.OnPacketSent(c.transportWideSeq, len(raw))
	}

	if err := c.transport.SendRTP(raw); err != nil {
		return fmt.Errorf("failed to send RTP packet: %w", err)
	}

	c.markNext = false
	c.sequenceNumber++
	c.timestamp += sampleCount
	c.bytesSent += uint64(len(payload))
	c.packetsSent++

	c.maybeSendSenderReportLocked(now)
	return nil
}

// applyExtensionsLocked writes the enabled header extensions for one
// outgoing packet. Caller holds c.mu.
func (c *Channel) applyExtensionsLocked(header *rtp.Header, now time.Time) error {
	if c.absSendTimeID != 0 {
		if err := header.SetExtension(c.absSendTimeID, absSendTime(now)); err != nil {
			return err
		}
	}
	if c.audioLevelID != 0 {
		if err := header.SetExtension(c.audioLevelID, []byte{audioLevelByte(c.inputLevel)}); err != nil {
			return err
		}
	}
	if c.transportSeqID != 0 {
		seq := make([]byte, 2)
		binary.BigEndian.PutUint16(seq, c.transportWideSeq)
		c.transportWideSeq++
		if err := header.SetExtension(c.transportSeqID, seq); err != nil {
			return err
		}
	}
	return nil
}

// SendTelephoneEventOutband transmits a telephone event per RFC 4733.
//
// One start packet opens the event and the end packet is repeated for
// robustness. All packets of the event share one RTP timestamp; the duration
// field carries the event length in 8000 Hz clock ticks.
//
// Parameters:
//   - event: Telephone event code (0..255, DTMF digits are 0..15)
//   - duration: Event duration
//
// Returns:
//   - error: Any error that occurred during transmission
func (c *Channel) SendTelephoneEventOutband(event int, duration time.Duration) error {
	if event < 0 || event > 255 {
		return fmt.Errorf("telephone event code %d out of range", event)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.telephoneEventPT == telephoneEventUnset {
		return ErrNoTelephoneEventType
	}
	if !c.sending {
		return ErrNotSending
	}
	if c.transport == nil {
		return ErrNoTransport
	}

	ticks := duration.Milliseconds() * telephoneEventClockRateHz / 1000
	if ticks > math.MaxUint16 {
		ticks = math.MaxUint16
	}

	// Start packet, then the repeated end packets. The event's RTP
	// timestamp is fixed at its onset.
	eventTimestamp := c.timestamp
	if err := c.sendTelephoneEventPacketLocked(event, uint16(ticks), eventTimestamp, true, false); err != nil {
		return err
	}
	for i := 0; i < telephoneEventEndRepeats; i++ {
		if err := c.sendTelephoneEventPacketLocked(event, uint16(ticks), eventTimestamp, false, true); err != nil {
			return err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "SendTelephoneEventOutband",
		"ssrc":     c.ssrc,
		"event":    event,
		"duration": duration,
	}).Debug("Telephone event sent")
	return nil
}

// sendTelephoneEventPacketLocked builds and transmits one RFC 4733 event
// packet. Caller holds c.mu.
func (c *Channel) sendTelephoneEventPacketLocked(event int, durationTicks uint16, timestamp uint32, marker, end bool) error {
	payload := make([]byte, 4)
	payload[0] = byte(event)
	payload[1] = telephoneEventVolume
	if end {
		payload[1] |= 0x80
	}
	binary.BigEndian.PutUint16(payload[2:], durationTicks)

	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    uint8(c.telephoneEventPT),
			SequenceNumber: c.sequenceNumber,
			Timestamp:      timestamp,
			SSRC:           c.ssrc,
		},
		Payload: payload,
	}
	raw, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal telephone event packet: %w", err)
	}
	if err := c.transport.SendRTP(raw); err != nil {
		return fmt.Errorf("failed to send telephone event packet: %w", err)
	}
	c.sequenceNumber++
	c.bytesSent += uint64(len(payload))
	c.packetsSent++
	return nil
}

// clampLevel bounds a reported input level to the full 16-bit range.
func clampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level > fullRangeLevelMax {
		return fullRangeLevelMax
	}
	return level
}

// audioLevelByte converts a full-range input level to the RFC 6464
// audio-level extension byte: the V (voice) flag in the high bit and the
// level as dBov attenuation (0 loudest, 127 silence) in the low seven bits.
func audioLevelByte(level int) byte {
	if level <= 0 {
		return 127
	}
	dBov := -20 * math.Log10(float64(level)/float64(fullRangeLevelMax))
	attenuation := int(dBov)
	if attenuation > 127 {
		attenuation = 127
	}
	return 0x80 | byte(attenuation)
}

// absSendTime renders a timestamp in the 24-bit 6.18 fixed-point seconds
// format of the absolute-send-time extension.
func absSendTime(t time.Time) []byte {
	seconds := uint64(t.Unix()) << 18
	fraction := uint64(t.Nanosecond()) << 18 / uint64(time.Second)
	value := (seconds | fraction) & 0x00FFFFFF
	return []byte{byte(value >> 16), byte(value >> 8), byte(value)}
}
