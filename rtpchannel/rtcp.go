package rtpchannel

import (
	"fmt"
	"time"

	"github.com/pion/rtcp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiostream"
)

// ntpEpochOffset is the offset in seconds between the NTP epoch (1900) and
// the Unix epoch (1970).
const ntpEpochOffset = 2208988800

// maybeSendSenderReportLocked emits an RTCP sender report plus a CNAME
// source description when one is due. Caller holds c.mu.
func (c *Channel) maybeSendSenderReportLocked(now time.Time) {
	if !c.rtcpEnabled || c.transport == nil {
		return
	}
	if !c.lastSRSentAt.IsZero() && now.Sub(c.lastSRSentAt) < senderReportInterval {
		return
	}

	ntp := toNTPTime(now)
	sr := &rtcp.SenderReport{
		SSRC:        c.ssrc,
		NTPTime:     ntp,
		RTPTime:     c.timestamp,
		PacketCount: uint32(c.packetsSent),
		OctetCount:  uint32(c.bytesSent),
	}
	packets := []rtcp.Packet{sr}
	if c.cname != "" {
		packets = append(packets, &rtcp.SourceDescription{
			Chunks: []rtcp.SourceDescriptionChunk{{
				Source: c.ssrc,
				Items: []rtcp.SourceDescriptionItem{{
					Type: rtcp.SDESCNAME,
					Text: c.cname,
				}},
			}},
		})
	}

	raw, err := rtcp.Marshal(packets)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "maybeSendSenderReportLocked",
			"ssrc":     c.ssrc,
			"error":    err,
		}).Error("Failed to marshal sender report")
		return
	}
	if err := c.transport.SendRTCP(raw); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "maybeSendSenderReportLocked",
			"ssrc":     c.ssrc,
			"error":    err,
		}).Warn("Failed to send sender report")
		return
	}

	c.lastSRSentAt = now
	c.lastSRCompact = compactNTP(ntp)
}

// ReceivedRTCP forwards a raw inbound RTCP compound packet to the channel.
//
// Reception report blocks addressed to the local SSRC update the remote
// report state and the round-trip time estimate. Transport-layer NACK
// feedback triggers retransmission from the send history. Safe to call from
// a network goroutine.
//
// Parameters:
//   - packet: One marshaled RTCP compound packet
//
// Returns:
//   - error: A parse error, or nil
func (c *Channel) ReceivedRTCP(packet []byte) error {
	parsed, err := rtcp.Unmarshal(packet)
	if err != nil {
		return fmt.Errorf("failed to parse RTCP packet: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.rtcpEnabled {
		return nil
	}

	for _, p := range parsed {
		switch report := p.(type) {
		case *rtcp.ReceiverReport:
			c.handleReceptionReportsLocked(report.Reports)
		case *rtcp.SenderReport:
			c.handleReceptionReportsLocked(report.Reports)
		case *rtcp.TransportLayerNack:
			if report.MediaSSRC == c.ssrc {
				c.handleNackLocked(report)
			}
		}
	}
	return nil
}

// handleReceptionReportsLocked records report blocks addressed to the local
// SSRC and refreshes the RTT estimate. Caller holds c.mu.
func (c *Channel) handleReceptionReportsLocked(reports []rtcp.ReceptionReport) {
	var blocks []audiostream.ReportBlock
	for _, report := range reports {
		if report.SSRC != c.ssrc {
			continue
		}
		blocks = append(blocks, audiostream.ReportBlock{
			SourceSSRC:                 report.SSRC,
			CumulativePacketsLost:      report.TotalLost,
			FractionLostQ8:             report.FractionLost,
			ExtendedHighSequenceNumber: report.LastSequenceNumber,
			InterarrivalJitter:         report.Jitter,
		})
		c.updateRTTLocked(report)
	}
	if blocks != nil {
		c.reportBlocks = blocks
	}
}

// updateRTTLocked derives a round-trip time from the LSR/DLSR fields of one
// reception report, per RFC 3550 section 6.4.1. Caller holds c.mu.
func (c *Channel) updateRTTLocked(report rtcp.ReceptionReport) {
	if report.LastSenderReport == 0 || report.LastSenderReport != c.lastSRCompact {
		return
	}
	elapsedMs := c.clock.Since(c.lastSRSentAt).Milliseconds()
	delayMs := int64(report.Delay) * 1000 / 65536
	rtt := elapsedMs - delayMs
	if rtt < 1 {
		// Sub-millisecond or clock-skewed measurements still count as a
		// measurement; 0 is reserved for "never measured".
		rtt = 1
	}
	c.rttMs = rtt
	logrus.WithFields(logrus.Fields{
		"function": "updateRTTLocked",
		"ssrc":     c.ssrc,
		"rtt_ms":   rtt,
	}).Debug("Round-trip time updated")
}

// handleNackLocked retransmits the packets named by a transport-layer NACK
// that are still within the send history window. Caller holds c.mu.
func (c *Channel) handleNackLocked(nack *rtcp.TransportLayerNack) {
	if !c.nackEnabled || c.history == nil || c.transport == nil {
		return
	}
	var resent, missed int
	for _, pair := range nack.Nacks {
		for _, seq := range pair.PacketList() {
			raw, ok := c.history.get(seq)
			if !ok {
				missed++
				continue
			}
			if err := c.transport.SendRTP(raw); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "handleNackLocked",
					"ssrc":     c.ssrc,
					"sequence": seq,
					"error":    err,
				}).Warn("Failed to retransmit packet")
				continue
			}
			resent++
		}
	}
	logrus.WithFields(logrus.Fields{
		"function": "handleNackLocked",
		"ssrc":     c.ssrc,
		"resent":   resent,
		"missed":   missed,
	}).Debug("Processed NACK feedback")
}

// CallStats returns the channel's accumulated RTCP call statistics. RTTMs is
// 0 until the first valid measurement.
func (c *Channel) CallStats() audiostream.CallStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return audiostream.CallStats{
		BytesSent:   c.bytesSent,
		PacketsSent: c.packetsSent,
		RTTMs:       c.rttMs,
	}
}

// RemoteReportBlocks returns the reception report blocks from the most
// recent remote RTCP reports addressed to the local SSRC.
func (c *Channel) RemoteReportBlocks() []audiostream.ReportBlock {
	c.mu.Lock()
	defer c.mu.Unlock()
	blocks := make([]audiostream.ReportBlock, len(c.reportBlocks))
	copy(blocks, c.reportBlocks)
	return blocks
}

// toNTPTime converts a time to the 64-bit NTP timestamp format.
func toNTPTime(t time.Time) uint64 {
	seconds := uint64(t.Unix() + ntpEpochOffset)
	fraction := uint64(t.Nanosecond()) << 32 / uint64(time.Second)
	return seconds<<32 | fraction
}

// compactNTP extracts the middle 32 bits of an NTP timestamp, the form
// echoed back in reception reports as LSR.
func compactNTP(ntp uint64) uint32 {
	return uint32(ntp >> 16)
}
