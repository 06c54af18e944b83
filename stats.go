package audiostream

import (
	"github.com/sirupsen/logrus"
)

// Echo metric sentinels. Delay metrics have 4 ms resolution, so -1 never
// occurs as a genuine measurement; return loss values can be legitimately
// negative, so their sentinel is the lowest possible level instead.
const (
	echoDelayUnavailable = -1
	echoLevelUnavailable = -100
)

// StreamStats is a point-in-time snapshot of the stream's transmission
// state. It carries no identity and is rebuilt from collaborators on every
// GetStats call.
//
// Optional fields pair a value with a Has flag rather than overloading
// zero: a round-trip time of 0 means "no RTCP report received yet", never a
// measured zero.
type StreamStats struct {
	LocalSSRC   uint32
	BytesSent   uint64
	PacketsSent uint64

	// RTTMs is valid only when HasRTT is true.
	RTTMs  int64
	HasRTT bool

	CodecName string

	// Remote-report fields are valid only when HasRemoteReport is true,
	// which requires a remote report block whose source SSRC matches
	// LocalSSRC.
	PacketsLost     uint32
	FractionLost    float32
	ExtSeqNum       uint32
	HasRemoteReport bool

	// JitterMs is valid only when HasJitter is true; it additionally
	// requires a known, non-zero codec clock rate for the sample-to-
	// millisecond conversion.
	JitterMs  uint32
	HasJitter bool

	// AudioLevel is the instantaneous full-range speech input level.
	AudioLevel int

	// AECQualityMin is a legacy echo-canceller quality metric with no
	// reliable implementation; always the -1 sentinel.
	AECQualityMin int

	// Echo metrics; each field is individually optional and holds its
	// sentinel when collection is disabled or data is insufficient.
	EchoDelayMedianMs         int
	EchoDelayStdMs            int
	EchoReturnLoss            int
	EchoReturnLossEnhancement int

	// TypingNoiseDetected mirrors engine-wide typing detection state.
	TypingNoiseDetected bool
}

// q8ToFloat converts an 8-bit fixed-point loss fraction to a float in
// [0, 1).
func q8ToFloat(v uint8) float32 {
	return float32(v) / 256.0
}

// GetStats composes a statistics snapshot from RTCP call statistics, codec
// introspection, the speech input level, echo-cancellation metrics, and
// engine-wide state. Synchronous, read-only, and callable only from the
// stream's owning goroutine.
func (s *AudioSendStream) GetStats() StreamStats {
	log := logrus.WithFields(logrus.Fields{
		"function": "GetStats",
		"ssrc":     s.config.SSRC,
	})

	stats := StreamStats{
		LocalSSRC:                 s.config.SSRC,
		AECQualityMin:             echoDelayUnavailable,
		EchoDelayMedianMs:         echoDelayUnavailable,
		EchoDelayStdMs:            echoDelayUnavailable,
		EchoReturnLoss:            echoLevelUnavailable,
		EchoReturnLossEnhancement: echoLevelUnavailable,
	}

	callStats := s.channel.CallStats()
	stats.BytesSent = callStats.BytesSent
	stats.PacketsSent = callStats.PacketsSent
	// The channel reports 0 until the first RTCP report arrives; surface
	// that as "absent" rather than a measured zero.
	if callStats.RTTMs > 0 {
		stats.RTTMs = callStats.RTTMs
		stats.HasRTT = true
	}

	if codec, ok := s.channel.SendCodec(); ok {
		stats.CodecName = codec.Name
		s.mergeRemoteReport(&stats, codec)
	}

	level, err := s.channel.SpeechInputLevel()
	if err != nil {
		// The channel exists, so this query is expected to always
		// succeed; a failure is an upstream bug, not a recoverable
		// condition.
		log.WithError(err).Error("Speech input level query failed")
	} else {
		stats.AudioLevel = level
	}

	s.mergeEchoMetrics(&stats)

	stats.TypingNoiseDetected = s.audioState.TypingNoiseDetected()

	return stats
}

// mergeRemoteReport scans the remote RTCP report blocks for the one whose
// source SSRC matches the local SSRC and folds its loss, sequence, and
// jitter figures into the snapshot.
func (s *AudioSendStream) mergeRemoteReport(stats *StreamStats, codec CodecDescriptor) {
	for _, block := range s.channel.RemoteReportBlocks() {
		if block.SourceSSRC != stats.LocalSSRC {
			continue
		}
		stats.PacketsLost = block.CumulativePacketsLost
		stats.FractionLost = q8ToFloat(block.FractionLostQ8)
		stats.ExtSeqNum = block.ExtendedHighSequenceNumber
		stats.HasRemoteReport = true

		// Jitter arrives in codec sample units; convert to milliseconds
		// only when the sample rate is known.
		if codec.ClockRateHz/1000 > 0 {
			stats.JitterMs = block.InterarrivalJitter / uint32(codec.ClockRateHz/1000)
			stats.HasJitter = true
		}
		break
	}
}

// mergeEchoMetrics folds echo-cancellation metrics into the snapshot when
// collection is enabled on the engine. Each metric keeps its sentinel when
// the underlying query fails.
func (s *AudioSendStream) mergeEchoMetrics(stats *StreamStats) {
	if !s.audioState.EchoMetricsEnabled() {
		return
	}

	log := logrus.WithFields(logrus.Fields{
		"function": "mergeEchoMetrics",
		"ssrc":     s.config.SSRC,
	})

	median, std, err := s.audioState.EchoDelayMetrics()
	if err != nil {
		log.WithError(err).Error("Echo delay metrics query failed")
	} else {
		stats.EchoDelayMedianMs = median
		stats.EchoDelayStdMs = std
	}

	erl, erle, err := s.audioState.EchoMetrics()
	if err != nil {
		log.WithError(err).Error("Echo metrics query failed")
	} else {
		stats.EchoReturnLoss = erl
		stats.EchoReturnLossEnhancement = erle
	}
}
