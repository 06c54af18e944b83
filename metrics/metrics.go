// Package metrics exports Prometheus metrics for outbound audio streams.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opd-ai/audiostream"
)

// Collector contains all Prometheus metrics for outbound audio streams,
// labeled by local SSRC.
type Collector struct {
	BytesSent    *prometheus.GaugeVec
	PacketsSent  *prometheus.GaugeVec
	RTT          *prometheus.GaugeVec
	PacketsLost  *prometheus.GaugeVec
	FractionLost *prometheus.GaugeVec
	Jitter       *prometheus.GaugeVec
	AudioLevel   *prometheus.GaugeVec
	TypingNoise  *prometheus.GaugeVec
}

// NewCollector creates and registers all stream metrics with the given
// registerer. A nil registerer selects the default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := []string{"ssrc"}
	factory := promauto.With(reg)
	return &Collector{
		BytesSent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "audio_send_bytes_total",
			Help: "Total RTP payload bytes sent",
		}, labels),
		PacketsSent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "audio_send_packets_total",
			Help: "Total RTP packets sent",
		}, labels),
		RTT: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "audio_send_rtt_milliseconds",
			Help: "Last measured round-trip time",
		}, labels),
		PacketsLost: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "audio_send_packets_lost_total",
			Help: "Cumulative packets lost reported by the remote receiver",
		}, labels),
		FractionLost: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "audio_send_fraction_lost",
			Help: "Short-term loss fraction reported by the remote receiver",
		}, labels),
		Jitter: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "audio_send_jitter_milliseconds",
			Help: "Interarrival jitter reported by the remote receiver",
		}, labels),
		AudioLevel: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "audio_send_input_level",
			Help: "Full-range speech input level (0..32767)",
		}, labels),
		TypingNoise: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "audio_send_typing_noise_detected",
			Help: "Whether typing noise is currently detected (0 or 1)",
		}, labels),
	}
}

// Update publishes one stats snapshot. Optional fields (RTT, remote report
// data, jitter) are only published once a genuine measurement exists, so
// absent data never reads as a zero measurement.
func (c *Collector) Update(stats audiostream.StreamStats) {
	ssrc := strconv.FormatUint(uint64(stats.LocalSSRC), 10)

	c.BytesSent.WithLabelValues(ssrc).Set(float64(stats.BytesSent))
	c.PacketsSent.WithLabelValues(ssrc).Set(float64(stats.PacketsSent))
	c.AudioLevel.WithLabelValues(ssrc).Set(float64(stats.AudioLevel))

	if stats.HasRTT {
		c.RTT.WithLabelValues(ssrc).Set(float64(stats.RTTMs))
	}
	if stats.HasRemoteReport {
		c.PacketsLost.WithLabelValues(ssrc).Set(float64(stats.PacketsLost))
		c.FractionLost.WithLabelValues(ssrc).Set(float64(stats.FractionLost))
	}
	if stats.HasJitter {
		c.Jitter.WithLabelValues(ssrc).Set(float64(stats.JitterMs))
	}
	if stats.TypingNoiseDetected {
		c.TypingNoise.WithLabelValues(ssrc).Set(1)
	} else {
		c.TypingNoise.WithLabelValues(ssrc).Set(0)
	}
}

// Remove drops all series for the given SSRC, for use when a stream is
// destroyed.
func (c *Collector) Remove(ssrc uint32) {
	label := strconv.FormatUint(uint64(ssrc), 10)
	for _, vec := range []*prometheus.GaugeVec{
		c.BytesSent, c.PacketsSent, c.RTT, c.PacketsLost,
		c.FractionLost, c.Jitter, c.AudioLevel, c.TypingNoise,
	} {
		vec.DeleteLabelValues(label)
	}
}
