package audiostream

import (
	"github.com/sirupsen/logrus"
)

// opusCodecName matches the Opus codec by case-insensitive comparison.
const opusCodecName = "opus"

// Negotiation step identifiers, reported in NegotiationResult so callers and
// tests can observe partial failure without parsing log output.
const (
	stepDisableVAD             = "disable_vad"
	stepDisableFEC             = "disable_fec"
	stepSetSendCodec           = "set_send_codec"
	stepEnableFEC              = "enable_fec"
	stepSetOpusDTX             = "set_opus_dtx"
	stepSetOpusMaxPlaybackRate = "set_opus_max_playback_rate"
	stepSetCNPayloadType       = "set_cn_payload_type"
	stepEnableVAD              = "enable_vad"
)

// NegotiationResult captures the outcome of one codec negotiation run.
//
// Negotiation is best-effort under partial failure: tolerated sub-step
// failures leave the stream fully operational, while a fatal failure leaves
// it degraded (wrong codec, missing FEC/DTX) but still constructible and
// running. OK is false only when a fatal step failed.
type NegotiationResult struct {
	// OK reports whether negotiation completed without a fatal failure.
	OK bool

	// FatalStep names the step whose failure aborted negotiation, or is
	// empty when OK.
	FatalStep string

	// FatalErr is the error returned by the fatal step, or nil when OK.
	FatalErr error

	// Tolerated lists steps that failed but were deliberately not
	// escalated.
	Tolerated []string

	// CodecApplied reports whether a SetSendCodec call was issued. False
	// when the channel already carried a structurally identical codec.
	CodecApplied bool

	// VADEnabled reports whether voice-activity detection was turned on.
	VADEnabled bool
}

// negotiateSendCodec applies a declarative codec specification to the send
// channel through an ordered sequence of configuration calls.
//
// The order is load-bearing: the codec must be applied before FEC (FEC
// support depends on the active codec), before the Opus-specific calls (the
// active codec must be Opus), and before VAD (the mono/stereo check reads
// the active codec). Each sub-step may independently fail; see
// NegotiationResult for which failures abort the run.
func negotiateSendCodec(channel SendChannel, spec SendCodecSpec) NegotiationResult {
	result := NegotiationResult{OK: true}
	log := logrus.WithFields(logrus.Fields{
		"function": "negotiateSendCodec",
		"codec":    spec.Codec.String(),
	})

	// Start from a clean baseline: no VAD, no FEC, regardless of what a
	// previous negotiation left on the channel. Failures here are not
	// fatal to negotiation.
	if err := channel.SetVADStatus(false); err != nil {
		log.WithError(err).Warn("Failed to disable VAD on clean baseline")
		result.Tolerated = append(result.Tolerated, stepDisableVAD)
	}
	if err := channel.SetCodecFECStatus(false); err != nil {
		log.WithError(err).Warn("Failed to disable FEC on clean baseline")
		result.Tolerated = append(result.Tolerated, stepDisableFEC)
	}

	log.WithFields(logrus.Fields{
		"bitrate_bps": spec.Codec.BitrateBps,
	}).Info("Selected send codec")

	// Apply the codec unless the channel already carries a structurally
	// identical one. This is the single step whose failure always aborts
	// the whole negotiation.
	current, haveCurrent := channel.SendCodec()
	if !haveCurrent || current != spec.Codec {
		if err := channel.SetSendCodec(spec.Codec); err != nil {
			log.WithError(err).Error("Failed to apply send codec")
			return fatal(result, stepSetSendCodec, err)
		}
		result.CodecApplied = true
	}

	// FEC must be enabled after the codec is set. If codec-internal FEC
	// was requested it must be supported; treat failure as fatal.
	if spec.EnableFEC {
		log.Info("Enabling codec internal FEC")
		if err := channel.SetCodecFECStatus(true); err != nil {
			log.WithError(err).Error("Failed to enable codec internal FEC")
			return fatal(result, stepEnableFEC, err)
		}
	}

	if spec.Codec.IsNamed(opusCodecName) {
		// DTX and the playback-rate cap assume the active codec is Opus,
		// so they follow the codec application.
		log.WithFields(logrus.Fields{
			"opus_dtx": spec.EnableOpusDTX,
		}).Info("Applying Opus DTX setting")
		if err := channel.SetOpusDTX(spec.EnableOpusDTX); err != nil {
			log.WithError(err).Error("Failed to apply Opus DTX")
			return fatal(result, stepSetOpusDTX, err)
		}

		// Values <= 0 keep the codec's default maximum playback rate.
		if spec.OpusMaxPlaybackRateHz > 0 {
			log.WithFields(logrus.Fields{
				"max_playback_rate_hz": spec.OpusMaxPlaybackRateHz,
			}).Info("Setting Opus maximum playback rate")
			if err := channel.SetOpusMaxPlaybackRate(spec.OpusMaxPlaybackRateHz); err != nil {
				log.WithError(err).Error("Failed to set Opus maximum playback rate")
				return fatal(result, stepSetOpusMaxPlaybackRate, err)
			}
		}
	}

	if spec.CNGPayloadType != -1 {
		// The CN payload type for the 8000 Hz clock rate is fixed by the
		// RTP A/V profile and needs no registration.
		if spec.CNGClockRateHz != 8000 {
			var frequency CNFrequency
			switch spec.CNGClockRateHz {
			case 16000:
				frequency = CNFrequency16000
			case 32000:
				frequency = CNFrequency32000
			default:
				log.WithFields(logrus.Fields{
					"cng_clock_rate_hz": spec.CNGClockRateHz,
				}).Error("Unsupported comfort noise clock rate")
				return fatal(result, stepSetCNPayloadType, ErrUnsupportedCNGRate)
			}
			if err := channel.SetCNPayloadType(spec.CNGPayloadType, frequency); err != nil {
				// Registering the CN payload type fails when the channel
				// is already sending, which happens when a remote
				// description is applied twice. Benign; keep going.
				log.WithError(err).WithFields(logrus.Fields{
					"cng_payload_type": spec.CNGPayloadType,
				}).Warn("Failed to register comfort noise payload type")
				result.Tolerated = append(result.Tolerated, stepSetCNPayloadType)
			}
		}

		// Only turn on VAD when the CN clock rate matches the codec and
		// the codec is mono; mixed-rate or stereo VAD is not supported.
		if spec.CNGClockRateHz == spec.Codec.ClockRateHz && spec.Codec.Channels == 1 {
			log.Info("Enabling VAD")
			if err := channel.SetVADStatus(true); err != nil {
				log.WithError(err).Error("Failed to enable VAD")
				return fatal(result, stepEnableVAD, err)
			}
			result.VADEnabled = true
		}
	}

	return result
}

// fatal marks a negotiation result as aborted at the named step.
func fatal(result NegotiationResult, step string, err error) NegotiationResult {
	result.OK = false
	result.FatalStep = step
	result.FatalErr = err
	return result
}
