package audiostream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodecDescriptorString(t *testing.T) {
	codec := CodecDescriptor{Name: "opus", PayloadType: 111, ClockRateHz: 48000, Channels: 2}
	assert.Equal(t, "opus/48000/2 (111)", codec.String())
}

func TestCodecDescriptorIsNamed(t *testing.T) {
	tests := []struct {
		name     string
		codec    string
		query    string
		expected bool
	}{
		{"exact match", "opus", "opus", true},
		{"case insensitive", "OPUS", "opus", true},
		{"mixed case", "Opus", "opus", true},
		{"different codec", "PCMU", "opus", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := CodecDescriptor{Name: tt.codec}
			assert.Equal(t, tt.expected, codec.IsNamed(tt.query))
		})
	}
}

func TestStreamConfigParticipatesInAllocation(t *testing.T) {
	tests := []struct {
		name     string
		min, max int
		expected bool
	}{
		{"both bounds set", 6000, 64000, true},
		{"both unset", BitrateUnset, BitrateUnset, false},
		{"only min set", 6000, BitrateUnset, false},
		{"only max set", BitrateUnset, 64000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := StreamConfig{MinBitrateBps: tt.min, MaxBitrateBps: tt.max}
			assert.Equal(t, tt.expected, config.participatesInAllocation())
		})
	}
}

func TestStreamConfigValidate(t *testing.T) {
	base := func() StreamConfig {
		return StreamConfig{
			Channel:       &mockSendChannel{},
			SendTransport: mockTransport{},
			MinBitrateBps: 6000,
			MaxBitrateBps: 64000,
		}
	}

	t.Run("valid", func(t *testing.T) {
		config := base()
		assert.NoError(t, config.validate())
	})

	t.Run("missing channel", func(t *testing.T) {
		config := base()
		config.Channel = nil
		assert.ErrorIs(t, config.validate(), ErrNilChannel)
	})

	t.Run("missing transport", func(t *testing.T) {
		config := base()
		config.SendTransport = nil
		assert.ErrorIs(t, config.validate(), ErrNilTransport)
	})

	t.Run("inverted bounds", func(t *testing.T) {
		config := base()
		config.MinBitrateBps = 96000
		assert.ErrorIs(t, config.validate(), ErrInvalidBitrateBounds)
	})

	t.Run("unset bounds skip the ordering check", func(t *testing.T) {
		config := base()
		config.MinBitrateBps = BitrateUnset
		config.MaxBitrateBps = BitrateUnset
		assert.NoError(t, config.validate())
	})
}

func TestStreamConfigString(t *testing.T) {
	config := StreamConfig{
		SSRC: 12345,
		Extensions: []RTPExtension{
			{URI: AbsSendTimeURI, ID: 3},
			{URI: AudioLevelURI, ID: 1},
		},
		NACK:          NACKConfig{HistoryMs: 600},
		CName:         "example-cname",
		MinBitrateBps: 6000,
		MaxBitrateBps: 64000,
		SendCodec: SendCodecSpec{
			Codec:          CodecDescriptor{Name: "opus", PayloadType: 111, ClockRateHz: 48000, Channels: 1},
			EnableFEC:      true,
			CNGPayloadType: 105,
			CNGClockRateHz: 16000,
		},
	}

	rendered := config.String()

	// Every configured field shows up in the diagnostic form.
	assert.Contains(t, rendered, "ssrc: 12345")
	assert.Contains(t, rendered, AbsSendTimeURI)
	assert.Contains(t, rendered, AudioLevelURI)
	assert.Contains(t, rendered, "id: 3")
	assert.Contains(t, rendered, "history_ms: 600")
	assert.Contains(t, rendered, "cname: example-cname")
	assert.Contains(t, rendered, "min_bitrate_bps: 6000")
	assert.Contains(t, rendered, "max_bitrate_bps: 64000")
	assert.Contains(t, rendered, "opus/48000/1 (111)")
	assert.Contains(t, rendered, "fec: true")
	assert.Contains(t, rendered, "cng_payload_type: 105")
}
