package audiostream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiostream/worker"
)

// Lifecycle states of an AudioSendStream.
const (
	StateCreated   = "created"
	StateStarted   = "started"
	StateStopped   = "stopped"
	StateDestroyed = "destroyed"
)

// Lifecycle events driving the state machine.
const (
	eventStart   = "start"
	eventStop    = "stop"
	eventDestroy = "destroy"
)

// NetworkState describes overall network availability as signaled by the
// surrounding engine.
type NetworkState int

const (
	// NetworkUp indicates the network is available.
	NetworkUp NetworkState = iota
	// NetworkDown indicates the network is unavailable.
	NetworkDown
)

// AudioSendStream manages one outbound RTP audio stream: it wires the send
// channel to congestion control, negotiates the send codec, registers with
// the bitrate allocator while started, and aggregates live statistics.
//
// All methods except DeliverRtcp must be called from the stream's owning
// goroutine. The stream transitions created → started ⇄ stopped → destroyed;
// Close tears down transport and congestion-control wiring unconditionally,
// regardless of the current start/stop state.
type AudioSendStream struct {
	config     StreamConfig
	channel    SendChannel
	allocator  BitrateAllocator
	audioState AudioState
	queue      *worker.Queue

	lifecycle *fsm.FSM

	// negotiation is the outcome of the single codec negotiation run
	// performed at construction.
	negotiation NegotiationResult

	// mu guards registered. The flag pairs every allocator registration
	// with exactly one deregistration, including on Close without Stop.
	mu         sync.Mutex
	registered bool
}

// New constructs a stream from a fully-formed configuration.
//
// Construction wires the channel to the congestion controller, enables
// RTCP, applies SSRC/CNAME/NACK/transport/extension configuration, and runs
// codec negotiation. A failed negotiation leaves the stream constructed but
// degraded: it exists and can be started, but audio will not flow correctly
// until a new stream is built with a workable codec spec.
//
// Parameters:
//   - config: immutable stream configuration (validated here)
//   - congestion: supplies the pacer, feedback observer, and packet router
//   - allocator: shared bitrate allocation scheduler; may be nil only when
//     the configuration opts out of allocation
//   - audioState: engine-wide shared state consulted by GetStats
//   - queue: the worker execution context for allocator registration
//
// Returns:
//   - *AudioSendStream: the constructed stream
//   - error: a contract violation in the supplied configuration
func New(config StreamConfig, congestion CongestionController, allocator BitrateAllocator,
	audioState AudioState, queue *worker.Queue) (*AudioSendStream, error) {
	log := logrus.WithFields(logrus.Fields{
		"function": "New",
		"ssrc":     config.SSRC,
	})
	log.WithFields(logrus.Fields{
		"config": config.String(),
	}).Info("Creating audio send stream")

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid stream config: %w", err)
	}
	if congestion == nil {
		return nil, ErrNilCongestionController
	}
	if audioState == nil {
		return nil, ErrNilAudioState
	}
	if queue == nil {
		return nil, ErrNilWorkerQueue
	}
	if allocator == nil && config.participatesInAllocation() {
		return nil, ErrNilAllocator
	}

	s := &AudioSendStream{
		config:     config,
		channel:    config.Channel,
		allocator:  allocator,
		audioState: audioState,
		queue:      queue,
		lifecycle:  newLifecycle(config.SSRC),
	}

	s.channel.RegisterCongestionControl(
		congestion.Pacer(),
		congestion.TransportFeedbackObserver(),
		congestion.PacketRouter(),
	)
	s.channel.SetRTCPStatus(true)
	s.channel.SetLocalSSRC(config.SSRC)
	s.channel.SetRTCPCName(config.CName)

	// The history window is configured in milliseconds but the channel
	// tracks a packet count. Assume 20 ms per packet; this is a known
	// approximation that ignores the negotiated codec's real frame size.
	s.channel.SetNACKStatus(config.NACK.HistoryMs != 0,
		config.NACK.HistoryMs/nackPacketTimeMs)

	if err := s.channel.RegisterTransport(config.SendTransport); err != nil {
		log.WithError(err).Error("Failed to register send transport")
	}

	s.applyExtensions(config.Extensions)

	s.negotiation = negotiateSendCodec(s.channel, config.SendCodec)
	if !s.negotiation.OK {
		log.WithFields(logrus.Fields{
			"fatal_step": s.negotiation.FatalStep,
		}).Error("Failed to set up send codec state")
	}

	return s, nil
}

// newLifecycle builds the created → started ⇄ stopped → destroyed machine.
func newLifecycle(ssrc uint32) *fsm.FSM {
	return fsm.NewFSM(
		StateCreated,
		fsm.Events{
			{Name: eventStart, Src: []string{StateCreated, StateStopped}, Dst: StateStarted},
			{Name: eventStop, Src: []string{StateStarted, StateCreated}, Dst: StateStopped},
			{Name: eventDestroy, Src: []string{StateCreated, StateStarted, StateStopped}, Dst: StateDestroyed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logrus.WithFields(logrus.Fields{
					"function": "lifecycle",
					"ssrc":     ssrc,
					"from":     e.Src,
					"to":       e.Dst,
				}).Debug("Stream lifecycle transition")
			},
		},
	)
}

// applyExtensions registers each recognized RTP header extension with the
// channel. An unrecognized URI is a programming-contract violation: it is
// reported loudly and skipped rather than aborting construction.
func (s *AudioSendStream) applyExtensions(extensions []RTPExtension) {
	for _, ext := range extensions {
		var err error
		switch ext.URI {
		case AbsSendTimeURI:
			err = s.channel.SetAbsoluteSendTimeStatus(true, ext.ID)
		case AudioLevelURI:
			err = s.channel.SetAudioLevelIndicationStatus(true, ext.ID)
		case TransportSequenceNumberURI:
			err = s.channel.EnableTransportSequenceNumber(ext.ID)
		default:
			logrus.WithFields(logrus.Fields{
				"function": "applyExtensions",
				"ssrc":     s.config.SSRC,
				"uri":      ext.URI,
			}).Error("Registering unsupported RTP extension")
			continue
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "applyExtensions",
				"ssrc":     s.config.SSRC,
				"uri":      ext.URI,
				"id":       ext.ID,
			}).WithError(err).Warn("Failed to enable RTP extension")
		}
	}
}

// Start registers the stream with the bitrate allocator (when bitrate
// bounds are configured) and begins transmission.
//
// The allocator registration runs on the worker queue; Start blocks until
// it completes, so by the time Start returns the observer is active and no
// bitrate update can be missed. A transmit-start failure is logged but not
// escalated.
func (s *AudioSendStream) Start() {
	log := logrus.WithFields(logrus.Fields{
		"function": "Start",
		"ssrc":     s.config.SSRC,
	})

	if s.lifecycle.Is(StateDestroyed) {
		log.Error("Start called on destroyed stream")
		return
	}

	if s.config.participatesInAllocation() {
		minBps := uint32(s.config.MinBitrateBps)
		maxBps := uint32(s.config.MaxBitrateBps)
		s.queue.PostAndWait(func() {
			s.allocator.AddObserver(s, minBps, maxBps, 0, true)
		})
		s.mu.Lock()
		s.registered = true
		s.mu.Unlock()

		log.WithFields(logrus.Fields{
			"min_bitrate_bps": minBps,
			"max_bitrate_bps": maxBps,
		}).Debug("Registered with bitrate allocator")
	}

	if err := s.channel.StartSend(); err != nil {
		log.WithError(err).Error("Failed to start transmission")
	}

	if err := s.lifecycle.Event(context.Background(), eventStart); err != nil {
		log.WithError(err).Debug("Lifecycle start transition rejected")
	}
}

// Stop deregisters the stream from the bitrate allocator and halts
// transmission. Stop is always safe to call, even after a failed Start or
// before any Start at all; failures are logged, never escalated.
func (s *AudioSendStream) Stop() {
	log := logrus.WithFields(logrus.Fields{
		"function": "Stop",
		"ssrc":     s.config.SSRC,
	})

	if s.lifecycle.Is(StateDestroyed) {
		log.Error("Stop called on destroyed stream")
		return
	}

	s.deregisterFromAllocator()

	if err := s.channel.StopSend(); err != nil {
		log.WithError(err).Error("Failed to stop transmission")
	}

	if err := s.lifecycle.Event(context.Background(), eventStop); err != nil {
		log.WithError(err).Debug("Lifecycle stop transition rejected")
	}
}

// Close tears the stream down: it deregisters from the bitrate allocator if
// still registered, detaches the external transport, and resets the
// congestion-control wiring. Safe to call regardless of start/stop state
// and idempotent, but must not run concurrently with any other operation on
// the stream.
func (s *AudioSendStream) Close() {
	if s.lifecycle.Is(StateDestroyed) {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Close",
		"ssrc":     s.config.SSRC,
		"config":   s.config.String(),
	}).Info("Destroying audio send stream")

	// Registration must be paired even when Stop was never called.
	s.deregisterFromAllocator()

	s.channel.DeregisterTransport()
	s.channel.ResetCongestionControl()

	if err := s.lifecycle.Event(context.Background(), eventDestroy); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"ssrc":     s.config.SSRC,
		}).WithError(err).Debug("Lifecycle destroy transition rejected")
	}
}

// deregisterFromAllocator removes the stream's observer registration
// exactly once, using the same blocking rendezvous as registration.
func (s *AudioSendStream) deregisterFromAllocator() {
	s.mu.Lock()
	wasRegistered := s.registered
	s.registered = false
	s.mu.Unlock()

	if !wasRegistered {
		return
	}

	s.queue.PostAndWait(func() {
		s.allocator.RemoveObserver(s)
	})

	logrus.WithFields(logrus.Fields{
		"function": "deregisterFromAllocator",
		"ssrc":     s.config.SSRC,
	}).Debug("Deregistered from bitrate allocator")
}

// OnBitrateUpdated receives the stream's bandwidth share from the bitrate
// allocator, clamps it to the configured maximum, and forwards it to the
// channel's bitrate control.
//
// The allocator may over-allocate beyond the configured maximum to leave
// headroom for other uses; the excess is silently discarded. The returned
// protection bitrate is always 0: the encoder path does not expose a
// separate protection figure to this layer.
func (s *AudioSendStream) OnBitrateUpdated(bitrateBps uint32, fractionLost uint8, rttMs int64) uint32 {
	if int(bitrateBps) < s.config.MinBitrateBps {
		// Only a misbehaving allocator delivers less than the enforced
		// minimum; report it as the contract violation it is.
		logrus.WithFields(logrus.Fields{
			"function":        "OnBitrateUpdated",
			"ssrc":            s.config.SSRC,
			"bitrate_bps":     bitrateBps,
			"min_bitrate_bps": s.config.MinBitrateBps,
		}).Error("Allocator delivered bitrate below configured minimum")
	}

	maxBps := uint32(s.config.MaxBitrateBps)
	if bitrateBps > maxBps {
		bitrateBps = maxBps
	}

	s.channel.SetBitrate(bitrateBps)
	return 0
}

// SetMuted mutes or unmutes the stream's capture input.
func (s *AudioSendStream) SetMuted(muted bool) {
	s.channel.SetInputMute(muted)
}

// SendTelephoneEvent transmits an outband telephone event (RFC 4733). It
// registers the event payload type, then sends the event; either call
// failing fails the operation.
func (s *AudioSendStream) SendTelephoneEvent(payloadType, event int, duration time.Duration) error {
	if err := s.channel.SetTelephoneEventPayloadType(payloadType); err != nil {
		return fmt.Errorf("%w: %w", ErrTelephoneEventPayloadType, err)
	}
	if err := s.channel.SendTelephoneEventOutband(event, duration); err != nil {
		return fmt.Errorf("%w: %w", ErrTelephoneEventSend, err)
	}
	return nil
}

// DeliverRtcp forwards a raw inbound RTCP packet to the send channel and
// reports whether it was accepted. Unlike every other method, DeliverRtcp
// may be invoked from a goroutine other than the stream's owner: RTCP
// packets typically arrive on a network-handling goroutine.
func (s *AudioSendStream) DeliverRtcp(packet []byte) bool {
	if err := s.channel.ReceivedRTCP(packet); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "DeliverRtcp",
			"ssrc":        s.config.SSRC,
			"packet_size": len(packet),
		}).WithError(err).Warn("RTCP packet rejected by channel")
		return false
	}
	return true
}

// SignalNetworkState notifies the stream of overall network availability.
// The send path currently has nothing to adjust; the hook exists so the
// surrounding engine can treat all streams uniformly.
func (s *AudioSendStream) SignalNetworkState(state NetworkState) {
	logrus.WithFields(logrus.Fields{
		"function": "SignalNetworkState",
		"ssrc":     s.config.SSRC,
		"state":    state,
	}).Debug("Network state signaled")
}

// Config returns a copy of the stream's configuration.
func (s *AudioSendStream) Config() StreamConfig {
	return s.config
}

// State returns the stream's current lifecycle state.
func (s *AudioSendStream) State() string {
	return s.lifecycle.Current()
}

// Negotiation returns the outcome of the construction-time codec
// negotiation, letting callers observe degraded operation without parsing
// log output.
func (s *AudioSendStream) Negotiation() NegotiationResult {
	return s.negotiation
}
