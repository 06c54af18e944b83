// Package audiostream implements the control plane for a single outbound
// real-time audio stream over RTP/RTCP.
//
// The package owns codec negotiation, registration with a shared bitrate
// allocation subsystem, congestion-control wiring, and live transmission
// statistics for one send stream. The media engine that captures and encodes
// audio, the congestion controller, the bitrate allocator, and the network
// transport are collaborators reached through interfaces; this package never
// assumes exclusive ownership of any of them.
//
// # Getting Started
//
// Construct a stream from a fully-formed configuration, then drive its
// lifecycle from a single owning goroutine:
//
//	queue := worker.NewQueue("audio-worker")
//	defer queue.Close()
//
//	stream, err := audiostream.New(config, congestion, allocator, audioState, queue)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stream.Close()
//
//	stream.Start()
//	// ... stream transmits; allocator callbacks arrive on the worker queue
//	stats := stream.GetStats()
//	stream.Stop()
//
// # Core Types
//
//   - [AudioSendStream]: lifecycle controller for one outbound stream
//   - [StreamConfig]: immutable construction-time configuration
//   - [SendCodecSpec]: declarative codec parameters applied at construction
//   - [StreamStats]: point-in-time statistics snapshot
//   - [SendChannel]: contract with the media engine's send channel
//
// # Threading Model
//
// All control operations (Start, Stop, Close, GetStats, SetMuted,
// SendTelephoneEvent) must run on the stream's owning goroutine. DeliverRtcp
// is the one documented exception: RTCP packets typically arrive on a network
// goroutine and may be delivered from there. Start and Stop block on a
// rendezvous with the worker queue so that bitrate-allocator registration
// state is sequentially consistent with the method's return; the rendezvous
// deliberately has no timeout, the worker queue is assumed live for the
// stream's lifetime.
package audiostream
