package audiostream

import (
	"fmt"
	"sync"
	"time"
)

// mockSendChannel records every configuration call in order so tests can
// assert on call sequencing, and fails selected operations on demand.
type mockSendChannel struct {
	mu    sync.Mutex
	calls []string

	currentCodec CodecDescriptor
	hasCodec     bool

	setCodecErr      error
	fecEnableErr     error
	fecDisableErr    error
	vadEnableErr     error
	vadDisableErr    error
	dtxErr           error
	maxPlaybackErr   error
	cnErr            error
	startErr         error
	stopErr          error
	transportErr     error
	extensionErr     error
	telephonePTErr   error
	telephoneSendErr error
	rtcpErr          error
	speechLevelErr   error

	bitrate     uint32
	muted       bool
	speechLevel int
	stats       CallStats
	blocks      []ReportBlock
}

var _ SendChannel = (*mockSendChannel)(nil)

func (m *mockSendChannel) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

// callLog returns a copy of the ordered call log.
func (m *mockSendChannel) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := make([]string, len(m.calls))
	copy(log, m.calls)
	return log
}

func (m *mockSendChannel) RegisterCongestionControl(Pacer, TransportFeedbackObserver, PacketRouter) {
	m.record("RegisterCongestionControl")
}

func (m *mockSendChannel) ResetCongestionControl() {
	m.record("ResetCongestionControl")
}

func (m *mockSendChannel) SetRTCPStatus(enabled bool) {
	m.record(fmt.Sprintf("SetRTCPStatus(%t)", enabled))
}

func (m *mockSendChannel) SetLocalSSRC(ssrc uint32) {
	m.record(fmt.Sprintf("SetLocalSSRC(%d)", ssrc))
}

func (m *mockSendChannel) SetRTCPCName(cname string) {
	m.record(fmt.Sprintf("SetRTCPCName(%s)", cname))
}

func (m *mockSendChannel) SetNACKStatus(enabled bool, maxPackets int) {
	m.record(fmt.Sprintf("SetNACKStatus(%t, %d)", enabled, maxPackets))
}

func (m *mockSendChannel) RegisterTransport(Transport) error {
	m.record("RegisterTransport")
	return m.transportErr
}

func (m *mockSendChannel) DeregisterTransport() {
	m.record("DeregisterTransport")
}

func (m *mockSendChannel) SetAbsoluteSendTimeStatus(enabled bool, id uint8) error {
	m.record(fmt.Sprintf("SetAbsoluteSendTimeStatus(%t, %d)", enabled, id))
	return m.extensionErr
}

func (m *mockSendChannel) SetAudioLevelIndicationStatus(enabled bool, id uint8) error {
	m.record(fmt.Sprintf("SetAudioLevelIndicationStatus(%t, %d)", enabled, id))
	return m.extensionErr
}

func (m *mockSendChannel) EnableTransportSequenceNumber(id uint8) error {
	m.record(fmt.Sprintf("EnableTransportSequenceNumber(%d)", id))
	return m.extensionErr
}

func (m *mockSendChannel) SendCodec() (CodecDescriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentCodec, m.hasCodec
}

func (m *mockSendChannel) SetSendCodec(codec CodecDescriptor) error {
	m.record(fmt.Sprintf("SetSendCodec(%s)", codec))
	if m.setCodecErr != nil {
		return m.setCodecErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentCodec = codec
	m.hasCodec = true
	return nil
}

func (m *mockSendChannel) SetVADStatus(enabled bool) error {
	m.record(fmt.Sprintf("SetVADStatus(%t)", enabled))
	if enabled {
		return m.vadEnableErr
	}
	return m.vadDisableErr
}

func (m *mockSendChannel) SetCodecFECStatus(enabled bool) error {
	m.record(fmt.Sprintf("SetCodecFECStatus(%t)", enabled))
	if enabled {
		return m.fecEnableErr
	}
	return m.fecDisableErr
}

func (m *mockSendChannel) SetOpusDTX(enabled bool) error {
	m.record(fmt.Sprintf("SetOpusDTX(%t)", enabled))
	return m.dtxErr
}

func (m *mockSendChannel) SetOpusMaxPlaybackRate(rateHz int) error {
	m.record(fmt.Sprintf("SetOpusMaxPlaybackRate(%d)", rateHz))
	return m.maxPlaybackErr
}

func (m *mockSendChannel) SetCNPayloadType(payloadType int, frequency CNFrequency) error {
	m.record(fmt.Sprintf("SetCNPayloadType(%d, %d)", payloadType, frequency))
	return m.cnErr
}

func (m *mockSendChannel) StartSend() error {
	m.record("StartSend")
	return m.startErr
}

func (m *mockSendChannel) StopSend() error {
	m.record("StopSend")
	return m.stopErr
}

func (m *mockSendChannel) SetBitrate(bitrateBps uint32) {
	m.record(fmt.Sprintf("SetBitrate(%d)", bitrateBps))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bitrate = bitrateBps
}

func (m *mockSendChannel) SetInputMute(muted bool) {
	m.record(fmt.Sprintf("SetInputMute(%t)", muted))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
}

func (m *mockSendChannel) SetTelephoneEventPayloadType(payloadType int) error {
	m.record(fmt.Sprintf("SetTelephoneEventPayloadType(%d)", payloadType))
	return m.telephonePTErr
}

func (m *mockSendChannel) SendTelephoneEventOutband(event int, duration time.Duration) error {
	m.record(fmt.Sprintf("SendTelephoneEventOutband(%d, %s)", event, duration))
	return m.telephoneSendErr
}

func (m *mockSendChannel) ReceivedRTCP([]byte) error {
	m.record("ReceivedRTCP")
	return m.rtcpErr
}

func (m *mockSendChannel) CallStats() CallStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *mockSendChannel) RemoteReportBlocks() []ReportBlock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocks
}

func (m *mockSendChannel) SpeechInputLevel() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speechLevel, m.speechLevelErr
}

// mockPacer, mockFeedback and mockRouter stub the congestion-control
// collaborators.
type mockPacer struct{}

func (mockPacer) InsertPacket(uint32, int) {}

type mockFeedback struct{}

func (mockFeedback) OnPacketSent(uint16, int) {}

type mockRouter struct{}

func (mockRouter) OnSendStreamRegistered(uint32)   {}
func (mockRouter) OnSendStreamDeregistered(uint32) {}

// mockCongestion supplies the stub congestion-control objects.
type mockCongestion struct{}

func (mockCongestion) Pacer() Pacer { return mockPacer{} }
func (mockCongestion) TransportFeedbackObserver() TransportFeedbackObserver {
	return mockFeedback{}
}
func (mockCongestion) PacketRouter() PacketRouter { return mockRouter{} }

// mockAllocator tracks observer registrations so tests can assert on
// add/remove pairing.
type mockAllocator struct {
	mu          sync.Mutex
	addCalls    int
	removeCalls int
	lastMin     uint32
	lastMax     uint32
	lastPadUp   uint32
	lastEnforce bool
	observer    BitrateObserver
}

func (m *mockAllocator) AddObserver(observer BitrateObserver, minBps, maxBps, padUpBps uint32, enforceMin bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addCalls++
	m.observer = observer
	m.lastMin = minBps
	m.lastMax = maxBps
	m.lastPadUp = padUpBps
	m.lastEnforce = enforceMin
}

func (m *mockAllocator) RemoveObserver(BitrateObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeCalls++
}

func (m *mockAllocator) counts() (added, removed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addCalls, m.removeCalls
}

// mockAudioState supplies configurable engine-wide audio state.
type mockAudioState struct {
	typing      bool
	echoEnabled bool
	delayMedian int
	delayStd    int
	returnLoss  int
	lossEnhance int
	delayErr    error
	echoErr     error
}

func (m *mockAudioState) TypingNoiseDetected() bool { return m.typing }
func (m *mockAudioState) EchoMetricsEnabled() bool  { return m.echoEnabled }

func (m *mockAudioState) EchoDelayMetrics() (int, int, error) {
	return m.delayMedian, m.delayStd, m.delayErr
}

func (m *mockAudioState) EchoMetrics() (int, int, error) {
	return m.returnLoss, m.lossEnhance, m.echoErr
}

// mockTransport is a no-op packet sink.
type mockTransport struct{}

func (mockTransport) SendRTP([]byte) error  { return nil }
func (mockTransport) SendRTCP([]byte) error { return nil }
