package esb

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// --- Mocks ---

type mockPin struct {
	mu      sync.Mutex
	level   Level
	highs   int
	handler func()
}

func (m *mockPin) Out(l Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l == High && m.level == Low {
		m.highs++
	}
	m.level = l
	return nil
}

func (m *mockPin) In(Pull) error { return nil }

func (m *mockPin) Read() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *mockPin) Watch(_ Edge, handler func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
	return nil
}

func (m *mockPin) Unwatch() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = nil
	return nil
}

// fire simulates the IRQ line going low.
func (m *mockPin) fire() {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h()
	}
}

type rxSlot struct {
	pipe int
	data []byte
}

// mockSPIConn emulates the register file and FIFOs of an nRF24L01+.
// It also satisfies periph's spi.Conn so the same mock can stand in for a
// real bus connection.
type mockSPIConn struct {
	mu       sync.Mutex
	regs     [0x20][]byte
	flags    byte
	rpd      byte
	rxFIFO   []rxSlot
	payloads [][]byte
	flushes  int
	// broken makes every transfer fail, like a disconnected bus.
	broken    bool
	transfers int
}

func newMockSPIConn() *mockSPIConn {
	m := &mockSPIConn{}
	for i := range m.regs {
		m.regs[i] = []byte{0}
	}
	return m
}

func (m *mockSPIConn) status() byte {
	s := m.flags
	if len(m.rxFIFO) == 0 {
		s |= 7 << 1
	} else {
		s |= byte(m.rxFIFO[0].pipe) << 1
	}
	return s
}

func (m *mockSPIConn) Tx(w, r []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transfers++
	if m.broken {
		return errors.New("bus error")
	}

	// The driver uses the same buffer for w and r.
	in := append([]byte(nil), w...)
	out := make([]byte, len(in))
	out[0] = m.status()

	cmd := in[0]
	switch {
	case cmd < _W_REGISTER:
		switch cmd {
		case _STATUS:
			out[1] = m.status()
		case _RPD:
			out[1] = m.rpd
		default:
			copy(out[1:], m.regs[cmd])
		}
	case cmd < 0x40:
		reg := cmd &^ _W_REGISTER
		if reg == _STATUS {
			m.flags &^= in[1]
		} else {
			m.regs[reg] = in[1:]
		}
	case cmd == _W_TX_PAYLOAD:
		m.payloads = append(m.payloads, in[1:])
	case cmd == _R_RX_PAYLOAD:
		if len(m.rxFIFO) > 0 {
			copy(out[1:], m.rxFIFO[0].data)
			m.rxFIFO = m.rxFIFO[1:]
		}
	case cmd == _FLUSH_TX, cmd == _FLUSH_RX:
		m.flushes++
	}
	copy(r, out)
	return nil
}

func (m *mockSPIConn) fail() {
	m.mu.Lock()
	m.broken = true
	m.mu.Unlock()
}

func (m *mockSPIConn) transferCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transfers
}

func (m *mockSPIConn) reg(r byte) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.regs[r]...)
}

func (m *mockSPIConn) sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.payloads...)
}

// completeTX raises TX_DS as if the last payload left the antenna.
func (m *mockSPIConn) completeTX() {
	m.mu.Lock()
	m.flags |= _TX_DS
	m.mu.Unlock()
}

// receive queues a payload on pipe and raises RX_DR.
func (m *mockSPIConn) receive(pipe int, data []byte, strong bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body := make([]byte, NRF24FrameBody)
	copy(body, data)
	m.rxFIFO = append(m.rxFIFO, rxSlot{pipe: pipe, data: body})
	m.flags |= _RX_DR
	m.rpd = 0
	if strong {
		m.rpd = 1
	}
}

func (m *mockSPIConn) Duplex() conn.Duplex            { return conn.Full }
func (m *mockSPIConn) TxPackets(p []spi.Packet) error { return nil }
func (m *mockSPIConn) String() string                 { return "mockSPI" }
func (m *mockSPIConn) Close() error                   { return nil }
func (m *mockSPIConn) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	return m, nil
}
func (m *mockSPIConn) LimitSpeed(f physic.Frequency) error { return nil }

var (
	_ spi.Conn       = (*mockSPIConn)(nil)
	_ spi.PortCloser = (*mockSPIConn)(nil)
	_ Transceiver    = (*NRF24)(nil)
)

func newTestNRF24(t *testing.T) (*NRF24, *mockSPIConn, *mockPin, *mockPin) {
	t.Helper()
	chip := newMockSPIConn()
	ce, irq := &mockPin{}, &mockPin{level: High}
	dev, err := NewNRF24(chip, ce, irq)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })
	return dev, chip, ce, irq
}

func waitSignal(t *testing.T, dev *NRF24) Signal {
	t.Helper()
	select {
	case sig := <-dev.Signals():
		return sig
	case <-time.After(time.Second):
		require.FailNow(t, "no signal from transceiver")
		return Signal{}
	}
}

// --- Tests ---

func TestNewNRF24ConfiguresRawMode(t *testing.T) {
	_, chip, ce, _ := newTestNRF24(t)

	assert.Equal(t, []byte{0}, chip.reg(_EN_AA), "hardware auto ack must be off")
	assert.Equal(t, []byte{0}, chip.reg(_SETUP_RETR), "hardware retransmit must be off")
	assert.Equal(t, []byte{0}, chip.reg(_DYNPD))
	assert.Equal(t, []byte{_PWR_UP}, chip.reg(_CONFIG), "CRC must be off and the chip powered")
	for pipe := range NRF24Pipes {
		assert.Equal(t, []byte{NRF24FrameBody}, chip.reg(byte(_RX_PW_P0+pipe)), "pipe %d width", pipe)
	}
	assert.Equal(t, Low, ce.Read())
}

func TestNewNRF24RequiresPins(t *testing.T) {
	_, err := NewNRF24(newMockSPIConn(), nil, nil)
	require.ErrorIs(t, err, ErrNullArgument)
}

func TestNRF24Apply(t *testing.T) {
	dev, chip, _, _ := newTestNRF24(t)

	err := dev.Apply(RadioSettings{Channel: 76, Bitrate: Bitrate250Kbps, TxPower: TxPowerNeg12dBm, AddressLength: 4})
	require.NoError(t, err)
	assert.Equal(t, []byte{76}, chip.reg(_RF_CH))
	assert.Equal(t, []byte{2}, chip.reg(_SETUP_AW))
	assert.Equal(t, []byte{1<<5 | 1<<1}, chip.reg(_RF_SETUP))

	err = dev.Apply(RadioSettings{Channel: 76, AddressLength: 2})
	require.ErrorIs(t, err, ErrNotSupported)
	assert.Equal(t, []byte{2}, chip.reg(_SETUP_AW), "rejected settings must not reach the chip")
}

func TestRFSetup(t *testing.T) {
	tests := []struct {
		bitrate Bitrate
		power   TxPower
		want    byte
	}{
		{Bitrate2Mbps, TxPowerPos4dBm, 1<<3 | 3<<1},
		{Bitrate1Mbps, TxPower0dBm, 3 << 1},
		{Bitrate1MbpsBLE, TxPowerNeg4dBm, 2 << 1},
		{Bitrate250Kbps, TxPowerNeg8dBm, 1<<5 | 2<<1},
		{Bitrate2Mbps, TxPowerNeg12dBm, 1<<3 | 1<<1},
		{Bitrate1Mbps, TxPowerNeg30dBm, 0},
	}
	for _, tt := range tests {
		t.Run(tt.bitrate.String()+"/"+tt.power.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, rfSetup(tt.bitrate, tt.power))
		})
	}
}

func TestNRF24TransmitSplitsAddress(t *testing.T) {
	dev, chip, ce, _ := newTestNRF24(t)
	require.NoError(t, dev.Apply(RadioSettings{Channel: 2, AddressLength: 5}))

	addr := []byte{0xE7, 0xD7, 0xD7, 0xD7, 0xD7}
	body := []byte{0x11, 0x22, 0x33}
	require.NoError(t, dev.Transmit(append(append([]byte(nil), addr...), body...)))

	assert.Equal(t, addr, chip.reg(_TX_ADDR_REG))
	sent := chip.sent()
	require.Len(t, sent, 1)
	require.Len(t, sent[0], NRF24FrameBody)
	assert.True(t, bytes.HasPrefix(sent[0], body))
	assert.Equal(t, make([]byte, NRF24FrameBody-len(body)), sent[0][len(body):], "payload is zero padded")
	assert.Equal(t, 1, ce.highs, "CE is pulsed once")
	assert.Equal(t, Low, ce.Read())

	err := dev.Transmit(make([]byte, 5+NRF24FrameBody+1))
	require.ErrorIs(t, err, ErrInvalidLength)
}

func TestNRF24TransmitBeforeApply(t *testing.T) {
	dev, _, _, _ := newTestNRF24(t)
	require.ErrorIs(t, dev.Transmit([]byte{1, 2, 3, 4, 5, 6}), ErrInvalidState)
}

func TestNRF24SignalsSent(t *testing.T) {
	dev, chip, _, irq := newTestNRF24(t)
	require.NoError(t, dev.Apply(RadioSettings{Channel: 2, AddressLength: 3}))
	require.NoError(t, dev.Transmit([]byte{1, 2, 3, 4}))

	chip.completeTX()
	irq.fire()

	sig := waitSignal(t, dev)
	assert.Equal(t, SignalSent, sig.Kind)
}

func TestNRF24SignalsReceived(t *testing.T) {
	dev, chip, ce, irq := newTestNRF24(t)
	require.NoError(t, dev.Apply(RadioSettings{Channel: 2, AddressLength: 3}))

	addrs := [][]byte{nil, {0x42, 0xC2, 0xC2}, {0x43, 0xC2, 0xC2}}
	require.NoError(t, dev.Listen(addrs))
	assert.Equal(t, []byte{0x42, 0xC2, 0xC2}, chip.reg(_RX_ADDR_P0+1))
	assert.Equal(t, []byte{0x43}, chip.reg(_RX_ADDR_P0+2), "pipes above 1 only take their first byte")
	assert.Equal(t, []byte{0b110}, chip.reg(_EN_RXADDR))
	assert.Equal(t, []byte{_PWR_UP | _PRIM_RX}, chip.reg(_CONFIG))
	assert.Equal(t, High, ce.Read())

	chip.receive(2, []byte{9, 8, 7}, true)
	irq.fire()

	sig := waitSignal(t, dev)
	assert.Equal(t, SignalReceived, sig.Kind)
	assert.Equal(t, 2, sig.Pipe)
	assert.Equal(t, int8(nrf24StrongRSSI), sig.RSSI)
	require.Len(t, sig.Frame, 3+NRF24FrameBody)
	assert.Equal(t, []byte{0x43, 0xC2, 0xC2, 9, 8, 7}, sig.Frame[:6])
}

func TestNRF24ListenLimits(t *testing.T) {
	dev, _, _, _ := newTestNRF24(t)

	addrs := make([][]byte, 7)
	addrs[6] = []byte{1, 2, 3}
	require.ErrorIs(t, dev.Listen(addrs), ErrNotSupported)

	addrs = [][]byte{nil, {1, 2, 3}, {4, 9, 9}}
	require.ErrorIs(t, dev.Listen(addrs), ErrNotSupported)
}

func TestNRF24Disable(t *testing.T) {
	dev, chip, ce, _ := newTestNRF24(t)
	require.NoError(t, dev.Apply(RadioSettings{Channel: 2, AddressLength: 3}))
	require.NoError(t, dev.Listen([][]byte{{1, 2, 3}}))

	before := chip.flushes
	require.NoError(t, dev.Disable())
	assert.Equal(t, Low, ce.Read())
	assert.Equal(t, []byte{_PWR_UP}, chip.reg(_CONFIG))
	assert.Equal(t, before+2, chip.flushes)
}

func TestNRF24ListenHighPipeAlone(t *testing.T) {
	dev, chip, _, _ := newTestNRF24(t)
	require.NoError(t, dev.Apply(RadioSettings{Channel: 2, AddressLength: 3}))

	addrs := make([][]byte, 4)
	addrs[3] = []byte{0xC4, 0x10, 0x20}
	require.NoError(t, dev.Listen(addrs))

	assert.Equal(t, []byte{0xC4, 0x10, 0x20}, chip.reg(_RX_ADDR_P0+1), "pipe 1 carries the shared base")
	assert.Equal(t, []byte{0xC4}, chip.reg(_RX_ADDR_P0+3))
	assert.Equal(t, []byte{0b1000}, chip.reg(_EN_RXADDR))
}

func TestNRF24SurvivesSPIErrors(t *testing.T) {
	dev, chip, _, irq := newTestNRF24(t)
	require.NoError(t, dev.Apply(RadioSettings{Channel: 2, AddressLength: 3}))
	require.NoError(t, dev.Listen([][]byte{{0xE7, 0xE7, 0xE7}}))

	chip.receive(0, []byte{1, 2, 3}, false)
	chip.fail()
	before := chip.transferCount()
	irq.fire()
	require.Eventually(t, func() bool { return chip.transferCount() > before }, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- dev.Transmit([]byte{1, 2, 3, 4}) }()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		require.FailNow(t, "transceiver stuck after a bus error")
	}
	assert.Less(t, chip.transferCount()-before, 20, "service gave up on the failing bus")
}

func TestNRF24DrainsAtMostFIFODepth(t *testing.T) {
	dev, chip, _, irq := newTestNRF24(t)
	require.NoError(t, dev.Apply(RadioSettings{Channel: 2, AddressLength: 3}))
	require.NoError(t, dev.Listen([][]byte{{0xE7, 0xE7, 0xE7}}))

	for i := range nrf24RxFIFODepth + 1 {
		chip.receive(0, []byte{byte(i)}, false)
	}
	irq.fire()
	for i := range nrf24RxFIFODepth {
		sig := waitSignal(t, dev)
		assert.Equal(t, byte(i), sig.Frame[3])
	}
	select {
	case sig := <-dev.Signals():
		t.Fatalf("unexpected signal %v in the same service pass", sig.Kind)
	case <-time.After(20 * time.Millisecond):
	}

	irq.fire()
	assert.Equal(t, byte(nrf24RxFIFODepth), waitSignal(t, dev).Frame[3])
}

func TestNRF24ConfigDefaults(t *testing.T) {
	c := NRF24Config{IRQPin: 24}.withDefaults()
	assert.Equal(t, NRF24Config{CEPin: 25, IRQPin: 24, SpiBusPath: "/dev/spidev0.0", SpiClockHz: 1_000_000}, c)

	custom := NRF24Config{CEPin: 22, SpiBusPath: "/dev/spidev1.0", SpiClockHz: 8_000_000}
	assert.Equal(t, custom, custom.withDefaults())
}
