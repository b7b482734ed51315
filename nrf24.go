package esb

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/michcald/esb/internal/syncutil"
)

// --- NRF24L01 Registers/Commands/Bits ---

// NRF24 Register Addresses
const (
	_CONFIG      = 0x00
	_EN_AA       = 0x01 // Auto Ack
	_EN_RXADDR   = 0x02
	_SETUP_AW    = 0x03
	_SETUP_RETR  = 0x04
	_RF_CH       = 0x05
	_RF_SETUP    = 0x06
	_STATUS      = 0x07
	_RPD         = 0x09
	_RX_ADDR_P0  = 0x0A // P1 = 0x0B ... P5 = 0x0F
	_TX_ADDR_REG = 0x10
	_RX_PW_P0    = 0x11 // Receive Payload Width for Data Pipe 0 (P5 = 0x16)
	_DYNPD       = 0x1C // Dynamic Payload Register
	_FEATURE     = 0x1D // Feature Register

	_W_REGISTER   = 0x20
	_R_RX_PAYLOAD = 0x61
	_W_TX_PAYLOAD = 0xA0
	_FLUSH_TX     = 0xE1
	_FLUSH_RX     = 0xE2
	_NOP          = 0xFF
)

// NRF24 Register Bit Definitions
const (
	_PWR_UP  = 1 << 1
	_PRIM_RX = 1 << 0
	_RX_DR   = 1 << 6
	_TX_DS   = 1 << 5
	_MAX_RT  = 1 << 4
)

const (
	// NRF24Pipes is the number of pipes the chip can listen on.
	NRF24Pipes = 6
	// NRF24FrameBody is the largest part of a frame after the address
	// that fits the chip's 32 byte payload register.
	NRF24FrameBody = 32

	nrf24PollInterval = time.Millisecond
	// The chip holds at most three received payloads.
	nrf24RxFIFODepth = 3
	// RPD trips above -64 dBm.
	nrf24StrongRSSI = -60
	nrf24WeakRSSI   = -80
)

// NRF24 drives an nRF24L01+ as a raw ESB transceiver. The chip's own
// Enhanced ShockBurst engine is switched off (no auto-ack, no retransmit,
// no CRC, static 32 byte payloads): the chip only moves bytes, while
// framing, acknowledgment and retransmission are done by Engine.
//
// Frames are split at the address. The address is written to TX_ADDR and
// the rest of the frame, padded to 32 bytes, is sent as the payload. A
// received payload is prefixed with the matching pipe's address, so the
// frame handed to Engine has the same layout as the one sent.
type NRF24 struct {
	conn SPI
	ce   Pin
	irq  Pin
	port io.Closer

	mu        syncutil.Mutex
	scratch   [NRF24FrameBody + 1]byte // Max payload (32) + 1 status byte
	settings  RadioSettings
	listen    [][]byte
	listening bool

	signals chan Signal
	irqChan chan struct{}
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewNRF24 configures the chip behind conn and starts the goroutine that
// turns its interrupts into Signals. irq is optional; without it the
// STATUS register is polled every millisecond.
func NewNRF24(conn SPI, ce, irq Pin) (*NRF24, error) {
	if conn == nil || ce == nil {
		return nil, opError("nrf24", ErrNullArgument)
	}

	d := &NRF24{
		conn:    conn,
		ce:      ce,
		irq:     irq,
		signals: make(chan Signal, 16),
		irqChan: make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}

	globalLogger.Info("Initializing NRF24L01 SPI communication...")

	if err := ce.Out(Low); err != nil {
		return nil, fmt.Errorf("failed to drive CE pin: %w", err)
	}

	// Ensure CE is Low (Standby-I) during configuration
	d.writeRegister(_CONFIG, 0)
	d.clearStatus()
	d.flushTX()
	d.flushRX()

	// Raw mode: CRC off, no hardware acknowledgments or retransmissions,
	// fixed 32 byte payloads on every pipe.
	d.writeRegister(_EN_AA, 0)
	d.writeRegister(_SETUP_RETR, 0)
	d.writeRegister(_FEATURE, 0)
	d.writeRegister(_DYNPD, 0)
	d.writeRegister(_EN_RXADDR, 0)
	for pipe := range NRF24Pipes {
		d.writeRegister(byte(_RX_PW_P0+pipe), NRF24FrameBody)
	}
	d.writeRegister(_CONFIG, _PWR_UP)
	time.Sleep(2 * time.Millisecond) // Wait for oscillator stabilization

	// Verify Connection
	if d.readRegister(_CONFIG) != _PWR_UP {
		return nil, fmt.Errorf("failed to verify NRF24L01 connection: check wiring/power")
	}

	if irq != nil {
		if err := irq.In(PullUp); err != nil {
			return nil, fmt.Errorf("failed to configure IRQ pin: %w", err)
		}
		// Watch starts a goroutine that calls the handler on edge
		err := irq.Watch(FallingEdge, func() {
			select {
			case d.irqChan <- struct{}{}:
			default:
				// Channel full
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to watch IRQ pin: %w", err)
		}
	}

	d.wg.Add(1)
	go d.serve()

	globalLogger.Info("NRF24L01 initialized in raw mode.")
	return d, nil
}

func (d *NRF24) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return fmt.Sprintf("NRF24L01(Channel=%d, Bitrate=%s, TxPower=%s, AddressLength=%d, Listening=%v)",
		d.settings.Channel, d.settings.Bitrate, d.settings.TxPower, d.settings.AddressLength, d.listening)
}

// Apply programs channel, data rate, power level and address width.
// The chip supports address lengths 3 to 5 only.
// This method is concurrent safe.
func (d *NRF24) Apply(s RadioSettings) error {
	if s.AddressLength < 3 || s.AddressLength > 5 {
		return opError("nrf24 apply", fmt.Errorf("%w: address length %d", ErrNotSupported, s.AddressLength))
	}
	if s.Channel > MaxChannel {
		return opError("nrf24 apply", fmt.Errorf("%w: channel %d", ErrInvalidParam, s.Channel))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.writeRegister(_RF_CH, s.Channel)
	d.writeRegister(_SETUP_AW, byte(s.AddressLength-2))
	d.writeRegister(_RF_SETUP, rfSetup(s.Bitrate, s.TxPower))
	d.settings = s
	return nil
}

// rfSetup maps the ESB bitrate and power onto the RF_SETUP register.
func rfSetup(b Bitrate, p TxPower) byte {
	var v byte
	switch b {
	case Bitrate2Mbps:
		v |= 1 << 3 // RF_DR_HIGH
	case Bitrate250Kbps:
		v |= 1 << 5 // RF_DR_LOW
	default:
		// 1 Mbps, RF_DR_HIGH = 0, RF_DR_LOW = 0
	}
	switch {
	case p >= TxPower0dBm:
		v |= 3 << 1 // 0dBm
	case p >= TxPowerNeg8dBm:
		v |= 2 << 1 // -6dBm
	case p >= TxPowerNeg12dBm:
		v |= 1 << 1 // -12dBm
	default:
		// -18dBm
	}
	return v
}

// Listen opens one chip pipe per non-nil address. Pipes 2 to 5 only differ
// from pipe 1 in their first byte, which matches the ESB address table.
// This method is concurrent safe.
func (d *NRF24) Listen(addrs [][]byte) error {
	// base is the address whose upper bytes pipes 1 to 5 share.
	var base []byte
	for pipe, addr := range addrs {
		if addr == nil {
			continue
		}
		if pipe >= NRF24Pipes {
			return opError("nrf24 listen", fmt.Errorf("%w: pipe %d", ErrNotSupported, pipe))
		}
		if pipe == 0 {
			continue
		}
		if base == nil {
			base = addr
		} else if !bytes.Equal(addr[1:], base[1:]) {
			return opError("nrf24 listen", fmt.Errorf("%w: pipe %d does not share the base address of pipes 1 to 5", ErrNotSupported, pipe))
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.setCE(false)
	if base != nil && (len(addrs) < 2 || addrs[1] == nil) {
		// Pipes 2 to 5 take their upper bytes from RX_ADDR_P1.
		d.writeRegisterN(_RX_ADDR_P0+1, base)
	}
	var enabled byte
	for pipe, addr := range addrs {
		if addr == nil {
			continue
		}
		reg := byte(_RX_ADDR_P0 + pipe)
		if pipe <= 1 {
			d.writeRegisterN(reg, addr)
		} else {
			d.writeRegister(reg, addr[0])
		}
		enabled |= 1 << pipe
	}
	d.writeRegister(_EN_RXADDR, enabled)

	d.listen = make([][]byte, len(addrs))
	for i, a := range addrs {
		if a != nil {
			d.listen[i] = append([]byte(nil), a...)
		}
	}
	d.listening = enabled != 0
	if d.listening {
		d.startListening()
	}
	return nil
}

// Transmit loads the frame and pulses CE. Completion arrives as SignalSent.
// This method is concurrent safe.
func (d *NRF24) Transmit(frame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.settings.AddressLength
	if n == 0 {
		return opError("nrf24 transmit", ErrInvalidState)
	}
	if len(frame) <= n || len(frame)-n > NRF24FrameBody {
		return opError("nrf24 transmit", fmt.Errorf("%w: %d byte frame does not fit the payload register", ErrInvalidLength, len(frame)))
	}

	d.stopListening()
	d.writeRegisterN(_TX_ADDR_REG, frame[:n])

	d.scratch[0] = _W_TX_PAYLOAD
	body := d.scratch[1 : NRF24FrameBody+1]
	clear(body)
	copy(body, frame[n:])
	if _, _, err := d.spiTransfer(NRF24FrameBody + 1); err != nil {
		return opError("nrf24 transmit", err)
	}

	d.setCE(true)
	time.Sleep(15 * time.Microsecond)
	d.setCE(false)
	return nil
}

// Disable drops to standby and empties both chip FIFOs.
// This method is concurrent safe.
func (d *NRF24) Disable() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.setCE(false)
	d.listening = false
	d.listen = nil
	d.writeRegister(_CONFIG, _PWR_UP)
	d.flushTX()
	d.flushRX()
	d.clearStatus()
	return nil
}

func (d *NRF24) Signals() <-chan Signal {
	return d.signals
}

// Close cleans up the resources used by the NRF24L01 driver.
// It stops the interrupt goroutine, powers down the radio, closes the SPI
// connection, and releases GPIO pins.
// This method is concurrent safe.
func (d *NRF24) Close() error {
	close(d.quit)
	d.wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.setCE(false)
	d.writeRegister(_CONFIG, 0)
	globalLogger.Info("NRF24L01 powered down.")

	if d.port != nil {
		if err := d.port.Close(); err != nil {
			globalLogger.Warn("Failed to close SPI port")
		}
		globalLogger.Info("SPI bus closed.")
	}

	if d.irq != nil {
		d.irq.Unwatch()
	}
	globalLogger.Info("GPIO interface closed.")
	return nil
}

// serve waits for interrupts, or polls when there is no IRQ pin, and
// converts STATUS flags into Signals.
func (d *NRF24) serve() {
	defer d.wg.Done()

	var tick <-chan time.Time
	if d.irq == nil {
		t := time.NewTicker(nrf24PollInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-d.quit:
			return
		case <-d.irqChan:
		case <-tick:
		}
		for _, sig := range d.service() {
			select {
			case d.signals <- sig:
			default:
				globalLogger.Warn("signal channel full, dropping " + sig.Kind.String())
			}
		}
	}
}

// service reads and acknowledges the interrupt flags.
func (d *NRF24) service() []Signal {
	d.mu.Lock()
	defer d.mu.Unlock()

	status, err := d.readRegisterErr(_STATUS)
	if err != nil {
		return nil
	}
	var out []Signal
	if status&_TX_DS != 0 {
		d.writeRegister(_STATUS, _TX_DS)
		out = append(out, Signal{Kind: SignalSent})
		if d.listening {
			d.startListening()
		}
	}
	if status&_MAX_RT != 0 {
		// Cannot happen with retransmits off, clear it so IRQ releases.
		d.writeRegister(_STATUS, _MAX_RT)
	}
	for n := 0; n < nrf24RxFIFODepth && (status&_RX_DR != 0 || d.rxPending(status)); n++ {
		pipe := int(status>>1) & 0x07
		if pipe >= NRF24Pipes {
			break
		}
		body, err := d.readPayload()
		if err != nil {
			break
		}
		rssi := int8(nrf24WeakRSSI)
		if d.readRegister(_RPD)&0x01 != 0 {
			rssi = nrf24StrongRSSI
		}
		d.writeRegister(_STATUS, _RX_DR)
		if pipe < len(d.listen) && d.listen[pipe] != nil {
			frame := append(append([]byte(nil), d.listen[pipe]...), body...)
			out = append(out, Signal{Kind: SignalReceived, Pipe: pipe, Frame: frame, RSSI: rssi})
		}
		if status, err = d.readRegisterErr(_STATUS); err != nil {
			break
		}
	}
	return out
}

// rxPending reports a payload waiting in the RX FIFO.
func (d *NRF24) rxPending(status byte) bool {
	return (status>>1)&0x07 != 7
}

// --- NRF24L01 Core Functions (SPI interaction) ---

// spiTransfer runs a full-duplex transaction in place on the scratch buffer.
func (d *NRF24) spiTransfer(len int) (status byte, response []byte, err error) {
	slice := d.scratch[:len]
	if err := d.conn.Tx(slice, slice); err != nil {
		globalLogger.Error("SPI transfer error: " + err.Error())
		return 0, nil, fmt.Errorf("spi: %w", err)
	}

	if len > 0 {
		return d.scratch[0], d.scratch[1:len], nil
	}
	return 0, nil, nil
}

func (d *NRF24) writeRegister(reg, val byte) {
	d.scratch[0] = _W_REGISTER | reg
	d.scratch[1] = val
	d.spiTransfer(2)
}

func (d *NRF24) readRegister(reg byte) byte {
	v, _ := d.readRegisterErr(reg)
	return v
}

func (d *NRF24) readRegisterErr(reg byte) (byte, error) {
	d.scratch[0] = reg
	d.scratch[1] = _NOP
	_, data, err := d.spiTransfer(2)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

func (d *NRF24) writeRegisterN(reg byte, data []byte) {
	d.scratch[0] = _W_REGISTER | reg
	copy(d.scratch[1:], data)
	d.spiTransfer(1 + len(data))
}

func (d *NRF24) readPayload() ([]byte, error) {
	d.scratch[0] = _R_RX_PAYLOAD
	for i := 1; i <= NRF24FrameBody; i++ {
		d.scratch[i] = _NOP
	}
	_, data, err := d.spiTransfer(NRF24FrameBody + 1)
	if err != nil {
		return nil, err
	}

	// Copy result to safe buffer before the next transfer reuses scratch
	return append([]byte(nil), data...), nil
}

func (d *NRF24) flushTX() {
	d.scratch[0] = _FLUSH_TX
	d.spiTransfer(1)
}

func (d *NRF24) flushRX() {
	d.scratch[0] = _FLUSH_RX
	d.spiTransfer(1)
}

func (d *NRF24) clearStatus() {
	d.writeRegister(_STATUS, _RX_DR|_TX_DS|_MAX_RT)
}

func (d *NRF24) setCE(level bool) {
	if level {
		d.ce.Out(High)
	} else {
		d.ce.Out(Low)
	}
}

func (d *NRF24) startListening() {
	d.setCE(false)
	d.writeRegister(_CONFIG, _PWR_UP|_PRIM_RX)
	d.setCE(true)
	time.Sleep(130 * time.Microsecond)
}

func (d *NRF24) stopListening() {
	d.setCE(false)
	d.writeRegister(_CONFIG, _PWR_UP)
}
