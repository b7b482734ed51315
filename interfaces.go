package esb

// Transceiver is the radio capability the engine drives. The engine's radio
// loop is its only caller, so implementations need not be concurrent safe
// beyond delivering Signals from their own goroutines.
type Transceiver interface {
	// Apply programs channel, bitrate, power and address width.
	Apply(s RadioSettings) error
	// Transmit starts sending a fully encoded frame and returns without
	// waiting. Completion is reported as a SignalSent. Once the frame is
	// out the transceiver returns to listening if Listen armed it.
	Transmit(frame []byte) error
	// Listen arms reception on the given addresses, indexed by pipe.
	// A nil entry leaves that pipe closed; a nil slice stops reception.
	// Received frames are reported as SignalReceived with the whole frame,
	// address included.
	Listen(addrs [][]byte) error
	// Disable aborts any operation and stops reception.
	Disable() error
	// Signals delivers completion signals in the order they happened.
	Signals() <-chan Signal
}

// RadioSettings is the physical layer configuration shared by both roles.
type RadioSettings struct {
	Channel       uint8
	Bitrate       Bitrate
	TxPower       TxPower
	AddressLength int
}

type SignalKind uint8

const (
	// SignalSent reports that the last Transmit left the antenna.
	SignalSent SignalKind = iota
	// SignalReceived reports an address matched frame.
	SignalReceived
)

func (k SignalKind) String() string {
	switch k {
	case SignalSent:
		return "sent"
	case SignalReceived:
		return "received"
	default:
		return "unknown"
	}
}

// Signal is a completion notification from a Transceiver.
type Signal struct {
	Kind SignalKind
	// Pipe is the Listen index that matched. SignalReceived only.
	Pipe int
	// Frame is the received frame. SignalReceived only.
	Frame []byte
	// RSSI in dBm. SignalReceived only.
	RSSI int8
}

// Level represents the logical level of a pin (Low or High).
type Level bool

const (
	Low  Level = false
	High Level = true
)

// Pull represents the internal pull-up/down resistor state.
type Pull uint8

const (
	PullNoChange Pull = iota
	PullFloat
	PullDown
	PullUp
)

// Edge represents the signal edge to trigger an interrupt.
type Edge uint8

const (
	NoEdge Edge = iota
	RisingEdge
	FallingEdge
	BothEdges
)

// SPI represents a generic SPI connection used by the nRF24L01+ transceiver.
type SPI interface {
	// Tx sends w and reads into r.
	// len(r) must be >= len(w).
	Tx(w, r []byte) error
}

// Pin represents a generic GPIO pin.
type Pin interface {
	// Out sets the pin as output with the given level.
	Out(l Level) error
	// In sets the pin as input with the given pull mode.
	In(pull Pull) error
	// Read returns the current level of the pin.
	Read() Level
	// Watch configures an interrupt/callback on the specified edge.
	// The handler should be called when the edge is detected.
	Watch(edge Edge, handler func()) error
	// Unwatch removes the interrupt/callback.
	Unwatch() error
}