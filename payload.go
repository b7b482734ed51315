package esb

import "fmt"

// Payload is one datagram. Its length is len(Data).
type Payload struct {
	// Pipe is the logical pipe the payload is sent to or was received on.
	Pipe uint8
	// Data holds 1 to Config.PayloadLength bytes.
	Data []byte
	// NoAck asks the receiver not to acknowledge this payload.
	// Only honoured when Config.SelectiveAutoAck is set.
	NoAck bool
	// PID is the packet identifier the payload was sent or received with.
	PID uint8
	// RSSI is the received signal strength in dBm. Receive only.
	RSSI int8
}

func (p Payload) Len() int {
	return len(p.Data)
}

func (p Payload) String() string {
	return fmt.Sprintf("Payload(Pipe=%d, PID=%d, Len=%d, NoAck=%v, RSSI=%d, Data=% X)",
		p.Pipe, p.PID, len(p.Data), p.NoAck, p.RSSI, p.Data)
}

// clone returns a copy that does not share Data with p.
func (p Payload) clone() Payload {
	p.Data = append([]byte(nil), p.Data...)
	return p
}

// validateLength checks the payload length against the configured framing.
func validateLength(c Config, n int) error {
	if n == 0 || n > int(c.PayloadLength) {
		return fmt.Errorf("%w: %d bytes, limit is %d", ErrInvalidLength, n, c.PayloadLength)
	}
	if c.Protocol == ProtocolFixed && n != int(c.PayloadLength) {
		return fmt.Errorf("%w: fixed framing needs exactly %d bytes, got %d", ErrInvalidLength, c.PayloadLength, n)
	}
	return nil
}

type EventID uint8

const (
	EventTxSuccess EventID = iota
	EventTxFailed
	EventRxReceived
)

func (id EventID) String() string {
	switch id {
	case EventTxSuccess:
		return "tx-success"
	case EventTxFailed:
		return "tx-failed"
	case EventRxReceived:
		return "rx-received"
	default:
		return "unknown"
	}
}

// Event reports a terminal transmission outcome or a new received payload.
type Event struct {
	ID EventID
	// TxAttempts is the number of transmissions made for the payload.
	// Zero for EventRxReceived.
	TxAttempts int
}

func (e Event) String() string {
	if e.ID == EventRxReceived {
		return e.ID.String()
	}
	return fmt.Sprintf("%s(attempts=%d)", e.ID, e.TxAttempts)
}
