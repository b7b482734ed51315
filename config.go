package esb

import (
	"fmt"
	"strconv"
)

type (
	Protocol uint8
	Mode     uint8
	Bitrate  uint8
	CRC      uint8
	TxPower  int8
	TxMode   uint8
)

const (
	// ProtocolDynamic carries the payload length in every frame.
	ProtocolDynamic Protocol = iota
	// ProtocolFixed omits the length field; every payload has Config.PayloadLength bytes.
	ProtocolFixed
)

func (p Protocol) String() string {
	switch p {
	case ProtocolDynamic:
		return "dpl"
	case ProtocolFixed:
		return "fixed"
	default:
		return "unknown"
	}
}

// ParseProtocol is the inverse of Protocol.String.
func ParseProtocol(s string) (Protocol, error) {
	for _, p := range []Protocol{ProtocolDynamic, ProtocolFixed} {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown protocol %q", ErrInvalidParam, s)
}

const (
	// ModePTX is the primary transmitter role.
	ModePTX Mode = iota
	// ModePRX is the primary receiver role.
	ModePRX
)

func (m Mode) String() string {
	switch m {
	case ModePTX:
		return "ptx"
	case ModePRX:
		return "prx"
	default:
		return "unknown"
	}
}

const (
	Bitrate2Mbps Bitrate = iota
	Bitrate1Mbps
	Bitrate250Kbps
	// Bitrate1MbpsBLE is 1 Mbps with BLE style framing.
	Bitrate1MbpsBLE
)

func (b Bitrate) String() string {
	switch b {
	case Bitrate2Mbps:
		return "2mbps"
	case Bitrate1Mbps:
		return "1mbps"
	case Bitrate250Kbps:
		return "250kbps"
	case Bitrate1MbpsBLE:
		return "1mbps-ble"
	default:
		return "unknown"
	}
}

// ParseBitrate is the inverse of Bitrate.String.
func ParseBitrate(s string) (Bitrate, error) {
	for _, b := range []Bitrate{Bitrate2Mbps, Bitrate1Mbps, Bitrate250Kbps, Bitrate1MbpsBLE} {
		if b.String() == s {
			return b, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown bitrate %q", ErrInvalidParam, s)
}

const (
	CRCOff CRC = iota
	CRC8
	CRC16
)

func (c CRC) String() string {
	switch c {
	case CRCOff:
		return "off"
	case CRC8:
		return "crc8"
	case CRC16:
		return "crc16"
	default:
		return "unknown"
	}
}

// ParseCRC is the inverse of CRC.String.
func ParseCRC(s string) (CRC, error) {
	for _, c := range []CRC{CRCOff, CRC8, CRC16} {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown crc %q", ErrInvalidParam, s)
}

// bits returns the on-air width of the checksum.
func (c CRC) bits() int {
	switch c {
	case CRC8:
		return 8
	case CRC16:
		return 16
	default:
		return 0
	}
}

// Output power levels in dBm.
const (
	TxPowerPos4dBm  TxPower = 4
	TxPower0dBm     TxPower = 0
	TxPowerNeg4dBm  TxPower = -4
	TxPowerNeg8dBm  TxPower = -8
	TxPowerNeg12dBm TxPower = -12
	TxPowerNeg16dBm TxPower = -16
	TxPowerNeg20dBm TxPower = -20
	TxPowerNeg30dBm TxPower = -30
)

func (p TxPower) valid() bool {
	switch p {
	case TxPowerPos4dBm, TxPower0dBm, TxPowerNeg4dBm, TxPowerNeg8dBm,
		TxPowerNeg12dBm, TxPowerNeg16dBm, TxPowerNeg20dBm, TxPowerNeg30dBm:
		return true
	}
	return false
}

func (p TxPower) String() string {
	if !p.valid() {
		return "unknown"
	}
	if p > 0 {
		return "+" + strconv.Itoa(int(p)) + "dBm"
	}
	return strconv.Itoa(int(p)) + "dBm"
}

const (
	// TxModeAuto sends queued payloads as soon as the radio is idle.
	TxModeAuto TxMode = iota
	// TxModeManual sends one payload per StartTX call.
	TxModeManual
	// TxModeManualStart waits for StartTX, then drains the queue.
	TxModeManualStart
)

func (m TxMode) String() string {
	switch m {
	case TxModeAuto:
		return "auto"
	case TxModeManual:
		return "manual"
	case TxModeManualStart:
		return "manual-start"
	default:
		return "unknown"
	}
}

const (
	// MaxPayloadLength is the largest payload any configuration accepts.
	MaxPayloadLength = 252
	// DefaultPayloadLength is the payload ceiling of DefaultConfig.
	DefaultPayloadLength = 32
	// MaxPriority is the lowest urgency a tier priority may be given.
	MaxPriority = 7
)

// EventHandler receives engine events on the dispatcher goroutine.
type EventHandler func(Event)

type Config struct {
	// Protocol selects fixed or dynamic payload length framing.
	Protocol Protocol
	// Mode selects the PTX or PRX role.
	Mode Mode
	// Bitrate sets the on-air data rate.
	Bitrate Bitrate
	// CRC sets the checksum width.
	CRC CRC
	// TxPower sets the output power.
	TxPower TxPower
	// RetransmitDelay is the acknowledgment window in microseconds.
	// A PTX resends a payload when no acknowledgment arrives within it.
	RetransmitDelay uint16
	// RetransmitCount is the number of retransmissions after the first attempt.
	RetransmitCount uint16
	// TxMode controls when queued payloads are sent.
	TxMode TxMode
	// RadioPriority and EventPriority order the two execution tiers.
	// Lower numbers are more urgent; the radio tier must be strictly more
	// urgent than the event tier. Range: 0 to MaxPriority.
	RadioPriority uint8
	EventPriority uint8
	// PayloadLength is the payload ceiling for dynamic framing and the
	// exact payload size for fixed framing. Range: 1 to MaxPayloadLength.
	PayloadLength uint8
	// SelectiveAutoAck lets each payload choose whether it wants an
	// acknowledgment through Payload.NoAck.
	SelectiveAutoAck bool
	// EventHandler is called for every event. Optional.
	EventHandler EventHandler
}

// DefaultConfig returns the dynamic payload length configuration used by
// most ESB deployments.
func DefaultConfig() Config {
	return Config{
		Protocol:        ProtocolDynamic,
		Mode:            ModePTX,
		Bitrate:         Bitrate2Mbps,
		CRC:             CRC16,
		TxPower:         TxPower0dBm,
		RetransmitDelay: 250,
		RetransmitCount: 0,
		TxMode:          TxModeAuto,
		RadioPriority:   1,
		EventPriority:   2,
		PayloadLength:   DefaultPayloadLength,
	}
}

// LegacyConfig returns the fixed payload length configuration compatible
// with legacy ShockBurst peers.
func LegacyConfig() Config {
	c := DefaultConfig()
	c.Protocol = ProtocolFixed
	c.CRC = CRC8
	c.RetransmitDelay = 600
	c.RetransmitCount = 3
	return c
}

// Validate reports the first field holding an unsupported value.
func (c Config) Validate() error {
	switch {
	case c.Protocol > ProtocolFixed:
		return fmt.Errorf("%w: protocol %d", ErrInvalidParam, c.Protocol)
	case c.Mode > ModePRX:
		return fmt.Errorf("%w: mode %d", ErrInvalidParam, c.Mode)
	case c.Bitrate > Bitrate1MbpsBLE:
		return fmt.Errorf("%w: bitrate %d", ErrInvalidParam, c.Bitrate)
	case c.CRC > CRC16:
		return fmt.Errorf("%w: crc %d", ErrInvalidParam, c.CRC)
	case !c.TxPower.valid():
		return fmt.Errorf("%w: tx power %d", ErrInvalidParam, c.TxPower)
	case c.TxMode > TxModeManualStart:
		return fmt.Errorf("%w: tx mode %d", ErrInvalidParam, c.TxMode)
	case c.RetransmitDelay == 0:
		return fmt.Errorf("%w: retransmit delay must be positive", ErrInvalidParam)
	case c.PayloadLength == 0 || int(c.PayloadLength) > MaxPayloadLength:
		return fmt.Errorf("%w: payload length %d not in 1..%d", ErrInvalidParam, c.PayloadLength, MaxPayloadLength)
	case c.RadioPriority > MaxPriority || c.EventPriority > MaxPriority:
		return fmt.Errorf("%w: priorities must be in 0..%d", ErrInvalidParam, MaxPriority)
	case c.RadioPriority >= c.EventPriority:
		return fmt.Errorf("%w: radio priority %d must be more urgent than event priority %d",
			ErrInvalidParam, c.RadioPriority, c.EventPriority)
	}
	return nil
}

// lengthBits is the width of the PCF length field, 0 for fixed framing.
func (c Config) lengthBits() int {
	if c.Protocol == ProtocolFixed {
		return 0
	}
	if c.PayloadLength > 32 {
		return 8
	}
	return 6
}

// DataLayout returns the layout of data frames sent with c over addresses
// of addressLength bytes.
func (c Config) DataLayout(addressLength int) FrameLayout {
	return FrameLayout{
		AddressLength: addressLength,
		LengthBits:    c.lengthBits(),
		FixedLength:   int(c.PayloadLength),
		CRC:           c.CRC,
	}
}

// AckLayout is DataLayout except that fixed framing acks carry no payload.
func (c Config) AckLayout(addressLength int) FrameLayout {
	l := c.DataLayout(addressLength)
	if l.LengthBits == 0 {
		l.FixedLength = 0
	}
	return l
}

func (c Config) String() string {
	return fmt.Sprintf("ESB(Protocol=%s, Mode=%s, Bitrate=%s, CRC=%s, TxPower=%s, Retransmit=%dx%dus, TxMode=%s, PayloadLength=%d, SelectiveAutoAck=%v)",
		c.Protocol, c.Mode, c.Bitrate, c.CRC, c.TxPower,
		c.RetransmitCount, c.RetransmitDelay, c.TxMode, c.PayloadLength, c.SelectiveAutoAck)
}
