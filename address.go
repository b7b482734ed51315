package esb

import (
	"fmt"
	"strings"
)

const (
	// MaxPipes is the number of logical pipes an address table can hold.
	MaxPipes = 8
	// BaseAddressLength is the size of each base address.
	BaseAddressLength = 4
	MinAddressLength  = 2
	MaxAddressLength  = 5
	// MaxChannel is the highest RF channel, 2400 MHz + 125 MHz.
	MaxChannel = 125
)

// Address is a base address. Only the first AddressLength-1 bytes go on air.
type Address [BaseAddressLength]byte

func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3])
}

// addressTable maps pipes to their on-air addresses.
// Pipe 0 uses base0, pipes 1 to 7 share base1 and differ by prefix.
type addressTable struct {
	base0    Address
	base1    Address
	prefixes [MaxPipes]byte
	length   int
	numPipes int
	enabled  uint8
	channel  uint8
}

func defaultAddressTable() addressTable {
	return addressTable{
		base0:    Address{0xE7, 0xE7, 0xE7, 0xE7},
		base1:    Address{0xC2, 0xC2, 0xC2, 0xC2},
		prefixes: [MaxPipes]byte{0xE7, 0xC2, 0xC3, 0xC4, 0xC5, 0xC6, 0xC7, 0xC8},
		length:   5,
		numPipes: MaxPipes,
		enabled:  0xFF,
		channel:  2,
	}
}

func (t *addressTable) setLength(n int) error {
	if n < MinAddressLength || n > MaxAddressLength {
		return fmt.Errorf("%w: address length %d not in %d..%d", ErrInvalidParam, n, MinAddressLength, MaxAddressLength)
	}
	t.length = n
	return nil
}

func (t *addressTable) setPrefixes(prefixes []byte) error {
	if prefixes == nil {
		return ErrNullArgument
	}
	if len(prefixes) == 0 || len(prefixes) > MaxPipes {
		return fmt.Errorf("%w: pipe count %d not in 1..%d", ErrInvalidParam, len(prefixes), MaxPipes)
	}
	copy(t.prefixes[:], prefixes)
	t.numPipes = len(prefixes)
	t.enabled &= t.pipeMask()
	return nil
}

func (t *addressTable) updatePrefix(pipe int, prefix byte) error {
	if pipe < 0 || pipe >= t.numPipes {
		return fmt.Errorf("%w: pipe %d not in 0..%d", ErrInvalidParam, pipe, t.numPipes-1)
	}
	t.prefixes[pipe] = prefix
	return nil
}

func (t *addressTable) enablePipes(mask uint8) error {
	if mask&^t.pipeMask() != 0 {
		return fmt.Errorf("%w: mask %08b enables pipes beyond %d", ErrInvalidParam, mask, t.numPipes-1)
	}
	t.enabled = mask
	return nil
}

func (t *addressTable) pipeMask() uint8 {
	return uint8(1<<t.numPipes - 1)
}

func (t *addressTable) isEnabled(pipe int) bool {
	return pipe >= 0 && pipe < t.numPipes && t.enabled&(1<<pipe) != 0
}

// pipeAddress returns the on-air address of pipe: the prefix byte followed
// by the first length-1 bytes of its base address.
func (t *addressTable) pipeAddress(pipe int) []byte {
	base := t.base1
	if pipe == 0 {
		base = t.base0
	}
	addr := make([]byte, t.length)
	addr[0] = t.prefixes[pipe]
	copy(addr[1:], base[:t.length-1])
	return addr
}

// listenAddresses returns one entry per pipe, nil for disabled pipes.
func (t *addressTable) listenAddresses() [][]byte {
	addrs := make([][]byte, t.numPipes)
	for pipe := range t.numPipes {
		if t.isEnabled(pipe) {
			addrs[pipe] = t.pipeAddress(pipe)
		}
	}
	return addrs
}

func (t *addressTable) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "base0=%s base1=%s length=%d pipes=", t.base0, t.base1, t.length)
	for pipe := range t.numPipes {
		if pipe > 0 {
			b.WriteByte(',')
		}
		state := "-"
		if t.isEnabled(pipe) {
			state = "+"
		}
		fmt.Fprintf(&b, "%d%s%02X", pipe, state, t.prefixes[pipe])
	}
	return b.String()
}
