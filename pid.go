package esb

const (
	pidMask     = 0x03
	rxPIDReset  = 0xFF
	rxCRCReset  = 0xFFFF
	txPIDOrigin = 0
)

// pidFilter assigns outbound packet identifiers and recognises inbound
// retransmissions. It is owned by the radio loop.
type pidFilter struct {
	tx    [MaxPipes]uint8
	rxPID [MaxPipes]uint8
	rxCRC [MaxPipes]uint16
}

func newPIDFilter() pidFilter {
	var f pidFilter
	f.resetTX()
	f.resetRX()
	return f
}

// next returns the identifier for a new payload on pipe.
func (f *pidFilter) next(pipe uint8) uint8 {
	f.tx[pipe] = (f.tx[pipe] + 1) & pidMask
	return f.tx[pipe]
}

func (f *pidFilter) resetTX() {
	for i := range f.tx {
		f.tx[i] = txPIDOrigin
	}
}

func (f *pidFilter) resetRX() {
	for i := range f.rxPID {
		f.rxPID[i] = rxPIDReset
		f.rxCRC[i] = rxCRCReset
	}
}

// duplicate reports whether pid and crc repeat the last accepted frame on pipe.
func (f *pidFilter) duplicate(pipe, pid uint8, crc uint16) bool {
	return f.rxPID[pipe] == pid && f.rxCRC[pipe] == crc
}

func (f *pidFilter) accept(pipe, pid uint8, crc uint16) {
	f.rxPID[pipe] = pid
	f.rxCRC[pipe] = crc
}
