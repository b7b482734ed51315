package esb

import (
	"errors"
	"fmt"
)

var (
	ErrPkg = errors.New("esb")

	// ErrNullArgument is returned when a required argument is nil.
	ErrNullArgument = errors.New("null argument")
	// ErrInvalidState is returned when the engine has not been initialized.
	ErrInvalidState = errors.New("invalid state")
	// ErrBusy is returned when the radio controller owns an in-flight operation.
	ErrBusy = errors.New("radio busy")
	// ErrNotSupported is returned for requests the configuration cannot honour.
	ErrNotSupported = errors.New("not supported")
	// ErrNoMemory is returned when a FIFO already holds FIFOCapacity entries.
	ErrNoMemory = errors.New("fifo full")
	// ErrInvalidLength is returned for a payload length of 0 or above the configured maximum.
	ErrInvalidLength = errors.New("invalid payload length")
	// ErrBufferEmpty is returned by operations that need a queued entry.
	ErrBufferEmpty = errors.New("fifo empty")
	// ErrInvalidParam is returned for out of range addresses, pipes, masks or channels.
	ErrInvalidParam = errors.New("invalid parameter")
	// ErrNotInRxMode is returned by StopRX when no receive session is active.
	ErrNotInRxMode = errors.New("not in rx mode")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("engine closed")
	// ErrCRC is returned by DecodeFrame when the frame checksum does not match.
	ErrCRC = errors.New("crc mismatch")

	// ErrRoleMismatch is returned by StartTX on a PRX and StartRX on a PTX.
	ErrRoleMismatch = fmt.Errorf("%w: wrong role", ErrNotSupported)
)

// opError prefixes err with the package sentinel and the failing operation.
func opError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPkg, op, err)
}
