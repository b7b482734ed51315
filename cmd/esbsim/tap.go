package main

import (
	"fmt"
	"io"

	"go.bug.st/serial"

	"github.com/michcald/esb/radiosim"
)

// formatTapLine renders r as "<from> <channel> <hex frame>".
func formatTapLine(r radiosim.Record) string {
	return fmt.Sprintf("%s %d %X\n", r.From, r.Channel, r.Frame)
}

// openSerialTap opens name and returns a tap writing every frame to it.
func openSerialTap(name string, baud int) (func(radiosim.Record), io.Closer, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, nil, fmt.Errorf("open tap port %s: %w", name, err)
	}
	return writerTap(port), port, nil
}

func writerTap(w io.Writer) func(radiosim.Record) {
	return func(r radiosim.Record) {
		if _, err := io.WriteString(w, formatTapLine(r)); err != nil {
			log.WithError(err).Warn("tap write failed")
		}
	}
}

// configuredTaps opens the taps the persistent flags ask for. The returned
// release func is never nil.
func configuredTaps(port string, baud int) ([]func(radiosim.Record), func(), error) {
	if port == "" {
		return nil, func() {}, nil
	}
	tap, closer, err := openSerialTap(port, baud)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := closer.Close(); err != nil {
			log.WithError(err).Warn("closing tap port")
		}
	}
	return []func(radiosim.Record){tap}, release, nil
}
