package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/michcald/esb"
)

var decodeCmd = &cobra.Command{
	Use:   "decode FILE",
	Short: "Decode a capture file frame by frame",
	Long: `Print every frame of a capture written by "capture". Frames sent by the
PRX are decoded as acknowledgments.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	f, err := readCapture(args[0])
	if err != nil {
		return err
	}
	return writeDecoded(os.Stdout, f)
}

// writeDecoded prints one line per record. Frames that do not decode are
// printed with the reason instead of their fields.
func writeDecoded(w io.Writer, f captureFile) error {
	cfg, err := f.Config.engineConfig(esb.ModePTX, nil)
	if err != nil {
		return fmt.Errorf("capture config: %w", err)
	}
	data := cfg.DataLayout(f.Config.AddressLength)
	ack := cfg.AckLayout(f.Config.AddressLength)

	for _, r := range f.Records {
		ts := time.Unix(0, r.TimeUnixNano).Format("15:04:05.000000")
		layout, kind := data, "data"
		if r.From == "prx" {
			layout, kind = ack, "ack"
		}

		frame, err := esb.DecodeFrame(layout, r.Frame)
		if err != nil {
			fmt.Fprintf(w, "[%s] %s ch=%d %s [ERROR] %v\n", ts, r.From, r.Channel, kind, err)
			continue
		}
		fmt.Fprintf(w, "[%s] %s ch=%d %s addr=%X pid=%d noack=%t len=%d crc=%04X rx=%d",
			ts, r.From, r.Channel, kind, frame.Address, frame.PID, frame.NoAck, len(frame.Payload), frame.CRC, len(r.Receivers))
		if len(frame.Payload) > 0 {
			fmt.Fprintf(w, " data=% X", frame.Payload)
		}
		fmt.Fprintln(w)
	}
	return nil
}
