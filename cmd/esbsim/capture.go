package main

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"

	"github.com/michcald/esb/radiosim"
)

var captureOut string

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Run a link and record every frame on air to a CBOR file",
	Long: `Run the same exchange as "link" and write the link configuration and
every frame on air to --out. Recordings are read back with "decode".`,
	RunE: runCapture,
}

func init() {
	addLinkFlags(captureCmd)
	captureCmd.Flags().StringVarP(&captureOut, "out", "o", "capture.cbor", "Output file")
	rootCmd.AddCommand(captureCmd)
}

// captureRecord is a radiosim.Record in capture file form.
type captureRecord struct {
	TimeUnixNano int64    `cbor:"1,keyasint"`
	From         string   `cbor:"2,keyasint"`
	Channel      uint8    `cbor:"3,keyasint"`
	Bitrate      string   `cbor:"4,keyasint"`
	Frame        []byte   `cbor:"5,keyasint"`
	Receivers    []string `cbor:"6,keyasint,omitempty"`
}

type captureFile struct {
	Config  simConfig       `cbor:"1,keyasint"`
	Records []captureRecord `cbor:"2,keyasint"`
}

func newCaptureFile(c simConfig, records []radiosim.Record) captureFile {
	f := captureFile{Config: c, Records: make([]captureRecord, 0, len(records))}
	for _, r := range records {
		f.Records = append(f.Records, captureRecord{
			TimeUnixNano: r.Time.UnixNano(),
			From:         r.From,
			Channel:      r.Channel,
			Bitrate:      r.Bitrate.String(),
			Frame:        r.Frame,
			Receivers:    r.Receivers,
		})
	}
	return f
}

func writeCapture(path string, f captureFile) error {
	data, err := cbor.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode capture: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write capture: %w", err)
	}
	return nil
}

func readCapture(path string) (captureFile, error) {
	var f captureFile
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("read capture: %w", err)
	}
	if err := cbor.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("decode capture %s: %w", path, err)
	}
	return f, nil
}

func runCapture(cmd *cobra.Command, args []string) error {
	taps, release, err := configuredTaps(tapPort, baudRate)
	if err != nil {
		return err
	}
	defer release()

	res, err := simulate(settings, linkCount, linkSize, linkAckPayloads, taps...)
	if err != nil {
		return err
	}
	if err := writeCapture(captureOut, newCaptureFile(settings, res.Records)); err != nil {
		return err
	}
	fmt.Printf("%d frames written to %s\n", len(res.Records), captureOut)
	return nil
}
