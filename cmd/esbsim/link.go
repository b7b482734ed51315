package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/michcald/esb"
	"github.com/michcald/esb/radiosim"
)

var (
	linkCount       int
	linkSize        int
	linkAckPayloads bool
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Send payloads from a PTX to a PRX and report link statistics",
	Long: `Send --count payloads of --size bytes from a PTX to a PRX over the
simulated medium, one at a time, and print what both ends counted.

With --ack-payloads the PRX answers every payload with an acknowledgment
payload of its own.`,
	RunE: runLink,
}

func init() {
	addLinkFlags(linkCmd)
	rootCmd.AddCommand(linkCmd)
}

func addLinkFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&linkCount, "count", "n", 100, "Number of payloads to send")
	cmd.Flags().IntVarP(&linkSize, "size", "s", 16, "Payload size in bytes")
	cmd.Flags().BoolVar(&linkAckPayloads, "ack-payloads", false, "Answer every payload with an ack payload")
}

func runLink(cmd *cobra.Command, args []string) error {
	taps, release, err := configuredTaps(tapPort, baudRate)
	if err != nil {
		return err
	}
	defer release()

	res, err := simulate(settings, linkCount, linkSize, linkAckPayloads, taps...)
	if err != nil {
		return err
	}
	renderResult(os.Stdout, res, term.IsTerminal(int(os.Stdout.Fd())))
	return nil
}

type linkResult struct {
	Sent      int
	Succeeded int
	Failed    int
	Received  int
	AckData   int
	Elapsed   time.Duration
	PTX       esb.Stats
	PRX       esb.Stats
	Records   []radiosim.Record
}

// simulate runs count exchanges between a fresh PTX and PRX pair.
func simulate(c simConfig, count, size int, ackPayloads bool, taps ...func(radiosim.Record)) (linkResult, error) {
	if ackPayloads && c.Protocol == esb.ProtocolFixed.String() {
		return linkResult{}, errors.New("ack payloads need dynamic payload length framing")
	}

	opts := c.mediumOptions()
	for _, tap := range taps {
		opts = append(opts, radiosim.WithTap(tap))
	}
	medium := radiosim.NewMedium(opts...)

	var (
		res      linkResult
		received atomic.Int64
		outcomes = make(chan esb.Event, 1)
		prx      *esb.Engine
	)

	prxCfg, err := c.engineConfig(esb.ModePRX, func(ev esb.Event) {
		if ev.ID != esb.EventRxReceived {
			return
		}
		for {
			p, ok, err := prx.ReadRxPayload()
			if err != nil || !ok {
				return
			}
			n := received.Add(1)
			if ackPayloads {
				reply := esb.Payload{Pipe: p.Pipe, Data: []byte(fmt.Sprintf("ack %d", n))}
				if err := prx.WritePayload(reply); err != nil {
					log.WithError(err).Warn("queueing ack payload failed")
				}
			}
		}
	})
	if err != nil {
		return res, err
	}
	prx, err = startEngine(medium.NewRadio("prx"), prxCfg, c)
	if err != nil {
		return res, err
	}
	defer prx.Close()
	if ackPayloads {
		if err := prx.WritePayload(esb.Payload{Data: []byte("ack 0")}); err != nil {
			return res, err
		}
	}
	if err := prx.StartRX(); err != nil {
		return res, err
	}

	var ptx *esb.Engine
	ptxCfg, err := c.engineConfig(esb.ModePTX, func(ev esb.Event) {
		if ev.ID == esb.EventRxReceived {
			for {
				p, ok, err := ptx.ReadRxPayload()
				if err != nil || !ok {
					break
				}
				log.Debugf("ack payload %q", p.Data)
			}
			return
		}
		outcomes <- ev
	})
	if err != nil {
		return res, err
	}
	ptx, err = startEngine(medium.NewRadio("ptx"), ptxCfg, c)
	if err != nil {
		return res, err
	}
	defer ptx.Close()

	start := time.Now()
	for i := range count {
		data := bytes.Repeat([]byte{byte(i)}, size)
		if err := ptx.WritePayload(esb.Payload{Data: data}); err != nil {
			return res, fmt.Errorf("payload %d: %w", i, err)
		}
		res.Sent++

		select {
		case ev := <-outcomes:
			if ev.ID == esb.EventTxSuccess {
				res.Succeeded++
				continue
			}
			res.Failed++
			if err := ptx.PopTX(); err != nil {
				return res, err
			}
		case <-time.After(c.exchangeTimeout()):
			return res, fmt.Errorf("payload %d: no outcome after %s", i, c.exchangeTimeout())
		}
	}
	res.Elapsed = time.Since(start)

	// Let the last acknowledgment settle before reading the counters.
	deadline := time.Now().Add(c.exchangeTimeout())
	for time.Now().Before(deadline) {
		s := prx.Stats()
		if s.AcksSent >= s.RxReceived+s.Duplicates {
			break
		}
		time.Sleep(time.Millisecond)
	}

	res.PTX = ptx.Stats()
	res.PRX = prx.Stats()
	res.Received = int(res.PRX.RxReceived)
	res.AckData = int(res.PTX.RxReceived)
	res.Records = medium.Log()
	return res, nil
}

func startEngine(tr esb.Transceiver, cfg esb.Config, c simConfig) (*esb.Engine, error) {
	e, err := esb.New(tr)
	if err != nil {
		return nil, err
	}
	if err := e.Init(cfg); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.SetAddressLength(c.AddressLength); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.SetRFChannel(c.Channel); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (r linkResult) rows() [][2]string {
	rate := 0.0
	if r.Sent > 0 {
		rate = 100 * float64(r.Succeeded) / float64(r.Sent)
	}
	return [][2]string{
		{"payloads", fmt.Sprintf("%d sent, %d delivered, %d failed (%.1f%%)", r.Sent, r.Succeeded, r.Failed, rate)},
		{"frames", fmt.Sprintf("%d on air, %d retransmits", len(r.Records), r.PTX.Retransmits)},
		{"ptx", fmt.Sprintf("acks received %d, ack payloads %d", r.PTX.AcksReceived, r.AckData)},
		{"prx", fmt.Sprintf("received %d, duplicates %d, acks sent %d, dropped %d", r.Received, r.PRX.Duplicates, r.PRX.AcksSent, r.PRX.RxDropped)},
		{"elapsed", r.Elapsed.Round(time.Microsecond).String()},
	}
}

func renderResult(w io.Writer, r linkResult, styled bool) {
	if !styled {
		for _, row := range r.rows() {
			fmt.Fprintf(w, "%-9s %s\n", row[0], row[1])
		}
		return
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12"))
	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Width(10)
	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))
	failStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9"))
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	lines := []string{titleStyle.Render("ESB link")}
	for _, row := range r.rows() {
		value := valueStyle.Render(row[1])
		if row[0] == "payloads" && r.Failed > 0 {
			value = failStyle.Render(row[1])
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(row[0]), value))
	}
	fmt.Fprintln(w, boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
}
