package esb

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// state is the radio loop's view of the transceiver.
type state uint8

const (
	stateIdle state = iota
	statePTXSending
	statePTXWaitAck
	statePTXRetry
	statePRXListening
	statePRXSendingAck
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case statePTXSending:
		return "ptx-sending"
	case statePTXWaitAck:
		return "ptx-wait-ack"
	case statePTXRetry:
		return "ptx-retry"
	case statePRXListening:
		return "prx-listening"
	case statePRXSendingAck:
		return "prx-sending-ack"
	default:
		return "unknown"
	}
}

// command runs fn on the radio loop and reports its result.
type command struct {
	fn    func() error
	reply chan error
}

// Stats counts radio activity since New.
type Stats struct {
	FramesSent   uint64
	Retransmits  uint64
	AcksReceived uint64
	AcksSent     uint64
	TxSuccess    uint64
	TxFailed     uint64
	RxReceived   uint64
	Duplicates   uint64
	CRCErrors    uint64
	LengthErrors uint64
	RxDropped    uint64
	// EventsDropped counts events lost to a full dispatcher mailbox.
	EventsDropped uint64
}

type counters struct {
	framesSent   atomic.Uint64
	retransmits  atomic.Uint64
	acksReceived atomic.Uint64
	acksSent     atomic.Uint64
	txSuccess    atomic.Uint64
	txFailed     atomic.Uint64
	rxReceived   atomic.Uint64
	duplicates   atomic.Uint64
	crcErrors    atomic.Uint64
	lengthErrors atomic.Uint64
	rxDropped    atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		FramesSent:   c.framesSent.Load(),
		Retransmits:  c.retransmits.Load(),
		AcksReceived: c.acksReceived.Load(),
		AcksSent:     c.acksSent.Load(),
		TxSuccess:    c.txSuccess.Load(),
		TxFailed:     c.txFailed.Load(),
		RxReceived:   c.rxReceived.Load(),
		Duplicates:   c.duplicates.Load(),
		CRCErrors:    c.crcErrors.Load(),
		LengthErrors: c.lengthErrors.Load(),
		RxDropped:    c.rxDropped.Load(),
	}
}

// exec hands fn to the radio loop and waits for it to run. It must not be
// called from the loop itself.
func (e *Engine) exec(fn func() error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case e.cmds <- cmd:
	case <-e.done:
		return ErrClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-e.done:
		return ErrClosed
	}
}

// run is the radio loop. It is the only goroutine that touches the
// Transceiver and the loop-owned fields of Engine.
func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			if e.active.Load() != nil {
				e.abort()
			}
			return
		case cmd := <-e.cmds:
			cmd.reply <- cmd.fn()
		case sig, ok := <-e.signals:
			if !ok {
				globalLogger.Error("transceiver closed its signal channel")
				e.signals = nil
				continue
			}
			e.onSignal(sig)
		case <-e.ackC:
			e.ackC = nil
			e.ackTimer = nil
			e.onAckTimeout()
		case <-e.kick:
			e.onKick()
		}
	}
}

func (e *Engine) onSignal(sig Signal) {
	switch {
	case e.state == statePTXSending && sig.Kind == SignalSent:
		e.onPTXSent()
	case e.state == statePTXWaitAck && sig.Kind == SignalReceived:
		e.onPTXAck(sig)
	case e.state == statePRXListening && sig.Kind == SignalReceived:
		e.onPRXFrame(sig)
	case e.state == statePRXSendingAck && sig.Kind == SignalSent:
		e.onPRXAckSent()
	default:
		globalLogger.Debug(fmt.Sprintf("ignoring %s signal in state %s", sig.Kind, e.state))
	}
}

func (e *Engine) setState(s state) {
	if e.state != s {
		globalLogger.Debug(fmt.Sprintf("state %s -> %s", e.state, s))
	}
	e.state = s
}

func (e *Engine) startAckTimer() {
	e.stopAckTimer()
	e.ackTimer = time.NewTimer(time.Duration(e.cfg.RetransmitDelay) * time.Microsecond)
	e.ackC = e.ackTimer.C
}

func (e *Engine) stopAckTimer() {
	if e.ackTimer != nil {
		e.ackTimer.Stop()
		e.ackTimer = nil
	}
	e.ackC = nil
}

// abort stops the transceiver and returns the loop to idle. Queued
// payloads are kept; a partly sent head gets a fresh retry budget.
func (e *Engine) abort() {
	e.stopAckTimer()
	if err := e.tr.Disable(); err != nil {
		globalLogger.Warn("transceiver disable failed: " + err.Error())
	}
	e.drainSignals()
	e.listenPipe = -1
	e.draining = false
	e.ackFresh = false
	if entry, ok := e.tx.peek(); ok && entry.attempts > 0 {
		entry.attempts = 0
		e.tx.replaceHead(entry)
	}
	e.setState(stateIdle)
}

// drainSignals discards completions of the operation that was just aborted.
func (e *Engine) drainSignals() {
	for {
		select {
		case _, ok := <-e.signals:
			if !ok {
				e.signals = nil
				return
			}
		default:
			return
		}
	}
}

func (e *Engine) radioSettings() RadioSettings {
	return RadioSettings{
		Channel:       e.addr.channel,
		Bitrate:       e.cfg.Bitrate,
		TxPower:       e.cfg.TxPower,
		AddressLength: e.addr.length,
	}
}

func (e *Engine) dataLayout() FrameLayout {
	return e.cfg.DataLayout(e.addr.length)
}

func (e *Engine) ackLayout() FrameLayout {
	return e.cfg.AckLayout(e.addr.length)
}

// deliver queues a received payload and announces it.
func (e *Engine) deliver(p Payload) bool {
	if err := e.rx.push(p); err != nil {
		e.stats.rxDropped.Add(1)
		globalLogger.Warn(fmt.Sprintf("rx fifo full, dropping payload on pipe %d", p.Pipe))
		return false
	}
	e.stats.rxReceived.Add(1)
	e.disp.publish(Event{ID: EventRxReceived})
	return true
}

// decodeFailed records why a received frame was thrown away.
func (e *Engine) decodeFailed(err error) {
	if errors.Is(err, ErrCRC) {
		e.stats.crcErrors.Add(1)
	}
	globalLogger.Debug("dropping frame: " + err.Error())
}

// oversized drops frames carrying more than the configured payload length.
// The length field can announce up to 63 or 255 bytes regardless of it.
func (e *Engine) oversized(f Frame, pipe int) bool {
	if len(f.Payload) <= int(e.cfg.PayloadLength) {
		return false
	}
	e.stats.lengthErrors.Add(1)
	globalLogger.Debug(fmt.Sprintf("dropping %d byte payload on pipe %d, limit is %d", len(f.Payload), pipe, e.cfg.PayloadLength))
	return true
}

// idleCheck is the common guard of operations that need an idle radio.
func (e *Engine) idleCheck(op string) error {
	if e.active.Load() == nil {
		return opError(op, ErrInvalidState)
	}
	if e.state != stateIdle {
		return opError(op, ErrBusy)
	}
	return nil
}
