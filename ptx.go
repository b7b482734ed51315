package esb

import "fmt"

// txEntry is a TX FIFO slot. In PTX role it tracks the retransmission
// state of the payload; in PRX role it is an acknowledgment payload.
type txEntry struct {
	payload  Payload
	attempts int
	pidSet   bool
}

// onKick starts draining after WritePayload in automatic mode.
func (e *Engine) onKick() {
	if e.active.Load() == nil || e.state != stateIdle {
		return
	}
	if e.cfg.Mode != ModePTX || e.cfg.TxMode != TxModeAuto {
		return
	}
	e.startTX()
}

// startTX begins the exchange for the head of the TX FIFO.
func (e *Engine) startTX() {
	entry, ok := e.tx.peek()
	if !ok {
		e.draining = false
		e.setState(stateIdle)
		return
	}
	if !entry.pidSet {
		entry.payload.PID = e.pids.next(entry.payload.Pipe)
		entry.pidSet = true
	}
	e.transmit(entry)
}

// transmit sends one attempt of entry.
func (e *Engine) transmit(entry txEntry) {
	entry.attempts++
	e.tx.replaceHead(entry)

	pipe := int(entry.payload.Pipe)
	addr := e.addr.pipeAddress(pipe)
	frame, err := EncodeFrame(e.dataLayout(), Frame{
		Address: addr,
		PID:     entry.payload.PID,
		NoAck:   e.cfg.SelectiveAutoAck && entry.payload.NoAck,
		Payload: entry.payload.Data,
	})
	if err == nil && e.listenPipe != pipe {
		// Acknowledgments come back on the address the payload went to.
		addrs := make([][]byte, pipe+1)
		addrs[pipe] = addr
		if err = e.tr.Listen(addrs); err == nil {
			e.listenPipe = pipe
		}
	}
	if err == nil {
		err = e.tr.Transmit(frame)
	}
	if err != nil {
		globalLogger.Error(fmt.Sprintf("transmit on pipe %d failed: %s", pipe, err))
		e.finishTX(entry, false, nil)
		return
	}

	e.stats.framesSent.Add(1)
	if entry.attempts > 1 {
		e.stats.retransmits.Add(1)
	}
	e.setState(statePTXSending)
}

func (e *Engine) onPTXSent() {
	entry, ok := e.tx.peek()
	if !ok {
		e.setState(stateIdle)
		return
	}
	if e.cfg.SelectiveAutoAck && entry.payload.NoAck {
		e.finishTX(entry, true, nil)
		return
	}
	e.setState(statePTXWaitAck)
	e.startAckTimer()
}

func (e *Engine) onPTXAck(sig Signal) {
	entry, ok := e.tx.peek()
	if !ok || sig.Pipe != int(entry.payload.Pipe) {
		return
	}
	f, err := DecodeFrame(e.ackLayout(), sig.Frame)
	if err != nil {
		e.decodeFailed(err)
		return
	}
	if e.oversized(f, sig.Pipe) {
		return
	}
	if f.PID != entry.payload.PID {
		globalLogger.Debug(fmt.Sprintf("ack pid %d does not match pid %d in flight", f.PID, entry.payload.PID))
		return
	}

	e.stats.acksReceived.Add(1)
	var ack *Payload
	if len(f.Payload) > 0 {
		ack = &Payload{Pipe: entry.payload.Pipe, Data: f.Payload, PID: f.PID, RSSI: sig.RSSI}
	}
	e.finishTX(entry, true, ack)
}

func (e *Engine) onAckTimeout() {
	if e.state != statePTXWaitAck {
		return
	}
	entry, ok := e.tx.peek()
	if !ok {
		e.setState(stateIdle)
		return
	}
	if entry.attempts >= int(e.cfg.RetransmitCount)+1 {
		e.finishTX(entry, false, nil)
		return
	}
	e.setState(statePTXRetry)
	e.transmit(entry)
}

// finishTX ends the exchange for the head entry. A delivered payload is
// dequeued before its event is published; a failed one stays at the head
// until the application pops or flushes it, or a new write restarts it.
func (e *Engine) finishTX(entry txEntry, delivered bool, ack *Payload) {
	e.stopAckTimer()

	if !delivered {
		attempts := entry.attempts
		entry.attempts = 0
		e.tx.replaceHead(entry)
		e.draining = false
		e.setState(stateIdle)
		e.stats.txFailed.Add(1)
		globalLogger.Warn(fmt.Sprintf("payload on pipe %d failed after %d attempts", entry.payload.Pipe, attempts))
		e.disp.publish(Event{ID: EventTxFailed, TxAttempts: attempts})
		return
	}

	e.tx.pop()
	e.stats.txSuccess.Add(1)
	e.disp.publish(Event{ID: EventTxSuccess, TxAttempts: entry.attempts})
	if ack != nil {
		e.deliver(*ack)
	}

	if e.cfg.TxMode == TxModeAuto || e.draining {
		e.startTX()
		return
	}
	e.setState(stateIdle)
}
