package esb

import "fmt"

func (e *Engine) onPRXFrame(sig Signal) {
	pipe := sig.Pipe
	if !e.addr.isEnabled(pipe) {
		return
	}
	f, err := DecodeFrame(e.dataLayout(), sig.Frame)
	if err != nil {
		e.decodeFailed(err)
		return
	}
	if len(f.Payload) == 0 {
		globalLogger.Debug(fmt.Sprintf("dropping empty frame on pipe %d", pipe))
		return
	}
	if e.oversized(f, pipe) {
		return
	}

	p := uint8(pipe)
	ackDue := !(e.cfg.SelectiveAutoAck && f.NoAck)

	if e.pids.duplicate(p, f.PID, f.CRC) {
		e.stats.duplicates.Add(1)
		if ackDue {
			e.sendAck(pipe, f.PID, e.ackInFlight[pipe], false)
		}
		return
	}
	if e.rx.full() {
		// No ack, so the transmitter tries again later.
		e.stats.rxDropped.Add(1)
		globalLogger.Warn(fmt.Sprintf("rx fifo full, not acknowledging pipe %d", pipe))
		return
	}

	e.pids.accept(p, f.PID, f.CRC)
	e.ackInFlight[pipe] = nil
	e.deliver(Payload{Pipe: p, Data: f.Payload, NoAck: f.NoAck, PID: f.PID, RSSI: sig.RSSI})
	if !ackDue {
		return
	}

	var attach *Payload
	if entry, ok := e.tx.take(func(t txEntry) bool { return t.payload.Pipe == p }); ok {
		attach = &entry.payload
		e.ackInFlight[pipe] = attach
	}
	e.sendAck(pipe, f.PID, attach, attach != nil)
}

// sendAck answers a frame on pipe. fresh marks an acknowledgment payload
// leaving for the first time.
func (e *Engine) sendAck(pipe int, pid uint8, p *Payload, fresh bool) {
	var data []byte
	if p != nil {
		data = p.Data
	}
	frame, err := EncodeFrame(e.ackLayout(), Frame{
		Address: e.addr.pipeAddress(pipe),
		PID:     pid,
		Payload: data,
	})
	if err == nil {
		err = e.tr.Transmit(frame)
	}
	if err != nil {
		globalLogger.Error(fmt.Sprintf("ack on pipe %d failed: %s", pipe, err))
		return
	}
	e.ackFresh = fresh
	e.setState(statePRXSendingAck)
}

func (e *Engine) onPRXAckSent() {
	e.stats.acksSent.Add(1)
	e.setState(statePRXListening)
	if e.ackFresh {
		e.ackFresh = false
		e.stats.txSuccess.Add(1)
		e.disp.publish(Event{ID: EventTxSuccess, TxAttempts: 1})
	}
}
