// Package esb implements the Enhanced ShockBurst link layer on top of a
// Transceiver: automatic acknowledgment and retransmission, eight pipes,
// acknowledgment payloads and duplicate suppression.
//
// An Engine runs two goroutines. The radio loop owns the Transceiver and
// every state machine; API calls that need it are handed over as commands
// and never wait for radio activity. The dispatcher goroutine calls the
// configured EventHandler one event at a time, in completion order.
// Handlers may call any Engine method except Close.
package esb

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type Engine struct {
	tr      Transceiver
	signals <-chan Signal
	disp    *dispatcher
	tx      fifo[txEntry]
	rx      fifo[Payload]
	stats   counters

	// active holds the configuration while initialized. Read without the loop.
	active   atomic.Pointer[Config]
	numPipes atomic.Int32

	// Owned by the radio loop.
	cfg         Config
	addr        addressTable
	pids        pidFilter
	state       state
	draining    bool
	listenPipe  int
	ackTimer    *time.Timer
	ackC        <-chan time.Time
	ackInFlight [MaxPipes]*Payload
	ackFresh    bool

	cmds      chan command
	kick      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New returns an engine driving tr, with the default address table.
// The engine must be initialized with Init before use and closed with Close.
func New(tr Transceiver) (*Engine, error) {
	if tr == nil {
		return nil, opError("new", ErrNullArgument)
	}
	e := &Engine{
		tr:         tr,
		signals:    tr.Signals(),
		disp:       newDispatcher(),
		addr:       defaultAddressTable(),
		pids:       newPIDFilter(),
		listenPipe: -1,
		cmds:       make(chan command),
		kick:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	e.numPipes.Store(int32(e.addr.numPipes))
	go e.run()
	return e, nil
}

// Close disables the engine and stops its goroutines.
// It must not be called from an EventHandler.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.quit)
		<-e.done
		e.disp.stop()
	})
	return nil
}

// Init validates cfg and (re)initializes the engine with empty queues.
// A running engine is stopped first: an exchange in flight is abandoned
// without an event and a listening PRX stops listening. The address table
// and channel are kept from earlier calls.
func (e *Engine) Init(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return opError("init", err)
	}
	return e.exec(func() error {
		if e.state != stateIdle {
			globalLogger.Debug("init stops the running engine")
			e.abort()
		}
		e.reset()

		e.cfg = cfg
		if err := e.tr.Apply(e.radioSettings()); err != nil {
			e.active.Store(nil)
			return opError("init", err)
		}
		e.disp.setHandler(cfg.EventHandler)
		e.active.Store(&cfg)
		globalLogger.Info(fmt.Sprintf("initialized %s on channel %d, %s", cfg, e.addr.channel, &e.addr))
		return nil
	})
}

// reset empties both queues and forgets every packet identifier.
func (e *Engine) reset() {
	e.tx.flush()
	e.rx.flush()
	e.pids = newPIDFilter()
	e.ackInFlight = [MaxPipes]*Payload{}
}

// Suspend aborts the current radio operation. Queues are kept and the
// engine stays initialized.
func (e *Engine) Suspend() error {
	return e.exec(func() error {
		if e.active.Load() == nil {
			return opError("suspend", ErrInvalidState)
		}
		e.abort()
		return nil
	})
}

// Disable aborts the current radio operation, flushes both queues, drops
// undelivered events and leaves the engine uninitialized.
func (e *Engine) Disable() error {
	return e.exec(func() error {
		if e.active.Load() == nil {
			return nil
		}
		e.abort()
		e.reset()
		e.disp.clear()
		e.active.Store(nil)
		globalLogger.Info("disabled")
		return nil
	})
}

// IsIdle reports whether the radio has no operation in flight.
// A PRX that is listening is not idle.
func (e *Engine) IsIdle() bool {
	idle := true
	_ = e.exec(func() error {
		idle = e.state == stateIdle
		return nil
	})
	return idle
}

// Stats returns a snapshot of the radio counters.
func (e *Engine) Stats() Stats {
	s := e.stats.snapshot()
	s.EventsDropped = e.disp.dropped.Load()
	return s
}

// WritePayload queues p for transmission. In PRX role p becomes the
// acknowledgment payload for the next new frame on p.Pipe.
// p.Data is copied. This method is concurrent safe.
func (e *Engine) WritePayload(p Payload) error {
	cfg := e.active.Load()
	if cfg == nil {
		return opError("write payload", ErrInvalidState)
	}
	if p.Data == nil {
		return opError("write payload", ErrNullArgument)
	}
	if err := validateLength(*cfg, len(p.Data)); err != nil {
		return opError("write payload", err)
	}
	if int32(p.Pipe) >= e.numPipes.Load() {
		return opError("write payload", fmt.Errorf("%w: pipe %d", ErrInvalidParam, p.Pipe))
	}
	switch cfg.Mode {
	case ModePTX:
		if !cfg.SelectiveAutoAck && !p.NoAck {
			return opError("write payload", fmt.Errorf("%w: per payload ack needs selective auto ack", ErrNotSupported))
		}
	case ModePRX:
		if cfg.Protocol == ProtocolFixed {
			return opError("write payload", fmt.Errorf("%w: fixed framing has no ack payloads", ErrNotSupported))
		}
	}

	p = p.clone()
	p.PID = 0
	p.RSSI = 0
	if err := e.tx.push(txEntry{payload: p}); err != nil {
		return opError("write payload", err)
	}

	select {
	case e.kick <- struct{}{}:
	default:
		// Loop already kicked
	}
	return nil
}

// ReadRxPayload removes the oldest received payload. ok is false when the
// RX FIFO is empty. This method is concurrent safe.
func (e *Engine) ReadRxPayload() (p Payload, ok bool, err error) {
	if e.active.Load() == nil {
		return Payload{}, false, opError("read rx payload", ErrInvalidState)
	}
	p, ok = e.rx.pop()
	return p, ok, nil
}

// StartTX starts sending queued payloads. In manual mode one payload is
// sent; in manual-start mode the queue is drained.
func (e *Engine) StartTX() error {
	return e.exec(func() error {
		if err := e.idleCheck("start tx"); err != nil {
			return err
		}
		if e.cfg.Mode != ModePTX {
			return opError("start tx", ErrRoleMismatch)
		}
		if e.tx.len() == 0 {
			return opError("start tx", ErrBufferEmpty)
		}
		e.draining = e.cfg.TxMode == TxModeManualStart
		e.startTX()
		return nil
	})
}

// StartRX starts listening on every enabled pipe.
func (e *Engine) StartRX() error {
	return e.exec(func() error {
		if err := e.idleCheck("start rx"); err != nil {
			return err
		}
		if e.cfg.Mode != ModePRX {
			return opError("start rx", ErrRoleMismatch)
		}
		if err := e.tr.Listen(e.addr.listenAddresses()); err != nil {
			return opError("start rx", err)
		}
		e.setState(statePRXListening)
		return nil
	})
}

// StopRX ends the receive session started by StartRX.
func (e *Engine) StopRX() error {
	return e.exec(func() error {
		if e.active.Load() == nil {
			return opError("stop rx", ErrInvalidState)
		}
		if e.state != statePRXListening && e.state != statePRXSendingAck {
			return opError("stop rx", ErrNotInRxMode)
		}
		e.abort()
		return nil
	})
}

// FlushTX discards every queued payload and resets the transmit PIDs.
func (e *Engine) FlushTX() error {
	return e.exec(func() error {
		if err := e.txIdleCheck("flush tx"); err != nil {
			return err
		}
		e.tx.flush()
		e.pids.resetTX()
		e.ackInFlight = [MaxPipes]*Payload{}
		return nil
	})
}

// PopTX discards the head of the TX FIFO.
func (e *Engine) PopTX() error {
	return e.exec(func() error {
		if err := e.txIdleCheck("pop tx"); err != nil {
			return err
		}
		if _, ok := e.tx.pop(); !ok {
			return opError("pop tx", ErrBufferEmpty)
		}
		return nil
	})
}

// txIdleCheck rejects TX FIFO edits while a PTX exchange owns the head.
func (e *Engine) txIdleCheck(op string) error {
	if e.active.Load() == nil {
		return opError(op, ErrInvalidState)
	}
	switch e.state {
	case statePTXSending, statePTXWaitAck, statePTXRetry:
		return opError(op, ErrBusy)
	}
	return nil
}

// FlushRX discards every received payload and resets duplicate detection.
func (e *Engine) FlushRX() error {
	return e.exec(func() error {
		if e.active.Load() == nil {
			return opError("flush rx", ErrInvalidState)
		}
		e.rx.flush()
		e.pids.resetRX()
		return nil
	})
}

// SetAddressLength sets the on-air address length, prefix included.
// Range: 2 to 5.
func (e *Engine) SetAddressLength(n int) error {
	return e.updateAddresses("set address length", func(t *addressTable) error {
		return t.setLength(n)
	})
}

// SetBaseAddress0 sets the base address of pipe 0.
func (e *Engine) SetBaseAddress0(addr []byte) error {
	return e.updateAddresses("set base address 0", func(t *addressTable) error {
		return setBase(&t.base0, addr)
	})
}

// SetBaseAddress1 sets the base address shared by pipes 1 to 7.
func (e *Engine) SetBaseAddress1(addr []byte) error {
	return e.updateAddresses("set base address 1", func(t *addressTable) error {
		return setBase(&t.base1, addr)
	})
}

func setBase(dst *Address, addr []byte) error {
	if addr == nil {
		return ErrNullArgument
	}
	if len(addr) != BaseAddressLength {
		return fmt.Errorf("%w: base address has %d bytes, want %d", ErrInvalidParam, len(addr), BaseAddressLength)
	}
	copy(dst[:], addr)
	return nil
}

// SetPrefixes sets the prefix of each pipe. The number of prefixes fixes
// the number of pipes, 1 to 8; pipes beyond it are disabled.
func (e *Engine) SetPrefixes(prefixes []byte) error {
	return e.updateAddresses("set prefixes", func(t *addressTable) error {
		return t.setPrefixes(prefixes)
	})
}

// UpdatePrefix changes the prefix of a single pipe.
func (e *Engine) UpdatePrefix(pipe int, prefix byte) error {
	return e.updateAddresses("update prefix", func(t *addressTable) error {
		return t.updatePrefix(pipe, prefix)
	})
}

// EnablePipes enables the pipes whose bits are set in mask.
func (e *Engine) EnablePipes(mask uint8) error {
	return e.updateAddresses("enable pipes", func(t *addressTable) error {
		return t.enablePipes(mask)
	})
}

// SetRFChannel sets the RF channel, 0 to 125. The radio must be idle.
func (e *Engine) SetRFChannel(ch uint8) error {
	if ch > MaxChannel {
		return opError("set rf channel", fmt.Errorf("%w: channel %d above %d", ErrInvalidParam, ch, MaxChannel))
	}
	return e.updateAddresses("set rf channel", func(t *addressTable) error {
		t.channel = ch
		return nil
	})
}

// RFChannel returns the current RF channel.
func (e *Engine) RFChannel() (uint8, error) {
	var ch uint8
	err := e.exec(func() error {
		if e.active.Load() == nil {
			return opError("rf channel", ErrInvalidState)
		}
		ch = e.addr.channel
		return nil
	})
	return ch, err
}

// SetTxPower sets the output power. The radio must be idle.
func (e *Engine) SetTxPower(p TxPower) error {
	if !p.valid() {
		return opError("set tx power", fmt.Errorf("%w: tx power %d", ErrInvalidParam, p))
	}
	return e.exec(func() error {
		if err := e.idleCheck("set tx power"); err != nil {
			return err
		}
		prev := e.cfg.TxPower
		e.cfg.TxPower = p
		if err := e.tr.Apply(e.radioSettings()); err != nil {
			e.cfg.TxPower = prev
			return opError("set tx power", err)
		}
		return nil
	})
}

// updateAddresses applies fn to a copy of the address table and commits
// it only if fn and the transceiver accept the result.
func (e *Engine) updateAddresses(op string, fn func(*addressTable) error) error {
	return e.exec(func() error {
		if err := e.idleCheck(op); err != nil {
			return err
		}
		next := e.addr
		if err := fn(&next); err != nil {
			return opError(op, err)
		}
		if next.length != e.addr.length || next.channel != e.addr.channel {
			prev := e.addr
			e.addr = next
			if err := e.tr.Apply(e.radioSettings()); err != nil {
				e.addr = prev
				return opError(op, err)
			}
		}
		e.addr = next
		e.numPipes.Store(int32(next.numPipes))
		e.listenPipe = -1
		return nil
	})
}
