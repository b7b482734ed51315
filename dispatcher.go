package esb

import (
	"fmt"
	"sync/atomic"

	"github.com/michcald/esb/internal/syncutil"
)

// MailboxCapacity bounds the events waiting for the handler.
const MailboxCapacity = 64

// dispatcher runs the application handler on its own goroutine so that
// handler time never delays the radio loop. The loop only appends to the
// mailbox and pokes notify; it never waits for the handler.
type dispatcher struct {
	mu      syncutil.Mutex
	mailbox []Event
	handler EventHandler
	dropped atomic.Uint64

	notify chan struct{}
	quit   chan struct{}
	done   chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		mailbox: make([]Event, 0, MailboxCapacity),
		notify:  make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) setHandler(h EventHandler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// publish queues ev without blocking. It reports false, and counts the
// loss, when the mailbox is full.
func (d *dispatcher) publish(ev Event) bool {
	d.mu.Lock()
	if len(d.mailbox) == MailboxCapacity {
		d.mu.Unlock()
		d.dropped.Add(1)
		globalLogger.Warn(fmt.Sprintf("event mailbox full, dropping %s", ev))
		return false
	}
	d.mailbox = append(d.mailbox, ev)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
		// Already signalled
	}
	return true
}

// clear drops events that have not reached the handler yet.
func (d *dispatcher) clear() {
	d.mu.Lock()
	d.mailbox = d.mailbox[:0]
	d.mu.Unlock()
}

func (d *dispatcher) next() (Event, EventHandler, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.mailbox) == 0 {
		return Event{}, nil, false
	}
	ev := d.mailbox[0]
	copy(d.mailbox, d.mailbox[1:])
	d.mailbox = d.mailbox[:len(d.mailbox)-1]
	return ev, d.handler, true
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.quit:
			return
		case <-d.notify:
		}
		for {
			ev, h, ok := d.next()
			if !ok {
				break
			}
			if h != nil {
				h(ev)
			}
		}
	}
}

// stop waits for the handler in progress, if any, to return.
// It must not be called from the handler itself.
func (d *dispatcher) stop() {
	close(d.quit)
	<-d.done
}
