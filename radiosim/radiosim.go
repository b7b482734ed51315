// Package radiosim simulates the air between ESB transceivers.
//
// A Medium connects any number of Radios. A transmitted frame reaches
// every other radio that is tuned to the same channel and bitrate and is
// listening on an address the frame starts with. Loss is drawn from a
// seeded generator so runs are reproducible.
package radiosim

import (
	"bytes"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/michcald/esb"
)

// SignalBuffer is the depth of each radio's signal channel. Signals that
// do not fit are dropped, like an overrun receiver.
const SignalBuffer = 64

// DefaultRSSI is reported for every received frame.
const DefaultRSSI = -40

// Record describes one frame on air.
type Record struct {
	Time    time.Time
	From    string
	Channel uint8
	Bitrate esb.Bitrate
	Frame   []byte
	// Receivers lists the radios that got the frame.
	Receivers []string
}

type Option func(*Medium)

// WithLoss drops each delivery with probability p, using a PCG source seeded with seed.
func WithLoss(p float64, seed uint64) Option {
	return func(m *Medium) {
		m.loss = p
		m.rng = rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	}
}

// WithLatency delays every frame by d between Transmit and delivery.
func WithLatency(d time.Duration) Option {
	return func(m *Medium) {
		m.latency = d
	}
}

// WithTap calls fn for every frame on air, after delivery.
func WithTap(fn func(Record)) Option {
	return func(m *Medium) {
		m.taps = append(m.taps, fn)
	}
}

type Medium struct {
	mu      sync.Mutex
	radios  []*Radio
	rng     *rand.Rand
	loss    float64
	latency time.Duration
	taps    []func(Record)
	log     []Record
}

func NewMedium(opts ...Option) *Medium {
	m := &Medium{rng: rand.New(rand.NewPCG(1, 2))}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewRadio attaches a new radio to the medium.
func (m *Medium) NewRadio(name string) *Radio {
	r := &Radio{
		name:    name,
		medium:  m,
		signals: make(chan esb.Signal, SignalBuffer),
	}
	m.mu.Lock()
	m.radios = append(m.radios, r)
	m.mu.Unlock()
	return r
}

// Log returns every frame sent so far.
func (m *Medium) Log() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.log...)
}

// Sent returns the frames sent by the named radio.
func (m *Medium) Sent(name string) []Record {
	var out []Record
	for _, rec := range m.Log() {
		if rec.From == name {
			out = append(out, rec)
		}
	}
	return out
}

func (m *Medium) dropped() bool {
	return m.loss > 0 && m.rng.Float64() < m.loss
}

// deliver puts frame on air. The sender's completion is signalled before
// any receiver sees the frame, so an answer can never overtake it.
func (m *Medium) deliver(from *Radio, gen uint64, s esb.RadioSettings, frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !from.complete(gen) {
		return
	}
	rec := Record{Time: time.Now(), From: from.name, Channel: s.Channel, Bitrate: s.Bitrate, Frame: frame}
	for _, r := range m.radios {
		if r == from || m.dropped() {
			continue
		}
		if r.receive(s, frame) {
			rec.Receivers = append(rec.Receivers, r.name)
		}
	}
	m.log = append(m.log, rec)
	for _, tap := range m.taps {
		tap(rec)
	}
}

// Radio is a simulated transceiver. It implements esb.Transceiver.
type Radio struct {
	name   string
	medium *Medium

	mu       sync.Mutex
	settings esb.RadioSettings
	listen   [][]byte
	gen      uint64
	sending  bool
	rssi     int8
	signals  chan esb.Signal
}

func (r *Radio) Name() string {
	return r.name
}

// SetRSSI changes the signal strength reported for frames this radio receives.
func (r *Radio) SetRSSI(dbm int8) {
	r.mu.Lock()
	r.rssi = dbm
	r.mu.Unlock()
}

func (r *Radio) Apply(s esb.RadioSettings) error {
	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()
	return nil
}

func (r *Radio) Settings() esb.RadioSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

func (r *Radio) Transmit(frame []byte) error {
	r.mu.Lock()
	s := r.settings
	gen := r.gen
	r.sending = true
	r.mu.Unlock()

	frame = append([]byte(nil), frame...)
	if d := r.medium.latency; d > 0 {
		time.AfterFunc(d, func() { r.medium.deliver(r, gen, s, frame) })
		return nil
	}
	r.medium.deliver(r, gen, s, frame)
	return nil
}

func (r *Radio) Listen(addrs [][]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listen = make([][]byte, len(addrs))
	for i, a := range addrs {
		if a != nil {
			r.listen[i] = append([]byte(nil), a...)
		}
	}
	if addrs == nil {
		r.listen = nil
	}
	return nil
}

// Disable stops reception and cancels a transmission that is still in the air.
func (r *Radio) Disable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listen = nil
	r.sending = false
	r.gen++
	return nil
}

func (r *Radio) Signals() <-chan esb.Signal {
	return r.signals
}

// Inject hands frame to the radio as if it came from the air on the
// radio's current channel.
func (r *Radio) Inject(frame []byte) bool {
	r.mu.Lock()
	s := r.settings
	r.mu.Unlock()
	return r.receive(s, append([]byte(nil), frame...))
}

// complete ends the transmission started in generation gen.
func (r *Radio) complete(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return false
	}
	r.sending = false
	r.emit(esb.Signal{Kind: esb.SignalSent})
	return true
}

func (r *Radio) receive(s esb.RadioSettings, frame []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sending || r.settings.Channel != s.Channel || r.settings.Bitrate != s.Bitrate {
		return false
	}
	for pipe, addr := range r.listen {
		if addr == nil || !bytes.HasPrefix(frame, addr) {
			continue
		}
		rssi := r.rssi
		if rssi == 0 {
			rssi = DefaultRSSI
		}
		return r.emit(esb.Signal{Kind: esb.SignalReceived, Pipe: pipe, Frame: frame, RSSI: rssi})
	}
	return false
}

// emit must be called with r.mu held.
func (r *Radio) emit(sig esb.Signal) bool {
	select {
	case r.signals <- sig:
		return true
	default:
		return false
	}
}
