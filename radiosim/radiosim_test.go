package radiosim

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michcald/esb"
)

var addr = []byte{0xE7, 0xE7, 0xE7, 0xE7, 0xE7}

func tuned(t *testing.T, r *Radio, ch uint8) {
	t.Helper()
	require.NoError(t, r.Apply(esb.RadioSettings{Channel: ch, Bitrate: esb.Bitrate2Mbps, AddressLength: 5}))
}

func frame(payload ...byte) []byte {
	return append(append([]byte(nil), addr...), payload...)
}

func TestSenderCompletesBeforeDelivery(t *testing.T) {
	m := NewMedium()
	a, b := m.NewRadio("a"), m.NewRadio("b")
	tuned(t, a, 2)
	tuned(t, b, 2)
	require.NoError(t, b.Listen([][]byte{nil, addr}))

	require.NoError(t, a.Transmit(frame(1)))

	sent := <-a.Signals()
	assert.Equal(t, esb.SignalSent, sent.Kind)
	got := <-b.Signals()
	assert.Equal(t, esb.SignalReceived, got.Kind)
	assert.Equal(t, 1, got.Pipe)
	assert.Equal(t, frame(1), got.Frame)
	assert.Equal(t, int8(DefaultRSSI), got.RSSI)

	log := m.Log()
	require.Len(t, log, 1)
	assert.Equal(t, "a", log[0].From)
	assert.Equal(t, []string{"b"}, log[0].Receivers)
}

func TestReceiverFilters(t *testing.T) {
	m := NewMedium()
	a, b := m.NewRadio("a"), m.NewRadio("b")
	tuned(t, a, 2)

	tests := []struct {
		name   string
		setup  func()
		expect bool
	}{
		{"not listening", func() { tuned(t, b, 2); require.NoError(t, b.Listen(nil)) }, false},
		{"other channel", func() { tuned(t, b, 3); require.NoError(t, b.Listen([][]byte{addr})) }, false},
		{"other bitrate", func() {
			require.NoError(t, b.Apply(esb.RadioSettings{Channel: 2, Bitrate: esb.Bitrate1Mbps}))
			require.NoError(t, b.Listen([][]byte{addr}))
		}, false},
		{"other address", func() { tuned(t, b, 2); require.NoError(t, b.Listen([][]byte{{1, 2, 3}})) }, false},
		{"match", func() { tuned(t, b, 2); require.NoError(t, b.Listen([][]byte{addr})) }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			before := len(m.Log())
			require.NoError(t, a.Transmit(frame(9)))
			<-a.Signals()
			rec := m.Log()[before]
			assert.Equal(t, tt.expect, len(rec.Receivers) == 1)
			if tt.expect {
				<-b.Signals()
			}
		})
	}
}

func TestLossIsReproducible(t *testing.T) {
	run := func() []int {
		m := NewMedium(WithLoss(0.5, 42))
		a, b := m.NewRadio("a"), m.NewRadio("b")
		tuned(t, a, 2)
		tuned(t, b, 2)
		require.NoError(t, b.Listen([][]byte{addr}))

		var got []int
		for i := range 40 {
			require.NoError(t, a.Transmit(frame(byte(i))))
			<-a.Signals()
			select {
			case <-b.Signals():
				got = append(got, i)
			default:
			}
		}
		return got
	}

	first := run()
	assert.Equal(t, first, run())
	assert.NotEmpty(t, first)
	assert.Less(t, len(first), 40)
}

func TestLatency(t *testing.T) {
	m := NewMedium(WithLatency(20 * time.Millisecond))
	a := m.NewRadio("a")
	tuned(t, a, 2)

	start := time.Now()
	require.NoError(t, a.Transmit(frame(1)))
	assert.Empty(t, m.Log())
	<-a.Signals()
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestDisableCancelsTransmission(t *testing.T) {
	m := NewMedium(WithLatency(10 * time.Millisecond))
	a := m.NewRadio("a")
	tuned(t, a, 2)

	require.NoError(t, a.Transmit(frame(1)))
	require.NoError(t, a.Disable())

	select {
	case sig := <-a.Signals():
		t.Fatalf("unexpected %s after disable", sig.Kind)
	case <-time.After(40 * time.Millisecond):
	}
	assert.Empty(t, m.Log())
}

func TestTapAndSent(t *testing.T) {
	var (
		mu     sync.Mutex
		tapped []Record
	)
	m := NewMedium(WithTap(func(r Record) {
		mu.Lock()
		tapped = append(tapped, r)
		mu.Unlock()
	}))
	a, b := m.NewRadio("a"), m.NewRadio("b")
	tuned(t, a, 7)
	tuned(t, b, 7)

	require.NoError(t, a.Transmit(frame(1)))
	require.NoError(t, b.Transmit(frame(2)))
	require.NoError(t, a.Transmit(frame(3)))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, tapped, 3)
	assert.Equal(t, uint8(7), tapped[0].Channel)
	assert.Len(t, m.Sent("a"), 2)
	assert.Len(t, m.Sent("b"), 1)
}

func TestInjectAndRSSI(t *testing.T) {
	m := NewMedium()
	r := m.NewRadio("r")
	tuned(t, r, 2)
	r.SetRSSI(-70)

	assert.False(t, r.Inject(frame(1)), "not listening")
	require.NoError(t, r.Listen([][]byte{addr}))
	require.True(t, r.Inject(frame(1)))

	sig := <-r.Signals()
	assert.Equal(t, int8(-70), sig.RSSI)
	assert.Equal(t, 0, sig.Pipe)
}
