package modbus_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ubertone/peacock-go/internal/crc"
	"github.com/ubertone/peacock-go/internal/fault"
	"github.com/ubertone/peacock-go/internal/modbus"
)

func newTransport(t *testing.T) (*modbus.Transport, *modbus.MockDevice) {
	t.Helper()
	dev := modbus.NewMockDevice()
	tr := modbus.New(dev, modbus.WithTimeout(50*time.Millisecond))
	t.Cleanup(func() { tr.Close() })
	return tr, dev
}

func TestReadWords(t *testing.T) {
	tr, dev := newTransport(t)
	dev.Store(0x0010, 1, -2, 32767, -32768)

	got, err := tr.ReadWords(context.Background(), 0x0010, 4)
	require.NoError(t, err)
	require.Equal(t, []int16{1, -2, 32767, -32768}, got)

	w, err := tr.ReadWord(context.Background(), 0x0011)
	require.NoError(t, err)
	require.Equal(t, int16(-2), w)
}

func TestReadRequestFrame(t *testing.T) {
	link := &recordingLink{}
	tr := modbus.New(link, modbus.WithTimeout(10*time.Millisecond))
	_, err := tr.ReadRaw(context.Background(), 0xFFFD, 1)
	require.ErrorIs(t, err, fault.ErrTimeout)

	want := crc.Append([]byte{0x04, 0x03, 0xFF, 0xFD, 0x00, 0x01})
	require.Equal(t, want, link.written)
}

func TestWriteRequestFrame(t *testing.T) {
	link := &recordingLink{}
	tr := modbus.New(link, modbus.WithTimeout(10*time.Millisecond))
	_ = tr.WriteWords(context.Background(), 0x0011, []int16{35, -1})

	want := crc.Append([]byte{0x04, 0x10, 0x00, 0x11, 0x00, 0x02, 0x04, 0x00, 0x23, 0xFF, 0xFF})
	require.Equal(t, want, link.written)
}

func TestWriteThenRead(t *testing.T) {
	tr, dev := newTransport(t)
	ctx := context.Background()
	values := make([]int16, modbus.MaxWriteWords)
	for i := range values {
		values[i] = int16(i*7 - 300)
	}
	require.NoError(t, tr.WriteWords(ctx, 0x0100, values))
	require.Equal(t, values, dev.Load(0x0100, len(values)))

	got, err := tr.ReadBufferWords(ctx, 0x0100, len(values))
	require.NoError(t, err)
	require.Equal(t, values, got)
}

// Scenario B: segmentation of long reads.
func TestReadBufferSegments(t *testing.T) {
	tests := []struct {
		total int
		want  []modbus.Request
	}{
		{1, []modbus.Request{{Func: 0x03, Addr: 0x0200, Count: 1}}},
		{125, []modbus.Request{{Func: 0x03, Addr: 0x0200, Count: 125}}},
		{130, []modbus.Request{
			{Func: 0x03, Addr: 0x0200, Count: 125},
			{Func: 0x03, Addr: 0x0200 + 125, Count: 5},
		}},
		{250, []modbus.Request{
			{Func: 0x03, Addr: 0x0200, Count: 125},
			{Func: 0x03, Addr: 0x0200 + 125, Count: 125},
		}},
	}
	for _, tc := range tests {
		tr, dev := newTransport(t)
		for i := 0; i < tc.total; i++ {
			dev.Store(0x0200+uint16(i), int16(i))
		}
		raw, err := tr.ReadBuffer(context.Background(), 0x0200, tc.total)
		require.NoError(t, err)
		require.Len(t, raw, 2*tc.total)
		require.Equal(t, tc.want, dev.Requests(), "total %d", tc.total)

		words := modbus.Words(raw)
		for i, w := range words {
			require.Equal(t, int16(i), w)
		}
	}
}

// Scenario C: oversized writes are refused, never split.
func TestWriteBufferRejectsOversize(t *testing.T) {
	tr, dev := newTransport(t)
	err := tr.WriteBuffer(context.Background(), 0x0000, make([]int16, 150))
	require.ErrorIs(t, err, fault.ErrConfiguration)
	require.Empty(t, dev.Requests())

	err = tr.WriteWords(context.Background(), 0x0000, nil)
	require.ErrorIs(t, err, fault.ErrConfiguration)
}

func TestReadCountBounds(t *testing.T) {
	tr, dev := newTransport(t)
	for _, n := range []int{0, -1, 126} {
		_, err := tr.ReadRaw(context.Background(), 0, n)
		require.ErrorIs(t, err, fault.ErrConfiguration, "count %d", n)
	}
	require.Empty(t, dev.Requests())
}

func TestProtocolFaults(t *testing.T) {
	tests := []struct {
		name  string
		fault modbus.Fault
		want  error
	}{
		{"no answer", modbus.FaultSilent, fault.ErrTimeout},
		{"partial answer", modbus.FaultTruncate, fault.ErrTimeout},
		{"bad crc", modbus.FaultCorruptCRC, fault.ErrTimeout},
		{"wrong function", modbus.FaultWrongFunc, fault.ErrTimeout},
		{"wrong slave", modbus.FaultWrongSlave, fault.ErrTimeout},
		{"read error", modbus.FaultLinkRead, fault.ErrTransport},
		{"write error", modbus.FaultLinkWrite, fault.ErrTransport},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr, dev := newTransport(t)
			dev.Store(0x0000, 45)
			dev.SetFault(tc.fault)

			_, err := tr.ReadWords(context.Background(), 0x0000, 1)
			require.ErrorIs(t, err, tc.want)

			// the transport stays usable once the link recovers
			dev.SetFault(modbus.FaultNone)
			w, err := tr.ReadWord(context.Background(), 0x0000)
			require.NoError(t, err)
			require.Equal(t, int16(45), w)
		})
	}
}

func TestWriteProtocolFaults(t *testing.T) {
	tests := []struct {
		name  string
		fault modbus.Fault
		want  error
	}{
		{"no acknowledge", modbus.FaultSilent, fault.ErrTimeout},
		{"partial acknowledge", modbus.FaultTruncate, fault.ErrTimeout},
		{"bad acknowledge crc", modbus.FaultCorruptCRC, fault.ErrTimeout},
		{"wrong function", modbus.FaultWrongFunc, fault.ErrTimeout},
		{"wrong slave", modbus.FaultWrongSlave, fault.ErrTimeout},
		{"read error", modbus.FaultLinkRead, fault.ErrTransport},
		{"write error", modbus.FaultLinkWrite, fault.ErrTransport},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr, dev := newTransport(t)
			dev.SetFault(tc.fault)

			err := tr.WriteWords(context.Background(), 0x0020, []int16{7, 8})
			require.ErrorIs(t, err, tc.want)
			require.NotErrorIs(t, err, fault.ErrRejected)

			dev.SetFault(modbus.FaultNone)
			require.NoError(t, tr.WriteWords(context.Background(), 0x0020, []int16{9, 10}))
			require.Equal(t, []int16{9, 10}, dev.Load(0x0020, 2))
		})
	}
}

func TestWriteAcknowledge(t *testing.T) {
	ack := crc.Append([]byte{0x04, 0x10, 0x00, 0x11, 0x00, 0x02})
	link := &recordingLink{answer: ack}
	tr := modbus.New(link, modbus.WithTimeout(50*time.Millisecond))
	require.NoError(t, tr.WriteWords(context.Background(), 0x0011, []int16{35, -1}))

	// an acknowledge for another register range is not this write's
	other := crc.Append([]byte{0x04, 0x10, 0x00, 0x12, 0x00, 0x02})
	link = &recordingLink{answer: other}
	tr = modbus.New(link, modbus.WithTimeout(50*time.Millisecond))
	err := tr.WriteWords(context.Background(), 0x0011, []int16{35, -1})
	require.ErrorIs(t, err, fault.ErrTimeout)
}

func TestTimeoutHonoured(t *testing.T) {
	tr, dev := newTransport(t)
	dev.SetFault(modbus.FaultSilent)

	start := time.Now()
	_, err := tr.ReadWords(context.Background(), 0, 1)
	require.ErrorIs(t, err, fault.ErrTimeout)
	require.Less(t, time.Since(start), time.Second)

	// a context deadline shorter than the transport bound wins
	tr.SetTimeout(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start = time.Now()
	_, err = tr.ReadWords(ctx, 0, 1)
	require.ErrorIs(t, err, fault.ErrTimeout)
	require.Less(t, time.Since(start), time.Second)
}

func TestWriteRejected(t *testing.T) {
	tr, dev := newTransport(t)
	dev.RejectPayload = []byte{0x02, 0x11}
	dev.SetFault(modbus.FaultReject)

	err := tr.WriteWord(context.Background(), 0xFFFD, 5)
	require.ErrorIs(t, err, fault.ErrRejected)

	var fe *fault.Error
	require.True(t, errors.As(err, &fe))
	require.Equal(t, byte(0x90), fe.Func)
	require.Equal(t, []byte{0x02, 0x11}, fe.Payload)

	dev.SetFault(modbus.FaultNone)
	require.NoError(t, tr.WriteWord(context.Background(), 0xFFFD, 5))
}

func TestCloseIdempotent(t *testing.T) {
	tr, _ := newTransport(t)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, err := tr.ReadWords(context.Background(), 0, 1)
	require.ErrorIs(t, err, fault.ErrTransport)
	require.ErrorIs(t, err, modbus.ErrClosed)
}

func TestCloseBrokenLink(t *testing.T) {
	tr := modbus.New(&recordingLink{closeErr: errors.New("device gone")})
	require.NoError(t, tr.Close())
}

func TestCanceledContext(t *testing.T) {
	tr, dev := newTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.ReadWords(ctx, 0, 1)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, fault.KindTimeout, fault.KindOf(err))
	require.Empty(t, dev.Requests())

	err = tr.WriteWord(ctx, 0, 1)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, fault.KindTimeout, fault.KindOf(err))
}

func TestRateLimitWaitPastDeadline(t *testing.T) {
	dev := modbus.NewMockDevice()
	tr := modbus.New(dev, modbus.WithTimeout(50*time.Millisecond), modbus.WithRateLimit(0.01, 1))
	defer tr.Close()

	_, err := tr.ReadWord(context.Background(), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = tr.ReadWord(ctx, 0)
	require.ErrorIs(t, err, fault.ErrTimeout)
	require.Len(t, dev.Requests(), 1)
}

func TestConcurrentCallersAreSerialized(t *testing.T) {
	dev := modbus.NewMockDevice()
	tr := modbus.New(dev, modbus.WithTimeout(time.Second), modbus.WithRateLimit(10000, 10))
	defer tr.Close()
	for i := 0; i < 16; i++ {
		dev.Store(uint16(i*10), int16(i))
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := tr.ReadWord(context.Background(), uint16(i*10))
			if err == nil && w != int16(i) {
				err = errors.New("answer delivered to the wrong caller")
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, dev.Requests(), 16)
}

func TestParseBaud(t *testing.T) {
	b, err := modbus.ParseBaud(0)
	require.NoError(t, err)
	require.Equal(t, modbus.DefaultBaud, b)

	for _, ok := range modbus.Bauds {
		_, err := modbus.ParseBaud(ok)
		require.NoError(t, err)
	}
	_, err = modbus.ParseBaud(9600)
	require.Error(t, err)
}

// recordingLink captures what is written and answers with a canned frame,
// or never when answer is empty.
type recordingLink struct {
	written  []byte
	answer   []byte
	closeErr error
}

func (l *recordingLink) Read(p []byte) (int, error) {
	if len(l.written) > 0 && len(l.answer) > 0 {
		n := copy(p, l.answer)
		l.answer = l.answer[n:]
		return n, nil
	}
	time.Sleep(time.Millisecond)
	return 0, nil
}

func (l *recordingLink) Write(p []byte) (int, error) {
	l.written = append(l.written, p...)
	return len(p), nil
}

func (l *recordingLink) Close() error                       { return l.closeErr }
func (l *recordingLink) SetReadTimeout(time.Duration) error { return nil }
