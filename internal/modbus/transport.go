// Package modbus implements the subset of Modbus RTU the probe speaks: read
// holding registers (0x03) and write multiple registers (0x10) against a
// single slave, with 16-bit word addresses.
//
// A Transport owns its Link and runs exactly one transaction at a time. The
// protocol has no request identifiers, so a request is never sent before the
// previous answer or its timeout has resolved. Nothing is retried.
package modbus

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ubertone/peacock-go/internal/crc"
	"github.com/ubertone/peacock-go/internal/fault"
)

const (
	FuncRead  = 0x03
	FuncWrite = 0x10

	// exceptionBit marks an error answer from the device.
	exceptionBit = 0x80

	DefaultSlave   = 0x04
	DefaultTimeout = 2 * time.Second

	MaxReadWords  = 125
	MaxWriteWords = 123
)

// ErrClosed is wrapped in the transport fault returned after Close.
var ErrClosed = errors.New("link closed")

// Option configures a Transport.
type Option func(*Transport)

// WithSlave sets the slave address (default 0x04).
func WithSlave(addr byte) Option {
	return func(t *Transport) { t.slave = addr }
}

// WithTimeout sets the per-transaction time bound.
func WithTimeout(d time.Duration) Option {
	return func(t *Transport) { t.timeout = d }
}

// WithRateLimit paces transactions to at most perSec per second. Slow
// USB-RS485 adapters drop frames when requests arrive back to back.
func WithRateLimit(perSec float64, burst int) Option {
	return func(t *Transport) { t.limiter = rate.NewLimiter(rate.Limit(perSec), burst) }
}

// Transport frames requests, validates answers and segments long reads.
// It is safe for concurrent use; callers are serialized.
type Transport struct {
	mu      sync.Mutex
	link    Link
	slave   byte
	timeout time.Duration
	limiter *rate.Limiter
	closed  bool
}

// New wraps link. The Transport takes ownership of it.
func New(link Link, opts ...Option) *Transport {
	t := &Transport{
		link:    link,
		slave:   DefaultSlave,
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// SetTimeout changes the per-transaction time bound. Long device actions
// raise it for a single exchange and restore it afterwards.
func (t *Transport) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slog.Debug("modbus: timeout", "from", t.timeout, "to", d)
	t.timeout = d
}

// Timeout returns the per-transaction time bound.
func (t *Transport) Timeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeout
}

// Close releases the link. It is idempotent and ignores errors from a link
// that is already broken.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.link.Close(); err != nil {
		slog.Debug("modbus: close", "err", err)
	}
	return nil
}

// begin waits for the rate limiter and takes the transaction lock. The
// returned deadline bounds the whole exchange.
func (t *Transport) begin(ctx context.Context, op string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, fault.Interrupted(op, err)
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return time.Time{}, fault.Interrupted(op, err)
		}
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return time.Time{}, fault.Transport(op, ErrClosed)
	}
	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return deadline, nil
}

// inputResetter is implemented by links that can drop stale input, such as
// go.bug.st/serial ports.
type inputResetter interface {
	ResetInputBuffer() error
}

func (t *Transport) send(op string, frame []byte) error {
	// bytes left over from an abandoned answer would shift this one
	if r, ok := t.link.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return fault.Transport(op, err)
		}
	}
	n, err := t.link.Write(frame)
	if err != nil {
		return fault.Transport(op, err)
	}
	if n != len(frame) {
		return fault.Transport(op, fmt.Errorf("short write %d/%d", n, len(frame)))
	}
	return nil
}

// readFull accumulates exactly len(buf) bytes or fails when deadline passes.
func (t *Transport) readFull(op string, buf []byte, deadline time.Time) error {
	got := 0
	for got < len(buf) {
		left := time.Until(deadline)
		if left <= 0 {
			if got == 0 {
				return fault.Timeout(op, "device did not answer (check cable and baud rate)")
			}
			return fault.Timeout(op, "incomplete answer %d/%d bytes", got, len(buf))
		}
		if err := t.link.SetReadTimeout(left); err != nil {
			return fault.Transport(op, err)
		}
		n, err := t.link.Read(buf[got:])
		if err != nil {
			return fault.Transport(op, err)
		}
		got += n
	}
	return nil
}

// ReadRaw reads count words at addr in one transaction and returns the
// payload bytes, big-endian.
func (t *Transport) ReadRaw(ctx context.Context, addr uint16, count int) ([]byte, error) {
	op := fmt.Sprintf("modbus: read %d words at %#04x", count, addr)
	if count < 1 || count > MaxReadWords {
		return nil, fault.Configuration(op, "word count must be in [1, %d]", MaxReadWords)
	}
	deadline, err := t.begin(ctx, op)
	if err != nil {
		return nil, err
	}
	defer t.mu.Unlock()

	req := make([]byte, 0, 8)
	req = append(req, t.slave, FuncRead)
	req = binary.BigEndian.AppendUint16(req, addr)
	req = binary.BigEndian.AppendUint16(req, uint16(count))
	if err := t.send(op, crc.Append(req)); err != nil {
		return nil, err
	}

	head := make([]byte, 3)
	if err := t.readFull(op, head, deadline); err != nil {
		return nil, err
	}
	if head[0] != t.slave {
		return nil, fault.Timeout(op, "answer from slave %#02x, want %#02x", head[0], t.slave)
	}
	if head[1] != FuncRead {
		return nil, fault.Timeout(op, "unexpected function %#02x in answer", head[1])
	}
	resp := append(head, make([]byte, int(head[2])+2)...)
	if err := t.readFull(op, resp[3:], deadline); err != nil {
		return nil, err
	}
	if !crc.Valid(resp) {
		return nil, fault.Timeout(op, "crc mismatch")
	}
	payload := resp[3 : len(resp)-2]
	if len(payload) != 2*count {
		return nil, fault.Timeout(op, "answer holds %d bytes, want %d", len(payload), 2*count)
	}
	return payload, nil
}

// ReadWords reads count signed words at addr in one transaction.
func (t *Transport) ReadWords(ctx context.Context, addr uint16, count int) ([]int16, error) {
	raw, err := t.ReadRaw(ctx, addr, count)
	if err != nil {
		return nil, err
	}
	return Words(raw), nil
}

// ReadWord reads a single signed word.
func (t *Transport) ReadWord(ctx context.Context, addr uint16) (int16, error) {
	w, err := t.ReadWords(ctx, addr, 1)
	if err != nil {
		return 0, err
	}
	return w[0], nil
}

// ReadBuffer reads total words starting at addr, split into as many
// transactions of at most MaxReadWords as needed.
func (t *Transport) ReadBuffer(ctx context.Context, addr uint16, total int) ([]byte, error) {
	if total < 1 {
		return nil, fault.Configuration("modbus: read buffer", "word count must be positive, got %d", total)
	}
	data := make([]byte, 0, 2*total)
	for left := total; left > 0; {
		seg := min(left, MaxReadWords)
		raw, err := t.ReadRaw(ctx, addr, seg)
		if err != nil {
			return nil, err
		}
		data = append(data, raw...)
		addr += uint16(seg)
		left -= seg
	}
	return data, nil
}

// ReadBufferWords is ReadBuffer decoded to signed words.
func (t *Transport) ReadBufferWords(ctx context.Context, addr uint16, total int) ([]int16, error) {
	raw, err := t.ReadBuffer(ctx, addr, total)
	if err != nil {
		return nil, err
	}
	return Words(raw), nil
}

// WriteWords writes values at addr in one transaction. A device error frame
// is returned as a fault of kind Rejected carrying its function byte and
// payload.
func (t *Transport) WriteWords(ctx context.Context, addr uint16, values []int16) error {
	op := fmt.Sprintf("modbus: write %d words at %#04x", len(values), addr)
	if len(values) < 1 || len(values) > MaxWriteWords {
		return fault.Configuration(op, "word count must be in [1, %d]", MaxWriteWords)
	}
	deadline, err := t.begin(ctx, op)
	if err != nil {
		return err
	}
	defer t.mu.Unlock()

	req := make([]byte, 0, 9+2*len(values))
	req = append(req, t.slave, FuncWrite)
	req = binary.BigEndian.AppendUint16(req, addr)
	req = binary.BigEndian.AppendUint16(req, uint16(len(values)))
	req = append(req, byte(2*len(values)))
	for _, v := range values {
		req = binary.BigEndian.AppendUint16(req, uint16(v))
	}
	if err := t.send(op, crc.Append(req)); err != nil {
		return err
	}

	resp := make([]byte, 2, 8)
	if err := t.readFull(op, resp, deadline); err != nil {
		return err
	}
	if resp[0] != t.slave {
		return fault.Timeout(op, "answer from slave %#02x, want %#02x", resp[0], t.slave)
	}
	switch {
	case resp[1] == FuncWrite:
	case resp[1]&exceptionBit != 0:
		size := make([]byte, 1)
		if err := t.readFull(op, size, deadline); err != nil {
			return err
		}
		payload := make([]byte, size[0])
		if err := t.readFull(op, payload, deadline); err != nil {
			return err
		}
		slog.Warn("modbus: write rejected", "addr", addr, "func", resp[1], "payload", fmt.Sprintf("% x", payload))
		return fault.Rejected(op, resp[1], payload)
	default:
		return fault.Timeout(op, "unexpected function %#02x in answer", resp[1])
	}
	resp = resp[:8]
	if err := t.readFull(op, resp[2:], deadline); err != nil {
		return err
	}
	if !crc.Valid(resp) {
		return fault.Timeout(op, "crc mismatch in acknowledge")
	}
	if !bytes.Equal(resp[2:6], req[2:6]) {
		return fault.Timeout(op, "acknowledge for % x, want % x", resp[2:6], req[2:6])
	}
	return nil
}

// WriteWord writes a single word.
func (t *Transport) WriteWord(ctx context.Context, addr uint16, v int16) error {
	return t.WriteWords(ctx, addr, []int16{v})
}

// WriteBuffer writes values at addr. Unlike ReadBuffer it never splits:
// more than MaxWriteWords is refused before anything is sent.
func (t *Transport) WriteBuffer(ctx context.Context, addr uint16, values []int16) error {
	return t.WriteWords(ctx, addr, values)
}

// Words decodes big-endian signed words. A trailing odd byte is ignored.
func Words(b []byte) []int16 {
	w := make([]int16, len(b)/2)
	for i := range w {
		w[i] = int16(binary.BigEndian.Uint16(b[2*i:]))
	}
	return w
}
