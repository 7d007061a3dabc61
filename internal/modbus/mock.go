package modbus

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/ubertone/peacock-go/internal/crc"
)

// Fault selects a misbehaviour of a MockDevice.
type Fault int

const (
	FaultNone Fault = iota
	// FaultSilent swallows requests and never answers.
	FaultSilent
	// FaultTruncate sends only the first half of each answer.
	FaultTruncate
	// FaultCorruptCRC flips a bit in the answer CRC.
	FaultCorruptCRC
	// FaultWrongFunc echoes function 0x04 instead of the request's.
	FaultWrongFunc
	// FaultReject answers writes with an error frame.
	FaultReject
	// FaultLinkRead makes Read return an I/O error.
	FaultLinkRead
	// FaultLinkWrite makes Write return an I/O error.
	FaultLinkWrite
	// FaultWrongSlave answers from another slave address with a valid CRC.
	FaultWrongSlave
)

// Request is one transaction a MockDevice served.
type Request struct {
	Func  byte
	Addr  uint16
	Count int
}

// MockDevice is an in-memory probe on the other end of a Link. It keeps a
// 64 Ki-word register memory and answers read and write frames the way the
// firmware does.
type MockDevice struct {
	mu       sync.Mutex
	mem      map[uint16]int16
	out      []byte
	requests []Request
	fault    Fault
	closed   bool
	timeout  time.Duration

	// RejectPayload is the body of the error frame sent under FaultReject.
	RejectPayload []byte

	// OnWrite, if set, runs after a write has been stored and before it is
	// acknowledged. It may call Load and Store.
	OnWrite func(addr uint16, values []int16)
}

// NewMockDevice returns a device with zeroed memory.
func NewMockDevice() *MockDevice {
	return &MockDevice{
		mem:           make(map[uint16]int16),
		timeout:       DefaultTimeout,
		RejectPayload: []byte{0x02},
	}
}

// SetFault makes every following transaction misbehave as f until reset
// with FaultNone.
func (m *MockDevice) SetFault(f Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

// Store writes values into device memory without a transaction.
func (m *MockDevice) Store(addr uint16, values ...int16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, v := range values {
		m.mem[addr+uint16(i)] = v
	}
}

// Load reads count words of device memory without a transaction.
func (m *MockDevice) Load(addr uint16, count int) []int16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int16, count)
	for i := range out {
		out[i] = m.mem[addr+uint16(i)]
	}
	return out
}

// Requests returns the transactions served so far.
func (m *MockDevice) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// ResetRequests clears the transaction log.
func (m *MockDevice) ResetRequests() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

func (m *MockDevice) SetReadTimeout(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = d
	return nil
}

// ResetInputBuffer drops answer bytes not yet read.
func (m *MockDevice) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.out = nil
	return nil
}

func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Read returns pending answer bytes. With nothing pending it waits for the
// read timeout (capped to a few milliseconds) and returns 0, nil, as a
// serial port does.
func (m *MockDevice) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if m.fault == FaultLinkRead {
		m.mu.Unlock()
		return 0, errors.New("mock: read failure configured")
	}
	if len(m.out) == 0 {
		wait := min(m.timeout, 2*time.Millisecond)
		m.mu.Unlock()
		time.Sleep(wait)
		return 0, nil
	}
	n := copy(p, m.out)
	m.out = m.out[n:]
	m.mu.Unlock()
	return n, nil
}

// Write accepts one complete request frame.
func (m *MockDevice) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if m.fault == FaultLinkWrite {
		m.mu.Unlock()
		return 0, errors.New("mock: write failure configured")
	}
	// a frame with a bad CRC is dropped, as the firmware does
	if len(p) < 8 || !crc.Valid(p) {
		m.mu.Unlock()
		return len(p), nil
	}
	fn := p[1]
	addr := binary.BigEndian.Uint16(p[2:])
	count := int(binary.BigEndian.Uint16(p[4:]))
	m.requests = append(m.requests, Request{Func: fn, Addr: addr, Count: count})
	f := m.fault

	var answer []byte
	switch fn {
	case FuncRead:
		answer = []byte{p[0], FuncRead, byte(2 * count)}
		for i := 0; i < count; i++ {
			answer = binary.BigEndian.AppendUint16(answer, uint16(m.mem[addr+uint16(i)]))
		}
		answer = crc.Append(answer)
	case FuncWrite:
		if f == FaultReject {
			answer = append([]byte{p[0], FuncWrite | 0x80, byte(len(m.RejectPayload))}, m.RejectPayload...)
			break
		}
		if len(p) != 9+2*count {
			m.mu.Unlock()
			return len(p), nil
		}
		values := make([]int16, count)
		for i := range values {
			values[i] = int16(binary.BigEndian.Uint16(p[7+2*i:]))
			m.mem[addr+uint16(i)] = values[i]
		}
		if hook := m.OnWrite; hook != nil {
			m.mu.Unlock()
			hook(addr, values)
			m.mu.Lock()
		}
		answer = crc.Append(append([]byte(nil), p[:6]...))
	default:
		m.mu.Unlock()
		return len(p), nil
	}

	switch f {
	case FaultSilent:
		answer = nil
	case FaultTruncate:
		answer = answer[:len(answer)/2]
	case FaultCorruptCRC:
		answer[len(answer)-1] ^= 0x01
	case FaultWrongFunc:
		answer[1] = 0x04
	case FaultWrongSlave:
		answer[0]++
		answer = crc.Append(answer[:len(answer)-2])
	}
	m.out = append(m.out, answer...)
	m.mu.Unlock()
	return len(p), nil
}
