package fault_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/ubertone/peacock-go/internal/fault"
)

func TestIsMatchesKind(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{fault.Transport("modbus: read", io.EOF), fault.ErrTransport},
		{fault.Timeout("modbus: read", "got %d/%d bytes", 3, 9), fault.ErrTimeout},
		{fault.Format("profile: decode", "size"), fault.ErrFormat},
		{fault.Configuration("acoustic", "prf"), fault.ErrConfiguration},
		{fault.Rejected("modbus: write", 0x90, []byte{0x02}), fault.ErrRejected},
	}
	for _, tc := range tests {
		if !errors.Is(tc.err, tc.want) {
			t.Errorf("errors.Is(%v, %v) = false", tc.err, tc.want)
		}
		wrapped := fmt.Errorf("device: %w", tc.err)
		if !errors.Is(wrapped, tc.want) {
			t.Errorf("wrapped errors.Is(%v) = false", wrapped)
		}
		if errors.Is(tc.err, fault.ErrConfiguration) && tc.want != fault.ErrConfiguration {
			t.Errorf("%v unexpectedly matches ErrConfiguration", tc.err)
		}
	}
}

func TestTransportUnwrap(t *testing.T) {
	err := fault.Transport("modbus: write", io.ErrClosedPipe)
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("cause not reachable through Unwrap: %v", err)
	}
	if got := fault.KindOf(err); got != fault.KindTransport {
		t.Errorf("KindOf = %v, want %v", got, fault.KindTransport)
	}
	if got := fault.KindOf(io.EOF); got != 0 {
		t.Errorf("KindOf(io.EOF) = %v, want 0", got)
	}
}

func TestRejectedCopiesPayload(t *testing.T) {
	payload := []byte{0x01, 0x02}
	err := fault.Rejected("modbus: write", 0x90, payload)
	payload[0] = 0xFF

	var fe *fault.Error
	if !errors.As(err, &fe) {
		t.Fatalf("not a *fault.Error: %T", err)
	}
	if fe.Payload[0] != 0x01 {
		t.Errorf("payload aliased caller buffer: % x", fe.Payload)
	}
	if !strings.Contains(err.Error(), "func=0x90") {
		t.Errorf("message %q lacks function byte", err.Error())
	}
}

func TestInterruptedKeepsContextError(t *testing.T) {
	err := fault.Interrupted("modbus: read", context.Canceled)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("context error not reachable: %v", err)
	}
	if !errors.Is(err, fault.ErrTimeout) {
		t.Errorf("not a timeout fault: %v", err)
	}
	if got := fault.KindOf(err); got != fault.KindTimeout {
		t.Errorf("KindOf = %v, want %v", got, fault.KindTimeout)
	}
}
