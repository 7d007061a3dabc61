// Package timestamp packs instants into the three 16-bit words the probe
// uses in profile blocks: seconds since 2020-01-01 UTC split as
// (s >> 15, s & 0x7FFF), then milliseconds.
//
// Splitting at bit 15 keeps both second words non-negative for post-epoch
// instants; the representable span is about ±34 years around the epoch.
package timestamp

import (
	"encoding/binary"
	"time"

	"github.com/ubertone/peacock-go/internal/fault"
)

// Epoch is the origin of probe time.
var Epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Size is the encoded size in bytes.
const Size = 6

// Words is the packed form: high seconds, low seconds, milliseconds.
type Words [3]int16

// Encode packs t at millisecond granularity. Sub-millisecond precision is
// truncated toward the earlier instant.
func Encode(t time.Time) Words {
	ms := t.Sub(Epoch).Milliseconds()
	if t.Before(Epoch) && t.Sub(Epoch)%time.Millisecond != 0 {
		ms--
	}
	s := ms / 1000
	rem := ms % 1000
	if rem < 0 {
		s--
		rem += 1000
	}
	return Words{int16(s >> 15), int16(s & 0x7FFF), int16(rem)}
}

// Decode unpacks w. The result is in UTC.
func Decode(w Words) time.Time {
	s := int64(w[0])<<15 | int64(w[1])&0x7FFF
	return Epoch.Add(time.Duration(s)*time.Second + time.Duration(w[2])*time.Millisecond)
}

// AppendBytes appends the big-endian encoding of t to b.
func AppendBytes(b []byte, t time.Time) []byte {
	for _, v := range Encode(t) {
		b = binary.BigEndian.AppendUint16(b, uint16(v))
	}
	return b
}

// Parse decodes the timestamp at the start of b.
func Parse(b []byte) (time.Time, error) {
	if len(b) < Size {
		return time.Time{}, fault.Format("timestamp: parse", "need %d bytes, got %d", Size, len(b))
	}
	var w Words
	for i := range w {
		w[i] = int16(binary.BigEndian.Uint16(b[2*i:]))
	}
	return Decode(w), nil
}
