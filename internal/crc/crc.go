// Package crc implements the Modbus CRC-16 used to seal every frame on the
// probe link: reflected polynomial 0xA001, initial register 0xFFFF, sent low
// byte first.
package crc

import "github.com/sigurn/crc16"

const (
	poly   = 0xA001 // reflected 0x8005
	init16 = 0xFFFF
)

var table = crc16.MakeTable(crc16.CRC16_MODBUS)

// Checksum returns the CRC of b using the precomputed table.
func Checksum(b []byte) uint16 {
	return crc16.Checksum(b, table)
}

// ChecksumBitwise computes the same CRC with 8 shift/XOR steps per byte.
// It exists as the reference for Checksum.
func ChecksumBitwise(b []byte) uint16 {
	c := uint16(init16)
	for _, v := range b {
		c ^= uint16(v)
		for i := 0; i < 8; i++ {
			if c&0x0001 != 0 {
				c = (c >> 1) ^ poly
			} else {
				c >>= 1
			}
		}
	}
	return c
}

// Swap exchanges the two octets of c. The swapped value written big-endian
// puts the CRC low byte first on the wire.
func Swap(c uint16) uint16 {
	return c<<8 | c>>8
}

// Append seals frame with its CRC, low byte first.
func Append(frame []byte) []byte {
	c := Checksum(frame)
	return append(frame, byte(c), byte(c>>8))
}

// Valid recomputes the CRC over all but the last two bytes of frame and
// compares it with the trailer.
func Valid(frame []byte) bool {
	if len(frame) < 3 {
		return false
	}
	n := len(frame) - 2
	c := Checksum(frame[:n])
	return frame[n] == byte(c) && frame[n+1] == byte(c>>8)
}
