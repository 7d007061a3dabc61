// Package record writes and reads UDT005 raw record files: a fixed ASCII
// header followed by tagged chunks holding the constants, the settings, the
// register dump of each slot and every raw profile block as acquired.
//
// Chunk headers are two little-endian int16, tag then payload length in
// bytes. Profile payloads start with a little-endian routing word that ties
// the block to the settings in force and the slot it was measured with.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/ubertone/peacock-go/internal/identity"
)

const (
	// Magic opens every record file.
	Magic = "UDT005"
	// HeaderSize is the length of the NUL-padded file header.
	HeaderSize = 42

	chunkHeaderSize = 4
	maxChunk        = math.MaxInt16
)

// Chunk tags.
const (
	TagProfile  int16 = 100
	TagConfig   int16 = 200
	TagSettings int16 = 201
	TagConst    int16 = 300
)

// ErrUnexpectedChunk is returned for a chunk with an unknown tag.
var ErrUnexpectedChunk = errors.New("record: unexpected chunk")

// Hardware describes the probe in the constants chunk.
type Hardware struct {
	BoardVersion    string  `json:"board_version"`
	FirmwareVersion string  `json:"firmware_version"`
	LogicVersion    string  `json:"logic_version"`
	Baudrate        int     `json:"baudrate"`
	FSys            float64 `json:"f_sys"`
}

// Software describes this program in the constants chunk.
type Software struct {
	Version string `json:"version"`
}

// Constants is the first chunk of a record: everything about the session
// that does not change with the settings.
type Constants struct {
	ProductModel string   `json:"product_model"`
	SerialNum    string   `json:"serial_num"`
	ProductID    string   `json:"product_id"`
	Session      string   `json:"session_id"`
	Hardware     Hardware `json:"hardware"`
	Software     Software `json:"software"`
}

// NewConstants fills the probe dependent fields from p. The serial number
// is the production year (two digits) followed by the serial on four, and
// the product id is the lower-cased alphanumerics of the model plus it.
func NewConstants(p identity.Probe, productModel, board, version string, baud int, fSys float64, session string) Constants {
	serial := fmt.Sprintf("%2d%04d", p.Year-2000, p.Serial)
	return Constants{
		ProductModel: productModel,
		SerialNum:    serial,
		ProductID:    productID(productModel) + serial,
		Session:      session,
		Hardware: Hardware{
			BoardVersion:    board,
			FirmwareVersion: strconv.Itoa(int(p.FirmwareC)),
			LogicVersion:    strconv.Itoa(int(p.FirmwareVHDL)),
			Baudrate:        baud,
			FSys:            fSys,
		},
		Software: Software{Version: version},
	}
}

func productID(model string) string {
	var b strings.Builder
	for _, r := range model {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// RoutingWord packs the low 11 bits of the settings fingerprint and the
// slot (4 bits) into the word prefixed to each recorded profile.
func RoutingWord(fingerprint uint16, slot int) int16 {
	return int16((fingerprint&0x07FF)<<4 | uint16(slot)&0x000F)
}

// SplitRouting is the inverse of RoutingWord.
func SplitRouting(w int16) (fingerprint uint16, slot int) {
	u := uint16(w)
	return u >> 4 & 0x07FF, int(u & 0x000F)
}

func putChunkHeader(b []byte, tag int16, n int) {
	binary.LittleEndian.PutUint16(b, uint16(tag))
	binary.LittleEndian.PutUint16(b[2:], uint16(n))
}
