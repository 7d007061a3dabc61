package record

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ubertone/peacock-go/internal/acoustic"
	"github.com/ubertone/peacock-go/internal/crc"
	"github.com/ubertone/peacock-go/internal/fault"
	"github.com/ubertone/peacock-go/internal/profile"
)

// Header is the parsed file header.
type Header struct {
	Board    string
	Software string
	Firmware string
	Logic    string
}

// Chunk is one tagged payload.
type Chunk struct {
	Tag  int16
	Data []byte
}

// Reader iterates over the chunks of a record.
type Reader struct {
	r      io.Reader
	Header Header
}

// NewReader reads and checks the file header.
func NewReader(r io.Reader) (*Reader, error) {
	const op = "record: read header"
	head := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fault.Format(op, "%v", err)
	}
	line := string(bytes.TrimRight(head, "\x00"))
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[0] != Magic {
		return nil, fault.Format(op, "not a %s record: %q", Magic, line)
	}
	versions := strings.Split(fields[2], "/")
	if len(versions) != 3 {
		return nil, fault.Format(op, "malformed versions %q", fields[2])
	}
	return &Reader{r: r, Header: Header{
		Board:    fields[1],
		Software: versions[0],
		Firmware: versions[1],
		Logic:    versions[2],
	}}, nil
}

// Next returns the next chunk, or io.EOF at the end of the record. A chunk
// with an unknown tag is returned together with ErrUnexpectedChunk; reading
// may continue past it.
func (r *Reader) Next() (Chunk, error) {
	const op = "record: read chunk"
	head := make([]byte, chunkHeaderSize)
	if _, err := io.ReadFull(r.r, head); err != nil {
		if errors.Is(err, io.EOF) {
			return Chunk{}, io.EOF
		}
		return Chunk{}, fault.Format(op, "truncated chunk header: %v", err)
	}
	c := Chunk{Tag: int16(binary.LittleEndian.Uint16(head))}
	n := int(int16(binary.LittleEndian.Uint16(head[2:])))
	if n < 0 {
		return c, fault.Format(op, "tag %d has negative length %d", c.Tag, n)
	}
	c.Data = make([]byte, n)
	if _, err := io.ReadFull(r.r, c.Data); err != nil {
		return c, fault.Format(op, "tag %d truncated: %v", c.Tag, err)
	}
	switch c.Tag {
	case TagProfile, TagConfig, TagSettings, TagConst:
		return c, nil
	}
	return c, fmt.Errorf("%w: tag %d", ErrUnexpectedChunk, c.Tag)
}

// Session is what Replay learned from a record.
type Session struct {
	Header    Header
	Constants Constants
	Settings  json.RawMessage
	Configs   []*acoustic.HardwareConfig
	Profiles  int
}

// Profile is one decoded profile of a record.
type Profile struct {
	Slot   int
	Record *profile.Record
}

// Replay decodes every profile of the record in r and hands it to fn. A
// settings chunk replaces the slot configurations used to decode the
// profiles that follow it. Unknown chunks are skipped.
func Replay(r io.Reader, fn func(Profile) error) (*Session, error) {
	const op = "record: replay"
	rd, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	s := &Session{Header: rd.Header}
	var fingerprint uint16
	for {
		c, err := rd.Next()
		switch {
		case errors.Is(err, io.EOF):
			return s, nil
		case errors.Is(err, ErrUnexpectedChunk):
			slog.Warn("record: skipping chunk", "tag", c.Tag, "bytes", len(c.Data))
			continue
		case err != nil:
			return s, err
		}

		switch c.Tag {
		case TagConst:
			if err := json.Unmarshal(c.Data, &s.Constants); err != nil {
				return s, fault.Format(op, "constants: %v", err)
			}
		case TagSettings:
			s.Settings = append(json.RawMessage(nil), c.Data...)
			s.Configs = nil
			fingerprint = crc.Checksum(c.Data)
		case TagConfig:
			words := make([]int16, len(c.Data)/2)
			for i := range words {
				words[i] = int16(binary.LittleEndian.Uint16(c.Data[2*i:]))
			}
			cfg, err := acoustic.FromRegisterList(s.Constants.Hardware.FSys, words)
			if err != nil {
				return s, err
			}
			s.Configs = append(s.Configs, cfg)
		case TagProfile:
			if len(c.Data) < 2 {
				return s, fault.Format(op, "profile chunk of %d bytes", len(c.Data))
			}
			fp, slot := SplitRouting(int16(binary.LittleEndian.Uint16(c.Data)))
			if fp != fingerprint&0x07FF {
				slog.Warn("record: profile routed to other settings", "fingerprint", fp, "want", fingerprint&0x07FF)
			}
			if slot >= len(s.Configs) {
				return s, fault.Format(op, "profile for slot %d, %d configurations recorded", slot, len(s.Configs))
			}
			rec, err := profile.Decode(c.Data[2:], s.Configs[slot])
			if err != nil {
				return s, err
			}
			s.Profiles++
			if err := fn(Profile{Slot: slot, Record: rec}); err != nil {
				return s, err
			}
		}
	}
}
