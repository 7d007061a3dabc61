package record

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ubertone/peacock-go/internal/acoustic"
	"github.com/ubertone/peacock-go/internal/crc"
	"github.com/ubertone/peacock-go/internal/fault"
)

// Writer appends chunks to a record. It is safe for concurrent use.
type Writer struct {
	mu          sync.Mutex
	w           io.Writer
	closer      io.Closer
	fingerprint uint16
	profiles    int
}

// FileName returns the record file name for a session started at t.
func FileName(t time.Time) string {
	return "raw_" + t.Format("20060102_150405") + ".udt"
}

// Create opens a new record file in dir, named after now, and writes the
// file header and constants. It returns the file path.
func Create(dir string, c Constants, now time.Time) (*Writer, string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, "", fmt.Errorf("record: %w", err)
	}
	path := filepath.Join(dir, FileName(now))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, "", fmt.Errorf("record: %w", err)
	}
	w, err := NewWriter(f, c)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, "", err
	}
	w.closer = f
	slog.Info("record: started", "path", path, "session", c.Session)
	return w, path, nil
}

// NewWriter writes the file header and constants chunk to w.
func NewWriter(w io.Writer, c Constants) (*Writer, error) {
	const op = "record: header"
	line := fmt.Sprintf("%s %s %s/%s/%s", Magic, c.Hardware.BoardVersion,
		c.Software.Version, c.Hardware.FirmwareVersion, c.Hardware.LogicVersion)
	if len(line) > HeaderSize {
		return nil, fault.Format(op, "header %q longer than %d bytes", line, HeaderSize)
	}
	for _, r := range line {
		if r > 0x7F {
			return nil, fault.Format(op, "header %q is not ASCII", line)
		}
	}
	head := make([]byte, HeaderSize)
	copy(head, line)
	if _, err := w.Write(head); err != nil {
		return nil, fmt.Errorf("record: write header: %w", err)
	}

	rw := &Writer{w: w}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("record: constants: %w", err)
	}
	if err := rw.writeChunk(TagConst, data); err != nil {
		return nil, err
	}
	return rw, nil
}

func (w *Writer) writeChunk(tag int16, parts ...[]byte) error {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	if n > maxChunk {
		return fault.Format("record: write chunk", "tag %d payload of %d bytes exceeds %d", tag, n, maxChunk)
	}
	buf := make([]byte, chunkHeaderSize, chunkHeaderSize+n)
	putChunkHeader(buf, tag, n)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	if _, err := w.w.Write(buf); err != nil {
		return fmt.Errorf("record: write chunk %d: %w", tag, err)
	}
	return nil
}

// WriteSettings records the settings JSON followed by the register dump of
// each slot, slot 0 first. Profiles written afterwards are routed against
// these settings.
func (w *Writer) WriteSettings(settingsJSON []byte, configs []*acoustic.HardwareConfig) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writeChunk(TagSettings, settingsJSON); err != nil {
		return err
	}
	w.fingerprint = crc.Checksum(settingsJSON)
	for _, cfg := range configs {
		regs := cfg.RegisterList()
		data := make([]byte, 0, 2*len(regs))
		for _, r := range regs {
			data = binary.LittleEndian.AppendUint16(data, uint16(r))
		}
		if err := w.writeChunk(TagConfig, data); err != nil {
			return err
		}
	}
	slog.Debug("record: settings written", "configs", len(configs), "fingerprint", w.fingerprint)
	return nil
}

// WriteProfile records one raw block measured with slot.
func (w *Writer) WriteProfile(slot int, block []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	route := binary.LittleEndian.AppendUint16(nil, uint16(RoutingWord(w.fingerprint, slot)))
	if err := w.writeChunk(TagProfile, route, block); err != nil {
		return err
	}
	w.profiles++
	return nil
}

// Profiles returns the number of profiles written.
func (w *Writer) Profiles() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.profiles
}

// Close closes the underlying file when the writer was made by Create.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closer == nil {
		return nil
	}
	err := w.closer.Close()
	w.closer = nil
	if err != nil {
		return fmt.Errorf("record: close: %w", err)
	}
	slog.Info("record: closed", "profiles", w.profiles)
	return nil
}
