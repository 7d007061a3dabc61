package device

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ubertone/peacock-go/internal/acoustic"
	"github.com/ubertone/peacock-go/internal/fixed"
	"github.com/ubertone/peacock-go/internal/identity"
	"github.com/ubertone/peacock-go/internal/modbus"
	"github.com/ubertone/peacock-go/internal/profile"
)

// Simulator is an in-memory probe. It answers frames like a MockDevice and
// reacts to the action register: a profile command synthesizes a block from
// the selected slot, a sensor command refreshes pitch, roll and temperature.
type Simulator struct {
	*modbus.MockDevice

	addrs AddressMap
	fSys  float64

	mu       sync.Mutex
	latency  float64
	pitch    int16
	roll     int16
	temp     int16
	profiles int
	checks   int
	actions  []Command
}

// NewSimulator returns a simulator carrying probe's identifiers, with slot 0
// selected and the sound speed set to 1480 m/s.
func NewSimulator(addrs AddressMap, fSys float64, probe identity.Probe) *Simulator {
	s := &Simulator{
		MockDevice: modbus.NewMockDevice(),
		addrs:      addrs,
		fSys:       fSys,
		pitch:      2,
		roll:       -1,
		temp:       18,
	}
	s.Store(AddrVersionC, probe.FirmwareC)
	s.Store(AddrVersionVHDL, probe.FirmwareVHDL)
	s.Store(AddrModelYear, identity.EncodeModelYear(probe.Model, probe.Year))
	s.Store(AddrSerialNum, probe.Serial)
	s.Store(addrs.ConfigID, 0)
	s.Store(addrs.SoundSpeedAuto, 0)
	s.Store(addrs.SoundSpeedSet, 1480)
	s.storeSensors()
	s.OnWrite = s.onWrite
	return s
}

// SetLatency makes profile commands take frac times the block duration
// before they are acknowledged. Zero answers at once.
func (s *Simulator) SetLatency(frac float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = frac
}

// SetSensors changes what the next sensor refresh reports.
func (s *Simulator) SetSensors(pitch, roll, temp int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pitch, s.roll, s.temp = pitch, roll, temp
}

// Profiles returns the number of profiles acquired so far.
func (s *Simulator) Profiles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles
}

// Checks returns the number of check-config commands received.
func (s *Simulator) Checks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checks
}

// Actions returns the commands received on the action register, in order.
func (s *Simulator) Actions() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.actions...)
}

func (s *Simulator) storeSensors() {
	s.Store(s.addrs.Pitch, s.pitch)
	s.Store(s.addrs.Roll, s.roll)
	s.Store(s.addrs.Temperature, s.temp)
}

func (s *Simulator) onWrite(addr uint16, values []int16) {
	if addr != AddrAction || len(values) != 1 {
		return
	}
	cmd := Command(values[0])
	s.mu.Lock()
	s.actions = append(s.actions, cmd)
	s.mu.Unlock()

	switch cmd {
	case CmdProfileBlocking, CmdProfileNonBlocking:
		s.acquire()
	case CmdTestI2C:
		s.mu.Lock()
		s.storeSensors()
		s.mu.Unlock()
	case CmdCheckConfig:
		s.mu.Lock()
		s.checks++
		s.mu.Unlock()
	}
}

// acquire writes a synthetic profile for the selected slot to the profile
// area. A slot holding an invalid configuration produces nothing, leaving
// the previous block in place.
func (s *Simulator) acquire() {
	slot := int(s.Load(s.addrs.ConfigID, 1)[0])
	base, err := s.addrs.SlotAddr(slot)
	if err != nil {
		slog.Warn("device: simulator: bad slot selected", "slot", slot)
		return
	}
	cfg, err := acoustic.FromRegisterList(s.fSys, s.Load(base, s.addrs.ConfigSize))
	if err != nil || cfg.NVol < 1 || cfg.CPRF < 1 {
		slog.Warn("device: simulator: slot not programmed", "slot", slot)
		return
	}

	s.mu.Lock()
	s.profiles++
	seq := s.profiles
	s.storeSensors()
	temp, latency := s.temp, s.latency
	s.mu.Unlock()

	ss := s.Load(s.addrs.SoundSpeedSet, 1)[0]
	if s.Load(s.addrs.SoundSpeedAuto, 1)[0] != 0 || ss <= 0 {
		ss = soundSpeed(float64(temp))
	}
	h := profile.Header{
		Pitch:       s.Load(s.addrs.Pitch, 1)[0],
		Roll:        s.Load(s.addrs.Roll, 1)[0],
		Temperature: temp,
		SoundSpeed:  ss,
		GainCA0:     cfg.GainCA0,
		GainCA1:     cfg.GainCA1,
		NoiseGMax:   400,
		NoiseGMid:   90,
	}
	cells := synthCells(int(cfg.NVol), seq)

	words := make([]int16, 0, profile.HeaderWords+profile.CellWords*len(cells))
	words = append(words, h.Pitch, h.Roll, h.Temperature, h.SoundSpeed, h.GainCA0, h.GainCA1, h.NoiseGMax, h.NoiseGMid)
	for _, c := range cells {
		words = append(words, c.Velocity, c.Std, c.Amplitude, c.SNR)
	}
	s.Store(s.addrs.ProfileHeader, words...)

	if latency > 0 {
		time.Sleep(time.Duration(latency * float64(cfg.BlockDuration())))
	}
}

// synthCells draws a smooth velocity profile that drifts with seq. The
// last cell of every fourth profile is flagged as wrapped, the first one as
// saturated.
func synthCells(n, seq int) []profile.RawCell {
	cells := make([]profile.RawCell, n)
	phase := float64(seq) / 10
	for i := range cells {
		x := float64(i) / float64(n)
		cells[i] = profile.RawCell{
			Velocity:  fixed.Int16(12000 * math.Sin(math.Pi*x+phase)),
			Std:       fixed.Int16(800 + 400*x),
			Amplitude: fixed.Int16(1800 * math.Exp(-2*x)),
			SNR:       fixed.Int16(300 - 250*x),
		}
	}
	if seq%4 == 0 {
		cells[n-1].Std = -cells[n-1].Std
		cells[0].Amplitude = -cells[0].Amplitude
	}
	return cells
}

// soundSpeed approximates the speed of sound in fresh water at temp °C.
func soundSpeed(temp float64) int16 {
	return fixed.Int16(1402.7 + 4.88*temp - 0.0482*temp*temp + 0.000135*temp*temp*temp)
}
