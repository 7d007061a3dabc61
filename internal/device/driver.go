// Package device drives a Peacock UVP probe over its register interface:
// identifier registers, configuration slots, sound speed, the action
// register and the profile area.
//
// A measurement is two independent exchanges. StartMeasurement writes the
// blocking profile command with a timeout sized from the block duration; the
// probe acknowledges once acquisition is done. ReadProfile then fetches the
// block. Readiness is never observed, only inferred from elapsed time.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ubertone/peacock-go/internal/acoustic"
	"github.com/ubertone/peacock-go/internal/fault"
	"github.com/ubertone/peacock-go/internal/identity"
	"github.com/ubertone/peacock-go/internal/profile"
	"github.com/ubertone/peacock-go/internal/timestamp"
)

// DefaultFSys is the probe system clock in Hz. Some boards run at 18 MHz.
const DefaultFSys = 36e6

// measureSlack covers command latency on top of the acquisition time.
const measureSlack = 200 * time.Millisecond

// Registers is the register access the driver needs. *modbus.Transport
// implements it.
type Registers interface {
	ReadWords(ctx context.Context, addr uint16, count int) ([]int16, error)
	ReadWord(ctx context.Context, addr uint16) (int16, error)
	ReadBuffer(ctx context.Context, addr uint16, total int) ([]byte, error)
	WriteWords(ctx context.Context, addr uint16, values []int16) error
	WriteWord(ctx context.Context, addr uint16, v int16) error
	SetTimeout(d time.Duration)
	Timeout() time.Duration
	Close() error
}

// Driver talks to one probe.
type Driver struct {
	regs  Registers
	fSys  float64
	addrs AddressMap

	mu       sync.Mutex
	firmware int16 // 0 until read

	now func() time.Time
}

// New returns a driver for a probe clocked at fSys reached through regs.
func New(regs Registers, fSys float64, addrs AddressMap) *Driver {
	return &Driver{regs: regs, fSys: fSys, addrs: addrs, now: time.Now}
}

// FSys returns the probe system clock in Hz.
func (d *Driver) FSys() float64 { return d.fSys }

// Addresses returns the register layout in use.
func (d *Driver) Addresses() AddressMap { return d.addrs }

// Close releases the underlying link.
func (d *Driver) Close() error { return d.regs.Close() }

// ReadIdentity reads the version, model and serial registers.
func (d *Driver) ReadIdentity(ctx context.Context) (identity.Probe, error) {
	var p identity.Probe
	var err error
	if p.FirmwareVHDL, err = d.regs.ReadWord(ctx, AddrVersionVHDL); err != nil {
		return p, fmt.Errorf("device: read VHDL version: %w", err)
	}
	if p.FirmwareC, err = d.regs.ReadWord(ctx, AddrVersionC); err != nil {
		return p, fmt.Errorf("device: read C version: %w", err)
	}
	my, err := d.regs.ReadWord(ctx, AddrModelYear)
	if err != nil {
		return p, fmt.Errorf("device: read model: %w", err)
	}
	p.Model, p.Year = identity.DecodeModelYear(my)
	if p.Serial, err = d.regs.ReadWord(ctx, AddrSerialNum); err != nil {
		return p, fmt.Errorf("device: read serial: %w", err)
	}

	d.mu.Lock()
	d.firmware = p.FirmwareC
	d.mu.Unlock()

	if !p.Supported() {
		slog.Warn("device: firmware not supported", "firmware", p.FirmwareC, "min", identity.MinFirmware)
	}
	if !p.Model.Known() {
		slog.Warn("device: unknown model", "model", uint8(p.Model))
	}
	slog.Info("device: probe identified", "model", p.Model.String(), "year", p.Year, "serial", p.Serial,
		"firmware_c", p.FirmwareC, "firmware_vhdl", p.FirmwareVHDL)
	return p, nil
}

func (d *Driver) firmwareC(ctx context.Context) (int16, error) {
	d.mu.Lock()
	fw := d.firmware
	d.mu.Unlock()
	if fw != 0 {
		return fw, nil
	}
	fw, err := d.regs.ReadWord(ctx, AddrVersionC)
	if err != nil {
		return 0, fmt.Errorf("device: read C version: %w", err)
	}
	d.mu.Lock()
	d.firmware = fw
	d.mu.Unlock()
	return fw, nil
}

func (d *Driver) slotAddr(op string, slot int) (uint16, error) {
	addr, err := d.addrs.SlotAddr(slot)
	if err != nil {
		return 0, fault.Configuration(op, "%v", err)
	}
	return addr, nil
}

// ReadConfig reads back configuration slot (0-based).
func (d *Driver) ReadConfig(ctx context.Context, slot int) (*acoustic.HardwareConfig, error) {
	addr, err := d.slotAddr("device: read config", slot)
	if err != nil {
		return nil, err
	}
	words, err := d.regs.ReadWords(ctx, addr, d.addrs.ConfigSize)
	if err != nil {
		return nil, fmt.Errorf("device: read config %d: %w", slot, err)
	}
	return acoustic.FromRegisterList(d.fSys, words)
}

// WriteConfig stores cfg in slot (0-based).
func (d *Driver) WriteConfig(ctx context.Context, cfg *acoustic.HardwareConfig, slot int) error {
	addr, err := d.slotAddr("device: write config", slot)
	if err != nil {
		return err
	}
	slog.Debug("device: write config", "slot", slot, "config", cfg)
	if err := d.regs.WriteWords(ctx, addr, cfg.RegisterList()); err != nil {
		return fmt.Errorf("device: write config %d: %w", slot, err)
	}
	return nil
}

// SelectConfig makes slot the one used by the next measurement.
func (d *Driver) SelectConfig(ctx context.Context, slot int) error {
	if _, err := d.slotAddr("device: select config", slot); err != nil {
		return err
	}
	slog.Debug("device: select config", "slot", slot)
	if err := d.regs.WriteWord(ctx, d.addrs.ConfigID, int16(slot)); err != nil {
		return fmt.Errorf("device: select config %d: %w", slot, err)
	}
	return nil
}

// WriteSoundSpeed sets the sound speed (m/s) used by the probe, or lets
// the probe derive it from temperature when auto is set.
func (d *Driver) WriteSoundSpeed(ctx context.Context, speed int16, auto bool) error {
	fw, err := d.firmwareC(ctx)
	if err != nil {
		return err
	}
	addrAuto, addrSet := d.addrs.SoundSpeedAuto, d.addrs.SoundSpeedSet
	// firmware before 45 had both registers two words lower
	if fw < identity.MinFirmware {
		addrAuto -= 2
		addrSet -= 2
	}
	if auto {
		if err := d.regs.WriteWord(ctx, addrAuto, 1); err != nil {
			return fmt.Errorf("device: sound speed auto: %w", err)
		}
		return nil
	}
	if err := d.regs.WriteWord(ctx, addrAuto, 0); err != nil {
		return fmt.Errorf("device: sound speed auto: %w", err)
	}
	if err := d.regs.WriteWord(ctx, addrSet, speed); err != nil {
		return fmt.Errorf("device: sound speed: %w", err)
	}
	return nil
}

// Act writes cmd to the action register.
func (d *Driver) Act(ctx context.Context, cmd Command) error {
	slog.Debug("device: action", "cmd", cmd.String())
	if err := d.regs.WriteWord(ctx, AddrAction, int16(cmd)); err != nil {
		return fmt.Errorf("device: %s: %w", cmd, err)
	}
	return nil
}

func (d *Driver) Stop(ctx context.Context) error        { return d.Act(ctx, CmdStop) }
func (d *Driver) CheckConfig(ctx context.Context) error { return d.Act(ctx, CmdCheckConfig) }
func (d *Driver) StartAuto(ctx context.Context) error   { return d.Act(ctx, CmdStartAuto) }
func (d *Driver) TestLED(ctx context.Context) error     { return d.Act(ctx, CmdTestLED) }

// MeasureSensors refreshes pitch, roll and temperature in device memory.
func (d *Driver) MeasureSensors(ctx context.Context) error { return d.Act(ctx, CmdTestI2C) }

// MeasureTimeout bounds the blocking profile command for cfg. The block
// duration under-estimates long profiles, hence the margin.
func MeasureTimeout(cfg *acoustic.HardwareConfig) time.Duration {
	return measureSlack + cfg.BlockDuration()*11/10
}

// StartMeasurement triggers one blocking profile acquisition with the
// selected slot, which must hold cfg. It returns the acquisition time
// stamped just before the trigger.
func (d *Driver) StartMeasurement(ctx context.Context, cfg *acoustic.HardwareConfig) (time.Time, error) {
	at := d.now().UTC()
	timeout := MeasureTimeout(cfg)

	prev := d.regs.Timeout()
	d.regs.SetTimeout(timeout)
	defer d.regs.SetTimeout(prev)

	slog.Debug("device: start measurement", "timeout", timeout, "cells", cfg.NVol)
	if err := d.Act(ctx, CmdProfileBlocking); err != nil {
		return at, err
	}
	return at, nil
}

// ReadProfile fetches the last profile of nVol cells and prefixes it with
// the acquisition time at. The result is the block profile.Decode expects.
func (d *Driver) ReadProfile(ctx context.Context, nVol int, at time.Time) ([]byte, error) {
	start := d.now()
	total := d.addrs.ProfileHeaderSize + profile.CellWords*nVol
	raw, err := d.regs.ReadBuffer(ctx, d.addrs.ProfileHeader, total)
	if err != nil {
		return nil, fmt.Errorf("device: read profile: %w", err)
	}
	slog.Debug("device: profile read", "words", total, "elapsed", d.now().Sub(start))
	block := make([]byte, 0, timestamp.Size+len(raw))
	block = timestamp.AppendBytes(block, at)
	return append(block, raw...), nil
}

// Measure runs both phases for cfg and returns the raw block.
func (d *Driver) Measure(ctx context.Context, cfg *acoustic.HardwareConfig) ([]byte, error) {
	at, err := d.StartMeasurement(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return d.ReadProfile(ctx, int(cfg.NVol), at)
}

// ReadTemperature returns the last averaged temperature, °C.
func (d *Driver) ReadTemperature(ctx context.Context) (int16, error) {
	return d.regs.ReadWord(ctx, d.addrs.Temperature)
}

// ReadPitch returns the last averaged pitch, degrees.
func (d *Driver) ReadPitch(ctx context.Context) (int16, error) {
	return d.regs.ReadWord(ctx, d.addrs.Pitch)
}

// ReadRoll returns the last averaged roll, degrees.
func (d *Driver) ReadRoll(ctx context.Context) (int16, error) {
	return d.regs.ReadWord(ctx, d.addrs.Roll)
}
