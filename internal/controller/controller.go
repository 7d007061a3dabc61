// Package controller runs acquisitions: it programs the probe slots from the
// settings, measures profiles in the configured order, records and decodes
// them, and publishes every measurement on the event bus.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"sync"

	"github.com/ubertone/peacock-go/internal/acoustic"
	"github.com/ubertone/peacock-go/internal/config"
	"github.com/ubertone/peacock-go/internal/device"
	"github.com/ubertone/peacock-go/internal/events"
	"github.com/ubertone/peacock-go/internal/fault"
	"github.com/ubertone/peacock-go/internal/fixed"
	"github.com/ubertone/peacock-go/internal/identity"
	"github.com/ubertone/peacock-go/internal/models"
	"github.com/ubertone/peacock-go/internal/profile"
)

// Probe is the part of *device.Driver the controller uses.
type Probe interface {
	FSys() float64
	ReadIdentity(ctx context.Context) (identity.Probe, error)
	Stop(ctx context.Context) error
	ReadConfig(ctx context.Context, slot int) (*acoustic.HardwareConfig, error)
	WriteConfig(ctx context.Context, cfg *acoustic.HardwareConfig, slot int) error
	SelectConfig(ctx context.Context, slot int) error
	CheckConfig(ctx context.Context) error
	WriteSoundSpeed(ctx context.Context, speed int16, auto bool) error
	Measure(ctx context.Context, cfg *acoustic.HardwareConfig) ([]byte, error)
}

var _ Probe = (*device.Driver)(nil)

// Recorder persists raw profiles. *record.Writer implements it.
type Recorder interface {
	WriteSettings(settingsJSON []byte, configs []*acoustic.HardwareConfig) error
	WriteProfile(slot int, block []byte) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithRecorder records every profile to r. name is reported in the state.
func WithRecorder(r Recorder, name string) Option {
	return func(c *Controller) {
		c.rec = r
		c.state.Recording = name
	}
}

// WithPort reports the serial device in the state.
func WithPort(port string) Option {
	return func(c *Controller) { c.state.Port = port }
}

// Controller owns the probe. Device sequences (programming, measuring) are
// serialized; state reads never wait for the device.
type Controller struct {
	drv Probe
	bus *events.Bus
	rec Recorder

	// held for a whole device sequence
	seqMu    sync.Mutex
	settings *config.Settings
	configs  []*acoustic.HardwareConfig
	selected int
	next     int

	mu    sync.RWMutex
	state models.State
	last  *models.Measurement
}

// New creates a controller with the settings held by store. The probe is
// not contacted until Connect.
func New(drv Probe, store config.Store, bus *events.Bus, opts ...Option) (*Controller, error) {
	s, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("controller: load settings: %w", err)
	}
	c := &Controller{
		drv:      drv,
		bus:      bus,
		settings: s,
		selected: -1,
		state: models.State{
			Info: identity.Info{
				Hostname: identity.GetHostname(),
				Version:  identity.GetVersion(),
			},
			Slots: []models.Slot{},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// State returns a deep copy of the acquisition state.
func (c *Controller) State() models.State {
	c.mu.RLock()
	st := c.state.DeepCopy()
	c.mu.RUnlock()
	if c.bus != nil {
		st.Dropped = c.bus.Dropped()
	}
	return st
}

// Info returns the host and probe identity.
func (c *Controller) Info() identity.Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Info
}

// Last returns the most recent measurement.
func (c *Controller) Last() (models.Measurement, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return models.Measurement{}, false
	}
	return *c.last, true
}

// Settings returns a copy of the settings in force.
func (c *Controller) Settings() config.Settings {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	return c.settings.DeepCopy()
}

func (c *Controller) update(fn func(*models.State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
}

func (c *Controller) fail(err error) {
	c.update(func(s *models.State) {
		s.Failures++
		s.LastError = err.Error()
	})
}

// Connect identifies the probe, stops whatever it was doing and programs
// the current settings.
func (c *Controller) Connect(ctx context.Context) error {
	p, err := c.drv.ReadIdentity(ctx)
	if err != nil {
		c.fail(err)
		return fmt.Errorf("controller: identify probe: %w", err)
	}
	c.update(func(s *models.State) { s.Info.Probe = p })
	if err := c.drv.Stop(ctx); err != nil {
		c.fail(err)
		return fmt.Errorf("controller: stop probe: %w", err)
	}
	c.seqMu.Lock()
	s := c.settings
	c.seqMu.Unlock()
	return c.Program(ctx, s)
}

// Program converts every configuration of s, writes the slots whose
// registers differ from what the probe holds, has the probe check each one
// and keeps the configuration read back as the effective one. It then sets
// the sound speed. Nothing is written when a configuration cannot be
// represented. If the probe fails part way, slots already read back keep
// their new configuration and the slot in progress cannot be measured until
// the next successful Program.
func (c *Controller) Program(ctx context.Context, s *config.Settings) (err error) {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()

	ss := s.SoundSpeed.Value
	wanted := make([]*acoustic.HardwareConfig, len(s.Configs))
	for slot, ac := range s.Configs {
		hw, err := acoustic.FromUserConfig(c.drv.FSys(), ac, ss, s.BlindZone)
		if err != nil {
			c.fail(err)
			return fmt.Errorf("controller: configuration %d: %w", slot, err)
		}
		wanted[slot] = hw
	}

	effective := make([]*acoustic.HardwareConfig, len(wanted))
	slots := make([]models.Slot, len(wanted))
	// index of the slot being programmed when a failure interrupts us
	failed := -1
	defer func() {
		if err != nil && failed >= 0 {
			c.abandon(effective, slots, failed)
		}
	}()
	for slot, hw := range wanted {
		failed = slot
		if cur, err := c.drv.ReadConfig(ctx, slot); err == nil && cur.Equal(hw) {
			slog.Debug("controller: slot unchanged", "slot", slot)
		} else {
			if err := c.drv.WriteConfig(ctx, hw, slot); err != nil {
				c.fail(err)
				return fmt.Errorf("controller: program slot %d: %w", slot, err)
			}
			slog.Info("controller: slot programmed", "slot", slot, "config", hw)
		}
		if err := c.drv.SelectConfig(ctx, slot); err != nil {
			c.fail(err)
			return fmt.Errorf("controller: program slot %d: %w", slot, err)
		}
		c.selected = slot
		if err := c.drv.CheckConfig(ctx); err != nil {
			c.fail(err)
			return fmt.Errorf("controller: check slot %d: %w", slot, err)
		}
		back, err := c.drv.ReadConfig(ctx, slot)
		if err != nil {
			c.fail(err)
			return fmt.Errorf("controller: read back slot %d: %w", slot, err)
		}
		if !back.Equal(hw) {
			slog.Warn("controller: probe adjusted configuration", "slot", slot, "requested", hw, "effective", back)
		}
		effective[slot] = back
		slots[slot] = models.Slot{
			Slot:      slot,
			Requested: s.Configs[slot],
			Effective: back.UserConfig(ss),
			Registers: back.RegisterList(),
			Timeout:   device.MeasureTimeout(back),
		}
	}

	failed = len(wanted)
	if err := c.drv.WriteSoundSpeed(ctx, fixed.Int16(math.Trunc(ss)), s.SoundSpeed.Auto); err != nil {
		c.fail(err)
		return fmt.Errorf("controller: sound speed: %w", err)
	}

	if c.rec != nil {
		data, err := s.JSON()
		if err != nil {
			return fmt.Errorf("controller: settings: %w", err)
		}
		if err := c.rec.WriteSettings(data, effective); err != nil {
			return err
		}
	}

	failed = -1
	c.settings = s
	c.configs = effective
	c.next = 0
	c.update(func(st *models.State) { st.Slots = slots })
	return nil
}

// abandon records what an interrupted Program left on the probe. Slots
// before failed were read back and hold their new configuration; slot
// failed is in an unknown state and cannot be measured until programmed
// again. Slots past failed were not touched.
func (c *Controller) abandon(done []*acoustic.HardwareConfig, slots []models.Slot, failed int) {
	if len(c.configs) < len(done) {
		c.configs = append(c.configs, make([]*acoustic.HardwareConfig, len(done)-len(c.configs))...)
	}
	for i := 0; i < failed && i < len(done); i++ {
		c.configs[i] = done[i]
	}
	if failed < len(done) {
		c.configs[failed] = nil
	}
	c.selected = -1
	slog.Warn("controller: programming interrupted", "slot", failed)

	c.update(func(st *models.State) {
		kept := make([]models.Slot, 0, len(c.configs))
		for i, cfg := range c.configs {
			switch {
			case cfg == nil:
			case i < failed:
				kept = append(kept, slots[i])
			default:
				for _, sl := range st.Slots {
					if sl.Slot == i {
						kept = append(kept, sl)
					}
				}
			}
		}
		st.Slots = kept
	})
}

// Reload programs s unless it matches the settings in force.
func (c *Controller) Reload(ctx context.Context, s *config.Settings) error {
	c.seqMu.Lock()
	same := reflect.DeepEqual(c.settings, s)
	c.seqMu.Unlock()
	if same {
		slog.Debug("controller: settings unchanged")
		return nil
	}
	return c.Program(ctx, s)
}

// Measure acquires one profile. With slot nil, the next slot of the
// configuration order is used.
func (c *Controller) Measure(ctx context.Context, slot *int) (models.Measurement, error) {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()

	var n int
	if slot != nil {
		n = *slot
	} else {
		if len(c.settings.Order) == 0 {
			return models.Measurement{}, fault.Configuration("controller: measure", "no configuration to measure")
		}
		n = c.settings.Order[c.next%len(c.settings.Order)]
	}
	if n < 0 || n >= len(c.configs) || c.configs[n] == nil {
		return models.Measurement{}, fault.Configuration("controller: measure", "slot %d not programmed", n)
	}
	if slot == nil {
		c.next = (c.next + 1) % len(c.settings.Order)
	}
	cfg := c.configs[n]

	if c.selected != n {
		if err := c.drv.SelectConfig(ctx, n); err != nil {
			c.fail(err)
			return models.Measurement{}, err
		}
		c.selected = n
	}

	block, err := c.drv.Measure(ctx, cfg)
	if err != nil {
		c.fail(err)
		return models.Measurement{}, err
	}
	if c.rec != nil {
		if err := c.rec.WriteProfile(n, block); err != nil {
			slog.Error("controller: record profile", "err", err)
			c.fail(err)
		}
	}
	rec, err := profile.Decode(block, cfg)
	if err != nil {
		c.fail(err)
		return models.Measurement{}, err
	}

	c.mu.Lock()
	c.state.Profiles++
	m := models.Measurement{Seq: c.state.Profiles, Slot: n, Profile: rec, Summary: rec.Summary()}
	c.last = &m
	c.mu.Unlock()

	slog.Debug("controller: profile", "seq", m.Seq, "slot", n,
		"mean_velocity", m.Summary.MeanVelocity, "wrapped", m.Summary.WrappedCells)
	c.bus.Publish(m)
	return m, nil
}
