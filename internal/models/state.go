// Package models defines the data structures served by the HTTP API.
package models

import (
	"time"

	"github.com/ubertone/peacock-go/internal/acoustic"
	"github.com/ubertone/peacock-go/internal/identity"
	"github.com/ubertone/peacock-go/internal/profile"
)

// Measurement is one decoded profile as published to subscribers.
type Measurement struct {
	Seq     uint64          `json:"seq"`
	Slot    int             `json:"slot"`
	Profile *profile.Record `json:"profile"`
	Summary profile.Summary `json:"summary"`
}

// Slot is a programmed configuration slot. Effective is what the registers
// actually encode, which may differ from what was requested.
type Slot struct {
	Slot      int                     `json:"slot"`
	Requested acoustic.AcousticConfig `json:"requested"`
	Effective acoustic.AcousticConfig `json:"effective"`
	Registers []int16                 `json:"registers"`
	Timeout   time.Duration           `json:"measure_timeout_ns"`
}

// State is the acquisition status returned by GET /api/info.
type State struct {
	Info      identity.Info `json:"info"`
	Port      string        `json:"port"`
	Running   bool          `json:"running"`
	Profiles  uint64        `json:"profiles"`
	Failures  uint64        `json:"failures"`
	// Dropped counts measurements lost by live subscribers too slow to
	// keep up.
	Dropped   uint64        `json:"dropped_measurements"`
	LastError string        `json:"last_error,omitempty"`
	Recording string        `json:"recording,omitempty"`
	Slots     []Slot        `json:"slots"`
}

// DeepCopy returns a copy of the state sharing no slices.
func (s State) DeepCopy() State {
	next := s
	next.Slots = make([]Slot, len(s.Slots))
	for i, sl := range s.Slots {
		sl.Registers = append([]int16(nil), sl.Registers...)
		next.Slots[i] = sl
	}
	return next
}
