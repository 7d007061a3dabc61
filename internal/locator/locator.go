// Package locator finds the serial device a probe is attached to.
package locator

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.bug.st/serial/enumerator"
)

// ErrNotFound is returned when no locator knows of a probe.
var ErrNotFound = errors.New("locator: no probe found")

// DefaultPort is the on-board UART of the Raspberry Pi based loggers.
const DefaultPort = "/dev/ttyAMA0"

// Locator returns the path of the serial device to open.
type Locator interface {
	Locate() (string, error)
}

// Adapter identifies a USB-RS485 adapter by vendor and product id.
type Adapter struct {
	VID  string
	PID  string
	Name string
}

func (a Adapter) String() string { return a.VID + ":" + a.PID }

func (a Adapter) matches(p *enumerator.PortDetails) bool {
	return p.IsUSB && strings.EqualFold(p.VID, a.VID) && strings.EqualFold(p.PID, a.PID)
}

// KnownAdapters are the adapters shipped with probes, most preferred first.
var KnownAdapters = []Adapter{
	{VID: "0403", PID: "6001", Name: "FTDI, powered"},
	{VID: "1A86", PID: "7523", Name: "CH340, unpowered"},
}

// USB finds a probe among the attached USB serial adapters.
type USB struct {
	Adapters []Adapter

	// List enumerates ports. It defaults to enumerator.GetDetailedPortsList.
	List func() ([]*enumerator.PortDetails, error)
}

// NewUSB returns a USB locator for the known adapters.
func NewUSB() *USB {
	return &USB{Adapters: KnownAdapters, List: enumerator.GetDetailedPortsList}
}

// Locate returns the first port matching an adapter, trying adapters in
// order. Ports are scanned in enumeration order within an adapter.
func (u *USB) Locate() (string, error) {
	list := u.List
	if list == nil {
		list = enumerator.GetDetailedPortsList
	}
	ports, err := list()
	if err != nil {
		return "", fmt.Errorf("locator: enumerate ports: %w", err)
	}
	for _, a := range u.Adapters {
		for _, p := range ports {
			if p == nil || p.Name == "" || !a.matches(p) {
				continue
			}
			slog.Debug("locator: probe adapter found", "port", p.Name, "adapter", a.String(), "name", a.Name)
			return p.Name, nil
		}
	}
	return "", ErrNotFound
}

// Static always returns the same path.
type Static string

// Locate returns s, or ErrNotFound when it is empty.
func (s Static) Locate() (string, error) {
	if s == "" {
		return "", ErrNotFound
	}
	return string(s), nil
}

// Chain tries each locator in turn and returns the first path found. A
// failing locator is logged and skipped.
type Chain []Locator

func (c Chain) Locate() (string, error) {
	for _, l := range c {
		path, err := l.Locate()
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("locator: skipped", "err", err)
		}
	}
	return "", ErrNotFound
}

// Default looks for a USB adapter and falls back to DefaultPort.
func Default() Locator {
	return Chain{NewUSB(), Static(DefaultPort)}
}
