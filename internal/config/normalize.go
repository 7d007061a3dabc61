package config

import (
	"log/slog"

	"github.com/ubertone/peacock-go/internal/acoustic"
)

// normalize fills in values missing from older or hand-written files and
// drops what the probe cannot hold.
func normalize(s *Settings) {
	def := DefaultSettings()

	if s.Baud == 0 {
		s.Baud = def.Baud
	}
	if s.FSys <= 0 {
		s.FSys = def.FSys
	}
	if s.BoardVersion == "" {
		s.BoardVersion = def.BoardVersion
	}
	if s.ProductModel == "" {
		s.ProductModel = def.ProductModel
	}
	if s.SoundSpeed.Value <= 0 {
		s.SoundSpeed.Value = def.SoundSpeed.Value
	}

	if len(s.Configs) == 0 {
		slog.Info("config: no configuration, using default")
		s.Configs = def.Configs
	}
	if len(s.Configs) > MaxConfigs {
		slog.Warn("config: too many configurations, extra ones ignored", "count", len(s.Configs), "max", MaxConfigs)
		s.Configs = s.Configs[:MaxConfigs]
	}
	for i := range s.Configs {
		c := &s.Configs[i]
		if c.Mode == "" {
			c.Mode = acoustic.ModeContinuous
		}
		if c.Transducer == 0 {
			c.Transducer = 1
		}
		if c.Averaging == 0 {
			c.Averaging = 1
		}
	}

	order := make([]int, 0, len(s.Order))
	for _, slot := range s.Order {
		if slot < 0 || slot >= len(s.Configs) {
			slog.Warn("config: configuration order names a missing slot, dropped", "slot", slot)
			continue
		}
		order = append(order, slot)
	}
	if len(order) == 0 {
		for i := range s.Configs {
			order = append(order, i)
		}
	}
	s.Order = order
}
