package controller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ubertone/peacock-go/internal/config"
	"github.com/ubertone/peacock-go/internal/fault"
	"github.com/ubertone/peacock-go/internal/models"
)

// RunOptions bounds an acquisition run.
type RunOptions struct {
	// Count is the number of profiles to acquire; 0 runs until ctx is done.
	Count int
	// Interval is the minimum time between two triggers; 0 measures back
	// to back.
	Interval time.Duration
	// Reload delivers new settings, applied between two measurements.
	Reload <-chan *config.Settings
}

// Run measures profiles in the configuration order until opts.Count is
// reached or ctx is done. Protocol timeouts, rejected commands and
// malformed blocks are logged and the run goes on; a lost link or an
// unusable configuration ends it.
func (c *Controller) Run(ctx context.Context, opts RunOptions) error {
	c.update(func(s *models.State) { s.Running = true })
	defer c.update(func(s *models.State) { s.Running = false })

	var tick <-chan time.Time
	if opts.Interval > 0 {
		t := time.NewTicker(opts.Interval)
		defer t.Stop()
		tick = t.C
	}
	reload := opts.Reload

	start := time.Now()
	done := 0
	for opts.Count == 0 || done < opts.Count {
		if err := ctx.Err(); err != nil {
			break
		}
		select {
		case s, ok := <-reload:
			if !ok {
				reload = nil
				continue
			}
			if err := c.Reload(ctx, s); err != nil {
				slog.Error("controller: settings rejected, keeping previous ones", "err", err)
			}
			continue
		default:
		}

		_, err := c.Measure(ctx, nil)
		switch {
		case err == nil:
			done++
		case ctx.Err() != nil:
		case fault.KindOf(err) == fault.KindTransport, fault.KindOf(err) == fault.KindConfiguration:
			return err
		default:
			slog.Warn("controller: measurement failed", "err", err)
		}

		if tick != nil && (opts.Count == 0 || done < opts.Count) {
			select {
			case <-ctx.Done():
			case <-tick:
			case s, ok := <-reload:
				if ok {
					if err := c.Reload(ctx, s); err != nil {
						slog.Error("controller: settings rejected, keeping previous ones", "err", err)
					}
				} else {
					reload = nil
				}
			}
		}
	}

	elapsed := time.Since(start)
	slog.Info("controller: run finished", "profiles", done, "elapsed", elapsed)
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
