// Command peacock drives a Peacock UVP velocity profiler over its serial
// link: it programs the configuration slots from a settings file, acquires
// profiles, records them to UDT005 files and serves them over HTTP.
// Run with -mock to use a simulated probe (no serial device required).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ubertone/peacock-go/internal/api"
	"github.com/ubertone/peacock-go/internal/auth"
	"github.com/ubertone/peacock-go/internal/config"
	"github.com/ubertone/peacock-go/internal/controller"
	"github.com/ubertone/peacock-go/internal/device"
	"github.com/ubertone/peacock-go/internal/events"
	"github.com/ubertone/peacock-go/internal/identity"
	"github.com/ubertone/peacock-go/internal/locator"
	"github.com/ubertone/peacock-go/internal/modbus"
	"github.com/ubertone/peacock-go/internal/record"
	"github.com/ubertone/peacock-go/internal/zeroconf"
)

func main() {
	var (
		settingsPath = flag.String("settings", "", "settings file (default: ~/.config/peacock/settings.yaml)")
		port         = flag.String("port", "", "serial device (default: from settings, else auto-detect)")
		baud         = flag.Int("baud", 0, "baud rate (default: from settings)")
		mock         = flag.Bool("mock", false, "use a simulated probe (no serial device required)")
		count        = flag.Int("count", 0, "number of profiles to acquire, 0 runs until interrupted")
		interval     = flag.Duration("interval", 0, "minimum time between two profiles")
		recordDir    = flag.String("record", "", "directory to record raw profiles to (disabled if empty)")
		addr         = flag.String("addr", "", "HTTP listen address, e.g. :8080 (disabled if empty)")
		mdns         = flag.Bool("mdns", false, "advertise the HTTP API over mDNS")
		addrMap      = flag.String("address-map", "", "YAML register layout for older firmware")
		dump         = flag.String("dump", "", "print the profiles of a record file and exit")
		debug        = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	// Configure logging
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if *dump != "" {
		if err := dumpRecord(*dump); err != nil {
			slog.Error("dump failed", "path", *dump, "err", err)
			os.Exit(1)
		}
		return
	}

	// Resolve settings file
	if *settingsPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			slog.Error("cannot determine home directory", "err", err)
			os.Exit(1)
		}
		*settingsPath = filepath.Join(home, ".config", "peacock", "settings.yaml")
	}
	store := config.NewYAMLStore(*settingsPath)
	settings, err := store.Load()
	if err != nil {
		slog.Error("cannot load settings", "path", *settingsPath, "err", err)
		os.Exit(1)
	}
	if _, err := os.Stat(*settingsPath); errors.Is(err, os.ErrNotExist) {
		slog.Info("writing default settings", "path", *settingsPath)
		if err := store.Save(settings); err == nil {
			err = store.Flush()
		}
		if err != nil {
			slog.Warn("cannot write default settings", "err", err)
		}
	}
	if *baud > 0 {
		settings.Baud = *baud
	}
	if *port == "" {
		*port = settings.Port
	}

	addrs := device.DefaultAddressMap()
	if *addrMap != "" {
		if addrs, err = device.LoadAddressMap(*addrMap); err != nil {
			slog.Error("cannot load address map", "err", err)
			os.Exit(1)
		}
	}

	// Graceful shutdown context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Probe link
	var link modbus.Link
	if *mock {
		slog.Info("using simulated probe")
		sim := device.NewSimulator(addrs, settings.FSys, identity.Probe{
			FirmwareC: 47, FirmwareVHDL: 12, Model: identity.ModelPeacockUVP, Year: 2024, Serial: 1,
		})
		sim.SetLatency(1)
		link, *port = sim, "mock"
	} else {
		if *port == "" {
			if *port, err = locator.Default().Locate(); err != nil {
				slog.Error("no probe found", "err", err)
				os.Exit(1)
			}
		}
		if link, err = modbus.OpenSerial(*port, settings.Baud); err != nil {
			slog.Error("cannot open serial port", "port", *port, "err", err)
			os.Exit(1)
		}
	}
	drv := device.New(modbus.New(link), settings.FSys, addrs)
	defer drv.Close()

	probe, err := drv.ReadIdentity(ctx)
	if err != nil {
		slog.Error("probe does not answer", "port", *port, "err", err)
		os.Exit(1)
	}

	// Recorder
	opts := []controller.Option{controller.WithPort(*port)}
	if *recordDir != "" {
		c := record.NewConstants(probe, settings.ProductModel, settings.BoardVersion, identity.GetVersion(),
			settings.Baud, settings.FSys, uuid.New().String())
		w, path, err := record.Create(*recordDir, c, time.Now())
		if err != nil {
			slog.Error("cannot start recording", "err", err)
			os.Exit(1)
		}
		defer func() {
			if err := w.Close(); err != nil {
				slog.Warn("record close failed", "err", err)
			}
			slog.Info("record closed", "path", path, "profiles", w.Profiles())
		}()
		opts = append(opts, controller.WithRecorder(w, filepath.Base(path)))
	}

	// Controller
	bus := events.NewBus()
	ctrl, err := controller.New(drv, store, bus, opts...)
	if err != nil {
		slog.Error("controller initialization failed", "err", err)
		os.Exit(1)
	}
	if err := ctrl.Connect(ctx); err != nil {
		slog.Error("cannot program probe", "err", err)
		os.Exit(1)
	}

	reload, err := store.Watch(ctx)
	if err != nil {
		slog.Warn("settings will not be reloaded", "err", err)
	}

	// HTTP server
	var srv *http.Server
	if *addr != "" {
		// access keys live next to the settings file
		keys, err := auth.NewService(filepath.Dir(*settingsPath))
		if err != nil {
			slog.Error("auth service initialization failed", "err", err)
			os.Exit(1)
		}
		defer keys.Close()

		srv = &http.Server{
			Addr:         *addr,
			Handler:      api.NewRouter(ctrl, keys, bus),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // 0 = no timeout (needed for SSE)
			IdleTimeout:  120 * time.Second,
		}
		go func() {
			slog.Info("peacock listening", "addr", *addr, "mock", *mock, "settings", *settingsPath)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("server error", "err", err)
			}
		}()

		// Zeroconf mDNS registration
		if *mdns {
			zc := zeroconf.New(identity.GetHostname(), listenPort(*addr), ctrl.Info())
			go func() {
				if err := zc.Start(ctx); err != nil {
					slog.Warn("zeroconf failed", "err", err)
				}
			}()
		}
	}

	runErr := ctrl.Run(ctx, controller.RunOptions{Count: *count, Interval: *interval, Reload: reload})
	if runErr != nil {
		slog.Error("acquisition stopped", "err", runErr)
	} else if srv != nil && ctx.Err() == nil {
		// keep serving the last profile until interrupted
		<-ctx.Done()
	}
	slog.Info("shutting down...")

	if err := drv.Stop(context.Background()); err != nil {
		slog.Warn("cannot stop probe", "err", err)
	}

	// Graceful HTTP shutdown
	if srv != nil {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Warn("server shutdown error", "err", err)
		}
	}

	slog.Info("shutdown complete")
	if runErr != nil {
		os.Exit(1)
	}
}

// listenPort extracts the port of a listen address, 80 if it has none.
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 80
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 80
	}
	return n
}

// dumpRecord prints one JSON line per profile of a record file.
func dumpRecord(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(os.Stdout)
	s, err := record.Replay(f, func(p record.Profile) error {
		return enc.Encode(struct {
			Slot      int       `json:"slot"`
			Timestamp time.Time `json:"timestamp"`
			Temp      int16     `json:"temp"`
			Sound     int16     `json:"sound_speed"`
			Summary   any       `json:"summary"`
		}{p.Slot, p.Record.Timestamp, p.Record.Temperature, p.Record.SoundSpeed, p.Record.Summary()})
	})
	if s != nil {
		fmt.Fprintf(os.Stderr, "%s board %s, firmware %s, session %s: %d profiles, %d slots\n",
			record.Magic, s.Header.Board, s.Header.Firmware, s.Constants.Session, s.Profiles, len(s.Configs))
	}
	return err
}
