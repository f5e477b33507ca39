package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/nordic-dfu/internal/ble"
	"github.com/chaz8081/nordic-dfu/internal/config"
	"github.com/chaz8081/nordic-dfu/internal/dfu"
	"github.com/chaz8081/nordic-dfu/internal/dfu/simengine"
	"github.com/chaz8081/nordic-dfu/internal/eventsink"
	"github.com/chaz8081/nordic-dfu/internal/firmware"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/nordic-dfu/config.yaml)")
	initConfig := flag.Bool("init-config", false, "write the default config file and exit")
	scan := flag.Bool("scan", false, "list nearby devices advertising a DFU service and exit")
	device := flag.String("device", "", "device address (MAC, or peripheral UUID on Apple hosts)")
	name := flag.String("name", "", "look the device up by advertised name instead of -device")
	file := flag.String("file", "", "firmware package (.zip path, file:// URI or http(s) URL)")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			fmt.Println("Config already exists:", config.DefaultConfigPath())
			return
		}
		fmt.Println("Wrote", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	if *scan {
		runScan(cfg)
		return
	}

	address := *device
	if *name != "" {
		d, err := ble.FindDevice(ble.NewHostAdapter(), *name, cfg.Scan.Timeout)
		if err != nil {
			log.Fatalf("Failed to find device: %v", err)
		}
		address = d.Address
		log.Printf("Found %s at %s (RSSI %d)", *name, d.Address, d.RSSI)
	}
	if address == "" || *file == "" {
		fmt.Fprintln(os.Stderr, "usage: nordic-dfu (-device ADDR | -name NAME) -file FIRMWARE.zip")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	locator := *file
	if firmware.IsRemote(locator) {
		log.Printf("Downloading %s...", locator)
		locator, err = firmware.Download(ctx, locator, cfg.FirmwareCacheDir())
		if err != nil {
			log.Fatalf("Failed to download firmware: %v", err)
		}
	}

	pkg, err := firmware.Open(locator)
	if err != nil {
		log.Fatalf("Invalid firmware package: %v", err)
	}

	printBanner(cfg, address, pkg)

	eng := simengine.New(simengine.Config{
		StepDelay:     cfg.Sim.StepDelay,
		Parts:         pkg.Parts(),
		ProgressSteps: cfg.Sim.ProgressSteps,
	}, slog.Default())
	coord := dfu.New(dfu.Engines{Android: eng, Ios: eng}, dfu.WithPlatform(cfg.PlatformFunc()))

	// Forward events to NATS if configured
	if cfg.Events.NatsURL != "" {
		nc, err := eventsink.Connect(cfg.Events.NatsURL)
		if err != nil {
			log.Fatalf("Failed to connect event sink: %v", err)
		}
		defer nc.Close()
		fwd := eventsink.New(coord, nc, cfg.Events.SubjectPrefix)
		go fwd.Run(ctx)
		log.Printf("Forwarding events to %s (%s.*)", cfg.Events.NatsURL, cfg.Events.SubjectPrefix)
	}

	states, unsubStates := coord.SubscribeState(32)
	defer unsubStates()
	progress, unsubProgress := coord.SubscribeProgress(64)
	defer unsubProgress()
	eventsCtx, stopEvents := context.WithCancel(ctx)
	eventsDone := make(chan struct{})
	go func() {
		logEvents(eventsCtx, log.Default(), states, progress)
		close(eventsDone)
	}()
	flushEvents := func() {
		stopEvents()
		<-eventsDone
	}

	// Signal handling: first signal aborts the update, second one exits
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	start := time.Now()
	pending := coord.StartUpdate(cfg.Request(address, pkg.Locator()))
	aborting := false

	for {
		select {
		case <-pending.Done():
			flushEvents()
			res, err := pending.Wait(ctx)
			elapsed := time.Since(start).Round(time.Millisecond)
			if err != nil {
				if code := dfu.Code(err); code != "" {
					log.Fatalf("Update failed after %s [%s]: %v", elapsed, code, err)
				}
				log.Fatalf("Update failed after %s: %v", elapsed, err)
			}
			if res.Aborted {
				log.Printf("Update of %s aborted after %s: %s", res.DeviceAddress, elapsed, res.Message)
				os.Exit(1)
			}
			log.Printf("Update of %s completed in %s", res.DeviceAddress, elapsed)
			return

		case sig := <-sigCh:
			if aborting {
				log.Printf("Received %s again, exiting without waiting", sig)
				os.Exit(1)
			}
			aborting = true
			log.Printf("Received %s, aborting update...", sig)
			if _, err := coord.AbortUpdate().Wait(ctx); err != nil {
				log.Printf("ERROR: abort failed: %v", err)
				aborting = false
			}
		}
	}
}

// runScan lists DFU-capable devices in range.
func runScan(cfg *config.Config) {
	log.Printf("Scanning for DFU devices (%s)...", cfg.Scan.Timeout)
	devices, err := ble.ScanForDevices(ble.NewHostAdapter(), cfg.Scan.Timeout)
	if err != nil {
		log.Fatalf("Scan failed: %v\n\nEnsure Bluetooth is on and access is granted.", err)
	}
	if len(devices) == 0 {
		fmt.Println("No DFU devices found")
		return
	}
	for _, d := range devices {
		kind := "secure"
		if d.Legacy() {
			kind = "legacy"
		}
		fmt.Printf("  %-40s %-20s %4d dBm  %s\n", d.Address, d.Name, d.RSSI, kind)
	}
}

// logEvents prints state changes and progress until ctx is done, then
// prints whatever is still buffered so the terminal state is not lost.
func logEvents(ctx context.Context, logger *log.Logger, states <-chan dfu.StateEvent, progress <-chan dfu.ProgressRecord) {
	lastPct := -1
	logState := func(ev dfu.StateEvent) {
		logger.Printf("[%s] %s", ev.DeviceAddress, ev.State)
	}
	logProgress := func(p dfu.ProgressRecord) {
		if p.Percent == lastPct {
			return
		}
		lastPct = p.Percent
		logger.Printf("[%s] part %d/%d: %3d%% (%.1f kB/s, avg %.1f kB/s)",
			p.DeviceAddress, p.CurrentPart, p.TotalParts, p.Percent, p.Speed, p.AvgSpeed)
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case p, ok := <-progress:
					if ok {
						logProgress(p)
						continue
					}
					progress = nil
				case ev, ok := <-states:
					if ok {
						logState(ev)
						continue
					}
					states = nil
				default:
					return
				}
				if states == nil && progress == nil {
					return
				}
			}
		case ev, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			logState(ev)
		case p, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			logProgress(p)
		}
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the update summary.
func printBanner(cfg *config.Config, address string, pkg *firmware.Package) {
	fmt.Println("=== nordic-dfu ===")
	fmt.Printf("  Device:   %s\n", address)
	fmt.Printf("  Firmware: %s (%d bytes, %d part(s))\n", pkg.Path, pkg.Size, pkg.Parts())
	fmt.Printf("  BLAKE2b:  %s\n", pkg.Digest)
	fmt.Printf("  Platform: %s\n", cfg.Platform)
	fmt.Println("  Engine:   simulated")
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("==================")
}
