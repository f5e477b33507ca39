// Package simengine provides a scripted stand-in for the native DFU engines.
// It plays the same callback sequence a Nordic DFU library produces for a
// successful transfer, and can be told to fail or be aborted part way.
package simengine

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/nordic-dfu/internal/dfu"
)

// Failure injects a native error once progress reaches AtPercent.
type Failure struct {
	AtPercent int
	Code      int
	Type      int
	Message   string
}

// Config controls the simulated transfer.
type Config struct {
	StepDelay     time.Duration // delay between lifecycle steps
	Parts         int           // firmware parts (e.g. softdevice + application)
	ProgressSteps int           // progress callbacks per part
	BytesPerStep  float64       // reported speed, bytes/ms
	Failure       *Failure
}

// DefaultConfig returns a quick single-part transfer.
func DefaultConfig() Config {
	return Config{
		StepDelay:     50 * time.Millisecond,
		Parts:         1,
		ProgressSteps: 20,
		BytesPerStep:  4.0,
	}
}

// Engine implements dfu.AndroidEngine and dfu.IosEngine.
type Engine struct {
	cfg Config
	log *slog.Logger
}

var (
	_ dfu.AndroidEngine = (*Engine)(nil)
	_ dfu.IosEngine     = (*Engine)(nil)
)

// New creates a simulated engine.
func New(cfg Config, log *slog.Logger) *Engine {
	if cfg.Parts <= 0 {
		cfg.Parts = 1
	}
	if cfg.ProgressSteps <= 0 {
		cfg.ProgressSteps = 20
	}
	if cfg.BytesPerStep <= 0 {
		cfg.BytesPerStep = 4.0
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{cfg: cfg, log: log}
}

// StartAndroid begins a simulated transfer reporting the device address on
// every callback, like the Android DFU service.
func (e *Engine) StartAndroid(p dfu.AndroidParams, l dfu.Listener) (dfu.Controller, error) {
	if err := validate(p.DeviceAddress, p.FileLocation); err != nil {
		return nil, err
	}
	delay, _ := p.PrepareDataObjectDelay.Get()
	e.log.Debug("[SIM] android start", "device", p.DeviceAddress, "file", p.FileLocation,
		"prn_enabled", p.PacketReceiptNotificationsEnabled, "packets", p.NumberOfPackets)
	return e.start(p.DeviceAddress, delay, l), nil
}

// StartIos begins a simulated transfer. iOS delegate callbacks carry no
// device address, so the simulation reports an empty one.
func (e *Engine) StartIos(p dfu.IosParams, l dfu.Listener) (dfu.Controller, error) {
	if err := validate(p.PeripheralID, p.FileLocation); err != nil {
		return nil, err
	}
	delay, _ := p.PrepareDataObjectDelay.Get()
	e.log.Debug("[SIM] ios start", "peripheral", p.PeripheralID, "file", p.FileLocation,
		"prn", p.PacketReceiptNotificationParameter)
	return e.start("", delay, l), nil
}

func validate(target, file string) error {
	if target == "" {
		return errors.New("simengine: empty device identifier")
	}
	if file == "" {
		return errors.New("simengine: empty firmware location")
	}
	return nil
}

func (e *Engine) start(reported string, objectDelay time.Duration, l dfu.Listener) *transfer {
	t := &transfer{
		abort: make(chan struct{}),
		done:  make(chan struct{}),
	}
	go e.run(t, reported, objectDelay, l)
	return t
}

// transfer is the controller of one simulated run.
type transfer struct {
	abort     chan struct{}
	abortOnce sync.Once
	done      chan struct{}
}

// Abort requests the run to stop. It returns false once the run is over.
func (t *transfer) Abort() bool {
	select {
	case <-t.done:
		return false
	default:
	}
	t.abortOnce.Do(func() { close(t.abort) })
	return true
}

// Wait blocks until the run has delivered its terminal callback.
func (t *transfer) Wait() { <-t.done }

// pause waits d and reports whether an abort arrived meanwhile.
func (t *transfer) pause(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-t.abort:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.abort:
		return true
	case <-timer.C:
		return false
	}
}

func (e *Engine) run(t *transfer, addr string, objectDelay time.Duration, l dfu.Listener) {
	defer close(t.done)

	aborted := func() {
		l.OnStateChanged(addr, dfu.StateDeviceDisconnecting)
		l.OnStateChanged(addr, dfu.StateDeviceDisconnected)
		l.OnStateChanged(addr, dfu.StateAborted)
	}

	for _, s := range []dfu.State{
		dfu.StateConnecting,
		dfu.StateConnected,
		dfu.StateProcessStarting,
		dfu.StateProcessStarted,
		dfu.StateEnablingDfuMode,
	} {
		if t.pause(e.cfg.StepDelay) {
			aborted()
			return
		}
		l.OnStateChanged(addr, s)
	}

	start := time.Now()
	var sent float64
	for part := 1; part <= e.cfg.Parts; part++ {
		for step := 0; step <= e.cfg.ProgressSteps; step++ {
			if t.pause(e.cfg.StepDelay/time.Duration(e.cfg.ProgressSteps) + objectDelay) {
				aborted()
				return
			}
			pct := step * 100 / e.cfg.ProgressSteps
			if f := e.cfg.Failure; f != nil && pct >= f.AtPercent {
				l.OnError(addr, f.Code, f.Type, f.Message)
				return
			}
			sent += e.cfg.BytesPerStep
			elapsedMs := float64(time.Since(start).Milliseconds())
			avg := e.cfg.BytesPerStep
			if elapsedMs > 0 {
				avg = sent / elapsedMs
			}
			l.OnProgress(addr, dfu.NativeProgress{
				Part:       part,
				TotalParts: e.cfg.Parts,
				Percent:    pct,
				Speed:      e.cfg.BytesPerStep,
				AvgSpeed:   avg,
			})
		}
	}

	for _, s := range []dfu.State{
		dfu.StateFirmwareValidating,
		dfu.StateDeviceDisconnecting,
		dfu.StateDeviceDisconnected,
	} {
		if t.pause(e.cfg.StepDelay) {
			aborted()
			return
		}
		l.OnStateChanged(addr, s)
	}
	l.OnStateChanged(addr, dfu.StateCompleted)
}
