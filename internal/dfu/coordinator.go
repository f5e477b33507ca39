package dfu

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AbortedMessage is the advisory text a session resolves with after a
// user-requested abort.
const AbortedMessage = "DFU aborted by user"

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithPlatform overrides host platform detection. fn is called on every
// start and abort request.
func WithPlatform(fn func() Platform) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.platform = fn
		}
	}
}

// Coordinator is the single entry point for firmware updates. It runs at
// most one session at a time. Safe for concurrent use.
type Coordinator struct {
	engines  Engines
	platform func() Platform
	log      *slog.Logger
	now      func() time.Time

	sessions sessionHolder
	states   broadcaster[StateEvent]
	progress broadcaster[ProgressRecord]
}

// New creates a Coordinator over the given engines.
func New(engines Engines, opts ...Option) *Coordinator {
	c := &Coordinator{
		engines:  engines,
		platform: HostPlatform,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubscribeState returns a channel of lifecycle events and a function that
// ends the subscription. Events are dropped when the buffer is full.
func (c *Coordinator) SubscribeState(buffer int) (<-chan StateEvent, func()) {
	return c.states.subscribe(buffer)
}

// SubscribeProgress returns a channel of progress records and a function
// that ends the subscription. Records are dropped when the buffer is full.
func (c *Coordinator) SubscribeProgress(buffer int) (<-chan ProgressRecord, func()) {
	return c.progress.subscribe(buffer)
}

// Active returns the running session, if any.
func (c *Coordinator) Active() (SessionInfo, bool) {
	s, _ := c.sessions.current()
	if s == nil {
		return SessionInfo{}, false
	}
	return s.info(), true
}

// StartUpdate starts a firmware update and returns its pending completion.
// The completion resolves with the device address on DFU_COMPLETED, resolves
// with Aborted set on DFU_ABORTED and rejects on a transfer error. A request
// made while another session runs is rejected with ErrInProgress.
func (c *Coordinator) StartUpdate(req Request) *Completion {
	platform := c.platform()

	if !c.supports(platform) {
		c.log.Warn("[DFU] no engine for platform", "platform", platform)
		return rejectedCompletion(newError(ErrUnsupportedPlatform, "no engine registered for %s", platform))
	}

	s := &session{
		id:            uuid.NewString(),
		deviceAddress: req.DeviceAddress,
		platform:      platform,
		startedAt:     c.now(),
		completion:    newCompletion(),
	}
	if err := c.sessions.tryAcquire(s); err != nil {
		c.log.Warn("[DFU] start rejected", "device", req.DeviceAddress, "error", err)
		return rejectedCompletion(err)
	}

	norm := Normalize(req, platform)
	if len(norm.Ignored) > 0 {
		c.log.Debug("[DFU] options ignored on this platform", "platform", platform, "options", norm.Ignored)
	}

	l := &sessionListener{c: c, s: s}
	var (
		ctrl Controller
		err  error
	)
	switch platform {
	case PlatformIOS:
		ctrl, err = c.engines.Ios.StartIos(*norm.Ios, l)
	default:
		ctrl, err = c.engines.Android.StartAndroid(*norm.Android, l)
	}
	if err != nil {
		c.log.Error("[DFU] engine failed to start", "session", s.id, "device", s.deviceAddress, "error", err)
		if c.sessions.release(s) {
			s.completion.reject(newError(ErrStartFailed, "%v", err))
		}
		return s.completion
	}
	c.sessions.attach(s, ctrl)

	c.log.Info("[DFU] update started",
		"session", s.id,
		"device", s.deviceAddress,
		"platform", platform,
		"file", req.FileLocation,
	)
	return s.completion
}

// Update starts an update and waits for its outcome. Cancelling ctx stops
// the wait only; use AbortUpdate to stop the transfer.
func (c *Coordinator) Update(ctx context.Context, req Request) (Result, error) {
	return c.StartUpdate(req).Wait(ctx)
}

// AbortUpdate asks the engine to stop the running session. The returned
// completion resolves once the engine accepts the request; the session's own
// completion then resolves with Aborted set when DFU_ABORTED arrives.
func (c *Coordinator) AbortUpdate() *Completion {
	platform := c.platform()

	s, ctrl := c.sessions.current()
	if s == nil {
		return rejectedCompletion(newError(ErrNoRunningDFU, "no update is running"))
	}
	if s.platform != platform {
		c.log.Warn("[DFU] aborting session started on another platform",
			"session", s.id, "started_on", s.platform, "now", platform)
	}
	if ctrl == nil {
		return rejectedCompletion(newError(ErrAbortFailed, "engine has not started %s yet", s.deviceAddress))
	}

	c.log.Info("[DFU] abort requested", "session", s.id, "device", s.deviceAddress)
	if !ctrl.Abort() {
		c.log.Warn("[DFU] engine refused abort", "session", s.id, "device", s.deviceAddress)
		return rejectedCompletion(newError(ErrAbortFailed, "engine refused to abort %s", s.deviceAddress))
	}
	return resolvedCompletion(Result{
		DeviceAddress: s.deviceAddress,
		Aborted:       true,
		Message:       "abort requested",
	})
}

func (c *Coordinator) supports(p Platform) bool {
	switch p {
	case PlatformIOS:
		return c.engines.Ios != nil
	default:
		return c.engines.Android != nil
	}
}

// sessionListener binds engine callbacks to the session they were started
// for, so callbacks arriving after that session ended are recognised and
// dropped even if a new session is running.
type sessionListener struct {
	c *Coordinator
	s *session
}

var _ Listener = (*sessionListener)(nil)

// address attributes an event: iOS callbacks carry no usable address, and
// legacy DFU bootloaders may advertise under a new one.
func (l *sessionListener) address(reported string) string {
	if reported == "" {
		return l.s.deviceAddress
	}
	if reported != l.s.deviceAddress {
		l.c.log.Debug("[DFU] event from different address", "session", l.s.id, "expected", l.s.deviceAddress, "got", reported)
	}
	return reported
}

func (l *sessionListener) OnStateChanged(deviceAddress string, state State) {
	if !state.Terminal() {
		if !l.c.sessions.isCurrent(l.s) {
			l.c.log.Debug("[DFU] ignoring state after session end", "session", l.s.id, "state", state)
			return
		}
		l.c.log.Debug("[DFU] state", "session", l.s.id, "state", state)
		l.c.states.publish(StateEvent{State: state, DeviceAddress: l.address(deviceAddress)})
		return
	}

	switch state {
	case StateCompleted:
		l.finish(deviceAddress, state, Result{DeviceAddress: l.s.deviceAddress}, nil)
	case StateAborted:
		l.finish(deviceAddress, state, Result{
			DeviceAddress: l.s.deviceAddress,
			Aborted:       true,
			Message:       AbortedMessage,
		}, nil)
	default:
		l.finish(deviceAddress, state, Result{}, newError(ErrFailed, "engine reported %s for %s", state, l.s.deviceAddress))
	}
}

func (l *sessionListener) OnProgress(deviceAddress string, p NativeProgress) {
	if !l.c.sessions.isCurrent(l.s) {
		l.c.log.Debug("[DFU] ignoring progress after session end", "session", l.s.id)
		return
	}
	l.c.progress.publish(ProgressRecord{
		DeviceAddress: l.address(deviceAddress),
		Percent:       min(max(p.Percent, 0), 100),
		Speed:         p.Speed,
		AvgSpeed:      p.AvgSpeed,
		CurrentPart:   p.Part,
		TotalParts:    p.TotalParts,
	})
}

func (l *sessionListener) OnError(deviceAddress string, code, errType int, message string) {
	l.finish(deviceAddress, StateFailed, Result{}, &NativeError{Code: code, Type: errType, Detail: message})
}

// finish runs the terminal path once per session: clear the session, emit
// the terminal state, then settle the completion. Duplicate terminal
// callbacks find the session already cleared and do nothing.
func (l *sessionListener) finish(deviceAddress string, state State, r Result, err error) {
	if !l.c.sessions.release(l.s) {
		l.c.log.Debug("[DFU] ignoring duplicate terminal callback", "session", l.s.id, "state", state)
		return
	}
	l.c.states.publish(StateEvent{State: state, DeviceAddress: l.address(deviceAddress)})

	elapsed := l.c.now().Sub(l.s.startedAt).Round(time.Millisecond)
	if err != nil {
		l.c.log.Error("[DFU] update failed", "session", l.s.id, "device", l.s.deviceAddress, "elapsed", elapsed, "error", err)
		l.s.completion.reject(err)
		return
	}
	l.c.log.Info("[DFU] update finished", "session", l.s.id, "device", l.s.deviceAddress, "state", state, "elapsed", elapsed)
	l.s.completion.resolve(r)
}
