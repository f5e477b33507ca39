// Package eventsink forwards DFU state and progress events to a message bus
// so that dashboards or fleet tooling can follow updates remotely.
package eventsink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/chaz8081/nordic-dfu/internal/dfu"
)

// Publisher sends a message on a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Source provides the DFU event channels. *dfu.Coordinator satisfies it.
type Source interface {
	SubscribeState(buffer int) (<-chan dfu.StateEvent, func())
	SubscribeProgress(buffer int) (<-chan dfu.ProgressRecord, func())
}

var (
	_ Publisher = (*nats.Conn)(nil)
	_ Source    = (*dfu.Coordinator)(nil)
)

// Connect dials a NATS server for use as a Publisher.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("nordic-dfu"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("[SINK] nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("[SINK] nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("eventsink: connect %s: %w", url, err)
	}
	return nc, nil
}

// Forwarder publishes every event of a Source as JSON on
// <prefix>.state and <prefix>.progress.
type Forwarder struct {
	pub      Publisher
	prefix   string
	states   <-chan dfu.StateEvent
	progress <-chan dfu.ProgressRecord
	unsub    []func()
}

// New subscribes to src right away so no event published after New returns
// is missed. Call Run to start forwarding.
func New(src Source, pub Publisher, prefix string) *Forwarder {
	states, unsubStates := src.SubscribeState(64)
	progress, unsubProgress := src.SubscribeProgress(256)
	return &Forwarder{
		pub:      pub,
		prefix:   prefix,
		states:   states,
		progress: progress,
		unsub:    []func(){unsubStates, unsubProgress},
	}
}

// StateSubject is the subject state events are published on.
func (f *Forwarder) StateSubject() string { return f.prefix + ".state" }

// ProgressSubject is the subject progress records are published on.
func (f *Forwarder) ProgressSubject() string { return f.prefix + ".progress" }

// Run forwards events until ctx is done, then unsubscribes. Publish errors
// are logged and skipped.
func (f *Forwarder) Run(ctx context.Context) {
	defer func() {
		for _, u := range f.unsub {
			u()
		}
	}()

	states, progress := f.states, f.progress
	for states != nil || progress != nil {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			f.publish(f.StateSubject(), ev)
		case rec, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			f.publish(f.ProgressSubject(), rec)
		}
	}
}

func (f *Forwarder) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("[SINK] encode event", "subject", subject, "error", err)
		return
	}
	if err := f.pub.Publish(subject, data); err != nil {
		slog.Warn("[SINK] publish failed", "subject", subject, "error", err)
	}
}
