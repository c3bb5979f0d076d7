// Package pub fans domain events out to the notification dispatcher and live subscribers.
// Publishing is fire-and-forget: failures are logged and never reach the caller.
package pub

import (
	"context"
	"sync"
	"time"
)

const (
	EventContractStatusChanged  = "contract.status_changed"
	EventMilestoneStatusChanged = "milestone.status_changed"
	EventPaymentSucceeded       = "payment.succeeded"
	EventPaymentFailed          = "payment.failed"
	EventPaymentProcessing      = "payment.processing"
	EventBalanceUpdated         = "balance.updated"
	EventWithdrawalRequested    = "withdrawal.requested"
	EventWithdrawalProcessed    = "withdrawal.processed"
)

// Event is the envelope every publisher serializes.
type Event struct {
	Type      string      `json:"event_type"`
	Key       string      `json:"key"`
	ActorID   string      `json:"actor_id,omitempty"`
	Audience  []string    `json:"audience,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type Publisher interface {
	Publish(ctx context.Context, evt Event)
	Close() error
}

type noop struct{}

// Noop drops every event.
func Noop() Publisher { return noop{} }

func (noop) Publish(context.Context, Event) {}
func (noop) Close() error                   { return nil }

type multi []Publisher

// Multi publishes to each non-nil publisher in order.
func Multi(pubs ...Publisher) Publisher {
	var m multi
	for _, p := range pubs {
		if p != nil {
			m = append(m, p)
		}
	}
	if len(m) == 0 {
		return Noop()
	}
	return m
}

func (m multi) Publish(ctx context.Context, evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	for _, p := range m {
		p.Publish(ctx, evt)
	}
}

func (m multi) Close() error {
	var first error
	for _, p := range m {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Local delivers events in-process to subscribers registered after construction.
// The websocket hub subscribes after the usecases holding the publisher exist.
type Local struct {
	mu   sync.RWMutex
	subs []func(context.Context, Event)
}

func NewLocal() *Local { return &Local{} }

func (l *Local) Subscribe(fn func(context.Context, Event)) {
	l.mu.Lock()
	l.subs = append(l.subs, fn)
	l.mu.Unlock()
}

func (l *Local) Publish(ctx context.Context, evt Event) {
	l.mu.RLock()
	subs := l.subs
	l.mu.RUnlock()
	for _, fn := range subs {
		fn(ctx, evt)
	}
}

func (l *Local) Close() error { return nil }
