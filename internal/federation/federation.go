// Package federation implements the external protocol adapters from spec
// §4.K: outbound links to other services (a web hook, a sibling driver)
// that must retry with exponential backoff and jitter rather than hammer a
// downed peer, and that must not grow without bound while a peer stays
// down. Backoff is built on sethvargo/go-retry, already pulled in
// transitively by goose's migration runner and promoted here to a direct
// dependency rather than hand-rolled, since the pack already demonstrates
// it as the idiomatic retry/backoff choice.
package federation

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mudforge/driver/internal/errs"
)

// Message is one unit of outbound traffic to an external adapter.
type Message struct {
	Target  string
	Payload []byte
}

// Send delivers one message to an external endpoint. Implementations are
// expected to be cheap failures (return promptly) so backoff can be applied
// by the caller rather than the adapter itself blocking.
type Send func(ctx context.Context, msg Message) error

// BackoffConfig controls the retry schedule on delivery failure.
type BackoffConfig struct {
	Base        time.Duration
	MaxAttempts uint64
	JitterPct   uint64
}

// Adapter wraps one external send function with retrying delivery and a
// bounded buffer of messages that could not be delivered even after
// exhausting retries, so an operator can inspect and replay them instead of
// losing them silently.
type Adapter struct {
	name     string
	send     Send
	backoff  BackoffConfig
	log      *zap.Logger

	mu          sync.Mutex
	undelivered *list.List
	capacity    int
}

func NewAdapter(name string, send Send, backoff BackoffConfig, bufferCapacity int, log *zap.Logger) *Adapter {
	return &Adapter{
		name:        name,
		send:        send,
		backoff:     backoff,
		log:         log,
		undelivered: list.New(),
		capacity:    bufferCapacity,
	}
}

// Deliver attempts to send msg, retrying with exponential backoff and
// jitter up to MaxAttempts. If every attempt fails, msg is appended to the
// undelivered buffer (evicting the oldest entry if at capacity) instead of
// being dropped outright, and Deliver returns the final error.
func (a *Adapter) Deliver(ctx context.Context, msg Message) error {
	b, err := retry.NewExponential(a.backoff.Base)
	if err != nil {
		return errs.New(errs.KindRuntime, "construct backoff policy", err)
	}
	b = retry.WithJitterPercent(a.backoff.JitterPct, b)
	b = retry.WithMaxRetries(a.backoff.MaxAttempts, b)

	err = retry.Do(ctx, b, func(ctx context.Context) error {
		sendErr := a.send(ctx, msg)
		if sendErr != nil {
			if a.log != nil {
				a.log.Warn("federation delivery attempt failed",
					zap.String("adapter", a.name), zap.String("target", msg.Target), zap.Error(sendErr))
			}
			return retry.RetryableError(sendErr)
		}
		return nil
	})

	if err != nil {
		a.bufferUndelivered(msg)
		return errs.New(errs.KindRuntime, "federation delivery exhausted retries to "+a.name, err)
	}
	return nil
}

func (a *Adapter) bufferUndelivered(msg Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.undelivered.Len() >= a.capacity {
		a.undelivered.Remove(a.undelivered.Front())
	}
	a.undelivered.PushBack(msg)
}

// Undelivered returns a snapshot of messages that exhausted retries, oldest
// first.
func (a *Adapter) Undelivered() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Message, 0, a.undelivered.Len())
	for e := a.undelivered.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Message))
	}
	return out
}

// DrainUndelivered removes and returns every buffered message, for a
// caller that wants to attempt a manual replay.
func (a *Adapter) DrainUndelivered() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Message, 0, a.undelivered.Len())
	for e := a.undelivered.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Message))
	}
	a.undelivered.Init()
	return out
}
