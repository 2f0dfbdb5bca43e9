// Package optracepubsub provides a minimal generic publish/subscribe broker
// used to fan tracker notifications out to streaming consumers.
package optracepubsub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Broker fans published values out to subscribed channels. Sends are
// non-blocking: if a subscriber's channel is full, the value is dropped for
// that subscriber and counted.
type Broker[T any] struct {
	mtx    sync.Mutex
	subs   map[chan<- T]*subscription[T]
	active atomic.Bool
}

type subscription[T any] struct {
	allow func(T) bool
	ch    chan<- T
	stats Stats
}

// NewBroker returns an empty broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subs: map[chan<- T]*subscription[T]{},
	}
}

// Publish offers the value to every current subscriber.
func (b *Broker[T]) Publish(ctx context.Context, val T) {
	if !b.active.Load() { // optimization
		return
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	if len(b.subs) <= 0 { // re-check, might have changed
		return
	}

	for _, sub := range b.subs {
		if sub.allow != nil && !sub.allow(val) {
			sub.stats.Skips++
			continue
		}
		select {
		case sub.ch <- val:
			sub.stats.Sends++
		default:
			sub.stats.Drops++
		}
	}
}

// Subscribe registers the channel, with an optional allow filter, and blocks
// until the context is canceled. It returns the subscription's final stats.
func (b *Broker[T]) Subscribe(ctx context.Context, allow func(T) bool, ch chan<- T) (Stats, error) {
	if err := func() error {
		b.mtx.Lock()
		defer b.mtx.Unlock()

		if _, ok := b.subs[ch]; ok {
			return fmt.Errorf("already subscribed")
		}

		b.subs[ch] = &subscription[T]{
			allow: allow,
			ch:    ch,
		}

		b.active.Store(len(b.subs) > 0)

		return nil
	}(); err != nil {
		return Stats{}, err
	}

	<-ctx.Done()

	sub := func() *subscription[T] {
		b.mtx.Lock()
		defer b.mtx.Unlock()

		sub := b.subs[ch]
		delete(b.subs, ch)

		b.active.Store(len(b.subs) > 0)

		return sub
	}()
	if sub == nil {
		return Stats{}, fmt.Errorf("not subscribed (programmer error)")
	}

	return sub.stats, ctx.Err()
}

// Stats returns the current stats for a subscribed channel.
func (b *Broker[T]) Stats(ctx context.Context, ch chan<- T) (Stats, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	sub, ok := b.subs[ch]
	if !ok {
		return Stats{}, fmt.Errorf("not subscribed")
	}

	return sub.stats, nil
}

// Stats counts per-subscription publish outcomes.
type Stats struct {
	Skips uint64 `json:"skips"`
	Sends uint64 `json:"sends"`
	Drops uint64 `json:"drops"`
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	return fmt.Sprintf("skips=%d sends=%d drops=%d", s.Skips, s.Sends, s.Drops)
}
