/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package shmring

import (
	"context"

	"github.com/shmring/shmring/concurrency/gopool"
	"github.com/shmring/shmring/eventfd"
)

// Reactor runs signal watchers on a gopool worker pool, so callers are
// notified through a callback instead of calling
// BlockUntilReadable/BlockUntilWritable themselves. Each watch occupies
// one pool worker goroutine, blocked in the counter's Wait, for as long as
// it runs; watching many rings therefore still costs one goroutine per
// watched signal.
type Reactor struct {
	pool *gopool.GoPool
}

// NewReactor creates a reactor backed by its own named worker pool. Pass
// nil for opt to use gopool's defaults.
func NewReactor(name string, opt *gopool.Option) *Reactor {
	return &Reactor{pool: gopool.NewGoPool(name, opt)}
}

// watch runs a loop that blocks on counter.Wait and invokes onSignal once
// per wake-up, until ctx is cancelled or the wait errors (e.g. the
// counter was closed from another goroutine, the documented cancellation
// path for the blocking helpers). ctx is checked only before each Wait, so
// a cancellation takes effect after the next wake-up, not while blocked.
func (r *Reactor) watch(ctx context.Context, counter *eventfd.Counter, onSignal func()) {
	r.pool.CtxGo(ctx, func() {
		for {
			if ctx.Err() != nil {
				return
			}
			if _, err := counter.Wait(); err != nil {
				return
			}
			onSignal()
		}
	})
}

// WatchReadable invokes onReadable, on the reactor's pool, every time the
// sender signals this ring non-empty. onReadable is expected to drain via
// RecvRaw/RecvTrusted/RecvCopy/RecvForEach until the ring reports empty
// again, the same way an edge-triggered epoll consumer would.
func (r *Receiver[T]) WatchReadable(ctx context.Context, reactor *Reactor, onReadable func()) {
	reactor.watch(ctx, r.inner.emptySignal, onReadable)
}

// WatchWritable invokes onWritable, on the reactor's pool, every time the
// receiver signals this ring non-full.
func (s *Sender[T]) WatchWritable(ctx context.Context, reactor *Reactor, onWritable func()) {
	reactor.watch(ctx, s.inner.fullSignal, onWritable)
}
