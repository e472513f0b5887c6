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

package ringbuf

import (
	"sync/atomic"
	"unsafe"

	"github.com/shmring/shmring/shmerrs"
)

// Receiver is the consumer half of a ring. Exactly one goroutine may hold
// it at a time; see Sender for the same movability/aliasing contract.
type Receiver[T any] struct {
	noCopy
	core  *core[T]
	index int
}

// AttachReceiver attaches the consumer half of a ring over buf. See
// AttachSender for the meaning of init.
func AttachReceiver[T any](buf []byte, init bool) (*Receiver[T], error) {
	c, err := attach[T](buf, init)
	if err != nil {
		return nil, err
	}
	return &Receiver[T]{core: c}, nil
}

// Attach creates a Sender and Receiver sharing one freshly-initialised
// ring over buf. This is the same-process convenience used by tests and
// by callers who don't need the cross-process hand-off in package
// shmring.
func Attach[T any](buf []byte) (*Sender[T], *Receiver[T], error) {
	c, err := attach[T](buf, true)
	if err != nil {
		return nil, nil, err
	}
	return &Sender[T]{core: c}, &Receiver[T]{core: c}, nil
}

// Recv borrows the next contiguous readable window via f, which is handed
// a pointer to the first unread element and the number of contiguous
// readable elements available, and must return how many it actually
// consumed. If the ring is empty, f is not called and n=0. f must not
// report reading more than it was given (ErrCallbackReadTooMuch).
func (r *Receiver[T]) Recv(f func(ptr *T, max int) int) (Status, error) {
	cb, err := r.core.loadCount()
	if err != nil {
		return Status{}, err
	}
	l := r.core.length

	readable := min(r.index+int(cb), l) - r.index
	var n int
	if readable > 0 {
		n = f(r.core.elemAt(r.index), readable)
		if n > readable {
			return Status{}, shmerrs.ErrCallbackReadTooMuch
		}
	}

	newCount := atomic.AddUint64(r.core.countPtr, negU64(uint64(n)))
	c := newCount + uint64(n)
	r.index = (r.index + n) % l

	return Status{
		Remaining: int(c) - n,
		Signal:    c >= uint64(l) && n > 0,
	}, nil
}

// RecvForEach calls f for up to count items drained from the ring,
// stopping when the ring is empty or count items have been delivered. See
// SendForEach for the soundness/panic contract.
func (r *Receiver[T]) RecvForEach(count int, f func(T)) Status {
	var status Status
	for {
		st, err := r.Recv(func(ptr *T, max int) int {
			window := unsafe.Slice(ptr, max)
			j := 0
			for j < max && count > 0 {
				f(window[j])
				j++
				count--
			}
			return j
		})
		if err != nil {
			panic(err)
		}
		status = st
		if status.Remaining == 0 || count == 0 {
			return status
		}
	}
}

// ReadCount returns the number of items that can currently be read
// without blocking.
func (r *Receiver[T]) ReadCount() (int, error) {
	cb, err := r.core.loadCount()
	if err != nil {
		return 0, err
	}
	return int(cb), nil
}

// negU64 returns the uint64 two's-complement negation of v, i.e. the
// delta to pass to atomic.AddUint64 to subtract v.
func negU64(v uint64) uint64 {
	return ^v + 1
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
