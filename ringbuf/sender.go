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

// Sender is the producer half of a ring. Exactly one goroutine may hold it
// at a time; it may be moved between goroutines but is not itself safe for
// concurrent use from more than one.
type Sender[T any] struct {
	noCopy
	core  *core[T]
	index int
}

// AttachSender attaches the producer half of a ring over buf. Pass
// init=true when this call is the one creating the ring (resets the
// shared count to 0); pass init=false when attaching to a ring created
// elsewhere.
func AttachSender[T any](buf []byte, init bool) (*Sender[T], error) {
	c, err := attach[T](buf, init)
	if err != nil {
		return nil, err
	}
	return &Sender[T]{core: c}, nil
}

// Send borrows the next contiguous writable window via f, which is handed
// a pointer to the first free element and the number of contiguous free
// elements available, and must return how many it actually populated. If
// the ring is full, f is not called and n=0. f must not report writing
// more than it was given (ErrCallbackWroteTooMuch) and the count is never
// advanced past what the callback reports.
func (s *Sender[T]) Send(f func(ptr *T, max int) int) (Status, error) {
	cb, err := s.core.loadCount()
	if err != nil {
		return Status{}, err
	}
	l := s.core.length

	w := min(l-s.index, l-int(cb))
	var n int
	if w > 0 {
		n = f(s.core.elemAt(s.index), w)
		if n > w {
			return Status{}, shmerrs.ErrCallbackWroteTooMuch
		}
	}

	newCount := atomic.AddUint64(s.core.countPtr, uint64(n))
	c := newCount - uint64(n)
	s.index = (s.index + n) % l

	return Status{
		Remaining: l - int(c) - n,
		Signal:    c == 0 && n > 0,
	}, nil
}

// SendForEach calls f up to count times, writing each produced value into
// the ring, stopping when the ring is full or count values have been
// produced. It relies on Send remaining sound across wrap-around and
// panics if the underlying ring is found corrupt (the same way the
// buddy/bitmap allocators panic on an invariant violation rather than
// return a half-applied mutation).
func (s *Sender[T]) SendForEach(count int, f func() T) Status {
	var status Status
	for {
		st, err := s.Send(func(ptr *T, max int) int {
			window := unsafe.Slice(ptr, max)
			j := 0
			for j < max && count > 0 {
				window[j] = f()
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

// WriteCount returns the number of items that can currently be written
// without blocking.
func (s *Sender[T]) WriteCount() (int, error) {
	cb, err := s.core.loadCount()
	if err != nil {
		return 0, err
	}
	return s.core.length - int(cb), nil
}
