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
	"os"
	"unsafe"

	"github.com/bytedance/gopkg/lang/mcache"

	"github.com/shmring/shmring/memfile"
	"github.com/shmring/shmring/ringbuf"
)

// Receiver is the consuming half of a shared-memory ring, plus the two
// event counters used to wake a blocked peer.
type Receiver[T any] struct {
	inner *inner
	rx    *ringbuf.Receiver[T]
}

// NewReceiver creates a fresh ring with room for capacity elements of T
// and returns its receiving half.
func NewReceiver[T any](capacity int) (*Receiver[T], error) {
	return newReceiver[T](capacity, nil)
}

// NewReceiverWithHugePages is like NewReceiver but backs the ring with
// huge pages. Supported on Linux 4.16+ only.
func NewReceiverWithHugePages[T any](capacity int, size memfile.HugePageSize) (*Receiver[T], error) {
	return newReceiver[T](capacity, &size)
}

func newReceiver[T any](capacity int, hp *memfile.HugePageSize) (*Receiver[T], error) {
	in, err := newInner[T](capacity, hp)
	if err != nil {
		return nil, err
	}
	rx, err := ringbuf.AttachReceiver[T](in.mmap, true)
	if err != nil {
		in.close()
		return nil, err
	}
	return &Receiver[T]{inner: in, rx: rx}, nil
}

// OpenReceiver attaches to a ring set up by a Sender, given the three
// descriptors it handed over out of band. Only the ring's shrink seal
// protects this mapping; a malicious receiver could still scribble over
// the data region, but the shared count invariant in package ringbuf
// bounds the damage to corruption the sender's own loadCount detects, not
// a segfault or an out-of-bounds write.
func OpenReceiver[T any](capacity int, memfd, emptySignal, fullSignal *os.File) (*Receiver[T], error) {
	in, err := openInner[T](capacity, memfd, emptySignal, fullSignal)
	if err != nil {
		return nil, err
	}
	rx, err := ringbuf.AttachReceiver[T](in.mmap, false)
	if err != nil {
		in.close()
		return nil, err
	}
	return &Receiver[T]{inner: in, rx: rx}, nil
}

// Lock mlocks the backing memory so the kernel never swaps it out.
func (r *Receiver[T]) Lock() error { return r.inner.lock() }

// Unlock undoes Lock.
func (r *Receiver[T]) Unlock() error { return r.inner.unlock() }

// Close unmaps the ring and closes every descriptor this side owns.
func (r *Receiver[T]) Close() error { return r.inner.close() }

// MemFile is the memfd backing the ring's shared memory, to hand to a
// peer out of band.
func (r *Receiver[T]) MemFile() *os.File { return r.inner.file }

// EmptySignal is waited on by this side when the ring is empty; the
// sending side writes to it once it has produced data.
func (r *Receiver[T]) EmptySignal() *os.File { return r.inner.emptySignal.File() }

// FullSignal is written to when this side makes the ring non-full; the
// sending side blocks on (or polls) it.
func (r *Receiver[T]) FullSignal() *os.File { return r.inner.fullSignal.File() }

// RecvRaw reads from the ring through a raw-pointer window, for the same
// reason SendRaw does: the peer is untrusted, so no real slice is ever
// materialized over memory it could be concurrently touching. f receives
// a pointer to up to max contiguous readable elements and returns how
// many it consumed; if it claims to have consumed more than max,
// RecvRaw returns an error. If the ring is currently empty, f is not
// called and a zero Status is returned with no error. If this receive
// makes the ring non-full, the sender's full signal is written to.
func (r *Receiver[T]) RecvRaw(f func(ptr *T, max int) int) (ringbuf.Status, error) {
	status, err := r.rx.Recv(f)
	if err != nil {
		return ringbuf.Status{}, err
	}
	if status.Signal {
		if err := r.inner.fullSignal.Signal(); err != nil {
			return ringbuf.Status{}, err
		}
	}
	return status, nil
}

// RecvTrusted is RecvRaw with a real Go slice instead of a pointer
// window, for callers who can vouch that no one else can observe or
// mutate this region concurrently. That guarantee does not hold for a
// ring shared with an untrusted peer: use RecvRaw there.
func (r *Receiver[T]) RecvTrusted(f func([]T) int) (ringbuf.Status, error) {
	return r.RecvRaw(func(ptr *T, max int) int {
		return f(unsafe.Slice(ptr, max))
	})
}

// RecvCopy is a pooled-buffer convenience over RecvRaw, for a caller that
// wants an ordinary, independently-owned []T without opting into
// RecvTrusted's aliasing obligation. It stages the contiguous readable
// window into a buffer drawn from the same size-classed pool xbuf,
// bufiox and gridbuf use for their scratch reads (mcache.Malloc), copies
// the untrusted bytes across once, and hands the caller that buffer
// reinterpreted as []T. The caller must call the returned release func
// exactly once when done, which returns the buffer to the pool.
func (r *Receiver[T]) RecvCopy(max int) ([]T, func(), ringbuf.Status, error) {
	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	raw := mcache.Malloc(max * elemSize)
	release := func() { mcache.Free(raw) }
	var dst []T
	if max > 0 {
		dst = unsafe.Slice((*T)(unsafe.Pointer(&raw[0])), max)
	}

	n := 0
	status, err := r.RecvRaw(func(ptr *T, avail int) int {
		n = avail
		if n > max {
			n = max
		}
		if n > 0 {
			copy(dst[:n], unsafe.Slice(ptr, n))
		}
		return n
	})
	if err != nil {
		release()
		return nil, nil, ringbuf.Status{}, err
	}
	return dst[:n], release, status, nil
}

// RecvForEach consumes up to count elements, calling f once per element,
// signaling the sender exactly once if the ring transitions from full to
// non-full partway through. An error here always comes from the signal
// write; the ring has still delivered every element RecvForEach reports
// in the returned status, but the sender may not have been woken and
// could remain blocked until it next polls. A corrupt shared count is not
// returned as an error: ringbuf.Receiver's own RecvForEach panics with
// ErrBufCorrupt, and that panic propagates through here.
func (r *Receiver[T]) RecvForEach(count int, f func(T)) (ringbuf.Status, error) {
	status := r.rx.RecvForEach(count, f)
	if status.Signal {
		if err := r.inner.fullSignal.Signal(); err != nil {
			return status, err
		}
	}
	return status, nil
}

// BlockUntilReadable blocks until the ring has at least one element
// available, then returns the number of readable elements without
// consuming any.
func (r *Receiver[T]) BlockUntilReadable() (ringbuf.Status, error) {
	for {
		n, err := r.rx.ReadCount()
		if err != nil {
			return ringbuf.Status{}, err
		}
		if n > 0 {
			return ringbuf.Status{Remaining: n}, nil
		}
		if _, err := r.inner.emptySignal.Wait(); err != nil {
			return ringbuf.Status{}, err
		}
	}
}
