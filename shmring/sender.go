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

	"github.com/shmring/shmring/memfile"
	"github.com/shmring/shmring/ringbuf"
)

// Sender is the producing half of a shared-memory ring, plus the two
// event counters used to wake a blocked peer.
type Sender[T any] struct {
	inner *inner
	tx    *ringbuf.Sender[T]
}

// New creates a fresh ring with room for capacity elements of T and
// returns its sending half.
func New[T any](capacity int) (*Sender[T], error) {
	return newSender[T](capacity, nil)
}

// NewWithHugePages is like New but backs the ring with huge pages, for
// workloads large enough that regular 4KiB pages would thrash the TLB.
// Supported on Linux 4.16+ only.
func NewWithHugePages[T any](capacity int, size memfile.HugePageSize) (*Sender[T], error) {
	return newSender[T](capacity, &size)
}

func newSender[T any](capacity int, hp *memfile.HugePageSize) (*Sender[T], error) {
	in, err := newInner[T](capacity, hp)
	if err != nil {
		return nil, err
	}
	tx, err := ringbuf.AttachSender[T](in.mmap, true)
	if err != nil {
		in.close()
		return nil, err
	}
	return &Sender[T]{inner: in, tx: tx}, nil
}

// Open attaches to a ring set up by a Receiver, given the three
// descriptors it handed over out of band.
func Open[T any](capacity int, memfd, emptySignal, fullSignal *os.File) (*Sender[T], error) {
	in, err := openInner[T](capacity, memfd, emptySignal, fullSignal)
	if err != nil {
		return nil, err
	}
	tx, err := ringbuf.AttachSender[T](in.mmap, false)
	if err != nil {
		in.close()
		return nil, err
	}
	return &Sender[T]{inner: in, tx: tx}, nil
}

// Lock mlocks the backing memory so the kernel never swaps it out.
func (s *Sender[T]) Lock() error { return s.inner.lock() }

// Unlock undoes Lock.
func (s *Sender[T]) Unlock() error { return s.inner.unlock() }

// Close unmaps the ring and closes every descriptor this side owns. The
// peer's own copies (and the shared kernel objects they reference) are
// unaffected until it closes them too.
func (s *Sender[T]) Close() error { return s.inner.close() }

// MemFile is the memfd backing the ring's shared memory, to hand to a
// peer out of band.
func (s *Sender[T]) MemFile() *os.File { return s.inner.file }

// EmptySignal is written to when this side makes the ring non-empty; the
// receiving side blocks on (or polls) it.
func (s *Sender[T]) EmptySignal() *os.File { return s.inner.emptySignal.File() }

// FullSignal is waited on by this side when the ring is full; the
// receiving side writes to it once it has freed space.
func (s *Sender[T]) FullSignal() *os.File { return s.inner.fullSignal.File() }

// SendRaw writes into the ring through a raw-pointer window, since a
// shared-memory peer can never be trusted enough to hand out a real Go
// slice: the memory might be concurrently mutated, or entirely bogus, on
// the other side of the mapping. f receives a pointer to up to max
// contiguous elements and returns how many it actually wrote; if it
// writes more than max was given, SendRaw returns an error and performs
// no further mutation. If the ring is currently full, f is not called and
// a zero Status is returned with no error. If this send makes the ring
// non-empty, the receiver's empty signal is written to.
func (s *Sender[T]) SendRaw(f func(ptr *T, max int) int) (ringbuf.Status, error) {
	status, err := s.tx.Send(f)
	if err != nil {
		return ringbuf.Status{}, err
	}
	if status.Signal {
		if err := s.inner.emptySignal.Signal(); err != nil {
			return ringbuf.Status{}, err
		}
	}
	return status, nil
}

// SendTrusted is SendRaw with a real Go slice instead of a pointer
// window, for callers who can vouch that no one else (no other process,
// no other goroutine) can observe or mutate this region concurrently.
// That guarantee does not hold for a ring shared with an untrusted peer:
// use SendRaw there.
func (s *Sender[T]) SendTrusted(f func([]T) int) (ringbuf.Status, error) {
	return s.SendRaw(func(ptr *T, max int) int {
		return f(unsafe.Slice(ptr, max))
	})
}

// SendForEach writes up to count elements produced one at a time by f,
// signaling the receiver exactly once if the ring transitions from empty
// to non-empty partway through. An error here always comes from the
// signal write; the ring has still accepted every element SendForEach
// reports in the returned status, but the receiver may not have been
// woken and could remain blocked until it next polls. A corrupt shared
// count is not returned as an error: ringbuf.Sender's own SendForEach
// panics with ErrBufCorrupt, and that panic propagates through here.
func (s *Sender[T]) SendForEach(count int, f func() T) (ringbuf.Status, error) {
	status := s.tx.SendForEach(count, f)
	if status.Signal {
		if err := s.inner.emptySignal.Signal(); err != nil {
			return status, err
		}
	}
	return status, nil
}

// BlockUntilWritable blocks until the ring has room for at least one
// element, then returns the number of free slots without consuming any.
func (s *Sender[T]) BlockUntilWritable() (ringbuf.Status, error) {
	for {
		n, err := s.tx.WriteCount()
		if err != nil {
			return ringbuf.Status{}, err
		}
		if n > 0 {
			return ringbuf.Status{Remaining: n}, nil
		}
		if _, err := s.inner.fullSignal.Wait(); err != nil {
			return ringbuf.Status{}, err
		}
	}
}
