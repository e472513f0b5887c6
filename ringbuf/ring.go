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

// Package ringbuf implements a lock-free single-producer/single-consumer
// ring over a caller-supplied byte buffer. The buffer may be backed by
// anonymous heap memory (for same-process use) or by a shared memory
// mapping (see package shmring); ringbuf itself never touches a file
// descriptor, it is a pure memory algorithm.
//
// The layout is one cache line (64 bytes) holding a single atomic word
// "count", followed by a densely packed array of type T. Producer and
// consumer each keep a private index; count is the only cross-side shared
// mutable state. See Sender.Send and Receiver.Recv for the protocol.
//
// T must be a fixed-size, pointer-free type: values cross into memory that
// may be concurrently mutated (or mapped into another process), so the Go
// garbage collector must never be asked to trace through it. This mirrors
// the "V must NOT contain pointer" rule on container/ring.Ring.
package ringbuf

import (
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/shmring/shmring/shmerrs"
)

// cacheLineSize is the size of the header that holds the shared count. It
// is a full cache line so producer and consumer do not false-share despite
// only one word in it ever being written.
const cacheLineSize = 64

// Status is returned by every Send/Receive style operation.
type Status struct {
	// Remaining is the number of items immediately available after the
	// operation: free slots after a send, readable items after a receive.
	Remaining int
	// Signal is true exactly when this operation crossed the ring from
	// empty to non-empty (send) or from full to non-full (receive). The
	// caller should treat this as "wake the peer".
	Signal bool
}

// BufferSize returns the number of bytes callers must allocate to hold a
// ring of the given element capacity: one cache line of header plus
// capacity elements of T. Both sides of an untrusted exchange must agree
// on capacity and independently compute the same value here.
func BufferSize[T any](capacity int) int {
	var zero T
	return cacheLineSize + capacity*int(unsafe.Sizeof(zero))
}

// core holds the attached, validated view over a backing buffer. It is
// shared by exactly one Sender and/or one Receiver; it carries no private
// index itself.
type core[T any] struct {
	dataBase unsafe.Pointer // first element
	countPtr *uint64        // shared atomic count, at buffer offset 0
	length   int            // N, usable element capacity
	elemSize uintptr
}

// attach validates buf and optionally (re)initialises the shared count.
// init=true is used when this process is the one creating the ring;
// init=false attaches to a ring created elsewhere (the shared count must
// already hold a valid value, whether that's a freshly zeroed mapping or
// one already in active use).
func attach[T any](buf []byte, init bool) (*core[T], error) {
	var zero T
	elemSize := unsafe.Sizeof(zero)
	align := unsafe.Alignof(zero)

	if len(buf) < cacheLineSize+int(elemSize) {
		return nil, shmerrs.ErrBufTooSmall
	}
	if uint64(len(buf)) >= uint64(math.MaxInt64)/2 {
		return nil, shmerrs.ErrBufTooBig
	}

	base := unsafe.Pointer(&buf[0])
	if uintptr(base)%unsafe.Alignof(uint64(0)) != 0 {
		return nil, shmerrs.ErrBufUnaligned
	}
	dataBase := unsafe.Add(base, cacheLineSize)
	if uintptr(dataBase)%align != 0 {
		return nil, shmerrs.ErrBufUnaligned
	}

	n := (len(buf) - cacheLineSize) / int(elemSize)
	c := &core[T]{
		dataBase: dataBase,
		countPtr: (*uint64)(base),
		length:   n,
		elemSize: elemSize,
	}

	if init {
		atomic.StoreUint64(c.countPtr, 0)
	} else if _, err := c.loadCount(); err != nil {
		return nil, err
	}
	return c, nil
}

// loadCount acquire-loads the shared count and range-checks it.
func (c *core[T]) loadCount() (uint64, error) {
	cb := atomic.LoadUint64(c.countPtr)
	if cb > uint64(c.length) {
		return 0, shmerrs.ErrBufCorrupt
	}
	return cb, nil
}

func (c *core[T]) elemAt(idx int) *T {
	return (*T)(unsafe.Add(c.dataBase, uintptr(idx)*c.elemSize))
}

// noCopy helps `go vet` flag accidental copies of Sender/Receiver values.
// Neither is Clone-able: each is a single logical endpoint that may move
// across goroutines but must not be held by two of them concurrently.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
