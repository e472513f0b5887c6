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

// Package shmring wires package ringbuf to shared memory so two mutually
// untrusted processes can hand each other a ring buffer over nothing more
// than three file descriptors:
//
//   - a memfd holding the ring's backing memory, sealed against
//     shrinking (its only seal: both sides write to the mapping);
//   - an "empty" event counter the sender signals when it makes the ring
//     non-empty, which the receiver blocks on;
//   - a "full" event counter the receiver signals when it makes the ring
//     non-full, which the sender blocks on.
//
// Everything the two sides exchange out of band (over a pipe, a Unix
// socket with SCM_RIGHTS, D-Bus, whatever the host chooses) is the
// capacity plus those three descriptors. Neither side trusts the other:
// the memfd seals and the length checks in package ringbuf are the actual
// security boundary, not anything in this package.
package shmring

import (
	"os"

	"github.com/shmring/shmring/eventfd"
	"github.com/shmring/shmring/memfile"
	"github.com/shmring/shmring/ringbuf"
	"github.com/shmring/shmring/shmerrs"
)

// inner owns the resources shared by a Sender and a Receiver on the same
// side of a ring: the mapping and the three descriptors. It has no
// knowledge of the ring protocol itself; that lives in package ringbuf.
type inner struct {
	file        *os.File
	mmap        []byte
	emptySignal *eventfd.Counter
	fullSignal  *eventfd.Counter
}

func byteSize[T any](capacity int) int {
	return memfile.RoundToPageSize(ringbuf.BufferSize[T](capacity))
}

// newInner creates a fresh memfd-backed mapping sized for capacity
// elements of T, plus a pair of event counters. If hp is non-nil the
// mapping is backed by huge pages and no explicit length is set (the
// kernel derives it from the huge page count).
func newInner[T any](capacity int, hp *memfile.HugePageSize) (*inner, error) {
	bytes := byteSize[T](capacity)

	var f *os.File
	var err error
	if hp != nil {
		f, err = memfile.CreateHugeTLB(typeName[T](), *hp)
	} else {
		f, err = memfile.Create(typeName[T]())
	}
	if err != nil {
		return nil, err
	}
	if hp == nil {
		if err := memfile.SetLen(f, int64(bytes)); err != nil {
			f.Close()
			return nil, err
		}
	}

	mmap, err := memfile.MapRaw(f, bytes)
	if err != nil {
		f.Close()
		return nil, err
	}

	empty, err := eventfd.New()
	if err != nil {
		memfile.Munmap(mmap)
		f.Close()
		return nil, err
	}
	full, err := eventfd.New()
	if err != nil {
		empty.Close()
		memfile.Munmap(mmap)
		f.Close()
		return nil, err
	}

	return &inner{file: f, mmap: mmap, emptySignal: empty, fullSignal: full}, nil
}

// openInner attaches to a ring set up by the other side, given the three
// descriptors it handed over. A ring's memory file is always mapped raw
// and writable on both ends: per the ring's seal set, only the shrink
// seal is ever installed, since the ring is by definition writable by
// both the producer and the consumer side (the consumer advances the
// shared count, which lives in the same mapping). The write/grow seals
// are reserved for the separate one-shot immutable-blob use case in
// package memfile.
func openInner[T any](capacity int, file, emptySignalFile, fullSignalFile *os.File) (*inner, error) {
	bytes := byteSize[T](capacity)

	mmap, err := memfile.MapRaw(file, bytes)
	if err != nil {
		return nil, err
	}
	// The mapping always has the requested length, so the file's own size
	// (which the shrink seal MapRaw ensured can no longer drop) is what
	// shows whether the peer's memfd really holds bytes bytes.
	fi, err := file.Stat()
	if err != nil {
		memfile.Munmap(mmap)
		return nil, shmerrs.IO("fstat", err)
	}
	if len(mmap) < bytes || fi.Size() < int64(bytes) {
		memfile.Munmap(mmap)
		return nil, shmerrs.ErrBufTooSmall
	}

	return &inner{
		file:        file,
		mmap:        mmap,
		emptySignal: eventfd.FromFile(emptySignalFile),
		fullSignal:  eventfd.FromFile(fullSignalFile),
	}, nil
}

func (n *inner) lock() error   { return memfile.Mlock(n.mmap) }
func (n *inner) unlock() error { return memfile.Munlock(n.mmap) }

func (n *inner) close() error {
	err1 := memfile.Munmap(n.mmap)
	err2 := n.file.Close()
	err3 := n.emptySignal.Close()
	err4 := n.fullSignal.Close()
	for _, err := range []error{err1, err2, err3, err4} {
		if err != nil {
			return err
		}
	}
	return nil
}

// typeName gives the memfd a human-readable name for /proc/<pid>/fd
// listings, mirroring the original's use of the element type's name.
func typeName[T any]() string {
	var zero T
	return typeNameOf(zero)
}

func typeNameOf(v any) string {
	switch v.(type) {
	case uint8:
		return "shmring-u8"
	case uint16:
		return "shmring-u16"
	case uint32:
		return "shmring-u32"
	case uint64:
		return "shmring-u64"
	case int32:
		return "shmring-i32"
	case int64:
		return "shmring-i64"
	default:
		return "shmring"
	}
}
