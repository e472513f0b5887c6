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

//go:build linux

package memfile

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/shmring/shmring/shmerrs"
)

// Create creates a new anonymous memory file tagged with name (used only
// for diagnostics, e.g. /proc/<pid>/fd listings; the name carries no
// semantic meaning), permitting sealing and set close-on-exec.
func Create(name string) (*os.File, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, shmerrs.Memfd("memfd_create", err)
	}
	return os.NewFile(uintptr(fd), name), nil
}

// CreateHugeTLB creates a memfd backed by hugetlbfs. The kernel rounds
// the file's size up to a multiple of the huge page size automatically;
// callers must not call SetLen on the result.
func CreateHugeTLB(name string, size HugePageSize) (*os.File, error) {
	flags := unix.MFD_CLOEXEC | unix.MFD_ALLOW_SEALING | unix.MFD_HUGETLB
	switch size {
	case HugePage2MB:
		flags |= unix.MFD_HUGE_2MB
	case HugePage1GB:
		flags |= unix.MFD_HUGE_1GB
	}
	fd, err := unix.MemfdCreate(name, flags)
	if err != nil {
		return nil, shmerrs.Memfd("memfd_create", err)
	}
	return os.NewFile(uintptr(fd), name), nil
}

// SetLen sizes f to n bytes. For a freshly created memfd this zero-fills
// the new region, which is what lets the ring protocol's attach-time
// corruption check (count <= N) pass trivially on first use.
func SetLen(f *os.File, n int64) error {
	if err := unix.Ftruncate(int(f.Fd()), n); err != nil {
		return shmerrs.Memfd("ftruncate", err)
	}
	return nil
}

// Seals returns the seal bits currently applied to f.
func Seals(f *os.File) (Seal, error) {
	v, err := unix.FcntlInt(f.Fd(), unix.F_GET_SEALS, 0)
	if err != nil {
		return 0, shmerrs.Memfd("fcntl(F_GET_SEALS)", err)
	}
	return Seal(v), nil
}

// AddSeals applies additional seal bits to f. Seals are irrevocable: once
// applied they can never be removed, and SealSeal additionally forbids
// adding any more.
func AddSeals(f *os.File, seals Seal) error {
	_, err := unix.FcntlInt(f.Fd(), unix.F_ADD_SEALS, int(seals))
	if err != nil {
		return shmerrs.Memfd("fcntl(F_ADD_SEALS)", err)
	}
	return nil
}

// ensureSealed adds seal to f unless it is already present.
func ensureSealed(f *os.File, seal Seal) error {
	have, err := Seals(f)
	if err != nil {
		return err
	}
	if have.Has(seal) {
		return nil
	}
	return AddSeals(f, seal)
}

// MapRaw ensures the shrink seal is present, then establishes a writable
// raw mapping of length bytes starting at offset 0. It fails if the file
// has already been sealed against writing.
func MapRaw(f *os.File, length int) ([]byte, error) {
	if err := ensureSealed(f, RingSeals); err != nil {
		return nil, err
	}
	b, err := unix.Mmap(int(f.Fd()), 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, shmerrs.IO("mmap", err)
	}
	return b, nil
}

// MapReadOnly ensures the shrink and write seals are present (adding them
// if missing), then establishes a copy-on-read, read-only mapping. It
// fails if an active writable mapping of f already exists, since the
// kernel cannot add the write seal while one is outstanding.
func MapReadOnly(f *os.File, length int) ([]byte, error) {
	if err := ensureSealed(f, SealShrink); err != nil {
		return nil, err
	}
	if err := ensureSealed(f, SealWrite); err != nil {
		return nil, err
	}
	b, err := unix.Mmap(int(f.Fd()), 0, length, unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, shmerrs.IO("mmap", err)
	}
	return b, nil
}

// Munmap unmaps a region returned by MapRaw or MapReadOnly.
func Munmap(b []byte) error {
	if err := unix.Munmap(b); err != nil {
		return shmerrs.IO("munmap", err)
	}
	return nil
}

// Mlock pins b in physical memory, preventing it from being swapped out.
func Mlock(b []byte) error {
	if err := unix.Mlock(b); err != nil {
		return shmerrs.IO("mlock", err)
	}
	return nil
}

// Munlock reverses Mlock.
func Munlock(b []byte) error {
	if err := unix.Munlock(b); err != nil {
		return shmerrs.IO("munlock", err)
	}
	return nil
}

// Oneshot creates a sealable, close-on-exec memory file, sizes it to size
// bytes (which zero-fills), maps it writable, invokes fill with a mutable
// view over the bytes, unmaps, then applies OneshotSeals so the result is
// an immutable blob ready for hand-off.
func Oneshot(name string, size int64, fill func([]byte)) (*os.File, error) {
	f, err := Create(name)
	if err != nil {
		return nil, err
	}
	if err := SetLen(f, size); err != nil {
		f.Close()
		return nil, err
	}
	b, err := MapRaw(f, int(size))
	if err != nil {
		f.Close()
		return nil, err
	}
	fill(b)
	if err := Munmap(b); err != nil {
		f.Close()
		return nil, err
	}
	if err := AddSeals(f, OneshotSeals); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// PageSize returns the system page size, used to round a ring's raw
// buffer size up to a page multiple before sizing its backing memfd.
func PageSize() int {
	return os.Getpagesize()
}

// RoundToPageSize rounds n up to the next multiple of the system page
// size. Both sides of an untrusted exchange must independently compute
// the same value here given the same capacity and element size.
func RoundToPageSize(n int) int {
	ps := PageSize()
	if m := n % ps; m != 0 {
		return n + ps - m
	}
	return n
}
