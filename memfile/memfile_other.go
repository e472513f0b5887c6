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

//go:build !linux

package memfile

import (
	"os"
	"syscall"
)

var errUnsupported = unsupportedErr()

func unsupportedErr() error {
	return &os.SyscallError{Syscall: "memfd_create", Err: syscall.ENOSYS}
}

// Create is a stub: memfd_create is Linux-only.
func Create(name string) (*os.File, error) { return nil, errUnsupported }

// CreateHugeTLB is a stub: memfd_create is Linux-only.
func CreateHugeTLB(name string, size HugePageSize) (*os.File, error) { return nil, errUnsupported }

// SetLen is a stub on non-Linux platforms.
func SetLen(f *os.File, n int64) error { return errUnsupported }

// Seals is a stub on non-Linux platforms.
func Seals(f *os.File) (Seal, error) { return 0, errUnsupported }

// AddSeals is a stub on non-Linux platforms.
func AddSeals(f *os.File, seals Seal) error { return errUnsupported }

// MapRaw is a stub on non-Linux platforms.
func MapRaw(f *os.File, length int) ([]byte, error) { return nil, errUnsupported }

// MapReadOnly is a stub on non-Linux platforms.
func MapReadOnly(f *os.File, length int) ([]byte, error) { return nil, errUnsupported }

// Munmap is a stub on non-Linux platforms.
func Munmap(b []byte) error { return errUnsupported }

// Mlock is a stub on non-Linux platforms.
func Mlock(b []byte) error { return errUnsupported }

// Munlock is a stub on non-Linux platforms.
func Munlock(b []byte) error { return errUnsupported }

// Oneshot is a stub on non-Linux platforms.
func Oneshot(name string, size int64, fill func([]byte)) (*os.File, error) {
	return nil, errUnsupported
}

// PageSize falls back to a conservative 4KiB so RoundToPageSize remains
// usable for arithmetic/tests off Linux.
func PageSize() int {
	return 4096
}

// RoundToPageSize rounds n up to the next multiple of PageSize().
func RoundToPageSize(n int) int {
	ps := PageSize()
	if m := n % ps; m != 0 {
		return n + ps - m
	}
	return n
}
