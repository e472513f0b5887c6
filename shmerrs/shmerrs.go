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

// Package shmerrs is the closed error taxonomy shared by ringbuf, memfile,
// eventfd and shmring. On Linux every fallible operation in those packages
// returns one of the sentinels below, optionally wrapped with *OpError to
// carry the failing syscall name and errno. On other platforms the memfile
// and eventfd stubs return an *os.SyscallError wrapping syscall.ENOSYS
// instead.
package shmerrs

import (
	"errors"
	"fmt"
	"syscall"
)

// Configuration errors: reported at attach time, not recoverable by retry.
var (
	// ErrBufTooSmall is returned when a buffer is shorter than the header
	// plus one element, or shorter than the capacity both sides agreed on.
	ErrBufTooSmall = errors.New("shmring: buffer too small")

	// ErrBufTooBig is returned when a buffer length would overflow signed
	// pointer arithmetic (length >= math.MaxInt64/2).
	ErrBufTooBig = errors.New("shmring: buffer too big")

	// ErrBufUnaligned is returned when the counter or data offsets do not
	// meet the alignment requirements of the element type.
	ErrBufUnaligned = errors.New("shmring: buffer unaligned")
)

// Protocol errors: indicate peer or caller misbehaviour; the ring is
// considered poisoned once one of these is observed.
var (
	// ErrBufCorrupt is returned when the shared count is loaded outside
	// [0, N], indicating peer misbehaviour or a torn write.
	ErrBufCorrupt = errors.New("shmring: buffer corrupt")

	// ErrCallbackReadTooMuch is returned when a receive callback reports
	// having consumed more items than the window it was given.
	ErrCallbackReadTooMuch = errors.New("shmring: callback read too much")

	// ErrCallbackWroteTooMuch is returned when a send callback reports
	// having produced more items than the window it was given.
	ErrCallbackWroteTooMuch = errors.New("shmring: callback wrote too much")
)

// Environmental errors: failures of the underlying kernel primitives.
// These are always wrapped in *OpError so the caller can inspect the
// syscall and errno that failed (the non-Linux stubs described above do
// not use them).
var (
	// ErrMemfd classifies an *OpError as originating from memfd
	// creation/sizing/sealing.
	ErrMemfd = errors.New("shmring: memfd error")

	// ErrIO classifies an *OpError as originating from descriptor,
	// mapping, or signal I/O.
	ErrIO = errors.New("shmring: io error")
)

// OpError wraps a failed syscall with the classification (ErrMemfd or
// ErrIO), the syscall name, and the errno, following the
// (int, syscall.Errno) -> error convention used by internal/iouring's
// raw syscall wrappers.
type OpError struct {
	Class error // ErrMemfd or ErrIO
	Op    string
	Err   error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("shmring: %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() []error {
	return []error{e.Class, e.Err}
}

// Memfd wraps err (typically a syscall.Errno) as an environmental memfd
// error for operation op. Returns nil if err is nil.
func Memfd(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Class: ErrMemfd, Op: op, Err: err}
}

// IO wraps err as an environmental I/O error for operation op. Returns nil
// if err is nil.
func IO(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Class: ErrIO, Op: op, Err: err}
}

// Errno reports the syscall.Errno carried by err, if any.
func Errno(err error) (syscall.Errno, bool) {
	var opErr *OpError
	if errors.As(err, &opErr) {
		var errno syscall.Errno
		if errors.As(opErr.Err, &errno) {
			return errno, true
		}
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}
