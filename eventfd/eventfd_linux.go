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

package eventfd

import (
	"encoding/binary"
	"os"

	"golang.org/x/sys/unix"

	"github.com/shmring/shmring/shmerrs"
)

// New creates a close-on-exec event counter, initial value 0.
func New() (*Counter, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, shmerrs.IO("eventfd2", err)
	}
	return &Counter{f: os.NewFile(uintptr(fd), "eventfd")}, nil
}

// FromFile wraps an already-open descriptor received from a peer.
func FromFile(f *os.File) *Counter { return &Counter{f: f} }

// Signal writes Token to the counter. It accumulates if the peer is not
// currently blocked in Wait; a subsequent Wait drains the accumulated sum
// in one read, so repeated signals before a Wait coalesce into one
// wake-up.
func (c *Counter) Signal() error {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], Token)
	if _, err := c.f.Write(b[:]); err != nil {
		return shmerrs.IO("eventfd write", err)
	}
	return nil
}

// Wait blocks until the counter holds a non-zero accumulated value, then
// reads (and resets) it. The returned value is the accumulated sum, not
// necessarily Token; callers that only care about "did something signal"
// should ignore it and re-check their own source of truth, the way
// package shmring's blocking helpers do.
func (c *Counter) Wait() (uint64, error) {
	var b [8]byte
	if _, err := c.f.Read(b[:]); err != nil {
		return 0, shmerrs.IO("eventfd read", err)
	}
	return binary.NativeEndian.Uint64(b[:]), nil
}
