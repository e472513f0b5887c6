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

package eventfd

import (
	"os"
	"syscall"
)

var errUnsupported = &os.SyscallError{Syscall: "eventfd2", Err: syscall.ENOSYS}

// New is a stub: eventfd2 is Linux-only.
func New() (*Counter, error) { return nil, errUnsupported }

// FromFile wraps an already-open descriptor; it works anywhere a valid
// descriptor can be handed in, but nothing on this platform can produce
// one via New.
func FromFile(f *os.File) *Counter { return &Counter{f: f} }

// Signal is a stub: eventfd2 is Linux-only.
func (c *Counter) Signal() error { return errUnsupported }

// Wait is a stub: eventfd2 is Linux-only.
func (c *Counter) Wait() (uint64, error) { return 0, errUnsupported }
