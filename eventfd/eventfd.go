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

// Package eventfd wraps a Linux event counter: a kernel descriptor that
// accumulates 8-byte write values and returns (and resets) their sum on a
// blocking read. It is the level-triggered wake-up primitive that lets a
// ring's Sender/Receiver in package shmring block until the peer signals
// space or data, and equally lets a reactor (epoll, an async runtime)
// register the same descriptor for readiness notification instead.
package eventfd

import "os"

// Token is the 8-byte value written to signal the peer. Any non-zero
// value works; this package always writes 1.
const Token uint64 = 1

// Counter is one end of an event counter, backed by a single *os.File so
// it composes with anything that already knows how to duplicate, pass, or
// poll a file descriptor.
type Counter struct {
	f *os.File
}

// File returns the underlying descriptor, e.g. to duplicate for hand-off
// to a peer process or to register with a poller.
func (c *Counter) File() *os.File { return c.f }

// Close closes the counter. The kernel object is reclaimed once every
// duplicate of the descriptor is closed.
func (c *Counter) Close() error { return c.f.Close() }
