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

// Package memfile creates, seals, sizes and maps anonymous memory files
// (memfd_create(2)) for exchange between mutually untrusted processes.
//
// Seals move the trust boundary from "I trust the peer" to "I trust the
// kernel": once the shrink seal is installed on a file, no holder of a
// duplicated descriptor can truncate the region out from under another
// holder's mapping; once the one-shot write/seal seals are installed, no
// holder can mutate or re-seal the region.
//
// Requires Linux >= 3.17 (memfd_create), with optional hugetlbfs backing
// on Linux >= 4.16 (MFD_HUGETLB). On any other GOOS every function that
// would make a system call returns an error wrapping syscall.ENOSYS;
// PageSize (a fixed 4KiB there), RoundToPageSize and Seal.Has still work.
package memfile

// Seal is one of the memfd seal bits, matching the kernel's F_SEAL_*
// values (stable uAPI, independent of GOOS so this type needs no build
// tag even though only the linux implementation can apply it).
type Seal uint32

const (
	SealSeal   Seal = 0x0001 // no further seals may be added
	SealShrink Seal = 0x0002 // file may not be truncated smaller
	SealGrow   Seal = 0x0004 // file may not be truncated larger
	SealWrite  Seal = 0x0008 // file may not be written to or mmap'd PROT_WRITE
)

// Has reports whether want is a subset of the seal bits in s.
func (s Seal) Has(want Seal) bool { return s&want == want }

// RingSeals is the seal set required for a ring's backing file: only the
// shrink seal, since a ring's memory file is writable by definition.
const RingSeals = SealShrink

// OneshotSeals is the seal set applied to an immutable one-shot blob
// before hand-off.
const OneshotSeals = SealGrow | SealShrink | SealWrite | SealSeal

// HugePageSize selects the huge page size backing a memfd created with
// hugetlbfs support. Zero (HugePageDefault) lets the kernel pick its
// configured default huge page size.
type HugePageSize int

const (
	HugePageDefault HugePageSize = iota
	HugePage2MB
	HugePage1GB
)
