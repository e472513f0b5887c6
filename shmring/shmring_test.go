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

package shmring

import (
	"os"
	"sync"
	"testing"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shmring/shmring/memfile"
)

// dupFile mimics handing a descriptor to a peer process: a real
// implementation would pass it over SCM_RIGHTS or inherit it across
// fork/exec, but within one process a plain dup is an equivalent stand-in
// for "the other side now owns its own copy of this descriptor".
func dupFile(f *os.File) (*os.File, error) {
	fd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), f.Name()), nil
}

func TestNewSenderWriteCount(t *testing.T) {
	s, err := New[int32](1000)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.tx.WriteCount()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1000)
}

func TestOpenReceiverFromSenderDescriptors(t *testing.T) {
	s, err := New[int32](1000)
	require.NoError(t, err)
	defer s.Close()

	memfd, err := dupFile(s.MemFile())
	require.NoError(t, err)
	empty, err := dupFile(s.EmptySignal())
	require.NoError(t, err)
	full, err := dupFile(s.FullSignal())
	require.NoError(t, err)

	r, err := OpenReceiver[int32](1000, memfd, empty, full)
	require.NoError(t, err)
	defer r.Close()

	n, err := r.rx.ReadCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSendRawSignalsEmptyCounter(t *testing.T) {
	s, err := New[int32](16)
	require.NoError(t, err)
	defer s.Close()

	memfd, err := dupFile(s.MemFile())
	require.NoError(t, err)
	empty, err := dupFile(s.EmptySignal())
	require.NoError(t, err)
	full, err := dupFile(s.FullSignal())
	require.NoError(t, err)
	r, err := OpenReceiver[int32](16, memfd, empty, full)
	require.NoError(t, err)
	defer r.Close()

	status, err := s.SendRaw(func(ptr *int32, max int) int {
		*ptr = 42
		return 1
	})
	require.NoError(t, err)
	assert.True(t, status.Signal)

	rstatus, err := r.RecvRaw(func(ptr *int32, max int) int {
		assert.EqualValues(t, 42, *ptr)
		return 1
	})
	require.NoError(t, err)
	assert.Zero(t, rstatus.Remaining)
}

func TestBlockUntilReadableWakesOnSignal(t *testing.T) {
	s, err := New[int32](16)
	require.NoError(t, err)
	defer s.Close()

	memfd, err := dupFile(s.MemFile())
	require.NoError(t, err)
	empty, err := dupFile(s.EmptySignal())
	require.NoError(t, err)
	full, err := dupFile(s.FullSignal())
	require.NoError(t, err)
	r, err := OpenReceiver[int32](16, memfd, empty, full)
	require.NoError(t, err)
	defer r.Close()

	done := make(chan ringbufStatus, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		st, err := r.BlockUntilReadable()
		require.NoError(t, err)
		done <- ringbufStatus{remaining: st.Remaining}
	}()

	select {
	case <-done:
		t.Fatal("BlockUntilReadable returned before any data was sent")
	case <-time.After(20 * time.Millisecond):
	}

	_, err = s.SendRaw(func(ptr *int32, max int) int {
		*ptr = 7
		return 1
	})
	require.NoError(t, err)

	select {
	case st := <-done:
		assert.Equal(t, 1, st.remaining)
	case <-time.After(time.Second):
		t.Fatal("BlockUntilReadable did not wake up after SendRaw")
	}
	wg.Wait()
}

func TestBlockUntilWritableWakesOnSignal(t *testing.T) {
	s, err := New[int32](1)
	require.NoError(t, err)
	defer s.Close()

	memfd, err := dupFile(s.MemFile())
	require.NoError(t, err)
	empty, err := dupFile(s.EmptySignal())
	require.NoError(t, err)
	full, err := dupFile(s.FullSignal())
	require.NoError(t, err)
	r, err := OpenReceiver[int32](1, memfd, empty, full)
	require.NoError(t, err)
	defer r.Close()

	// Fill the ring. The buffer is rounded up to a whole page, so the ring
	// holds more than the one element asked for; from a fresh ring the
	// first window spans every slot.
	status, err := s.SendRaw(func(ptr *int32, max int) int {
		*ptr = 1
		return max
	})
	require.NoError(t, err)
	require.Equal(t, 0, status.Remaining)

	done := make(chan int, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		st, err := s.BlockUntilWritable()
		require.NoError(t, err)
		done <- st.Remaining
	}()

	select {
	case <-done:
		t.Fatal("BlockUntilWritable returned before the receiver freed any space")
	case <-time.After(20 * time.Millisecond):
	}

	_, err = r.RecvRaw(func(ptr *int32, max int) int { return 1 })
	require.NoError(t, err)

	select {
	case remaining := <-done:
		assert.Equal(t, 1, remaining)
	case <-time.After(time.Second):
		t.Fatal("BlockUntilWritable did not wake up after RecvRaw")
	}
	wg.Wait()
}

func TestRingMemfdOnlyCarriesShrinkSeal(t *testing.T) {
	s, err := New[int32](16)
	require.NoError(t, err)
	defer s.Close()

	memfd, err := dupFile(s.MemFile())
	require.NoError(t, err)
	empty, err := dupFile(s.EmptySignal())
	require.NoError(t, err)
	full, err := dupFile(s.FullSignal())
	require.NoError(t, err)
	r, err := OpenReceiver[int32](16, memfd, empty, full)
	require.NoError(t, err)
	defer r.Close()

	seals, err := memfile.Seals(r.MemFile())
	require.NoError(t, err)
	assert.True(t, seals.Has(memfile.SealShrink))
	assert.False(t, seals.Has(memfile.SealWrite))
	assert.False(t, seals.Has(memfile.SealGrow))
}

func TestRoundTripManyElements(t *testing.T) {
	const capacity = 8
	const total = 100

	s, err := New[int32](capacity)
	require.NoError(t, err)
	defer s.Close()

	memfd, err := dupFile(s.MemFile())
	require.NoError(t, err)
	empty, err := dupFile(s.EmptySignal())
	require.NoError(t, err)
	full, err := dupFile(s.FullSignal())
	require.NoError(t, err)
	r, err := OpenReceiver[int32](capacity, memfd, empty, full)
	require.NoError(t, err)
	defer r.Close()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			v := int32(i)
			for {
				wrote := false
				_, err := s.SendRaw(func(ptr *int32, max int) int {
					*ptr = v
					wrote = true
					return 1
				})
				require.NoError(t, err)
				if wrote {
					break
				}
				_, err = s.BlockUntilWritable()
				require.NoError(t, err)
			}
		}
	}()

	received := make([]int32, 0, total)
	go func() {
		defer wg.Done()
		for len(received) < total {
			_, err := r.BlockUntilReadable()
			require.NoError(t, err)
			_, err = r.RecvForEach(total-len(received), func(v int32) {
				received = append(received, v)
			})
			require.NoError(t, err)
		}
	}()

	wg.Wait()
	require.Len(t, received, total)
	for i, v := range received {
		assert.EqualValues(t, i, v)
	}
}

func TestRecvCopyYieldsIndependentSlice(t *testing.T) {
	s, err := New[int32](16)
	require.NoError(t, err)
	defer s.Close()

	memfd, err := dupFile(s.MemFile())
	require.NoError(t, err)
	empty, err := dupFile(s.EmptySignal())
	require.NoError(t, err)
	full, err := dupFile(s.FullSignal())
	require.NoError(t, err)
	r, err := OpenReceiver[int32](16, memfd, empty, full)
	require.NoError(t, err)
	defer r.Close()

	_, err = s.SendRaw(func(ptr *int32, max int) int {
		*ptr = 99
		return 1
	})
	require.NoError(t, err)

	got, release, status, err := r.RecvCopy(4)
	require.NoError(t, err)
	require.NotNil(t, release)
	defer release()

	require.Len(t, got, 1)
	assert.EqualValues(t, 99, got[0])
	assert.Zero(t, status.Remaining)

	// Mutating the caller's copy must never be visible to the shared
	// mapping: it is a copy, not a view.
	got[0] = -1
	assert.EqualValues(t, 99, *(*int32)(unsafe.Pointer(&r.inner.mmap[64])))
	_, err = r.rx.ReadCount()
	require.NoError(t, err)
}

type ringbufStatus struct {
	remaining int
}
