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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReactorWatchReadableFiresOnSignal(t *testing.T) {
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reactor := NewReactor("test-reactor", nil)
	fired := make(chan struct{}, 1)
	r.WatchReadable(ctx, reactor, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	_, err = s.SendRaw(func(ptr *int32, max int) int {
		*ptr = 1
		return 1
	})
	require.NoError(t, err)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("reactor did not invoke onReadable after SendRaw")
	}

	status, err := r.RecvRaw(func(ptr *int32, max int) int { return 1 })
	require.NoError(t, err)
	assert.Zero(t, status.Remaining)
}
