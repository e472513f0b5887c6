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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMapReadOnly(t *testing.T) {
	f, err := Create("test-ro")
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, SetLen(f, 16384))

	b, err := MapReadOnly(f, 16384)
	require.NoError(t, err)
	defer Munmap(b)

	seals, err := Seals(f)
	require.NoError(t, err)
	assert.True(t, seals.Has(SealShrink))
	assert.True(t, seals.Has(SealWrite))
	assert.Len(t, b, 16384)

	// The memfd is now read-only: a raw writable mapping must fail.
	_, err = MapRaw(f, 16384)
	assert.Error(t, err)
}

func TestCreateMapRaw(t *testing.T) {
	f, err := Create("test-raw")
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, SetLen(f, 16384))

	b, err := MapRaw(f, 16384)
	require.NoError(t, err)
	defer Munmap(b)
	assert.Len(t, b, 16384)

	// The memfd now has a writable mapping outstanding: sealing it
	// read-only must fail.
	_, err = MapReadOnly(f, 16384)
	assert.Error(t, err)
}

func TestOneshotWriteThenRead(t *testing.T) {
	f, err := Oneshot("write_then_read_test", 4096, func(b []byte) {
		require.Len(t, b, 4096)
		require.Zero(t, b[5])
		b[2049] = 100
	})
	require.NoError(t, err)
	defer f.Close()

	seals, err := Seals(f)
	require.NoError(t, err)
	assert.Equal(t, OneshotSeals, seals&OneshotSeals)

	b, err := MapReadOnly(f, 4096)
	require.NoError(t, err)
	defer Munmap(b)
	assert.EqualValues(t, 100, b[2049])
	assert.Zero(t, b[465])
}

func TestRoundToPageSize(t *testing.T) {
	ps := PageSize()
	assert.Equal(t, ps, RoundToPageSize(1))
	assert.Equal(t, ps, RoundToPageSize(ps))
	assert.Equal(t, 2*ps, RoundToPageSize(ps+1))
}
