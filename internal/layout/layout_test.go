// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package layout

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type point struct {
	X, Y, Z int32
	Active  bool
}

func TestRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	// Deliberately misaligned destination.
	dst := buf[3:]
	p := point{X: 1, Y: -2, Z: 3, Active: true}
	Encode(dst, p)
	require.Equal(t, p, Decode[point](dst))

	Encode(dst, int64(-42))
	require.EqualValues(t, -42, Decode[int64](dst))
}

func TestSize(t *testing.T) {
	require.Equal(t, 8, Size[int64]())
	require.Equal(t, 1, Size[uint8]())
	require.Equal(t, 16, Size[[4]int32]())
}

func TestPointerFree(t *testing.T) {
	require.True(t, PointerFree[int]())
	require.True(t, PointerFree[point]())
	require.True(t, PointerFree[[8]byte]())
	require.True(t, PointerFree[struct{}]())

	require.False(t, PointerFree[string]())
	require.False(t, PointerFree[*int]())
	require.False(t, PointerFree[[]byte]())
	require.False(t, PointerFree[map[int]int]())
	require.False(t, PointerFree[any]())
	require.False(t, PointerFree[struct {
		A int
		B *point
	}]())
	require.False(t, PointerFree[[2]string]())
}
