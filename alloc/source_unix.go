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

//go:build linux || darwin

package alloc

import "golang.org/x/sys/unix"

// MmapSource maps regions as private anonymous memory. The memory lives
// outside the Go heap: it is neither scanned nor moved by the garbage
// collector, and is returned to the operating system when unmapped.
type MmapSource struct{}

var _ Source = MmapSource{}

// Map implements Source.
func (MmapSource) Map(n int) ([]byte, error) {
	return unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

// Unmap implements Source.
func (MmapSource) Unmap(b []byte) error {
	return unix.Munmap(b)
}

func defaultSource() Source {
	return MmapSource{}
}
