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

package alloc

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Every block is framed by a leading and a trailing guard word:
//
//	+--------+-----------------------+--------+
//	| header |        payload        | footer |
//	+--------+-----------------------+--------+
//	 guardSize    round8(n) bytes     guardSize
//
// A guard packs the total block size (both guards included) above the low
// nibble, and the block state in bit 0 (1 = free, 0 = allocated). The footer
// lets pop locate the block ending at the stack pointer without keeping a
// separate list of blocks.
const (
	guardSize = 8

	blockAllocated = 0
	blockFree      = 1
)

type guard uint64

func makeGuard(size int, state uint64) guard {
	return guard(uint64(size)<<4 | state)
}

func (g guard) size() int {
	return int(g >> 4)
}

func (g guard) free() bool {
	return g&1 == blockFree
}

// blockSize returns the total size of a block holding n payload bytes.
func blockSize(n int) int {
	return 2*guardSize + (n+7)&^7
}

// region is one contiguous extent of memory in the allocator's chain. Blocks
// are carved from it in stack order: [0, sp) is in use, [sp, len(buf)) is
// free.
type region struct {
	buf []byte
	sp  int
	// live is the number of allocated blocks in [0, sp).
	live int
	// next is the region beneath this one, i.e. the region that was the top
	// of the chain before this one was added.
	next *region
}

func (r *region) capacity() int {
	return len(r.buf)
}

func (r *region) available() int {
	return len(r.buf) - r.sp
}

func (r *region) empty() bool {
	return r.sp == 0
}

func (r *region) guardAt(off int) guard {
	return guard(binary.LittleEndian.Uint64(r.buf[off:]))
}

func (r *region) setGuard(off int, g guard) {
	binary.LittleEndian.PutUint64(r.buf[off:], uint64(g))
}

// push carves a block of the given total size from the free end of the
// region and returns its zeroed payload. The caller has checked that the
// block fits.
func (r *region) push(size int) []byte {
	start := r.sp
	end := start + size
	g := makeGuard(size, blockAllocated)
	r.setGuard(start, g)
	r.setGuard(end-guardSize, g)
	payload := r.buf[start+guardSize : end-guardSize]
	clear(payload)
	r.sp = end
	r.live++
	return payload
}

// pop releases the block ending at the stack pointer and returns its total
// size.
func (r *region) pop() int {
	if r.sp < 2*guardSize {
		panic(errors.AssertionFailedf("alloc: pop from region with sp=%d", r.sp))
	}
	footer := r.guardAt(r.sp - guardSize)
	size := footer.size()
	start := r.sp - size
	if footer.free() || size < 2*guardSize || start < 0 {
		panic(errors.AssertionFailedf("alloc: corrupt block footer %#x at offset %d", uint64(footer), r.sp-guardSize))
	}
	if header := r.guardAt(start); header != footer {
		panic(errors.AssertionFailedf("alloc: block header %#x at offset %d does not match footer %#x",
			uint64(header), start, uint64(footer)))
	}
	free := makeGuard(size, blockFree)
	r.setGuard(start, free)
	r.setGuard(r.sp-guardSize, free)
	r.sp = start
	r.live--
	return size
}

// blocks walks the allocated blocks of the region from the bottom up.
func (r *region) blocks(yield func(off, size int) bool) {
	for off := 0; off < r.sp; {
		g := r.guardAt(off)
		if !yield(off, g.size()) {
			return
		}
		if g.size() == 0 {
			return
		}
		off += g.size()
	}
}

func (r *region) checkInvariants() {
	var live int
	var end int
	r.blocks(func(off, size int) bool {
		header := r.guardAt(off)
		if header.free() || size < 2*guardSize || off+size > r.sp {
			panic(fmt.Sprintf("invariant failed: bad header %#x at offset %d\n%s", uint64(header), off, r.debugString()))
		}
		if footer := r.guardAt(off + size - guardSize); footer != header {
			panic(fmt.Sprintf("invariant failed: footer %#x != header %#x at offset %d\n%s",
				uint64(footer), uint64(header), off, r.debugString()))
		}
		live++
		end = off + size
		return true
	})
	if end != r.sp {
		panic(fmt.Sprintf("invariant failed: blocks end at %d, but sp is %d\n%s", end, r.sp, r.debugString()))
	}
	if live != r.live {
		panic(fmt.Sprintf("invariant failed: found %d live blocks, but live count is %d\n%s", live, r.live, r.debugString()))
	}
}

func (r *region) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  sp=%d  live=%d\n", r.capacity(), r.sp, r.live)
	r.blocks(func(off, size int) bool {
		fmt.Fprintf(&buf, "  %6d: size=%d free=%t\n", off, size, r.guardAt(off).free())
		return size > 0
	})
	return buf.String()
}
