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

// Package alloc implements a frame-scoped hybrid allocator.
//
// # Stack path
//
// An Allocator owns a chain of regions, the most recently added region
// first. Push carves zero-filled blocks from the top region in strict stack
// order and Pop releases them in reverse. Each block is framed by a leading
// and trailing size/state guard so that Pop can find the block that ends at
// a region's stack pointer without a free list.
//
// When the top region cannot hold a request, a new region is added whose
// capacity is at least double the previous top and at least double the
// request. Pop walks down the chain past empty regions to find the most
// recent live block. Whenever the top region and the region beneath it are
// both empty they are merged into one region of their combined capacity, so
// a chain that grew during a burst of allocations collapses back once the
// burst is released.
//
// Stack allocations are scoped by frames. StartFrame opens a checkpoint,
// every Push is counted against the innermost open frame, and EndFrame pops
// exactly the blocks pushed since the matching StartFrame. Frames nest and
// must be closed in LIFO order. Do wraps a function in a frame that is closed
// on every exit path.
//
// # Heap path
//
// Alloc, Realloc and Free hand out unmanaged blocks from the Go heap. They
// are independent of the region chain and of frames; the allocator only
// keeps count of what is outstanding.
//
// # Failures
//
// Contract violations (pushing outside of a frame, popping an empty
// allocator, closing frames out of order) panic. Running out of memory while
// adding or merging regions is reported as ErrOutOfMemory and leaves the
// allocator unchanged.
//
// An Allocator is NOT goroutine-safe. Stack discipline assumes a single
// sequential owner.
package alloc

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/regionkit/internal/invariants"
)

// DefaultRegionSize is the capacity of the first region when New is called
// with a non-positive initial capacity.
const DefaultRegionSize = 4 << 10

// Frame identifies an open frame. It is returned by StartFrame and must be
// passed to the matching EndFrame. Every frame opened by an Allocator gets a
// distinct Frame, so a handle is never valid again once closed.
type Frame uint64

// frame is the bookkeeping of one open frame.
type frame struct {
	id Frame
	// count is the number of blocks pushed since the frame was opened and
	// not yet popped.
	count int
}

// Allocator is a region-based stack allocator with an independent heap path.
// The zero value is not usable; construct one with New.
type Allocator struct {
	source   Source
	logger   *log.Logger
	maxBytes int

	// top is the most recently added region.
	top *region
	// frames holds the open frames. The innermost frame is last.
	frames []frame
	// lastFrame is the id of the most recently opened frame.
	lastFrame Frame
	// Totals across the region chain.
	regions  int
	capacity int
	live     int

	heapBlocks int
	heapBytes  int
}

// Stats is a snapshot of an Allocator's bookkeeping.
type Stats struct {
	// Regions is the number of regions in the chain.
	Regions int
	// Capacity is the total capacity in bytes of all regions.
	Capacity int
	// Used is the number of bytes, including block guards, occupied by live
	// stack blocks.
	Used int
	// Live is the number of live stack blocks.
	Live int
	// Frames is the number of open frames.
	Frames int
	// HeapBlocks and HeapBytes count outstanding heap path allocations.
	HeapBlocks int
	HeapBytes  int
}

// New constructs an Allocator whose first region holds initialCapacity
// bytes, or DefaultRegionSize if initialCapacity <= 0.
func New(initialCapacity int, options ...option) (*Allocator, error) {
	a := &Allocator{
		source: defaultSource(),
		logger: discardLogger(),
	}
	for _, op := range options {
		op.apply(a)
	}

	if initialCapacity <= 0 {
		initialCapacity = DefaultRegionSize
	}
	r, err := a.mapRegion(initialCapacity)
	if err != nil {
		return nil, err
	}
	a.top = r
	a.regions = 1
	a.capacity = r.capacity()
	return a, nil
}

// Close releases every region. It is invalid to use an Allocator after it
// has been closed, though Close itself is idempotent. Slices previously
// returned by Push must not be used after Close.
func (a *Allocator) Close() error {
	var err error
	for r := a.top; r != nil; {
		next := r.next
		err = errors.CombineErrors(err, a.source.Unmap(r.buf))
		r.buf, r.next = nil, nil
		r = next
	}
	a.top = nil
	a.frames = nil
	a.regions, a.capacity, a.live = 0, 0, 0
	if err != nil {
		return errors.Wrap(err, "alloc: releasing regions")
	}
	return nil
}

// StartFrame opens a new frame nested inside any frames already open.
func (a *Allocator) StartFrame() Frame {
	a.checkOpen()
	a.lastFrame++
	a.frames = append(a.frames, frame{id: a.lastFrame})
	return a.lastFrame
}

// EndFrame closes the innermost frame, releasing every stack block pushed
// since it was opened. It panics if f is not the innermost open frame.
func (a *Allocator) EndFrame(f Frame) {
	a.checkOpen()
	n := len(a.frames)
	if n == 0 {
		panic(errors.AssertionFailedf("alloc: closing frame %d, but no frame is open", f))
	}
	if inner := a.frames[n-1].id; f != inner {
		panic(errors.AssertionFailedf("alloc: closing frame %d, but innermost open frame is %d", f, inner))
	}
	a.closeFrame()
}

// closeFrame pops every block of the innermost frame and discards it.
func (a *Allocator) closeFrame() {
	n := len(a.frames)
	for count := a.frames[n-1].count; count > 0; count-- {
		a.pop()
	}
	a.frames = a.frames[:n-1]
	a.checkInvariants()
}

// Do runs fn inside a new frame. The frame is closed when fn returns or
// panics, and every block pushed by fn is released. If fn panics, frames it
// left open inside the new frame are closed as well and the panic is
// propagated unchanged. If fn returns normally with frames left open, Do
// panics.
func (a *Allocator) Do(fn func() error) error {
	f := a.StartFrame()
	defer func() {
		if r := recover(); r != nil {
			a.unwind(f)
			panic(r)
		}
		a.EndFrame(f)
	}()
	return fn()
}

// unwind closes f and every frame nested inside it. Frames that are no
// longer open are ignored.
func (a *Allocator) unwind(f Frame) {
	if a.top == nil {
		return
	}
	for i := len(a.frames) - 1; i >= 0; i-- {
		if a.frames[i].id != f {
			continue
		}
		for len(a.frames) > i {
			a.closeFrame()
		}
		return
	}
}

// Depth returns the number of open frames.
func (a *Allocator) Depth() int {
	return len(a.frames)
}

// Push allocates n zero-filled bytes on the stack path and counts the block
// against the innermost open frame. The returned slice has length and
// capacity n and remains valid until the block is popped. It panics if no
// frame is open or if n <= 0. If a new region is needed and cannot be
// mapped, Push returns an error wrapping ErrOutOfMemory and the allocator is
// unchanged.
func (a *Allocator) Push(n int) ([]byte, error) {
	a.checkOpen()
	if n <= 0 {
		panic(errors.AssertionFailedf("alloc: push of %d bytes", n))
	}
	if len(a.frames) == 0 {
		panic(errors.AssertionFailedf("alloc: push outside of a frame"))
	}

	size := blockSize(n)
	if a.top.available() < size {
		if err := a.grow(size); err != nil {
			return nil, err
		}
	}
	payload := a.top.push(size)
	a.frames[len(a.frames)-1].count++
	a.live++
	a.checkInvariants()
	return payload[:n:n], nil
}

// Pop releases the most recently pushed live block. It panics if the
// innermost open frame has no blocks left to release.
func (a *Allocator) Pop() {
	a.checkOpen()
	n := len(a.frames)
	if n == 0 || a.frames[n-1].count == 0 {
		panic(errors.AssertionFailedf("alloc: pop with no live block in the current frame"))
	}
	a.frames[n-1].count--
	a.pop()
	a.checkInvariants()
}

// pop releases the most recent live block anywhere in the chain, then tries
// to merge the top two regions.
func (a *Allocator) pop() {
	r := a.top
	for r != nil && r.empty() {
		r = r.next
	}
	if r == nil {
		panic(errors.AssertionFailedf("alloc: pop with no live block"))
	}
	r.pop()
	a.live--
	a.maybeMerge()
}

// grow adds a region able to hold a block of the given total size on top of
// the chain.
func (a *Allocator) grow(size int) error {
	capacity := max(2*a.top.capacity(), 2*size)
	if a.maxBytes > 0 && a.capacity+capacity > a.maxBytes {
		return errors.Wrapf(ErrOutOfMemory, "alloc: growing to %d bytes exceeds limit of %d",
			a.capacity+capacity, a.maxBytes)
	}
	r, err := a.mapRegion(capacity)
	if err != nil {
		return err
	}
	r.next = a.top
	a.top = r
	a.regions++
	a.capacity += capacity
	a.logger.Debug("region added", "capacity", capacity, "regions", a.regions, "total", a.capacity)
	return nil
}

// maybeMerge replaces the top region and the region beneath it with a single
// region of their combined capacity when neither holds a live block. A
// failure to map the combined region leaves the chain untouched.
func (a *Allocator) maybeMerge() {
	upper := a.top
	lower := upper.next
	if lower == nil || !upper.empty() || !lower.empty() {
		return
	}
	capacity := upper.capacity() + lower.capacity()
	if a.maxBytes > 0 && a.capacity > a.maxBytes-capacity {
		// Both regions and their replacement must coexist while merging.
		a.logger.Debug("region merge skipped", "capacity", capacity, "reason", "limit")
		return
	}
	merged, err := a.mapRegion(capacity)
	if err != nil {
		a.logger.Debug("region merge skipped", "capacity", capacity, "err", err)
		return
	}
	merged.next = lower.next
	a.top = merged
	a.regions--
	a.unmapRegion(upper)
	a.unmapRegion(lower)
	a.logger.Debug("regions merged", "capacity", capacity, "regions", a.regions)
}

func (a *Allocator) mapRegion(capacity int) (*region, error) {
	buf, err := a.source.Map(capacity)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "alloc: mapping %d byte region", capacity), ErrOutOfMemory)
	}
	if len(buf) != capacity {
		return nil, errors.AssertionFailedf("alloc: source mapped %d bytes, expected %d", len(buf), capacity)
	}
	return &region{buf: buf}, nil
}

func (a *Allocator) unmapRegion(r *region) {
	if err := a.source.Unmap(r.buf); err != nil {
		a.logger.Warn("region unmap failed", "capacity", r.capacity(), "err", err)
	}
	r.buf, r.next = nil, nil
}

// Alloc returns n zeroed bytes from the heap path. The block is not scoped
// by frames and should be released with Free.
func (a *Allocator) Alloc(n int) []byte {
	if n < 0 {
		panic(errors.AssertionFailedf("alloc: heap allocation of %d bytes", n))
	}
	a.heapBlocks++
	a.heapBytes += n
	return make([]byte, n)
}

// Realloc resizes a heap path block to n bytes, preserving its contents up
// to the smaller of the two sizes. The old block must not be used afterward.
func (a *Allocator) Realloc(b []byte, n int) []byte {
	if b == nil {
		return a.Alloc(n)
	}
	if n < 0 {
		panic(errors.AssertionFailedf("alloc: heap reallocation to %d bytes", n))
	}
	nb := make([]byte, n)
	copy(nb, b)
	a.heapBytes += n - cap(b)
	return nb
}

// Free releases a heap path block. Freeing nil is a no-op.
func (a *Allocator) Free(b []byte) {
	if b == nil {
		return
	}
	if a.heapBlocks == 0 {
		panic(errors.AssertionFailedf("alloc: free with no outstanding heap block"))
	}
	a.heapBlocks--
	a.heapBytes -= cap(b)
}

// Live returns the number of live stack blocks.
func (a *Allocator) Live() int {
	return a.live
}

// Stats returns a snapshot of the allocator's bookkeeping.
func (a *Allocator) Stats() Stats {
	s := Stats{
		Regions:    a.regions,
		Capacity:   a.capacity,
		Live:       a.live,
		Frames:     len(a.frames),
		HeapBlocks: a.heapBlocks,
		HeapBytes:  a.heapBytes,
	}
	for r := a.top; r != nil; r = r.next {
		s.Used += r.sp
	}
	return s
}

func (a *Allocator) checkOpen() {
	if a.top == nil {
		panic(errors.AssertionFailedf("alloc: use of closed allocator"))
	}
}

func (a *Allocator) checkInvariants() {
	if invariants.Enabled {
		var regions, capacity, live, frameLive int
		for r := a.top; r != nil; r = r.next {
			r.checkInvariants()
			if r.next != nil && r.capacity() < 2*r.next.capacity() {
				panic(fmt.Sprintf("invariant failed: region capacity %d is less than double %d\n%s",
					r.capacity(), r.next.capacity(), a.debugString()))
			}
			regions++
			capacity += r.capacity()
			live += r.live
		}
		for _, f := range a.frames {
			frameLive += f.count
		}
		if regions != a.regions || capacity != a.capacity || live != a.live {
			panic(fmt.Sprintf("invariant failed: found regions=%d capacity=%d live=%d, expected %d/%d/%d\n%s",
				regions, capacity, live, a.regions, a.capacity, a.live, a.debugString()))
		}
		if frameLive != live {
			panic(fmt.Sprintf("invariant failed: frames account for %d blocks, but %d are live\n%s",
				frameLive, live, a.debugString()))
		}
	}
}

func (a *Allocator) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "regions=%d  capacity=%d  live=%d  frames=%v\n", a.regions, a.capacity, a.live, a.frames)
	for i, r := 0, a.top; r != nil; i, r = i+1, r.next {
		fmt.Fprintf(&buf, "region %d: %s", i, r.debugString())
	}
	return buf.String()
}
