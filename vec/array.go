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

// Package vec implements a growable array whose storage is obtained from an
// alloc.Allocator.
//
// Array is the byte-level container: every element is a fixed number of
// bytes. Vec[T] is a typed view over an Array for pointer-free element types.
//
// An array tracks two positions. Length is the logical size used for bounds
// checks and traversal. The high-water mark ("top") is where Push writes
// next. The two coincide for arrays built with Push and Pop, but Resize moves
// only the length, so a Resize followed by Push writes at the high-water mark
// rather than at the end:
//
//	v.Resize(10) // length=10 top=0
//	v.Push(x)    // writes index 0; length=10 top=1
//
// Capacity is always a power of two and only grows. In Stack mode buffers
// come from the allocator's stack path and are reclaimed when the enclosing
// frame closes; a buffer superseded by growth stays allocated until then,
// because a stack block cannot be freed out of order. In Heap mode buffers
// come from the heap path and are freed on growth and by Free.
//
// Contract violations (out of range indexes, popping an empty array, using
// an array after Free) panic. Growth that cannot obtain memory returns an
// error wrapping alloc.ErrOutOfMemory and leaves the array unchanged.
//
// Arrays are NOT goroutine-safe.
package vec

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/regionkit/alloc"
)

// Mode records which allocator path an array's buffer is obtained from.
type Mode uint8

const (
	// Stack buffers are pushed on the allocator's stack path and belong to
	// the innermost frame open at the time of allocation.
	Stack Mode = iota
	// Heap buffers come from the allocator's heap path.
	Heap
)

func (m Mode) String() string {
	switch m {
	case Stack:
		return "stack"
	case Heap:
		return "heap"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// Array is a growable array of fixed-width byte elements.
type Array struct {
	allocator *alloc.Allocator
	buf       []byte
	elemSize  int
	length    int
	// top is the high-water mark: the index Push writes next.
	top      int
	capacity int
	mode     Mode
}

// NewArray constructs an Array of elemSize-byte elements with a capacity of
// the smallest power of two >= initialCapacity.
func NewArray(elemSize int, a *alloc.Allocator, mode Mode, initialCapacity int) (*Array, error) {
	v := &Array{}
	if err := v.Init(elemSize, a, mode, initialCapacity); err != nil {
		return nil, err
	}
	return v, nil
}

// Init initializes v in place. See NewArray.
func (v *Array) Init(elemSize int, a *alloc.Allocator, mode Mode, initialCapacity int) error {
	if a == nil {
		panic(errors.AssertionFailedf("vec: nil allocator"))
	}
	if elemSize <= 0 {
		panic(errors.AssertionFailedf("vec: element size %d", elemSize))
	}
	if mode != Stack && mode != Heap {
		panic(errors.AssertionFailedf("vec: invalid mode %s", mode))
	}

	capacity := 1
	for capacity < initialCapacity {
		capacity *= 2
	}
	*v = Array{
		allocator: a,
		elemSize:  elemSize,
		capacity:  capacity,
		mode:      mode,
	}
	buf, err := v.allocate(capacity)
	if err != nil {
		*v = Array{}
		return err
	}
	v.buf = buf
	return nil
}

// Free releases the buffer of a Heap mode array. Stack mode buffers are
// reclaimed only when their frame closes. The array must not be used
// afterward.
func (v *Array) Free() {
	if v.buf == nil {
		return
	}
	v.release(v.buf)
	v.buf = nil
	v.length, v.top, v.capacity = 0, 0, 0
}

// Resize sets the length of the array to n, growing the capacity if
// n >= Cap(). Elements exposed by growing keep whatever bytes the buffer
// holds at those indexes (zero for never-written indexes).
func (v *Array) Resize(n int) error {
	v.checkInit()
	if n < 0 {
		panic(errors.AssertionFailedf("vec: resize to %d", n))
	}
	if err := v.reserve(n); err != nil {
		return err
	}
	v.length = n
	return nil
}

// reserve grows the capacity until it exceeds n. Growth either completes or
// leaves the array untouched.
func (v *Array) reserve(n int) error {
	if n < v.capacity {
		return nil
	}
	capacity := v.capacity
	for n >= capacity {
		capacity *= 2
	}
	buf, err := v.allocate(capacity)
	if err != nil {
		return errors.Wrapf(err, "vec: growing to %d elements", capacity)
	}
	copy(buf, v.buf)
	v.release(v.buf)
	v.buf = buf
	v.capacity = capacity
	return nil
}

// Push writes el at the high-water mark and advances it, extending the
// length if the high-water mark passes it.
func (v *Array) Push(el []byte) error {
	v.checkInit()
	v.checkElem(el)
	if err := v.reserve(max(v.length, v.top)); err != nil {
		return err
	}
	copy(v.slot(v.top), el)
	v.top++
	if v.top >= v.length {
		v.length = v.top
	}
	return nil
}

// Pop retracts the high-water mark by one. The length shrinks only if it
// equals the high-water mark.
func (v *Array) Pop() {
	v.checkInit()
	if v.top == 0 {
		panic(errors.AssertionFailedf("vec: pop of empty array"))
	}
	if v.top == v.length {
		v.length--
	}
	v.top--
}

// Top returns the element just below the high-water mark.
func (v *Array) Top() []byte {
	v.checkInit()
	if v.top == 0 {
		panic(errors.AssertionFailedf("vec: top of empty array"))
	}
	return v.slot(v.top - 1)
}

// At returns the element at index i. The returned slice aliases the array
// and is invalidated by growth.
func (v *Array) At(i int) []byte {
	v.checkBounds(i)
	return v.slot(i)
}

// Put overwrites the element at index i.
func (v *Array) Put(i int, el []byte) {
	v.checkBounds(i)
	v.checkElem(el)
	copy(v.slot(i), el)
}

// DeleteAt removes the element at index i, shifting later elements left.
func (v *Array) DeleteAt(i int) {
	v.checkBounds(i)
	if i == v.length-1 && v.top > 0 {
		v.Pop()
		return
	}
	copy(v.buf[i*v.elemSize:], v.buf[(i+1)*v.elemSize:v.length*v.elemSize])
	v.length--
	if v.top > i {
		v.top--
	}
}

// Find returns the index of the first element byte-wise equal to el, or -1.
func (v *Array) Find(el []byte) int {
	v.checkInit()
	v.checkElem(el)
	for i := 0; i < v.length; i++ {
		if bytes.Equal(v.slot(i), el) {
			return i
		}
	}
	return -1
}

// Has returns true if an element byte-wise equal to el is present.
func (v *Array) Has(el []byte) bool {
	return v.Find(el) != -1
}

// Swap exchanges the elements at indexes i and j.
func (v *Array) Swap(i, j int) {
	a, b := v.At(i), v.At(j)
	for k := range a {
		a[k], b[k] = b[k], a[k]
	}
}

// Sort orders the elements using cmp, which returns a negative number when
// a sorts before b, a positive number when a sorts after b and zero
// otherwise. The sort exchanges adjacent elements only and is O(n^2).
func (v *Array) Sort(cmp func(a, b []byte) int) {
	v.checkInit()
	for i := 0; i < v.length; i++ {
		for j := 0; j < v.length-i-1; j++ {
			if cmp(v.slot(j), v.slot(j+1)) > 0 {
				v.Swap(j, j+1)
			}
		}
	}
}

// Filter keeps the elements for which pred returns true, preserving their
// order. The survivors are compacted into a new buffer that replaces the old
// one, which is released.
func (v *Array) Filter(pred func(el []byte) bool) error {
	v.checkInit()
	var filtered Array
	if err := filtered.Init(v.elemSize, v.allocator, v.mode, 1); err != nil {
		return err
	}
	for i := 0; i < v.length; i++ {
		if el := v.slot(i); pred(el) {
			if err := filtered.Push(el); err != nil {
				filtered.Free()
				return err
			}
		}
	}
	v.Free()
	*v = filtered
	return nil
}

// Map replaces every element with the result of fn. fn receives a zeroed
// scratch element to write the result to and the current element, which it
// must not modify. The scratch element is pushed on the allocator's stack
// path in a frame of its own.
func (v *Array) Map(fn func(dst, src []byte)) error {
	v.checkInit()
	return v.allocator.Do(func() error {
		scratch, err := v.allocator.Push(v.elemSize)
		if err != nil {
			return err
		}
		for i := 0; i < v.length; i++ {
			el := v.slot(i)
			clear(scratch)
			fn(scratch, el)
			copy(el, scratch)
		}
		return nil
	})
}

// CountIf returns the number of elements for which pred returns true.
func (v *Array) CountIf(pred func(el []byte) bool) int {
	v.checkInit()
	var n int
	for i := 0; i < v.length; i++ {
		if pred(v.slot(i)) {
			n++
		}
	}
	return n
}

// All calls yield sequentially for each index and element. If yield returns
// false, iteration stops.
func (v *Array) All(yield func(i int, el []byte) bool) {
	v.checkInit()
	for i := 0; i < v.length; i++ {
		if !yield(i, v.slot(i)) {
			return
		}
	}
}

// Clear empties the array and zeroes its buffer. The capacity is kept.
func (v *Array) Clear() {
	v.checkInit()
	v.length = 0
	v.top = 0
	clear(v.buf)
}

// CopyFrom replaces the contents of v with a copy of src. v keeps its own
// allocator and mode.
func (v *Array) CopyFrom(src *Array) error {
	src.checkInit()
	if v.allocator == nil {
		panic(errors.AssertionFailedf("vec: copy into uninitialized array"))
	}
	dst := Array{
		allocator: v.allocator,
		elemSize:  src.elemSize,
		length:    src.length,
		top:       src.top,
		capacity:  src.capacity,
		mode:      v.mode,
	}
	buf, err := dst.allocate(src.capacity)
	if err != nil {
		return err
	}
	copy(buf, src.buf)
	dst.buf = buf
	v.Free()
	*v = dst
	return nil
}

// Clone returns a copy of v with independent storage from the same
// allocator and in the same mode.
func (v *Array) Clone() (*Array, error) {
	c := &Array{allocator: v.allocator, mode: v.mode}
	if err := c.CopyFrom(v); err != nil {
		return nil, err
	}
	return c, nil
}

// Len returns the logical length of the array.
func (v *Array) Len() int {
	return v.length
}

// Cap returns the number of elements the buffer can hold.
func (v *Array) Cap() int {
	return v.capacity
}

// ElemSize returns the width of an element in bytes.
func (v *Array) ElemSize() int {
	return v.elemSize
}

// Mode returns the mode the buffer is allocated in.
func (v *Array) Mode() Mode {
	return v.mode
}

// Allocator returns the allocator the array obtains storage from.
func (v *Array) Allocator() *alloc.Allocator {
	return v.allocator
}

func (v *Array) slot(i int) []byte {
	off := i * v.elemSize
	return v.buf[off : off+v.elemSize : off+v.elemSize]
}

func (v *Array) allocate(capacity int) ([]byte, error) {
	n := capacity * v.elemSize
	if v.mode == Heap {
		return v.allocator.Alloc(n), nil
	}
	return v.allocator.Push(n)
}

func (v *Array) release(buf []byte) {
	if v.mode == Heap {
		v.allocator.Free(buf)
	}
}

func (v *Array) checkInit() {
	if v == nil || v.buf == nil {
		panic(errors.AssertionFailedf("vec: use of uninitialized array"))
	}
}

func (v *Array) checkBounds(i int) {
	v.checkInit()
	if i < 0 || i >= v.length {
		panic(errors.AssertionFailedf("vec: index %d out of range [0:%d]", i, v.length))
	}
}

func (v *Array) checkElem(el []byte) {
	if len(el) != v.elemSize {
		panic(errors.AssertionFailedf("vec: element of %d bytes, expected %d", len(el), v.elemSize))
	}
}
