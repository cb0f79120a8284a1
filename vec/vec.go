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

package vec

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/regionkit/alloc"
	"github.com/cockroachdb/regionkit/internal/layout"
)

// Vec is a growable array of T. Elements are stored as their raw bytes in
// allocator memory, so T must not contain pointers (strings, slices, maps,
// interfaces and pointers are rejected by New). Element comparisons in Find
// and Has are byte-wise, including any padding bytes of T.
type Vec[T any] struct {
	arr Array
}

// New constructs a Vec with a capacity of the smallest power of two >=
// initialCapacity.
func New[T any](a *alloc.Allocator, mode Mode, initialCapacity int) (*Vec[T], error) {
	v := &Vec[T]{}
	if err := v.Init(a, mode, initialCapacity); err != nil {
		return nil, err
	}
	return v, nil
}

// Init initializes v in place. See New.
func (v *Vec[T]) Init(a *alloc.Allocator, mode Mode, initialCapacity int) error {
	if !layout.PointerFree[T]() {
		var t T
		panic(errors.AssertionFailedf("vec: element type %T contains pointers", t))
	}
	return v.arr.Init(layout.Size[T](), a, mode, initialCapacity)
}

// Free releases the storage of a Heap mode vector. See Array.Free.
func (v *Vec[T]) Free() {
	v.arr.Free()
}

// Resize sets the length to n. See Array.Resize.
func (v *Vec[T]) Resize(n int) error {
	return v.arr.Resize(n)
}

// Push writes x at the high-water mark. See Array.Push.
func (v *Vec[T]) Push(x T) error {
	return v.arr.Push(layout.Bytes(&x))
}

// Pop retracts the high-water mark. See Array.Pop.
func (v *Vec[T]) Pop() {
	v.arr.Pop()
}

// Top returns the element just below the high-water mark.
func (v *Vec[T]) Top() T {
	return layout.Decode[T](v.arr.Top())
}

// At returns the element at index i.
func (v *Vec[T]) At(i int) T {
	return layout.Decode[T](v.arr.At(i))
}

// Put overwrites the element at index i.
func (v *Vec[T]) Put(i int, x T) {
	v.arr.Put(i, layout.Bytes(&x))
}

// DeleteAt removes the element at index i, shifting later elements left.
func (v *Vec[T]) DeleteAt(i int) {
	v.arr.DeleteAt(i)
}

// Find returns the index of the first element equal to x, or -1.
func (v *Vec[T]) Find(x T) int {
	return v.arr.Find(layout.Bytes(&x))
}

// Has returns true if an element equal to x is present.
func (v *Vec[T]) Has(x T) bool {
	return v.Find(x) != -1
}

// Swap exchanges the elements at indexes i and j.
func (v *Vec[T]) Swap(i, j int) {
	v.arr.Swap(i, j)
}

// Sort orders the elements using cmp. See Array.Sort.
func (v *Vec[T]) Sort(cmp func(a, b T) int) {
	v.arr.Sort(func(a, b []byte) int {
		return cmp(layout.Decode[T](a), layout.Decode[T](b))
	})
}

// Filter keeps the elements for which pred returns true, preserving their
// order.
func (v *Vec[T]) Filter(pred func(x T) bool) error {
	return v.arr.Filter(func(el []byte) bool {
		return pred(layout.Decode[T](el))
	})
}

// Map replaces every element x with fn(x).
func (v *Vec[T]) Map(fn func(x T) T) error {
	return v.arr.Map(func(dst, src []byte) {
		layout.Encode(dst, fn(layout.Decode[T](src)))
	})
}

// CountIf returns the number of elements for which pred returns true.
func (v *Vec[T]) CountIf(pred func(x T) bool) int {
	return v.arr.CountIf(func(el []byte) bool {
		return pred(layout.Decode[T](el))
	})
}

// All calls yield sequentially for each index and element. If yield returns
// false, iteration stops.
func (v *Vec[T]) All(yield func(i int, x T) bool) {
	v.arr.All(func(i int, el []byte) bool {
		return yield(i, layout.Decode[T](el))
	})
}

// Clear empties the vector. The capacity is kept.
func (v *Vec[T]) Clear() {
	v.arr.Clear()
}

// CopyFrom replaces the contents of v with a copy of src. See Array.CopyFrom.
func (v *Vec[T]) CopyFrom(src *Vec[T]) error {
	return v.arr.CopyFrom(&src.arr)
}

// Clone returns a copy of v with independent storage.
func (v *Vec[T]) Clone() (*Vec[T], error) {
	c := &Vec[T]{}
	arr, err := v.arr.Clone()
	if err != nil {
		return nil, err
	}
	c.arr = *arr
	return c, nil
}

// Len returns the logical length.
func (v *Vec[T]) Len() int {
	return v.arr.Len()
}

// Cap returns the number of elements the buffer can hold.
func (v *Vec[T]) Cap() int {
	return v.arr.Cap()
}

// Mode returns the mode the buffer is allocated in.
func (v *Vec[T]) Mode() Mode {
	return v.arr.Mode()
}

// Array returns the byte-level array backing v.
func (v *Vec[T]) Array() *Array {
	return &v.arr
}

// Fold reduces v from the left: the accumulator starts at seed and is
// replaced by fn(acc, x) for every element x in order. Folding an empty
// vector returns seed.
func Fold[T, A any](v *Vec[T], seed A, fn func(acc A, x T) A) A {
	acc := seed
	v.All(func(_ int, x T) bool {
		acc = fn(acc, x)
		return true
	})
	return acc
}
