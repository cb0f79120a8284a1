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

// Package layout converts fixed-width Go values to and from the raw bytes
// handed out by the allocator. Values are always copied, never aliased, so
// the byte slices may have any alignment.
package layout

import (
	"reflect"
	"unsafe"
)

// Size returns the number of bytes occupied by a value of type T.
func Size[T any]() int {
	var t T
	return int(unsafe.Sizeof(t))
}

// Bytes returns the memory backing *v as a byte slice. The slice aliases v.
func Bytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

// Encode copies the bytes of v into dst. dst must hold at least Size[T]()
// bytes.
func Encode[T any](dst []byte, v T) {
	copy(dst, Bytes(&v))
}

// Decode reads a T from the leading Size[T]() bytes of src.
func Decode[T any](src []byte) T {
	var v T
	copy(Bytes(&v), src)
	return v
}

// PointerFree reports whether T contains no Go pointers. Only pointer-free
// values may be stored in allocator memory: the garbage collector does not
// scan it.
func PointerFree[T any]() bool {
	return pointerFree(reflect.TypeOf((*T)(nil)).Elem())
}

func pointerFree(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Uintptr, reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return t.Len() == 0 || pointerFree(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if !pointerFree(t.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
