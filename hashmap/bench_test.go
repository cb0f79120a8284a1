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

package hashmap

import (
	"fmt"
	"io"
	"strconv"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"
	"github.com/cockroachdb/regionkit/alloc"
	"github.com/cockroachdb/regionkit/vec"
)

func BenchmarkMapIter(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapIter[int64], genKeys[int64]))
	})
	b.Run("impl=hashMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkHashMapIter[int64], genKeys[int64]))
	})
}

func BenchmarkMapGetHit(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapGetHit[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkRuntimeMapGetHit[int32], genKeys[int32]))
	})
	b.Run("impl=hashMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkHashMapGetHit[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkHashMapGetHit[int32], genKeys[int32]))
	})
}

func BenchmarkMapGetMiss(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapGetMiss[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkRuntimeMapGetMiss[int32], genKeys[int32]))
	})
	b.Run("impl=hashMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkHashMapGetMiss[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkHashMapGetMiss[int32], genKeys[int32]))
	})
}

func BenchmarkMapPutGrow(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapPutGrow[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkRuntimeMapPutGrow[int32], genKeys[int32]))
	})
	for _, mode := range []vec.Mode{vec.Stack, vec.Heap} {
		b.Run("impl=hashMap/mode="+mode.String(), func(b *testing.B) {
			b.Run("t=Int64", benchSizes(benchmarkHashMapPutGrow[int64](mode), genKeys[int64]))
			b.Run("t=Int32", benchSizes(benchmarkHashMapPutGrow[int32](mode), genKeys[int32]))
		})
	}
}

func BenchmarkMapPutReuse(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapPutReuse[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkRuntimeMapPutReuse[int32], genKeys[int32]))
	})
	b.Run("impl=hashMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkHashMapPutReuse[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkHashMapPutReuse[int32], genKeys[int32]))
	})
}

func BenchmarkMapPutDelete(b *testing.B) {
	b.Run("impl=runtimeMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkRuntimeMapPutDelete[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkRuntimeMapPutDelete[int32], genKeys[int32]))
	})
	b.Run("impl=hashMap", func(b *testing.B) {
		b.Run("t=Int64", benchSizes(benchmarkHashMapPutDelete[int64], genKeys[int64]))
		b.Run("t=Int32", benchSizes(benchmarkHashMapPutDelete[int32], genKeys[int32]))
	})
}

type benchTypes interface {
	int32 | int64
}

func benchSizes[T benchTypes](
	f func(b *testing.B, n int, genKeys func(start, end int) []T), genKeys func(start, end int) []T,
) func(*testing.B) {
	// Lookups scan the whole table on a miss, so sizes stay small.
	var cases = []int{
		6, 12, 18, 24, 30,
		64,
		128,
		256,
		512,
		1024,
		4096,
	}

	return func(b *testing.B) {
		for _, n := range cases {
			b.Run("len="+strconv.Itoa(n), func(b *testing.B) { f(b, n, genKeys) })
		}
	}
}

func genKeys[T benchTypes](start, end int) []T {
	keys := make([]T, end-start)
	for i := range keys {
		keys[i] = T(start + i)
	}
	return keys
}

func benchAllocator(b *testing.B) *alloc.Allocator {
	a, err := alloc.New(0)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() {
		if err := a.Close(); err != nil {
			b.Fatal(err)
		}
	})
	return a
}

func benchMap[T benchTypes](b *testing.B, n int, keys []T) *Map[T, T] {
	m, err := New[T, T](benchAllocator(b), vec.Heap, n)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(m.Close)
	for _, k := range keys {
		if err := m.Put(k, k); err != nil {
			b.Fatal(err)
		}
	}
	return m
}

func benchmarkRuntimeMapIter[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := make(map[T]T, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[k] = k
	}
	b.ResetTimer()
	perfbench.Open(b)
	var tmp T
	for i := 0; i < b.N; i++ {
		for k, v := range m {
			tmp += k + v
		}
	}
}

func benchmarkHashMapIter[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := benchMap(b, n, genKeys(0, n))
	b.ResetTimer()
	perfbench.Open(b)
	var tmp T
	for i := 0; i < b.N; i++ {
		m.All(func(k, v T) bool {
			tmp += k + v
			return true
		})
	}
}

func benchmarkRuntimeMapGetMiss[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := make(map[T]T)
	keys := genKeys(0, n)
	miss := genKeys(-n, 0)
	for _, k := range keys {
		m[k] = k
	}
	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		_ = m[miss[i%len(miss)]]
	}
}

func benchmarkHashMapGetMiss[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	m := benchMap(b, 0, genKeys(0, n))
	miss := genKeys(-n, 0)
	b.ResetTimer()
	perfbench.Open(b)
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Get(miss[i%len(miss)])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkRuntimeMapGetHit[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := make(map[T]T, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[k] = k
	}
	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		_ = m[keys[i%n]]
	}
}

func benchmarkHashMapGetHit[T benchTypes](b *testing.B, n int, genKeys func(start, end int) []T) {
	keys := genKeys(0, n)
	m := benchMap(b, n, keys)
	b.ResetTimer()
	perfbench.Open(b)
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Get(keys[i%n])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkRuntimeMapPutGrow[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	keys := genKeys(0, n)
	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		m := make(map[T]T)
		for _, k := range keys {
			m[k] = k
		}
	}
}

// benchmarkHashMapPutGrow builds a map from a small table in a frame of its
// own each iteration, so Stack mode tables are reclaimed by the frame.
func benchmarkHashMapPutGrow[T benchTypes](
	mode vec.Mode,
) func(b *testing.B, n int, genKeys func(start, end int) []T) {
	return func(b *testing.B, n int, genKeys func(start, end int) []T) {
		a := benchAllocator(b)
		keys := genKeys(0, n)
		b.ResetTimer()
		perfbench.Open(b)
		for i := 0; i < b.N; i++ {
			err := a.Do(func() error {
				m, err := New[T, T](a, mode, 1)
				if err != nil {
					return err
				}
				defer m.Close()
				for _, k := range keys {
					if err := m.Put(k, k); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				b.Fatal(err)
			}
		}
	}
}

func benchmarkRuntimeMapPutReuse[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := make(map[T]T, n)
	keys := genKeys(0, n)
	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		for _, k := range keys {
			m[k] = k
		}
		for k := range m {
			delete(m, k)
		}
	}
}

func benchmarkHashMapPutReuse[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	keys := genKeys(0, n)
	m := benchMap[T](b, 2*n, nil)
	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		for _, k := range keys {
			_ = m.Put(k, k)
		}
		m.Clear()
	}
}

func benchmarkRuntimeMapPutDelete[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	m := make(map[T]T, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[k] = k
	}
	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		j := i % n
		delete(m, keys[j])
		m[keys[j]] = keys[j]
	}
}

func benchmarkHashMapPutDelete[T benchTypes](
	b *testing.B, n int, genKeys func(start, end int) []T,
) {
	keys := genKeys(0, n)
	m := benchMap(b, n, keys)
	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		j := i % n
		m.Delete(keys[j])
		_ = m.Put(keys[j], keys[j])
	}
}
