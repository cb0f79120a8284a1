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

// Package hashmap implements an open-addressing hash map whose table is a
// vec.Array of fixed-width records obtained from an alloc.Allocator.
//
// Every record is laid out as [key | value | tag] (see Slot). The map keeps
// an epoch: a record is occupied iff its tag equals the epoch. Delete sets a
// record's tag to zero without moving any other record, and Clear
// invalidates every record at once by advancing the epoch.
//
// Because deletion neither shifts records nor leaves classic tombstones, a
// key may live past a free record on its probe path. Lookup therefore scans
// the entire table, starting at hash(key) mod capacity and wrapping around,
// instead of stopping at the first free record. Insertion uses the same
// scan and takes the first record that is not occupied.
//
// Before every Put, if used/capacity >= 3/4 the table is rebuilt at double
// the capacity. The new table is populated fully before it replaces the old
// one, so a rehash that cannot obtain memory returns an error wrapping
// alloc.ErrOutOfMemory and leaves the map unchanged.
//
// Keys and values are stored as their raw bytes, so K and V must not contain
// pointers, and keys compare byte-wise (including any padding).
//
// Maps are NOT goroutine-safe.
package hashmap

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/regionkit/alloc"
	"github.com/cockroachdb/regionkit/internal/invariants"
	"github.com/cockroachdb/regionkit/internal/layout"
	"github.com/cockroachdb/regionkit/vec"
)

const (
	debug = false

	// DefaultCapacity is the table size used when New is passed a capacity
	// <= 0.
	DefaultCapacity = 32

	// The table is rebuilt before an insert once used/capacity reaches
	// maxLoadNum/maxLoadDen.
	maxLoadNum = 3
	maxLoadDen = 4
)

// Entry is a decoded key/value pair.
type Entry[K, V any] struct {
	Key   K
	Value V
}

// Map is an open-addressing hash map from K to V.
type Map[K, V any] struct {
	// slots is the table. Its length is the table capacity.
	slots     vec.Array
	hash      func(b []byte) uint64
	logger    *log.Logger
	keySize   int
	valueSize int
	// used is the number of occupied slots.
	used int
	// epoch is the tag of occupied slots. It is never zero.
	epoch uint32
}

// New constructs a Map with a table of initialCapacity slots allocated in the
// given mode. If initialCapacity is <= 0 DefaultCapacity is used.
func New[K, V any](
	a *alloc.Allocator, mode vec.Mode, initialCapacity int, options ...option[K, V],
) (*Map[K, V], error) {
	if !layout.PointerFree[K]() || !layout.PointerFree[V]() {
		var k K
		var v V
		panic(errors.AssertionFailedf("hashmap: %T or %T contains pointers", k, v))
	}
	m := &Map[K, V]{
		hash:      xxhash.Sum64,
		logger:    discardLogger(),
		keySize:   layout.Size[K](),
		valueSize: layout.Size[V](),
		epoch:     1,
	}
	if m.keySize == 0 || m.valueSize == 0 {
		panic(errors.AssertionFailedf("hashmap: zero-size key or value"))
	}

	for _, op := range options {
		op.apply(m)
	}

	if initialCapacity <= 0 {
		initialCapacity = DefaultCapacity
	}
	if err := m.makeTable(&m.slots, a, mode, initialCapacity); err != nil {
		return nil, err
	}
	m.checkInvariants()
	return m, nil
}

// makeTable initializes t as a table of n free slots.
func (m *Map[K, V]) makeTable(t *vec.Array, a *alloc.Allocator, mode vec.Mode, n int) error {
	// Resize(n) grows unless the capacity already exceeds n.
	if err := t.Init(m.slotSize(), a, mode, n+1); err != nil {
		return errors.Wrapf(err, "hashmap: allocating %d slots", n)
	}
	if err := t.Resize(n); err != nil {
		t.Free()
		return errors.Wrapf(err, "hashmap: allocating %d slots", n)
	}
	return nil
}

// Close releases the table back to the allocator if it was allocated in Heap
// mode. It is invalid to use a Map after it has been closed, though Close
// itself is idempotent.
func (m *Map[K, V]) Close() {
	m.slots.Free()
	*m = Map[K, V]{}
}

// Put inserts an entry into the map. If the key is already present its slot
// is freed first and the entry is inserted anew, so the entry may move.
func (m *Map[K, V]) Put(key K, value V) error {
	m.checkOpen()
	if err := m.maintainLoadFactor(); err != nil {
		return err
	}

	k := layout.Bytes(&key)
	if i := m.find(k); i >= 0 {
		if debug {
			fmt.Printf("put(replacing): index=%d key=%v\n", i, key)
		}
		m.deleteAt(i)
	}
	i := m.insert(k, layout.Bytes(&value))
	if debug {
		fmt.Printf("put(%v): index=%d used=%d capacity=%d\n", key, i, m.used, m.Capacity())
	}
	m.checkInvariants()
	return nil
}

// Get retrieves the value for the specified key, returning ok=false if the
// key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	s, ok := m.Lookup(key)
	if !ok {
		return value, false
	}
	return layout.Decode[V](s.Value()), true
}

// Lookup returns a view of the slot holding key. The view is invalidated by
// a Put that rehashes the table.
func (m *Map[K, V]) Lookup(key K) (Slot, bool) {
	m.checkOpen()
	i := m.find(layout.Bytes(&key))
	if i < 0 {
		return Slot{}, false
	}
	return m.slot(i), true
}

// Has returns true if the key is present.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.Lookup(key)
	return ok
}

// Delete removes the entry for key, if present. No other slot is touched.
func (m *Map[K, V]) Delete(key K) {
	m.checkOpen()
	i := m.find(layout.Bytes(&key))
	if debug {
		fmt.Printf("delete(%v): index=%d\n", key, i)
	}
	if i < 0 {
		return
	}
	m.deleteAt(i)
	m.checkInvariants()
}

// Clear removes every entry in O(1) by advancing the epoch. The capacity is
// kept.
func (m *Map[K, V]) Clear() {
	m.checkOpen()
	m.epoch++
	if m.epoch == deletedTag {
		// The epoch wrapped. Slots tagged during the previous cycle could
		// read as occupied again, so reset every tag.
		for i := 0; i < m.Capacity(); i++ {
			m.slot(i).setTag(deletedTag)
		}
		m.epoch = 1
	}
	m.used = 0
	m.logger.Debug("cleared", "capacity", m.Capacity(), "epoch", m.epoch)
	m.checkInvariants()
}

// Clone returns a deep copy of m whose table has independent storage from
// the same allocator and in the same mode.
func (m *Map[K, V]) Clone() (*Map[K, V], error) {
	m.checkOpen()
	slots, err := m.slots.Clone()
	if err != nil {
		return nil, errors.Wrap(err, "hashmap: clone")
	}
	c := *m
	c.slots = *slots
	return &c, nil
}

// ToArray returns a new array holding a copy of every occupied slot, in table
// order. Each element is a raw [key | value | tag] record; use EntryOf to
// decode one.
func (m *Map[K, V]) ToArray() (*vec.Array, error) {
	m.checkOpen()
	out, err := vec.NewArray(m.slotSize(), m.slots.Allocator(), m.slots.Mode(), m.used)
	if err != nil {
		return nil, err
	}
	for i, n := 0, m.Capacity(); i < n; i++ {
		if s := m.slot(i); m.occupied(s) {
			if err := out.Push(s.Bytes()); err != nil {
				out.Free()
				return nil, err
			}
		}
	}
	return out, nil
}

// EntryOf decodes a raw record as produced by ToArray.
func (m *Map[K, V]) EntryOf(raw []byte) Entry[K, V] {
	return m.entry(makeSlot(raw, m.keySize, m.valueSize))
}

// CountIf returns the number of entries for which pred returns true.
func (m *Map[K, V]) CountIf(pred func(key K, value V) bool) int {
	var n int
	m.All(func(key K, value V) bool {
		if pred(key, value) {
			n++
		}
		return true
	})
	return n
}

// All calls yield sequentially for each entry in table order. If yield
// returns false, iteration stops. The map must not be modified during
// iteration.
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	m.checkOpen()
	for i, n := 0, m.Capacity(); i < n; i++ {
		if s := m.slot(i); m.occupied(s) {
			e := m.entry(s)
			if !yield(e.Key, e.Value) {
				return
			}
		}
	}
}

// FindOne returns the first entry in table order for which pred returns
// true.
func (m *Map[K, V]) FindOne(pred func(key K, value V) bool) (e Entry[K, V], ok bool) {
	m.All(func(key K, value V) bool {
		if pred(key, value) {
			e, ok = Entry[K, V]{Key: key, Value: value}, true
			return false
		}
		return true
	})
	return e, ok
}

// Filter keeps the entries for which pred returns true. The survivors are
// inserted into a new table of the same capacity, which replaces the old
// one.
func (m *Map[K, V]) Filter(pred func(key K, value V) bool) error {
	m.checkOpen()
	var t vec.Array
	if err := m.makeTable(&t, m.slots.Allocator(), m.slots.Mode(), m.Capacity()); err != nil {
		return err
	}
	filtered := Map[K, V]{
		slots:     t,
		hash:      m.hash,
		logger:    m.logger,
		keySize:   m.keySize,
		valueSize: m.valueSize,
		epoch:     1,
	}
	for i, n := 0, m.Capacity(); i < n; i++ {
		s := m.slot(i)
		if !m.occupied(s) {
			continue
		}
		if e := m.entry(s); pred(e.Key, e.Value) {
			filtered.insert(s.Key(), s.Value())
		}
	}
	m.slots.Free()
	*m = filtered
	m.checkInvariants()
	return nil
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.used
}

// Capacity returns the number of slots in the table.
func (m *Map[K, V]) Capacity() int {
	return m.slots.Len()
}

// Epoch returns the tag that marks occupied slots.
func (m *Map[K, V]) Epoch() uint32 {
	return m.epoch
}

// Mode returns the mode the table is allocated in.
func (m *Map[K, V]) Mode() vec.Mode {
	return m.slots.Mode()
}

// maintainLoadFactor doubles the table if used/capacity >= 3/4. The new
// table is populated before it replaces the old one.
func (m *Map[K, V]) maintainLoadFactor() error {
	capacity := m.Capacity()
	if maxLoadDen*m.used < maxLoadNum*capacity {
		return nil
	}

	var t vec.Array
	if err := m.makeTable(&t, m.slots.Allocator(), m.slots.Mode(), 2*capacity); err != nil {
		m.logger.Warn("rehash failed", "capacity", capacity, "used", m.used, "err", err)
		return errors.Wrap(err, "hashmap: rehash")
	}
	rehashed := *m
	rehashed.slots = t
	rehashed.used = 0
	rehashed.epoch = 1
	for i := 0; i < capacity; i++ {
		if s := m.slot(i); m.occupied(s) {
			rehashed.insert(s.Key(), s.Value())
		}
	}
	m.slots.Free()
	*m = rehashed
	m.logger.Debug("rehashed", "from", capacity, "to", m.Capacity(), "used", m.used)
	return nil
}

// find returns the index of the slot holding key, or -1. Every slot is
// examined, starting at the key's home index and wrapping around.
func (m *Map[K, V]) find(key []byte) int {
	n := m.Capacity()
	start := m.home(key)
	for j := 0; j < n; j++ {
		i := start + j
		if i >= n {
			i -= n
		}
		s := m.slot(i)
		if m.occupied(s) && bytes.Equal(s.Key(), key) {
			return i
		}
	}
	return -1
}

// insert writes key and value to the first free slot at or after the key's
// home index, wrapping around. The key must not be present.
func (m *Map[K, V]) insert(key, value []byte) int {
	n := m.Capacity()
	start := m.home(key)
	for j := 0; j < n; j++ {
		i := start + j
		if i >= n {
			i -= n
		}
		if s := m.slot(i); !m.occupied(s) {
			s.write(key, value, m.epoch)
			m.used++
			return i
		}
	}
	panic(errors.AssertionFailedf("hashmap: no free slot in table\n%s", m.debugString()))
}

func (m *Map[K, V]) deleteAt(i int) {
	m.slot(i).setTag(deletedTag)
	m.used--
}

// home returns the index a key's probe starts at.
func (m *Map[K, V]) home(key []byte) int {
	return int(m.hash(key) % uint64(m.Capacity()))
}

func (m *Map[K, V]) slot(i int) Slot {
	return makeSlot(m.slots.At(i), m.keySize, m.valueSize)
}

func (m *Map[K, V]) occupied(s Slot) bool {
	return s.Tag() == m.epoch
}

func (m *Map[K, V]) entry(s Slot) Entry[K, V] {
	return Entry[K, V]{
		Key:   layout.Decode[K](s.Key()),
		Value: layout.Decode[V](s.Value()),
	}
}

func (m *Map[K, V]) slotSize() int {
	return m.keySize + m.valueSize + tagSize
}

func (m *Map[K, V]) checkOpen() {
	if m.hash == nil {
		panic(errors.AssertionFailedf("hashmap: use of closed map"))
	}
}

func (m *Map[K, V]) checkInvariants() {
	if invariants.Enabled {
		if m.epoch == deletedTag {
			panic(fmt.Sprintf("invariant failed: zero epoch\n%s", m.debugString()))
		}
		var used int
		for i, n := 0, m.Capacity(); i < n; i++ {
			s := m.slot(i)
			if !m.occupied(s) {
				continue
			}
			used++
			if j := m.find(s.Key()); j != i {
				panic(fmt.Sprintf("invariant failed: slot(%d): %x found at %d\n%s",
					i, s.Key(), j, m.debugString()))
			}
		}
		if used != m.used {
			panic(fmt.Sprintf("invariant failed: found %d used slots, but used count is %d\n%s",
				used, m.used, m.debugString()))
		}
		if m.used > m.Capacity() {
			panic(fmt.Sprintf("invariant failed: %d used slots exceed capacity\n%s",
				m.used, m.debugString()))
		}
	}
}

func (m *Map[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d  epoch=%d\n", m.Capacity(), m.used, m.epoch)
	for i, n := 0, m.Capacity(); i < n; i++ {
		s := m.slot(i)
		switch tag := s.Tag(); {
		case tag == m.epoch:
			fmt.Fprintf(&buf, "  %4d: %x [home=%d]\n", i, s.Key(), m.home(s.Key()))
		case tag == deletedTag:
			fmt.Fprintf(&buf, "  %4d: deleted\n", i)
		default:
			fmt.Fprintf(&buf, "  %4d: stale [tag=%d]\n", i, tag)
		}
	}
	return buf.String()
}
