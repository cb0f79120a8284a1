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
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// tagSize is the width of the occupancy tag that trails every slot.
const tagSize = 4

// deletedTag marks a slot freed by Delete. The epoch is never zero, so a
// deleted slot never reads as occupied.
const deletedTag = 0

// Slot is a view of one record of a map's table. A record is laid out as
//
//	[key | value | tag]
//
// with the key at offset 0, the value at offset keySize and a little-endian
// uint32 tag at offset keySize+valueSize. The record is occupied iff its tag
// equals the table's epoch.
//
// A Slot aliases the table and is invalidated by any Put that rehashes it,
// and by Filter and Close.
type Slot struct {
	b         []byte
	keySize   int
	valueSize int
}

func makeSlot(b []byte, keySize, valueSize int) Slot {
	if len(b) != keySize+valueSize+tagSize {
		panic(errors.AssertionFailedf("hashmap: slot of %d bytes, expected %d", len(b), keySize+valueSize+tagSize))
	}
	return Slot{b: b, keySize: keySize, valueSize: valueSize}
}

// Key returns the key bytes.
func (s Slot) Key() []byte {
	return s.b[:s.keySize:s.keySize]
}

// Value returns the value bytes. Writes through the returned slice modify
// the table.
func (s Slot) Value() []byte {
	end := s.keySize + s.valueSize
	return s.b[s.keySize:end:end]
}

// Tag returns the occupancy tag.
func (s Slot) Tag() uint32 {
	return binary.LittleEndian.Uint32(s.b[s.keySize+s.valueSize:])
}

// Bytes returns the whole record.
func (s Slot) Bytes() []byte {
	return s.b
}

func (s Slot) setTag(tag uint32) {
	binary.LittleEndian.PutUint32(s.b[s.keySize+s.valueSize:], tag)
}

func (s Slot) write(key, value []byte, tag uint32) {
	copy(s.b, key)
	copy(s.b[s.keySize:], value)
	s.setTag(tag)
}
