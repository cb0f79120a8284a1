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
	"io"

	"github.com/charmbracelet/log"
)

// option provide an interface to do work on Map while it is being created.
type option[K, V any] interface {
	apply(m *Map[K, V])
}

type hashOption[K, V any] struct {
	hash func(b []byte) uint64
}

func (op hashOption[K, V]) apply(m *Map[K, V]) {
	m.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a Map[K,V].
// The function is applied to the raw bytes of a key. The default is
// xxhash.Sum64.
func WithHash[K, V any](hash func(b []byte) uint64) option[K, V] {
	return hashOption[K, V]{hash}
}

type loggerOption[K, V any] struct {
	logger *log.Logger
}

func (op loggerOption[K, V]) apply(m *Map[K, V]) {
	m.logger = op.logger
}

// WithLogger is an option to specify the logger that rehashes and clears are
// reported to at debug level. By default nothing is logged.
func WithLogger[K, V any](logger *log.Logger) option[K, V] {
	return loggerOption[K, V]{logger}
}

func discardLogger() *log.Logger {
	return log.New(io.Discard)
}
