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
	"io"

	"github.com/charmbracelet/log"
)

// option provides an interface to do work on an Allocator while it is being
// created.
type option interface {
	apply(a *Allocator)
}

// Source supplies the raw memory backing an Allocator's regions. The default
// source maps anonymous memory from the operating system (see MmapSource).
// A Source that can fail lets callers observe ErrOutOfMemory.
type Source interface {
	// Map should return a zeroed slice of exactly n bytes.
	Map(n int) ([]byte, error)

	// Unmap releases memory that is guaranteed to have been returned by Map.
	Unmap(b []byte) error
}

// HeapSource is a Source backed by the Go heap. Unmap is a no-op and the
// garbage collector reclaims released regions.
type HeapSource struct{}

var _ Source = HeapSource{}

// Map implements Source.
func (HeapSource) Map(n int) ([]byte, error) {
	return make([]byte, n), nil
}

// Unmap implements Source.
func (HeapSource) Unmap([]byte) error {
	return nil
}

type sourceOption struct {
	source Source
}

func (op sourceOption) apply(a *Allocator) {
	a.source = op.source
}

// WithSource is an option to specify the Source regions are mapped from.
func WithSource(source Source) option {
	return sourceOption{source}
}

type loggerOption struct {
	logger *log.Logger
}

func (op loggerOption) apply(a *Allocator) {
	a.logger = op.logger
}

// WithLogger is an option to specify the logger that region growth, merges
// and release failures are reported to. Messages are logged at debug level.
func WithLogger(logger *log.Logger) option {
	return loggerOption{logger}
}

type maxBytesOption struct {
	maxBytes int
}

func (op maxBytesOption) apply(a *Allocator) {
	a.maxBytes = op.maxBytes
}

// WithMaxBytes caps the total capacity of the region chain. Growth beyond the
// cap fails with ErrOutOfMemory. A cap <= 0 means unlimited.
func WithMaxBytes(n int) option {
	return maxBytesOption{n}
}

func discardLogger() *log.Logger {
	return log.New(io.Discard)
}
