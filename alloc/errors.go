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

import "github.com/cockroachdb/errors"

// ErrOutOfMemory is returned (possibly wrapped) when the allocator cannot
// obtain memory for a new region. The allocator is left exactly as it was
// before the failing call.
var ErrOutOfMemory = errors.New("alloc: out of memory")
