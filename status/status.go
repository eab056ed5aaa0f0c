// Package status
//
// (C) Copyright Alex Gaetano Padula
//
// Licensed under the Mozilla Public License, v. 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.mozilla.org/en-US/MPL/2.0/
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package status holds the sentinel errors returned across the hash
// index, skiplist and pmem/dram allocator boundaries. Callers compare
// against these with errors.Is; call sites wrap them with
// github.com/pkg/errors to attach context without losing the sentinel.
package status

import "errors"

var (
	// ErrNotFound is the sentinel for a lookup that found no matching live
	// entry. hashindex.Search does not return it; it reports a miss through
	// SearchResult.Found. Expected during normal operation; callers should
	// not log it as a failure.
	ErrNotFound = errors.New("kvdk: not found")

	// ErrMemoryOverflow is returned when an overflow bucket or skiplist node
	// allocation fails because the backing allocator is exhausted.
	ErrMemoryOverflow = errors.New("kvdk: memory overflow")

	// ErrOutOfRange is reserved for range-bounded operations (future).
	ErrOutOfRange = errors.New("kvdk: out of range")

	// ErrInvalidArgument is returned for precondition violations: invalid
	// construction options, a zero-size allocation, or a duplicate
	// collection name.
	ErrInvalidArgument = errors.New("kvdk: invalid argument")

	// ErrCorruption is returned by Rebuild when the PMem linked list is
	// internally inconsistent. Fatal: the caller should refuse to open.
	ErrCorruption = errors.New("kvdk: corruption")
)
