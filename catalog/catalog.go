// Package catalog
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

// Package catalog durably maps a collection's name to the numeric id
// its Skiplist keys are prefixed with, so a collection opened after a
// restart gets back the same id its records were written under.
package catalog

import (
	"bytes"
	"encoding/gob"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/Sean58238/kvdk/status"
)

// snapshot is the gob-serialized durable form of a Registry.
type snapshot struct {
	LastID int64
	Names  map[string]uint64
}

// Registry assigns and durably persists the name<->id mapping for
// every collection opened in a store.
type Registry struct {
	mu   sync.RWMutex
	path string

	lastID int64 // atomic
	byName map[string]uint64
	byID   map[uint64]string
}

// Open loads path if it exists, or starts a fresh empty registry
// bound to it. path is rewritten atomically (temp file + rename) on
// every Register call.
func Open(path string) (*Registry, error) {
	r := &Registry{
		path:   path,
		byName: make(map[string]uint64),
		byID:   make(map[uint64]string),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, errors.Wrap(err, "catalog: read registry file")
	}
	if len(data) == 0 {
		return r, nil
	}

	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil, errors.Wrapf(status.ErrCorruption, "catalog: decode registry: %v", err)
	}
	r.lastID = snap.LastID
	for name, id := range snap.Names {
		r.byName[name] = id
		r.byID[id] = name
	}
	return r, nil
}

// nextID generates the next unique id, resetting to 1 if int64 max is
// reached, mirroring the monotonic-id idiom used elsewhere in the
// store.
func (r *Registry) nextID() uint64 {
	for {
		last := atomic.LoadInt64(&r.lastID)
		next := last + 1
		if last == math.MaxInt64 {
			next = 1
		}
		if atomic.CompareAndSwapInt64(&r.lastID, last, next) {
			return uint64(next)
		}
	}
}

// Register assigns a fresh id to name and persists the updated
// registry. Returns status.ErrInvalidArgument if name is already
// registered.
func (r *Registry) Register(name string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return 0, errors.Wrapf(status.ErrInvalidArgument, "catalog: collection %q already registered", name)
	}

	id := r.nextID()
	r.byName[name] = id
	r.byID[id] = name

	if err := r.persistLocked(); err != nil {
		delete(r.byName, name)
		delete(r.byID, id)
		return 0, err
	}
	return id, nil
}

// Lookup returns the id registered for name.
func (r *Registry) Lookup(name string) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// Name returns the name registered for id.
func (r *Registry) Name(id uint64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byID[id]
	return name, ok
}

// Names returns every registered collection name, in no particular
// order; callers needing a stable order must sort it themselves.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}

func (r *Registry) persistLocked() error {
	snap := snapshot{LastID: atomic.LoadInt64(&r.lastID), Names: make(map[string]uint64, len(r.byName))}
	for name, id := range r.byName {
		snap.Names[name] = id
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return errors.Wrap(err, "catalog: encode registry")
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return errors.Wrap(err, "catalog: write registry temp file")
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return errors.Wrap(err, "catalog: rename registry temp file")
	}
	return nil
}
