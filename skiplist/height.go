// Package skiplist
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
package skiplist

import (
	"math/rand"
	"sync"
)

// heightSource is a mutex-guarded PRNG shared by one Skiplist's
// writers, trading a little lock contention for a single simple
// generator instead of a thread-local one per writer.
type heightSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newHeightSource(seed int64) *heightSource {
	return &heightSource{rng: rand.New(rand.NewSource(seed))}
}

// randomHeight draws a geometric(p=0.5) height clamped to [1, kMaxHeight].
func (h *heightSource) randomHeight() uint16 {
	h.mu.Lock()
	defer h.mu.Unlock()

	height := uint16(1)
	for height < kMaxHeight && h.rng.Int31n(2) == 0 {
		height++
	}
	return height
}
