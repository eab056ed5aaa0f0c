// Package pmem
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
package pmem

import "unsafe"

// sliceOffset returns the distance, in bytes, from the start of base to
// the start of sub. sub must have been derived from base by slicing;
// behavior is undefined otherwise.
func sliceOffset(base, sub []byte) uintptr {
	if len(base) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&sub[0])) - uintptr(unsafe.Pointer(&base[0]))
}
