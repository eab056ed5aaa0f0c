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

import "encoding/binary"

// collectionPrefixSize is the width of the big-endian collection id
// prefixed onto every key stored in a skiplist, so distinct
// collections' keys never interleave even if (hypothetically) sharing
// one PMem linked list.
const collectionPrefixSize = 8

// EncodeKey prepends collectionID, big-endian, to userKey, producing
// the key actually stored and ordered in the skiplist.
func EncodeKey(collectionID uint64, userKey []byte) []byte {
	buf := make([]byte, collectionPrefixSize+len(userKey))
	binary.BigEndian.PutUint64(buf[:collectionPrefixSize], collectionID)
	copy(buf[collectionPrefixSize:], userKey)
	return buf
}

// UserKey strips the collection-id prefix from a skiplist key, the
// inverse of EncodeKey.
func UserKey(skiplistKey []byte) []byte {
	if len(skiplistKey) < collectionPrefixSize {
		return nil
	}
	return skiplistKey[collectionPrefixSize:]
}
