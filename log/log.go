// Package log
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

// Package log sends diagnostic messages to a caller-owned channel
// instead of a log file or stdout, so an embedding process decides
// whether and how to surface them.
package log

import "fmt"

// Logger fans messages out to an optional channel. A nil or zero
// Logger is valid and simply discards everything, so packages across
// this module can hold one unconditionally instead of nil-checking a
// *Logger at every call site.
type Logger struct {
	ch chan string
}

// New wraps ch. A nil ch is fine; Log becomes a no-op.
func New(ch chan string) Logger {
	return Logger{ch: ch}
}

// Log sends msg on the channel without blocking if nobody is
// receiving; a full or absent channel drops the message rather than
// stalling the caller's critical section.
func (l Logger) Log(msg string) {
	if l.ch == nil {
		return
	}
	select {
	case l.ch <- msg:
	default:
	}
}

// Logf formats and sends, per Log's non-blocking semantics.
func (l Logger) Logf(format string, args ...interface{}) {
	l.Log(fmt.Sprintf(format, args...))
}
