/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package port

import "time"

const (
	backoffStart = time.Second
	backoffCap   = 16 * time.Second
)

// faultyBackoff tracks the exponential re-initialization delay a port
// in the Faulty state uses before retrying, per spec §4.3's "start 1s,
// cap 16s" failure semantics.
type faultyBackoff struct {
	next time.Duration
}

func newFaultyBackoff() *faultyBackoff {
	return &faultyBackoff{next: backoffStart}
}

// Duration returns the delay to wait before the next retry, then
// doubles it (capped) for the retry after that.
func (b *faultyBackoff) Duration() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > backoffCap {
		b.next = backoffCap
	}
	return d
}

// Reset returns the backoff to its initial delay, called once the port
// successfully leaves Faulty.
func (b *faultyBackoff) Reset() {
	b.next = backoffStart
}
