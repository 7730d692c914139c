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

package datasets

import (
	"time"

	ptp "github.com/clockbound/ptp/protocol"
)

// ForeignMasterCapacity is the maximum number of distinct senders a
// port's foreign-master table tracks. The standard leaves this
// implementation-defined; this spec fixes it at 5.
const ForeignMasterCapacity = 5

// ForeignMasterRecord is the latest Announce seen from one foreign
// master candidate, plus bookkeeping used by BMCA and eviction.
type ForeignMasterRecord struct {
	Announce    ptp.Announce
	ReceiptTime time.Time
	Count       int
}

// foreignMasterEntry tracks a record together with its sender identity,
// kept as a fixed-capacity, insertion-order slice rather than a map so
// eviction is "oldest slot wins" with no extra bookkeeping (spec §9: no
// dynamic allocation in the core data path, bounded tables only).
type foreignMasterEntry struct {
	sender ptp.PortIdentity
	record ForeignMasterRecord
}

// ForeignMasterTable is the per-port bounded mapping of recent Announce
// senders described in spec §3.
type ForeignMasterTable struct {
	entries []foreignMasterEntry
}

// NewForeignMasterTable returns an empty table.
func NewForeignMasterTable() *ForeignMasterTable {
	return &ForeignMasterTable{entries: make([]foreignMasterEntry, 0, ForeignMasterCapacity)}
}

// Add records a newly received Announce from sender at receiptTime.
// A duplicate sequence-id within the same announce-interval replaces
// the earlier entry for that sender rather than bumping the count, per
// spec §4.3. When the table is full and sender is new, the oldest entry
// (the earliest inserted sender, regardless of later refreshes) is
// evicted to make room.
func (t *ForeignMasterTable) Add(sender ptp.PortIdentity, a ptp.Announce, receiptTime time.Time) {
	for i := range t.entries {
		if t.entries[i].sender != sender {
			continue
		}
		existing := t.entries[i].record
		if existing.Announce.SequenceID == a.SequenceID &&
			receiptTime.Sub(existing.ReceiptTime) < existing.Announce.LogMessageInterval.Duration() {
			t.entries[i].record = ForeignMasterRecord{Announce: a, ReceiptTime: receiptTime, Count: existing.Count}
			return
		}
		t.entries[i].record = ForeignMasterRecord{Announce: a, ReceiptTime: receiptTime, Count: existing.Count + 1}
		return
	}

	entry := foreignMasterEntry{sender: sender, record: ForeignMasterRecord{Announce: a, ReceiptTime: receiptTime, Count: 1}}
	if len(t.entries) < ForeignMasterCapacity {
		t.entries = append(t.entries, entry)
		return
	}
	copy(t.entries, t.entries[1:])
	t.entries[len(t.entries)-1] = entry
}

// Remove drops sender's record, used when a path-trace loop is detected
// and the offending Announce must be excluded from the next BMCA run.
func (t *ForeignMasterTable) Remove(sender ptp.PortIdentity) {
	for i := range t.entries {
		if t.entries[i].sender == sender {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

// Live returns the records not yet older than 4x the port's announce
// interval, per spec §3's eviction invariant. Expired entries are
// dropped from the table as a side effect.
func (t *ForeignMasterTable) Live(now time.Time, announceInterval time.Duration) []ForeignMasterRecord {
	maxAge := 4 * announceInterval
	live := make([]foreignMasterEntry, 0, len(t.entries))
	out := make([]ForeignMasterRecord, 0, len(t.entries))
	for _, e := range t.entries {
		if now.Sub(e.record.ReceiptTime) > maxAge {
			continue
		}
		live = append(live, e)
		out = append(out, e.record)
	}
	t.entries = live
	return out
}

// Len returns the number of tracked senders (for tests/observability).
func (t *ForeignMasterTable) Len() int {
	return len(t.entries)
}
