// Copyright 2026 The rrpc Authors.
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

package rrpc

// creditStallOp names which kind of packet a stalled slot is waiting to
// send once its session regains a credit.
type creditStallOp uint8

const (
	stallOpReq  creditStallOp = iota // client: more request fragments to push
	stallOpRFR                       // client: pull the next response fragment
	stallOpResp                      // server: push a specific response fragment
)

// creditStallEntry names one slot waiting on its session to regain a
// spendable credit.
type creditStallEntry struct {
	session *Session
	slotIdx int
	op      creditStallOp
	pktNum  int // meaningful only for stallOpResp
}

// creditStallQueue is a plain FIFO of stalled slots. It is touched only
// from the dispatch goroutine -- one writer (EnqueueRequest, when a
// session is out of credits) and one reader (the dispatch loop's
// credit-stall processing step) that are the same goroutine, so unlike
// the background worker rings this needs no lock-free structure at all.
type creditStallQueue struct {
	entries []creditStallEntry
}

func newCreditStallQueue() *creditStallQueue {
	return &creditStallQueue{}
}

// Push enqueues slotIdx on session's behalf, unless it is already
// waiting (SSlot.onCreditQueue makes this check O(1)).
func (q *creditStallQueue) Push(s *Session, slotIdx int, op creditStallOp, pktNum int) {
	if s.slots[slotIdx].onCreditQueue {
		return
	}
	s.slots[slotIdx].onCreditQueue = true
	q.entries = append(q.entries, creditStallEntry{session: s, slotIdx: slotIdx, op: op, pktNum: pktNum})
}

// Len reports how many slots are currently stalled.
func (q *creditStallQueue) Len() int { return len(q.entries) }

// Drain removes and returns every currently queued entry, clearing each
// slot's onCreditQueue flag. Entries that still lack a credit after
// visit are the caller's responsibility to re-Push.
func (q *creditStallQueue) Drain() []creditStallEntry {
	out := q.entries
	q.entries = nil
	for _, e := range out {
		e.session.slots[e.slotIdx].onCreditQueue = false
	}
	return out
}
