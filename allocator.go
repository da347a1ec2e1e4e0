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

import "sort"

// allocator stands in for the hugepage allocator the specification
// treats as an external collaborator: it hands out DMA-registered,
// page-pinned memory in the real runtime. This is a plain size-bucketed
// free-list instead, single-threaded per Endpoint (never touched
// outside the dispatch goroutine, matching the "shared resources" rule
// in the concurrency model), sized in the same power-of-two buckets a
// production allocator would use to bound internal fragmentation.
type allocator struct {
	buckets []int // ascending bucket sizes
	free    map[int][][]byte
	mtu     int
}

func newAllocator(mtu int) *allocator {
	return &allocator{
		buckets: []int{256, 512, 1024, 4096, 16384, 65536},
		free:    make(map[int][][]byte),
		mtu:     mtu,
	}
}

func (a *allocator) bucketFor(size int) int {
	i := sort.SearchInts(a.buckets, size)
	if i == len(a.buckets) {
		return size // oversized request, exact allocation, not pooled
	}
	return a.buckets[i]
}

// Alloc returns a MsgBuffer with at least maxSize bytes of capacity.
func (a *allocator) Alloc(maxSize int) *MsgBuffer {
	bucket := a.bucketFor(maxSize)
	var buf []byte
	if free := a.free[bucket]; len(free) > 0 {
		buf = free[len(free)-1]
		a.free[bucket] = free[:len(free)-1]
	} else {
		buf = make([]byte, bucket)
	}
	return &MsgBuffer{buf: buf[:0], mtu: a.mtu}
}

// Free returns a MsgBuffer's backing storage to the pool. Callers must
// not use m after calling Free.
func (a *allocator) Free(m *MsgBuffer) {
	if m == nil || m.buf == nil {
		return
	}
	bucket := cap(m.buf)
	// Only pool buffers that came from one of our fixed buckets;
	// exact-sized oversized allocations are left for the GC.
	for _, b := range a.buckets {
		if b == bucket {
			a.free[bucket] = append(a.free[bucket], m.buf[:0])
			break
		}
	}
	m.buf = nil
	m.size = 0
}
