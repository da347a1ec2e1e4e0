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

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

// workerJob is handed from the dispatch goroutine to a background
// worker: everything the handler needs, with no back-pointer into
// Session/SSlot, since those must never be touched off the dispatch
// goroutine.
type workerJob struct {
	handler    ReqHandlerFunc
	req        *MsgBuffer
	resp       *MsgBuffer // pre-allocated by the dispatch goroutine; handler fills it in place
	sessionNum uint16
	slotIdx    int
	reqNum     uint64
}

// workerCompletion is handed back once a background handler returns.
type workerCompletion struct {
	resp       *MsgBuffer
	sessionNum uint16
	slotIdx    int
	reqNum     uint64
}

// backgroundPool runs Background-registered request handlers off the
// dispatch goroutine. Each worker pulls jobs from a shared lock-free
// SPSC-per-worker ring and posts completions to a single completion
// ring the dispatch loop drains once per RunEventLoopOnce. Request
// handlers therefore never race with session/slot/credit mutation.
type backgroundPool struct {
	jobs        []*lfq.SPSC[workerJob]
	completions *lfq.SPSC[workerCompletion]
	next        atomix.Uint32
	dispatched  atomix.Uint32
	closeCh     chan struct{}
}

func newBackgroundPool(numWorkers, capacity int) *backgroundPool {
	p := &backgroundPool{
		completions: &lfq.SPSC[workerCompletion]{},
		closeCh:     make(chan struct{}),
	}
	p.completions.Init(capacity)
	p.jobs = make([]*lfq.SPSC[workerJob], numWorkers)
	for i := range p.jobs {
		p.jobs[i] = &lfq.SPSC[workerJob]{}
		p.jobs[i].Init(capacity)
		go p.runWorker(p.jobs[i])
	}
	return p
}

func (p *backgroundPool) runWorker(jobs *lfq.SPSC[workerJob]) {
	var bo iox.Backoff
	for {
		select {
		case <-p.closeCh:
			return
		default:
		}
		job, err := jobs.Dequeue()
		if err != nil {
			bo.Wait()
			continue
		}
		bo = iox.Backoff{}
		job.handler(job.req, job.resp)
		_ = p.completions.Enqueue(&workerCompletion{
			resp:       job.resp,
			sessionNum: job.sessionNum,
			slotIdx:    job.slotIdx,
			reqNum:     job.reqNum,
		})
	}
}

// Dispatch hands job to the least-recently-used worker ring, round
// robin. Returns iox.ErrWouldBlock if that worker's queue is full; the
// caller (rxpath) treats this the same as any other backpressure and
// leaves the request to be retried on the next retransmission.
func (p *backgroundPool) Dispatch(job workerJob) error {
	idx := int(p.next.Add(1)) % len(p.jobs)
	if err := p.jobs[idx].Enqueue(&job); err != nil {
		return err
	}
	p.dispatched.Add(1)
	return nil
}

// DrainCompletions returns every completion posted since the last
// call. Called once per dispatch-loop iteration.
func (p *backgroundPool) DrainCompletions() []workerCompletion {
	var out []workerCompletion
	for {
		c, err := p.completions.Dequeue()
		if err != nil {
			break
		}
		out = append(out, c)
	}
	return out
}

func (p *backgroundPool) Close() { close(p.closeCh) }
