/*
Copyright © 2020 the DivClean authors.
This file is part of DivClean.

DivClean is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

DivClean is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with DivClean.  If not, see <http://www.gnu.org/licenses/>.
*/

package comm

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Op is a reduction operator.
type Op int

// Reduction operators.
const (
	Sum Op = iota
	Max
	Min
)

func (op Op) String() string {
	switch op {
	case Sum:
		return "sum"
	case Max:
		return "max"
	case Min:
		return "min"
	default:
		return fmt.Sprintf("Op(%d)", int(op))
	}
}

// Identity returns the value that leaves the operator unchanged.
func (op Op) Identity() float64 {
	switch op {
	case Max:
		return math.Inf(-1)
	case Min:
		return math.Inf(1)
	default:
		return 0
	}
}

// Combine reduces vals with op.
func (op Op) Combine(vals []float64) float64 {
	if len(vals) == 0 {
		return op.Identity()
	}
	switch op {
	case Max:
		return floats.Max(vals)
	case Min:
		return floats.Min(vals)
	default:
		return floats.Sum(vals)
	}
}

// Root is the rank that receives the result of a Reduction.
const Root = 0

// Reduction is an in-flight collective reduction of one value per rank.
// Every rank must start the reduction with the same tag. It progresses
// only when Check is called.
type Reduction struct {
	t     Transport
	tag   Tag
	op    Op
	toAll bool

	vals  []float64
	have  []bool
	done  bool
	value float64
}

// StartReduction contributes val to a reduction identified by tag. If toAll
// is true every rank receives the result; otherwise only Root does.
func StartReduction(t Transport, tag Tag, val float64, op Op, toAll bool) (*Reduction, error) {
	r := &Reduction{t: t, tag: tag, op: op, toAll: toAll, value: val}
	if t.Size() == 1 {
		r.done = true
		return r, nil
	}
	tag.Kind = Reduce
	r.tag = tag
	if t.Rank() == Root {
		r.vals = make([]float64, t.Size())
		r.have = make([]bool, t.Size())
		r.vals[Root] = val
		r.have[Root] = true
		return r, nil
	}
	if err := t.Send(Message{Dst: Root, Tag: tag, Data: []float64{val}}); err != nil {
		return nil, err
	}
	if !toAll {
		// Only the root learns the result.
		r.done = true
	}
	return r, nil
}

// Check advances the reduction without blocking and reports whether
// it is complete.
func (r *Reduction) Check() (bool, error) {
	if r.done {
		return true, nil
	}
	if r.t.Rank() == Root {
		all := true
		for src := range r.have {
			if r.have[src] {
				continue
			}
			m, ok := r.t.TryRecv(src, r.tag)
			if !ok {
				all = false
				continue
			}
			if len(m.Data) != 1 {
				return false, fmt.Errorf("comm: reduction from rank %d has %d values", src, len(m.Data))
			}
			r.vals[src] = m.Data[0]
			r.have[src] = true
		}
		if !all {
			return false, nil
		}
		r.value = r.op.Combine(r.vals)
		if r.toAll {
			btag := r.tag
			btag.Kind = Broadcast
			for dst := 0; dst < r.t.Size(); dst++ {
				if dst == Root {
					continue
				}
				if err := r.t.Send(Message{Dst: dst, Tag: btag, Data: []float64{r.value}}); err != nil {
					return false, err
				}
			}
		}
		r.done = true
		return true, nil
	}
	btag := r.tag
	btag.Kind = Broadcast
	m, ok := r.t.TryRecv(Root, btag)
	if !ok {
		return false, nil
	}
	r.value = m.Data[0]
	r.done = true
	return true, nil
}

// Value returns the reduced value. It is only meaningful after Check has
// reported completion, and on ranks other than Root only for reductions
// started with toAll.
func (r *Reduction) Value() float64 { return r.value }

// drain takes any contributions to an abandoned reduction that have
// arrived since, and reports whether none remain outstanding.
func (r *Reduction) drain() bool {
	if r.done {
		return true
	}
	if r.t.Rank() != Root {
		btag := r.tag
		btag.Kind = Broadcast
		_, r.done = r.t.TryRecv(Root, btag)
		return r.done
	}
	r.done = true
	for src := range r.have {
		if r.have[src] {
			continue
		}
		if _, ok := r.t.TryRecv(src, r.tag); ok {
			r.have[src] = true
			continue
		}
		r.done = false
	}
	return r.done
}

// Wait polls the reduction until it completes or ctx is done.
func (r *Reduction) Wait(ctx context.Context) (float64, error) {
	const poll = 50 * time.Microsecond
	for {
		ok, err := r.Check()
		if err != nil {
			return 0, err
		}
		if ok {
			return r.value, nil
		}
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("comm: reduction %v did not complete: %v", r.tag, ctx.Err())
		case <-time.After(poll):
		}
	}
}

// maxStale is the number of abandoned reductions per channel whose late
// messages are still collected and discarded.
const maxStale = 64

// Pool holds in-flight reductions by channel, so that independent
// diagnostics can have one reduction outstanding each. Calls on the same
// channel must be made in the same order on every rank.
//
// A reduction whose Check times out is abandoned: the channel is free for
// the next Start, and messages for the abandoned reduction that arrive
// later are discarded.
type Pool struct {
	t      Transport
	mu     sync.Mutex
	seq    map[int]int
	active map[int]*Reduction
	stale  map[int][]*Reduction
}

// NewPool returns a reduction pool on t.
func NewPool(t Transport) *Pool {
	return &Pool{
		t:      t,
		seq:    make(map[int]int),
		active: make(map[int]*Reduction),
		stale:  make(map[int][]*Reduction),
	}
}

// drain discards late messages for the abandoned reductions on channel.
// p.mu must be held.
func (p *Pool) drain(channel int) {
	old := p.stale[channel]
	if len(old) == 0 {
		return
	}
	keep := old[:0]
	for _, r := range old {
		if !r.drain() {
			keep = append(keep, r)
		}
	}
	if len(keep) > maxStale {
		keep = keep[len(keep)-maxStale:]
	}
	if len(keep) == 0 {
		delete(p.stale, channel)
		return
	}
	p.stale[channel] = keep
}

// Stale returns the number of abandoned reductions on channel that are
// still waiting for late messages.
func (p *Pool) Stale(channel int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drain(channel)
	return len(p.stale[channel])
}

// wait polls r, abandoning it if ctx ends first.
func (p *Pool) wait(ctx context.Context, channel int, r *Reduction) (float64, error) {
	v, err := r.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		p.mu.Lock()
		if p.active[channel] == r {
			delete(p.active, channel)
			p.stale[channel] = append(p.stale[channel], r)
		}
		p.mu.Unlock()
	}
	return v, err
}

// Transport returns the transport the pool reduces over.
func (p *Pool) Transport() Transport { return p.t }

func (p *Pool) start(channel int, val float64, op Op, toAll bool) (*Reduction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.active[channel]; ok && !r.done {
		return nil, fmt.Errorf("comm: reduction channel %d is already in use", channel)
	}
	p.drain(channel)
	s := p.seq[channel]
	p.seq[channel] = s + 1
	r, err := StartReduction(p.t, Tag{Kind: Reduce, Block: channel, Face: s}, val, op, toAll)
	if err != nil {
		return nil, err
	}
	p.active[channel] = r
	return r, nil
}

// Start begins a reduction of val to Root on channel.
func (p *Pool) Start(channel int, val float64, op Op) (*Reduction, error) {
	return p.start(channel, val, op, false)
}

// StartToAll begins a reduction of val on channel whose result is
// delivered to every rank.
func (p *Pool) StartToAll(channel int, val float64, op Op) (*Reduction, error) {
	return p.start(channel, val, op, true)
}

// Check waits for the reduction on channel started with Start and returns
// its value, which is only meaningful on Root.
func (p *Pool) Check(ctx context.Context, channel int) (float64, error) {
	p.mu.Lock()
	r, ok := p.active[channel]
	p.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("comm: no reduction started on channel %d", channel)
	}
	return p.wait(ctx, channel, r)
}

// CheckOnAll waits for the reduction on channel started with StartToAll.
func (p *Pool) CheckOnAll(ctx context.Context, channel int) (float64, error) {
	p.mu.Lock()
	r, ok := p.active[channel]
	p.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("comm: no reduction started on channel %d", channel)
	}
	if !r.toAll {
		return 0, fmt.Errorf("comm: reduction on channel %d was not started with StartToAll", channel)
	}
	return p.wait(ctx, channel, r)
}

// AllReduce reduces val across all ranks and returns the result on every
// rank, waiting until ctx is done at most.
func AllReduce(ctx context.Context, p *Pool, channel int, val float64, op Op) (float64, error) {
	if _, err := p.StartToAll(channel, val, op); err != nil {
		return 0, err
	}
	return p.CheckOnAll(ctx, channel)
}
