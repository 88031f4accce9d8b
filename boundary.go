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

package divclean

import (
	"fmt"

	"github.com/spatialmodel/divclean/comm"
	"github.com/spatialmodel/divclean/tasks"
)

// ghostRanges returns the index ranges of the layer of cells next to face f
// that is sent to the neighbor (send = true) or filled from it.
// The ranges span the interior along the other axes, so edge and corner
// ghost cells are never exchanged.
func ghostRanges(s IndexShape, f Face, send bool) (kb, jb, ib IndexRange) {
	r := [3]IndexRange{s.IB(Interior), s.JB(Interior), s.KB(Interior)}
	ax := f.Axis()
	in := r[ax]
	ng := s.NGhost
	switch {
	case send && !f.Outer():
		r[ax] = IndexRange{in.S, in.S + ng - 1}
	case send && f.Outer():
		r[ax] = IndexRange{in.E - ng + 1, in.E}
	case !f.Outer():
		r[ax] = IndexRange{in.S - ng, in.S - 1}
	default:
		r[ax] = IndexRange{in.E + 1, in.E + ng}
	}
	return r[2], r[1], r[0]
}

// GhostZone returns the index ranges of the ghost cells beyond face f.
func GhostZone(s IndexShape, f Face) (kb, jb, ib IndexRange) {
	return ghostRanges(s, f, false)
}

// Exchange fills the ghost zones of one block's FillGhost fields from its
// neighbors for one stage. Its methods are the bodies of the boundary tasks.
type Exchange struct {
	rc    *Container
	t     comm.Transport
	cycle int
	stage int
	recvd map[Face][]float64
}

// NewExchange returns the ghost exchange of rc for the given cycle and stage.
func NewExchange(rc *Container, t comm.Transport, cycle, stage int) *Exchange {
	return &Exchange{rc: rc, t: t, cycle: cycle, stage: stage}
}

func (e *Exchange) tag(gid int, f Face) comm.Tag {
	return comm.Tag{Kind: comm.Ghost, Cycle: e.cycle, Stage: e.stage, Block: gid, Face: int(f)}
}

// StartReceiving prepares to receive from every neighbor.
func (e *Exchange) StartReceiving() (tasks.Status, error) {
	e.recvd = make(map[Face][]float64)
	return tasks.Complete, nil
}

func (e *Exchange) pack(f Face) []float64 {
	kb, jb, ib := ghostRanges(e.rc.Block.Shape, f, true)
	var buf []float64
	for _, v := range e.rc.WithFlags(FillGhost) {
		for n := 0; n < v.NVar(); n++ {
			for k := kb.S; k <= kb.E; k++ {
				for j := jb.S; j <= jb.E; j++ {
					for i := ib.S; i <= ib.E; i++ {
						buf = append(buf, v.Data.At(n, k, j, i))
					}
				}
			}
		}
	}
	return buf
}

func (e *Exchange) unpack(f Face, buf []float64) error {
	kb, jb, ib := ghostRanges(e.rc.Block.Shape, f, false)
	p := 0
	for _, v := range e.rc.WithFlags(FillGhost) {
		a := v.Data.Writable()
		for n := 0; n < v.NVar(); n++ {
			for k := kb.S; k <= kb.E; k++ {
				for j := jb.S; j <= jb.E; j++ {
					for i := ib.S; i <= ib.E; i++ {
						if p >= len(buf) {
							return fmt.Errorf("divclean: block %d %v: ghost buffer too short (%d values)", e.rc.Block.GID, f, len(buf))
						}
						a.Set(n, k, j, i, buf[p])
						p++
					}
				}
			}
		}
	}
	if p != len(buf) {
		return fmt.Errorf("divclean: block %d %v: ghost buffer has %d values, expected %d", e.rc.Block.GID, f, len(buf), p)
	}
	return nil
}

// Send packs the interior cells next to each face and sends them to the
// neighbor across it.
func (e *Exchange) Send() (tasks.Status, error) {
	for _, n := range e.rc.Block.Neighbors {
		m := comm.Message{Dst: n.Rank, Tag: e.tag(n.GID, n.Face.Opposite()), Data: e.pack(n.Face)}
		if err := e.t.Send(m); err != nil {
			return tasks.Fail, err
		}
	}
	return tasks.Complete, nil
}

// Receive polls for the buffers from every neighbor. It returns
// Incomplete until all have arrived.
func (e *Exchange) Receive() (tasks.Status, error) {
	done := true
	for _, n := range e.rc.Block.Neighbors {
		if _, ok := e.recvd[n.Face]; ok {
			continue
		}
		m, ok := e.t.TryRecv(n.Rank, e.tag(e.rc.Block.GID, n.Face))
		if !ok {
			done = false
			continue
		}
		e.recvd[n.Face] = m.Data
	}
	if !done {
		return tasks.Incomplete, nil
	}
	return tasks.Complete, nil
}

// Set copies the received buffers into the ghost zones.
func (e *Exchange) Set() (tasks.Status, error) {
	for _, n := range e.rc.Block.Neighbors {
		buf, ok := e.recvd[n.Face]
		if !ok {
			return tasks.Fail, fmt.Errorf("divclean: block %d: no ghost data received for %v", e.rc.Block.GID, n.Face)
		}
		if err := e.unpack(n.Face, buf); err != nil {
			return tasks.Fail, err
		}
	}
	return tasks.Complete, nil
}

// Clear drops the received buffers.
func (e *Exchange) Clear() (tasks.Status, error) {
	e.recvd = nil
	return tasks.Complete, nil
}

// ApplyOutflow fills the ghost zones of FillGhost fields on faces without
// a neighbor by copying the nearest interior cell.
func ApplyOutflow(rc *Container) error {
	b := rc.Block
	for d := 0; d < b.NDim(); d++ {
		for _, f := range []Face{Face(2 * d), Face(2*d + 1)} {
			if _, ok := b.Neighbor(f); ok {
				continue
			}
			kb, jb, ib := ghostRanges(b.Shape, f, false)
			in := b.Shape.Range(d, Interior)
			edge := in.S
			if f.Outer() {
				edge = in.E
			}
			for _, v := range rc.WithFlags(FillGhost) {
				a := v.Data.Writable()
				for n := 0; n < v.NVar(); n++ {
					ParFor(kb, jb, ib, func(k, j, i int) {
						src := [3]int{i, j, k}
						src[d] = edge
						a.Set(n, k, j, i, a.At(n, src[2], src[1], src[0]))
					})
				}
			}
		}
	}
	return nil
}
