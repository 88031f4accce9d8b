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
	"github.com/spatialmodel/divclean/comm"
)

// CellFunc evaluates a quantity in cell (k, j, i) of a block.
type CellFunc func(rc *Container, k, j, i int) float64

// inBox reports whether x lies in [start, stop) along every active axis.
func inBox(x, start, stop [3]float64, ndim int) bool {
	for d := 0; d < ndim; d++ {
		if x[d] < start[d] || x[d] >= stop[d] {
			return false
		}
	}
	return true
}

// Unbounded returns a box that contains every cell of any mesh.
func Unbounded() (start, stop [3]float64) {
	for d := range start {
		start[d], stop[d] = negInf, posInf
	}
	return start, stop
}

// DomainReduction reduces fn over the interior cells of md whose centers
// lie in the box [start, stop). Sums are weighted by cell volume, giving
// the integral of fn over the box; Max and Min are taken pointwise.
func DomainReduction(md *MeshData, op comm.Op, start, stop [3]float64, fn CellFunc) float64 {
	ndim := md.NDim()
	var blockVals []float64
	for _, rc := range md.Blocks {
		b := rc.Block
		kb, jb, ib := b.Shape.KB(Interior), b.Shape.JB(Interior), b.Shape.IB(Interior)
		cell := func(k, j, i int) (float64, bool) {
			if !inBox(b.Coords.X(Center, k, j, i), start, stop, ndim) {
				return 0, false
			}
			return fn(rc, k, j, i), true
		}
		var v float64
		switch op {
		case comm.Max:
			v = ParReduceMax(kb, jb, ib, func(k, j, i int) float64 {
				if x, ok := cell(k, j, i); ok {
					return x
				}
				return negInf
			})
		case comm.Min:
			v = ParReduceMin(kb, jb, ib, func(k, j, i int) float64 {
				if x, ok := cell(k, j, i); ok {
					return x
				}
				return posInf
			})
		default:
			v = ParReduceSum(kb, jb, ib, func(k, j, i int) float64 {
				if x, ok := cell(k, j, i); ok {
					return x * CellVolume(b.Coords, k, j, i)
				}
				return 0
			})
		}
		blockVals = append(blockVals, v)
	}
	return op.Combine(blockVals)
}

// StartDomainReduction computes DomainReduction locally and starts its
// reduction across ranks on the given channel of the mesh's pool. The
// result is available on every rank from the pool's CheckOnAll.
func StartDomainReduction(md *MeshData, channel int, op comm.Op, start, stop [3]float64, fn CellFunc) (*comm.Reduction, error) {
	return md.Mesh.Reduce.StartToAll(channel, DomainReduction(md, op, start, stop, fn), op)
}
