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
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// ParFor concurrently calls f for every cell in the given index ranges.
// Calls for different cells may run in parallel, so f must only write
// to its own cell.
func ParFor(kb, jb, ib IndexRange, f func(k, j, i int)) {
	nk, nj, ni := kb.N(), jb.N(), ib.N()
	n := nk * nj * ni
	if n == 0 {
		return
	}
	nprocs := runtime.GOMAXPROCS(0)
	if nprocs > n {
		nprocs = n
	}
	var wg sync.WaitGroup
	wg.Add(nprocs)
	for pp := 0; pp < nprocs; pp++ {
		go func(pp int) {
			for ii := pp; ii < n; ii += nprocs {
				i := ii % ni
				j := (ii / ni) % nj
				k := ii / (ni * nj)
				f(kb.S+k, jb.S+j, ib.S+i)
			}
			wg.Done()
		}(pp)
	}
	wg.Wait()
}

// ParReduceMax concurrently evaluates f for every cell and returns the
// largest result, or negative infinity if there are no cells.
func ParReduceMax(kb, jb, ib IndexRange, f func(k, j, i int) float64) float64 {
	return parReduce(kb, jb, ib, f, maxOp)
}

// ParReduceSum concurrently evaluates f for every cell and returns the sum.
func ParReduceSum(kb, jb, ib IndexRange, f func(k, j, i int) float64) float64 {
	return parReduce(kb, jb, ib, f, sumOp)
}

// ParReduceMin concurrently evaluates f for every cell and returns the
// smallest result, or positive infinity if there are no cells.
func ParReduceMin(kb, jb, ib IndexRange, f func(k, j, i int) float64) float64 {
	return parReduce(kb, jb, ib, f, minOp)
}

var negInf, posInf = math.Inf(-1), math.Inf(1)

type reduceOp int

const (
	sumOp reduceOp = iota
	maxOp
	minOp
)

func (op reduceOp) identity() float64 {
	switch op {
	case maxOp:
		return negInf
	case minOp:
		return posInf
	}
	return 0
}

func (op reduceOp) apply(a, b float64) float64 {
	switch op {
	case maxOp:
		if b > a {
			return b
		}
		return a
	case minOp:
		if b < a {
			return b
		}
		return a
	}
	return a + b
}

func parReduce(kb, jb, ib IndexRange, f func(k, j, i int) float64, op reduceOp) float64 {
	nk, nj, ni := kb.N(), jb.N(), ib.N()
	n := nk * nj * ni
	if n == 0 {
		return op.identity()
	}
	nprocs := runtime.GOMAXPROCS(0)
	if nprocs > n {
		nprocs = n
	}
	partial := make([]float64, nprocs)
	var wg sync.WaitGroup
	wg.Add(nprocs)
	for pp := 0; pp < nprocs; pp++ {
		go func(pp int) {
			acc := op.identity()
			for ii := pp; ii < n; ii += nprocs {
				i := ii % ni
				j := (ii / ni) % nj
				k := ii / (ni * nj)
				acc = op.apply(acc, f(kb.S+k, jb.S+j, ib.S+i))
			}
			partial[pp] = acc
			wg.Done()
		}(pp)
	}
	wg.Wait()
	switch op {
	case maxOp:
		return floats.Max(partial)
	case minOp:
		return floats.Min(partial)
	}
	return floats.Sum(partial)
}
