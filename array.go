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

import "sync/atomic"

// buffer is storage that may be shared by several ParArrays.
type buffer struct {
	data []float64
	refs int32
}

// ParArray is a four dimensional array of cell (or face) values indexed
// by (variable component, k, j, i). Copies made with Clone share storage
// until one of them is made Writable.
type ParArray struct {
	dims [4]int
	buf  *buffer
}

// NewParArray allocates a zeroed array.
func NewParArray(nvar, nk, nj, ni int) *ParArray {
	return &ParArray{
		dims: [4]int{nvar, nk, nj, ni},
		buf:  &buffer{data: make([]float64, nvar*nk*nj*ni), refs: 1},
	}
}

// Dims returns the extent of the array in (v, k, j, i) order.
func (a *ParArray) Dims() [4]int { return a.dims }

// Len returns the number of elements.
func (a *ParArray) Len() int { return len(a.buf.data) }

func (a *ParArray) index(v, k, j, i int) int {
	return ((v*a.dims[1]+k)*a.dims[2]+j)*a.dims[3] + i
}

// At returns the element at (v, k, j, i).
func (a *ParArray) At(v, k, j, i int) float64 {
	return a.buf.data[a.index(v, k, j, i)]
}

// Set sets the element at (v, k, j, i). The array must have been made
// Writable if it could be shared.
func (a *ParArray) Set(v, k, j, i int, x float64) {
	a.buf.data[a.index(v, k, j, i)] = x
}

// Add adds x to the element at (v, k, j, i).
func (a *ParArray) Add(v, k, j, i int, x float64) {
	a.buf.data[a.index(v, k, j, i)] += x
}

// Clone returns an array sharing a's storage.
func (a *ParArray) Clone() *ParArray {
	atomic.AddInt32(&a.buf.refs, 1)
	return &ParArray{dims: a.dims, buf: a.buf}
}

// Shared reports whether a's storage is referenced by another array.
func (a *ParArray) Shared() bool {
	return atomic.LoadInt32(&a.buf.refs) > 1
}

// Writable gives a its own storage if it is shared, and returns a.
// It must not be called concurrently on arrays sharing storage.
func (a *ParArray) Writable() *ParArray {
	if a.Shared() {
		old := a.buf
		a.buf = &buffer{data: append([]float64(nil), old.data...), refs: 1}
		atomic.AddInt32(&old.refs, -1)
	}
	return a
}

// Release gives up a's share of its storage. a must not be used afterwards.
func (a *ParArray) Release() {
	if a.buf != nil {
		atomic.AddInt32(&a.buf.refs, -1)
		a.buf = nil
	}
}

// Fill sets every element to x.
func (a *ParArray) Fill(x float64) {
	d := a.Writable().buf.data
	for i := range d {
		d[i] = x
	}
}

// CopyFrom copies the contents of b, which must have the same dimensions.
func (a *ParArray) CopyFrom(b *ParArray) {
	copy(a.Writable().buf.data, b.buf.data)
}
