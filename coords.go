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

import "math"

// Loci is a position within a cell where metric quantities are evaluated.
type Loci int

// Cell positions.
const (
	Center Loci = iota
	Face1
	Face2
	Face3
	Corner
)

// Coordinates gives the geometry of one block: the spacing of its cells
// and the metric of the (possibly curved) spacetime it covers. Metric
// quantities depend only on the x1 and x2 indices.
type Coordinates interface {
	// Gdet is the square root of minus the metric determinant.
	Gdet(loc Loci, j, i int) float64
	// Gcon is the (mu, nu) component of the inverse metric, with 0 the
	// time index and 1..3 the spatial axes.
	Gcon(loc Loci, j, i, mu, nu int) float64
	// Dx1v, Dx2v and Dx3v are the cell widths along each axis.
	Dx1v(i int) float64
	Dx2v(j int) float64
	Dx3v(k int) float64
	// X returns the coordinates of the given position in cell (k, j, i).
	X(loc Loci, k, j, i int) [3]float64
}

// CoordinatesFunc builds the coordinates of a block whose first interior
// cell has its lower corner at xmin.
type CoordinatesFunc func(xmin, dx [3]float64, shape IndexShape) Coordinates

// ThreePlusOne is a uniformly spaced grid carrying a metric in 3+1 form:
// a lapse, a constant shift and a conformally flat spatial metric.
// Nil functions are taken to be 1.
type ThreePlusOne struct {
	XMin  [3]float64 // lower corner of the first interior cell
	Dx    [3]float64
	Start [3]int // index of the first interior cell along each axis

	Lapse     func(x1, x2 float64) float64
	Conformal func(x1, x2 float64) float64
	Shift     [3]float64
}

// NewThreePlusOne returns a CoordinatesFunc for a metric with the given
// lapse, conformal factor and shift.
func NewThreePlusOne(lapse, conformal func(x1, x2 float64) float64, shift [3]float64) CoordinatesFunc {
	return func(xmin, dx [3]float64, shape IndexShape) Coordinates {
		return &ThreePlusOne{
			XMin:      xmin,
			Dx:        dx,
			Start:     [3]int{shape.IB(Interior).S, shape.JB(Interior).S, shape.KB(Interior).S},
			Lapse:     lapse,
			Conformal: conformal,
			Shift:     shift,
		}
	}
}

// Minkowski is a CoordinatesFunc for flat spacetime on a uniform grid.
var Minkowski = NewThreePlusOne(nil, nil, [3]float64{})

// X implements Coordinates.
func (c *ThreePlusOne) X(loc Loci, k, j, i int) [3]float64 {
	off := [3]float64{0.5, 0.5, 0.5}
	switch loc {
	case Face1:
		off[0] = 0
	case Face2:
		off[1] = 0
	case Face3:
		off[2] = 0
	case Corner:
		off = [3]float64{}
	}
	idx := [3]int{i, j, k}
	var x [3]float64
	for d := range x {
		x[d] = c.XMin[d] + (float64(idx[d]-c.Start[d])+off[d])*c.Dx[d]
	}
	return x
}

func (c *ThreePlusOne) fields(loc Loci, j, i int) (alpha, psi float64) {
	x := c.X(loc, c.Start[2], j, i)
	alpha, psi = 1, 1
	if c.Lapse != nil {
		alpha = c.Lapse(x[0], x[1])
	}
	if c.Conformal != nil {
		psi = c.Conformal(x[0], x[1])
	}
	return alpha, psi
}

// Gdet implements Coordinates.
func (c *ThreePlusOne) Gdet(loc Loci, j, i int) float64 {
	alpha, psi := c.fields(loc, j, i)
	return alpha * math.Pow(psi, 6)
}

// Gcon implements Coordinates.
func (c *ThreePlusOne) Gcon(loc Loci, j, i, mu, nu int) float64 {
	alpha, psi := c.fields(loc, j, i)
	a2 := alpha * alpha
	switch {
	case mu == 0 && nu == 0:
		return -1 / a2
	case mu == 0:
		return c.Shift[nu-1] / a2
	case nu == 0:
		return c.Shift[mu-1] / a2
	}
	g := -c.Shift[mu-1] * c.Shift[nu-1] / a2
	if mu == nu {
		g += math.Pow(psi, -4)
	}
	return g
}

// Dx1v implements Coordinates.
func (c *ThreePlusOne) Dx1v(int) float64 { return c.Dx[0] }

// Dx2v implements Coordinates.
func (c *ThreePlusOne) Dx2v(int) float64 { return c.Dx[1] }

// Dx3v implements Coordinates.
func (c *ThreePlusOne) Dx3v(int) float64 { return c.Dx[2] }

// CellVolume returns the coordinate volume of a cell.
func CellVolume(c Coordinates, k, j, i int) float64 {
	return c.Dx1v(i) * c.Dx2v(j) * c.Dx3v(k)
}
