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

// Package fluid is a minimal base solver: it carries a density, an
// internal energy and a velocity, and moves every conserved field on the
// mesh with that velocity using first order upwind fluxes.
package fluid

import (
	"math"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/divclean"
	"github.com/spatialmodel/divclean/comm"
)

// Name is the package name.
const Name = "fluid"

// Field names.
const (
	ConsRho  = "cons.rho"
	PrimRho  = "prims.rho"
	ConsU    = "cons.u"
	PrimU    = "prims.u"
	ConsUvec = "cons.uvec"
	PrimUvec = "prims.uvec"
)

// Package is the fluid package.
type Package struct {
	// Params holds the package's parameters. Problem setups may add
	// to it before the driver is initialized.
	Params *divclean.Params

	cfl float64
	q   float64
	log logrus.FieldLogger
}

// Initialize registers the fluid fields and history output.
func Initialize(cfl float64, log logrus.FieldLogger) (*divclean.StateDescriptor, *Package) {
	p := &Package{Params: divclean.NewParams(), cfl: cfl, log: log.WithField("package", Name)}
	p.Params.Add("cfl", cfl)

	s := &divclean.StateDescriptor{Name: Name, Params: p.Params, Hooks: p}
	cons := divclean.Independent | divclean.FillGhost | divclean.Restart | divclean.Conserved | divclean.WithFluxes
	prim := divclean.Derived | divclean.Restart | divclean.Primitive
	s.AddField(ConsRho, divclean.Metadata{Flags: cons})
	s.AddField(PrimRho, divclean.Metadata{Flags: prim})
	s.AddField(ConsU, divclean.Metadata{Flags: cons})
	s.AddField(PrimU, divclean.Metadata{Flags: prim})
	s.AddField(ConsUvec, divclean.Metadata{Flags: cons | divclean.Vector, Shape: 3})
	s.AddField(PrimUvec, divclean.Metadata{Flags: prim | divclean.Vector, Shape: 3})

	start, stop := divclean.Unbounded()
	s.History = append(s.History, divclean.HistoryVar{
		Name:  "TotalMass",
		Op:    comm.Sum,
		Cell:  TotalMass,
		Start: start,
		Stop:  stop,
	})
	return s, p
}

// TotalMass is the conserved density of a cell, whose volume integral is
// the total mass.
func TotalMass(rc *divclean.Container, k, j, i int) float64 {
	return rc.Get(ConsRho).Data.At(0, k, j, i)
}

// Finalize implements divclean.Finalizer.
func (p *Package) Finalize() error {
	var err error
	if p.cfl, err = p.Params.Float("cfl"); err != nil {
		return err
	}
	p.q, err = p.Params.FloatOr("q", 0)
	return err
}

// Heating returns the resolved heating rate.
func (p *Package) Heating() float64 { return p.q }

var (
	consNames = []string{ConsRho, ConsU, ConsUvec}
	primNames = []string{PrimRho, PrimU, PrimUvec}
)

// UtoP recovers the primitive fluid fields over the given domain.
func UtoP(rc *divclean.Container, domain divclean.IndexDomain, coarse bool) error {
	b := rc.Block
	shape := b.Shape
	if coarse {
		shape = b.Coarse
	}
	for n := range consNames {
		vs, err := rc.Lookup(consNames[n], primNames[n])
		if err != nil {
			return err
		}
		u, pr := vs[0].Data, vs[1].Data.Writable()
		nvar := vs[0].NVar()
		divclean.ParFor(shape.KB(domain), shape.JB(domain), shape.IB(domain), func(k, j, i int) {
			gdet := b.Coords.Gdet(divclean.Center, j, i)
			for v := 0; v < nvar; v++ {
				pr.Set(v, k, j, i, u.At(v, k, j, i)/gdet)
			}
		})
	}
	return nil
}

// PtoU sets the conserved fluid fields from the primitives over the
// given domain.
func PtoU(rc *divclean.Container, domain divclean.IndexDomain) error {
	sh := rc.Block.Shape
	return PtoURange(rc, sh.KB(domain), sh.JB(domain), sh.IB(domain))
}

// PtoURange sets the conserved fluid fields from the primitives over
// the given index ranges.
func PtoURange(rc *divclean.Container, kb, jb, ib divclean.IndexRange) error {
	b := rc.Block
	for n := range consNames {
		vs, err := rc.Lookup(consNames[n], primNames[n])
		if err != nil {
			return err
		}
		u, pr := vs[0].Data.Writable(), vs[1].Data
		nvar := vs[0].NVar()
		divclean.ParFor(kb, jb, ib, func(k, j, i int) {
			gdet := b.Coords.Gdet(divclean.Center, j, i)
			for v := 0; v < nvar; v++ {
				u.Set(v, k, j, i, pr.At(v, k, j, i)*gdet)
			}
		})
	}
	return nil
}

// FillDerived implements divclean.Hooks.
func (p *Package) FillDerived(rc *divclean.Container, domain divclean.IndexDomain, coarse bool) error {
	return UtoP(rc, domain, coarse)
}

// PostStepDiagnostics implements divclean.Hooks.
func (p *Package) PostStepDiagnostics(divclean.SimTime, *divclean.MeshData) error { return nil }

// FillOutput implements divclean.Hooks.
func (p *Package) FillOutput(*divclean.Block) error { return nil }

// CalculateFluxes implements divclean.Physics. Each WithFluxes field is
// carried by the face velocity, taken as the average of the primitive
// velocity of the two adjacent cells, from the upwind cell.
func (p *Package) CalculateFluxes(rc *divclean.Container) error {
	b := rc.Block
	vs, err := rc.Lookup(PrimUvec)
	if err != nil {
		return err
	}
	vel := vs[0].Data
	sh := b.Shape
	for d := 0; d < b.NDim(); d++ {
		r := [3]divclean.IndexRange{sh.IB(divclean.Interior), sh.JB(divclean.Interior), sh.KB(divclean.Interior)}
		r[d].E++ // one more face than cells
		off := [3]int{}
		off[d] = 1
		for _, v := range rc.WithFlags(divclean.WithFluxes) {
			u := v.Data
			f := v.Flux[d].Writable()
			nvar := v.NVar()
			divclean.ParFor(r[2], r[1], r[0], func(k, j, i int) {
				// The face at index i lies between cells i-1 and i.
				kl, jl, il := k-off[2], j-off[1], i-off[0]
				vf := 0.5 * (vel.At(d, kl, jl, il) + vel.At(d, k, j, i))
				for n := 0; n < nvar; n++ {
					up := u.At(n, k, j, i)
					if vf > 0 {
						up = u.At(n, kl, jl, il)
					}
					f.Set(n, k, j, i, vf*up)
				}
			})
		}
	}
	return nil
}

// SourceTerm implements divclean.Physics by heating (or, for a negative
// rate, cooling) the internal energy at a constant rate.
func (p *Package) SourceTerm(rc, dudt *divclean.Container) error {
	if p.q == 0 {
		return nil
	}
	vs, err := dudt.Lookup(ConsU)
	if err != nil {
		return err
	}
	du := vs[0].Data.Writable()
	b := rc.Block
	q := p.q
	divclean.ParFor(b.Shape.KB(divclean.Interior), b.Shape.JB(divclean.Interior), b.Shape.IB(divclean.Interior),
		func(k, j, i int) {
			du.Add(0, k, j, i, b.Coords.Gdet(divclean.Center, j, i)*q)
		})
	return nil
}

// EstimateTimestep implements divclean.Physics. Signals are taken to
// move no faster than the speed of light plus the fluid velocity.
func (p *Package) EstimateTimestep(rc *divclean.Container) float64 {
	b := rc.Block
	vs, err := rc.Lookup(PrimUvec)
	if err != nil {
		p.log.WithError(err).Error("estimating timestep")
		return math.Inf(1)
	}
	vel := vs[0].Data
	ndim := b.NDim()
	sh := b.Shape
	return divclean.ParReduceMin(sh.KB(divclean.Interior), sh.JB(divclean.Interior), sh.IB(divclean.Interior),
		func(k, j, i int) float64 {
			dx := [3]float64{b.Coords.Dx1v(i), b.Coords.Dx2v(j), b.Coords.Dx3v(k)}
			dt := math.Inf(1)
			for d := 0; d < ndim; d++ {
				dt = math.Min(dt, dx[d]/(1+math.Abs(vel.At(d, k, j, i))))
			}
			return p.cfl * dt
		})
}
