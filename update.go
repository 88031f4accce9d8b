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
	"strconv"
)

// FluxDivergence sets the rate of change of every WithFluxes field of in
// to minus the divergence of its face fluxes, over the interior cells.
// Previous contents of dudt are overwritten.
func FluxDivergence(in, dudt *Container) error {
	b := in.Block
	kb, jb, ib := b.Shape.KB(Interior), b.Shape.JB(Interior), b.Shape.IB(Interior)
	ndim := b.NDim()
	c := b.Coords
	for _, v := range in.WithFlags(WithFluxes) {
		dv := dudt.Get(v.Name)
		if dv == nil {
			return fmt.Errorf("divclean: rate of change snapshot has no field %q", v.Name)
		}
		out := dv.Data.Writable()
		for n := 0; n < v.NVar(); n++ {
			ParFor(kb, jb, ib, func(k, j, i int) {
				div := (v.Flux[0].At(n, k, j, i+1) - v.Flux[0].At(n, k, j, i)) / c.Dx1v(i)
				if ndim > 1 {
					div += (v.Flux[1].At(n, k, j+1, i) - v.Flux[1].At(n, k, j, i)) / c.Dx2v(j)
				}
				if ndim > 2 {
					div += (v.Flux[2].At(n, k+1, j, i) - v.Flux[2].At(n, k, j, i)) / c.Dx3v(k)
				}
				out.Set(n, k, j, i, -div)
			})
		}
	}
	return nil
}

// StageWeights are the coefficients of one stage of a low-storage
// Runge-Kutta scheme: u = Gam0*u_prev + Gam1*u_base + Beta*dt*dudt.
type StageWeights struct {
	Gam0, Gam1, Beta float64
}

// Integrator is a multi-stage time integration scheme.
type Integrator struct {
	Name   string
	Stages []StageWeights
}

// Integrators are the available time integration schemes.
var Integrators = map[string]Integrator{
	"rk1": {Name: "rk1", Stages: []StageWeights{{1, 0, 1}}},
	"rk2": {Name: "rk2", Stages: []StageWeights{{1, 0, 1}, {0.5, 0.5, 0.5}}},
	"rk3": {Name: "rk3", Stages: []StageWeights{
		{1, 0, 1},
		{0.25, 0.75, 0.25},
		{2. / 3., 1. / 3., 2. / 3.},
	}},
}

// GetIntegrator returns the named integrator.
func GetIntegrator(name string) (Integrator, error) {
	in, ok := Integrators[name]
	if !ok {
		return Integrator{}, fmt.Errorf("divclean: unknown integrator %q", name)
	}
	return in, nil
}

// NStages returns the number of stages.
func (in Integrator) NStages() int { return len(in.Stages) }

// StageName returns the snapshot written by stage s (1 based). Stage 0
// and the final stage both name the base snapshot.
func (in Integrator) StageName(s int) string {
	if s == 0 || s == len(in.Stages) {
		return Base
	}
	return strconv.Itoa(s)
}

// UpdateContainer sets the Independent fields of out to
// w.Gam0*prev + w.Gam1*base + w.Beta*dt*dudt over the interior cells.
// out may be the same container as prev or base.
func UpdateContainer(prev, base, dudt, out *Container, w StageWeights, dt float64) error {
	b := out.Block
	kb, jb, ib := b.Shape.KB(Interior), b.Shape.JB(Interior), b.Shape.IB(Interior)
	for _, v := range out.WithFlags(Independent) {
		vs, err := lookup3(v.Name, prev, base, dudt)
		if err != nil {
			return err
		}
		p, u0, du := vs[0].Data, vs[1].Data, vs[2].Data
		o := v.Data.Writable()
		for n := 0; n < v.NVar(); n++ {
			ParFor(kb, jb, ib, func(k, j, i int) {
				o.Set(n, k, j, i, w.Gam0*p.At(n, k, j, i)+w.Gam1*u0.At(n, k, j, i)+w.Beta*dt*du.At(n, k, j, i))
			})
		}
	}
	return nil
}

func lookup3(name string, cs ...*Container) ([]*Variable, error) {
	out := make([]*Variable, len(cs))
	for i, c := range cs {
		v, err := c.Lookup(name)
		if err != nil {
			return nil, err
		}
		out[i] = v[0]
	}
	return out, nil
}
