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

// Package rest sets up a uniform medium, optionally heated or cooled at a
// constant rate, and moving with a uniform velocity along x1. With the
// boundaries held at the initial state it checks that a solver conserves
// a featureless solution.
package rest

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/divclean"
	"github.com/spatialmodel/divclean/science/fluid"
)

// Config holds the settings of the rest problem.
type Config struct {
	// SetTlim replaces the time limit with Dyntimes*U0/|Q|.
	SetTlim bool
	U0      float64
	Rho0    float64
	V0      float64
	// Q is the heating rate of the internal energy. It is only used
	// if HasQ is true.
	Q    float64
	HasQ bool
	// ContextBoundaries holds the ghost zones on physical boundaries
	// at the initial state.
	ContextBoundaries bool
	// Dyntimes is the fraction of the time for the heating to change
	// the internal energy by U0 after which the run ends.
	Dyntimes float64
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{U0: 1, Rho0: 1, V0: 1, Dyntimes: 0.5}
}

// TimeLimit returns the time limit implied by cfg and whether it should
// replace the configured one. No limit is set without heating, or if the
// run would cool the medium below zero internal energy.
func TimeLimit(cfg Config) (float64, bool) {
	q := cfg.Q
	if !cfg.HasQ {
		q = 0
	}
	if !cfg.SetTlim || q == 0 || (q < 0 && cfg.Dyntimes > 1) {
		return 0, false
	}
	return cfg.Dyntimes * cfg.U0 / math.Abs(q), true
}

// Problem is the rest problem.
type Problem struct {
	cfg    Config
	params *divclean.Params
	log    logrus.FieldLogger

	rho0, u0, v0      float64
	contextBoundaries bool
}

// New returns the rest problem. Its state is stored in the parameters of
// the fluid package, fluidParams.
func New(cfg Config, fluidParams *divclean.Params, log logrus.FieldLogger) *Problem {
	return &Problem{cfg: cfg, params: fluidParams, log: log.WithField("problem", "rest")}
}

// Initialize adds the problem's settings to the fluid parameters where
// they are not already set, applies the time limit override to tm and
// sets every local block to the rest state.
func (p *Problem) Initialize(tm *divclean.SimTime, m *divclean.Mesh) error {
	q := 0.0
	if p.cfg.HasQ {
		q = p.cfg.Q
	}
	p.params.AddIfAbsent("rho0", p.cfg.Rho0)
	p.params.AddIfAbsent("v0", p.cfg.V0)
	p.params.AddIfAbsent("u0", p.cfg.U0)
	p.params.AddIfAbsent("q", q)
	p.params.AddIfAbsent("context_boundaries", p.cfg.ContextBoundaries)

	var err error
	if p.rho0, err = p.params.Float("rho0"); err != nil {
		return err
	}
	if p.u0, err = p.params.Float("u0"); err != nil {
		return err
	}
	if p.v0, err = p.params.Float("v0"); err != nil {
		return err
	}
	if p.contextBoundaries, err = p.params.Bool("context_boundaries"); err != nil {
		return err
	}

	if tlim, ok := TimeLimit(p.cfg); ok {
		p.log.WithField("tlim", tlim).Info("setting time limit from heating rate")
		tm.Tlim = tlim
	}

	for _, b := range m.Blocks {
		rc, err := b.Stages.Get(divclean.Base)
		if err != nil {
			return err
		}
		if err := p.SetRest(rc, divclean.Entire); err != nil {
			return fmt.Errorf("rest: block %d: %v", b.GID, err)
		}
	}
	return nil
}

// SetRest sets the primitive and conserved fluid fields of rc to the rest
// state over the given domain.
func (p *Problem) SetRest(rc *divclean.Container, domain divclean.IndexDomain) error {
	sh := rc.Block.Shape
	return p.setRest(rc, sh.KB(domain), sh.JB(domain), sh.IB(domain))
}

func (p *Problem) setRest(rc *divclean.Container, kb, jb, ib divclean.IndexRange) error {
	vs, err := rc.Lookup(fluid.PrimRho, fluid.PrimU, fluid.PrimUvec)
	if err != nil {
		return err
	}
	rho, u, uvec := vs[0].Data.Writable(), vs[1].Data.Writable(), vs[2].Data.Writable()
	rho0, u0, v0 := p.rho0, p.u0, p.v0
	divclean.ParFor(kb, jb, ib, func(k, j, i int) {
		rho.Set(0, k, j, i, rho0)
		u.Set(0, k, j, i, u0)
		uvec.Set(0, k, j, i, v0)
		uvec.Set(1, k, j, i, 0)
		uvec.Set(2, k, j, i, 0)
	})
	return fluid.PtoURange(rc, kb, jb, ib)
}

// ApplyBoundaries implements divclean.Problem. With context boundaries,
// the ghost zones beyond physical boundaries are reset to the rest state.
func (p *Problem) ApplyBoundaries(rc *divclean.Container) error {
	if !p.contextBoundaries {
		return nil
	}
	b := rc.Block
	for d := 0; d < b.NDim(); d++ {
		for _, f := range []divclean.Face{divclean.Face(2 * d), divclean.Face(2*d + 1)} {
			if _, ok := b.Neighbor(f); ok {
				continue
			}
			kb, jb, ib := divclean.GhostZone(b.Shape, f)
			if err := p.setRest(rc, kb, jb, ib); err != nil {
				return err
			}
		}
	}
	return nil
}
