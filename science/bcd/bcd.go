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

// Package bcd transports a magnetic field B together with a scalar
// potential psi that carries divergence errors away and damps them
// (constraint damping, or "cleaning"), and reports the largest
// remaining divergence.
package bcd

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/divclean"
	"github.com/spatialmodel/divclean/comm"
)

// Name is the package name.
const Name = "b_cd"

// Field names.
const (
	ConsB   = "cons.B"
	PrimB   = "prims.B"
	ConsPsi = "cons.psi_cd"
	PrimPsi = "prims.psi_cd"
	DivB    = "divB"
)

// Vector components.
const (
	V1 = iota
	V2
	V3
)

// Channel is the reduction channel used for the divergence diagnostic.
const Channel = divclean.FirstPackageChannel

// Config holds the settings of the package.
type Config struct {
	// Damping is the rate at which psi decays, in units of the lapse.
	Damping float64
	// Verbose controls diagnostic output; negative disables it.
	Verbose int
	// FlagVerbose, if positive, logs entry and exit of each operation.
	FlagVerbose int
	// ExtraChecks, if positive, checks that source terms are finite.
	ExtraChecks int
	// LegacyLapseSpacing divides the x2 lapse gradient by the x2 width of
	// cell index i instead of j.
	LegacyLapseSpacing bool
	// DiagnosticTimeout bounds the wait for the MaxDivB reduction.
	DiagnosticTimeout time.Duration
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{Damping: 0.1, DiagnosticTimeout: 30 * time.Second}
}

// Package is the divergence cleaning package.
type Package struct {
	params *divclean.Params
	cfg    Config
	log    logrus.FieldLogger
}

// Initialize registers the package's parameters, fields, hooks and
// history output.
func Initialize(cfg Config, log logrus.FieldLogger) (*divclean.StateDescriptor, *Package) {
	p := &Package{params: divclean.NewParams(), cfg: cfg, log: log.WithField("package", Name)}
	p.params.Add("verbose", cfg.Verbose)
	p.params.Add("flag_verbose", cfg.FlagVerbose)
	p.params.Add("extra_checks", cfg.ExtraChecks)
	p.params.Add("damping", cfg.Damping)
	p.params.Add("legacy_lapse_spacing", cfg.LegacyLapseSpacing)

	s := &divclean.StateDescriptor{Name: Name, Params: p.params, Hooks: p}
	s.AddField(ConsB, divclean.Metadata{
		Flags: divclean.Independent | divclean.FillGhost | divclean.Restart |
			divclean.Conserved | divclean.WithFluxes | divclean.Vector,
		Shape: 3,
	})
	s.AddField(PrimB, divclean.Metadata{
		Flags: divclean.Derived | divclean.Restart | divclean.Primitive | divclean.Vector,
		Shape: 3,
	})
	s.AddField(ConsPsi, divclean.Metadata{
		Flags: divclean.Independent | divclean.FillGhost | divclean.Restart |
			divclean.Conserved | divclean.WithFluxes,
	})
	s.AddField(PrimPsi, divclean.Metadata{
		Flags: divclean.Derived | divclean.Restart | divclean.Primitive,
	})
	s.AddField(DivB, divclean.Metadata{Flags: divclean.Derived | divclean.OneCopy})

	s.History = append(s.History, divclean.HistoryVar{
		Name: "MaxDivB",
		Op:   comm.Max,
		Fn:   func(md *divclean.MeshData) (float64, error) { return MaxDivB(md), nil },
	})
	return s, p
}

// Finalize implements divclean.Finalizer, resolving the parameter table,
// which may have been changed since Initialize.
func (p *Package) Finalize() error {
	var err error
	if p.cfg.Damping, err = p.params.Float("damping"); err != nil {
		return err
	}
	if p.cfg.Verbose, err = p.params.Int("verbose"); err != nil {
		return err
	}
	if p.cfg.FlagVerbose, err = p.params.Int("flag_verbose"); err != nil {
		return err
	}
	if p.cfg.ExtraChecks, err = p.params.Int("extra_checks"); err != nil {
		return err
	}
	p.cfg.LegacyLapseSpacing, err = p.params.Bool("legacy_lapse_spacing")
	return err
}

// Config returns the package's current settings.
func (p *Package) Config() Config { return p.cfg }

func (p *Package) flag(msg string) {
	if p.cfg.FlagVerbose > 0 {
		p.log.Debug(msg)
	}
}

// FillDerived implements divclean.Hooks.
func (p *Package) FillDerived(rc *divclean.Container, domain divclean.IndexDomain, coarse bool) error {
	p.flag("B field UtoP")
	defer p.flag("End B field UtoP")
	return UtoP(rc, domain, coarse)
}

// UtoP recovers the primitive B and psi from their conserved forms by
// dividing by the metric determinant at cell centers. It does nothing
// on meshes with fewer than two dimensions.
func UtoP(rc *divclean.Container, domain divclean.IndexDomain, coarse bool) error {
	b := rc.Block
	if b.NDim() < 2 {
		return nil
	}
	vs, err := rc.Lookup(ConsB, PrimB, ConsPsi, PrimPsi)
	if err != nil {
		return err
	}
	bU, bP, psiU, psiP := vs[0].Data, vs[1].Data.Writable(), vs[2].Data, vs[3].Data.Writable()
	shape := b.Shape
	if coarse {
		shape = b.Coarse
	}
	g := b.Coords
	divclean.ParFor(shape.KB(domain), shape.JB(domain), shape.IB(domain), func(k, j, i int) {
		gdet := g.Gdet(divclean.Center, j, i)
		for v := 0; v < 3; v++ {
			bP.Set(v, k, j, i, bU.At(v, k, j, i)/gdet)
		}
		psiP.Set(0, k, j, i, psiU.At(0, k, j, i)/gdet)
	})
	return nil
}

// PtoU sets the conserved B and psi from their primitive forms over
// the given domain.
func PtoU(rc *divclean.Container, domain divclean.IndexDomain) error {
	b := rc.Block
	vs, err := rc.Lookup(ConsB, PrimB, ConsPsi, PrimPsi)
	if err != nil {
		return err
	}
	bU, bP, psiU, psiP := vs[0].Data.Writable(), vs[1].Data, vs[2].Data.Writable(), vs[3].Data
	g := b.Coords
	divclean.ParFor(b.Shape.KB(domain), b.Shape.JB(domain), b.Shape.IB(domain), func(k, j, i int) {
		gdet := g.Gdet(divclean.Center, j, i)
		for v := 0; v < 3; v++ {
			bU.Set(v, k, j, i, bP.At(v, k, j, i)*gdet)
		}
		psiU.Set(0, k, j, i, psiP.At(0, k, j, i)*gdet)
	})
	return nil
}

// divB is the divergence of B in cell (k, j, i), computed from the face
// fluxes of cons.B, whatever the base solver puts there.
func divB(g divclean.Coordinates, f [3]*divclean.ParArray, ndim, k, j, i int) float64 {
	d := (f[0].At(V1, k, j, i+1)-f[0].At(V1, k, j, i))/g.Dx1v(i) +
		(f[1].At(V2, k, j+1, i)-f[1].At(V2, k, j, i))/g.Dx2v(j)
	if ndim > 2 {
		d += (f[2].At(V3, k+1, j, i) - f[2].At(V3, k, j, i)) / g.Dx3v(k)
	}
	return d
}

// lapseOverGdet is alpha/gdet at a face.
func lapseOverGdet(g divclean.Coordinates, loc divclean.Loci, j, i int) float64 {
	return (1 / math.Sqrt(-g.Gcon(loc, j, i, 0, 0))) / g.Gdet(loc, j, i)
}

// AddSource adds the cleaning source terms to the rate of change of B and
// psi in dudt, using the fields and fluxes of md. Only the cons.B and
// cons.psi_cd fields of dudt are modified. It does nothing on meshes with
// fewer than two dimensions.
func (p *Package) AddSource(md, dudt *divclean.MeshData) error {
	p.flag("Adding B-field cleaning source")
	defer p.flag("Added")
	ndim := md.NDim()
	if ndim < 2 {
		return nil
	}
	if len(md.Blocks) != len(dudt.Blocks) {
		return fmt.Errorf("bcd: %d blocks of data but %d of rates of change", len(md.Blocks), len(dudt.Blocks))
	}
	lambda := p.cfg.Damping
	legacy := p.cfg.LegacyLapseSpacing
	for n, rc := range md.Blocks {
		vs, err := rc.Lookup(ConsB, ConsPsi)
		if err != nil {
			return err
		}
		dvs, err := dudt.Blocks[n].Lookup(ConsB, ConsPsi)
		if err != nil {
			return err
		}
		bU, psiU := vs[0], vs[1]
		bDU, psiDU := dvs[0].Data.Writable(), dvs[1].Data.Writable()
		fb, fpsi := bU.Flux, psiU.Flux
		b := rc.Block
		g := b.Coords
		sh := b.Shape
		divclean.ParFor(sh.KB(divclean.Interior), sh.JB(divclean.Interior), sh.IB(divclean.Interior), func(k, j, i int) {
			alpha := 1 / math.Sqrt(-g.Gcon(divclean.Center, j, i, 0, 0))
			db := divB(g, fb, ndim, k, j, i)

			dpsi1 := (fpsi[0].At(0, k, j, i+1) - fpsi[0].At(0, k, j, i)) / g.Dx1v(i)
			dpsi2 := (fpsi[1].At(0, k, j+1, i) - fpsi[1].At(0, k, j, i)) / g.Dx2v(j)
			var dpsi3 float64
			if ndim > 2 {
				dpsi3 = (fpsi[2].At(0, k+1, j, i) - fpsi[2].At(0, k, j, i)) / g.Dx3v(k)
			}
			for v := 0; v < 3; v++ {
				// alpha g^{i j} d_j psi
				s := alpha*g.Gcon(divclean.Center, j, i, v+1, 1)*dpsi1 +
					alpha*g.Gcon(divclean.Center, j, i, v+1, 2)*dpsi2
				if ndim > 2 {
					s += alpha * g.Gcon(divclean.Center, j, i, v+1, 3) * dpsi3
				}
				// beta^i divB
				s += g.Gcon(divclean.Center, j, i, 0, v+1) * alpha * alpha * db
				bDU.Add(v, k, j, i, s)
			}

			dalpha1 := (lapseOverGdet(g, divclean.Face1, j, i+1) - lapseOverGdet(g, divclean.Face1, j, i)) / g.Dx1v(i)
			dx2 := g.Dx2v(j)
			if legacy {
				dx2 = g.Dx2v(i)
			}
			dalpha2 := (lapseOverGdet(g, divclean.Face2, j+1, i) - lapseOverGdet(g, divclean.Face2, j, i)) / dx2
			psiDU.Add(0, k, j, i, bU.Data.At(V1, k, j, i)*dalpha1+bU.Data.At(V2, k, j, i)*dalpha2-
				alpha*lambda*psiU.Data.At(0, k, j, i))
		})
		if p.cfg.ExtraChecks > 0 {
			if err := checkFinite(dudt.Blocks[n], sh); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkFinite(rc *divclean.Container, sh divclean.IndexShape) error {
	vs, err := rc.Lookup(ConsB, ConsPsi)
	if err != nil {
		return err
	}
	for _, v := range vs {
		for n := 0; n < v.NVar(); n++ {
			bad := divclean.ParReduceSum(sh.KB(divclean.Interior), sh.JB(divclean.Interior), sh.IB(divclean.Interior),
				func(k, j, i int) float64 {
					x := v.Data.At(n, k, j, i)
					if math.IsNaN(x) || math.IsInf(x, 0) {
						return 1
					}
					return 0
				})
			if bad > 0 {
				return fmt.Errorf("bcd: block %d: %d non-finite values in rate of change of %s[%d]", rc.Block.GID, int(bad), v.Name, n)
			}
		}
	}
	return nil
}

// interiorLeft returns the interior ranges without the last layer along
// each active axis, so that stencils reaching one cell to the right stay
// inside the block.
func interiorLeft(sh divclean.IndexShape, ndim int) (kb, jb, ib divclean.IndexRange) {
	ib = sh.IB(divclean.Interior).Shrink(1)
	jb = sh.JB(divclean.Interior).Shrink(1)
	kb = sh.KB(divclean.Interior)
	if ndim > 2 {
		kb = kb.Shrink(1)
	}
	return kb, jb, ib
}

// MaxDivB returns the largest divergence of B over the interior cells of
// every block in md. It returns 0 on meshes with fewer than two dimensions.
func MaxDivB(md *divclean.MeshData) float64 {
	ndim := md.NDim()
	if ndim < 2 {
		return 0
	}
	result := math.Inf(-1)
	for _, rc := range md.Blocks {
		bU := rc.Get(ConsB)
		if bU == nil {
			continue
		}
		b := rc.Block
		kb, jb, ib := interiorLeft(b.Shape, ndim)
		m := divclean.ParReduceMax(kb, jb, ib, func(k, j, i int) float64 {
			return divB(b.Coords, bU.Flux, ndim, k, j, i)
		})
		result = math.Max(result, m)
	}
	return result
}

// FillOutput implements divclean.Hooks by writing the divergence of B
// into the divB field of the block's base data.
func (p *Package) FillOutput(b *divclean.Block) error {
	ndim := b.NDim()
	if ndim < 2 {
		return nil
	}
	rc, err := b.Stages.Get(divclean.Base)
	if err != nil {
		return err
	}
	vs, err := rc.Lookup(ConsB, DivB)
	if err != nil {
		return err
	}
	f := vs[0].Flux
	out := vs[1].Data.Writable()
	kb, jb, ib := interiorLeft(b.Shape, ndim)
	divclean.ParFor(kb, jb, ib, func(k, j, i int) {
		out.Set(0, k, j, i, divB(b.Coords, f, ndim, k, j, i))
	})
	return nil
}

// PostStepDiagnostics implements divclean.Hooks. Unless output is
// disabled it reduces MaxDivB to the root rank and logs it there.
// Failure to complete the report is logged rather than returned.
func (p *Package) PostStepDiagnostics(tm divclean.SimTime, md *divclean.MeshData) error {
	p.flag("Printing B field diagnostics")
	defer p.flag("Printed")
	if p.cfg.Verbose < 0 {
		return nil
	}
	pool := md.Mesh.Reduce
	if _, err := pool.Start(Channel, MaxDivB(md), comm.Max); err != nil {
		p.log.WithError(err).Warn("starting MaxDivB reduction")
		return nil
	}
	ctx := context.Background()
	if p.cfg.DiagnosticTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.DiagnosticTimeout)
		defer cancel()
	}
	v, err := pool.Check(ctx, Channel)
	if err != nil {
		p.log.WithError(err).Warn("MaxDivB reduction did not complete")
		return nil
	}
	if pool.Transport().Rank() == comm.Root {
		divclean.ObserveDiagnostic("MaxDivB", v)
		p.log.WithFields(logrus.Fields{
			"cycle": tm.Ncycle,
			"time":  tm.Time,
		}).Infof("Max DivB: %g", v)
	}
	return nil
}
