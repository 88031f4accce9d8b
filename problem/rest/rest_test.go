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

package rest

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/divclean"
	"github.com/spatialmodel/divclean/comm"
	"github.com/spatialmodel/divclean/science/fluid"
)

func TestTimeLimit(t *testing.T) {
	for _, tc := range []struct {
		name string
		cfg  Config
		tlim float64
		set  bool
	}{
		{"off", Config{U0: 1, Q: 2, HasQ: true, Dyntimes: 0.5}, 0, false},
		{"no heating", Config{SetTlim: true, U0: 1, Dyntimes: 0.5}, 0, false},
		{"unset q", Config{SetTlim: true, U0: 1, Q: 2, Dyntimes: 0.5}, 0, false},
		{"heating", Config{SetTlim: true, U0: 2, Q: 4, HasQ: true, Dyntimes: 0.5}, 0.25, true},
		{"cooling", Config{SetTlim: true, U0: 2, Q: -4, HasQ: true, Dyntimes: 0.5}, 0.25, true},
		{"overcooling", Config{SetTlim: true, U0: 2, Q: -4, HasQ: true, Dyntimes: 1.5}, 0, false},
		{"heating long", Config{SetTlim: true, U0: 2, Q: 4, HasQ: true, Dyntimes: 1.5}, 0.75, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tlim, set := TimeLimit(tc.cfg)
			if set != tc.set || tlim != tc.tlim {
				t.Errorf("TimeLimit = %g, %v; want %g, %v", tlim, set, tc.tlim, tc.set)
			}
		})
	}
}

func setup(t *testing.T, periodic bool) (*divclean.Mesh, *fluid.Package) {
	t.Helper()
	log := logrus.New()
	log.Out = io.Discard
	s, fl := fluid.Initialize(0.9, log)
	pkgs := new(divclean.Packages)
	if err := pkgs.Add(s); err != nil {
		t.Fatal(err)
	}
	m, err := divclean.NewMesh(divclean.MeshConfig{
		Nx:       [3]int{8, 8, 1},
		BlockNx:  [3]int{8, 8, 1},
		NGhost:   2,
		XMax:     [3]float64{1, 1, 1},
		Periodic: [3]bool{periodic, periodic, false},
	}, pkgs, comm.NewLocalWorld(1)[0], divclean.NewThreePlusOne(nil, func(x1, x2 float64) float64 { return 1.1 }, [3]float64{}), log)
	if err != nil {
		t.Fatal(err)
	}
	return m, fl
}

func TestInitialize(t *testing.T) {
	m, fl := setup(t, true)
	// Values already in the parameters take precedence.
	fl.Params.Add("rho0", 2.5)
	cfg := DefaultConfig()
	cfg.SetTlim = true
	cfg.Q, cfg.HasQ = 0.5, true
	cfg.V0 = 0.25
	tm := divclean.SimTime{Tlim: 10}
	p := New(cfg, fl.Params, logrus.New())
	if err := p.Initialize(&tm, m); err != nil {
		t.Fatal(err)
	}
	if tm.Tlim != 1 {
		t.Errorf("tlim = %g, want 1", tm.Tlim)
	}
	if v, _ := fl.Params.Float("rho0"); v != 2.5 {
		t.Errorf("rho0 overridden: %g", v)
	}
	if v, _ := fl.Params.Float("q"); v != 0.5 {
		t.Errorf("q = %g", v)
	}
	if err := m.Packages.Finalize(); err != nil {
		t.Fatal(err)
	}
	if fl.Heating() != 0.5 {
		t.Errorf("fluid heating = %g", fl.Heating())
	}

	rc, _ := m.Blocks[0].Stages.Get(divclean.Base)
	gdet := rc.Block.Coords.Gdet(divclean.Center, 0, 0)
	for _, tc := range []struct {
		name string
		v    int
		want float64
	}{
		{fluid.PrimRho, 0, 2.5},
		{fluid.PrimU, 0, 1},
		{fluid.PrimUvec, 0, 0.25},
		{fluid.PrimUvec, 1, 0},
		{fluid.ConsRho, 0, 2.5 * gdet},
		{fluid.ConsUvec, 0, 0.25 * gdet},
	} {
		if have := rc.Get(tc.name).Data.At(tc.v, 0, 0, 0); abs(have-tc.want) > 1e-12 {
			t.Errorf("%s[%d] = %g, want %g", tc.name, tc.v, have, tc.want)
		}
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func TestApplyBoundaries(t *testing.T) {
	for _, context := range []bool{true, false} {
		m, fl := setup(t, false)
		cfg := DefaultConfig()
		cfg.ContextBoundaries = context
		p := New(cfg, fl.Params, logrus.New())
		tm := divclean.SimTime{Tlim: 1}
		if err := p.Initialize(&tm, m); err != nil {
			t.Fatal(err)
		}
		rc, _ := m.Blocks[0].Stages.Get(divclean.Base)
		rho := rc.Get(fluid.PrimRho).Data
		rho.Fill(7)
		if err := p.ApplyBoundaries(rc); err != nil {
			t.Fatal(err)
		}
		ghost, interior := rho.At(0, 0, 4, 0), rho.At(0, 0, 4, 4)
		if context && ghost != 1 {
			t.Errorf("context boundaries: ghost rho = %g, want 1", ghost)
		}
		if !context && ghost != 7 {
			t.Errorf("without context boundaries ghost rho = %g, want 7", ghost)
		}
		if interior != 7 {
			t.Errorf("interior rho = %g, want 7", interior)
		}
	}
}
