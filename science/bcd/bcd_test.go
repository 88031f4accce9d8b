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

package bcd

import (
	"fmt"
	"io"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spatialmodel/divclean"
	"github.com/spatialmodel/divclean/comm"
	"golang.org/x/sync/errgroup"
)

const tolerance = 1.e-9

func different(a, b float64) bool {
	return math.Abs(a-b) > tolerance*math.Max(1, math.Abs(b)) || math.IsNaN(a)
}

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

func newMesh(t *testing.T, nx, bnx [3]int, tr comm.Transport, coords divclean.CoordinatesFunc, cfg Config, log logrus.FieldLogger) (*divclean.Mesh, *Package) {
	t.Helper()
	s, p := Initialize(cfg, log)
	pkgs := new(divclean.Packages)
	if err := pkgs.Add(s); err != nil {
		t.Fatal(err)
	}
	m, err := divclean.NewMesh(divclean.MeshConfig{
		Nx:       nx,
		BlockNx:  bnx,
		NGhost:   2,
		XMax:     [3]float64{1, 1, 1},
		Periodic: [3]bool{true, true, true},
	}, pkgs, tr, coords, log)
	if err != nil {
		t.Fatal(err)
	}
	if err := pkgs.Finalize(); err != nil {
		t.Fatal(err)
	}
	return m, p
}

func single() comm.Transport { return comm.NewLocalWorld(1)[0] }

func baseData(t *testing.T, m *divclean.Mesh) *divclean.MeshData {
	t.Helper()
	md, err := m.StageData(divclean.Base)
	if err != nil {
		t.Fatal(err)
	}
	return md
}

func dudtData(t *testing.T, m *divclean.Mesh) *divclean.MeshData {
	t.Helper()
	for _, b := range m.Blocks {
		if _, err := b.Stages.Add(divclean.DUDT, divclean.Base); err != nil {
			t.Fatal(err)
		}
		c, _ := b.Stages.Get(divclean.DUDT)
		c.Get(ConsB).Data.Fill(0)
		c.Get(ConsPsi).Data.Fill(0)
	}
	md, err := m.StageData(divclean.DUDT)
	if err != nil {
		t.Fatal(err)
	}
	return md
}

// setLinearB sets the face fields so that B1 = a*x1 and B2 = b*x2 on
// every face, giving a divergence of a+b everywhere.
func setLinearB(rc *divclean.Container, a, b float64) {
	blk := rc.Block
	f := rc.Get(ConsB).Flux
	f1, f2 := f[0].Writable(), f[1].Writable()
	d1, d2 := f1.Dims(), f2.Dims()
	for j := 0; j < d1[2]; j++ {
		for i := 0; i < d1[3]; i++ {
			f1.Set(V1, 0, j, i, a*blk.Coords.X(divclean.Face1, 0, j, i)[0])
		}
	}
	for j := 0; j < d2[2]; j++ {
		for i := 0; i < d2[3]; i++ {
			f2.Set(V2, 0, j, i, b*blk.Coords.X(divclean.Face2, 0, j, i)[1])
		}
	}
}

func TestOneDimensional(t *testing.T) {
	m, p := newMesh(t, [3]int{8, 1, 1}, [3]int{8, 1, 1}, single(), divclean.Minkowski, DefaultConfig(), quietLog())
	md := baseData(t, m)
	rc := md.Blocks[0]
	rc.Get(ConsB).Data.Fill(1)
	rc.Get(ConsPsi).Data.Fill(1)
	if v := MaxDivB(md); v != 0 {
		t.Errorf("MaxDivB = %g, want 0", v)
	}
	if err := UtoP(rc, divclean.Entire, false); err != nil {
		t.Fatal(err)
	}
	if v := rc.Get(PrimB).Data.At(V1, 0, 0, 3); v != 0 {
		t.Errorf("UtoP should do nothing in 1D, prims.B = %g", v)
	}
	dudt := dudtData(t, m)
	if err := p.AddSource(md, dudt); err != nil {
		t.Fatal(err)
	}
	if v := dudt.Blocks[0].Get(ConsPsi).Data.At(0, 0, 0, 3); v != 0 {
		t.Errorf("AddSource should do nothing in 1D, dpsi/dt = %g", v)
	}
	if err := p.FillOutput(m.Blocks[0]); err != nil {
		t.Fatal(err)
	}
}

func TestPrimitiveRoundTrip(t *testing.T) {
	coords := divclean.NewThreePlusOne(
		func(x1, x2 float64) float64 { return 0.8 },
		func(x1, x2 float64) float64 { return 1 + 0.1*x1 + 0.2*x2 },
		[3]float64{},
	)
	m, _ := newMesh(t, [3]int{8, 8, 1}, [3]int{8, 8, 1}, single(), coords, DefaultConfig(), quietLog())
	rc := baseData(t, m).Blocks[0]
	bP, psiP := rc.Get(PrimB).Data.Writable(), rc.Get(PrimPsi).Data.Writable()
	for j := 0; j < 12; j++ {
		for i := 0; i < 12; i++ {
			for v := 0; v < 3; v++ {
				bP.Set(v, 0, j, i, float64(v+1)+0.01*float64(i*j))
			}
			psiP.Set(0, 0, j, i, -0.5*float64(i))
		}
	}
	if err := PtoU(rc, divclean.Entire); err != nil {
		t.Fatal(err)
	}
	g := rc.Block.Coords
	if have, want := rc.Get(ConsB).Data.At(V2, 0, 5, 7), (2+0.35)*g.Gdet(divclean.Center, 5, 7); different(have, want) {
		t.Errorf("cons.B2 = %g, want %g", have, want)
	}
	bP.Fill(0)
	psiP.Fill(0)
	if err := UtoP(rc, divclean.Entire, false); err != nil {
		t.Fatal(err)
	}
	for j := 0; j < 12; j++ {
		for i := 0; i < 12; i++ {
			if have, want := bP.At(V3, 0, j, i), 3+0.01*float64(i*j); different(have, want) {
				t.Fatalf("prims.B3(%d,%d) = %g, want %g", j, i, have, want)
			}
			if have, want := psiP.At(0, 0, j, i), -0.5*float64(i); different(have, want) {
				t.Fatalf("prims.psi(%d,%d) = %g, want %g", j, i, have, want)
			}
		}
	}
}

func TestCoarsePrimitiveRecovery(t *testing.T) {
	coords := divclean.NewThreePlusOne(nil, func(x1, x2 float64) float64 { return 1 + 0.5*x1 + 0.25*x2 }, [3]float64{})
	s, _ := Initialize(DefaultConfig(), quietLog())
	pkgs := new(divclean.Packages)
	if err := pkgs.Add(s); err != nil {
		t.Fatal(err)
	}
	m, err := divclean.NewMesh(divclean.MeshConfig{
		Nx:       [3]int{8, 8, 1},
		BlockNx:  [3]int{8, 8, 1},
		NGhost:   2,
		XMax:     [3]float64{1, 1, 1},
		Periodic: [3]bool{true, true, true},
		Adaptive: true,
	}, pkgs, single(), coords, quietLog())
	if err != nil {
		t.Fatal(err)
	}
	if err := pkgs.Finalize(); err != nil {
		t.Fatal(err)
	}
	rc := baseData(t, m).Blocks[0]
	rc.Get(ConsB).Data.Fill(2)
	rc.Get(ConsPsi).Data.Fill(3)
	rc.Get(PrimB).Data.Fill(-1)
	rc.Get(PrimPsi).Data.Fill(-1)
	if err := UtoP(rc, divclean.Entire, true); err != nil {
		t.Fatal(err)
	}

	b := rc.Block
	cj, ci := b.Coarse.JB(divclean.Entire), b.Coarse.IB(divclean.Entire)
	if ci == b.Shape.IB(divclean.Entire) {
		t.Fatalf("coarse bounds %v should be smaller than %v", ci, b.Shape.IB(divclean.Entire))
	}
	bP, psiP := rc.Get(PrimB).Data, rc.Get(PrimPsi).Data
	jb, ib := b.Shape.JB(divclean.Entire), b.Shape.IB(divclean.Entire)
	for j := jb.S; j <= jb.E; j++ {
		for i := ib.S; i <= ib.E; i++ {
			wantB, wantPsi := -1.0, -1.0
			if cj.S <= j && j <= cj.E && ci.S <= i && i <= ci.E {
				gdet := b.Coords.Gdet(divclean.Center, j, i)
				wantB, wantPsi = 2/gdet, 3/gdet
			}
			for v := 0; v < 3; v++ {
				if have := bP.At(v, 0, j, i); different(have, wantB) {
					t.Fatalf("prims.B[%d] at (%d, %d) = %g, want %g", v, j, i, have, wantB)
				}
			}
			if have := psiP.At(0, 0, j, i); different(have, wantPsi) {
				t.Fatalf("prims.psi at (%d, %d) = %g, want %g", j, i, have, wantPsi)
			}
		}
	}
}

func TestMaxDivB(t *testing.T) {
	m, p := newMesh(t, [3]int{8, 8, 1}, [3]int{4, 4, 1}, single(), divclean.Minkowski, DefaultConfig(), quietLog())
	md := baseData(t, m)
	for _, rc := range md.Blocks {
		setLinearB(rc, 1, 2)
	}
	if v := MaxDivB(md); different(v, 3) {
		t.Errorf("MaxDivB = %g, want 3", v)
	}

	// A spike in one face value raises the divergence of the cell to
	// its left and lowers that of the cell to its right.
	rc := md.Blocks[3]
	is, js := rc.Block.Shape.IB(divclean.Interior).S, rc.Block.Shape.JB(divclean.Interior).S
	rc.Get(ConsB).Flux[0].Add(V1, 0, js+1, is+2, 0.5)
	dx := rc.Block.Coords.Dx1v(is)
	if v := MaxDivB(md); different(v, 3+0.5/dx) {
		t.Errorf("MaxDivB = %g, want %g", v, 3+0.5/dx)
	}

	if err := p.FillOutput(rc.Block); err != nil {
		t.Fatal(err)
	}
	out := rc.Get(DivB).Data
	if v := out.At(0, 0, js+1, is+1); different(v, 3+0.5/dx) {
		t.Errorf("divB left of spike = %g", v)
	}
	if v := out.At(0, 0, js+1, is+2); different(v, 3-0.5/dx) {
		t.Errorf("divB right of spike = %g", v)
	}
	// The last interior layer is not computed.
	ie := rc.Block.Shape.IB(divclean.Interior).E
	if v := out.At(0, 0, js, ie); v != 0 {
		t.Errorf("divB in last column = %g, want 0", v)
	}
}

func TestAddSourceDamping(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Damping = 0.3
	m, p := newMesh(t, [3]int{8, 8, 1}, [3]int{8, 8, 1}, single(), divclean.Minkowski, cfg, quietLog())
	md := baseData(t, m)
	rc := md.Blocks[0]
	bU := rc.Get(ConsB).Data.Writable()
	for j := 0; j < 12; j++ {
		for i := 0; i < 12; i++ {
			bU.Set(V1, 0, j, i, 1)
			bU.Set(V2, 0, j, i, 2)
			bU.Set(V3, 0, j, i, 3)
		}
	}
	rc.Get(ConsPsi).Data.Fill(0.5)
	dudt := dudtData(t, m)
	if err := p.AddSource(md, dudt); err != nil {
		t.Fatal(err)
	}
	du := dudt.Blocks[0]
	sh := rc.Block.Shape
	for j := sh.JB(divclean.Interior).S; j <= sh.JB(divclean.Interior).E; j++ {
		for i := sh.IB(divclean.Interior).S; i <= sh.IB(divclean.Interior).E; i++ {
			if v := du.Get(ConsPsi).Data.At(0, 0, j, i); different(v, -0.3*0.5) {
				t.Fatalf("dpsi/dt(%d,%d) = %g, want %g", j, i, v, -0.15)
			}
			for c := 0; c < 3; c++ {
				if v := du.Get(ConsB).Data.At(c, 0, j, i); v != 0 {
					t.Fatalf("dB%d/dt(%d,%d) = %g, want 0", c+1, j, i, v)
				}
			}
		}
	}
	if v := du.Get(ConsPsi).Data.At(0, 0, 0, 0); v != 0 {
		t.Errorf("ghost cell rate of change = %g, want 0", v)
	}
	if v := rc.Get(ConsPsi).Data.At(0, 0, 4, 4); v != 0.5 {
		t.Errorf("AddSource modified its input: psi = %g", v)
	}
}

func TestAddSourcePsiGradient(t *testing.T) {
	shift := [3]float64{0.2, 0, 0}
	m, p := newMesh(t, [3]int{8, 8, 1}, [3]int{8, 8, 1}, single(), divclean.NewThreePlusOne(nil, nil, shift), DefaultConfig(), quietLog())
	md := baseData(t, m)
	rc := md.Blocks[0]
	// psi flux growing linearly along x1 with slope 2 and a divergence
	// of B of 3.
	f := rc.Get(ConsPsi).Flux[0].Writable()
	for j := 0; j < f.Dims()[2]; j++ {
		for i := 0; i < f.Dims()[3]; i++ {
			f.Set(0, 0, j, i, 2*rc.Block.Coords.X(divclean.Face1, 0, j, i)[0])
		}
	}
	setLinearB(rc, 1, 2)
	dudt := dudtData(t, m)
	if err := p.AddSource(md, dudt); err != nil {
		t.Fatal(err)
	}
	// With unit lapse, alpha*g^{11}*dpsi/dx1 + beta^1*divB.
	g11 := 1 - shift[0]*shift[0]
	want := g11*2 + shift[0]*3
	du := dudt.Blocks[0].Get(ConsB).Data
	if v := du.At(V1, 0, 5, 5); different(v, want) {
		t.Errorf("dB1/dt = %g, want %g", v, want)
	}
	if v := du.At(V2, 0, 5, 5); different(v, 0) {
		t.Errorf("dB2/dt = %g, want 0", v)
	}
}

// stretched has x2 spacing that grows with the cell index.
type stretched struct {
	*divclean.ThreePlusOne
}

func (s stretched) Dx2v(j int) float64 { return s.Dx[1] * (1 + 0.1*float64(j)) }

func TestLegacyLapseSpacing(t *testing.T) {
	coords := func(xmin, dx [3]float64, shape divclean.IndexShape) divclean.Coordinates {
		c := divclean.NewThreePlusOne(nil, func(x1, x2 float64) float64 { return 1 + 0.5*x2 }, [3]float64{})
		return stretched{c(xmin, dx, shape).(*divclean.ThreePlusOne)}
	}
	rate := func(legacy bool) (float64, divclean.Coordinates) {
		cfg := DefaultConfig()
		cfg.LegacyLapseSpacing = legacy
		m, p := newMesh(t, [3]int{8, 8, 1}, [3]int{8, 8, 1}, single(), coords, cfg, quietLog())
		md := baseData(t, m)
		md.Blocks[0].Get(ConsB).Data.Fill(0)
		bU := md.Blocks[0].Get(ConsB).Data
		for j := 0; j < 12; j++ {
			for i := 0; i < 12; i++ {
				bU.Set(V2, 0, j, i, 1)
			}
		}
		dudt := dudtData(t, m)
		if err := p.AddSource(md, dudt); err != nil {
			t.Fatal(err)
		}
		return dudt.Blocks[0].Get(ConsPsi).Data.At(0, 0, 3, 7), m.Blocks[0].Coords
	}
	v, g := rate(false)
	vl, _ := rate(true)
	if v == 0 {
		t.Fatal("expected a non-zero lapse gradient source")
	}
	if different(vl*g.Dx2v(7), v*g.Dx2v(3)) {
		t.Errorf("legacy rate %g is not the current rate %g rescaled", vl, v)
	}
	if !different(vl, v) {
		t.Error("legacy spacing should change the result on a stretched grid")
	}
}

func TestExtraChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExtraChecks = 1
	m, p := newMesh(t, [3]int{8, 8, 1}, [3]int{8, 8, 1}, single(), divclean.Minkowski, cfg, quietLog())
	md := baseData(t, m)
	md.Blocks[0].Get(ConsPsi).Data.Set(0, 0, 4, 4, math.NaN())
	if err := p.AddSource(md, dudtData(t, m)); err == nil {
		t.Error("expected an error for a non-finite source")
	}
}

func TestFinalizeReadsParams(t *testing.T) {
	s, p := Initialize(DefaultConfig(), quietLog())
	s.Params.Add("damping", "0.7")
	s.Params.Add("verbose", -1)
	if err := p.Finalize(); err != nil {
		t.Fatal(err)
	}
	if c := p.Config(); c.Damping != 0.7 || c.Verbose != -1 {
		t.Errorf("config = %+v", c)
	}
	var names []string
	for _, f := range s.Fields {
		names = append(names, f.Name)
	}
	if fmt.Sprint(names) != fmt.Sprint([]string{ConsB, PrimB, ConsPsi, PrimPsi, DivB}) {
		t.Errorf("fields = %v", names)
	}
	if len(s.History) != 1 || s.History[0].Name != "MaxDivB" || s.History[0].Op != comm.Max {
		t.Errorf("history = %+v", s.History)
	}
}

func TestPostStepDiagnostics(t *testing.T) {
	world := comm.NewLocalWorld(2)
	logs := make([]*test.Hook, len(world))
	pkgs := make([]*Package, len(world))
	mds := make([]*divclean.MeshData, len(world))
	for r, tr := range world {
		log, hook := test.NewNullLogger()
		m, p := newMesh(t, [3]int{8, 8, 1}, [3]int{4, 4, 1}, tr, divclean.Minkowski, DefaultConfig(), log)
		md := baseData(t, m)
		for _, rc := range md.Blocks {
			setLinearB(rc, 1, 1)
		}
		logs[r], pkgs[r], mds[r] = hook, p, md
	}
	// The largest divergence is on rank 1.
	rc := mds[1].Blocks[1]
	is, js := rc.Block.Shape.IB(divclean.Interior).S, rc.Block.Shape.JB(divclean.Interior).S
	rc.Get(ConsB).Flux[1].Add(V2, 0, js+1, is, 4)
	want := math.Max(MaxDivB(mds[0]), MaxDivB(mds[1]))

	var g errgroup.Group
	for r := range world {
		r := r
		g.Go(func() error {
			return pkgs[r].PostStepDiagnostics(divclean.SimTime{Ncycle: 3, Time: 0.3}, mds[r])
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	e := logs[0].LastEntry()
	if e == nil {
		t.Fatal("root rank logged nothing")
	}
	if have := e.Message; have != fmt.Sprintf("Max DivB: %g", want) {
		t.Errorf("root logged %q, want max %g", have, want)
	}
	if e.Data["cycle"] != 3 {
		t.Errorf("cycle field = %v", e.Data["cycle"])
	}
	if n := len(logs[1].AllEntries()); n != 0 {
		t.Errorf("rank 1 logged %d entries", n)
	}
}

func TestPostStepDiagnosticsDisabled(t *testing.T) {
	log, hook := test.NewNullLogger()
	cfg := DefaultConfig()
	cfg.Verbose = -1
	m, p := newMesh(t, [3]int{8, 8, 1}, [3]int{8, 8, 1}, single(), divclean.Minkowski, cfg, log)
	if err := p.PostStepDiagnostics(divclean.SimTime{}, baseData(t, m)); err != nil {
		t.Fatal(err)
	}
	if n := len(hook.AllEntries()); n != 0 {
		t.Errorf("logged %d entries with diagnostics disabled", n)
	}
}
