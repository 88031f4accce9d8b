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

package divcleanutil

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/divclean"
	"github.com/spatialmodel/divclean/comm"
	"github.com/spatialmodel/divclean/science/bcd"
)

const testConfig = "testdata/config.toml"

func TestLoadConfig(t *testing.T) {
	Cfg.Set("config", testConfig)
	if err := Root.PersistentPreRunE(nil, nil); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(Cfg)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mesh.Nx != [3]int{16, 16, 1} || cfg.Mesh.BlockNx != [3]int{8, 8, 1} {
		t.Errorf("mesh size %v, block size %v", cfg.Mesh.Nx, cfg.Mesh.BlockNx)
	}
	if cfg.Mesh.Periodic != [3]bool{true, true, false} {
		t.Errorf("periodic = %v", cfg.Mesh.Periodic)
	}
	if cfg.Shift != [3]float64{0.1, 0, 0} {
		t.Errorf("shift = %v", cfg.Shift)
	}
	if cfg.Tlim != 0.05 || cfg.Nlim != -1 || cfg.Integrator != "rk2" {
		t.Errorf("time settings: %g, %d, %s", cfg.Tlim, cfg.Nlim, cfg.Integrator)
	}
	if cfg.BCD.Damping != 0.2 || cfg.BCD.DiagnosticTimeout != 10*time.Second {
		t.Errorf("b_cd config = %+v", cfg.BCD)
	}
	if !cfg.Rest.HasQ || cfg.Rest.Q != 0.5 || cfg.Rest.V0 != 0.5 || cfg.Rest.Dyntimes != 0.5 {
		t.Errorf("rest config = %+v", cfg.Rest)
	}
	if cfg.Ranks != 2 || cfg.LogLevel != "warn" {
		t.Errorf("ranks = %d, log level = %s", cfg.Ranks, cfg.LogLevel)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	Cfg.Set("config", testConfig)
	if err := Root.PersistentPreRunE(nil, nil); err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct {
		key      string
		val, old interface{}
	}{
		{"Time.Integrator", "euler", "rk2"},
		{"Mesh.BlockNx", "5,8,1", "8,8,1"},
		{"Mesh.XMin", "0,0", "0,0,0"},
		{"debug.diagnostic_timeout", "soon", "10s"},
		{"rest.q", "lots", "0.5"},
		{"Parallel.Ranks", 0, 2},
	} {
		Cfg.Set(tc.key, tc.val)
		if _, err := LoadConfig(Cfg); err == nil {
			t.Errorf("%s=%v: expected an error", tc.key, tc.val)
		}
		Cfg.Set(tc.key, tc.old)
	}
}

func TestVersion(t *testing.T) {
	var buf bytes.Buffer
	Root.SetOut(&buf)
	defer Root.SetOut(nil)
	Root.SetArgs([]string{"version"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), divclean.Version) {
		t.Errorf("version output %q", buf.String())
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	history := filepath.Join(dir, "history.txt")
	params := filepath.Join(dir, "params.toml")
	Cfg.Set("config", testConfig)
	Cfg.Set("Output.HistoryFile", history)
	Cfg.Set("Output.ParamsFile", params)
	defer Cfg.Set("Output.HistoryFile", "")
	defer Cfg.Set("Output.ParamsFile", "")
	Root.SetArgs([]string{"run"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(history)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var lines []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	if len(lines) < 2 {
		t.Fatalf("history has %d lines", len(lines))
	}
	for _, name := range []string{"MaxDivB", "TotalMass"} {
		if !strings.Contains(lines[0], name) {
			t.Errorf("history header %q is missing %s", lines[0], name)
		}
	}

	var dump struct {
		Packages map[string]map[string]interface{}
	}
	if _, err := toml.DecodeFile(params, &dump); err != nil {
		t.Fatal(err)
	}
	if v := dump.Packages["b_cd"]["damping"]; v != 0.2 {
		t.Errorf("b_cd damping = %v", v)
	}
	// The rest problem stores its settings with the fluid package.
	if v := dump.Packages["fluid"]["q"]; v != 0.5 {
		t.Errorf("fluid q = %v", v)
	}
	if v := dump.Packages["fluid"]["rho0"]; v != 1.0 {
		t.Errorf("fluid rho0 = %v", v)
	}
}

func TestRestStateStaysDivergenceFree(t *testing.T) {
	Cfg.Set("config", testConfig)
	if err := Root.PersistentPreRunE(nil, nil); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(Cfg)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Nlim = 1
	cfg.Rest.V0 = 1
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	d, err := Setup(cfg, comm.NewLocalWorld(1)[0], log)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if d.Time.Ncycle != 1 {
		t.Errorf("ran %d cycles", d.Time.Ncycle)
	}
	md, err := d.Mesh.StageData(divclean.Base)
	if err != nil {
		t.Fatal(err)
	}
	if v := bcd.MaxDivB(md); v != 0 {
		t.Errorf("MaxDivB = %g, want 0", v)
	}
	for _, rc := range md.Blocks {
		psi := rc.Get(bcd.ConsPsi).Data
		sh := rc.Block.Shape
		max := divclean.ParReduceMax(sh.KB(divclean.Entire), sh.JB(divclean.Entire), sh.IB(divclean.Entire),
			func(k, j, i int) float64 { return abs(psi.At(0, k, j, i)) })
		if max != 0 {
			t.Errorf("block %d: psi changed by up to %g", rc.Block.GID, max)
		}
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
