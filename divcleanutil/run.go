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
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/divclean"
	"github.com/spatialmodel/divclean/comm"
	"github.com/spatialmodel/divclean/problem/rest"
	"github.com/spatialmodel/divclean/science/bcd"
	"github.com/spatialmodel/divclean/science/fluid"
	"golang.org/x/sync/errgroup"
)

// newLogger returns a logger writing to the file at path, or to standard
// error if path is empty. The returned function closes the file.
func newLogger(path, level string) (*logrus.Logger, func() error, error) {
	log := logrus.New()
	log.Formatter = &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("divclean: LogLevel: %v", err)
	}
	log.SetLevel(lvl)
	if path == "" {
		return log, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("divclean: creating log file: %v", err)
	}
	log.Out = f
	return log, f.Close, nil
}

// Run runs the rest problem as configured by cfg.
func Run(ctx context.Context, cfg *Config) error {
	logger, closeLog, err := newLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer closeLog()
	log := logger.WithField("run", uuid.New().String())

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("serving metrics")
			}
		}()
		defer srv.Close()
	}

	if len(cfg.Peers) > 0 {
		t, err := comm.ListenRPC(cfg.Rank, cfg.Peers, log)
		if err != nil {
			return err
		}
		err = RunRank(ctx, cfg, t, log)
		if cerr := t.Close(); err == nil {
			err = cerr
		}
		return err
	}

	world := comm.NewLocalWorld(cfg.Ranks)
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range world {
		t := t
		g.Go(func() error { return RunRank(ctx, cfg, t, log) })
	}
	return g.Wait()
}

// Setup registers the packages, builds the local part of the mesh and sets
// the initial conditions for one rank.
func Setup(cfg *Config, t comm.Transport, log logrus.FieldLogger) (*divclean.Driver, error) {
	pkgs := new(divclean.Packages)
	fs, fl := fluid.Initialize(cfg.CFL, log)
	if err := pkgs.Add(fs); err != nil {
		return nil, err
	}
	bs, _ := bcd.Initialize(cfg.BCD, log)
	if err := pkgs.Add(bs); err != nil {
		return nil, err
	}

	coords := divclean.NewThreePlusOne(nil, nil, cfg.Shift)
	m, err := divclean.NewMesh(cfg.Mesh, pkgs, t, coords, log)
	if err != nil {
		return nil, err
	}

	tm := divclean.SimTime{Tlim: cfg.Tlim, Nlim: cfg.Nlim}
	prob := rest.New(cfg.Rest, fl.Params, log)
	if err := prob.Initialize(&tm, m); err != nil {
		return nil, err
	}

	in, err := divclean.GetIntegrator(cfg.Integrator)
	if err != nil {
		return nil, err
	}
	return divclean.NewDriver(m, fl, prob, in, tm), nil
}

// RunRank runs one rank of the simulation over transport t.
func RunRank(ctx context.Context, cfg *Config, t comm.Transport, log logrus.FieldLogger) error {
	log = log.WithField("rank", t.Rank())
	d, err := Setup(cfg, t, log)
	if err != nil {
		return err
	}
	if t.Rank() == comm.Root && cfg.HistoryFile != "" {
		f, err := os.Create(cfg.HistoryFile)
		if err != nil {
			return fmt.Errorf("divclean: creating history file: %v", err)
		}
		defer f.Close()
		d.History = divclean.NewHistory(f, cfg.HistoryInterval)
	} else if cfg.HistoryFile != "" {
		d.History = divclean.NewHistory(nil, cfg.HistoryInterval)
	}

	log.WithFields(logrus.Fields{
		"blocks": len(d.Mesh.Blocks),
		"ndim":   d.Mesh.NDim,
		"tlim":   d.Time.Tlim,
	}).Info("starting simulation")
	if err := d.Execute(ctx); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"cycle": d.Time.Ncycle,
		"time":  d.Time.Time,
	}).Info("simulation complete")

	if t.Rank() == comm.Root && cfg.ParamsFile != "" {
		f, err := os.Create(cfg.ParamsFile)
		if err != nil {
			return fmt.Errorf("divclean: creating params file: %v", err)
		}
		defer f.Close()
		return WriteParams(f, cfg, d.Mesh.Packages)
	}
	return nil
}

// paramsDump is the layout of the parameters file.
type paramsDump struct {
	Run      *Config
	Packages map[string]map[string]interface{}
}

// WriteParams records the run configuration and the final parameters of
// every package as TOML.
func WriteParams(w io.Writer, cfg *Config, pkgs *divclean.Packages) error {
	d := paramsDump{Run: cfg, Packages: make(map[string]map[string]interface{})}
	for _, p := range pkgs.All() {
		d.Packages[p.Name] = p.Params.Map()
	}
	if err := toml.NewEncoder(w).Encode(d); err != nil {
		return fmt.Errorf("divclean: writing parameters: %v", err)
	}
	return nil
}
