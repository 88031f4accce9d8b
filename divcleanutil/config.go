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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/divclean"
	"github.com/spatialmodel/divclean/problem/rest"
	"github.com/spatialmodel/divclean/science/bcd"
	"github.com/spf13/cast"
)

// Config is the resolved configuration of a run.
type Config struct {
	Mesh       divclean.MeshConfig
	Shift      [3]float64
	Tlim       float64
	Nlim       int
	Integrator string
	CFL        float64

	BCD  bcd.Config
	Rest rest.Config

	Ranks int
	Rank  int
	Peers []string

	HistoryFile     string
	HistoryInterval int
	ParamsFile      string
	LogFile         string
	LogLevel        string
	MetricsAddr     string
}

// strings3 reads a three element list, which may have been given as a
// list or, from a flag or environment variable, as a comma separated string.
func strings3(cfg *viper.Viper, name string) ([]string, error) {
	var s []string
	switch v := cfg.Get(name).(type) {
	case string:
		for _, f := range strings.Split(strings.Trim(v, "[]"), ",") {
			s = append(s, strings.TrimSpace(f))
		}
	case []int:
		for _, i := range v {
			s = append(s, cast.ToString(i))
		}
	default:
		var err error
		if s, err = cast.ToStringSliceE(v); err != nil {
			return nil, fmt.Errorf("divclean: %s: %v", name, err)
		}
	}
	if len(s) != 3 {
		return nil, fmt.Errorf("divclean: %s must have 3 values, has %d", name, len(s))
	}
	for i := range s {
		s[i] = os.ExpandEnv(s[i])
	}
	return s, nil
}

func floats3(cfg *viper.Viper, name string) (out [3]float64, err error) {
	s, err := strings3(cfg, name)
	if err != nil {
		return out, err
	}
	for i, v := range s {
		if out[i], err = cast.ToFloat64E(v); err != nil {
			return out, fmt.Errorf("divclean: %s[%d]: %v", name, i, err)
		}
	}
	return out, nil
}

func ints3(cfg *viper.Viper, name string) (out [3]int, err error) {
	s, err := strings3(cfg, name)
	if err != nil {
		return out, err
	}
	for i, v := range s {
		if out[i], err = cast.ToIntE(v); err != nil {
			return out, fmt.Errorf("divclean: %s[%d]: %v", name, i, err)
		}
	}
	return out, nil
}

func bools3(cfg *viper.Viper, name string) (out [3]bool, err error) {
	s, err := strings3(cfg, name)
	if err != nil {
		return out, err
	}
	for i, v := range s {
		if out[i], err = cast.ToBoolE(v); err != nil {
			return out, fmt.Errorf("divclean: %s[%d]: %v", name, i, err)
		}
	}
	return out, nil
}

// LoadConfig reads a run configuration from cfg.
func LoadConfig(cfg *viper.Viper) (*Config, error) {
	c := &Config{
		Tlim:            cfg.GetFloat64("Time.Tlim"),
		Nlim:            cfg.GetInt("Time.Nlim"),
		Integrator:      cfg.GetString("Time.Integrator"),
		CFL:             cfg.GetFloat64("Time.CFL"),
		Ranks:           cfg.GetInt("Parallel.Ranks"),
		Rank:            cfg.GetInt("Parallel.Rank"),
		Peers:           cfg.GetStringSlice("Parallel.Peers"),
		HistoryFile:     os.ExpandEnv(cfg.GetString("Output.HistoryFile")),
		HistoryInterval: cfg.GetInt("Output.HistoryInterval"),
		ParamsFile:      os.ExpandEnv(cfg.GetString("Output.ParamsFile")),
		LogFile:         os.ExpandEnv(cfg.GetString("LogFile")),
		LogLevel:        cfg.GetString("LogLevel"),
		MetricsAddr:     cfg.GetString("Metrics.Addr"),
	}
	var err error
	if c.Mesh.Nx, err = ints3(cfg, "Mesh.Nx"); err != nil {
		return nil, err
	}
	if c.Mesh.BlockNx, err = ints3(cfg, "Mesh.BlockNx"); err != nil {
		return nil, err
	}
	c.Mesh.NGhost = cfg.GetInt("Mesh.NGhost")
	if c.Mesh.XMin, err = floats3(cfg, "Mesh.XMin"); err != nil {
		return nil, err
	}
	if c.Mesh.XMax, err = floats3(cfg, "Mesh.XMax"); err != nil {
		return nil, err
	}
	if c.Mesh.Periodic, err = bools3(cfg, "Mesh.Periodic"); err != nil {
		return nil, err
	}
	c.Mesh.Adaptive = cfg.GetBool("Mesh.Adaptive")
	if err := c.Mesh.Validate(); err != nil {
		return nil, err
	}
	if c.Shift, err = floats3(cfg, "Coords.Shift"); err != nil {
		return nil, err
	}
	if _, err := divclean.GetIntegrator(c.Integrator); err != nil {
		return nil, err
	}

	c.BCD = bcd.DefaultConfig()
	c.BCD.Damping = cfg.GetFloat64("b_field.damping")
	c.BCD.LegacyLapseSpacing = cfg.GetBool("b_field.legacy_lapse_spacing")
	c.BCD.Verbose = cfg.GetInt("debug.verbose")
	c.BCD.FlagVerbose = cfg.GetInt("debug.flag_verbose")
	c.BCD.ExtraChecks = cfg.GetInt("debug.extra_checks")
	if c.BCD.DiagnosticTimeout, err = time.ParseDuration(cfg.GetString("debug.diagnostic_timeout")); err != nil {
		return nil, fmt.Errorf("divclean: debug.diagnostic_timeout: %v", err)
	}

	c.Rest = rest.DefaultConfig()
	c.Rest.Rho0 = cfg.GetFloat64("rest.rho0")
	c.Rest.U0 = cfg.GetFloat64("rest.u0")
	c.Rest.V0 = cfg.GetFloat64("rest.v0")
	c.Rest.SetTlim = cfg.GetBool("rest.set_tlim")
	c.Rest.Dyntimes = cfg.GetFloat64("rest.dyntimes")
	c.Rest.ContextBoundaries = cfg.GetBool("rest.context_boundaries")
	if q := cfg.GetString("rest.q"); q != "" {
		if c.Rest.Q, err = cast.ToFloat64E(q); err != nil {
			return nil, fmt.Errorf("divclean: rest.q: %v", err)
		}
		c.Rest.HasQ = true
	}

	if len(c.Peers) > 0 {
		if c.Rank < 0 || c.Rank >= len(c.Peers) {
			return nil, fmt.Errorf("divclean: Parallel.Rank %d out of range for %d peers", c.Rank, len(c.Peers))
		}
	} else if c.Ranks < 1 {
		return nil, fmt.Errorf("divclean: Parallel.Ranks must be positive, is %d", c.Ranks)
	}
	return c, nil
}
