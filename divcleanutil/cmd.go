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

// Package divcleanutil contains the command-line interface of DivClean.
package divcleanutil

import (
	"fmt"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/divclean"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to DivClean.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Mesh.Nx",
			usage: `
              Mesh.Nx specifies the number of interior cells along x1, x2
              and x3. Axes with one cell are inactive.`,
			defaultVal: []int{64, 64, 1},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Mesh.BlockNx",
			usage: `
              Mesh.BlockNx specifies the number of interior cells per block
              along each axis. It must divide Mesh.Nx.`,
			defaultVal: []int{32, 32, 1},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Mesh.NGhost",
			usage: `
              Mesh.NGhost specifies the number of ghost cells on each side of
              a block.`,
			defaultVal: 2,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Mesh.XMin",
			usage: `
              Mesh.XMin specifies the lower corner of the domain.`,
			defaultVal: []string{"0", "0", "0"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Mesh.XMax",
			usage: `
              Mesh.XMax specifies the upper corner of the domain.`,
			defaultVal: []string{"1", "1", "1"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Mesh.Periodic",
			usage: `
              Mesh.Periodic specifies whether each axis is periodic. Non-periodic
              axes have outflow boundaries.`,
			defaultVal: []string{"true", "true", "true"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Mesh.Adaptive",
			usage: `
              Mesh.Adaptive specifies whether blocks are tagged for refinement
              at the end of each step.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Coords.Shift",
			usage: `
              Coords.Shift specifies the constant shift vector of the metric.`,
			defaultVal: []string{"0", "0", "0"},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Time.Tlim",
			usage: `
              Time.Tlim specifies the simulation time at which to stop.`,
			defaultVal: 1.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Time.Nlim",
			usage: `
              Time.Nlim specifies the maximum number of steps. Negative values
              mean no limit.`,
			defaultVal: -1,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Time.Integrator",
			usage: `
              Time.Integrator specifies the time integration scheme: rk1, rk2
              or rk3.`,
			defaultVal: "rk2",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Time.CFL",
			usage: `
              Time.CFL specifies the Courant number.`,
			defaultVal: 0.9,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "b_field.damping",
			usage: `
              b_field.damping specifies the damping rate of the cleaning
              potential psi.`,
			defaultVal: 0.1,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "b_field.legacy_lapse_spacing",
			usage: `
              b_field.legacy_lapse_spacing reproduces an older form of the
              psi source term that divides the x2 lapse gradient by the x2
              width of cell i rather than cell j. They only differ on
              non-uniform grids.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "debug.verbose",
			usage: `
              debug.verbose sets the amount of diagnostic output. Negative
              values disable the divergence report.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "debug.flag_verbose",
			usage: `
              debug.flag_verbose enables tracing of each operation when positive.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "debug.extra_checks",
			usage: `
              debug.extra_checks enables checks for non-finite source terms
              when positive.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "debug.diagnostic_timeout",
			usage: `
              debug.diagnostic_timeout bounds the time spent waiting for the
              divergence reduction, for example "30s".`,
			defaultVal: "30s",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "rest.rho0",
			usage: `
              rest.rho0 specifies the initial density.`,
			defaultVal: 1.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "rest.u0",
			usage: `
              rest.u0 specifies the initial internal energy.`,
			defaultVal: 1.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "rest.v0",
			usage: `
              rest.v0 specifies the initial velocity along x1.`,
			defaultVal: 1.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "rest.q",
			usage: `
              rest.q specifies the heating rate of the internal energy. If
              empty there is no heating.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "rest.set_tlim",
			usage: `
              rest.set_tlim sets the time limit to rest.dyntimes times the
              time for the heating to change the internal energy by rest.u0.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "rest.dyntimes",
			usage: `
              rest.dyntimes is used with rest.set_tlim.`,
			defaultVal: 0.5,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "rest.context_boundaries",
			usage: `
              rest.context_boundaries holds the ghost zones on physical
              boundaries at the initial state.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Parallel.Ranks",
			usage: `
              Parallel.Ranks specifies the number of ranks to run in this
              process. It is ignored if Parallel.Peers is set.`,
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Parallel.Peers",
			usage: `
              Parallel.Peers lists the host:port addresses of every rank when
              ranks run in separate processes.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Parallel.Rank",
			usage: `
              Parallel.Rank specifies the rank of this process within
              Parallel.Peers.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Output.HistoryFile",
			usage: `
              Output.HistoryFile specifies the file to which history scalars
              are written. If empty no history is written.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Output.HistoryInterval",
			usage: `
              Output.HistoryInterval specifies the number of steps between
              history rows.`,
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Output.ParamsFile",
			usage: `
              Output.ParamsFile specifies a TOML file in which the resolved
              configuration and package parameters are recorded.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "LogFile",
			usage: `
              LogFile specifies the path to the desired logfile location. If
              empty, logs are written to standard error.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel specifies the minimum severity of log messages.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Metrics.Addr",
			usage: `
              Metrics.Addr specifies an address such as ":9090" on which to
              serve Prometheus metrics. If empty metrics are not served.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
	}

	Cfg = viper.New()
	Cfg.SetEnvPrefix("DIVCLEAN")
	Cfg.AutomaticEnv()

	for _, option := range options {
		if option.defaultVal != nil {
			Cfg.SetDefault(option.name, option.defaultVal)
		}
		for _, set := range option.flagsets {
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case []int:
				if option.shorthand == "" {
					set.IntSlice(option.name, option.defaultVal.([]int), option.usage)
				} else {
					set.IntSliceP(option.name, option.shorthand, option.defaultVal.([]int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("divclean: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "divclean",
	Short: "A block-structured field transport code with divergence cleaning.",
	Long: `DivClean advances a magnetic field and a cleaning potential on a
block-structured mesh, damping violations of the divergence constraint.
Use the subcommands specified below to access the model functionality.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'DIVCLEAN_var' where 'var' is the
name of the variable to be set.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of DivClean.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("DivClean v%s\n", divclean.Version)
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the rest problem.",
	Long: `run advances a uniform medium carrying a magnetic field, with divergence
cleaning, until the time or step limit. Ranks run in this process unless
Parallel.Peers is set, in which case this process is one rank of the group.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(Cfg)
		if err != nil {
			return err
		}
		return Run(cmd.Context(), cfg)
	},
	DisableAutoGenTag: true,
}
