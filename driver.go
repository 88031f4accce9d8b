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
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/divclean/comm"
	"github.com/spatialmodel/divclean/tasks"
)

// Reduction channels used by the driver. Packages start their own
// channels at FirstPackageChannel.
const (
	DtChannel = iota
	HistoryChannel
	FirstPackageChannel
)

// DUDT is the name of the snapshot holding the rate of change of the
// conserved fields.
const DUDT = "dUdt"

// Physics is the base flux solver.
type Physics interface {
	// CalculateFluxes fills the face fluxes of every WithFluxes field
	// of rc on the interior faces.
	CalculateFluxes(rc *Container) error
	// SourceTerm adds the solver's own source terms to dudt.
	SourceTerm(rc, dudt *Container) error
	// EstimateTimestep returns the largest stable timestep for rc.
	EstimateTimestep(rc *Container) float64
}

// Problem supplies problem-specific boundary conditions, which are applied
// after the ghost exchange and the physical boundary conditions.
type Problem interface {
	ApplyBoundaries(rc *Container) error
}

// Driver advances the part of the mesh owned by one rank through time.
type Driver struct {
	Mesh       *Mesh
	Physics    Physics
	Problem    Problem
	Integrator Integrator
	Time       SimTime
	History    *History

	// StageTimeout bounds the time one stage may spend waiting on
	// communication.
	StageTimeout time.Duration

	Log logrus.FieldLogger
}

// NewDriver returns a driver for m.
func NewDriver(m *Mesh, phys Physics, prob Problem, in Integrator, tm SimTime) *Driver {
	return &Driver{
		Mesh:         m,
		Physics:      phys,
		Problem:      prob,
		Integrator:   in,
		Time:         tm,
		StageTimeout: 5 * time.Minute,
		Log:          m.Log.WithField("rank", m.Comm.Rank()),
	}
}

func (d *Driver) fillDerived(rc *Container, domain IndexDomain, coarse bool) error {
	for _, p := range d.Mesh.Packages.All() {
		if p.Hooks == nil {
			continue
		}
		if err := p.Hooks.FillDerived(rc, domain, coarse); err != nil {
			return fmt.Errorf("divclean: %s: %v", p.Name, err)
		}
	}
	return nil
}

// MakeTaskList builds the tasks that advance block b through the given
// stage (1 based). At stage 1 it creates the stage snapshots.
func (d *Driver) MakeTaskList(b *Block, stage int) (*tasks.List, error) {
	in := d.Integrator
	if stage < 1 || stage > in.NStages() {
		return nil, fmt.Errorf("divclean: stage %d out of range for %s", stage, in.Name)
	}
	if stage == 1 {
		for s := 1; s < in.NStages(); s++ {
			if _, err := b.Stages.Add(in.StageName(s), Base); err != nil {
				return nil, err
			}
		}
		if _, err := b.Stages.Add(DUDT, Base); err != nil {
			return nil, err
		}
	}
	base, err := b.Stages.Get(Base)
	if err != nil {
		return nil, err
	}
	sc0, err := b.Stages.Get(in.StageName(stage - 1))
	if err != nil {
		return nil, err
	}
	sc1, err := b.Stages.Get(in.StageName(stage))
	if err != nil {
		return nil, err
	}
	dudt, err := b.Stages.Get(DUDT)
	if err != nil {
		return nil, err
	}
	w := in.Stages[stage-1]
	dt := d.Time.Dt
	cycle := d.Time.Ncycle
	ref := d.Mesh.Refine
	ex := NewExchange(sc1, d.Mesh.Comm, cycle, stage)

	tl := tasks.NewList(fmt.Sprintf("block%d/stage%d", b.GID, stage))

	startRecv := tl.Add("start_recv", ex.StartReceiving)
	calcFlux := tl.Add("calculate_flux", func() (tasks.Status, error) {
		return tasks.FromError(d.Physics.CalculateFluxes(sc0))
	})
	tl.Add("send_flux_correction", func() (tasks.Status, error) {
		return ref.SendFluxCorrection(sc0, cycle, stage)
	}, calcFlux)
	recvFlux := tl.Add("receive_flux_correction", func() (tasks.Status, error) {
		return ref.ReceiveFluxCorrection(sc0, cycle, stage)
	}, calcFlux)

	fluxDiv := tl.Add("flux_divergence", func() (tasks.Status, error) {
		return tasks.FromError(FluxDivergence(sc0, dudt))
	}, recvFlux)
	src := tl.Add("source_term", func() (tasks.Status, error) {
		return tasks.FromError(d.Physics.SourceTerm(sc0, dudt))
	}, fluxDiv)
	// Package sources accumulate into the same rate of change, so they
	// are chained in registration order.
	for _, p := range d.Mesh.Packages.All() {
		s, ok := p.Hooks.(Sourcer)
		if !ok {
			continue
		}
		src = tl.Add("add_source_"+p.Name, func() (tasks.Status, error) {
			return tasks.FromError(s.AddSource(BlockData(sc0), BlockData(dudt)))
		}, src)
	}

	update := tl.Add("update_container", func() (tasks.Status, error) {
		return tasks.FromError(UpdateContainer(sc0, base, dudt, sc1, w, dt))
	}, src)

	send := tl.Add("send_boundary_buffers", ex.Send, update)
	recv := tl.Add("receive_boundary_buffers", ex.Receive, startRecv, send)
	set := tl.Add("set_boundaries", ex.Set, recv)
	tl.Add("clear_boundary", ex.Clear, set)

	prolong := tl.Add("prolongate_boundaries", func() (tasks.Status, error) {
		// Prolongation interpolates from primitives on the coarse
		// index bounds.
		if d.Mesh.Config.Adaptive {
			if err := d.fillDerived(sc1, Entire, true); err != nil {
				return tasks.Fail, err
			}
		}
		return tasks.FromError(ref.ProlongateBoundaries(sc1))
	}, set)
	phys := tl.Add("physical_boundaries", func() (tasks.Status, error) {
		return tasks.FromError(ApplyOutflow(sc1))
	}, prolong)
	custom := tl.Add("custom_boundaries", func() (tasks.Status, error) {
		if d.Problem == nil {
			return tasks.Complete, nil
		}
		return tasks.FromError(d.Problem.ApplyBoundaries(sc1))
	}, phys)
	fill := tl.Add("fill_derived", func() (tasks.Status, error) {
		return tasks.FromError(d.fillDerived(sc1, Entire, false))
	}, custom)

	if stage == in.NStages() {
		tl.Add("estimate_timestep", func() (tasks.Status, error) {
			b.NewDt = d.Physics.EstimateTimestep(sc1)
			return tasks.Complete, nil
		}, fill)
		if d.Mesh.Config.Adaptive {
			tl.Add("tag_refinement", func() (tasks.Status, error) {
				b.Refine = ref.CheckRefinement(sc1)
				return tasks.Complete, nil
			}, fill)
		}
	}
	return tl, tl.Validate()
}

// Initialize resolves package parameters, fills derived fields from the
// initial conditions and sets the first timestep.
func (d *Driver) Initialize(ctx context.Context) error {
	if err := d.Mesh.Packages.Finalize(); err != nil {
		return err
	}
	for _, b := range d.Mesh.Blocks {
		base, err := b.Stages.Get(Base)
		if err != nil {
			return err
		}
		if err := d.fillDerived(base, Entire, false); err != nil {
			return err
		}
		b.NewDt = d.Physics.EstimateTimestep(base)
	}
	return d.newDt(ctx)
}

// newDt sets the next timestep to the smallest block estimate across all
// ranks, shortened if necessary to end exactly at the time limit.
func (d *Driver) newDt(ctx context.Context) error {
	local := math.Inf(1)
	for _, b := range d.Mesh.Blocks {
		local = math.Min(local, b.NewDt)
	}
	ctx, cancel := context.WithTimeout(ctx, d.StageTimeout)
	defer cancel()
	dt, err := comm.AllReduce(ctx, d.Mesh.Reduce, DtChannel, local, comm.Min)
	if err != nil {
		return fmt.Errorf("divclean: reducing timestep: %v", err)
	}
	if math.IsInf(dt, 0) || math.IsNaN(dt) || dt <= 0 {
		return fmt.Errorf("divclean: invalid timestep %g", dt)
	}
	if d.Time.Tlim > d.Time.Time && d.Time.Time+dt > d.Time.Tlim {
		dt = d.Time.Tlim - d.Time.Time
	}
	d.Time.Dt = dt
	return nil
}

// Step advances the mesh by one timestep.
func (d *Driver) Step(ctx context.Context) error {
	start := time.Now()
	for stage := 1; stage <= d.Integrator.NStages(); stage++ {
		region := tasks.NewRegion()
		for _, b := range d.Mesh.Blocks {
			tl, err := d.MakeTaskList(b, stage)
			if err != nil {
				return err
			}
			region.Add(tl)
		}
		sctx, cancel := context.WithTimeout(ctx, d.StageTimeout)
		err := region.Execute(sctx)
		cancel()
		if err != nil {
			return fmt.Errorf("divclean: cycle %d stage %d: %v", d.Time.Ncycle, stage, err)
		}
	}
	tagged := 0
	for _, b := range d.Mesh.Blocks {
		b.Stages.PurgeNonBase()
		if b.Refine != Same {
			tagged++
		}
	}
	if tagged > 0 {
		d.Log.WithField("blocks", tagged).Info("blocks tagged for refinement")
	}

	d.Time.Time += d.Time.Dt
	d.Time.Ncycle++

	md, err := d.Mesh.StageData(Base)
	if err != nil {
		return err
	}
	for _, p := range d.Mesh.Packages.All() {
		if p.Hooks == nil {
			continue
		}
		if err := p.Hooks.PostStepDiagnostics(d.Time, md); err != nil {
			return fmt.Errorf("divclean: %s diagnostics: %v", p.Name, err)
		}
	}
	if d.History != nil && d.History.Due(d.Time.Ncycle) {
		if err := d.History.Write(ctx, d.Mesh, d.Time); err != nil {
			return err
		}
	}
	if err := d.newDt(ctx); err != nil {
		return err
	}
	stepDuration.Observe(time.Since(start).Seconds())
	d.Log.WithFields(logrus.Fields{
		"cycle": d.Time.Ncycle,
		"time":  d.Time.Time,
		"dt":    d.Time.Dt,
	}).Info("step complete")
	return nil
}

// Finished reports whether the time or cycle limit has been reached.
func (d *Driver) Finished() bool {
	if d.Time.Nlim >= 0 && d.Time.Ncycle >= d.Time.Nlim {
		return true
	}
	return d.Time.Time >= d.Time.Tlim
}

// Execute initializes the driver and steps until the time or cycle limit,
// then fills the output fields of every block.
func (d *Driver) Execute(ctx context.Context) error {
	if err := d.Initialize(ctx); err != nil {
		return err
	}
	for !d.Finished() {
		if err := d.Step(ctx); err != nil {
			return err
		}
	}
	return d.FillOutputs()
}

// FillOutputs runs every package's FillOutput hook on every local block.
func (d *Driver) FillOutputs() error {
	for _, b := range d.Mesh.Blocks {
		for _, p := range d.Mesh.Packages.All() {
			if p.Hooks == nil {
				continue
			}
			if err := p.Hooks.FillOutput(b); err != nil {
				return fmt.Errorf("divclean: %s output: %v", p.Name, err)
			}
		}
	}
	return nil
}
