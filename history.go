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
	"io"
	"time"

	"github.com/spatialmodel/divclean/comm"
)

// History records the history scalars registered by every package as a
// whitespace separated table, one row per output cycle.
type History struct {
	w        io.Writer
	Interval int
	Timeout  time.Duration
	header   bool
}

// NewHistory returns a history writer that records a row every interval
// cycles. Only the root rank writes, so w may be nil elsewhere.
func NewHistory(w io.Writer, interval int) *History {
	if interval < 1 {
		interval = 1
	}
	return &History{w: w, Interval: interval, Timeout: time.Minute}
}

// Due reports whether a row should be written after cycle ncycle.
func (h *History) Due(ncycle int) bool { return ncycle%h.Interval == 0 }

// Evaluate reduces every registered history scalar across ranks. Values
// of scalars registered with Fn are only meaningful on the root rank.
func Evaluate(ctx context.Context, m *Mesh) (names []string, vals []float64, err error) {
	md, err := m.StageData(Base)
	if err != nil {
		return nil, nil, err
	}
	for _, p := range m.Packages.All() {
		for _, hv := range p.History {
			v, err := evaluate(ctx, m, md, hv)
			if err != nil {
				return nil, nil, fmt.Errorf("divclean: history %s: %v", hv.Name, err)
			}
			if m.Comm.Rank() == comm.Root {
				ObserveDiagnostic(hv.Name, v)
			}
			names = append(names, hv.Name)
			vals = append(vals, v)
		}
	}
	return names, vals, nil
}

func evaluate(ctx context.Context, m *Mesh, md *MeshData, hv HistoryVar) (float64, error) {
	switch {
	case hv.Cell != nil && hv.Fn == nil:
		if _, err := StartDomainReduction(md, HistoryChannel, hv.Op, hv.Start, hv.Stop, hv.Cell); err != nil {
			return 0, err
		}
		return m.Reduce.CheckOnAll(ctx, HistoryChannel)
	case hv.Fn != nil && hv.Cell == nil:
		v, err := hv.Fn(md)
		if err != nil {
			return 0, err
		}
		if _, err := m.Reduce.Start(HistoryChannel, v, hv.Op); err != nil {
			return 0, err
		}
		return m.Reduce.Check(ctx, HistoryChannel)
	default:
		return 0, fmt.Errorf("exactly one of Fn and Cell must be set")
	}
}

// Write evaluates the history scalars and, on the root rank, appends a row.
func (h *History) Write(ctx context.Context, m *Mesh, tm SimTime) error {
	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()
	names, vals, err := Evaluate(ctx, m)
	if err != nil {
		return err
	}
	if m.Comm.Rank() != comm.Root || h.w == nil {
		return nil
	}
	if !h.header {
		fmt.Fprintf(h.w, "# %-20s %-22s %-22s", "cycle", "time", "dt")
		for _, n := range names {
			fmt.Fprintf(h.w, " %-22s", n)
		}
		fmt.Fprintln(h.w)
		h.header = true
	}
	fmt.Fprintf(h.w, "  %-20d %-22.14e %-22.14e", tm.Ncycle, tm.Time, tm.Dt)
	for _, v := range vals {
		fmt.Fprintf(h.w, " %-22.14e", v)
	}
	_, err = fmt.Fprintln(h.w)
	return err
}
