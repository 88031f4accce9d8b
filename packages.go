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
	"fmt"

	"github.com/spatialmodel/divclean/comm"
)

// SimTime is the simulation clock.
type SimTime struct {
	Time   float64
	Dt     float64
	Tlim   float64
	Ncycle int
	// Nlim is the maximum number of cycles; negative means no limit.
	Nlim int
}

// Hooks are the callbacks the driver makes into a physics package.
type Hooks interface {
	// FillDerived recomputes the package's derived fields from its
	// independent fields over the given domain. If coarse is true the
	// block's coarse index shape is used.
	FillDerived(rc *Container, domain IndexDomain, coarse bool) error
	// PostStepDiagnostics runs once at the end of every step.
	PostStepDiagnostics(tm SimTime, md *MeshData) error
	// FillOutput fills output-only fields of a block before they
	// are written.
	FillOutput(b *Block) error
}

// Sourcer is implemented by packages that add source terms to the rate
// of change of the conserved fields.
type Sourcer interface {
	AddSource(md, dudt *MeshData) error
}

// Finalizer is implemented by packages that need to resolve their
// parameters after every package and the problem have been set up.
type Finalizer interface {
	Finalize() error
}

// Field is a field registered by a package.
type Field struct {
	Name string
	Meta Metadata
}

// HistoryVar is a scalar reduced over the mesh and recorded as a time series.
// Exactly one of Fn and Cell is set.
type HistoryVar struct {
	Name string
	Op   comm.Op
	// Fn returns this rank's contribution, which is reduced to the root.
	Fn func(md *MeshData) (float64, error)
	// Cell is reduced with DomainReduction over the box [Start, Stop),
	// and the result is delivered to every rank.
	Cell        CellFunc
	Start, Stop [3]float64
}

// StateDescriptor is everything a package registers with the driver.
type StateDescriptor struct {
	Name    string
	Params  *Params
	Fields  []Field
	History []HistoryVar
	Hooks   Hooks
}

// AddField registers a field.
func (s *StateDescriptor) AddField(name string, meta Metadata) {
	s.Fields = append(s.Fields, Field{Name: name, Meta: meta})
}

// Packages is the ordered set of registered physics packages.
type Packages struct {
	list []*StateDescriptor
}

// Add registers a package. Package and field names must be unique.
func (p *Packages) Add(s *StateDescriptor) error {
	if s.Params == nil {
		s.Params = NewParams()
	}
	for _, o := range p.list {
		if o.Name == s.Name {
			return fmt.Errorf("divclean: package %q registered twice", s.Name)
		}
		for _, of := range o.Fields {
			for _, f := range s.Fields {
				if of.Name == f.Name {
					return fmt.Errorf("divclean: field %q registered by both %q and %q", f.Name, o.Name, s.Name)
				}
			}
		}
	}
	for _, hv := range s.History {
		if (hv.Fn == nil) == (hv.Cell == nil) {
			return fmt.Errorf("divclean: history %q of %q must set exactly one of Fn and Cell", hv.Name, s.Name)
		}
	}
	p.list = append(p.list, s)
	return nil
}

// Get returns the named package, or nil.
func (p *Packages) Get(name string) *StateDescriptor {
	for _, s := range p.list {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// All returns the packages in registration order.
func (p *Packages) All() []*StateDescriptor { return p.list }

// Finalize calls Finalize on every package whose hooks implement Finalizer.
func (p *Packages) Finalize() error {
	for _, s := range p.list {
		if f, ok := s.Hooks.(Finalizer); ok {
			if err := f.Finalize(); err != nil {
				return fmt.Errorf("divclean: finalizing %s: %v", s.Name, err)
			}
		}
	}
	return nil
}

// allocate creates the base container of b holding every registered field.
func (p *Packages) allocate(b *Block) (*Container, error) {
	c := NewContainer(Base, b)
	for _, s := range p.list {
		for _, f := range s.Fields {
			if _, err := c.Add(f.Name, f.Meta); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}
