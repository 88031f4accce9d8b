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
	"sort"
	"strings"
)

// Flag is a property of a field.
type Flag uint32

// Field properties.
const (
	// Independent fields are evolved by the update kernel.
	Independent Flag = 1 << iota
	// Derived fields are recomputed from independent fields.
	Derived
	// FillGhost fields have their ghost zones exchanged.
	FillGhost
	// Restart fields are written to checkpoints.
	Restart
	// Conserved fields are integrated in conservative form.
	Conserved
	// WithFluxes fields carry face fluxes.
	WithFluxes
	// Vector fields have one component per spatial axis.
	Vector
	// Primitive fields hold recovered primitive quantities.
	Primitive
	// OneCopy fields are shared by every stage snapshot.
	OneCopy
)

var flagNames = []string{"Independent", "Derived", "FillGhost", "Restart",
	"Conserved", "WithFluxes", "Vector", "Primitive", "OneCopy"}

func (f Flag) String() string {
	var s []string
	for i, n := range flagNames {
		if f&(1<<uint(i)) != 0 {
			s = append(s, n)
		}
	}
	return strings.Join(s, "|")
}

// Metadata describes a field.
type Metadata struct {
	Flags Flag
	// Shape is the number of components; 0 means a scalar.
	Shape int
}

// Has reports whether every flag in f is set.
func (m Metadata) Has(f Flag) bool { return m.Flags&f == f }

// NVar returns the number of components.
func (m Metadata) NVar() int {
	if m.Shape < 1 {
		return 1
	}
	return m.Shape
}

// Variable is one field on one block.
type Variable struct {
	Name string
	Meta Metadata
	Data *ParArray
	// Flux holds face fluxes along each active axis when the field
	// has WithFluxes. Flux[d] has one extra entry along axis d.
	Flux [3]*ParArray
}

func newVariable(name string, meta Metadata, shape IndexShape) *Variable {
	nk, nj, ni := shape.N(2), shape.N(1), shape.N(0)
	v := &Variable{
		Name: name,
		Meta: meta,
		Data: NewParArray(meta.NVar(), nk, nj, ni),
	}
	if meta.Has(WithFluxes) {
		if shape.Active(0) {
			v.Flux[0] = NewParArray(meta.NVar(), nk, nj, ni+1)
		}
		if shape.Active(1) {
			v.Flux[1] = NewParArray(meta.NVar(), nk, nj+1, ni)
		}
		if shape.Active(2) {
			v.Flux[2] = NewParArray(meta.NVar(), nk+1, nj, ni)
		}
	}
	return v
}

// NVar returns the number of components.
func (v *Variable) NVar() int { return v.Meta.NVar() }

// snapshot returns a copy of v sharing storage until written.
func (v *Variable) snapshot() *Variable {
	if v.Meta.Has(OneCopy) {
		return v
	}
	c := &Variable{Name: v.Name, Meta: v.Meta, Data: v.Data.Clone()}
	for d, f := range v.Flux {
		if f != nil {
			c.Flux[d] = f.Clone()
		}
	}
	return c
}

func (v *Variable) release() {
	if v.Meta.Has(OneCopy) {
		return
	}
	v.Data.Release()
	for _, f := range v.Flux {
		if f != nil {
			f.Release()
		}
	}
}

// Container holds the fields of one block at one stage of a step.
type Container struct {
	Name  string
	Block *Block
	vars  []*Variable
	index map[string]*Variable
}

// NewContainer returns an empty container for b.
func NewContainer(name string, b *Block) *Container {
	return &Container{Name: name, Block: b, index: make(map[string]*Variable)}
}

// Add allocates a new field on the container's block.
func (c *Container) Add(name string, meta Metadata) (*Variable, error) {
	if _, ok := c.index[name]; ok {
		return nil, fmt.Errorf("divclean: field %q already exists in %s", name, c.Name)
	}
	v := newVariable(name, meta, c.Block.Shape)
	c.vars = append(c.vars, v)
	c.index[name] = v
	return v, nil
}

// Get returns the named field, or nil if there is none.
func (c *Container) Get(name string) *Variable { return c.index[name] }

// Lookup returns the named fields in order, or an error naming the first
// one that is missing.
func (c *Container) Lookup(names ...string) ([]*Variable, error) {
	out := make([]*Variable, len(names))
	for i, n := range names {
		v, ok := c.index[n]
		if !ok {
			return nil, fmt.Errorf("divclean: block %d stage %q has no field %q", c.Block.GID, c.Name, n)
		}
		out[i] = v
	}
	return out, nil
}

// Vars returns the fields in registration order.
func (c *Container) Vars() []*Variable { return c.vars }

// WithFlags returns the fields that have every flag in f.
func (c *Container) WithFlags(f Flag) []*Variable {
	var out []*Variable
	for _, v := range c.vars {
		if v.Meta.Has(f) {
			out = append(out, v)
		}
	}
	return out
}

// Snapshot returns a copy of c named name. OneCopy fields are shared; the
// rest share storage with c until one side writes.
func (c *Container) Snapshot(name string) *Container {
	s := NewContainer(name, c.Block)
	for _, v := range c.vars {
		sv := v.snapshot()
		s.vars = append(s.vars, sv)
		s.index[sv.Name] = sv
	}
	return s
}

// Release drops the container's shares of its storage.
func (c *Container) Release() {
	for _, v := range c.vars {
		v.release()
	}
}

// Base is the name of the snapshot holding the solution at the start
// of each step.
const Base = "base"

// Stages is the set of named snapshots of one block.
type Stages struct {
	m map[string]*Container
}

// NewStages returns a snapshot set holding base.
func NewStages(base *Container) *Stages {
	base.Name = Base
	return &Stages{m: map[string]*Container{Base: base}}
}

// Get returns the named snapshot.
func (s *Stages) Get(name string) (*Container, error) {
	c, ok := s.m[name]
	if !ok {
		return nil, fmt.Errorf("divclean: no stage snapshot named %q", name)
	}
	return c, nil
}

// Has reports whether a snapshot named name exists.
func (s *Stages) Has(name string) bool {
	_, ok := s.m[name]
	return ok
}

// Add creates (or replaces) snapshot name as a copy of src.
func (s *Stages) Add(name, src string) (*Container, error) {
	if name == Base {
		return nil, fmt.Errorf("divclean: cannot replace the %q snapshot", Base)
	}
	c, err := s.Get(src)
	if err != nil {
		return nil, err
	}
	if old, ok := s.m[name]; ok {
		old.Release()
	}
	n := c.Snapshot(name)
	s.m[name] = n
	return n, nil
}

// PurgeNonBase discards every snapshot except base.
func (s *Stages) PurgeNonBase() {
	for name, c := range s.m {
		if name != Base {
			c.Release()
			delete(s.m, name)
		}
	}
}

// Names returns the snapshot names in sorted order.
func (s *Stages) Names() []string {
	var out []string
	for n := range s.m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
