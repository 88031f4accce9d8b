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

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/divclean/comm"
)

// IndexRange is an inclusive range of cell indices along one axis.
type IndexRange struct {
	S, E int
}

// N returns the number of indices in the range.
func (r IndexRange) N() int {
	if r.E < r.S {
		return 0
	}
	return r.E - r.S + 1
}

// Shrink returns the range with its upper end reduced by n.
func (r IndexRange) Shrink(n int) IndexRange {
	return IndexRange{S: r.S, E: r.E - n}
}

// IndexDomain selects which cells of a block an operation covers.
type IndexDomain int

const (
	// Interior is the cells owned by the block.
	Interior IndexDomain = iota
	// Entire is the interior plus the ghost zones.
	Entire
)

func (d IndexDomain) String() string {
	if d == Entire {
		return "entire"
	}
	return "interior"
}

// IndexShape holds the index ranges of a block along each axis.
type IndexShape struct {
	interior [3]IndexRange
	entire   [3]IndexRange
	NGhost   int
}

// NewIndexShape returns the shape of a block with nx interior cells per axis
// (x1, x2, x3) and ng ghost cells on each side of every axis with more than
// one cell.
func NewIndexShape(nx [3]int, ng int) IndexShape {
	var s IndexShape
	s.NGhost = ng
	for d := 0; d < 3; d++ {
		if nx[d] > 1 {
			s.interior[d] = IndexRange{ng, ng + nx[d] - 1}
			s.entire[d] = IndexRange{0, nx[d] + 2*ng - 1}
		}
	}
	return s
}

// Range returns the index range along axis (0 = x1/i, 1 = x2/j, 2 = x3/k).
func (s IndexShape) Range(axis int, d IndexDomain) IndexRange {
	if d == Entire {
		return s.entire[axis]
	}
	return s.interior[axis]
}

// IB returns the range along x1.
func (s IndexShape) IB(d IndexDomain) IndexRange { return s.Range(0, d) }

// JB returns the range along x2.
func (s IndexShape) JB(d IndexDomain) IndexRange { return s.Range(1, d) }

// KB returns the range along x3.
func (s IndexShape) KB(d IndexDomain) IndexRange { return s.Range(2, d) }

// N returns the total number of cells along axis including ghosts.
func (s IndexShape) N(axis int) int { return s.entire[axis].N() }

// Active reports whether axis has more than one cell.
func (s IndexShape) Active(axis int) bool { return s.entire[axis].E > 0 }

// Face names one of the six faces of a block.
type Face int

// Block faces.
const (
	Inner1 Face = iota
	Outer1
	Inner2
	Outer2
	Inner3
	Outer3
)

// Axis returns the axis normal to f.
func (f Face) Axis() int { return int(f) / 2 }

// Outer reports whether f is on the upper side of its axis.
func (f Face) Outer() bool { return int(f)%2 == 1 }

// Opposite returns the face on the other side of the axis.
func (f Face) Opposite() Face { return f ^ 1 }

func (f Face) String() string {
	return [...]string{"inner_x1", "outer_x1", "inner_x2", "outer_x2", "inner_x3", "outer_x3"}[f]
}

// Neighbor is a block adjacent to a face.
type Neighbor struct {
	Face  Face
	GID   int
	Rank  int
	Level int
}

// MeshConfig describes the global grid and its decomposition into blocks.
type MeshConfig struct {
	Nx       [3]int     // interior cells along each axis
	BlockNx  [3]int     // interior cells per block along each axis
	NGhost   int        // ghost cells on each side
	XMin     [3]float64 // lower corner of the domain
	XMax     [3]float64 // upper corner of the domain
	Periodic [3]bool
	Adaptive bool
}

// Validate checks the configuration for consistency.
func (c MeshConfig) Validate() error {
	if c.NGhost < 1 {
		return fmt.Errorf("divclean: mesh needs at least one ghost cell, have %d", c.NGhost)
	}
	for d := 0; d < 3; d++ {
		if c.Nx[d] < 1 || c.BlockNx[d] < 1 {
			return fmt.Errorf("divclean: mesh axis %d has non-positive size (nx=%d, block nx=%d)", d+1, c.Nx[d], c.BlockNx[d])
		}
		if c.Nx[d]%c.BlockNx[d] != 0 {
			return fmt.Errorf("divclean: mesh axis %d: block size %d does not divide mesh size %d", d+1, c.BlockNx[d], c.Nx[d])
		}
		if c.Nx[d] > 1 && c.BlockNx[d] < c.NGhost {
			return fmt.Errorf("divclean: mesh axis %d: block size %d smaller than ghost width %d", d+1, c.BlockNx[d], c.NGhost)
		}
		if c.Nx[d] == 1 && c.BlockNx[d] != 1 {
			return fmt.Errorf("divclean: mesh axis %d has one cell but block size %d", d+1, c.BlockNx[d])
		}
		if c.XMax[d] <= c.XMin[d] {
			return fmt.Errorf("divclean: mesh axis %d has empty extent [%g, %g]", d+1, c.XMin[d], c.XMax[d])
		}
		if d > 0 && c.Nx[d] > 1 && c.Nx[d-1] == 1 {
			return fmt.Errorf("divclean: mesh axis %d is active but axis %d is not", d+1, d)
		}
	}
	return nil
}

// NDim returns the number of active axes.
func (c MeshConfig) NDim() int {
	n := 0
	for d := 0; d < 3; d++ {
		if c.Nx[d] > 1 {
			n++
		}
	}
	return n
}

// Block is one rectangular piece of the mesh.
type Block struct {
	GID       int
	Loc       [3]int // logical location in the block grid
	Rank      int
	Level     int
	Shape     IndexShape
	Coarse    IndexShape // used for prolongation when the mesh is adaptive
	Coords    Coordinates
	Neighbors []Neighbor
	Stages    *Stages
	Mesh      *Mesh

	// NewDt is the block's most recent timestep estimate.
	NewDt float64
	// Refine is the block's most recent refinement tag.
	Refine RefinementFlag
}

// NDim returns the dimensionality of the mesh the block belongs to.
func (b *Block) NDim() int { return b.Mesh.NDim }

// Neighbor returns the neighbor at face f, if there is one.
func (b *Block) Neighbor(f Face) (Neighbor, bool) {
	for _, n := range b.Neighbors {
		if n.Face == f {
			return n, true
		}
	}
	return Neighbor{}, false
}

// Mesh is the part of the global mesh owned by one rank, along with the
// information needed to reach the rest of it.
type Mesh struct {
	Config   MeshConfig
	NDim     int
	NBlocks  [3]int // blocks along each axis
	Ranks    []int  // owning rank of each block, by gid
	Blocks   []*Block
	Packages *Packages
	Comm     comm.Transport
	Reduce   *comm.Pool
	Refine   Refinement
	Log      logrus.FieldLogger
}

// NewMesh decomposes the domain described by cfg into blocks, assigns
// contiguous runs of blocks to the ranks of t, and allocates the fields
// registered in pkgs for the blocks owned by t.Rank(). coords builds
// the coordinates of each block.
func NewMesh(cfg MeshConfig, pkgs *Packages, t comm.Transport, coords CoordinatesFunc, log logrus.FieldLogger) (*Mesh, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Mesh{
		Config:   cfg,
		NDim:     cfg.NDim(),
		Packages: pkgs,
		Comm:     t,
		Reduce:   comm.NewPool(t),
		Refine:   UniformRefinement{},
		Log:      log,
	}
	nblocks := 1
	for d := 0; d < 3; d++ {
		m.NBlocks[d] = cfg.Nx[d] / cfg.BlockNx[d]
		nblocks *= m.NBlocks[d]
	}
	if nblocks < t.Size() {
		return nil, fmt.Errorf("divclean: %d blocks cannot be spread over %d ranks", nblocks, t.Size())
	}
	m.Ranks = make([]int, nblocks)
	for gid := range m.Ranks {
		m.Ranks[gid] = gid * t.Size() / nblocks
	}
	for gid, r := range m.Ranks {
		if r != t.Rank() {
			continue
		}
		b, err := m.newBlock(gid, coords)
		if err != nil {
			return nil, err
		}
		m.Blocks = append(m.Blocks, b)
	}
	return m, nil
}

func (m *Mesh) gid(loc [3]int) int {
	return (loc[2]*m.NBlocks[1]+loc[1])*m.NBlocks[0] + loc[0]
}

func (m *Mesh) loc(gid int) [3]int {
	return [3]int{
		gid % m.NBlocks[0],
		(gid / m.NBlocks[0]) % m.NBlocks[1],
		gid / (m.NBlocks[0] * m.NBlocks[1]),
	}
}

func (m *Mesh) newBlock(gid int, coords CoordinatesFunc) (*Block, error) {
	cfg := m.Config
	b := &Block{
		GID:   gid,
		Loc:   m.loc(gid),
		Rank:  m.Ranks[gid],
		Shape: NewIndexShape(cfg.BlockNx, cfg.NGhost),
		Mesh:  m,
		NewDt: 0,
	}
	if cfg.Adaptive {
		var half [3]int
		for d := range half {
			half[d] = cfg.BlockNx[d]
			if half[d] > 1 {
				half[d] /= 2
			}
		}
		b.Coarse = NewIndexShape(half, cfg.NGhost)
	} else {
		b.Coarse = b.Shape
	}
	var xmin, dx [3]float64
	for d := 0; d < 3; d++ {
		dx[d] = (cfg.XMax[d] - cfg.XMin[d]) / float64(cfg.Nx[d])
		xmin[d] = cfg.XMin[d] + float64(b.Loc[d]*cfg.BlockNx[d])*dx[d]
	}
	b.Coords = coords(xmin, dx, b.Shape)

	for d := 0; d < m.NDim; d++ {
		for _, f := range []Face{Face(2 * d), Face(2*d + 1)} {
			nloc := b.Loc
			if f.Outer() {
				nloc[d]++
			} else {
				nloc[d]--
			}
			if nloc[d] < 0 || nloc[d] >= m.NBlocks[d] {
				if !cfg.Periodic[d] {
					continue
				}
				nloc[d] = (nloc[d] + m.NBlocks[d]) % m.NBlocks[d]
			}
			ngid := m.gid(nloc)
			b.Neighbors = append(b.Neighbors, Neighbor{Face: f, GID: ngid, Rank: m.Ranks[ngid], Level: b.Level})
		}
	}

	base, err := m.Packages.allocate(b)
	if err != nil {
		return nil, err
	}
	b.Stages = NewStages(base)
	return b, nil
}

// MeshData groups block data so that an operation can run over several
// blocks at once.
type MeshData struct {
	Mesh   *Mesh
	Blocks []*Container
}

// NDim returns the dimensionality of the mesh.
func (md *MeshData) NDim() int { return md.Mesh.NDim }

// StageData returns the snapshot named stage from every local block.
func (m *Mesh) StageData(stage string) (*MeshData, error) {
	md := &MeshData{Mesh: m}
	for _, b := range m.Blocks {
		c, err := b.Stages.Get(stage)
		if err != nil {
			return nil, err
		}
		md.Blocks = append(md.Blocks, c)
	}
	return md, nil
}

// BlockData wraps a single container as MeshData.
func BlockData(c *Container) *MeshData {
	return &MeshData{Mesh: c.Block.Mesh, Blocks: []*Container{c}}
}
