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

import "github.com/spatialmodel/divclean/tasks"

// RefinementFlag is a block's request to change resolution.
type RefinementFlag int

// Refinement requests.
const (
	Same RefinementFlag = iota
	Refine
	Derefine
)

// Refinement is the mesh refinement machinery: restriction and
// prolongation between levels, flux correction at level boundaries and
// tagging. The driver only sequences these operations.
type Refinement interface {
	SendFluxCorrection(rc *Container, cycle, stage int) (tasks.Status, error)
	ReceiveFluxCorrection(rc *Container, cycle, stage int) (tasks.Status, error)
	ProlongateBoundaries(rc *Container) error
	CheckRefinement(rc *Container) RefinementFlag
}

// UniformRefinement is the Refinement of a mesh whose blocks are all at
// the same level. There are no level boundaries, so every operation
// completes immediately.
type UniformRefinement struct{}

// SendFluxCorrection implements Refinement.
func (UniformRefinement) SendFluxCorrection(*Container, int, int) (tasks.Status, error) {
	return tasks.Complete, nil
}

// ReceiveFluxCorrection implements Refinement.
func (UniformRefinement) ReceiveFluxCorrection(*Container, int, int) (tasks.Status, error) {
	return tasks.Complete, nil
}

// ProlongateBoundaries implements Refinement.
func (UniformRefinement) ProlongateBoundaries(*Container) error { return nil }

// CheckRefinement implements Refinement.
func (UniformRefinement) CheckRefinement(*Container) RefinementFlag { return Same }
