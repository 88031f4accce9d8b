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

package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLinearChainRunsInOrder(t *testing.T) {
	var order []string
	l := NewList("chain")
	rec := func(name string) Func {
		return func() (Status, error) {
			order = append(order, name)
			return Complete, nil
		}
	}
	a := l.Add("a", rec("a"))
	b := l.Add("b", rec("b"), a)
	l.Add("c", rec("c"), b)

	require.NoError(t, l.Execute(context.Background()))
	require.Equal(t, []string{"a", "b", "c"}, order)
	require.True(t, l.Done())
}

func TestFailureAbortsList(t *testing.T) {
	ran := false
	l := NewList("fail")
	a := l.Add("a", func() (Status, error) { return Fail, nil })
	l.Add("b", func() (Status, error) { ran = true; return Complete, nil }, a)

	err := l.Execute(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "a")
	require.False(t, ran, "dependent of a failed task must not run")
}

func TestUnknownStatusFails(t *testing.T) {
	calls := 0
	l := NewList("unknown")
	l.Add("odd", func() (Status, error) { calls++; return Status(7), nil })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := l.Execute(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Status(7)")
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, calls)
	require.True(t, l.Done())
}

func TestErrorAbortsList(t *testing.T) {
	l := NewList("err")
	l.Add("a", func() (Status, error) { return Complete, errors.New("boom") })
	err := l.Execute(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestIncompleteIsPolledWithoutRerunningCompleted(t *testing.T) {
	var sends, polls int
	l := NewList("poll")
	send := l.Add("send", func() (Status, error) { sends++; return Complete, nil })
	l.Add("recv", func() (Status, error) {
		polls++
		if polls < 3 {
			return Incomplete, nil
		}
		return Complete, nil
	}, send)

	require.NoError(t, l.Execute(context.Background()))
	require.Equal(t, 1, sends)
	require.Equal(t, 3, polls)
}

func TestRegionInterleavesLists(t *testing.T) {
	// Each list waits on a flag set by the other.
	var aSent, bSent bool
	la := NewList("a")
	sa := la.Add("send", func() (Status, error) { aSent = true; return Complete, nil })
	la.Add("recv", func() (Status, error) {
		if !bSent {
			return Incomplete, nil
		}
		return Complete, nil
	}, sa)
	lb := NewList("b")
	lb.Add("recv", func() (Status, error) {
		if !aSent {
			return Incomplete, nil
		}
		bSent = true
		return Complete, nil
	})

	require.NoError(t, NewRegion(la, lb).Execute(context.Background()))
}

func TestRegionDeadline(t *testing.T) {
	l := NewList("stuck")
	l.Add("recv", func() (Status, error) { return Incomplete, nil })
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := NewRegion(l).Execute(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "stuck/recv")
}

func TestAddRejectsForwardDependency(t *testing.T) {
	l := NewList("bad")
	require.Panics(t, func() {
		l.Add("a", func() (Status, error) { return Complete, nil }, ID(3))
	})
}

func TestNoneDependencyIgnored(t *testing.T) {
	l := NewList("none")
	l.Add("a", func() (Status, error) { return Complete, nil }, None)
	require.NoError(t, l.Validate())
	require.NoError(t, l.Execute(context.Background()))
}
