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

// Package tasks sequences the work of one integration stage as a directed
// acyclic graph of polled tasks.
package tasks

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status is the result of one invocation of a task function.
type Status int

const (
	// Complete means the task has finished and its dependents may run.
	Complete Status = iota
	// Incomplete means the task is waiting on something (usually
	// communication) and must be polled again.
	Incomplete
	// Fail aborts the task list.
	Fail
)

func (s Status) String() string {
	switch s {
	case Complete:
		return "complete"
	case Incomplete:
		return "incomplete"
	case Fail:
		return "fail"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// FromError converts an error into a task status: Complete if err is nil,
// Fail otherwise.
func FromError(err error) (Status, error) {
	if err != nil {
		return Fail, err
	}
	return Complete, nil
}

// Func is the body of a task. It may be invoked more than once if it returns
// Incomplete, so side effects that must happen once belong before the
// first Incomplete return.
type Func func() (Status, error)

// ID identifies a task within its List.
type ID int

// None is the empty dependency.
const None ID = -1

type state int

const (
	pending state = iota
	running
	complete
	failed
)

type task struct {
	name  string
	fn    Func
	deps  []ID
	state state
}

var taskCount = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "divclean_tasks_total",
		Help: "Number of task invocations, by task name and returned status.",
	},
	[]string{"task", "status"},
)

// List is a dependency graph of tasks for one block and one stage.
// Tasks may only depend on tasks added before them, so insertion
// order is a valid topological order.
type List struct {
	Name  string
	tasks []*task
	err   error
}

// NewList returns an empty task list.
func NewList(name string) *List {
	return &List{Name: name}
}

// Add appends a task that becomes eligible once every task in deps has
// completed. None entries in deps are ignored. Add panics if a
// dependency does not refer to an earlier task.
func (l *List) Add(name string, fn Func, deps ...ID) ID {
	id := ID(len(l.tasks))
	t := &task{name: name, fn: fn}
	for _, d := range deps {
		if d == None {
			continue
		}
		if d < 0 || d >= id {
			panic(fmt.Errorf("tasks: %s: task %q depends on unknown task %d", l.Name, name, d))
		}
		t.deps = append(t.deps, d)
	}
	l.tasks = append(l.tasks, t)
	return id
}

// Len returns the number of tasks in the list.
func (l *List) Len() int { return len(l.tasks) }

// TaskName returns the name of the task with the given id.
func (l *List) TaskName(id ID) string { return l.tasks[id].name }

// Validate checks that every dependency refers to an earlier task
// and that all tasks have a body.
func (l *List) Validate() error {
	for i, t := range l.tasks {
		if t.fn == nil {
			return fmt.Errorf("tasks: %s: task %q has no function", l.Name, t.name)
		}
		for _, d := range t.deps {
			if int(d) >= i || d < 0 {
				return fmt.Errorf("tasks: %s: task %q has dependency %d that does not precede it", l.Name, t.name, d)
			}
		}
	}
	return nil
}

func (l *List) eligible(t *task) bool {
	for _, d := range t.deps {
		if l.tasks[d].state != complete {
			return false
		}
	}
	return true
}

// Step makes one pass over the list in insertion order, invoking every
// task whose dependencies are complete and that has not itself completed.
// It reports whether any task changed state. An error is returned if a
// task failed, after which the list is finished.
func (l *List) Step() (progress bool, err error) {
	if l.err != nil {
		return false, l.err
	}
	for _, t := range l.tasks {
		if t.state == complete || t.state == failed || !l.eligible(t) {
			continue
		}
		status, err := t.fn()
		taskCount.WithLabelValues(t.name, status.String()).Inc()
		switch status {
		case Complete:
			if err != nil {
				status = Fail
				break
			}
			t.state = complete
			progress = true
		case Incomplete:
			if t.state == pending {
				t.state = running
				progress = true
			}
		case Fail:
		default:
			if err == nil {
				err = fmt.Errorf("unknown status %v", status)
			}
			status = Fail
		}
		if status == Fail || (status != Complete && err != nil) {
			t.state = failed
			if err == nil {
				err = fmt.Errorf("task failed")
			}
			l.err = fmt.Errorf("tasks: %s: %s: %v", l.Name, t.name, err)
			return true, l.err
		}
	}
	return progress, nil
}

// Done reports whether every task has completed, or the list has failed.
func (l *List) Done() bool {
	if l.err != nil {
		return true
	}
	for _, t := range l.tasks {
		if t.state != complete {
			return false
		}
	}
	return true
}

// Err returns the failure that finished the list, if any.
func (l *List) Err() error { return l.err }

// Execute runs the list to completion on its own.
func (l *List) Execute(ctx context.Context) error {
	r := NewRegion(l)
	return r.Execute(ctx)
}

// Region is a set of task lists executed together, typically one list per
// block owned by a rank, so that blocks can wait on messages from each other.
type Region struct {
	Lists []*List

	// Idle is how long Execute waits after a pass in which no task
	// changed state.
	Idle time.Duration
}

// NewRegion returns a region over the given lists.
func NewRegion(lists ...*List) *Region {
	return &Region{Lists: lists, Idle: 50 * time.Microsecond}
}

// Add appends a list to the region.
func (r *Region) Add(l *List) { r.Lists = append(r.Lists, l) }

// Execute steps all lists round-robin until every list is done,
// a task fails, or ctx is done.
func (r *Region) Execute(ctx context.Context) error {
	for _, l := range r.Lists {
		if err := l.Validate(); err != nil {
			return err
		}
	}
	for {
		done := true
		progress := false
		for _, l := range r.Lists {
			if l.Done() {
				if l.err != nil {
					return l.err
				}
				continue
			}
			p, err := l.Step()
			if err != nil {
				return err
			}
			progress = progress || p
			if !l.Done() {
				done = false
			}
		}
		if done {
			return nil
		}
		if !progress {
			select {
			case <-ctx.Done():
				return fmt.Errorf("tasks: region stalled waiting on %s: %v", r.waiting(), ctx.Err())
			case <-time.After(r.Idle):
			}
		} else {
			select {
			case <-ctx.Done():
				return fmt.Errorf("tasks: region interrupted: %v", ctx.Err())
			default:
			}
			runtime.Gosched()
		}
	}
}

// waiting lists the tasks currently being polled, for error messages.
func (r *Region) waiting() string {
	var s string
	for _, l := range r.Lists {
		for _, t := range l.tasks {
			if t.state == running {
				if s != "" {
					s += ", "
				}
				s += l.Name + "/" + t.name
			}
		}
	}
	if s == "" {
		return "nothing"
	}
	return s
}
