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

// Package comm moves data between ranks: point-to-point messages for ghost
// zone exchange and polled reductions for global diagnostics.
package comm

import (
	"fmt"
	"sync"
)

// Kind distinguishes the purpose of a message.
type Kind int

// Message kinds.
const (
	Ghost Kind = iota
	FluxCorrection
	Reduce
	Broadcast
)

// Tag identifies a message stream. Two messages with the same source and
// Tag are delivered in the order they were sent.
type Tag struct {
	Kind  Kind
	Cycle int
	Stage int
	// Block is the global id of the receiving block, or the reduction
	// channel for Reduce and Broadcast messages.
	Block int
	// Face is the receiving face, or the reduction sequence number.
	Face int
}

func (t Tag) String() string {
	return fmt.Sprintf("{kind:%d cycle:%d stage:%d block:%d face:%d}", t.Kind, t.Cycle, t.Stage, t.Block, t.Face)
}

// Message is a tagged payload.
type Message struct {
	Src, Dst int
	Tag      Tag
	Data     []float64
}

// Transport is a group of ranks that can exchange messages. Send does not
// wait for the receiver; TryRecv never blocks.
type Transport interface {
	// Rank is the id of this process in the group.
	Rank() int
	// Size is the number of ranks in the group.
	Size() int
	// Send delivers m to rank m.Dst. m.Src is set by the transport.
	Send(m Message) error
	// TryRecv returns the oldest message from src with the given tag,
	// if one has arrived.
	TryRecv(src int, tag Tag) (Message, bool)
	// Close releases any resources held by the transport.
	Close() error
}

type mailKey struct {
	src int
	tag Tag
}

// Mailbox queues received messages until they are asked for.
type Mailbox struct {
	mu    sync.Mutex
	queue map[mailKey][]Message
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{queue: make(map[mailKey][]Message)}
}

// Put stores m.
func (b *Mailbox) Put(m Message) {
	b.mu.Lock()
	k := mailKey{m.Src, m.Tag}
	b.queue[k] = append(b.queue[k], m)
	b.mu.Unlock()
}

// Take removes and returns the oldest message from src with tag.
func (b *Mailbox) Take(src int, tag Tag) (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := mailKey{src, tag}
	q := b.queue[k]
	if len(q) == 0 {
		return Message{}, false
	}
	m := q[0]
	if len(q) == 1 {
		delete(b.queue, k)
	} else {
		b.queue[k] = q[1:]
	}
	return m, true
}

// Len returns the number of undelivered messages.
func (b *Mailbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, q := range b.queue {
		n += len(q)
	}
	return n
}

// Local is a rank of an in-process group created by NewLocalWorld.
type Local struct {
	rank  int
	world []*Local
	box   *Mailbox
}

// NewLocalWorld returns size ranks that communicate through shared memory.
// Each rank is typically driven by its own goroutine.
func NewLocalWorld(size int) []Transport {
	world := make([]*Local, size)
	for i := range world {
		world[i] = &Local{rank: i, world: world, box: NewMailbox()}
	}
	out := make([]Transport, size)
	for i, l := range world {
		out[i] = l
	}
	return out
}

// Rank implements Transport.
func (l *Local) Rank() int { return l.rank }

// Size implements Transport.
func (l *Local) Size() int { return len(l.world) }

// Send implements Transport. The payload is copied, so the caller may
// reuse its buffer.
func (l *Local) Send(m Message) error {
	if m.Dst < 0 || m.Dst >= len(l.world) {
		return fmt.Errorf("comm: send to invalid rank %d (size %d)", m.Dst, len(l.world))
	}
	m.Src = l.rank
	m.Data = append([]float64(nil), m.Data...)
	l.world[m.Dst].box.Put(m)
	return nil
}

// TryRecv implements Transport.
func (l *Local) TryRecv(src int, tag Tag) (Message, bool) {
	return l.box.Take(src, tag)
}

// Close implements Transport.
func (l *Local) Close() error { return nil }
