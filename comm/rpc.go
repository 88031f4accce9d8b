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

package comm

import (
	"fmt"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
)

// Courier is the RPC service that receives messages for a rank.
// It is exported only so that net/rpc can register it.
type Courier struct {
	box *Mailbox
}

// Deliver stores an incoming message.
func (c *Courier) Deliver(m *Message, _ *struct{}) error {
	c.box.Put(*m)
	return nil
}

// RPC is a rank of a group whose members are separate processes
// communicating over TCP with net/rpc.
type RPC struct {
	rank  int
	addrs []string
	box   *Mailbox
	l     net.Listener
	log   logrus.FieldLogger

	// MaxDialTime bounds the time spent retrying a connection to a peer
	// that has not started listening yet.
	MaxDialTime time.Duration

	mu      sync.Mutex
	clients map[int]*rpc.Client
	calls   []*rpc.Call
}

// ListenRPC starts rank's server on addrs[rank]. addrs holds the
// host:port of every rank in the group.
func ListenRPC(rank int, addrs []string, log logrus.FieldLogger) (*RPC, error) {
	if rank < 0 || rank >= len(addrs) {
		return nil, fmt.Errorf("comm: rank %d out of range for %d peers", rank, len(addrs))
	}
	t := &RPC{
		rank:        rank,
		addrs:       addrs,
		box:         NewMailbox(),
		log:         log,
		MaxDialTime: time.Minute,
		clients:     make(map[int]*rpc.Client),
	}
	server := rpc.NewServer()
	if err := server.Register(&Courier{box: t.box}); err != nil {
		return nil, err
	}
	l, err := net.Listen("tcp", addrs[rank])
	if err != nil {
		return nil, fmt.Errorf("comm: listening on %s: %v", addrs[rank], err)
	}
	t.l = l
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go server.ServeConn(conn)
		}
	}()
	return t, nil
}

// Addr returns the address the rank is listening on.
func (t *RPC) Addr() net.Addr { return t.l.Addr() }

// Rank implements Transport.
func (t *RPC) Rank() int { return t.rank }

// Size implements Transport.
func (t *RPC) Size() int { return len(t.addrs) }

func (t *RPC) client(dst int) (*rpc.Client, error) {
	if c, ok := t.clients[dst]; ok {
		return c, nil
	}
	var c *rpc.Client
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = t.MaxDialTime
	err := backoff.RetryNotify(
		func() error {
			var err error
			c, err = rpc.Dial("tcp", t.addrs[dst])
			return err
		},
		b,
		func(err error, d time.Duration) {
			t.log.WithField("peer", dst).Warnf("%v: retrying in %v", err, d)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("comm: dialing rank %d at %s: %v", dst, t.addrs[dst], err)
	}
	t.clients[dst] = c
	return c, nil
}

// Send implements Transport. Delivery is asynchronous; failures of earlier
// sends are reported by later calls to Send.
func (t *RPC) Send(m Message) error {
	if m.Dst < 0 || m.Dst >= len(t.addrs) {
		return fmt.Errorf("comm: send to invalid rank %d (size %d)", m.Dst, len(t.addrs))
	}
	m.Src = t.rank
	if m.Dst == t.rank {
		m.Data = append([]float64(nil), m.Data...)
		t.box.Put(m)
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.reap(); err != nil {
		return err
	}
	c, err := t.client(m.Dst)
	if err != nil {
		return err
	}
	t.calls = append(t.calls, c.Go("Courier.Deliver", &m, &struct{}{}, make(chan *rpc.Call, 1)))
	return nil
}

// reap drops finished calls and returns the first error among them.
func (t *RPC) reap() error {
	live := t.calls[:0]
	var err error
	for _, c := range t.calls {
		select {
		case <-c.Done:
			if c.Error != nil && err == nil {
				err = fmt.Errorf("comm: delivering message: %v", c.Error)
			}
		default:
			live = append(live, c)
		}
	}
	t.calls = live
	return err
}

// TryRecv implements Transport.
func (t *RPC) TryRecv(src int, tag Tag) (Message, bool) {
	return t.box.Take(src, tag)
}

// Close waits for outstanding sends, then shuts down the server and
// all client connections.
func (t *RPC) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var err error
	for _, c := range t.calls {
		<-c.Done
		if c.Error != nil && err == nil {
			err = c.Error
		}
	}
	t.calls = nil
	for dst, c := range t.clients {
		c.Close()
		delete(t.clients, dst)
	}
	if lerr := t.l.Close(); lerr != nil && err == nil {
		err = lerr
	}
	return err
}
