package socket

import (
	"container/heap"
	"time"

	"github.com/nardo/tnlgo/wire"
)

// delayedPacket is one send held back to simulate latency.
type delayedPacket struct {
	dueTime time.Time
	to      wire.Address
	data    []byte
	index   int // heap bookkeeping
}

type delayedQueue []*delayedPacket

func (q delayedQueue) Len() int            { return len(q) }
func (q delayedQueue) Less(i, j int) bool  { return q[i].dueTime.Before(q[j].dueTime) }
func (q delayedQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index, q[j].index = i, j
}

func (q *delayedQueue) Push(x any) {
	p := x.(*delayedPacket)
	p.index = len(*q)
	*q = append(*q, p)
}

func (q *delayedQueue) Pop() any {
	old := *q
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return p
}

// DelaySend schedules data to be sent to addr at or after dueTime. Used by
// tests to simulate network latency and reordering without a real network.
func (i *Interface) DelaySend(addr wire.Address, data []byte, dueTime time.Time) {
	heap.Push(&i.delayed, &delayedPacket{dueTime: dueTime, to: addr, data: data})
}

// flushDelayed sends every queued packet whose dueTime has arrived as of
// the interface's current tick time.
func (i *Interface) flushDelayed(now time.Time) {
	for i.delayed.Len() > 0 && !i.delayed[0].dueTime.After(now) {
		p := heap.Pop(&i.delayed).(*delayedPacket)
		_ = i.sock.SendTo(p.to, p.data)
	}
}
