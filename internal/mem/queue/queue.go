// Package queue implements the bounded ring-buffer queue discipline shared
// by every cache's RQ, WQ, PQ and processed queue (spec §4.3).
package queue

import (
	"github.com/sarchlab/hermessim/internal/mem/packet"
)

// RouteBucket partitions entries for duplicate detection: a DDRP request
// and a normal request to the same block must never coalesce as
// duplicates in an upstream queue (spec §4.3).
type RouteBucket int

const (
	BucketInvalid RouteBucket = iota
	BucketViaL2C
	BucketDRAMDirect
)

// BucketOf derives the route bucket a packet belongs to.
func BucketOf(p *packet.Packet) RouteBucket {
	if p.IsDDRP {
		return BucketDRAMDirect
	}
	return BucketViaL2C
}

// MatchFunc decides whether two packets are duplicates for queue
// coalescing purposes.
type MatchFunc func(a, b *packet.Packet) bool

// SameBlockSameRoute is the canonical MatchFunc: duplicates share block
// address, CPU, and route bucket.
func SameBlockSameRoute(a, b *packet.Packet) bool {
	return packet.SameBlock(a, b) && BucketOf(a) == BucketOf(b)
}

// Queue is a fixed-capacity ring buffer of packets awaiting admission to a
// cache pipeline stage.
type Queue struct {
	Name       string
	entries    []*packet.Packet
	head, tail int
	occupancy  int
	capacity   int

	Latency uint64
}

// New creates an empty queue of the given capacity.
func New(name string, capacity int, latency uint64) *Queue {
	return &Queue{
		Name:     name,
		entries:  make([]*packet.Packet, capacity),
		capacity: capacity,
		Latency:  latency,
	}
}

// Full reports whether the queue has no free slots.
func (q *Queue) Full() bool {
	return q.occupancy >= q.capacity
}

// Occupancy returns the number of entries currently queued.
func (q *Queue) Occupancy() int {
	return q.occupancy
}

// Capacity returns the queue's fixed size.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Check performs a linear scan for the first entry match accepts as a
// duplicate of p, returning its index or -1.
func (q *Queue) Check(p *packet.Packet, match MatchFunc) int {
	idx := q.head
	for i := 0; i < q.occupancy; i++ {
		e := q.entries[idx]
		if e != nil && match(p, e) {
			return idx
		}
		idx = (idx + 1) % q.capacity
	}
	return -1
}

// At returns the entry at a given ring index (as returned by Check or
// Head), or nil.
func (q *Queue) At(idx int) *packet.Packet {
	if idx < 0 || idx >= q.capacity {
		return nil
	}
	return q.entries[idx]
}

// Add writes p into the tail slot with event_cycle := max(event_cycle,
// now) + latency. Returns false if the queue is full.
func (q *Queue) Add(p *packet.Packet, now uint64) bool {
	if q.Full() {
		return false
	}
	ec := p.EventCycle
	if now > ec {
		ec = now
	}
	p.EventCycle = ec + q.Latency
	q.entries[q.tail] = p
	q.tail = (q.tail + 1) % q.capacity
	q.occupancy++
	return true
}

// HeadIndex returns the ring index of the head slot.
func (q *Queue) HeadIndex() int {
	return q.head
}

// Head returns the packet at the head of the queue, or nil if empty.
func (q *Queue) Head() *packet.Packet {
	if q.occupancy == 0 {
		return nil
	}
	return q.entries[q.head]
}

// RemoveHead replaces the head slot with an empty sentinel and advances
// head, draining the queue in head-to-tail order.
func (q *Queue) RemoveHead() *packet.Packet {
	if q.occupancy == 0 {
		return nil
	}
	e := q.entries[q.head]
	q.entries[q.head] = nil
	q.head = (q.head + 1) % q.capacity
	q.occupancy--
	return e
}

// RemoveAt removes the entry at idx (used when a request is satisfied
// out of order, e.g. a WQ forward into the RQ head). Remaining entries
// shift to keep the ring contiguous.
func (q *Queue) RemoveAt(idx int) *packet.Packet {
	if idx < 0 || idx >= q.capacity || q.entries[idx] == nil {
		return nil
	}
	removed := q.entries[idx]

	order := make([]*packet.Packet, 0, q.occupancy)
	i := q.head
	for n := 0; n < q.occupancy; n++ {
		if i != idx {
			order = append(order, q.entries[i])
		}
		i = (i + 1) % q.capacity
	}

	for i := range q.entries {
		q.entries[i] = nil
	}
	q.head = 0
	q.tail = 0
	q.occupancy = 0
	for _, e := range order {
		q.entries[q.tail] = e
		q.tail = (q.tail + 1) % q.capacity
		q.occupancy++
	}

	return removed
}

// Ready reports whether the head entry's event_cycle has arrived.
func (q *Queue) Ready(now uint64) bool {
	h := q.Head()
	return h != nil && h.EventCycle <= now
}
