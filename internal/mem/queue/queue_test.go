package queue_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/hermessim/internal/mem/packet"
	"github.com/sarchlab/hermessim/internal/mem/queue"
)

var _ = Describe("Queue", func() {
	It("drains in head-to-tail order", func() {
		q := queue.New("RQ", 4, 5)
		a := packet.New(packet.Load, 0)
		a.BlockAddr = 1
		b := packet.New(packet.Load, 0)
		b.BlockAddr = 2

		Expect(q.Add(a, 0)).To(BeTrue())
		Expect(q.Add(b, 0)).To(BeTrue())
		Expect(q.RemoveHead()).To(Equal(a))
		Expect(q.RemoveHead()).To(Equal(b))
		Expect(q.RemoveHead()).To(BeNil())
	})

	It("rejects Add when full", func() {
		q := queue.New("RQ", 1, 1)
		a := packet.New(packet.Load, 0)
		Expect(q.Add(a, 0)).To(BeTrue())
		b := packet.New(packet.Load, 0)
		Expect(q.Add(b, 0)).To(BeFalse())
	})

	It("sets event_cycle to max(event_cycle, now) + latency", func() {
		q := queue.New("RQ", 2, 10)
		p := packet.New(packet.Load, 0)
		p.EventCycle = 3
		q.Add(p, 7)
		Expect(p.EventCycle).To(Equal(uint64(17)))
	})

	It("does not coalesce a DDRP and a normal request to the same block", func() {
		q := queue.New("RQ", 4, 1)
		demand := packet.New(packet.Load, 0)
		demand.BlockAddr = 0x1000
		q.Add(demand, 0)

		ddrp := packet.New(packet.Prefetch, 0)
		ddrp.BlockAddr = 0x1000
		ddrp.IsDDRP = true

		idx := q.Check(ddrp, queue.SameBlockSameRoute)
		Expect(idx).To(Equal(-1))
	})

	It("finds a matching duplicate via Check", func() {
		q := queue.New("RQ", 4, 1)
		a := packet.New(packet.Load, 0)
		a.BlockAddr = 0x2000
		q.Add(a, 0)

		b := packet.New(packet.Load, 0)
		b.BlockAddr = 0x2000
		idx := q.Check(b, queue.SameBlockSameRoute)
		Expect(idx).NotTo(Equal(-1))
		Expect(q.At(idx)).To(Equal(a))
	})
})
