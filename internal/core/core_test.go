package core_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/hermessim/internal/core"
	"github.com/sarchlab/hermessim/internal/mem/cache"
	"github.com/sarchlab/hermessim/internal/mem/packet"
	"github.com/sarchlab/hermessim/internal/predictor"
)

func smallL1D() *cache.Cache {
	return cache.New(1, 0, cache.Config{
		Name: "L1D", Kind: cache.KindL1D, FillLevel: packet.L1,
		Sets: 8, Associativity: 4, BlockSize: 64, SectoringDegree: 1,
		Latency: 2, MaxReads: 2, MaxWrites: 2,
		ReadQueueSize: 4, WriteQueueSize: 4, PrefetchQueueSize: 4,
		MSHRSize: 4, ProcessedQueueSize: 4, ReplacementPolicy: "lru",
	}, 1)
}

var _ = Describe("Core", func() {
	It("forwards a load from an already-completed store at the same address", func() {
		c := core.New(0, nil, predictor.New(0))

		sqIdx := c.AllocateStore(1, 0x4000)
		c.CompleteStore(sqIdx)

		lqIdx := c.AllocateLoad(2, 0x4000, 64)
		Expect(c.TryForward(lqIdx)).To(BeTrue())
		Expect(c.LQ[lqIdx].Fetched).To(Equal(core.Completed))
	})

	It("records a producer and waits when the store has not completed yet", func() {
		c := core.New(0, nil, predictor.New(0))

		sqIdx := c.AllocateStore(1, 0x5000)
		lqIdx := c.AllocateLoad(2, 0x5000, 64)

		Expect(c.TryForward(lqIdx)).To(BeFalse())
		Expect(c.LQ[lqIdx].ProducerID).To(Equal(sqIdx))
		Expect(c.LQ[lqIdx].Fetched).To(Equal(core.None))

		c.CompleteStore(sqIdx)
		Expect(c.LQ[lqIdx].Fetched).To(Equal(core.Completed))
	})

	It("retires the ROB head in order and trains the predictor once per load", func() {
		c := core.New(0, nil, predictor.New(0))

		lqIdx := c.AllocateLoad(1, 0x6000, 64)
		c.PredictOnL1DMiss(lqIdx)
		c.LQ[lqIdx].WentOffchip = true
		c.ROB[0].Completed = true

		statsBefore := c.Predictor.Stats
		Expect(c.RetireROBHead()).To(BeTrue())
		Expect(c.Predictor.Stats.TruePositive + c.Predictor.Stats.FalseNegative).
			To(Equal(statsBefore.TruePositive + statsBefore.FalseNegative + 1))
		Expect(c.Instructions).To(Equal(uint64(1)))
	})

	It("does not retire the ROB head until it has completed", func() {
		c := core.New(0, nil, predictor.New(0))
		c.AllocateLoad(1, 0x7000, 64)
		Expect(c.RetireROBHead()).To(BeFalse())
	})

	It("issues a load into L1D's read queue and completes the ROB entry once it returns", func() {
		l1d := smallL1D()
		c := core.New(0, l1d, predictor.New(0))

		lqIdx := c.AllocateLoad(1, 0x8000, 64)
		Expect(c.IssueLoad(lqIdx, 0x8000, packet.RouteSDCL2CDRAM, 0)).To(BeTrue())
		Expect(c.InFlight()).To(Equal(1))

		c.PollCompletions()
		Expect(c.RetireROBHead()).To(BeFalse())

		c.LQ[lqIdx].Packet.Returned = true
		c.LQ[lqIdx].Packet.WentOffchip = true
		c.PollCompletions()

		Expect(c.LQ[lqIdx].WentOffchip).To(BeTrue())
		Expect(c.RetireROBHead()).To(BeTrue())
		Expect(c.InFlight()).To(Equal(0))
	})

	It("retires a non-memory instruction immediately", func() {
		c := core.New(0, nil, predictor.New(0))
		c.AllocateNop(1)
		Expect(c.RetireROBHead()).To(BeTrue())
	})
})
