package policy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/hermessim/internal/dram"
	"github.com/sarchlab/hermessim/internal/mem/cache"
	"github.com/sarchlab/hermessim/internal/mem/packet"
	"github.com/sarchlab/hermessim/internal/mem/policy"
)

func newTestCache(kind cache.Kind, level packet.FillLevel, name string) *cache.Cache {
	return cache.New(int(level)+1, 0, cache.Config{
		Name:               name,
		Kind:               kind,
		Sets:               8,
		Associativity:      4,
		BlockSize:          64,
		SectoringDegree:    1,
		Latency:            1,
		FillLevel:          level,
		ReadQueueSize:      4,
		WriteQueueSize:     4,
		PrefetchQueueSize:  4,
		MSHRSize:           4,
		ProcessedQueueSize: 4,
	}, 1)
}

func newTestPolicy() *policy.Policy {
	return &policy.Policy{
		L1D: newTestCache(cache.KindL1D, packet.L1, "L1D"),
		L2C: newTestCache(cache.KindL2C, packet.L2, "L2C"),
		LLC: newTestCache(cache.KindLLC, packet.LLC, "LLC"),
		DRAM: dram.New(dram.Config{
			Channels: 1, Ranks: 1, BanksPerRank: 1,
			ColumnsPerRow: 1024, BlockSize: 64,
			RQSize: 8, WQSize: 8,
			WriteHighWatermark: 6, WriteLowWatermark: 2,
			TRP: 1, TRCD: 1, TCAS: 1,
			ChannelWidthBytes: 64, CPUFreqMHz: 1, DRAMMTPS: 1,
		}),
		DDRPRequestLatency: 5,
	}
}

var _ = Describe("Policy", func() {
	It("routes sdc_l2c_dram by reserving L1D's MSHR and enqueuing at L2C", func() {
		p := newTestPolicy()
		pkt := packet.New(packet.Load, 0)
		pkt.BlockAddr = 0x1000
		pkt.PAddr = 0x1000
		pkt.Route = packet.RouteSDCL2CDRAM

		res, err := p.PropagateL1DMiss(pkt, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal(policy.Continued))
		Expect(p.L1D.MSHR.Len()).To(Equal(1))
		Expect(p.L2C.RQ.Occupancy()).To(Equal(1))
	})

	It("routes l1d_llc by reserving both L1D and L2C MSHRs and enqueuing at LLC", func() {
		p := newTestPolicy()
		pkt := packet.New(packet.Load, 0)
		pkt.BlockAddr = 0x2000
		pkt.PAddr = 0x2000
		pkt.Route = packet.RouteL1DLLC

		res, err := p.PropagateL1DMiss(pkt, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal(policy.Continued))
		Expect(p.L1D.MSHR.Len()).To(Equal(1))
		Expect(p.L2C.MSHR.Len()).To(Equal(1))
		Expect(p.LLC.RQ.Occupancy()).To(Equal(1))
	})

	It("injects a DDRP packet directly into the DRAM RQ alongside the L2C path", func() {
		p := newTestPolicy()
		pkt := packet.New(packet.Load, 0)
		pkt.BlockAddr = 0x3000
		pkt.PAddr = 0x3000
		pkt.Route = packet.RouteDRAMDDRPRequest

		res, err := p.PropagateL1DMiss(pkt, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal(policy.Continued))
		Expect(p.L2C.RQ.Occupancy()).To(Equal(1))
		Expect(p.DRAM.Occupancy(1, 0x3000)).To(Equal(1))
	})

	It("returns Blocked without mutating the fill path when the terminal queue is full", func() {
		p := newTestPolicy()
		for i := 0; i < 4; i++ {
			filler := packet.New(packet.Load, 0)
			filler.BlockAddr = uint64(0x9000 + i*0x100)
			p.L2C.RQ.Add(filler, 0)
		}

		pkt := packet.New(packet.Load, 0)
		pkt.BlockAddr = 0x4000
		pkt.Route = packet.RouteSDCL2CDRAM

		res, err := p.PropagateL1DMiss(pkt, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal(policy.Blocked))
		Expect(pkt.FillPath.Empty()).To(BeTrue())
	})

	It("rejects an L1D-miss packet with no route as fatal", func() {
		p := newTestPolicy()
		pkt := packet.New(packet.Load, 0)
		pkt.BlockAddr = 0x5000

		_, err := p.PropagateL1DMiss(pkt, 0)
		Expect(err).To(HaveOccurred())
	})
})
