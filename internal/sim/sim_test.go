package sim_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/hermessim/internal/dram"
	"github.com/sarchlab/hermessim/internal/mem/cache"
	"github.com/sarchlab/hermessim/internal/mem/packet"
	"github.com/sarchlab/hermessim/internal/sim"
)

func smallCacheConfig(kind cache.Kind, level packet.FillLevel, name string) cache.Config {
	return cache.Config{
		Name:               name,
		Kind:               kind,
		Sets:               8,
		Associativity:      4,
		BlockSize:          64,
		SectoringDegree:    1,
		Latency:            2,
		FillLevel:          level,
		ReadQueueSize:      4,
		WriteQueueSize:     4,
		PrefetchQueueSize:  4,
		MSHRSize:           4,
		ProcessedQueueSize: 4,
		ReplacementPolicy:  "lru",
	}
}

func smallDRAMConfig() dram.Config {
	return dram.Config{
		Channels: 1, Ranks: 1, BanksPerRank: 1,
		ColumnsPerRow: 1024, BlockSize: 64,
		RQSize: 8, WQSize: 8,
		WriteHighWatermark: 6, WriteLowWatermark: 2,
		TRP: 2, TRCD: 2, TCAS: 2,
		DBusTurnAround:    2,
		ChannelWidthBytes: 64, CPUFreqMHz: 1, DRAMMTPS: 1,
	}
}

var _ = Describe("Simulator", func() {
	It("cascades a demand load from L1D through L2C/LLC/DRAM and back", func() {
		s := sim.New(
			smallCacheConfig(cache.KindLLC, packet.LLC, "LLC"),
			smallDRAMConfig(),
			[]cache.Config{smallCacheConfig(cache.KindL1D, packet.L1, "L1D")},
			[]cache.Config{smallCacheConfig(cache.KindL2C, packet.L2, "L2C")},
			5, 0, 0,
		)

		cpu := s.CPUs[0]
		pkt := packet.New(packet.Load, 0)
		pkt.BlockAddr = 0x8000
		pkt.PAddr = 0x8000
		pkt.Route = packet.RouteSDCL2CDRAM
		Expect(cpu.L1D.RQ.Add(pkt, 0)).To(BeTrue())

		for i := 0; i < 200 && !pkt.Returned; i++ {
			Expect(s.Tick()).To(Succeed())
		}

		Expect(pkt.Returned).To(BeTrue())
		Expect(pkt.FillPath.Empty()).To(BeTrue())

		_, _, hit := cpu.L1D.Lookup(0x8000)
		Expect(hit).To(BeTrue())
	})

	It("bypasses L2C's own queue but still fills it on an l1d_llc route", func() {
		s := sim.New(
			smallCacheConfig(cache.KindLLC, packet.LLC, "LLC"),
			smallDRAMConfig(),
			[]cache.Config{smallCacheConfig(cache.KindL1D, packet.L1, "L1D")},
			[]cache.Config{smallCacheConfig(cache.KindL2C, packet.L2, "L2C")},
			5, 0, 0,
		)

		cpu := s.CPUs[0]
		pkt := packet.New(packet.Load, 0)
		pkt.BlockAddr = 0x9000
		pkt.PAddr = 0x9000
		pkt.Route = packet.RouteL1DLLC
		Expect(cpu.L1D.RQ.Add(pkt, 0)).To(BeTrue())

		for i := 0; i < 200 && !pkt.Returned; i++ {
			Expect(s.Tick()).To(Succeed())
		}

		Expect(pkt.Returned).To(BeTrue())

		_, _, l1dHit := cpu.L1D.Lookup(0x9000)
		Expect(l1dHit).To(BeTrue())
		_, _, l2cHit := cpu.L2C.Lookup(0x9000)
		Expect(l2cHit).To(BeTrue())
	})

	It("transitions out of warmup once the instruction threshold is reached", func() {
		s := sim.New(
			smallCacheConfig(cache.KindLLC, packet.LLC, "LLC"),
			smallDRAMConfig(),
			[]cache.Config{smallCacheConfig(cache.KindL1D, packet.L1, "L1D")},
			[]cache.Config{smallCacheConfig(cache.KindL2C, packet.L2, "L2C")},
			5, 0, 0,
		)
		s.WarmupInstructions = 2

		cpu := s.CPUs[0]
		cpu.Core.AllocateStore(1, 0x100)
		cpu.Core.ROB[0].Completed = true
		cpu.Core.AllocateStore(2, 0x200)
		cpu.Core.ROB[1].Completed = true

		Expect(s.InWarmup()).To(BeTrue())
		Expect(s.Tick()).To(Succeed())
		Expect(s.Tick()).To(Succeed())
		Expect(s.InWarmup()).To(BeFalse())
	})
})
