package cache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/hermessim/internal/mem/cache"
	"github.com/sarchlab/hermessim/internal/mem/packet"
)

// newTestCache is a single-set, single-way, unsectored cache: any second
// Fill necessarily evicts the first, which keeps the eviction/writeback
// tests deterministic without needing a full victim-selection scenario.
func newTestCache() *cache.Cache {
	return cache.New(1, 0, cache.Config{
		Name:               "L1D",
		Kind:               cache.KindL1D,
		Sets:               1,
		Associativity:      1,
		BlockSize:          64,
		SectoringDegree:    1,
		Latency:            1,
		FillLevel:          packet.L1,
		ReadQueueSize:      4,
		WriteQueueSize:     4,
		PrefetchQueueSize:  4,
		MSHRSize:           4,
		ProcessedQueueSize: 4,
		ReplacementPolicy:  "lru",
	}, 1)
}

// newSectoredTestCache groups two 64-byte blocks per 128-byte sector.
func newSectoredTestCache() *cache.Cache {
	return cache.New(1, 0, cache.Config{
		Name:               "L2C",
		Kind:               cache.KindL2C,
		Sets:               1,
		Associativity:      1,
		BlockSize:          64,
		SectoringDegree:    2,
		Latency:            1,
		FillLevel:          packet.L2,
		ReadQueueSize:      4,
		WriteQueueSize:     4,
		PrefetchQueueSize:  4,
		MSHRSize:           4,
		ProcessedQueueSize: 4,
		ReplacementPolicy:  "lru",
	}, 1)
}

func loadAt(addr uint64) *packet.Packet {
	pkt := packet.New(packet.Load, 0)
	pkt.PAddr = addr
	pkt.BlockAddr = addr
	return pkt
}

func prefetchAt(addr uint64) *packet.Packet {
	pkt := packet.New(packet.Prefetch, 0)
	pkt.PAddr = addr
	pkt.BlockAddr = addr
	return pkt
}

var _ = Describe("Cache", func() {
	Describe("Lookup and Fill", func() {
		It("misses on an empty cache and hits once filled", func() {
			c := newTestCache()
			_, _, hit := c.Lookup(0x40)
			Expect(hit).To(BeFalse())

			c.Fill(loadAt(0x40), 0, nil)

			_, _, hit = c.Lookup(0x40)
			Expect(hit).To(BeTrue())
		})

		It("reports a miss again after Invalidate", func() {
			c := newTestCache()
			c.Fill(loadAt(0x40), 0, nil)
			c.Invalidate(0x40)

			_, _, hit := c.Lookup(0x40)
			Expect(hit).To(BeFalse())
		})
	})

	Describe("sector validity (invariant C1)", func() {
		It("never leaves a sector partially valid: both blocks arrive and leave together", func() {
			c := newSectoredTestCache()
			c.Fill(loadAt(0x0), 0, nil)

			_, _, hitBlock0 := c.Lookup(0x0)
			_, _, hitBlock1 := c.Lookup(0x40)
			Expect(hitBlock0).To(BeTrue())
			Expect(hitBlock1).To(BeTrue())

			c.Invalidate(0x0)

			_, _, hitBlock0 = c.Lookup(0x0)
			_, _, hitBlock1 = c.Lookup(0x40)
			Expect(hitBlock0).To(BeFalse())
			Expect(hitBlock1).To(BeFalse())
		})

		It("treats the sector's AllValid as false the instant any one block is invalid", func() {
			sec := cache.Sector{Valid: []bool{true, true}}
			Expect(sec.AllValid()).To(BeTrue())

			sec.Valid[1] = false
			Expect(sec.AllValid()).To(BeFalse())
		})

		It("reports AnyDirty true once any block in the sector is dirty", func() {
			sec := cache.Sector{Dirty: []bool{false, false}}
			Expect(sec.AnyDirty()).To(BeFalse())

			sec.Dirty[0] = true
			Expect(sec.AnyDirty()).To(BeTrue())
		})
	})

	Describe("eviction and writeback", func() {
		It("evicts the prior occupant and requests a writeback for a dirty line", func() {
			c := newTestCache()
			c.Fill(loadAt(0x40), 0, nil)
			c.MarkDirty(0x40)

			var wroteAddr uint64
			var wroteData []byte
			wrote := false
			writeback := func(cc *cache.Cache, addr uint64, data []byte) bool {
				wrote = true
				wroteAddr = addr
				wroteData = data
				return true
			}

			evictedAddr, evicted := c.Fill(loadAt(0x80), 0, writeback)

			Expect(evicted).To(BeTrue())
			Expect(evictedAddr).To(Equal(uint64(0x40)))
			Expect(wrote).To(BeTrue())
			Expect(wroteAddr).To(Equal(uint64(0x40)))
			Expect(wroteData).To(HaveLen(64))
			Expect(c.Stats.Writebacks).To(Equal(uint64(1)))
			Expect(c.Stats.Evictions).To(Equal(uint64(1)))
		})

		It("does not request a writeback for a clean eviction", func() {
			c := newTestCache()
			c.Fill(loadAt(0x40), 0, nil)

			wrote := false
			writeback := func(cc *cache.Cache, addr uint64, data []byte) bool {
				wrote = true
				return true
			}
			c.Fill(loadAt(0x80), 0, writeback)

			Expect(wrote).To(BeFalse())
			Expect(c.Stats.Writebacks).To(Equal(uint64(0)))
			Expect(c.Stats.Evictions).To(Equal(uint64(1)))
		})
	})

	Describe("prefetch usefulness accounting", func() {
		It("marks a prefetch useless when it is evicted before any consuming access", func() {
			c := newTestCache()
			c.Fill(prefetchAt(0x40), 0, nil)
			Expect(c.Stats.PrefetchUseful).To(Equal(uint64(1)))

			c.Fill(loadAt(0x80), 0, nil)

			Expect(c.Stats.PrefetchUseless).To(Equal(uint64(1)))
		})

		It("does not mark a prefetch useless once MarkUsed records a consuming access", func() {
			c := newTestCache()
			c.Fill(prefetchAt(0x40), 0, nil)
			c.MarkUsed(0x40)

			c.Fill(loadAt(0x80), 0, nil)

			Expect(c.Stats.PrefetchUseless).To(Equal(uint64(0)))
		})
	})
})
