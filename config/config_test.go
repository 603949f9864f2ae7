package config_test

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/hermessim/config"
)

var _ = Describe("Config", func() {
	It("validates the default hierarchy", func() {
		Expect(config.DefaultConfig().Validate()).To(Succeed())
	})

	It("round-trips through Save/Load", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "cfg.json")

		orig := config.DefaultConfig()
		Expect(orig.SaveConfig(path)).To(Succeed())

		loaded, err := config.LoadConfig(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Caches).To(HaveLen(len(orig.Caches)))
		Expect(loaded.Caches[0].Name).To(Equal("L1D"))
	})

	It("rejects an unknown cache_type", func() {
		c := config.DefaultConfig()
		c.Caches[0].CacheType = "bogus"
		Expect(c.Validate()).To(HaveOccurred())
	})

	It("rejects an unknown fill_level", func() {
		c := config.DefaultConfig()
		c.Caches[0].FillLevel = "L7"
		Expect(c.Validate()).To(HaveOccurred())
	})

	It("rejects a zero mshr.size", func() {
		c := config.DefaultConfig()
		c.Caches[0].MSHR.Size = 0
		Expect(c.Validate()).To(HaveOccurred())
	})

	It("clones independently of the original", func() {
		c := config.DefaultConfig()
		clone := c.Clone()
		clone.Caches[0].Name = "mutated"
		Expect(c.Caches[0].Name).To(Equal("L1D"))
	})

	It("converts a JSON cache entry into the internal cache.Config", func() {
		cc := config.DefaultConfig().Caches[0]
		internal, err := cc.ToCacheConfig()
		Expect(err).NotTo(HaveOccurred())
		Expect(internal.Name).To(Equal("L1D"))
		Expect(internal.MSHRSize).To(Equal(8))
	})

	It("looks up a cache entry by name", func() {
		cc, ok := config.DefaultConfig().Cache("L2C")
		Expect(ok).To(BeTrue())
		Expect(cc.FillLevel).To(Equal("L2"))

		_, ok = config.DefaultConfig().Cache("missing")
		Expect(ok).To(BeFalse())
	})

	It("converts the DRAM block into dram.Config", func() {
		dc := config.DefaultConfig().DRAM.ToDRAMConfig()
		Expect(dc.Channels).To(Equal(1))
		Expect(dc.RQSize).To(Equal(32))
	})

	It("rejects a DRAM write-watermark ordering violation", func() {
		c := config.DefaultConfig()
		c.DRAM.WriteLowWatermark = c.DRAM.WriteHighWatermark
		Expect(c.Validate()).To(HaveOccurred())
	})
})
