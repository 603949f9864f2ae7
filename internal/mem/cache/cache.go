package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/hermessim/internal/mem/mshr"
	"github.com/sarchlab/hermessim/internal/mem/packet"
	"github.com/sarchlab/hermessim/internal/mem/queue"
	"github.com/sarchlab/hermessim/internal/simerr"
)

// New constructs a sectored cache. One Akita directory entry tracks one
// sector (SectoringDegree contiguous blocks sharing a tag); sub-block
// valid/dirty state lives alongside it in the Sector slice.
func New(id int, cpu int, config Config, seed int64) *Cache {
	if config.SectoringDegree < 1 {
		config.SectoringDegree = 1
	}
	sectorSize := config.BlockSize * config.SectoringDegree
	totalSectors := config.Sets * config.Associativity

	data := make([][]byte, totalSectors)
	sectors := make([]*Sector, totalSectors)
	for i := range data {
		data[i] = make([]byte, sectorSize)
		sectors[i] = &Sector{
			Valid: make([]bool, config.SectoringDegree),
			Dirty: make([]bool, config.SectoringDegree),
		}
	}

	c := &Cache{
		ID:     id,
		CPU:    cpu,
		config: config,
		directory: akitacache.NewDirectory(
			config.Sets,
			config.Associativity,
			sectorSize,
			akitacache.NewLRUVictimFinder(),
		),
		sectors:     sectors,
		data:        data,
		MSHR:        mshr.New(config.MSHRSize, config.FillLevel, config.Kind == KindLLC),
		RQ:          queue.New(config.Name+".RQ", config.ReadQueueSize, config.Latency+config.IrregularAccessLatency),
		WQ:          queue.New(config.Name+".WQ", config.WriteQueueSize, config.Latency+config.IrregularAccessLatency),
		PQ:          queue.New(config.Name+".PQ", config.PrefetchQueueSize, config.Latency+config.IrregularAccessLatency),
		Processed:   queue.New(config.Name+".processed", config.ProcessedQueueSize, 0),
		replacement: NewReplacementPolicy(config.ReplacementPolicy, seed),
	}

	return c
}

// Config returns the cache's construction parameters.
func (c *Cache) Config() Config { return c.config }

// FillLevel returns the level this cache occupies in the hierarchy.
func (c *Cache) FillLevel() packet.FillLevel { return c.config.FillLevel }

func (c *Cache) sectorAddr(addr uint64) uint64 {
	sectorSize := uint64(c.config.BlockSize * c.config.SectoringDegree)
	return (addr / sectorSize) * sectorSize
}

func (c *Cache) blockIndex(b *akitacache.Block) int {
	return b.SetID*c.config.Associativity + b.WayID
}

func (c *Cache) blockOffsetInSector(addr uint64) int {
	sectorSize := uint64(c.config.BlockSize * c.config.SectoringDegree)
	return int((addr % sectorSize) / uint64(c.config.BlockSize))
}

// Lookup resolves an address to (set, way, hit). A hit requires both a tag
// match and the whole sector being valid (invariant C1): partial sector
// validity is a miss.
func (c *Cache) Lookup(addr uint64) (set, way int, hit bool) {
	sAddr := c.sectorAddr(addr)
	b := c.directory.Lookup(0, sAddr)
	if b == nil || !b.IsValid {
		return 0, 0, false
	}
	sec := c.sectors[c.blockIndex(b)]
	if !sec.AllValid() {
		return b.SetID, b.WayID, false
	}
	return b.SetID, b.WayID, true
}

// MarkDirty sets the dirty bit of the block containing addr, the
// write-hit bit-set step of the per-cycle WQ handling (spec §4.4:
// "hit: write bits dirty").
func (c *Cache) MarkDirty(addr uint64) {
	sAddr := c.sectorAddr(addr)
	b := c.directory.Lookup(0, sAddr)
	if b == nil {
		return
	}
	sec := c.sectors[c.blockIndex(b)]
	idx := c.blockOffsetInSector(addr)
	if idx < len(sec.Dirty) {
		sec.Dirty[idx] = true
	}
	b.IsDirty = true
}

// Invalidate clears the valid bits of the sector containing addr.
func (c *Cache) Invalidate(addr uint64) {
	sAddr := c.sectorAddr(addr)
	b := c.directory.Lookup(0, sAddr)
	if b == nil {
		return
	}
	sec := c.sectors[c.blockIndex(b)]
	for i := range sec.Valid {
		sec.Valid[i] = false
		sec.Dirty[i] = false
	}
	b.IsValid = false
	b.IsDirty = false
}

// WritebackFunc is invoked by Fill when it evicts a sector with a dirty
// block, with the evicted sector's address and a copy of its data; it
// reports whether the writeback was accepted. A nil WritebackFunc drops
// the writeback. Simulator.Tick passes nil to every DrainCompletedFills
// call, so evicted dirty sectors are not written to a lower level.
type WritebackFunc func(c *Cache, addr uint64, data []byte) bool

// Fill installs packet p's line, evicting the current occupant of the
// victim way. Returns the evicted sector's address and whether a valid
// sector was evicted (spec §4.4).
func (c *Cache) Fill(p *packet.Packet, now uint64, writeback WritebackFunc) (evictedAddr uint64, evicted bool) {
	sAddr := c.sectorAddr(p.PAddr)

	victim := c.replacement.Victim(c.directory, setIndexFor(c, sAddr))
	if victim == nil {
		victim = c.directory.FindVictim(sAddr)
	}
	if victim == nil {
		return 0, false
	}

	sec := c.sectors[c.blockIndex(victim)]

	if victim.IsValid {
		evicted = true
		evictedAddr = victim.Tag
		c.Stats.Evictions++
		if sec.AnyDirty() && writeback != nil {
			data := make([]byte, len(c.data[c.blockIndex(victim)]))
			copy(data, c.data[c.blockIndex(victim)])
			if writeback(c, evictedAddr, data) {
				c.Stats.Writebacks++
			}
		}
		if sec.Prefetch && !sec.Used {
			c.Stats.PrefetchUseful--
			c.Stats.PrefetchUseless++
			sec.Useless++
		}
	}

	victim.Tag = sAddr
	victim.IsValid = true
	victim.IsDirty = false

	for i := range sec.Valid {
		sec.Valid[i] = true
		sec.Dirty[i] = false
	}
	sec.Prefetch = p.Type == packet.Prefetch
	sec.Used = false
	sec.ServedFrom = servedFromLevel(p)
	sec.InstrMerged = false

	if sec.Prefetch {
		c.Stats.PrefetchUseful++ // counted useful unless evicted unused later
	} else {
		sec.Useful++
	}

	c.directory.Visit(victim)
	c.replacement.OnAccess(AccessDescriptor{
		CPU: p.CPU, Set: victim.SetID, Way: victim.WayID,
		FullAddr: p.PAddr, Type: int(p.Type), Hit: false, IsData: true,
		LQIndex: p.LQIndex,
	})

	c.MSHR.Clear(p)

	return evictedAddr, evicted
}

func servedFromLevel(p *packet.Packet) packet.FillLevel {
	if top, ok := p.FillPath.Top(); ok {
		return top.Level
	}
	return p.FillLevel
}

func setIndexFor(c *Cache, sAddr uint64) int {
	b := c.directory.Lookup(0, sAddr)
	if b != nil {
		return b.SetID
	}
	sectorSize := uint64(c.config.BlockSize * c.config.SectoringDegree)
	numSets := uint64(c.config.Sets)
	return int((sAddr / sectorSize) % numSets)
}

// MarkUsed records that a filled line was actually read/written, used for
// the prefetch-usefulness-by-location accounting (spec §9 supplement).
func (c *Cache) MarkUsed(addr uint64) {
	sAddr := c.sectorAddr(addr)
	b := c.directory.Lookup(0, sAddr)
	if b == nil {
		return
	}
	c.sectors[c.blockIndex(b)].Used = true
}

// ReturnData implements the return-data contract (spec §4.4): locate the
// MSHR by (cpu, block address), mark it Completed, schedule it for fill at
// now+latency; DrainCompletedFills later pops this cache off the packet's
// fill path. It is fatal for the packet's fill-path top to name a
// different cache than this one.
func (c *Cache) ReturnData(p *packet.Packet, now uint64) error {
	top, ok := p.FillPath.Top()
	if !ok || top.CacheID != c.ID {
		return simerr.New("inconsistent fill_path on return-data", p.CPU, p.BlockAddr, p.Type.String(), p.FillLevel.String())
	}

	if entry, ok := c.MSHR.Find(p); ok {
		entry.State = mshr.Completed
	}

	p.EventCycle = now + c.config.Latency

	c.pendingFills = append(c.pendingFills, p)
	return nil
}

// DrainCompletedFills installs every packet whose scheduled fill cycle has
// arrived, pops this cache off its fill path, and forwards it via
// ReturnNotify to whatever is now on top of the stack (phase 1 of operate,
// spec §4.4).
func (c *Cache) DrainCompletedFills(now uint64, writeback WritebackFunc) error {
	remaining := c.pendingFills[:0]
	for _, p := range c.pendingFills {
		if p.EventCycle > now {
			remaining = append(remaining, p)
			continue
		}

		if _, err := p.FillPath.Pop(); err != nil {
			return err
		}

		if !p.IsDDRP {
			c.Fill(p, now, writeback)
		}

		if c.ReturnNotify != nil {
			c.ReturnNotify(c, p)
		}
	}
	c.pendingFills = remaining
	return nil
}
