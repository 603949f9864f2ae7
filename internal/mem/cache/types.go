// Package cache implements the sectored cache used at every level of the
// hierarchy (L1D, L2C, LLC, SDC): tag/data arrays, sector valid/dirty
// bits, replacement, and the fill/read/write/prefetch handlers of spec
// §4.4. The tag/victim substrate is built on the Akita cache directory,
// the same way the teacher repo's flat (unsectored) L1 cache is.
package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/hermessim/internal/mem/mshr"
	"github.com/sarchlab/hermessim/internal/mem/packet"
	"github.com/sarchlab/hermessim/internal/mem/queue"
)

// Kind names the cache_type config key (spec §6).
type Kind string

const (
	KindITLB Kind = "itlb"
	KindDTLB Kind = "dtlb"
	KindSTLB Kind = "stlb"
	KindL1I  Kind = "l1i"
	KindL1D  Kind = "l1d"
	KindL2C  Kind = "l2c"
	KindLLC  Kind = "llc"
	KindSDC  Kind = "sdc"
)

// Config describes one cache level's construction parameters (spec §6).
type Config struct {
	Name string
	Kind Kind

	Sets            int
	Associativity   int
	BlockSize       int
	SectoringDegree int // blocks per sector; 1 disables sectoring

	Latency   uint64
	FillLevel packet.FillLevel

	MaxReads  int
	MaxWrites int

	ReadQueueSize      int
	WriteQueueSize     int
	PrefetchQueueSize  int
	MSHRSize           int
	ProcessedQueueSize int

	// IrregularAccessLatency is added to the base latency when admitting
	// into RQ/WQ/PQ. It is a property of the L1D only (spec §4.3).
	IrregularAccessLatency uint64

	ReplacementPolicy string
}

// Sector groups SectoringDegree contiguous blocks sharing one tag.
type Sector struct {
	Tag         uint64
	Valid       []bool
	Dirty       []bool
	Prefetch    bool
	Used        bool
	ServedFrom  packet.FillLevel
	InstrMerged bool

	Useful  uint64
	Useless uint64
}

// AllValid reports whether every block in the sector is valid — a sector
// is valid as a whole iff every block in it is (invariant C1).
func (s *Sector) AllValid() bool {
	for _, v := range s.Valid {
		if !v {
			return false
		}
	}
	return true
}

// AnyDirty reports whether any block in the sector carries unwritten data.
func (s *Sector) AnyDirty() bool {
	for _, d := range s.Dirty {
		if d {
			return true
		}
	}
	return false
}

// Cache is a sectored cache instance at one level of the hierarchy.
type Cache struct {
	ID     int
	CPU    int // -1 for a cache shared across CPUs (LLC)
	config Config

	directory *akitacache.DirectoryImpl
	sectors   []*Sector
	data      [][]byte

	MSHR *mshr.Table

	RQ        *queue.Queue
	WQ        *queue.Queue
	PQ        *queue.Queue
	Processed *queue.Queue

	replacement ReplacementPolicy
	pendingFills []*packet.Packet

	Stats Statistics

	// MissHandler is invoked when RQ/WQ/PQ processing misses: it is the
	// fill-path policy's propagate_miss entry point (spec §4.6), wired in
	// by the Simulator to break the cache<->policy import cycle.
	MissHandler func(c *Cache, p *packet.Packet) (blocked bool, err error)

	// ReturnNotify is invoked when this cache pops itself off a packet's
	// fill path and must notify whatever is above it (spec §4.4's
	// return_data contract / fill-path unwind).
	ReturnNotify func(c *Cache, p *packet.Packet)
}

// Statistics accumulates per-cache counters.
type Statistics struct {
	Reads, Writes, Hits, Misses   uint64
	Evictions, Writebacks         uint64
	PrefetchUseful, PrefetchUseless uint64
}
