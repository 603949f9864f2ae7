// Package sim implements the top-level per-cycle simulator loop (spec
// §5): a single-threaded cooperative discrete-event scheduler driving a
// configurable number of cores against a shared LLC and DRAM controller.
package sim

import (
	"time"

	"github.com/sarchlab/hermessim/internal/core"
	"github.com/sarchlab/hermessim/internal/dram"
	"github.com/sarchlab/hermessim/internal/mem/cache"
	"github.com/sarchlab/hermessim/internal/mem/packet"
	"github.com/sarchlab/hermessim/internal/mem/policy"
	"github.com/sarchlab/hermessim/internal/predictor"
)

// CPU bundles one simulated core with its private L1D/L2C and the
// fill-path policy wired to the shared LLC/DRAM.
type CPU struct {
	Core   *core.Core
	L1D    *cache.Cache
	L2C    *cache.Cache
	Policy *policy.Policy
}

// Simulator drives an arena of caches across CPUs sharing one LLC and
// one DRAM controller (spec §4.1, §5). Caches never hold pointers to one
// another; the Simulator is the only place a cache ID resolves back to a
// *cache.Cache (the "simulator arena" pattern, spec §9).
type Simulator struct {
	CPUs []*CPU
	LLC  *cache.Cache
	DRAM *dram.Controller

	Now uint64

	WarmupInstructions     uint64
	SimulationInstructions uint64
	warmupDone             bool

	HeartbeatEvery uint64
	lastHeartbeat  uint64
	started        time.Time

	// Heartbeat is invoked with the Simulator's current stats at the
	// configured cadence (spec §6). The Simulator never writes to
	// stdout itself so cmd/hermessim can format output with logrus.
	Heartbeat func(s *Simulator)

	cachesByID  map[int]*cache.Cache
	nextCacheID int
}

// New constructs a Simulator with len(l1dConfigs) CPUs, each owning its
// own L1D/L2C/predictor, sharing one LLC and one DRAM controller.
func New(llcConfig cache.Config, dramConfig dram.Config, l1dConfigs, l2cConfigs []cache.Config, ddrpLatency uint64, predictorThreshold int, heartbeatEvery uint64) *Simulator {
	s := &Simulator{
		HeartbeatEvery: heartbeatEvery,
		started:        time.Now(),
		cachesByID:     make(map[int]*cache.Cache),
	}

	s.LLC = cache.New(s.allocID(), -1, llcConfig, 1)
	s.register(s.LLC)

	s.DRAM = dram.New(dramConfig)
	s.DRAM.OnReturn = s.returnUpward

	s.LLC.ReturnNotify = func(cc *cache.Cache, p *packet.Packet) { s.returnUpward(p) }
	s.LLC.MissHandler = func(cc *cache.Cache, p *packet.Packet) (bool, error) {
		res, err := policy.PropagateLLCMiss(cc, s.DRAM, p, s.Now)
		return res == policy.Blocked, err
	}

	for i := range l1dConfigs {
		l1d := cache.New(s.allocID(), i, l1dConfigs[i], int64(i)+1)
		l2c := cache.New(s.allocID(), i, l2cConfigs[i], int64(i)+2)
		s.register(l1d)
		s.register(l2c)

		pred := predictor.New(predictorThreshold)
		cc := core.New(i, l1d, pred)

		pol := &policy.Policy{L1D: l1d, L2C: l2c, LLC: s.LLC, DRAM: s.DRAM, DDRPRequestLatency: ddrpLatency}

		l1d.ReturnNotify = func(c *cache.Cache, p *packet.Packet) { s.returnUpward(p) }
		l2c.ReturnNotify = func(c *cache.Cache, p *packet.Packet) { s.returnUpward(p) }

		l1d.MissHandler = func(c *cache.Cache, p *packet.Packet) (bool, error) {
			res, err := pol.PropagateL1DMiss(p, s.Now)
			return res == policy.Blocked, err
		}
		l2c.MissHandler = func(c *cache.Cache, p *packet.Packet) (bool, error) {
			res, err := policy.PropagateMiss(c, s.LLC, p, s.Now)
			return res == policy.Blocked, err
		}

		s.CPUs = append(s.CPUs, &CPU{Core: cc, L1D: l1d, L2C: l2c, Policy: pol})
	}

	return s
}

func (s *Simulator) allocID() int {
	s.nextCacheID++
	return s.nextCacheID
}

func (s *Simulator) register(c *cache.Cache) {
	s.cachesByID[c.ID] = c
}

// returnUpward resolves the cache now on top of p's fill path and hands
// it the data via ReturnData, so that cache's own DrainCompletedFills
// will install it once that cache's latency has elapsed (spec §4.4's
// return-data unwind). An empty
// fill path means the packet has fully returned.
func (s *Simulator) returnUpward(p *packet.Packet) {
	if p.FillPath.Empty() {
		p.Returned = true
		return
	}
	top, _ := p.FillPath.Top()
	next, ok := s.cachesByID[top.CacheID]
	if !ok {
		return
	}
	_ = next.ReturnData(p, s.Now)
}

// Tick advances the simulation by one cycle: each CPU retires its ROB
// head, drains completed cache fills, admits ready queue heads, then the
// shared LLC and DRAM operate (spec §5's per-cycle top-level order).
func (s *Simulator) Tick() error {
	for _, cpu := range s.CPUs {
		cpu.Core.PollCompletions()
		for cpu.Core.RetireROBHead() {
		}

		if err := cpu.L1D.DrainCompletedFills(s.Now, nil); err != nil {
			return err
		}
		if err := cpu.L2C.DrainCompletedFills(s.Now, nil); err != nil {
			return err
		}

		if err := s.admit(cpu.L1D); err != nil {
			return err
		}
		if err := s.admit(cpu.L2C); err != nil {
			return err
		}

		cpu.Core.Cycles++
	}

	if err := s.LLC.DrainCompletedFills(s.Now, nil); err != nil {
		return err
	}
	if err := s.admit(s.LLC); err != nil {
		return err
	}

	if err := s.DRAM.Operate(s.Now); err != nil {
		return err
	}

	s.checkHeartbeat()
	s.Now++
	return nil
}

type readyQueue interface {
	Ready(uint64) bool
	Head() *packet.Packet
	RemoveHead() *packet.Packet
}

// admit drains c's WQ, RQ and PQ in that order — writes before reads,
// reads before prefetches (spec §4.4's operate phase order, §5's
// concurrency rule) — honoring the cache's per-cycle writes_avail/
// reads_avail budgets: WQ gets up to MaxWrites accesses; RQ and PQ
// share a MaxReads budget, RQ draining first and PQ only getting what
// RQ left unused.
func (s *Simulator) admit(c *cache.Cache) error {
	cfg := c.Config()

	writes := cfg.MaxWrites
	if writes < 1 {
		writes = 1
	}
	for writes > 0 {
		ok, err := s.admitOne(c, c.WQ, true)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		writes--
	}

	reads := cfg.MaxReads
	if reads < 1 {
		reads = 1
	}
	for _, q := range []readyQueue{c.RQ, c.PQ} {
		for reads > 0 {
			ok, err := s.admitOne(c, q, false)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			reads--
		}
	}
	return nil
}

// admitOne resolves q's head against c: a hit returns immediately; a
// miss defers to c.MissHandler (the fill-path policy). It reports
// whether a budget slot was consumed — false (with a nil error) means
// the head is blocked and stays queued for retry next cycle, and the
// caller should stop draining q for this cycle (spec §4.3, §4.6).
func (s *Simulator) admitOne(c *cache.Cache, q readyQueue, isWrite bool) (bool, error) {
	if !q.Ready(s.Now) {
		return false, nil
	}
	p := q.Head()
	if p == nil {
		return false, nil
	}

	_, _, hit := c.Lookup(p.BlockAddr)
	if isWrite {
		c.Stats.Writes++
	} else {
		c.Stats.Reads++
	}

	if hit {
		c.Stats.Hits++
		q.RemoveHead()
		c.MarkUsed(p.BlockAddr)
		if isWrite {
			c.MarkDirty(p.BlockAddr)
		}
		// If this cache is on top of the fill path, consume that entry
		// without calling Fill, since the data is already resident. The
		// routes in internal/mem/policy never leave a packet's own cache
		// on top when it reaches that cache's queue (the l1d_llc bypass
		// pre-pushes L2C but enqueues at LLC), so returnUpward normally
		// hands the data straight to the cache that missed.
		if top, ok := p.FillPath.Top(); ok && top.CacheID == c.ID {
			_, _ = p.FillPath.Pop()
		}
		s.returnUpward(p)
		return true, nil
	}

	c.Stats.Misses++
	blocked, err := c.MissHandler(c, p)
	if err != nil {
		return false, err
	}
	if blocked {
		return false, nil
	}
	q.RemoveHead()
	return true, nil
}

func (s *Simulator) checkHeartbeat() {
	if s.HeartbeatEvery == 0 || s.Heartbeat == nil {
		return
	}
	total := uint64(0)
	for _, cpu := range s.CPUs {
		total += cpu.Core.Instructions
	}
	if total-s.lastHeartbeat >= s.HeartbeatEvery {
		s.lastHeartbeat = total
		s.Heartbeat(s)
	}
}

// TotalInstructions sums retired instructions across every CPU.
func (s *Simulator) TotalInstructions() uint64 {
	total := uint64(0)
	for _, cpu := range s.CPUs {
		total += cpu.Core.Instructions
	}
	return total
}

// InWarmup reports whether the simulator is still in its warmup phase
// (spec §6): fewer than WarmupInstructions have retired across all CPUs.
// No counter is reset when warmup ends; Core.IPC and the cache and DRAM
// statistics include the warmup instructions and cycles.
func (s *Simulator) InWarmup() bool {
	if s.warmupDone {
		return false
	}
	total := uint64(0)
	for _, cpu := range s.CPUs {
		total += cpu.Core.Instructions
	}
	if total >= s.WarmupInstructions {
		s.warmupDone = true
		return false
	}
	return true
}

// WallClockMinutes reports elapsed wall-clock time since the Simulator
// was constructed, for the heartbeat line (spec §6).
func (s *Simulator) WallClockMinutes() float64 {
	return time.Since(s.started).Minutes()
}
