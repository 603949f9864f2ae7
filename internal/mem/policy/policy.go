// Package policy is the sole authority on where an L1D miss goes (spec
// §4.6). It holds no state of its own beyond the cache/DRAM handles wired
// in by the Simulator; every cache's MissHandler/ReturnNotify closure
// delegates here, keeping internal/mem/cache free of upward references.
package policy

import (
	"github.com/sarchlab/hermessim/internal/dram"
	"github.com/sarchlab/hermessim/internal/mem/cache"
	"github.com/sarchlab/hermessim/internal/mem/mshr"
	"github.com/sarchlab/hermessim/internal/mem/packet"
	"github.com/sarchlab/hermessim/internal/simerr"
)

// Result is propagate_miss's outcome: Continued means the packet was
// accepted and is now in flight; Blocked means some queue or MSHR was
// full and the caller should retry this same packet next cycle.
type Result int

const (
	Continued Result = iota
	Blocked
)

// Policy wires together the fixed L1D/L2C/LLC/DRAM hierarchy for one CPU
// (LLC and DRAM are shared across CPUs, matching spec §4.1).
type Policy struct {
	L1D  *cache.Cache
	L2C  *cache.Cache
	LLC  *cache.Cache
	DRAM *dram.Controller

	// DDRPRequestLatency is the configurable "out-of-band side-path"
	// latency added to now when building a DDRP packet (spec §4.6).
	DDRPRequestLatency uint64
}

// PropagateL1DMiss dispatches an L1D-miss packet down one of the three
// named routes (spec §4.6's route table).
func (p *Policy) PropagateL1DMiss(pkt *packet.Packet, now uint64) (Result, error) {
	switch pkt.Route {
	case packet.RouteSDCL2CDRAM:
		return p.routeViaL2C(pkt, now)
	case packet.RouteL1DLLC:
		return p.routeBypassL2C(pkt, now)
	case packet.RouteDRAMDDRPRequest:
		return p.routeWithDDRP(pkt, now)
	default:
		return Blocked, simerr.New("l1d miss packet carries no route", pkt.CPU, pkt.BlockAddr, pkt.Type.String(), pkt.FillLevel.String())
	}
}

// routeViaL2C is `sdc_l2c_dram`: L1D reserves an MSHR and the packet is
// enqueued into L2C's matching queue. L2C does not reserve its own MSHR
// or join the fill path here — it only does so if it actually misses,
// via its own MissHandler (PropagateMiss), since a queue hit at L2C
// never needs L2C to be filled, only L1D.
func (p *Policy) routeViaL2C(pkt *packet.Packet, now uint64) (Result, error) {
	if targetQueue(p.L2C, pkt).Full() {
		return Blocked, nil
	}

	res, err := reserveMSHR(p.L1D, pkt)
	if res != Continued || err != nil {
		return res, err
	}
	if err := pkt.FillPath.Push(fillEntry(p.L1D, pkt)); err != nil {
		return Blocked, err
	}

	targetQueue(p.L2C, pkt).Add(pkt, now)
	return Continued, nil
}

// routeBypassL2C is `l1d_llc`: both L1D and L2C reserve MSHRs (matching
// the route table's "MSHRs reserved: L1D, L2C") and join the fill path,
// but the packet is enqueued directly at LLC, skipping L2C's own
// queues. LLC itself is not pre-pushed: the cache actually holding the
// packet always decides its own hit/miss and, on miss, pushes itself
// lazily — pre-pushing it here would collide with PropagateLLCMiss's own
// push if LLC misses.
func (p *Policy) routeBypassL2C(pkt *packet.Packet, now uint64) (Result, error) {
	if targetQueue(p.LLC, pkt).Full() {
		return Blocked, nil
	}

	if res, err := reserveMSHR(p.L1D, pkt); res != Continued || err != nil {
		return res, err
	}
	if res, err := reserveMSHR(p.L2C, pkt); res != Continued || err != nil {
		return res, err
	}
	if err := pkt.FillPath.Push(fillEntry(p.L1D, pkt)); err != nil {
		return Blocked, err
	}
	if err := pkt.FillPath.Push(fillEntry(p.L2C, pkt)); err != nil {
		return Blocked, err
	}

	targetQueue(p.LLC, pkt).Add(pkt, now)
	return Continued, nil
}

// routeWithDDRP is `dram_ddrp_request`: the demand takes the normal L2C
// path, and a cloned speculative packet races it directly into the DRAM
// RQ (spec §4.6, §4.5's DDRP merge semantics).
func (p *Policy) routeWithDDRP(pkt *packet.Packet, now uint64) (Result, error) {
	res, err := p.routeViaL2C(pkt, now)
	if res != Continued || err != nil {
		return res, err
	}

	ddrp := pkt.Clone()
	ddrp.Type = packet.Prefetch
	ddrp.FillLevel = packet.DDRP
	ddrp.IsDDRP = true
	ddrp.EventCycle = now + p.DDRPRequestLatency
	ddrp.FillPath = packet.FillPath{{CacheID: -1, Level: packet.DRAM, Cpu: pkt.CPU}}

	// A full DRAM RQ silently drops the DDRP: this is not an error, the
	// demand is still traveling the normal path (spec §4.6).
	if _, err := p.DRAM.AddRQ(ddrp, now); err != nil {
		return Continued, err
	}
	return Continued, nil
}

// PropagateMiss is the generic cascade used by every level below L1D: if
// eligible, push self onto the fill path, allocate an MSHR, and enqueue
// into the next lower memory's matching queue (spec §9's observation that
// the three named routes only govern the L1D-miss hop).
func PropagateMiss(c *cache.Cache, next *cache.Cache, pkt *packet.Packet, now uint64) (Result, error) {
	if targetQueue(next, pkt).Full() {
		return Blocked, nil
	}
	if res, err := reserveMSHR(c, pkt); res != Continued || err != nil {
		return res, err
	}
	if err := pkt.FillPath.Push(fillEntry(c, pkt)); err != nil {
		return Blocked, err
	}
	targetQueue(next, pkt).Add(pkt, now)
	return Continued, nil
}

// PropagateLLCMiss is PropagateMiss's terminal step: LLC's miss cascades
// into the DRAM controller's RQ/WQ instead of another cache's queues.
func PropagateLLCMiss(llc *cache.Cache, d *dram.Controller, pkt *packet.Packet, now uint64) (Result, error) {
	if res, err := reserveMSHR(llc, pkt); res != Continued || err != nil {
		return res, err
	}
	if err := pkt.FillPath.Push(fillEntry(llc, pkt)); err != nil {
		return Blocked, err
	}

	var ok bool
	var err error
	if pkt.Type == packet.Writeback {
		ok, err = d.AddWQ(pkt, now)
	} else {
		ok, err = d.AddRQ(pkt, now)
	}
	if err != nil {
		return Blocked, err
	}
	if !ok {
		return Blocked, nil
	}
	pkt.WentOffchip = true
	return Continued, nil
}

// reserveMSHR allocates c's MSHR for pkt. Allocate itself enforces the
// "fill_level ≤ cache.fill_level" eligibility rule (spec §4.6) and
// returns NotEligible as a silent no-op rather than an error; a full
// table is back-pressure (Blocked), not a fatal condition, since the
// caller retries the whole route next cycle.
func reserveMSHR(c *cache.Cache, pkt *packet.Packet) (Result, error) {
	_, result, err := c.MSHR.Allocate(pkt)
	if err != nil {
		return Blocked, err
	}
	if result == mshr.Full {
		return Blocked, nil
	}
	return Continued, nil
}

func fillEntry(c *cache.Cache, pkt *packet.Packet) packet.FillPathEntry {
	return packet.FillPathEntry{
		CacheID: c.ID,
		Level:   c.FillLevel(),
		Cpu:     pkt.CPU,
		IsLLC:   c.Config().Kind == cache.KindLLC,
	}
}

func targetQueue(c *cache.Cache, pkt *packet.Packet) interface{ Full() bool; Add(*packet.Packet, uint64) bool } {
	switch pkt.Type {
	case packet.Writeback:
		return c.WQ
	case packet.Prefetch:
		return c.PQ
	default:
		return c.RQ
	}
}
