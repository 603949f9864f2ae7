// Package mshr implements the per-cache Miss Status Holding Register table
// (spec §4.2): a fixed-capacity set of in-flight misses that coalesces
// duplicate requests to the same cache block.
package mshr

import (
	"github.com/sarchlab/hermessim/internal/mem/packet"
	"github.com/sarchlab/hermessim/internal/simerr"
)

// State is the lifecycle state of one MSHR entry.
type State int

const (
	Invalid State = iota
	Inflight
	Completed
)

// Entry is a Packet tracked by one MSHR slot.
type Entry struct {
	Packet *packet.Packet
	State  State
}

// AllocateResult is the outcome of Allocate.
type AllocateResult int

const (
	Allocated AllocateResult = iota
	Coalesced
	Full
	NotEligible
)

// Table is a fixed-capacity MSHR table for one cache.
type Table struct {
	cacheLevel packet.FillLevel
	isLLC      bool
	entries    []*Entry
	capacity   int
}

// New creates an MSHR table of the given capacity for a cache at level.
// isLLC relaxes the eligibility check so metadata refills can also target
// the LLC (spec §4.2).
func New(capacity int, level packet.FillLevel, isLLC bool) *Table {
	return &Table{
		cacheLevel: level,
		isLLC:      isLLC,
		capacity:   capacity,
	}
}

// Full reports whether every MSHR slot is occupied.
func (t *Table) Full() bool {
	return len(t.entries) >= t.capacity
}

// Len returns the number of in-flight MSHR entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Find returns the MSHR entry matching p's (cpu, block address), if any.
func (t *Table) Find(p *packet.Packet) (*Entry, bool) {
	for _, e := range t.entries {
		if packet.SameBlock(e.Packet, p) {
			return e, true
		}
	}
	return nil, false
}

// eligible implements the Allocate precondition: packet.fill_level <=
// this_cache.fill_level, with an exception for metadata refills at the LLC.
func (t *Table) eligible(p *packet.Packet) bool {
	if p.FillLevel == packet.Metadata && t.isLLC {
		return true
	}
	if !p.FillLevel.Ordered() || !t.cacheLevel.Ordered() {
		return p.FillLevel == t.cacheLevel
	}
	return p.FillLevel <= t.cacheLevel
}

// Allocate reserves an MSHR entry for p, or coalesces p into an existing
// entry for the same block (spec §4.2, invariant M1).
func (t *Table) Allocate(p *packet.Packet) (*Entry, AllocateResult, error) {
	if !t.eligible(p) {
		return nil, NotEligible, nil
	}

	if existing, ok := t.Find(p); ok {
		if err := t.mergeOn(p, existing); err != nil {
			return nil, Coalesced, err
		}
		return existing, Coalesced, nil
	}

	if t.Full() {
		return nil, Full, nil
	}

	e := &Entry{Packet: p, State: Inflight}
	t.entries = append(t.entries, e)
	return e, Allocated, nil
}

// Clear removes the MSHR entry tracking p once its fill level has been
// installed at or above this cache's level.
func (t *Table) Clear(p *packet.Packet) {
	for i, e := range t.entries {
		if e.Packet == p || packet.SameBlock(e.Packet, p) {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

// mergeOn dispatches to the type-specific merge handler based on the
// incoming packet's type.
func (t *Table) mergeOn(src *packet.Packet, dst *Entry) error {
	switch src.Type {
	case packet.Writeback:
		return t.MergeOnWriteback(src, dst)
	case packet.Prefetch:
		return t.MergeOnPrefetch(src, dst)
	default:
		return t.MergeOnRead(src, dst)
	}
}

// MergeOnRead implements the read-path coalesce (spec §4.2): dependent
// bitsets accumulate, fill_level lowers to the minimum of the two, and the
// fill path is merged. A demand merged onto a prefetch MSHR adopts the
// prefetch's returned/event_cycle/fill_path/pf_origin_level/prediction
// metadata, since a demand can never be silently dropped.
func (t *Table) MergeOnRead(src *packet.Packet, dst *Entry) error {
	dp := dst.Packet

	if src.Type != packet.Prefetch && dp.Type == packet.Prefetch {
		preservedReturned := dp.Returned
		preservedEventCycle := dp.EventCycle
		preservedFillPath := dp.FillPath
		preservedPFOrigin := dp.PFOriginLevel
		preservedPred := dp.Pred

		dp.LQIndexDependOnMe = dp.LQIndexDependOnMe.Union(src.LQIndexDependOnMe)
		dp.SQIndexDependOnMe = dp.SQIndexDependOnMe.Union(src.SQIndexDependOnMe)
		dp.ROBIndexDependOnMe = dp.ROBIndexDependOnMe.Union(src.ROBIndexDependOnMe)
		if src.LQIndex >= 0 {
			dp.LQIndexDependOnMe.Add(uint32(src.LQIndex))
		}

		dp.Type = src.Type
		dp.CPU = src.CPU
		dp.IP = src.IP
		dp.LQIndex = src.LQIndex

		dp.Returned = preservedReturned
		dp.EventCycle = preservedEventCycle
		dp.FillPath = preservedFillPath
		dp.PFOriginLevel = preservedPFOrigin
		dp.Pred = preservedPred
	} else {
		dp.LQIndexDependOnMe = dp.LQIndexDependOnMe.Union(src.LQIndexDependOnMe)
		dp.SQIndexDependOnMe = dp.SQIndexDependOnMe.Union(src.SQIndexDependOnMe)
		dp.ROBIndexDependOnMe = dp.ROBIndexDependOnMe.Union(src.ROBIndexDependOnMe)
		if src.Type == packet.RFO {
			if src.SQIndex >= 0 {
				dp.SQIndexDependOnMe.Add(uint32(src.SQIndex))
			}
		} else if src.LQIndex >= 0 {
			dp.LQIndexDependOnMe.Add(uint32(src.LQIndex))
		}
	}

	if src.FillLevel < dp.FillLevel {
		dp.FillLevel = src.FillLevel
	}

	if _, err := dp.FillPath.Merge(src.FillPath); err != nil {
		return err
	}

	return nil
}

// MergeOnWriteback implements the writeback-path coalesce: same as
// MergeOnRead but without dependent-set accumulation.
func (t *Table) MergeOnWriteback(src *packet.Packet, dst *Entry) error {
	dp := dst.Packet
	if src.FillLevel < dp.FillLevel {
		dp.FillLevel = src.FillLevel
	}
	_, err := dp.FillPath.Merge(src.FillPath)
	return err
}

// MergeOnPrefetch implements the prefetch-path coalesce: fill-path merge
// plus transmission of the off-chip-prediction bit downward.
func (t *Table) MergeOnPrefetch(src *packet.Packet, dst *Entry) error {
	dp := dst.Packet
	if _, err := dp.FillPath.Merge(src.FillPath); err != nil {
		return err
	}
	dp.Pred.WentOffchipPred = dp.Pred.WentOffchipPred || src.Pred.WentOffchipPred
	return nil
}

// MustAllocate is the fatal-error variant of Allocate used at call sites
// where a full table with no coalesce target indicates a simulator bug
// rather than legitimate back-pressure (spec §7).
func (t *Table) MustAllocate(p *packet.Packet) (*Entry, error) {
	e, result, err := t.Allocate(p)
	if err != nil {
		return nil, err
	}
	if result == Full {
		return nil, simerr.New("MSHR full with no coalesce match", p.CPU, p.BlockAddr, p.Type.String(), p.FillLevel.String())
	}
	return e, nil
}
