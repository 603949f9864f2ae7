// Package core implements the OoO core's memory-facing collaborator
// contract (spec §4.8): ROB, LQ, SQ, store-to-load forwarding, and the
// predictor invocation/training points. Functional (semantic) execution
// of instructions is out of scope (spec §1 Non-goals) — the core only
// reproduces the timing and memory side effects a trace record implies.
package core

import (
	"github.com/sarchlab/hermessim/internal/mem/cache"
	"github.com/sarchlab/hermessim/internal/mem/packet"
	"github.com/sarchlab/hermessim/internal/predictor"
)

// TranslationState is the DTLB→STLB lifecycle of an address.
type TranslationState int

const (
	None TranslationState = iota
	Inflight
	Completed
)

// LQEntry is one in-flight load (spec §3's "Load-queue entry").
type LQEntry struct {
	InstrID uint64

	VAddr, PAddr uint64

	Translated TranslationState
	Fetched    TranslationState

	WentOffchip         bool
	WentOffchipPred     bool
	L1DMissOffchipPred  bool
	L1DOffchipPredUsed  bool

	ServedFrom packet.FillLevel

	PercFeature predictor.State
	Outcome     predictor.Outcome

	// ProducerID names the SQ entry this load forwards from, or -1 if
	// it must go to L1D (spec §4.8 store-to-load forwarding).
	ProducerID int

	Packet *packet.Packet
}

// SQEntry is one in-flight store.
type SQEntry struct {
	InstrID      uint64
	VAddr, PAddr uint64
	Fetched      TranslationState
	Packet       *packet.Packet
}

// ROBEntry tracks one in-flight instruction's completion state and the
// LQ/SQ slots it owns.
type ROBEntry struct {
	InstrID   uint64
	Completed bool
	LQIndex   int // -1 if this instruction has no load
	SQIndex   int // -1 if this instruction has no store
}

// Core is one simulated CPU's ROB/LQ/SQ state and the memory-facing
// operations the top-level Simulator drives each cycle (spec §4.8).
type Core struct {
	CPUID int

	ROB []ROBEntry
	LQ  []LQEntry
	SQ  []SQEntry

	robHead int

	L1D       *cache.Cache
	Predictor *predictor.Predictor

	lastNLoadPCs []uint64

	Instructions uint64
	Cycles       uint64
}

// New constructs a Core with empty ROB/LQ/SQ.
func New(cpuID int, l1d *cache.Cache, pred *predictor.Predictor) *Core {
	return &Core{CPUID: cpuID, L1D: l1d, Predictor: pred}
}

// AllocateLoad admits a new load into the LQ and ROB, predicts at
// allocation time (ODP, spec §4.8's "predict at allocation"), and
// returns the LQ index.
func (c *Core) AllocateLoad(instrID uint64, vaddr uint64, blockSize int) int {
	state := predictor.State{PC: vaddr, VPage: vaddr >> 12, PageOffset: uint32(vaddr & 0xFFF)}
	state.LastNLoadPCSig = c.lastNLoadSignature()

	outcome := c.Predictor.Predict(state)

	entry := LQEntry{
		InstrID:         instrID,
		VAddr:           vaddr,
		PercFeature:     state,
		Outcome:         outcome,
		WentOffchipPred: outcome.Predicted,
		ProducerID:      -1,
	}
	c.LQ = append(c.LQ, entry)
	idx := len(c.LQ) - 1

	c.ROB = append(c.ROB, ROBEntry{InstrID: instrID, LQIndex: idx, SQIndex: -1})

	c.rememberLoadPC(vaddr)
	return idx
}

// AllocateStore admits a new store into the SQ and ROB.
func (c *Core) AllocateStore(instrID uint64, vaddr uint64) int {
	c.SQ = append(c.SQ, SQEntry{InstrID: instrID, VAddr: vaddr})
	idx := len(c.SQ) - 1
	c.ROB = append(c.ROB, ROBEntry{InstrID: instrID, LQIndex: -1, SQIndex: idx})
	return idx
}

// AllocateNop admits a non-memory instruction into the ROB only. It
// completes immediately since it has no LQ/SQ entry to wait on.
func (c *Core) AllocateNop(instrID uint64) int {
	c.ROB = append(c.ROB, ROBEntry{InstrID: instrID, Completed: true, LQIndex: -1, SQIndex: -1})
	return len(c.ROB) - 1
}

// InFlight reports how many ROB entries have been allocated but not yet
// retired, the fetch-gating signal for the ROB occupancy window.
func (c *Core) InFlight() int {
	return len(c.ROB) - c.robHead
}

// FindForwardingProducer scans the SQ for the youngest store older than
// lqIndex's load with a matching virtual address (spec §4.8:
// store-to-load forwarding). Returns -1 if none exists.
func (c *Core) FindForwardingProducer(loadVAddr uint64, olderThan int) int {
	loadID := c.LQ[olderThan].InstrID
	for i := len(c.SQ) - 1; i >= 0; i-- {
		if c.SQ[i].InstrID < loadID && c.SQ[i].VAddr == loadVAddr {
			return i
		}
	}
	return -1
}

// TryForward attempts synchronous store-to-load forwarding for lq. If
// the producing store has already completed fetch, the load completes
// immediately without ever reaching L1D (spec §4.8).
func (c *Core) TryForward(lqIndex int) bool {
	lq := &c.LQ[lqIndex]
	producer := c.FindForwardingProducer(lq.VAddr, lqIndex)
	if producer < 0 {
		return false
	}
	lq.ProducerID = producer
	if c.SQ[producer].Fetched == Completed {
		lq.Fetched = Completed
		lq.ServedFrom = packet.L1 // forwarded, never left the core
		return true
	}
	return false
}

// CompleteStore marks sqIndex fetched, completing any load that was
// waiting on it as its ProducerID (spec §4.8).
func (c *Core) CompleteStore(sqIndex int) {
	c.SQ[sqIndex].Fetched = Completed
	for i := range c.LQ {
		if c.LQ[i].ProducerID == sqIndex && c.LQ[i].Fetched != Completed {
			c.LQ[i].Fetched = Completed
			c.LQ[i].ServedFrom = packet.L1
		}
	}
}

// PredictOnL1DMiss re-predicts at L1D-miss time (spec §4.8: "predicts at
// allocation (ODP) and again on L1D miss"), marking the LQ entry's
// l1d_miss_offchip_pred and l1d_offchip_pred_used bits.
func (c *Core) PredictOnL1DMiss(lqIndex int) predictor.Outcome {
	lq := &c.LQ[lqIndex]
	outcome := c.Predictor.Predict(lq.PercFeature)
	lq.L1DMissOffchipPred = outcome.Predicted
	lq.L1DOffchipPredUsed = true
	lq.Outcome = outcome
	return outcome
}

// IssueLoad builds the memory packet for lqIndex's load, tags it with
// route (spec §4.6's route table), and enqueues it into L1D's read
// queue. Returns false if the read queue is currently full, in which
// case the caller should retry the same instruction next cycle.
func (c *Core) IssueLoad(lqIndex int, blockAddr uint64, route packet.Route, now uint64) bool {
	lq := &c.LQ[lqIndex]
	pkt := packet.New(packet.Load, c.CPUID)
	pkt.VAddr = lq.VAddr
	pkt.BlockAddr = blockAddr
	pkt.PAddr = blockAddr
	pkt.IP = lq.VAddr
	pkt.Route = route
	pkt.LQIndex = lqIndex
	pkt.CycleEnqueued = now

	if !c.L1D.RQ.Add(pkt, now) {
		return false
	}
	lq.Packet = pkt
	return true
}

// PollCompletions marks ROB entries complete once their load's packet has
// returned or their store has been issued (stores complete synchronously:
// functional memory state is out of scope, spec §1 Non-goals, so a store
// only needs to satisfy any load forwarding from it, via CompleteStore).
// It also records each retiring load's off-chip ground truth from the
// packet that served it, consumed by RetireLoad's predictor training.
func (c *Core) PollCompletions() {
	for i := range c.ROB {
		e := &c.ROB[i]
		if e.Completed {
			continue
		}
		switch {
		case e.LQIndex >= 0:
			lq := &c.LQ[e.LQIndex]
			if lq.Fetched == Completed {
				e.Completed = true
				continue
			}
			if lq.Packet != nil && lq.Packet.Returned {
				lq.Fetched = Completed
				lq.WentOffchip = lq.Packet.WentOffchip
				if lq.WentOffchip {
					lq.ServedFrom = packet.DRAM
				} else {
					lq.ServedFrom = packet.L1
				}
				e.Completed = true
			}
		case e.SQIndex >= 0:
			e.Completed = true
		}
	}
}

// RetireLoad trains the predictor on retirement using the feature
// snapshot frozen at allocation (spec §4.7's training timing /
// invariant OP2). The LQ entry is not removed: c.LQ keeps every load
// allocated so far.
func (c *Core) RetireLoad(lqIndex int) {
	lq := &c.LQ[lqIndex]
	if lq.L1DOffchipPredUsed {
		c.Predictor.Train(lq.Outcome, lq.WentOffchip)
	}
}

// RetireROBHead retires the instruction at the ROB head if it has
// completed, running load retirement training as needed (spec §4.8).
// Returns false if the head is not yet complete.
func (c *Core) RetireROBHead() bool {
	if c.robHead >= len(c.ROB) {
		return false
	}
	head := &c.ROB[c.robHead]
	if !head.Completed {
		return false
	}
	if head.LQIndex >= 0 {
		c.RetireLoad(head.LQIndex)
	}
	c.robHead++
	c.Instructions++
	return true
}

func (c *Core) rememberLoadPC(pc uint64) {
	const n = 4
	c.lastNLoadPCs = append(c.lastNLoadPCs, pc)
	if len(c.lastNLoadPCs) > n {
		c.lastNLoadPCs = c.lastNLoadPCs[len(c.lastNLoadPCs)-n:]
	}
}

func (c *Core) lastNLoadSignature() uint64 {
	var sig uint64
	for _, pc := range c.lastNLoadPCs {
		sig = (sig << 3) ^ pc
	}
	return sig
}

// IPC returns the core's cumulative instructions-per-cycle.
func (c *Core) IPC() float64 {
	if c.Cycles == 0 {
		return 0
	}
	return float64(c.Instructions) / float64(c.Cycles)
}
