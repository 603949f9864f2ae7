// Package packet defines the in-flight memory request record threaded
// through the cache hierarchy and its fill-path stack.
//
// Following the simulator arena pattern, a Packet never holds a pointer to a
// cache. Caches are referenced by the small integer ID the Simulator assigns
// them at construction time; the fill path is a stack of those IDs plus the
// bookkeeping needed to validate and re-sort it without consulting the
// cache it names.
package packet

import "fmt"

// FillLevel is the totally-ordered (for L1..DRAM) level a request must
// ultimately refill. DDRP, DCLR and Metadata are parallel special levels
// that do not participate in the L1 < L2 < LLC < DRAM ordering.
type FillLevel int

const (
	L1 FillLevel = iota
	L2
	LLC
	DRAM
	DDRP
	DCLR
	Metadata
)

func (l FillLevel) String() string {
	switch l {
	case L1:
		return "L1"
	case L2:
		return "L2"
	case LLC:
		return "LLC"
	case DRAM:
		return "DRAM"
	case DDRP:
		return "DDRP"
	case DCLR:
		return "DCLR"
	case Metadata:
		return "Metadata"
	default:
		return fmt.Sprintf("FillLevel(%d)", int(l))
	}
}

// Ordered reports whether this level participates in the main L1 < L2 <
// LLC < DRAM total order used by route decisions and fill-path sorting.
func (l FillLevel) Ordered() bool {
	return l == L1 || l == L2 || l == LLC || l == DRAM
}

// Type classifies what kind of memory operation a Packet represents.
type Type int

const (
	Load Type = iota
	RFO
	Prefetch
	Writeback
)

func (t Type) String() string {
	switch t {
	case Load:
		return "Load"
	case RFO:
		return "RFO"
	case Prefetch:
		return "Prefetch"
	case Writeback:
		return "Writeback"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Route is the route the fill-path policy has chosen for an L1D-miss
// packet. See spec §4.6.
type Route int

const (
	RouteInvalid Route = iota
	// RouteSDCL2CDRAM is the standard path via L2C then LLC then DRAM.
	RouteSDCL2CDRAM
	// RouteL1DLLC bypasses L2C, sending the request directly to LLC.
	RouteL1DLLC
	// RouteDRAMDDRPRequest sends the demand to L2C and additionally
	// injects a speculative DDRP packet directly into the DRAM RQ.
	RouteDRAMDDRPRequest
)

// IndexSet is a small, order-independent set of ROB/LQ/SQ indices, used as
// merge bookkeeping when MSHR coalescing folds several dependents into one
// in-flight packet.
type IndexSet map[uint32]struct{}

// NewIndexSet returns an empty IndexSet.
func NewIndexSet() IndexSet {
	return make(IndexSet)
}

// Add inserts index into the set.
func (s IndexSet) Add(index uint32) {
	s[index] = struct{}{}
}

// Contains reports whether index is a member of the set.
func (s IndexSet) Contains(index uint32) bool {
	_, ok := s[index]
	return ok
}

// Union returns a new IndexSet containing the members of both sets.
func (s IndexSet) Union(o IndexSet) IndexSet {
	out := make(IndexSet, len(s)+len(o))
	for k := range s {
		out[k] = struct{}{}
	}
	for k := range o {
		out[k] = struct{}{}
	}
	return out
}

// Slice returns the set's members in unspecified order.
func (s IndexSet) Slice() []uint32 {
	out := make([]uint32, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}

// PredBits collects which off-chip predictor decisions this packet has
// already consumed, so training logic (§4.7) can be reasoned about without
// re-deriving it from LQ state every cycle.
type PredBits struct {
	WentOffchipPred     bool
	L1DOffchipPredUsed  bool
	L1DMissOffchipPred  bool
}

// Packet is the universal in-flight memory request record (spec §3).
type Packet struct {
	Type Type
	CPU  int

	VAddr     uint64
	PAddr     uint64
	BlockAddr uint64
	Size      int

	IP uint64

	// EventCycle is the cycle at or after which this packet is eligible
	// for its next action.
	EventCycle uint64

	// FillLevel is the highest cache in the hierarchy this request must
	// ultimately refill.
	FillLevel     FillLevel
	PFOriginLevel FillLevel

	Pred PredBits

	// Merge bookkeeping: indices of other in-flight instructions whose
	// memory op has been coalesced into this packet.
	LQIndexDependOnMe  IndexSet
	SQIndexDependOnMe  IndexSet
	ROBIndexDependOnMe IndexSet

	LQIndex int
	SQIndex int

	FillPath FillPath

	Route Route

	// Returned is set once the packet's fill path has fully unwound: every
	// cache on it has been filled (or a hit needed no further fill).
	Returned bool

	// IsDDRP marks a speculative DDRP/DCLR packet: it primes the DRAM
	// row buffer but is discarded on completion instead of refilling a
	// cache (spec §4.5, §4.6).
	IsDDRP bool

	// WentOffchip is set once this packet's demand actually reaches the
	// DRAM controller's RQ/WQ (an LLC miss), the ground truth the
	// predictor trains against (spec §4.7).
	WentOffchip bool

	CycleEnqueued uint64
}

// New returns a zero-value Packet with its bookkeeping sets initialized.
func New(t Type, cpu int) *Packet {
	return &Packet{
		Type:               t,
		CPU:                cpu,
		FillLevel:          L1,
		PFOriginLevel:      L1,
		LQIndexDependOnMe:  NewIndexSet(),
		SQIndexDependOnMe:  NewIndexSet(),
		ROBIndexDependOnMe: NewIndexSet(),
		LQIndex:            -1,
		SQIndex:            -1,
	}
}

// Clone makes a deep-enough copy for fill-path policy injection (e.g. the
// DDRP packet derived from a demand load): bookkeeping sets are copied so
// mutating the clone never mutates the original.
func (p *Packet) Clone() *Packet {
	c := *p
	c.LQIndexDependOnMe = p.LQIndexDependOnMe.Union(NewIndexSet())
	c.SQIndexDependOnMe = p.SQIndexDependOnMe.Union(NewIndexSet())
	c.ROBIndexDependOnMe = p.ROBIndexDependOnMe.Union(NewIndexSet())
	c.FillPath = append(FillPath(nil), p.FillPath...)
	return &c
}

// SameBlock reports whether two packets address the same cache block for
// the same CPU — the identity MSHR/queue coalescing keys on.
func SameBlock(a, b *Packet) bool {
	return a.CPU == b.CPU && a.BlockAddr == b.BlockAddr
}
