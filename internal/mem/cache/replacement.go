package cache

import (
	"math/rand"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// AccessDescriptor describes one cache access to the replacement policy
// (spec §4.4): cpu, set, way, full address, victim address, pc,
// instruction type, hit/miss, whether this is a data access, and the LQ
// index if the access originated from a load.
type AccessDescriptor struct {
	CPU        int
	Set, Way   int
	FullAddr   uint64
	VictimAddr uint64
	PC         uint64
	Type       int
	Hit        bool
	IsData     bool
	LQIndex    int
}

// ReplacementPolicy selects a victim way within a set and is notified of
// every access so it can update its own internal ranking. Concrete
// policies are selected by name at config-load time (a tagged-variant
// dispatch standing in for the source's dlopen-based plugin loading, per
// the design notes).
type ReplacementPolicy interface {
	Name() string
	Victim(dir *akitacache.DirectoryImpl, setID int) *akitacache.Block
	OnAccess(desc AccessDescriptor)
}

// lruPolicy delegates entirely to the Akita directory's own LRU victim
// finder and Visit-based recency tracking (grounded on the teacher's
// timing/cache/cache.go, which always uses akitacache.NewLRUVictimFinder).
type lruPolicy struct{}

func (lruPolicy) Name() string { return "lru" }

func (lruPolicy) Victim(dir *akitacache.DirectoryImpl, setID int) *akitacache.Block {
	return dir.FindVictim(uint64(setID))
}

func (lruPolicy) OnAccess(desc AccessDescriptor) {}

// randomPolicy evicts a uniformly random way in the target set, using the
// set contents from the directory rather than its built-in LRU finder.
type randomPolicy struct {
	rng *rand.Rand
}

func (p *randomPolicy) Name() string { return "random" }

func (p *randomPolicy) Victim(dir *akitacache.DirectoryImpl, setID int) *akitacache.Block {
	sets := dir.GetSets()
	if setID < 0 || setID >= len(sets) {
		return nil
	}
	set := sets[setID]
	if len(set.Blocks) == 0 {
		return nil
	}
	for _, b := range set.Blocks {
		if !b.IsValid {
			return b
		}
	}
	return set.Blocks[p.rng.Intn(len(set.Blocks))]
}

func (p *randomPolicy) OnAccess(desc AccessDescriptor) {}

// NewReplacementPolicy resolves a policy by name. Unknown names fall back
// to LRU, matching the teacher's "default config" style of never hard
// failing on an unrecognized tunable.
func NewReplacementPolicy(name string, seed int64) ReplacementPolicy {
	switch name {
	case "random":
		return &randomPolicy{rng: rand.New(rand.NewSource(seed))}
	case "lru", "":
		return lruPolicy{}
	default:
		return lruPolicy{}
	}
}
