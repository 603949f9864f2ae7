package packet

import (
	"sort"

	"github.com/sarchlab/hermessim/internal/simerr"
)

// FillPathEntry names one cache on a packet's fill path: the cache's
// simulator-assigned ID, its fill level (for ordering and the per-level
// uniqueness check) and the CPU it belongs to (LLC is shared, so its Cpu
// is ignored by the per-CPU consistency check).
type FillPathEntry struct {
	CacheID int
	Level   FillLevel
	Cpu     int
	IsLLC   bool
}

// FillPath is the ordered stack of caches a returning packet must notify.
// By convention the slice's last element is the top of the stack (the next
// cache to notify on return); the first element is the bottom (the
// shallowest cache, notified last). Entries are strictly decreasing in
// FillLevel from top (index len-1) to bottom (index 0) — invariant P1.
type FillPath []FillPathEntry

// Empty reports whether the fill path has no entries left.
func (fp FillPath) Empty() bool {
	return len(fp) == 0
}

// Top returns the topmost entry without removing it.
func (fp FillPath) Top() (FillPathEntry, bool) {
	if len(fp) == 0 {
		return FillPathEntry{}, false
	}
	return fp[len(fp)-1], true
}

// Push pushes e onto the top of the stack. Precondition (checked): if the
// stack is non-empty, e.Level must be strictly greater than the current
// top's level (deeper caches are pushed after shallower ones).
func (fp *FillPath) Push(e FillPathEntry) error {
	if top, ok := fp.Top(); ok {
		if e.Level.Ordered() && top.Level.Ordered() && e.Level <= top.Level {
			return simerr.New("push_fill_path out of order", e.Cpu, 0, "", e.Level.String())
		}
	}
	*fp = append(*fp, e)
	return nil
}

// Pop removes and returns the topmost entry. It is fatal to pop an empty
// fill path.
func (fp *FillPath) Pop() (FillPathEntry, error) {
	if len(*fp) == 0 {
		return FillPathEntry{}, simerr.New("pop_fill_path from empty stack", 0, 0, "", "")
	}
	n := len(*fp)
	e := (*fp)[n-1]
	*fp = (*fp)[:n-1]
	return e, nil
}

// PopUntil pops entries while pred(remaining stack) is false, stopping at
// empty. This mirrors the source's inverted "until" convention verbatim
// (spec §9 Open Questions): pred returning false means "keep popping".
func (fp *FillPath) PopUntil(pred func(FillPath) bool) {
	for !pred(*fp) {
		if _, err := fp.Pop(); err != nil {
			return
		}
		if fp.Empty() {
			return
		}
	}
}

// Merge set-unions other into fp, rejecting duplicate cache identities and
// re-sorting the result by ascending FillLevel (so the deepest cache ends
// up on top again). modified reports whether the result differs from fp's
// original contents. Two distinct caches sharing a fill level for the same
// CPU is an error (invariant P3) unless one of them is the shared LLC.
func (fp *FillPath) Merge(other FillPath) (modified bool, err error) {
	original := append(FillPath(nil), *fp...)

	seen := make(map[int]bool, len(*fp)+len(other))
	merged := make(FillPath, 0, len(*fp)+len(other))

	add := func(e FillPathEntry) error {
		if seen[e.CacheID] {
			return nil
		}
		seen[e.CacheID] = true
		merged = append(merged, e)
		return nil
	}

	for _, e := range *fp {
		if err := add(e); err != nil {
			return false, err
		}
	}
	for _, e := range other {
		if err := add(e); err != nil {
			return false, err
		}
	}

	levelCPUCount := make(map[levelCPUKey]int, len(merged))
	var cpu = -1
	hasCPU := false
	for _, e := range merged {
		if !e.IsLLC {
			if !hasCPU {
				cpu = e.Cpu
				hasCPU = true
			} else if e.Cpu != cpu {
				return false, simerr.New("merge_fill_path: CPU mismatch across non-LLC fill path entries", e.Cpu, 0, "", e.Level.String())
			}
		}
		if !e.IsLLC {
			levelCPUCount[levelCPUKey{e.Level, e.Cpu}]++
		}
	}
	for k, n := range levelCPUCount {
		if n > 1 {
			return false, simerr.New("merge_fill_path: duplicate fill level for same cpu", k.cpu, 0, "", k.level.String())
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Level < merged[j].Level
	})

	*fp = merged

	if len(original) != len(*fp) {
		return true, nil
	}
	for i := range original {
		if original[i].CacheID != (*fp)[i].CacheID {
			return true, nil
		}
	}
	return false, nil
}

type levelCPUKey struct {
	level FillLevel
	cpu   int
}
