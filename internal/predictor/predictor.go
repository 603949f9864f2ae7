// Package predictor implements the off-chip load predictor (spec §4.7): a
// hashed-perceptron classifier over microarchitectural features, trained
// from LQ retirement feedback, that decides at L1D-miss time whether a
// load is headed off-chip and should race a DDRP request against the
// normal cache-hierarchy traversal.
package predictor

import (
	"math/bits"

	"gonum.org/v1/gonum/stat"

	"github.com/sarchlab/hermessim/internal/mem/packet"
)

const (
	// CounterMax and CounterMin bound every feature counter (invariant
	// OP1). Spec §4.7 fixes these at +31/-32, 6-bit signed saturation.
	CounterMax = 31
	CounterMin = -32

	tableSize = 1024
)

// Feature names one of the predictor's hashed inputs.
type Feature int

const (
	FeaturePC Feature = iota
	FeaturePCPageOffset
	FeaturePCFirstAccess
	FeaturePageOffsetFirstAccess
	FeaturePCLineWordOffset
	FeatureLastNLoadPCs
)

var allFeatures = []Feature{
	FeaturePC,
	FeaturePCPageOffset,
	FeaturePCFirstAccess,
	FeaturePageOffsetFirstAccess,
	FeaturePCLineWordOffset,
	FeatureLastNLoadPCs,
}

// State is the frozen feature snapshot captured at predict time and
// carried inside the LQ entry so that training later sees identical
// features (spec §4.7).
type State struct {
	PC              uint64
	VPage           uint64
	PageOffset      uint32
	FirstAccess     bool
	LineWordOffset  uint32
	LastNLoadPCSig  uint64
}

// jenkinsHash is the one-at-a-time hash used throughout the source's
// perceptron feature indexing.
func jenkinsHash(key uint32) uint32 {
	hash := key
	hash += hash << 10
	hash ^= hash >> 6
	hash += hash << 3
	hash ^= hash >> 11
	hash += hash << 15
	return hash
}

func foldedXOR32(v uint64) uint32 {
	return uint32(v) ^ uint32(v>>32)
}

func index(f Feature, s State) uint32 {
	switch f {
	case FeaturePC:
		return jenkinsHash(foldedXOR32(s.PC)) % tableSize
	case FeaturePCPageOffset:
		v := foldedXOR32(s.PC)
		v <<= 6
		v += s.PageOffset
		return jenkinsHash(v) % tableSize
	case FeaturePCFirstAccess:
		v := foldedXOR32(s.PC) & ((1 << 31) - 1)
		if s.FirstAccess {
			v |= 1 << 31
		}
		return jenkinsHash(v) % tableSize
	case FeaturePageOffsetFirstAccess:
		v := s.PageOffset & ((1 << 6) - 1)
		if s.FirstAccess {
			v |= 1 << 6
		}
		return jenkinsHash(v) % tableSize
	case FeaturePCLineWordOffset:
		v := foldedXOR32(s.PC)
		v <<= 6
		v += s.LineWordOffset
		return jenkinsHash(v) % tableSize
	case FeatureLastNLoadPCs:
		return jenkinsHash(foldedXOR32(s.LastNLoadPCSig)) % tableSize
	default:
		return 0
	}
}

// Outcome records a prediction alongside the weighted sum it was derived
// from, so training can recompute agreement without re-hashing features.
type Outcome struct {
	State     State
	Predicted bool
	Sum       int
}

// ConfusionStats accumulates the classifier's agreement with ground
// truth (spec §9 supplement).
type ConfusionStats struct {
	TruePositive, FalsePositive uint64
	TrueNegative, FalseNegative uint64
}

// Accuracy returns the fraction of trained predictions that matched
// ground truth, or 0 if nothing has been trained yet.
func (s ConfusionStats) Accuracy() float64 {
	total := s.TruePositive + s.FalsePositive + s.TrueNegative + s.FalseNegative
	if total == 0 {
		return 0
	}
	return float64(s.TruePositive+s.TrueNegative) / float64(total)
}

// Precision returns TP / (TP + FP), or 0 if the predictor never predicted
// off-chip.
func (s ConfusionStats) Precision() float64 {
	denom := s.TruePositive + s.FalsePositive
	if denom == 0 {
		return 0
	}
	return float64(s.TruePositive) / float64(denom)
}

// Recall returns TP / (TP + FN), or 0 if no load ever actually went
// off-chip.
func (s ConfusionStats) Recall() float64 {
	denom := s.TruePositive + s.FalseNegative
	if denom == 0 {
		return 0
	}
	return float64(s.TruePositive) / float64(denom)
}

// Predictor is one hashed-perceptron classifier instance. sim.New builds
// one per CPU, and PredictOnPrefetch classifies prefetches with that same
// instance; there is no separate prefetch predictor.
type Predictor struct {
	threshold int
	tables    map[Feature][]int8

	Stats ConfusionStats

	// sumHistory/labelHistory feed Correlation, a running diagnostic of
	// how well the perceptron's weighted sum tracks ground truth.
	sumHistory   []float64
	labelHistory []float64
}

// New constructs a predictor with a fresh, zeroed counter table per
// feature and the given classification threshold τ.
func New(threshold int) *Predictor {
	p := &Predictor{
		threshold: threshold,
		tables:    make(map[Feature][]int8, len(allFeatures)),
	}
	for _, f := range allFeatures {
		p.tables[f] = make([]int8, tableSize)
	}
	return p
}

// Predict sums the indexed counters across every feature and classifies
// the load as off-chip iff the sum is at least the threshold (spec §4.7).
func (p *Predictor) Predict(s State) Outcome {
	sum := 0
	for _, f := range allFeatures {
		sum += int(p.tables[f][index(f, s)])
	}
	return Outcome{State: s, Predicted: sum >= p.threshold, Sum: sum}
}

// PredictOnPrefetch is the prefetch-path counterpart used by the
// DDRP/SSP forwarding decision at the L1D (spec §4.7): it is the same
// classifier, over the same feature snapshot, because a prefetch request
// has no access history of its own to distinguish it.
func (p *Predictor) PredictOnPrefetch(s State) Outcome {
	return p.Predict(s)
}

// Train applies the perceptron update rule for one retired load:
// increment every indexed counter if the load actually went off-chip,
// decrement otherwise, saturating at [CounterMin, CounterMax]
// (invariant OP1). It also updates the confusion-matrix stats.
func (p *Predictor) Train(o Outcome, wentOffchip bool) {
	for _, f := range allFeatures {
		idx := index(f, o.State)
		c := p.tables[f][idx]
		if wentOffchip {
			if c < CounterMax {
				c++
			}
		} else {
			if c > CounterMin {
				c--
			}
		}
		p.tables[f][idx] = c
	}

	switch {
	case wentOffchip && o.Predicted:
		p.Stats.TruePositive++
	case wentOffchip && !o.Predicted:
		p.Stats.FalseNegative++
	case !wentOffchip && o.Predicted:
		p.Stats.FalsePositive++
	default:
		p.Stats.TrueNegative++
	}

	p.sumHistory = append(p.sumHistory, float64(o.Sum))
	label := 0.0
	if wentOffchip {
		label = 1.0
	}
	p.labelHistory = append(p.labelHistory, label)
}

// Correlation reports the Pearson correlation between the perceptron's
// weighted sum and the actual off-chip outcome across every trained
// retirement, a diagnostic of how separable the feature sum is from
// ground truth. Returns 0 until at least two samples have been trained.
func (p *Predictor) Correlation() float64 {
	if len(p.sumHistory) < 2 {
		return 0
	}
	return stat.Correlation(p.sumHistory, p.labelHistory, nil)
}

// StateFromPacket builds a feature snapshot from a prefetch packet's
// address fields, used by PredictOnPrefetch when no ROB/LQ context
// exists (spec §4.7).
func StateFromPacket(p *packet.Packet, blockSize int, firstAccess bool, lastNLoadPCSig uint64) State {
	pageShift := bits.Len(uint(4096)) - 1
	lineShift := bits.Len(uint(blockSize)) - 1
	return State{
		PC:             p.IP,
		VPage:          p.VAddr >> pageShift,
		PageOffset:     uint32(p.VAddr & 0xFFF),
		FirstAccess:    firstAccess,
		LineWordOffset: uint32((p.VAddr >> lineShift) & 0x3F),
		LastNLoadPCSig: lastNLoadPCSig,
	}
}
