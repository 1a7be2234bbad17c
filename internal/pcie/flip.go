package pcie

import (
	"math"
	"math/rand/v2"
	"sort"
)

// FlipOptions controls the closest-flip search.
type FlipOptions struct {
	Bins    int
	Samples int     // bit-0 writes sampled per bin
	Seed    uint64  // sampling is repeatable for a given seed
	CapNs   float64 // reported deltas are clamped to this
}

func DefaultFlipOptions() FlipOptions {
	return FlipOptions{Bins: 100, Samples: 10, Seed: 42, CapNs: 2000}
}

// FlipStat is the time from sampled writes with the bit clear to the
// nearest write of the same address with the bit set, in one time bin.
type FlipStat struct {
	Bin      int     `json:"bin"`
	Sampled  int     `json:"sampled"`
	Matched  int     `json:"matched"`
	Valid    bool    `json:"valid"`
	AvgNs    float64 `json:"avg_ns"`
	MedianNs float64 `json:"median_ns"`
	MinNs    float64 `json:"min_ns"`
}

type FlipSeries struct {
	Bit  int        `json:"bit"`
	Bins []FlipStat `json:"bins"`
}

// ClosestFlip runs the search for each address bit 7 through 15. Writes
// without an address or time stamp are ignored.
func ClosestFlip(writes []ThirtyTwoDwordWrite, opts FlipOptions) []FlipSeries {
	var valid []ThirtyTwoDwordWrite
	for _, w := range writes {
		if w.HasAddress && !math.IsNaN(w.TimeStamp) {
			valid = append(valid, w)
		}
	}
	if len(valid) == 0 || opts.Bins <= 0 {
		return nil
	}

	times := make([]float64, len(valid))
	for i, w := range valid {
		times[i] = w.TimeStamp
	}
	binOf := TimeBins(times, opts.Bins)

	byBin := make([][]int, opts.Bins)
	for i, b := range binOf {
		byBin[b] = append(byBin[b], i)
	}

	// Sorted write times for each full address
	byAddress := make(map[uint16][]float64)
	for _, w := range valid {
		byAddress[w.Address] = append(byAddress[w.Address], w.TimeStamp)
	}
	for _, ts := range byAddress {
		sort.Float64s(ts)
	}

	series := make([]FlipSeries, 0, highBit-lowBit+1)
	for bit := lowBit; bit <= highBit; bit++ {
		s := FlipSeries{Bit: bit, Bins: make([]FlipStat, opts.Bins)}
		for b := range s.Bins {
			var cleared []int
			for _, i := range byBin[b] {
				if valid[i].AddrBit(bit) == 0 {
					cleared = append(cleared, i)
				}
			}
			cleared = sample(cleared, opts.Samples, opts.Seed)

			var deltas []float64
			for _, i := range cleared {
				flipped := valid[i].Address | 1<<bit
				if d, ok := nearest(byAddress[flipped], valid[i].TimeStamp); ok {
					deltas = append(deltas, d*1e9)
				}
			}
			s.Bins[b] = flipStat(b, len(cleared), deltas, opts.CapNs)
		}
		series = append(series, s)
	}
	return series
}

// sample picks n of indices with a generator seeded the same way for every
// bin, so a given trace always yields the same subset.
func sample(indices []int, n int, seed uint64) []int {
	if n <= 0 || len(indices) <= n {
		return indices
	}
	r := rand.New(rand.NewPCG(seed, seed))
	picked := make([]int, n)
	for i, j := range r.Perm(len(indices))[:n] {
		picked[i] = indices[j]
	}
	return picked
}

// nearest returns the distance from t to the closest value in sorted.
func nearest(sorted []float64, t float64) (float64, bool) {
	if len(sorted) == 0 {
		return 0, false
	}
	i := sort.SearchFloat64s(sorted, t)
	best := math.Inf(1)
	if i < len(sorted) {
		best = sorted[i] - t
	}
	if i > 0 {
		best = math.Min(best, t-sorted[i-1])
	}
	return best, true
}

func flipStat(bin, sampled int, deltas []float64, capNs float64) FlipStat {
	stat := FlipStat{Bin: bin, Sampled: sampled, Matched: len(deltas)}
	if len(deltas) == 0 {
		return stat
	}

	sort.Float64s(deltas)
	sum := 0.0
	for _, d := range deltas {
		sum += d
	}
	median := deltas[len(deltas)/2]
	if len(deltas)%2 == 0 {
		median = (deltas[len(deltas)/2-1] + median) / 2
	}

	stat.Valid = true
	stat.AvgNs = math.Min(sum/float64(len(deltas)), capNs)
	stat.MedianNs = math.Min(median, capNs)
	stat.MinNs = math.Min(deltas[0], capNs)
	return stat
}
