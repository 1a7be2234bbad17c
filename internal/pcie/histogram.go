package pcie

import (
	"math"
	"sort"
)

// Sample is one value observed at a point in time.
type Sample struct {
	Time float64
	Key  int64
}

type KeyCount struct {
	Key   int64 `json:"key"`
	Count int   `json:"count"`
}

// Frame is the histogram of the window ending at Bin.
type Frame struct {
	Bin    int        `json:"bin"`
	Counts []KeyCount `json:"counts"`
}

// Histogram is a sequence of windowed frames over the same key set, with
// the largest count of any frame so every frame can share one y-scale.
type Histogram struct {
	Name     string  `json:"name"`
	Plot     int     `json:"plot"`
	Bins     int     `json:"bins"`
	Window   int     `json:"window"`
	Keys     []int64 `json:"keys"`
	MaxCount int     `json:"max_count"`
	Frames   []Frame `json:"frames"`
}

// TimeBins splits [min, max] of times into n equal bins and returns the bin
// of each time. The lowest edge belongs to the first bin, every other edge
// to the bin below it. NaN times get -1.
func TimeBins(times []float64, n int) []int {
	out := make([]int, len(times))
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, t := range times {
		if math.IsNaN(t) {
			continue
		}
		lo = math.Min(lo, t)
		hi = math.Max(hi, t)
	}

	edges := make([]float64, n+1)
	step := (hi - lo) / float64(n)
	for i := range edges {
		edges[i] = lo + step*float64(i)
	}
	edges[n] = hi

	for i, t := range times {
		switch {
		case math.IsNaN(t):
			out[i] = -1
		case step == 0:
			out[i] = 0
		default:
			out[i] = sort.Search(n, func(b int) bool { return t <= edges[b+1] })
			if out[i] == n {
				out[i] = n - 1
			}
		}
	}
	return out
}

// SlidingHistogram bins samples by time and emits, for each bin b, the key
// counts over bins max(0, b-window+1) through b. Frames with no samples are
// skipped. Every emitted frame lists every key in samples, including keys
// whose time is NaN, with zero counts where absent.
func SlidingHistogram(samples []Sample, bins, window int) Histogram {
	h := Histogram{Bins: bins, Window: window}
	if bins <= 0 || window <= 0 || len(samples) == 0 {
		return h
	}

	keyIndex := make(map[int64]int)
	for _, s := range samples {
		keyIndex[s.Key] = 0
	}
	h.Keys = make([]int64, 0, len(keyIndex))
	for k := range keyIndex {
		h.Keys = append(h.Keys, k)
	}
	sort.Slice(h.Keys, func(i, j int) bool { return h.Keys[i] < h.Keys[j] })
	for i, k := range h.Keys {
		keyIndex[k] = i
	}

	times := make([]float64, len(samples))
	for i, s := range samples {
		times[i] = s.Time
	}
	binOf := TimeBins(times, bins)

	perBin := make([][]int, bins)
	for i := range perBin {
		perBin[i] = make([]int, len(h.Keys))
	}
	for i, s := range samples {
		if binOf[i] < 0 {
			continue
		}
		perBin[binOf[i]][keyIndex[s.Key]]++
	}

	counts := make([]int, len(h.Keys))
	for b := 0; b < bins; b++ {
		for k, c := range perBin[b] {
			counts[k] += c
		}
		if drop := b - window; drop >= 0 {
			for k, c := range perBin[drop] {
				counts[k] -= c
			}
		}

		frame := Frame{Bin: b, Counts: make([]KeyCount, len(h.Keys))}
		total := 0
		for k, c := range counts {
			frame.Counts[k] = KeyCount{Key: h.Keys[k], Count: c}
			total += c
			h.MaxCount = max(h.MaxCount, c)
		}
		if total == 0 {
			continue
		}
		h.Frames = append(h.Frames, frame)
	}
	return h
}
