package pcie

import (
	"math/bits"
	"sort"
)

// Bits 7 through 15 are the ones that vary between consecutive writes.
const (
	lowBit  = 7
	highBit = 15
)

// TwoDwordWrite is a 2-dword write with a decoded first word.
type TwoDwordWrite struct {
	Seq       int
	TimeStamp float64

	// FirstWord is the upper half of the first dword; FirstWordBE is the
	// same value with its bytes swapped.
	FirstWord   uint16
	FirstWordBE uint16
	Normalized  int // FirstWordBE - min(FirstWordBE)
	Remainder6  int
}

// DataBit returns bit n of the first word.
func (w TwoDwordWrite) DataBit(n int) int {
	return int(w.FirstWord>>n) & 1
}

// ThirtyTwoDwordWrite is a 32-dword write with its address bits and the
// qwords at both ends of the payload.
type ThirtyTwoDwordWrite struct {
	Seq        int
	TimeStamp  float64
	Address    uint16
	HasAddress bool

	AddrBits15to7 uint16
	Remainder6    int

	FirstQword uint64
	LastQword  uint64
	HasQwords  bool
}

// AddrBit returns bit n of the low address.
func (w ThirtyTwoDwordWrite) AddrBit(n int) int {
	return int(w.Address>>n) & 1
}

type LengthCount struct {
	Length int `json:"length"`
	Count  int `json:"count"`
}

// BitCount counts how many writes had a given bit set or clear.
type BitCount struct {
	Bit  int `json:"bit"`
	Zero int `json:"zero"`
	One  int `json:"one"`
}

type TwoDwordSummary struct {
	Writes       int        `json:"writes"`
	Decoded      int        `json:"decoded"`
	MinFirstWord uint16     `json:"min_first_word_be"`
	MaxFirstWord uint16     `json:"max_first_word_be"`
	Range        uint16     `json:"range"`
	Bit0         BitCount   `json:"bit0"`
	DataBits     []BitCount `json:"data_bits"`
	Remainder6   [6]int     `json:"remainder_6"`
}

type ThirtyTwoDwordSummary struct {
	Writes        int        `json:"writes"`
	WithAddress   int        `json:"with_address"`
	WithQwords    int        `json:"with_qwords"`
	AddrBit7      BitCount   `json:"addr_bit7"`
	AddrBits      []BitCount `json:"addr_bits"`
	Remainder6    [6]int     `json:"remainder_6"`
	DistinctAddrs int        `json:"distinct_addr_bits_15_7"`
}

type Summary struct {
	TotalPackets       int                    `json:"total_packets"`
	LengthDistribution []LengthCount          `json:"length_distribution"`
	TwoDword           *TwoDwordSummary       `json:"two_dword,omitempty"`
	ThirtyTwoDword     *ThirtyTwoDwordSummary `json:"thirty_two_dword,omitempty"`
}

// Analysis holds the decoded writes and their summary.
type Analysis struct {
	TwoDword       []TwoDwordWrite
	ThirtyTwoDword []ThirtyTwoDwordWrite
	Summary        Summary
}

// Analyze decodes the 2-dword and 32-dword writes in packets. Packets are
// classified by their Length column; the length distribution counts the
// parsed DATA dwords instead.
func Analyze(packets []Packet) Analysis {
	var analysis Analysis
	analysis.Summary.TotalPackets = len(packets)
	analysis.Summary.LengthDistribution = lengthDistribution(packets)

	var twoDwordWrites, thirtyTwoDwordWrites int
	for _, p := range packets {
		switch p.Length {
		case 2:
			twoDwordWrites++
			if len(p.Data) == 0 {
				continue
			}
			firstWord := uint16(p.Data[0] >> 16)
			analysis.TwoDword = append(analysis.TwoDword, TwoDwordWrite{
				Seq:         p.Seq,
				TimeStamp:   p.TimeStamp,
				FirstWord:   firstWord,
				FirstWordBE: bits.ReverseBytes16(firstWord),
			})
		case 32:
			thirtyTwoDwordWrites++
			w := ThirtyTwoDwordWrite{
				Seq:        p.Seq,
				TimeStamp:  p.TimeStamp,
				Address:    p.Address,
				HasAddress: p.HasAddress,
			}
			if p.HasAddress {
				w.AddrBits15to7 = (p.Address >> 7) & 0x1FF
				w.Remainder6 = int(w.AddrBits15to7) % 6
			}
			if n := len(p.Data); n > 1 {
				w.FirstQword = uint64(p.Data[0])<<32 | uint64(p.Data[1])
				w.LastQword = uint64(p.Data[n-2])<<32 | uint64(p.Data[n-1])
				w.HasQwords = true
			}
			analysis.ThirtyTwoDword = append(analysis.ThirtyTwoDword, w)
		}
	}

	if twoDwordWrites > 0 {
		analysis.Summary.TwoDword = summarizeTwoDword(analysis.TwoDword, twoDwordWrites)
	}
	if thirtyTwoDwordWrites > 0 {
		analysis.Summary.ThirtyTwoDword = summarizeThirtyTwoDword(analysis.ThirtyTwoDword)
	}
	return analysis
}

func lengthDistribution(packets []Packet) []LengthCount {
	counts := make(map[int]int)
	for _, p := range packets {
		counts[len(p.Data)]++
	}

	distribution := make([]LengthCount, 0, len(counts))
	for length, count := range counts {
		distribution = append(distribution, LengthCount{Length: length, Count: count})
	}
	sort.Slice(distribution, func(i, j int) bool {
		return distribution[i].Length < distribution[j].Length
	})
	return distribution
}

// summarizeTwoDword also fills in Normalized and Remainder6, which depend on
// the minimum over all writes.
func summarizeTwoDword(writes []TwoDwordWrite, total int) *TwoDwordSummary {
	summary := &TwoDwordSummary{
		Writes:   total,
		Decoded:  len(writes),
		Bit0:     BitCount{Bit: 0},
		DataBits: newBitCounts(),
	}
	if len(writes) == 0 {
		return summary
	}

	summary.MinFirstWord = writes[0].FirstWordBE
	summary.MaxFirstWord = writes[0].FirstWordBE
	for _, w := range writes {
		summary.MinFirstWord = min(summary.MinFirstWord, w.FirstWordBE)
		summary.MaxFirstWord = max(summary.MaxFirstWord, w.FirstWordBE)
	}
	summary.Range = summary.MaxFirstWord - summary.MinFirstWord

	for i := range writes {
		w := &writes[i]
		w.Normalized = int(w.FirstWordBE) - int(summary.MinFirstWord)
		w.Remainder6 = w.Normalized % 6
		summary.Remainder6[w.Remainder6]++

		summary.Bit0.add(int(w.FirstWordBE & 1))
		for j := range summary.DataBits {
			summary.DataBits[j].add(w.DataBit(summary.DataBits[j].Bit))
		}
	}
	return summary
}

func summarizeThirtyTwoDword(writes []ThirtyTwoDwordWrite) *ThirtyTwoDwordSummary {
	summary := &ThirtyTwoDwordSummary{
		Writes:   len(writes),
		AddrBit7: BitCount{Bit: 7},
		AddrBits: newBitCounts(),
	}

	distinct := make(map[uint16]struct{})
	for _, w := range writes {
		if w.HasQwords {
			summary.WithQwords++
		}
		if !w.HasAddress {
			continue
		}
		summary.WithAddress++
		distinct[w.AddrBits15to7] = struct{}{}
		summary.Remainder6[w.Remainder6]++
		summary.AddrBit7.add(w.AddrBit(7))
		for j := range summary.AddrBits {
			summary.AddrBits[j].add(w.AddrBit(summary.AddrBits[j].Bit))
		}
	}
	summary.DistinctAddrs = len(distinct)
	return summary
}

func newBitCounts() []BitCount {
	counts := make([]BitCount, 0, highBit-lowBit+1)
	for bit := lowBit; bit <= highBit; bit++ {
		counts = append(counts, BitCount{Bit: bit})
	}
	return counts
}

func (c *BitCount) add(v int) {
	if v == 0 {
		c.Zero++
	} else {
		c.One++
	}
}
