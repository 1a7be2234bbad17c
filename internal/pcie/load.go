// Package pcie extracts the data and address patterns of memory-write TLPs
// from a protocol-analyzer CSV export.
package pcie

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrNoPackets     = errors.New("no matching packets in trace")
	ErrMissingColumn = errors.New("trace is missing a required column")
)

// Column names in the analyzer export.
const (
	ColumnTLPType   = "TLP Type"
	ColumnLinkDir   = "Link Dir"
	ColumnData      = "DATA"
	ColumnAddress   = "Address"
	ColumnLength    = "Length"
	ColumnTimeStamp = "Time Stamp"
)

// Packet is one filtered TLP, numbered in time order.
type Packet struct {
	Seq       int
	TimeStamp float64 // seconds, NaN when the column could not be parsed
	Length    int     // dwords, as reported by the analyzer
	Data      []uint32

	// Address holds the low 16 bits of the target address
	Address    uint16
	HasAddress bool
}

// Filter selects which rows are kept.
type Filter struct {
	TLPType string
	LinkDir string
}

// DefaultFilter keeps upstream 64-bit memory writes.
func DefaultFilter() Filter {
	return Filter{TLPType: "MWr(64)", LinkDir: "Upstream"}
}

func (f Filter) match(tlpType, linkDir string) bool {
	return tlpType == f.TLPType && linkDir == f.LinkDir
}

// LoadFile opens filename and calls Load.
func LoadFile(filename string, filter Filter) ([]Packet, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Load(file, filter)
}

// Load reads a CSV export with a header row, keeps the rows accepted by
// filter and returns them sorted by time stamp. Rows without a valid time
// stamp sort last.
func Load(r io.Reader, filter Filter) ([]Packet, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoPackets
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	required := []string{ColumnTLPType, ColumnLinkDir, ColumnData, ColumnAddress, ColumnLength, ColumnTimeStamp}
	for _, name := range required {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
	}

	field := func(record []string, name string) string {
		i := columns[name]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var packets []Packet
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read trace: %w", err)
		}

		if !filter.match(field(record, ColumnTLPType), field(record, ColumnLinkDir)) {
			continue
		}

		p := Packet{
			TimeStamp: ParseTimeStamp(field(record, ColumnTimeStamp)),
			Data:      ParseData(field(record, ColumnData)),
		}
		p.Length, _ = strconv.Atoi(field(record, ColumnLength))
		p.Address, p.HasAddress = ParseAddress(field(record, ColumnAddress))

		packets = append(packets, p)
	}

	if len(packets) == 0 {
		return nil, ErrNoPackets
	}

	sort.SliceStable(packets, func(i, j int) bool {
		a, b := packets[i].TimeStamp, packets[j].TimeStamp
		if math.IsNaN(a) {
			return false
		}
		return math.IsNaN(b) || a < b
	})
	for i := range packets {
		packets[i].Seq = i
	}

	return packets, nil
}

// ParseData splits a DATA field into dwords. A single malformed token
// discards the whole field.
func ParseData(s string) []uint32 {
	tokens := strings.Fields(strings.ReplaceAll(s, "0x", ""))
	if len(tokens) == 0 {
		return nil
	}

	dwords := make([]uint32, 0, len(tokens))
	for _, token := range tokens {
		v, err := strconv.ParseUint(token, 16, 32)
		if err != nil {
			return nil
		}
		dwords = append(dwords, uint32(v))
	}
	return dwords
}

// ParseAddress returns the low 16 bits of a "hi:lo" address.
func ParseAddress(s string) (uint16, bool) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return 0, false
	}

	lo := strings.TrimSpace(parts[1])
	if len(lo) > 4 {
		lo = lo[len(lo)-4:]
	}
	v, err := strconv.ParseUint(lo, 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}

// ParseTimeStamp converts "0005.477338141000s" to seconds.
func ParseTimeStamp(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(s, "s", "")), 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}
