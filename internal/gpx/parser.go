package gpx

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/planbiir/gspeed/internal/geo"
)

const (
	// NamespaceGPX11 is the default GPX 1.1 namespace.
	NamespaceGPX11 = "http://www.topografix.com/GPX/1/1"

	// TimeLayout writes whole-second UTC timestamps.
	TimeLayout = "2006-01-02T15:04:05Z"
)

var (
	ErrSourceNotFound = errors.New("GPX file not found")
	ErrSourceParse    = errors.New("failed to parse GPX")
)

// WriteOptions controls serialization. Namespace prefixes used inside
// preserved extension blocks must be declared on the root element, so they
// are passed in here rather than discovered at write time.
type WriteOptions struct {
	// Creator overrides the creator attribute when non-empty.
	Creator string

	// Namespaces maps prefix to namespace URI. Prefixes already declared by
	// the source document win.
	Namespaces map[string]string
}

// DefaultNamespaces returns the prefixes Garmin and Strava exports rely on.
func DefaultNamespaces() map[string]string {
	return map[string]string{
		"gpxtpx": "http://www.garmin.com/xmlschemas/TrackPointExtension/v1",
		"gpxx":   "http://www.garmin.com/xmlschemas/GpxExtensions/v3",
		"xsi":    "http://www.w3.org/2001/XMLSchema-instance",
	}
}

// DefaultWriteOptions returns the options used by the CLI.
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{
		Namespaces: DefaultNamespaces(),
	}
}

// Parse reads and parses a GPX file, preserving all extensions and namespaces
func Parse(filename string) (*GPX, error) {
	file, err := os.Open(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, filename)
		}
		return nil, err
	}
	defer file.Close()

	return ParseReader(file)
}

// ParseReader parses GPX from an io.Reader
func ParseReader(r io.Reader) (*GPX, error) {
	decoder := xml.NewDecoder(r)

	var gpxData GPX
	if err := decoder.Decode(&gpxData); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceParse, err)
	}
	if gpxData.XMLName.Local != "gpx" {
		return nil, fmt.Errorf("%w: root element is <%s>, expected <gpx>", ErrSourceParse, gpxData.XMLName.Local)
	}

	// Set default namespaces if missing
	if gpxData.XMLNS == "" {
		gpxData.XMLNS = NamespaceGPX11
	}
	if gpxData.Version == "" {
		gpxData.Version = "1.1"
	}
	if gpxData.Creator == "" {
		gpxData.Creator = "gspeed"
	}

	return &gpxData, nil
}

// ParseTime tries the timestamp layouts seen in GPX exports. Layouts without
// a zone are read as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.000Z07:00",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized time %q", ErrSourceParse, s)
}

// TimedPoints returns every track point that carries a <time>, in document
// order across all tracks and segments. Points without a time are skipped.
func (g *GPX) TimedPoints() ([]TimedPoint, error) {
	var points []TimedPoint

	for trackIdx, track := range g.Tracks {
		for segIdx, segment := range track.Segments {
			for ptIdx, point := range segment.Points {
				if strings.TrimSpace(point.Time) == "" {
					continue
				}
				t, err := ParseTime(point.Time)
				if err != nil {
					return nil, fmt.Errorf("track %d segment %d point %d: %w", trackIdx, segIdx, ptIdx, err)
				}
				points = append(points, TimedPoint{
					Lat:      point.Lat,
					Lon:      point.Lon,
					Time:     t,
					TrackIdx: trackIdx,
					SegIdx:   segIdx,
					PtIdx:    ptIdx,
				})
			}
		}
	}

	return points, nil
}

// SetTimes overwrites the <time> of each referenced point in place. An empty
// layout means TimeLayout.
func (g *GPX) SetTimes(points []TimedPoint, layout string) error {
	if layout == "" {
		layout = TimeLayout
	}
	for _, p := range points {
		if p.TrackIdx < 0 || p.TrackIdx >= len(g.Tracks) ||
			p.SegIdx < 0 || p.SegIdx >= len(g.Tracks[p.TrackIdx].Segments) ||
			p.PtIdx < 0 || p.PtIdx >= len(g.Tracks[p.TrackIdx].Segments[p.SegIdx].Points) {
			return fmt.Errorf("point reference out of range: track %d segment %d point %d", p.TrackIdx, p.SegIdx, p.PtIdx)
		}
		g.Tracks[p.TrackIdx].Segments[p.SegIdx].Points[p.PtIdx].Time = FormatTime(p.Time, layout)
	}
	return nil
}

// SetMetadataTime updates <metadata><time> if the document has one.
func (g *GPX) SetMetadataTime(t time.Time, layout string) bool {
	if g.Metadata == nil || strings.TrimSpace(g.Metadata.Time) == "" {
		return false
	}
	if layout == "" {
		layout = TimeLayout
	}
	g.Metadata.Time = FormatTime(t, layout)
	return true
}

// FormatTime writes t in UTC with the given layout.
func FormatTime(t time.Time, layout string) string {
	return t.UTC().Format(layout)
}

// Write saves GPX data to a file, preserving all extensions and structure.
// The document is encoded fully in memory before the file is created.
func (g *GPX) Write(filename string, opts WriteOptions) error {
	var buf bytes.Buffer
	if err := g.WriteToWriter(&buf, opts); err != nil {
		return err
	}
	return os.WriteFile(filename, buf.Bytes(), 0o644)
}

// WriteToWriter writes GPX data to an io.Writer
func (g *GPX) WriteToWriter(w io.Writer, opts WriteOptions) error {
	// Write XML header
	if _, err := w.Write([]byte(xml.Header)); err != nil {
		return err
	}

	out := *g
	out.XMLName = xml.Name{Local: "gpx"}
	out.Attrs = g.rootAttrs(opts.Namespaces)
	if opts.Creator != "" {
		out.Creator = opts.Creator
	}

	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")

	if err := encoder.Encode(&out); err != nil {
		return fmt.Errorf("failed to encode GPX: %w", err)
	}

	_, err := w.Write([]byte("\n"))
	return err
}

// rootAttrs rewrites namespaced root attributes as literal prefixed names.
// encoding/xml would otherwise invent its own prefixes for them. Prefixes
// from namespaces that the document does not declare yet are appended.
func (g *GPX) rootAttrs(namespaces map[string]string) []xml.Attr {
	prefixByURL := make(map[string]string)
	declared := make(map[string]bool)
	var decls, others []xml.Attr

	for _, a := range g.Attrs {
		if a.Name.Space == "xmlns" {
			prefixByURL[a.Value] = a.Name.Local
			declared[a.Name.Local] = true
			decls = append(decls, xml.Attr{Name: xml.Name{Local: "xmlns:" + a.Name.Local}, Value: a.Value})
		}
	}

	prefixes := make([]string, 0, len(namespaces))
	for prefix := range namespaces {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)
	for _, prefix := range prefixes {
		if declared[prefix] {
			continue
		}
		url := namespaces[prefix]
		if _, ok := prefixByURL[url]; !ok {
			prefixByURL[url] = prefix
		}
		decls = append(decls, xml.Attr{Name: xml.Name{Local: "xmlns:" + prefix}, Value: url})
	}

	for _, a := range g.Attrs {
		switch {
		case a.Name.Space == "xmlns":
			continue
		case a.Name.Space == "":
			others = append(others, a)
		default:
			prefix, ok := prefixByURL[a.Name.Space]
			if !ok {
				// Undeclared prefix left untranslated by the decoder
				prefix = a.Name.Space
			}
			others = append(others, xml.Attr{Name: xml.Name{Local: prefix + ":" + a.Name.Local}, Value: a.Value})
		}
	}

	return append(decls, others...)
}

// Stats returns basic statistics about the GPX data. Distance is in meters
// and only counts consecutive points within a segment.
func (g *GPX) Stats() (pointCount int, timedCount int, trackCount int, segmentCount int, distance float64) {
	trackCount = len(g.Tracks)

	for _, track := range g.Tracks {
		segmentCount += len(track.Segments)
		for _, segment := range track.Segments {
			pointCount += len(segment.Points)
			for i, point := range segment.Points {
				if strings.TrimSpace(point.Time) != "" {
					timedCount++
				}
				if i > 0 {
					prev := segment.Points[i-1]
					distance += geo.HaversineDistance(prev.Lat, prev.Lon, point.Lat, point.Lon)
				}
			}
		}
	}

	return
}
