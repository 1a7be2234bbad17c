package gpx

import (
	"encoding/xml"
	"time"
)

// RawXML preserves nested extension blocks without re-parsing them.
// We store the inner XML bytes verbatim so we can round-trip extensions
// emitted by other tools (Garmin, Strava, etc.).
type RawXML []byte

func (r RawXML) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if len(r) == 0 {
		return nil
	}

	type inner struct {
		Content string `xml:",innerxml"`
	}

	return e.EncodeElement(inner{Content: string(r)}, start)
}

func (r *RawXML) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	type inner struct {
		Content string `xml:",innerxml"`
	}

	var data inner
	if err := d.DecodeElement(&data, &start); err != nil {
		return err
	}

	if len(data.Content) == 0 {
		*r = nil
		return nil
	}

	*r = append((*r)[:0], data.Content...)
	return nil
}

// Element keeps an element we do not interpret (waypoints, routes, links,
// unmodeled point children) with its name, attributes and content untouched.
type Element struct {
	Name  xml.Name
	Attrs []xml.Attr
	Inner string
}

func (el Element) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	type inner struct {
		Content string `xml:",innerxml"`
	}

	// Catch-all fields have no tag name to fall back on
	if el.Name.Local != "" {
		start.Name = xml.Name{Local: el.Name.Local}
	}
	start.Attr = start.Attr[:0]
	for _, a := range el.Attrs {
		if a.Name.Space != "" {
			continue
		}
		start.Attr = append(start.Attr, a)
	}
	return e.EncodeElement(inner{Content: el.Inner}, start)
}

func (el *Element) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	type inner struct {
		Content string `xml:",innerxml"`
	}

	var data inner
	if err := d.DecodeElement(&data, &start); err != nil {
		return err
	}
	el.Name = start.Name
	el.Attrs = append([]xml.Attr(nil), start.Attr...)
	el.Inner = data.Content
	return nil
}

// Point is a <trkpt>. Time is kept as text so that points without a
// timestamp are written back without one. Every child the schema places
// between <time> and <extensions> lands in Extra in document order.
type Point struct {
	Lat       float64   `xml:"lat,attr"`
	Lon       float64   `xml:"lon,attr"`
	Elevation *float64  `xml:"ele,omitempty"`
	Time      string    `xml:"time,omitempty"`
	Extra     []Element `xml:",any"`

	// Extensions (Garmin, Strava, etc.) - preserve as raw XML
	Extensions RawXML `xml:"extensions,omitempty"`
}

// Track represents a GPX track with segments. cmt, desc, src, link, number
// and type are carried in Extra.
type Track struct {
	Name       string         `xml:"name,omitempty"`
	Extra      []Element      `xml:",any"`
	Extensions RawXML         `xml:"extensions,omitempty"`
	Segments   []TrackSegment `xml:"trkseg"`
}

// TrackSegment represents a track segment
type TrackSegment struct {
	Points     []Point   `xml:"trkpt"`
	Extensions RawXML    `xml:"extensions,omitempty"`
	Extra      []Element `xml:",any"`
}

// GPX represents the full GPX file structure
type GPX struct {
	XMLName xml.Name `xml:"gpx"`
	Version string   `xml:"version,attr"`
	Creator string   `xml:"creator,attr"`

	XMLNS string `xml:"xmlns,attr,omitempty"`

	// Prefixed namespace declarations (xmlns:gpxtpx, xmlns:xsi, ...) and any
	// other root attribute such as xsi:schemaLocation.
	Attrs []xml.Attr `xml:",any,attr"`

	Metadata   *Metadata `xml:"metadata,omitempty"`
	Waypoints  []Element `xml:"wpt"`
	Routes     []Element `xml:"rte"`
	Tracks     []Track   `xml:"trk"`
	Extensions RawXML    `xml:"extensions,omitempty"`
	Extra      []Element `xml:",any"`
}

// Metadata represents GPX metadata. Only the time is interpreted; the rest
// of the block is kept verbatim in schema order.
type Metadata struct {
	Name        string    `xml:"name,omitempty"`
	Description string    `xml:"desc,omitempty"`
	Author      *Element  `xml:"author,omitempty"`
	Copyright   *Element  `xml:"copyright,omitempty"`
	Links       []Element `xml:"link"`
	Time        string    `xml:"time,omitempty"`
	Keywords    string    `xml:"keywords,omitempty"`
	Bounds      *Element  `xml:"bounds,omitempty"`
	Extensions  RawXML    `xml:"extensions,omitempty"`
	Extra       []Element `xml:",any"`
}

// TimedPoint is a track point with a parsed timestamp and its position in
// the document.
type TimedPoint struct {
	Lat, Lon float64
	Time     time.Time

	TrackIdx, SegIdx, PtIdx int
}
