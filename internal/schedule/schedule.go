// Package schedule parses a published conference-schedule document into a
// normalized track/talk model.
package schedule

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ErrMalformed is returned when the document cannot be parsed as markup at
// all. Individually broken entries never trigger it; they are dropped.
var ErrMalformed = errors.New("malformed schedule document")

// Talk is a single scheduled session within a track.
type Talk struct {
	Slug     string `json:"slug"`
	Title    string `json:"title"`
	Date     string `json:"date"`
	Start    string `json:"start"`
	Duration string `json:"duration"`
	Room     string `json:"room"`
	URL      string `json:"url"`
}

// Track groups the talks of one thematic category. Talks are ordered by
// (date, start) ascending.
type Track struct {
	Name  string `json:"name"`
	Talks []Talk `json:"talks"`
}

// xmlTrackRef is a <track slug="...">Display Name</track> element, used both
// as a top-level track declaration and as an event's track reference.
type xmlTrackRef struct {
	Slug string `xml:"slug,attr"`
	Name string `xml:",chardata"`
}

// xmlEvent mirrors the <event> element shape of the schedule dialect.
type xmlEvent struct {
	Slug     string      `xml:"slug"`
	Title    string      `xml:"title"`
	Track    xmlTrackRef `xml:"track"`
	Date     string      `xml:"date"`
	Start    string      `xml:"start"`
	Duration string      `xml:"duration"`
	Room     string      `xml:"room"`
	URL      string      `xml:"url"`
}

// Parse converts a schedule document into a track-slug keyed model.
//
// Track declarations are collected first, then events. An event must carry a
// slug, a title, and a track reference to be included; anything else missing
// is tolerated as an empty field. Events referencing an undeclared track get
// a synthesized track named after the reference's display text, falling back
// to the slug itself.
//
// Talks within each track are sorted by (date, start) using plain string
// comparison. The schedule data uses zero-padded ISO-like values, so ordinal
// comparison orders correctly and stays byte-for-byte compatible with what
// earlier deployments persisted. Do not make this date-aware.
func Parse(doc []byte) (map[string]*Track, error) {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	// Schedule exports in the wild carry ISO-8859-1 headers; the content we
	// care about is ASCII-safe either way.
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	tracks := make(map[string]*Track)
	var pending []xmlEvent
	sawElement := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		sawElement = true

		switch se.Name.Local {
		case "event":
			var ev xmlEvent
			if err := dec.DecodeElement(&ev, &se); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			pending = append(pending, ev)
		case "track":
			var ref xmlTrackRef
			if err := dec.DecodeElement(&ref, &se); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			slug := strings.TrimSpace(ref.Slug)
			if slug != "" {
				tracks[slug] = &Track{Name: strings.TrimSpace(ref.Name)}
			}
		}
	}

	if !sawElement {
		return nil, fmt.Errorf("%w: no markup elements found", ErrMalformed)
	}

	for _, ev := range pending {
		slug := strings.TrimSpace(ev.Slug)
		title := strings.TrimSpace(ev.Title)
		trackSlug := strings.TrimSpace(ev.Track.Slug)
		if slug == "" || title == "" || trackSlug == "" {
			continue
		}

		track, ok := tracks[trackSlug]
		if !ok {
			name := strings.TrimSpace(ev.Track.Name)
			if name == "" {
				name = trackSlug
			}
			track = &Track{Name: name}
			tracks[trackSlug] = track
		}

		track.Talks = append(track.Talks, Talk{
			Slug:     slug,
			Title:    title,
			Date:     strings.TrimSpace(ev.Date),
			Start:    strings.TrimSpace(ev.Start),
			Duration: strings.TrimSpace(ev.Duration),
			Room:     strings.TrimSpace(ev.Room),
			URL:      strings.TrimSpace(ev.URL),
		})
	}

	for _, track := range tracks {
		SortTalks(track.Talks)
	}

	return tracks, nil
}

// SortTalks stable-sorts talks in place by (date, start) ordinal comparison,
// ties keeping input order. Shared with the projection layer, which promises
// the same ordering for per-user talk lists.
func SortTalks(talks []Talk) {
	sort.SliceStable(talks, func(i, j int) bool {
		if talks[i].Date != talks[j].Date {
			return talks[i].Date < talks[j].Date
		}
		return talks[i].Start < talks[j].Start
	})
}
