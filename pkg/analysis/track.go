// ABOUTME: Track metadata carried alongside analysis frames
// ABOUTME: Defines identity keys, detection sources and enrichment fields
package analysis

import (
	"image/color"
	"strings"
)

// DetectionSource identifies how the backend detected the playing track
type DetectionSource string

const (
	SourceUnknown      DetectionSource = ""
	SourceDOMScrape    DetectionSource = "dom-scrape"
	SourceMediaSession DetectionSource = "media-session-api"
	SourceFingerprint  DetectionSource = "fingerprint"
)

// ParseDetectionSource maps wire spellings onto a DetectionSource.
// The backend has used several names for the same source over time.
func ParseDetectionSource(s string) DetectionSource {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dom-scrape", "dom_scrape", "extension", "chrome_title", "tab_title":
		return SourceDOMScrape
	case "media-session-api", "media_session", "media-session", "smtc":
		return SourceMediaSession
	case "fingerprint", "acoustid":
		return SourceFingerprint
	default:
		return SourceUnknown
	}
}

// Key is the identity of a logical track
type Key struct {
	Artist string
	Title  string
}

// String renders the key the way the backend logs it
func (k Key) String() string {
	return k.Artist + "|||" + k.Title
}

// VideoInfo describes a matching music video, when the backend found one
type VideoInfo struct {
	ID       string
	Title    string
	URL      string
	Duration int // seconds
}

// Track identifies the currently playing item.
//
// Optional references are pointers so that "absent" is never confused with
// an empty string. Enrichment fields may be filled in by later deliveries of
// the same Key with a higher EnrichmentVersion.
type Track struct {
	Artist          string
	Title           string
	Album           string
	AlbumArtRef     *string
	ArtistImageRefs []string
	ThumbnailRef    *string
	Source          DetectionSource

	EnrichmentVersion int
	HistoryVersion    int

	Genres              []string
	MoodTags            []string
	DominantColors      []color.RGBA
	PreferredVisualizer string
	Video               *VideoInfo
}

// Key returns the (artist, title) identity of the track
func (t Track) Key() Key {
	return Key{Artist: t.Artist, Title: t.Title}
}

// Accent returns the first dominant color, if any
func (t Track) Accent() (color.RGBA, bool) {
	if len(t.DominantColors) == 0 {
		return color.RGBA{}, false
	}
	return t.DominantColors[0], true
}
