// ABOUTME: Analysis stream wire format definitions
// ABOUTME: Explicit optional-field schema for frames and track metadata
package protocol

// WireFrame is one message on the analysis stream.
//
// Text messages carry it as JSON, binary messages as MessagePack using the
// same field names. Optional values are pointers so absent and empty stay
// distinguishable.
type WireFrame struct {
	FFT      []float64 `json:"fft,omitempty"`
	Waveform []float64 `json:"waveform,omitempty"`
	Peak     *float64  `json:"peak,omitempty"`
	Media    *Media    `json:"media,omitempty"`
}

// Media is the track metadata record attached to a frame
type Media struct {
	Artist          *string  `json:"artist,omitempty"`
	Title           *string  `json:"title,omitempty"`
	Album           *string  `json:"album,omitempty"`
	AlbumArt        *string  `json:"albumArt,omitempty"` // URL or data URI
	ArtistImages    []string `json:"artistImages,omitempty"`
	DetectionSource *string  `json:"detectionSource,omitempty"`

	// Enrichment appended after the track was first announced
	DominantColors      [][]int  `json:"dominantColors,omitempty"` // [[r,g,b], ...]
	Genres              []string `json:"genres,omitempty"`
	MoodTags            []string `json:"moodTags,omitempty"`
	PreferredVisualizer *string  `json:"preferredVisualizer,omitempty"`

	// Video match
	YouTubeVideoID      *string `json:"youtubeVideoId,omitempty"`
	YouTubeTitle        *string `json:"youtubeTitle,omitempty"`
	YouTubeURL          *string `json:"youtubeUrl,omitempty"`
	YouTubeThumbnailURL *string `json:"youtubeThumbnailUrl,omitempty"`
	YouTubeDuration     *int    `json:"youtubeDuration,omitempty"`

	// Version counters maintained by the backend
	ProfileVersion *int `json:"_profileVersion,omitempty"`
	HistoryVersion *int `json:"_historyVersion,omitempty"`
}
