package types

// SubmitRequest is the body of a single download submission
type SubmitRequest struct {
	URL        string `json:"url"`
	OutputName string `json:"outputName,omitempty"`
}

// BatchRequest is the body of a batch submission
type BatchRequest struct {
	URLs    []string      `json:"urls,omitempty"`
	Entries []ImportEntry `json:"entries,omitempty"`
}

// AudioMetadata represents the tags read from a finished audio file
type AudioMetadata struct {
	Title       string `json:"title,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
	TrackNumber int    `json:"trackNumber,omitempty"`
}
