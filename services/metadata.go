package services

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/dhowden/tag"

	"ytbatch/logger"
	"ytbatch/types"
)

var metaLog = logger.Get("Metadata")

var trackPrefix = regexp.MustCompile(`^(\d+)[\.\-\s]+(.+)`)

var audioExtensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
	".opus": true,
	".aac":  true,
}

// MetadataReader inspects files produced by the backend
type MetadataReader interface {
	IsAudio(path string) bool
	ReadAudioMetadata(path string) *types.AudioMetadata
}

type tagReader struct{}

// NewMetadataReader creates a reader backed by the file's embedded tags,
// falling back to what the file name says
func NewMetadataReader() MetadataReader {
	return &tagReader{}
}

func (r *tagReader) IsAudio(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}

// ReadAudioMetadata extracts metadata from an audio file with fallback logic
func (r *tagReader) ReadAudioMetadata(path string) *types.AudioMetadata {
	file, err := os.Open(path)
	if err != nil {
		metaLog.Emit(logger.WARNING, "could not open audio file %s: %v\n", path, err)
		return metadataFromPath(path)
	}
	defer file.Close()

	meta, err := tag.ReadFrom(file)
	if err != nil {
		metaLog.Emit(logger.DEBUG, "no readable tags in %s: %v\n", path, err)
		return metadataFromPath(path)
	}

	metadata := &types.AudioMetadata{
		Title:  meta.Title(),
		Artist: meta.Artist(),
		Album:  meta.Album(),
	}
	metadata.TrackNumber, _ = meta.Track()

	if metadata.Title == "" {
		fallback := metadataFromPath(path)
		metadata.Title = fallback.Title
		if metadata.TrackNumber == 0 {
			metadata.TrackNumber = fallback.TrackNumber
		}
	}

	return metadata
}

// metadataFromPath derives a title (and track number) from the file name
func metadataFromPath(path string) *types.AudioMetadata {
	metadata := &types.AudioMetadata{}

	filename := filepath.Base(path)
	title := strings.TrimSuffix(filename, filepath.Ext(filename))

	// Remove track number prefixes like "01 - ", "1. "
	if matches := trackPrefix.FindStringSubmatch(title); len(matches) > 2 {
		title = matches[2]
		if trackNum, err := strconv.Atoi(matches[1]); err == nil {
			metadata.TrackNumber = trackNum
		}
	}

	metadata.Title = title
	return metadata
}

// describeMetadata renders metadata as a short status line
func describeMetadata(m *types.AudioMetadata) string {
	if m == nil || m.Title == "" {
		return ""
	}
	desc := m.Title
	if m.Artist != "" {
		desc += " by " + m.Artist
	}
	if m.Album != "" {
		desc += " (" + m.Album + ")"
	}
	return desc
}
