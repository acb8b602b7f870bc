package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/mitchellh/go-homedir"
	"github.com/mitchellh/mapstructure"

	"ytbatch/types"
)

// Settings represents the user's persisted preferences. Field names follow
// the keys of the settings file.
type Settings struct {
	OutputDir   string `json:"output_dir" mapstructure:"output_dir"`
	UseProxy    bool   `json:"use_proxy" mapstructure:"use_proxy"`
	ProxyURL    string `json:"proxy_url" mapstructure:"proxy_url"`
	RateLimit   int    `json:"rate_limit" mapstructure:"rate_limit"` // KiB/s, 0 = no limit
	ThreadCount int    `json:"thread_count" mapstructure:"thread_count"`
	Format      string `json:"format" mapstructure:"format"`   // "Best Quality", "Video Only", "Audio Only"
	Quality     string `json:"quality" mapstructure:"quality"` // "1080p", "720p", ..., "Auto"
	Subtitles   bool   `json:"subtitles" mapstructure:"subtitles"`
	Playlist    bool   `json:"playlist" mapstructure:"playlist"`

	AudioCodec      string `json:"audio_codec" mapstructure:"audio_codec"`
	AudioBitrate    int    `json:"audio_bitrate" mapstructure:"audio_bitrate"`
	AudioSampleRate int    `json:"audio_sample_rate" mapstructure:"audio_sample_rate"`
	AudioChannels   int    `json:"audio_channels" mapstructure:"audio_channels"`
}

const (
	FormatBestQuality = "Best Quality"
	FormatVideoOnly   = "Video Only"
	FormatAudioOnly   = "Audio Only"
	QualityAuto       = "Auto"
)

// DefaultSettings returns the settings used when no file exists or a key is missing
func DefaultSettings() Settings {
	return Settings{
		OutputDir:       GetDownloadLocation(),
		ThreadCount:     16,
		Format:          FormatBestQuality,
		Quality:         "1080p",
		AudioCodec:      "mp3",
		AudioBitrate:    192,
		AudioSampleRate: 44100,
		AudioChannels:   2,
	}
}

// LoadSettings reads the settings file at path. Missing keys keep their
// default value and unknown keys are ignored. A missing file is not an error;
// any other failure returns the defaults alongside an *types.IOError.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return settings, nil
		}
		return settings, &types.IOError{Op: "read settings", Path: path, Err: err}
	}

	if err := json.Unmarshal(data, &settings); err != nil {
		return DefaultSettings(), &types.IOError{Op: "parse settings", Path: path, Err: err}
	}

	return settings, nil
}

// SaveSettings writes settings to path as indented JSON
func SaveSettings(path string, settings Settings) error {
	data, err := json.MarshalIndent(settings, "", "    ")
	if err != nil {
		return &types.IOError{Op: "encode settings", Path: path, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &types.IOError{Op: "write settings", Path: path, Err: err}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return &types.IOError{Op: "write settings", Path: path, Err: err}
	}

	return nil
}

// Validate checks the values a user can get wrong
func (s Settings) Validate() error {
	if strings.TrimSpace(s.OutputDir) == "" {
		return &types.ValidationError{Field: "output_dir", Reason: "must not be empty"}
	}
	if s.ThreadCount < types.MinThreadCount || s.ThreadCount > types.MaxThreadCount {
		return &types.ValidationError{Field: "thread_count", Reason: fmt.Sprintf("must be between %d and %d", types.MinThreadCount, types.MaxThreadCount)}
	}
	if s.RateLimit < 0 {
		return &types.ValidationError{Field: "rate_limit", Reason: "must not be negative"}
	}
	switch s.Format {
	case FormatBestQuality, FormatVideoOnly, FormatAudioOnly:
	default:
		return &types.ValidationError{Field: "format", Reason: fmt.Sprintf("unknown format %q", s.Format)}
	}
	if _, err := parseQuality(s.Quality); err != nil {
		return &types.ValidationError{Field: "quality", Reason: err.Error()}
	}
	if s.UseProxy && strings.TrimSpace(s.ProxyURL) == "" {
		return &types.ValidationError{Field: "proxy_url", Reason: "required when use_proxy is set"}
	}
	return nil
}

// ToOptions resolves the settings into a job options snapshot
func (s Settings) ToOptions() types.Options {
	opts := types.Options{
		OutputDir:   s.OutputDir,
		Subtitles:   s.Subtitles,
		Playlist:    s.Playlist,
		ThreadCount: clampThreads(s.ThreadCount),
		Audio: types.AudioOptions{
			Codec:      s.AudioCodec,
			Bitrate:    s.AudioBitrate,
			SampleRate: s.AudioSampleRate,
			Channels:   s.AudioChannels,
		},
	}

	if expanded, err := homedir.Expand(s.OutputDir); err == nil {
		opts.OutputDir = expanded
	}

	switch s.Format {
	case FormatVideoOnly:
		opts.Format = types.FormatVideoOnly
	case FormatAudioOnly:
		opts.Format = types.FormatAudioOnly
	default:
		opts.Format = types.FormatBest
	}

	if height, err := parseQuality(s.Quality); err == nil {
		opts.MaxHeight = height
	}
	if s.RateLimit > 0 {
		opts.RateLimit = int64(s.RateLimit) * 1024
	}
	if s.UseProxy {
		opts.ProxyURL = strings.TrimSpace(s.ProxyURL)
	}

	return opts
}

func clampThreads(n int) int {
	if n < types.MinThreadCount {
		return types.MinThreadCount
	}
	if n > types.MaxThreadCount {
		return types.MaxThreadCount
	}
	return n
}

// parseQuality turns "720p" into 720 and "Auto" (or "") into 0
func parseQuality(q string) (int, error) {
	q = strings.TrimSpace(q)
	if q == "" || strings.EqualFold(q, QualityAuto) {
		return 0, nil
	}
	height, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(q), "p"))
	if err != nil || height <= 0 {
		return 0, fmt.Errorf("unknown quality %q", q)
	}
	return height, nil
}

// SettingsStore holds the current settings and the file they came from
type SettingsStore struct {
	mu       sync.RWMutex
	path     string
	settings Settings
}

// NewSettingsStore loads the settings file at path. A load failure is
// returned for reporting, but the store is always usable and falls back to
// the defaults.
func NewSettingsStore(path string) (*SettingsStore, error) {
	settings, err := LoadSettings(path)
	return &SettingsStore{path: path, settings: settings}, err
}

// Get returns a copy of the current settings
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Options returns the job options derived from the current settings
func (s *SettingsStore) Options() types.Options {
	return s.Get().ToOptions()
}

// Path returns the settings file location
func (s *SettingsStore) Path() string {
	return s.path
}

// Update applies a partial update, where keys are settings file keys. The
// result is validated before it replaces the current settings; nothing is
// written to disk.
func (s *SettingsStore) Update(changes map[string]any) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := s.settings
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &updated,
		WeaklyTypedInput: true,
		ErrorUnused:      false,
	})
	if err != nil {
		return s.settings, err
	}
	if err := decoder.Decode(changes); err != nil {
		return s.settings, &types.ValidationError{Field: "settings", Reason: err.Error()}
	}
	if err := updated.Validate(); err != nil {
		return s.settings, err
	}

	s.settings = updated
	return updated, nil
}

// Save writes the current settings to the settings file
func (s *SettingsStore) Save() error {
	s.mu.RLock()
	settings := s.settings
	s.mu.RUnlock()
	return SaveSettings(s.path, settings)
}
