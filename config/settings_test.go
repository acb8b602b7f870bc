package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytbatch/types"
)

func TestLoadSettings_MissingFileUsesDefaults(t *testing.T) {
	settings, err := LoadSettings(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), settings)
}

func TestLoadSettings_PartialAndUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	body := `{"output_dir": "/tmp/media", "thread_count": 4, "format": "Audio Only", "theme": "dark"}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	settings, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/media", settings.OutputDir)
	assert.Equal(t, 4, settings.ThreadCount)
	assert.Equal(t, FormatAudioOnly, settings.Format)
	// untouched keys keep their defaults
	assert.Equal(t, "1080p", settings.Quality)
	assert.Equal(t, "mp3", settings.AudioCodec)
}

func TestLoadSettings_CorruptFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	settings, err := LoadSettings(path)
	require.Error(t, err)

	var ioErr *types.IOError
	assert.True(t, errors.As(err, &ioErr))
	assert.Equal(t, DefaultSettings(), settings)
}

func TestSaveSettings_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	want := DefaultSettings()
	want.OutputDir = "/srv/media"
	want.UseProxy = true
	want.ProxyURL = "http://proxy:3128"
	want.RateLimit = 512

	require.NoError(t, SaveSettings(path, want))

	got, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSettings_ToOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		check  func(*testing.T, types.Options)
	}{
		{
			name:   "best quality with ceiling",
			mutate: func(s *Settings) { s.Quality = "720p" },
			check: func(t *testing.T, o types.Options) {
				assert.Equal(t, types.FormatBest, o.Format)
				assert.Equal(t, 720, o.MaxHeight)
			},
		},
		{
			name:   "auto quality has no ceiling",
			mutate: func(s *Settings) { s.Format = FormatVideoOnly; s.Quality = "Auto" },
			check: func(t *testing.T, o types.Options) {
				assert.Equal(t, types.FormatVideoOnly, o.Format)
				assert.Zero(t, o.MaxHeight)
			},
		},
		{
			name:   "rate limit is converted to bytes",
			mutate: func(s *Settings) { s.RateLimit = 100 },
			check: func(t *testing.T, o types.Options) {
				assert.Equal(t, int64(100*1024), o.RateLimit)
			},
		},
		{
			name:   "proxy only applies when enabled",
			mutate: func(s *Settings) { s.ProxyURL = "http://proxy:1" },
			check: func(t *testing.T, o types.Options) {
				assert.Empty(t, o.ProxyURL)
			},
		},
		{
			name:   "thread count is clamped",
			mutate: func(s *Settings) { s.ThreadCount = 99 },
			check: func(t *testing.T, o types.Options) {
				assert.Equal(t, types.MaxThreadCount, o.ThreadCount)
			},
		},
		{
			name:   "audio chain is carried over",
			mutate: func(s *Settings) { s.Format = FormatAudioOnly; s.AudioBitrate = 320 },
			check: func(t *testing.T, o types.Options) {
				assert.Equal(t, types.FormatAudioOnly, o.Format)
				assert.Equal(t, 320, o.Audio.Bitrate)
				assert.Equal(t, "mp3", o.Audio.Codec)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			s.OutputDir = "/tmp/out"
			tt.mutate(&s)
			tt.check(t, s.ToOptions())
		})
	}
}

func TestSettingsStore_Update(t *testing.T) {
	store, err := NewSettingsStore(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	updated, err := store.Update(map[string]any{
		"thread_count": float64(8), // JSON numbers decode as float64
		"subtitles":    true,
	})
	require.NoError(t, err)
	assert.Equal(t, 8, updated.ThreadCount)
	assert.True(t, updated.Subtitles)
	assert.Equal(t, updated, store.Get())

	_, err = store.Update(map[string]any{"thread_count": 0})
	var vErr *types.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "thread_count", vErr.Field)
	assert.Equal(t, 8, store.Get().ThreadCount, "rejected update must not apply")

	require.NoError(t, store.Save())
	reloaded, err := LoadSettings(store.Path())
	require.NoError(t, err)
	assert.Equal(t, store.Get(), reloaded)
}
