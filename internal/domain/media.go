package domain

import (
	"path/filepath"
	"slices"
	"strings"
)

// Supported upload extensions, lower-case with leading dot.
var (
	VideoExtensions = []string{".mp4", ".avi", ".mov", ".mkv", ".wmv", ".flv"}
	AudioExtensions = []string{".mp3", ".wav", ".aac", ".m4a", ".ogg", ".flac"}
)

// ValidateVideoFilename checks the extension of a client-supplied video filename.
func ValidateVideoFilename(name string) error {
	return validateExtension("video_file", name, VideoExtensions)
}

// ValidateAudioFilename checks the extension of a client-supplied audio filename.
func ValidateAudioFilename(name string) error {
	return validateExtension("audio_file", name, AudioExtensions)
}

func validateExtension(field, name string, allowed []string) error {
	if strings.TrimSpace(name) == "" {
		return NewValidationError(field, "is required", ErrValidation)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !slices.Contains(allowed, ext) {
		return NewValidationError(field,
			"has unsupported format; supported: "+strings.Join(allowed, ", "),
			ErrUnsupportedFormat)
	}
	return nil
}
