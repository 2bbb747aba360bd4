package models

import (
	"errors"
	"fmt"
)

// RenditionSpec defines one rung of the output ladder
type RenditionSpec struct {
	Label   string `json:"label" mapstructure:"label"`
	Width   int    `json:"width" mapstructure:"width"`
	Height  int    `json:"height" mapstructure:"height"`
	Bitrate int    `json:"bitrate" mapstructure:"bitrate"` // kbps
}

// Bandwidth returns the target bitrate in bits per second, as advertised in
// the master playlist.
func (r RenditionSpec) Bandwidth() int64 {
	return int64(r.Bitrate) * 1000
}

// Resolution returns the frame size as WIDTHxHEIGHT
func (r RenditionSpec) Resolution() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Standard ladder rungs
var (
	// Rendition360p represents low-quality mobile resolution
	Rendition360p = RenditionSpec{Label: "360", Width: 640, Height: 360, Bitrate: 800}

	// Rendition480p represents SD resolution
	Rendition480p = RenditionSpec{Label: "480", Width: 854, Height: 480, Bitrate: 1400}

	// Rendition720p represents HD resolution
	Rendition720p = RenditionSpec{Label: "720", Width: 1280, Height: 720, Bitrate: 2800}

	// Rendition1080p represents Full HD resolution
	Rendition1080p = RenditionSpec{Label: "1080", Width: 1920, Height: 1080, Bitrate: 5000}
)

// DefaultLadder returns the standard ladder in ascending quality order
func DefaultLadder() []RenditionSpec {
	return []RenditionSpec{
		Rendition360p,
		Rendition480p,
		Rendition720p,
		Rendition1080p,
	}
}

// ValidateLadder checks that a ladder can be encoded and published
func ValidateLadder(ladder []RenditionSpec) error {
	if len(ladder) == 0 {
		return errors.New("ladder has no renditions")
	}

	seen := make(map[string]bool, len(ladder))
	for i, spec := range ladder {
		if spec.Label == "" {
			return fmt.Errorf("rendition %d has no label", i)
		}
		if seen[spec.Label] {
			return fmt.Errorf("duplicate rendition label %q", spec.Label)
		}
		seen[spec.Label] = true

		if spec.Width <= 0 || spec.Height <= 0 {
			return fmt.Errorf("rendition %q has invalid frame size %s", spec.Label, spec.Resolution())
		}
		if spec.Bitrate <= 0 {
			return fmt.Errorf("rendition %q has invalid bitrate %d", spec.Label, spec.Bitrate)
		}
	}

	return nil
}
