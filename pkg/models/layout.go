package models

import "fmt"

// Layout selects the file naming convention for produced HLS artifacts
type Layout string

// Layout constants
const (
	// LayoutNamed names files after the source: B-720.m3u8, B.m3u8
	LayoutNamed Layout = "named"
	// LayoutIndex uses fixed names: index_720.m3u8, master.m3u8
	LayoutIndex Layout = "index"
)

// Valid reports whether the layout is known
func (l Layout) Valid() bool {
	return l == LayoutNamed || l == LayoutIndex
}

// PlaylistName returns the sub-playlist filename for a rendition
func (l Layout) PlaylistName(baseName string, spec RenditionSpec) string {
	return l.stem(baseName, spec) + ".m3u8"
}

// SegmentPattern returns the ffmpeg segment filename pattern for a rendition.
// The rendition label is part of every segment name so renditions can share
// one output directory.
func (l Layout) SegmentPattern(baseName string, spec RenditionSpec) string {
	return l.stem(baseName, spec) + "_%03d.ts"
}

// MasterName returns the master playlist filename
func (l Layout) MasterName(baseName string) string {
	if l == LayoutIndex {
		return "master.m3u8"
	}
	return baseName + ".m3u8"
}

func (l Layout) stem(baseName string, spec RenditionSpec) string {
	if l == LayoutIndex {
		return fmt.Sprintf("index_%s", spec.Label)
	}
	return fmt.Sprintf("%s-%s", baseName, spec.Label)
}
