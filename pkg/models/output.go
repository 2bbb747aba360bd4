package models

import (
	"time"
)

// RenditionArtifact is the set of files produced for one rendition
type RenditionArtifact struct {
	Spec         RenditionSpec `json:"spec"`
	PlaylistPath string        `json:"playlist_path"`
	Segments     []string      `json:"segments"` // absolute paths, playlist order
}

// MasterEntry is one variant stream row of a master playlist
type MasterEntry struct {
	Spec RenditionSpec
	URI  string // relative to the master playlist
}

// ConversionResult describes a finished conversion
type ConversionResult struct {
	JobID       string    `json:"job_id"`
	SourceKey   string    `json:"source_key"`
	BaseName    string    `json:"base_name"`
	Prefix      string    `json:"prefix"`
	MasterKey   string    `json:"master_key"`
	MasterURL   string    `json:"master_url"`
	Renditions  []string  `json:"renditions"`
	Uploaded    int       `json:"uploaded"`
	Skipped     bool      `json:"skipped,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
