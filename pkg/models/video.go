package models

import (
	"path"
	"strings"
)

// SourceVideo is a source object discovered in the source bucket
type SourceVideo struct {
	Key      string `json:"key"`
	BaseName string `json:"base_name"`
}

// NewSourceVideo derives the base name from an object key
func NewSourceVideo(key string) SourceVideo {
	return SourceVideo{
		Key:      key,
		BaseName: BaseName(key),
	}
}

// BaseName strips the directory and extension from an object key or filename
func BaseName(key string) string {
	name := path.Base(strings.ReplaceAll(key, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.TrimSuffix(name, path.Ext(name))
}

// HasSuffix reports whether the key ends in one of the given suffixes,
// ignoring case.
func HasSuffix(key string, suffixes []string) bool {
	lower := strings.ToLower(key)
	for _, suffix := range suffixes {
		if suffix != "" && strings.HasSuffix(lower, strings.ToLower(suffix)) {
			return true
		}
	}
	return false
}
