package transcoder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/therealutkarshpriyadarshi/hlsbatch/pkg/models"
)

const playlistHeader = "#EXTM3U"

// BuildMasterPlaylist renders the master playlist for the given entries in
// the order given. It renders exactly what it is handed; callers decide
// which renditions belong in it.
func BuildMasterPlaylist(entries []models.MasterEntry) string {
	var content strings.Builder

	content.WriteString(playlistHeader + "\n")
	for _, entry := range entries {
		content.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s\n",
			entry.Spec.Bandwidth(),
			entry.Spec.Resolution(),
		))
		content.WriteString(entry.URI + "\n")
	}

	return content.String()
}

// MasterEntries pairs each artifact with its sub-playlist filename, relative
// to a master written in the same directory
func MasterEntries(artifacts []*models.RenditionArtifact) []models.MasterEntry {
	entries := make([]models.MasterEntry, 0, len(artifacts))
	for _, artifact := range artifacts {
		if artifact == nil {
			continue
		}
		entries = append(entries, models.MasterEntry{
			Spec: artifact.Spec,
			URI:  filepath.Base(artifact.PlaylistPath),
		})
	}
	return entries
}

// WriteMasterPlaylist writes the master playlist as a UTF-8 text file
func WriteMasterPlaylist(path string, entries []models.MasterEntry) error {
	if err := os.WriteFile(path, []byte(BuildMasterPlaylist(entries)), 0644); err != nil {
		return fmt.Errorf("failed to write master playlist: %w", err)
	}
	return nil
}
