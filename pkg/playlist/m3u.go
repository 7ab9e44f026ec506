// Package playlist renders resolved streams as an M3U playlist and checks that
// a composed master playlist URL actually serves HLS.
package playlist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"streamingcommunity-go/pkg/types"
)

const (
	header     = "#EXTM3U"
	emptyNotes = "# no streams resolved"
)

var nameReplacer = strings.NewReplacer(`"`, "'", "\r", " ", "\n", " ")

// Write renders streams in order. An empty set still yields a valid playlist.
func Write(w io.Writer, streams []types.ResolvedStream) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, header)
	if len(streams) == 0 {
		fmt.Fprintln(bw, emptyNotes)
	}
	for _, s := range streams {
		name := nameReplacer.Replace(strings.TrimSpace(s.DisplayName))
		fmt.Fprintf(bw, "#EXTINF:-1 tvg-name=\"%s\",%s\n", name, name)
		fmt.Fprintln(bw, s.URL)
	}

	return bw.Flush()
}

// WriteFile writes the playlist to path, replacing it atomically.
func WriteFile(path string, streams []types.ResolvedStream) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".playlist-*.m3u")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, streams); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write playlist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close playlist: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to set playlist mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move playlist into place: %w", err)
	}
	return nil
}
