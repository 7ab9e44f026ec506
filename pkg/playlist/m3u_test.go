package playlist

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamingcommunity-go/pkg/types"
)

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, []types.ResolvedStream{
		{DisplayName: "Black Panther", URL: "https://vixcloud.co/playlist/381?b=1&token=abc&expires=99&h=1"},
		{DisplayName: "Wakanda", URL: "https://vixcloud.co/playlist/77?token=t&expires=e"},
	})
	require.NoError(t, err)

	want := "#EXTM3U\n" +
		"#EXTINF:-1 tvg-name=\"Black Panther\",Black Panther\n" +
		"https://vixcloud.co/playlist/381?b=1&token=abc&expires=99&h=1\n" +
		"#EXTINF:-1 tvg-name=\"Wakanda\",Wakanda\n" +
		"https://vixcloud.co/playlist/77?token=t&expires=e\n"
	assert.Equal(t, want, buf.String())
}

func TestWrite_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil))
	assert.Equal(t, "#EXTM3U\n# no streams resolved\n", buf.String())
}

func TestWrite_SanitizesNames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []types.ResolvedStream{{DisplayName: "The \"Best\"\nShow ", URL: "u"}}))
	assert.Equal(t, "#EXTM3U\n#EXTINF:-1 tvg-name=\"The 'Best' Show\",The 'Best' Show\nu\n", buf.String())
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Simud.m3u")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	require.NoError(t, WriteFile(path, []types.ResolvedStream{{DisplayName: "A", URL: "https://cdn/a"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "#EXTM3U\n#EXTINF:-1 tvg-name=\"A\",A\nhttps://cdn/a\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteFile_MissingDir(t *testing.T) {
	err := WriteFile(filepath.Join(t.TempDir(), "nope", "out.m3u"), nil)
	assert.Error(t, err)
}
