package minnow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMOTD(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "motd.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMOTD(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		blocks, err := LoadMOTD(filepath.Join(t.TempDir(), "nope.txt"), "srv")
		require.NoError(t, err)
		assert.Nil(t, blocks)
	})

	t.Run("small file is one block", func(t *testing.T) {
		path := writeMOTD(t, "welcome\nto the server\n")
		blocks, err := LoadMOTD(path, "srv")
		require.NoError(t, err)
		require.Len(t, blocks, 1)
		assert.Equal(t, []string{"welcome", "to the server"}, blocks[0])
	})

	t.Run("trailing whitespace trimmed", func(t *testing.T) {
		path := writeMOTD(t, "hello   \t\n")
		blocks, err := LoadMOTD(path, "srv")
		require.NoError(t, err)
		assert.Equal(t, []string{"hello"}, blocks[0])
	})

	t.Run("blank line becomes a space", func(t *testing.T) {
		path := writeMOTD(t, "above\n\nbelow\n")
		blocks, err := LoadMOTD(path, "srv")
		require.NoError(t, err)
		assert.Equal(t, []string{"above", " ", "below"}, blocks[0])
	})

	t.Run("long line truncated", func(t *testing.T) {
		path := writeMOTD(t, strings.Repeat("x", maxMOTDLine+50)+"\n")
		blocks, err := LoadMOTD(path, "srv")
		require.NoError(t, err)
		assert.Len(t, blocks[0][0], maxMOTDLine)
	})

	t.Run("large file split into blocks", func(t *testing.T) {
		var sb strings.Builder
		for i := 0; i < 40; i++ {
			sb.WriteString(strings.Repeat("m", 150))
			sb.WriteByte('\n')
		}
		path := writeMOTD(t, sb.String())
		blocks, err := LoadMOTD(path, "srv")
		require.NoError(t, err)
		require.Greater(t, len(blocks), 1)

		// Nothing lost across the split.
		var total int
		for _, b := range blocks {
			total += len(b)
		}
		assert.Equal(t, 40, total)

		// Every block leaves room for the frame header.
		for _, b := range blocks {
			size := len("srv") + 128
			for _, line := range b {
				size += len(line) + motdLineOverhead
			}
			assert.LessOrEqual(t, size, 1400)
		}
	})
}
