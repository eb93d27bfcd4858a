package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietswarm/btcore/meta"
)

func TestRunCreateHybridWritesParsableTorrent(t *testing.T) {
	dir := t.TempDir()
	srcFile := filepath.Join(dir, "payload.bin")
	require.NoError(t, os.WriteFile(srcFile, []byte("hello world"), 0644))

	outPath = filepath.Join(dir, "out.torrent")
	pieceLength = 16 * 1024
	announce = "http://tracker.example/announce"
	announceTier = ""
	comment = "test torrent"
	createdBy = "btcreate-test"
	private = false
	t.Cleanup(func() {
		outPath, pieceLength, announce, announceTier, comment, private = "", 0, "", "", "", false
	})

	run := runCreate(meta.ModeHybrid)
	require.NoError(t, run(hybridCmd, []string{srcFile}))

	raw, err := os.ReadFile(outPath)
	require.NoError(t, err)

	container, err := meta.Parse(raw)
	require.NoError(t, err)
	assert.True(t, container.IsHybrid())

	_, ok := container.InfoHashV1()
	assert.True(t, ok)
	_, ok = container.InfoHashV2()
	assert.True(t, ok)
}

func TestDefaultOutPath(t *testing.T) {
	assert.Equal(t, "payload.bin.torrent", defaultOutPath("/tmp/foo/payload.bin"))
	assert.Equal(t, "mydir.torrent", defaultOutPath("/tmp/mydir/"))
}
