package meta

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPieceLengthTiers(t *testing.T) {
	assert.EqualValues(t, 16*1024, DefaultPieceLength(1024))
	assert.EqualValues(t, 16*1024, DefaultPieceLength(16*1024*1024))
	assert.EqualValues(t, 256*1024, DefaultPieceLength(16*1024*1024+1))
	assert.EqualValues(t, 256*1024, DefaultPieceLength(512*1024*1024))
	assert.EqualValues(t, 1024*1024, DefaultPieceLength(512*1024*1024+1))
}

func writeTempFile(t *testing.T, dir, name string, size int) string {
	path := filepath.Join(dir, name)
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

// TestGenerateV1SingleFile is seed case 1: a v1 single-file torrent must
// parse back to an info hash matching a direct SHA-1 of its canonical info
// dictionary, with no v2 fields present.
func TestGenerateV1SingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "payload.bin", 5000)

	c, err := Generate(path, GenerateOptions{Mode: ModeV1, PieceLength: 1024})
	require.NoError(t, err)
	require.NotNil(t, c.V1)
	assert.Nil(t, c.V2)

	v1Hash, ok := c.InfoHashV1()
	assert.True(t, ok)
	assert.False(t, v1Hash.IsZero())
	_, ok = c.InfoHashV2()
	assert.False(t, ok)

	data, err := c.Bencode()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.NotNil(t, parsed.V1)
	parsedHash, ok := parsed.InfoHashV1()
	require.True(t, ok)
	assert.Equal(t, v1Hash, parsedHash)
}

// TestGenerateV2EmptyFile is seed case 2: an empty file's pieces root must
// be 32 zero bytes, and the overall v2 info hash must still be well-defined
// and non-zero.
func TestGenerateV2EmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "empty.dat", 0)

	c, err := Generate(path, GenerateOptions{Mode: ModeV2, PieceLength: 16384})
	require.NoError(t, err)
	require.NotNil(t, c.V2)

	leaf := c.V2.FileTree.Children["empty.dat"]
	require.NotNil(t, leaf)
	assert.True(t, leaf.PiecesRoot.IsZero())
	assert.Empty(t, c.V2.PieceLayers)

	v2Hash, ok := c.InfoHashV2()
	assert.True(t, ok)
	assert.False(t, v2Hash.IsZero())
}

// TestGenerateHybrid is seed case 3: a 33000-byte file with a 16384-byte
// piece length must produce both a v1 and a v2 info hash, with consistent
// piece counts across the two schemes.
func TestGenerateHybrid(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "hybrid.bin", 33000)

	c, err := Generate(path, GenerateOptions{Mode: ModeHybrid, PieceLength: 16384})
	require.NoError(t, err)
	require.NotNil(t, c.V1)
	require.NotNil(t, c.V2)
	assert.Equal(t, 3, c.MetaVersion)

	assert.Equal(t, 3, c.V1.NumPieces()) // ceil(33000/16384) = 3

	leaf := c.V2.FileTree.Children["hybrid.bin"]
	require.NotNil(t, leaf)
	layer, ok := c.V2.PieceLayers[leaf.PiecesRoot]
	require.True(t, ok)
	assert.Equal(t, 3, layer.NumPieces())

	v1Hash, ok := c.InfoHashV1()
	require.True(t, ok)
	v2Hash, ok := c.InfoHashV2()
	require.True(t, ok)
	assert.False(t, v1Hash.IsZero())
	assert.False(t, v2Hash.IsZero())
}

func TestGenerateV1Directory(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "pkg")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0755))
	writeTempFile(t, root, "a.txt", 100)
	writeTempFile(t, filepath.Join(root, "sub"), "b.txt", 200)

	c, err := Generate(root, GenerateOptions{Mode: ModeV1, PieceLength: 1024})
	require.NoError(t, err)
	require.NotNil(t, c.V1)
	assert.True(t, c.V1.IsDir())
	assert.Len(t, c.V1.Files, 2)
	assert.EqualValues(t, 300, c.V1.TotalLength())
}

func TestGenerateParseRoundTripPreservesHash(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "pkg")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0755))
	writeTempFile(t, root, "a.txt", 12345)
	writeTempFile(t, filepath.Join(root, "sub"), "b.txt", 6789)

	c, err := Generate(root, GenerateOptions{Mode: ModeHybrid, PieceLength: 16384, Private: true})
	require.NoError(t, err)

	v1Hash, _ := c.InfoHashV1()
	v2Hash, _ := c.InfoHashV2()

	data, err := c.Bencode()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)

	parsedV1, ok := parsed.InfoHashV1()
	require.True(t, ok)
	parsedV2, ok := parsed.InfoHashV2()
	require.True(t, ok)

	assert.Equal(t, v1Hash, parsedV1)
	assert.Equal(t, v2Hash, parsedV2)

	data2, err := parsed.Bencode()
	require.NoError(t, err)
	assert.Equal(t, data, data2)
}
