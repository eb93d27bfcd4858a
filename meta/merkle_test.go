package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quietswarm/btcore/core"
)

func TestPiecesRootEmptyFile(t *testing.T) {
	assert.True(t, PiecesRoot(nil).IsZero())
}

func TestPiecesRootSinglePiece(t *testing.T) {
	h := core.SHA256([]byte("piece 0"))
	assert.Equal(t, h, PiecesRoot([]core.Hash32{h}))
}

func TestPiecesRootPowerOfTwoNoPadding(t *testing.T) {
	a := core.SHA256([]byte("a"))
	b := core.SHA256([]byte("b"))
	got := PiecesRoot([]core.Hash32{a, b})
	want := hashPair(a, b)
	assert.Equal(t, want, got)
}

// TestPiecesRootOddLeavesZeroPadded locks in the resolved Open Question:
// an odd number of leaves is padded with zero leaves to the next power of
// two, not by duplicating the last real leaf.
func TestPiecesRootOddLeavesZeroPadded(t *testing.T) {
	a := core.SHA256([]byte("a"))
	b := core.SHA256([]byte("b"))
	c := core.SHA256([]byte("c"))

	got := PiecesRoot([]core.Hash32{a, b, c})

	left := hashPair(a, b)
	right := hashPair(c, core.Hash32{})
	want := hashPair(left, right)
	assert.Equal(t, want, got)

	// Duplicating the last leaf must NOT match.
	dup := hashPair(left, hashPair(c, c))
	assert.NotEqual(t, dup, got)
}

func TestFileRootDeterministic(t *testing.T) {
	root := core.SHA256([]byte("pieces"))
	a := FileRoot("movie.mkv", 12345, root)
	b := FileRoot("movie.mkv", 12345, root)
	assert.Equal(t, a, b)

	c := FileRoot("movie.mkv", 12346, root)
	assert.NotEqual(t, a, c)
}

func TestFileTreeRootSingleFile(t *testing.T) {
	tree := &FileTreeNode{
		Children: map[string]*FileTreeNode{
			"a.txt": {Length: 10, PiecesRoot: core.SHA256([]byte("x"))},
		},
	}
	want := FileRoot("a.txt", 10, tree.Children["a.txt"].PiecesRoot)
	assert.Equal(t, want, FileTreeRoot(tree))
}

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[int]int{1: 1, 2: 2, 3: 4, 4: 4, 5: 8, 9: 16}
	for in, want := range cases {
		assert.Equal(t, want, nextPowerOfTwo(in))
	}
}
