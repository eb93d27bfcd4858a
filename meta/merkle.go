package meta

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/quietswarm/btcore/core"
)

// PiecesRoot computes a BEP 52 v2 pieces root from a file's ordered piece
// hashes.
//
// Per the resolved Open Question in SPEC_FULL.md §9 ("BEP 52 odd-leaf
// Merkle"), an odd leaf layer is padded with zero (all-zero, 32-byte)
// leaves out to the next power of two before combining, not by duplicating
// the last real leaf. An empty file (zero pieces) has a root of 32 zero
// bytes. A single-piece file's root is that piece's hash unchanged.
func PiecesRoot(pieces []core.Hash32) core.Hash32 {
	if len(pieces) == 0 {
		return core.Hash32{}
	}
	if len(pieces) == 1 {
		return pieces[0]
	}

	layer := make([]core.Hash32, nextPowerOfTwo(len(pieces)))
	copy(layer, pieces)
	// Remaining entries in layer are left as the zero value, i.e. the
	// zero-leaf padding required by the resolved Open Question.

	for len(layer) > 1 {
		next := make([]core.Hash32, len(layer)/2)
		for i := range next {
			next[i] = hashPair(layer[2*i], layer[2*i+1])
		}
		layer = next
	}
	return layer[0]
}

// FileRoot computes the file-tree hash of a single file leaf: the SHA-256
// of its name, its length as a big-endian uint64, and its pieces root
// (spec §3.2).
func FileRoot(name string, length int64, piecesRoot core.Hash32) core.Hash32 {
	var lenBytes [8]byte
	binary.BigEndian.PutUint64(lenBytes[:], uint64(length))

	h := sha256.New()
	h.Write([]byte(name))
	h.Write(lenBytes[:])
	h.Write(piecesRoot.Bytes())
	var out core.Hash32
	copy(out[:], h.Sum(nil))
	return out
}

// DirRoot combines a directory's children (already-hashed per sortedNames
// order) using the same binary Merkle scheme as PiecesRoot.
func DirRoot(children []core.Hash32) core.Hash32 {
	return PiecesRoot(children)
}

// FileTreeRoot computes the optional file-tree root hash (spec §3.2):
// file leaves hash via FileRoot, directories combine their children (in
// lexicographic key order) via the same zero-padded binary Merkle scheme,
// and the whole tree's root is the hash of the root node.
func FileTreeRoot(n *FileTreeNode) core.Hash32 {
	return fileTreeRootNamed(n, "")
}

func fileTreeRootNamed(n *FileTreeNode, name string) core.Hash32 {
	if n.IsFile() {
		return FileRoot(name, n.Length, n.PiecesRoot)
	}
	names := n.sortedNames()
	children := make([]core.Hash32, len(names))
	for i, childName := range names {
		children[i] = fileTreeRootNamed(n.Children[childName], childName)
	}
	return DirRoot(children)
}

func hashPair(left, right core.Hash32) core.Hash32 {
	h := sha256.New()
	h.Write(left.Bytes())
	h.Write(right.Bytes())
	var out core.Hash32
	copy(out[:], h.Sum(nil))
	return out
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
