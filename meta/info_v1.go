// Package meta implements the BEP 52 torrent metadata engine: parsing and
// generation of v1, v2, and hybrid torrents, Merkle piece-layer
// construction, file-tree hashing, and dual info-hash computation.
//
// Grounded on github.com/uber/kraken's client/torrent/meta package, extended
// with v2/hybrid support per BEP 52.
package meta

import (
	"fmt"
	"strings"

	"github.com/quietswarm/btcore/core"
)

const hash20Size = 20

// InfoV1 is a v1 torrent info dictionary (spec §3.1 TorrentV1Info).
type InfoV1 struct {
	Name        string
	PieceLength int64
	Pieces      []byte // concatenated 20-byte SHA-1 digests
	Length      int64  // single-file mode
	Files       []FileInfoV1
	Private     *bool
}

// FileInfoV1 describes one file inside a multi-file v1 torrent, including
// the BEP 47 extended attributes.
type FileInfoV1 struct {
	Length      int64
	Path        []string
	Attr        string // subset of "pxlh": padding, executable, symlink, hidden
	SymlinkPath []string
	SHA1        *core.Hash20
}

// IsPadding reports whether fi is a BEP 47 padding file.
func (fi FileInfoV1) IsPadding() bool {
	return strings.Contains(fi.Attr, "p")
}

// IsSymlink reports whether fi is a BEP 47 symlink.
func (fi FileInfoV1) IsSymlink() bool {
	return strings.Contains(fi.Attr, "l")
}

// IsExecutable reports whether fi carries the BEP 47 executable attribute.
func (fi FileInfoV1) IsExecutable() bool {
	return strings.Contains(fi.Attr, "x")
}

// IsHidden reports whether fi carries the BEP 47 hidden attribute.
func (fi FileInfoV1) IsHidden() bool {
	return strings.Contains(fi.Attr, "h")
}

// DisplayPath returns the file's path relative to the torrent root.
func (fi FileInfoV1) DisplayPath(info *InfoV1) string {
	if info.IsDir() {
		return strings.Join(fi.Path, "/")
	}
	return info.Name
}

// IsDir reports whether info describes a multi-file torrent.
func (info *InfoV1) IsDir() bool {
	return len(info.Files) != 0
}

// UpvertedFiles returns info.Files, or for single-file torrents a synthetic
// single-entry slice carrying info.Length (its Path is left empty). This lets
// callers handle both layouts uniformly.
func (info *InfoV1) UpvertedFiles() []FileInfoV1 {
	if len(info.Files) == 0 {
		return []FileInfoV1{{Length: info.Length}}
	}
	return info.Files
}

// TotalLength returns the sum of all file lengths in info.
func (info *InfoV1) TotalLength() int64 {
	if !info.IsDir() {
		return info.Length
	}
	var total int64
	for _, fi := range info.Files {
		total += fi.Length
	}
	return total
}

// NumPieces returns the number of 20-byte piece hashes in info.Pieces.
func (info *InfoV1) NumPieces() int {
	return len(info.Pieces) / hash20Size
}

// PieceHash returns the i'th piece hash.
func (info *InfoV1) PieceHash(i int) (core.Hash20, error) {
	if i < 0 || (i+1)*hash20Size > len(info.Pieces) {
		return core.Hash20{}, fmt.Errorf("piece index %d out of range", i)
	}
	return core.NewHash20FromBytes(info.Pieces[i*hash20Size : (i+1)*hash20Size])
}

// Validate checks InfoV1's invariants (spec §3.1).
func (info *InfoV1) Validate() error {
	if info.Name == "" {
		return fmt.Errorf("%w: v1 info missing name", core.ErrInvalidTorrent)
	}
	if info.PieceLength <= 0 {
		return fmt.Errorf("%w: v1 piece length must be positive", core.ErrInvalidTorrent)
	}
	if len(info.Pieces)%20 != 0 {
		return fmt.Errorf("%w: v1 pieces length %d is not a multiple of 20", core.ErrInvalidTorrent, len(info.Pieces))
	}
	if info.IsDir() && info.Length != 0 {
		return fmt.Errorf("%w: v1 info has both length and files", core.ErrInvalidTorrent)
	}

	total := info.TotalLength()
	numPieces := info.NumPieces()
	if numPieces == 0 {
		if total != 0 {
			return fmt.Errorf("%w: v1 info has no pieces but total length %d", core.ErrInvalidTorrent, total)
		}
		return nil
	}
	maxLen := info.PieceLength * int64(numPieces)
	minLen := maxLen - info.PieceLength
	if total <= minLen || total > maxLen {
		return fmt.Errorf(
			"%w: total length %d inconsistent with %d pieces of length %d",
			core.ErrInvalidTorrent, total, numPieces, info.PieceLength)
	}
	return nil
}
