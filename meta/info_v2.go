package meta

import (
	"fmt"

	"github.com/quietswarm/btcore/core"
)

// InfoV2 is a v2 torrent info dictionary (spec §3.1 TorrentV2Info).
type InfoV2 struct {
	Name        string
	PieceLength int64
	FileTree    *FileTreeNode
	PieceLayers map[core.Hash32]PieceLayer
	Private     *bool
}

// PieceLayer holds the concatenated 32-byte SHA-256 piece hashes for a
// single file, keyed in the torrent by the file's pieces root (spec §3.1
// PieceLayer).
type PieceLayer struct {
	Pieces []core.Hash32
}

// NumPieces returns the number of piece hashes in the layer.
func (pl PieceLayer) NumPieces() int {
	return len(pl.Pieces)
}

// TotalLength returns the sum of file lengths described by info's file tree.
func (info *InfoV2) TotalLength() int64 {
	var total int64
	for _, f := range info.FileTree.walkFiles() {
		total += f.length
	}
	return total
}

// Validate checks InfoV2's invariants (spec §3.1/§3.2): the piece length
// must be a power of two, the file tree must be well-formed, and every
// non-empty file's pieces root must resolve to a piece layer whose piece
// count matches the file's length.
func (info *InfoV2) Validate() error {
	if info.Name == "" {
		return fmt.Errorf("%w: v2 info missing name", core.ErrInvalidTorrent)
	}
	if info.PieceLength <= 0 || info.PieceLength&(info.PieceLength-1) != 0 {
		return fmt.Errorf("%w: v2 piece length %d is not a positive power of two", core.ErrInvalidTorrent, info.PieceLength)
	}
	if info.FileTree == nil {
		return fmt.Errorf("%w: v2 info missing file tree", core.ErrInvalidTorrent)
	}
	if err := info.FileTree.Validate(""); err != nil {
		return err
	}

	for _, f := range info.FileTree.walkFiles() {
		if f.length == 0 {
			if !f.root.IsZero() {
				return fmt.Errorf("%w: empty file %q has non-zero pieces root", core.ErrInvalidTorrent, joinPath(f.path))
			}
			continue
		}
		layer, ok := info.PieceLayers[f.root]
		if !ok {
			return fmt.Errorf("%w: no piece layer for file %q", core.ErrInvalidTorrent, joinPath(f.path))
		}
		wantPieces := int((f.length + info.PieceLength - 1) / info.PieceLength)
		if layer.NumPieces() != wantPieces {
			return fmt.Errorf(
				"%w: file %q expects %d pieces, piece layer has %d",
				core.ErrInvalidTorrent, joinPath(f.path), wantPieces, layer.NumPieces())
		}
	}
	return nil
}

func joinPath(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}
