package meta

import (
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quietswarm/btcore/core"
)

// Mode selects which info dictionaries Generate produces.
type Mode int

const (
	// ModeV1 produces a v1-only torrent.
	ModeV1 Mode = iota
	// ModeV2 produces a v2-only torrent.
	ModeV2
	// ModeHybrid produces a torrent carrying both v1 and v2 info.
	ModeHybrid
)

// GenerateOptions configures Generate.
type GenerateOptions struct {
	Mode Mode

	// PieceLength is the piece size in bytes. Zero selects the tiered
	// default from DefaultPieceLength based on total content size.
	PieceLength int64

	Announce     string
	AnnounceList AnnounceList
	Comment      string
	CreatedBy    string
	CreationDate int64
	Private      bool
}

// DefaultPieceLength picks a piece length from total content size, per the
// tiering in spec §6: up to 16 MiB of content uses 16 KiB pieces, up to
// 512 MiB uses 256 KiB pieces, and anything larger uses 1 MiB pieces.
func DefaultPieceLength(totalSize int64) int64 {
	const (
		mib = 1 << 20
		kib = 1 << 10
	)
	switch {
	case totalSize <= 16*mib:
		return 16 * kib
	case totalSize <= 512*mib:
		return 256 * kib
	default:
		return 1 * mib
	}
}

// sourceFile is one file discovered while walking the generation source.
type sourceFile struct {
	absPath string
	relPath []string // path components relative to the torrent root
	length  int64
}

// Generate walks the filesystem at srcPath (a single file or a directory)
// and produces a TorrentContainer per opts (spec §6 generator).
func Generate(srcPath string, opts GenerateOptions) (*TorrentContainer, error) {
	info, err := os.Stat(srcPath)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(filepath.Clean(srcPath))
	files, total, err := walkSource(srcPath, info)
	if err != nil {
		return nil, err
	}

	pieceLength := opts.PieceLength
	if pieceLength == 0 {
		pieceLength = DefaultPieceLength(total)
	}

	c := &TorrentContainer{
		Announce:     opts.Announce,
		AnnounceList: opts.AnnounceList,
		Comment:      opts.Comment,
		CreatedBy:    opts.CreatedBy,
		CreationDate: opts.CreationDate,
	}

	switch opts.Mode {
	case ModeV1:
		v1, err := generateV1(name, info.IsDir(), files, pieceLength, opts.Private)
		if err != nil {
			return nil, err
		}
		c.V1 = v1
		c.MetaVersion = 0
	case ModeV2:
		v2, err := generateV2(name, files, pieceLength, opts.Private)
		if err != nil {
			return nil, err
		}
		c.V2 = v2
		c.MetaVersion = 2
	case ModeHybrid:
		v1, err := generateV1(name, info.IsDir(), files, pieceLength, opts.Private)
		if err != nil {
			return nil, err
		}
		v2, err := generateV2(name, files, pieceLength, opts.Private)
		if err != nil {
			return nil, err
		}
		c.V1 = v1
		c.V2 = v2
		c.MetaVersion = 3
	default:
		return nil, fmt.Errorf("%w: unknown generation mode %d", core.ErrInvalidTorrent, opts.Mode)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// walkSource returns every regular file under srcPath in the order v1
// pieces concatenate them (lexicographic path order), and their combined
// size.
func walkSource(srcPath string, rootInfo os.FileInfo) ([]sourceFile, int64, error) {
	if !rootInfo.IsDir() {
		name := filepath.Base(filepath.Clean(srcPath))
		return []sourceFile{{absPath: srcPath, relPath: []string{name}, length: rootInfo.Size()}}, rootInfo.Size(), nil
	}

	var files []sourceFile
	var total int64
	err := filepath.WalkDir(srcPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcPath, path)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, sourceFile{
			absPath: path,
			relPath: splitRelPath(rel),
			length:  fi.Size(),
		})
		total += fi.Size()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(files, func(i, j int) bool {
		return joinPath(files[i].relPath) < joinPath(files[j].relPath)
	})
	return files, total, nil
}

// splitRelPath splits a filepath.Rel result into its path components,
// independent of the host OS path separator.
func splitRelPath(rel string) []string {
	return strings.Split(filepath.ToSlash(rel), "/")
}

func generateV1(name string, isDir bool, files []sourceFile, pieceLength int64, private bool) (*InfoV1, error) {
	info := &InfoV1{
		Name:        name,
		PieceLength: pieceLength,
	}
	if private {
		info.Private = &private
	}

	if !isDir {
		if len(files) != 1 {
			return nil, fmt.Errorf("%w: expected exactly one source file", core.ErrInvalidTorrent)
		}
		info.Length = files[0].length
	} else {
		info.Files = make([]FileInfoV1, len(files))
		for i, f := range files {
			info.Files[i] = FileInfoV1{Length: f.length, Path: f.relPath}
		}
	}

	pieces, err := hashPiecesV1(files, pieceLength)
	if err != nil {
		return nil, err
	}
	info.Pieces = pieces
	return info, nil
}

// hashPiecesV1 concatenates all source files into a single logical byte
// stream and returns the SHA-1 digest of every pieceLength-sized chunk
// (the final chunk may be shorter).
func hashPiecesV1(files []sourceFile, pieceLength int64) ([]byte, error) {
	var pieces []byte
	h := sha1.New()
	var buffered int64

	flush := func() {
		pieces = append(pieces, h.Sum(nil)...)
		h.Reset()
		buffered = 0
	}

	for _, f := range files {
		r, err := os.Open(f.absPath)
		if err != nil {
			return nil, err
		}
		err = func() error {
			defer r.Close()
			buf := make([]byte, 32*1024)
			for {
				n, rerr := r.Read(buf)
				if n > 0 {
					off := 0
					for off < n {
						remaining := pieceLength - buffered
						take := int64(n - off)
						if take > remaining {
							take = remaining
						}
						h.Write(buf[off : int64(off)+take])
						buffered += take
						off += int(take)
						if buffered == pieceLength {
							flush()
						}
					}
				}
				if rerr == io.EOF {
					return nil
				}
				if rerr != nil {
					return rerr
				}
			}
		}()
		if err != nil {
			return nil, err
		}
	}
	if buffered > 0 {
		flush()
	}
	return pieces, nil
}

func generateV2(name string, files []sourceFile, pieceLength int64, private bool) (*InfoV2, error) {
	info := &InfoV2{
		Name:        name,
		PieceLength: pieceLength,
		PieceLayers: map[core.Hash32]PieceLayer{},
	}
	if private {
		info.Private = &private
	}

	root := &FileTreeNode{Children: map[string]*FileTreeNode{}}
	for _, f := range files {
		piecesRoot, layer, err := hashFileV2(f, pieceLength)
		if err != nil {
			return nil, err
		}
		leaf := &FileTreeNode{Length: f.length, PiecesRoot: piecesRoot}
		insertLeaf(root, f.relPath, leaf)
		if f.length > 0 {
			info.PieceLayers[piecesRoot] = layer
		}
	}
	info.FileTree = root
	return info, nil
}

func insertLeaf(root *FileTreeNode, path []string, leaf *FileTreeNode) {
	node := root
	for i, part := range path {
		if i == len(path)-1 {
			node.Children[part] = leaf
			return
		}
		next, ok := node.Children[part]
		if !ok {
			next = &FileTreeNode{Children: map[string]*FileTreeNode{}}
			node.Children[part] = next
		}
		node = next
	}
}

// hashFileV2 computes the per-piece SHA-256 layer and pieces root for a
// single file (spec §3.2, §4.6).
func hashFileV2(f sourceFile, pieceLength int64) (core.Hash32, PieceLayer, error) {
	if f.length == 0 {
		return core.Hash32{}, PieceLayer{}, nil
	}

	r, err := os.Open(f.absPath)
	if err != nil {
		return core.Hash32{}, PieceLayer{}, err
	}
	defer r.Close()

	var pieces []core.Hash32
	buf := make([]byte, pieceLength)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			pieces = append(pieces, core.SHA256(buf[:n]))
		}
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return core.Hash32{}, PieceLayer{}, err
		}
	}

	root := PiecesRoot(pieces)
	return root, PieceLayer{Pieces: pieces}, nil
}
