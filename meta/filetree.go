package meta

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quietswarm/btcore/core"
)

// FileTreeNode is a node in a BEP 52 v2 file tree (spec §3.1 FileTreeNode).
// A node is either a file (Children is nil) or a directory (Children is
// non-nil); the empty-string key used on the wire to mark a file's
// attribute dict is handled entirely in the parser/container layers and
// never appears in this in-memory representation.
type FileTreeNode struct {
	Length     int64
	PiecesRoot core.Hash32
	Children   map[string]*FileTreeNode
}

// IsFile reports whether n is a file leaf.
func (n *FileTreeNode) IsFile() bool {
	return n.Children == nil
}

// IsDir reports whether n is a directory node.
func (n *FileTreeNode) IsDir() bool {
	return n.Children != nil
}

// sortedNames returns n's child names in lexicographic order, the order the
// Merkle directory hash and canonical bencoding both require.
func (n *FileTreeNode) sortedNames() []string {
	names := make([]string, 0, len(n.Children))
	for name := range n.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// flatFile pairs a file leaf with its path from the tree root.
type flatFile struct {
	path   []string
	length int64
	root   core.Hash32
}

// walkFiles returns every file leaf under n in lexicographic path order.
func (n *FileTreeNode) walkFiles() []flatFile {
	var out []flatFile
	var visit func(node *FileTreeNode, prefix []string)
	visit = func(node *FileTreeNode, prefix []string) {
		if node.IsFile() {
			path := make([]string, len(prefix))
			copy(path, prefix)
			out = append(out, flatFile{path: path, length: node.Length, root: node.PiecesRoot})
			return
		}
		for _, name := range node.sortedNames() {
			visit(node.Children[name], append(prefix, name))
		}
	}
	visit(n, nil)
	return out
}

// Validate checks the file tree's structural invariants: every leaf must
// have a non-negative length, and a non-empty file must carry a non-zero
// pieces root.
func (n *FileTreeNode) Validate(path string) error {
	if n.IsFile() {
		if n.Length < 0 {
			return fmt.Errorf("%w: file %q has negative length", core.ErrInvalidTorrent, path)
		}
		if n.Length > 0 && n.PiecesRoot.IsZero() {
			return fmt.Errorf("%w: file %q has non-zero length but zero pieces root", core.ErrInvalidTorrent, path)
		}
		return nil
	}
	if len(n.Children) == 0 {
		return fmt.Errorf("%w: directory %q has no children", core.ErrInvalidTorrent, path)
	}
	for _, name := range n.sortedNames() {
		childPath := name
		if path != "" {
			childPath = path + "/" + name
		}
		if err := n.Children[name].Validate(childPath); err != nil {
			return err
		}
	}
	return nil
}

// PiecesRootOf walks path components and returns the pieces root of the
// named file, or an error if the path does not resolve to a file leaf.
func (n *FileTreeNode) PiecesRootOf(path string) (core.Hash32, error) {
	parts := strings.Split(path, "/")
	node := n
	for _, part := range parts {
		if node.IsFile() {
			return core.Hash32{}, fmt.Errorf("%w: %q descends past a file leaf", core.ErrInvalidTorrent, path)
		}
		child, ok := node.Children[part]
		if !ok {
			return core.Hash32{}, fmt.Errorf("%w: no such path %q", core.ErrInvalidTorrent, path)
		}
		node = child
	}
	if !node.IsFile() {
		return core.Hash32{}, fmt.Errorf("%w: %q is a directory, not a file", core.ErrInvalidTorrent, path)
	}
	return node.PiecesRoot, nil
}
