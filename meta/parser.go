package meta

import (
	"fmt"
	"io"

	"github.com/quietswarm/btcore/bencode"
	"github.com/quietswarm/btcore/core"
)

// wireTorrent mirrors the top-level torrent metadata dictionary well
// enough to pull out "info" verbatim (so its exact bytes can be hashed)
// while letting the bencode codec handle everything else structurally.
type wireTorrent struct {
	Info         bencode.Bytes     `bencode:"info"`
	Announce     string            `bencode:"announce,omitempty"`
	AnnounceList [][]string        `bencode:"announce-list,omitempty"`
	Comment      string            `bencode:"comment,omitempty"`
	CreatedBy    string            `bencode:"created by,omitempty"`
	CreationDate int64             `bencode:"creation date,omitempty"`
	Encoding     string            `bencode:"encoding,omitempty"`
	URLList      []string          `bencode:"url-list,omitempty"`
	PieceLayers  map[string]string `bencode:"piece layers,omitempty"`
}

// ParseReader reads a full torrent metadata dictionary from r and parses
// it (spec §4.7 parser, "meta version" dispatch).
func ParseReader(r io.Reader) (*TorrentContainer, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses a bencoded torrent metadata dictionary.
//
// Dispatch on the info dictionary's "meta version" key follows spec §4.7:
// absent or a non-integer value selects the v1 path, 2 selects v2-only
// (and forbids a "pieces" key), 3 selects hybrid (and requires both a
// "pieces" key and v2 fields).
func Parse(data []byte) (*TorrentContainer, error) {
	var wire wireTorrent
	if err := bencode.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrInvalidTorrent, err)
	}
	if len(wire.Info) == 0 {
		return nil, fmt.Errorf("%w: missing info dictionary", core.ErrInvalidTorrent)
	}

	var fields map[string]interface{}
	if err := bencode.Unmarshal(wire.Info, &fields); err != nil {
		return nil, fmt.Errorf("%w: malformed info dictionary: %s", core.ErrInvalidTorrent, err)
	}

	metaVersion, hasVersion := getInt(fields, "meta version")
	_, hasPieces := fields["pieces"]

	c := &TorrentContainer{
		Announce:     wire.Announce,
		Comment:      wire.Comment,
		CreatedBy:    wire.CreatedBy,
		CreationDate: wire.CreationDate,
		Encoding:     wire.Encoding,
		URLList:      wire.URLList,
	}
	if len(wire.AnnounceList) > 0 {
		c.AnnounceList = AnnounceList(wire.AnnounceList)
	}
	if hasVersion {
		c.MetaVersion = int(metaVersion)
	}

	switch {
	case !hasVersion || metaVersion != 2:
		// v1, or hybrid (version 3) carries a v1-compatible info section.
		v1, err := parseInfoV1(fields)
		if err != nil {
			return nil, err
		}
		c.V1 = v1
	}

	if hasVersion && (metaVersion == 2 || metaVersion == 3) {
		if metaVersion == 2 && hasPieces {
			return nil, fmt.Errorf("%w: v2-only torrent must not carry a \"pieces\" key", core.ErrInvalidTorrent)
		}
		if metaVersion == 3 && !hasPieces {
			return nil, fmt.Errorf("%w: hybrid torrent must carry a \"pieces\" key", core.ErrInvalidTorrent)
		}
		v2, err := parseInfoV2(fields, wire.PieceLayers)
		if err != nil {
			return nil, err
		}
		c.V2 = v2
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func parseInfoV1(fields map[string]interface{}) (*InfoV1, error) {
	info := &InfoV1{}

	name, ok := getString(fields, "name")
	if !ok {
		return nil, fmt.Errorf("%w: info missing \"name\"", core.ErrInvalidTorrent)
	}
	info.Name = name

	pieceLength, ok := getInt(fields, "piece length")
	if !ok {
		return nil, fmt.Errorf("%w: info missing \"piece length\"", core.ErrInvalidTorrent)
	}
	info.PieceLength = pieceLength

	if pieces, ok := getString(fields, "pieces"); ok {
		info.Pieces = []byte(pieces)
	}

	if private, ok := getBool(fields, "private"); ok {
		info.Private = &private
	}

	if rawFiles, ok := fields["files"]; ok {
		list, ok := rawFiles.([]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: \"files\" is not a list", core.ErrInvalidTorrent)
		}
		files := make([]FileInfoV1, 0, len(list))
		for _, rawFile := range list {
			fm, ok := rawFile.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: file entry is not a dictionary", core.ErrInvalidTorrent)
			}
			fi, err := parseFileInfoV1(fm)
			if err != nil {
				return nil, err
			}
			files = append(files, fi)
		}
		info.Files = files
	} else if length, ok := getInt(fields, "length"); ok {
		info.Length = length
	} else {
		return nil, fmt.Errorf("%w: info has neither \"length\" nor \"files\"", core.ErrInvalidTorrent)
	}

	return info, nil
}

func parseFileInfoV1(fm map[string]interface{}) (FileInfoV1, error) {
	var fi FileInfoV1

	length, ok := getInt(fm, "length")
	if !ok {
		return fi, fmt.Errorf("%w: file entry missing \"length\"", core.ErrInvalidTorrent)
	}
	fi.Length = length

	path, err := getStringList(fm, "path")
	if err != nil {
		return fi, err
	}
	fi.Path = path

	if attr, ok := getString(fm, "attr"); ok {
		fi.Attr = attr
	}
	if symlink, err := getStringList(fm, "symlink path"); err == nil && symlink != nil {
		fi.SymlinkPath = symlink
	}
	if sha1Str, ok := getString(fm, "sha1"); ok {
		h, err := core.NewHash20FromBytes([]byte(sha1Str))
		if err != nil {
			return fi, fmt.Errorf("%w: file sha1: %s", core.ErrInvalidTorrent, err)
		}
		fi.SHA1 = &h
	}
	return fi, nil
}

func parseInfoV2(fields map[string]interface{}, rawPieceLayers map[string]string) (*InfoV2, error) {
	info := &InfoV2{}

	name, ok := getString(fields, "name")
	if !ok {
		return nil, fmt.Errorf("%w: info missing \"name\"", core.ErrInvalidTorrent)
	}
	info.Name = name

	pieceLength, ok := getInt(fields, "piece length")
	if !ok {
		return nil, fmt.Errorf("%w: info missing \"piece length\"", core.ErrInvalidTorrent)
	}
	info.PieceLength = pieceLength

	if private, ok := getBool(fields, "private"); ok {
		info.Private = &private
	}

	rawTree, ok := fields["file tree"]
	if !ok {
		return nil, fmt.Errorf("%w: v2 info missing \"file tree\"", core.ErrInvalidTorrent)
	}
	treeDict, ok := rawTree.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: \"file tree\" is not a dictionary", core.ErrInvalidTorrent)
	}
	tree, err := buildFileTreeDir(treeDict)
	if err != nil {
		return nil, err
	}
	info.FileTree = tree

	layers := make(map[core.Hash32]PieceLayer, len(rawPieceLayers))
	for rootStr, piecesStr := range rawPieceLayers {
		root, err := core.NewHash32FromBytes([]byte(rootStr))
		if err != nil {
			return nil, fmt.Errorf("%w: piece layers key: %s", core.ErrInvalidTorrent, err)
		}
		piecesBytes := []byte(piecesStr)
		if len(piecesBytes)%32 != 0 {
			return nil, fmt.Errorf("%w: piece layer for %s is not a multiple of 32 bytes", core.ErrInvalidTorrent, root.Hex())
		}
		layer := PieceLayer{Pieces: make([]core.Hash32, len(piecesBytes)/32)}
		for i := range layer.Pieces {
			h, err := core.NewHash32FromBytes(piecesBytes[i*32 : (i+1)*32])
			if err != nil {
				return nil, err
			}
			layer.Pieces[i] = h
		}
		layers[root] = layer
	}
	info.PieceLayers = layers

	return info, nil
}

func buildFileTreeDir(dict map[string]interface{}) (*FileTreeNode, error) {
	children := make(map[string]*FileTreeNode, len(dict))
	for name, raw := range dict {
		sub, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: file tree entry %q is not a dictionary", core.ErrInvalidTorrent, name)
		}
		node, err := buildFileTreeNode(sub)
		if err != nil {
			return nil, err
		}
		children[name] = node
	}
	return &FileTreeNode{Children: children}, nil
}

func buildFileTreeNode(dict map[string]interface{}) (*FileTreeNode, error) {
	if rawAttrs, ok := dict[""]; ok {
		attrs, ok := rawAttrs.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: file tree leaf attributes are not a dictionary", core.ErrInvalidTorrent)
		}
		length, ok := getInt(attrs, "length")
		if !ok {
			return nil, fmt.Errorf("%w: file tree leaf missing \"length\"", core.ErrInvalidTorrent)
		}
		node := &FileTreeNode{Length: length}
		if rootStr, ok := getString(attrs, "pieces root"); ok {
			root, err := core.NewHash32FromBytes([]byte(rootStr))
			if err != nil {
				return nil, fmt.Errorf("%w: file tree leaf pieces root: %s", core.ErrInvalidTorrent, err)
			}
			node.PiecesRoot = root
		}
		return node, nil
	}
	return buildFileTreeDir(dict)
}

func getString(m map[string]interface{}, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func getInt(m map[string]interface{}, key string) (int64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	n, ok := v.(int64)
	return n, ok
}

func getBool(m map[string]interface{}, key string) (bool, bool) {
	n, ok := getInt(m, key)
	if !ok {
		return false, false
	}
	return n != 0, true
}

func getStringList(m map[string]interface{}, key string) ([]string, error) {
	v, ok := m[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a list", core.ErrInvalidTorrent, key)
	}
	out := make([]string, len(list))
	for i, elem := range list {
		s, ok := elem.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %q element %d is not a string", core.ErrInvalidTorrent, key, i)
		}
		out[i] = s
	}
	return out, nil
}
