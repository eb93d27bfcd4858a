package meta

import (
	"fmt"

	"github.com/quietswarm/btcore/bencode"
	"github.com/quietswarm/btcore/core"
)

// AnnounceList is a tiered tracker announce list (spec §3.1 TorrentContainer).
type AnnounceList [][]string

// TorrentContainer is the outer torrent metadata dictionary: tracker
// announce information plus either or both of a v1 and v2 info dictionary
// (spec §3.1 TorrentContainer). A torrent carries both V1 and V2 iff it is
// hybrid.
type TorrentContainer struct {
	V1 *InfoV1
	V2 *InfoV2

	// MetaVersion is the raw "meta version" field read from (or to be
	// written to) the info dictionary: 0 means absent, 2 means v2-only, 3
	// means hybrid. Generate sets it from the chosen mode and Parse copies
	// it from the wire; Validate checks it against V1/V2 presence but does
	// not change it.
	MetaVersion int

	Announce     string
	AnnounceList AnnounceList
	Comment      string
	CreatedBy    string
	CreationDate int64
	Encoding     string
	URLList      []string
}

// IsHybrid reports whether c carries both a v1 and a v2 info dictionary.
func (c *TorrentContainer) IsHybrid() bool {
	return c.V1 != nil && c.V2 != nil
}

// InfoHashV1 returns the v1 info hash and true, or the zero hash and false
// if c carries no v1 info.
func (c *TorrentContainer) InfoHashV1() (core.Hash20, bool) {
	if c.V1 == nil {
		return core.Hash20{}, false
	}
	dict, err := c.v1InfoDict()
	if err != nil {
		return core.Hash20{}, false
	}
	data, err := bencode.Marshal(dict)
	if err != nil {
		return core.Hash20{}, false
	}
	return core.SHA1(data), true
}

// InfoHashV2 returns the v2 info hash and true, or the zero hash and false
// if c carries no v2 info.
func (c *TorrentContainer) InfoHashV2() (core.Hash32, bool) {
	if c.V2 == nil {
		return core.Hash32{}, false
	}
	dict, err := c.infoDict()
	if err != nil {
		return core.Hash32{}, false
	}
	data, err := bencode.Marshal(dict)
	if err != nil {
		return core.Hash32{}, false
	}
	return core.SHA256(data), true
}

// Validate checks the container's invariants and those of any info
// dictionaries it carries (spec §3.1, §4.7).
func (c *TorrentContainer) Validate() error {
	if c.V1 == nil && c.V2 == nil {
		return fmt.Errorf("%w: torrent has neither v1 nor v2 info", core.ErrInvalidTorrent)
	}
	if c.V1 != nil {
		if err := c.V1.Validate(); err != nil {
			return err
		}
	}
	if c.V2 != nil {
		if err := c.V2.Validate(); err != nil {
			return err
		}
	}
	if c.V1 != nil && c.V2 != nil && c.V1.PieceLength != c.V2.PieceLength {
		return fmt.Errorf(
			"%w: hybrid torrent has mismatched piece lengths (v1=%d v2=%d)",
			core.ErrInvalidTorrent, c.V1.PieceLength, c.V2.PieceLength)
	}
	wantVersion := 0
	switch {
	case c.V1 != nil && c.V2 != nil:
		wantVersion = 3
	case c.V2 != nil:
		wantVersion = 2
	}
	if wantVersion != 0 && c.MetaVersion != 0 && c.MetaVersion != wantVersion {
		return fmt.Errorf(
			"%w: meta version %d inconsistent with v1/v2 presence (expected %d)",
			core.ErrInvalidTorrent, c.MetaVersion, wantVersion)
	}
	return nil
}

// infoDict builds the full canonical info dictionary, as stored on the
// wire and hashed for the v2 info hash. It carries both v1 and v2 fields
// when the torrent is hybrid.
func (c *TorrentContainer) infoDict() (map[string]interface{}, error) {
	d := map[string]interface{}{}

	if c.V1 != nil {
		d["name"] = c.V1.Name
		d["piece length"] = c.V1.PieceLength
		d["pieces"] = c.V1.Pieces
		if c.V1.IsDir() {
			files := make([]interface{}, len(c.V1.Files))
			for i, fi := range c.V1.Files {
				files[i] = fileV1Dict(fi)
			}
			d["files"] = files
		} else {
			d["length"] = c.V1.Length
		}
		if c.V1.Private != nil {
			d["private"] = boolToInt(*c.V1.Private)
		}
	}

	if c.V2 != nil {
		d["name"] = c.V2.Name
		d["piece length"] = c.V2.PieceLength
		version := 2
		if c.V1 != nil {
			version = 3
		}
		d["meta version"] = version
		tree, err := fileTreeDict(c.V2.FileTree)
		if err != nil {
			return nil, err
		}
		d["file tree"] = tree
		if c.V2.Private != nil {
			d["private"] = boolToInt(*c.V2.Private)
		}
	}

	return d, nil
}

// v1InfoDict builds the info dictionary restricted to v1-relevant fields,
// used to compute the v1 info hash (spec §4.7): "meta version", "file
// tree", and any other v2-only keys are omitted even when the torrent is
// hybrid.
func (c *TorrentContainer) v1InfoDict() (map[string]interface{}, error) {
	if c.V1 == nil {
		return nil, fmt.Errorf("%w: no v1 info", core.ErrInvalidTorrent)
	}
	full, err := c.infoDict()
	if err != nil {
		return nil, err
	}
	delete(full, "meta version")
	delete(full, "file tree")
	return full, nil
}

// PieceLayersDict builds the top-level "piece layers" dictionary (spec
// §3.2): present only for torrents carrying v2 info, keyed by each file's
// 32-byte pieces root, valued by the concatenated 32-byte piece hashes.
// Per BEP 52 this is stored outside the info dictionary so peers need not
// fetch it to validate the info hash.
func (c *TorrentContainer) PieceLayersDict() map[string]interface{} {
	if c.V2 == nil {
		return nil
	}
	out := make(map[string]interface{}, len(c.V2.PieceLayers))
	for root, layer := range c.V2.PieceLayers {
		buf := make([]byte, 0, 32*len(layer.Pieces))
		for _, p := range layer.Pieces {
			buf = append(buf, p.Bytes()...)
		}
		out[string(root.Bytes())] = buf
	}
	return out
}

func fileV1Dict(fi FileInfoV1) map[string]interface{} {
	d := map[string]interface{}{
		"length": fi.Length,
		"path":   fi.Path,
	}
	if fi.Attr != "" {
		d["attr"] = fi.Attr
	}
	if len(fi.SymlinkPath) > 0 {
		d["symlink path"] = fi.SymlinkPath
	}
	if fi.SHA1 != nil {
		d["sha1"] = *fi.SHA1
	}
	return d
}

func fileTreeDict(n *FileTreeNode) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	for _, name := range n.sortedNames() {
		child := n.Children[name]
		if child.IsFile() {
			out[name] = map[string]interface{}{
				"": map[string]interface{}{
					"length":      child.Length,
					"pieces root": child.PiecesRoot,
				},
			}
			continue
		}
		sub, err := fileTreeDict(child)
		if err != nil {
			return nil, err
		}
		out[name] = sub
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Bencode serializes c into the canonical top-level torrent metadata
// dictionary: "announce", "announce-list", "info", and, for v2/hybrid
// torrents, the sibling "piece layers" dictionary (spec §3.1, §3.2).
func (c *TorrentContainer) Bencode() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	info, err := c.infoDict()
	if err != nil {
		return nil, err
	}

	d := map[string]interface{}{
		"info": info,
	}
	if c.Announce != "" {
		d["announce"] = c.Announce
	}
	if len(c.AnnounceList) > 0 {
		tiers := make([]interface{}, len(c.AnnounceList))
		for i, tier := range c.AnnounceList {
			urls := make([]interface{}, len(tier))
			for j, u := range tier {
				urls[j] = u
			}
			tiers[i] = urls
		}
		d["announce-list"] = tiers
	}
	if c.Comment != "" {
		d["comment"] = c.Comment
	}
	if c.CreatedBy != "" {
		d["created by"] = c.CreatedBy
	}
	if c.CreationDate != 0 {
		d["creation date"] = c.CreationDate
	}
	if c.Encoding != "" {
		d["encoding"] = c.Encoding
	}
	if len(c.URLList) > 0 {
		urls := make([]interface{}, len(c.URLList))
		for i, u := range c.URLList {
			urls[i] = u
		}
		d["url-list"] = urls
	}
	if layers := c.PieceLayersDict(); len(layers) > 0 {
		d["piece layers"] = layers
	}

	return bencode.Marshal(d)
}
