package wtfixture

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"wtcarve/blockfile"
	"wtcarve/bson"
	"wtcarve/intpack"
)

// Collection describes one collection to place in a fixture data
// directory. Documents get ascending record ids starting at 1.
type Collection struct {
	Name       string
	Docs       []bson.Document
	Compressor string

	// DocsPerLeaf splits the documents across multiple leaves (0 keeps a
	// single-leaf tree); LeavesPerNode adds another internal level when
	// the leaves exceed it.
	DocsPerLeaf   int
	LeavesPerNode int

	// CorruptLeaf breaks the checksum of the 1-based nth leaf.
	// CorruptDoc rewrites the 1-based nth document's first type tag to one
	// no decoder accepts; the page stays intact. MissingFile catalogs the
	// collection but omits its backing file.
	CorruptLeaf int
	CorruptDoc  int
	MissingFile bool
}

// BuildDataDir writes a complete data directory: one .wt file per
// collection, a size storer, the metadata table and the turtle file. It
// returns each collection's root address for assertions.
func BuildDataDir(dir string, cols []Collection) (map[string]blockfile.Addr, error) {
	roots := make(map[string]blockfile.Addr)
	meta := make(map[string]string)

	for _, col := range cols {
		root, fb, err := buildCollectionFile(col)
		if err != nil {
			return nil, err
		}
		roots[col.Name] = root
		if !col.MissingFile {
			if err := fb.WriteTo(filepath.Join(dir, col.Name+".wt")); err != nil {
				return nil, err
			}
		}
		comp := col.Compressor
		if comp == "" {
			comp = "none"
		}
		meta["colgroup:"+col.Name] = fmt.Sprintf(
			`app_metadata=,collator=,columns=,source="file:%s.wt",type=file`, col.Name)
		meta["table:"+col.Name] =
			`app_metadata=,colgroups=,collator=,columns=,key_format=q,value_format=u`
		meta["file:"+col.Name+".wt"] = fmt.Sprintf(
			`access_pattern_hint=none,allocation_size=4KB,block_compressor=%s,`+
				`checkpoint=(WiredTigerCheckpoint.1=(addr="%s",order=1,time=100,size=%d,write_gen=2)),`+
				`key_format=q,value_format=u`,
			comp, fb.CheckpointHex(root), fb.FileSize())
	}

	if err := buildSizeStorer(dir, cols, meta); err != nil {
		return nil, err
	}
	if err := buildMetadata(dir, meta); err != nil {
		return nil, err
	}
	return roots, nil
}

// buildCollectionFile lays out one collection's tree: leaves of
// DocsPerLeaf documents, grouped under internal pages as configured.
func buildCollectionFile(col Collection) (blockfile.Addr, *FileBuilder, error) {
	fb := NewFile(0, col.Compressor)

	perLeaf := col.DocsPerLeaf
	if perLeaf <= 0 {
		perLeaf = len(col.Docs)
		if perLeaf == 0 {
			perLeaf = 1
		}
	}

	var leaves []Child
	var leafAddrs []blockfile.Addr
	for start := 0; start < len(col.Docs) || start == 0; start += perLeaf {
		end := start + perLeaf
		if end > len(col.Docs) {
			end = len(col.Docs)
		}
		var records []Record
		for i := start; i < end; i++ {
			value, err := col.Docs[i].Marshal()
			if err != nil {
				return blockfile.Addr{}, nil, err
			}
			if i+1 == col.CorruptDoc && len(value) > 4 {
				value[4] = 0xee
			}
			records = append(records, Record{
				Key:   intpack.AppendInt(nil, int64(i+1)),
				Value: value,
			})
		}
		addr := fb.AddLeaf(records)
		leafAddrs = append(leafAddrs, addr)
		sep := []byte{}
		if len(leaves) > 0 {
			sep = intpack.AppendInt(nil, int64(start+1))
		}
		leaves = append(leaves, Child{Key: sep, Addr: addr})
		if end >= len(col.Docs) {
			break
		}
	}

	if col.CorruptLeaf > 0 {
		if col.CorruptLeaf > len(leafAddrs) {
			return blockfile.Addr{}, nil, fmt.Errorf("wtfixture: leaf %d out of range", col.CorruptLeaf)
		}
		fb.Corrupt(leafAddrs[col.CorruptLeaf-1])
	}

	var root blockfile.Addr
	switch {
	case len(leaves) == 1:
		root = leaves[0].Addr
	case col.LeavesPerNode > 0 && len(leaves) > col.LeavesPerNode:
		var mids []Child
		for start := 0; start < len(leaves); start += col.LeavesPerNode {
			end := start + col.LeavesPerNode
			if end > len(leaves) {
				end = len(leaves)
			}
			group := make([]Child, end-start)
			copy(group, leaves[start:end])
			group[0].Key = []byte{}
			addr := fb.AddInternal(group)
			sep := []byte{}
			if len(mids) > 0 {
				sep = leaves[start].Key
			}
			mids = append(mids, Child{Key: sep, Addr: addr, Internal: true})
		}
		root = fb.AddInternal(mids)
	default:
		root = fb.AddInternal(leaves)
	}
	return root, fb, nil
}

// buildSizeStorer writes sizeStorer.wt with one count document per
// collection and registers it in the metadata.
func buildSizeStorer(dir string, cols []Collection, meta map[string]string) error {
	fb := NewFile(0, "")
	var records []Record
	for _, col := range cols {
		value, err := bson.D(
			"numRecords", int64(len(col.Docs)),
			"dataSize", int64(len(col.Docs)*64),
		).Marshal()
		if err != nil {
			return err
		}
		records = append(records, Record{
			Key:   []byte("table:" + col.Name),
			Value: value,
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return string(records[i].Key) < string(records[j].Key)
	})
	root := fb.AddLeaf(records)
	if err := fb.WriteTo(filepath.Join(dir, "sizeStorer.wt")); err != nil {
		return err
	}
	meta["file:sizeStorer.wt"] = fmt.Sprintf(
		`access_pattern_hint=none,allocation_size=4KB,block_compressor=none,`+
			`checkpoint=(WiredTigerCheckpoint.1=(addr="%s",order=1,time=100,size=%d,write_gen=2)),`+
			`key_format=u,value_format=u`,
		fb.CheckpointHex(root), fb.FileSize())
	meta["table:sizeStorer"] =
		`app_metadata=,colgroups=,collator=,columns=,key_format=u,value_format=u`
	return nil
}

// buildMetadata writes the metadata table file and the turtle pointing at
// it. Metadata records use the NUL-terminated string format for both keys
// and values.
func buildMetadata(dir string, meta map[string]string) error {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fb := NewFile(0, "")
	records := make([]Record, len(keys))
	for i, k := range keys {
		records[i] = Record{
			Key:   append([]byte(k), 0),
			Value: append([]byte(meta[k]), 0),
		}
	}
	root := fb.AddLeaf(records)
	if err := fb.WriteTo(filepath.Join(dir, "WiredTiger.wt")); err != nil {
		return err
	}

	var turtle strings.Builder
	turtle.WriteString("WiredTiger version string\n")
	turtle.WriteString("WiredTiger 11.2.0: (fixture)\n")
	turtle.WriteString("WiredTiger version\n")
	turtle.WriteString("major=11,minor=2,patch=0\n")
	turtle.WriteString("file:WiredTiger.wt\n")
	fmt.Fprintf(&turtle,
		"access_pattern_hint=none,allocation_size=4KB,block_compressor=none,"+
			"checkpoint=(WiredTigerCheckpoint.1=(addr=\"%s\",order=1,time=100,size=%d,write_gen=2)),"+
			"key_format=S,value_format=S\n",
		fb.CheckpointHex(root), fb.FileSize())
	return os.WriteFile(filepath.Join(dir, "WiredTiger.turtle"), []byte(turtle.String()), 0o644)
}
