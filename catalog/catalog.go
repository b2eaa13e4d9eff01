// Package catalog discovers which files back which collections. The chain
// is: the turtle file (flat text) records where the metadata table's own
// root lives; the metadata table, read like any other B-tree, maps every
// table and file to its configuration, including the checkpoint cookie that
// carries each file's root address.
package catalog

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"wtcarve/blockfile"
	"wtcarve/bson"
	"wtcarve/btree"
	"wtcarve/wtconfig"
	"wtcarve/wtpage"
)

const (
	// TurtleFile is the bootstrap metadata file in the data directory.
	TurtleFile = "WiredTiger.turtle"
	// MetadataFile backs the metadata table described by the turtle.
	MetadataFile = "WiredTiger.wt"

	metadataURI = "file:" + MetadataFile

	// minAllocSize is the smallest allocation unit the block manager ever
	// writes; metadata claiming less is corrupt.
	minAllocSize = 512
)

// Entry describes one collection: its backing file and everything needed to
// read it. Entries are immutable once produced.
type Entry struct {
	Name        string // table name, e.g. "collection-0--123..." or "users"
	URI         string // backing file URI, e.g. "file:users.wt"
	FilePath    string // resolved path under the data directory
	Root        blockfile.Addr
	KeyFormat   string
	ValueFormat string
	Compressor  wtpage.Compression
	AllocSize   int64
	Available   bool // backing file present in the directory

	Count    int64 // document count estimate from the size storer
	HasCount bool
}

// NotFoundError reports a name with no catalog entry. Matching is exact and
// case-sensitive.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no collection named %q in the catalog", e.Name)
}

// Catalog is the loaded metadata table of one data directory.
type Catalog struct {
	dataDir string
	meta    map[string]string
	diags   []btree.Diagnostic
}

// Load parses the turtle file and scans the metadata table. A missing or
// unreadable turtle is fatal; page-level damage inside the metadata table
// surfaces through Diagnostics with whatever entries survived.
func Load(dataDir string) (*Catalog, error) {
	turtle, err := loadTurtle(filepath.Join(dataDir, TurtleFile))
	if err != nil {
		return nil, err
	}
	metaCfgText, ok := turtle[metadataURI]
	if !ok {
		return nil, fmt.Errorf("turtle file does not describe %s", metadataURI)
	}
	metaCfg, err := wtconfig.Parse(metaCfgText)
	if err != nil {
		return nil, fmt.Errorf("turtle %s entry: %w", metadataURI, err)
	}
	root, allocSize, comp, err := fileLocation(metaCfg)
	if err != nil {
		return nil, fmt.Errorf("metadata table location: %w", err)
	}

	handle, err := blockfile.Open(filepath.Join(dataDir, MetadataFile))
	if err != nil {
		return nil, err
	}
	session, err := btree.NewSession(handle, btree.Options{
		Compression: comp,
		AllocSize:   allocSize,
	})
	if err != nil {
		handle.Close()
		return nil, err
	}
	defer session.Close()

	c := &Catalog{dataDir: dataDir, meta: make(map[string]string)}
	cur := session.Scan(nil, root)
	for {
		rec, ok := cur.Next()
		if !ok {
			break
		}
		c.meta[stringFormat(rec.Key)] = stringFormat(rec.Value)
	}
	c.diags = cur.Diagnostics()
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("scan metadata table: %w", err)
	}
	return c, nil
}

// Diagnostics returns recoverable problems hit while scanning the metadata
// table.
func (c *Catalog) Diagnostics() []btree.Diagnostic { return c.diags }

// List returns an entry for every user-visible table, sorted by name.
// Index tables and the size storer are internal and filtered out, matching
// what the storage layer itself considers a collection. Collections whose
// backing file is missing are reported with Available unset, not dropped.
func (c *Catalog) List() ([]Entry, error) {
	estimates := c.countEstimates()
	var entries []Entry
	for key := range c.meta {
		name, ok := strings.CutPrefix(key, "table:")
		if !ok || strings.HasPrefix(name, "index-") || name == "sizeStorer" {
			continue
		}
		e, err := c.entry(name)
		if err != nil {
			return nil, err
		}
		if n, ok := estimates["table:"+name]; ok {
			e.Count, e.HasCount = n, true
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Resolve returns the entry for one table name, exact match only.
func (c *Catalog) Resolve(name string) (Entry, error) {
	if _, ok := c.meta["table:"+name]; !ok {
		return Entry{}, &NotFoundError{Name: name}
	}
	return c.entry(name)
}

// entry assembles an Entry from the table, colgroup and file metadata.
func (c *Catalog) entry(name string) (Entry, error) {
	tableCfg, err := wtconfig.Parse(c.meta["table:"+name])
	if err != nil {
		return Entry{}, fmt.Errorf("table:%s metadata: %w", name, err)
	}

	uri := "file:" + name + ".wt"
	if cgText, ok := c.meta["colgroup:"+name]; ok {
		cgCfg, err := wtconfig.Parse(cgText)
		if err != nil {
			return Entry{}, fmt.Errorf("colgroup:%s metadata: %w", name, err)
		}
		if src := cgCfg["source"]; src != "" {
			uri = src
		}
	}

	e := Entry{
		Name:        name,
		URI:         uri,
		KeyFormat:   formatOr(tableCfg, "key_format", "u"),
		ValueFormat: formatOr(tableCfg, "value_format", "u"),
		AllocSize:   blockfile.DefaultAllocSize,
	}

	fileName, ok := strings.CutPrefix(uri, "file:")
	if !ok {
		return Entry{}, fmt.Errorf("table:%s has unsupported source %q", name, uri)
	}
	e.FilePath = filepath.Join(c.dataDir, fileName)

	fileCfgText, ok := c.meta[uri]
	if !ok {
		return Entry{}, fmt.Errorf("catalog has no %s entry for table:%s", uri, name)
	}
	fileCfg, err := wtconfig.Parse(fileCfgText)
	if err != nil {
		return Entry{}, fmt.Errorf("%s metadata: %w", uri, err)
	}
	e.KeyFormat = formatOr(fileCfg, "key_format", e.KeyFormat)
	e.ValueFormat = formatOr(fileCfg, "value_format", e.ValueFormat)

	root, allocSize, comp, err := fileLocation(fileCfg)
	if err != nil {
		return Entry{}, fmt.Errorf("%s location: %w", uri, err)
	}
	e.Root, e.AllocSize, e.Compressor = root, allocSize, comp

	if _, err := os.Stat(e.FilePath); err == nil {
		e.Available = true
	}
	return e, nil
}

// countEstimates reads the size storer, which records per-table document
// counts as documents of its own. Estimates are best effort: any failure
// just means no estimates.
func (c *Catalog) countEstimates() map[string]int64 {
	cfgText, ok := c.meta["file:sizeStorer.wt"]
	if !ok {
		return nil
	}
	fileCfg, err := wtconfig.Parse(cfgText)
	if err != nil {
		return nil
	}
	root, allocSize, comp, err := fileLocation(fileCfg)
	if err != nil {
		return nil
	}
	handle, err := blockfile.Open(filepath.Join(c.dataDir, "sizeStorer.wt"))
	if err != nil {
		return nil
	}
	session, err := btree.NewSession(handle, btree.Options{Compression: comp, AllocSize: allocSize})
	if err != nil {
		handle.Close()
		return nil
	}
	defer session.Close()

	estimates := make(map[string]int64)
	cur := session.Scan(nil, root)
	for {
		rec, ok := cur.Next()
		if !ok {
			break
		}
		count, err := decodeSizeDoc(rec.Value)
		if err != nil {
			continue
		}
		estimates[stringFormat(rec.Key)] = count
	}
	return estimates
}

// decodeSizeDoc pulls the record count out of one size-storer document.
func decodeSizeDoc(value []byte) (int64, error) {
	doc, err := bson.Decode(value)
	if err != nil {
		return 0, err
	}
	v, ok := doc.Lookup("numRecords")
	if !ok {
		return 0, fmt.Errorf("size storer document has no numRecords")
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	}
	return 0, fmt.Errorf("numRecords has unexpected type %T", v)
}

func formatOr(cfg wtconfig.Config, key, def string) string {
	if v := cfg[key]; v != "" {
		return v
	}
	return def
}

// fileLocation extracts a file's root address, allocation size and
// compressor from its metadata configuration. The root comes from the most
// recent checkpoint.
func fileLocation(cfg wtconfig.Config) (blockfile.Addr, int64, wtpage.Compression, error) {
	allocSize, err := cfg.Size("allocation_size", blockfile.DefaultAllocSize)
	if err != nil {
		return blockfile.Addr{}, 0, 0, err
	}
	if allocSize < minAllocSize {
		return blockfile.Addr{}, 0, 0, fmt.Errorf("allocation_size %d below the %d-byte minimum", allocSize, minAllocSize)
	}
	comp, err := wtpage.CompressionByName(cfg["block_compressor"])
	if err != nil {
		return blockfile.Addr{}, 0, 0, err
	}

	ckpts, err := cfg.Sub("checkpoint")
	if err != nil {
		return blockfile.Addr{}, 0, 0, fmt.Errorf("no checkpoint in file metadata")
	}
	var bestText string
	bestOrder := int64(-1)
	for name, text := range ckpts {
		ckpt, err := wtconfig.Parse(text)
		if err != nil {
			return blockfile.Addr{}, 0, 0, fmt.Errorf("checkpoint %s: %w", name, err)
		}
		order, err := ckpt.Int("order", 0)
		if err != nil {
			return blockfile.Addr{}, 0, 0, err
		}
		if order > bestOrder {
			bestOrder, bestText = order, text
		}
	}
	if bestOrder < 0 {
		return blockfile.Addr{}, 0, 0, fmt.Errorf("file metadata lists no checkpoints")
	}
	ckpt, err := wtconfig.Parse(bestText)
	if err != nil {
		return blockfile.Addr{}, 0, 0, err
	}
	cookie, err := hex.DecodeString(ckpt["addr"])
	if err != nil {
		return blockfile.Addr{}, 0, 0, fmt.Errorf("checkpoint addr is not hex: %w", err)
	}
	root, err := blockfile.UnpackCheckpoint(cookie, allocSize)
	if err != nil {
		return blockfile.Addr{}, 0, 0, err
	}
	return root, allocSize, comp, nil
}

// loadTurtle parses the turtle file: alternating key and value lines.
func loadTurtle(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap metadata: %w", err)
	}
	turtle := make(map[string]string)
	lines := strings.Split(string(raw), "\n")
	for i := 0; i+1 < len(lines); i += 2 {
		key := strings.TrimSpace(lines[i])
		if key == "" {
			i--
			continue
		}
		turtle[key] = strings.TrimSpace(lines[i+1])
	}
	return turtle, nil
}

// stringFormat interprets packed 'S' format bytes: the value plus a NUL
// terminator.
func stringFormat(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}
