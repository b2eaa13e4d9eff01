// Package reader is the public surface of the offline collection reader:
// list the collections of a WiredTiger data directory and stream their
// documents, without the storage engine. Everything is read-only; partial
// damage produces diagnostics next to the surviving data instead of
// failing the whole operation.
package reader

import (
	"context"
	"fmt"

	"wtcarve/blockfile"
	"wtcarve/bson"
	"wtcarve/btree"
	"wtcarve/catalog"
	"wtcarve/intpack"
)

// CollectionInfo is one row of a directory listing.
type CollectionInfo struct {
	Name      string
	Available bool  // backing file present
	Count     int64 // document count estimate from the size storer
	HasCount  bool
}

// ListCollections lists every collection the catalog knows about, with
// count estimates where the size storer has them. Collections whose backing
// file is missing are included with Available unset.
func ListCollections(dataDir string) ([]CollectionInfo, []btree.Diagnostic, error) {
	cat, err := catalog.Load(dataDir)
	if err != nil {
		return nil, nil, err
	}
	entries, err := cat.List()
	if err != nil {
		return nil, nil, err
	}
	infos := make([]CollectionInfo, len(entries))
	for i, e := range entries {
		infos[i] = CollectionInfo{
			Name:      e.Name,
			Available: e.Available,
			Count:     e.Count,
			HasCount:  e.HasCount,
		}
	}
	return infos, cat.Diagnostics(), nil
}

// UnavailableError reports a cataloged collection whose backing file is not
// in the directory.
type UnavailableError struct {
	Name string
	Path string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("collection %q is unavailable: backing file %s is missing", e.Name, e.Path)
}

// Collection is an opened collection: a resolved catalog entry plus a
// traversal session over its backing file. Close releases the file.
type Collection struct {
	entry   catalog.Entry
	session *btree.Session
}

// Open resolves name in the directory's catalog and opens its backing
// file. The name must match exactly.
func Open(dataDir, name string) (*Collection, error) {
	cat, err := catalog.Load(dataDir)
	if err != nil {
		return nil, err
	}
	entry, err := cat.Resolve(name)
	if err != nil {
		return nil, err
	}
	if !entry.Available {
		return nil, &UnavailableError{Name: name, Path: entry.FilePath}
	}
	handle, err := blockfile.Open(entry.FilePath)
	if err != nil {
		return nil, err
	}
	session, err := btree.NewSession(handle, btree.Options{
		Compression: entry.Compressor,
		AllocSize:   entry.AllocSize,
	})
	if err != nil {
		handle.Close()
		return nil, err
	}
	return &Collection{entry: entry, session: session}, nil
}

// Entry returns the catalog entry the collection was opened from.
func (c *Collection) Entry() catalog.Entry { return c.entry }

// Close releases the traversal session and the backing file.
func (c *Collection) Close() error { return c.session.Close() }

// Doc is one decoded document. When the value bytes could not be decoded,
// Err carries the reason and Body is empty; the scan continues past it.
type Doc struct {
	RecordID int64  // decoded record id when the key format is 'q'
	RawKey   []byte // key bytes for other key formats
	Body     bson.Document
	Err      error
}

// Cursor streams a collection's documents in record-id order.
type Cursor struct {
	col      *Collection
	inner    *btree.Cursor
	limit    int
	produced int
	recDiags []btree.Diagnostic
}

// Documents starts an ordered scan. limit > 0 stops the scan after that
// many documents without reading further pages; ctx cancels between page
// fetches.
func (c *Collection) Documents(ctx context.Context, limit int) *Cursor {
	return &Cursor{
		col:   c,
		inner: c.session.Scan(ctx, c.entry.Root),
		limit: limit,
	}
}

// Next returns the next document. It reports false once the scan is
// exhausted, the limit is reached, or a fatal error occurred (see Err).
func (cur *Cursor) Next() (Doc, bool) {
	if cur.limit > 0 && cur.produced >= cur.limit {
		return Doc{}, false
	}
	rec, ok := cur.inner.Next()
	if !ok {
		return Doc{}, false
	}
	doc := cur.decode(rec)
	cur.produced++
	return doc, true
}

// Err returns the fatal error that stopped the scan, if any.
func (cur *Cursor) Err() error { return cur.inner.Err() }

// Diagnostics returns page-level and record-level problems encountered so
// far, in the order they were hit.
func (cur *Cursor) Diagnostics() []btree.Diagnostic {
	return append(cur.inner.Diagnostics(), cur.recDiags...)
}

// decode turns one raw record into a Doc. Failures are scoped to the
// record: the Doc carries the error and the scan moves on.
func (cur *Cursor) decode(rec btree.Record) Doc {
	var doc Doc
	switch cur.col.entry.KeyFormat {
	case "q", "Q":
		id, _, err := intpack.Int(rec.Key)
		if err != nil {
			doc.RawKey = rec.Key
			doc.Err = fmt.Errorf("record key: %w", err)
			cur.recDiags = append(cur.recDiags, btree.Diagnostic{Err: doc.Err})
			return doc
		}
		doc.RecordID = id
	default:
		doc.RawKey = rec.Key
	}

	switch cur.col.entry.ValueFormat {
	case "u":
		body, err := bson.Decode(rec.Value)
		if err != nil {
			doc.Err = fmt.Errorf("record %d value: %w", doc.RecordID, err)
			cur.recDiags = append(cur.recDiags, btree.Diagnostic{Err: doc.Err})
			return doc
		}
		doc.Body = body
	case "S":
		doc.Body = bson.Document{{Name: "value", Value: trimNul(rec.Value)}}
	default:
		doc.Body = bson.Document{{Name: "raw", Value: bson.Binary{Data: rec.Value}}}
	}
	return doc
}

// FindID is a point lookup by record id, available when the key format is
// the packed record id.
func (c *Collection) FindID(ctx context.Context, id int64) (Doc, bool, error) {
	if c.entry.KeyFormat != "q" && c.entry.KeyFormat != "Q" {
		return Doc{}, false, fmt.Errorf("collection %q does not use record-id keys", c.entry.Name)
	}
	key := intpack.AppendInt(nil, id)
	rec, found, err := c.session.Seek(ctx, c.entry.Root, key)
	if err != nil || !found {
		return Doc{}, false, err
	}
	cur := &Cursor{col: c}
	return cur.decode(rec), true, nil
}

func trimNul(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
