package btree_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"wtcarve/blockfile"
	"wtcarve/btree"
	"wtcarve/intpack"
	"wtcarve/wtfixture"
)

func key(id int64) []byte { return intpack.AppendInt(nil, id) }

func records(from, to int64) []wtfixture.Record {
	var recs []wtfixture.Record
	for id := from; id <= to; id++ {
		recs = append(recs, wtfixture.Record{
			Key:   key(id),
			Value: []byte(fmt.Sprintf("doc-%d", id)),
		})
	}
	return recs
}

func writeFile(t *testing.T, fb *wtfixture.FileBuilder) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tree.wt")
	if err := fb.WriteTo(path); err != nil {
		t.Fatalf("Failed to write fixture file: %v", err)
	}
	return path
}

func openSession(t *testing.T, path string) *btree.Session {
	t.Helper()
	h, err := blockfile.Open(path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	s, err := btree.NewSession(h, btree.Options{})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func collect(cur *btree.Cursor) []btree.Record {
	var recs []btree.Record
	for {
		rec, ok := cur.Next()
		if !ok {
			return recs
		}
		recs = append(recs, rec)
	}
}

// checkSequence verifies recs hold exactly the ids in order with their
// expected values.
func checkSequence(t *testing.T, recs []btree.Record, ids ...int64) {
	t.Helper()
	if len(recs) != len(ids) {
		t.Fatalf("Record count: want %d, got %d", len(ids), len(recs))
	}
	for i, id := range ids {
		if !bytes.Equal(recs[i].Key, key(id)) {
			t.Errorf("Record %d: wrong key, want id %d", i, id)
		}
		want := fmt.Sprintf("doc-%d", id)
		if string(recs[i].Value) != want {
			t.Errorf("Record %d: value %q, want %q", i, recs[i].Value, want)
		}
	}
}

func seq(from, to int64) []int64 {
	var ids []int64
	for id := from; id <= to; id++ {
		ids = append(ids, id)
	}
	return ids
}

func TestScanSingleLeaf(t *testing.T) {
	fb := wtfixture.NewFile(0, "")
	root := fb.AddLeaf(records(1, 10))
	s := openSession(t, writeFile(t, fb))

	recs := collect(s.Scan(context.Background(), root))
	checkSequence(t, recs, seq(1, 10)...)
}

// buildTwoLevel lays out leaves of four records each under one internal
// root and returns the root address plus the leaf addresses.
func buildTwoLevel(fb *wtfixture.FileBuilder, leaves int) (blockfile.Addr, []blockfile.Addr) {
	var children []wtfixture.Child
	var addrs []blockfile.Addr
	for i := 0; i < leaves; i++ {
		from := int64(i*4 + 1)
		addr := fb.AddLeaf(records(from, from+3))
		addrs = append(addrs, addr)
		sep := []byte{}
		if i > 0 {
			sep = key(from)
		}
		children = append(children, wtfixture.Child{Key: sep, Addr: addr})
	}
	return fb.AddInternal(children), addrs
}

func TestScanTwoLevels(t *testing.T) {
	fb := wtfixture.NewFile(0, "")
	root, _ := buildTwoLevel(fb, 3)
	s := openSession(t, writeFile(t, fb))

	recs := collect(s.Scan(context.Background(), root))
	checkSequence(t, recs, seq(1, 12)...)
}

func TestScanThreeLevels(t *testing.T) {
	fb := wtfixture.NewFile(0, "")
	var mids []wtfixture.Child
	for g := 0; g < 3; g++ {
		var group []wtfixture.Child
		for l := 0; l < 2; l++ {
			from := int64((g*2+l)*4 + 1)
			addr := fb.AddLeaf(records(from, from+3))
			sep := []byte{}
			if l > 0 {
				sep = key(from)
			}
			group = append(group, wtfixture.Child{Key: sep, Addr: addr})
		}
		addr := fb.AddInternal(group)
		sep := []byte{}
		if g > 0 {
			sep = key(int64(g*8 + 1))
		}
		mids = append(mids, wtfixture.Child{Key: sep, Addr: addr, Internal: true})
	}
	root := fb.AddInternal(mids)
	s := openSession(t, writeFile(t, fb))

	recs := collect(s.Scan(context.Background(), root))
	checkSequence(t, recs, seq(1, 24)...)
}

// TestScanRepeatable: two scans over one session must see the same data,
// cached pages included.
func TestScanRepeatable(t *testing.T) {
	fb := wtfixture.NewFile(0, "")
	root, _ := buildTwoLevel(fb, 2)
	s := openSession(t, writeFile(t, fb))

	first := collect(s.Scan(context.Background(), root))
	second := collect(s.Scan(context.Background(), root))
	checkSequence(t, first, seq(1, 8)...)
	checkSequence(t, second, seq(1, 8)...)
}

func TestScanSkipsCorruptLeaf(t *testing.T) {
	fb := wtfixture.NewFile(0, "")
	root, addrs := buildTwoLevel(fb, 3)
	fb.Corrupt(addrs[1])
	s := openSession(t, writeFile(t, fb))

	cur := s.Scan(context.Background(), root)
	recs := collect(cur)
	if err := cur.Err(); err != nil {
		t.Fatalf("Damaged leaf must not be fatal, got %v", err)
	}
	checkSequence(t, recs, 1, 2, 3, 4, 9, 10, 11, 12)

	diags := cur.Diagnostics()
	if len(diags) != 1 {
		t.Fatalf("Diagnostics: want 1, got %d", len(diags))
	}
	var cerr *blockfile.ChecksumError
	if !errors.As(diags[0].Err, &cerr) {
		t.Errorf("Diagnostic: want ChecksumError, got %v", diags[0].Err)
	}
	if diags[0].Addr != addrs[1] {
		t.Errorf("Diagnostic address: want %s, got %s", addrs[1], diags[0].Addr)
	}
}

func TestScanDetectsCycle(t *testing.T) {
	fb := wtfixture.NewFile(0, "")
	leaf := fb.AddLeaf(records(1, 3))
	root := fb.AddInternal([]wtfixture.Child{
		{Key: []byte{}, Addr: leaf},
		{Key: key(100), Addr: leaf}, // same child again
	})
	s := openSession(t, writeFile(t, fb))

	cur := s.Scan(context.Background(), root)
	recs := collect(cur)
	if err := cur.Err(); err != nil {
		t.Fatalf("Cycle must not be fatal for a scan, got %v", err)
	}
	checkSequence(t, recs, 1, 2, 3)

	diags := cur.Diagnostics()
	if len(diags) != 1 {
		t.Fatalf("Diagnostics: want 1, got %d", len(diags))
	}
	var terr *btree.CorruptTreeError
	if !errors.As(diags[0].Err, &terr) {
		t.Errorf("Diagnostic: want CorruptTreeError, got %v", diags[0].Err)
	}
}

// countingSource counts block reads so tests can assert on I/O, not just
// results.
type countingSource struct {
	inner blockfile.Source
	reads int
}

func (c *countingSource) ReadBlock(addr blockfile.Addr) ([]byte, error) {
	c.reads++
	return c.inner.ReadBlock(addr)
}
func (c *countingSource) Path() string { return c.inner.Path() }
func (c *countingSource) Close() error { return c.inner.Close() }

// TestScanIsLazy: pulling one record from a three-leaf tree must read the
// root and the first leaf, nothing more.
func TestScanIsLazy(t *testing.T) {
	fb := wtfixture.NewFile(0, "")
	root, _ := buildTwoLevel(fb, 3)
	path := writeFile(t, fb)

	h, err := blockfile.Open(path)
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	src := &countingSource{inner: h}
	s, err := btree.NewSession(src, btree.Options{})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	defer s.Close()

	cur := s.Scan(context.Background(), root)
	if _, ok := cur.Next(); !ok {
		t.Fatalf("First record missing: %v", cur.Err())
	}
	if src.reads != 2 {
		t.Errorf("Block reads after one record: want 2, got %d", src.reads)
	}
}

func TestScanContextCancelled(t *testing.T) {
	fb := wtfixture.NewFile(0, "")
	root := fb.AddLeaf(records(1, 3))
	s := openSession(t, writeFile(t, fb))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cur := s.Scan(ctx, root)
	if _, ok := cur.Next(); ok {
		t.Fatal("Next succeeded on a cancelled context")
	}
	if !errors.Is(cur.Err(), context.Canceled) {
		t.Errorf("Err: want context.Canceled, got %v", cur.Err())
	}
}

func TestScanTruncatedFileIsFatal(t *testing.T) {
	fb := wtfixture.NewFile(0, "")
	root := fb.AddLeaf(records(1, 3))
	path := writeFile(t, fb)
	// Cut the file down to the description block; the root is gone.
	if err := os.Truncate(path, 4096); err != nil {
		t.Fatalf("Failed to truncate: %v", err)
	}
	s := openSession(t, path)

	cur := s.Scan(context.Background(), root)
	if _, ok := cur.Next(); ok {
		t.Fatal("Next returned a record from a truncated file")
	}
	var terr *blockfile.TruncatedError
	if !errors.As(cur.Err(), &terr) {
		t.Errorf("Err: want TruncatedError, got %v", cur.Err())
	}
}

func TestScanOverflowValues(t *testing.T) {
	big := bytes.Repeat([]byte("ovfl"), 500)
	fb := wtfixture.NewFile(0, "")
	root := fb.AddLeaf([]wtfixture.Record{
		{Key: key(1), Value: []byte("small")},
		{Key: key(2), Value: big, OverflowValue: true},
	})
	s := openSession(t, writeFile(t, fb))

	recs := collect(s.Scan(context.Background(), root))
	if len(recs) != 2 {
		t.Fatalf("Record count: want 2, got %d", len(recs))
	}
	if !bytes.Equal(recs[1].Value, big) {
		t.Errorf("Overflow value: want %d bytes, got %d", len(big), len(recs[1].Value))
	}
}

func TestScanSkipsTombstones(t *testing.T) {
	fb := wtfixture.NewFile(0, "")
	root := fb.AddLeaf([]wtfixture.Record{
		{Key: key(1), Value: []byte("doc-1")},
		{Key: key(2), Deleted: true},
		{Key: key(3), Value: []byte("doc-3")},
	})
	s := openSession(t, writeFile(t, fb))

	recs := collect(s.Scan(context.Background(), root))
	checkSequence(t, recs, 1, 3)
}

func TestSeek(t *testing.T) {
	fb := wtfixture.NewFile(0, "")
	root, _ := buildTwoLevel(fb, 3)
	s := openSession(t, writeFile(t, fb))
	ctx := context.Background()

	// Every stored key is findable, across leaf boundaries.
	for id := int64(1); id <= 12; id++ {
		rec, found, err := s.Seek(ctx, root, key(id))
		if err != nil {
			t.Fatalf("Seek %d failed: %v", id, err)
		}
		if !found {
			t.Fatalf("Seek %d: not found", id)
		}
		want := fmt.Sprintf("doc-%d", id)
		if string(rec.Value) != want {
			t.Errorf("Seek %d: value %q, want %q", id, rec.Value, want)
		}
	}

	// Misses below, between and above the stored range.
	for _, id := range []int64{0, 13, 99} {
		_, found, err := s.Seek(ctx, root, key(id))
		if err != nil {
			t.Fatalf("Seek %d failed: %v", id, err)
		}
		if found {
			t.Errorf("Seek %d: found a record that does not exist", id)
		}
	}
}

func TestSeekDeletedKey(t *testing.T) {
	fb := wtfixture.NewFile(0, "")
	root := fb.AddLeaf([]wtfixture.Record{
		{Key: key(1), Value: []byte("doc-1")},
		{Key: key(2), Deleted: true},
	})
	s := openSession(t, writeFile(t, fb))

	_, found, err := s.Seek(context.Background(), root, key(2))
	if err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if found {
		t.Error("Seek returned a tombstoned record")
	}
}

func TestSeekCorruptLeafFails(t *testing.T) {
	fb := wtfixture.NewFile(0, "")
	root, addrs := buildTwoLevel(fb, 2)
	fb.Corrupt(addrs[1])
	s := openSession(t, writeFile(t, fb))

	// The intact leaf still answers.
	if _, found, err := s.Seek(context.Background(), root, key(2)); err != nil || !found {
		t.Fatalf("Seek into intact leaf: found=%v, err=%v", found, err)
	}
	// A lookup that lands on the damaged leaf is an error, not a miss.
	var cerr *blockfile.ChecksumError
	if _, _, err := s.Seek(context.Background(), root, key(6)); !errors.As(err, &cerr) {
		t.Errorf("Seek into damaged leaf: want ChecksumError, got %v", err)
	}
}
