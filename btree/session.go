// Package btree walks WiredTiger row-store B-trees: given a root block
// address it yields ordered key/value records, lazily, one leaf at a time.
// Pages reference children by address only, so traversal is an explicit
// stack of decoded pages fetched through the block reader; there are no
// page-to-page pointers to manage and a visited-address set stands in for
// cycle-safe graph traversal.
package btree

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"

	"wtcarve/blockfile"
	"wtcarve/cell"
	"wtcarve/wtpage"
)

// Options configure a traversal session. Compression and the allocation
// size are file-level properties recorded in the catalog metadata, not on
// the pages themselves, so the caller must supply them.
type Options struct {
	Compression wtpage.Compression
	AllocSize   int64
	CacheBytes  int64 // decompressed-page cache budget; 0 means default
}

const defaultCacheBytes = 32 << 20

// Session owns the per-traversal resources for one file: the block source,
// and a cache of decoded pages keyed by block offset. A session is safe for
// concurrent cursors; it never mutates pages after decode.
type Session struct {
	src       blockfile.Source
	comp      wtpage.Compression
	allocSize int64
	cache     *ristretto.Cache[uint64, *wtpage.Page]
}

// NewSession wraps a block source. Closing the session closes the source.
func NewSession(src blockfile.Source, opts Options) (*Session, error) {
	if opts.AllocSize <= 0 {
		opts.AllocSize = blockfile.DefaultAllocSize
	}
	if opts.CacheBytes <= 0 {
		opts.CacheBytes = defaultCacheBytes
	}
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, *wtpage.Page]{
		NumCounters: 1 << 14,
		MaxCost:     opts.CacheBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("btree: page cache: %w", err)
	}
	return &Session{
		src:       src,
		comp:      opts.Compression,
		allocSize: opts.AllocSize,
		cache:     cache,
	}, nil
}

// AllocSize returns the allocation unit used to unpack address cookies.
func (s *Session) AllocSize() int64 { return s.allocSize }

// Close releases the page cache and the underlying block source.
func (s *Session) Close() error {
	s.cache.Close()
	return s.src.Close()
}

// page fetches and decodes the block at addr, consulting the cache first.
func (s *Session) page(addr blockfile.Addr) (*wtpage.Page, error) {
	if p, ok := s.cache.Get(uint64(addr.Offset)); ok {
		return p, nil
	}
	raw, err := s.src.ReadBlock(addr)
	if err != nil {
		return nil, err
	}
	p, err := wtpage.Decode(raw, s.comp)
	if err != nil {
		return nil, fmt.Errorf("decode page at %s: %w", addr, err)
	}
	s.cache.Set(uint64(addr.Offset), p, int64(p.MemSize))
	return p, nil
}

// overflow resolves an overflow address cookie to the referenced data.
func (s *Session) overflow(cookie []byte) ([]byte, error) {
	addr, _, err := blockfile.UnpackAddr(cookie, s.allocSize)
	if err != nil {
		return nil, err
	}
	if addr.IsNull() {
		return nil, fmt.Errorf("null overflow address")
	}
	p, err := s.page(addr)
	if err != nil {
		return nil, err
	}
	if p.Kind != wtpage.KindOverflow {
		return nil, fmt.Errorf("overflow address %s points at a %s page", addr, p.Kind)
	}
	return p.Payload(), nil
}

// Record is one fully resolved key/value pair.
type Record struct {
	Key   []byte
	Value []byte
}

// Diagnostic records a recoverable failure: the address that could not be
// decoded and why. Diagnostics accompany results, they never replace them.
type Diagnostic struct {
	Addr blockfile.Addr
	Err  error
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %v", d.Addr, d.Err)
}

// CorruptTreeError reports a block address encountered twice in one
// traversal. The tree is acyclic by construction; a repeat means the links
// are corrupt.
type CorruptTreeError struct {
	Addr blockfile.Addr
}

func (e *CorruptTreeError) Error() string {
	return fmt.Sprintf("corrupt tree: block %s already visited", e.Addr)
}

// materializeKey applies prefix compression: a key cell may reuse the first
// Prefix bytes of the previous key on the page.
func materializeKey(c cell.Cell, prev []byte) ([]byte, error) {
	if c.Prefix == 0 {
		return c.Data, nil
	}
	if int(c.Prefix) > len(prev) {
		return nil, fmt.Errorf("key prefix %d exceeds previous key length %d", c.Prefix, len(prev))
	}
	key := make([]byte, 0, int(c.Prefix)+len(c.Data))
	key = append(key, prev[:c.Prefix]...)
	key = append(key, c.Data...)
	return key, nil
}
