package btree

import (
	"context"
	"errors"
	"fmt"

	"wtcarve/blockfile"
	"wtcarve/cell"
	"wtcarve/wtpage"
)

// frame is one level of the traversal stack: a decoded page and the cursor
// position within its cell stream.
type frame struct {
	addr    blockfile.Addr
	page    *wtpage.Page
	cells   []cell.Cell
	pos     int
	prevKey []byte // previous materialized key, the prefix-compression base
}

// Cursor is a forward-only ordered scan over one tree. It is pull-based:
// nothing is read ahead of what Next needs, so a caller that stops early
// stops the I/O too. A cursor belongs to a single goroutine.
type Cursor struct {
	s       *Session
	ctx     context.Context
	root    blockfile.Addr
	stack   []frame
	visited map[int64]struct{}
	diags   []Diagnostic
	err     error
	started bool
	done    bool
}

// Scan starts an ordered traversal from root. ctx is checked between page
// fetches; cancelling it ends the scan with ctx's error.
func (s *Session) Scan(ctx context.Context, root blockfile.Addr) *Cursor {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Cursor{s: s, ctx: ctx, root: root}
}

// Next returns the next record in key order. It reports false when the
// scan is exhausted, cancelled, or fatally broken; Err distinguishes.
func (c *Cursor) Next() (Record, bool) {
	if c.err != nil || c.done {
		return Record{}, false
	}
	if !c.started {
		c.started = true
		c.visited = make(map[int64]struct{})
		c.descend(c.root)
	}
	for {
		if c.err != nil {
			return Record{}, false
		}
		if len(c.stack) == 0 {
			c.done = true
			return Record{}, false
		}
		f := &c.stack[len(c.stack)-1]
		if f.pos >= len(f.cells) {
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}
		if f.page.Kind == wtpage.KindRowLeaf {
			if rec, ok := c.leafNext(f); ok {
				return rec, true
			}
			continue
		}
		c.internalStep(f)
	}
}

// Err returns the fatal error that ended the scan, if any. Page-level
// problems are reported through Diagnostics instead and do not set it.
func (c *Cursor) Err() error { return c.err }

// Diagnostics returns the recoverable failures encountered so far.
func (c *Cursor) Diagnostics() []Diagnostic { return c.diags }

func (c *Cursor) diag(addr blockfile.Addr, err error) {
	c.diags = append(c.diags, Diagnostic{Addr: addr, Err: err})
}

// descend reads the page at addr and pushes it on the stack. Page-level
// failures (bad checksum, unknown type, cycle, cell mismatch) skip the
// subtree with a diagnostic; a truncated file is fatal.
func (c *Cursor) descend(addr blockfile.Addr) {
	if err := c.ctx.Err(); err != nil {
		c.err = err
		return
	}
	if _, seen := c.visited[addr.Offset]; seen {
		c.diag(addr, &CorruptTreeError{Addr: addr})
		return
	}
	c.visited[addr.Offset] = struct{}{}

	p, err := c.s.page(addr)
	if err != nil {
		var trunc *blockfile.TruncatedError
		if errors.As(err, &trunc) {
			c.err = err
			return
		}
		c.diag(addr, err)
		return
	}
	if p.Kind != wtpage.KindRowLeaf && p.Kind != wtpage.KindRowInternal {
		c.diag(addr, fmt.Errorf("unexpected %s page in tree", p.Kind))
		return
	}
	cells, err := cell.DecodePage(p)
	if err != nil {
		c.diag(addr, err)
		return
	}
	c.stack = append(c.stack, frame{addr: addr, page: p, cells: cells})
}

// internalStep consumes one cell of an internal page, descending when it is
// a child address.
func (c *Cursor) internalStep(f *frame) {
	ic := f.cells[f.pos]
	f.pos++
	switch ic.Kind {
	case cell.KindAddrInt, cell.KindAddrLeaf:
		addr, _, err := blockfile.UnpackAddr(ic.Data, c.s.allocSize)
		if err != nil {
			c.diag(f.addr, fmt.Errorf("child address: %w", err))
			return
		}
		if addr.IsNull() {
			c.diag(f.addr, fmt.Errorf("null child address"))
			return
		}
		c.descend(addr)
	case cell.KindAddrDel:
		// deleted subtree, nothing behind it to read
	default:
		// internal keys only delimit children; the scan visits every child
	}
}

// leafNext consumes cells from the current leaf until it can emit a record
// or the page is exhausted. Tombstoned values are skipped transparently.
func (c *Cursor) leafNext(f *frame) (Record, bool) {
	for f.pos < len(f.cells) {
		kc := f.cells[f.pos]

		var key []byte
		keyOK := true
		switch kc.Kind {
		case cell.KindKey:
			k, err := materializeKey(kc, f.prevKey)
			if err != nil {
				c.diag(f.addr, err)
				keyOK = false
				f.prevKey = nil
			} else {
				key, f.prevKey = k, k
			}
		case cell.KindKeyOvfl:
			k, err := c.s.overflow(kc.Data)
			if err != nil {
				c.diag(f.addr, fmt.Errorf("overflow key: %w", err))
				keyOK = false
				f.prevKey = nil
			} else {
				key, f.prevKey = k, k
			}
		case cell.KindOvflRm:
			c.diag(f.addr, fmt.Errorf("key overflow block was removed"))
			keyOK = false
			f.prevKey = nil
		default:
			// value cell with no preceding key; nothing to pair it with
			f.pos++
			continue
		}
		f.pos++

		var val []byte
		emit := keyOK
		if f.pos < len(f.cells) {
			switch vc := f.cells[f.pos]; vc.Kind {
			case cell.KindValue:
				val = vc.Data
				f.pos++
			case cell.KindValueOvfl:
				f.pos++
				v, err := c.s.overflow(vc.Data)
				if err != nil {
					c.diag(f.addr, fmt.Errorf("overflow value: %w", err))
					emit = false
				} else {
					val = v
				}
			case cell.KindDel:
				f.pos++
				emit = false
			case cell.KindOvflRm:
				f.pos++
				c.diag(f.addr, fmt.Errorf("value overflow block was removed"))
				emit = false
			}
		}
		if emit {
			return Record{Key: key, Value: val}, true
		}
	}
	return Record{}, false
}
