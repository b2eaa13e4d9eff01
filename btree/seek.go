package btree

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"wtcarve/blockfile"
	"wtcarve/cell"
	"wtcarve/wtpage"
)

// Seek descends from root to the record with exactly the given key bytes.
// Unlike Scan, a point lookup has no partial result to salvage, so every
// failure on the descent path is returned as an error.
func (s *Session) Seek(ctx context.Context, root blockfile.Addr, key []byte) (Record, bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	visited := make(map[int64]struct{})
	addr := root
	for {
		if err := ctx.Err(); err != nil {
			return Record{}, false, err
		}
		if _, seen := visited[addr.Offset]; seen {
			return Record{}, false, &CorruptTreeError{Addr: addr}
		}
		visited[addr.Offset] = struct{}{}

		p, err := s.page(addr)
		if err != nil {
			return Record{}, false, err
		}
		cells, err := cell.DecodePage(p)
		if err != nil {
			return Record{}, false, err
		}

		switch p.Kind {
		case wtpage.KindRowInternal:
			next, err := s.pickChild(cells, key)
			if err != nil {
				return Record{}, false, fmt.Errorf("internal page %s: %w", addr, err)
			}
			if next.IsNull() {
				return Record{}, false, nil // key range covered by a deleted subtree
			}
			addr = next

		case wtpage.KindRowLeaf:
			return s.leafFind(cells, key)

		default:
			return Record{}, false, fmt.Errorf("unexpected %s page in tree", p.Kind)
		}
	}
}

type childRef struct {
	key    []byte
	cookie []byte
	del    bool
}

// pickChild selects the child whose key range covers the target: the
// rightmost child whose separator key is not greater than it. The first
// separator on a page bounds nothing below, so child zero always covers.
func (s *Session) pickChild(cells []cell.Cell, key []byte) (blockfile.Addr, error) {
	var kids []childRef
	var cur, prev []byte
	for _, c := range cells {
		switch c.Kind {
		case cell.KindKey:
			k, err := materializeKey(c, prev)
			if err != nil {
				return blockfile.Addr{}, err
			}
			cur, prev = k, k
		case cell.KindKeyOvfl:
			k, err := s.overflow(c.Data)
			if err != nil {
				return blockfile.Addr{}, fmt.Errorf("overflow key: %w", err)
			}
			cur, prev = k, k
		case cell.KindAddrInt, cell.KindAddrLeaf:
			kids = append(kids, childRef{key: cur, cookie: c.Data})
		case cell.KindAddrDel:
			kids = append(kids, childRef{key: cur, del: true})
		default:
			return blockfile.Addr{}, fmt.Errorf("unexpected %s cell on internal page", c.Kind)
		}
	}
	if len(kids) == 0 {
		return blockfile.Addr{}, fmt.Errorf("no children")
	}
	i := sort.Search(len(kids), func(i int) bool {
		return i > 0 && bytes.Compare(kids[i].key, key) > 0
	}) - 1
	if kids[i].del {
		return blockfile.Addr{}, nil
	}
	addr, _, err := blockfile.UnpackAddr(kids[i].cookie, s.allocSize)
	if err != nil {
		return blockfile.Addr{}, fmt.Errorf("child address: %w", err)
	}
	return addr, nil
}

// leafFind scans a leaf's cells for an exact key match. Keys are in
// ascending order, so the scan stops at the first key past the target.
func (s *Session) leafFind(cells []cell.Cell, key []byte) (Record, bool, error) {
	var prev []byte
	for i := 0; i < len(cells); i++ {
		kc := cells[i]
		var k []byte
		switch kc.Kind {
		case cell.KindKey:
			mk, err := materializeKey(kc, prev)
			if err != nil {
				return Record{}, false, err
			}
			k, prev = mk, mk
		case cell.KindKeyOvfl:
			mk, err := s.overflow(kc.Data)
			if err != nil {
				return Record{}, false, fmt.Errorf("overflow key: %w", err)
			}
			k, prev = mk, mk
		default:
			continue
		}

		cmp := bytes.Compare(k, key)
		if cmp > 0 {
			return Record{}, false, nil
		}
		if cmp < 0 {
			continue
		}

		// Matched; the value, if any, is the next cell.
		if i+1 < len(cells) {
			switch vc := cells[i+1]; vc.Kind {
			case cell.KindValue:
				return Record{Key: k, Value: vc.Data}, true, nil
			case cell.KindValueOvfl:
				v, err := s.overflow(vc.Data)
				if err != nil {
					return Record{}, false, fmt.Errorf("overflow value: %w", err)
				}
				return Record{Key: k, Value: v}, true, nil
			case cell.KindDel, cell.KindOvflRm:
				return Record{}, false, nil
			}
		}
		return Record{Key: k}, true, nil
	}
	return Record{}, false, nil
}
