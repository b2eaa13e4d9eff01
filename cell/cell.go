// Package cell decodes the packed cell stream inside row-store pages. Each
// cell starts with a descriptor byte: the two low bits select the compact
// short-key/short-value forms with the length folded into the descriptor,
// and when they are clear the high nibble carries the full cell type with a
// varint length behind it. The variant set is closed; anything else is a
// decode error.
package cell

import (
	"fmt"

	"wtcarve/intpack"
	"wtcarve/wtpage"
)

// Kind is the decoded cell variant.
type Kind uint8

const (
	KindKey       Kind = iota // key bytes inline
	KindKeyOvfl               // key stored in an overflow block
	KindValue                 // value bytes inline
	KindValueOvfl             // value stored in an overflow block
	KindDel                   // deleted value (tombstone)
	KindAddrInt               // child address, child is internal
	KindAddrLeaf              // child address, child is a leaf
	KindAddrDel               // child address, subtree deleted
	KindOvflRm                // overflow record whose block was freed
)

func (k Kind) String() string {
	switch k {
	case KindKey:
		return "key"
	case KindKeyOvfl:
		return "key-ovfl"
	case KindValue:
		return "value"
	case KindValueOvfl:
		return "value-ovfl"
	case KindDel:
		return "del"
	case KindAddrInt:
		return "addr-int"
	case KindAddrLeaf:
		return "addr-leaf"
	case KindAddrDel:
		return "addr-del"
	case KindOvflRm:
		return "ovfl-rm"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Cell is one decoded key, value or child-reference unit. For address and
// overflow kinds Data holds the still-packed address cookie; resolving it
// needs the file's allocation size and is left to the walker so overflow
// fetches can be deferred or skipped.
type Cell struct {
	Kind   Kind
	Data   []byte
	Prefix uint8  // bytes to copy from the previous key (prefix compression)
	RLE    uint64 // run-length/record count when the descriptor carries one
}

// Descriptor byte layout.
const (
	shortKey    = 0x01 // low two bits
	shortKeyPfx = 0x02
	shortValue  = 0x03
	shortMask   = 0x03

	flag64V        = 0x04 // a varint run-length follows
	flagSecondDesc = 0x08 // a second descriptor byte follows

	typeMask        = 0xf0
	typeAddrDel     = 0x00
	typeAddrInt     = 0x10
	typeAddrLeaf    = 0x20
	typeAddrLeafNo  = 0x30
	typeDel         = 0x40
	typeKey         = 0x50
	typeKeyOvfl     = 0x60
	typeKeyPfx      = 0x70
	typeValue       = 0x80
	typeValueCopy   = 0x90
	typeValueOvfl   = 0xa0
	typeValueOvflRm = 0xb0
	typeKeyOvflRm   = 0xc0

	// Long key/value cells store their length biased down by the size of
	// the short form they did not use.
	sizeAdjust = 64

	// Second-descriptor bits: prepare carries no payload, every other set
	// bit is one varint of transaction/timestamp window data.
	windowPrepare = 0x01
)

// CountMismatchError reports a page whose cell stream did not contain the
// entry count its header declared.
type CountMismatchError struct {
	Want uint32
	Got  int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("cell count mismatch: page header declares %d entries, decoded %d", e.Want, e.Got)
}

// DecodePage decodes the full cell stream of a row-store page. Decoding is
// strictly sequential and must consume exactly the declared entry count.
func DecodePage(p *wtpage.Page) ([]Cell, error) {
	if p.Kind != wtpage.KindRowLeaf && p.Kind != wtpage.KindRowInternal {
		return nil, fmt.Errorf("page type %s has no cell stream", p.Kind)
	}
	payload := p.Payload()
	cells := make([]Cell, 0, p.Entries)
	off := 0
	for off < len(payload) {
		if len(cells) == int(p.Entries) {
			break
		}
		c, n, err := decodeOne(payload[off:])
		if err != nil {
			return nil, fmt.Errorf("cell %d at page offset %d: %w", len(cells), off, err)
		}
		cells = append(cells, c)
		off += n
	}
	if len(cells) != int(p.Entries) {
		return nil, &CountMismatchError{Want: p.Entries, Got: len(cells)}
	}
	return cells, nil
}

// decodeOne decodes a single cell, returning it and its encoded size.
func decodeOne(buf []byte) (Cell, int, error) {
	if len(buf) == 0 {
		return Cell{}, 0, fmt.Errorf("empty cell")
	}
	desc := buf[0]
	off := 1

	// Compact forms: length lives in the top six descriptor bits.
	if short := desc & shortMask; short != 0 {
		var c Cell
		switch short {
		case shortKey:
			c.Kind = KindKey
		case shortKeyPfx:
			c.Kind = KindKey
			if len(buf) < 2 {
				return Cell{}, 0, fmt.Errorf("truncated prefixed key cell")
			}
			c.Prefix = buf[off]
			off++
		case shortValue:
			c.Kind = KindValue
		}
		size := int(desc >> 2)
		if off+size > len(buf) {
			return Cell{}, 0, fmt.Errorf("short cell data overruns page")
		}
		c.Data = buf[off : off+size]
		return c, off + size, nil
	}

	kind, hasData, adjust, err := longKind(desc & typeMask)
	if err != nil {
		return Cell{}, 0, err
	}
	c := Cell{Kind: kind}

	if desc&typeMask == typeKeyPfx {
		if off >= len(buf) {
			return Cell{}, 0, fmt.Errorf("truncated prefixed key cell")
		}
		c.Prefix = buf[off]
		off++
	}

	if desc&flagSecondDesc != 0 {
		if off >= len(buf) {
			return Cell{}, 0, fmt.Errorf("truncated cell: missing second descriptor")
		}
		extra := buf[off]
		off++
		for bit := uint8(0x02); bit != 0; bit <<= 1 {
			if extra&bit == 0 {
				continue
			}
			_, n, err := intpack.Uint(buf[off:])
			if err != nil {
				return Cell{}, 0, fmt.Errorf("cell validity window: %w", err)
			}
			off += n
		}
		_ = extra & windowPrepare // no payload
	}

	if desc&flag64V != 0 {
		rle, n, err := intpack.Uint(buf[off:])
		if err != nil {
			return Cell{}, 0, fmt.Errorf("cell run length: %w", err)
		}
		c.RLE = rle
		off += n
	}

	if hasData {
		size, n, err := intpack.Uint(buf[off:])
		if err != nil {
			return Cell{}, 0, fmt.Errorf("cell data length: %w", err)
		}
		off += n
		size += uint64(adjust)
		if uint64(off)+size > uint64(len(buf)) {
			return Cell{}, 0, fmt.Errorf("cell data overruns page (%d bytes declared)", size)
		}
		c.Data = buf[off : off+int(size)]
		off += int(size)
	}

	return c, off, nil
}

// longKind maps a full-descriptor type nibble onto the public variant set.
func longKind(t byte) (kind Kind, hasData bool, adjust int, err error) {
	switch t {
	case typeAddrDel:
		return KindAddrDel, true, 0, nil
	case typeAddrInt:
		return KindAddrInt, true, 0, nil
	case typeAddrLeaf, typeAddrLeafNo:
		return KindAddrLeaf, true, 0, nil
	case typeDel:
		return KindDel, false, 0, nil
	case typeKey:
		return KindKey, true, sizeAdjust, nil
	case typeKeyPfx:
		return KindKey, true, sizeAdjust, nil
	case typeKeyOvfl:
		return KindKeyOvfl, true, 0, nil
	case typeValue:
		return KindValue, true, sizeAdjust, nil
	case typeValueOvfl:
		return KindValueOvfl, true, 0, nil
	case typeValueOvflRm, typeKeyOvflRm:
		return KindOvflRm, true, 0, nil
	case typeValueCopy:
		return 0, false, 0, fmt.Errorf("value-copy cells are not supported")
	}
	return 0, false, 0, fmt.Errorf("unknown cell descriptor %#x", t)
}
