// Package wtpage decodes raw blocks into typed WiredTiger pages: the fixed
// 28-byte page header, the block header behind it, and the (possibly
// compressed) cell payload. Page kinds form a closed set; a tag outside it
// is an error, never a guess.
package wtpage

import (
	"encoding/binary"
	"fmt"
)

// Kind is the page type tag stored in the page header.
type Kind uint8

const (
	KindInvalid      Kind = 0
	KindBlockManager Kind = 1
	KindColFix       Kind = 2
	KindColInt       Kind = 3
	KindColVar       Kind = 4
	KindOverflow     Kind = 5
	KindRowInternal  Kind = 6
	KindRowLeaf      Kind = 7

	kindMax = KindRowLeaf
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindBlockManager:
		return "block-manager"
	case KindColFix:
		return "col-fix"
	case KindColInt:
		return "col-internal"
	case KindColVar:
		return "col-var"
	case KindOverflow:
		return "overflow"
	case KindRowInternal:
		return "row-internal"
	case KindRowLeaf:
		return "row-leaf"
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Page header flags.
const (
	FlagCompressed = 0x01
	FlagEmptyAll   = 0x02 // row leaf: all keys, no values
	FlagEmptyNone  = 0x04 // row leaf: every key has a value
	FlagEncrypted  = 0x08
)

const (
	// HeaderSize is the page header; payload cells start after it and the
	// block header.
	HeaderSize      = 28
	blockHeaderSize = 12
	payloadOffset   = HeaderSize + blockHeaderSize

	// compressSkip bytes at the start of a compressed block are stored
	// raw; only the remainder runs through the compressor.
	compressSkip = 64
)

// Header is the decoded page header plus the trailing block header fields.
type Header struct {
	RecNo    uint64 // column stores only; zero for row stores
	WriteGen uint64
	MemSize  uint32 // uncompressed size of the whole image
	Entries  uint32 // cell count; data length for overflow pages
	Kind     Kind
	Flags    uint8
	Version  uint8

	DiskSize uint32 // from the block header
}

// Page is one decoded block: header plus the full uncompressed image. The
// image is private to the page; pages never point at each other, children
// are reached by address.
type Page struct {
	Header
	data []byte
}

// Payload returns the cell area of the page (the data bytes of an overflow
// page).
func (p *Page) Payload() []byte {
	if p.Kind == KindOverflow {
		end := payloadOffset + int(p.Entries)
		if end > len(p.data) {
			end = len(p.data)
		}
		return p.data[payloadOffset:end]
	}
	end := int(p.MemSize)
	if end > len(p.data) || end < payloadOffset {
		end = len(p.data)
	}
	return p.data[payloadOffset:end]
}

// UnsupportedTypeError reports a page type tag outside the known set.
type UnsupportedTypeError struct {
	Kind Kind
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported page type %d", uint8(e.Kind))
}

// DecompressMismatchError reports a compressed page whose inflated size
// disagrees with the header's declared memory size.
type DecompressMismatchError struct {
	Want uint32
	Got  int
}

func (e *DecompressMismatchError) Error() string {
	return fmt.Sprintf("decompression mismatch: header declares %d bytes, got %d", e.Want, e.Got)
}

// ErrEncrypted is returned for encrypted-at-rest pages, which this reader
// treats as undecodable.
var ErrEncrypted = fmt.Errorf("page is encrypted")

// Decode parses a raw block into a Page, decompressing the payload with
// comp when the compression flag is set. The compressor is a property of
// the file (catalog metadata), not the page, so the caller supplies it.
func Decode(raw []byte, comp Compression) (*Page, error) {
	if len(raw) < payloadOffset {
		return nil, fmt.Errorf("block too small for page header: %d bytes", len(raw))
	}
	h := Header{
		RecNo:    binary.LittleEndian.Uint64(raw[0:8]),
		WriteGen: binary.LittleEndian.Uint64(raw[8:16]),
		MemSize:  binary.LittleEndian.Uint32(raw[16:20]),
		Entries:  binary.LittleEndian.Uint32(raw[20:24]),
		Kind:     Kind(raw[24]),
		Flags:    raw[25],
		Version:  raw[27],
		DiskSize: binary.LittleEndian.Uint32(raw[28:32]),
	}
	if h.Kind > kindMax {
		return nil, &UnsupportedTypeError{Kind: h.Kind}
	}
	if h.Flags&FlagEncrypted != 0 {
		return nil, ErrEncrypted
	}

	data := raw
	if h.Flags&FlagCompressed != 0 {
		if len(raw) < compressSkip {
			return nil, fmt.Errorf("compressed block shorter than raw prefix: %d bytes", len(raw))
		}
		inflated, err := decompress(comp, raw[compressSkip:], int(h.MemSize)-compressSkip)
		if err != nil {
			return nil, err
		}
		data = make([]byte, 0, compressSkip+len(inflated))
		data = append(data, raw[:compressSkip]...)
		data = append(data, inflated...)
		if len(data) != int(h.MemSize) {
			return nil, &DecompressMismatchError{Want: h.MemSize, Got: len(data)}
		}
	} else if int(h.MemSize) > len(raw) && h.Kind != KindOverflow {
		return nil, fmt.Errorf("page memory size %d exceeds block size %d", h.MemSize, len(raw))
	}

	return &Page{Header: h, data: data}, nil
}
