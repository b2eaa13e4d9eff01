// Package wtfixture builds real WiredTiger files and data directories for
// decoder tests: the encode side of the formats the rest of the module
// decodes. It produces description blocks, checksummed pages, packed cells,
// checkpoint cookies, metadata tables and turtle files, optionally snappy
// compressed, so tests exercise the decoders against byte-exact input.
package wtfixture

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/klauspost/compress/snappy"

	"wtcarve/blockfile"
	"wtcarve/intpack"
)

// Page kind and flag bytes mirrored from the on-disk format.
const (
	kindOverflow    = 5
	kindRowInternal = 6
	kindRowLeaf     = 7

	flagCompressed = 0x01

	pageHeaderSize  = 28
	blockHeaderSize = 12
	imageOffset     = pageHeaderSize + blockHeaderSize
	compressSkip    = 64

	blockDataChecksum = 0x01
)

// Record is one key/value pair destined for a leaf page.
type Record struct {
	Key   []byte
	Value []byte

	// OverflowValue stores the value in its own overflow block instead
	// of inline. Deleted writes a tombstone cell in place of the value.
	OverflowValue bool
	Deleted       bool
}

// Child references one subtree from an internal page.
type Child struct {
	Key      []byte // separator; empty for the first child
	Addr     blockfile.Addr
	Internal bool // child is itself an internal page
}

// FileBuilder accumulates blocks for one .wt file. Blocks are laid out
// contiguously after the description block, so addresses are known as soon
// as a page is added.
type FileBuilder struct {
	allocSize int64
	comp      string
	next      int64
	blocks    []builtBlock
}

type builtBlock struct {
	off  int64
	data []byte
}

// NewFile starts a file with the given allocation size (0 for the default)
// and block compressor name ("" or "none" for uncompressed, "snappy" to
// compress page payloads).
func NewFile(allocSize int64, compressor string) *FileBuilder {
	if allocSize <= 0 {
		allocSize = blockfile.DefaultAllocSize
	}
	return &FileBuilder{allocSize: allocSize, comp: compressor, next: allocSize}
}

// AllocSize returns the file's allocation unit.
func (b *FileBuilder) AllocSize() int64 { return b.allocSize }

// FileSize returns the current end of the file.
func (b *FileBuilder) FileSize() int64 { return b.next }

// AddLeaf builds a row-store leaf page from records already in key order.
func (b *FileBuilder) AddLeaf(records []Record) blockfile.Addr {
	var payload []byte
	entries := uint32(0)
	for _, r := range records {
		payload = appendKeyCell(payload, r.Key)
		entries++
		switch {
		case r.Deleted:
			payload = append(payload, 0x40) // deleted-value cell
			entries++
		case r.OverflowValue:
			ovfl := b.AddOverflow(r.Value)
			cookie := blockfile.AppendAddr(nil, ovfl, b.allocSize)
			payload = appendCookieCell(payload, 0xa0, cookie) // value-ovfl
			entries++
		default:
			payload = appendValueCell(payload, r.Value)
			entries++
		}
	}
	return b.addPage(kindRowLeaf, entries, payload)
}

// AddInternal builds an internal page over the given children, in order.
func (b *FileBuilder) AddInternal(children []Child) blockfile.Addr {
	var payload []byte
	entries := uint32(0)
	for _, c := range children {
		payload = appendKeyCell(payload, c.Key)
		cookie := blockfile.AppendAddr(nil, c.Addr, b.allocSize)
		desc := byte(0x20) // addr-leaf
		if c.Internal {
			desc = 0x10 // addr-int
		}
		payload = appendCookieCell(payload, desc, cookie)
		entries += 2
	}
	return b.addPage(kindRowInternal, entries, payload)
}

// AddOverflow stores data in an overflow block and returns its address.
func (b *FileBuilder) AddOverflow(data []byte) blockfile.Addr {
	return b.addPage(kindOverflow, uint32(len(data)), data)
}

// Corrupt flips a payload byte of an already-built block without updating
// its checksum, for checksum-failure tests.
func (b *FileBuilder) Corrupt(addr blockfile.Addr) {
	for _, blk := range b.blocks {
		if blk.off == addr.Offset {
			blk.data[imageOffset] ^= 0xff
			return
		}
	}
	panic(fmt.Sprintf("wtfixture: no block at offset %d", addr.Offset))
}

// CheckpointHex returns the hex checkpoint cookie for root, ready to embed
// in a metadata addr="..." value.
func (b *FileBuilder) CheckpointHex(root blockfile.Addr) string {
	cookie := blockfile.AppendCheckpoint(nil, root, b.allocSize, b.next)
	return hex.EncodeToString(cookie)
}

// WriteTo writes the description block and all data blocks to path.
func (b *FileBuilder) WriteTo(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	desc := make([]byte, blockfile.DescSize)
	binary.LittleEndian.PutUint32(desc[0:4], blockfile.Magic)
	binary.LittleEndian.PutUint16(desc[4:6], blockfile.MajorVersion)
	binary.LittleEndian.PutUint16(desc[6:8], blockfile.MinorVersion)
	if _, err := f.WriteAt(desc, 0); err != nil {
		return err
	}
	for _, blk := range b.blocks {
		if _, err := f.WriteAt(blk.data, blk.off); err != nil {
			return err
		}
	}
	return f.Sync()
}

// addPage assembles the page image, optionally compresses it, checksums the
// block and appends it to the file layout.
func (b *FileBuilder) addPage(kind byte, entries uint32, payload []byte) blockfile.Addr {
	img := make([]byte, imageOffset+len(payload))
	binary.LittleEndian.PutUint64(img[8:16], 1) // write generation
	binary.LittleEndian.PutUint32(img[16:20], uint32(len(img)))
	binary.LittleEndian.PutUint32(img[20:24], entries)
	img[24] = kind
	img[27] = 1 // page version
	copy(img[imageOffset:], payload)

	disk := img
	if b.comp == "snappy" && len(img) > compressSkip {
		packed := snappy.Encode(nil, img[compressSkip:])
		if compressSkip+8+len(packed) < len(img) {
			img[25] |= flagCompressed
			disk = make([]byte, 0, compressSkip+8+len(packed))
			disk = append(disk, img[:compressSkip]...)
			disk = binary.LittleEndian.AppendUint64(disk, uint64(len(packed)))
			disk = append(disk, packed...)
		}
	}

	size := align(int64(len(disk)), b.allocSize)
	block := make([]byte, size)
	copy(block, disk)
	binary.LittleEndian.PutUint32(block[28:32], uint32(size))
	block[36] = blockDataChecksum
	sum := blockfile.BlockChecksum(block)
	binary.LittleEndian.PutUint32(block[32:36], sum)

	addr := blockfile.Addr{Offset: b.next, Size: uint32(size), Checksum: sum}
	b.blocks = append(b.blocks, builtBlock{off: b.next, data: block})
	b.next += size
	return addr
}

func align(n, unit int64) int64 {
	if rem := n % unit; rem != 0 {
		n += unit - rem
	}
	return n
}

// appendKeyCell emits a key cell: the compact short form when it fits, the
// long form with an adjusted varint length otherwise.
func appendKeyCell(buf, key []byte) []byte {
	if len(key) <= 0x3f {
		buf = append(buf, 0x01|byte(len(key))<<2)
		return append(buf, key...)
	}
	buf = append(buf, 0x50)
	buf = intpack.AppendUint(buf, uint64(len(key)-64))
	return append(buf, key...)
}

func appendValueCell(buf, val []byte) []byte {
	if len(val) <= 0x3f {
		buf = append(buf, 0x03|byte(len(val))<<2)
		return append(buf, val...)
	}
	buf = append(buf, 0x80)
	buf = intpack.AppendUint(buf, uint64(len(val)-64))
	return append(buf, val...)
}

// appendCookieCell emits an address-carrying cell (child or overflow
// reference) with an unadjusted length.
func appendCookieCell(buf []byte, desc byte, cookie []byte) []byte {
	buf = append(buf, desc)
	buf = intpack.AppendUint(buf, uint64(len(cookie)))
	return append(buf, cookie...)
}

// AppendPrefixedKeyCell emits a short key cell reusing the first prefix
// bytes of the previous key; suffix is the remainder. Exposed for cell
// decoder tests.
func AppendPrefixedKeyCell(buf []byte, prefix byte, suffix []byte) []byte {
	if len(suffix) > 0x3f {
		panic("wtfixture: prefixed suffix too long for the short form")
	}
	buf = append(buf, 0x02|byte(len(suffix))<<2, prefix)
	return append(buf, suffix...)
}
