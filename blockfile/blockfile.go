// Package blockfile provides read-only, checksum-verified access to the
// blocks of a single WiredTiger .wt file. A block is identified by an Addr
// (offset, size, checksum) recovered from a packed address cookie; reads are
// positioned, never sequential, so any block can be fetched in any order.
package blockfile

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sync"
)

const (
	// Magic is the value of the first four bytes of every WiredTiger file.
	Magic = 120897

	// MajorVersion / MinorVersion are the block-manager format this
	// package understands.
	MajorVersion = 1
	MinorVersion = 0

	// DescSize is the size of the file description header at offset 0.
	// The description owns the whole first allocation unit; data blocks
	// start at the allocation size.
	DescSize = 16

	// DefaultAllocSize is the allocation unit when the metadata does not
	// say otherwise.
	DefaultAllocSize = 4096

	// Block layout: a 28-byte page header, then a 12-byte block header
	// whose checksum field sits at bytes 32..36 of the block.
	pageHeaderSize   = 28
	blockHeaderSize  = 12
	checksumFieldOff = pageHeaderSize + 4

	// blockDataChecksum in the block-header flags selects whole-block
	// checksumming; otherwise only the first checksumCoverage bytes are
	// covered.
	blockDataChecksum = 0x01
	checksumCoverage  = 64
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Desc is the parsed file description header.
type Desc struct {
	Magic    uint32
	Major    uint16
	Minor    uint16
	Checksum uint32
}

// Source is the read surface the tree walker needs. *Handle implements it;
// tests substitute counting or failing sources.
type Source interface {
	// ReadBlock returns the raw bytes of the block at addr after
	// verifying its checksum.
	ReadBlock(addr Addr) ([]byte, error)
	// Path identifies the file for diagnostics.
	Path() string
	Close() error
}

// Handle is a read-only view of one .wt file.
type Handle struct {
	path string
	desc Desc
	size int64

	mu   sync.RWMutex
	file *os.File
}

// Open opens a .wt file and validates its description header. An unknown
// magic number or unsupported major version fails immediately.
func Open(path string) (*Handle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	var raw [DescSize]byte
	if _, err := file.ReadAt(raw[:], 0); err != nil {
		file.Close()
		return nil, &TruncatedError{Path: path, Offset: 0, Size: DescSize, FileSize: stat.Size()}
	}
	desc := Desc{
		Magic:    binary.LittleEndian.Uint32(raw[0:4]),
		Major:    binary.LittleEndian.Uint16(raw[4:6]),
		Minor:    binary.LittleEndian.Uint16(raw[6:8]),
		Checksum: binary.LittleEndian.Uint32(raw[8:12]),
	}
	if desc.Magic != Magic {
		file.Close()
		return nil, &VersionError{Path: path, Magic: desc.Magic, Major: desc.Major, Minor: desc.Minor}
	}
	if desc.Major != MajorVersion {
		file.Close()
		return nil, &VersionError{Path: path, Magic: desc.Magic, Major: desc.Major, Minor: desc.Minor}
	}

	return &Handle{path: path, desc: desc, size: stat.Size(), file: file}, nil
}

// Desc returns the parsed file description header.
func (h *Handle) Desc() Desc { return h.desc }

// Path returns the file path the handle was opened with.
func (h *Handle) Path() string { return h.path }

// FileSize returns the size of the underlying file in bytes.
func (h *Handle) FileSize() int64 { return h.size }

// ReadBlock reads the block at addr and verifies both the stored checksum
// and the one recorded in the address cookie.
func (h *Handle) ReadBlock(addr Addr) ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.file == nil {
		return nil, fmt.Errorf("blockfile: %s is closed", h.path)
	}
	if addr.IsNull() {
		return nil, fmt.Errorf("blockfile: null address")
	}
	if addr.Size < pageHeaderSize+blockHeaderSize {
		return nil, fmt.Errorf("blockfile: block at offset %d in %s is %d bytes, smaller than the page and block headers",
			addr.Offset, h.path, addr.Size)
	}
	if addr.Offset+int64(addr.Size) > h.size {
		return nil, &TruncatedError{Path: h.path, Offset: addr.Offset, Size: addr.Size, FileSize: h.size}
	}

	buf := make([]byte, addr.Size)
	if _, err := h.file.ReadAt(buf, addr.Offset); err != nil {
		return nil, fmt.Errorf("read block at %d in %s: %w", addr.Offset, h.path, err)
	}

	stored := binary.LittleEndian.Uint32(buf[checksumFieldOff : checksumFieldOff+4])
	if stored != addr.Checksum {
		return nil, &ChecksumError{Path: h.path, Offset: addr.Offset, Stored: stored, Cookie: addr.Checksum}
	}
	if sum := BlockChecksum(buf); sum != stored {
		return nil, &ChecksumError{Path: h.path, Offset: addr.Offset, Stored: stored, Computed: sum, Cookie: addr.Checksum}
	}
	return buf, nil
}

// Close releases the file. Further reads fail.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return nil
	}
	err := h.file.Close()
	h.file = nil
	return err
}

// BlockChecksum computes the CRC32C of a raw block the way the block
// manager stores it: the checksum field itself reads as zero, and coverage
// is the whole block when the data-checksum flag is set, else the first 64
// bytes.
func BlockChecksum(block []byte) uint32 {
	if len(block) < pageHeaderSize+blockHeaderSize {
		return 0
	}
	end := len(block)
	if block[checksumFieldOff+4]&blockDataChecksum == 0 && end > checksumCoverage {
		end = checksumCoverage
	}
	crc := crc32.Update(0, castagnoli, block[:checksumFieldOff])
	crc = crc32.Update(crc, castagnoli, []byte{0, 0, 0, 0})
	return crc32.Update(crc, castagnoli, block[checksumFieldOff+4:end])
}
