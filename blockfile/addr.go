package blockfile

import (
	"fmt"

	"wtcarve/intpack"
)

// Addr locates one block: a byte offset, an on-disk size and the checksum
// recorded when the block was written. Addresses travel through the file as
// packed cookies; on disk the offset is stored divided by the allocation
// size and biased by one, since offset 0 always holds the file description
// and can never be a data block.
type Addr struct {
	Offset   int64
	Size     uint32
	Checksum uint32
}

// IsNull reports the reserved "no address" cookie (size 0).
func (a Addr) IsNull() bool { return a.Size == 0 }

func (a Addr) String() string {
	if a.IsNull() {
		return "[null]"
	}
	return fmt.Sprintf("[off %d, size %d, cksum %#x]", a.Offset, a.Size, a.Checksum)
}

// UnpackAddr decodes a packed address cookie, returning the address and the
// number of cookie bytes consumed.
func UnpackAddr(cookie []byte, allocSize int64) (Addr, int, error) {
	if allocSize <= 0 {
		allocSize = DefaultAllocSize
	}
	o, n1, err := intpack.Uint(cookie)
	if err != nil {
		return Addr{}, 0, fmt.Errorf("address cookie offset: %w", err)
	}
	s, n2, err := intpack.Uint(cookie[n1:])
	if err != nil {
		return Addr{}, 0, fmt.Errorf("address cookie size: %w", err)
	}
	c, n3, err := intpack.Uint(cookie[n1+n2:])
	if err != nil {
		return Addr{}, 0, fmt.Errorf("address cookie checksum: %w", err)
	}
	n := n1 + n2 + n3
	if s == 0 {
		return Addr{}, n, nil
	}
	return Addr{
		Offset:   (int64(o) + 1) * allocSize,
		Size:     uint32(s) * uint32(allocSize),
		Checksum: uint32(c),
	}, n, nil
}

// AppendAddr appends the packed cookie for a to buf. It is the encode side
// of UnpackAddr, used when building test files.
func AppendAddr(buf []byte, a Addr, allocSize int64) []byte {
	if allocSize <= 0 {
		allocSize = DefaultAllocSize
	}
	if a.IsNull() {
		buf = intpack.AppendUint(buf, 0)
		buf = intpack.AppendUint(buf, 0)
		return intpack.AppendUint(buf, 0)
	}
	buf = intpack.AppendUint(buf, uint64(a.Offset/allocSize-1))
	buf = intpack.AppendUint(buf, uint64(a.Size)/uint64(allocSize))
	return intpack.AppendUint(buf, uint64(a.Checksum))
}

// checkpointVersion is the only checkpoint cookie layout understood here.
const checkpointVersion = 1

// UnpackCheckpoint extracts the root address from a checkpoint cookie. The
// cookie also carries the allocation extent lists and file sizes; only the
// root matters for reading, the rest is skipped.
func UnpackCheckpoint(cookie []byte, allocSize int64) (Addr, error) {
	if len(cookie) == 0 {
		return Addr{}, fmt.Errorf("empty checkpoint cookie")
	}
	if cookie[0] != checkpointVersion {
		return Addr{}, fmt.Errorf("unsupported checkpoint cookie version %d", cookie[0])
	}
	root, _, err := UnpackAddr(cookie[1:], allocSize)
	if err != nil {
		return Addr{}, fmt.Errorf("checkpoint root address: %w", err)
	}
	return root, nil
}

// AppendCheckpoint builds a checkpoint cookie holding root plus empty
// extent lists and the given file size, the encode side of
// UnpackCheckpoint.
func AppendCheckpoint(buf []byte, root Addr, allocSize, fileSize int64) []byte {
	buf = append(buf, checkpointVersion)
	buf = AppendAddr(buf, root, allocSize)
	for i := 0; i < 3; i++ { // alloc, avail, discard extent lists: null
		buf = AppendAddr(buf, Addr{}, allocSize)
	}
	buf = intpack.AppendUint(buf, uint64(fileSize))
	return intpack.AppendUint(buf, 0) // checkpoint size
}
