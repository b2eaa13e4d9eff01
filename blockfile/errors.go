package blockfile

import "fmt"

// ChecksumError reports a block whose checksums do not line up: either the
// stored checksum disagrees with the one its address cookie promised, or the
// checksum recomputed over the block disagrees with the stored one.
type ChecksumError struct {
	Path     string
	Offset   int64
	Stored   uint32 // checksum field in the block header
	Computed uint32 // recomputed over the block; zero when never reached
	Cookie   uint32 // checksum the address cookie carried
}

func (e *ChecksumError) Error() string {
	if e.Stored != e.Cookie {
		return fmt.Sprintf("corrupt block at offset %d in %s: stored checksum %#x, address cookie says %#x",
			e.Offset, e.Path, e.Stored, e.Cookie)
	}
	return fmt.Sprintf("corrupt block at offset %d in %s: stored checksum %#x, block computes %#x",
		e.Offset, e.Path, e.Stored, e.Computed)
}

// TruncatedError reports a read extending past the end of the file.
type TruncatedError struct {
	Path     string
	Offset   int64
	Size     uint32
	FileSize int64
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("truncated file %s: block [%d, +%d) exceeds file size %d",
		e.Path, e.Offset, e.Size, e.FileSize)
}

// VersionError reports a file that is not a WiredTiger file or uses a major
// format version this reader does not understand.
type VersionError struct {
	Path  string
	Magic uint32
	Major uint16
	Minor uint16
}

func (e *VersionError) Error() string {
	if e.Magic != Magic {
		return fmt.Sprintf("%s is not a WiredTiger file (magic %#x)", e.Path, e.Magic)
	}
	return fmt.Sprintf("unsupported WiredTiger file format version %d.%d in %s",
		e.Major, e.Minor, e.Path)
}
