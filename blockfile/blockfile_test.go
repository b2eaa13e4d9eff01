package blockfile_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"wtcarve/blockfile"
	"wtcarve/wtfixture"
)

func TestAddrPackRoundTrip(t *testing.T) {
	addrs := []blockfile.Addr{
		{Offset: 4096, Size: 4096, Checksum: 0xdeadbeef},
		{Offset: 8192, Size: 12288, Checksum: 1},
		{Offset: 1 << 30, Size: 65536, Checksum: 0xffffffff},
	}
	for _, want := range addrs {
		cookie := blockfile.AppendAddr(nil, want, 4096)
		got, n, err := blockfile.UnpackAddr(cookie, 4096)
		if err != nil {
			t.Fatalf("Failed to unpack %s: %v", want, err)
		}
		if got != want {
			t.Errorf("Round trip mismatch: packed %s, unpacked %s", want, got)
		}
		if n != len(cookie) {
			t.Errorf("Unpacking %s consumed %d of %d bytes", want, n, len(cookie))
		}
	}
}

func TestNullAddr(t *testing.T) {
	cookie := blockfile.AppendAddr(nil, blockfile.Addr{}, 4096)
	got, _, err := blockfile.UnpackAddr(cookie, 4096)
	if err != nil {
		t.Fatalf("Failed to unpack null cookie: %v", err)
	}
	if !got.IsNull() {
		t.Errorf("Null cookie decoded to %s", got)
	}
}

func TestCheckpointCookieRoundTrip(t *testing.T) {
	root := blockfile.Addr{Offset: 20480, Size: 8192, Checksum: 0xcafe}
	cookie := blockfile.AppendCheckpoint(nil, root, 4096, 1<<20)
	got, err := blockfile.UnpackCheckpoint(cookie, 4096)
	if err != nil {
		t.Fatalf("Failed to unpack checkpoint: %v", err)
	}
	if got != root {
		t.Errorf("Checkpoint root mismatch: packed %s, unpacked %s", root, got)
	}

	if _, err := blockfile.UnpackCheckpoint(nil, 4096); err == nil {
		t.Error("Accepted an empty checkpoint cookie")
	}
	bad := append([]byte{99}, cookie[1:]...)
	if _, err := blockfile.UnpackCheckpoint(bad, 4096); err == nil {
		t.Error("Accepted an unknown checkpoint cookie version")
	}
}

func TestOpenValidatesHeader(t *testing.T) {
	dir := t.TempDir()

	// Garbage magic.
	garbage := filepath.Join(dir, "garbage.wt")
	if err := os.WriteFile(garbage, bytes.Repeat([]byte{0xab}, 64), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	var verr *blockfile.VersionError
	if _, err := blockfile.Open(garbage); !errors.As(err, &verr) {
		t.Errorf("Garbage magic: want VersionError, got %v", err)
	}

	// Right magic, unsupported major version.
	hdr := make([]byte, blockfile.DescSize)
	binary.LittleEndian.PutUint32(hdr[0:4], blockfile.Magic)
	binary.LittleEndian.PutUint16(hdr[4:6], blockfile.MajorVersion+1)
	future := filepath.Join(dir, "future.wt")
	if err := os.WriteFile(future, hdr, 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := blockfile.Open(future); !errors.As(err, &verr) {
		t.Errorf("Future major version: want VersionError, got %v", err)
	}

	// Too short for a description header at all.
	stub := filepath.Join(dir, "stub.wt")
	if err := os.WriteFile(stub, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	var terr *blockfile.TruncatedError
	if _, err := blockfile.Open(stub); !errors.As(err, &terr) {
		t.Errorf("Short file: want TruncatedError, got %v", err)
	}
}

// buildFile writes a single-overflow-block fixture and returns the file
// path and the block's address.
func buildFile(t *testing.T, data []byte) (string, blockfile.Addr) {
	t.Helper()
	fb := wtfixture.NewFile(0, "")
	addr := fb.AddOverflow(data)
	path := filepath.Join(t.TempDir(), "test.wt")
	if err := fb.WriteTo(path); err != nil {
		t.Fatalf("Failed to write fixture file: %v", err)
	}
	return path, addr
}

func TestReadBlockRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("payload"), 40)
	path, addr := buildFile(t, data)

	h, err := blockfile.Open(path)
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	defer h.Close()

	if h.Desc().Magic != blockfile.Magic {
		t.Errorf("Desc magic: got %#x", h.Desc().Magic)
	}

	block, err := h.ReadBlock(addr)
	if err != nil {
		t.Fatalf("Failed to read block: %v", err)
	}
	if uint32(len(block)) != addr.Size {
		t.Errorf("Block size: want %d, got %d", addr.Size, len(block))
	}
	if sum := blockfile.BlockChecksum(block); sum != addr.Checksum {
		t.Errorf("Checksum: cookie says %#x, block computes %#x", addr.Checksum, sum)
	}
}

func TestReadBlockChecksumMismatch(t *testing.T) {
	fb := wtfixture.NewFile(0, "")
	addr := fb.AddOverflow([]byte("soon to be damaged"))
	fb.Corrupt(addr)
	path := filepath.Join(t.TempDir(), "bad.wt")
	if err := fb.WriteTo(path); err != nil {
		t.Fatalf("Failed to write fixture file: %v", err)
	}

	h, err := blockfile.Open(path)
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	defer h.Close()

	var cerr *blockfile.ChecksumError
	if _, err := h.ReadBlock(addr); !errors.As(err, &cerr) {
		t.Fatalf("Corrupt block: want ChecksumError, got %v", err)
	}
	// Damaged content: the stored checksum still matches the cookie, the
	// recomputed one does not.
	if cerr.Stored != addr.Checksum || cerr.Computed == cerr.Stored {
		t.Errorf("Mismatch detail: stored %#x computed %#x cookie %#x",
			cerr.Stored, cerr.Computed, cerr.Cookie)
	}
}

// TestReadBlockRuntAddress: an address whose size cannot even hold the page
// and block headers comes from corrupt metadata and must fail cleanly, not
// crash the read.
func TestReadBlockRuntAddress(t *testing.T) {
	path, addr := buildFile(t, []byte("x"))
	h, err := blockfile.Open(path)
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	defer h.Close()

	runt := blockfile.Addr{Offset: addr.Offset, Size: 16, Checksum: 1}
	if _, err := h.ReadBlock(runt); err == nil {
		t.Fatal("ReadBlock accepted a block smaller than the headers")
	}
}

// TestReadBlockCookieMismatch: an intact block reached through an address
// cookie carrying the wrong checksum reports the cookie disagreement.
func TestReadBlockCookieMismatch(t *testing.T) {
	path, addr := buildFile(t, []byte("intact"))
	h, err := blockfile.Open(path)
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	defer h.Close()

	lying := addr
	lying.Checksum ^= 0xffffffff
	var cerr *blockfile.ChecksumError
	if _, err := h.ReadBlock(lying); !errors.As(err, &cerr) {
		t.Fatalf("Want ChecksumError, got %v", err)
	}
	if cerr.Stored != addr.Checksum || cerr.Cookie != lying.Checksum {
		t.Errorf("Mismatch detail: stored %#x cookie %#x, want %#x and %#x",
			cerr.Stored, cerr.Cookie, addr.Checksum, lying.Checksum)
	}
}

func TestReadBlockBeyondEOF(t *testing.T) {
	path, addr := buildFile(t, []byte("x"))
	h, err := blockfile.Open(path)
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	defer h.Close()

	past := blockfile.Addr{Offset: addr.Offset + 1<<20, Size: 4096, Checksum: 1}
	var terr *blockfile.TruncatedError
	if _, err := h.ReadBlock(past); !errors.As(err, &terr) {
		t.Errorf("Read past EOF: want TruncatedError, got %v", err)
	}
}

func TestReadAfterClose(t *testing.T) {
	path, addr := buildFile(t, []byte("x"))
	h, err := blockfile.Open(path)
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if _, err := h.ReadBlock(addr); err == nil {
		t.Error("ReadBlock succeeded on a closed handle")
	}
	// Closing twice is fine.
	if err := h.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}
