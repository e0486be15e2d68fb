// Package payload implements the bijective encoding of a capsule manifest
// plus its referenced file bytes into a single contiguous blob, optional
// AES-GCM encryption of that blob, and the tail trailer that lets a compiled
// capsule binary locate and decode its own embedded payload.
package payload

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// magic is the fixed byte string the trailer scanner looks for at the tail
// of a capsule executable. It is written once, by WrapWithTrailer, and
// LocateAndRead looks for it only in the final trailerSize bytes.
var magic = []byte("CPSLTRLR")

const (
	formatVersion1 = 1
	flagEncrypted  = 1 << 0

	// trailerSize is magic(8) + format_version(1) + flags(1) + length(8) + crc32(4).
	trailerSize = 8 + 1 + 1 + 8 + 4
)

// ErrNoCapsule is returned by LocateAndRead when the executable has no valid
// trailer: an "unprogrammed runtime", per spec.md §7.
var ErrNoCapsule = fmt.Errorf("payload: no capsule trailer found")

// Trailer is the fixed-width footer appended after the payload bytes.
type Trailer struct {
	FormatVersion uint8
	Encrypted     bool
	Length        uint64
	CRC32         uint32
}

// WrapWithTrailer computes and serializes the trailer for the given payload
// bytes, per spec.md §4.B. It does not append the payload itself — callers
// concatenate runtime-image || payload || trailer.
func WrapWithTrailer(payload []byte, encrypted bool) []byte {
	var flags uint8
	if encrypted {
		flags = flagEncrypted
	}

	buf := make([]byte, 0, trailerSize)
	buf = append(buf, magic...)
	buf = append(buf, formatVersion1, flags)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(payload)))
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(payload))
	return buf
}

// LocateAndRead opens the executable at selfPath, verifies and parses its
// trailer, and returns the payload bytes together with whether it is
// encrypted. It returns ErrNoCapsule if no valid trailer is present.
func LocateAndRead(selfPath string) ([]byte, bool, error) {
	f, err := os.Open(selfPath)
	if err != nil {
		return nil, false, fmt.Errorf("payload: opening %q: %w", selfPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, false, fmt.Errorf("payload: stat %q: %w", selfPath, err)
	}
	if info.Size() < trailerSize {
		return nil, false, ErrNoCapsule
	}

	tail := make([]byte, trailerSize)
	if _, err := f.ReadAt(tail, info.Size()-trailerSize); err != nil {
		return nil, false, fmt.Errorf("payload: reading trailer: %w", err)
	}
	if !bytes.Equal(tail[:len(magic)], magic) {
		return nil, false, ErrNoCapsule
	}

	off := len(magic)
	formatVersion := tail[off]
	off++
	flags := tail[off]
	off++
	length := binary.LittleEndian.Uint64(tail[off : off+8])
	off += 8
	wantCRC := binary.LittleEndian.Uint32(tail[off : off+4])

	if formatVersion != formatVersion1 {
		return nil, false, fmt.Errorf("payload: unsupported trailer format_version %d", formatVersion)
	}

	payloadStart := info.Size() - trailerSize - int64(length)
	if payloadStart < 0 {
		return nil, false, ErrNoCapsule
	}

	payload := make([]byte, length)
	if _, err := f.ReadAt(payload, payloadStart); err != nil {
		return nil, false, fmt.Errorf("payload: reading payload bytes: %w", err)
	}

	if gotCRC := crc32.ChecksumIEEE(payload); gotCRC != wantCRC {
		return nil, false, fmt.Errorf("payload: crc32 mismatch (image truncated or corrupt)")
	}

	return payload, flags&flagEncrypted != 0, nil
}

// CopyAll streams r into w. Used by the compiler to concatenate a runtime
// image, payload, and trailer without holding the whole runtime image in
// memory twice.
func CopyAll(w io.Writer, r io.Reader) error {
	_, err := io.Copy(w, r)
	return err
}
