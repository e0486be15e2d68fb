package payload

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/capsulerun/capsule/manifest"
)

// Blob is one file destined for extraction: its logical (destination) path
// and the bytes it should contain. Build-time source paths never appear
// here — only the destination the extractor will write to, per spec.md §3.
type Blob struct {
	LogicalPath string
	Bytes       []byte
}

// blobIndexEntry is the on-disk index record pointing into the concatenated
// blob section that follows it.
type blobIndexEntry struct {
	LogicalPath string `json:"path"`
	Offset      uint64 `json:"offset"`
	Length      uint64 `json:"length"`
}

// Encode serializes a capsule's manifest and its ordered blobs into a single
// contiguous byte sequence: a length-prefixed JSON manifest, a
// length-prefixed JSON blob index, then the concatenated blob bytes. JSON is
// used for this internal wire form (as opposed to the user-facing YAML/TOML
// manifest surface syntaxes, §4.A) to match the rest of this codebase's
// lineage of using encoding/json for structured on-disk records.
func Encode(capsule *manifest.Capsule, blobs []Blob) ([]byte, error) {
	manifestJSON, err := json.Marshal(capsule)
	if err != nil {
		return nil, fmt.Errorf("payload: encoding manifest: %w", err)
	}

	index := make([]blobIndexEntry, 0, len(blobs))
	var blobSection bytes.Buffer
	var offset uint64
	for _, b := range blobs {
		index = append(index, blobIndexEntry{
			LogicalPath: b.LogicalPath,
			Offset:      offset,
			Length:      uint64(len(b.Bytes)),
		})
		blobSection.Write(b.Bytes)
		offset += uint64(len(b.Bytes))
	}
	indexJSON, err := json.Marshal(index)
	if err != nil {
		return nil, fmt.Errorf("payload: encoding blob index: %w", err)
	}

	var out bytes.Buffer
	if err := writeLenPrefixed(&out, manifestJSON); err != nil {
		return nil, err
	}
	if err := writeLenPrefixed(&out, indexJSON); err != nil {
		return nil, err
	}
	out.Write(blobSection.Bytes())
	return out.Bytes(), nil
}

// Decode is the inverse of Encode: it returns the capsule manifest and its
// blobs, in the order Encode received them.
func Decode(data []byte) (*manifest.Capsule, []Blob, error) {
	r := bytes.NewReader(data)

	manifestJSON, err := readLenPrefixed(r)
	if err != nil {
		return nil, nil, fmt.Errorf("payload: reading manifest section: %w", err)
	}
	var capsule manifest.Capsule
	if err := json.Unmarshal(manifestJSON, &capsule); err != nil {
		return nil, nil, fmt.Errorf("payload: decoding manifest: %w", err)
	}

	indexJSON, err := readLenPrefixed(r)
	if err != nil {
		return nil, nil, fmt.Errorf("payload: reading blob index: %w", err)
	}
	var index []blobIndexEntry
	if err := json.Unmarshal(indexJSON, &index); err != nil {
		return nil, nil, fmt.Errorf("payload: decoding blob index: %w", err)
	}

	blobSectionStart, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, nil, fmt.Errorf("payload: seeking blob section: %w", err)
	}
	blobSection := data[blobSectionStart:]

	blobs := make([]Blob, 0, len(index))
	for _, e := range index {
		if e.Offset+e.Length > uint64(len(blobSection)) {
			return nil, nil, fmt.Errorf("payload: blob index entry %q out of range", e.LogicalPath)
		}
		blobs = append(blobs, Blob{
			LogicalPath: e.LogicalPath,
			Bytes:       blobSection[e.Offset : e.Offset+e.Length],
		})
	}

	return &capsule, blobs, nil
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readLenPrefixed(r io.ReadSeeker) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
