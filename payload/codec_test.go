package payload

import (
	"bytes"
	"testing"

	"github.com/capsulerun/capsule/manifest"
)

func testCapsule() *manifest.Capsule {
	return &manifest.Capsule{
		Version:   "1.0.0",
		GlobalEnv: map[string]string{"LOG_LEVEL": "info"},
		Processes: map[string]manifest.ProcessSpec{
			"hello": {
				Cmd:            "/bin/echo",
				Args:           []string{"hi"},
				RestartPolicy:  manifest.RestartNever,
				RestartDelayMS: 0,
			},
		},
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	capsule := testCapsule()
	blobs := []Blob{
		{LogicalPath: "README.md", Bytes: []byte("# hello\n")},
		{LogicalPath: "hello/config.json", Bytes: []byte(`{"k":"v"}`)},
	}

	encoded, err := Encode(capsule, blobs)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	gotCapsule, gotBlobs, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if gotCapsule.Version != capsule.Version {
		t.Errorf("Version = %q, want %q", gotCapsule.Version, capsule.Version)
	}
	if len(gotCapsule.Processes) != len(capsule.Processes) {
		t.Errorf("Processes count = %d, want %d", len(gotCapsule.Processes), len(capsule.Processes))
	}

	if len(gotBlobs) != len(blobs) {
		t.Fatalf("blobs count = %d, want %d", len(gotBlobs), len(blobs))
	}
	for i, b := range blobs {
		if gotBlobs[i].LogicalPath != b.LogicalPath {
			t.Errorf("blob[%d].LogicalPath = %q, want %q", i, gotBlobs[i].LogicalPath, b.LogicalPath)
		}
		if !bytes.Equal(gotBlobs[i].Bytes, b.Bytes) {
			t.Errorf("blob[%d].Bytes = %q, want %q", i, gotBlobs[i].Bytes, b.Bytes)
		}
	}
}

func TestEncodeDecode_NoBlobs(t *testing.T) {
	capsule := testCapsule()

	encoded, err := Encode(capsule, nil)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	_, gotBlobs, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(gotBlobs) != 0 {
		t.Errorf("blobs count = %d, want 0", len(gotBlobs))
	}
}

func TestDecode_RejectsTruncatedBlobSection(t *testing.T) {
	capsule := testCapsule()
	encoded, err := Encode(capsule, []Blob{{LogicalPath: "a", Bytes: []byte("xyz")}})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if _, _, err := Decode(encoded[:len(encoded)-2]); err == nil {
		t.Fatal("expected Decode() to fail on truncated blob section, got nil error")
	}
}
