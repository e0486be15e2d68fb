package bootstrap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/capsulerun/capsule/manifest"
	"github.com/capsulerun/capsule/payload"
)

// CapsuleDirName is the per-capsule metadata directory, relative to the
// capsule root, holding the resolved manifest handoff and the transport
// port file.
const CapsuleDirName = ".capsule"

// ManifestHandoffName is the file bootstrap writes the decoded Capsule to
// as JSON, for the detached __supervise child to read without needing the
// passphrase or the trailer again.
const ManifestHandoffName = "manifest.json"

// ErrEscapesRoot means a files/global_files destination, once cleaned,
// would land outside the capsule root — rejected even though
// manifest.Validate already checked this at compile time, since extraction
// is the last line of defense against a corrupted or hand-edited payload.
type ErrEscapesRoot struct {
	Dest string
}

func (e *ErrEscapesRoot) Error() string {
	return fmt.Sprintf("bootstrap: destination %q escapes capsule root", e.Dest)
}

// PassphraseFunc supplies a decryption passphrase on demand; it is only
// invoked when the located payload reports itself encrypted.
type PassphraseFunc func() (string, error)

// Result is what Extract produced: the decoded capsule and the root it was
// extracted into.
type Result struct {
	Capsule     *manifest.Capsule
	CapsuleRoot string
}

// Extract implements spec.md §4.D steps 1-5: locate this executable's
// embedded payload, decrypt it if needed, decode it, and write every
// referenced file under capsuleRoot. It is idempotent: a destination file
// whose size already matches the blob is left untouched.
func Extract(selfPath, capsuleRoot string, passphrase PassphraseFunc, fo FileOps, msg UserMessenger) (*Result, error) {
	raw, encrypted, err := payload.LocateAndRead(selfPath)
	if err != nil {
		return nil, err
	}

	if encrypted {
		pw, err := passphrase()
		if err != nil {
			return nil, err
		}
		raw, err = payload.Decrypt(raw, pw)
		if err != nil {
			return nil, err
		}
	}

	capsule, blobs, err := payload.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: decoding payload: %w", err)
	}

	if err := fo.MkdirAll(capsuleRoot, 0o755); err != nil {
		return nil, fmt.Errorf("bootstrap: creating capsule root %q: %w", capsuleRoot, err)
	}

	for _, b := range blobs {
		destPath, err := resolveDest(capsuleRoot, b.LogicalPath)
		if err != nil {
			return nil, err
		}
		if skip, err := upToDate(fo, destPath, len(b.Bytes)); err != nil {
			return nil, err
		} else if skip {
			msg.Message(fmt.Sprintf("skipping up-to-date %s", b.LogicalPath))
			continue
		}
		if err := fo.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return nil, fmt.Errorf("bootstrap: creating parent dir for %q: %w", destPath, err)
		}
		if err := fo.WriteFileAtomic(destPath, b.Bytes, 0o644); err != nil {
			return nil, fmt.Errorf("bootstrap: extracting %q: %w", b.LogicalPath, err)
		}
		msg.Message(fmt.Sprintf("extracted %s", b.LogicalPath))
	}

	if err := writeManifestHandoff(fo, capsuleRoot, capsule); err != nil {
		return nil, err
	}

	return &Result{Capsule: capsule, CapsuleRoot: capsuleRoot}, nil
}

// resolveDest joins logicalPath onto root and rejects any result that
// lands outside of root once both are cleaned.
func resolveDest(root, logicalPath string) (string, error) {
	joined := filepath.Join(root, filepath.FromSlash(logicalPath))
	rel, err := filepath.Rel(root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &ErrEscapesRoot{Dest: logicalPath}
	}
	return joined, nil
}

// upToDate reports whether destPath already exists with the expected size,
// per spec.md §4.D's re-extraction idempotence rule.
func upToDate(fo FileOps, destPath string, size int) (bool, error) {
	info, err := fo.Stat(destPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("bootstrap: stat %q: %w", destPath, err)
	}
	return info.Size() == int64(size), nil
}

func writeManifestHandoff(fo FileOps, capsuleRoot string, capsule *manifest.Capsule) error {
	dir := filepath.Join(capsuleRoot, CapsuleDirName)
	if err := fo.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("bootstrap: creating %q: %w", dir, err)
	}
	data, err := json.MarshalIndent(capsule, "", "  ")
	if err != nil {
		return fmt.Errorf("bootstrap: encoding manifest handoff: %w", err)
	}
	path := filepath.Join(dir, ManifestHandoffName)
	if err := fo.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("bootstrap: writing manifest handoff: %w", err)
	}
	return nil
}

// ReadManifestHandoff reads back the JSON a prior Extract call wrote, for
// the __supervise child (which has neither the passphrase nor access to
// re-run Extract itself).
func ReadManifestHandoff(capsuleRoot string) (*manifest.Capsule, error) {
	path := filepath.Join(capsuleRoot, CapsuleDirName, ManifestHandoffName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: reading manifest handoff %q: %w", path, err)
	}
	var capsule manifest.Capsule
	if err := json.Unmarshal(data, &capsule); err != nil {
		return nil, fmt.Errorf("bootstrap: decoding manifest handoff: %w", err)
	}
	return &capsule, nil
}
