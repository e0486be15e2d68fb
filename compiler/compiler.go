// Package compiler builds a self-contained capsule executable from a
// manifest: it resolves the files the manifest references, encodes and
// optionally encrypts them alongside the manifest into a payload, and
// appends that payload plus its trailer onto a precompiled runtime image
// for the requested target triple.
package compiler

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goombaio/namegenerator"

	"github.com/capsulerun/capsule/manifest"
	"github.com/capsulerun/capsule/payload"
)

// supportedTriples enumerates the target triples the build system is
// expected to have produced a runtime image for, per spec.md §4.C.
var supportedTriples = map[string]string{
	"darwin-amd64":  "",
	"darwin-arm64":  "",
	"linux-amd64":   "",
	"linux-arm64":   "",
	"windows-amd64": ".exe",
}

// HostTriple returns the triple string for the machine running the
// compiler, for callers that don't want to cross-compile.
func HostTriple() string {
	return fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)
}

// UnsupportedTargetError reports a target triple the compiler does not
// recognize at all.
type UnsupportedTargetError struct {
	Triple string
}

func (e *UnsupportedTargetError) Error() string {
	return fmt.Sprintf("compiler: unsupported target triple %q", e.Triple)
}

// MissingRuntimeImageError reports a recognized triple whose precompiled
// runtime image file could not be found.
type MissingRuntimeImageError struct {
	Triple string
	Path   string
}

func (e *MissingRuntimeImageError) Error() string {
	return fmt.Sprintf("compiler: missing runtime image for %q at %q", e.Triple, e.Path)
}

// MissingAssetError reports a files entry whose build-host source does not
// exist.
type MissingAssetError struct {
	Process string // "" for a global_files entry
	Source  string
}

func (e *MissingAssetError) Error() string {
	if e.Process == "" {
		return fmt.Sprintf("compiler: missing asset %q (global_files)", e.Source)
	}
	return fmt.Sprintf("compiler: missing asset %q (process %q)", e.Source, e.Process)
}

// Options configures one compile invocation.
type Options struct {
	ManifestPath    string
	FormatHint      manifest.Format // optional; inferred from extension otherwise
	Triple          string          // defaults to HostTriple()
	RuntimeImageDir string          // defaults to "runtimes" next to the manifest
	OutputPath      string          // defaults to "<manifest-stem>-<triple>[.exe]"
	Passphrase      string          // optional; non-empty enables encryption
}

// Result reports what Compile produced.
type Result struct {
	OutputPath string
	BuildID    string
	Encrypted  bool
}

// Compile implements spec.md §4.C end to end.
func Compile(opts Options) (*Result, error) {
	manifestDir := filepath.Dir(opts.ManifestPath)

	capsule, err := manifest.ParseFile(os.ReadFile, opts.ManifestPath, opts.FormatHint)
	if err != nil {
		return nil, err
	}

	triple := opts.Triple
	if triple == "" {
		triple = HostTriple()
	}
	ext, ok := supportedTriples[triple]
	if !ok {
		return nil, &UnsupportedTargetError{Triple: triple}
	}

	runtimeImageDir := opts.RuntimeImageDir
	if runtimeImageDir == "" {
		runtimeImageDir = filepath.Join(manifestDir, "runtimes")
	}
	runtimeImagePath := filepath.Join(runtimeImageDir, "capsule-runtime-"+triple+ext)
	runtimeImage, err := os.ReadFile(runtimeImagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &MissingRuntimeImageError{Triple: triple, Path: runtimeImagePath}
		}
		return nil, fmt.Errorf("compiler: reading runtime image %q: %w", runtimeImagePath, err)
	}

	blobs, err := resolveBlobs(capsule, manifestDir)
	if err != nil {
		return nil, err
	}

	encodedPayload, err := payload.Encode(capsule, blobs)
	if err != nil {
		return nil, fmt.Errorf("compiler: encoding payload: %w", err)
	}

	encrypted := opts.Passphrase != ""
	if encrypted {
		encodedPayload, err = payload.Encrypt(encodedPayload, opts.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("compiler: encrypting payload: %w", err)
		}
	}

	trailer := payload.WrapWithTrailer(encodedPayload, encrypted)

	outputPath := opts.OutputPath
	if outputPath == "" {
		stem := strings.TrimSuffix(filepath.Base(opts.ManifestPath), filepath.Ext(opts.ManifestPath))
		outputPath = filepath.Join(manifestDir, fmt.Sprintf("%s-%s%s", stem, triple, ext))
	}

	if err := writeCapsuleImage(outputPath, runtimeImage, encodedPayload, trailer); err != nil {
		return nil, err
	}

	buildID := BuildIdentifier(capsule.Version)
	slog.Info("compiler.Compile", "output", outputPath, "triple", triple, "encrypted", encrypted, "build_id", buildID, "processes", len(capsule.Processes))

	return &Result{OutputPath: outputPath, BuildID: buildID, Encrypted: encrypted}, nil
}

// resolveBlobs validates every files/global_files source exists and turns
// them into ordered payload.Blob entries, global files first.
func resolveBlobs(capsule *manifest.Capsule, manifestDir string) ([]payload.Blob, error) {
	var blobs []payload.Blob

	for src, dest := range capsule.GlobalFiles {
		b, err := readAsset(manifestDir, src, dest, "")
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, b)
	}

	for procName, proc := range capsule.Processes {
		cwd := proc.CwdOrDefault(procName)
		for src, dest := range proc.Files {
			b, err := readAsset(manifestDir, src, filepath.Join(cwd, dest), procName)
			if err != nil {
				return nil, err
			}
			blobs = append(blobs, b)
		}
	}

	return blobs, nil
}

func readAsset(manifestDir, src, logicalPath, procName string) (payload.Blob, error) {
	srcPath := src
	if !filepath.IsAbs(srcPath) {
		srcPath = filepath.Join(manifestDir, src)
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return payload.Blob{}, &MissingAssetError{Process: procName, Source: src}
		}
		return payload.Blob{}, fmt.Errorf("compiler: reading asset %q: %w", src, err)
	}
	return payload.Blob{LogicalPath: filepath.ToSlash(logicalPath), Bytes: data}, nil
}

// writeCapsuleImage concatenates the three sections and writes them
// atomically: write to a temp file in the destination directory, set
// executable bits on POSIX, then rename over the final path.
func writeCapsuleImage(outputPath string, sections ...[]byte) error {
	dir := filepath.Dir(outputPath)
	tmp, err := os.CreateTemp(dir, ".capsule-build-*")
	if err != nil {
		return fmt.Errorf("compiler: creating temp output file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	for _, s := range sections {
		if err := payload.CopyAll(tmp, bytes.NewReader(s)); err != nil {
			tmp.Close()
			return fmt.Errorf("compiler: writing output: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("compiler: closing temp output file: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0o755); err != nil {
			return fmt.Errorf("compiler: setting executable bit: %w", err)
		}
	}

	if err := os.Rename(tmpPath, outputPath); err != nil {
		return fmt.Errorf("compiler: renaming into place: %w", err)
	}
	return nil
}

// BuildIdentifier mints a human-legible build ID from the manifest's
// version string, so the same manifest+version always reproduces the same
// identifier (the seed is derived from the version bytes, not wall-clock
// time). It is exported so the supervisor's __supervise entry point can
// recompute the same identifier the compiler reported; the identifier is
// not stored in the payload.
func BuildIdentifier(version string) string {
	seed := int64(len(version))
	for i, r := range version {
		seed += int64(r) << (uint(i%8) * 4)
	}
	return namegenerator.NewNameGenerator(seed).Generate()
}
