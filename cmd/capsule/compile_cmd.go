package main

import (
	"fmt"

	"github.com/capsulerun/capsule/compiler"
)

// CompileCmd implements `capsule compile`, spec.md §4.C.
type CompileCmd struct {
	Manifest string `arg:"" help:"path to the capsule manifest (.yaml or .toml)"`
	Target   string `help:"target triple to build for (defaults to the host triple)"`
	Output   string `help:"output path (defaults to <manifest-stem>-<triple>)"`
	Runtimes string `help:"directory holding precompiled runtime images (defaults to ./runtimes next to the manifest)"`
	Encrypt  bool   `help:"prompt for a passphrase and encrypt the payload"`
}

func (c *CompileCmd) Run(cctx *Context) error {
	opts := compiler.Options{
		ManifestPath:    c.Manifest,
		Triple:          c.Target,
		OutputPath:      c.Output,
		RuntimeImageDir: c.Runtimes,
	}

	if c.Encrypt {
		pw, err := promptPassphraseTwice()
		if err != nil {
			return err
		}
		opts.Passphrase = pw
	}

	result, err := compiler.Compile(opts)
	if err != nil {
		return err
	}

	fmt.Printf("built %s (build %s, encrypted=%v)\n", result.OutputPath, result.BuildID, result.Encrypted)
	return nil
}
