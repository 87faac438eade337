package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/vmkernel/image"
	"github.com/chazu/vmkernel/manifest"
	"github.com/chazu/vmkernel/vm"
)

// ImageExt is the file extension of CBOR program images.
const ImageExt = ".vimg"

// programName derives a program name from a file path.
func programName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// loadImage reads a program from path. Images are checked against the
// factory's table; anything else is assembled as source text. The
// returned image always holds translated code.
func loadImage(f *vm.Factory, path string) (*image.Image, error) {
	if filepath.Ext(path) == ImageExt {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		img, err := image.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if img.Translated {
			if err := img.Check(f.Table()); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			return img, nil
		}
		b, err := img.Builder(f.Table())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := b.TranslateJumpIndices(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out := image.FromBuilder(img.Name, b, img.Locals)
		out.Source = img.Source
		return out, nil
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, err := f.AssembleString(string(src))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img := image.FromBuilder(programName(path), b, nil)
	img.Source = string(src)
	return img, nil
}

// programPath returns args[0], or the manifest entry program when no
// argument was given.
func (g *globals) programPath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if entry := g.m.EntryPath(); entry != "" {
		return entry, nil
	}
	return "", fmt.Errorf("no program given and no [source] entry in %s", manifest.FileName)
}
