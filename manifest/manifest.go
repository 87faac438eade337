// Package manifest handles vmkernel.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked up in a project directory.
const FileName = "vmkernel.toml"

// Manifest represents a vmkernel.toml project configuration.
type Manifest struct {
	Project Project      `toml:"project"`
	Engine  EngineConfig `toml:"engine"`
	ISA     ISAConfig    `toml:"isa"`
	Source  Source       `toml:"source"`
	Store   StoreConfig  `toml:"store"`
	Server  ServerConfig `toml:"server"`

	// Dir is the directory containing the vmkernel.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// EngineConfig selects the dispatch strategy and run limits.
type EngineConfig struct {
	Strategy  string `toml:"strategy"`
	StackSize int    `toml:"stack-size"`
	Locals    int    `toml:"locals"`
	MaxSteps  uint64 `toml:"max-steps"`
}

// ISAConfig configures the instruction encoding.
type ISAConfig struct {
	OpcodeWidth int `toml:"opcode-width"`
}

// Source configures assembly source locations.
type Source struct {
	Dirs  []string `toml:"dirs"`
	Entry string   `toml:"entry"`
}

// StoreConfig selects the program store backend.
type StoreConfig struct {
	DSN string `toml:"dsn"`
}

// ServerConfig configures the RPC server.
type ServerConfig struct {
	Addr      string `toml:"addr"`
	Workers   int    `toml:"workers"`
	HandleTTL string `toml:"handle-ttl"`
}

// Default returns the manifest used when no vmkernel.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Engine.Strategy == "" {
		m.Engine.Strategy = "switch"
	}
	if m.Engine.StackSize == 0 {
		m.Engine.StackSize = 32
	}
	if m.Engine.Locals == 0 {
		m.Engine.Locals = 64
	}
	if m.ISA.OpcodeWidth == 0 {
		m.ISA.OpcodeWidth = 4
	}
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"asm"}
	}
	if m.Store.DSN == "" {
		m.Store.DSN = "sqlite:" + filepath.Join(".vmkernel", "programs.db")
	}
	if m.Server.Addr == "" {
		m.Server.Addr = "localhost:4567"
	}
	if m.Server.Workers == 0 {
		m.Server.Workers = 4
	}
	if m.Server.HandleTTL == "" {
		m.Server.HandleTTL = "30m"
	}
}

// Load parses a vmkernel.toml file from the given directory, applies
// defaults and validates the result.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a vmkernel.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// SourceFiles returns every .vasm file under the source directories,
// sorted. Missing directories are skipped.
func (m *Manifest) SourceFiles() ([]string, error) {
	var files []string
	for _, dir := range m.SourceDirPaths() {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) && path == dir {
					return filepath.SkipDir
				}
				return err
			}
			if !d.IsDir() && filepath.Ext(path) == ".vasm" {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", dir, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

// EntryPath returns the absolute path of the entry program, resolved
// against the first source directory, or "" if no entry is set.
func (m *Manifest) EntryPath() string {
	if m.Source.Entry == "" {
		return ""
	}
	if filepath.IsAbs(m.Source.Entry) {
		return m.Source.Entry
	}
	return filepath.Join(m.SourceDirPaths()[0], m.Source.Entry)
}

// StoreDSN returns the store DSN with relative file paths resolved
// against the project directory.
func (m *Manifest) StoreDSN() string {
	scheme, rest, ok := strings.Cut(m.Store.DSN, ":")
	if !ok || rest == "" || rest == ":memory:" || filepath.IsAbs(rest) {
		return m.Store.DSN
	}
	return scheme + ":" + filepath.Join(m.Dir, rest)
}

// HandleTTL returns the parsed server handle TTL.
func (m *Manifest) HandleTTL() time.Duration {
	d, err := time.ParseDuration(m.Server.HandleTTL)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}
