package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chazu/vmkernel/vm"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "test-app"
version = "0.1.0"

[engine]
strategy = "direct-threaded"
stack-size = 16
locals = 8
max-steps = 100000

[isa]
opcode-width = 2

[source]
dirs = ["asm", "lib"]
entry = "main.vasm"

[store]
dsn = "leveldb:.vmkernel/programs"

[server]
addr = "127.0.0.1:9000"
workers = 2
handle-ttl = "5m"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "test-app" {
		t.Errorf("project name = %q, want test-app", m.Project.Name)
	}
	if m.Engine.Strategy != "direct-threaded" {
		t.Errorf("strategy = %q, want direct-threaded", m.Engine.Strategy)
	}
	if m.Engine.StackSize != 16 || m.Engine.Locals != 8 || m.Engine.MaxSteps != 100000 {
		t.Errorf("engine = %+v", m.Engine)
	}
	if m.ISA.OpcodeWidth != 2 {
		t.Errorf("opcode width = %d, want 2", m.ISA.OpcodeWidth)
	}
	if len(m.Source.Dirs) != 2 {
		t.Errorf("source dirs count = %d, want 2", len(m.Source.Dirs))
	}
	if m.EntryPath() != filepath.Join(m.Dir, "asm", "main.vasm") {
		t.Errorf("entry path = %q", m.EntryPath())
	}
	if m.StoreDSN() != "leveldb:"+filepath.Join(m.Dir, ".vmkernel", "programs") {
		t.Errorf("store dsn = %q", m.StoreDSN())
	}
	if m.Server.Workers != 2 || m.HandleTTL() != 5*time.Minute {
		t.Errorf("server = %+v", m.Server)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "minimal"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(m.Source.Dirs) != 1 || m.Source.Dirs[0] != "asm" {
		t.Errorf("default source dirs = %v, want [asm]", m.Source.Dirs)
	}
	if m.Engine.Strategy != "switch" || m.Engine.StackSize != 32 || m.Engine.Locals != 64 {
		t.Errorf("default engine = %+v", m.Engine)
	}
	if m.ISA.OpcodeWidth != 4 {
		t.Errorf("default opcode width = %d", m.ISA.OpcodeWidth)
	}
	if m.Server.Addr != "localhost:4567" || m.HandleTTL() != 30*time.Minute {
		t.Errorf("default server = %+v", m.Server)
	}
	if !strings.HasPrefix(m.StoreDSN(), "sqlite:"+m.Dir) {
		t.Errorf("default store dsn = %q", m.StoreDSN())
	}
	if m.EntryPath() != "" {
		t.Errorf("entry path = %q, want empty", m.EntryPath())
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"strategy", "[engine]\nstrategy = \"jit\"\n", "strategy"},
		{"opcode width", "[isa]\nopcode-width = 3\n", "opcode-width"},
		{"stack size", "[engine]\nstack-size = -1\n", "stack-size"},
		{"workers", "[server]\nworkers = 1000\n", "workers"},
		{"ttl", "[server]\nhandle-ttl = \"soon\"\n", "handle-ttl"},
		{"dsn", "[store]\ndsn = \"postgres://x\"\n", "dsn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tt.content)
			_, err := Load(dir)
			if err == nil {
				t.Fatal("Load should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadParseError(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[engine\nstrategy = ")
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "parse error") {
		t.Errorf("Load = %v, want parse error", err)
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, "[project]\nname = \"found-project\"\n")

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no vmkernel.toml exists")
	}
}

func TestSourceFiles(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []string{"asm/main.vasm", "asm/lib/util.vasm", "asm/README.md", "other/skip.vasm"} {
		full := filepath.Join(dir, p)
		os.MkdirAll(filepath.Dir(full), 0755)
		os.WriteFile(full, []byte("HALT\n"), 0644)
	}
	m := &Manifest{Dir: dir, Source: Source{Dirs: []string{"asm", "missing"}}}

	files, err := m.SourceFiles()
	if err != nil {
		t.Fatalf("SourceFiles: %v", err)
	}
	want := []string{filepath.Join(dir, "asm/lib/util.vasm"), filepath.Join(dir, "asm/main.vasm")}
	if len(files) != len(want) || files[0] != want[0] || files[1] != want[1] {
		t.Errorf("SourceFiles = %v, want %v", files, want)
	}
}

func TestFactoryOptions(t *testing.T) {
	m := Default()
	m.Engine.StackSize = 4
	m.Engine.MaxSteps = 10
	m.ISA.OpcodeWidth = 1

	f, err := m.NewFactory()
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	if f.Table().OpcodeWidth() != 1 {
		t.Errorf("opcode width = %d, want 1", f.Table().OpcodeWidth())
	}
	cfg := f.Config()
	if cfg.StackSize != 4 || cfg.Locals != 64 || cfg.MaxSteps != 10 {
		t.Errorf("config = %+v", cfg)
	}

	e, err := f.Create(m.Engine.Strategy)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := f.AssembleString("NOP\nJMP -1\n")
	if res := e.Run(b.Bytes(), 0); res.Reason != vm.ExitStepLimit {
		t.Errorf("run = %s, want step limit", res.Reason)
	}
}
