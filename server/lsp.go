package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/vmkernel/pkg/bytecode"
	"github.com/chazu/vmkernel/vm"
)

const lspName = "vmkernel-lsp"

// LspServer provides editor features for .vasm assembly files: assembler
// diagnostics, mnemonic completion, descriptor hovers and jump-target
// navigation. The opcode table is read-only, so handlers use it directly.
type LspServer struct {
	table *bytecode.Table
	log   commonlog.Logger

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server for the factory's instruction set.
func NewLSP(f *vm.Factory) *LspServer {
	s := &LspServer{
		table:   f.Table(),
		log:     commonlog.GetLogger("vmkernel.lsp"),
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	s.log.Info("vmkernel LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	return s.complete(text, params.Position), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	return s.hover(extractWord(text, params.Position)), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	locs := s.definition(params.TextDocument.URI, text, params.Position)
	if len(locs) == 0 {
		return nil, nil
	}
	return locs, nil
}

// complete offers mnemonics while the cursor is still in the first token
// of a line.
func (s *LspServer) complete(text string, pos protocol.Position) []protocol.CompletionItem {
	prefix := extractPrefix(text, pos)
	line := lineAt(text, pos.Line)
	col := min(int(pos.Character), len(line))
	if strings.TrimSpace(line[:col]) != prefix {
		return nil
	}

	upper := strings.ToUpper(prefix)
	var items []protocol.CompletionItem
	for _, d := range s.table.Descriptors() {
		if !strings.HasPrefix(d.Name, upper) {
			continue
		}
		kind := protocol.CompletionItemKindKeyword
		detail := d.String()
		name := d.Name
		items = append(items, protocol.CompletionItem{
			Label:      d.Name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &name,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	return items
}

// hover describes the descriptor named by word.
func (s *LspServer) hover(word string) *protocol.Hover {
	if word == "" {
		return nil
	}
	d, err := s.table.LookupName(strings.ToUpper(word))
	if err != nil {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**", d.Name)
	for _, f := range d.Fields {
		fmt.Fprintf(&b, " `%s`", f)
	}
	fmt.Fprintf(&b, "\n\nopcode %d, %d bytes (%d-byte opcode", d.Code, d.Size, s.table.OpcodeWidth())
	if len(d.Fields) > 0 {
		fmt.Fprintf(&b, " + %v", d.FieldWidths())
	}
	b.WriteString(")")
	if d.HasJump() {
		b.WriteString("\n\nJump operands are written as instruction counts relative to this instruction.")
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

// definition resolves the jump targets of the instruction on the cursor
// line to the lines of the instructions they land on.
func (s *LspServer) definition(uri protocol.DocumentUri, text string, pos protocol.Position) []protocol.Location {
	lines := bytecode.InstructionLines(text)
	index := sort.SearchInts(lines, int(pos.Line)+1)
	if index >= len(lines) || lines[index] != int(pos.Line)+1 {
		return nil
	}

	fields := strings.Fields(stripLineComment(lineAt(text, pos.Line)))
	d, err := s.table.LookupName(fields[0])
	if err != nil || len(fields)-1 != len(d.Fields) {
		return nil
	}

	var locs []protocol.Location
	for i, f := range d.Fields {
		if f.Kind != bytecode.FieldJump {
			continue
		}
		var rel int
		if _, err := fmt.Sscan(fields[i+1], &rel); err != nil {
			continue
		}
		target := index + rel
		if target < 0 || target >= len(lines) {
			continue
		}
		line := protocol.UInteger(lines[target] - 1)
		locs = append(locs, protocol.Location{
			URI: uri,
			Range: protocol.Range{
				Start: protocol.Position{Line: line, Character: 0},
				End:   protocol.Position{Line: line, Character: protocol.UInteger(len(lineAt(text, line)))},
			},
		})
	}
	return locs
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: s.diagnose(text),
	})
}

// diagnose assembles and translates text, reporting the first error on
// the line that caused it.
func (s *LspServer) diagnose(text string) []protocol.Diagnostic {
	b := bytecode.NewBuilder(s.table)
	err := b.DecodeFrom(strings.NewReader(text))
	if err == nil {
		err = b.TranslateJumpIndices()
	}
	if err == nil {
		return []protocol.Diagnostic{}
	}

	line := 0
	var unknown *bytecode.UnknownInstructionError
	var malformed *bytecode.MalformedOperandError
	var jump *bytecode.JumpTargetError
	switch {
	case errors.As(err, &unknown):
		line = unknown.Line
	case errors.As(err, &malformed):
		line = malformed.Line
	case errors.As(err, &jump):
		if lines := bytecode.InstructionLines(text); jump.Index < len(lines) {
			line = lines[jump.Index]
		}
	}

	var rng protocol.Range
	if line > 0 {
		l := protocol.UInteger(line - 1)
		rng = protocol.Range{
			Start: protocol.Position{Line: l, Character: 0},
			End:   protocol.Position{Line: l, Character: protocol.UInteger(len(lineAt(text, l)))},
		}
	}

	severity := protocol.DiagnosticSeverityError
	source := lspName
	return []protocol.Diagnostic{{
		Range:    rng,
		Severity: &severity,
		Source:   &source,
		Message:  strings.TrimPrefix(err.Error(), "bytecode: "),
	}}
}

// --- Text extraction helpers ---

func lineAt(text string, n protocol.UInteger) string {
	lines := strings.Split(text, "\n")
	if int(n) >= len(lines) {
		return ""
	}
	return lines[n]
}

func stripLineComment(line string) string {
	if i := strings.IndexAny(line, ";#"); i >= 0 {
		return line[:i]
	}
	return line
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	line := lineAt(text, pos.Line)
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	line := lineAt(text, pos.Line)
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}
	return line[start:end]
}

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

func boolPtr(b bool) *bool {
	return &b
}
