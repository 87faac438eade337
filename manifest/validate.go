package manifest

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

var (
	schemaOnce  sync.Once
	schemaValue cue.Value
	schemaErr   error
)

// schema compiles the embedded CUE schema once and returns #Manifest.
func schema() (cue.Value, error) {
	schemaOnce.Do(func() {
		ctx := cuecontext.New()
		v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("manifest: compiling schema: %w", err)
			return
		}
		schemaValue = v.LookupPath(cue.ParsePath("#Manifest"))
	})
	return schemaValue, schemaErr
}

// Validate checks the engine, isa, server and store sections against the
// embedded CUE schema.
func (m *Manifest) Validate() error {
	s, err := schema()
	if err != nil {
		return err
	}

	doc := map[string]any{
		"engine": map[string]any{
			"strategy":   m.Engine.Strategy,
			"stack-size": m.Engine.StackSize,
			"locals":     m.Engine.Locals,
			"max-steps":  m.Engine.MaxSteps,
		},
		"isa": map[string]any{
			"opcode-width": m.ISA.OpcodeWidth,
		},
		"server": map[string]any{
			"addr":       m.Server.Addr,
			"workers":    m.Server.Workers,
			"handle-ttl": m.Server.HandleTTL,
		},
		"store": map[string]any{
			"dsn": m.Store.DSN,
		},
	}

	v := s.Unify(s.Context().Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s", errors.Details(err, nil))
	}
	return nil
}
