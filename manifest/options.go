package manifest

import (
	"github.com/chazu/vmkernel/vm"
)

// FactoryOptions converts the engine and isa sections to factory options.
func (m *Manifest) FactoryOptions() ([]vm.FactoryOption, error) {
	opts := []vm.FactoryOption{
		vm.WithStackSize(m.Engine.StackSize),
		vm.WithLocals(m.Engine.Locals),
		vm.WithMaxSteps(m.Engine.MaxSteps),
	}
	if m.ISA.OpcodeWidth != vm.OpcodeWidth {
		t, err := vm.NewStandardTable(m.ISA.OpcodeWidth)
		if err != nil {
			return nil, err
		}
		opts = append(opts, vm.WithTable(t))
	}
	return opts, nil
}

// NewFactory builds a factory configured by the manifest.
func (m *Manifest) NewFactory(extra ...vm.FactoryOption) (*vm.Factory, error) {
	opts, err := m.FactoryOptions()
	if err != nil {
		return nil, err
	}
	return vm.NewFactory(append(opts, extra...)...)
}
