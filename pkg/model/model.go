// Package model defines the Model tuple: the immutable-after-startup
// binding of a name and version to a converter, an inferer, and an
// optional batcher, per §3's data model.
package model

import (
	"fmt"

	"github.com/nkazachenko/grps-core-go/pkg/batcher"
	"github.com/nkazachenko/grps-core-go/pkg/converter"
	"github.com/nkazachenko/grps-core-go/pkg/inferer"
)

// Model is the tuple {name, version, converter?, inferer, batcher?} built
// once at bootstrap and never mutated afterward. Converter and Batcher are
// both optional: a nil Converter means the inferer handles wire messages
// directly ("no-converter mode"); a nil Batcher means the stage node calls
// the converter/inferer chain inline instead of through a dispatcher.
type Model struct {
	Name    string
	Version string

	Converter converter.Converter
	Inferer   inferer.Inferer
	Batcher   *batcher.Dynamic
}

// Key returns the "name-version" identity used to key a model in the
// engine's registry, per §6's "a model is keyed by name-version; duplicates
// are fatal."
func (m *Model) Key() string {
	return fmt.Sprintf("%s-%s", m.Name, m.Version)
}
