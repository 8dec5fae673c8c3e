package converter

import "github.com/nkazachenko/grps-core-go/pkg/message"

// Customized is the extension point for a user-supplied converter loaded
// from a plugin path, mirroring the teacher's own documented RedisCache
// stub: every process method is a clearly-labeled placeholder rather than
// a silently wrong implementation. Wiring an actual plugin loader (cgo,
// Go plugin package, or an out-of-process adapter) is out of this core's
// scope per §1; this type exists so the registry and bootstrapper have a
// real `customized` converter-type to select and clone, as §4.7 requires.
type Customized struct {
	Base
}

// NewCustomized constructs a Customized converter prototype.
func NewCustomized() *Customized {
	c := &Customized{}
	c.Name = "customized"
	return c
}

func (c *Customized) Clone() Converter {
	return &Customized{Base: Base{Name: c.Name, Path: c.Path, Args: c.Args}}
}

// PreProcess is not implemented: a real deployment replaces this type with
// one backed by its own plugin-loaded logic before Init is called.
func (c *Customized) PreProcess(*message.Message, ContextHandle) ([]message.Tensor, error) {
	return c.Base.PreProcess(nil, nil)
}

func init() {
	Register("customized", NewCustomized())
}
