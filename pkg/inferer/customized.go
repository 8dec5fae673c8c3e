package inferer

import "github.com/nkazachenko/grps-core-go/pkg/message"

// Customized is the "customized op library" extension point §4.4
// describes: a named, clonable, registry-visible inferer whose Load would
// normally dlopen a list of configured op libraries before deserializing
// the model file. Doing so requires cgo and a real op-library ABI this
// core does not define; as with converter.Customized, this is a
// documented placeholder rather than a silent fake, matching the
// teacher's own RedisCache stub pattern.
type Customized struct {
	Base
}

func NewCustomized() *Customized {
	c := &Customized{}
	c.Name = "customized"
	return c
}

func (c *Customized) Clone() Inferer {
	return &Customized{Base: Base{Name: c.Name, Path: c.Path, Device: c.Device, Args: c.Args}}
}

func (c *Customized) Infer([]message.Tensor) ([]message.Tensor, error) {
	return c.Base.Infer(nil)
}

func init() {
	Register("customized", NewCustomized())
}
