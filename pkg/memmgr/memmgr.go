// Package memmgr implements the gpu.mem_manager_type selector: a narrow
// device-memory-manager interface with named backends matching the two
// device frameworks the original server shipped managers for, plus a
// none backend for CPU-only deployments. Actual device memory control
// (CUDA/TensorFlow/Torch bindings) is out of scope for this module; the
// backends below are real, selected and ticked by the engine
// bootstrapper, but their device-facing bodies are documented no-ops.
package memmgr

import (
	"fmt"
	"sync"
)

// MemMgrError reports a failure to construct or drive a memory manager
// (an unknown backend name, a limit outside (0, 100]).
type MemMgrError struct {
	Msg string
}

func (e *MemMgrError) Error() string { return e.Msg }

// MemMgr is the capability surface the engine bootstrapper drives: read
// current usage, set a soft limit, and run one garbage-collection pass.
// Devices lists the GPU indices the manager was constructed for.
type MemMgr interface {
	// GetMemUsage returns memory usage in MiB for each device in Devices,
	// in the same order.
	GetMemUsage() []int64

	// SetMemLimit sets a soft usage limit as a percentage (0-100] of each
	// device's total memory.
	SetMemLimit(limitPercent float64) error

	// MemGC runs one garbage-collection pass over framework-held
	// allocator caches.
	MemGC()

	// Devices returns the device indices this manager was built for.
	Devices() []int
}

// base carries the fields every backend needs and implements the
// device-index accessor; backends embed it and add a type tag only for
// diagnostics, since no two backends differ in observable behavior here.
type base struct {
	mu       sync.Mutex
	devices  []int
	limitPct float64
	gcCount  int
}

func (b *base) Devices() []int {
	return append([]int(nil), b.devices...)
}

func (b *base) setMemLimit(limitPercent float64) error {
	if limitPercent <= 0 || limitPercent > 100 {
		return &MemMgrError{Msg: fmt.Sprintf("memmgr: limit percent %f out of range (0, 100]", limitPercent)}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limitPct = limitPercent
	return nil
}

// backendA mirrors the TensorFlow-style manager: a process-wide
// allocator with a configurable growth limit. Device enumeration and
// allocator introspection are cgo-bound in the original server and are
// out of core scope here, so GetMemUsage reports zero and MemGC is a
// no-op counter bump that the engine's periodic ticker still exercises.
type backendA struct {
	base
}

// NewBackendA returns a TensorFlow-style memory manager for devices.
func NewBackendA(devices []int) MemMgr {
	return &backendA{base: base{devices: devices}}
}

func (b *backendA) GetMemUsage() []int64 {
	return make([]int64, len(b.devices))
}

func (b *backendA) SetMemLimit(limitPercent float64) error {
	return b.setMemLimit(limitPercent)
}

func (b *backendA) MemGC() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gcCount++
}

// backendB mirrors the Torch-style manager: a per-device caching
// allocator. Same out-of-core-scope boundary as backendA.
type backendB struct {
	base
}

// NewBackendB returns a Torch-style memory manager for devices.
func NewBackendB(devices []int) MemMgr {
	return &backendB{base: base{devices: devices}}
}

func (b *backendB) GetMemUsage() []int64 {
	return make([]int64, len(b.devices))
}

func (b *backendB) SetMemLimit(limitPercent float64) error {
	return b.setMemLimit(limitPercent)
}

func (b *backendB) MemGC() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gcCount++
}

// none is the CPU-only backend: always reports empty usage and ignores
// SetMemLimit/MemGC, for deployments with no devices configured.
type none struct {
	base
}

// NewNone returns a no-op memory manager.
func NewNone() MemMgr {
	return &none{}
}

func (n *none) GetMemUsage() []int64 { return nil }
func (n *none) SetMemLimit(float64) error { return nil }
func (n *none) MemGC()                    {}

// New selects a backend by the gpu.mem_manager_type config value:
// "backendA" (TensorFlow-style), "backendB" (Torch-style), or "none".
func New(kind string, devices []int) (MemMgr, error) {
	switch kind {
	case "backendA":
		return NewBackendA(devices), nil
	case "backendB":
		return NewBackendB(devices), nil
	case "none", "":
		return NewNone(), nil
	default:
		return nil, &MemMgrError{Msg: fmt.Sprintf("memmgr: unknown mem_manager_type %q", kind)}
	}
}
