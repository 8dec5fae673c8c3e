package memmgr

import "testing"

func TestNewSelectsBackendByKind(t *testing.T) {
	cases := map[string]bool{
		"backendA": true,
		"backendB": true,
		"none":     true,
		"":         true,
		"bogus":    false,
	}
	for kind, wantOK := range cases {
		_, err := New(kind, []int{0, 1})
		if wantOK && err != nil {
			t.Errorf("New(%q) unexpected error: %v", kind, err)
		}
		if !wantOK && err == nil {
			t.Errorf("New(%q) expected error, got nil", kind)
		}
	}
}

func TestBackendADevicesAndUsage(t *testing.T) {
	m, err := New("backendA", []int{0, 1, 2})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := m.Devices(); len(got) != 3 {
		t.Fatalf("Devices() = %v, want 3 entries", got)
	}
	usage := m.GetMemUsage()
	if len(usage) != 3 {
		t.Fatalf("GetMemUsage() = %v, want 3 entries", usage)
	}
}

func TestBackendBSetMemLimitValidation(t *testing.T) {
	m, err := New("backendB", []int{0})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := m.SetMemLimit(80); err != nil {
		t.Errorf("SetMemLimit(80) unexpected error: %v", err)
	}
	if err := m.SetMemLimit(0); err == nil {
		t.Error("SetMemLimit(0) expected error")
	}
	if err := m.SetMemLimit(101); err == nil {
		t.Error("SetMemLimit(101) expected error")
	}
}

func TestBackendMemGCDoesNotPanic(t *testing.T) {
	m, _ := New("backendA", []int{0})
	m.MemGC()
	m.MemGC()
}

func TestNoneBackendIsInert(t *testing.T) {
	m := NewNone()
	if usage := m.GetMemUsage(); usage != nil {
		t.Errorf("NewNone().GetMemUsage() = %v, want nil", usage)
	}
	if err := m.SetMemLimit(50); err != nil {
		t.Errorf("NewNone().SetMemLimit unexpected error: %v", err)
	}
	m.MemGC()
}

func TestDevicesReturnsACopy(t *testing.T) {
	m, _ := New("backendA", []int{0, 1})
	got := m.Devices()
	got[0] = 99
	if again := m.Devices(); again[0] == 99 {
		t.Error("Devices() leaked internal slice: mutation visible on second call")
	}
}
