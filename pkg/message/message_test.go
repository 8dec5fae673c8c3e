package message

import "testing"

func TestTensorNumElementsAndLen(t *testing.T) {
	tn := &Tensor{Shape: []int64{2, 3}, DType: DTypeFloat32, FlatFloat32: []float32{1, 2, 3, 4, 5, 6}}
	if got := tn.NumElements(); got != 6 {
		t.Fatalf("NumElements() = %d, want 6", got)
	}
	if got := tn.Len(); got != 6 {
		t.Fatalf("Len() = %d, want 6", got)
	}
}

func TestTensorCloneIsIndependent(t *testing.T) {
	orig := &Tensor{Name: "x", Shape: []int64{2}, DType: DTypeInt64, FlatInt64: []int64{1, 2}}
	clone := orig.Clone()
	clone.FlatInt64[0] = 99
	if orig.FlatInt64[0] == 99 {
		t.Fatalf("mutating clone mutated original")
	}
	if clone.Name != "x" {
		t.Fatalf("clone lost name")
	}
}

func TestTensorShapeTail(t *testing.T) {
	tn := &Tensor{Shape: []int64{8, 3, 224, 224}}
	tail := tn.ShapeTail()
	want := []int64{3, 224, 224}
	if len(tail) != len(want) {
		t.Fatalf("ShapeTail() = %v, want %v", tail, want)
	}
	for i := range want {
		if tail[i] != want[i] {
			t.Fatalf("ShapeTail()[%d] = %d, want %d", i, tail[i], want[i])
		}
	}
}

func TestMessageKindPrecedence(t *testing.T) {
	cases := []struct {
		name string
		m    *Message
		want Kind
	}{
		{"empty", &Message{}, KindEmpty},
		{"str", &Message{StrData: "hi"}, KindStr},
		{"bin", &Message{BinData: []byte{1}}, KindBin},
		{"tensors", &Message{GTensors: []Tensor{{Name: "t"}}}, KindTensors},
		{"map", &Message{GMap: map[string]*Message{"a": {StrData: "b"}}}, KindMap},
		{"str wins over bin", &Message{StrData: "hi", BinData: []byte{1}}, KindStr},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.m.Kind(); got != tc.want {
				t.Fatalf("Kind() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMessageCloneDeep(t *testing.T) {
	m := &Message{GTensors: []Tensor{{Name: "a", FlatFloat32: []float32{1}}}}
	c := m.Clone()
	c.GTensors[0].FlatFloat32[0] = 2
	if m.GTensors[0].FlatFloat32[0] == 2 {
		t.Fatalf("clone shares tensor backing array with original")
	}
}

func TestMessageClear(t *testing.T) {
	m := &Message{StrData: "x", GTensors: []Tensor{{Name: "a"}}}
	m.Clear()
	if m.Kind() != KindEmpty {
		t.Fatalf("Clear() left Kind() = %v, want KindEmpty", m.Kind())
	}
}

func TestNamedConsistency(t *testing.T) {
	if named, err := NamedConsistency(nil); err != nil || named {
		t.Fatalf("empty list: got (%v, %v), want (false, nil)", named, err)
	}
	if named, err := NamedConsistency([]Tensor{{Name: "a"}, {Name: "b"}}); err != nil || !named {
		t.Fatalf("all-named: got (%v, %v), want (true, nil)", named, err)
	}
	if named, err := NamedConsistency([]Tensor{{}, {}}); err != nil || named {
		t.Fatalf("all-positional: got (%v, %v), want (false, nil)", named, err)
	}
	if _, err := NamedConsistency([]Tensor{{Name: "a"}, {}}); err == nil {
		t.Fatalf("mixed naming: want error, got nil")
	}
}

func TestConcatAndSplitTensorsRoundTrip(t *testing.T) {
	a := Tensor{Name: "emb", Shape: []int64{2, 3}, DType: DTypeFloat32, FlatFloat32: []float32{1, 2, 3, 4, 5, 6}}
	b := Tensor{Name: "emb", Shape: []int64{1, 3}, DType: DTypeFloat32, FlatFloat32: []float32{7, 8, 9}}

	batched, sizes, err := ConcatTensors([]Tensor{a, b})
	if err != nil {
		t.Fatalf("ConcatTensors() error = %v", err)
	}
	if batched.Shape[0] != 3 {
		t.Fatalf("batched leading dim = %d, want 3", batched.Shape[0])
	}
	if len(batched.FlatFloat32) != 9 {
		t.Fatalf("batched flat len = %d, want 9", len(batched.FlatFloat32))
	}

	split, err := SplitTensor(batched, sizes)
	if err != nil {
		t.Fatalf("SplitTensor() error = %v", err)
	}
	if len(split) != 2 {
		t.Fatalf("split len = %d, want 2", len(split))
	}
	if split[0].Shape[0] != 2 || split[1].Shape[0] != 1 {
		t.Fatalf("split leading dims = %d,%d want 2,1", split[0].Shape[0], split[1].Shape[0])
	}
	for i, want := range []float32{7, 8, 9} {
		if split[1].FlatFloat32[i] != want {
			t.Fatalf("split[1].FlatFloat32[%d] = %v, want %v", i, split[1].FlatFloat32[i], want)
		}
	}
}

func TestConcatTensorsRejectsShapeMismatch(t *testing.T) {
	a := Tensor{Name: "x", Shape: []int64{1, 3}, DType: DTypeFloat32, FlatFloat32: []float32{1, 2, 3}}
	b := Tensor{Name: "x", Shape: []int64{1, 4}, DType: DTypeFloat32, FlatFloat32: []float32{1, 2, 3, 4}}
	if _, _, err := ConcatTensors([]Tensor{a, b}); err == nil {
		t.Fatalf("ConcatTensors() with mismatched shape tails: want error, got nil")
	}
}
