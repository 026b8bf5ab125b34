package training

import (
	"reflect"
	"testing"

	"github.com/sanjibansg/general-perceivers/metrics"
	"github.com/sanjibansg/general-perceivers/tensor"
)

// labeledBatch builds a minimal valid batch whose first input value
// identifies it.
func labeledBatch(t *testing.T, id float32) *Batch {
	t.Helper()
	input := testTensor(t, []int{1, 2}, []float32{id, 0})
	classes := testIntTensor(t, []int{1}, []int32{0})
	mask := testTensor(t, []int{1, 2}, []float32{1, 1})
	return NewBatch(input, classes, mask)
}

func batchID(t *testing.T, batch *Batch) float32 {
	t.Helper()
	data, err := batch.Input().GetFloat32Data()
	if err != nil {
		t.Fatalf("GetFloat32Data failed: %v", err)
	}
	return data[0]
}

func TestBatchAccessors(t *testing.T) {
	input := testTensor(t, []int{1, 2}, []float32{1, 2})
	classes := testIntTensor(t, []int{1}, []int32{1})
	mask := testTensor(t, []int{1, 2}, []float32{1, 0})
	batch := NewBatch(input, classes, mask)

	if batch.Input() != input {
		t.Error("Input() did not return the input tensor")
	}
	if batch.Classes() != classes {
		t.Error("Classes() did not return the class tensor")
	}
	if batch.Mask() != mask {
		t.Error("Mask() did not return the mask tensor")
	}
	if err := batch.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestBatchValidate(t *testing.T) {
	tests := []struct {
		name    string
		missing string
	}{
		{"Missing input", FieldInput},
		{"Missing classes", FieldClass},
		{"Missing mask", FieldMask},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := labeledBatch(t, 1)
			delete(batch.Tensors, tt.missing)
			if err := batch.Validate(); err == nil {
				t.Errorf("Expected error for batch without %s", tt.missing)
			}
		})
	}
}

func TestBatchPopMeta(t *testing.T) {
	t.Run("Returns and clears metadata", func(t *testing.T) {
		batch := labeledBatch(t, 1)
		batch.Meta = metrics.Record{"epoch": metrics.NewScalar(3)}

		meta := batch.PopMeta()
		if meta["epoch"].Scalar != 3 {
			t.Errorf("meta epoch = %v, expected 3", meta["epoch"].Scalar)
		}
		if batch.Meta != nil {
			t.Error("Meta not cleared after PopMeta")
		}
	})

	t.Run("Empty record when absent", func(t *testing.T) {
		batch := labeledBatch(t, 1)
		meta := batch.PopMeta()
		if meta == nil {
			t.Fatal("PopMeta returned nil")
		}
		if len(meta) != 0 {
			t.Errorf("PopMeta returned %d entries, expected none", len(meta))
		}
	})
}

func TestSliceSourceCycles(t *testing.T) {
	batches := []*Batch{labeledBatch(t, 0), labeledBatch(t, 1), labeledBatch(t, 2)}
	source, err := NewSliceSource(batches, 1, 2, false)
	if err != nil {
		t.Fatalf("NewSliceSource failed: %v", err)
	}

	if source.Len() != 3 {
		t.Errorf("Len() = %d, expected 3", source.Len())
	}
	if source.NumBytes() != 1 {
		t.Errorf("NumBytes() = %d, expected 1", source.NumBytes())
	}
	if source.NumClasses() != 2 {
		t.Errorf("NumClasses() = %d, expected 2", source.NumClasses())
	}

	// Two full cycles without shuffling preserve order
	var ids []float32
	for i := 0; i < 6; i++ {
		batch, err := source.NextBatch()
		if err != nil {
			t.Fatalf("NextBatch failed: %v", err)
		}
		ids = append(ids, batchID(t, batch))
	}
	expected := []float32{0, 1, 2, 0, 1, 2}
	if !reflect.DeepEqual(ids, expected) {
		t.Errorf("batch order = %v, expected %v", ids, expected)
	}
}

func TestSliceSourceShuffle(t *testing.T) {
	build := func(t *testing.T, seed int64) []float32 {
		batches := make([]*Batch, 8)
		for i := range batches {
			batches[i] = labeledBatch(t, float32(i))
		}
		source, err := NewSliceSource(batches, 1, 2, true)
		if err != nil {
			t.Fatalf("NewSliceSource failed: %v", err)
		}
		source.Seed(seed)

		var ids []float32
		for i := 0; i < 16; i++ {
			batch, err := source.NextBatch()
			if err != nil {
				t.Fatalf("NextBatch failed: %v", err)
			}
			ids = append(ids, batchID(t, batch))
		}
		return ids
	}

	t.Run("First pass is in order", func(t *testing.T) {
		ids := build(t, 1)[:8]
		expected := []float32{0, 1, 2, 3, 4, 5, 6, 7}
		if !reflect.DeepEqual(ids, expected) {
			t.Errorf("first pass = %v, expected %v", ids, expected)
		}
	})

	t.Run("Every batch served each pass", func(t *testing.T) {
		second := build(t, 1)[8:]
		seen := make(map[float32]bool)
		for _, id := range second {
			seen[id] = true
		}
		if len(seen) != 8 {
			t.Errorf("second pass served %d distinct batches, expected 8", len(seen))
		}
	})

	t.Run("Deterministic for a fixed seed", func(t *testing.T) {
		if !reflect.DeepEqual(build(t, 7), build(t, 7)) {
			t.Error("Same seed produced different orders")
		}
	})
}

func TestSliceSourceMetaIsolated(t *testing.T) {
	batch := labeledBatch(t, 1)
	batch.Meta = metrics.Record{"split": metrics.NewScalar(1)}
	source, err := NewSliceSource([]*Batch{batch}, 1, 2, false)
	if err != nil {
		t.Fatalf("NewSliceSource failed: %v", err)
	}

	// Taking the metadata from a served batch must not drain the source
	for i := 0; i < 3; i++ {
		served, err := source.NextBatch()
		if err != nil {
			t.Fatalf("NextBatch failed: %v", err)
		}
		meta := served.PopMeta()
		if meta["split"].Scalar != 1 {
			t.Fatalf("pass %d: meta lost after earlier PopMeta", i)
		}
	}
}

func TestNewSliceSourceErrors(t *testing.T) {
	valid := labeledBatch(t, 1)

	tests := []struct {
		name       string
		batches    []*Batch
		numBytes   int
		numClasses int
	}{
		{"No batches", nil, 1, 2},
		{"Zero bytes", []*Batch{valid}, 0, 2},
		{"Zero classes", []*Batch{valid}, 1, 0},
		{"Invalid batch", []*Batch{{Tensors: map[string]*tensor.Tensor{}}}, 1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSliceSource(tt.batches, tt.numBytes, tt.numClasses, false); err == nil {
				t.Error("Expected error")
			}
		})
	}
}
