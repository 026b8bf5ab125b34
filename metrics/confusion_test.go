package metrics

import (
	"math"
	"testing"
)

func TestConfusionMatrix(t *testing.T) {
	cm := NewConfusionMatrix(2)

	logits := floatTensor(t, []int{4, 2}, []float32{
		2, 0, // predicts 0
		0, 2, // predicts 1
		2, 0, // predicts 0
		0, 2, // predicts 1
	})
	targets := intTensor(t, []int{4}, []int32{0, 1, 1, 0})

	if err := cm.Update(logits, targets); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	t.Run("Tallies", func(t *testing.T) {
		if cm.Matrix[0][0] != 1 || cm.Matrix[0][1] != 1 || cm.Matrix[1][0] != 1 || cm.Matrix[1][1] != 1 {
			t.Errorf("Matrix = %v, expected one sample per cell", cm.Matrix)
		}
		if cm.TotalSamples != 4 {
			t.Errorf("TotalSamples = %d, expected 4", cm.TotalSamples)
		}
	})

	t.Run("Accuracy", func(t *testing.T) {
		if got := cm.Accuracy(); math.Abs(got-0.5) > 1e-9 {
			t.Errorf("Accuracy = %v, expected 0.5", got)
		}
	})

	t.Run("Per-class metrics", func(t *testing.T) {
		if got := cm.PrecisionForClass(0); math.Abs(got-0.5) > 1e-9 {
			t.Errorf("PrecisionForClass(0) = %v, expected 0.5", got)
		}
		if got := cm.RecallForClass(0); math.Abs(got-0.5) > 1e-9 {
			t.Errorf("RecallForClass(0) = %v, expected 0.5", got)
		}
		if got := cm.F1ForClass(0); math.Abs(got-0.5) > 1e-9 {
			t.Errorf("F1ForClass(0) = %v, expected 0.5", got)
		}
	})

	t.Run("Macro metrics", func(t *testing.T) {
		if got := cm.MacroPrecision(); math.Abs(got-0.5) > 1e-9 {
			t.Errorf("MacroPrecision = %v, expected 0.5", got)
		}
		if got := cm.MacroRecall(); math.Abs(got-0.5) > 1e-9 {
			t.Errorf("MacroRecall = %v, expected 0.5", got)
		}
		if got := cm.MacroF1(); math.Abs(got-0.5) > 1e-9 {
			t.Errorf("MacroF1 = %v, expected 0.5", got)
		}
	})

	t.Run("Reset", func(t *testing.T) {
		cm.Reset()
		if cm.TotalSamples != 0 {
			t.Errorf("TotalSamples after Reset = %d, expected 0", cm.TotalSamples)
		}
		if got := cm.Accuracy(); got != 0 {
			t.Errorf("Accuracy after Reset = %v, expected 0", got)
		}
	})
}

func TestConfusionMatrixSkipsOutOfRange(t *testing.T) {
	cm := NewConfusionMatrix(2)

	logits := floatTensor(t, []int{2, 2}, []float32{2, 0, 0, 2})
	targets := intTensor(t, []int{2}, []int32{0, 7})

	if err := cm.Update(logits, targets); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if cm.TotalSamples != 1 {
		t.Errorf("TotalSamples = %d, expected invalid sample to be skipped", cm.TotalSamples)
	}
}

func TestConfusionMatrixUpdateErrors(t *testing.T) {
	cm := NewConfusionMatrix(2)

	t.Run("Non-2D logits", func(t *testing.T) {
		logits := floatTensor(t, []int{4}, []float32{1, 2, 3, 4})
		targets := intTensor(t, []int{1}, []int32{0})
		if err := cm.Update(logits, targets); err == nil {
			t.Error("Expected error for 1-D logits")
		}
	})

	t.Run("Target count mismatch", func(t *testing.T) {
		logits := floatTensor(t, []int{2, 2}, []float32{1, 0, 0, 1})
		targets := intTensor(t, []int{3}, []int32{0, 1, 0})
		if err := cm.Update(logits, targets); err == nil {
			t.Error("Expected error for mismatched target count")
		}
	})
}
