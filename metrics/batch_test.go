package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/sanjibansg/general-perceivers/tensor"
)

func floatTensor(t *testing.T, shape []int, data []float32) *tensor.Tensor {
	t.Helper()
	result, err := tensor.NewTensor(shape, tensor.Float32, tensor.CPU, data)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	return result
}

func intTensor(t *testing.T, shape []int, data []int32) *tensor.Tensor {
	t.Helper()
	result, err := tensor.NewTensor(shape, tensor.Int32, tensor.CPU, data)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	return result
}

func TestForBatch(t *testing.T) {
	logits := floatTensor(t, []int{3, 3}, []float32{
		2, 1, 0, // predicts 0
		0, 3, 1, // predicts 1
		1, 0, 2, // predicts 2
	})
	targets := intTensor(t, []int{3}, []int32{0, 1, 0})
	mask := floatTensor(t, []int{3, 2}, []float32{1, 1, 1, 0, 1, 1})
	perExample := []float32{0.5, 1.0, 1.5}

	record, err := ForBatch(logits, targets, mask, perExample, "train", 4, 3, 2*time.Second)
	if err != nil {
		t.Fatalf("ForBatch failed: %v", err)
	}

	t.Run("Totals", func(t *testing.T) {
		// Mask row sums are 2, 1, 2 at 4 bytes per token.
		if got := record["train/bytes_processed"].Scalar; got != 20 {
			t.Errorf("bytes_processed = %v, expected 20", got)
		}
		if got := record["train/bytes_processed_per_second"].Scalar; got != 10 {
			t.Errorf("bytes_processed_per_second = %v, expected 10", got)
		}
		if got := record["train/loss_avg"].Scalar; math.Abs(got-1.0) > 1e-9 {
			t.Errorf("loss_avg = %v, expected 1.0", got)
		}
		if got := record["train/acc_avg"].Scalar; math.Abs(got-2.0/3.0) > 1e-9 {
			t.Errorf("acc_avg = %v, expected 2/3", got)
		}
	})

	t.Run("Per-class sums", func(t *testing.T) {
		lossClass := record["train/loss_class"].ByClass
		if math.Abs(lossClass[0]-2.0) > 1e-9 || math.Abs(lossClass[1]-1.0) > 1e-9 || lossClass[2] != 0 {
			t.Errorf("loss_class = %v, expected map[0:2 1:1 2:0]", lossClass)
		}

		accClass := record["train/acc_class"].ByClass
		if accClass[0] != 1 || accClass[1] != 1 || accClass[2] != 0 {
			t.Errorf("acc_class = %v, expected map[0:1 1:1 2:0]", accClass)
		}

		bytesClass := record["train/class_wise_bytes_processed"].ByClass
		if bytesClass[0] != 16 || bytesClass[1] != 4 || bytesClass[2] != 0 {
			t.Errorf("class_wise_bytes_processed = %v, expected map[0:16 1:4 2:0]", bytesClass)
		}
	})

	t.Run("All classes present", func(t *testing.T) {
		for _, key := range []string{"train/loss_class", "train/acc_class", "train/class_wise_bytes_processed"} {
			byClass := record[key].ByClass
			if len(byClass) != 3 {
				t.Errorf("%s has %d entries, expected 3", key, len(byClass))
			}
			for class := 0; class < 3; class++ {
				if _, ok := byClass[class]; !ok {
					t.Errorf("%s missing class %d", key, class)
				}
			}
		}
	})

	t.Run("Byte totals consistent", func(t *testing.T) {
		sum := 0.0
		for _, val := range record["train/class_wise_bytes_processed"].ByClass {
			sum += val
		}
		if math.Abs(sum-record["train/bytes_processed"].Scalar) > 1e-9 {
			t.Errorf("class byte sum %v does not match total %v", sum, record["train/bytes_processed"].Scalar)
		}
	})
}

func TestForBatchZeroElapsed(t *testing.T) {
	logits := floatTensor(t, []int{1, 2}, []float32{1, 0})
	targets := intTensor(t, []int{1}, []int32{0})
	mask := floatTensor(t, []int{1}, []float32{1})

	record, err := ForBatch(logits, targets, mask, []float32{0.1}, "eval", 1, 2, 0)
	if err != nil {
		t.Fatalf("ForBatch failed: %v", err)
	}
	if got := record["eval/bytes_processed_per_second"].Scalar; got != 0 {
		t.Errorf("bytes_processed_per_second = %v, expected 0 for zero elapsed time", got)
	}
}

func TestForBatchIntMask(t *testing.T) {
	logits := floatTensor(t, []int{2, 2}, []float32{1, 0, 0, 1})
	targets := intTensor(t, []int{2}, []int32{0, 1})
	mask := intTensor(t, []int{2, 3}, []int32{1, 1, 0, 1, 1, 1})

	record, err := ForBatch(logits, targets, mask, []float32{0.1, 0.2}, "train", 2, 2, time.Second)
	if err != nil {
		t.Fatalf("ForBatch failed: %v", err)
	}
	if got := record["train/bytes_processed"].Scalar; got != 10 {
		t.Errorf("bytes_processed = %v, expected 10", got)
	}
}

func TestForBatchErrors(t *testing.T) {
	logits := floatTensor(t, []int{2, 2}, []float32{1, 0, 0, 1})
	targets := intTensor(t, []int{2}, []int32{0, 1})
	mask := floatTensor(t, []int{2}, []float32{1, 1})
	perExample := []float32{0.1, 0.2}

	t.Run("Nil mask", func(t *testing.T) {
		if _, err := ForBatch(logits, targets, nil, perExample, "train", 1, 2, 0); err == nil {
			t.Error("Expected error for missing mask")
		}
	})

	t.Run("Non-2D logits", func(t *testing.T) {
		flat := floatTensor(t, []int{4}, []float32{1, 0, 0, 1})
		if _, err := ForBatch(flat, targets, mask, perExample, "train", 1, 2, 0); err == nil {
			t.Error("Expected error for 1-D logits")
		}
	})

	t.Run("Target count mismatch", func(t *testing.T) {
		short := intTensor(t, []int{1}, []int32{0})
		if _, err := ForBatch(logits, short, mask, perExample, "train", 1, 2, 0); err == nil {
			t.Error("Expected error for mismatched targets")
		}
	})

	t.Run("Per-example loss mismatch", func(t *testing.T) {
		if _, err := ForBatch(logits, targets, mask, []float32{0.1}, "train", 1, 2, 0); err == nil {
			t.Error("Expected error for wrong loss count")
		}
	})

	t.Run("Mask leading dimension", func(t *testing.T) {
		wide := floatTensor(t, []int{3}, []float32{1, 1, 1})
		if _, err := ForBatch(logits, targets, wide, perExample, "train", 1, 2, 0); err == nil {
			t.Error("Expected error for mask with wrong leading dimension")
		}
	})

	t.Run("Target out of range", func(t *testing.T) {
		bad := intTensor(t, []int{2}, []int32{0, 5})
		if _, err := ForBatch(logits, bad, mask, perExample, "train", 1, 2, 0); err == nil {
			t.Error("Expected error for out-of-range class")
		}
	})

	t.Run("Invalid class count", func(t *testing.T) {
		if _, err := ForBatch(logits, targets, mask, perExample, "train", 1, 0, 0); err == nil {
			t.Error("Expected error for zero classes")
		}
	})
}
