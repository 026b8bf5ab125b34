package metrics

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"
)

func TestValueJSON(t *testing.T) {
	t.Run("Scalar", func(t *testing.T) {
		data, err := json.Marshal(NewScalar(1.5))
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		if string(data) != "1.5" {
			t.Errorf("Marshal = %s, expected 1.5", data)
		}
	})

	t.Run("Per-class", func(t *testing.T) {
		data, err := json.Marshal(NewByClass(map[int]float64{0: 1, 1: 2}))
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		var decoded map[string]float64
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		expected := map[string]float64{"0": 1, "1": 2}
		if !reflect.DeepEqual(decoded, expected) {
			t.Errorf("decoded = %v, expected %v", decoded, expected)
		}
	})
}

func TestRecordMerge(t *testing.T) {
	record := Record{
		"train/loss_avg": NewScalar(2.0),
		"train/step":     NewScalar(1),
	}
	record.Merge(Record{
		"train/loss_avg": NewScalar(1.0),
		"val/loss_avg":   NewScalar(3.0),
	})

	if record["train/loss_avg"].Scalar != 1.0 {
		t.Errorf("merged value = %v, expected later record to overwrite", record["train/loss_avg"].Scalar)
	}
	if record["train/step"].Scalar != 1 {
		t.Errorf("existing key lost during merge")
	}
	if record["val/loss_avg"].Scalar != 3.0 {
		t.Errorf("new key missing after merge")
	}
}

func TestRecordClone(t *testing.T) {
	original := Record{
		"train/loss_class": NewByClass(map[int]float64{0: 1}),
	}
	clone := original.Clone()
	clone["train/loss_class"].ByClass[0] = 99

	if original["train/loss_class"].ByClass[0] != 1 {
		t.Error("Clone shares per-class map with original")
	}
}

func TestRecordKeys(t *testing.T) {
	record := Record{
		"val/loss_avg":   NewScalar(1),
		"train/acc_avg":  NewScalar(2),
		"train/loss_avg": NewScalar(3),
	}
	expected := []string{"train/acc_avg", "train/loss_avg", "val/loss_avg"}
	if keys := record.Keys(); !reflect.DeepEqual(keys, expected) {
		t.Errorf("Keys = %v, expected %v", keys, expected)
	}
}

func TestRecordMapRoundTrip(t *testing.T) {
	original := Record{
		"train/loss_avg":   NewScalar(1.25),
		"train/loss_class": NewByClass(map[int]float64{0: 0.5, 1: 0.75}),
	}

	restored, err := FromMap(original.AsMap())
	if err != nil {
		t.Fatalf("FromMap failed: %v", err)
	}
	if !reflect.DeepEqual(restored, original) {
		t.Errorf("round trip = %v, expected %v", restored, original)
	}
}

func TestFromMapErrors(t *testing.T) {
	t.Run("Bad class key", func(t *testing.T) {
		_, err := FromMap(map[string]interface{}{
			"train/loss_class": map[string]interface{}{"abc": 1.0},
		})
		if err == nil {
			t.Error("Expected error for non-numeric class key")
		}
	})

	t.Run("Unsupported type", func(t *testing.T) {
		_, err := FromMap(map[string]interface{}{"train/name": "hello"})
		if err == nil {
			t.Error("Expected error for string value")
		}
	})
}

func TestAverage(t *testing.T) {
	t.Run("Scalar mean", func(t *testing.T) {
		records := []Record{
			{"val/loss_avg": NewScalar(2.0)},
			{"val/loss_avg": NewScalar(1.5)},
			{"val/loss_avg": NewScalar(1.0)},
		}
		averaged, err := Average(records)
		if err != nil {
			t.Fatalf("Average failed: %v", err)
		}
		if got := averaged["val/loss_avg"].Scalar; math.Abs(got-1.5) > 1e-12 {
			t.Errorf("mean = %v, expected 1.5", got)
		}
	})

	t.Run("Per-class mean", func(t *testing.T) {
		records := []Record{
			{"val/loss_class": NewByClass(map[int]float64{0: 1, 1: 2})},
			{"val/loss_class": NewByClass(map[int]float64{0: 3, 1: 4})},
			{"val/loss_class": NewByClass(map[int]float64{0: 5, 1: 6})},
		}
		averaged, err := Average(records)
		if err != nil {
			t.Fatalf("Average failed: %v", err)
		}
		expected := map[int]float64{0: 3, 1: 4}
		if !reflect.DeepEqual(averaged["val/loss_class"].ByClass, expected) {
			t.Errorf("per-class mean = %v, expected %v", averaged["val/loss_class"].ByClass, expected)
		}
	})

	t.Run("No records", func(t *testing.T) {
		if _, err := Average(nil); err == nil {
			t.Error("Expected error for empty input")
		}
	})

	t.Run("Missing key", func(t *testing.T) {
		records := []Record{
			{"val/loss_avg": NewScalar(1)},
			{"val/acc_avg": NewScalar(1)},
		}
		if _, err := Average(records); err == nil {
			t.Error("Expected error for missing key")
		}
	})

	t.Run("Mismatched kinds", func(t *testing.T) {
		records := []Record{
			{"val/loss_avg": NewScalar(1)},
			{"val/loss_avg": NewByClass(map[int]float64{0: 1})},
		}
		if _, err := Average(records); err == nil {
			t.Error("Expected error for scalar averaged with per-class")
		}
	})
}
