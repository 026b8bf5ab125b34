package checkpoints

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sanjibansg/general-perceivers/tensor"
)

// fakeState records what LoadState receives.
type fakeState struct {
	state  map[string]interface{}
	loaded map[string]interface{}
}

func (f *fakeState) GetState() map[string]interface{} { return f.state }

func (f *fakeState) LoadState(state map[string]interface{}) error {
	f.loaded = state
	return nil
}

func makeParam(t *testing.T, shape []int, data []float32) *tensor.Tensor {
	t.Helper()
	param, err := tensor.NewTensor(shape, tensor.Float32, tensor.CPU, data)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	return param
}

func TestManagerDisabled(t *testing.T) {
	manager := NewManager("")
	if manager.Enabled() {
		t.Error("empty root should disable the manager")
	}
	if err := manager.Save("label", nil, nil, nil); err == nil {
		t.Error("Expected error saving through a disabled manager")
	}
	if err := manager.WriteConfig(map[string]int{"n_classes": 2}); err == nil {
		t.Error("Expected error writing config through a disabled manager")
	}
}

func TestManagerPaths(t *testing.T) {
	manager := NewManager("/tmp/run")
	if manager.Root() != "/tmp/run" {
		t.Errorf("Root() = %q, expected /tmp/run", manager.Root())
	}
	if dir := manager.Dir("step_5"); dir != filepath.Join("/tmp/run", "step_5") {
		t.Errorf("Dir() = %q, expected %q", dir, filepath.Join("/tmp/run", "step_5"))
	}
}

func TestWriteConfig(t *testing.T) {
	root := filepath.Join(t.TempDir(), "run")
	manager := NewManager(root)

	if err := manager.WriteConfig(map[string]int{"n_classes": 4}); err != nil {
		t.Fatalf("WriteConfig failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, ConfigFile))
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if !bytes.Contains(data, []byte(`"n_classes": 4`)) {
		t.Errorf("config %q missing expected field", data)
	}

	// A second write replaces the snapshot
	if err := manager.WriteConfig(map[string]int{"n_classes": 7}); err != nil {
		t.Fatalf("WriteConfig failed: %v", err)
	}
	data, err = os.ReadFile(filepath.Join(root, ConfigFile))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Contains(data, []byte(`"n_classes": 7`)) {
		t.Errorf("config %q not overwritten", data)
	}

	t.Log("Config snapshot tests passed")
}

func TestSaveAndLoad(t *testing.T) {
	root := t.TempDir()
	manager := NewManager(root)

	weight := makeParam(t, []int{2, 2}, []float32{1, 2, 3, 4})
	bias := makeParam(t, []int{2}, []float32{5, 6})
	params := []*tensor.Tensor{weight, bias}

	optim := &fakeState{state: map[string]interface{}{
		"type":       "sgd",
		"velocities": [][]float32{{0.1, 0.2, 0.3, 0.4}, {0.5, 0.6}},
	}}
	sched := &fakeState{state: map[string]interface{}{
		"type":  "step_lr",
		"gamma": 0.5,
	}}

	if err := manager.Save("best", params, optim, sched); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	for _, name := range []string{ModelFile, OptimFile, SchedulerFile} {
		if _, err := os.Stat(filepath.Join(root, "best", name)); err != nil {
			t.Errorf("artifact %s missing: %v", name, err)
		}
	}

	// Corrupt the in-memory parameters, then restore
	weightData, err := weight.GetFloat32Data()
	if err != nil {
		t.Fatalf("GetFloat32Data failed: %v", err)
	}
	for i := range weightData {
		weightData[i] = -1
	}

	restoredOptim := &fakeState{}
	restoredSched := &fakeState{}
	if err := Load(manager.Dir("best"), params, restoredOptim, restoredSched); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	t.Run("Parameters restored in place", func(t *testing.T) {
		// The pre-load slice alias must see the restored values
		if !reflect.DeepEqual(weightData, []float32{1, 2, 3, 4}) {
			t.Errorf("weight = %v, expected original values", weightData)
		}
		biasData, err := bias.GetFloat32Data()
		if err != nil {
			t.Fatalf("GetFloat32Data failed: %v", err)
		}
		if !reflect.DeepEqual(biasData, []float32{5, 6}) {
			t.Errorf("bias = %v, expected original values", biasData)
		}
	})

	t.Run("Optimizer state delivered", func(t *testing.T) {
		if restoredOptim.loaded == nil {
			t.Fatal("optimizer state not loaded")
		}
		if restoredOptim.loaded["type"] != "sgd" {
			t.Errorf("optimizer type = %v, expected sgd", restoredOptim.loaded["type"])
		}
	})

	t.Run("Scheduler state delivered", func(t *testing.T) {
		if restoredSched.loaded == nil {
			t.Fatal("scheduler state not loaded")
		}
		if restoredSched.loaded["gamma"] != 0.5 {
			t.Errorf("gamma = %v, expected 0.5", restoredSched.loaded["gamma"])
		}
	})

	t.Log("Checkpoint save and load tests passed")
}

func TestLoadSkipsMissingOptionalArtifacts(t *testing.T) {
	root := t.TempDir()
	manager := NewManager(root)
	params := []*tensor.Tensor{makeParam(t, []int{2}, []float32{1, 2})}

	// Model only, no optimizer or scheduler artifacts
	if err := manager.Save("bare", params, nil, nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	optim := &fakeState{}
	sched := &fakeState{}
	if err := Load(manager.Dir("bare"), params, optim, sched); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if optim.loaded != nil {
		t.Error("optimizer state loaded from a checkpoint without one")
	}
	if sched.loaded != nil {
		t.Error("scheduler state loaded from a checkpoint without one")
	}

	t.Log("Optional artifact tests passed")
}

func TestLoadValidation(t *testing.T) {
	root := t.TempDir()
	manager := NewManager(root)
	params := []*tensor.Tensor{makeParam(t, []int{2, 2}, []float32{1, 2, 3, 4})}
	if err := manager.Save("strict", params, nil, nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	t.Run("Missing directory", func(t *testing.T) {
		if err := Load(manager.Dir("absent"), params, nil, nil); err == nil {
			t.Error("Expected error for missing checkpoint")
		}
	})

	t.Run("Parameter count mismatch", func(t *testing.T) {
		extra := append(params, makeParam(t, []int{1}, []float32{0}))
		if err := Load(manager.Dir("strict"), extra, nil, nil); err == nil {
			t.Error("Expected error for extra parameter")
		}
	})

	t.Run("Shape mismatch", func(t *testing.T) {
		wrong := []*tensor.Tensor{makeParam(t, []int{4}, []float32{1, 2, 3, 4})}
		if err := Load(manager.Dir("strict"), wrong, nil, nil); err == nil {
			t.Error("Expected error for mismatched shape")
		}
	})

	t.Log("Load validation tests passed")
}

func TestSaveRejectsEmptyLabel(t *testing.T) {
	manager := NewManager(t.TempDir())
	if err := manager.Save("", nil, nil, nil); err == nil {
		t.Error("Expected error for empty label")
	}
}

func TestSaveIsDeterministic(t *testing.T) {
	root := t.TempDir()
	manager := NewManager(root)
	params := []*tensor.Tensor{makeParam(t, []int{3}, []float32{1, 2, 3})}
	optim := &fakeState{state: map[string]interface{}{
		"type":          "sgd",
		"learning_rate": 0.1,
		"momentum":      0.9,
	}}

	if err := manager.Save("same", params, optim, nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	first, err := os.ReadFile(filepath.Join(root, "same", ModelFile))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	firstOptim, err := os.ReadFile(filepath.Join(root, "same", OptimFile))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if err := manager.Save("same", params, optim, nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	second, err := os.ReadFile(filepath.Join(root, "same", ModelFile))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	secondOptim, err := os.ReadFile(filepath.Join(root, "same", OptimFile))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("repeated save changed the model artifact")
	}
	if !bytes.Equal(firstOptim, secondOptim) {
		t.Error("repeated save changed the optimizer artifact")
	}

	t.Log("Deterministic save tests passed")
}
