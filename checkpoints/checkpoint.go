package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sanjibansg/general-perceivers/tensor"
)

// Artifact file names within a checkpoint layout
const (
	ModelFile     = "model.pt"
	OptimFile     = "optim.pt"
	SchedulerFile = "lr_scheduler.pt"
	ConfigFile    = "config.json"
)

// Stateful is anything whose state can be snapshotted into a generic
// map and restored from one, such as optimizers and schedulers.
type Stateful interface {
	GetState() map[string]interface{}
	LoadState(state map[string]interface{}) error
}

// WeightTensor represents one model parameter tensor with its data.
// Parameters are stored positionally, so restoring requires the same
// parameter order the snapshot was taken with.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// Manager persists checkpoints under a root directory. Each call to
// Save creates <root>/<label>/ holding a model artifact and optional
// optimizer and scheduler artifacts, all independently readable. An
// empty root disables the manager.
type Manager struct {
	root string
}

// NewManager creates a manager rooted at the given directory. An
// empty root produces a disabled manager.
func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// Enabled reports whether a save location is configured
func (m *Manager) Enabled() bool {
	return m.root != ""
}

// Root returns the checkpoint root directory
func (m *Manager) Root() string {
	return m.root
}

// Dir returns the directory a label's artifacts live in
func (m *Manager) Dir(label string) string {
	return filepath.Join(m.root, label)
}

// WriteConfig writes a configuration snapshot to config.json at the
// root, creating the root directory first and overwriting any prior
// snapshot.
func (m *Manager) WriteConfig(config interface{}) error {
	if !m.Enabled() {
		return fmt.Errorf("no save folder configured")
	}
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return fmt.Errorf("creating save folder: %w", err)
	}
	return writeJSON(filepath.Join(m.root, ConfigFile), config)
}

// Save writes model parameters, and when supplied optimizer and
// scheduler state, into the label's directory. Artifacts contain no
// timestamps, so saving identical state twice produces identical
// files.
func (m *Manager) Save(label string, params []*tensor.Tensor, optim, sched Stateful) error {
	if !m.Enabled() {
		return fmt.Errorf("no save folder configured")
	}
	if label == "" {
		return fmt.Errorf("checkpoint label cannot be empty")
	}

	dir := m.Dir(label)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating checkpoint folder: %w", err)
	}

	weights := make([]WeightTensor, len(params))
	for i, param := range params {
		data, err := param.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %d: %w", i, err)
		}
		weights[i] = WeightTensor{
			Name:  fmt.Sprintf("param_%d", i),
			Shape: append([]int(nil), param.Shape...),
			Data:  append([]float32(nil), data...),
		}
	}
	if err := writeJSON(filepath.Join(dir, ModelFile), weights); err != nil {
		return err
	}

	if optim != nil {
		if err := writeJSON(filepath.Join(dir, OptimFile), optim.GetState()); err != nil {
			return err
		}
	}
	if sched != nil {
		if err := writeJSON(filepath.Join(dir, SchedulerFile), sched.GetState()); err != nil {
			return err
		}
	}
	return nil
}

// Load restores model parameters from a checkpoint directory. The
// model artifact is required. Optimizer and scheduler state are
// restored only when the argument is non-nil and the corresponding
// artifact exists; a missing optional artifact is skipped silently.
// Parameter data is written in place, so existing references to the
// tensors stay valid.
func Load(dir string, params []*tensor.Tensor, optim, sched Stateful) error {
	var weights []WeightTensor
	if err := readJSON(filepath.Join(dir, ModelFile), &weights); err != nil {
		return fmt.Errorf("reading model artifact: %w", err)
	}

	if len(weights) != len(params) {
		return fmt.Errorf("checkpoint holds %d parameters, model has %d", len(weights), len(params))
	}
	for i, weight := range weights {
		param := params[i]
		if len(weight.Shape) != len(param.Shape) {
			return fmt.Errorf("parameter %d: checkpoint shape %v does not match model shape %v", i, weight.Shape, param.Shape)
		}
		for d := range weight.Shape {
			if weight.Shape[d] != param.Shape[d] {
				return fmt.Errorf("parameter %d: checkpoint shape %v does not match model shape %v", i, weight.Shape, param.Shape)
			}
		}
		data, err := param.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %d: %w", i, err)
		}
		if len(weight.Data) != len(data) {
			return fmt.Errorf("parameter %d: checkpoint holds %d values, parameter has %d", i, len(weight.Data), len(data))
		}
		copy(data, weight.Data)
	}

	if optim != nil {
		if err := loadOptional(filepath.Join(dir, OptimFile), optim); err != nil {
			return fmt.Errorf("restoring optimizer: %w", err)
		}
	}
	if sched != nil {
		if err := loadOptional(filepath.Join(dir, SchedulerFile), sched); err != nil {
			return fmt.Errorf("restoring scheduler: %w", err)
		}
	}
	return nil
}

func loadOptional(path string, target Stateful) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var state map[string]interface{}
	if err := readJSON(path, &state); err != nil {
		return err
	}
	return target.LoadState(state)
}

func writeJSON(path string, value interface{}) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return file.Close()
}

func readJSON(path string, target interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(target); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
