package training

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/sanjibansg/general-perceivers/tensor"
)

// Global random source for deterministic initialization
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight initialization
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Module interface defines methods that all neural network layers must implement
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor // Returns trainable parameters (tensors with requiresGrad=true)
	Train()                       // Sets module to training mode
	Eval()                        // Sets module to evaluation mode
	IsTraining() bool             // Returns true if in training mode
}

// Linear implements a fully connected (dense) layer: y = xW + b
type Linear struct {
	weight   *tensor.Tensor
	bias     *tensor.Tensor
	training bool
}

// NewLinear creates a new Linear layer
func NewLinear(inputSize, outputSize int, bias bool, device tensor.DeviceType) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("layer sizes must be positive, got %d and %d", inputSize, outputSize)
	}

	// Xavier/Glorot uniform initialization:
	// W ~ U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))

	weightData := make([]float32, inputSize*outputSize)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}

	weight, err := tensor.NewTensor([]int{inputSize, outputSize}, tensor.Float32, tensor.CPU, weightData)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}
	weight, err = weight.ToDevice(device)
	if err != nil {
		return nil, fmt.Errorf("failed to place weight tensor: %v", err)
	}
	weight.SetRequiresGrad(true)

	linear := &Linear{
		weight:   weight,
		training: true,
	}

	if bias {
		biasT, err := tensor.Zeros([]int{outputSize}, tensor.Float32, device)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %v", err)
		}
		biasT.SetRequiresGrad(true)
		linear.bias = biasT
	}

	return linear, nil
}

// Forward performs the forward pass: y = xW + b
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 {
		return nil, &ShapeError{
			Op:      "Linear",
			Shape:   input.Shape,
			Message: "expected 2D input [batch_size, input_size]",
		}
	}
	if input.Shape[1] != l.weight.Shape[0] {
		return nil, &ShapeError{
			Op:      "Linear",
			Shape:   input.Shape,
			Message: fmt.Sprintf("input size mismatch: expected %d, got %d", l.weight.Shape[0], input.Shape[1]),
		}
	}

	output := tensor.MatMulAutograd(input, l.weight)
	if l.bias != nil {
		output = tensor.AddAutograd(output, l.bias)
	}
	return output, nil
}

// Parameters returns the layer's trainable tensors
func (l *Linear) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{l.weight}
	if l.bias != nil {
		params = append(params, l.bias)
	}
	return params
}

func (l *Linear) Train() { l.training = true }

func (l *Linear) Eval() { l.training = false }

func (l *Linear) IsTraining() bool { return l.training }

// ReLU applies the rectified linear activation element-wise
type ReLU struct {
	training bool
}

// NewReLU creates a new ReLU activation layer
func NewReLU() *ReLU {
	return &ReLU{training: true}
}

func (r *ReLU) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if input.DType != tensor.Float32 {
		return nil, fmt.Errorf("ReLU requires Float32 input, got %s", input.DType)
	}
	return tensor.ReLUAutograd(input), nil
}

func (r *ReLU) Parameters() []*tensor.Tensor { return nil }

func (r *ReLU) Train() { r.training = true }

func (r *ReLU) Eval() { r.training = false }

func (r *ReLU) IsTraining() bool { return r.training }

// Flatten collapses all trailing dimensions into one, turning
// [batch, d1, d2, ...] into [batch, d1*d2*...]
type Flatten struct {
	training bool
}

// NewFlatten creates a new Flatten layer
func NewFlatten() *Flatten {
	return &Flatten{training: true}
}

func (f *Flatten) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) < 2 {
		return nil, &ShapeError{
			Op:      "Flatten",
			Shape:   input.Shape,
			Message: "expected at least 2 dimensions",
		}
	}
	if len(input.Shape) == 2 {
		return input, nil
	}
	return tensor.ReshapeAutograd(input, []int{input.Shape[0], -1}), nil
}

func (f *Flatten) Parameters() []*tensor.Tensor { return nil }

func (f *Flatten) Train() { f.training = true }

func (f *Flatten) Eval() { f.training = false }

func (f *Flatten) IsTraining() bool { return f.training }

// Sequential chains modules, feeding each module's output into the next
type Sequential struct {
	modules  []Module
	training bool
}

// NewSequential creates a sequential container from the given modules
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{
		modules:  modules,
		training: true,
	}
}

// Add appends a module to the chain
func (s *Sequential) Add(module Module) {
	s.modules = append(s.modules, module)
}

func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	current := input
	for i, module := range s.modules {
		output, err := module.Forward(current)
		if err != nil {
			return nil, fmt.Errorf("module %d forward failed: %w", i, err)
		}
		current = output
	}
	return current, nil
}

func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return params
}

func (s *Sequential) Train() {
	s.training = true
	for _, module := range s.modules {
		module.Train()
	}
}

func (s *Sequential) Eval() {
	s.training = false
	for _, module := range s.modules {
		module.Eval()
	}
}

func (s *Sequential) IsTraining() bool { return s.training }
