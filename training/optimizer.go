package training

import (
	"fmt"
	"math"

	"github.com/sanjibansg/general-perceivers/tensor"
)

// Optimizer interface defines the methods that all optimizers must implement
type Optimizer interface {
	// Step updates model parameters based on gradients
	Step() error
	// ZeroGrad resets gradients to zero for all parameters
	ZeroGrad()
	// GetLR gets the current learning rate
	GetLR() float64
	// SetLR sets the learning rate
	SetLR(lr float64)
	// GetState snapshots optimizer state for checkpointing
	GetState() map[string]interface{}
	// LoadState restores a snapshot taken by GetState
	LoadState(state map[string]interface{}) error
}

// SGD implements stochastic gradient descent with optional momentum,
// dampening, weight decay, and Nesterov acceleration
type SGD struct {
	parameters   []*tensor.Tensor
	learningRate float64
	momentum     float64
	weightDecay  float64
	dampening    float64
	nesterov     bool
	velocities   [][]float32 // Indexed by parameter position
}

// NewSGD creates a new SGD optimizer
func NewSGD(parameters []*tensor.Tensor, lr float64, momentum float64, weightDecay float64, dampening float64, nesterov bool) *SGD {
	sgd := &SGD{
		parameters:   parameters,
		learningRate: lr,
		momentum:     momentum,
		weightDecay:  weightDecay,
		dampening:    dampening,
		nesterov:     nesterov,
	}

	if momentum > 0 {
		sgd.velocities = make([][]float32, len(parameters))
		for i, param := range parameters {
			sgd.velocities[i] = make([]float32, param.NumElems)
		}
	}

	return sgd
}

// Step performs a single optimization step
func (sgd *SGD) Step() error {
	lr := float32(sgd.learningRate)
	momentum := float32(sgd.momentum)
	weightDecay := float32(sgd.weightDecay)
	dampening := float32(sgd.dampening)

	for i, param := range sgd.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}

		paramData, err := param.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %d: %w", i, err)
		}
		gradData, err := param.Grad().GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %d gradient: %w", i, err)
		}
		if len(gradData) != len(paramData) {
			return fmt.Errorf("parameter %d gradient size %d does not match parameter size %d", i, len(gradData), len(paramData))
		}

		for j := range paramData {
			grad := gradData[j]
			if weightDecay > 0 {
				grad += weightDecay * paramData[j]
			}
			if momentum > 0 {
				velocity := momentum*sgd.velocities[i][j] + (1-dampening)*grad
				sgd.velocities[i][j] = velocity
				if sgd.nesterov {
					grad += momentum * velocity
				} else {
					grad = velocity
				}
			}
			paramData[j] -= lr * grad
		}
	}

	return nil
}

// ZeroGrad resets the gradients of all parameters
func (sgd *SGD) ZeroGrad() {
	tensor.ZeroGrad(sgd.parameters)
}

// GetLR returns the current learning rate
func (sgd *SGD) GetLR() float64 {
	return sgd.learningRate
}

// SetLR sets the learning rate
func (sgd *SGD) SetLR(lr float64) {
	sgd.learningRate = lr
}

// GetState snapshots the optimizer for checkpointing. Velocity slices
// are indexed by parameter position, so restoring requires the same
// parameter order.
func (sgd *SGD) GetState() map[string]interface{} {
	state := map[string]interface{}{
		"type":          "sgd",
		"learning_rate": sgd.learningRate,
		"momentum":      sgd.momentum,
		"weight_decay":  sgd.weightDecay,
		"dampening":     sgd.dampening,
		"nesterov":      sgd.nesterov,
	}
	if sgd.velocities != nil {
		velocities := make([][]float32, len(sgd.velocities))
		for i, velocity := range sgd.velocities {
			velocities[i] = append([]float32(nil), velocity...)
		}
		state["velocities"] = velocities
	}
	return state
}

// LoadState restores a snapshot taken by GetState
func (sgd *SGD) LoadState(state map[string]interface{}) error {
	kind, err := stateString(state, "type")
	if err != nil {
		return err
	}
	if kind != "sgd" {
		return fmt.Errorf("state type %q is not an sgd snapshot", kind)
	}

	if lr, ok := state["learning_rate"]; ok {
		value, err := toFloat64(lr)
		if err != nil {
			return fmt.Errorf("learning_rate: %w", err)
		}
		sgd.learningRate = value
	}

	if raw, ok := state["velocities"]; ok {
		velocities, err := toFloat32Slices(raw)
		if err != nil {
			return fmt.Errorf("velocities: %w", err)
		}
		if len(velocities) != len(sgd.parameters) {
			return fmt.Errorf("velocity count %d does not match parameter count %d", len(velocities), len(sgd.parameters))
		}
		for i, velocity := range velocities {
			if len(velocity) != sgd.parameters[i].NumElems {
				return fmt.Errorf("velocity %d size %d does not match parameter size %d", i, len(velocity), sgd.parameters[i].NumElems)
			}
		}
		sgd.velocities = velocities
	}

	return nil
}

// Adam implements the Adam optimizer with bias-corrected first and
// second moment estimates
type Adam struct {
	parameters   []*tensor.Tensor
	learningRate float64
	beta1        float64
	beta2        float64
	epsilon      float64
	weightDecay  float64
	stepCount    int
	firstMoment  [][]float32
	secondMoment [][]float32
}

// NewAdam creates a new Adam optimizer
func NewAdam(parameters []*tensor.Tensor, lr float64, beta1 float64, beta2 float64, epsilon float64, weightDecay float64) *Adam {
	if beta1 <= 0 || beta1 >= 1 {
		beta1 = 0.9
	}
	if beta2 <= 0 || beta2 >= 1 {
		beta2 = 0.999
	}
	if epsilon <= 0 {
		epsilon = 1e-8
	}

	adam := &Adam{
		parameters:   parameters,
		learningRate: lr,
		beta1:        beta1,
		beta2:        beta2,
		epsilon:      epsilon,
		weightDecay:  weightDecay,
		firstMoment:  make([][]float32, len(parameters)),
		secondMoment: make([][]float32, len(parameters)),
	}
	for i, param := range parameters {
		adam.firstMoment[i] = make([]float32, param.NumElems)
		adam.secondMoment[i] = make([]float32, param.NumElems)
	}
	return adam
}

// Step performs a single optimization step
func (adam *Adam) Step() error {
	adam.stepCount++

	biasCorrection1 := 1.0 - math.Pow(adam.beta1, float64(adam.stepCount))
	biasCorrection2 := 1.0 - math.Pow(adam.beta2, float64(adam.stepCount))

	for i, param := range adam.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}

		paramData, err := param.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %d: %w", i, err)
		}
		gradData, err := param.Grad().GetFloat32Data()
		if err != nil {
			return fmt.Errorf("parameter %d gradient: %w", i, err)
		}
		if len(gradData) != len(paramData) {
			return fmt.Errorf("parameter %d gradient size %d does not match parameter size %d", i, len(gradData), len(paramData))
		}

		for j := range paramData {
			grad := float64(gradData[j])
			if adam.weightDecay > 0 {
				grad += adam.weightDecay * float64(paramData[j])
			}

			m := adam.beta1*float64(adam.firstMoment[i][j]) + (1-adam.beta1)*grad
			v := adam.beta2*float64(adam.secondMoment[i][j]) + (1-adam.beta2)*grad*grad
			adam.firstMoment[i][j] = float32(m)
			adam.secondMoment[i][j] = float32(v)

			mHat := m / biasCorrection1
			vHat := v / biasCorrection2
			paramData[j] -= float32(adam.learningRate * mHat / (math.Sqrt(vHat) + adam.epsilon))
		}
	}

	return nil
}

// ZeroGrad resets the gradients of all parameters
func (adam *Adam) ZeroGrad() {
	tensor.ZeroGrad(adam.parameters)
}

// GetLR returns the current learning rate
func (adam *Adam) GetLR() float64 {
	return adam.learningRate
}

// SetLR sets the learning rate
func (adam *Adam) SetLR(lr float64) {
	adam.learningRate = lr
}

// GetState snapshots the optimizer for checkpointing
func (adam *Adam) GetState() map[string]interface{} {
	firstMoment := make([][]float32, len(adam.firstMoment))
	secondMoment := make([][]float32, len(adam.secondMoment))
	for i := range adam.firstMoment {
		firstMoment[i] = append([]float32(nil), adam.firstMoment[i]...)
		secondMoment[i] = append([]float32(nil), adam.secondMoment[i]...)
	}
	return map[string]interface{}{
		"type":          "adam",
		"learning_rate": adam.learningRate,
		"beta1":         adam.beta1,
		"beta2":         adam.beta2,
		"epsilon":       adam.epsilon,
		"weight_decay":  adam.weightDecay,
		"step_count":    adam.stepCount,
		"first_moment":  firstMoment,
		"second_moment": secondMoment,
	}
}

// LoadState restores a snapshot taken by GetState
func (adam *Adam) LoadState(state map[string]interface{}) error {
	kind, err := stateString(state, "type")
	if err != nil {
		return err
	}
	if kind != "adam" {
		return fmt.Errorf("state type %q is not an adam snapshot", kind)
	}

	if lr, ok := state["learning_rate"]; ok {
		value, err := toFloat64(lr)
		if err != nil {
			return fmt.Errorf("learning_rate: %w", err)
		}
		adam.learningRate = value
	}
	if raw, ok := state["step_count"]; ok {
		value, err := toFloat64(raw)
		if err != nil {
			return fmt.Errorf("step_count: %w", err)
		}
		adam.stepCount = int(value)
	}

	for _, key := range []string{"first_moment", "second_moment"} {
		raw, ok := state[key]
		if !ok {
			continue
		}
		moments, err := toFloat32Slices(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if len(moments) != len(adam.parameters) {
			return fmt.Errorf("%s count %d does not match parameter count %d", key, len(moments), len(adam.parameters))
		}
		for i, moment := range moments {
			if len(moment) != adam.parameters[i].NumElems {
				return fmt.Errorf("%s %d size %d does not match parameter size %d", key, i, len(moment), adam.parameters[i].NumElems)
			}
		}
		if key == "first_moment" {
			adam.firstMoment = moments
		} else {
			adam.secondMoment = moments
		}
	}

	return nil
}

// State snapshots travel through JSON, which widens every number to
// float64 and turns slices into []interface{}. These helpers accept
// both the in-memory and the decoded forms.

func stateString(state map[string]interface{}, key string) (string, error) {
	raw, ok := state[key]
	if !ok {
		return "", fmt.Errorf("state missing %q", key)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("state key %q is %T, expected string", key, raw)
	}
	return value, nil
}

func toFloat64(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", raw)
	}
}

func toFloat32Slice(raw interface{}) ([]float32, error) {
	switch v := raw.(type) {
	case []float32:
		return append([]float32(nil), v...), nil
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return out, nil
	case []interface{}:
		out := make([]float32, len(v))
		for i, item := range v {
			f, err := toFloat64(item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = float32(f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to []float32", raw)
	}
}

func toFloat32Slices(raw interface{}) ([][]float32, error) {
	switch v := raw.(type) {
	case [][]float32:
		out := make([][]float32, len(v))
		for i, slice := range v {
			out[i] = append([]float32(nil), slice...)
		}
		return out, nil
	case []interface{}:
		out := make([][]float32, len(v))
		for i, item := range v {
			slice, err := toFloat32Slice(item)
			if err != nil {
				return nil, fmt.Errorf("slice %d: %w", i, err)
			}
			out[i] = slice
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to [][]float32", raw)
	}
}
