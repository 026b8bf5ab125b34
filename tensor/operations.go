package tensor

import (
	"fmt"
	"math"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if t1.DType != t2.DType {
		return fmt.Errorf("tensors must have same dtype: %s vs %s", t1.DType, t2.DType)
	}
	if t1.Device != t2.Device {
		return fmt.Errorf("tensors must be on same device: %s vs %s", t1.Device, t2.Device)
	}
	return nil
}

func checkShapesCompatible(shape1, shape2 []int) ([]int, error) {
	if len(shape1) != len(shape2) {
		return nil, fmt.Errorf("tensor shapes must have same number of dimensions: %v vs %v", shape1, shape2)
	}
	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return nil, fmt.Errorf("tensor shapes must match: %v vs %v", shape1, shape2)
		}
	}
	return shape1, nil
}

func binaryOp(t1, t2 *Tensor, name string, f32 func(a, b float32) float32, i32 func(a, b int32) int32) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	outputShape, err := checkShapesCompatible(t1.Shape, t2.Shape)
	if err != nil {
		return nil, err
	}

	result, err := Zeros(outputShape, t1.DType, t1.Device)
	if err != nil {
		return nil, err
	}

	switch t1.DType {
	case Float32:
		data1 := t1.Data.([]float32)
		data2 := t2.Data.([]float32)
		resultData := result.Data.([]float32)
		for i := 0; i < t1.NumElems; i++ {
			resultData[i] = f32(data1[i], data2[i])
		}
	case Int32:
		data1 := t1.Data.([]int32)
		data2 := t2.Data.([]int32)
		resultData := result.Data.([]int32)
		for i := 0; i < t1.NumElems; i++ {
			resultData[i] = i32(data1[i], data2[i])
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for %s: %s", name, t1.DType)
	}
	return result, nil
}

// Add computes elementwise t1 + t2. Shapes must match exactly; see
// AddBroadcast for the broadcasting variant.
func Add(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp(t1, t2, "Add",
		func(a, b float32) float32 { return a + b },
		func(a, b int32) int32 { return a + b })
}

// Sub computes elementwise t1 - t2.
func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp(t1, t2, "Sub",
		func(a, b float32) float32 { return a - b },
		func(a, b int32) int32 { return a - b })
}

// Mul computes elementwise t1 * t2.
func Mul(t1, t2 *Tensor) (*Tensor, error) {
	return binaryOp(t1, t2, "Mul",
		func(a, b float32) float32 { return a * b },
		func(a, b int32) int32 { return a * b })
}

// Div computes elementwise t1 / t2, rejecting zero divisors.
func Div(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	outputShape, err := checkShapesCompatible(t1.Shape, t2.Shape)
	if err != nil {
		return nil, err
	}

	result, err := Zeros(outputShape, t1.DType, t1.Device)
	if err != nil {
		return nil, err
	}

	switch t1.DType {
	case Float32:
		data1 := t1.Data.([]float32)
		data2 := t2.Data.([]float32)
		resultData := result.Data.([]float32)
		for i := 0; i < t1.NumElems; i++ {
			if data2[i] == 0 {
				return nil, fmt.Errorf("division by zero at index %d", i)
			}
			resultData[i] = data1[i] / data2[i]
		}
	case Int32:
		data1 := t1.Data.([]int32)
		data2 := t2.Data.([]int32)
		resultData := result.Data.([]int32)
		for i := 0; i < t1.NumElems; i++ {
			if data2[i] == 0 {
				return nil, fmt.Errorf("division by zero at index %d", i)
			}
			resultData[i] = data1[i] / data2[i]
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for Div: %s", t1.DType)
	}
	return result, nil
}

func unaryFloatOp(t *Tensor, name string, f func(x float64) float64) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("%s only supports Float32 dtype", name)
	}

	result, err := Zeros(t.Shape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float32)
	resultData := result.Data.([]float32)
	for i := 0; i < t.NumElems; i++ {
		resultData[i] = float32(f(float64(data[i])))
	}
	return result, nil
}

// ReLU zeroes negative entries.
func ReLU(t *Tensor) (*Tensor, error) {
	switch t.DType {
	case Float32:
		result, err := Zeros(t.Shape, t.DType, t.Device)
		if err != nil {
			return nil, err
		}
		data := t.Data.([]float32)
		resultData := result.Data.([]float32)
		for i := 0; i < t.NumElems; i++ {
			if data[i] > 0 {
				resultData[i] = data[i]
			}
		}
		return result, nil
	case Int32:
		result, err := Zeros(t.Shape, t.DType, t.Device)
		if err != nil {
			return nil, err
		}
		data := t.Data.([]int32)
		resultData := result.Data.([]int32)
		for i := 0; i < t.NumElems; i++ {
			if data[i] > 0 {
				resultData[i] = data[i]
			}
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported dtype for ReLU: %s", t.DType)
	}
}

func Sigmoid(t *Tensor) (*Tensor, error) {
	return unaryFloatOp(t, "Sigmoid", func(x float64) float64 { return 1.0 / (1.0 + math.Exp(-x)) })
}

func Tanh(t *Tensor) (*Tensor, error) {
	return unaryFloatOp(t, "Tanh", math.Tanh)
}

func Exp(t *Tensor) (*Tensor, error) {
	return unaryFloatOp(t, "Exp", math.Exp)
}

// Log computes the natural logarithm, rejecting non-positive entries.
func Log(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Log only supports Float32 dtype")
	}

	result, err := Zeros(t.Shape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float32)
	resultData := result.Data.([]float32)
	for i := 0; i < t.NumElems; i++ {
		if data[i] <= 0 {
			return nil, fmt.Errorf("log of non-positive value at index %d: %f", i, data[i])
		}
		resultData[i] = float32(math.Log(float64(data[i])))
	}
	return result, nil
}

// Sqrt computes the elementwise square root, rejecting negative entries.
func Sqrt(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Sqrt only supports Float32 dtype")
	}

	result, err := Zeros(t.Shape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float32)
	resultData := result.Data.([]float32)
	for i := 0; i < t.NumElems; i++ {
		if data[i] < 0 {
			return nil, fmt.Errorf("sqrt of negative value at index %d: %f", i, data[i])
		}
		resultData[i] = float32(math.Sqrt(float64(data[i])))
	}
	return result, nil
}
