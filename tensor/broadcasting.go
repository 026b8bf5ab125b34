package tensor

import (
	"fmt"
)

// BroadcastShapes resolves the common shape of two operands under
// NumPy-style rules: align trailing dimensions, each pair must be equal or
// contain a 1, missing leading dimensions count as 1.
func BroadcastShapes(shape1, shape2 []int) ([]int, error) {
	maxDims := len(shape1)
	if len(shape2) > maxDims {
		maxDims = len(shape2)
	}

	resultShape := make([]int, maxDims)
	for i := 0; i < maxDims; i++ {
		dim1, dim2 := 1, 1
		if idx := len(shape1) - 1 - i; idx >= 0 {
			dim1 = shape1[idx]
		}
		if idx := len(shape2) - 1 - i; idx >= 0 {
			dim2 = shape2[idx]
		}

		resultIdx := maxDims - 1 - i
		switch {
		case dim1 == dim2:
			resultShape[resultIdx] = dim1
		case dim1 == 1:
			resultShape[resultIdx] = dim2
		case dim2 == 1:
			resultShape[resultIdx] = dim1
		default:
			return nil, fmt.Errorf("shapes %v and %v are not broadcastable: dimension %d (%d vs %d)",
				shape1, shape2, i, dim1, dim2)
		}
	}
	return resultShape, nil
}

// AreBroadcastable reports whether two shapes share a common broadcast shape.
func AreBroadcastable(shape1, shape2 []int) bool {
	_, err := BroadcastShapes(shape1, shape2)
	return err == nil
}

// broadcastIndexMap maps every flat index of dstShape to the flat index of
// the source element it reads under broadcasting. srcShape must already be
// broadcastable to dstShape.
func broadcastIndexMap(srcShape, dstShape []int) []int {
	numDims := len(dstShape)
	srcDims := len(srcShape)
	total := calculateNumElements(dstShape)

	indexMap := make([]int, total)
	coords := make([]int, numDims)
	for dstIdx := 0; dstIdx < total; dstIdx++ {
		remaining := dstIdx
		for i := numDims - 1; i >= 0; i-- {
			coords[i] = remaining % dstShape[i]
			remaining /= dstShape[i]
		}

		srcIdx := 0
		srcStride := 1
		for i := numDims - 1; i >= 0; i-- {
			srcDimIdx := i - (numDims - srcDims)
			if srcDimIdx < 0 {
				continue
			}
			coord := coords[i]
			if srcShape[srcDimIdx] == 1 {
				coord = 0
			}
			srcIdx += coord * srcStride
			srcStride *= srcShape[srcDimIdx]
		}
		indexMap[dstIdx] = srcIdx
	}
	return indexMap
}

// BroadcastTo materializes a tensor expanded to the target shape.
func BroadcastTo(t *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(t.Shape, targetShape) {
		return t.Clone()
	}
	common, err := BroadcastShapes(t.Shape, targetShape)
	if err != nil {
		return nil, fmt.Errorf("cannot broadcast tensor with shape %v to %v: %v", t.Shape, targetShape, err)
	}
	if !shapesEqual(common, targetShape) {
		return nil, fmt.Errorf("cannot broadcast tensor with shape %v to %v: target shape must not drop dimensions", t.Shape, targetShape)
	}

	result, err := Zeros(targetShape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	indexMap := broadcastIndexMap(t.Shape, targetShape)
	switch t.DType {
	case Float32:
		srcData := t.Data.([]float32)
		dstData := result.Data.([]float32)
		for i, src := range indexMap {
			dstData[i] = srcData[src]
		}
	case Int32:
		srcData := t.Data.([]int32)
		dstData := result.Data.([]int32)
		for i, src := range indexMap {
			dstData[i] = srcData[src]
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for broadcasting: %s", t.DType)
	}
	return result, nil
}

func broadcastBinaryOp(t1, t2 *Tensor, name string, f func(a, b float32) float32) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	if t1.DType != Float32 {
		return nil, fmt.Errorf("%s only supports Float32 dtype", name)
	}

	outputShape, err := BroadcastShapes(t1.Shape, t2.Shape)
	if err != nil {
		return nil, err
	}

	result, err := Zeros(outputShape, Float32, t1.Device)
	if err != nil {
		return nil, err
	}

	map1 := broadcastIndexMap(t1.Shape, outputShape)
	map2 := broadcastIndexMap(t2.Shape, outputShape)
	data1 := t1.Data.([]float32)
	data2 := t2.Data.([]float32)
	resultData := result.Data.([]float32)
	for i := range resultData {
		resultData[i] = f(data1[map1[i]], data2[map2[i]])
	}
	return result, nil
}

// AddBroadcast computes t1 + t2 with shape broadcasting.
func AddBroadcast(t1, t2 *Tensor) (*Tensor, error) {
	return broadcastBinaryOp(t1, t2, "AddBroadcast", func(a, b float32) float32 { return a + b })
}

// SubBroadcast computes t1 - t2 with shape broadcasting.
func SubBroadcast(t1, t2 *Tensor) (*Tensor, error) {
	return broadcastBinaryOp(t1, t2, "SubBroadcast", func(a, b float32) float32 { return a - b })
}

// MulBroadcast computes t1 * t2 with shape broadcasting.
func MulBroadcast(t1, t2 *Tensor) (*Tensor, error) {
	return broadcastBinaryOp(t1, t2, "MulBroadcast", func(a, b float32) float32 { return a * b })
}
