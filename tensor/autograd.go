package tensor

import (
	"fmt"
	"math"
)

// reduceGradientToShape reduces a gradient tensor to match the target shape.
// Needed when broadcasting occurred during the forward pass.
func reduceGradientToShape(grad *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(grad.Shape, targetShape) {
		return grad.Clone()
	}

	if len(targetShape) == 1 && targetShape[0] == 1 {
		return sumAllElements(grad)
	}

	result := grad
	var err error

	// Sum over leading dimensions the target does not have.
	dimsToSum := len(grad.Shape) - len(targetShape)
	for i := 0; i < dimsToSum; i++ {
		result, err = sumOverDimension(result, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to sum over dimension: %v", err)
		}
	}

	// Sum dimensions that were broadcast from size 1.
	for i := 0; i < len(targetShape); i++ {
		if i < len(result.Shape) && result.Shape[i] != targetShape[i] && targetShape[i] == 1 {
			result, err = sumOverDimension(result, i)
			if err != nil {
				return nil, fmt.Errorf("failed to sum over broadcast dimension: %v", err)
			}
		}
	}

	if !shapesEqual(result.Shape, targetShape) {
		result, err = result.Reshape(targetShape)
		if err != nil {
			return nil, fmt.Errorf("failed to reshape gradient: %v", err)
		}
	}
	return result, nil
}

func sumAllElements(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for gradient sum: %s", t.DType)
	}
	data := t.Data.([]float32)
	sum := float32(0)
	for _, val := range data {
		sum += val
	}
	return NewTensor([]int{1}, Float32, t.Device, []float32{sum})
}

func sumOverDimension(t *Tensor, dim int) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("dimension %d out of bounds for tensor with %d dimensions", dim, len(t.Shape))
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for gradient sum: %s", t.DType)
	}

	outputShape := make([]int, 0, len(t.Shape)-1)
	for i, size := range t.Shape {
		if i != dim {
			outputShape = append(outputShape, size)
		}
	}
	if len(outputShape) == 0 {
		return sumAllElements(t)
	}

	result, err := Zeros(outputShape, Float32, t.Device)
	if err != nil {
		return nil, err
	}

	inputData := t.Data.([]float32)
	outputData := result.Data.([]float32)
	inputStrides := calculateStrides(t.Shape)

	for outputIdx := 0; outputIdx < result.NumElems; outputIdx++ {
		outputCoords := getIndicesFromLinear(outputIdx, outputShape)

		inputCoords := make([]int, len(t.Shape))
		outputDim := 0
		for inputDim := 0; inputDim < len(t.Shape); inputDim++ {
			if inputDim == dim {
				continue
			}
			inputCoords[inputDim] = outputCoords[outputDim]
			outputDim++
		}

		sum := float32(0)
		for k := 0; k < t.Shape[dim]; k++ {
			inputCoords[dim] = k
			sum += inputData[getIndex(inputCoords, inputStrides)]
		}
		outputData[outputIdx] = sum
	}
	return result, nil
}

// AddOp implements broadcasting addition.
type AddOp struct {
	inputs []*Tensor
}

func (op *AddOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("AddOp requires exactly 2 inputs")
	}
	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := AddBroadcast(a, b)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad
	return result
}

func (op *AddOp) Backward(gradOut *Tensor) []*Tensor {
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		panic(fmt.Sprintf("Failed to reduce gradient for input A: %v", err))
	}
	gradB, err := reduceGradientToShape(gradOut, op.inputs[1].Shape)
	if err != nil {
		panic(fmt.Sprintf("Failed to reduce gradient for input B: %v", err))
	}
	return []*Tensor{gradA, gradB}
}

func (op *AddOp) Inputs() []*Tensor {
	return op.inputs
}

// SubOp implements broadcasting subtraction.
type SubOp struct {
	inputs []*Tensor
}

func (op *SubOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("SubOp requires exactly 2 inputs")
	}
	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := SubBroadcast(a, b)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad
	return result
}

func (op *SubOp) Backward(gradOut *Tensor) []*Tensor {
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		panic(fmt.Sprintf("Failed to reduce gradient for input A: %v", err))
	}

	negGradOut, err := gradOut.Clone()
	if err != nil {
		panic(fmt.Sprintf("Failed to clone gradient for negation: %v", err))
	}
	if negData, err := negGradOut.GetFloat32Data(); err == nil {
		for i := range negData {
			negData[i] = -negData[i]
		}
	}

	gradB, err := reduceGradientToShape(negGradOut, op.inputs[1].Shape)
	if err != nil {
		panic(fmt.Sprintf("Failed to reduce gradient for input B: %v", err))
	}
	return []*Tensor{gradA, gradB}
}

func (op *SubOp) Inputs() []*Tensor {
	return op.inputs
}

// MulOp implements broadcasting elementwise multiplication.
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MulOp requires exactly 2 inputs")
	}
	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := MulBroadcast(a, b)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad
	return result
}

func (op *MulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	gradAFull, err := MulBroadcast(gradOut, b)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed for gradA: %v", err))
	}
	gradA, err := reduceGradientToShape(gradAFull, a.Shape)
	if err != nil {
		panic(fmt.Sprintf("Failed to reduce gradient for input A: %v", err))
	}

	gradBFull, err := MulBroadcast(gradOut, a)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed for gradB: %v", err))
	}
	gradB, err := reduceGradientToShape(gradBFull, b.Shape)
	if err != nil {
		panic(fmt.Sprintf("Failed to reduce gradient for input B: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

func (op *MulOp) Inputs() []*Tensor {
	return op.inputs
}

// MatMulOp implements 2-D matrix multiplication.
type MatMulOp struct {
	inputs []*Tensor
}

func (op *MatMulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MatMulOp requires exactly 2 inputs")
	}
	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := MatMul(a, b)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad
	return result
}

func (op *MatMulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	// d(A @ B)/dA = gradOut @ B^T, d(A @ B)/dB = A^T @ gradOut
	bT, err := Transpose(b, 0, 1)
	if err != nil {
		panic(fmt.Sprintf("Failed to transpose B: %v", err))
	}
	gradA, err := MatMul(gradOut, bT)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed for gradA: %v", err))
	}

	aT, err := Transpose(a, 0, 1)
	if err != nil {
		panic(fmt.Sprintf("Failed to transpose A: %v", err))
	}
	gradB, err := MatMul(aT, gradOut)
	if err != nil {
		panic(fmt.Sprintf("Backward pass failed for gradB: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

func (op *MatMulOp) Inputs() []*Tensor {
	return op.inputs
}

// ReLUOp implements the ReLU activation.
type ReLUOp struct {
	inputs []*Tensor
}

func (op *ReLUOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ReLUOp requires exactly 1 input")
	}
	a := inputs[0]
	op.inputs = inputs

	result, err := ReLU(a)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *ReLUOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]

	grad, err := gradOut.Clone()
	if err != nil {
		panic(fmt.Sprintf("Failed to clone gradient: %v", err))
	}
	inputData := a.Data.([]float32)
	gradData := grad.Data.([]float32)
	for i := range gradData {
		if inputData[i] <= 0 {
			gradData[i] = 0
		}
	}
	return []*Tensor{grad}
}

func (op *ReLUOp) Inputs() []*Tensor {
	return op.inputs
}

// ReshapeOp reinterprets the input's shape while sharing its data.
type ReshapeOp struct {
	inputs []*Tensor
	shape  []int
}

func (op *ReshapeOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ReshapeOp requires exactly 1 input")
	}
	a := inputs[0]
	op.inputs = inputs

	result, err := a.Reshape(op.shape)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *ReshapeOp) Backward(gradOut *Tensor) []*Tensor {
	// Clone before reshaping: the returned gradient is accumulated into in
	// place and must not alias the downstream gradient's storage.
	clone, err := gradOut.Clone()
	if err != nil {
		panic(fmt.Sprintf("Failed to clone gradient: %v", err))
	}
	grad, err := clone.Reshape(op.inputs[0].Shape)
	if err != nil {
		panic(fmt.Sprintf("Failed to reshape gradient: %v", err))
	}
	return []*Tensor{grad}
}

func (op *ReshapeOp) Inputs() []*Tensor {
	return op.inputs
}

// MeanOp reduces a tensor to the scalar mean of its elements.
type MeanOp struct {
	inputs []*Tensor
}

func (op *MeanOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("MeanOp requires exactly 1 input")
	}
	a := inputs[0]
	op.inputs = inputs

	if a.DType != Float32 {
		panic(fmt.Sprintf("Forward pass failed: MeanOp only supports Float32 dtype, got %s", a.DType))
	}
	data := a.Data.([]float32)
	sum := float32(0)
	for _, v := range data {
		sum += v
	}
	result, err := NewTensor([]int{1}, Float32, a.Device, []float32{sum / float32(a.NumElems)})
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = a.requiresGrad
	return result
}

func (op *MeanOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	outGrad := gradOut.Data.([]float32)[0]

	gradData := make([]float32, a.NumElems)
	scale := outGrad / float32(a.NumElems)
	for i := range gradData {
		gradData[i] = scale
	}
	grad, err := NewTensor(a.Shape, Float32, a.Device, gradData)
	if err != nil {
		panic(fmt.Sprintf("Failed to build mean gradient: %v", err))
	}
	return []*Tensor{grad}
}

func (op *MeanOp) Inputs() []*Tensor {
	return op.inputs
}

// SoftmaxCrossEntropy computes per-example cross-entropy losses for Float32
// logits of shape [N, C] against Int32 class targets of shape [N]. It returns
// the losses and the row softmax used to compute them.
func SoftmaxCrossEntropy(logits, targets *Tensor) (*Tensor, []float32, error) {
	if logits.DType != Float32 {
		return nil, nil, fmt.Errorf("logits must be Float32, got %s", logits.DType)
	}
	if targets.DType != Int32 {
		return nil, nil, fmt.Errorf("targets must be Int32, got %s", targets.DType)
	}
	if len(logits.Shape) != 2 {
		return nil, nil, fmt.Errorf("logits must be 2-dimensional, got shape %v", logits.Shape)
	}
	numExamples, numClasses := logits.Shape[0], logits.Shape[1]
	if targets.NumElems != numExamples {
		return nil, nil, fmt.Errorf("logits rows %d do not match target count %d", numExamples, targets.NumElems)
	}

	logitData := logits.Data.([]float32)
	targetData := targets.Data.([]int32)

	softmax := make([]float32, numExamples*numClasses)
	lossData := make([]float32, numExamples)
	for i := 0; i < numExamples; i++ {
		row := logitData[i*numClasses : (i+1)*numClasses]

		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}
		var sumExp float32
		for j, v := range row {
			e := float32(math.Exp(float64(v - maxVal)))
			softmax[i*numClasses+j] = e
			sumExp += e
		}
		for j := range row {
			softmax[i*numClasses+j] /= sumExp
		}

		target := targetData[i]
		if target < 0 || int(target) >= numClasses {
			return nil, nil, fmt.Errorf("target class %d out of range [0, %d)", target, numClasses)
		}
		prob := softmax[i*numClasses+int(target)]
		if prob < 1e-10 {
			prob = 1e-10
		}
		lossData[i] = float32(-math.Log(float64(prob)))
	}

	losses, err := NewTensor([]int{numExamples}, Float32, logits.Device, lossData)
	if err != nil {
		return nil, nil, err
	}
	return losses, softmax, nil
}

// SoftmaxCrossEntropyOp produces per-example losses with no reduction; the
// targets input receives no gradient.
type SoftmaxCrossEntropyOp struct {
	inputs  []*Tensor
	softmax []float32
}

func (op *SoftmaxCrossEntropyOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("SoftmaxCrossEntropyOp requires exactly 2 inputs")
	}
	logits, targets := inputs[0], inputs[1]
	op.inputs = inputs

	losses, softmax, err := SoftmaxCrossEntropy(logits, targets)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}
	op.softmax = softmax

	losses.creator = op
	losses.requiresGrad = logits.requiresGrad
	return losses
}

func (op *SoftmaxCrossEntropyOp) Backward(gradOut *Tensor) []*Tensor {
	logits, targets := op.inputs[0], op.inputs[1]
	numExamples, numClasses := logits.Shape[0], logits.Shape[1]

	outGrad := gradOut.Data.([]float32)
	targetData := targets.Data.([]int32)

	gradData := make([]float32, numExamples*numClasses)
	copy(gradData, op.softmax)
	for i := 0; i < numExamples; i++ {
		gradData[i*numClasses+int(targetData[i])] -= 1.0
		for j := 0; j < numClasses; j++ {
			gradData[i*numClasses+j] *= outGrad[i]
		}
	}

	grad, err := NewTensor(logits.Shape, Float32, logits.Device, gradData)
	if err != nil {
		panic(fmt.Sprintf("Failed to build cross-entropy gradient: %v", err))
	}
	return []*Tensor{grad, nil}
}

func (op *SoftmaxCrossEntropyOp) Inputs() []*Tensor {
	return op.inputs
}

// AddAutograd performs addition with automatic differentiation.
func AddAutograd(a, b *Tensor) *Tensor {
	op := &AddOp{}
	return op.Forward(a, b)
}

// SubAutograd performs elementwise subtraction with automatic differentiation.
func SubAutograd(a, b *Tensor) *Tensor {
	op := &SubOp{}
	return op.Forward(a, b)
}

// MulAutograd performs elementwise multiplication with automatic differentiation.
func MulAutograd(a, b *Tensor) *Tensor {
	op := &MulOp{}
	return op.Forward(a, b)
}

// MatMulAutograd performs matrix multiplication with automatic differentiation.
func MatMulAutograd(a, b *Tensor) *Tensor {
	op := &MatMulOp{}
	return op.Forward(a, b)
}

// ReLUAutograd performs ReLU activation with automatic differentiation.
func ReLUAutograd(a *Tensor) *Tensor {
	op := &ReLUOp{}
	return op.Forward(a)
}

// ReshapeAutograd reshapes with automatic differentiation. The shape may
// contain one -1 dimension.
func ReshapeAutograd(a *Tensor, shape []int) *Tensor {
	op := &ReshapeOp{shape: shape}
	return op.Forward(a)
}

// MeanAutograd reduces to the scalar mean with automatic differentiation.
func MeanAutograd(a *Tensor) *Tensor {
	op := &MeanOp{}
	return op.Forward(a)
}

// SoftmaxCrossEntropyAutograd computes per-example cross-entropy losses with
// automatic differentiation.
func SoftmaxCrossEntropyAutograd(logits, targets *Tensor) *Tensor {
	op := &SoftmaxCrossEntropyOp{}
	return op.Forward(logits, targets)
}

// Backward runs reverse-mode differentiation from a scalar output, walking
// creator links in reverse topological order and accumulating gradients into
// every tensor that requires them.
func (t *Tensor) Backward() error {
	if t.creator == nil {
		return fmt.Errorf("backward called on a tensor with no creator")
	}
	if t.NumElems != 1 {
		return fmt.Errorf("backward requires a scalar output, got %d elements", t.NumElems)
	}

	// Topological order over non-leaf tensors: inputs before outputs.
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(x *Tensor)
	visit = func(x *Tensor) {
		if visited[x] || x.creator == nil {
			return
		}
		visited[x] = true
		for _, in := range x.creator.Inputs() {
			if in != nil {
				visit(in)
			}
		}
		order = append(order, x)
	}
	visit(t)

	seed, err := Ones([]int{1}, Float32, t.Device)
	if err != nil {
		return fmt.Errorf("failed to seed gradient: %v", err)
	}
	t.grad = seed

	for i := len(order) - 1; i >= 0; i-- {
		out := order[i]
		if out.grad == nil {
			continue
		}
		inputGrads := out.creator.Backward(out.grad)
		inputs := out.creator.Inputs()
		if len(inputGrads) != len(inputs) {
			return fmt.Errorf("operation returned %d gradients for %d inputs", len(inputGrads), len(inputs))
		}
		for j, in := range inputs {
			g := inputGrads[j]
			if g == nil || in == nil {
				continue
			}
			if !in.requiresGrad {
				continue
			}
			if err := in.accumulateGrad(g); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Tensor) accumulateGrad(g *Tensor) error {
	if !shapesEqual(g.Shape, t.Shape) {
		return fmt.Errorf("gradient shape %v does not match tensor shape %v", g.Shape, t.Shape)
	}
	if t.grad == nil {
		t.grad = g
		return nil
	}
	gradData := t.grad.Data.([]float32)
	newData := g.Data.([]float32)
	for i := range gradData {
		gradData[i] += newData[i]
	}
	return nil
}

// ClampGrad clamps the accumulated gradient's values into [min, max] in
// place. Tensors without a gradient are left untouched.
func (t *Tensor) ClampGrad(min, max float32) {
	if t.grad == nil {
		return
	}
	data := t.grad.Data.([]float32)
	for i, v := range data {
		if v < min {
			data[i] = min
		} else if v > max {
			data[i] = max
		}
	}
}
