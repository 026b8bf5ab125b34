package metrics

import (
	"fmt"
	"time"

	"github.com/sanjibansg/general-perceivers/tensor"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ForBatch computes the full metric record for one forward pass.
//
// logits holds the flattened per-example scores (examples x classes),
// targets the ground-truth class ids, mask the attention mask whose
// leading dimension is the example count, and perExample the
// unreduced cross-entropy losses. numBytes is the byte width of one
// input token and numClasses the number of classes in the data.
//
// The per-class maps cover every class id 0..numClasses-1, with zero
// entries for classes absent from the batch. Each example's loss,
// correctness indicator, and byte count are attributed to its
// ground-truth class.
func ForBatch(logits, targets, mask *tensor.Tensor, perExample []float32, prefix string, numBytes, numClasses int, elapsed time.Duration) (Record, error) {
	if logits == nil || targets == nil {
		return nil, fmt.Errorf("logits and targets are required")
	}
	if mask == nil {
		return nil, fmt.Errorf("attention mask is required")
	}
	if numClasses <= 0 {
		return nil, fmt.Errorf("number of classes must be positive, got %d", numClasses)
	}
	if len(logits.Shape) != 2 {
		return nil, fmt.Errorf("logits must be 2-dimensional, got shape %v", logits.Shape)
	}

	numExamples := logits.Shape[0]
	numOutputs := logits.Shape[1]
	if targets.NumElems != numExamples {
		return nil, fmt.Errorf("target count %d does not match example count %d", targets.NumElems, numExamples)
	}
	if len(perExample) != numExamples {
		return nil, fmt.Errorf("per-example loss count %d does not match example count %d", len(perExample), numExamples)
	}
	if len(mask.Shape) == 0 || mask.Shape[0] != numExamples {
		return nil, fmt.Errorf("mask leading dimension %v does not match example count %d", mask.Shape, numExamples)
	}

	logitData, err := logits.GetFloat32Data()
	if err != nil {
		return nil, fmt.Errorf("reading logits: %w", err)
	}
	targetData, err := targets.GetInt32Data()
	if err != nil {
		return nil, fmt.Errorf("reading targets: %w", err)
	}
	rowSums, err := maskRowSums(mask, numExamples)
	if err != nil {
		return nil, err
	}

	lossByClass := make(map[int]float64, numClasses)
	accByClass := make(map[int]float64, numClasses)
	bytesByClass := make(map[int]float64, numClasses)
	for class := 0; class < numClasses; class++ {
		lossByClass[class] = 0
		accByClass[class] = 0
		bytesByClass[class] = 0
	}

	losses := make([]float64, numExamples)
	correct := make([]float64, numExamples)
	exampleBytes := make([]float64, numExamples)

	for i := 0; i < numExamples; i++ {
		class := int(targetData[i])
		if class < 0 || class >= numClasses {
			return nil, fmt.Errorf("target class %d out of range [0, %d)", class, numClasses)
		}

		predicted := argmaxRow(logitData, i, numOutputs)
		if predicted == class {
			correct[i] = 1
			accByClass[class]++
		}

		losses[i] = float64(perExample[i])
		lossByClass[class] += losses[i]

		exampleBytes[i] = rowSums[i] * float64(numBytes)
		bytesByClass[class] += exampleBytes[i]
	}

	totalBytes := floats.Sum(exampleBytes)
	bytesPerSecond := 0.0
	if seconds := elapsed.Seconds(); seconds > 0 {
		bytesPerSecond = totalBytes / seconds
	}

	return Record{
		prefix + "/bytes_processed":            NewScalar(totalBytes),
		prefix + "/bytes_processed_per_second": NewScalar(bytesPerSecond),
		prefix + "/class_wise_bytes_processed": NewByClass(bytesByClass),
		prefix + "/loss_avg":                   NewScalar(stat.Mean(losses, nil)),
		prefix + "/acc_avg":                    NewScalar(stat.Mean(correct, nil)),
		prefix + "/loss_class":                 NewByClass(lossByClass),
		prefix + "/acc_class":                  NewByClass(accByClass),
	}, nil
}

// maskRowSums sums the mask entries belonging to each example. The
// mask's trailing dimensions are flattened, so shapes like [n],
// [n, seq], and [n, seq, 1] all work.
func maskRowSums(mask *tensor.Tensor, numExamples int) ([]float64, error) {
	rowSize := mask.NumElems / numExamples
	if rowSize*numExamples != mask.NumElems {
		return nil, fmt.Errorf("mask size %d is not divisible by example count %d", mask.NumElems, numExamples)
	}

	sums := make([]float64, numExamples)
	switch data := mask.Data.(type) {
	case []float32:
		for i := 0; i < numExamples; i++ {
			for j := 0; j < rowSize; j++ {
				sums[i] += float64(data[i*rowSize+j])
			}
		}
	case []int32:
		for i := 0; i < numExamples; i++ {
			for j := 0; j < rowSize; j++ {
				sums[i] += float64(data[i*rowSize+j])
			}
		}
	default:
		return nil, fmt.Errorf("unsupported mask data type: %T", mask.Data)
	}
	return sums, nil
}

func argmaxRow(data []float32, row, width int) int {
	best := 0
	bestValue := data[row*width]
	for j := 1; j < width; j++ {
		if data[row*width+j] > bestValue {
			bestValue = data[row*width+j]
			best = j
		}
	}
	return best
}
