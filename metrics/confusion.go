package metrics

import (
	"fmt"

	"github.com/sanjibansg/general-perceivers/tensor"
)

// ConfusionMatrix tallies predictions against ground-truth classes
// across one or more evaluation batches.
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int // [true_class][predicted_class]
	TotalSamples int

	// Cached aggregates to avoid recomputation between updates
	cached     map[string]float64
	cacheValid bool
}

// NewConfusionMatrix creates an empty confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{
		NumClasses: numClasses,
		Matrix:     matrix,
		cached:     make(map[string]float64),
	}
}

// Reset clears all tallies
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
	cm.invalidate()
}

// Update tallies one batch of flattened logits (examples x outputs)
// against ground-truth class ids. The predicted class is the argmax
// of each logit row; samples whose true or predicted class falls
// outside the matrix's range are skipped.
func (cm *ConfusionMatrix) Update(logits, targets *tensor.Tensor) error {
	if len(logits.Shape) != 2 {
		return fmt.Errorf("logits must be 2-dimensional, got shape %v", logits.Shape)
	}
	numExamples := logits.Shape[0]
	numOutputs := logits.Shape[1]
	if targets.NumElems != numExamples {
		return fmt.Errorf("target count %d does not match example count %d", targets.NumElems, numExamples)
	}

	logitData, err := logits.GetFloat32Data()
	if err != nil {
		return fmt.Errorf("reading logits: %w", err)
	}
	targetData, err := targets.GetInt32Data()
	if err != nil {
		return fmt.Errorf("reading targets: %w", err)
	}

	for i := 0; i < numExamples; i++ {
		trueClass := int(targetData[i])
		predClass := argmaxRow(logitData, i, numOutputs)
		if trueClass < 0 || trueClass >= cm.NumClasses || predClass >= cm.NumClasses {
			continue
		}
		cm.Matrix[trueClass][predClass]++
		cm.TotalSamples++
	}

	cm.invalidate()
	return nil
}

// Accuracy returns the fraction of samples on the matrix diagonal
func (cm *ConfusionMatrix) Accuracy() float64 {
	return cm.memo("accuracy", func() float64 {
		if cm.TotalSamples == 0 {
			return 0.0
		}
		correct := 0
		for class := 0; class < cm.NumClasses; class++ {
			correct += cm.Matrix[class][class]
		}
		return float64(correct) / float64(cm.TotalSamples)
	})
}

// PrecisionForClass returns tp / (tp + fp) for one class
func (cm *ConfusionMatrix) PrecisionForClass(class int) float64 {
	tp := float64(cm.Matrix[class][class])
	fp := 0.0
	for other := 0; other < cm.NumClasses; other++ {
		if other != class {
			fp += float64(cm.Matrix[other][class])
		}
	}
	if tp+fp == 0 {
		return 0.0
	}
	return tp / (tp + fp)
}

// RecallForClass returns tp / (tp + fn) for one class
func (cm *ConfusionMatrix) RecallForClass(class int) float64 {
	tp := float64(cm.Matrix[class][class])
	fn := 0.0
	for other := 0; other < cm.NumClasses; other++ {
		if other != class {
			fn += float64(cm.Matrix[class][other])
		}
	}
	if tp+fn == 0 {
		return 0.0
	}
	return tp / (tp + fn)
}

// F1ForClass returns the harmonic mean of one class's precision and recall
func (cm *ConfusionMatrix) F1ForClass(class int) float64 {
	precision := cm.PrecisionForClass(class)
	recall := cm.RecallForClass(class)
	if precision+recall == 0 {
		return 0.0
	}
	return 2 * (precision * recall) / (precision + recall)
}

// MacroPrecision averages per-class precision over classes that
// received at least one prediction
func (cm *ConfusionMatrix) MacroPrecision() float64 {
	return cm.memo("macro_precision", func() float64 {
		sum := 0.0
		validClasses := 0
		for class := 0; class < cm.NumClasses; class++ {
			tp := float64(cm.Matrix[class][class])
			fp := 0.0
			for other := 0; other < cm.NumClasses; other++ {
				if other != class {
					fp += float64(cm.Matrix[other][class])
				}
			}
			if tp+fp > 0 {
				sum += tp / (tp + fp)
				validClasses++
			}
		}
		if validClasses == 0 {
			return 0.0
		}
		return sum / float64(validClasses)
	})
}

// MacroRecall averages per-class recall over classes with at least
// one true sample
func (cm *ConfusionMatrix) MacroRecall() float64 {
	return cm.memo("macro_recall", func() float64 {
		sum := 0.0
		validClasses := 0
		for class := 0; class < cm.NumClasses; class++ {
			tp := float64(cm.Matrix[class][class])
			fn := 0.0
			for other := 0; other < cm.NumClasses; other++ {
				if other != class {
					fn += float64(cm.Matrix[class][other])
				}
			}
			if tp+fn > 0 {
				sum += tp / (tp + fn)
				validClasses++
			}
		}
		if validClasses == 0 {
			return 0.0
		}
		return sum / float64(validClasses)
	})
}

// MacroF1 returns the harmonic mean of macro precision and macro recall
func (cm *ConfusionMatrix) MacroF1() float64 {
	precision := cm.MacroPrecision()
	recall := cm.MacroRecall()
	if precision+recall == 0 {
		return 0.0
	}
	return 2 * (precision * recall) / (precision + recall)
}

func (cm *ConfusionMatrix) memo(key string, compute func() float64) float64 {
	if cm.cacheValid {
		if value, exists := cm.cached[key]; exists {
			return value
		}
	}
	result := compute()
	cm.cached[key] = result
	cm.cacheValid = true
	return result
}

func (cm *ConfusionMatrix) invalidate() {
	cm.cacheValid = false
	cm.cached = make(map[string]float64)
}
