package training

import (
	"encoding/json"
	"fmt"

	"github.com/sanjibansg/general-perceivers/tensor"
)

// ModelConfig describes a model's architecture. NumClasses drives the
// flattening of model output into (examples x classes) rows during
// training and evaluation.
type ModelConfig struct {
	InputSize  int `json:"input_size"`
	HiddenSize int `json:"hidden_size"`
	NumLayers  int `json:"num_layers"`
	NumClasses int `json:"n_classes"`
}

// ToJSON serializes the config with stable, readable formatting
func (c ModelConfig) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate checks the config for impossible values
func (c ModelConfig) Validate() error {
	if c.InputSize <= 0 {
		return &ConfigError{Field: "input_size", Message: fmt.Sprintf("must be positive, got %d", c.InputSize)}
	}
	if c.NumClasses <= 0 {
		return &ConfigError{Field: "n_classes", Message: fmt.Sprintf("must be positive, got %d", c.NumClasses)}
	}
	if c.NumLayers < 1 {
		return &ConfigError{Field: "num_layers", Message: fmt.Sprintf("must be at least 1, got %d", c.NumLayers)}
	}
	if c.NumLayers > 1 && c.HiddenSize <= 0 {
		return &ConfigError{Field: "hidden_size", Message: fmt.Sprintf("must be positive for multi-layer models, got %d", c.HiddenSize)}
	}
	return nil
}

// Model is a trainable module that knows its own architecture config
type Model interface {
	Module
	Config() ModelConfig
}

// Classifier is a feed-forward classification model: a flatten stage
// followed by NumLayers linear layers with ReLU activations between
// them. The final layer emits one logit per class.
type Classifier struct {
	stack  *Sequential
	config ModelConfig
}

// NewClassifier builds a classifier from the given config
func NewClassifier(config ModelConfig, device tensor.DeviceType) (*Classifier, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	stack := NewSequential(NewFlatten())

	inSize := config.InputSize
	for layer := 0; layer < config.NumLayers-1; layer++ {
		linear, err := NewLinear(inSize, config.HiddenSize, true, device)
		if err != nil {
			return nil, fmt.Errorf("building hidden layer %d: %w", layer, err)
		}
		stack.Add(linear)
		stack.Add(NewReLU())
		inSize = config.HiddenSize
	}

	output, err := NewLinear(inSize, config.NumClasses, true, device)
	if err != nil {
		return nil, fmt.Errorf("building output layer: %w", err)
	}
	stack.Add(output)

	return &Classifier{stack: stack, config: config}, nil
}

func (c *Classifier) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return c.stack.Forward(input)
}

func (c *Classifier) Parameters() []*tensor.Tensor { return c.stack.Parameters() }

func (c *Classifier) Train() { c.stack.Train() }

func (c *Classifier) Eval() { c.stack.Eval() }

func (c *Classifier) IsTraining() bool { return c.stack.IsTraining() }

func (c *Classifier) Config() ModelConfig { return c.config }
