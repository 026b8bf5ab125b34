package training

import "fmt"

// ConfigError reports missing or invalid trainer configuration, such
// as a training step requested without an optimizer.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// ShapeError reports tensor dimensions that cannot satisfy an
// operation, such as model output that does not divide evenly into
// the configured class count.
type ShapeError struct {
	Op      string
	Shape   []int
	Message string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("shape error in %s: %s (shape %v)", e.Op, e.Message, e.Shape)
}
