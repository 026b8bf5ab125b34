package training

import (
	"fmt"
	"math"
)

// LRScheduler defines the interface for learning rate scheduling strategies
type LRScheduler interface {
	// GetLR returns the learning rate for the given training step
	GetLR(step int, baseLR float64) float64
	// GetName returns the scheduler name for logging
	GetName() string
	// GetState snapshots scheduler state for checkpointing
	GetState() map[string]interface{}
	// LoadState restores a snapshot taken by GetState
	LoadState(state map[string]interface{}) error
}

// StepLRScheduler reduces the learning rate by a factor every StepSize steps
type StepLRScheduler struct {
	StepSize int     // Steps between LR reductions
	Gamma    float64 // Multiplicative factor of LR decay
}

// NewStepLRScheduler creates a step learning rate scheduler
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 1000
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLRScheduler{
		StepSize: stepSize,
		Gamma:    gamma,
	}
}

func (s *StepLRScheduler) GetLR(step int, baseLR float64) float64 {
	times := step / s.StepSize
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

func (s *StepLRScheduler) GetState() map[string]interface{} {
	return map[string]interface{}{
		"type":      "step_lr",
		"step_size": s.StepSize,
		"gamma":     s.Gamma,
	}
}

func (s *StepLRScheduler) LoadState(state map[string]interface{}) error {
	if err := checkStateType(state, "step_lr"); err != nil {
		return err
	}
	if raw, ok := state["step_size"]; ok {
		value, err := toFloat64(raw)
		if err != nil {
			return fmt.Errorf("step_size: %w", err)
		}
		s.StepSize = int(value)
	}
	if raw, ok := state["gamma"]; ok {
		value, err := toFloat64(raw)
		if err != nil {
			return fmt.Errorf("gamma: %w", err)
		}
		s.Gamma = value
	}
	return nil
}

// ExponentialLRScheduler decays the learning rate exponentially per step
type ExponentialLRScheduler struct {
	Gamma float64 // Multiplicative factor of LR decay per step
}

// NewExponentialLRScheduler creates an exponential learning rate scheduler
func NewExponentialLRScheduler(gamma float64) *ExponentialLRScheduler {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.999
	}
	return &ExponentialLRScheduler{
		Gamma: gamma,
	}
}

func (s *ExponentialLRScheduler) GetLR(step int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(step))
}

func (s *ExponentialLRScheduler) GetName() string {
	return "ExponentialLR"
}

func (s *ExponentialLRScheduler) GetState() map[string]interface{} {
	return map[string]interface{}{
		"type":  "exponential_lr",
		"gamma": s.Gamma,
	}
}

func (s *ExponentialLRScheduler) LoadState(state map[string]interface{}) error {
	if err := checkStateType(state, "exponential_lr"); err != nil {
		return err
	}
	if raw, ok := state["gamma"]; ok {
		value, err := toFloat64(raw)
		if err != nil {
			return fmt.Errorf("gamma: %w", err)
		}
		s.Gamma = value
	}
	return nil
}

// CosineAnnealingLRScheduler anneals the learning rate along a cosine
// curve from the base rate down to EtaMin over TMax steps
type CosineAnnealingLRScheduler struct {
	TMax   int     // Steps over which to anneal
	EtaMin float64 // Minimum learning rate
}

// NewCosineAnnealingLRScheduler creates a cosine annealing scheduler
func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 10000
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLRScheduler{
		TMax:   tMax,
		EtaMin: etaMin,
	}
}

func (s *CosineAnnealingLRScheduler) GetLR(step int, baseLR float64) float64 {
	if step >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(step)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string {
	return "CosineAnnealingLR"
}

func (s *CosineAnnealingLRScheduler) GetState() map[string]interface{} {
	return map[string]interface{}{
		"type":    "cosine_annealing_lr",
		"t_max":   s.TMax,
		"eta_min": s.EtaMin,
	}
}

func (s *CosineAnnealingLRScheduler) LoadState(state map[string]interface{}) error {
	if err := checkStateType(state, "cosine_annealing_lr"); err != nil {
		return err
	}
	if raw, ok := state["t_max"]; ok {
		value, err := toFloat64(raw)
		if err != nil {
			return fmt.Errorf("t_max: %w", err)
		}
		s.TMax = int(value)
	}
	if raw, ok := state["eta_min"]; ok {
		value, err := toFloat64(raw)
		if err != nil {
			return fmt.Errorf("eta_min: %w", err)
		}
		s.EtaMin = value
	}
	return nil
}

// ReduceLROnPlateauScheduler reduces the learning rate when a tracked
// metric has stopped improving
type ReduceLROnPlateauScheduler struct {
	Factor    float64 // Factor by which the learning rate will be reduced
	Patience  int     // Number of reports with no improvement before reducing
	Threshold float64 // Threshold for measuring the new optimum
	Mode      string  // One of "min" or "max"

	bestMetric  float64
	badReports  int
	currentLR   float64
	initialized bool
}

// NewReduceLROnPlateauScheduler creates a plateau-based scheduler
func NewReduceLROnPlateauScheduler(factor float64, patience int, threshold float64, mode string) *ReduceLROnPlateauScheduler {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience <= 0 {
		patience = 10
	}
	if threshold < 0 {
		threshold = 1e-4
	}
	if mode != "min" && mode != "max" {
		mode = "min"
	}
	return &ReduceLROnPlateauScheduler{
		Factor:    factor,
		Patience:  patience,
		Threshold: threshold,
		Mode:      mode,
	}
}

// Report feeds the scheduler a new metric observation and returns the
// learning rate to use from now on
func (s *ReduceLROnPlateauScheduler) Report(metric float64, currentLR float64) float64 {
	if !s.initialized {
		s.bestMetric = metric
		s.currentLR = currentLR
		s.initialized = true
		return currentLR
	}

	improved := false
	if s.Mode == "min" {
		improved = metric < s.bestMetric-s.Threshold
	} else {
		improved = metric > s.bestMetric+s.Threshold
	}

	if improved {
		s.bestMetric = metric
		s.badReports = 0
	} else {
		s.badReports++
		if s.badReports >= s.Patience {
			s.currentLR *= s.Factor
			s.badReports = 0
		}
	}

	return s.currentLR
}

func (s *ReduceLROnPlateauScheduler) GetLR(step int, baseLR float64) float64 {
	// The actual reduction happens in Report based on metrics
	if s.initialized {
		return s.currentLR
	}
	return baseLR
}

func (s *ReduceLROnPlateauScheduler) GetName() string {
	return "ReduceLROnPlateau"
}

func (s *ReduceLROnPlateauScheduler) GetState() map[string]interface{} {
	return map[string]interface{}{
		"type":        "reduce_lr_on_plateau",
		"factor":      s.Factor,
		"patience":    s.Patience,
		"threshold":   s.Threshold,
		"mode":        s.Mode,
		"best_metric": s.bestMetric,
		"bad_reports": s.badReports,
		"current_lr":  s.currentLR,
		"initialized": s.initialized,
	}
}

func (s *ReduceLROnPlateauScheduler) LoadState(state map[string]interface{}) error {
	if err := checkStateType(state, "reduce_lr_on_plateau"); err != nil {
		return err
	}
	floats := map[string]*float64{
		"factor":      &s.Factor,
		"threshold":   &s.Threshold,
		"best_metric": &s.bestMetric,
		"current_lr":  &s.currentLR,
	}
	for key, target := range floats {
		if raw, ok := state[key]; ok {
			value, err := toFloat64(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*target = value
		}
	}
	ints := map[string]*int{
		"patience":    &s.Patience,
		"bad_reports": &s.badReports,
	}
	for key, target := range ints {
		if raw, ok := state[key]; ok {
			value, err := toFloat64(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*target = int(value)
		}
	}
	if raw, ok := state["mode"]; ok {
		mode, ok := raw.(string)
		if !ok {
			return fmt.Errorf("mode is %T, expected string", raw)
		}
		s.Mode = mode
	}
	if raw, ok := state["initialized"]; ok {
		initialized, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("initialized is %T, expected bool", raw)
		}
		s.initialized = initialized
	}
	return nil
}

// ConstantLRScheduler maintains a constant learning rate (default behavior)
type ConstantLRScheduler struct{}

func (s *ConstantLRScheduler) GetLR(step int, baseLR float64) float64 {
	return baseLR
}

func (s *ConstantLRScheduler) GetName() string {
	return "ConstantLR"
}

func (s *ConstantLRScheduler) GetState() map[string]interface{} {
	return map[string]interface{}{"type": "constant_lr"}
}

func (s *ConstantLRScheduler) LoadState(state map[string]interface{}) error {
	return checkStateType(state, "constant_lr")
}

func checkStateType(state map[string]interface{}, expected string) error {
	kind, err := stateString(state, "type")
	if err != nil {
		return err
	}
	if kind != expected {
		return fmt.Errorf("state type %q is not a %s snapshot", kind, expected)
	}
	return nil
}
