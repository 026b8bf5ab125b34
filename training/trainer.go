package training

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/sanjibansg/general-perceivers/checkpoints"
	"github.com/sanjibansg/general-perceivers/metrics"
	"github.com/sanjibansg/general-perceivers/tensor"
)

// TrainerConfig configures a Trainer.
type TrainerConfig struct {
	// SaveDir is the checkpoint root. Empty disables checkpointing;
	// Save becomes a logged no-op.
	SaveDir string
	// Client receives every step's metric record. Nil disables
	// telemetry.
	Client func(metrics.Record) error
	// Output receives progress rendering and status lines. Nil means
	// stdout.
	Output io.Writer
}

// TrainOptions configures one call to Train.
type TrainOptions struct {
	// TestEvery triggers an evaluation pass every TestEvery steps.
	// Zero disables periodic evaluation.
	TestEvery int
	// TestData is the evaluation data source. Nil disables periodic
	// evaluation.
	TestData DataSource
	// GradClip bounds every gradient element to [-GradClip, GradClip]
	// before the optimizer step. Zero means the default of 1.0.
	GradClip float64
	// Scheduler, when set, adjusts the optimizer's learning rate at
	// the start of every step.
	Scheduler LRScheduler
}

// StepOptions configures one call to Step.
type StepOptions struct {
	// Step is the index stamped into the metric record.
	Step int
	// NumBytes is the byte width of one input token.
	NumBytes int
	// NumClasses is the number of target classes in the data.
	NumClasses int
	// Train selects training mode: backward pass, gradient clip, and
	// optimizer step.
	Train bool
	// Optimizer is required when Train is set.
	Optimizer Optimizer
	// GradClip bounds gradient elements. Zero means the default of 1.0.
	GradClip float64
}

// Trainer drives forward/backward passes over batches, aggregates
// per-class and global metrics, periodically evaluates on held-out
// data, and checkpoints the model whenever the validation loss
// improves on the best seen so far.
type Trainer struct {
	model   Model
	device  tensor.DeviceType
	client  func(metrics.Record) error
	manager *checkpoints.Manager
	out     io.Writer
	minLoss float64
}

// NewTrainer creates a trainer owning the given model. When a save
// directory is configured, it is created immediately and a snapshot
// of the model's configuration is written into it, overwriting any
// prior snapshot.
func NewTrainer(model Model, config TrainerConfig) (*Trainer, error) {
	if model == nil {
		return nil, &ConfigError{Field: "model", Message: "a model is required"}
	}

	device := tensor.CPU
	if params := model.Parameters(); len(params) > 0 {
		device = params[0].Device
	}

	out := config.Output
	if out == nil {
		out = os.Stdout
	}

	trainer := &Trainer{
		model:   model,
		device:  device,
		client:  config.Client,
		manager: checkpoints.NewManager(config.SaveDir),
		out:     out,
		minLoss: math.Inf(1),
	}

	if trainer.manager.Enabled() {
		if err := trainer.manager.WriteConfig(model.Config()); err != nil {
			return nil, fmt.Errorf("writing config snapshot: %w", err)
		}
	}

	return trainer, nil
}

// Model returns the model the trainer owns
func (t *Trainer) Model() Model {
	return t.model
}

// BestLoss returns the lowest validation loss observed so far
func (t *Trainer) BestLoss() float64 {
	return t.minLoss
}

// Step processes one batch: forward pass, metric computation, and in
// training mode the backward pass, gradient clipping, and optimizer
// update. The returned record carries the batch's own metadata plus
// the step's metrics, all namespaced by phase prefix.
func (t *Trainer) Step(batch *Batch, opts StepOptions) (metrics.Record, error) {
	if opts.Train && opts.Optimizer == nil {
		return nil, &ConfigError{Field: "optimizer", Message: "training step requires an optimizer"}
	}
	if batch == nil {
		return nil, fmt.Errorf("batch is required")
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}

	gradClip := opts.GradClip
	if gradClip == 0 {
		gradClip = 1.0
	}

	prefix := "val"
	if opts.Train {
		t.model.Train()
		prefix = "train"
	} else {
		t.model.Eval()
	}

	record := batch.PopMeta()
	record[prefix+"/step"] = metrics.NewScalar(float64(opts.Step))

	for field, tensorValue := range batch.Tensors {
		moved, err := tensorValue.ToDevice(t.device)
		if err != nil {
			return nil, fmt.Errorf("moving %q to device: %w", field, err)
		}
		batch.Tensors[field] = moved
	}

	input := batch.Input()
	targets := batch.Classes()
	mask := batch.Mask()

	forwardStart := time.Now()
	output, err := t.model.Forward(input)
	if err != nil {
		return nil, err
	}
	forwardTime := time.Since(forwardStart)
	record[prefix+"/forward_pass_time"] = metrics.NewScalar(forwardTime.Seconds())

	logits, err := t.flattenOutput(output)
	if err != nil {
		return nil, err
	}
	if err := t.checkTargets(logits, targets); err != nil {
		return nil, err
	}

	losses := tensor.SoftmaxCrossEntropyAutograd(logits, targets)
	perExample, err := losses.GetFloat32Data()
	if err != nil {
		return nil, fmt.Errorf("reading per-example losses: %w", err)
	}

	batchRecord, err := metrics.ForBatch(logits, targets, mask, perExample, prefix, opts.NumBytes, opts.NumClasses, forwardTime)
	if err != nil {
		return nil, err
	}
	record.Merge(batchRecord)

	if opts.Train {
		opts.Optimizer.ZeroGrad()
		meanLoss := tensor.MeanAutograd(losses)
		if err := meanLoss.Backward(); err != nil {
			return nil, err
		}
		for _, param := range t.model.Parameters() {
			param.ClampGrad(float32(-gradClip), float32(gradClip))
		}

		stepStart := time.Now()
		if err := opts.Optimizer.Step(); err != nil {
			return nil, err
		}
		backwardTime := time.Since(stepStart)
		record["train/backward_pass_time"] = metrics.NewScalar(backwardTime.Seconds())
		record["train/total_time"] = metrics.NewScalar((forwardTime + backwardTime).Seconds())
	}

	return record, nil
}

// flattenOutput reshapes model output into (examples x classes) rows
// using the model's own declared class count, preserving the autograd
// graph for the backward pass.
func (t *Trainer) flattenOutput(output *tensor.Tensor) (*tensor.Tensor, error) {
	numClasses := t.model.Config().NumClasses
	if numClasses <= 0 {
		return nil, &ConfigError{Field: "n_classes", Message: fmt.Sprintf("model config declares %d classes", numClasses)}
	}
	if output.NumElems%numClasses != 0 {
		return nil, &ShapeError{
			Op:      "flatten",
			Shape:   output.Shape,
			Message: fmt.Sprintf("output size %d does not divide into %d classes", output.NumElems, numClasses),
		}
	}
	if len(output.Shape) == 2 && output.Shape[1] == numClasses {
		return output, nil
	}
	return tensor.ReshapeAutograd(output, []int{-1, numClasses}), nil
}

// checkTargets validates targets against the flattened logits before
// the loss computation runs.
func (t *Trainer) checkTargets(logits, targets *tensor.Tensor) error {
	if targets.DType != tensor.Int32 {
		return fmt.Errorf("targets must be Int32, got %s", targets.DType)
	}
	if targets.NumElems != logits.Shape[0] {
		return &ShapeError{
			Op:      "loss",
			Shape:   targets.Shape,
			Message: fmt.Sprintf("target count %d does not match %d flattened examples", targets.NumElems, logits.Shape[0]),
		}
	}
	numClasses := logits.Shape[1]
	targetData, err := targets.GetInt32Data()
	if err != nil {
		return err
	}
	for _, class := range targetData {
		if class < 0 || int(class) >= numClasses {
			return fmt.Errorf("target class %d out of range [0, %d)", class, numClasses)
		}
	}
	return nil
}

// Evaluate runs a full evaluation pass: one non-training step per
// underlying batch of the data source, reduced into a single averaged
// record. Model parameters are never mutated.
func (t *Trainer) Evaluate(data DataSource, step int) (metrics.Record, error) {
	if data == nil {
		return nil, &ConfigError{Field: "test_data", Message: "an evaluation data source is required"}
	}

	count := data.Len()
	if count == 0 {
		return nil, &ConfigError{Field: "test_data", Message: "evaluation data source has no batches"}
	}

	progress := NewProgressBar("[val]", count)
	progress.SetWriter(t.out)

	records := make([]metrics.Record, 0, count)
	for i := 0; i < count; i++ {
		batch, err := data.NextBatch()
		if err != nil {
			return nil, fmt.Errorf("fetching evaluation batch %d: %w", i, err)
		}
		record, err := t.Step(batch, StepOptions{
			Step:       step,
			NumBytes:   data.NumBytes(),
			NumClasses: data.NumClasses(),
		})
		if err != nil {
			return nil, err
		}
		records = append(records, record)

		progress.SetDescription(fmt.Sprintf("[val] loss: %.4f | acc: %.4f",
			record["val/loss_avg"].Scalar, record["val/acc_avg"].Scalar))
		progress.Update(i+1, nil)
	}
	progress.Finish()

	return metrics.Average(records)
}

// Train runs the training loop for nSteps steps: pull a batch, run a
// training step, periodically evaluate, checkpoint on strict
// improvement of the validation loss, and forward every step's record
// to the telemetry client. Errors anywhere abort the run.
func (t *Trainer) Train(optim Optimizer, data DataSource, nSteps int, opts TrainOptions) error {
	if optim == nil {
		return &ConfigError{Field: "optimizer", Message: "training requires an optimizer"}
	}
	if data == nil {
		return &ConfigError{Field: "train_data", Message: "a training data source is required"}
	}

	baseLR := optim.GetLR()
	progress := NewProgressBar("[train]", nSteps)
	progress.SetWriter(t.out)

	for i := 0; i < nSteps; i++ {
		batch, err := data.NextBatch()
		if err != nil {
			return fmt.Errorf("fetching training batch %d: %w", i, err)
		}

		if opts.Scheduler != nil {
			optim.SetLR(opts.Scheduler.GetLR(i, baseLR))
		}

		record, err := t.Step(batch, StepOptions{
			Step:       i,
			NumBytes:   data.NumBytes(),
			NumClasses: data.NumClasses(),
			Train:      true,
			Optimizer:  optim,
			GradClip:   opts.GradClip,
		})
		if err != nil {
			return err
		}

		progress.SetDescription(fmt.Sprintf("[train] loss: %.4f | acc: %.4f",
			record["train/loss_avg"].Scalar, record["train/acc_avg"].Scalar))
		progress.Update(i+1, nil)

		if i != 0 && opts.TestEvery > 0 && opts.TestData != nil && i%opts.TestEvery == 0 {
			evalRecord, err := t.Evaluate(opts.TestData, i)
			if err != nil {
				return err
			}
			record.Merge(evalRecord)

			valLoss, ok := evalRecord["val/loss_avg"]
			if !ok {
				return fmt.Errorf("evaluation record missing val/loss_avg")
			}
			fmt.Fprintf(t.out, "\nval/loss: %g\n", valLoss.Scalar)

			if valLoss.Scalar < t.minLoss {
				t.minLoss = valLoss.Scalar
				if err := t.Save(fmt.Sprintf("step_%d", i), optim, nil); err != nil {
					return err
				}
			}
		}

		if t.client != nil {
			if err := t.client(record); err != nil {
				return fmt.Errorf("telemetry client: %w", err)
			}
		}
	}

	progress.Finish()
	return nil
}

// Save persists the model, and optionally optimizer and scheduler
// state, under the given label. Without a configured save directory
// this logs a notice and does nothing.
func (t *Trainer) Save(label string, optim Optimizer, sched LRScheduler) error {
	if !t.manager.Enabled() {
		fmt.Fprintln(t.out, "No save folder specified, skipping saving.")
		return nil
	}
	fmt.Fprintf(t.out, "Saving in folder: %s\n", t.manager.Root())

	var optimState, schedState checkpoints.Stateful
	if optim != nil {
		optimState = optim
	}
	if sched != nil {
		schedState = sched
	}
	return t.manager.Save(label, t.model.Parameters(), optimState, schedState)
}

// LoadCheckpoint restores model parameters from the given checkpoint
// directory. Optimizer and scheduler state are restored only when the
// argument is non-nil and the corresponding artifact exists; missing
// optional artifacts are skipped silently.
func (t *Trainer) LoadCheckpoint(dir string, optim Optimizer, sched LRScheduler) error {
	var optimState, schedState checkpoints.Stateful
	if optim != nil {
		optimState = optim
	}
	if sched != nil {
		schedState = sched
	}
	return checkpoints.Load(dir, t.model.Parameters(), optimState, schedState)
}
