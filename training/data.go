package training

import (
	"fmt"
	"math/rand"

	"github.com/sanjibansg/general-perceivers/metrics"
	"github.com/sanjibansg/general-perceivers/tensor"
)

// Field names every classification batch must carry
const (
	FieldInput = "input_array"
	FieldClass = "class"
	FieldMask  = "attention_mask"
)

// Batch is one unit of training or evaluation data: named tensors plus
// optional metadata that rides along with the step's metric record.
type Batch struct {
	Tensors map[string]*tensor.Tensor
	Meta    metrics.Record
}

// NewBatch creates a batch from the three required tensors
func NewBatch(input, classes, mask *tensor.Tensor) *Batch {
	return &Batch{
		Tensors: map[string]*tensor.Tensor{
			FieldInput: input,
			FieldClass: classes,
			FieldMask:  mask,
		},
	}
}

// Input returns the model input tensor, or nil if absent
func (b *Batch) Input() *tensor.Tensor {
	return b.Tensors[FieldInput]
}

// Classes returns the ground-truth label tensor, or nil if absent
func (b *Batch) Classes() *tensor.Tensor {
	return b.Tensors[FieldClass]
}

// Mask returns the attention mask tensor, or nil if absent
func (b *Batch) Mask() *tensor.Tensor {
	return b.Tensors[FieldMask]
}

// PopMeta removes and returns the batch's metadata. The metadata
// leaves the batch before the model sees it; callers always receive a
// usable record even when none was attached.
func (b *Batch) PopMeta() metrics.Record {
	meta := b.Meta
	b.Meta = nil
	if meta == nil {
		return metrics.Record{}
	}
	return meta
}

// Validate checks that the required tensors are present
func (b *Batch) Validate() error {
	for _, field := range []string{FieldInput, FieldClass, FieldMask} {
		if b.Tensors[field] == nil {
			return fmt.Errorf("batch missing required field %q", field)
		}
	}
	return nil
}

// DataSource produces batches for training or evaluation. The
// iterator is stateful and assumes a single consumer; calling
// NextBatch advances its internal cursor.
type DataSource interface {
	// NextBatch returns the next batch, cycling through the
	// underlying collection indefinitely
	NextBatch() (*Batch, error)
	// Len returns the number of underlying batches, used to size a
	// full evaluation pass
	Len() int
	// NumBytes returns the byte width of one input token
	NumBytes() int
	// NumClasses returns the number of target classes in the data
	NumClasses() int
}

// SliceSource serves a fixed set of batches, cycling through them
// indefinitely with optional reshuffling at each wraparound.
type SliceSource struct {
	batches    []*Batch
	numBytes   int
	numClasses int
	shuffle    bool
	order      []int
	position   int
	rng        *rand.Rand
}

// NewSliceSource creates a data source over the given batches
func NewSliceSource(batches []*Batch, numBytes, numClasses int, shuffle bool) (*SliceSource, error) {
	if len(batches) == 0 {
		return nil, fmt.Errorf("data source requires at least one batch")
	}
	if numBytes <= 0 {
		return nil, fmt.Errorf("bytes per token must be positive, got %d", numBytes)
	}
	if numClasses <= 0 {
		return nil, fmt.Errorf("number of classes must be positive, got %d", numClasses)
	}
	for i, batch := range batches {
		if err := batch.Validate(); err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
	}

	order := make([]int, len(batches))
	for i := range order {
		order[i] = i
	}

	return &SliceSource{
		batches:    batches,
		numBytes:   numBytes,
		numClasses: numClasses,
		shuffle:    shuffle,
		order:      order,
		rng:        rand.New(rand.NewSource(1)),
	}, nil
}

// Seed reseeds the shuffling random source
func (s *SliceSource) Seed(seed int64) {
	s.rng = rand.New(rand.NewSource(seed))
}

// NextBatch returns the next batch in the cycle. The returned batch
// shares tensors with the source but carries its own copy of the
// metadata, so consumers may take the metadata without draining the
// source.
func (s *SliceSource) NextBatch() (*Batch, error) {
	if s.position == len(s.order) {
		s.position = 0
		if s.shuffle {
			s.rng.Shuffle(len(s.order), func(i, j int) {
				s.order[i], s.order[j] = s.order[j], s.order[i]
			})
		}
	}

	source := s.batches[s.order[s.position]]
	s.position++

	batch := &Batch{Tensors: source.Tensors}
	if source.Meta != nil {
		batch.Meta = source.Meta.Clone()
	}
	return batch, nil
}

// Len returns the number of underlying batches
func (s *SliceSource) Len() int {
	return len(s.batches)
}

// NumBytes returns the byte width of one input token
func (s *SliceSource) NumBytes() int {
	return s.numBytes
}

// NumClasses returns the number of target classes
func (s *SliceSource) NumClasses() int {
	return s.numClasses
}
