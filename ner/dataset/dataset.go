// Package dataset assembles feature records into batched tensors for the
// training loop.
package dataset

import (
	"fmt"
	"math/rand"

	"github.com/PurestEarth/nertrain/ner/features"
)

// Family selects the tensor representation a model family consumes.
type Family int

const (
	// FamilyRecurrent keeps input ids as per-record rows; the word encoder
	// controls their internal encoding, so they are not required to form a
	// rectangular tensor.
	FamilyRecurrent Family = iota
	// FamilyTransformer requires every column to be rectangular with row
	// length == max_seq_length.
	FamilyTransformer
)

// Dataset holds the assembled columns for a feature-record list.
// Record order is preserved; shuffling is the trainer's business.
type Dataset struct {
	Family    Family
	InputIDs  [][]int64
	LabelIDs  [][]int64
	LabelMask [][]int64
	ValidMask [][]int64
}

// Batch is one mini-batch view over the dataset columns.
type Batch struct {
	InputIDs  [][]int64
	LabelIDs  [][]int64
	LabelMask [][]int64
	ValidMask [][]int64
}

// New assembles records into a Dataset. For the transformer family every
// column must be rectangular; the recurrent family only requires the label,
// mask and validity columns to be.
func New(records []features.Record, family Family, maxSeqLen int) (*Dataset, error) {
	d := &Dataset{
		Family:    family,
		InputIDs:  make([][]int64, 0, len(records)),
		LabelIDs:  make([][]int64, 0, len(records)),
		LabelMask: make([][]int64, 0, len(records)),
		ValidMask: make([][]int64, 0, len(records)),
	}
	for i, record := range records {
		if err := record.Validate(maxSeqLen); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		d.InputIDs = append(d.InputIDs, record.InputIDs)
		d.LabelIDs = append(d.LabelIDs, record.LabelIDs)
		d.LabelMask = append(d.LabelMask, record.LabelMask)
		d.ValidMask = append(d.ValidMask, record.ValidMask)
	}
	return d, nil
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	return len(d.InputIDs)
}

// Sampler yields the record visit order for one pass over a dataset.
type Sampler interface {
	Indices(n int) []int
}

// RandomSampler permutes indices with the run's seeded RNG.
type RandomSampler struct {
	Rand *rand.Rand
}

// Indices returns a fresh permutation of [0, n).
func (s RandomSampler) Indices(n int) []int {
	return s.Rand.Perm(n)
}

// SequentialSampler visits records in stored order, used for evaluation.
type SequentialSampler struct{}

// Indices returns [0, n) in order.
func (SequentialSampler) Indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// Batches splits one sampler pass into mini-batches of at most batchSize.
func (d *Dataset) Batches(sampler Sampler, batchSize int) []Batch {
	indices := sampler.Indices(d.Len())
	var batches []Batch
	for start := 0; start < len(indices); start += batchSize {
		end := start + batchSize
		if end > len(indices) {
			end = len(indices)
		}
		batch := Batch{
			InputIDs:  make([][]int64, 0, end-start),
			LabelIDs:  make([][]int64, 0, end-start),
			LabelMask: make([][]int64, 0, end-start),
			ValidMask: make([][]int64, 0, end-start),
		}
		for _, idx := range indices[start:end] {
			batch.InputIDs = append(batch.InputIDs, d.InputIDs[idx])
			batch.LabelIDs = append(batch.LabelIDs, d.LabelIDs[idx])
			batch.LabelMask = append(batch.LabelMask, d.LabelMask[idx])
			batch.ValidMask = append(batch.ValidMask, d.ValidMask[idx])
		}
		batches = append(batches, batch)
	}
	return batches
}
