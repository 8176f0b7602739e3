// Package model implements the three tagger architectures behind one
// interface: a recurrent tagger with a linear-chain output layer, a
// sparse-attention transformer and a fine-tuned pretrained transformer.
// All tensor math runs on gonum matrices; each variant carries its own
// manual backward pass.
package model

import (
	"fmt"
	"strings"

	"github.com/PurestEarth/nertrain/ner/dataset"
	"github.com/PurestEarth/nertrain/ner/runctx"
)

// Kind names a model family. The CLI values LSTM, Reformer and BERT are
// kept for corpus compatibility.
type Kind string

const (
	KindRecurrent  Kind = "LSTM"
	KindSparse     Kind = "Reformer"
	KindPretrained Kind = "BERT"
)

// ParseKind resolves the CLI model name.
func ParseKind(name string) (Kind, error) {
	switch strings.ToUpper(name) {
	case "LSTM":
		return KindRecurrent, nil
	case "REFORMER":
		return KindSparse, nil
	case "BERT":
		return KindPretrained, nil
	default:
		return "", fmt.Errorf("unknown model %q, expected LSTM, Reformer or BERT", name)
	}
}

// Family maps a model kind to the dataset representation it consumes.
func (k Kind) Family() dataset.Family {
	if k == KindRecurrent {
		return dataset.FamilyRecurrent
	}
	return dataset.FamilyTransformer
}

// Config holds the architecture parameters shared by all variants.
// Nothing here is hard-coded per family; hidden size, dropout and label
// count always come from the caller.
type Config struct {
	NumLabels       int // label count including the reserved IGNORE id
	HiddenSize      int
	Dropout         float64
	MaxSeqLen       int
	NumLayers       int
	NumHeads        int
	AttentionWindow int

	// EmbeddingPath points at a word-embedding text file for the
	// recurrent tagger; empty means randomly initialized embeddings.
	EmbeddingPath string
	// PretrainedPath points at a pretrained weight directory for the
	// pretrained transformer. Must contain model.pt and vocab.txt.
	PretrainedPath string
}

// Model is the capability set every variant implements. Variant selection
// happens only here at construction; feature building and the trainer
// never branch on the model kind.
type Model interface {
	Kind() Kind

	// EncodeWord maps one orthographic word to its id sequence: a single
	// id for the recurrent tagger, one id per sub-word piece otherwise.
	EncodeWord(word string) ([]int64, error)

	// Loss runs forward and backward over a batch, accumulating parameter
	// gradients scaled by scale, and returns the scaled batch loss.
	Loss(batch dataset.Batch, scale float64) (float64, error)

	// Predict returns per-position label ids for each row. mask marks the
	// positions that carry real tokens.
	Predict(inputIDs, mask [][]int64) ([][]int64, error)

	// Parameters exposes every learnable weight for the optimizer and
	// for checkpointing.
	Parameters() []*Parameter

	// SetTraining toggles dropout.
	SetTraining(train bool)
}

// New constructs a model variant. This is the only place the code switches
// on the model kind.
func New(rc *runctx.RunContext, kind Kind, cfg Config) (Model, error) {
	if cfg.NumLabels < 2 {
		return nil, fmt.Errorf("need at least one real label besides IGNORE, got %d", cfg.NumLabels)
	}
	switch kind {
	case KindRecurrent:
		return newRecurrentTagger(rc, cfg)
	case KindSparse:
		return newSparseTransformer(rc, cfg)
	case KindPretrained:
		return newPretrainedTransformer(rc, cfg)
	default:
		return nil, fmt.Errorf("unknown model kind %q", kind)
	}
}
